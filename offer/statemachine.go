/*
statemachine.go - Offer lifecycle guards

PURPOSE:
  Pure transition rules for the offer lifecycle. Every function here only
  inspects state and returns either an error from the taxonomy or the
  change to make; service.go does the I/O.

STATE DIAGRAM:

  GENERATED ──accept──▶ INTERESTED ──assign──▶ ASSIGNED ──allocate──▶ ALLOCATED
      │  ▲                   │                     │
      │  └─(REACTIVATED)◀─reactivate── REJECTED ◀──┘ reject (any non-terminal)
      │
      └──cancel──▶ CANCELLED        ledger fully paid ──▶ RESOLVED

  REACTIVATED behaves exactly like GENERATED for the buyer.
  CANCELLED, RESOLVED and ALLOCATED are terminal.

COMPENSATING ACTIONS:
  Creating an offer approves its enquiry; cancelling it reverts that. The
  guards return the approval change as an EnquiryApproval value instead of
  flipping the flag as a hidden side effect.
*/
package offer

import (
	"time"
)

// =============================================================================
// TRANSITION TABLE
// =============================================================================

var transitions = map[Status][]Status{
	StatusGenerated:   {StatusInterested, StatusRejected, StatusReactivated, StatusCancelled, StatusResolved},
	StatusReactivated: {StatusInterested, StatusRejected, StatusReactivated, StatusCancelled, StatusResolved},
	StatusInterested:  {StatusAssigned, StatusRejected, StatusResolved},
	StatusAssigned:    {StatusAllocated, StatusRejected, StatusResolved},
	StatusRejected:    {StatusReactivated, StatusCancelled, StatusResolved},
}

// CanTransition reports whether from -> to is an edge of the lifecycle.
func CanTransition(from, to Status) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// EnquiryApproval is a compensating action on the source enquiry.
type EnquiryApproval struct {
	EnquiryID EnquiryID
	Approved  bool
	By        UserID
}

// =============================================================================
// GUARDS
// =============================================================================

func guardCreate(enquiry *Enquiry, active *Offer) error {
	if enquiry.Approved || active != nil {
		return precondition("", "enquiry %s already has an approved offer", enquiry.ID)
	}
	return nil
}

func guardAccept(o *Offer, enquiry *Enquiry, caller UserID, now time.Time) error {
	if caller != o.BuyerID || (enquiry != nil && caller != enquiry.BuyerID) {
		return &ForbiddenError{CallerID: caller, Role: "buyer"}
	}
	if o.Status == StatusCancelled {
		return precondition(o.Status, "offer has been cancelled")
	}
	if o.IsExpired(now) {
		return precondition(o.Status, "offer expired on %s", o.Expires.Format(time.RFC3339))
	}
	if !o.Status.IsOpen() {
		return precondition(o.Status, "offer cannot be accepted while %s", o.Status)
	}
	return nil
}

func guardAssign(o *Offer) error {
	if o.Status != StatusInterested {
		return precondition(o.Status, "only an accepted offer can be assigned, current status: %s", o.Status)
	}
	return nil
}

func guardAllocate(o *Offer) error {
	if o.Status != StatusAssigned {
		return precondition(o.Status, "only an assigned offer can be allocated, current status: %s", o.Status)
	}
	return nil
}

func guardCancel(o *Offer, caller UserID) (*EnquiryApproval, error) {
	if caller != o.SellerID {
		return nil, &ForbiddenError{CallerID: caller, Role: "seller"}
	}
	if o.Status.IsAccepted() {
		return nil, precondition(o.Status, "cannot cancel an accepted offer")
	}
	if !CanTransition(o.Status, StatusCancelled) {
		return nil, precondition(o.Status, "offer cannot be cancelled while %s", o.Status)
	}
	return &EnquiryApproval{EnquiryID: o.EnquiryID, Approved: false, By: caller}, nil
}

func guardReject(o *Offer, caller UserID) error {
	if caller != o.BuyerID && caller != o.SellerID {
		return &ForbiddenError{CallerID: caller, Role: "buyer"}
	}
	if !CanTransition(o.Status, StatusRejected) {
		return precondition(o.Status, "offer cannot be rejected while %s", o.Status)
	}
	return nil
}

func guardReactivate(o *Offer, caller UserID, newExpires, now time.Time) error {
	if caller != o.SellerID {
		return &ForbiddenError{CallerID: caller, Role: "seller"}
	}
	if !newExpires.After(now) {
		return invalid("expires", "must be in the future")
	}
	switch {
	case o.Status == StatusRejected:
	case o.Status.IsOpen() && o.IsExpired(now):
	default:
		return precondition(o.Status, "only a rejected or expired offer can be reactivated, current status: %s", o.Status)
	}
	return nil
}

func guardRaiseConcern(o *Offer, caller UserID) error {
	if caller != o.BuyerID {
		return &ForbiddenError{CallerID: caller, Role: "buyer"}
	}
	if o.Status == StatusCancelled {
		return precondition(o.Status, "cannot raise a concern on a cancelled offer")
	}
	return nil
}

func guardResolveConcern(o *Offer, caller UserID) error {
	if caller != o.SellerID {
		return &ForbiddenError{CallerID: caller, Role: "seller"}
	}
	return nil
}
