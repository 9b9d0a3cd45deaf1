/*
Package offer provides the offer lifecycle and payment schedule engine.

PURPOSE:
  A seller issues a time-bound offer to sell a property unit to a buyer who
  enquired about it. The offer carries an initial payment and a periodic
  payment plan. Once accepted, confirmed payments are tracked against a
  schedule derived from the offer terms until the offer is fully paid or
  terminated.

KEY CONCEPTS IN THIS FILE (types.go):
  - Offer: The central entity and its lifecycle status
  - NextPayment: The single currently-due installment for an offer
  - ScheduleEntry: One {date, amount} installment (never persisted)
  - Identifiers: Type-safe IDs so offer/enquiry/property IDs can't be mixed

DESIGN PRINCIPLES:
  1. Amounts are integers in a single currency
  2. Offers are never deleted, only moved to a terminal status
  3. NextPayment history is append-only: records are resolved, never edited back
  4. "Now" is always passed in, never read from the wall clock inside the engine

SEE ALSO:
  - schedule.go: Payment schedule generation
  - recompute.go: Next-due recomputation
  - service.go: State machine operations
  - concern.go: Concern thread embedded in an offer
*/
package offer

import (
	"time"
)

// =============================================================================
// IDENTIFIERS
// =============================================================================

type OfferID string
type EnquiryID string
type PropertyID string
type UserID string
type ConcernID string
type NextPaymentID string
type PaymentID string

// Amount is an integer currency amount.
type Amount int64

// =============================================================================
// OFFER STATUS
// =============================================================================

type Status string

const (
	StatusGenerated   Status = "GENERATED"
	StatusInterested  Status = "INTERESTED"
	StatusAssigned    Status = "ASSIGNED"
	StatusAllocated   Status = "ALLOCATED"
	StatusRejected    Status = "REJECTED"
	StatusReactivated Status = "REACTIVATED"
	StatusCancelled   Status = "CANCELLED"
	StatusResolved    Status = "RESOLVED"
)

// IsTerminal reports whether no further lifecycle transition is allowed.
func (s Status) IsTerminal() bool {
	return s == StatusCancelled || s == StatusResolved || s == StatusAllocated
}

// IsAccepted reports whether the buyer has accepted the offer.
func (s Status) IsAccepted() bool {
	return s == StatusInterested || s == StatusAssigned || s == StatusAllocated
}

// IsOpen reports whether the offer is awaiting the buyer's response.
func (s Status) IsOpen() bool {
	return s == StatusGenerated || s == StatusReactivated
}

func (s Status) Valid() bool {
	switch s {
	case StatusGenerated, StatusInterested, StatusAssigned, StatusAllocated,
		StatusRejected, StatusReactivated, StatusCancelled, StatusResolved:
		return true
	}
	return false
}

// =============================================================================
// OFFER
// =============================================================================

type Offer struct {
	ID         OfferID
	BuyerID    UserID
	SellerID   UserID
	EnquiryID  EnquiryID
	PropertyID PropertyID
	Status     Status

	// Payment terms
	TotalAmountPayable Amount
	InitialPayment     Amount
	InitialPaymentDate Date
	PeriodicPayment    Amount
	PaymentFrequency   int // days between periodic payments
	HandOverDate       Date

	// Validity deadline for the buyer's response
	Expires time.Time

	// Generated once at creation, never regenerated
	ReferenceCode string

	// Set at acceptance
	ContributionReward Amount
	Signature          string
	ResponseDate       *time.Time

	DateAssigned *time.Time

	Concerns *ConcernThread

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Clone returns a deep copy so stores never hand out shared state.
func (o *Offer) Clone() *Offer {
	if o == nil {
		return nil
	}
	c := *o
	if o.ResponseDate != nil {
		t := *o.ResponseDate
		c.ResponseDate = &t
	}
	if o.DateAssigned != nil {
		t := *o.DateAssigned
		c.DateAssigned = &t
	}
	c.Concerns = o.Concerns.Clone()
	return &c
}

// IsExpired reports whether the validity deadline has passed at now.
func (o *Offer) IsExpired(now time.Time) bool {
	return now.After(o.Expires)
}

// =============================================================================
// NEXT PAYMENT - The single currently-due installment
// =============================================================================

type NextPayment struct {
	ID             NextPaymentID
	OfferID        OfferID
	ExpectedAmount Amount
	ExpiresOn      Date

	Resolved     bool
	ResolvedDate *time.Time

	// True when resolution was triggered by an incoming payment rather than
	// by full settlement or a manual recompute.
	ResolvedViaTransaction bool
	TransactionID          *PaymentID

	CreatedAt time.Time
}

// =============================================================================
// SCHEDULE ENTRY - Transient installment derived from offer terms
// =============================================================================

type ScheduleEntry struct {
	Date   Date
	Amount Amount
}

// =============================================================================
// COLLABORATOR PROJECTIONS
// =============================================================================

// Property is what the engine needs to know about a property unit.
type Property struct {
	ID        PropertyID
	Name      string
	HouseType string
	Price     Amount
	SellerID  UserID
}

// Enquiry is a buyer's expressed interest in a property.
type Enquiry struct {
	ID         EnquiryID
	BuyerID    UserID
	PropertyID PropertyID
	Approved   bool
	ApprovedBy *UserID
}

// Party is a buyer or seller as seen by notifications and reference codes.
type Party struct {
	ID    UserID
	Name  string
	Email string
	Code  string // short seller code used in offer reference codes
}
