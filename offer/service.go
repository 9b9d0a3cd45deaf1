/*
service.go - Offer lifecycle operations

PURPOSE:
  Orchestrates the offer lifecycle: loads state, applies the guards from
  statemachine.go, persists with compare-and-set, applies compensating
  actions and fires notifications.

OPERATION FLOW:
  ┌────────────────────────────────────────────────────────────────────┐
  │                                                                    │
  │  Load offer ──▶ Guard (pure) ──▶ Mutate ──▶ CAS write ──▶ Notify   │
  │       ▲                                        │                   │
  │       └──── per-offer lock held throughout ────┘                   │
  │                                                                    │
  └────────────────────────────────────────────────────────────────────┘

  Status writes compare against the status that was read. Losing a race
  surfaces as PreconditionFailed, never as a silent overwrite.

EXAMPLE:
  svc := offer.NewService(store, offer.Deps{Properties: dir, Enquiries: dir, ...})

  o, err := svc.Create(ctx, offer.Draft{SellerID: "seller-1", EnquiryID: "enq-1", ...})
  o, err = svc.Accept(ctx, o.ID, "buyer-1", "sig-ref")
  receipt, err := svc.RecordPayment(ctx, o.ID, offer.PaymentInput{Amount: 50000})

SEE ALSO:
  - statemachine.go: Guards and transition table
  - recompute.go: Next-due recomputation
  - reminder.go: Reminder sweep
*/
package offer

import (
	"context"
	"errors"
	"log"
	"strconv"
	"time"

	"github.com/google/uuid"
)

// =============================================================================
// SERVICE
// =============================================================================

type Service struct {
	Store      TxStore
	Properties PropertyLookup
	Enquiries  EnquiryLookup
	Users      UserLookup
	Ledger     *DefaultLedger
	Engine     *Engine
	Reminders  *ReminderSelector
	Notifier   *Notifier
	Locker     Locker
	Clock      func() time.Time
}

// Deps are the collaborators a Service needs besides its store.
type Deps struct {
	Properties PropertyLookup
	Enquiries  EnquiryLookup
	Users      UserLookup
	Payments   PaymentStore
	Sink       NotificationSink
	Locker     Locker
	Clock      func() time.Time
}

func NewService(store TxStore, deps Deps) *Service {
	locker := deps.Locker
	if locker == nil {
		locker = NewKeyedMutex()
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	ledger := NewLedger(deps.Payments)
	notifier := &Notifier{Sink: deps.Sink, Users: deps.Users}

	return &Service{
		Store:      store,
		Properties: deps.Properties,
		Enquiries:  deps.Enquiries,
		Users:      deps.Users,
		Ledger:     ledger,
		Engine:     &Engine{Store: store, Ledger: ledger, Locker: locker, Notifier: notifier},
		Reminders:  &ReminderSelector{Store: store, Properties: deps.Properties, Notifier: notifier},
		Notifier:   notifier,
		Locker:     locker,
		Clock:      clock,
	}
}

func (s *Service) now() time.Time { return s.Clock().UTC() }

// =============================================================================
// DRAFT - Seller input for a new offer
// =============================================================================

type Draft struct {
	SellerID   UserID
	EnquiryID  EnquiryID
	PropertyID PropertyID

	TotalAmountPayable Amount
	InitialPayment     Amount
	InitialPaymentDate Date
	PeriodicPayment    Amount
	PaymentFrequency   int
	HandOverDate       Date
	Expires            time.Time
}

// Validate rejects malformed terms before anything is read or written.
func (d Draft) Validate(now time.Time) error {
	switch {
	case d.SellerID == "":
		return invalid("seller_id", "required")
	case d.EnquiryID == "":
		return invalid("enquiry_id", "required")
	case d.PropertyID == "":
		return invalid("property_id", "required")
	case d.TotalAmountPayable <= 0:
		return invalid("total_amount_payable", "must be positive")
	case d.InitialPayment < 0:
		return invalid("initial_payment", "must not be negative")
	case d.InitialPayment > d.TotalAmountPayable:
		return invalid("initial_payment", "must not exceed total_amount_payable")
	case d.PeriodicPayment <= 0:
		return invalid("periodic_payment", "must be positive")
	case d.PaymentFrequency <= 0:
		return invalid("payment_frequency", "must be a positive number of days")
	case d.HandOverDate.IsZero():
		return invalid("hand_over_date", "required")
	case !d.Expires.After(now):
		return invalid("expires", "must be after creation time")
	}
	return nil
}

// =============================================================================
// CREATE
// =============================================================================

// Create issues a new offer against an enquiry and approves the enquiry.
func (s *Service) Create(ctx context.Context, d Draft) (*Offer, error) {
	now := s.now()
	if err := d.Validate(now); err != nil {
		return nil, err
	}

	property, err := s.Properties.GetProperty(ctx, d.PropertyID)
	if err != nil {
		return nil, internal("load property", err)
	}
	if property.SellerID != d.SellerID {
		return nil, &ForbiddenError{CallerID: d.SellerID, Role: "seller"}
	}

	enquiry, err := s.Enquiries.GetEnquiry(ctx, d.EnquiryID)
	if err != nil {
		return nil, internal("load enquiry", err)
	}
	if enquiry.PropertyID != d.PropertyID {
		return nil, invalid("enquiry_id", "enquiry is for a different property")
	}

	var seller *Party
	if s.Users != nil {
		if seller, err = s.Users.GetUser(ctx, d.SellerID); err != nil {
			return nil, internal("load seller", err)
		}
	}

	unlock, err := s.Locker.Lock(ctx, "enquiry:"+string(d.EnquiryID))
	if err != nil {
		return nil, internal("lock enquiry", err)
	}
	defer unlock()

	var created *Offer
	err = s.Store.WithTx(ctx, func(st Store) error {
		active, err := st.ActiveOfferForEnquiry(ctx, d.EnquiryID)
		if err != nil {
			return err
		}
		if err := guardCreate(enquiry, active); err != nil {
			return err
		}

		count, err := st.CountOffersForProperty(ctx, d.PropertyID)
		if err != nil {
			return err
		}

		o := &Offer{
			ID:                 OfferID(uuid.NewString()),
			BuyerID:            enquiry.BuyerID,
			SellerID:           d.SellerID,
			EnquiryID:          d.EnquiryID,
			PropertyID:         d.PropertyID,
			Status:             StatusGenerated,
			TotalAmountPayable: d.TotalAmountPayable,
			InitialPayment:     d.InitialPayment,
			InitialPaymentDate: d.InitialPaymentDate,
			PeriodicPayment:    d.PeriodicPayment,
			PaymentFrequency:   d.PaymentFrequency,
			HandOverDate:       d.HandOverDate,
			Expires:            d.Expires.UTC(),
			ReferenceCode:      ReferenceCode(seller, property, count, now),
			Concerns:           NewConcernThread(),
			CreatedAt:          now,
			UpdatedAt:          now,
		}
		if err := st.CreateOffer(ctx, o); err != nil {
			return err
		}
		if err := s.apply(ctx, st, EnquiryApproval{EnquiryID: d.EnquiryID, Approved: true, By: d.SellerID}); err != nil {
			return err
		}
		created = o
		return nil
	})
	if err != nil {
		return nil, internal("create offer", err)
	}

	log.Printf("[Offers] created %s (%s) for enquiry %s", created.ID, created.ReferenceCode, created.EnquiryID)
	s.Notifier.Notify(ctx, TemplateOfferCreated, created.BuyerID, created.ID, map[string]string{
		"reference_code": created.ReferenceCode,
		"property_name":  property.Name,
		"expires":        created.Expires.Format(time.RFC1123),
	})
	return created, nil
}

// =============================================================================
// LIFECYCLE TRANSITIONS
// =============================================================================

// Accept records the buyer's acceptance and derives the contribution reward.
func (s *Service) Accept(ctx context.Context, id OfferID, buyerID UserID, signature string) (*Offer, error) {
	if signature == "" {
		return nil, invalid("signature", "required")
	}

	var property *Property
	o, err := s.mutate(ctx, id, "accept offer", func(o *Offer, now time.Time) (*EnquiryApproval, error) {
		enquiry, err := s.Enquiries.GetEnquiry(ctx, o.EnquiryID)
		if err != nil {
			return nil, internal("load enquiry", err)
		}
		if err := guardAccept(o, enquiry, buyerID, now); err != nil {
			return nil, err
		}
		if property, err = s.Properties.GetProperty(ctx, o.PropertyID); err != nil {
			return nil, internal("load property", err)
		}

		o.Status = StatusInterested
		o.Signature = signature
		o.ResponseDate = &now
		o.ContributionReward = ContributionReward(property.Price, o.TotalAmountPayable)
		return nil, nil
	})
	if err != nil {
		return nil, err
	}

	fields := map[string]string{
		"reference_code":      o.ReferenceCode,
		"property_name":       property.Name,
		"contribution_reward": strconv.FormatInt(int64(o.ContributionReward), 10),
	}
	s.Notifier.Notify(ctx, TemplateOfferAccepted, o.BuyerID, o.ID, fields)
	s.Notifier.Notify(ctx, TemplateOfferAccepted, o.SellerID, o.ID, fields)
	return o, nil
}

// Assign confirms assignment of an accepted offer.
func (s *Service) Assign(ctx context.Context, id OfferID) (*Offer, error) {
	o, err := s.mutate(ctx, id, "assign offer", func(o *Offer, now time.Time) (*EnquiryApproval, error) {
		if err := guardAssign(o); err != nil {
			return nil, err
		}
		o.Status = StatusAssigned
		o.DateAssigned = &now
		return nil, nil
	})
	if err != nil {
		return nil, err
	}
	s.Notifier.Notify(ctx, TemplateOfferAssigned, o.BuyerID, o.ID, map[string]string{"reference_code": o.ReferenceCode})
	return o, nil
}

// Allocate marks an assigned offer allocated once allocation completes.
func (s *Service) Allocate(ctx context.Context, id OfferID) (*Offer, error) {
	return s.mutate(ctx, id, "allocate offer", func(o *Offer, now time.Time) (*EnquiryApproval, error) {
		if err := guardAllocate(o); err != nil {
			return nil, err
		}
		o.Status = StatusAllocated
		return nil, nil
	})
}

// Cancel withdraws an offer that hasn't been accepted and releases the enquiry.
func (s *Service) Cancel(ctx context.Context, id OfferID, callerID UserID) (*Offer, error) {
	o, err := s.mutate(ctx, id, "cancel offer", func(o *Offer, now time.Time) (*EnquiryApproval, error) {
		approval, err := guardCancel(o, callerID)
		if err != nil {
			return nil, err
		}
		o.Status = StatusCancelled
		return approval, nil
	})
	if err != nil {
		return nil, err
	}
	s.Notifier.Notify(ctx, TemplateOfferCancelled, o.BuyerID, o.ID, map[string]string{"reference_code": o.ReferenceCode})
	return o, nil
}

// Reject declines the offer. Either party may reject while it is live.
func (s *Service) Reject(ctx context.Context, id OfferID, callerID UserID) (*Offer, error) {
	o, err := s.mutate(ctx, id, "reject offer", func(o *Offer, now time.Time) (*EnquiryApproval, error) {
		if err := guardReject(o, callerID); err != nil {
			return nil, err
		}
		o.Status = StatusRejected
		o.ResponseDate = &now
		return nil, nil
	})
	if err != nil {
		return nil, err
	}
	counterparty := o.SellerID
	if callerID == o.SellerID {
		counterparty = o.BuyerID
	}
	s.Notifier.Notify(ctx, TemplateOfferRejected, counterparty, o.ID, map[string]string{"reference_code": o.ReferenceCode})
	return o, nil
}

// Reactivate revives a rejected or expired offer with a new deadline.
func (s *Service) Reactivate(ctx context.Context, id OfferID, sellerID UserID, expires time.Time) (*Offer, error) {
	o, err := s.mutate(ctx, id, "reactivate offer", func(o *Offer, now time.Time) (*EnquiryApproval, error) {
		if err := guardReactivate(o, sellerID, expires, now); err != nil {
			return nil, err
		}
		o.Status = StatusReactivated
		o.Expires = expires.UTC()
		o.ResponseDate = nil
		return nil, nil
	})
	if err != nil {
		return nil, err
	}
	s.Notifier.Notify(ctx, TemplateOfferReactivated, o.BuyerID, o.ID, map[string]string{
		"reference_code": o.ReferenceCode,
		"expires":        o.Expires.Format(time.RFC1123),
	})
	return o, nil
}

// =============================================================================
// CONCERNS
// =============================================================================

// RaiseConcern appends a buyer question to the offer's concern thread.
func (s *Service) RaiseConcern(ctx context.Context, id OfferID, buyerID UserID, question string) (*Offer, Concern, error) {
	if question == "" {
		return nil, Concern{}, invalid("question", "required")
	}
	var raised Concern
	o, err := s.mutate(ctx, id, "raise concern", func(o *Offer, now time.Time) (*EnquiryApproval, error) {
		if err := guardRaiseConcern(o, buyerID); err != nil {
			return nil, err
		}
		if o.Concerns == nil {
			o.Concerns = NewConcernThread()
		}
		raised = o.Concerns.Append(ConcernID(uuid.NewString()), question, now)
		return nil, nil
	})
	if err != nil {
		return nil, Concern{}, err
	}
	s.Notifier.Notify(ctx, TemplateConcernRaised, o.SellerID, o.ID, map[string]string{
		"reference_code": o.ReferenceCode,
		"question":       question,
	})
	return o, raised, nil
}

// ResolveConcern records the seller's response to a pending concern.
func (s *Service) ResolveConcern(ctx context.Context, id OfferID, sellerID UserID, concernID ConcernID, response string) (*Offer, Concern, error) {
	if response == "" {
		return nil, Concern{}, invalid("response", "required")
	}
	var resolved Concern
	o, err := s.mutate(ctx, id, "resolve concern", func(o *Offer, now time.Time) (*EnquiryApproval, error) {
		if err := guardResolveConcern(o, sellerID); err != nil {
			return nil, err
		}
		c, err := o.Concerns.Resolve(concernID, response, now)
		if err != nil {
			return nil, err
		}
		resolved = c
		return nil, nil
	})
	if err != nil {
		return nil, Concern{}, err
	}
	s.Notifier.Notify(ctx, TemplateConcernResolved, o.BuyerID, o.ID, map[string]string{
		"reference_code": o.ReferenceCode,
		"response":       response,
	})
	return o, resolved, nil
}

// =============================================================================
// PAYMENTS
// =============================================================================

type PaymentInput struct {
	Amount         Amount
	PaidAt         time.Time
	Reference      string
	IdempotencyKey string
}

type PaymentReceipt struct {
	Payment   Payment
	Duplicate bool
	Recompute *RecomputeResult // nil for duplicates already reflected in the next payment
}

// RecordPayment appends a confirmed payment to the ledger and recomputes the
// next payment. The status guard, the append and the recompute all run under
// the offer lock, so a payment can't slip in behind the one that settles the
// offer.
//
// A repeated idempotency key returns the original payment without appending.
// If the original call failed between append and recompute, the replay
// finishes the recompute.
func (s *Service) RecordPayment(ctx context.Context, id OfferID, in PaymentInput) (*PaymentReceipt, error) {
	if in.Amount <= 0 {
		return nil, invalid("amount", "must be positive")
	}

	unlock, err := s.Locker.Lock(ctx, offerLockKey(id))
	if err != nil {
		return nil, internal("lock offer", err)
	}
	defer unlock()

	now := s.now()
	o, err := s.Store.GetOffer(ctx, id)
	if err != nil {
		return nil, internal("load offer", err)
	}

	if in.IdempotencyKey != "" {
		existing, err := s.Ledger.ByIdempotencyKey(ctx, in.IdempotencyKey)
		if err != nil {
			return nil, internal("lookup payment", err)
		}
		if existing != nil {
			return s.replayPayment(ctx, o, *existing, now)
		}
	}

	switch o.Status {
	case StatusCancelled:
		return nil, precondition(o.Status, "cannot record a payment against a cancelled offer")
	case StatusResolved:
		return nil, precondition(o.Status, "offer is already fully paid")
	}

	paidAt := in.PaidAt
	if paidAt.IsZero() {
		paidAt = now
	}
	p := Payment{
		ID:             PaymentID(uuid.NewString()),
		OfferID:        id,
		Amount:         in.Amount,
		PaidAt:         paidAt.UTC(),
		Reference:      in.Reference,
		IdempotencyKey: in.IdempotencyKey,
		CreatedAt:      now,
	}
	stored, duplicate, err := s.Ledger.Record(ctx, p)
	if err != nil {
		return nil, internal("record payment", err)
	}
	if duplicate {
		// Another process appended the same key between lookup and insert
		return s.replayPayment(ctx, o, stored, now)
	}

	result, err := s.Engine.recomputeLocked(ctx, id, &stored.ID, now)
	if err != nil {
		return nil, err
	}

	s.Notifier.Notify(ctx, TemplatePaymentReceived, o.SellerID, o.ID, map[string]string{
		"reference_code": o.ReferenceCode,
		"amount":         strconv.FormatInt(int64(stored.Amount), 10),
	})
	return &PaymentReceipt{Payment: stored, Recompute: result}, nil
}

// replayPayment answers a repeated idempotency key. Caller holds the offer lock.
func (s *Service) replayPayment(ctx context.Context, o *Offer, stored Payment, now time.Time) (*PaymentReceipt, error) {
	if stored.OfferID != o.ID {
		return nil, precondition(o.Status, "idempotency key %q belongs to another offer", stored.IdempotencyKey)
	}
	receipt := &PaymentReceipt{Payment: stored, Duplicate: true}
	if o.Status == StatusResolved {
		return receipt, nil
	}

	history, err := s.Store.NextPaymentHistory(ctx, o.ID)
	if err != nil {
		return nil, internal("load next payment history", err)
	}
	if recomputedSince(history, stored) {
		log.Printf("[Offers] duplicate payment %s for offer %s ignored", stored.IdempotencyKey, o.ID)
		return receipt, nil
	}

	log.Printf("[Offers] payment %s for offer %s was never recomputed, recomputing", stored.ID, o.ID)
	result, err := s.Engine.recomputeLocked(ctx, o.ID, &stored.ID, now)
	if err != nil {
		return nil, err
	}
	receipt.Recompute = result
	return receipt, nil
}

// recomputedSince reports whether some recompute ran after p was appended.
// Every run resolves or inserts a record stamped with its own clock.
func recomputedSince(history []NextPayment, p Payment) bool {
	for _, np := range history {
		if np.TransactionID != nil && *np.TransactionID == p.ID {
			return true
		}
		if !np.CreatedAt.Before(p.CreatedAt) {
			return true
		}
		if np.ResolvedDate != nil && !np.ResolvedDate.Before(p.CreatedAt) {
			return true
		}
	}
	return false
}

// RecomputeNextPayment re-derives the next payment on demand.
func (s *Service) RecomputeNextPayment(ctx context.Context, id OfferID, transactionID *PaymentID) (*RecomputeResult, error) {
	return s.Engine.Recompute(ctx, id, transactionID, s.now())
}

// RunReminderSweep selects next payments due in 1, 7 or 30 days and notifies buyers.
func (s *Service) RunReminderSweep(ctx context.Context, now time.Time) ([]Reminder, error) {
	return s.Reminders.Run(ctx, now)
}

// =============================================================================
// QUERIES
// =============================================================================

func (s *Service) Get(ctx context.Context, id OfferID) (*Offer, error) {
	o, err := s.Store.GetOffer(ctx, id)
	if err != nil {
		return nil, internal("load offer", err)
	}
	return o, nil
}

func (s *Service) List(ctx context.Context, filter OfferFilter) ([]*Offer, error) {
	offers, err := s.Store.ListOffers(ctx, filter)
	if err != nil {
		return nil, internal("list offers", err)
	}
	return offers, nil
}

func (s *Service) Schedule(ctx context.Context, id OfferID) (*Offer, []ScheduleEntry, error) {
	o, err := s.Get(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	return o, GenerateSchedule(o), nil
}

// PaymentStatus is the payment-side view of an offer.
type PaymentStatus struct {
	Offer     *Offer
	TotalPaid Amount
	Active    *NextPayment
	History   []NextPayment
	Payments  []Payment
}

func (s *Service) PaymentStatus(ctx context.Context, id OfferID) (*PaymentStatus, error) {
	o, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	st := &PaymentStatus{Offer: o}
	if st.TotalPaid, err = s.Ledger.Sum(ctx, id); err != nil {
		return nil, internal("ledger sum", err)
	}
	if st.Active, err = s.Store.ActiveNextPayment(ctx, id); err != nil {
		return nil, internal("load next payment", err)
	}
	if st.History, err = s.Store.NextPaymentHistory(ctx, id); err != nil {
		return nil, internal("load next payment history", err)
	}
	if st.Payments, err = s.Ledger.Payments(ctx, id); err != nil {
		return nil, internal("load payments", err)
	}
	return st, nil
}

// =============================================================================
// HELPERS
// =============================================================================

// mutate runs fn against a fresh copy of the offer under the per-offer lock
// and writes it back with compare-and-set on the status that was read. A
// returned EnquiryApproval is applied in the same unit of work.
func (s *Service) mutate(ctx context.Context, id OfferID, op string, fn func(o *Offer, now time.Time) (*EnquiryApproval, error)) (*Offer, error) {
	unlock, err := s.Locker.Lock(ctx, offerLockKey(id))
	if err != nil {
		return nil, internal("lock offer", err)
	}
	defer unlock()

	now := s.now()
	o, err := s.Store.GetOffer(ctx, id)
	if err != nil {
		return nil, internal("load offer", err)
	}
	expected := o.Status

	approval, err := fn(o, now)
	if err != nil {
		return nil, err
	}
	if o.Status != expected && !CanTransition(expected, o.Status) {
		return nil, precondition(expected, "transition %s -> %s is not allowed", expected, o.Status)
	}
	o.UpdatedAt = now

	if approval == nil {
		err = s.Store.UpdateOffer(ctx, o, expected)
	} else {
		err = s.Store.WithTx(ctx, func(st Store) error {
			if err := st.UpdateOffer(ctx, o, expected); err != nil {
				return err
			}
			return s.apply(ctx, st, *approval)
		})
	}
	if errors.Is(err, ErrConcurrentModification) {
		return nil, precondition(expected, "offer changed concurrently, reload and retry")
	}
	if err != nil {
		return nil, internal(op, err)
	}
	if o.Status != expected {
		log.Printf("[Offers] %s: %s -> %s", o.ID, expected, o.Status)
	}
	return o, nil
}

// apply runs a compensating action. When the transactional store also owns
// enquiries the change joins the transaction; otherwise it goes through the
// collaborator and a failure still aborts the surrounding unit of work.
func (s *Service) apply(ctx context.Context, st Store, a EnquiryApproval) error {
	if el, ok := st.(EnquiryLookup); ok {
		return el.SetEnquiryApproved(ctx, a.EnquiryID, a.Approved, a.By)
	}
	return s.Enquiries.SetEnquiryApproved(ctx, a.EnquiryID, a.Approved, a.By)
}
