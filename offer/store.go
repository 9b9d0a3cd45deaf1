/*
store.go - Persistence and collaborator interfaces

PURPOSE:
  Defines the interface between the offer engine and everything it does not
  own: the database, property/enquiry/user lookups, the payment ledger and
  notification delivery.

KEY INTERFACES:
  Store:            Offers and NextPayment records
  TxStore:          Store + atomic unit of work (WithTx)
  PropertyLookup:   Property price/name/house type/seller
  EnquiryLookup:    Enquiry buyer/property/approval flag
  UserLookup:       Recipient details and seller codes
  LedgerQuery:      Sum of confirmed payments per offer
  NotificationSink: Fire-and-forget delivery

COMPARE-AND-SET:
  UpdateOffer takes the status the caller read. If the stored status no
  longer matches, the write is rejected with ErrConcurrentModification.
  Two concurrent Assign calls can't both win.

NEXT PAYMENT INVARIANT:
  At most one unresolved NextPayment per offer. ResolveNextPayment and
  InsertNextPayment are always called inside the same WithTx so readers
  never see zero or two active records.

IMPLEMENTATIONS:
  - offer/store/memory.go: In-memory for tests and dev
  - store/sqldb: SQLite and PostgreSQL

SEE ALSO:
  - ledger.go: Payment ledger built on PaymentStore
*/
package offer

import (
	"context"
	"time"
)

// =============================================================================
// STORE - Offers and next-payment records
// =============================================================================

type OfferFilter struct {
	BuyerID    *UserID
	SellerID   *UserID
	PropertyID *PropertyID
	Statuses   []Status
}

type Store interface {
	// CreateOffer inserts a new offer including its concern thread.
	CreateOffer(ctx context.Context, o *Offer) error

	// GetOffer returns the offer or a *NotFoundError.
	GetOffer(ctx context.Context, id OfferID) (*Offer, error)

	// UpdateOffer persists o if the stored status still equals expected.
	UpdateOffer(ctx context.Context, o *Offer, expected Status) error

	ListOffers(ctx context.Context, filter OfferFilter) ([]*Offer, error)

	// CountOffersForProperty counts every offer ever issued for the property.
	CountOffersForProperty(ctx context.Context, propertyID PropertyID) (int, error)

	// ActiveOfferForEnquiry returns the non-cancelled, non-rejected offer for
	// the enquiry, or nil.
	ActiveOfferForEnquiry(ctx context.Context, enquiryID EnquiryID) (*Offer, error)

	// ActiveNextPayment returns the unresolved record for the offer, or nil.
	ActiveNextPayment(ctx context.Context, offerID OfferID) (*NextPayment, error)

	// ResolveNextPayment marks an unresolved record resolved.
	ResolveNextPayment(ctx context.Context, np *NextPayment) error

	// InsertNextPayment adds a new unresolved record.
	InsertNextPayment(ctx context.Context, np *NextPayment) error

	// NextPaymentHistory returns all records for an offer, oldest first.
	NextPaymentHistory(ctx context.Context, offerID OfferID) ([]NextPayment, error)

	// UnresolvedNextPaymentsDueOn returns unresolved records whose ExpiresOn
	// equals one of the given dates exactly.
	UnresolvedNextPaymentsDueOn(ctx context.Context, dates []Date) ([]NextPayment, error)
}

// TxStore wraps Store with transaction support.
// If fn returns error, every write made through the passed Store is rolled back.
type TxStore interface {
	Store
	WithTx(ctx context.Context, fn func(Store) error) error
}

// =============================================================================
// COLLABORATORS
// =============================================================================

type PropertyLookup interface {
	GetProperty(ctx context.Context, id PropertyID) (*Property, error)
}

type EnquiryLookup interface {
	GetEnquiry(ctx context.Context, id EnquiryID) (*Enquiry, error)
	SetEnquiryApproved(ctx context.Context, id EnquiryID, approved bool, by UserID) error
}

type UserLookup interface {
	GetUser(ctx context.Context, id UserID) (*Party, error)
}

// LedgerQuery returns the sum of all confirmed payments against an offer.
type LedgerQuery interface {
	Sum(ctx context.Context, offerID OfferID) (Amount, error)
}

// NotificationSink delivers a templated message. Failures are logged by the
// engine and never fail the business operation.
type NotificationSink interface {
	Send(ctx context.Context, n Notification) error
}

type Notification struct {
	Template  string
	Recipient Party
	Fields    map[string]string
	OfferID   OfferID
	SentAt    time.Time
}

// Template keys
const (
	TemplateOfferCreated     = "offer_created"
	TemplateOfferAccepted    = "offer_accepted"
	TemplateOfferRejected    = "offer_rejected"
	TemplateOfferReactivated = "offer_reactivated"
	TemplateOfferCancelled   = "offer_cancelled"
	TemplateOfferAssigned    = "offer_assigned"
	TemplateOfferResolved    = "offer_resolved"
	TemplateConcernRaised    = "concern_raised"
	TemplateConcernResolved  = "concern_resolved"
	TemplatePaymentReceived  = "payment_received"
	TemplatePaymentReminder  = "payment_reminder"
)
