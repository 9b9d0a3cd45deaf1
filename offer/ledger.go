/*
ledger.go - Append-only payment ledger

PURPOSE:
  Records confirmed payments against offers. The ledger is the source of
  truth for "how much has been paid"; NextPayment records are derived from
  it and can always be recomputed.

CRITICAL INVARIANTS:
  1. APPEND-ONLY: No Update, No Delete.
  2. IDEMPOTENT: Same idempotency key = same payment. A retried webhook or a
     double-clicked "confirm" can never be counted twice.
  3. ORDER-INDEPENDENT: Only the sum matters, so payments arriving out of
     order produce the same result.

SEE ALSO:
  - recompute.go: Consumes LedgerQuery.Sum
  - store/sqldb: payments table
*/
package offer

import (
	"context"
	"errors"
	"time"
)

// =============================================================================
// PAYMENT - Immutable ledger entry
// =============================================================================

type Payment struct {
	ID             PaymentID
	OfferID        OfferID
	Amount         Amount
	PaidAt         time.Time
	Reference      string
	IdempotencyKey string
	CreatedAt      time.Time
}

// PaymentStore persists payments. APPEND-ONLY.
type PaymentStore interface {
	// AppendPayment fails with ErrDuplicateIdempotencyKey if the key exists.
	AppendPayment(ctx context.Context, p Payment) error

	// PaymentByIdempotencyKey returns the stored payment or nil.
	PaymentByIdempotencyKey(ctx context.Context, key string) (*Payment, error)

	// Payments returns all payments for an offer ordered by PaidAt.
	Payments(ctx context.Context, offerID OfferID) ([]Payment, error)

	SumPayments(ctx context.Context, offerID OfferID) (Amount, error)
}

// =============================================================================
// DEFAULT LEDGER - LedgerQuery over a PaymentStore
// =============================================================================

type DefaultLedger struct {
	Store PaymentStore
}

func NewLedger(store PaymentStore) *DefaultLedger {
	return &DefaultLedger{Store: store}
}

func (l *DefaultLedger) Sum(ctx context.Context, offerID OfferID) (Amount, error) {
	return l.Store.SumPayments(ctx, offerID)
}

// Record appends a payment. If the idempotency key was seen before the
// original payment is returned with duplicate=true.
func (l *DefaultLedger) Record(ctx context.Context, p Payment) (stored Payment, duplicate bool, err error) {
	if p.IdempotencyKey != "" {
		existing, err := l.Store.PaymentByIdempotencyKey(ctx, p.IdempotencyKey)
		if err != nil {
			return Payment{}, false, err
		}
		if existing != nil {
			return *existing, true, nil
		}
	}
	if err := l.Store.AppendPayment(ctx, p); err != nil {
		if errors.Is(err, ErrDuplicateIdempotencyKey) {
			existing, lookupErr := l.Store.PaymentByIdempotencyKey(ctx, p.IdempotencyKey)
			if lookupErr == nil && existing != nil {
				return *existing, true, nil
			}
		}
		return Payment{}, false, err
	}
	return p, false, nil
}

// ByIdempotencyKey returns the payment recorded under key, or nil.
func (l *DefaultLedger) ByIdempotencyKey(ctx context.Context, key string) (*Payment, error) {
	return l.Store.PaymentByIdempotencyKey(ctx, key)
}

func (l *DefaultLedger) Payments(ctx context.Context, offerID OfferID) ([]Payment, error) {
	return l.Store.Payments(ctx, offerID)
}
