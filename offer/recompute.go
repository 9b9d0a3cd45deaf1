/*
recompute.go - Next-due payment recomputation

PURPOSE:
  Derives "what is due next" for an offer from its schedule, the ledger sum
  and today's date, and keeps exactly one unresolved NextPayment record per
  offer in step with the ledger.

ALGORITHM:
  1. Load offer, sum the ledger
  2. Generate the schedule
  3. Walk the schedule, selecting an entry when its due window has opened,
     or when nothing is selected yet and the ledger covers the running
     selected total. The first milestone is therefore always selected,
     which pulls it forward once it's paid.
     A window opens on the entry's due date: with frequency 30 and handover
     D, today D+31 selects D and D+30 but not D+60.
  4. expected = selected total - paid, capped by what is still outstanding
  5. expected <= 0: buyer is ahead of the schedule. The record points at the
     next unopened milestone with the periodic amount as placeholder.
  6. Resolve the prior record and insert the new one in ONE store transaction.
     Fully paid: no new record, the offer moves to RESOLVED instead.

SERIALIZATION:
  Runs under a per-offer lock. The ledger sum is read inside the lock, so
  two payments confirmed together recompute one after the other.

IDEMPOTENCE:
  Same ledger sum + same today = same expected amount and due date. Every
  run still resolves and re-inserts a record, so callers only invoke this
  on genuine ledger changes.

SEE ALSO:
  - schedule.go: GenerateSchedule
  - ledger.go: LedgerQuery
*/
package offer

import (
	"context"
	"log"
	"strconv"
	"time"

	"github.com/google/uuid"
)

// =============================================================================
// DUE - Pure computation
// =============================================================================

type Due struct {
	ExpectedAmount Amount
	ExpiresOn      Date
	ExpectedTotal  Amount
	TotalPaid      Amount
	Selected       []ScheduleEntry
	Settled        bool
}

// ComputeDue is the side-effect-free core of Recompute.
func ComputeDue(o *Offer, totalPaid Amount, today Date) Due {
	due := Due{TotalPaid: totalPaid}
	if totalPaid >= o.TotalAmountPayable {
		due.Settled = true
		return due
	}

	schedule := GenerateSchedule(o)
	for _, e := range schedule {
		windowOpen := e.Date.BeforeOrEqual(today)
		coveredByPaid := totalPaid >= due.ExpectedTotal
		if windowOpen || (coveredByPaid && len(due.Selected) == 0) {
			due.Selected = append(due.Selected, e)
			due.ExpectedTotal += e.Amount
		}
	}

	due.ExpectedAmount = due.ExpectedTotal - totalPaid
	due.ExpiresOn = due.Selected[0].Date

	if due.ExpectedAmount <= 0 {
		due.ExpectedAmount = o.PeriodicPayment
		// Selected is always a prefix of the schedule
		if len(due.Selected) < len(schedule) {
			due.ExpiresOn = schedule[len(due.Selected)].Date
		}
	}

	if outstanding := o.TotalAmountPayable - totalPaid; due.ExpectedAmount > outstanding {
		due.ExpectedAmount = outstanding
	}
	return due
}

// =============================================================================
// ENGINE - Persists the computation atomically
// =============================================================================

type Engine struct {
	Store    TxStore
	Ledger   LedgerQuery
	Locker   Locker
	Notifier *Notifier
}

type RecomputeResult struct {
	Offer    *Offer
	Due      Due
	Resolved *NextPayment // prior record resolved in this step, if any
	Next     *NextPayment // nil once the offer is fully paid
}

// Recompute re-derives the next payment for an offer. triggeringTx is the
// payment that caused the run, nil for a manual recompute.
func (e *Engine) Recompute(ctx context.Context, offerID OfferID, triggeringTx *PaymentID, now time.Time) (*RecomputeResult, error) {
	unlock, err := e.locker().Lock(ctx, offerLockKey(offerID))
	if err != nil {
		return nil, internal("lock offer", err)
	}
	defer unlock()
	return e.recomputeLocked(ctx, offerID, triggeringTx, now)
}

// recomputeLocked is Recompute for callers already holding the offer lock.
func (e *Engine) recomputeLocked(ctx context.Context, offerID OfferID, triggeringTx *PaymentID, now time.Time) (*RecomputeResult, error) {
	o, err := e.Store.GetOffer(ctx, offerID)
	if err != nil {
		return nil, internal("load offer", err)
	}

	totalPaid, err := e.Ledger.Sum(ctx, offerID)
	if err != nil {
		return nil, internal("ledger sum", err)
	}

	due := ComputeDue(o, totalPaid, DateOf(now))
	result := &RecomputeResult{Offer: o, Due: due}
	becameResolved := false

	err = e.Store.WithTx(ctx, func(s Store) error {
		prior, err := s.ActiveNextPayment(ctx, offerID)
		if err != nil {
			return err
		}
		if prior != nil {
			resolvedAt := now
			prior.Resolved = true
			prior.ResolvedDate = &resolvedAt
			prior.ResolvedViaTransaction = triggeringTx != nil
			prior.TransactionID = triggeringTx
			if err := s.ResolveNextPayment(ctx, prior); err != nil {
				return err
			}
			result.Resolved = prior
		}

		if !due.Settled {
			next := &NextPayment{
				ID:             NextPaymentID(uuid.NewString()),
				OfferID:        offerID,
				ExpectedAmount: due.ExpectedAmount,
				ExpiresOn:      due.ExpiresOn,
				CreatedAt:      now,
			}
			if err := s.InsertNextPayment(ctx, next); err != nil {
				return err
			}
			result.Next = next
			return nil
		}

		if o.Status.IsTerminal() {
			log.Printf("[Recompute] offer %s fully paid while %s, status left unchanged", offerID, o.Status)
			return nil
		}
		expected := o.Status
		o.Status = StatusResolved
		o.UpdatedAt = now
		becameResolved = true
		return s.UpdateOffer(ctx, o, expected)
	})
	if err != nil {
		return nil, internal("persist next payment", err)
	}

	if becameResolved {
		log.Printf("[Recompute] offer %s fully paid (%d), resolved", offerID, totalPaid)
		fields := map[string]string{
			"reference_code": o.ReferenceCode,
			"total_paid":     strconv.FormatInt(int64(totalPaid), 10),
		}
		e.Notifier.Notify(ctx, TemplateOfferResolved, o.BuyerID, o.ID, fields)
		e.Notifier.Notify(ctx, TemplateOfferResolved, o.SellerID, o.ID, fields)
	}
	return result, nil
}

var defaultLocker = NewKeyedMutex()

func (e *Engine) locker() Locker {
	if e.Locker == nil {
		return defaultLocker
	}
	return e.Locker
}
