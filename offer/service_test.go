package offer_test

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/offer-engine/offer"
	"github.com/warp/offer-engine/offer/store"
)

// =============================================================================
// TEST FIXTURE
// =============================================================================

type recordingSink struct {
	mu   sync.Mutex
	sent []offer.Notification
}

func (s *recordingSink) Send(_ context.Context, n offer.Notification) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sent = append(s.sent, n)
	return nil
}

func (s *recordingSink) templates(to offer.UserID) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []string
	for _, n := range s.sent {
		if n.Recipient.ID == to {
			out = append(out, n.Template)
		}
	}
	return out
}

type fixture struct {
	svc  *offer.Service
	mem  *store.Memory
	sink *recordingSink
	now  time.Time
}

func (f *fixture) advance(d time.Duration) { f.now = f.now.Add(d) }

func newFixture(t *testing.T) *fixture {
	return newFixtureWith(t, nil)
}

// newFixtureWith lets a test swap collaborators before the service is built.
// wrap may return a TxStore wrapping the memory store.
func newFixtureWith(t *testing.T, wrap func(mem *store.Memory, deps *offer.Deps) offer.TxStore) *fixture {
	t.Helper()
	ctx := context.Background()

	f := &fixture{
		mem:  store.NewMemory(),
		sink: &recordingSink{},
		now:  time.Date(2026, time.March, 1, 10, 0, 0, 0, time.UTC),
	}

	require.NoError(t, f.mem.SaveUser(ctx, &offer.Party{ID: "seller-1", Name: "Lagos Abuja Homes", Code: "LAH"}))
	require.NoError(t, f.mem.SaveUser(ctx, &offer.Party{ID: "buyer-1", Name: "Ada Obi", Email: "ada@example.com"}))
	require.NoError(t, f.mem.SaveProperty(ctx, &offer.Property{
		ID:        "prop-1",
		Name:      "Green Court Estate",
		HouseType: "4 Bedroom Terrace",
		Price:     120000,
		SellerID:  "seller-1",
	}))
	require.NoError(t, f.mem.SaveEnquiry(ctx, &offer.Enquiry{ID: "enq-1", BuyerID: "buyer-1", PropertyID: "prop-1"}))

	deps := offer.Deps{
		Properties: f.mem,
		Enquiries:  f.mem,
		Users:      f.mem,
		Payments:   f.mem,
		Sink:       f.sink,
		Clock:      func() time.Time { return f.now },
	}
	var txStore offer.TxStore = f.mem
	if wrap != nil {
		if wrapped := wrap(f.mem, &deps); wrapped != nil {
			txStore = wrapped
		}
	}
	f.svc = offer.NewService(txStore, deps)
	return f
}

func (f *fixture) draft() offer.Draft {
	return offer.Draft{
		SellerID:           "seller-1",
		EnquiryID:          "enq-1",
		PropertyID:         "prop-1",
		TotalAmountPayable: 100000,
		InitialPayment:     50000,
		InitialPaymentDate: handover,
		PeriodicPayment:    10000,
		PaymentFrequency:   30,
		HandOverDate:       handover,
		Expires:            f.now.Add(7 * 24 * time.Hour),
	}
}

func (f *fixture) create(t *testing.T) *offer.Offer {
	t.Helper()
	o, err := f.svc.Create(context.Background(), f.draft())
	require.NoError(t, err)
	return o
}

func (f *fixture) accepted(t *testing.T) *offer.Offer {
	t.Helper()
	o := f.create(t)
	o, err := f.svc.Accept(context.Background(), o.ID, "buyer-1", "sig-001")
	require.NoError(t, err)
	return o
}

func (f *fixture) enquiryApproved(t *testing.T) bool {
	t.Helper()
	e, err := f.mem.GetEnquiry(context.Background(), "enq-1")
	require.NoError(t, err)
	return e.Approved
}

func unresolvedCount(t *testing.T, f *fixture, id offer.OfferID) int {
	t.Helper()
	history, err := f.mem.NextPaymentHistory(context.Background(), id)
	require.NoError(t, err)
	n := 0
	for _, np := range history {
		if !np.Resolved {
			n++
		}
	}
	return n
}

// =============================================================================
// CREATE
// =============================================================================

func TestCreate_ApprovesEnquiryAndBuildsReference(t *testing.T) {
	// GIVEN: A fresh enquiry on a seller's property
	// WHEN: The seller creates an offer
	// THEN: The offer is GENERATED, referenced, and the enquiry approved

	f := newFixture(t)
	o := f.create(t)

	assert.Equal(t, offer.StatusGenerated, o.Status)
	assert.Equal(t, offer.UserID("buyer-1"), o.BuyerID)
	assert.Equal(t, "LAH-GCE4BT-001-260301", o.ReferenceCode)
	assert.Equal(t, 0, o.Concerns.Len())
	assert.True(t, f.enquiryApproved(t))
	assert.Equal(t, []string{offer.TemplateOfferCreated}, f.sink.templates("buyer-1"))
}

func TestCreate_SecondOfferForSameEnquiry(t *testing.T) {
	f := newFixture(t)
	f.create(t)

	_, err := f.svc.Create(context.Background(), f.draft())

	assert.ErrorIs(t, err, offer.ErrPreconditionFailed)
}

func TestCreate_NotTheSeller(t *testing.T) {
	f := newFixture(t)
	d := f.draft()
	d.SellerID = "someone-else"

	_, err := f.svc.Create(context.Background(), d)

	assert.ErrorIs(t, err, offer.ErrForbidden)
	assert.False(t, f.enquiryApproved(t))
}

func TestCreate_UnknownEnquiry(t *testing.T) {
	f := newFixture(t)
	d := f.draft()
	d.EnquiryID = "missing"

	_, err := f.svc.Create(context.Background(), d)

	assert.True(t, offer.IsNotFound(err))
}

func TestCreate_Validation(t *testing.T) {
	tests := []struct {
		name  string
		edit  func(d *offer.Draft)
		field string
	}{
		{"negative initial", func(d *offer.Draft) { d.InitialPayment = -1 }, "initial_payment"},
		{"initial above total", func(d *offer.Draft) { d.InitialPayment = d.TotalAmountPayable + 1 }, "initial_payment"},
		{"zero periodic", func(d *offer.Draft) { d.PeriodicPayment = 0 }, "periodic_payment"},
		{"zero frequency", func(d *offer.Draft) { d.PaymentFrequency = 0 }, "payment_frequency"},
		{"expires in the past", func(d *offer.Draft) { d.Expires = d.Expires.Add(-30 * 24 * time.Hour) }, "expires"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			d := f.draft()
			tt.edit(&d)

			_, err := f.svc.Create(context.Background(), d)

			var verr *offer.ValidationError
			require.ErrorAs(t, err, &verr)
			assert.Equal(t, tt.field, verr.Field)
		})
	}
}

func TestCreate_ReferenceCountsEveryOfferOnProperty(t *testing.T) {
	// GIVEN: A cancelled offer on the property
	// WHEN: A new offer is created for the same enquiry
	// THEN: The running count moves on to 002

	f := newFixture(t)
	first := f.create(t)
	_, err := f.svc.Cancel(context.Background(), first.ID, "seller-1")
	require.NoError(t, err)

	second := f.create(t)

	assert.Equal(t, "LAH-GCE4BT-002-260301", second.ReferenceCode)
}

// =============================================================================
// ACCEPT
// =============================================================================

func TestAccept_SetsRewardAndResponse(t *testing.T) {
	f := newFixture(t)
	o := f.accepted(t)

	assert.Equal(t, offer.StatusInterested, o.Status)
	assert.Equal(t, offer.Amount(20000), o.ContributionReward)
	assert.Equal(t, "sig-001", o.Signature)
	require.NotNil(t, o.ResponseDate)
	assert.Equal(t, f.now, *o.ResponseDate)
	assert.Contains(t, f.sink.templates("seller-1"), offer.TemplateOfferAccepted)
}

func TestAccept_Expired(t *testing.T) {
	// GIVEN: An offer whose validity deadline has passed
	// WHEN: The buyer accepts
	// THEN: PreconditionFailed, status unchanged

	f := newFixture(t)
	o := f.create(t)
	f.advance(8 * 24 * time.Hour)

	_, err := f.svc.Accept(context.Background(), o.ID, "buyer-1", "sig")

	assert.ErrorIs(t, err, offer.ErrPreconditionFailed)
	stored, _ := f.svc.Get(context.Background(), o.ID)
	assert.Equal(t, offer.StatusGenerated, stored.Status)
}

func TestAccept_Cancelled(t *testing.T) {
	f := newFixture(t)
	o := f.create(t)
	_, err := f.svc.Cancel(context.Background(), o.ID, "seller-1")
	require.NoError(t, err)

	_, err = f.svc.Accept(context.Background(), o.ID, "buyer-1", "sig")

	assert.ErrorIs(t, err, offer.ErrPreconditionFailed)
}

func TestAccept_OnlyTheBuyer(t *testing.T) {
	f := newFixture(t)
	o := f.create(t)

	_, err := f.svc.Accept(context.Background(), o.ID, "seller-1", "sig")

	assert.ErrorIs(t, err, offer.ErrForbidden)
}

func TestAccept_UnknownOffer(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.Accept(context.Background(), "nope", "buyer-1", "sig")

	assert.True(t, offer.IsNotFound(err))
}

// =============================================================================
// CANCEL
// =============================================================================

func TestCancel_AcceptedOffer_EnquiryUntouched(t *testing.T) {
	// GIVEN: An INTERESTED offer
	// WHEN: The seller cancels
	// THEN: PreconditionFailed naming the acceptance, enquiry still approved

	f := newFixture(t)
	o := f.accepted(t)

	_, err := f.svc.Cancel(context.Background(), o.ID, "seller-1")

	require.ErrorIs(t, err, offer.ErrPreconditionFailed)
	assert.Contains(t, err.Error(), "accepted offer")
	assert.True(t, f.enquiryApproved(t))
}

func TestCancel_RevertsEnquiryApproval(t *testing.T) {
	f := newFixture(t)
	o := f.create(t)

	cancelled, err := f.svc.Cancel(context.Background(), o.ID, "seller-1")

	require.NoError(t, err)
	assert.Equal(t, offer.StatusCancelled, cancelled.Status)
	assert.False(t, f.enquiryApproved(t))
}

func TestCancel_OnlyTheSeller(t *testing.T) {
	f := newFixture(t)
	o := f.create(t)

	_, err := f.svc.Cancel(context.Background(), o.ID, "buyer-1")

	assert.ErrorIs(t, err, offer.ErrForbidden)
	assert.True(t, f.enquiryApproved(t))
}

// =============================================================================
// ASSIGN / ALLOCATE
// =============================================================================

func TestAssign_ThenAllocate(t *testing.T) {
	f := newFixture(t)
	o := f.accepted(t)

	o, err := f.svc.Assign(context.Background(), o.ID)
	require.NoError(t, err)
	assert.Equal(t, offer.StatusAssigned, o.Status)
	require.NotNil(t, o.DateAssigned)

	o, err = f.svc.Allocate(context.Background(), o.ID)
	require.NoError(t, err)
	assert.Equal(t, offer.StatusAllocated, o.Status)
}

func TestAssign_RequiresAcceptance(t *testing.T) {
	f := newFixture(t)
	o := f.create(t)

	_, err := f.svc.Assign(context.Background(), o.ID)

	assert.ErrorIs(t, err, offer.ErrPreconditionFailed)
}

func TestAssign_ConcurrentCallsOnlyOneWins(t *testing.T) {
	// GIVEN: An accepted offer
	// WHEN: Ten goroutines assign it at once
	// THEN: Exactly one succeeds, the rest fail the precondition

	f := newFixture(t)
	o := f.accepted(t)

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		succeeded int
		failed    int
	)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.svc.Assign(context.Background(), o.ID)
			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				succeeded++
			} else if assert.ErrorIs(t, err, offer.ErrPreconditionFailed) {
				failed++
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, succeeded)
	assert.Equal(t, 9, failed)
}

// =============================================================================
// REJECT / REACTIVATE
// =============================================================================

func TestRejectThenReactivate(t *testing.T) {
	f := newFixture(t)
	o := f.create(t)

	o, err := f.svc.Reject(context.Background(), o.ID, "buyer-1")
	require.NoError(t, err)
	assert.Equal(t, offer.StatusRejected, o.Status)
	assert.Contains(t, f.sink.templates("seller-1"), offer.TemplateOfferRejected)

	newExpiry := f.now.Add(14 * 24 * time.Hour)
	o, err = f.svc.Reactivate(context.Background(), o.ID, "seller-1", newExpiry)
	require.NoError(t, err)
	assert.Equal(t, offer.StatusReactivated, o.Status)
	assert.Equal(t, newExpiry, o.Expires)

	// Reactivated behaves like generated
	o, err = f.svc.Accept(context.Background(), o.ID, "buyer-1", "sig")
	require.NoError(t, err)
	assert.Equal(t, offer.StatusInterested, o.Status)
}

func TestReactivate_ExpiredOffer(t *testing.T) {
	f := newFixture(t)
	o := f.create(t)
	f.advance(10 * 24 * time.Hour)

	o, err := f.svc.Reactivate(context.Background(), o.ID, "seller-1", f.now.Add(24*time.Hour))

	require.NoError(t, err)
	assert.Equal(t, offer.StatusReactivated, o.Status)
}

func TestReactivate_LiveOfferRefused(t *testing.T) {
	f := newFixture(t)
	o := f.create(t)

	_, err := f.svc.Reactivate(context.Background(), o.ID, "seller-1", f.now.Add(48*time.Hour))

	assert.ErrorIs(t, err, offer.ErrPreconditionFailed)
}

// =============================================================================
// CONCERNS
// =============================================================================

func TestConcerns_RaiseAndResolve(t *testing.T) {
	// GIVEN: A generated offer
	// WHEN: The buyer raises two concerns and the seller answers the first
	// THEN: Insertion order is kept and only the first is resolved

	f := newFixture(t)
	o := f.create(t)
	ctx := context.Background()

	_, first, err := f.svc.RaiseConcern(ctx, o.ID, "buyer-1", "Is parking included?")
	require.NoError(t, err)
	f.advance(time.Hour)
	_, _, err = f.svc.RaiseConcern(ctx, o.ID, "buyer-1", "Can handover move to May?")
	require.NoError(t, err)

	o, resolved, err := f.svc.ResolveConcern(ctx, o.ID, "seller-1", first.ID, "Yes, one bay.")
	require.NoError(t, err)

	assert.Equal(t, offer.ConcernResolved, resolved.Status)
	entries := o.Concerns.Entries()
	require.Len(t, entries, 2)
	assert.Equal(t, "Is parking included?", entries[0].Question)
	require.NotNil(t, entries[0].Response)
	assert.Equal(t, "Yes, one bay.", *entries[0].Response)
	assert.Equal(t, offer.ConcernPending, entries[1].Status)
	assert.Equal(t, offer.StatusGenerated, o.Status)
	assert.Contains(t, f.sink.templates("seller-1"), offer.TemplateConcernRaised)
	assert.Contains(t, f.sink.templates("buyer-1"), offer.TemplateConcernResolved)
}

func TestConcerns_ResolveTwice(t *testing.T) {
	f := newFixture(t)
	o := f.create(t)
	ctx := context.Background()
	_, c, err := f.svc.RaiseConcern(ctx, o.ID, "buyer-1", "Question?")
	require.NoError(t, err)
	_, _, err = f.svc.ResolveConcern(ctx, o.ID, "seller-1", c.ID, "Answer.")
	require.NoError(t, err)

	_, _, err = f.svc.ResolveConcern(ctx, o.ID, "seller-1", c.ID, "Again.")

	assert.ErrorIs(t, err, offer.ErrPreconditionFailed)
}

func TestConcerns_UnknownConcern(t *testing.T) {
	f := newFixture(t)
	o := f.create(t)

	_, _, err := f.svc.ResolveConcern(context.Background(), o.ID, "seller-1", "missing", "Answer.")

	assert.True(t, offer.IsNotFound(err))
}

func TestConcerns_CancelledOffer(t *testing.T) {
	f := newFixture(t)
	o := f.create(t)
	_, err := f.svc.Cancel(context.Background(), o.ID, "seller-1")
	require.NoError(t, err)

	_, _, err = f.svc.RaiseConcern(context.Background(), o.ID, "buyer-1", "Why?")

	assert.ErrorIs(t, err, offer.ErrPreconditionFailed)
}

// =============================================================================
// PAYMENTS & RECOMPUTE
// =============================================================================

func TestRecordPayment_InitialPaidBeforeHandover(t *testing.T) {
	// GIVEN: An accepted offer, handover a month away
	// WHEN: The initial 50000 is paid
	// THEN: Next payment is the 10000 placeholder due on D+30

	f := newFixture(t)
	o := f.accepted(t)

	receipt, err := f.svc.RecordPayment(context.Background(), o.ID, offer.PaymentInput{
		Amount: 50000, Reference: "bank-1", IdempotencyKey: "pay-1",
	})

	require.NoError(t, err)
	assert.False(t, receipt.Duplicate)
	require.NotNil(t, receipt.Recompute.Next)
	assert.Equal(t, offer.Amount(10000), receipt.Recompute.Next.ExpectedAmount)
	assert.Equal(t, day(30), receipt.Recompute.Next.ExpiresOn)
	assert.Contains(t, f.sink.templates("seller-1"), offer.TemplatePaymentReceived)
}

func TestRecordPayment_DuplicateKeyNotCountedTwice(t *testing.T) {
	f := newFixture(t)
	o := f.accepted(t)
	ctx := context.Background()
	in := offer.PaymentInput{Amount: 50000, IdempotencyKey: "pay-1"}

	first, err := f.svc.RecordPayment(ctx, o.ID, in)
	require.NoError(t, err)
	second, err := f.svc.RecordPayment(ctx, o.ID, in)
	require.NoError(t, err)

	assert.True(t, second.Duplicate)
	assert.Equal(t, first.Payment.ID, second.Payment.ID)
	status, err := f.svc.PaymentStatus(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, offer.Amount(50000), status.TotalPaid)
	assert.Len(t, status.History, 1)
}

func TestRecordPayment_FullPaymentResolvesOffer(t *testing.T) {
	// GIVEN: An accepted offer with an active next payment
	// WHEN: The ledger reaches the total exactly
	// THEN: Prior record resolved via the transaction, no new record, offer RESOLVED

	f := newFixture(t)
	o := f.accepted(t)
	ctx := context.Background()
	_, err := f.svc.RecordPayment(ctx, o.ID, offer.PaymentInput{Amount: 50000})
	require.NoError(t, err)

	receipt, err := f.svc.RecordPayment(ctx, o.ID, offer.PaymentInput{Amount: 50000})
	require.NoError(t, err)

	result := receipt.Recompute
	assert.Nil(t, result.Next)
	require.NotNil(t, result.Resolved)
	assert.True(t, result.Resolved.ResolvedViaTransaction)
	require.NotNil(t, result.Resolved.TransactionID)
	assert.Equal(t, receipt.Payment.ID, *result.Resolved.TransactionID)

	stored, err := f.svc.Get(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, offer.StatusResolved, stored.Status)
	assert.Equal(t, 0, unresolvedCount(t, f, o.ID))
	assert.Contains(t, f.sink.templates("buyer-1"), offer.TemplateOfferResolved)

	_, err = f.svc.RecordPayment(ctx, o.ID, offer.PaymentInput{Amount: 1})
	assert.ErrorIs(t, err, offer.ErrPreconditionFailed)
}

func TestRecordPayment_InvalidAmount(t *testing.T) {
	f := newFixture(t)
	o := f.accepted(t)

	_, err := f.svc.RecordPayment(context.Background(), o.ID, offer.PaymentInput{Amount: 0})

	assert.ErrorIs(t, err, offer.ErrValidation)
}

func TestRecompute_IdempotentAndSingleActive(t *testing.T) {
	// GIVEN: An accepted offer with one payment
	// WHEN: Recompute runs repeatedly with no ledger change
	// THEN: Same amount and date each time, never more than one unresolved record

	f := newFixture(t)
	o := f.accepted(t)
	ctx := context.Background()
	_, err := f.svc.RecordPayment(ctx, o.ID, offer.PaymentInput{Amount: 20000})
	require.NoError(t, err)
	f.advance(45 * 24 * time.Hour)

	first, err := f.svc.RecomputeNextPayment(ctx, o.ID, nil)
	require.NoError(t, err)
	second, err := f.svc.RecomputeNextPayment(ctx, o.ID, nil)
	require.NoError(t, err)

	assert.Equal(t, first.Next.ExpectedAmount, second.Next.ExpectedAmount)
	assert.Equal(t, first.Next.ExpiresOn, second.Next.ExpiresOn)
	assert.False(t, second.Resolved.ResolvedViaTransaction)
	assert.Nil(t, second.Resolved.TransactionID)
	assert.Equal(t, 1, unresolvedCount(t, f, o.ID))
}

func TestRecompute_ConcurrentPayments(t *testing.T) {
	// GIVEN: An accepted offer
	// WHEN: Five payments are confirmed concurrently
	// THEN: All are counted and exactly one record stays unresolved

	f := newFixture(t)
	o := f.accepted(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.svc.RecordPayment(ctx, o.ID, offer.PaymentInput{Amount: 10000})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	status, err := f.svc.PaymentStatus(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, offer.Amount(50000), status.TotalPaid)
	assert.Len(t, status.History, 5)
	assert.Equal(t, 1, unresolvedCount(t, f, o.ID))
}

func TestRecompute_UnknownOffer(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.RecomputeNextPayment(context.Background(), "nope", nil)

	assert.True(t, offer.IsNotFound(err))
}

// =============================================================================
// FAILURE PATHS
// =============================================================================

// flakyLocker fails offer locks while failOffers is set.
type flakyLocker struct {
	inner      *offer.KeyedMutex
	failOffers atomic.Bool
}

func (l *flakyLocker) Lock(ctx context.Context, key string) (func(), error) {
	if l.failOffers.Load() && strings.HasPrefix(key, "offer:") {
		return nil, errors.New("lock backend unavailable")
	}
	return l.inner.Lock(ctx, key)
}

// flakyTxStore fails transactions while failTx is set.
type flakyTxStore struct {
	*store.Memory
	failTx atomic.Bool
}

func (s *flakyTxStore) WithTx(ctx context.Context, fn func(offer.Store) error) error {
	if s.failTx.Load() {
		return errors.New("database is locked")
	}
	return s.Memory.WithTx(ctx, fn)
}

type failingSink struct{ calls atomic.Int32 }

func (s *failingSink) Send(context.Context, offer.Notification) error {
	s.calls.Add(1)
	return errors.New("mail relay down")
}

func TestRecordPayment_LockFailureRecordsNothing(t *testing.T) {
	// GIVEN: An accepted offer and a lock backend that is down
	// WHEN: The full amount is paid, fails, and is retried with the same key once the lock is back
	// THEN: The failed attempt left the ledger empty and the retry resolves the offer

	locker := &flakyLocker{inner: offer.NewKeyedMutex()}
	f := newFixtureWith(t, func(_ *store.Memory, deps *offer.Deps) offer.TxStore {
		deps.Locker = locker
		return nil
	})
	o := f.accepted(t)
	ctx := context.Background()
	in := offer.PaymentInput{Amount: 100000, IdempotencyKey: "k1"}

	locker.failOffers.Store(true)
	_, err := f.svc.RecordPayment(ctx, o.ID, in)
	require.Error(t, err)

	status, err := f.svc.PaymentStatus(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, offer.Amount(0), status.TotalPaid)

	locker.failOffers.Store(false)
	receipt, err := f.svc.RecordPayment(ctx, o.ID, in)
	require.NoError(t, err)
	assert.False(t, receipt.Duplicate)

	stored, err := f.svc.Get(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, offer.StatusResolved, stored.Status)
}

func TestRecordPayment_RetryFinishesInterruptedRecompute(t *testing.T) {
	// GIVEN: A payment appended to the ledger whose recompute failed to commit
	// WHEN: The caller retries with the same idempotency key
	// THEN: Nothing is appended twice, the recompute runs, and the offer is resolved

	var flaky *flakyTxStore
	f := newFixtureWith(t, func(mem *store.Memory, _ *offer.Deps) offer.TxStore {
		flaky = &flakyTxStore{Memory: mem}
		return flaky
	})
	o := f.accepted(t)
	ctx := context.Background()
	in := offer.PaymentInput{Amount: 100000, IdempotencyKey: "k1"}

	flaky.failTx.Store(true)
	_, err := f.svc.RecordPayment(ctx, o.ID, in)
	require.Error(t, err)
	flaky.failTx.Store(false)

	stuck, err := f.svc.Get(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, offer.StatusInterested, stuck.Status)

	receipt, err := f.svc.RecordPayment(ctx, o.ID, in)
	require.NoError(t, err)
	assert.True(t, receipt.Duplicate)
	require.NotNil(t, receipt.Recompute)
	assert.Nil(t, receipt.Recompute.Next)

	status, err := f.svc.PaymentStatus(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, offer.Amount(100000), status.TotalPaid)
	assert.Len(t, status.Payments, 1)
	assert.Equal(t, offer.StatusResolved, status.Offer.Status)

	// A third replay has nothing left to do
	again, err := f.svc.RecordPayment(ctx, o.ID, in)
	require.NoError(t, err)
	assert.True(t, again.Duplicate)
	assert.Nil(t, again.Recompute)
}

func TestRecordPayment_ReplayAfterLaterPaymentSkipsRecompute(t *testing.T) {
	// GIVEN: A payment whose recompute failed, followed by a successful payment
	// WHEN: The first payment is replayed
	// THEN: The later recompute already counted it, so nothing runs again

	var flaky *flakyTxStore
	f := newFixtureWith(t, func(mem *store.Memory, _ *offer.Deps) offer.TxStore {
		flaky = &flakyTxStore{Memory: mem}
		return flaky
	})
	o := f.accepted(t)
	ctx := context.Background()

	flaky.failTx.Store(true)
	_, err := f.svc.RecordPayment(ctx, o.ID, offer.PaymentInput{Amount: 20000, IdempotencyKey: "k1"})
	require.Error(t, err)
	flaky.failTx.Store(false)

	f.advance(time.Minute)
	_, err = f.svc.RecordPayment(ctx, o.ID, offer.PaymentInput{Amount: 30000, IdempotencyKey: "k2"})
	require.NoError(t, err)

	f.advance(time.Minute)
	receipt, err := f.svc.RecordPayment(ctx, o.ID, offer.PaymentInput{Amount: 20000, IdempotencyKey: "k1"})
	require.NoError(t, err)

	assert.True(t, receipt.Duplicate)
	assert.Nil(t, receipt.Recompute)
	assert.Equal(t, 1, unresolvedCount(t, f, o.ID))
}

func TestRecordPayment_NothingAcceptedAfterSettlement(t *testing.T) {
	// GIVEN: An accepted offer with 100000 outstanding
	// WHEN: Three 50000 payments race
	// THEN: Two settle the offer, the third is refused, the ledger never exceeds the total

	f := newFixture(t)
	o := f.accepted(t)
	ctx := context.Background()

	var (
		wg       sync.WaitGroup
		accepted atomic.Int32
		refused  atomic.Int32
	)
	for i := 0; i < 3; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.svc.RecordPayment(ctx, o.ID, offer.PaymentInput{Amount: 50000})
			switch {
			case err == nil:
				accepted.Add(1)
			case errors.Is(err, offer.ErrPreconditionFailed):
				refused.Add(1)
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(2), accepted.Load())
	assert.Equal(t, int32(1), refused.Load())
	status, err := f.svc.PaymentStatus(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, offer.Amount(100000), status.TotalPaid)
	assert.Equal(t, offer.StatusResolved, status.Offer.Status)
}

func TestNotifications_SinkFailureNeverFailsTheOperation(t *testing.T) {
	// GIVEN: A notification sink that rejects every message
	// WHEN: An offer is created, accepted and paid in full
	// THEN: Every operation succeeds and its state is persisted

	sink := &failingSink{}
	f := newFixtureWith(t, func(_ *store.Memory, deps *offer.Deps) offer.TxStore {
		deps.Sink = sink
		return nil
	})
	ctx := context.Background()

	o, err := f.svc.Create(ctx, f.draft())
	require.NoError(t, err)
	assert.True(t, f.enquiryApproved(t))

	o, err = f.svc.Accept(ctx, o.ID, "buyer-1", "sig-001")
	require.NoError(t, err)
	assert.Equal(t, offer.StatusInterested, o.Status)

	receipt, err := f.svc.RecordPayment(ctx, o.ID, offer.PaymentInput{Amount: 100000, IdempotencyKey: "pay-1"})
	require.NoError(t, err)
	assert.False(t, receipt.Duplicate)

	stored, err := f.svc.Get(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, offer.StatusResolved, stored.Status)
	assert.Equal(t, "sig-001", stored.Signature)
	assert.Positive(t, sink.calls.Load())
}
