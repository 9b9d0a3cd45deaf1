// Package store provides in-memory implementations of the offer stores.
package store

import (
	"context"
	"sort"
	"sync"

	"github.com/warp/offer-engine/offer"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

// Memory keeps offers, next-payment records, the payment ledger and the
// property/enquiry/user directory in maps. Every read returns a copy.
type Memory struct {
	mu sync.RWMutex

	offers       map[offer.OfferID]*offer.Offer
	offerOrder   []offer.OfferID
	nextPayments map[offer.OfferID][]offer.NextPayment
	payments     map[offer.OfferID][]offer.Payment
	idempotency  map[string]offer.Payment

	properties map[offer.PropertyID]offer.Property
	enquiries  map[offer.EnquiryID]offer.Enquiry
	users      map[offer.UserID]offer.Party
}

func NewMemory() *Memory {
	return &Memory{
		offers:       make(map[offer.OfferID]*offer.Offer),
		nextPayments: make(map[offer.OfferID][]offer.NextPayment),
		payments:     make(map[offer.OfferID][]offer.Payment),
		idempotency:  make(map[string]offer.Payment),
		properties:   make(map[offer.PropertyID]offer.Property),
		enquiries:    make(map[offer.EnquiryID]offer.Enquiry),
		users:        make(map[offer.UserID]offer.Party),
	}
}

// =============================================================================
// OFFERS
// =============================================================================

func (m *Memory) CreateOffer(_ context.Context, o *offer.Offer) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.createOfferLocked(o)
}

func (m *Memory) createOfferLocked(o *offer.Offer) error {
	if _, ok := m.offers[o.ID]; ok {
		return offer.ErrConcurrentModification
	}
	m.offers[o.ID] = o.Clone()
	m.offerOrder = append(m.offerOrder, o.ID)
	return nil
}

func (m *Memory) GetOffer(_ context.Context, id offer.OfferID) (*offer.Offer, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.getOfferLocked(id)
}

func (m *Memory) getOfferLocked(id offer.OfferID) (*offer.Offer, error) {
	o, ok := m.offers[id]
	if !ok {
		return nil, &offer.NotFoundError{Kind: "offer", ID: string(id)}
	}
	return o.Clone(), nil
}

func (m *Memory) UpdateOffer(_ context.Context, o *offer.Offer, expected offer.Status) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.updateOfferLocked(o, expected)
}

func (m *Memory) updateOfferLocked(o *offer.Offer, expected offer.Status) error {
	current, ok := m.offers[o.ID]
	if !ok {
		return &offer.NotFoundError{Kind: "offer", ID: string(o.ID)}
	}
	if current.Status != expected {
		return offer.ErrConcurrentModification
	}
	m.offers[o.ID] = o.Clone()
	return nil
}

func (m *Memory) ListOffers(_ context.Context, filter offer.OfferFilter) ([]*offer.Offer, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.listOffersLocked(filter), nil
}

func (m *Memory) listOffersLocked(filter offer.OfferFilter) []*offer.Offer {
	var result []*offer.Offer
	for _, id := range m.offerOrder {
		o := m.offers[id]
		if matches(o, filter) {
			result = append(result, o.Clone())
		}
	}
	return result
}

func matches(o *offer.Offer, f offer.OfferFilter) bool {
	if f.BuyerID != nil && o.BuyerID != *f.BuyerID {
		return false
	}
	if f.SellerID != nil && o.SellerID != *f.SellerID {
		return false
	}
	if f.PropertyID != nil && o.PropertyID != *f.PropertyID {
		return false
	}
	if len(f.Statuses) == 0 {
		return true
	}
	for _, s := range f.Statuses {
		if o.Status == s {
			return true
		}
	}
	return false
}

func (m *Memory) CountOffersForProperty(_ context.Context, propertyID offer.PropertyID) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.countOffersLocked(propertyID), nil
}

func (m *Memory) countOffersLocked(propertyID offer.PropertyID) int {
	n := 0
	for _, o := range m.offers {
		if o.PropertyID == propertyID {
			n++
		}
	}
	return n
}

func (m *Memory) ActiveOfferForEnquiry(_ context.Context, enquiryID offer.EnquiryID) (*offer.Offer, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.activeOfferLocked(enquiryID), nil
}

func (m *Memory) activeOfferLocked(enquiryID offer.EnquiryID) *offer.Offer {
	for _, id := range m.offerOrder {
		o := m.offers[id]
		if o.EnquiryID != enquiryID {
			continue
		}
		if o.Status != offer.StatusCancelled && o.Status != offer.StatusRejected {
			return o.Clone()
		}
	}
	return nil
}

// =============================================================================
// NEXT PAYMENTS
// =============================================================================

func (m *Memory) ActiveNextPayment(_ context.Context, offerID offer.OfferID) (*offer.NextPayment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.activeNextPaymentLocked(offerID), nil
}

func (m *Memory) activeNextPaymentLocked(offerID offer.OfferID) *offer.NextPayment {
	for _, np := range m.nextPayments[offerID] {
		if !np.Resolved {
			c := np
			return &c
		}
	}
	return nil
}

func (m *Memory) ResolveNextPayment(_ context.Context, np *offer.NextPayment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.resolveNextPaymentLocked(np)
}

func (m *Memory) resolveNextPaymentLocked(np *offer.NextPayment) error {
	records := m.nextPayments[np.OfferID]
	for i := range records {
		if records[i].ID != np.ID {
			continue
		}
		if records[i].Resolved {
			return offer.ErrConcurrentModification
		}
		records[i] = *np
		records[i].Resolved = true
		return nil
	}
	return &offer.NotFoundError{Kind: "next payment", ID: string(np.ID)}
}

func (m *Memory) InsertNextPayment(_ context.Context, np *offer.NextPayment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.insertNextPaymentLocked(np)
}

func (m *Memory) insertNextPaymentLocked(np *offer.NextPayment) error {
	if !np.Resolved && m.activeNextPaymentLocked(np.OfferID) != nil {
		return offer.ErrConcurrentModification
	}
	m.nextPayments[np.OfferID] = append(m.nextPayments[np.OfferID], *np)
	return nil
}

func (m *Memory) NextPaymentHistory(_ context.Context, offerID offer.OfferID) ([]offer.NextPayment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]offer.NextPayment{}, m.nextPayments[offerID]...), nil
}

func (m *Memory) UnresolvedNextPaymentsDueOn(_ context.Context, dates []offer.Date) ([]offer.NextPayment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []offer.NextPayment
	for _, records := range m.nextPayments {
		for _, np := range records {
			if np.Resolved {
				continue
			}
			for _, d := range dates {
				if np.ExpiresOn.Equal(d) {
					result = append(result, np)
					break
				}
			}
		}
	}
	sort.Slice(result, func(i, j int) bool {
		if !result[i].ExpiresOn.Equal(result[j].ExpiresOn) {
			return result[i].ExpiresOn.Before(result[j].ExpiresOn)
		}
		return result[i].OfferID < result[j].OfferID
	})
	return result, nil
}

// =============================================================================
// PAYMENT LEDGER - Append-only
// =============================================================================

func (m *Memory) AppendPayment(_ context.Context, p offer.Payment) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if p.IdempotencyKey != "" {
		if _, ok := m.idempotency[p.IdempotencyKey]; ok {
			return offer.ErrDuplicateIdempotencyKey
		}
		m.idempotency[p.IdempotencyKey] = p
	}

	// Keep PaidAt order: binary search for the insertion point
	ps := m.payments[p.OfferID]
	i := sort.Search(len(ps), func(i int) bool {
		return ps[i].PaidAt.After(p.PaidAt)
	})
	ps = append(ps, offer.Payment{})
	copy(ps[i+1:], ps[i:])
	ps[i] = p
	m.payments[p.OfferID] = ps
	return nil
}

func (m *Memory) PaymentByIdempotencyKey(_ context.Context, key string) (*offer.Payment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.idempotency[key]
	if !ok {
		return nil, nil
	}
	return &p, nil
}

func (m *Memory) Payments(_ context.Context, offerID offer.OfferID) ([]offer.Payment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]offer.Payment{}, m.payments[offerID]...), nil
}

func (m *Memory) SumPayments(_ context.Context, offerID offer.OfferID) (offer.Amount, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var sum offer.Amount
	for _, p := range m.payments[offerID] {
		sum += p.Amount
	}
	return sum, nil
}

// =============================================================================
// DIRECTORY - Properties, enquiries, users
// =============================================================================

func (m *Memory) SaveProperty(_ context.Context, p *offer.Property) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.properties[p.ID] = *p
	return nil
}

func (m *Memory) GetProperty(_ context.Context, id offer.PropertyID) (*offer.Property, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.properties[id]
	if !ok {
		return nil, &offer.NotFoundError{Kind: "property", ID: string(id)}
	}
	return &p, nil
}

func (m *Memory) SaveEnquiry(_ context.Context, e *offer.Enquiry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.enquiries[e.ID] = *e
	return nil
}

func (m *Memory) GetEnquiry(_ context.Context, id offer.EnquiryID) (*offer.Enquiry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.getEnquiryLocked(id)
}

func (m *Memory) getEnquiryLocked(id offer.EnquiryID) (*offer.Enquiry, error) {
	e, ok := m.enquiries[id]
	if !ok {
		return nil, &offer.NotFoundError{Kind: "enquiry", ID: string(id)}
	}
	return &e, nil
}

func (m *Memory) SetEnquiryApproved(_ context.Context, id offer.EnquiryID, approved bool, by offer.UserID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.setEnquiryApprovedLocked(id, approved, by)
}

func (m *Memory) setEnquiryApprovedLocked(id offer.EnquiryID, approved bool, by offer.UserID) error {
	e, ok := m.enquiries[id]
	if !ok {
		return &offer.NotFoundError{Kind: "enquiry", ID: string(id)}
	}
	e.Approved = approved
	if approved {
		e.ApprovedBy = &by
	} else {
		e.ApprovedBy = nil
	}
	m.enquiries[id] = e
	return nil
}

func (m *Memory) SaveUser(_ context.Context, p *offer.Party) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.users[p.ID] = *p
	return nil
}

func (m *Memory) GetUser(_ context.Context, id offer.UserID) (*offer.Party, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.users[id]
	if !ok {
		return nil, &offer.NotFoundError{Kind: "user", ID: string(id)}
	}
	return &p, nil
}

// =============================================================================
// TRANSACTIONS
// =============================================================================

// WithTx executes fn within a transaction.
// For memory store, this is simulated with a snapshot + rollback on error.
func (m *Memory) WithTx(ctx context.Context, fn func(offer.Store) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	snapshot := m.snapshot()
	if err := fn(&txMemoryView{parent: m}); err != nil {
		m.restore(snapshot)
		return err
	}
	return nil
}

type memorySnapshot struct {
	offers       map[offer.OfferID]*offer.Offer
	offerOrder   []offer.OfferID
	nextPayments map[offer.OfferID][]offer.NextPayment
	enquiries    map[offer.EnquiryID]offer.Enquiry
}

func (m *Memory) snapshot() memorySnapshot {
	s := memorySnapshot{
		offers:       make(map[offer.OfferID]*offer.Offer, len(m.offers)),
		offerOrder:   append([]offer.OfferID{}, m.offerOrder...),
		nextPayments: make(map[offer.OfferID][]offer.NextPayment, len(m.nextPayments)),
		enquiries:    make(map[offer.EnquiryID]offer.Enquiry, len(m.enquiries)),
	}
	for k, v := range m.offers {
		s.offers[k] = v.Clone()
	}
	for k, v := range m.nextPayments {
		s.nextPayments[k] = append([]offer.NextPayment{}, v...)
	}
	for k, v := range m.enquiries {
		s.enquiries[k] = v
	}
	return s
}

func (m *Memory) restore(s memorySnapshot) {
	m.offers = s.offers
	m.offerOrder = s.offerOrder
	m.nextPayments = s.nextPayments
	m.enquiries = s.enquiries
}

// txMemoryView runs against the parent while WithTx holds its lock. It also
// owns enquiry approval so compensating actions roll back with the offer.
type txMemoryView struct {
	parent *Memory
}

func (tv *txMemoryView) CreateOffer(_ context.Context, o *offer.Offer) error {
	return tv.parent.createOfferLocked(o)
}

func (tv *txMemoryView) GetOffer(_ context.Context, id offer.OfferID) (*offer.Offer, error) {
	return tv.parent.getOfferLocked(id)
}

func (tv *txMemoryView) UpdateOffer(_ context.Context, o *offer.Offer, expected offer.Status) error {
	return tv.parent.updateOfferLocked(o, expected)
}

func (tv *txMemoryView) ListOffers(_ context.Context, filter offer.OfferFilter) ([]*offer.Offer, error) {
	return tv.parent.listOffersLocked(filter), nil
}

func (tv *txMemoryView) CountOffersForProperty(_ context.Context, propertyID offer.PropertyID) (int, error) {
	return tv.parent.countOffersLocked(propertyID), nil
}

func (tv *txMemoryView) ActiveOfferForEnquiry(_ context.Context, enquiryID offer.EnquiryID) (*offer.Offer, error) {
	return tv.parent.activeOfferLocked(enquiryID), nil
}

func (tv *txMemoryView) ActiveNextPayment(_ context.Context, offerID offer.OfferID) (*offer.NextPayment, error) {
	return tv.parent.activeNextPaymentLocked(offerID), nil
}

func (tv *txMemoryView) ResolveNextPayment(_ context.Context, np *offer.NextPayment) error {
	return tv.parent.resolveNextPaymentLocked(np)
}

func (tv *txMemoryView) InsertNextPayment(_ context.Context, np *offer.NextPayment) error {
	return tv.parent.insertNextPaymentLocked(np)
}

func (tv *txMemoryView) NextPaymentHistory(_ context.Context, offerID offer.OfferID) ([]offer.NextPayment, error) {
	return append([]offer.NextPayment{}, tv.parent.nextPayments[offerID]...), nil
}

func (tv *txMemoryView) UnresolvedNextPaymentsDueOn(_ context.Context, dates []offer.Date) ([]offer.NextPayment, error) {
	var result []offer.NextPayment
	for _, records := range tv.parent.nextPayments {
		for _, np := range records {
			for _, d := range dates {
				if !np.Resolved && np.ExpiresOn.Equal(d) {
					result = append(result, np)
					break
				}
			}
		}
	}
	return result, nil
}

func (tv *txMemoryView) GetEnquiry(_ context.Context, id offer.EnquiryID) (*offer.Enquiry, error) {
	return tv.parent.getEnquiryLocked(id)
}

func (tv *txMemoryView) SetEnquiryApproved(_ context.Context, id offer.EnquiryID, approved bool, by offer.UserID) error {
	return tv.parent.setEnquiryApprovedLocked(id, approved, by)
}

var (
	_ offer.TxStore        = (*Memory)(nil)
	_ offer.PaymentStore   = (*Memory)(nil)
	_ offer.PropertyLookup = (*Memory)(nil)
	_ offer.EnquiryLookup  = (*Memory)(nil)
	_ offer.UserLookup     = (*Memory)(nil)
	_ offer.EnquiryLookup  = (*txMemoryView)(nil)
)
