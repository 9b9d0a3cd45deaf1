/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. These types decouple
  the offer domain model from the external API contract.

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients

DATES:
  Calendar dates (hand-over, installment due dates) are "2006-01-02".
  Instants (expiry, response, creation) are RFC 3339.

AMOUNTS:
  Integers in the offer's single currency.

SEE ALSO:
  - handlers.go: Uses these types
*/
package api

import (
	"time"

	"github.com/warp/offer-engine/offer"
)

// =============================================================================
// DIRECTORY (collaborator seeding)
// =============================================================================

type PropertyRequest struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	HouseType string `json:"house_type"`
	Price     int64  `json:"price"`
	SellerID  string `json:"seller_id"`
}

type UserRequest struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email"`
	Code  string `json:"code,omitempty"`
}

type EnquiryRequest struct {
	ID         string `json:"id"`
	BuyerID    string `json:"buyer_id"`
	PropertyID string `json:"property_id"`
}

// =============================================================================
// OFFER
// =============================================================================

type CreateOfferRequest struct {
	EnquiryID          string    `json:"enquiry_id"`
	PropertyID         string    `json:"property_id"`
	TotalAmountPayable int64     `json:"total_amount_payable"`
	InitialPayment     int64     `json:"initial_payment"`
	InitialPaymentDate string    `json:"initial_payment_date,omitempty"`
	PeriodicPayment    int64     `json:"periodic_payment"`
	PaymentFrequency   int       `json:"payment_frequency"`
	HandOverDate       string    `json:"hand_over_date"`
	Expires            time.Time `json:"expires"`
}

// AcceptOfferRequest carries either a signature reference or the raw
// signature image (base64) to be stored in object storage.
type AcceptOfferRequest struct {
	Signature     string `json:"signature,omitempty"`
	SignatureData []byte `json:"signature_data,omitempty"`
}

type ReactivateOfferRequest struct {
	Expires time.Time `json:"expires"`
}

type OfferDTO struct {
	ID                 string          `json:"id"`
	ReferenceCode      string          `json:"reference_code"`
	Status             string          `json:"status"`
	BuyerID            string          `json:"buyer_id"`
	SellerID           string          `json:"seller_id"`
	EnquiryID          string          `json:"enquiry_id"`
	PropertyID         string          `json:"property_id"`
	TotalAmountPayable int64           `json:"total_amount_payable"`
	InitialPayment     int64           `json:"initial_payment"`
	InitialPaymentDate string          `json:"initial_payment_date,omitempty"`
	PeriodicPayment    int64           `json:"periodic_payment"`
	PaymentFrequency   int             `json:"payment_frequency"`
	HandOverDate       string          `json:"hand_over_date"`
	Expires            time.Time       `json:"expires"`
	Expired            bool            `json:"expired"`
	ContributionReward int64           `json:"contribution_reward"`
	Signature          string          `json:"signature,omitempty"`
	ResponseDate       *time.Time      `json:"response_date,omitempty"`
	DateAssigned       *time.Time      `json:"date_assigned,omitempty"`
	Concerns           []offer.Concern `json:"concerns"`
	PendingConcerns    int             `json:"pending_concerns"`
	CreatedAt          time.Time       `json:"created_at"`
	UpdatedAt          time.Time       `json:"updated_at"`
}

// =============================================================================
// CONCERNS
// =============================================================================

type RaiseConcernRequest struct {
	Question string `json:"question"`
}

type ResolveConcernRequest struct {
	Response string `json:"response"`
}

type SignatureURLDTO struct {
	Signature string    `json:"signature"`
	URL       string    `json:"url"`
	ExpiresAt time.Time `json:"expires_at"`
}

type ConcernResponse struct {
	Offer   OfferDTO      `json:"offer"`
	Concern offer.Concern `json:"concern"`
}

// =============================================================================
// SCHEDULE & PAYMENTS
// =============================================================================

type ScheduleEntryDTO struct {
	Date   string `json:"date"`
	Amount int64  `json:"amount"`
}

type ScheduleDTO struct {
	OfferID string             `json:"offer_id"`
	Total   int64              `json:"total"`
	Entries []ScheduleEntryDTO `json:"entries"`
}

type RecordPaymentRequest struct {
	Amount         int64     `json:"amount"`
	PaidAt         time.Time `json:"paid_at,omitempty"`
	Reference      string    `json:"reference,omitempty"`
	IdempotencyKey string    `json:"idempotency_key,omitempty"`
}

type RecomputeRequest struct {
	TransactionID string `json:"transaction_id,omitempty"`
}

type PaymentDTO struct {
	ID             string    `json:"id"`
	Amount         int64     `json:"amount"`
	PaidAt         time.Time `json:"paid_at"`
	Reference      string    `json:"reference,omitempty"`
	IdempotencyKey string    `json:"idempotency_key,omitempty"`
}

type NextPaymentDTO struct {
	ID                     string     `json:"id"`
	ExpectedAmount         int64      `json:"expected_amount"`
	ExpiresOn              string     `json:"expires_on"`
	Resolved               bool       `json:"resolved"`
	ResolvedDate           *time.Time `json:"resolved_date,omitempty"`
	ResolvedViaTransaction bool       `json:"resolved_via_transaction"`
	TransactionID          string     `json:"transaction_id,omitempty"`
	CreatedAt              time.Time  `json:"created_at"`
}

type RecomputeDTO struct {
	Status         string          `json:"status"`
	TotalPaid      int64           `json:"total_paid"`
	ExpectedAmount int64           `json:"expected_amount"`
	Settled        bool            `json:"settled"`
	Resolved       *NextPaymentDTO `json:"resolved,omitempty"`
	Next           *NextPaymentDTO `json:"next,omitempty"`
}

type PaymentReceiptDTO struct {
	Payment   PaymentDTO    `json:"payment"`
	Duplicate bool          `json:"duplicate"`
	Recompute *RecomputeDTO `json:"recompute,omitempty"`
}

type PaymentStatusDTO struct {
	OfferID     string           `json:"offer_id"`
	Status      string           `json:"status"`
	TotalPaid   int64            `json:"total_paid"`
	Outstanding int64            `json:"outstanding"`
	Active      *NextPaymentDTO  `json:"active"`
	History     []NextPaymentDTO `json:"history"`
	Payments    []PaymentDTO     `json:"payments"`
}

// =============================================================================
// REMINDERS
// =============================================================================

type RunRemindersRequest struct {
	Now *time.Time `json:"now,omitempty"`
}

type ReminderDTO struct {
	OfferID        string `json:"offer_id"`
	BuyerID        string `json:"buyer_id"`
	DaysBefore     int    `json:"days_before"`
	ExpectedAmount int64  `json:"expected_amount"`
	DueDate        string `json:"due_date"`
}

// =============================================================================
// SCENARIOS
// =============================================================================

type ReminderScheduleDTO struct {
	Enabled       bool       `json:"enabled"`
	CheckInterval string     `json:"check_interval,omitempty"`
	LastSwept     string     `json:"last_swept,omitempty"`
	NextRun       *time.Time `json:"next_run,omitempty"`
}

type ScenarioDTO struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

type LoadScenarioResponse struct {
	Scenario ScenarioDTO `json:"scenario"`
	OfferIDs []string    `json:"offer_ids"`
}

// ErrorResponse is the standard error response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code,omitempty"`
	Details any    `json:"details,omitempty"`
}

// =============================================================================
// CONVERSION HELPERS
// =============================================================================

func toOfferDTO(o *offer.Offer, now time.Time) OfferDTO {
	dto := OfferDTO{
		ID:                 string(o.ID),
		ReferenceCode:      o.ReferenceCode,
		Status:             string(o.Status),
		BuyerID:            string(o.BuyerID),
		SellerID:           string(o.SellerID),
		EnquiryID:          string(o.EnquiryID),
		PropertyID:         string(o.PropertyID),
		TotalAmountPayable: int64(o.TotalAmountPayable),
		InitialPayment:     int64(o.InitialPayment),
		PeriodicPayment:    int64(o.PeriodicPayment),
		PaymentFrequency:   o.PaymentFrequency,
		HandOverDate:       o.HandOverDate.String(),
		Expires:            o.Expires,
		Expired:            o.Status.IsOpen() && o.IsExpired(now),
		ContributionReward: int64(o.ContributionReward),
		Signature:          o.Signature,
		ResponseDate:       o.ResponseDate,
		DateAssigned:       o.DateAssigned,
		Concerns:           o.Concerns.Entries(),
		PendingConcerns:    o.Concerns.Pending(),
		CreatedAt:          o.CreatedAt,
		UpdatedAt:          o.UpdatedAt,
	}
	if !o.InitialPaymentDate.IsZero() {
		dto.InitialPaymentDate = o.InitialPaymentDate.String()
	}
	if dto.Concerns == nil {
		dto.Concerns = []offer.Concern{}
	}
	return dto
}

func toNextPaymentDTO(np *offer.NextPayment) *NextPaymentDTO {
	if np == nil {
		return nil
	}
	dto := &NextPaymentDTO{
		ID:                     string(np.ID),
		ExpectedAmount:         int64(np.ExpectedAmount),
		ExpiresOn:              np.ExpiresOn.String(),
		Resolved:               np.Resolved,
		ResolvedDate:           np.ResolvedDate,
		ResolvedViaTransaction: np.ResolvedViaTransaction,
		CreatedAt:              np.CreatedAt,
	}
	if np.TransactionID != nil {
		dto.TransactionID = string(*np.TransactionID)
	}
	return dto
}

func toPaymentDTO(p offer.Payment) PaymentDTO {
	return PaymentDTO{
		ID:             string(p.ID),
		Amount:         int64(p.Amount),
		PaidAt:         p.PaidAt,
		Reference:      p.Reference,
		IdempotencyKey: p.IdempotencyKey,
	}
}

func toRecomputeDTO(r *offer.RecomputeResult) *RecomputeDTO {
	if r == nil {
		return nil
	}
	return &RecomputeDTO{
		Status:         string(r.Offer.Status),
		TotalPaid:      int64(r.Due.TotalPaid),
		ExpectedAmount: int64(r.Due.ExpectedAmount),
		Settled:        r.Due.Settled,
		Resolved:       toNextPaymentDTO(r.Resolved),
		Next:           toNextPaymentDTO(r.Next),
	}
}

func toPaymentStatusDTO(st *offer.PaymentStatus) PaymentStatusDTO {
	outstanding := st.Offer.TotalAmountPayable - st.TotalPaid
	if outstanding < 0 {
		outstanding = 0
	}
	dto := PaymentStatusDTO{
		OfferID:     string(st.Offer.ID),
		Status:      string(st.Offer.Status),
		TotalPaid:   int64(st.TotalPaid),
		Outstanding: int64(outstanding),
		Active:      toNextPaymentDTO(st.Active),
		History:     make([]NextPaymentDTO, 0, len(st.History)),
		Payments:    make([]PaymentDTO, 0, len(st.Payments)),
	}
	for i := range st.History {
		dto.History = append(dto.History, *toNextPaymentDTO(&st.History[i]))
	}
	for _, p := range st.Payments {
		dto.Payments = append(dto.Payments, toPaymentDTO(p))
	}
	return dto
}

func toScheduleDTO(o *offer.Offer, entries []offer.ScheduleEntry) ScheduleDTO {
	dto := ScheduleDTO{
		OfferID: string(o.ID),
		Total:   int64(offer.ScheduleTotal(entries)),
		Entries: make([]ScheduleEntryDTO, 0, len(entries)),
	}
	for _, e := range entries {
		dto.Entries = append(dto.Entries, ScheduleEntryDTO{Date: e.Date.String(), Amount: int64(e.Amount)})
	}
	return dto
}
