/*
handlers.go - HTTP API handlers for the offer engine

PURPOSE:
  Exposes the offer lifecycle and payment schedule engine via REST API.
  Handles HTTP request/response and JSON serialization, and delegates to
  offer.Service for everything else.

ENDPOINTS:
  Directory (collaborator seeding):
    POST   /api/properties                      Register property unit
    POST   /api/users                           Register buyer/seller
    POST   /api/enquiries                       Register enquiry

  Offers:
    GET    /api/offers                          List (buyer_id, seller_id, property_id, status)
    POST   /api/offers                          Create offer (caller is the seller)
    GET    /api/offers/{id}                     Offer projection
    GET    /api/offers/{id}/schedule            Schedule JSON; ?format=xlsx for a workbook
    POST   /api/offers/{id}/accept              Buyer accepts (signature ref or image)
    GET    /api/offers/{id}/signature           Download link for an uploaded signature
    POST   /api/offers/{id}/reject              Buyer or seller rejects
    POST   /api/offers/{id}/reactivate          Seller revives with a new expiry
    POST   /api/offers/{id}/assign              Confirm assignment
    POST   /api/offers/{id}/allocate            Confirm allocation
    POST   /api/offers/{id}/cancel              Seller withdraws

  Concerns:
    POST   /api/offers/{id}/concerns            Buyer raises a concern
    POST   /api/offers/{id}/concerns/{cid}/resolve  Seller responds

  Payments:
    POST   /api/offers/{id}/payments            Record confirmed payment
    POST   /api/offers/{id}/recompute           Re-derive next payment
    GET    /api/offers/{id}/next-payment        Active next payment + history

  Admin:
    GET    /api/admin/reminders                 Background sweep state
    POST   /api/admin/reminders/run             Run the reminder sweep now

CALLER IDENTITY:
  The X-User-ID header names the caller. Authentication happens in front of
  this service; ownership checks happen in offer.Service.

ERROR HANDLING:
  Errors are returned as JSON with appropriate HTTP status:
  - 400: Validation errors, invalid input
  - 401: Missing caller identity
  - 403: Caller is not the buyer/seller the operation requires
  - 404: Offer, enquiry, property or concern not found
  - 412: Offer state doesn't allow the operation
  - 500: Internal errors

SEE ALSO:
  - dto.go: Request/response data structures
  - scenarios.go: Demo scenario loaders
  - server.go: Router setup and middleware
*/
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/warp/offer-engine/export"
	"github.com/warp/offer-engine/notify"
	"github.com/warp/offer-engine/offer"
)

// Directory registers the collaborator records offers are built on.
type Directory interface {
	SaveProperty(ctx context.Context, p *offer.Property) error
	SaveEnquiry(ctx context.Context, e *offer.Enquiry) error
	SaveUser(ctx context.Context, u *offer.Party) error
}

// SignatureStore keeps uploaded signature images and returns their key.
type SignatureStore interface {
	Store(ctx context.Context, offerID offer.OfferID, data []byte) (string, error)
	// Holds reports whether key names an image stored for the offer.
	Holds(offerID offer.OfferID, key string) bool
	PresignedURL(ctx context.Context, key string, ttl time.Duration) (string, error)
}

// signatureURLTTL bounds how long a signature download link stays valid.
const signatureURLTTL = 15 * time.Minute

// Handler holds all HTTP handler dependencies.
type Handler struct {
	Service    *offer.Service
	Directory  Directory
	Signatures SignatureStore // nil disables signature uploads
	Hub        *notify.Hub    // nil disables /ws
	Scheduler  *ReminderScheduler

	currentScenario string
}

// NewHandler creates a new handler.
func NewHandler(svc *offer.Service, dir Directory) *Handler {
	return &Handler{
		Service:   svc,
		Directory: dir,
	}
}

const callerHeader = "X-User-ID"

// =============================================================================
// DIRECTORY ENDPOINTS
// =============================================================================

// CreateProperty registers a property unit.
func (h *Handler) CreateProperty(w http.ResponseWriter, r *http.Request) {
	var req PropertyRequest
	if !decode(w, r, &req) {
		return
	}
	if req.ID == "" || req.SellerID == "" || req.Name == "" {
		writeError(w, http.StatusBadRequest, "id, name and seller_id are required", nil)
		return
	}
	if req.Price <= 0 {
		writeError(w, http.StatusBadRequest, "price must be positive", nil)
		return
	}

	p := &offer.Property{
		ID:        offer.PropertyID(req.ID),
		Name:      req.Name,
		HouseType: req.HouseType,
		Price:     offer.Amount(req.Price),
		SellerID:  offer.UserID(req.SellerID),
	}
	if err := h.Directory.SaveProperty(r.Context(), p); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to save property", err)
		return
	}
	writeJSON(w, http.StatusCreated, req)
}

// CreateUser registers a buyer or seller.
func (h *Handler) CreateUser(w http.ResponseWriter, r *http.Request) {
	var req UserRequest
	if !decode(w, r, &req) {
		return
	}
	if req.ID == "" || req.Name == "" {
		writeError(w, http.StatusBadRequest, "id and name are required", nil)
		return
	}

	u := &offer.Party{
		ID:    offer.UserID(req.ID),
		Name:  req.Name,
		Email: req.Email,
		Code:  req.Code,
	}
	if err := h.Directory.SaveUser(r.Context(), u); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to save user", err)
		return
	}
	writeJSON(w, http.StatusCreated, req)
}

// CreateEnquiry registers a buyer's enquiry about a property.
func (h *Handler) CreateEnquiry(w http.ResponseWriter, r *http.Request) {
	var req EnquiryRequest
	if !decode(w, r, &req) {
		return
	}
	if req.ID == "" || req.BuyerID == "" || req.PropertyID == "" {
		writeError(w, http.StatusBadRequest, "id, buyer_id and property_id are required", nil)
		return
	}

	e := &offer.Enquiry{
		ID:         offer.EnquiryID(req.ID),
		BuyerID:    offer.UserID(req.BuyerID),
		PropertyID: offer.PropertyID(req.PropertyID),
	}
	if err := h.Directory.SaveEnquiry(r.Context(), e); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to save enquiry", err)
		return
	}
	writeJSON(w, http.StatusCreated, req)
}

// =============================================================================
// OFFER ENDPOINTS
// =============================================================================

// ListOffers returns offers matching the query filters.
func (h *Handler) ListOffers(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	var filter offer.OfferFilter
	if v := q.Get("buyer_id"); v != "" {
		id := offer.UserID(v)
		filter.BuyerID = &id
	}
	if v := q.Get("seller_id"); v != "" {
		id := offer.UserID(v)
		filter.SellerID = &id
	}
	if v := q.Get("property_id"); v != "" {
		id := offer.PropertyID(v)
		filter.PropertyID = &id
	}
	for _, v := range q["status"] {
		s := offer.Status(v)
		if !s.Valid() {
			writeError(w, http.StatusBadRequest, "Invalid status", fmt.Errorf("unknown status %q", v))
			return
		}
		filter.Statuses = append(filter.Statuses, s)
	}

	offers, err := h.Service.List(r.Context(), filter)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	now := h.now()
	result := make([]OfferDTO, 0, len(offers))
	for _, o := range offers {
		result = append(result, toOfferDTO(o, now))
	}
	writeJSON(w, http.StatusOK, result)
}

// CreateOffer issues a new offer. The caller is the seller.
func (h *Handler) CreateOffer(w http.ResponseWriter, r *http.Request) {
	caller, ok := requireCaller(w, r)
	if !ok {
		return
	}
	var req CreateOfferRequest
	if !decode(w, r, &req) {
		return
	}

	handOver, err := offer.ParseDate(req.HandOverDate)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid hand_over_date", err)
		return
	}
	var initialDate offer.Date
	if req.InitialPaymentDate != "" {
		if initialDate, err = offer.ParseDate(req.InitialPaymentDate); err != nil {
			writeError(w, http.StatusBadRequest, "Invalid initial_payment_date", err)
			return
		}
	}

	o, err := h.Service.Create(r.Context(), offer.Draft{
		SellerID:           caller,
		EnquiryID:          offer.EnquiryID(req.EnquiryID),
		PropertyID:         offer.PropertyID(req.PropertyID),
		TotalAmountPayable: offer.Amount(req.TotalAmountPayable),
		InitialPayment:     offer.Amount(req.InitialPayment),
		InitialPaymentDate: initialDate,
		PeriodicPayment:    offer.Amount(req.PeriodicPayment),
		PaymentFrequency:   req.PaymentFrequency,
		HandOverDate:       handOver,
		Expires:            req.Expires,
	})
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toOfferDTO(o, h.now()))
}

// GetOffer returns a single offer.
func (h *Handler) GetOffer(w http.ResponseWriter, r *http.Request) {
	o, err := h.Service.Get(r.Context(), offerID(r))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toOfferDTO(o, h.now()))
}

// GetSchedule returns the payment schedule, as JSON or as an xlsx workbook.
func (h *Handler) GetSchedule(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	o, entries, err := h.Service.Schedule(ctx, offerID(r))
	if err != nil {
		writeServiceError(w, err)
		return
	}

	if r.URL.Query().Get("format") != "xlsx" {
		writeJSON(w, http.StatusOK, toScheduleDTO(o, entries))
		return
	}

	status, err := h.Service.PaymentStatus(ctx, o.ID)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	data, err := export.ScheduleWorkbook(o, entries, status, offer.DateOf(h.now()))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to render workbook", err)
		return
	}
	w.Header().Set("Content-Type", export.ContentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", export.FileName(o)))
	w.WriteHeader(http.StatusOK)
	w.Write(data)
}

// AcceptOffer records the buyer's acceptance. A raw signature image is
// stored first and its object key becomes the offer's signature.
func (h *Handler) AcceptOffer(w http.ResponseWriter, r *http.Request) {
	caller, ok := requireCaller(w, r)
	if !ok {
		return
	}
	var req AcceptOfferRequest
	if !decode(w, r, &req) {
		return
	}

	ctx := r.Context()
	id := offerID(r)
	signature := req.Signature

	if len(req.SignatureData) > 0 {
		if h.Signatures == nil {
			writeError(w, http.StatusBadRequest, "Signature uploads are not enabled", nil)
			return
		}
		// Don't store uploads from someone who can't accept this offer
		o, err := h.Service.Get(ctx, id)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		if o.BuyerID != caller {
			writeServiceError(w, &offer.ForbiddenError{CallerID: caller, Role: "buyer"})
			return
		}
		key, err := h.Signatures.Store(ctx, id, req.SignatureData)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "Failed to store signature", err)
			return
		}
		signature = key
	}

	o, err := h.Service.Accept(ctx, id, caller, signature)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toOfferDTO(o, h.now()))
}

// GetSignature returns a short-lived download link for an uploaded
// signature. Only the offer's buyer and seller may fetch it.
func (h *Handler) GetSignature(w http.ResponseWriter, r *http.Request) {
	caller, ok := requireCaller(w, r)
	if !ok {
		return
	}
	ctx := r.Context()
	o, err := h.Service.Get(ctx, offerID(r))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	if caller != o.BuyerID && caller != o.SellerID {
		writeServiceError(w, &offer.ForbiddenError{CallerID: caller, Role: "buyer or seller"})
		return
	}
	if h.Signatures == nil || o.Signature == "" || !h.Signatures.Holds(o.ID, o.Signature) {
		writeError(w, http.StatusNotFound, "No stored signature for this offer", nil)
		return
	}

	url, err := h.Signatures.PresignedURL(ctx, o.Signature, signatureURLTTL)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to sign download link", err)
		return
	}
	writeJSON(w, http.StatusOK, SignatureURLDTO{
		Signature: o.Signature,
		URL:       url,
		ExpiresAt: h.now().Add(signatureURLTTL),
	})
}

func (h *Handler) RejectOffer(w http.ResponseWriter, r *http.Request) {
	caller, ok := requireCaller(w, r)
	if !ok {
		return
	}
	h.respondOffer(w)(h.Service.Reject(r.Context(), offerID(r), caller))
}

func (h *Handler) ReactivateOffer(w http.ResponseWriter, r *http.Request) {
	caller, ok := requireCaller(w, r)
	if !ok {
		return
	}
	var req ReactivateOfferRequest
	if !decode(w, r, &req) {
		return
	}
	h.respondOffer(w)(h.Service.Reactivate(r.Context(), offerID(r), caller, req.Expires))
}

func (h *Handler) AssignOffer(w http.ResponseWriter, r *http.Request) {
	h.respondOffer(w)(h.Service.Assign(r.Context(), offerID(r)))
}

func (h *Handler) AllocateOffer(w http.ResponseWriter, r *http.Request) {
	h.respondOffer(w)(h.Service.Allocate(r.Context(), offerID(r)))
}

func (h *Handler) CancelOffer(w http.ResponseWriter, r *http.Request) {
	caller, ok := requireCaller(w, r)
	if !ok {
		return
	}
	h.respondOffer(w)(h.Service.Cancel(r.Context(), offerID(r), caller))
}

// =============================================================================
// CONCERN ENDPOINTS
// =============================================================================

func (h *Handler) RaiseConcern(w http.ResponseWriter, r *http.Request) {
	caller, ok := requireCaller(w, r)
	if !ok {
		return
	}
	var req RaiseConcernRequest
	if !decode(w, r, &req) {
		return
	}

	o, c, err := h.Service.RaiseConcern(r.Context(), offerID(r), caller, req.Question)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, ConcernResponse{Offer: toOfferDTO(o, h.now()), Concern: c})
}

func (h *Handler) ResolveConcern(w http.ResponseWriter, r *http.Request) {
	caller, ok := requireCaller(w, r)
	if !ok {
		return
	}
	var req ResolveConcernRequest
	if !decode(w, r, &req) {
		return
	}

	concernID := offer.ConcernID(chi.URLParam(r, "cid"))
	o, c, err := h.Service.ResolveConcern(r.Context(), offerID(r), caller, concernID, req.Response)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ConcernResponse{Offer: toOfferDTO(o, h.now()), Concern: c})
}

// =============================================================================
// PAYMENT ENDPOINTS
// =============================================================================

// RecordPayment appends a confirmed payment and recomputes the next payment.
// A replayed idempotency key answers 200 with the original payment.
func (h *Handler) RecordPayment(w http.ResponseWriter, r *http.Request) {
	var req RecordPaymentRequest
	if !decode(w, r, &req) {
		return
	}
	if key := r.Header.Get("Idempotency-Key"); key != "" && req.IdempotencyKey == "" {
		req.IdempotencyKey = key
	}

	receipt, err := h.Service.RecordPayment(r.Context(), offerID(r), offer.PaymentInput{
		Amount:         offer.Amount(req.Amount),
		PaidAt:         req.PaidAt,
		Reference:      req.Reference,
		IdempotencyKey: req.IdempotencyKey,
	})
	if err != nil {
		writeServiceError(w, err)
		return
	}

	status := http.StatusCreated
	if receipt.Duplicate {
		status = http.StatusOK
	}
	writeJSON(w, status, PaymentReceiptDTO{
		Payment:   toPaymentDTO(receipt.Payment),
		Duplicate: receipt.Duplicate,
		Recompute: toRecomputeDTO(receipt.Recompute),
	})
}

func (h *Handler) Recompute(w http.ResponseWriter, r *http.Request) {
	var req RecomputeRequest
	if !decodeOptional(w, r, &req) {
		return
	}
	var txID *offer.PaymentID
	if req.TransactionID != "" {
		id := offer.PaymentID(req.TransactionID)
		txID = &id
	}

	result, err := h.Service.RecomputeNextPayment(r.Context(), offerID(r), txID)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toRecomputeDTO(result))
}

func (h *Handler) GetNextPayment(w http.ResponseWriter, r *http.Request) {
	st, err := h.Service.PaymentStatus(r.Context(), offerID(r))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toPaymentStatusDTO(st))
}

// =============================================================================
// ADMIN ENDPOINTS
// =============================================================================

// RunReminders runs the reminder sweep. The optional "now" lets operators
// replay a missed day.
func (h *Handler) RunReminders(w http.ResponseWriter, r *http.Request) {
	var req RunRemindersRequest
	if !decodeOptional(w, r, &req) {
		return
	}
	now := h.now()
	if req.Now != nil {
		now = *req.Now
	}

	reminders, err := h.Service.RunReminderSweep(r.Context(), now)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	result := make([]ReminderDTO, 0, len(reminders))
	for _, rm := range reminders {
		result = append(result, ReminderDTO{
			OfferID:        string(rm.OfferID),
			BuyerID:        string(rm.BuyerID),
			DaysBefore:     rm.DaysBefore,
			ExpectedAmount: int64(rm.NextPayment.ExpectedAmount),
			DueDate:        rm.NextPayment.ExpiresOn.String(),
		})
	}
	writeJSON(w, http.StatusOK, result)
}

// GetReminderSchedule reports the background sweep's state.
func (h *Handler) GetReminderSchedule(w http.ResponseWriter, r *http.Request) {
	if h.Scheduler == nil {
		writeJSON(w, http.StatusOK, ReminderScheduleDTO{})
		return
	}
	dto := ReminderScheduleDTO{
		Enabled:       h.Scheduler.Enabled,
		CheckInterval: h.Scheduler.CheckInterval.String(),
	}
	if last := h.Scheduler.LastSwept(); !last.IsZero() {
		dto.LastSwept = last.String()
	}
	if next := h.Scheduler.GetNextRunTime(); !next.IsZero() {
		dto.NextRun = &next
	}
	writeJSON(w, http.StatusOK, dto)
}

// =============================================================================
// WEBSOCKET
// =============================================================================

// ServeWebSocket upgrades the connection and streams the caller's
// notifications. Browsers can't set headers on a websocket handshake, so
// the user_id query parameter is accepted as well.
func (h *Handler) ServeWebSocket(w http.ResponseWriter, r *http.Request) {
	if h.Hub == nil {
		writeError(w, http.StatusNotFound, "Notifications are not enabled", nil)
		return
	}
	caller := offer.UserID(r.Header.Get(callerHeader))
	if caller == "" {
		caller = offer.UserID(r.URL.Query().Get("user_id"))
	}
	if caller == "" {
		writeError(w, http.StatusUnauthorized, "Missing caller identity", nil)
		return
	}
	h.Hub.HandleWebSocket(w, r, caller)
}

// =============================================================================
// HELPERS
// =============================================================================

func (h *Handler) now() time.Time {
	if h.Service.Clock != nil {
		return h.Service.Clock().UTC()
	}
	return time.Now().UTC()
}

func (h *Handler) respondOffer(w http.ResponseWriter) func(*offer.Offer, error) {
	return func(o *offer.Offer, err error) {
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, toOfferDTO(o, h.now()))
	}
}

func offerID(r *http.Request) offer.OfferID {
	return offer.OfferID(chi.URLParam(r, "id"))
}

func requireCaller(w http.ResponseWriter, r *http.Request) (offer.UserID, bool) {
	caller := r.Header.Get(callerHeader)
	if caller == "" {
		writeError(w, http.StatusUnauthorized, "Missing caller identity", fmt.Errorf("%s header is required", callerHeader))
		return "", false
	}
	return offer.UserID(caller), true
}

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return false
	}
	return true
}

// decodeOptional accepts an empty body.
func decodeOptional(w http.ResponseWriter, r *http.Request, v any) bool {
	err := json.NewDecoder(r.Body).Decode(v)
	if err == nil || errors.Is(err, io.EOF) {
		return true
	}
	writeError(w, http.StatusBadRequest, "Invalid request body", err)
	return false
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}

// writeServiceError maps the offer error taxonomy to HTTP status codes.
func writeServiceError(w http.ResponseWriter, err error) {
	var (
		status int
		code   string
	)
	switch {
	case errors.Is(err, offer.ErrNotFound):
		status, code = http.StatusNotFound, "not_found"
	case errors.Is(err, offer.ErrForbidden):
		status, code = http.StatusForbidden, "forbidden"
	case errors.Is(err, offer.ErrPreconditionFailed):
		status, code = http.StatusPreconditionFailed, "precondition_failed"
	case errors.Is(err, offer.ErrValidation):
		status, code = http.StatusBadRequest, "validation_failed"
	default:
		log.Printf("[API] internal error: %v", err)
		status, code = http.StatusInternalServerError, "internal"
	}

	resp := ErrorResponse{Error: err.Error(), Code: code}
	var ve *offer.ValidationError
	if errors.As(err, &ve) {
		resp.Details = map[string]string{"field": ve.Field, "reason": ve.Reason}
	}
	writeJSON(w, status, resp)
}
