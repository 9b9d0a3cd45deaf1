/*
scenarios.go - Demo scenario loaders for testing and demonstrations

PURPOSE:

	Provides pre-built scenarios that populate the store with realistic
	offers for demos. Every scenario goes through offer.Service, so the data
	is exactly what the real lifecycle would produce.

AVAILABLE SCENARIOS:

	fresh-offer:    Offer issued, waiting for the buyer
	payment-plan:   Accepted offer, initial payment made, installment overdue
	reminder-due:   Accepted offer whose next installment is due in 7 days
	fully-paid:     Accepted offer paid in full, resolved

HOW SCENARIOS WORK:
 1. Register the demo seller and buyer (stable IDs, reloads overwrite them)
 2. Register a fresh property and enquiry (IDs suffixed per load)
 3. Create the offer as the seller
 4. Optionally accept it and record payments

USAGE VIA API:

	POST /api/scenarios/load
	{"scenario_id": "payment-plan"}

NOTE:

	Scenarios add data; nothing is reset. Only use in development/demo
	environments.

SEE ALSO:
  - handlers.go: Offer endpoints
*/
package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/warp/offer-engine/offer"
)

// =============================================================================
// SCENARIO DEFINITIONS
// =============================================================================

var scenarios = []ScenarioDTO{
	{
		ID:          "fresh-offer",
		Name:        "Fresh Offer",
		Description: "Offer issued to the buyer, expiring in 7 days",
	},
	{
		ID:          "payment-plan",
		Name:        "Payment Plan",
		Description: "Accepted offer, initial payment made, first installment overdue",
	},
	{
		ID:          "reminder-due",
		Name:        "Reminder Due",
		Description: "Accepted offer whose next installment falls due in 7 days",
	},
	{
		ID:          "fully-paid",
		Name:        "Fully Paid",
		Description: "Accepted offer paid in full and resolved",
	},
}

const (
	DemoSellerID = "demo-seller"
	DemoBuyerID  = "demo-buyer"
)

// ListScenarios returns available scenarios.
func (h *Handler) ListScenarios(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, scenarios)
}

// GetCurrentScenario returns the most recently loaded scenario, if any.
func (h *Handler) GetCurrentScenario(w http.ResponseWriter, r *http.Request) {
	if h.currentScenario == "" {
		writeJSON(w, http.StatusOK, nil)
		return
	}
	for _, s := range scenarios {
		if s.ID == h.currentScenario {
			writeJSON(w, http.StatusOK, s)
			return
		}
	}
	writeJSON(w, http.StatusOK, ScenarioDTO{ID: h.currentScenario, Name: h.currentScenario})
}

// LoadScenario loads a predefined scenario.
func (h *Handler) LoadScenario(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ScenarioID string `json:"scenario_id"`
	}
	if !decode(w, r, &req) {
		return
	}

	var scenario *ScenarioDTO
	for i := range scenarios {
		if scenarios[i].ID == req.ScenarioID {
			scenario = &scenarios[i]
		}
	}
	if scenario == nil {
		writeError(w, http.StatusNotFound, "Unknown scenario", fmt.Errorf("scenario %q not found", req.ScenarioID))
		return
	}

	o, err := h.loadScenario(r.Context(), scenario.ID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to load scenario", err)
		return
	}
	h.currentScenario = scenario.ID

	writeJSON(w, http.StatusOK, LoadScenarioResponse{
		Scenario: *scenario,
		OfferIDs: []string{string(o.ID)},
	})
}

func (h *Handler) loadScenario(ctx context.Context, id string) (*offer.Offer, error) {
	switch id {
	case "fresh-offer":
		return h.loadFreshOfferScenario(ctx)
	case "payment-plan":
		return h.loadPaymentPlanScenario(ctx)
	case "reminder-due":
		return h.loadReminderDueScenario(ctx)
	case "fully-paid":
		return h.loadFullyPaidScenario(ctx)
	}
	return nil, fmt.Errorf("scenario %q not found", id)
}

// =============================================================================
// SCENARIO LOADERS
// =============================================================================

// demoTerms: 120000 total, 30000 up front, 30000 every 30 days.
func demoTerms(handOver offer.Date, expires time.Time) offer.Draft {
	return offer.Draft{
		SellerID:           DemoSellerID,
		TotalAmountPayable: 120000,
		InitialPayment:     30000,
		PeriodicPayment:    30000,
		PaymentFrequency:   30,
		HandOverDate:       handOver,
		Expires:            expires,
	}
}

func (h *Handler) loadFreshOfferScenario(ctx context.Context) (*offer.Offer, error) {
	now := h.now()
	return h.issueDemoOffer(ctx, demoTerms(offer.DateOf(now).AddDays(60), now.Add(7*24*time.Hour)))
}

func (h *Handler) loadPaymentPlanScenario(ctx context.Context) (*offer.Offer, error) {
	now := h.now()
	o, err := h.issueAcceptedDemoOffer(ctx, demoTerms(offer.DateOf(now).AddDays(-45), now.Add(7*24*time.Hour)))
	if err != nil {
		return nil, err
	}
	return h.payDemo(ctx, o, 30000)
}

func (h *Handler) loadReminderDueScenario(ctx context.Context) (*offer.Offer, error) {
	now := h.now()
	// Hand-over 23 days ago puts the 30-day installment 7 days out
	o, err := h.issueAcceptedDemoOffer(ctx, demoTerms(offer.DateOf(now).AddDays(-23), now.Add(7*24*time.Hour)))
	if err != nil {
		return nil, err
	}
	return h.payDemo(ctx, o, 30000)
}

func (h *Handler) loadFullyPaidScenario(ctx context.Context) (*offer.Offer, error) {
	now := h.now()
	o, err := h.issueAcceptedDemoOffer(ctx, demoTerms(offer.DateOf(now).AddDays(-100), now.Add(7*24*time.Hour)))
	if err != nil {
		return nil, err
	}
	return h.payDemo(ctx, o, 30000, 30000, 30000, 30000)
}

// =============================================================================
// HELPERS
// =============================================================================

func (h *Handler) issueDemoOffer(ctx context.Context, d offer.Draft) (*offer.Offer, error) {
	suffix := uuid.NewString()[:8]

	if err := h.Directory.SaveUser(ctx, &offer.Party{ID: DemoSellerID, Name: "Lagos Affordable Homes", Email: "sales@example.com", Code: "LAH"}); err != nil {
		return nil, fmt.Errorf("save seller: %w", err)
	}
	if err := h.Directory.SaveUser(ctx, &offer.Party{ID: DemoBuyerID, Name: "Ada Obi", Email: "ada@example.com"}); err != nil {
		return nil, fmt.Errorf("save buyer: %w", err)
	}

	property := &offer.Property{
		ID:        offer.PropertyID("demo-prop-" + suffix),
		Name:      "Green Court Estate",
		HouseType: "4 Bedroom Terrace",
		Price:     150000,
		SellerID:  DemoSellerID,
	}
	if err := h.Directory.SaveProperty(ctx, property); err != nil {
		return nil, fmt.Errorf("save property: %w", err)
	}

	enquiry := &offer.Enquiry{
		ID:         offer.EnquiryID("demo-enq-" + suffix),
		BuyerID:    DemoBuyerID,
		PropertyID: property.ID,
	}
	if err := h.Directory.SaveEnquiry(ctx, enquiry); err != nil {
		return nil, fmt.Errorf("save enquiry: %w", err)
	}

	d.PropertyID = property.ID
	d.EnquiryID = enquiry.ID
	return h.Service.Create(ctx, d)
}

func (h *Handler) issueAcceptedDemoOffer(ctx context.Context, d offer.Draft) (*offer.Offer, error) {
	o, err := h.issueDemoOffer(ctx, d)
	if err != nil {
		return nil, err
	}
	return h.Service.Accept(ctx, o.ID, DemoBuyerID, "demo-signature")
}

func (h *Handler) payDemo(ctx context.Context, o *offer.Offer, amounts ...offer.Amount) (*offer.Offer, error) {
	for i, amount := range amounts {
		_, err := h.Service.RecordPayment(ctx, o.ID, offer.PaymentInput{
			Amount:         amount,
			Reference:      fmt.Sprintf("demo-transfer-%d", i+1),
			IdempotencyKey: fmt.Sprintf("%s-demo-%d", o.ID, i+1),
		})
		if err != nil {
			return nil, fmt.Errorf("record payment %d: %w", i+1, err)
		}
	}
	return h.Service.Get(ctx, o.ID)
}
