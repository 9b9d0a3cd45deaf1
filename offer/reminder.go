package offer

import (
	"context"
	"log"
	"strconv"
	"time"
)

// DefaultReminderOffsets are the days-before-due at which a buyer is reminded.
var DefaultReminderOffsets = []int{1, 7, 30}

// Reminder is one notification produced by a sweep.
type Reminder struct {
	NextPayment NextPayment
	OfferID     OfferID
	BuyerID     UserID
	DaysBefore  int
}

// ReminderSelector finds unresolved next payments falling due exactly
// 1, 7 or 30 days from today and notifies the buyer. It never mutates a
// record: running it twice on the same day sends the same reminders twice,
// so it's meant to run once per day.
type ReminderSelector struct {
	Store      Store
	Properties PropertyLookup
	Notifier   *Notifier
	Offsets    []int
}

func (r *ReminderSelector) Run(ctx context.Context, now time.Time) ([]Reminder, error) {
	offsets := r.Offsets
	if len(offsets) == 0 {
		offsets = DefaultReminderOffsets
	}

	today := DateOf(now)
	dates := make([]Date, len(offsets))
	for i, days := range offsets {
		dates[i] = today.AddDays(days)
	}

	due, err := r.Store.UnresolvedNextPaymentsDueOn(ctx, dates)
	if err != nil {
		return nil, internal("select due payments", err)
	}

	var sent []Reminder
	for _, np := range due {
		o, err := r.Store.GetOffer(ctx, np.OfferID)
		if err != nil {
			log.Printf("[Reminders] offer %s: %v", np.OfferID, err)
			continue
		}
		if o.Status == StatusCancelled || o.Status == StatusResolved {
			continue
		}

		propertyName := string(o.PropertyID)
		if r.Properties != nil {
			if p, err := r.Properties.GetProperty(ctx, o.PropertyID); err == nil {
				propertyName = p.Name
			}
		}

		r.Notifier.Notify(ctx, TemplatePaymentReminder, o.BuyerID, o.ID, map[string]string{
			"property_name":  propertyName,
			"due_date":       np.ExpiresOn.Human(),
			"amount":         strconv.FormatInt(int64(np.ExpectedAmount), 10),
			"reference_code": o.ReferenceCode,
		})
		sent = append(sent, Reminder{
			NextPayment: np,
			OfferID:     o.ID,
			BuyerID:     o.BuyerID,
			DaysBefore:  DaysBetween(today, np.ExpiresOn),
		})
	}

	log.Printf("[Reminders] %s: %d reminder(s) sent", today, len(sent))
	return sent, nil
}
