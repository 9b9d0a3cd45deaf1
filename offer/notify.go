package offer

import (
	"context"
	"log"
	"time"
)

// Notifier resolves recipients and hands messages to the sink. Delivery is
// fire-and-forget: every failure is logged and swallowed so a broken mail
// relay can never fail an acceptance or a payment.
type Notifier struct {
	Sink  NotificationSink
	Users UserLookup
}

func (n *Notifier) Notify(ctx context.Context, template string, to UserID, offerID OfferID, fields map[string]string) {
	if n == nil || n.Sink == nil {
		return
	}

	recipient := Party{ID: to}
	if n.Users != nil {
		p, err := n.Users.GetUser(ctx, to)
		if err != nil {
			log.Printf("[Notify] %s: recipient %s lookup failed: %v", template, to, err)
		} else if p != nil {
			recipient = *p
		}
	}

	err := n.Sink.Send(ctx, Notification{
		Template:  template,
		Recipient: recipient,
		Fields:    fields,
		OfferID:   offerID,
		SentAt:    time.Now().UTC(),
	})
	if err != nil {
		log.Printf("[Notify] %s to %s for offer %s failed: %v", template, to, offerID, err)
	}
}
