// Package notify delivers offer notifications: to the log, to connected
// websocket clients, or to several sinks at once.
package notify

import (
	"context"
	"errors"
	"log"
	"sort"
	"strings"

	"github.com/warp/offer-engine/offer"
)

// LogSink writes every notification to the standard logger.
type LogSink struct{}

func (LogSink) Send(_ context.Context, n offer.Notification) error {
	keys := make([]string, 0, len(n.Fields))
	for k := range n.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	for _, k := range keys {
		b.WriteString(" ")
		b.WriteString(k)
		b.WriteString("=")
		b.WriteString(n.Fields[k])
	}

	to := string(n.Recipient.ID)
	if n.Recipient.Email != "" {
		to += " <" + n.Recipient.Email + ">"
	}
	log.Printf("[Notify] %s -> %s offer=%s%s", n.Template, to, n.OfferID, b.String())
	return nil
}

// Fanout sends each notification to every sink. A failing sink doesn't stop
// the others; the errors are joined.
type Fanout []offer.NotificationSink

func (f Fanout) Send(ctx context.Context, n offer.Notification) error {
	var errs []error
	for _, sink := range f {
		if sink == nil {
			continue
		}
		if err := sink.Send(ctx, n); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
