package client

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"

	"github.com/pesio-ai/be-customs-aforo/internal/events"
)

// Conn is the subset of *nats.Conn used by the publisher and subscriber.
type Conn interface {
	Publish(subject string, data []byte) error
	Subscribe(subject string, cb nats.MsgHandler) (*nats.Subscription, error)
}

// NATSPublisher publishes the case change-feed and the error channel to NATS.
//
// Subjects:
//
//	<prefix>.cases.changed
//	<prefix>.errors.<code>     e.g. aforo.errors.permission_denied
//
// Publish failures are logged and never propagated. Store failures have
// already been returned to the caller by the time they reach here.
type NATSPublisher struct {
	conn   Conn
	prefix string
	log    zerolog.Logger
}

var _ events.Publisher = (*NATSPublisher)(nil)

// NewNATSPublisher creates a publisher. A nil conn yields a publisher that
// drops everything.
func NewNATSPublisher(conn Conn, prefix string, log zerolog.Logger) *NATSPublisher {
	return &NATSPublisher{conn: conn, prefix: prefix, log: log}
}

// ChangedSubject is the change-feed subject for prefix.
func ChangedSubject(prefix string) string {
	return prefix + ".cases.changed"
}

// ErrorSubject is the error-channel subject for an error code.
func ErrorSubject(prefix, code string) string {
	return fmt.Sprintf("%s.errors.%s", prefix, strings.ToLower(code))
}

// PublishCaseChanged implements events.Publisher.
func (p *NATSPublisher) PublishCaseChanged(_ context.Context, ev events.CaseChanged) {
	p.publish(ChangedSubject(p.prefix), ev, ev.NE)
}

// PublishStoreFailure implements events.Publisher.
func (p *NATSPublisher) PublishStoreFailure(_ context.Context, ev events.StoreFailure) {
	p.publish(ErrorSubject(p.prefix, ev.Code), ev, strings.Join(ev.NEs, ","))
}

func (p *NATSPublisher) publish(subject string, payload any, ne string) {
	if p.conn == nil {
		return
	}

	data, err := json.Marshal(payload)
	if err != nil {
		p.log.Warn().Err(err).Str("subject", subject).Msg("nats: failed to marshal event")
		return
	}

	if err := p.conn.Publish(subject, data); err != nil {
		p.log.Warn().Err(err).
			Str("subject", subject).
			Str("ne", ne).
			Msg("nats: failed to publish event (non-fatal)")
		return
	}

	p.log.Debug().
		Str("subject", subject).
		Str("ne", ne).
		Msg("nats: event published")
}
