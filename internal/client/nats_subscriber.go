package client

import (
	"encoding/json"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"

	"github.com/pesio-ai/be-customs-aforo/internal/events"
)

// NATSSubscriber feeds change-feed messages published by any instance into a
// local handler, usually readmodel.CaseCache.OnCaseChanged.
type NATSSubscriber struct {
	conn   Conn
	prefix string
	log    zerolog.Logger
	sub    *nats.Subscription
}

// NewNATSSubscriber creates a subscriber for the change-feed under prefix.
func NewNATSSubscriber(conn Conn, prefix string, log zerolog.Logger) *NATSSubscriber {
	return &NATSSubscriber{conn: conn, prefix: prefix, log: log}
}

// Start subscribes and calls fn for every decoded event.
func (s *NATSSubscriber) Start(fn func(*events.CaseChanged)) error {
	sub, err := s.conn.Subscribe(ChangedSubject(s.prefix), func(msg *nats.Msg) {
		s.dispatch(msg.Data, fn)
	})
	if err != nil {
		return err
	}
	s.sub = sub
	s.log.Info().Str("subject", sub.Subject).Msg("nats: subscribed to case change-feed")
	return nil
}

func (s *NATSSubscriber) dispatch(data []byte, fn func(*events.CaseChanged)) {
	var ev events.CaseChanged
	if err := json.Unmarshal(data, &ev); err != nil {
		s.log.Warn().Err(err).Msg("nats: dropping malformed change-feed message")
		return
	}
	if ev.NE == "" {
		return
	}
	fn(&ev)
}

// Stop removes the subscription.
func (s *NATSSubscriber) Stop() error {
	if s.sub == nil {
		return nil
	}
	err := s.sub.Unsubscribe()
	s.sub = nil
	return err
}
