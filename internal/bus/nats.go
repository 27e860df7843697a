package bus

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/nats-io/nats.go"

	"hybriddb/internal/logger"
)

// Publisher sends JSON payloads to NATS subjects.
type Publisher struct {
	Conn   *nats.Conn
	Prefix string
}

// NewPublisher connects to url. Events are published under prefix.
func NewPublisher(url, prefix string) (*Publisher, error) {
	conn, err := nats.Connect(url, nats.Name("hybriddb"))
	if err != nil {
		return nil, err
	}
	return &Publisher{Conn: conn, Prefix: prefix}, nil
}

func (p *Publisher) Close() {
	if p.Conn != nil {
		p.Conn.Drain()
		p.Conn.Close()
	}
}

func (p *Publisher) Publish(subject string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	return p.Conn.Publish(subject, data)
}

// Emit publishes data on the subject for event. Failures are logged;
// event delivery is best effort.
func (p *Publisher) Emit(_ context.Context, event string, data any) {
	subject := Subject(p.Prefix, event)
	if err := p.Publish(subject, data); err != nil {
		log := logger.Get("bus")
		log.Warn().Err(err).Str("subject", subject).Msg("publish failed")
	}
}

// Subject joins prefix and event into a NATS subject. Event names use
// ':' as separator ("field:drift"); NATS uses '.'.
func Subject(prefix, event string) string {
	event = strings.ReplaceAll(event, ":", ".")
	prefix = strings.TrimSuffix(prefix, ".")
	if prefix == "" {
		return event
	}
	return prefix + "." + event
}
