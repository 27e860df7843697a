package sources

import (
	"context"
	"fmt"

	"github.com/nats-io/nats.go"

	"hybriddb/internal/etl"
	"hybriddb/internal/logger"
)

// ── NATS Source ─────────────────────────────────────────────
// Subscribes to a subject; every message body is one JSON record.

type natsSource struct{}

func init() { etl.RegisterSource(&natsSource{}) }

func (s *natsSource) Spec() etl.SourceSpec {
	return etl.SourceSpec{
		Type:  "nats",
		Label: "NATS subject",
		ConfigFields: []etl.ConfigField{
			{Key: "url", Label: "Server URL", Type: "string", Default: nats.DefaultURL},
			{Key: "subject", Label: "Subject", Type: "string", Required: true},
			{Key: "queue", Label: "Queue group", Type: "string", Help: "Share the subject with other consumers"},
		},
	}
}

func (s *natsSource) Read(ctx context.Context, cfg etl.SourceConfig) (<-chan etl.Record, <-chan error) {
	out := make(chan etl.Record, 100)
	errCh := make(chan error, 1)

	go func() {
		defer close(out)
		defer close(errCh)

		subject := cfgString(cfg, "subject", "")
		if subject == "" {
			errCh <- fmt.Errorf("subject is required")
			return
		}
		conn, err := nats.Connect(cfgString(cfg, "url", nats.DefaultURL))
		if err != nil {
			errCh <- fmt.Errorf("nats connect: %w", err)
			return
		}
		defer conn.Close()

		msgs := make(chan *nats.Msg, 256)
		var sub *nats.Subscription
		if queue := cfgString(cfg, "queue", ""); queue != "" {
			sub, err = conn.ChanQueueSubscribe(subject, queue, msgs)
		} else {
			sub, err = conn.ChanSubscribe(subject, msgs)
		}
		if err != nil {
			errCh <- fmt.Errorf("nats subscribe %q: %w", subject, err)
			return
		}
		defer sub.Unsubscribe()

		log := logger.Get("source.nats")
		log.Info().Str("subject", subject).Msg("subscribed")
		for {
			select {
			case <-ctx.Done():
				return
			case msg := <-msgs:
				rec, err := etl.DecodeRecord(msg.Data)
				if err != nil {
					log.Warn().Err(err).Str("subject", msg.Subject).Msg("skipping malformed message")
					continue
				}
				select {
				case out <- rec:
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	return out, errCh
}
