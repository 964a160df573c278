package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"fractions-backend/internal/domain"

	"github.com/cenkalti/backoff/v4"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog/log"
)

// Publisher is the subset of jetstream.JetStream used for notifications.
type Publisher interface {
	Publish(ctx context.Context, subject string, data []byte, opts ...jetstream.PublishOpt) (*jetstream.PubAck, error)
}

// Config holds the NATS connection settings.
type Config struct {
	URL            string
	SubjectPrefix  string
	ConnectionName string
	MaxReconnects  int
	ReconnectWait  time.Duration
	// MaxElapsed bounds publish retries; 0 uses 30s.
	MaxElapsed time.Duration
}

// JetStream publishes notifications to {prefix}.{type}.{asset_id}.
type JetStream struct {
	nc         *nats.Conn
	js         Publisher
	prefix     string
	maxElapsed time.Duration
}

// Connect dials NATS and prepares a JetStream context.
func Connect(cfg Config) (*JetStream, error) {
	opts := []nats.Option{
		nats.Name(cfg.ConnectionName),
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			if err != nil {
				log.Error().Err(err).Msg("Disconnected from NATS")
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info().Str("url", nc.ConnectedUrl()).Msg("Reconnected to NATS")
		}),
	}
	nc, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("connect to NATS: %w", err)
	}
	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("create JetStream: %w", err)
	}
	p := NewJetStream(js, cfg.SubjectPrefix, cfg.MaxElapsed)
	p.nc = nc
	return p, nil
}

// NewJetStream wraps an existing publisher.
func NewJetStream(js Publisher, prefix string, maxElapsed time.Duration) *JetStream {
	if prefix == "" {
		prefix = "fractions"
	}
	if maxElapsed == 0 {
		maxElapsed = 30 * time.Second
	}
	return &JetStream{js: js, prefix: prefix, maxElapsed: maxElapsed}
}

func (p *JetStream) subject(n domain.Notification) string {
	return fmt.Sprintf("%s.%s.%s", p.prefix, n.Type, n.AssetID)
}

// Notify publishes with the notification id as the JetStream message id so
// redelivery after a retry is deduplicated by the stream.
func (p *JetStream) Notify(ctx context.Context, n domain.Notification) error {
	data, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("marshal notification: %w", err)
	}
	subject := p.subject(n)

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 100 * time.Millisecond
	b.MaxInterval = 5 * time.Second
	b.MaxElapsedTime = p.maxElapsed

	operation := func() error {
		_, err := p.js.Publish(ctx, subject, data, jetstream.WithMsgID(n.ID))
		return err
	}
	notifyOnError := func(err error, next time.Duration) {
		log.Warn().Err(err).Str("subject", subject).Dur("next_retry_in", next).Msg("Notification publish failed, retrying")
	}
	if err := backoff.RetryNotify(operation, backoff.WithContext(b, ctx), notifyOnError); err != nil {
		return fmt.Errorf("publish notification: %w", err)
	}
	return nil
}

// Close closes the NATS connection when this publisher owns it.
func (p *JetStream) Close() {
	if p.nc != nil {
		p.nc.Close()
	}
}
