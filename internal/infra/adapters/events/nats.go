package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog"

	"subscription-payments/internal/config"
	"subscription-payments/internal/domain/ports/adapter"
	"subscription-payments/internal/infra/logging"
)

// Client wraps a NATS connection with JetStream.
type Client struct {
	conn   *nats.Conn
	js     jetstream.JetStream
	logger *zerolog.Logger
}

func Connect(cfg config.NATSConfig, logger *zerolog.Logger) (*Client, error) {
	l := logger.With().Str("component", "nats").Logger()
	opts := []nats.Option{
		nats.Name(cfg.Name),
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.DisconnectErrHandler(func(c *nats.Conn, err error) {
			l.Warn().Err(err).Msg("nats disconnected")
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			l.Info().Str("url", c.ConnectedUrl()).Msg("nats reconnected")
		}),
	}
	conn, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("connecting to nats: %w", err)
	}
	js, err := jetstream.New(conn)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("creating jetstream context: %w", err)
	}
	l.Info().Str("url", conn.ConnectedUrl()).Msg("nats connection established")
	return &Client{conn: conn, js: js, logger: &l}, nil
}

// EnsureStream creates or updates the stream that captures payments.> subjects.
func (c *Client) EnsureStream(ctx context.Context, name string) error {
	_, err := c.js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:       name,
		Subjects:   []string{"payments.>"},
		MaxAge:     7 * 24 * time.Hour,
		Retention:  jetstream.LimitsPolicy,
		Storage:    jetstream.FileStorage,
		Duplicates: 2 * time.Minute,
	})
	if err != nil {
		return fmt.Errorf("creating/updating stream %s: %w", name, err)
	}
	c.logger.Info().Str("stream", name).Msg("stream ensured")
	return nil
}

func (c *Client) JetStream() jetstream.JetStream { return c.js }

func (c *Client) HealthCheck() error {
	if !c.conn.IsConnected() {
		return fmt.Errorf("nats not connected")
	}
	return nil
}

func (c *Client) Close() {
	c.conn.Close()
}

// Envelope wraps every published payment event.
type Envelope struct {
	ID            string          `json:"event_id"`
	Type          string          `json:"type"`
	Version       int             `json:"version"`
	OccurredAt    time.Time       `json:"occurred_at"`
	CorrelationID string          `json:"correlation_id,omitempty"`
	AggregateType string          `json:"aggregate_type"`
	AggregateID   string          `json:"aggregate_id"`
	Data          json.RawMessage `json:"data"`
}

func NewEnvelope(ctx context.Context, evt adapter.PaymentEvent) (*Envelope, error) {
	data, err := json.Marshal(evt)
	if err != nil {
		return nil, fmt.Errorf("marshaling event data: %w", err)
	}
	return &Envelope{
		ID:            ulid.Make().String(),
		Type:          evt.Type,
		Version:       1,
		OccurredAt:    evt.OccurredAt,
		CorrelationID: logging.TraceID(ctx),
		AggregateType: "payment_transaction",
		AggregateID:   fmt.Sprint(evt.TransactionID),
		Data:          data,
	}, nil
}

// streamPublisher is the slice of jetstream.JetStream the publisher needs.
type streamPublisher interface {
	Publish(ctx context.Context, subject string, data []byte, opts ...jetstream.PublishOpt) (*jetstream.PubAck, error)
}

var _ adapter.EventPublisher = (*NATSPublisher)(nil)

// NATSPublisher publishes payment events to JetStream, using the event type as the
// subject and the envelope id as the dedup message id.
type NATSPublisher struct {
	js     streamPublisher
	logger *zerolog.Logger
}

func NewNATSPublisher(js streamPublisher, logger *zerolog.Logger) *NATSPublisher {
	l := logger.With().Str("component", "event_publisher").Logger()
	return &NATSPublisher{js: js, logger: &l}
}

func (p *NATSPublisher) Publish(ctx context.Context, evt adapter.PaymentEvent) error {
	env, err := NewEnvelope(ctx, evt)
	if err != nil {
		return err
	}
	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("marshaling envelope: %w", err)
	}
	if _, err := p.js.Publish(ctx, evt.Type, data, jetstream.WithMsgID(env.ID)); err != nil {
		return fmt.Errorf("publishing %s: %w", evt.Type, err)
	}
	p.logger.Debug().Str("event_id", env.ID).Str("type", evt.Type).Int64("transaction_id", evt.TransactionID).Msg("event published")
	return nil
}
