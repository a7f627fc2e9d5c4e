package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/creeping-vampires/neura-vaults-backend/internal/logger"
	"github.com/creeping-vampires/neura-vaults-backend/internal/types"
	amqp "github.com/rabbitmq/amqp091-go"
)

var (
	ErrPublisherClosed = errors.New("event publisher is closed")
	ErrPublishFailed   = errors.New("failed to publish event")
)

var eventsLogger = logger.GetForComponent("run_events")

// Event types carried in the envelope and used as routing key prefixes.
const (
	EventRun         = "run"
	EventTransaction = "tx"
)

// Envelope wraps every published payload.
type Envelope struct {
	Type       string          `json:"type"`
	RunID      string          `json:"run_id"`
	Vault      string          `json:"vault,omitempty"`
	OccurredAt time.Time       `json:"occurred_at"`
	Payload    json.RawMessage `json:"payload"`
}

// AMQPConfig describes the broker connection.
type AMQPConfig struct {
	URL      string
	Exchange string
}

// AMQPPublisher publishes run results and transactions to a durable topic exchange. Routing keys
// are "run.<status>" and "tx.<phase>.<status>".
type AMQPPublisher struct {
	mu       sync.Mutex
	conn     *amqp.Connection
	ch       *amqp.Channel
	exchange string
}

func NewAMQPPublisher(cfg AMQPConfig) (*AMQPPublisher, error) {
	if cfg.URL == "" {
		return nil, errors.New("AMQP URL must not be empty")
	}
	exchange := cfg.Exchange
	if exchange == "" {
		exchange = "vault.runs"
	}

	conn, err := amqp.Dial(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to AMQP broker: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to open AMQP channel: %w", err)
	}
	if err := ch.ExchangeDeclare(exchange, "topic", true, false, false, false, nil); err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("failed to declare exchange %s: %w", exchange, err)
	}

	eventsLogger.Info().Str("exchange", exchange).Msg("NewAMQPPublisher: connected")
	return &AMQPPublisher{conn: conn, ch: ch, exchange: exchange}, nil
}

// SaveRun publishes the run result. Brokers assign no ids, so the returned id is always 0.
func (p *AMQPPublisher) SaveRun(ctx context.Context, run types.RunResult) (int64, error) {
	body, err := encodeEnvelope(EventRun, run.RunID, run.Vault.Hex(), run.FinishedAt, run)
	if err != nil {
		return 0, err
	}
	return 0, p.publish(ctx, routingKey(EventRun, string(run.Status)), body)
}

func (p *AMQPPublisher) SaveTransaction(ctx context.Context, runID string, tx types.TransactionRecord) error {
	body, err := encodeEnvelope(EventTransaction, runID, "", time.Now().UTC(), tx)
	if err != nil {
		return err
	}
	return p.publish(ctx, routingKey(EventTransaction, tx.Phase, string(tx.Status)), body)
}

func (p *AMQPPublisher) publish(ctx context.Context, key string, body []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.ch == nil {
		return ErrPublisherClosed
	}
	err := p.ch.PublishWithContext(ctx, p.exchange, key, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Timestamp:    time.Now().UTC(),
		Body:         body,
	})
	if err != nil {
		return errors.Join(ErrPublishFailed, fmt.Errorf("routing key %s: %w", key, err))
	}
	eventsLogger.Debug().Str("routingKey", key).Int("bytes", len(body)).Msg("publish: event sent")
	return nil
}

// Close closes the channel and the connection.
func (p *AMQPPublisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.ch != nil {
		_ = p.ch.Close()
		p.ch = nil
	}
	if p.conn != nil {
		err := p.conn.Close()
		p.conn = nil
		return err
	}
	return nil
}

func encodeEnvelope(kind, runID, vault string, at time.Time, payload any) ([]byte, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal %s payload: %w", kind, err)
	}
	if at.IsZero() {
		at = time.Now().UTC()
	}
	return json.Marshal(Envelope{Type: kind, RunID: runID, Vault: vault, OccurredAt: at, Payload: raw})
}

// routingKey joins non-empty parts with dots, lowercased, with dots inside parts replaced.
func routingKey(parts ...string) string {
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.ToLower(strings.TrimSpace(p))
		if p == "" {
			continue
		}
		out = append(out, strings.ReplaceAll(p, ".", "_"))
	}
	return strings.Join(out, ".")
}
