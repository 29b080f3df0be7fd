// Package audit publishes committed status transitions. Kafka is used when
// brokers are configured; otherwise events go to the structured log.
package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/segmentio/kafka-go"

	"github.com/tbourn/go-verify-bot/internal/config"
	"github.com/tbourn/go-verify-bot/internal/domain"
	"github.com/tbourn/go-verify-bot/internal/services"
)

// Event is the wire form of one transition.
type Event struct {
	ApplicantID string    `json:"applicant_id"`
	From        string    `json:"from"`
	To          string    `json:"to"`
	Cause       string    `json:"cause"`
	Actor       string    `json:"actor,omitempty"`
	At          time.Time `json:"at"`
}

// NewEvent converts a stored change.
func NewEvent(c domain.StatusChange) Event {
	return Event{
		ApplicantID: c.ApplicantID,
		From:        c.From.String(),
		To:          c.To.String(),
		Cause:       c.Cause,
		Actor:       c.Actor,
		At:          c.At.UTC(),
	}
}

// Publisher is an AuditPublisher that can be flushed on shutdown.
type Publisher interface {
	services.AuditPublisher
	Close() error
}

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaPublisher writes events keyed by applicant id, so one applicant's
// transitions land on one partition in commit order.
type KafkaPublisher struct {
	w messageWriter
}

// NewKafkaPublisher builds an async writer for topic. Publish only enqueues,
// so callers holding an applicant lock never wait on the brokers; delivery
// failures are logged by the completion callback. Enqueue order is kept per
// partition.
func NewKafkaPublisher(brokers []string, topic string) *KafkaPublisher {
	return &KafkaPublisher{w: &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireOne,
		BatchTimeout: 20 * time.Millisecond,
		WriteTimeout: 5 * time.Second,
		Async:        true,
		Completion:   logFailedWrites(log.With().Str("component", "audit").Logger()),
	}}
}

// logFailedWrites returns a writer completion callback that logs each
// undelivered event.
func logFailedWrites(logger zerolog.Logger) func([]kafka.Message, error) {
	return func(msgs []kafka.Message, err error) {
		if err == nil {
			return
		}
		for _, m := range msgs {
			logger.Error().Err(err).
				Str("applicant_id", string(m.Key)).
				Time("at", m.Time).
				Msg("audit event not delivered")
		}
	}
}

// Publish hands one event to the writer.
func (p *KafkaPublisher) Publish(ctx context.Context, c domain.StatusChange) error {
	ev := NewEvent(c)
	b, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("audit marshal: %w", err)
	}
	msg := kafka.Message{
		Key:   []byte(ev.ApplicantID),
		Value: b,
		Time:  ev.At,
		Headers: []kafka.Header{
			{Key: "cause", Value: []byte(ev.Cause)},
		},
	}
	if err := p.w.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("audit write: %w", err)
	}
	return nil
}

// Close flushes pending writes.
func (p *KafkaPublisher) Close() error { return p.w.Close() }

// LogPublisher records events on a zerolog logger.
type LogPublisher struct {
	Logger zerolog.Logger
}

func (p LogPublisher) Publish(_ context.Context, c domain.StatusChange) error {
	ev := NewEvent(c)
	p.Logger.Info().
		Str("applicant_id", ev.ApplicantID).
		Str("from", ev.From).
		Str("to", ev.To).
		Str("cause", ev.Cause).
		Str("actor", ev.Actor).
		Time("at", ev.At).
		Msg("audit")
	return nil
}

func (LogPublisher) Close() error { return nil }

// New picks the sink from configuration.
func New(cfg config.AuditConfig) Publisher {
	if len(cfg.KafkaBrokers) == 0 {
		return LogPublisher{Logger: log.With().Str("component", "audit").Logger()}
	}
	log.Info().Strs("brokers", cfg.KafkaBrokers).Str("topic", cfg.KafkaTopic).Msg("audit to kafka")
	return NewKafkaPublisher(cfg.KafkaBrokers, cfg.KafkaTopic)
}
