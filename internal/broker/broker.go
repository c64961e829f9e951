// Package broker implements the three-topic adapter (C7) in front of
// Kafka: messages.inbound, messages.moderated, messages.persisted.
// Producers validate payloads before writing; consumers validate on
// receipt and skip (never re-queue) malformed messages. Grounded on
// ncobase-ncore/data/messaging/kafka/kafka.go's writer/reader pooling
// and retry-with-backoff produce loop.
package broker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"

	"chatroom/internal/metrics"
)

const (
	TopicInbound   = "messages.inbound"
	TopicModerated = "messages.moderated"
	TopicPersisted = "messages.persisted"

	produceTimeout = 10 * time.Second
	maxRetries     = 3
)

// MessageMetadata is the messages.inbound payload.
type MessageMetadata struct {
	ID        string `json:"id"`
	RoomID    string `json:"roomId"`
	SenderID  string `json:"senderId"`
	Body      string `json:"body"`
	Timestamp int64  `json:"timestamp"`
	Type      string `json:"type"`
}

func (m MessageMetadata) Validate() error {
	if m.ID == "" || m.RoomID == "" || m.SenderID == "" {
		return errValidation
	}
	return nil
}

// Confidence carries the analyzer's confidence in its flagged/sentiment
// verdicts.
type Confidence struct {
	Sentiment float64 `json:"sentiment"`
	Flagged   float64 `json:"flagged"`
}

// Moderation is the verdict embedded in ModeratedMessage, composed
// rather than inherited per §9's "Schema coupling across topics" note.
type Moderation struct {
	Sentiment  string     `json:"sentiment"`
	Flagged    bool       `json:"flagged"`
	Reasons    []string   `json:"reasons"`
	Confidence Confidence `json:"confidence"`
}

// ModeratedMessage is the messages.moderated payload: MessageMetadata's
// fields plus the pipeline's moderation verdict.
type ModeratedMessage struct {
	MessageMetadata
	Moderation  Moderation `json:"moderation"`
	ProcessedAt int64      `json:"processedAt"`
}

func (m ModeratedMessage) Validate() error {
	if err := m.MessageMetadata.Validate(); err != nil {
		return err
	}
	if m.ProcessedAt == 0 {
		return errValidation
	}
	return nil
}

// PersistedMessage is the messages.persisted payload: ModeratedMessage's
// fields plus the document store's generated id and timestamps.
type PersistedMessage struct {
	ModeratedMessage
	DocID     string `json:"_id"`
	CreatedAt int64  `json:"createdAt"`
	UpdatedAt int64  `json:"updatedAt"`
}

func (m PersistedMessage) Validate() error {
	if err := m.ModeratedMessage.Validate(); err != nil {
		return err
	}
	if m.DocID == "" {
		return errValidation
	}
	return nil
}

type validationError string

func (e validationError) Error() string { return string(e) }

var errValidation = validationError("broker: payload failed schema validation")

// Payload is anything with a Validate method, satisfied by all three
// topic payload types above.
type Payload interface {
	Validate() error
}

// Producer writes validated payloads to a fixed topic.
type Producer struct {
	writer *kafka.Writer
	topic  string
}

func NewProducer(brokerAddr, topic string) *Producer {
	return &Producer{
		topic: topic,
		writer: &kafka.Writer{
			Addr:         kafka.TCP(brokerAddr),
			Topic:        topic,
			Balancer:     &kafka.LeastBytes{},
			BatchTimeout: 10 * time.Millisecond,
			RequiredAcks: kafka.RequireAll,
			Async:        false,
		},
	}
}

func (p *Producer) Close() error { return p.writer.Close() }

// Produce validates v, then writes it keyed by key (the message id),
// retrying with exponential backoff per ncobase-ncore's PublishMessage.
func (p *Producer) Produce(ctx context.Context, key string, v Payload) error {
	if err := v.Validate(); err != nil {
		metrics.BrokerProduceTotal.WithLabelValues(p.topic, "validation_error").Inc()
		return err
	}
	value, err := json.Marshal(v)
	if err != nil {
		metrics.BrokerProduceTotal.WithLabelValues(p.topic, "marshal_error").Inc()
		return err
	}

	msg := kafka.Message{Key: []byte(key), Value: value, Time: time.Now()}

	timeoutCtx, cancel := context.WithTimeout(ctx, produceTimeout)
	defer cancel()

	backoff := 100 * time.Millisecond
	var lastErr error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		lastErr = p.writer.WriteMessages(timeoutCtx, msg)
		if lastErr == nil {
			metrics.BrokerProduceTotal.WithLabelValues(p.topic, "ok").Inc()
			return nil
		}
		if timeoutCtx.Err() != nil {
			break
		}
		if attempt < maxRetries {
			time.Sleep(backoff)
			backoff *= 2
		}
	}
	metrics.BrokerProduceTotal.WithLabelValues(p.topic, "error").Inc()
	return fmt.Errorf("broker: produce to %s failed after retries: %w", p.topic, lastErr)
}

// Consumer reads and commits messages from a fixed topic/group,
// invoking handle for each. A handler error skips the message (logged
// by the caller) without committing, so at-least-once delivery holds;
// a validation failure skips AND commits, since a malformed message
// will never become valid on redelivery.
type Consumer struct {
	reader *kafka.Reader
	topic  string
}

func NewConsumer(brokerAddr, topic, groupID string) *Consumer {
	return &Consumer{
		topic: topic,
		reader: kafka.NewReader(kafka.ReaderConfig{
			Brokers:        []string{brokerAddr},
			GroupID:        groupID,
			Topic:          topic,
			MinBytes:       10e3,
			MaxBytes:       10e6,
			MaxWait:        500 * time.Millisecond,
			StartOffset:    kafka.LastOffset,
			CommitInterval: 0,
			ReadBackoffMin: 100 * time.Millisecond,
			ReadBackoffMax: 5 * time.Second,
		}),
	}
}

func (c *Consumer) Close() error { return c.reader.Close() }

// Run blocks, fetching and dispatching messages until ctx is cancelled.
// decode unmarshals+validates the raw value; a decode error is logged
// and the offset is still committed (malformed messages are skipped,
// not re-queued, per §4.7).
func (c *Consumer) Run(ctx context.Context, decode func([]byte) (Payload, error), handle func(context.Context, Payload) error, onError func(stage string, err error)) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		m, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return ctx.Err()
			}
			onError("fetch", err)
			continue
		}

		v, err := decode(m.Value)
		if err != nil {
			metrics.BrokerConsumeTotal.WithLabelValues(c.topic, "invalid").Inc()
			onError("decode", err)
			_ = c.reader.CommitMessages(ctx, m)
			continue
		}

		if err := handle(ctx, v); err != nil {
			metrics.BrokerConsumeTotal.WithLabelValues(c.topic, "handler_error").Inc()
			onError("handle", err)
			continue
		}

		metrics.BrokerConsumeTotal.WithLabelValues(c.topic, "ok").Inc()
		if err := c.reader.CommitMessages(ctx, m); err != nil {
			onError("commit", err)
		}
	}
}

func DecodeMessageMetadata(raw []byte) (Payload, error) {
	var v MessageMetadata
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, err
	}
	if err := v.Validate(); err != nil {
		return nil, err
	}
	return v, nil
}

func DecodeModeratedMessage(raw []byte) (Payload, error) {
	var v ModeratedMessage
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, err
	}
	if err := v.Validate(); err != nil {
		return nil, err
	}
	return v, nil
}
