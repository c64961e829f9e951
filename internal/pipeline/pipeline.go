package pipeline

import (
	"context"
	"time"

	"chatroom/internal/broker"
	"chatroom/internal/metrics"
)

// FanoutSink is implemented by the realtime gateway. Inverting the
// dependency this way (the pipeline depends on an interface the
// gateway satisfies, rather than importing the gateway package
// directly) breaks the cycle described in DESIGN NOTES "Cyclic
// dependency between fan-out and persistence".
type FanoutSink interface {
	EmitMessageUpdated(ctx context.Context, roomID string, message broker.PersistedMessage)
}

// MessageStore is the slice of the document store the moderated
// handler needs: an atomic partial update of one message's moderation
// meta, by id.
type MessageStore interface {
	// UpdateModeration sets the message's moderation meta and returns
	// the message's createdAt/updatedAt timestamps. found is false when
	// no such message exists (already deleted, or never persisted).
	UpdateModeration(ctx context.Context, messageID string, moderation broker.Moderation) (found bool, createdAt, updatedAt int64, err error)
}

// Producer is the slice of broker.Producer the pipeline needs, kept as
// an interface so tests can substitute a fake instead of dialing a
// real broker.
type Producer interface {
	Produce(ctx context.Context, key string, v broker.Payload) error
}

// Processor wires the inbound and moderated consumers together.
type Processor struct {
	analyzer  *Analyzer
	moderated Producer
	persisted Producer
	store     MessageStore
	sink      FanoutSink
	onError   func(stage string, err error)
}

func NewProcessor(analyzer *Analyzer, moderatedProducer, persistedProducer Producer, store MessageStore, sink FanoutSink, onError func(stage string, err error)) *Processor {
	if onError == nil {
		onError = func(string, error) {}
	}
	return &Processor{
		analyzer:  analyzer,
		moderated: moderatedProducer,
		persisted: persistedProducer,
		store:     store,
		sink:      sink,
		onError:   onError,
	}
}

// HandleInbound implements §4.8's inbound handler: call the analyzer,
// build the moderated payload, and produce it. Analyzer failures fall
// back to DefaultVerdict so the pipeline always advances.
func (p *Processor) HandleInbound(ctx context.Context, msg broker.MessageMetadata) error {
	start := time.Now()
	verdict := p.analyzer.Analyze(ctx, msg.ID, msg.Body)
	metrics.PipelineStageDuration.WithLabelValues("inbound").Observe(time.Since(start).Seconds())

	moderated := broker.ModeratedMessage{
		MessageMetadata: msg,
		Moderation: broker.Moderation{
			Sentiment:  verdict.Sentiment,
			Flagged:    verdict.Flagged,
			Reasons:    verdict.Reasons,
			Confidence: broker.Confidence{Sentiment: verdict.Confidence.Sentiment, Flagged: verdict.Confidence.Flagged},
		},
		ProcessedAt: time.Now().UnixMilli(),
	}

	return p.moderated.Produce(ctx, moderated.ID, moderated)
}

// HandleModerated implements §4.8's moderated handler: update the
// persisted message's moderation meta atomically by id, produce the
// persisted payload, and signal the gateway. A missing message (id
// absent, e.g. already soft-deleted) is a no-op, not an error.
func (p *Processor) HandleModerated(ctx context.Context, msg broker.ModeratedMessage) error {
	start := time.Now()
	found, createdAt, updatedAt, err := p.store.UpdateModeration(ctx, msg.ID, msg.Moderation)
	metrics.PipelineStageDuration.WithLabelValues("moderated").Observe(time.Since(start).Seconds())
	if err != nil {
		return err
	}
	if !found {
		return nil
	}

	persisted := broker.PersistedMessage{
		ModeratedMessage: msg,
		DocID:            msg.ID,
		CreatedAt:        createdAt,
		UpdatedAt:        updatedAt,
	}
	if err := p.persisted.Produce(ctx, persisted.ID, persisted); err != nil {
		return err
	}

	if p.sink != nil {
		p.sink.EmitMessageUpdated(ctx, msg.RoomID, persisted)
	}
	return nil
}

// RunInbound consumes messages.inbound until ctx is cancelled.
func RunInbound(ctx context.Context, consumer *broker.Consumer, p *Processor) error {
	return consumer.Run(ctx, broker.DecodeMessageMetadata, func(ctx context.Context, v broker.Payload) error {
		msg := v.(broker.MessageMetadata)
		return p.HandleInbound(ctx, msg)
	}, p.onError)
}

// RunModerated consumes messages.moderated until ctx is cancelled.
func RunModerated(ctx context.Context, consumer *broker.Consumer, p *Processor) error {
	return consumer.Run(ctx, broker.DecodeModeratedMessage, func(ctx context.Context, v broker.Payload) error {
		msg := v.(broker.ModeratedMessage)
		return p.HandleModerated(ctx, msg)
	}, p.onError)
}
