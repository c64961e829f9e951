package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"chatroom/internal/broker"
)

type fakeProducer struct {
	produced []broker.Payload
	err      error
}

func (f *fakeProducer) Produce(ctx context.Context, key string, v broker.Payload) error {
	if f.err != nil {
		return f.err
	}
	f.produced = append(f.produced, v)
	return nil
}

type fakeStore struct {
	found          bool
	createdAt      int64
	updatedAt      int64
	err            error
	lastMessageID  string
	lastModeration broker.Moderation
}

func (f *fakeStore) UpdateModeration(ctx context.Context, messageID string, moderation broker.Moderation) (bool, int64, int64, error) {
	f.lastMessageID = messageID
	f.lastModeration = moderation
	return f.found, f.createdAt, f.updatedAt, f.err
}

type fakeSink struct {
	emitted []broker.PersistedMessage
	rooms   []string
}

func (f *fakeSink) EmitMessageUpdated(ctx context.Context, roomID string, message broker.PersistedMessage) {
	f.rooms = append(f.rooms, roomID)
	f.emitted = append(f.emitted, message)
}

func analyzerServer(t *testing.T, sentiment string, flagged bool) *Analyzer {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/moderate":
			json.NewEncoder(w).Encode(moderateResponse{Flagged: flagged})
		case "/sentiment":
			json.NewEncoder(w).Encode(sentimentResponse{Sentiment: sentiment})
		}
	}))
	t.Cleanup(srv.Close)
	return NewAnalyzer(srv.URL)
}

func TestHandleInbound_ProducesModerated(t *testing.T) {
	analyzer := analyzerServer(t, "positive", false)
	moderated := &fakeProducer{}
	persisted := &fakeProducer{}
	p := NewProcessor(analyzer, moderated, persisted, &fakeStore{}, nil, nil)

	msg := broker.MessageMetadata{ID: "m1", RoomID: "r1", SenderID: "u1", Body: "hello"}
	if err := p.HandleInbound(context.Background(), msg); err != nil {
		t.Fatalf("HandleInbound() error: %v", err)
	}

	if len(moderated.produced) != 1 {
		t.Fatalf("moderated producer got %d messages, want 1", len(moderated.produced))
	}
	out := moderated.produced[0].(broker.ModeratedMessage)
	if out.Moderation.Sentiment != "positive" {
		t.Errorf("Moderation.Sentiment = %q, want positive", out.Moderation.Sentiment)
	}
}

func TestHandleModerated_UpdatesAndProducesAndSignals(t *testing.T) {
	store := &fakeStore{found: true, createdAt: 100, updatedAt: 200}
	persisted := &fakeProducer{}
	sink := &fakeSink{}
	p := NewProcessor(analyzerServer(t, "neutral", false), &fakeProducer{}, persisted, store, sink, nil)

	msg := broker.ModeratedMessage{
		MessageMetadata: broker.MessageMetadata{ID: "m1", RoomID: "r1", SenderID: "u1"},
		Moderation:      broker.Moderation{Sentiment: "positive"},
		ProcessedAt:     1,
	}
	if err := p.HandleModerated(context.Background(), msg); err != nil {
		t.Fatalf("HandleModerated() error: %v", err)
	}

	if len(persisted.produced) != 1 {
		t.Fatalf("persisted producer got %d messages, want 1", len(persisted.produced))
	}
	if len(sink.emitted) != 1 || sink.rooms[0] != "r1" {
		t.Fatalf("sink.emitted = %v, rooms = %v, want one emission to r1", sink.emitted, sink.rooms)
	}
	out := persisted.produced[0].(broker.PersistedMessage)
	if out.CreatedAt != 100 || out.UpdatedAt != 200 {
		t.Errorf("PersistedMessage timestamps = %d, %d, want 100, 200", out.CreatedAt, out.UpdatedAt)
	}
}

func TestHandleModerated_MissingMessageIsNoop(t *testing.T) {
	store := &fakeStore{found: false}
	persisted := &fakeProducer{}
	sink := &fakeSink{}
	p := NewProcessor(analyzerServer(t, "neutral", false), &fakeProducer{}, persisted, store, sink, nil)

	msg := broker.ModeratedMessage{MessageMetadata: broker.MessageMetadata{ID: "gone", RoomID: "r1", SenderID: "u1"}, ProcessedAt: 1}
	if err := p.HandleModerated(context.Background(), msg); err != nil {
		t.Fatalf("HandleModerated() error: %v", err)
	}
	if len(persisted.produced) != 0 {
		t.Error("HandleModerated() on a missing message should not produce")
	}
	if len(sink.emitted) != 0 {
		t.Error("HandleModerated() on a missing message should not signal the sink")
	}
}

func TestHandleModerated_StoreErrorPropagates(t *testing.T) {
	store := &fakeStore{err: errors.New("store down")}
	p := NewProcessor(analyzerServer(t, "neutral", false), &fakeProducer{}, &fakeProducer{}, store, &fakeSink{}, nil)

	msg := broker.ModeratedMessage{MessageMetadata: broker.MessageMetadata{ID: "m1", RoomID: "r1", SenderID: "u1"}, ProcessedAt: 1}
	if err := p.HandleModerated(context.Background(), msg); err == nil {
		t.Error("HandleModerated() should propagate a store error")
	}
}
