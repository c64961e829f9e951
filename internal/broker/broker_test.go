package broker

import (
	"context"
	"os"
	"testing"
	"time"
)

func TestMessageMetadata_Validate(t *testing.T) {
	tests := []struct {
		name    string
		msg     MessageMetadata
		wantErr bool
	}{
		{"valid", MessageMetadata{ID: "1", RoomID: "r", SenderID: "u"}, false},
		{"missing id", MessageMetadata{RoomID: "r", SenderID: "u"}, true},
		{"missing room", MessageMetadata{ID: "1", SenderID: "u"}, true},
		{"missing sender", MessageMetadata{ID: "1", RoomID: "r"}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.msg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestModeratedMessage_Validate(t *testing.T) {
	base := MessageMetadata{ID: "1", RoomID: "r", SenderID: "u"}
	if err := (ModeratedMessage{MessageMetadata: base}).Validate(); err == nil {
		t.Error("Validate() with zero ProcessedAt should fail")
	}
	if err := (ModeratedMessage{MessageMetadata: base, ProcessedAt: time.Now().UnixMilli()}).Validate(); err != nil {
		t.Errorf("Validate() = %v, want nil", err)
	}
}

func TestPersistedMessage_Validate(t *testing.T) {
	mod := ModeratedMessage{
		MessageMetadata: MessageMetadata{ID: "1", RoomID: "r", SenderID: "u"},
		ProcessedAt:     time.Now().UnixMilli(),
	}
	if err := (PersistedMessage{ModeratedMessage: mod}).Validate(); err == nil {
		t.Error("Validate() with empty DocID should fail")
	}
	if err := (PersistedMessage{ModeratedMessage: mod, DocID: "abc"}).Validate(); err != nil {
		t.Errorf("Validate() = %v, want nil", err)
	}
}

func TestDecodeMessageMetadata(t *testing.T) {
	raw := []byte(`{"id":"1","roomId":"r","senderId":"u","body":"hi","timestamp":1,"type":"message.sent"}`)
	v, err := DecodeMessageMetadata(raw)
	if err != nil {
		t.Fatalf("DecodeMessageMetadata() error: %v", err)
	}
	m, ok := v.(MessageMetadata)
	if !ok || m.Body != "hi" {
		t.Errorf("DecodeMessageMetadata() = %#v", v)
	}
}

func TestDecodeMessageMetadata_InvalidSkipped(t *testing.T) {
	raw := []byte(`{"roomId":"r"}`)
	if _, err := DecodeMessageMetadata(raw); err == nil {
		t.Error("DecodeMessageMetadata() on a missing-id payload should error")
	}
}

func TestDecodeModeratedMessage(t *testing.T) {
	raw := []byte(`{"id":"1","roomId":"r","senderId":"u","processedAt":123}`)
	v, err := DecodeModeratedMessage(raw)
	if err != nil {
		t.Fatalf("DecodeModeratedMessage() error: %v", err)
	}
	if _, ok := v.(ModeratedMessage); !ok {
		t.Errorf("DecodeModeratedMessage() = %#v, want ModeratedMessage", v)
	}
}

// TestProducer_Integration exercises a real broker; skipped unless
// CHATROOM_KAFKA_BROKER is set, matching the teacher's
// skip-when-the-real-service-is-unavailable pattern in router_test.go.
func TestProducer_Integration(t *testing.T) {
	addr := os.Getenv("CHATROOM_KAFKA_BROKER")
	if addr == "" {
		t.Skip("skip: CHATROOM_KAFKA_BROKER not set")
	}

	p := NewProducer(addr, TopicInbound)
	defer p.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	msg := MessageMetadata{ID: "test-1", RoomID: "r1", SenderID: "u1", Body: "hi", Timestamp: time.Now().UnixMilli(), Type: "message.sent"}
	if err := p.Produce(ctx, msg.ID, msg); err != nil {
		t.Fatalf("Produce() error: %v", err)
	}
}
