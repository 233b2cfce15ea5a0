package events

import (
	"context"
	"testing"

	"speech-relay-service/internal/models"
)

func TestNew_DisabledMode(t *testing.T) {
	tests := []struct {
		name string
		cfg  *Config
	}{
		{"nil config", nil},
		{"disabled", &Config{Enabled: false, Brokers: []string{"localhost:9092"}}},
		{"no brokers", &Config{Enabled: true, Brokers: []string{}}},
		{"empty brokers", &Config{Enabled: true, Brokers: nil}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := New(tt.cfg)
			if p == nil {
				t.Fatal("expected non-nil publisher")
			}
			if p.Enabled() {
				t.Error("expected publisher to be disabled")
			}
			if p.writerFinal != nil || p.writerFailed != nil {
				t.Error("expected nil writers when disabled")
			}
		})
	}
}

func TestNew_Enabled(t *testing.T) {
	// kafka.Writer connects lazily, so no broker is needed here.
	p := New(&Config{
		Enabled:     true,
		Brokers:     []string{"localhost:9092"},
		TopicFinal:  "test.final",
		TopicFailed: "test.failed",
	})
	defer p.Close()

	if !p.Enabled() {
		t.Fatal("expected publisher to be enabled")
	}
	if p.writerFinal.Topic != "test.final" {
		t.Errorf("expected final topic 'test.final', got %s", p.writerFinal.Topic)
	}
	if p.writerFailed.Topic != "test.failed" {
		t.Errorf("expected failed topic 'test.failed', got %s", p.writerFailed.Topic)
	}
}

func TestNew_ConfigValues(t *testing.T) {
	p := New(&Config{
		Enabled:     false,
		Brokers:     []string{"localhost:9092"},
		TopicFinal:  "test.final",
		TopicFailed: "test.failed",
		Principal:   "test-principal",
	})

	if p.principal != "test-principal" {
		t.Errorf("expected principal 'test-principal', got %s", p.principal)
	}
	if p.topicFinal != "test.final" {
		t.Errorf("expected topic final 'test.final', got %s", p.topicFinal)
	}
	if p.topicFailed != "test.failed" {
		t.Errorf("expected topic failed 'test.failed', got %s", p.topicFailed)
	}
}

func TestPublisher_Disabled(t *testing.T) {
	p := New(&Config{Enabled: false})
	ctx := context.Background()

	final := models.TranscriptFinal{EventType: models.EventTypeTranscriptFinal, SessionID: "s1", Text: "hello"}
	if err := p.PublishFinal(ctx, "s1", final); err != nil {
		t.Errorf("expected no error when disabled, got %v", err)
	}

	failed := models.TranscriptFailed{EventType: models.EventTypeTranscriptFailed, SessionID: "s1", Error: "boom"}
	if err := p.PublishFailed(ctx, "s1", failed); err != nil {
		t.Errorf("expected no error when disabled, got %v", err)
	}
}

func TestPublisher_InvalidJSON(t *testing.T) {
	p := New(&Config{Enabled: false})

	// Channels cannot be marshaled.
	event := make(chan int)
	if err := p.PublishFinal(context.Background(), "k", event); err == nil {
		t.Error("expected error for unmarshalable final event")
	}
	if err := p.PublishFailed(context.Background(), "k", event); err == nil {
		t.Error("expected error for unmarshalable failed event")
	}
}

func TestPublisher_Close_NoWriters(t *testing.T) {
	p := New(&Config{Enabled: false})
	if err := p.Close(); err != nil {
		t.Errorf("expected no error closing disabled publisher, got %v", err)
	}

	p = &Publisher{}
	if err := p.Close(); err != nil {
		t.Errorf("expected no error closing publisher with nil writers, got %v", err)
	}
}
