package openai

import (
	"context"
	"errors"
	"io"
	"testing"

	goopenai "github.com/sashabaranov/go-openai"

	"speech-relay-service/internal/service/stt"
)

type fakeClient struct {
	req  goopenai.AudioRequest
	body []byte
	resp goopenai.AudioResponse
	err  error
}

func (f *fakeClient) CreateTranscription(ctx context.Context, req goopenai.AudioRequest) (goopenai.AudioResponse, error) {
	f.req = req
	f.body, _ = io.ReadAll(req.Reader)
	return f.resp, f.err
}

func TestNew_RequiresAPIKey(t *testing.T) {
	if _, err := New(Config{}); err == nil {
		t.Error("expected error for empty API key")
	}
	a, err := New(Config{APIKey: "sk-test"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if a.cfg.Model != goopenai.Whisper1 {
		t.Errorf("expected default model %s, got %s", goopenai.Whisper1, a.cfg.Model)
	}
	if a.Name() != "openai" {
		t.Errorf("expected name 'openai', got %s", a.Name())
	}
}

func TestAdapter_Transcribe_UploadsWAV(t *testing.T) {
	fake := &fakeClient{resp: goopenai.AudioResponse{Text: " hello there ", Language: "english"}}
	a := &Adapter{cfg: DefaultConfig(), client: fake}

	tr, err := a.Transcribe(context.Background(), stt.Audio{PCM: make([]byte, 320)})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if tr.Text != "hello there" {
		t.Errorf("expected trimmed text, got %q", tr.Text)
	}
	if tr.Language != "english" {
		t.Errorf("expected language 'english', got %s", tr.Language)
	}
	if string(fake.body[0:4]) != "RIFF" || len(fake.body) != 44+320 {
		t.Errorf("expected a 364-byte WAV upload, got %d bytes", len(fake.body))
	}
	if fake.req.FilePath != "utterance.wav" || fake.req.Model != goopenai.Whisper1 {
		t.Errorf("unexpected request %+v", fake.req)
	}
}

func TestAdapter_Transcribe_Errors(t *testing.T) {
	fake := &fakeClient{err: errors.New("429 too many requests")}
	a := &Adapter{cfg: DefaultConfig(), client: fake}

	if _, err := a.Transcribe(context.Background(), stt.Audio{PCM: make([]byte, 320)}); !errors.Is(err, stt.ErrTranscription) {
		t.Errorf("expected ErrTranscription, got %v", err)
	}
	if _, err := a.Transcribe(context.Background(), stt.Audio{}); !errors.Is(err, stt.ErrTranscription) {
		t.Errorf("expected ErrTranscription for empty audio, got %v", err)
	}
}
