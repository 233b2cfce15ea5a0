// Package openai provides a Whisper transcription backend.
package openai

import (
	"bytes"
	"context"
	"fmt"
	"strings"

	goopenai "github.com/sashabaranov/go-openai"

	"speech-relay-service/internal/service/codec"
	"speech-relay-service/internal/service/stt"
)

// Config holds Whisper settings.
type Config struct {
	APIKey       string
	BaseURL      string // optional, for compatible endpoints
	Model        string
	Language     string // ISO-639-1, optional
	SampleRateHz int
}

// DefaultConfig returns Whisper defaults for telephony audio.
func DefaultConfig() Config {
	return Config{
		Model:        goopenai.Whisper1,
		Language:     "en",
		SampleRateHz: 8000,
	}
}

type transcriptionClient interface {
	CreateTranscription(ctx context.Context, request goopenai.AudioRequest) (goopenai.AudioResponse, error)
}

// Adapter implements stt.Transcriber by uploading each utterance as WAV.
type Adapter struct {
	cfg    Config
	client transcriptionClient
}

// New creates a new Whisper adapter.
func New(cfg Config) (*Adapter, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("openai API key cannot be empty")
	}
	if cfg.Model == "" {
		cfg.Model = goopenai.Whisper1
	}
	if cfg.SampleRateHz <= 0 {
		cfg.SampleRateHz = 8000
	}

	clientCfg := goopenai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}
	return &Adapter{cfg: cfg, client: goopenai.NewClientWithConfig(clientCfg)}, nil
}

// Name implements stt.Transcriber.
func (a *Adapter) Name() string { return "openai" }

// Transcribe implements stt.Transcriber.
func (a *Adapter) Transcribe(ctx context.Context, audio stt.Audio) (stt.Transcript, error) {
	rate := audio.SampleRateHz
	if rate == 0 {
		rate = a.cfg.SampleRateHz
	}
	wav, err := codec.EncodeWAV(audio.PCM, rate)
	if err != nil {
		return stt.Transcript{}, fmt.Errorf("%w: %w", stt.ErrTranscription, err)
	}

	resp, err := a.client.CreateTranscription(ctx, goopenai.AudioRequest{
		Model:    a.cfg.Model,
		FilePath: "utterance.wav",
		Reader:   bytes.NewReader(wav),
		Language: a.cfg.Language,
		Format:   goopenai.AudioResponseFormatJSON,
	})
	if err != nil {
		return stt.Transcript{}, fmt.Errorf("%w: whisper: %w", stt.ErrTranscription, err)
	}

	language := resp.Language
	if language == "" {
		language = a.cfg.Language
	}
	return stt.Transcript{Text: strings.TrimSpace(resp.Text), Language: language}, nil
}

// Close implements stt.Transcriber. The HTTP client holds no resources.
func (a *Adapter) Close() error { return nil }
