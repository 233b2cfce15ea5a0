// Package google provides a Google Cloud Speech-to-Text backend.
package google

import (
	"context"
	"fmt"
	"strings"

	speech "cloud.google.com/go/speech/apiv1"
	"cloud.google.com/go/speech/apiv1/speechpb"

	"speech-relay-service/internal/service/codec"
	"speech-relay-service/internal/service/stt"
)

// Config holds recognition settings.
type Config struct {
	LanguageCode  string
	SampleRateHz  int
	AudioEncoding string // LINEAR16 or MULAW; audio is re-encoded for MULAW
	Model         string
}

// DefaultConfig returns settings for 8kHz telephony audio.
func DefaultConfig() Config {
	return Config{
		LanguageCode:  "en-US",
		SampleRateHz:  8000,
		AudioEncoding: "LINEAR16",
		Model:         "phone_call",
	}
}

type recognizeFunc func(ctx context.Context, req *speechpb.RecognizeRequest) (*speechpb.RecognizeResponse, error)

// Adapter implements stt.Transcriber using synchronous recognition.
type Adapter struct {
	cfg       Config
	client    *speech.Client
	recognize recognizeFunc
}

// New creates a new Google STT adapter.
// Requires GOOGLE_APPLICATION_CREDENTIALS environment variable to be set.
func New(ctx context.Context, cfg Config) (*Adapter, error) {
	c, err := speech.NewClient(ctx)
	if err != nil {
		return nil, err
	}
	return &Adapter{
		cfg:    cfg,
		client: c,
		recognize: func(ctx context.Context, req *speechpb.RecognizeRequest) (*speechpb.RecognizeResponse, error) {
			return c.Recognize(ctx, req)
		},
	}, nil
}

// Name implements stt.Transcriber.
func (a *Adapter) Name() string { return "google" }

// Transcribe sends one utterance to Google and joins the top alternatives.
func (a *Adapter) Transcribe(ctx context.Context, audio stt.Audio) (stt.Transcript, error) {
	req, err := a.request(audio)
	if err != nil {
		return stt.Transcript{}, fmt.Errorf("%w: %w", stt.ErrTranscription, err)
	}

	resp, err := a.recognize(ctx, req)
	if err != nil {
		return stt.Transcript{}, fmt.Errorf("%w: google recognize: %w", stt.ErrTranscription, err)
	}

	var (
		parts      []string
		confidence float64
		language   string
	)
	for _, r := range resp.GetResults() {
		if len(r.GetAlternatives()) == 0 {
			continue
		}
		alt := r.GetAlternatives()[0]
		parts = append(parts, strings.TrimSpace(alt.GetTranscript()))
		confidence += float64(alt.GetConfidence())
		if language == "" {
			language = r.GetLanguageCode()
		}
	}
	if len(parts) > 0 {
		confidence /= float64(len(parts))
	}
	if language == "" {
		language = a.cfg.LanguageCode
	}

	return stt.Transcript{
		Text:       strings.Join(parts, " "),
		Confidence: confidence,
		Language:   language,
	}, nil
}

func (a *Adapter) request(audio stt.Audio) (*speechpb.RecognizeRequest, error) {
	encoding := parseAudioEncoding(a.cfg.AudioEncoding)
	content := audio.PCM
	if encoding == speechpb.RecognitionConfig_MULAW {
		ulaw, err := codec.EncodeMuLaw(audio.PCM)
		if err != nil {
			return nil, err
		}
		content = ulaw
	} else {
		encoding = speechpb.RecognitionConfig_LINEAR16
	}

	rate := audio.SampleRateHz
	if rate == 0 {
		rate = a.cfg.SampleRateHz
	}

	return &speechpb.RecognizeRequest{
		Config: &speechpb.RecognitionConfig{
			Encoding:        encoding,
			SampleRateHertz: int32(rate),
			LanguageCode:    a.cfg.LanguageCode,
			Model:           a.cfg.Model,
		},
		Audio: &speechpb.RecognitionAudio{
			AudioSource: &speechpb.RecognitionAudio_Content{Content: content},
		},
	}, nil
}

// Close releases the underlying gRPC connection.
func (a *Adapter) Close() error {
	if a.client != nil {
		return a.client.Close()
	}
	return nil
}

// parseAudioEncoding maps a config string to the Google enum, falling back
// to LINEAR16 for unknown values.
func parseAudioEncoding(s string) speechpb.RecognitionConfig_AudioEncoding {
	switch s {
	case "LINEAR16":
		return speechpb.RecognitionConfig_LINEAR16
	case "MULAW":
		return speechpb.RecognitionConfig_MULAW
	case "FLAC":
		return speechpb.RecognitionConfig_FLAC
	case "AMR":
		return speechpb.RecognitionConfig_AMR
	case "AMR_WB":
		return speechpb.RecognitionConfig_AMR_WB
	case "OGG_OPUS":
		return speechpb.RecognitionConfig_OGG_OPUS
	case "SPEEX_WITH_HEADER_BYTE":
		return speechpb.RecognitionConfig_SPEEX_WITH_HEADER_BYTE
	case "WEBM_OPUS":
		return speechpb.RecognitionConfig_WEBM_OPUS
	default:
		return speechpb.RecognitionConfig_LINEAR16
	}
}
