// Package app wires the relay's long-lived components together.
package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"speech-relay-service/internal/config"
	"speech-relay-service/internal/events"
	"speech-relay-service/internal/observability/logging"
	"speech-relay-service/internal/observability/metrics"
	"speech-relay-service/internal/schema"
	"speech-relay-service/internal/service/dispatch"
	"speech-relay-service/internal/service/segment"
	"speech-relay-service/internal/service/session"
	"speech-relay-service/internal/service/stt"
	"speech-relay-service/internal/service/stt/google"
	"speech-relay-service/internal/service/stt/mock"
	"speech-relay-service/internal/service/stt/openai"
	"speech-relay-service/internal/service/vad"
)

// Application holds process-wide state for the service.
type Application struct {
	StartupTime time.Time
	Logger      zerolog.Logger
	Cfg         *config.Config

	Classifier  vad.Classifier
	Transcriber stt.Transcriber
	Publisher   *events.Publisher
	Dispatcher  *dispatch.Dispatcher
	Sessions    *session.Manager
}

// New constructs a new Application from the provided configuration.
func New(cfg *config.Config) *Application {
	a := &Application{
		Cfg: cfg,
	}
	a.setupLogger()

	a.Logger.Info().
		Str("method", "New").
		Msg("Speech relay application created")
	return a
}

// setupLogger configures zerolog for the service.
func (a *Application) setupLogger() {
	logging.Init(logging.Config{
		Level:      a.Cfg.Observability.LogLevel,
		Format:     a.Cfg.Observability.LogFormat,
		TimeFormat: time.RFC3339,
	})

	a.Logger = logging.WithComponent("application").With().
		Str("service", a.Cfg.Service.Principal).
		Logger()

	a.Logger.Info().
		Str("logLevel", zerolog.GlobalLevel().String()).
		Str("logFormat", a.Cfg.Observability.LogFormat).
		Msg("Logger setup completed")
}

// Start builds the transcription pipeline. A nil transcriber is replaced
// by the configured provider.
func (a *Application) Start(ctx context.Context) error {
	startLogger := a.Logger.With().
		Str("method", "Start").
		Logger()

	a.StartupTime = time.Now().UTC()
	cfg := a.Cfg

	if a.Classifier == nil {
		c, err := cfg.Audio.Classifier()
		if err != nil {
			return fmt.Errorf("create classifier: %w", err)
		}
		a.Classifier = c
	}
	if a.Transcriber == nil {
		t, err := NewTranscriber(ctx, cfg.STT)
		if err != nil {
			return fmt.Errorf("create %s transcriber: %w", cfg.STT.Provider, err)
		}
		a.Transcriber = t
	}

	a.Publisher = events.New(&events.Config{
		Brokers:     cfg.Kafka.Brokers,
		TopicFinal:  cfg.Kafka.TopicFinal,
		TopicFailed: cfg.Kafka.TopicFailed,
		Principal:   cfg.Kafka.Principal,
		Enabled:     cfg.Kafka.Enabled,
	})

	sink := events.NewSink(a.Publisher, schema.New(), events.SinkConfig{
		Provider:      a.Transcriber.Name(),
		SampleRateHz:  cfg.Audio.SampleRateHz,
		FrameDuration: cfg.Audio.FrameDuration,
	})

	a.Dispatcher = dispatch.New(a.Transcriber, sink, dispatch.Config{
		QueueSize:     cfg.Dispatch.QueueSize,
		MaxConcurrent: cfg.Dispatch.MaxConcurrent,
		JobTimeout:    cfg.Dispatch.JobTimeout,
		SampleRateHz:  cfg.Audio.SampleRateHz,
	}, metrics.DefaultMetrics)

	a.Sessions = session.NewManager(SessionConfig(cfg), a.Classifier, a.Dispatcher, metrics.DefaultMetrics)

	startLogger.Info().
		Time("startupTime", a.StartupTime).
		Str("sttProvider", a.Transcriber.Name()).
		Bool("kafkaEnabled", a.Publisher.Enabled()).
		Dur("silence", cfg.Segment.Silence).
		Str("vadMode", vad.Mode(cfg.Audio.VADMode).String()).
		Msg("Speech relay starting")

	return nil
}

// Ready reports whether Start has completed.
func (a *Application) Ready() bool {
	return a.Sessions != nil
}

// SessionConfig derives per-session settings from the configuration.
func SessionConfig(cfg *config.Config) session.Config {
	return session.Config{
		SampleRateHz:  cfg.Audio.SampleRateHz,
		FrameDuration: cfg.Audio.FrameDuration,
		Mode:          vad.Mode(cfg.Audio.VADMode),
		Segment: segment.Config{
			SilenceFrames:     segment.ThresholdFrames(cfg.Segment.Silence, cfg.Audio.FrameDuration),
			MaxUtteranceBytes: cfg.Segment.MaxUtteranceBytes,
		},
		EchoBuffer: cfg.Audio.EchoBuffer,
	}
}

// NewTranscriber creates the backend named by cfg.Provider.
func NewTranscriber(ctx context.Context, cfg config.STTConfig) (stt.Transcriber, error) {
	switch cfg.Provider {
	case "mock", "":
		return mock.New(mock.Config{Delay: cfg.MockDelay, FailEvery: cfg.MockFailEvery}), nil
	case "google":
		t, err := google.New(ctx, google.Config{
			LanguageCode:  cfg.LanguageCode,
			SampleRateHz:  cfg.SampleRateHz,
			AudioEncoding: cfg.AudioEncoding,
			Model:         cfg.Model,
		})
		if err != nil {
			return nil, err
		}
		return t, nil
	case "openai":
		t, err := openai.New(openai.Config{
			APIKey:       cfg.OpenAIAPIKey,
			BaseURL:      cfg.OpenAIBaseURL,
			Model:        cfg.OpenAIModel,
			Language:     languageTag(cfg.LanguageCode),
			SampleRateHz: cfg.SampleRateHz,
		})
		if err != nil {
			return nil, err
		}
		return t, nil
	default:
		return nil, fmt.Errorf("unknown STT provider %q", cfg.Provider)
	}
}

// languageTag reduces a BCP-47 code such as en-US to its ISO-639-1 part.
func languageTag(code string) string {
	for i := 0; i < len(code); i++ {
		if code[i] == '-' || code[i] == '_' {
			return code[:i]
		}
	}
	return code
}

// Shutdown waits for sessions, drains the dispatcher and closes backends.
// Callers cancel the sessions' context before calling it.
func (a *Application) Shutdown(ctx context.Context) error {
	shutdownLogger := a.Logger.With().
		Str("method", "Shutdown").
		Logger()

	shutdownLogger.Info().Msg("Speech relay shutting down")

	var errs []error
	if a.Sessions != nil {
		if err := a.Sessions.Wait(ctx); err != nil {
			errs = append(errs, fmt.Errorf("wait for sessions: %w", err))
		}
	}
	if a.Dispatcher != nil {
		if err := a.Dispatcher.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("drain dispatcher: %w", err))
		}
	}
	if a.Publisher != nil {
		if err := a.Publisher.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close publisher: %w", err))
		}
	}
	if a.Transcriber != nil {
		if err := a.Transcriber.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close transcriber: %w", err))
		}
	}

	err := errors.Join(errs...)
	if err != nil {
		shutdownLogger.Error().Err(err).Msg("Shutdown incomplete")
	} else {
		shutdownLogger.Info().Msg("Shutdown complete")
	}
	return err
}
