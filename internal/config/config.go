// Package config loads service configuration from the environment.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"

	"speech-relay-service/internal/service/vad"
)

type Config struct {
	Service       ServiceConfig
	Audio         AudioConfig
	Segment       SegmentConfig
	Dispatch      DispatchConfig
	STT           STTConfig
	Kafka         KafkaConfig
	Twilio        TwilioConfig
	Observability ObservabilityConfig
}

type ServiceConfig struct {
	Principal   string
	HTTPPort    string
	GRPCPort    string
	MetricsPort string
	// StreamURL is the public WebSocket URL returned in the voice webhook.
	StreamURL     string
	ShutdownGrace time.Duration
}

type AudioConfig struct {
	SampleRateHz  int
	FrameDuration time.Duration
	VADMode       int
	// VADThresholds overrides the classifier's per-mode RMS levels when set.
	VADThresholds []float64
	EchoBuffer    int
}

type SegmentConfig struct {
	Silence           time.Duration
	MaxUtteranceBytes int
}

type DispatchConfig struct {
	QueueSize     int
	MaxConcurrent int
	JobTimeout    time.Duration
}

type STTConfig struct {
	Provider      string // mock, google, openai
	LanguageCode  string
	SampleRateHz  int
	AudioEncoding string
	Model         string

	OpenAIAPIKey  string
	OpenAIBaseURL string
	OpenAIModel   string

	MockDelay     time.Duration
	MockFailEvery int
}

type KafkaConfig struct {
	Enabled     bool
	Brokers     []string
	TopicFinal  string
	TopicFailed string
	Principal   string
}

// TwilioConfig enables outbound calls. Leave AccountSid empty to disable.
type TwilioConfig struct {
	AccountSid string
	AuthToken  string
	FromNumber string
	// VoiceURL is the public URL of the voice webhook that outbound calls
	// fetch their TwiML from.
	VoiceURL string
}

// Enabled reports whether outbound calls can be placed.
func (c TwilioConfig) Enabled() bool {
	return c.AccountSid != "" && c.AuthToken != "" && c.FromNumber != ""
}

type ObservabilityConfig struct {
	LogLevel  string
	LogFormat string
}

// LoadDotEnv loads variables from the given files, or .env when none are
// named. Missing files are not an error; variables already set win.
func LoadDotEnv(files ...string) {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		if err := godotenv.Load(f); err != nil {
			if !os.IsNotExist(err) {
				log.Warn().Err(err).Str("file", f).Msg("Failed to load env file")
			}
			continue
		}
		log.Info().Str("file", f).Msg("Loaded env file")
	}
}

func Load() *Config {
	principal := envOrDefault("SERVICE_PRINCIPAL", "svc-speech-relay")
	httpPort := envOrDefault("HTTP_PORT", "8080")

	logFormat := "json"
	if os.Getenv("ENV") == "dev" {
		logFormat = "console"
	}

	return &Config{
		Service: ServiceConfig{
			Principal:     principal,
			HTTPPort:      httpPort,
			GRPCPort:      envOrDefault("GRPC_PORT", "50051"),
			MetricsPort:   envOrDefault("METRICS_PORT", "9090"),
			StreamURL:     envOrDefault("STREAM_URL", "ws://localhost:"+httpPort+"/media"),
			ShutdownGrace: envOrDefaultDuration("SHUTDOWN_GRACE", 15*time.Second),
		},
		Audio: AudioConfig{
			SampleRateHz:  envOrDefaultInt("AUDIO_SAMPLE_RATE_HZ", 8000),
			FrameDuration: envOrDefaultDuration("AUDIO_FRAME_DURATION", 20*time.Millisecond),
			VADMode:       envOrDefaultInt("VAD_MODE", 2),
			VADThresholds: envOrDefaultFloats("VAD_THRESHOLDS", nil),
			EchoBuffer:    envOrDefaultInt("ECHO_BUFFER", 256),
		},
		Segment: SegmentConfig{
			Silence:           envOrDefaultDuration("SEGMENT_SILENCE", 200*time.Millisecond),
			MaxUtteranceBytes: envOrDefaultInt("SEGMENT_MAX_UTTERANCE_BYTES", 5*1024*1024),
		},
		Dispatch: DispatchConfig{
			QueueSize:     envOrDefaultInt("DISPATCH_QUEUE_SIZE", 32),
			MaxConcurrent: envOrDefaultInt("DISPATCH_MAX_CONCURRENT", 16),
			JobTimeout:    envOrDefaultDuration("DISPATCH_JOB_TIMEOUT", 30*time.Second),
		},
		STT: STTConfig{
			Provider:      strings.ToLower(envOrDefault("STT_PROVIDER", "mock")),
			LanguageCode:  envOrDefault("STT_LANGUAGE_CODE", "en-US"),
			SampleRateHz:  envOrDefaultInt("STT_SAMPLE_RATE_HZ", 8000),
			AudioEncoding: envOrDefault("STT_AUDIO_ENCODING", "LINEAR16"),
			Model:         envOrDefault("STT_MODEL", "phone_call"),
			OpenAIAPIKey:  os.Getenv("OPENAI_API_KEY"),
			OpenAIBaseURL: os.Getenv("OPENAI_BASE_URL"),
			OpenAIModel:   envOrDefault("OPENAI_MODEL", "whisper-1"),
			MockDelay:     envOrDefaultDuration("STT_MOCK_DELAY", 0),
			MockFailEvery: envOrDefaultInt("STT_MOCK_FAIL_EVERY", 0),
		},
		Kafka: KafkaConfig{
			Enabled:     envOrDefaultBool("KAFKA_ENABLED", false),
			Brokers:     envOrDefaultSlice("KAFKA_BROKERS", []string{"localhost:9092"}),
			TopicFinal:  envOrDefault("TOPIC_FINAL", "speech.transcript.final"),
			TopicFailed: envOrDefault("TOPIC_FAILED", "speech.transcript.failed"),
			Principal:   envOrDefault("KAFKA_PRINCIPAL", principal),
		},
		Twilio: TwilioConfig{
			AccountSid: os.Getenv("TWILIO_ACCOUNT_SID"),
			AuthToken:  os.Getenv("TWILIO_AUTH_TOKEN"),
			FromNumber: os.Getenv("TWILIO_FROM_NUMBER"),
			VoiceURL:   envOrDefault("VOICE_URL", "http://localhost:"+httpPort+"/voice"),
		},
		Observability: ObservabilityConfig{
			LogLevel:  envOrDefault("LOG_LEVEL", envOrDefault("ZEROLOG_LOG_LEVEL", "info")),
			LogFormat: envOrDefault("LOG_FORMAT", logFormat),
		},
	}
}

var supportedProviders = map[string]bool{"mock": true, "google": true, "openai": true}

// Validate checks values that have no safe fallback.
func (c *Config) Validate() error {
	var problems []string

	if err := vad.ValidateSampleRate(c.Audio.SampleRateHz); err != nil {
		problems = append(problems, fmt.Sprintf("AUDIO_SAMPLE_RATE_HZ %d not one of %v", c.Audio.SampleRateHz, vad.SupportedSampleRates))
	}
	if err := vad.ValidateDuration(c.Audio.FrameDuration); err != nil {
		problems = append(problems, fmt.Sprintf("AUDIO_FRAME_DURATION %v not one of %v", c.Audio.FrameDuration, vad.SupportedFrameDurations))
	}
	if !vad.Mode(c.Audio.VADMode).Valid() {
		problems = append(problems, fmt.Sprintf("VAD_MODE %d not in 0..3", c.Audio.VADMode))
	}
	if c.Audio.VADThresholds != nil {
		if _, err := c.Audio.Classifier(); err != nil {
			problems = append(problems, fmt.Sprintf("VAD_THRESHOLDS: %v", err))
		}
	}
	if c.Segment.Silence <= 0 {
		problems = append(problems, "SEGMENT_SILENCE must be positive")
	}
	if c.Dispatch.QueueSize <= 0 || c.Dispatch.MaxConcurrent <= 0 {
		problems = append(problems, "DISPATCH_QUEUE_SIZE and DISPATCH_MAX_CONCURRENT must be positive")
	}
	if !supportedProviders[c.STT.Provider] {
		problems = append(problems, fmt.Sprintf("STT_PROVIDER %q not one of mock/google/openai", c.STT.Provider))
	}
	if c.STT.Provider == "openai" && c.STT.OpenAIAPIKey == "" {
		problems = append(problems, "OPENAI_API_KEY is required for the openai provider")
	}
	if c.Kafka.Enabled && len(c.Kafka.Brokers) == 0 {
		problems = append(problems, "KAFKA_BROKERS is required when KAFKA_ENABLED")
	}

	if len(problems) > 0 {
		return fmt.Errorf("invalid configuration: %s", strings.Join(problems, "; "))
	}
	return nil
}

func envOrDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envOrDefaultInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}

func envOrDefaultBool(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return def
}

func envOrDefaultDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

// envOrDefaultFloats parses a comma-separated list, falling back to def if
// any element is not a number.
func envOrDefaultFloats(key string, def []float64) []float64 {
	parts := envOrDefaultSlice(key, nil)
	if parts == nil {
		return def
	}
	out := make([]float64, 0, len(parts))
	for _, p := range parts {
		f, err := strconv.ParseFloat(p, 64)
		if err != nil {
			return def
		}
		out = append(out, f)
	}
	return out
}

func envOrDefaultSlice(key string, def []string) []string {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	var out []string
	for _, s := range strings.Split(v, ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	if len(out) == 0 {
		return def
	}
	return out
}

// Classifier builds the voice activity classifier, applying VADThresholds
// when they are set.
func (a AudioConfig) Classifier() (*vad.EnergyClassifier, error) {
	if a.VADThresholds == nil {
		return vad.NewEnergyClassifier(), nil
	}
	if len(a.VADThresholds) != 4 {
		return nil, fmt.Errorf("want 4 thresholds, one per mode, got %d", len(a.VADThresholds))
	}
	var th [4]float64
	copy(th[:], a.VADThresholds)
	return vad.NewEnergyClassifierWithThresholds(th)
}
