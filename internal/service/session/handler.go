// Package session runs one media stream connection: it echoes every frame,
// segments the audio into utterances and hands them to the dispatcher.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"speech-relay-service/internal/models"
	"speech-relay-service/internal/observability/logging"
	"speech-relay-service/internal/observability/metrics"
	"speech-relay-service/internal/service/codec"
	"speech-relay-service/internal/service/dispatch"
	"speech-relay-service/internal/service/segment"
	"speech-relay-service/internal/service/vad"
)

// Conn is the message transport. *websocket.Conn satisfies it. One
// goroutine reads while another writes.
type Conn interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteJSON(v any) error
	Close() error
}

// Dispatcher accepts utterances for background transcription.
type Dispatcher interface {
	Submit(sessionID string, utt *segment.Utterance) (*dispatch.Job, error)
	CloseSession(sessionID string)
}

// Config holds per-session audio parameters.
type Config struct {
	SampleRateHz  int
	FrameDuration time.Duration
	Mode          vad.Mode
	Segment       segment.Config
	// EchoBuffer bounds echoes waiting for the writer. A full buffer
	// applies backpressure to the read loop; echoes are never dropped.
	EchoBuffer int
}

// DefaultConfig returns telephony defaults: 8 kHz, 20 ms frames, 200 ms
// trailing silence.
func DefaultConfig() Config {
	return Config{
		SampleRateHz:  8000,
		FrameDuration: 20 * time.Millisecond,
		Mode:          vad.ModeAggressive,
		Segment:       segment.DefaultConfig(),
		EchoBuffer:    256,
	}
}

// Handler owns one session. Run must be called once.
type Handler struct {
	cfg        Config
	classifier vad.Classifier
	dispatcher Dispatcher
	metrics    *metrics.Metrics
	logger     zerolog.Logger

	seg  *segment.Segmenter
	echo chan models.EchoMessage

	mu         sync.Mutex
	id         string
	streamSid  string
	callSid    string
	state      State
	seq        uint64
	utterances int
}

// NewHandler creates a handler in the Idle state.
func NewHandler(cfg Config, classifier vad.Classifier, d Dispatcher, m *metrics.Metrics) *Handler {
	def := DefaultConfig()
	if cfg.EchoBuffer <= 0 {
		cfg.EchoBuffer = def.EchoBuffer
	}
	if cfg.SampleRateHz <= 0 {
		cfg.SampleRateHz = def.SampleRateHz
	}
	if cfg.FrameDuration <= 0 {
		cfg.FrameDuration = def.FrameDuration
	}
	if m == nil {
		m = metrics.DefaultMetrics
	}
	return &Handler{
		cfg:        cfg,
		classifier: classifier,
		dispatcher: d,
		metrics:    m,
		logger:     logging.WithComponent("session"),
		echo:       make(chan models.EchoMessage, cfg.EchoBuffer),
	}
}

// Info returns a snapshot of the session.
func (h *Handler) Info() Info {
	h.mu.Lock()
	defer h.mu.Unlock()
	return Info{
		ID:         h.id,
		StreamSid:  h.streamSid,
		CallSid:    h.callSid,
		State:      h.state,
		Frames:     h.seq,
		Utterances: h.utterances,
	}
}

// Run processes messages from conn until a stop event, a transport error or
// ctx cancellation. Pending audio is flushed in every case. The returned
// error is the transport error, or nil after a stop event or normal close.
func (h *Handler) Run(ctx context.Context, conn Conn) error {
	started := time.Now()
	h.metrics.RecordSessionStart()

	writerDone := make(chan struct{})
	go h.writeLoop(conn, writerDone)

	// ReadMessage does not take a context; closing the connection is the
	// only way to unblock it.
	runDone := make(chan struct{})
	defer close(runDone)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-runDone:
		}
	}()

	cause, err := h.readLoop(ctx, conn)

	h.finish(cause)
	close(h.echo)
	<-writerDone
	conn.Close()

	h.metrics.RecordSessionEnd(cause, time.Since(started).Seconds())
	info := h.Info()
	h.logger.Info().
		Str("cause", cause).
		Uint64("frames", info.Frames).
		Int("utterances", info.Utterances).
		Dur("duration", time.Since(started)).
		Msg("Session closed")

	return err
}

func (h *Handler) readLoop(ctx context.Context, conn Conn) (string, error) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return "canceled", nil
			}
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				h.logger.Info().Msg("Stream closed by peer without stop")
				return "closed", nil
			}
			h.logger.Warn().Err(err).Msg("Stream read failed")
			return "transport_error", err
		}

		var msg models.StreamMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			h.logger.Warn().Err(err).Int("bytes", len(data)).Msg("Skipping malformed message")
			continue
		}

		switch msg.Event {
		case models.StreamEventStart:
			h.onStart(&msg)
		case models.StreamEventMedia:
			h.onMedia(&msg)
		case models.StreamEventStop:
			h.logger.Info().Msg("Stop received")
			return "stop", nil
		default:
			h.logger.Debug().Str("event", msg.Event).Msg("Ignoring event")
		}
	}
}

// writeLoop is the only writer on conn. After a write error it keeps
// draining so the read loop never blocks on a dead socket.
func (h *Handler) writeLoop(conn Conn, done chan<- struct{}) {
	defer close(done)

	var failed bool
	for msg := range h.echo {
		if failed {
			continue
		}
		if err := conn.WriteJSON(msg); err != nil {
			log.Warn().Err(err).Str("component", "session").Str("streamSid", msg.StreamSid).Msg("Echo write failed")
			failed = true
			continue
		}
		h.metrics.RecordEcho()
	}
}

func (h *Handler) onStart(msg *models.StreamMessage) {
	streamSid, callSid := msg.StreamSid, ""
	if msg.Start != nil {
		if msg.Start.StreamSid != "" {
			streamSid = msg.Start.StreamSid
		}
		callSid = msg.Start.CallSid
	}

	// A repeated start begins a fresh session; audio of the previous one
	// is flushed first.
	h.mu.Lock()
	restart := h.state == StateActive
	h.mu.Unlock()
	if restart {
		h.logger.Warn().Msg("Start received on active session, restarting")
		h.finish("restart")
	}

	h.activate(streamSid, callSid)
	if msg.Start != nil && msg.Start.MediaFormat != nil {
		f := msg.Start.MediaFormat
		if f.SampleRate != 0 && f.SampleRate != h.cfg.SampleRateHz {
			h.logger.Warn().
				Int("streamRate", f.SampleRate).
				Int("configuredRate", h.cfg.SampleRateHz).
				Msg("Stream sample rate differs from configuration")
		}
	}
	h.logger.Info().Str("callSid", callSid).Msg("Session started")
}

// activate starts a session. Its id is the streamSid, which the provider
// issues per stream; several streams of one call share the callSid.
func (h *Handler) activate(streamSid, callSid string) {
	id := streamSid
	if id == "" {
		id = callSid
	}
	if id == "" {
		id = uuid.NewString()
	}

	h.mu.Lock()
	h.id = id
	h.streamSid = streamSid
	h.callSid = callSid
	h.state = StateActive
	h.seq = 0
	h.mu.Unlock()

	h.seg = segment.NewSegmenter(h.cfg.Segment)
	h.logger = logging.WithSession(id, streamSid)
}

func (h *Handler) onMedia(msg *models.StreamMessage) {
	h.mu.Lock()
	idle := h.state == StateIdle
	h.mu.Unlock()
	if idle {
		h.activate(msg.StreamSid, "")
		h.logger.Info().Msg("Media before start, session activated implicitly")
	}

	var payload string
	if msg.Media != nil {
		payload = msg.Media.Payload
	}

	h.mu.Lock()
	h.seq++
	seq := h.seq
	streamSid := h.streamSid
	h.mu.Unlock()

	h.metrics.RecordFrame()
	h.echo <- models.NewEcho(streamSid, payload)

	pcm, err := codec.DecodePayload(payload)
	if err != nil {
		h.drop(seq, "decode", err)
		return
	}
	h.metrics.RecordDecoded(len(pcm))

	if err := vad.ValidateFrame(pcm, h.cfg.SampleRateHz, h.cfg.FrameDuration); err != nil {
		h.drop(seq, "unsupported_frame", err)
		return
	}

	speech, err := h.classifier.Classify(pcm, h.cfg.SampleRateHz, h.cfg.Mode)
	switch {
	case errors.Is(err, vad.ErrUnsupportedFrame):
		h.drop(seq, "unsupported_frame", err)
		return
	case err != nil:
		h.metrics.RecordClassificationError()
		h.logger.Warn().Err(err).Uint64("seq", seq).Msg("Classification failed, treating frame as non-speech")
		speech = false
	default:
		h.metrics.RecordClassified(speech)
	}

	utt, err := h.seg.Push(pcm, speech, seq)
	if err != nil {
		h.logger.Debug().Err(err).Uint64("seq", seq).Msg("Frame after segmenter stop")
		return
	}
	if utt != nil {
		h.submit(utt)
	}
}

func (h *Handler) drop(seq uint64, reason string, err error) {
	h.metrics.RecordFrameDropped(reason)
	h.logger.Debug().Err(err).Uint64("seq", seq).Str("reason", reason).Msg("Frame dropped")
}

func (h *Handler) submit(utt *segment.Utterance) {
	h.mu.Lock()
	id := h.id
	h.utterances++
	h.mu.Unlock()

	h.metrics.RecordUtterance(string(utt.Reason), len(utt.PCM))

	job, err := h.dispatcher.Submit(id, utt)
	if err != nil {
		h.logger.Error().
			Err(err).
			Int("bytes", len(utt.PCM)).
			Str("reason", string(utt.Reason)).
			Msg("Utterance not submitted")
		return
	}

	logger := logging.WithUtterance(id, job.ID)
	logger.Info().
		Uint64("jobSeq", job.Seq).
		Uint64("startFrame", utt.StartSeq).
		Uint64("endFrame", utt.EndSeq).
		Int("frames", utt.Frames).
		Int("bytes", len(utt.PCM)).
		Str("reason", string(utt.Reason)).
		Msg("Utterance submitted")
}

// finish flushes pending audio and closes the session. It is a no-op for
// sessions that never became active.
func (h *Handler) finish(cause string) {
	h.mu.Lock()
	active := h.state == StateActive
	id := h.id
	h.state = StateClosed
	h.mu.Unlock()

	if !active {
		return
	}
	if utt := h.seg.Stop(); utt != nil {
		h.submit(utt)
	}
	h.dispatcher.CloseSession(id)
	h.logger.Debug().Str("cause", cause).Msg("Segmenter flushed")
}
