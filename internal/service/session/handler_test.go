package session

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"speech-relay-service/internal/models"
	"speech-relay-service/internal/service/dispatch"
	"speech-relay-service/internal/service/segment"
	"speech-relay-service/internal/service/vad"
)

// fakeConn replays scripted messages. Once they run out it returns io.EOF,
// unless hold is set, in which case it blocks until Close.
type fakeConn struct {
	in      chan []byte
	hold    bool
	closeCh chan struct{}
	once    sync.Once

	mu     sync.Mutex
	out    []models.EchoMessage
	raw    [][]byte
	closed int
}

func newFakeConn(hold bool, msgs ...string) *fakeConn {
	c := &fakeConn{
		in:      make(chan []byte, len(msgs)),
		hold:    hold,
		closeCh: make(chan struct{}),
	}
	for _, m := range msgs {
		c.in <- []byte(m)
	}
	if !hold {
		close(c.in)
	}
	return c
}

func (c *fakeConn) ReadMessage() (int, []byte, error) {
	select {
	case m, ok := <-c.in:
		if !ok {
			return 0, nil, io.EOF
		}
		return websocket.TextMessage, m, nil
	case <-c.closeCh:
		return 0, nil, errors.New("use of closed network connection")
	}
}

func (c *fakeConn) WriteJSON(v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.out = append(c.out, v.(models.EchoMessage))
	c.raw = append(c.raw, b)
	return nil
}

func (c *fakeConn) Close() error {
	c.once.Do(func() { close(c.closeCh) })
	c.mu.Lock()
	c.closed++
	c.mu.Unlock()
	return nil
}

func (c *fakeConn) echoes() []models.EchoMessage {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]models.EchoMessage(nil), c.out...)
}

type submitted struct {
	sessionID string
	utt       *segment.Utterance
}

type fakeDispatcher struct {
	mu     sync.Mutex
	subs   []submitted
	closed []string
	err    error
}

func (d *fakeDispatcher) Submit(sessionID string, utt *segment.Utterance) (*dispatch.Job, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.err != nil {
		return nil, d.err
	}
	d.subs = append(d.subs, submitted{sessionID, utt})
	return &dispatch.Job{ID: fmt.Sprintf("%s-utt-%d", sessionID, len(d.subs)), SessionID: sessionID, Seq: uint64(len(d.subs))}, nil
}

func (d *fakeDispatcher) CloseSession(sessionID string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.closed = append(d.closed, sessionID)
}

// failingClassifier fails for frames whose first PCM byte is failOn and
// otherwise defers to the energy classifier.
type failingClassifier struct {
	failOn byte
	next   vad.Classifier
}

func (c *failingClassifier) Classify(frame []byte, rate int, mode vad.Mode) (bool, error) {
	if frame[0] == c.failOn {
		return false, fmt.Errorf("%w: backend error", vad.ErrClassification)
	}
	return c.next.Classify(frame, rate, mode)
}

const frameLen = 160 // 20 ms of 8 kHz mu-law

// speechPayload decodes to full-scale samples, silencePayload to zeros.
var (
	speechPayload  = base64.StdEncoding.EncodeToString(bytes.Repeat([]byte{0x80}, frameLen))
	silencePayload = base64.StdEncoding.EncodeToString(bytes.Repeat([]byte{0xFF}, frameLen))
)

func startMsg(streamSid, callSid string) string {
	return fmt.Sprintf(`{"event":"start","streamSid":%q,"start":{"streamSid":%q,"callSid":%q,"mediaFormat":{"encoding":"audio/x-mulaw","sampleRate":8000,"channels":1}}}`,
		streamSid, streamSid, callSid)
}

func mediaMsg(streamSid, payload string) string {
	return fmt.Sprintf(`{"event":"media","streamSid":%q,"media":{"track":"inbound","payload":%q}}`, streamSid, payload)
}

const stopMsg = `{"event":"stop","stop":{"callSid":"CA1"}}`

func repeat(n int, msg string) []string {
	out := make([]string, n)
	for i := range out {
		out[i] = msg
	}
	return out
}

func script(parts ...any) []string {
	var out []string
	for _, p := range parts {
		switch v := p.(type) {
		case string:
			out = append(out, v)
		case []string:
			out = append(out, v...)
		}
	}
	return out
}

func run(t *testing.T, c vad.Classifier, msgs []string) (*fakeConn, *fakeDispatcher, *Handler, error) {
	t.Helper()
	if c == nil {
		c = vad.NewEnergyClassifier()
	}
	conn := newFakeConn(false, msgs...)
	d := &fakeDispatcher{}
	h := NewHandler(DefaultConfig(), c, d, nil)
	err := h.Run(context.Background(), conn)
	return conn, d, h, err
}

func TestRun_SpeechThenStop(t *testing.T) {
	msgs := script(startMsg("MZ1", "CA1"), repeat(30, mediaMsg("MZ1", speechPayload)), stopMsg)
	conn, d, h, err := run(t, nil, msgs)
	if err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}

	if len(d.subs) != 1 {
		t.Fatalf("expected 1 utterance, got %d", len(d.subs))
	}
	u := d.subs[0].utt
	if len(u.PCM) != 30*frameLen*2 {
		t.Errorf("expected %d bytes, got %d", 30*frameLen*2, len(u.PCM))
	}
	if u.Reason != segment.ReasonStop {
		t.Errorf("expected reason %s, got %s", segment.ReasonStop, u.Reason)
	}
	if u.StartSeq != 1 || u.EndSeq != 30 {
		t.Errorf("expected frames 1..30, got %d..%d", u.StartSeq, u.EndSeq)
	}
	if d.subs[0].sessionID != "MZ1" {
		t.Errorf("expected session id MZ1, got %s", d.subs[0].sessionID)
	}
	if got := len(conn.echoes()); got != 30 {
		t.Errorf("expected 30 echoes, got %d", got)
	}
	if len(d.closed) != 1 || d.closed[0] != "MZ1" {
		t.Errorf("expected dispatcher session MZ1 closed, got %v", d.closed)
	}
	if info := h.Info(); info.State != StateClosed || info.Frames != 30 {
		t.Errorf("expected CLOSED after 30 frames, got %s after %d", info.State, info.Frames)
	}
}

func TestRun_SilenceEndsUtterance(t *testing.T) {
	msgs := script(
		startMsg("MZ1", "CA1"),
		repeat(5, mediaMsg("MZ1", speechPayload)),
		repeat(11, mediaMsg("MZ1", silencePayload)),
		stopMsg,
	)
	conn, d, _, _ := run(t, nil, msgs)

	if len(d.subs) != 1 {
		t.Fatalf("expected 1 utterance, got %d", len(d.subs))
	}
	u := d.subs[0].utt
	if u.Reason != segment.ReasonSilence {
		t.Errorf("expected reason %s, got %s", segment.ReasonSilence, u.Reason)
	}
	if u.Frames != 5 || len(u.PCM) != 5*frameLen*2 {
		t.Errorf("expected 5 frames of speech, got %d frames, %d bytes", u.Frames, len(u.PCM))
	}
	if got := len(conn.echoes()); got != 16 {
		t.Errorf("expected 16 echoes, got %d", got)
	}
}

func TestRun_StartThenStop(t *testing.T) {
	conn, d, _, err := run(t, nil, []string{startMsg("MZ1", "CA1"), stopMsg})
	if err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if len(d.subs) != 0 {
		t.Errorf("expected no utterances, got %d", len(d.subs))
	}
	if got := len(conn.echoes()); got != 0 {
		t.Errorf("expected no echoes, got %d", got)
	}
}

func TestRun_BadPayloadEchoedButDropped(t *testing.T) {
	msgs := script(
		startMsg("MZ1", "CA1"),
		mediaMsg("MZ1", speechPayload),
		mediaMsg("MZ1", "abc"),
		mediaMsg("MZ1", "!!!!"),
		mediaMsg("MZ1", base64.StdEncoding.EncodeToString(make([]byte, 7))),
		mediaMsg("MZ1", speechPayload),
		stopMsg,
	)
	conn, d, _, _ := run(t, nil, msgs)

	echoes := conn.echoes()
	if len(echoes) != 5 {
		t.Fatalf("expected 5 echoes, got %d", len(echoes))
	}
	if echoes[1].Media.Payload != "abc" || echoes[2].Media.Payload != "!!!!" {
		t.Errorf("expected bad payloads echoed verbatim, got %q, %q", echoes[1].Media.Payload, echoes[2].Media.Payload)
	}

	if len(d.subs) != 1 {
		t.Fatalf("expected 1 utterance, got %d", len(d.subs))
	}
	u := d.subs[0].utt
	if u.Frames != 2 || len(u.PCM) != 2*frameLen*2 {
		t.Errorf("expected only the 2 valid frames, got %d frames, %d bytes", u.Frames, len(u.PCM))
	}
	if u.StartSeq != 1 || u.EndSeq != 5 {
		t.Errorf("expected sequence span 1..5, got %d..%d", u.StartSeq, u.EndSeq)
	}
}

func TestRun_EchoFidelity(t *testing.T) {
	payloads := []string{speechPayload, silencePayload, "", "not-base64", speechPayload}
	msgs := []string{startMsg("MZ9", "CA9")}
	for _, p := range payloads {
		msgs = append(msgs, mediaMsg("MZ9", p))
	}
	msgs = append(msgs, stopMsg)

	conn, _, _, _ := run(t, nil, msgs)

	echoes := conn.echoes()
	if len(echoes) != len(payloads) {
		t.Fatalf("expected %d echoes, got %d", len(payloads), len(echoes))
	}
	for i, e := range echoes {
		if e.Event != "media" || e.StreamSid != "MZ9" || e.Media.Payload != payloads[i] {
			t.Errorf("echo %d: unexpected %+v", i, e)
		}
	}

	var wire map[string]any
	if err := json.Unmarshal(conn.raw[0], &wire); err != nil {
		t.Fatal(err)
	}
	if len(wire) != 3 {
		t.Errorf("expected event, streamSid and media only, got %v", wire)
	}
}

func TestRun_FrameDurationMismatchDropped(t *testing.T) {
	// 80 mu-law bytes are 10 ms at 8 kHz; the session is configured for 20 ms.
	shortSpeech := base64.StdEncoding.EncodeToString(bytes.Repeat([]byte{0x80}, frameLen/2))
	shortSilence := base64.StdEncoding.EncodeToString(bytes.Repeat([]byte{0xFF}, frameLen/2))

	msgs := script(
		startMsg("MZ1", "CA1"),
		repeat(3, mediaMsg("MZ1", shortSpeech)),
		repeat(10, mediaMsg("MZ1", shortSilence)),
		repeat(2, mediaMsg("MZ1", speechPayload)),
		stopMsg,
	)
	conn, d, _, err := run(t, nil, msgs)
	if err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}

	if got := len(conn.echoes()); got != 15 {
		t.Errorf("expected every frame echoed, got %d", got)
	}
	if len(d.subs) != 1 {
		t.Fatalf("expected 1 utterance, got %d", len(d.subs))
	}
	u := d.subs[0].utt
	if u.Frames != 2 || u.Reason != segment.ReasonStop {
		t.Errorf("expected 2 full-length frames flushed on stop, got %d frames (%s)", u.Frames, u.Reason)
	}
	if u.StartSeq != 14 {
		t.Errorf("expected utterance to start at frame 14, got %d", u.StartSeq)
	}
}

func TestRun_TransportErrorFlushes(t *testing.T) {
	// No stop: the connection drops after three speech frames.
	msgs := script(startMsg("MZ1", "CA1"), repeat(3, mediaMsg("MZ1", speechPayload)))
	_, d, h, err := run(t, nil, msgs)

	if !errors.Is(err, io.EOF) {
		t.Errorf("expected io.EOF, got %v", err)
	}
	if len(d.subs) != 1 || d.subs[0].utt.Frames != 3 {
		t.Fatalf("expected one 3-frame utterance, got %+v", d.subs)
	}
	if d.subs[0].utt.Reason != segment.ReasonStop {
		t.Errorf("expected reason %s, got %s", segment.ReasonStop, d.subs[0].utt.Reason)
	}
	if h.Info().State != StateClosed {
		t.Errorf("expected CLOSED, got %s", h.Info().State)
	}
}

func TestRun_ClassificationErrorIsNonSpeech(t *testing.T) {
	// 0x7F decodes to zero samples, which the classifier fails on. Ten
	// failures end the utterance like ten silent frames would.
	failing := base64.StdEncoding.EncodeToString(bytes.Repeat([]byte{0x7F}, frameLen))
	c := &failingClassifier{failOn: 0x00, next: vad.NewEnergyClassifier()}

	msgs := script(
		startMsg("MZ1", "CA1"),
		repeat(3, mediaMsg("MZ1", speechPayload)),
		repeat(10, mediaMsg("MZ1", failing)),
		stopMsg,
	)
	conn, d, _, err := run(t, c, msgs)
	if err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if len(d.subs) != 1 || d.subs[0].utt.Reason != segment.ReasonSilence {
		t.Fatalf("expected one silence-terminated utterance, got %+v", d.subs)
	}
	if len(conn.echoes()) != 13 {
		t.Errorf("expected 13 echoes, got %d", len(conn.echoes()))
	}
}

func TestRun_MediaBeforeStart(t *testing.T) {
	msgs := script(repeat(2, mediaMsg("MZ7", speechPayload)), stopMsg)
	conn, d, h, _ := run(t, nil, msgs)

	if len(d.subs) != 1 || d.subs[0].sessionID != "MZ7" {
		t.Fatalf("expected one utterance for MZ7, got %+v", d.subs)
	}
	if h.Info().StreamSid != "MZ7" {
		t.Errorf("expected streamSid MZ7, got %s", h.Info().StreamSid)
	}
	if len(conn.echoes()) != 2 {
		t.Errorf("expected 2 echoes, got %d", len(conn.echoes()))
	}
}

func TestRun_SessionID(t *testing.T) {
	tests := []struct {
		name     string
		start    string
		wantID   string
		wantUUID bool
	}{
		{"stream sid", startMsg("MZ1", "CA1"), "MZ1", false},
		{"call sid without stream sid", startMsg("", "CA1"), "CA1", false},
		{"generated", `{"event":"start","start":{}}`, "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, h, _ := run(t, nil, []string{tt.start, stopMsg})
			id := h.Info().ID
			if tt.wantUUID {
				if len(id) != 36 {
					t.Errorf("expected generated uuid, got %q", id)
				}
				return
			}
			if id != tt.wantID {
				t.Errorf("expected id %s, got %s", tt.wantID, id)
			}
		})
	}
}

func TestRun_IgnoresUnknownAndMalformed(t *testing.T) {
	msgs := script(
		`{"event":"connected","protocol":"Call","version":"1.0.0"}`,
		startMsg("MZ1", "CA1"),
		`{not json`,
		`{"event":"mark","mark":{"name":"m1"}}`,
		`{"event":"dtmf","dtmf":{"digit":"5"}}`,
		mediaMsg("MZ1", speechPayload),
		stopMsg,
	)
	conn, d, _, err := run(t, nil, msgs)
	if err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if len(conn.echoes()) != 1 {
		t.Errorf("expected 1 echo, got %d", len(conn.echoes()))
	}
	if len(d.subs) != 1 {
		t.Errorf("expected 1 utterance, got %d", len(d.subs))
	}
}

func TestRun_RestartFlushesPrevious(t *testing.T) {
	msgs := script(
		startMsg("MZ1", "CA1"),
		repeat(2, mediaMsg("MZ1", speechPayload)),
		startMsg("MZ2", "CA2"),
		repeat(4, mediaMsg("MZ2", speechPayload)),
		stopMsg,
	)
	_, d, _, _ := run(t, nil, msgs)

	if len(d.subs) != 2 {
		t.Fatalf("expected 2 utterances, got %d", len(d.subs))
	}
	if d.subs[0].sessionID != "MZ1" || d.subs[0].utt.Frames != 2 {
		t.Errorf("expected 2 frames for MZ1, got %s/%d", d.subs[0].sessionID, d.subs[0].utt.Frames)
	}
	if d.subs[1].sessionID != "MZ2" || d.subs[1].utt.Frames != 4 {
		t.Errorf("expected 4 frames for MZ2, got %s/%d", d.subs[1].sessionID, d.subs[1].utt.Frames)
	}
	if d.subs[1].utt.StartSeq != 1 {
		t.Errorf("expected frame sequence reset on restart, got %d", d.subs[1].utt.StartSeq)
	}
}

func TestRun_SubmitErrorKeepsSession(t *testing.T) {
	conn := newFakeConn(false, script(
		startMsg("MZ1", "CA1"),
		mediaMsg("MZ1", speechPayload),
		repeat(10, mediaMsg("MZ1", silencePayload)),
		mediaMsg("MZ1", speechPayload),
		stopMsg,
	)...)
	d := &fakeDispatcher{err: dispatch.ErrQueueFull}
	h := NewHandler(DefaultConfig(), vad.NewEnergyClassifier(), d, nil)

	if err := h.Run(context.Background(), conn); err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if got := len(conn.echoes()); got != 12 {
		t.Errorf("expected 12 echoes, got %d", got)
	}
	if got := h.Info().Utterances; got != 2 {
		t.Errorf("expected 2 utterances attempted, got %d", got)
	}
}

func TestRun_ContextCancel(t *testing.T) {
	conn := newFakeConn(true, startMsg("MZ1", "CA1"), mediaMsg("MZ1", speechPayload))
	d := &fakeDispatcher{}
	h := NewHandler(DefaultConfig(), vad.NewEnergyClassifier(), d, nil)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- h.Run(ctx, conn) }()

	deadline := time.Now().Add(2 * time.Second)
	for h.Info().Frames < 1 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	cancel()

	select {
	case err := <-errCh:
		if err != nil {
			t.Errorf("expected nil error on cancel, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.subs) != 1 {
		t.Errorf("expected pending speech flushed on cancel, got %d utterances", len(d.subs))
	}
}

func TestStateString(t *testing.T) {
	tests := []struct {
		state State
		want  string
	}{
		{StateIdle, "IDLE"},
		{StateActive, "ACTIVE"},
		{StateClosed, "CLOSED"},
		{State(7), "UNKNOWN(7)"},
	}
	for _, tt := range tests {
		if got := tt.state.String(); got != tt.want {
			t.Errorf("expected %s, got %s", tt.want, got)
		}
	}
}
