package http

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	openapi "github.com/twilio/twilio-go/rest/api/v2010"

	"speech-relay-service/internal/app"
	"speech-relay-service/internal/config"
	"speech-relay-service/internal/models"
)

func newTestApp(t *testing.T, start bool) *app.Application {
	t.Helper()
	cfg := config.Load()
	cfg.STT.Provider = "mock"
	cfg.Kafka.Enabled = false
	cfg.Service.StreamURL = "wss://relay.example.com/media"

	a := app.New(cfg)
	if start {
		if err := a.Start(context.Background()); err != nil {
			t.Fatalf("start: %v", err)
		}
		t.Cleanup(func() {
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			a.Shutdown(ctx)
		})
	}
	return a
}

func TestHealthEndpoints(t *testing.T) {
	tests := []struct {
		name     string
		started  bool
		path     string
		wantCode int
		wantBody string
	}{
		{"liveness", false, "/v1/liveness", http.StatusOK, "ok"},
		{"readiness before start", false, "/v1/readiness", http.StatusServiceUnavailable, "starting"},
		{"readiness after start", true, "/v1/readiness", http.StatusOK, "ready"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			router := NewRouter(newTestApp(t, tt.started))
			rec := httptest.NewRecorder()
			router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, tt.path, nil))

			if rec.Code != tt.wantCode {
				t.Errorf("expected status %d, got %d", tt.wantCode, rec.Code)
			}
			if rec.Body.String() != tt.wantBody {
				t.Errorf("expected body %q, got %q", tt.wantBody, rec.Body.String())
			}
		})
	}
}

func TestVoiceWebhook(t *testing.T) {
	router := NewRouter(newTestApp(t, false))

	for _, method := range []string{http.MethodGet, http.MethodPost} {
		t.Run(method, func(t *testing.T) {
			rec := httptest.NewRecorder()
			router.ServeHTTP(rec, httptest.NewRequest(method, "/voice", nil))

			if rec.Code != http.StatusOK {
				t.Fatalf("expected status 200, got %d", rec.Code)
			}
			if ct := rec.Header().Get("Content-Type"); ct != "application/xml" {
				t.Errorf("expected application/xml, got %s", ct)
			}
			body := rec.Body.String()
			for _, want := range []string{
				"<Response>",
				"<Connect>",
				`<Stream url="wss://relay.example.com/media"`,
				"<Say>The stream has started.</Say>",
			} {
				if !strings.Contains(body, want) {
					t.Errorf("expected %q in TwiML, got %s", want, body)
				}
			}
			if strings.Index(body, "<Connect>") > strings.Index(body, "<Say>") {
				t.Errorf("expected Connect before Say, got %s", body)
			}
		})
	}
}

func TestMediaNotReady(t *testing.T) {
	router := NewRouter(newTestApp(t, false))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/media", nil))

	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("expected 503 before start, got %d", rec.Code)
	}
}

func TestMediaStream_EchoesFrames(t *testing.T) {
	a := newTestApp(t, true)
	srv := httptest.NewServer(NewRouter(a))
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/media"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	speech := base64.StdEncoding.EncodeToString(bytes.Repeat([]byte{0x80}, 160))
	send := func(v any) {
		t.Helper()
		if err := conn.WriteJSON(v); err != nil {
			t.Fatalf("write: %v", err)
		}
	}

	send(models.StreamMessage{Event: "connected"})
	send(models.StreamMessage{
		Event:     models.StreamEventStart,
		StreamSid: "MZ1",
		Start:     &models.StreamStart{StreamSid: "MZ1", CallSid: "CA1"},
	})
	const frames = 5
	for i := 0; i < frames; i++ {
		send(models.StreamMessage{Event: models.StreamEventMedia, StreamSid: "MZ1", Media: &models.StreamMedia{Payload: speech}})
	}

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	for i := 0; i < frames; i++ {
		var echo models.EchoMessage
		if err := conn.ReadJSON(&echo); err != nil {
			t.Fatalf("read echo %d: %v", i, err)
		}
		if echo.Event != "media" || echo.StreamSid != "MZ1" || echo.Media.Payload != speech {
			t.Errorf("echo %d: unexpected %+v", i, echo)
		}
	}

	// The session is visible while the stream is open.
	rec := httptest.NewRecorder()
	NewRouter(a).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/sessions", nil))
	var listing struct {
		Count    int           `json:"count"`
		Sessions []sessionView `json:"sessions"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &listing); err != nil {
		t.Fatalf("decode sessions: %v", err)
	}
	if listing.Count != 1 || listing.Sessions[0].ID != "MZ1" {
		t.Errorf("expected session MZ1 listed, got %+v", listing)
	}
	if len(listing.Sessions) == 1 && (listing.Sessions[0].Frames != frames || listing.Sessions[0].PendingJobs != 0) {
		t.Errorf("expected %d frames and no pending jobs, got %+v", frames, listing.Sessions[0])
	}

	send(models.StreamMessage{Event: models.StreamEventStop})

	// The server closes the socket after stop.
	if _, _, err := conn.ReadMessage(); err == nil {
		t.Error("expected connection closed after stop")
	}
}

type fakeCallCreator struct {
	params *openapi.CreateCallParams
	err    error
}

func (f *fakeCallCreator) CreateCall(params *openapi.CreateCallParams) (*openapi.ApiV2010Call, error) {
	f.params = params
	if f.err != nil {
		return nil, f.err
	}
	sid := "CA-outbound"
	return &openapi.ApiV2010Call{Sid: &sid}, nil
}

func TestCallsHandler(t *testing.T) {
	cfg := config.TwilioConfig{AccountSid: "AC1", AuthToken: "tok", FromNumber: "+15550000000", VoiceURL: "https://relay.example.com/voice"}

	tests := []struct {
		name     string
		creator  callCreator
		body     string
		wantCode int
		wantBody string
	}{
		{"not configured", nil, `{"to":"+15551111111"}`, http.StatusNotImplemented, "not configured"},
		{"invalid json", &fakeCallCreator{}, `{`, http.StatusBadRequest, "invalid JSON"},
		{"missing to", &fakeCallCreator{}, `{}`, http.StatusBadRequest, "required"},
		{"twilio error", &fakeCallCreator{err: errors.New("401")}, `{"to":"+15551111111"}`, http.StatusBadGateway, "failed"},
		{"success", &fakeCallCreator{}, `{"to":"+15551111111"}`, http.StatusOK, "CA-outbound"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := callsHandler(tt.creator, cfg)
			rec := httptest.NewRecorder()
			h(rec, httptest.NewRequest(http.MethodPost, "/v1/calls", strings.NewReader(tt.body)))

			if rec.Code != tt.wantCode {
				t.Errorf("expected status %d, got %d", tt.wantCode, rec.Code)
			}
			body, _ := io.ReadAll(rec.Body)
			if !strings.Contains(string(body), tt.wantBody) {
				t.Errorf("expected body containing %q, got %s", tt.wantBody, body)
			}
		})
	}
}

func TestCallsHandler_Params(t *testing.T) {
	cfg := config.TwilioConfig{AccountSid: "AC1", AuthToken: "tok", FromNumber: "+15550000000", VoiceURL: "https://relay.example.com/voice"}
	creator := &fakeCallCreator{}

	rec := httptest.NewRecorder()
	callsHandler(creator, cfg)(rec, httptest.NewRequest(http.MethodPost, "/v1/calls", strings.NewReader(`{"to":"+15551111111"}`)))

	p := creator.params
	if p == nil || *p.To != "+15551111111" || *p.From != "+15550000000" || *p.Url != cfg.VoiceURL {
		t.Errorf("unexpected call params %+v", p)
	}
}
