// Package http exposes the relay's HTTP surface: the voice webhook, the
// media stream WebSocket, outbound calls and health endpoints.
package http

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"speech-relay-service/internal/app"
)

// NewRouter constructs the HTTP router for the service.
func NewRouter(application *app.Application) http.Handler {
	r := chi.NewRouter()

	// Basic middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	// Health endpoints
	r.Get("/v1/liveness", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Get("/v1/readiness", func(w http.ResponseWriter, _ *http.Request) {
		if !application.Ready() {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte("starting"))
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
	})

	// Telephony endpoints
	voice := voiceHandler(application.Cfg.Service.StreamURL)
	r.Get("/voice", voice)
	r.Post("/voice", voice)
	r.Get("/media", mediaHandler(application))

	// API routes
	r.Route("/v1", func(r chi.Router) {
		r.Get("/sessions", func(w http.ResponseWriter, _ *http.Request) {
			writeJSON(w, http.StatusOK, sessionsResponse(application))
		})
		r.Post("/calls", callsHandler(newCallCreator(application.Cfg.Twilio), application.Cfg.Twilio))
	})

	return r
}

type sessionView struct {
	ID         string `json:"id"`
	StreamSid  string `json:"streamSid,omitempty"`
	CallSid    string `json:"callSid,omitempty"`
	State      string `json:"state"`
	Frames     uint64 `json:"frames"`
	Utterances int    `json:"utterances"`
	// PendingJobs counts utterances queued for transcription.
	PendingJobs int `json:"pendingJobs"`
}

func sessionsResponse(application *app.Application) map[string]any {
	views := []sessionView{}
	active := 0
	if application.Sessions != nil {
		active = application.Sessions.Active()
		for _, s := range application.Sessions.Sessions() {
			v := sessionView{
				ID:         s.ID,
				StreamSid:  s.StreamSid,
				CallSid:    s.CallSid,
				State:      s.State.String(),
				Frames:     s.Frames,
				Utterances: s.Utterances,
			}
			if application.Dispatcher != nil {
				v.PendingJobs = application.Dispatcher.Pending(s.ID)
			}
			views = append(views, v)
		}
	}
	return map[string]any{"sessions": views, "count": active}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
