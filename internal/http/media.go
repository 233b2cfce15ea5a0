package http

import (
	"net/http"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"speech-relay-service/internal/app"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	// Media streams come from the telephony provider, not browsers.
	CheckOrigin: func(r *http.Request) bool { return true },
}

func mediaHandler(application *app.Application) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if application.Sessions == nil {
			http.Error(w, "not ready", http.StatusServiceUnavailable)
			return
		}

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			log.Warn().Err(err).Str("component", "http").Msg("Media stream upgrade failed")
			return
		}

		log.Info().
			Str("component", "http").
			Str("remoteAddr", r.RemoteAddr).
			Msg("Media stream connected")

		// Hijacked connections are not closed by Server.Shutdown; the
		// server's BaseContext is canceled instead.
		_ = application.Sessions.Handle(r.Context(), conn)
	}
}
