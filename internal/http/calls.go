package http

import (
	"encoding/json"
	"net/http"

	"github.com/rs/zerolog/log"
	twilio "github.com/twilio/twilio-go"
	openapi "github.com/twilio/twilio-go/rest/api/v2010"

	"speech-relay-service/internal/config"
)

// callCreator is the part of the Twilio REST API used to place calls.
type callCreator interface {
	CreateCall(params *openapi.CreateCallParams) (*openapi.ApiV2010Call, error)
}

func newCallCreator(cfg config.TwilioConfig) callCreator {
	if !cfg.Enabled() {
		return nil
	}
	client := twilio.NewRestClientWithParams(twilio.ClientParams{
		Username: cfg.AccountSid,
		Password: cfg.AuthToken,
	})
	return client.Api
}

type callRequest struct {
	To string `json:"to"`
}

type callResponse struct {
	SID     string `json:"sid"`
	Message string `json:"message"`
}

// callsHandler places an outbound call whose TwiML comes from the voice
// webhook, so the callee's audio streams back into the relay.
func callsHandler(creator callCreator, cfg config.TwilioConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if creator == nil {
			writeJSON(w, http.StatusNotImplemented, map[string]string{"error": "outbound calls are not configured"})
			return
		}

		var req callRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON"})
			return
		}
		if req.To == "" {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "`to` field is required"})
			return
		}

		params := &openapi.CreateCallParams{}
		params.SetTo(req.To)
		params.SetFrom(cfg.FromNumber)
		params.SetUrl(cfg.VoiceURL)
		params.SetMethod("POST")

		resp, err := creator.CreateCall(params)
		if err != nil {
			log.Error().Err(err).Str("component", "http").Str("to", req.To).Msg("Twilio call creation failed")
			writeJSON(w, http.StatusBadGateway, map[string]string{"error": "failed to create call"})
			return
		}

		var sid string
		if resp != nil && resp.Sid != nil {
			sid = *resp.Sid
		}
		log.Info().Str("component", "http").Str("callSid", sid).Str("to", req.To).Msg("Outbound call initiated")
		writeJSON(w, http.StatusOK, callResponse{SID: sid, Message: "call initiated"})
	}
}
