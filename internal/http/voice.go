package http

import (
	"net/http"

	"github.com/rs/zerolog/log"
	"github.com/twilio/twilio-go/twiml"
)

const streamGreeting = "The stream has started."

// VoiceResponse builds the TwiML that connects a call to the media stream
// at streamURL.
func VoiceResponse(streamURL string) (string, error) {
	connect := &twiml.VoiceConnect{
		InnerElements: []twiml.Element{
			&twiml.VoiceStream{Url: streamURL},
		},
	}
	say := &twiml.VoiceSay{Message: streamGreeting}
	return twiml.Voice([]twiml.Element{connect, say})
}

func voiceHandler(streamURL string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		body, err := VoiceResponse(streamURL)
		if err != nil {
			log.Error().Err(err).Str("component", "http").Msg("Failed to build TwiML")
			http.Error(w, "failed to build TwiML", http.StatusInternalServerError)
			return
		}

		log.Info().
			Str("component", "http").
			Str("method", r.Method).
			Str("callSid", r.FormValue("CallSid")).
			Msg("Voice webhook answered")

		w.Header().Set("Content-Type", "application/xml")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(body))
	}
}
