// Command streamclient plays a WAV file into the relay's media stream
// endpoint the way the telephony provider would, and checks that every
// frame is echoed back.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"speech-relay-service/internal/service/codec"
)

func main() {
	audioFile := flag.String("audio", "", "Path to WAV file (8kHz 16-bit mono); empty plays a synthetic speech pattern")
	serverURL := flag.String("url", "ws://localhost:8080/media", "Media stream WebSocket URL")
	frameMs := flag.Int("frame-ms", 20, "Frame duration in milliseconds")
	realtime := flag.Bool("realtime", true, "Pace frames at their playback rate")
	callSid := flag.String("call", "CA"+uuid.NewString()[:8], "Call SID to announce in the start event")
	flag.Parse()

	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen})

	pcm, rate, err := loadAudio(*audioFile)
	if err != nil {
		log.Fatal().Err(err).Str("file", *audioFile).Msg("Failed to load audio")
	}
	if rate != 8000 {
		log.Warn().Int("sampleRate", rate).Msg("Sample rate is not 8000 Hz")
	}

	frames := splitFrames(pcm, rate*2*(*frameMs)/1000)
	log.Info().
		Int("frames", len(frames)).
		Int("sampleRate", rate).
		Dur("duration", time.Duration(len(frames)*(*frameMs))*time.Millisecond).
		Msg("Audio loaded")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, *serverURL, nil)
	if err != nil {
		log.Fatal().Err(err).Str("url", *serverURL).Msg("Failed to connect")
	}
	defer conn.Close()
	log.Info().Str("url", *serverURL).Msg("Connected")

	interval := time.Duration(0)
	if *realtime {
		interval = time.Duration(*frameMs) * time.Millisecond
	}

	res, err := stream(ctx, conn, streamOptions{
		StreamSid: "MZ" + uuid.NewString()[:8],
		CallSid:   *callSid,
		Frames:    frames,
		Interval:  interval,
		Encode:    codec.EncodePayload,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Streaming failed")
	}

	logEvent := log.Info()
	if res.Echoed != res.Sent || res.Mismatched > 0 {
		logEvent = log.Error()
	}
	logEvent.
		Int("sent", res.Sent).
		Int("echoed", res.Echoed).
		Int("mismatched", res.Mismatched).
		Dur("elapsed", res.Elapsed).
		Msg("Stream completed")

	if res.Echoed != res.Sent || res.Mismatched > 0 {
		os.Exit(1)
	}
}
