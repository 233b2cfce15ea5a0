package main

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"os"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"speech-relay-service/internal/models"
	"speech-relay-service/internal/service/codec"
)

// streamConn is the part of *websocket.Conn the client uses.
type streamConn interface {
	WriteJSON(v any) error
	ReadJSON(v any) error
}

type streamOptions struct {
	StreamSid string
	CallSid   string
	Frames    [][]byte
	Interval  time.Duration
	Encode    func(pcm []byte) (string, error)
}

type streamResult struct {
	Sent       int
	Echoed     int
	Mismatched int
	Elapsed    time.Duration
}

// stream sends start, one media event per frame and stop, while a reader
// goroutine matches echoes against the sent payloads in order.
func stream(ctx context.Context, conn streamConn, opts streamOptions) (streamResult, error) {
	start := time.Now()
	var res streamResult

	payloads := make(chan string, len(opts.Frames))
	type readResult struct{ echoed, mismatched int }
	readDone := make(chan readResult, 1)

	go func() {
		var r readResult
		for want := range payloads {
			var echo models.EchoMessage
			if err := conn.ReadJSON(&echo); err != nil {
				if !websocket.IsCloseError(err, websocket.CloseNormalClosure) {
					log.Debug().Err(err).Msg("Echo read ended")
				}
				break
			}
			r.echoed++
			if echo.Media.Payload != want || echo.StreamSid != opts.StreamSid {
				r.mismatched++
			}
		}
		readDone <- r
	}()

	err := conn.WriteJSON(models.StreamMessage{
		Event:     models.StreamEventStart,
		StreamSid: opts.StreamSid,
		Start: &models.StreamStart{
			StreamSid:   opts.StreamSid,
			CallSid:     opts.CallSid,
			Tracks:      []string{"inbound"},
			MediaFormat: &models.MediaFormat{Encoding: "audio/x-mulaw", SampleRate: 8000, Channels: 1},
		},
	})
	if err != nil {
		close(payloads)
		return res, fmt.Errorf("send start: %w", err)
	}

	var ticker *time.Ticker
	if opts.Interval > 0 {
		ticker = time.NewTicker(opts.Interval)
		defer ticker.Stop()
	}

	for i, frame := range opts.Frames {
		payload, err := opts.Encode(frame)
		if err != nil {
			close(payloads)
			return res, fmt.Errorf("encode frame %d: %w", i, err)
		}
		msg := models.StreamMessage{
			Event:          models.StreamEventMedia,
			SequenceNumber: fmt.Sprint(i + 2),
			StreamSid:      opts.StreamSid,
			Media: &models.StreamMedia{
				Track:   "inbound",
				Chunk:   fmt.Sprint(i + 1),
				Payload: payload,
			},
		}
		payloads <- payload
		if err := conn.WriteJSON(msg); err != nil {
			close(payloads)
			return res, fmt.Errorf("send frame %d: %w", i, err)
		}
		res.Sent++

		if res.Sent%50 == 0 {
			log.Info().Int("sent", res.Sent).Msg("Streaming")
		}
		if ticker != nil {
			select {
			case <-ticker.C:
			case <-ctx.Done():
				close(payloads)
				return res, ctx.Err()
			}
		}
	}
	close(payloads)

	if err := conn.WriteJSON(models.StreamMessage{Event: models.StreamEventStop, StreamSid: opts.StreamSid}); err != nil {
		return res, fmt.Errorf("send stop: %w", err)
	}

	select {
	case r := <-readDone:
		res.Echoed, res.Mismatched = r.echoed, r.mismatched
	case <-time.After(5 * time.Second):
		return res, errors.New("timed out waiting for echoes")
	}
	res.Elapsed = time.Since(start)
	return res, nil
}

// splitFrames cuts PCM into frames of frameBytes, zero-padding the last.
func splitFrames(pcm []byte, frameBytes int) [][]byte {
	if frameBytes <= 0 {
		return nil
	}
	var frames [][]byte
	for off := 0; off < len(pcm); off += frameBytes {
		frame := make([]byte, frameBytes)
		copy(frame, pcm[off:])
		frames = append(frames, frame)
	}
	return frames
}

// loadAudio reads a WAV file, or synthesizes three one-second bursts of
// tone separated by half a second of silence.
func loadAudio(path string) ([]byte, int, error) {
	if path == "" {
		return synthetic(8000), 8000, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, 0, err
	}
	pcm, info, err := codec.DecodeWAV(data)
	if err != nil {
		return nil, 0, err
	}
	if info.Channels != 1 || info.BitsPerSample != 16 {
		return nil, 0, fmt.Errorf("need 16-bit mono PCM, got %d channels at %d bits", info.Channels, info.BitsPerSample)
	}
	return pcm, info.SampleRate, nil
}

func synthetic(rate int) []byte {
	var pcm []byte
	sample := make([]byte, 2)
	for burst := 0; burst < 3; burst++ {
		for i := 0; i < rate; i++ {
			v := int16(8000 * math.Sin(2*math.Pi*440*float64(i)/float64(rate)))
			binary.LittleEndian.PutUint16(sample, uint16(v))
			pcm = append(pcm, sample...)
		}
		pcm = append(pcm, make([]byte, rate)...) // 500 ms of silence
	}
	return pcm
}
