// Command transcriptviewer shows transcripts from Kafka in the browser as
// they are published.
package main

import (
	"context"
	"embed"
	"errors"
	"flag"
	"io/fs"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

//go:embed static/*
var staticFiles embed.FS

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // Allow all origins for local dev
	},
}

func wsHandler(hub *Hub) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			log.Warn().Err(err).Msg("WebSocket upgrade failed")
			return
		}
		hub.add(conn)

		// Reads only detect the disconnect.
		go func() {
			defer hub.remove(conn)
			for {
				if _, _, err := conn.ReadMessage(); err != nil {
					return
				}
			}
		}()
	}
}

func main() {
	port := flag.String("port", "8081", "HTTP server port")
	brokers := flag.String("brokers", "localhost:9092", "Kafka brokers (comma-separated)")
	topicFinal := flag.String("topic-final", "speech.transcript.final", "Completed transcript topic")
	topicFailed := flag.String("topic-failed", "speech.transcript.failed", "Failed transcription topic")
	group := flag.String("group", "", "Consumer group; empty reads partition 0 directly")
	lookback := flag.Duration("lookback", time.Hour, "How far back to start without a consumer group")
	flag.Parse()

	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	hub := newHub(100)
	go hub.run()

	brokerList := strings.Split(*brokers, ",")
	g, gctx := errgroup.WithContext(ctx)
	for _, topic := range []string{*topicFinal, *topicFailed} {
		topic := topic
		g.Go(func() error {
			return consume(gctx, newReader(gctx, brokerList, topic, *group, *lookback), topic, hub.broadcast)
		})
	}

	staticFS, _ := fs.Sub(staticFiles, "static")
	mux := http.NewServeMux()
	mux.Handle("/", http.FileServer(http.FS(staticFS)))
	mux.HandleFunc("/ws", wsHandler(hub))

	srv := &http.Server{Addr: ":" + *port, Handler: mux, ReadHeaderTimeout: 10 * time.Second}
	g.Go(func() error {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	log.Info().
		Str("url", "http://localhost:"+*port).
		Strs("brokers", brokerList).
		Str("topicFinal", *topicFinal).
		Str("topicFailed", *topicFailed).
		Msg("Transcript viewer starting")

	if err := g.Wait(); err != nil {
		log.Fatal().Err(err).Msg("Transcript viewer failed")
	}
	close(hub.broadcast)
}
