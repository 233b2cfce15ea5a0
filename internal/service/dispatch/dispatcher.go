// Package dispatch runs transcription jobs off the audio path.
//
// Each session gets a single worker goroutine fed by a bounded queue, so
// results for one session are delivered in submission order while sessions
// proceed independently. A shared semaphore caps how many backend calls
// run at once across the process.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/semaphore"

	"speech-relay-service/internal/observability/logging"
	"speech-relay-service/internal/observability/metrics"
	"speech-relay-service/internal/service/segment"
	"speech-relay-service/internal/service/stt"
)

var (
	// ErrQueueFull is returned when a session already has QueueSize jobs waiting.
	ErrQueueFull = errors.New("transcription queue full")
	// ErrClosed is returned after Shutdown or CloseSession.
	ErrClosed = errors.New("dispatcher closed")
	// ErrEmptyUtterance is returned for utterances with no audio.
	ErrEmptyUtterance = errors.New("empty utterance")
)

// Sink receives job results. Deliver is called from the session's worker
// goroutine, one result at a time per session.
type Sink interface {
	Deliver(ctx context.Context, r Result)
}

// SinkFunc adapts a function to the Sink interface.
type SinkFunc func(ctx context.Context, r Result)

func (f SinkFunc) Deliver(ctx context.Context, r Result) { f(ctx, r) }

// Config holds dispatcher limits.
type Config struct {
	// QueueSize bounds the jobs waiting per session.
	QueueSize int
	// MaxConcurrent bounds backend calls across all sessions.
	MaxConcurrent int
	// JobTimeout bounds a single backend call. Zero means no timeout.
	JobTimeout time.Duration
	// SampleRateHz is attached to the audio handed to the backend.
	SampleRateHz int
}

// DefaultConfig returns the dispatcher defaults.
func DefaultConfig() Config {
	return Config{
		QueueSize:     32,
		MaxConcurrent: 16,
		JobTimeout:    30 * time.Second,
		SampleRateHz:  8000,
	}
}

type sessionQueue struct {
	jobs chan *Job
	seq  uint64
	// done is closed once the worker has delivered every job. A queue
	// reopened under the same session id waits on its predecessor's done.
	done chan struct{}
	prev <-chan struct{}
}

// Dispatcher submits utterances to a Transcriber without blocking the caller.
type Dispatcher struct {
	cfg         Config
	transcriber stt.Transcriber
	sink        Sink
	metrics     *metrics.Metrics
	sem         *semaphore.Weighted

	// ctx outlives individual sessions; it is only canceled when Shutdown
	// gives up waiting.
	ctx    context.Context
	cancel context.CancelFunc

	mu       sync.Mutex
	queues   map[string]*sessionQueue
	draining map[string]*sessionQueue // closed queues whose worker is still running
	closed   bool
	wg     sync.WaitGroup
}

// New creates a dispatcher. A nil metrics uses metrics.DefaultMetrics.
func New(t stt.Transcriber, sink Sink, cfg Config, m *metrics.Metrics) *Dispatcher {
	def := DefaultConfig()
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = def.QueueSize
	}
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = def.MaxConcurrent
	}
	if cfg.SampleRateHz <= 0 {
		cfg.SampleRateHz = def.SampleRateHz
	}
	if m == nil {
		m = metrics.DefaultMetrics
	}
	if sink == nil {
		sink = SinkFunc(func(context.Context, Result) {})
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Dispatcher{
		cfg:         cfg,
		transcriber: t,
		sink:        sink,
		metrics:     m,
		sem:         semaphore.NewWeighted(int64(cfg.MaxConcurrent)),
		ctx:         ctx,
		cancel:      cancel,
		queues:      make(map[string]*sessionQueue),
		draining:    make(map[string]*sessionQueue),
	}
}

// Submit enqueues an utterance for transcription and returns immediately.
// The returned job is Pending on success. On ErrQueueFull the job is
// returned already Failed and is never delivered to the sink.
func (d *Dispatcher) Submit(sessionID string, utt *segment.Utterance) (*Job, error) {
	if utt == nil || len(utt.PCM) == 0 {
		return nil, ErrEmptyUtterance
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return nil, ErrClosed
	}

	q, ok := d.queues[sessionID]
	if !ok {
		q = &sessionQueue{
			jobs: make(chan *Job, d.cfg.QueueSize),
			done: make(chan struct{}),
		}
		// A session id that is reused while its previous queue drains
		// continues that queue's numbering and runs after it.
		if prev, ok := d.draining[sessionID]; ok {
			q.seq = prev.seq
			q.prev = prev.done
		}
		d.queues[sessionID] = q
		d.wg.Add(1)
		go d.work(sessionID, q)
	}

	now := time.Now()
	job := &Job{
		ID:          fmt.Sprintf("%s-utt-%d", sessionID, q.seq+1),
		SessionID:   sessionID,
		Seq:         q.seq + 1,
		StartFrame:  utt.StartSeq,
		EndFrame:    utt.EndSeq,
		Reason:      utt.Reason,
		Bytes:       len(utt.PCM),
		SubmittedAt: now,
		audio:       stt.Audio{PCM: append([]byte(nil), utt.PCM...), SampleRateHz: d.cfg.SampleRateHz},
	}

	select {
	case q.jobs <- job:
		q.seq++
		d.metrics.RecordJobSubmitted()
		return job, nil
	default:
		job.setStatus(StatusFailed, now)
		d.metrics.RecordJobRejected("queue_full")
		return job, fmt.Errorf("%w: session %s has %d pending jobs", ErrQueueFull, sessionID, d.cfg.QueueSize)
	}
}

// CloseSession stops accepting jobs for a session. Jobs already queued
// still run and are delivered; the call does not wait for them. A later
// Submit under the same id opens a new queue that starts once this one
// has drained.
func (d *Dispatcher) CloseSession(sessionID string) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if q, ok := d.queues[sessionID]; ok {
		delete(d.queues, sessionID)
		d.draining[sessionID] = q
		close(q.jobs)
	}
}

// Pending returns the number of jobs queued for a session, not counting
// one that is currently running.
func (d *Dispatcher) Pending(sessionID string) int {
	d.mu.Lock()
	defer d.mu.Unlock()

	if q, ok := d.queues[sessionID]; ok {
		return len(q.jobs)
	}
	return 0
}

// Shutdown stops accepting jobs and waits for queued jobs to finish.
// If ctx expires first, in-flight backend calls are canceled.
func (d *Dispatcher) Shutdown(ctx context.Context) error {
	d.mu.Lock()
	if !d.closed {
		d.closed = true
		for id, q := range d.queues {
			delete(d.queues, id)
			d.draining[id] = q
			close(q.jobs)
		}
	}
	d.mu.Unlock()

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		d.cancel()
		return nil
	case <-ctx.Done():
		d.cancel()
		<-done
		return ctx.Err()
	}
}

func (d *Dispatcher) work(sessionID string, q *sessionQueue) {
	defer d.wg.Done()
	defer close(q.done)

	if q.prev != nil {
		<-q.prev
	}
	for job := range q.jobs {
		d.run(job)
	}

	d.mu.Lock()
	if d.draining[sessionID] == q {
		delete(d.draining, sessionID)
	}
	d.mu.Unlock()
	log.Debug().
		Str("component", "dispatch").
		Str("sessionId", sessionID).
		Msg("Session worker drained")
}

func (d *Dispatcher) run(job *Job) {
	logger := logging.WithJob(job.SessionID, job.ID, job.Seq, d.transcriber.Name())
	res := Result{Job: job}

	if err := d.sem.Acquire(d.ctx, 1); err != nil {
		res.Err = fmt.Errorf("%w: %w", stt.ErrTranscription, err)
		job.setStatus(StatusFailed, time.Now())
		logger.Warn().Err(res.Err).Msg("Job abandoned before start")
		d.sink.Deliver(d.ctx, res)
		return
	}

	start := time.Now()
	job.setStatus(StatusRunning, start)
	d.metrics.RecordJobStarted(start.Sub(job.SubmittedAt).Seconds())

	ctx := d.ctx
	var cancel context.CancelFunc = func() {}
	if d.cfg.JobTimeout > 0 {
		ctx, cancel = context.WithTimeout(d.ctx, d.cfg.JobTimeout)
	}
	tr, err := d.transcriber.Transcribe(ctx, job.audio)
	cancel()
	d.sem.Release(1)

	end := time.Now()
	latency := end.Sub(start)
	if err != nil {
		if !errors.Is(err, stt.ErrTranscription) {
			err = fmt.Errorf("%w: %w", stt.ErrTranscription, err)
		}
		res.Err = err
		job.setStatus(StatusFailed, end)
		logger.Error().
			Err(err).
			Dur("latency", latency).
			Str("errorType", stt.ErrorType(err)).
			Msg("Transcription failed")
	} else {
		res.Transcript = tr
		job.setStatus(StatusCompleted, end)
		logger.Info().
			Dur("latency", latency).
			Int("bytes", job.Bytes).
			Int("textLength", len(tr.Text)).
			Msg("Transcription completed")
	}
	d.metrics.RecordJobFinished(d.transcriber.Name(), stt.ErrorType(err), latency.Seconds())

	// The audio is no longer needed once the backend has returned.
	job.audio.PCM = nil

	d.sink.Deliver(d.ctx, res)
}
