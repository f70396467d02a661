package call

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/mrsingh-rishi/pixa/metrics"
	"github.com/mrsingh-rishi/pixa/model"
	"github.com/mrsingh-rishi/pixa/output"
	"github.com/mrsingh-rishi/pixa/stt"
	"github.com/mrsingh-rishi/pixa/types"
	"github.com/mrsingh-rishi/pixa/utterance"
	"github.com/mrsingh-rishi/pixa/worker"
	"github.com/mrsingh-rishi/pixa/workers"
)

// RecognizerConn is a live streaming recognizer connection.
type RecognizerConn interface {
	Start(ctx context.Context) error
	Send(frame []byte) error
	Close() error
}

// RecognizerFactory opens a recognizer for a session with its handlers bound.
type RecognizerFactory func(sessionID string, handlers stt.Handlers) RecognizerConn

// Deps are shared by every session of a Manager.
type Deps struct {
	NewRecognizer RecognizerFactory
	Generator     *workers.GenerationWorker
	Synthesizer   *workers.SynthesisWorker
	Transport     output.Transport
	Pool          *worker.Pool
	Observer      Observer
	Metrics       *metrics.Collector
	Logger        *zap.Logger
}

// DefaultRecognizerRetry is how long a session waits before reconnecting a
// recognizer whose Start failed.
const DefaultRecognizerRetry = 5 * time.Second

// Options tune per-session behaviour.
type Options struct {
	Timeouts        Timeouts
	PublishTimeout  time.Duration
	RecognizerRetry time.Duration
	Transcription   workers.TranscriptionOptions
}

// Session holds everything one audio conversation needs: its recognizer
// connection, transcript buffer, frame queue and turn coordinator.
type Session struct {
	ID string

	recognizer  *lazyRecognizer
	assembler   *utterance.Assembler
	transcriber *workers.TranscriptionWorker
	coordinator *Coordinator
	logger      *zap.Logger

	mu       sync.Mutex
	lastSeen time.Time
	closed   bool
}

// NewSession wires a session and starts its frame sender. The recognizer is
// connected by the first frame that needs it, so NewSession does no I/O.
func NewSession(ctx context.Context, id, outputPrefix string, deps Deps, opts Options) (*Session, error) {
	if deps.NewRecognizer == nil {
		return nil, errors.New("recognizer factory is required")
	}
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.With(zap.String("session", id))

	publisher, err := output.NewChunkPublisher(deps.Transport, outputPrefix, opts.PublishTimeout, logger)
	if err != nil {
		return nil, errors.Wrap(err, "create chunk publisher")
	}
	coordinator, err := NewCoordinator(ctx, id, opts.Timeouts, CoordinatorDeps{
		Generator:   deps.Generator,
		Synthesizer: deps.Synthesizer,
		Publisher:   publisher,
		Pool:        deps.Pool,
		Observer:    deps.Observer,
		Metrics:     deps.Metrics,
		Logger:      logger,
	})
	if err != nil {
		return nil, errors.Wrap(err, "create coordinator")
	}

	s := &Session{
		ID:          id,
		assembler:   utterance.New(),
		coordinator: coordinator,
		logger:      logger,
		lastSeen:    time.Now(),
	}

	// Handlers fire from the recognizer's read loop, which only starts
	// after s.transcriber is assigned below.
	conn := deps.NewRecognizer(id, stt.Handlers{
		OnTranscript: func(ev types.TranscriptEvent) { s.transcriber.HandleTranscript(ev) },
		OnError:      func(err error) { s.transcriber.HandleError(err) },
		OnMetadata:   func(meta types.Metadata) { s.transcriber.HandleMetadata(meta) },
	})
	if conn == nil {
		return nil, errors.New("recognizer factory returned nil")
	}
	s.recognizer = newLazyRecognizer(ctx, conn, opts.RecognizerRetry)

	s.transcriber, err = workers.NewTranscriptionWorker(
		s.recognizer, s.assembler, coordinator, opts.Transcription, deps.Metrics, logger,
	)
	if err != nil {
		coordinator.Close()
		return nil, errors.Wrap(err, "create transcription worker")
	}

	s.transcriber.Start()
	logger.Info("session opened", zap.String("output_prefix", publisher.Topic(0)))
	return s, nil
}

// Submit hands one inbound frame to the session.
func (s *Session) Submit(ctx context.Context, frame model.AudioFrame) error {
	s.mu.Lock()
	s.lastSeen = time.Now()
	s.mu.Unlock()
	return s.transcriber.Submit(ctx, frame)
}

// LastSeen is the arrival time of the latest frame.
func (s *Session) LastSeen() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastSeen
}

// Idle reports whether the session has no open, queued or running turn.
func (s *Session) Idle() bool {
	return !s.coordinator.Busy() && !s.assembler.Pending()
}

// Snapshot reports the coordinator state of the session.
func (s *Session) Snapshot() Snapshot {
	return s.coordinator.Snapshot()
}

// Close stops frame intake and closes the recognizer. Safe to call twice.
func (s *Session) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	s.transcriber.Stop()
	s.coordinator.Close()
	if err := s.recognizer.Close(); err != nil {
		s.logger.Warn("error closing recognizer", zap.Error(err))
		return errors.Wrap(err, "close recognizer")
	}
	s.logger.Info("session closed")
	return nil
}

// lazyRecognizer starts its connection on the first Send. After a failed
// Start it refuses frames until the retry delay has passed.
type lazyRecognizer struct {
	conn    RecognizerConn
	ctx     context.Context
	backoff time.Duration
	now     func() time.Time

	mu      sync.Mutex
	started bool
	retryAt time.Time
}

func newLazyRecognizer(ctx context.Context, conn RecognizerConn, backoff time.Duration) *lazyRecognizer {
	if backoff <= 0 {
		backoff = DefaultRecognizerRetry
	}
	return &lazyRecognizer{conn: conn, ctx: ctx, backoff: backoff, now: time.Now}
}

func (r *lazyRecognizer) Send(frame []byte) error {
	if err := r.ensureStarted(); err != nil {
		return err
	}
	return r.conn.Send(frame)
}

func (r *lazyRecognizer) ensureStarted() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.started {
		return nil
	}
	if now := r.now(); now.Before(r.retryAt) {
		return errors.Wrapf(workers.ErrRecognizerUnavailable, "retry in %s", r.retryAt.Sub(now).Round(time.Millisecond))
	}
	if err := r.conn.Start(r.ctx); err != nil {
		r.retryAt = r.now().Add(r.backoff)
		return errors.Wrap(err, "start recognizer")
	}
	r.started = true
	return nil
}

func (r *lazyRecognizer) Close() error {
	return r.conn.Close()
}
