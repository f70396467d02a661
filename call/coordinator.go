package call

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/mrsingh-rishi/pixa/metrics"
	"github.com/mrsingh-rishi/pixa/output"
	"github.com/mrsingh-rishi/pixa/queue"
	"github.com/mrsingh-rishi/pixa/worker"
	"github.com/mrsingh-rishi/pixa/workers"
)

// Timeouts bound each stage call of a turn.
type Timeouts struct {
	Generate   time.Duration
	Synthesize time.Duration
}

// DefaultTimeouts returns the stage timeouts used when none are configured.
func DefaultTimeouts() Timeouts {
	return Timeouts{
		Generate:   30 * time.Second,
		Synthesize: 60 * time.Second,
	}
}

// Coordinator drives the turns of one session. Ingestion opens and flushes
// turns; flushed turns queue up and run one at a time on the worker pool.
type Coordinator struct {
	sessionID   string
	timeouts    Timeouts
	generator   *workers.GenerationWorker
	synthesizer *workers.SynthesisWorker
	publisher   *output.ChunkPublisher
	pool        *worker.Pool
	observer    Observer
	metrics     *metrics.Collector
	logger      *zap.Logger

	ctx     context.Context
	mu      sync.Mutex
	ingest  *Turn
	active  *Turn
	pending *queue.Queue[*Turn]
	running bool
	closed  bool
}

// CoordinatorDeps are the collaborators of a Coordinator.
type CoordinatorDeps struct {
	Generator   *workers.GenerationWorker
	Synthesizer *workers.SynthesisWorker
	Publisher   *output.ChunkPublisher
	Pool        *worker.Pool
	Observer    Observer
	Metrics     *metrics.Collector
	Logger      *zap.Logger
}

// NewCoordinator returns the turn coordinator for one session. Turns run on
// deps.Pool under ctx; zero timeouts fall back to DefaultTimeouts.
func NewCoordinator(ctx context.Context, sessionID string, timeouts Timeouts, deps CoordinatorDeps) (*Coordinator, error) {
	if deps.Generator == nil || deps.Synthesizer == nil {
		return nil, errors.New("generator and synthesizer are required")
	}
	if deps.Publisher == nil {
		return nil, errors.New("publisher is required")
	}
	if deps.Pool == nil {
		return nil, errors.New("worker pool is required")
	}
	def := DefaultTimeouts()
	if timeouts.Generate <= 0 {
		timeouts.Generate = def.Generate
	}
	if timeouts.Synthesize <= 0 {
		timeouts.Synthesize = def.Synthesize
	}
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Coordinator{
		sessionID:   sessionID,
		timeouts:    timeouts,
		generator:   deps.Generator,
		synthesizer: deps.Synthesizer,
		publisher:   deps.Publisher,
		pool:        deps.Pool,
		observer:    deps.Observer,
		metrics:     deps.Metrics,
		logger:      logger.With(zap.String("component", "coordinator")),
		ctx:         ctx,
		pending:     queue.New[*Turn](),
	}, nil
}

// OpenTurn starts a turn when audio arrives and none is open.
func (c *Coordinator) OpenTurn() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.ingest != nil || c.closed {
		return
	}
	c.ingest = newTurn(c.sessionID)
	c.transition(c.ingest, StateTranscribing, "", nil)
}

// AbandonTurn returns an open turn that produced no utterance to idle.
func (c *Coordinator) AbandonTurn() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.ingest == nil {
		return
	}
	c.transition(c.ingest, StateIdle, OutcomeAbandoned, nil)
	c.metrics.TurnFinished(OutcomeAbandoned)
	c.ingest = nil
}

// Dispatch flushes the open turn with its utterance and queues it for the
// pipeline. It never waits on generation or synthesis.
func (c *Coordinator) Dispatch(utterance string) {
	c.mu.Lock()
	t := c.ingest
	c.ingest = nil
	if t == nil {
		t = newTurn(c.sessionID)
		c.transition(t, StateTranscribing, "", nil)
	}
	t.Utterance = utterance
	c.transition(t, StateFlushed, "", nil)

	if c.closed {
		c.transition(t, StateIdle, OutcomeDropped, nil)
		c.metrics.TurnFinished(OutcomeDropped)
		c.mu.Unlock()
		return
	}
	c.pending.Enqueue(t)
	start := !c.running
	c.running = true
	c.mu.Unlock()

	if start {
		c.schedule()
	}
}

// schedule hands the drain loop to the worker pool.
func (c *Coordinator) schedule() {
	if err := c.pool.Submit(c.ctx, c.drain); err != nil {
		c.logger.Error("cannot schedule turn", zap.Error(err))
		c.mu.Lock()
		defer c.mu.Unlock()
		c.running = false
		for _, t := range c.pending.DrainAll() {
			c.transition(t, StateIdle, OutcomeDropped, err)
			c.metrics.TurnFinished(OutcomeDropped)
		}
	}
}

// drain runs queued turns in order until the queue is empty.
func (c *Coordinator) drain(ctx context.Context) {
	for {
		c.mu.Lock()
		t, ok := c.pending.Dequeue()
		if !ok {
			c.running = false
			c.active = nil
			c.mu.Unlock()
			return
		}
		c.active = t
		c.mu.Unlock()

		c.runTurn(ctx, t)
	}
}

func (c *Coordinator) runTurn(ctx context.Context, t *Turn) {
	logger := c.logger.With(zap.String("turn", t.ID))
	outcome, err := c.execute(ctx, t, logger)
	if err != nil {
		logger.Error("turn failed", zap.String("outcome", outcome), zap.Error(err))
	} else {
		logger.Info("turn completed", zap.Duration("elapsed", time.Since(t.StartedAt)))
	}
	c.transition(t, StateIdle, outcome, err)
	c.metrics.TurnFinished(outcome)
}

func (c *Coordinator) execute(ctx context.Context, t *Turn, logger *zap.Logger) (string, error) {
	c.transition(t, StateGenerating, "", nil)
	genCtx, cancel := context.WithTimeout(ctx, c.timeouts.Generate)
	start := time.Now()
	reply, err := c.generator.Generate(genCtx, t.Utterance)
	cancel()
	c.metrics.ObserveStage("generate", time.Since(start))
	if err != nil {
		return OutcomeGenerationFailed, err
	}
	t.Reply = reply
	logger.Info("AI response", zap.String("reply", string(reply)))

	c.transition(t, StateSynthesizing, "", nil)
	synCtx, cancel := context.WithTimeout(ctx, c.timeouts.Synthesize)
	defer cancel()
	start = time.Now()
	stream, err := c.synthesizer.Synthesize(synCtx, reply)
	if err != nil {
		return OutcomeSynthesisFailed, err
	}
	defer stream.Close()

	for {
		chunk, ok := stream.Next()
		if !ok {
			break
		}
		if chunk.Index == 0 {
			c.transition(t, StatePublishing, "", nil)
		}
		if err := c.publisher.Publish(ctx, chunk); err != nil {
			return OutcomePublishFailed, err
		}
		c.metrics.ChunkPublished()
	}
	c.metrics.ObserveStage("synthesize", time.Since(start))
	if err := stream.Err(); err != nil {
		return OutcomeSynthesisFailed, err
	}
	logger.Debug("chunks published", zap.Int("count", stream.Produced()))
	return OutcomeCompleted, nil
}

func (c *Coordinator) transition(t *Turn, to State, outcome string, cause error) {
	from, err := t.advance(to)
	if err != nil {
		c.logger.Warn("ignoring transition", zap.String("turn", t.ID), zap.Error(err))
		return
	}
	c.metrics.TurnTransition(to.String())
	ev := TurnEvent{
		SessionID: c.sessionID,
		TurnID:    t.ID,
		From:      from,
		To:        to,
		At:        time.Now(),
		Outcome:   outcome,
	}
	if cause != nil {
		ev.Error = cause.Error()
	}
	c.logger.Debug("turn transition",
		zap.String("turn", t.ID),
		zap.Stringer("from", from),
		zap.Stringer("to", to),
	)
	if c.observer != nil {
		c.observer.OnTransition(ev)
	}
}

// Snapshot is a point-in-time view of a coordinator.
type Snapshot struct {
	SessionID   string `json:"session_id"`
	Ingest      State  `json:"ingest"`
	ActiveTurn  string `json:"active_turn,omitempty"`
	ActiveState State  `json:"active_state"`
	Queued      int    `json:"queued"`
}

// Snapshot reports the ingest state, the running turn and the queue depth.
func (c *Coordinator) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := Snapshot{
		SessionID: c.sessionID,
		Ingest:    StateIdle,
		Queued:    c.pending.Len(),
	}
	if c.ingest != nil {
		s.Ingest = c.ingest.State()
	}
	if c.active != nil {
		s.ActiveTurn = c.active.ID
		s.ActiveState = c.active.State()
	}
	return s
}

// Busy reports whether a turn is open, queued or running.
func (c *Coordinator) Busy() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ingest != nil || c.running
}

// Close stops accepting new turns. A running turn is left to finish.
func (c *Coordinator) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	if c.ingest != nil {
		c.transition(c.ingest, StateIdle, OutcomeAbandoned, nil)
		c.ingest = nil
	}
}
