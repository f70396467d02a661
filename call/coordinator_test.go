package call

import (
	"context"
	"testing"

	"github.com/golang/mock/gomock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/mrsingh-rishi/pixa/model"
	"github.com/mrsingh-rishi/pixa/output"
	"github.com/mrsingh-rishi/pixa/worker"
	"github.com/mrsingh-rishi/pixa/workers"
	"github.com/mrsingh-rishi/pixa/workers/mocks"
)

func newTestCoordinator(t *testing.T, pool *worker.Pool, obs Observer) *Coordinator {
	t.Helper()
	ctrl := gomock.NewController(t)
	gen, err := workers.NewGenerationWorker(mocks.NewMockCompleter(ctrl), zap.NewNop())
	require.NoError(t, err)
	syn, err := workers.NewSynthesisWorker(mocks.NewMockSynthesizer(ctrl), model.ChunkSize, zap.NewNop())
	require.NoError(t, err)
	pub, err := output.NewChunkPublisher(&fakeTransport{}, "pixa/output", 0, zap.NewNop())
	require.NoError(t, err)

	c, err := NewCoordinator(context.Background(), "s1", Timeouts{}, CoordinatorDeps{
		Generator:   gen,
		Synthesizer: syn,
		Publisher:   pub,
		Pool:        pool,
		Observer:    obs,
	})
	require.NoError(t, err)
	return c
}

func TestNewCoordinatorValidates(t *testing.T) {
	_, err := NewCoordinator(context.Background(), "s", Timeouts{}, CoordinatorDeps{})
	assert.Error(t, err)
}

func TestCoordinatorDefaultsTimeouts(t *testing.T) {
	c := newTestCoordinator(t, worker.NewPool(1, 1, zap.NewNop()), nil)
	assert.Equal(t, DefaultTimeouts(), c.timeouts)
}

func TestDispatchDropsTurnsWhenPoolClosed(t *testing.T) {
	pool := worker.NewPool(1, 1, zap.NewNop())
	pool.Start()
	pool.Stop()

	events := &eventRecorder{events: make(chan TurnEvent, 16)}
	c := newTestCoordinator(t, pool, events)

	c.OpenTurn()
	c.Dispatch(" hello")

	ev := events.finished(t)
	assert.Equal(t, OutcomeDropped, ev.Outcome)
	assert.Equal(t, StateFlushed, ev.From)
	assert.Contains(t, ev.Error, "closed")
	assert.False(t, c.Busy())
	assert.Equal(t, 0, c.Snapshot().Queued)
}

func TestOpenTurnIsIdempotent(t *testing.T) {
	events := &eventRecorder{events: make(chan TurnEvent, 16)}
	c := newTestCoordinator(t, worker.NewPool(1, 1, zap.NewNop()), events)

	c.OpenTurn()
	c.OpenTurn()
	assert.Len(t, events.events, 1)
	assert.Equal(t, StateTranscribing, c.Snapshot().Ingest)
	assert.True(t, c.Busy())

	c.AbandonTurn()
	c.AbandonTurn()
	assert.Len(t, events.events, 2)
	assert.False(t, c.Busy())
}

func TestClosedCoordinatorDropsDispatch(t *testing.T) {
	events := &eventRecorder{events: make(chan TurnEvent, 16)}
	c := newTestCoordinator(t, worker.NewPool(1, 1, zap.NewNop()), events)

	c.OpenTurn()
	c.Close()
	assert.Equal(t, OutcomeAbandoned, events.finished(t).Outcome)

	c.OpenTurn()
	c.Dispatch(" late")
	assert.Equal(t, OutcomeDropped, events.finished(t).Outcome)
}
