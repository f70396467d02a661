package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestCollectorCounts(t *testing.T) {
	c := NewCollector("test")

	c.FrameReceived(false)
	c.FrameReceived(false)
	c.FrameReceived(true)
	c.FrameDropped()
	c.RecognizerError()
	c.UtteranceDispatched()
	c.TurnTransition("generating")
	c.TurnFinished("completed")
	c.ChunkPublished()
	c.ChunkPublished()
	c.SessionOpened()
	c.ObserveStage("generate", 150*time.Millisecond)

	assert.Equal(t, 2.0, testutil.ToFloat64(c.framesReceived.WithLabelValues("audio")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.framesReceived.WithLabelValues("marker")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.framesDropped))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.recognizerErrors))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.utterances))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.turnTransitions.WithLabelValues("generating")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.turnsTotal.WithLabelValues("completed")))
	assert.Equal(t, 2.0, testutil.ToFloat64(c.chunksPublished))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.activeSessions))
	assert.Equal(t, 1, testutil.CollectAndCount(c.stageDuration))

	c.SessionClosed()
	assert.Equal(t, 0.0, testutil.ToFloat64(c.activeSessions))
}

func TestNilCollector(t *testing.T) {
	var c *Collector
	assert.NotPanics(t, func() {
		c.FrameReceived(true)
		c.FrameDropped()
		c.RecognizerError()
		c.UtteranceDispatched()
		c.TurnTransition("idle")
		c.TurnFinished("completed")
		c.ObserveStage("publish", time.Second)
		c.ChunkPublished()
		c.SessionOpened()
		c.SessionClosed()
	})
	assert.Nil(t, c.Registry())
}

func TestSeparateRegistries(t *testing.T) {
	assert.NotPanics(t, func() {
		NewCollector("dup")
		NewCollector("dup")
	})
}
