package call

import (
	"encoding/json"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTurnTransitions(t *testing.T) {
	tests := []struct {
		name string
		path []State
		bad  State
	}{
		{
			name: "skip generation",
			path: []State{StateTranscribing, StateFlushed},
			bad:  StateSynthesizing,
		},
		{
			name: "publish before synthesis",
			path: []State{StateTranscribing, StateFlushed, StateGenerating},
			bad:  StatePublishing,
		},
		{
			name: "idle to flushed",
			bad:  StateFlushed,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			turn := newTurn("s")
			for _, s := range tt.path {
				_, err := turn.advance(s)
				require.NoError(t, err)
			}
			before := turn.State()
			_, err := turn.advance(tt.bad)
			assert.True(t, errors.Is(err, ErrInvalidTransition))
			assert.Equal(t, before, turn.State())
		})
	}
}

func TestTurnFullCycle(t *testing.T) {
	turn := newTurn("s")
	for _, s := range []State{StateTranscribing, StateFlushed, StateGenerating, StateSynthesizing, StatePublishing, StateIdle} {
		_, err := turn.advance(s)
		require.NoError(t, err)
	}
	assert.Equal(t, StateIdle, turn.State())

	_, err := turn.advance(StateIdle)
	assert.Error(t, err, "idle to idle")
}

func TestAnyStateFailsToIdle(t *testing.T) {
	for _, s := range []State{StateTranscribing, StateFlushed, StateGenerating, StateSynthesizing, StatePublishing} {
		assert.True(t, canTransition(s, StateIdle), s.String())
	}
}

func TestTurnEventJSON(t *testing.T) {
	data, err := json.Marshal(TurnEvent{SessionID: "s", TurnID: "t", From: StateGenerating, To: StateIdle, Outcome: OutcomeGenerationFailed})
	require.NoError(t, err)
	assert.Contains(t, string(data), `"from":"generating"`)
	assert.Contains(t, string(data), `"to":"idle"`)
	assert.Equal(t, "unknown", State(42).String())
}
