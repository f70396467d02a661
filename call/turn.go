package call

import (
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/mrsingh-rishi/pixa/model"
)

// State is the lifecycle position of one turn.
type State int32

const (
	StateIdle State = iota
	StateTranscribing
	StateFlushed
	StateGenerating
	StateSynthesizing
	StatePublishing
)

var stateNames = map[State]string{
	StateIdle:         "idle",
	StateTranscribing: "transcribing",
	StateFlushed:      "flushed",
	StateGenerating:   "generating",
	StateSynthesizing: "synthesizing",
	StatePublishing:   "publishing",
}

func (s State) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return "unknown"
}

// MarshalText renders the state name in JSON.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Forward transitions; a failure may return any state to idle.
var transitions = map[State]State{
	StateIdle:         StateTranscribing,
	StateTranscribing: StateFlushed,
	StateFlushed:      StateGenerating,
	StateGenerating:   StateSynthesizing,
	StateSynthesizing: StatePublishing,
	StatePublishing:   StateIdle,
}

// ErrInvalidTransition is returned for moves the turn state machine forbids.
var ErrInvalidTransition = errors.New("invalid turn transition")

func canTransition(from, to State) bool {
	if to == StateIdle {
		return from != StateIdle
	}
	return transitions[from] == to
}

// Turn outcomes, recorded when a turn returns to idle.
const (
	OutcomeCompleted        = "completed"
	OutcomeAbandoned        = "abandoned"
	OutcomeGenerationFailed = "generation_failed"
	OutcomeSynthesisFailed  = "synthesis_failed"
	OutcomePublishFailed    = "publish_failed"
	OutcomeDropped          = "dropped"
)

// Turn is one transcribe → generate → synthesize → publish cycle.
type Turn struct {
	ID        string
	SessionID string
	StartedAt time.Time
	Utterance string
	Reply     model.Reply

	state atomic.Int32
}

func newTurn(sessionID string) *Turn {
	return &Turn{
		ID:        uuid.NewString(),
		SessionID: sessionID,
		StartedAt: time.Now(),
	}
}

// State returns the current state.
func (t *Turn) State() State {
	return State(t.state.Load())
}

// advance moves the turn to next if the state machine allows it.
func (t *Turn) advance(next State) (State, error) {
	from := t.State()
	if !canTransition(from, next) {
		return from, errors.Wrapf(ErrInvalidTransition, "%s -> %s", from, next)
	}
	t.state.Store(int32(next))
	return from, nil
}

// TurnEvent describes one state transition.
type TurnEvent struct {
	SessionID string    `json:"session_id"`
	TurnID    string    `json:"turn_id"`
	From      State     `json:"from"`
	To        State     `json:"to"`
	At        time.Time `json:"at"`
	Outcome   string    `json:"outcome,omitempty"`
	Error     string    `json:"error,omitempty"`
}

// Observer is notified of every turn transition.
type Observer interface {
	OnTransition(TurnEvent)
}
