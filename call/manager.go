package call

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/mrsingh-rishi/pixa/model"
)

// ErrManagerClosed is returned once the manager has been closed.
var ErrManagerClosed = errors.New("session manager closed")

// Router maps an inbound topic to a session id and its outbound topic prefix.
type Router func(topic string) (sessionID, outputPrefix string, err error)

// Manager keys sessions by id and routes inbound frames to them.
type Manager struct {
	ctx    context.Context
	deps   Deps
	opts   Options
	route  Router
	logger *zap.Logger

	mu       sync.Mutex
	sessions map[string]*Session
	closed   bool
}

// NewManager returns a Manager that opens sessions on demand for the ids
// route derives from inbound topics. Sessions live until ReapIdle or Close.
func NewManager(ctx context.Context, route Router, deps Deps, opts Options) (*Manager, error) {
	if route == nil {
		return nil, errors.New("router is required")
	}
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{
		ctx:      ctx,
		deps:     deps,
		opts:     opts,
		route:    route,
		logger:   logger.With(zap.String("component", "sessions")),
		sessions: make(map[string]*Session),
	}, nil
}

// HandleMessage is the transport delivery callback for inbound audio.
// Errors are logged; nothing here may stop the process.
func (m *Manager) HandleMessage(topic string, payload []byte) {
	if err := m.Deliver(m.ctx, topic, payload); err != nil {
		m.logger.Warn("inbound frame not processed", zap.String("topic", topic), zap.Error(err))
	}
}

// Deliver routes one frame to its session, opening the session if needed.
func (m *Manager) Deliver(ctx context.Context, topic string, payload []byte) error {
	id, prefix, err := m.route(topic)
	if err != nil {
		return errors.Wrapf(err, "route topic %q", topic)
	}
	s, err := m.session(id, prefix)
	if err != nil {
		return err
	}
	frame := model.AudioFrame(payload)
	return s.Submit(ctx, frame)
}

// session returns the open session for id, creating it outside m.mu so a
// slow constructor never blocks frames for other sessions.
func (m *Manager) session(id, prefix string) (*Session, error) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil, ErrManagerClosed
	}
	if s, ok := m.sessions[id]; ok {
		m.mu.Unlock()
		return s, nil
	}
	m.mu.Unlock()

	created, err := NewSession(m.ctx, id, prefix, m.deps, m.opts)
	if err != nil {
		return nil, errors.Wrapf(err, "open session %s", id)
	}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		_ = created.Close()
		return nil, ErrManagerClosed
	}
	if s, ok := m.sessions[id]; ok {
		m.mu.Unlock()
		_ = created.Close()
		return s, nil
	}
	m.sessions[id] = created
	m.deps.Metrics.SessionOpened()
	m.mu.Unlock()
	return created, nil
}

// Snapshots returns the state of every session ordered by id.
func (m *Manager) Snapshots() []Snapshot {
	m.mu.Lock()
	sessions := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		sessions = append(sessions, s)
	}
	m.mu.Unlock()

	out := make([]Snapshot, 0, len(sessions))
	for _, s := range sessions {
		out = append(out, s.Snapshot())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SessionID < out[j].SessionID })
	return out
}

// Len is the number of open sessions.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// ReapIdle closes sessions with no activity for maxIdle and no turn in
// flight. It returns the number of sessions closed.
func (m *Manager) ReapIdle(now time.Time, maxIdle time.Duration) int {
	m.mu.Lock()
	var stale []*Session
	for id, s := range m.sessions {
		if now.Sub(s.LastSeen()) >= maxIdle && s.Idle() {
			stale = append(stale, s)
			delete(m.sessions, id)
		}
	}
	m.mu.Unlock()

	for _, s := range stale {
		_ = s.Close()
		m.deps.Metrics.SessionClosed()
		m.logger.Info("reaped idle session", zap.String("session", s.ID))
	}
	return len(stale)
}

// Close closes every session and rejects further frames.
func (m *Manager) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	sessions := m.sessions
	m.sessions = make(map[string]*Session)
	m.mu.Unlock()

	var firstErr error
	for _, s := range sessions {
		if err := s.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		m.deps.Metrics.SessionClosed()
	}
	return firstErr
}
