package session

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/go-go-golems/lifeline/pkg/chat"
	"github.com/go-go-golems/lifeline/pkg/events"
	"github.com/go-go-golems/lifeline/pkg/timers"
	"github.com/go-go-golems/lifeline/pkg/transport"
)

// ErrNotWaiting is returned when a cancel action is attempted outside the
// WAITING state.
var ErrNotWaiting = errors.New("session is not waiting for a volunteer")

// StateMachine is the sole writer of the client's session state. It polls the
// server, adopts reported state verbatim, and publishes transitions on the
// bus. Polling stops entirely once a terminal status is reached or the
// session locks; the terminal signal fires exactly once per session lifetime.
//
// Apply is also the entry point for snapshots pushed over the stream feed, so
// transition logic is identical for both transports.
type StateMachine struct {
	client           transport.Client
	router           *events.Router
	timers           *timers.Registry
	interval         time.Duration
	failureThreshold int
	logger           zerolog.Logger

	mu            sync.Mutex
	session       chat.Session
	running       bool
	polling       bool
	handle        *timers.Handle
	cancel        context.CancelFunc
	terminalFired bool
	failures      int
}

type Option func(*StateMachine)

// WithStatusInterval overrides the status poll cadence.
func WithStatusInterval(d time.Duration) Option {
	return func(m *StateMachine) { m.interval = d }
}

// WithFailureThreshold sets how many consecutive status poll failures
// surface a degraded notice.
func WithFailureThreshold(n int) Option {
	return func(m *StateMachine) { m.failureThreshold = n }
}

func NewStateMachine(
	client transport.Client,
	router *events.Router,
	registry *timers.Registry,
	logger zerolog.Logger,
	options ...Option,
) *StateMachine {
	m := &StateMachine{
		client:           client,
		router:           router,
		timers:           registry,
		interval:         10 * time.Second,
		failureThreshold: 3,
		logger:           logger.With().Str("component", "session").Logger(),
	}
	for _, opt := range options {
		opt(m)
	}
	return m
}

// Start adopts the initial session view and begins status polling unless the
// session is already terminal or locked.
func (m *StateMachine) Start(ctx context.Context, session chat.Session) error {
	m.mu.Lock()
	if m.running {
		m.mu.Unlock()
		return nil
	}
	m.running = true
	m.session = session
	m.terminalFired = false
	pollCtx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	shouldPoll := !session.Status.Terminal() && !session.IsLocked
	m.polling = shouldPoll
	m.mu.Unlock()

	// A session handed to us already terminal still owes its one-shot signal.
	m.Apply(chat.StatusSnapshot{
		Status:        session.Status,
		IsLocked:      session.IsLocked,
		CounterpartID: session.CounterpartID,
	})

	if shouldPoll {
		handle := m.timers.Every("status-poll", m.interval, func() { m.poll(pollCtx) })
		m.mu.Lock()
		m.handle = handle
		m.mu.Unlock()
		m.logger.Info().Str("session_id", session.ID).Dur("interval", m.interval).Msg("status polling started")
	}
	return nil
}

// Stop halts status polling synchronously.
func (m *StateMachine) Stop() {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return
	}
	m.running = false
	m.polling = false
	handle := m.handle
	cancel := m.cancel
	m.handle = nil
	m.cancel = nil
	m.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if handle != nil {
		handle.Stop()
	}
}

// Session returns the current view of the session.
func (m *StateMachine) Session() chat.Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.session
}

// Locked reports whether the session has locked; once true it never reverts.
func (m *StateMachine) Locked() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.session.IsLocked
}

// Cancel withdraws the request, valid only while WAITING. On success the
// session is treated as locally abandoned without waiting for the next poll.
func (m *StateMachine) Cancel(ctx context.Context) error {
	m.mu.Lock()
	current := m.session
	m.mu.Unlock()

	if current.Status != chat.StatusWaiting {
		return ErrNotWaiting
	}
	if err := m.client.CancelSession(ctx, current.ID); err != nil {
		return errors.Wrap(err, "cancel session request")
	}
	m.Apply(chat.StatusSnapshot{
		Status:        chat.StatusAbandoned,
		IsLocked:      current.IsLocked,
		CounterpartID: current.CounterpartID,
	})
	return nil
}

// Apply folds one server-reported snapshot into the state machine. The client
// adopts the server's state verbatim; no transition is retried or rolled back
// locally. The lock flag is monotonic: a snapshot can never unlock a session.
func (m *StateMachine) Apply(snapshot chat.StatusSnapshot) {
	m.mu.Lock()

	if !snapshot.Status.Valid() {
		m.mu.Unlock()
		m.logger.Warn().Str("status", string(snapshot.Status)).Msg("ignoring unknown session status")
		return
	}

	previous := m.session
	m.session.Status = snapshot.Status
	if snapshot.CounterpartID != "" {
		m.session.CounterpartID = snapshot.CounterpartID
	}
	if snapshot.IsLocked {
		m.session.IsLocked = true
	}
	current := m.session

	statusChanged := previous.Status != current.Status
	lockFlipped := current.IsLocked && !previous.IsLocked
	nowTerminal := current.Status.Terminal() || current.IsLocked

	fireTerminal := nowTerminal && !m.terminalFired
	if fireTerminal {
		m.terminalFired = true
	}
	stopPolling := nowTerminal && m.polling
	if stopPolling {
		m.polling = false
	}
	handle := m.handle
	if stopPolling {
		m.handle = nil
	}
	m.mu.Unlock()

	if statusChanged {
		m.logger.Info().
			Str("session_id", current.ID).
			Str("from", string(previous.Status)).
			Str("to", string(current.Status)).
			Msg("session transition")
		m.publish(events.NewEventSessionTransition(current.ID, previous.Status, current.Status, current.CounterpartID))
	}
	if lockFlipped {
		m.logger.Info().Str("session_id", current.ID).Msg("session locked")
		m.publish(events.NewEventSessionLocked(current.ID))
	}
	if fireTerminal {
		m.publish(events.NewEventSessionTerminal(current.ID, current.Status, current.CounterpartID))
	}
	if stopPolling && handle != nil {
		// Apply may run inside the poll callback itself; stopping the
		// handle synchronously there would deadlock. The polling flag is
		// already down, so a tick in the stop window is a no-op.
		go handle.Stop()
	}
}

func (m *StateMachine) poll(ctx context.Context) {
	m.mu.Lock()
	if !m.polling {
		m.mu.Unlock()
		return
	}
	sessionID := m.session.ID
	m.mu.Unlock()

	snapshot, err := m.client.SessionStatus(ctx, sessionID)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		m.recordFailure(sessionID, err)
		return
	}
	m.recordSuccess(sessionID)
	m.Apply(snapshot)
}

func (m *StateMachine) recordFailure(sessionID string, err error) {
	m.mu.Lock()
	m.failures++
	failures := m.failures
	m.mu.Unlock()

	m.logger.Debug().Err(err).Int("consecutive_failures", failures).Msg("status poll failed")
	if failures == m.failureThreshold {
		m.publish(events.NewEventSyncDegraded(sessionID, "status", failures))
	}
}

func (m *StateMachine) recordSuccess(sessionID string) {
	m.mu.Lock()
	wasDegraded := m.failures >= m.failureThreshold
	m.failures = 0
	m.mu.Unlock()

	if wasDegraded {
		m.publish(events.NewEventSyncRecovered(sessionID, "status"))
	}
}

func (m *StateMachine) publish(e events.Event) {
	if err := m.router.Publish(events.TopicSession, e); err != nil {
		m.logger.Warn().Err(err).Str("event", string(e.Type())).Msg("failed to publish session event")
	}
}
