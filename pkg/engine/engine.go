package engine

import (
	"context"
	"sync"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/go-go-golems/lifeline/pkg/chat"
	"github.com/go-go-golems/lifeline/pkg/chatsync"
	"github.com/go-go-golems/lifeline/pkg/events"
	"github.com/go-go-golems/lifeline/pkg/feedback"
	"github.com/go-go-golems/lifeline/pkg/moderation"
	"github.com/go-go-golems/lifeline/pkg/readpos"
	"github.com/go-go-golems/lifeline/pkg/session"
	"github.com/go-go-golems/lifeline/pkg/store"
	"github.com/go-go-golems/lifeline/pkg/timers"
	"github.com/go-go-golems/lifeline/pkg/transport"
	"github.com/go-go-golems/lifeline/pkg/typing"
)

// LockNotice is the system message injected locally when the counterpart
// locks the session, so the user sees the ending immediately even if message
// sync lags behind.
const LockNotice = "This chat session has been ended by the volunteer. Thank you for your participation."

// ErrSessionLocked rejects writes once the session locked.
var ErrSessionLocked = errors.New("session is locked")

// Engine is the facade tying the lifecycle pieces together: the session
// state machine decides what state the client is in, the sync engine keeps
// the message store current, and the event subscriptions below implement the
// dependencies between them. The render surface talks only to this type and
// to the event bus.
type Engine struct {
	client   transport.Client
	router   *events.Router
	registry *timers.Registry
	messages *store.MessageStore
	markers  store.ReadMarkerStore

	state      *session.StateMachine
	sync       chatsync.Engine
	typing     *typing.Controller
	tracker    *readpos.Tracker
	moderation *moderation.Controller
	feedback   *feedback.Controller

	logger zerolog.Logger

	mu       sync.Mutex
	started  bool
	runCtx   context.Context
	shutdown context.CancelFunc
}

// Run starts the event bus and blocks until ctx is cancelled or the bus
// fails. Lifecycle subscriptions are registered before the bus starts so no
// transition is missed.
func (e *Engine) Run(ctx context.Context) error {
	e.mu.Lock()
	runCtx, cancel := context.WithCancel(ctx)
	e.runCtx = runCtx
	e.shutdown = cancel
	e.mu.Unlock()

	e.router.AddHandler("lifecycle", events.TopicSession, e.onSessionEvent)

	eg, egCtx := errgroup.WithContext(runCtx)
	eg.Go(func() error {
		err := e.router.Run(egCtx)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})
	eg.Go(func() error {
		<-egCtx.Done()
		e.teardown()
		return nil
	})

	<-e.router.Running()
	e.logger.Debug().Msg("engine event bus running")
	return eg.Wait()
}

// Begin requests a new session from the server and adopts it.
func (e *Engine) Begin(ctx context.Context) (chat.Session, error) {
	sess, err := e.client.RequestSession(ctx)
	if err != nil {
		return chat.Session{}, errors.Wrap(err, "request session")
	}
	if err := e.Resume(ctx, sess); err != nil {
		return chat.Session{}, err
	}
	return sess, nil
}

// Resume adopts an existing session view: the state machine starts polling
// (or signals terminal immediately), and if the session is already active the
// message sync comes up too. Safe to call once per engine.
func (e *Engine) Resume(ctx context.Context, sess chat.Session) error {
	e.mu.Lock()
	if e.started {
		e.mu.Unlock()
		return errors.New("engine already bound to a session")
	}
	e.started = true
	runCtx := e.runCtx
	e.mu.Unlock()
	if runCtx == nil {
		runCtx = ctx
	}

	e.tracker.Hydrate(ctx, sess.ID, e.messages.Len())
	e.typing.Bind(sess.ID)
	e.typing.SetEnabled(sess.Status == chat.StatusActive && !sess.IsLocked)

	if sess.Status == chat.StatusActive && !sess.IsLocked {
		if err := e.sync.Start(runCtx, sess); err != nil {
			return errors.Wrap(err, "start message sync")
		}
	}

	// Last: the state machine fires terminal immediately for a dead session,
	// and the lifecycle handler expects the other pieces bound already.
	if err := e.state.Start(runCtx, sess); err != nil {
		return errors.Wrap(err, "start state machine")
	}

	e.logger.Info().Str("session_id", sess.ID).Str("status", string(sess.Status)).Msg("session adopted")
	return nil
}

// Router exposes the event bus so a render surface can subscribe. Handlers
// must be registered before Run starts the bus.
func (e *Engine) Router() *events.Router {
	return e.router
}

// Session returns the current session view.
func (e *Engine) Session() chat.Session {
	return e.state.Session()
}

// Messages returns the ordered transcript.
func (e *Engine) Messages() []chat.Message {
	return e.messages.Messages()
}

// Send submits a user message. The input belongs to the caller: on error the
// returned Outgoing still carries the content so the surface can keep it in
// the composer. Sending also counts as typing activity ending.
func (e *Engine) Send(ctx context.Context, content string) (chat.Outgoing, error) {
	if e.state.Locked() {
		return chat.Outgoing{Content: content, State: chat.OutgoingRejected, SendError: ErrSessionLocked}, ErrSessionLocked
	}
	out, err := e.sync.Send(ctx, content)
	if err == nil {
		e.typing.InputIdle(ctx)
		e.tracker.OnOwnMessage(ctx)
	}
	return out, err
}

// NotifyTyping registers a local keystroke.
func (e *Engine) NotifyTyping(ctx context.Context) {
	e.typing.NotifyActivity(ctx)
}

// InputIdle signals that the composer was cleared.
func (e *Engine) InputIdle(ctx context.Context) {
	e.typing.InputIdle(ctx)
}

// CancelRequest withdraws a WAITING session.
func (e *Engine) CancelRequest(ctx context.Context) error {
	return e.state.Cancel(ctx)
}

// Flag reports a message; reason may be empty for the default.
func (e *Engine) Flag(ctx context.Context, messageID, reason string) error {
	return e.moderation.Flag(ctx, e.state.Session().ID, messageID, reason)
}

// FeedbackActive reports whether the end-of-session dialog should show.
func (e *Engine) FeedbackActive() bool {
	return e.feedback.Active()
}

// SubmitFeedback posts the end-of-session rating.
func (e *Engine) SubmitFeedback(ctx context.Context, rating, comments string) (string, error) {
	return e.feedback.Submit(ctx, rating, comments, map[string]string{
		"counterpartId": e.state.Session().CounterpartID,
	})
}

// SkipFeedback dismisses the dialog without submitting.
func (e *Engine) SkipFeedback() {
	e.feedback.Skip()
}

// OnViewportBatch feeds a merged batch through the read-position tracker.
func (e *Engine) OnViewportBatch(ctx context.Context, batchSize int, nearBottom bool) readpos.Decision {
	return e.tracker.OnNewMessages(ctx, batchSize, nearBottom)
}

// MarkSeen clears the unread banner after an explicit jump to newest.
func (e *Engine) MarkSeen(ctx context.Context) readpos.Decision {
	return e.tracker.MarkSeen(ctx)
}

// Unread returns the pending unread count.
func (e *Engine) Unread() int {
	return e.tracker.Unread()
}

// Close tears everything down. Idempotent.
func (e *Engine) Close() {
	e.mu.Lock()
	shutdown := e.shutdown
	e.shutdown = nil
	e.mu.Unlock()
	if shutdown != nil {
		shutdown()
	} else {
		e.teardown()
	}
}

func (e *Engine) teardown() {
	e.typing.Close()
	e.sync.Stop()
	e.state.Stop()
	e.registry.StopAll()
	if err := e.markers.Close(); err != nil {
		e.logger.Debug().Err(err).Msg("closing read marker store")
	}
	if err := e.router.Close(); err != nil {
		e.logger.Debug().Err(err).Msg("closing event router")
	}
}

// onSessionEvent implements the lifecycle dependency rules. It runs on the
// bus handler goroutine, never on a timer callback, so it may start and stop
// the other components synchronously.
func (e *Engine) onSessionEvent(ev events.Event) error {
	switch ev := ev.(type) {
	case *events.EventSessionTransition:
		if ev.To == chat.StatusActive && !e.state.Locked() {
			ctx := e.currentRunCtx()
			if err := e.sync.Start(ctx, e.state.Session()); err != nil {
				e.logger.Warn().Err(err).Msg("failed to start message sync on activation")
			}
			e.typing.SetEnabled(true)
		}
	case *events.EventSessionLocked:
		// The sync engine is the store's single writer, so the synthetic
		// notice goes in through it before sync stops.
		e.sync.InjectSystemMessage(LockNotice)
		e.typing.SetEnabled(false)
		e.sync.Stop()
	case *events.EventSessionTerminal:
		e.typing.SetEnabled(false)
		e.sync.Stop()
		if e.feedback.OnSessionTerminal(e.state.Session()) {
			e.logger.Info().Str("session_id", ev.SessionID()).Msg("feedback flow triggered")
		}
	}
	return nil
}

func (e *Engine) currentRunCtx() context.Context {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.runCtx != nil {
		return e.runCtx
	}
	return context.Background()
}
