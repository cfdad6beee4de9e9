package engine

import (
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"

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

// Kind selects the message sync strategy.
type Kind string

const (
	KindPolling Kind = "polling"
	KindStream  Kind = "stream"
)

// Builder assembles an Engine step by step and validates the configuration
// once, in Build.
type Builder struct {
	client   transport.Client
	feed     chatsync.Feed
	markers  store.ReadMarkerStore
	logger   zerolog.Logger
	kind     Kind
	statusIv time.Duration
	pollIv   time.Duration
	idleIv   time.Duration
	failures int
}

func NewBuilder() *Builder {
	return &Builder{
		logger:   zerolog.Nop(),
		kind:     KindPolling,
		statusIv: 10 * time.Second,
		pollIv:   3 * time.Second,
		idleIv:   3 * time.Second,
		failures: 3,
	}
}

// WithClient sets the transport used for all server interaction. Required.
func (b *Builder) WithClient(client transport.Client) *Builder {
	b.client = client
	return b
}

// WithStreamFeed provides the subscription feed for the stream engine kind.
func (b *Builder) WithStreamFeed(feed chatsync.Feed) *Builder {
	b.feed = feed
	return b
}

// WithReadMarkerStore overrides the read marker persistence; defaults to the
// in-memory store.
func (b *Builder) WithReadMarkerStore(markers store.ReadMarkerStore) *Builder {
	b.markers = markers
	return b
}

func (b *Builder) WithLogger(logger zerolog.Logger) *Builder {
	b.logger = logger
	return b
}

// WithKind selects polling (default) or stream sync.
func (b *Builder) WithKind(kind Kind) *Builder {
	b.kind = kind
	return b
}

// WithStatusInterval sets the session status poll cadence.
func (b *Builder) WithStatusInterval(d time.Duration) *Builder {
	if d > 0 {
		b.statusIv = d
	}
	return b
}

// WithPollInterval sets the message poll cadence.
func (b *Builder) WithPollInterval(d time.Duration) *Builder {
	if d > 0 {
		b.pollIv = d
	}
	return b
}

// WithTypingIdleWindow sets the typing inactivity window.
func (b *Builder) WithTypingIdleWindow(d time.Duration) *Builder {
	if d > 0 {
		b.idleIv = d
	}
	return b
}

// WithFailureThreshold sets the consecutive-failure count that surfaces a
// degraded notice, for both status and message sync.
func (b *Builder) WithFailureThreshold(n int) *Builder {
	if n > 0 {
		b.failures = n
	}
	return b
}

func (b *Builder) Build() (*Engine, error) {
	if b.client == nil {
		return nil, errors.New("engine builder: transport client is required")
	}
	if b.kind != KindPolling && b.kind != KindStream {
		return nil, errors.Errorf("engine builder: unknown sync kind %q", b.kind)
	}
	if b.kind == KindStream && b.feed == nil {
		return nil, errors.New("engine builder: stream kind requires a feed")
	}

	markers := b.markers
	if markers == nil {
		markers = store.NewInMemoryReadMarkerStore()
	}

	router, err := events.NewRouter(b.logger)
	if err != nil {
		return nil, errors.Wrap(err, "engine builder: event router")
	}

	registry := timers.NewRegistry(b.logger)
	messages := store.NewMessageStore()

	state := session.NewStateMachine(b.client, router, registry, b.logger,
		session.WithStatusInterval(b.statusIv),
		session.WithFailureThreshold(b.failures),
	)

	var syncEngine chatsync.Engine
	switch b.kind {
	case KindStream:
		syncEngine = chatsync.NewStreamEngine(b.client, b.feed, state, messages, router, b.logger,
			chatsync.WithStreamFailureThreshold(b.failures))
	default:
		syncEngine = chatsync.NewPollingEngine(b.client, messages, router, registry, b.logger,
			chatsync.WithPollInterval(b.pollIv),
			chatsync.WithFailureThreshold(b.failures))
	}

	e := &Engine{
		client:     b.client,
		router:     router,
		registry:   registry,
		messages:   messages,
		markers:    markers,
		state:      state,
		sync:       syncEngine,
		typing:     typing.NewController(b.client, registry, b.logger, typing.WithIdleWindow(b.idleIv)),
		tracker:    readpos.NewTracker(markers, b.logger),
		moderation: moderation.NewController(b.client, messages, b.logger),
		feedback:   feedback.NewController(b.client, b.logger),
		logger:     b.logger.With().Str("component", "engine").Logger(),
	}
	return e, nil
}
