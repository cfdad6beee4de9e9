package events

import (
	"context"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
)

// Router is the in-process event bus: a watermill router backed by a
// gochannel Pub/Sub. Every component publishes typed events through it and
// subscribes with JSON handlers; nothing holds direct references across
// component boundaries.
type Router struct {
	logger zerolog.Logger
	pubSub *gochannel.GoChannel
	router *message.Router
}

type RouterOption func(*routerConfig)

type routerConfig struct {
	bufferSize int64
}

// WithBufferSize overrides the output channel buffer of the underlying
// Pub/Sub.
func WithBufferSize(n int64) RouterOption {
	return func(c *routerConfig) { c.bufferSize = n }
}

func NewRouter(logger zerolog.Logger, options ...RouterOption) (*Router, error) {
	cfg := routerConfig{bufferSize: 256}
	for _, opt := range options {
		opt(&cfg)
	}

	wlogger := watermillLogger{logger: logger.With().Str("component", "events").Logger()}
	router, err := message.NewRouter(message.RouterConfig{}, wlogger)
	if err != nil {
		return nil, errors.Wrap(err, "create watermill router")
	}
	pubSub := gochannel.NewGoChannel(gochannel.Config{OutputChannelBuffer: cfg.bufferSize}, wlogger)

	return &Router{
		logger: logger.With().Str("component", "events").Logger(),
		pubSub: pubSub,
		router: router,
	}, nil
}

// Publish serializes the event and sends it on the given topic.
func (r *Router) Publish(topic string, e Event) error {
	payload, err := MarshalEvent(e)
	if err != nil {
		return err
	}
	msg := message.NewMessage(watermill.NewUUID(), payload)
	return errors.Wrapf(r.pubSub.Publish(topic, msg), "publish %s to %s", e.Type(), topic)
}

// AddHandler registers fn for every event on topic. Decode failures are
// logged and acked so one bad payload cannot wedge the bus.
func (r *Router) AddHandler(name, topic string, fn func(Event) error) {
	r.router.AddNoPublisherHandler(name, topic, r.pubSub, func(msg *message.Message) error {
		defer msg.Ack()
		e, err := NewEventFromJSON(msg.Payload)
		if err != nil {
			r.logger.Warn().Err(err).Str("handler", name).Msg("dropping undecodable event")
			return nil
		}
		return fn(e)
	})
}

// Run starts the router and blocks until the context is cancelled or the
// router is closed.
func (r *Router) Run(ctx context.Context) error {
	return r.router.Run(ctx)
}

// RunHandlers starts handlers added after Run.
func (r *Router) RunHandlers(ctx context.Context) error {
	return r.router.RunHandlers(ctx)
}

// Running returns a channel closed once the router accepts messages.
func (r *Router) Running() <-chan struct{} {
	return r.router.Running()
}

func (r *Router) IsRunning() bool {
	return r.router.IsRunning()
}

func (r *Router) Close() error {
	routerErr := r.router.Close()
	pubSubErr := r.pubSub.Close()
	if routerErr != nil {
		return errors.Wrap(routerErr, "close router")
	}
	return errors.Wrap(pubSubErr, "close pubsub")
}

// watermillLogger adapts zerolog to watermill's LoggerAdapter.
type watermillLogger struct {
	logger zerolog.Logger
}

var _ watermill.LoggerAdapter = watermillLogger{}

func (l watermillLogger) Error(msg string, err error, fields watermill.LogFields) {
	l.event(l.logger.Error().Err(err), fields).Msg(msg)
}

func (l watermillLogger) Info(msg string, fields watermill.LogFields) {
	l.event(l.logger.Debug(), fields).Msg(msg)
}

func (l watermillLogger) Debug(msg string, fields watermill.LogFields) {
	l.event(l.logger.Debug(), fields).Msg(msg)
}

func (l watermillLogger) Trace(msg string, fields watermill.LogFields) {
	l.event(l.logger.Trace(), fields).Msg(msg)
}

func (l watermillLogger) With(fields watermill.LogFields) watermill.LoggerAdapter {
	ctx := l.logger.With()
	for k, v := range fields {
		ctx = ctx.Interface(k, v)
	}
	return watermillLogger{logger: ctx.Logger()}
}

func (l watermillLogger) event(e *zerolog.Event, fields watermill.LogFields) *zerolog.Event {
	for k, v := range fields {
		e = e.Interface(k, v)
	}
	return e
}
