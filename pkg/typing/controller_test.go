package typing

import (
	"context"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/go-go-golems/lifeline/pkg/timers"
	"github.com/go-go-golems/lifeline/pkg/transport/transporttest"
)

func newTypingController(t *testing.T, client *transporttest.Client, options ...Option) *Controller {
	t.Helper()
	registry := timers.NewRegistry(zerolog.Nop())
	t.Cleanup(registry.StopAll)
	c := NewController(client, registry, zerolog.Nop(), options...)
	c.Bind("sess-1")
	t.Cleanup(c.Close)
	return c
}

func TestBurstSendsOneStartThenOneStop(t *testing.T) {
	client := &transporttest.Client{}
	c := newTypingController(t, client, WithIdleWindow(20*time.Millisecond))

	ctx := context.Background()
	c.NotifyActivity(ctx)
	c.NotifyActivity(ctx)
	c.NotifyActivity(ctx)
	require.True(t, c.Active())

	require.Eventually(t, func() bool { return len(client.TypingCalls()) == 2 }, time.Second, time.Millisecond)
	assert.False(t, c.Active())
	assert.Equal(t, []bool{true, false}, client.TypingCalls(), "keystrokes within the window collapse to one start/stop pair")
}

func TestKeystrokeExtendsWindow(t *testing.T) {
	client := &transporttest.Client{}
	c := newTypingController(t, client, WithIdleWindow(40*time.Millisecond))

	ctx := context.Background()
	c.NotifyActivity(ctx)
	for i := 0; i < 4; i++ {
		time.Sleep(15 * time.Millisecond)
		c.NotifyActivity(ctx)
	}
	assert.True(t, c.Active(), "steady typing keeps the burst alive past the bare window")

	require.Eventually(t, func() bool { return len(client.TypingCalls()) == 2 }, time.Second, time.Millisecond)
	assert.Equal(t, []bool{true, false}, client.TypingCalls())
}

func TestSecondBurstAfterIdle(t *testing.T) {
	client := &transporttest.Client{}
	c := newTypingController(t, client, WithIdleWindow(15*time.Millisecond))

	ctx := context.Background()
	c.NotifyActivity(ctx)
	require.Eventually(t, func() bool { return !c.Active() }, time.Second, time.Millisecond)

	c.NotifyActivity(ctx)
	require.Eventually(t, func() bool { return len(client.TypingCalls()) == 4 }, time.Second, time.Millisecond)

	assert.Equal(t, []bool{true, false, true, false}, client.TypingCalls())
}

func TestInputIdleStopsImmediately(t *testing.T) {
	client := &transporttest.Client{}
	c := newTypingController(t, client, WithIdleWindow(time.Hour))

	ctx := context.Background()
	c.NotifyActivity(ctx)
	require.True(t, c.Active())

	c.InputIdle(ctx)
	assert.False(t, c.Active())
	require.Eventually(t, func() bool { return len(client.TypingCalls()) == 2 }, time.Second, time.Millisecond)
	assert.Equal(t, []bool{true, false}, client.TypingCalls())

	// Idle while not typing sends nothing.
	c.InputIdle(ctx)
	assert.Equal(t, []bool{true, false}, client.TypingCalls())
}

func TestDisableMidTypingSendsStop(t *testing.T) {
	client := &transporttest.Client{}
	c := newTypingController(t, client, WithIdleWindow(time.Hour))

	ctx := context.Background()
	c.NotifyActivity(ctx)
	require.True(t, c.Active())

	c.SetEnabled(false)
	assert.False(t, c.Active())
	require.Eventually(t, func() bool { return len(client.TypingCalls()) == 2 }, time.Second, time.Millisecond)
	assert.Equal(t, []bool{true, false}, client.TypingCalls())

	// Keystrokes while disabled are ignored.
	c.NotifyActivity(ctx)
	assert.False(t, c.Active())
	assert.Equal(t, []bool{true, false}, client.TypingCalls())
}

func TestCloseSendsStopSynchronously(t *testing.T) {
	client := &transporttest.Client{}
	c := newTypingController(t, client, WithIdleWindow(time.Hour))

	c.NotifyActivity(context.Background())
	require.True(t, c.Active())

	c.Close()
	assert.Equal(t, []bool{true, false}, client.TypingCalls(), "stop went out before Close returned")

	// Closed controller refuses further activity.
	c.NotifyActivity(context.Background())
	assert.False(t, c.Active())
}

func TestNotifyActivityDoesNotBlockOnSlowTransport(t *testing.T) {
	release := make(chan struct{})
	client := &transporttest.Client{
		TypingFunc: func(_ context.Context, _ string, _ bool) error {
			<-release
			return nil
		},
	}
	c := newTypingController(t, client, WithIdleWindow(time.Hour))

	// A stalled transport must not hold up the keystroke path.
	start := time.Now()
	c.NotifyActivity(context.Background())
	c.InputIdle(context.Background())
	elapsed := time.Since(start)
	assert.Less(t, elapsed, 100*time.Millisecond)

	close(release)
	c.Close()
	assert.Equal(t, []bool{true, false}, client.TypingCalls())
}

func TestSignalFailureIsSwallowed(t *testing.T) {
	client := &transporttest.Client{
		TypingFunc: func(_ context.Context, _ string, _ bool) error {
			return errors.New("network down")
		},
	}
	c := newTypingController(t, client, WithIdleWindow(10*time.Millisecond))

	c.NotifyActivity(context.Background())
	require.True(t, c.Active(), "delivery failure does not break local burst tracking")
	require.Eventually(t, func() bool { return !c.Active() }, time.Second, time.Millisecond)
}

func TestUnboundControllerIsInert(t *testing.T) {
	client := &transporttest.Client{}
	registry := timers.NewRegistry(zerolog.Nop())
	t.Cleanup(registry.StopAll)
	c := NewController(client, registry, zerolog.Nop())
	t.Cleanup(c.Close)

	c.NotifyActivity(context.Background())
	assert.False(t, c.Active())
	assert.Empty(t, client.TypingCalls())
}
