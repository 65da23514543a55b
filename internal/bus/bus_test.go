package bus

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/yanun0323/errors"
)

func newTestBus(t *testing.T, cfg Config) *Bus {
	t.Helper()
	b, err := New(cfg, prometheus.NewRegistry())
	require.NoError(t, err)
	b.Start(t.Context())
	t.Cleanup(b.Stop)
	return b
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not reached")
}

func TestMatchPattern(t *testing.T) {
	cases := []struct {
		pattern   string
		eventType string
		want      bool
	}{
		{"*", "market.trade", true},
		{"market.trade", "market.trade", true},
		{"market.trade", "market.tick", false},
		{"market.*", "market.trade", true},
		{"market.*", "market.trade.fill", false},
		{"market.*", "risk.rejected", false},
		{"market.*", "market.", false},
		{".*", "anything", false},
	}
	for _, c := range cases {
		assert.Equalf(t, c.want, matchPattern(c.pattern, c.eventType), "pattern %q type %q", c.pattern, c.eventType)
	}
}

func TestPublishBeforeStart(t *testing.T) {
	b, err := New(Config{}, prometheus.NewRegistry())
	require.NoError(t, err)

	_, err = b.Publish("market.trade", nil, PriorityNormal, "test", "")
	assert.ErrorIs(t, err, ErrNotRunning)

	// fire-and-forget never raises, it drops and counts
	b.TryPublish("market.trade", nil, PriorityNormal, "test", "")
	assert.Equal(t, uint64(1), b.Snapshot().Dropped)
}

func TestDeliveryAndWildcards(t *testing.T) {
	b := newTestBus(t, Config{})

	var exact, wild, global uint64
	b.Subscribe("market.trade", "exact", func(ctx context.Context, e Event) error {
		atomic.AddUint64(&exact, 1)
		return nil
	})
	b.Subscribe("market.*", "wild", func(ctx context.Context, e Event) error {
		atomic.AddUint64(&wild, 1)
		return nil
	})
	b.Subscribe("*", "global", func(ctx context.Context, e Event) error {
		atomic.AddUint64(&global, 1)
		return nil
	})

	_, err := b.Publish("market.trade", map[string]any{"price": 65000.0}, PriorityNormal, "test", "")
	require.NoError(t, err)
	_, err = b.Publish("risk.rejected", nil, PriorityHigh, "test", "")
	require.NoError(t, err)

	waitFor(t, func() bool { return atomic.LoadUint64(&global) == 2 })
	assert.Equal(t, uint64(1), atomic.LoadUint64(&exact))
	assert.Equal(t, uint64(1), atomic.LoadUint64(&wild))
}

func TestHandlerFailureIsolation(t *testing.T) {
	b := newTestBus(t, Config{DeadLetterSize: 4})

	var healthy uint64
	b.Subscribe("thought.*", "panics", func(ctx context.Context, e Event) error {
		panic("boom")
	})
	b.Subscribe("thought.*", "errors", func(ctx context.Context, e Event) error {
		return errors.New("handler refused")
	})
	b.Subscribe("thought.*", "healthy", func(ctx context.Context, e Event) error {
		atomic.AddUint64(&healthy, 1)
		return nil
	})

	_, err := b.Publish("thought.completed", nil, PriorityNormal, "test", "")
	require.NoError(t, err)

	waitFor(t, func() bool { return atomic.LoadUint64(&healthy) == 1 })
	waitFor(t, func() bool { return len(b.DeadLetters()) == 2 })

	letters := b.DeadLetters()
	names := []string{letters[0].Handler, letters[1].Handler}
	assert.Contains(t, names, "panics")
	assert.Contains(t, names, "errors")
}

func TestHandlerTimeoutDoesNotBlockSiblings(t *testing.T) {
	b := newTestBus(t, Config{HandlerTimeout: 20 * time.Millisecond})

	release := make(chan struct{})
	var fast uint64
	b.Subscribe("decision.*", "slow", func(ctx context.Context, e Event) error {
		<-release
		return nil
	})
	b.Subscribe("decision.*", "fast", func(ctx context.Context, e Event) error {
		atomic.AddUint64(&fast, 1)
		return nil
	})
	defer close(release)

	_, err := b.Publish("decision.made", nil, PriorityNormal, "test", "")
	require.NoError(t, err)

	waitFor(t, func() bool { return atomic.LoadUint64(&fast) == 1 })
	waitFor(t, func() bool { return len(b.DeadLetters()) == 1 })
	assert.Equal(t, "slow", b.DeadLetters()[0].Handler)
}

func TestHistoryQuery(t *testing.T) {
	b := newTestBus(t, Config{HistorySize: 8})

	for _, typ := range []string{"market.trade", "market.tick", "risk.rejected", "market.trade"} {
		_, err := b.Publish(typ, nil, PriorityNormal, "test", "")
		require.NoError(t, err)
	}
	waitFor(t, func() bool { return len(b.History("", "", time.Time{})) == 4 })

	assert.Len(t, b.History("market.trade", "", time.Time{}), 2)
	assert.Len(t, b.History("", "market.", time.Time{}), 3)
	assert.Empty(t, b.History("", "", time.Now().Add(time.Hour)))
}

func TestHistoryRingBound(t *testing.T) {
	b := newTestBus(t, Config{HistorySize: 3})

	for i := 0; i < 10; i++ {
		_, err := b.Publish("market.tick", map[string]any{"seq": i}, PriorityLow, "test", "")
		require.NoError(t, err)
	}
	waitFor(t, func() bool {
		events := b.History("market.tick", "", time.Time{})
		return len(events) == 3 && events[2].Payload["seq"] == 9
	})

	events := b.History("market.tick", "", time.Time{})
	require.Len(t, events, 3)
	assert.Equal(t, 7, events[0].Payload["seq"])
	assert.Equal(t, 9, events[2].Payload["seq"])
}

func TestUnsubscribe(t *testing.T) {
	b := newTestBus(t, Config{})

	var calls, witness uint64
	id := b.Subscribe("audit.*", "once", func(ctx context.Context, e Event) error {
		atomic.AddUint64(&calls, 1)
		return nil
	})
	b.Subscribe("audit.*", "witness", func(ctx context.Context, e Event) error {
		atomic.AddUint64(&witness, 1)
		return nil
	})
	_, err := b.Publish("audit.recorded", nil, PriorityNormal, "test", "")
	require.NoError(t, err)
	waitFor(t, func() bool { return atomic.LoadUint64(&calls) == 1 })

	assert.True(t, b.Unsubscribe(id))
	assert.False(t, b.Unsubscribe(id))

	_, err = b.Publish("audit.recorded", nil, PriorityNormal, "test", "")
	require.NoError(t, err)
	waitFor(t, func() bool { return atomic.LoadUint64(&witness) == 2 })
	assert.Equal(t, uint64(1), atomic.LoadUint64(&calls))
}

func TestQueueCloseDuringPush(t *testing.T) {
	for i := 0; i < 200; i++ {
		q := newQueue(4)

		var wg sync.WaitGroup
		for w := 0; w < 4; w++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				for j := 0; j < 50; j++ {
					if err := q.tryPush(Event{Type: "market.tick"}); err == ErrQueueClosed {
						return
					}
				}
			}()
		}
		q.close()
		wg.Wait()

		assert.ErrorIs(t, q.tryPush(Event{Type: "market.tick"}), ErrQueueClosed)
	}
}
