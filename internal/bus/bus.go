// Package bus implements the in-process pub/sub core of the decision
// pipeline. Every component publishes observable state changes here;
// subscribers register patterns and receive events asynchronously from a
// single dispatch loop.
package bus

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/yanun0323/errors"
	"github.com/yanun0323/logs"
)

var ErrNotRunning = errors.New("event bus not running")

const (
	defaultQueueSize      = 4096
	defaultHistorySize    = 2048
	defaultDeadLetterSize = 128
)

var defaultHandlerTimeout = 5 * time.Second

// Config controls queue, history and handler bounds.
type Config struct {
	QueueSize      int
	HistorySize    int
	DeadLetterSize int
	HandlerTimeout time.Duration
}

// DefaultConfig returns a baseline bus configuration.
func DefaultConfig() Config {
	return Config{
		QueueSize:      defaultQueueSize,
		HistorySize:    defaultHistorySize,
		DeadLetterSize: defaultDeadLetterSize,
		HandlerTimeout: defaultHandlerTimeout,
	}
}

func (c Config) withDefaults() Config {
	if c.QueueSize == 0 {
		c.QueueSize = defaultQueueSize
	}
	if c.HistorySize == 0 {
		c.HistorySize = defaultHistorySize
	}
	if c.DeadLetterSize == 0 {
		c.DeadLetterSize = defaultDeadLetterSize
	}
	if c.HandlerTimeout == 0 {
		c.HandlerTimeout = defaultHandlerTimeout
	}
	return c
}

// Validate checks if the configuration is usable.
func (c Config) Validate() error {
	if c.QueueSize < 0 {
		return fmt.Errorf("invalid bus config: QueueSize must be >= 0")
	}
	if c.HistorySize < 0 {
		return fmt.Errorf("invalid bus config: HistorySize must be >= 0")
	}
	if c.DeadLetterSize < 0 {
		return fmt.Errorf("invalid bus config: DeadLetterSize must be >= 0")
	}
	if c.HandlerTimeout < 0 {
		return fmt.Errorf("invalid bus config: HandlerTimeout must be >= 0")
	}
	return nil
}

// Handler receives a matched event. An error return or a panic is isolated
// per handler and recorded to the dead-letter queue.
type Handler func(ctx context.Context, e Event) error

type subscription struct {
	id      string
	pattern string
	name    string
	handler Handler
}

// DeadLetter records one failed handler invocation.
type DeadLetter struct {
	Event     Event     `json:"event"`
	Handler   string    `json:"handler"`
	Reason    string    `json:"reason"`
	Timestamp time.Time `json:"timestamp"`
}

// Stats is a point-in-time view of bus counters.
type Stats struct {
	Published     uint64 `json:"published"`
	Delivered     uint64 `json:"delivered"`
	Dropped       uint64 `json:"dropped"`
	HandlerFailed uint64 `json:"handler_failed"`
	QueueDepth    int    `json:"queue_depth"`
	Subscriptions int    `json:"subscriptions"`
	DeadLetters   int    `json:"dead_letters"`
	Running       bool   `json:"running"`
}

// Bus routes published events to pattern subscribers.
type Bus struct {
	cfg     Config
	queue   *queue
	history *history
	metrics *Metrics

	mu   sync.RWMutex
	subs []subscription

	dlMu        sync.Mutex
	deadLetters []DeadLetter

	published     uint64
	delivered     uint64
	dropped       uint64
	handlerFailed uint64

	running uint32
	cancel  context.CancelFunc
	done    chan struct{}
}

// New creates a bus; Start must be called before publishing.
func New(cfg Config, reg prometheus.Registerer) (*Bus, error) {
	cfg = cfg.withDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	b := &Bus{
		cfg:     cfg,
		queue:   newQueue(cfg.QueueSize),
		history: newHistory(cfg.HistorySize),
	}
	b.metrics = NewMetrics(reg, func() float64 { return float64(b.queue.depth()) })
	return b, nil
}

// Start launches the dispatch loop.
func (b *Bus) Start(ctx context.Context) {
	if !atomic.CompareAndSwapUint32(&b.running, 0, 1) {
		return
	}
	ctx, cancel := context.WithCancel(ctx)
	b.cancel = cancel
	b.done = make(chan struct{})
	go func() {
		defer close(b.done)
		b.queue.run(ctx, b.dispatch)
	}()
	logs.Info("event bus started")
}

// Stop drains nothing further and waits for the dispatch loop to exit.
func (b *Bus) Stop() {
	if !atomic.CompareAndSwapUint32(&b.running, 1, 0) {
		return
	}
	b.queue.close()
	b.cancel()
	<-b.done
	logs.Info("event bus stopped")
}

// Running reports whether the dispatch loop is active.
func (b *Bus) Running() bool {
	return atomic.LoadUint32(&b.running) == 1
}

// Publish enqueues an event, failing when the bus is stopped or the queue
// is full.
func (b *Bus) Publish(eventType string, payload map[string]any, priority Priority, source, correlationID string) (Event, error) {
	if !b.Running() {
		return Event{}, ErrNotRunning
	}
	e := newEvent(eventType, payload, priority, source, correlationID)
	if err := b.queue.tryPush(e); err != nil {
		return Event{}, errors.Wrap(err, "publish "+eventType)
	}
	atomic.AddUint64(&b.published, 1)
	b.metrics.published.Inc()
	return e, nil
}

// TryPublish is the fire-and-forget variant: it never returns an error. A
// stopped bus or a full queue drops the event and increments a counter.
func (b *Bus) TryPublish(eventType string, payload map[string]any, priority Priority, source, correlationID string) {
	if _, err := b.Publish(eventType, payload, priority, source, correlationID); err != nil {
		atomic.AddUint64(&b.dropped, 1)
		b.metrics.dropped.Inc()
	}
}

// Subscribe registers a handler for a pattern and returns a subscription id.
func (b *Bus) Subscribe(pattern, name string, handler Handler) string {
	id := uuid.NewString()
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subs = append(b.subs, subscription{id: id, pattern: pattern, name: name, handler: handler})
	return id
}

// Unsubscribe removes a subscription by id.
func (b *Bus) Unsubscribe(id string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i, s := range b.subs {
		if s.id == id {
			b.subs = append(b.subs[:i], b.subs[i+1:]...)
			return true
		}
	}
	return false
}

// History returns retained events filtered by exact type, type prefix and
// minimum timestamp; zero values match everything.
func (b *Bus) History(eventType, prefix string, since time.Time) []Event {
	return b.history.query(eventType, prefix, since)
}

// DeadLetters returns a copy of the dead-letter queue, oldest first.
func (b *Bus) DeadLetters() []DeadLetter {
	b.dlMu.Lock()
	defer b.dlMu.Unlock()
	out := make([]DeadLetter, len(b.deadLetters))
	copy(out, b.deadLetters)
	return out
}

// Snapshot captures the current counter values.
func (b *Bus) Snapshot() Stats {
	b.mu.RLock()
	subs := len(b.subs)
	b.mu.RUnlock()
	b.dlMu.Lock()
	dl := len(b.deadLetters)
	b.dlMu.Unlock()
	return Stats{
		Published:     atomic.LoadUint64(&b.published),
		Delivered:     atomic.LoadUint64(&b.delivered),
		Dropped:       atomic.LoadUint64(&b.dropped),
		HandlerFailed: atomic.LoadUint64(&b.handlerFailed),
		QueueDepth:    b.queue.depth(),
		Subscriptions: subs,
		DeadLetters:   dl,
		Running:       b.Running(),
	}
}

func (b *Bus) dispatch(e Event) {
	b.history.add(e)

	b.mu.RLock()
	matched := make([]subscription, 0, 4)
	for _, s := range b.subs {
		if matchPattern(s.pattern, e.Type) {
			matched = append(matched, s)
		}
	}
	b.mu.RUnlock()

	for _, s := range matched {
		b.invoke(s, e)
	}
}

// invoke runs one handler with a bounded timeout. A timed-out handler keeps
// running in its goroutine but no longer blocks delivery to other handlers.
func (b *Bus) invoke(s subscription, e Event) {
	b.metrics.delivered.WithLabelValues(s.name).Inc()
	atomic.AddUint64(&b.delivered, 1)

	ctx, cancel := context.WithTimeout(context.Background(), b.cfg.HandlerTimeout)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- fmt.Errorf("handler panic: %v", r)
			}
		}()
		done <- s.handler(ctx, e)
	}()

	select {
	case err := <-done:
		if err != nil {
			b.recordFailure(s, e, err.Error())
			b.metrics.handlerFailed.WithLabelValues(s.name).Inc()
		}
	case <-ctx.Done():
		b.recordFailure(s, e, "handler timeout after "+b.cfg.HandlerTimeout.String())
		b.metrics.handlerTimeout.WithLabelValues(s.name).Inc()
	}
}

func (b *Bus) recordFailure(s subscription, e Event, reason string) {
	atomic.AddUint64(&b.handlerFailed, 1)
	logs.Warnf("bus handler %s failed on %s: %s", s.name, e.Type, reason)

	b.dlMu.Lock()
	defer b.dlMu.Unlock()
	b.deadLetters = append(b.deadLetters, DeadLetter{
		Event:     e,
		Handler:   s.name,
		Reason:    reason,
		Timestamp: time.Now().UTC(),
	})
	if len(b.deadLetters) > b.cfg.DeadLetterSize {
		b.deadLetters = b.deadLetters[len(b.deadLetters)-b.cfg.DeadLetterSize:]
	}
}
