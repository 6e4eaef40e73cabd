package budget

import (
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// DefaultAlertThresholds are the fractions of the daily cap that raise an
// alert.
var DefaultAlertThresholds = []float64{0.80, 0.95}

// Alert reports that committed spend crossed a threshold of a cap.
type Alert struct {
	Policy    string
	Subject   string
	Window    Limit
	Threshold float64
	Spent     float64
	Cap       float64
	At        time.Time
}

// Notifier receives budget alerts. Notify is called on the request path
// and must not block.
type Notifier interface {
	Notify(Alert)
}

// NotifierFunc adapts a function to Notifier. The function runs on the
// caller's goroutine.
type NotifierFunc func(Alert)

// Notify implements Notifier.
func (f NotifierFunc) Notify(a Alert) { f(a) }

// QueueNotifier delivers alerts to a handler on a background goroutine.
// When the queue is full the alert is dropped and counted.
type QueueNotifier struct {
	queue   chan Alert
	handler func(Alert)
	dropped atomic.Int64

	closeOnce sync.Once
	done      chan struct{}
}

// NewQueueNotifier starts a notifier with the given queue size.
func NewQueueNotifier(size int, handler func(Alert)) *QueueNotifier {
	if size <= 0 {
		size = 64
	}
	q := &QueueNotifier{
		queue:   make(chan Alert, size),
		handler: handler,
		done:    make(chan struct{}),
	}
	go q.run()
	return q
}

// Notify implements Notifier.
func (q *QueueNotifier) Notify(a Alert) {
	select {
	case q.queue <- a:
	default:
		q.dropped.Add(1)
	}
}

// Dropped returns how many alerts were discarded because the queue was full.
func (q *QueueNotifier) Dropped() int64 {
	return q.dropped.Load()
}

// Close drains queued alerts and stops the worker.
func (q *QueueNotifier) Close() {
	q.closeOnce.Do(func() {
		close(q.queue)
		<-q.done
	})
}

func (q *QueueNotifier) run() {
	defer close(q.done)
	for a := range q.queue {
		q.handler(a)
	}
}

// LogAlert returns a handler that logs alerts at warn level.
func LogAlert(logger *slog.Logger) func(Alert) {
	if logger == nil {
		logger = slog.Default()
	}
	return func(a Alert) {
		logger.Warn("Budget alert threshold reached",
			"policy", a.Policy,
			"subject", a.Subject,
			"window", a.Window,
			"threshold_pct", int(a.Threshold*100),
			"spent", a.Spent,
			"cap", a.Cap,
		)
	}
}
