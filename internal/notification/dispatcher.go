package notification

import (
	"context"
	"log"
	"time"

	"golang.org/x/time/rate"
)

// Dispatcher queues alerts and delivers them from one goroutine so slow
// backends never stall the caller. Alerts beyond the queue size, or beyond
// the rate set with Throttle, are dropped.
type Dispatcher struct {
	n       Notifier
	queue   chan Alert
	timeout time.Duration
	limiter *rate.Limiter

	// OnResult is called after each delivery attempt ("sent", "failed",
	// "dropped", "throttled").
	OnResult func(result string)
}

// NewDispatcher wraps n with a queue of size alerts.
func NewDispatcher(n Notifier, size int) *Dispatcher {
	if size <= 0 {
		size = 256
	}
	return &Dispatcher{n: n, queue: make(chan Alert, size), timeout: 10 * time.Second}
}

// Throttle caps accepted alerts at perMinute with the given burst.
// perMinute <= 0 removes the cap. Call before Run.
func (d *Dispatcher) Throttle(perMinute float64, burst int) {
	if perMinute <= 0 {
		d.limiter = nil
		return
	}
	if burst < 1 {
		burst = 1
	}
	d.limiter = rate.NewLimiter(rate.Limit(perMinute/60), burst)
}

// Notify enqueues alert without blocking. It reports false when the alert
// was throttled or the queue is full.
func (d *Dispatcher) Notify(alert Alert) bool {
	if d.limiter != nil && !d.limiter.Allow() {
		d.result("throttled")
		return false
	}
	select {
	case d.queue <- alert:
		return true
	default:
		log.Printf("[notify] queue full, dropping alert: %s", alert.Title)
		d.result("dropped")
		return false
	}
}

// Run delivers queued alerts until ctx is cancelled.
func (d *Dispatcher) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case alert := <-d.queue:
			sendCtx, cancel := context.WithTimeout(ctx, d.timeout)
			err := d.n.Send(sendCtx, alert)
			cancel()
			if err != nil {
				log.Printf("[notify] delivery failed for %q: %v", alert.Title, err)
				d.result("failed")
				continue
			}
			d.result("sent")
		}
	}
}

func (d *Dispatcher) result(r string) {
	if d.OnResult != nil {
		d.OnResult(r)
	}
}
