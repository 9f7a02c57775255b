package redis

import (
	"context"
	"errors"
	"log"
	"sync"

	"shapefinder/internal/model"
)

// pendingWrite is an event batch held back while Redis was unavailable.
type pendingWrite struct {
	Events []model.ShapeEvent
}

// BufferedWriter wraps a Redis Writer with a circuit breaker.
// Event batches that cannot be written, either because the circuit is open
// or because the pipeline failed, are kept locally and replayed in order
// once the circuit closes again.
type BufferedWriter struct {
	write func(context.Context, []model.ShapeEvent) error
	cb    *CircuitBreaker
	ctx   context.Context

	mu      sync.Mutex
	buffer  []pendingWrite
	events  int // events across buffer
	maxBuf  int // max buffered events before dropping the oldest batch
	flushMu sync.Mutex

	// Callbacks
	OnBuffer func(count int) // called with the number of events just buffered
	OnFlush  func(count int) // called after flushing buffered events
	OnDrop   func(count int) // called when the buffer overflows
}

// NewBufferedWriter creates a BufferedWriter wrapping the given Writer.
func NewBufferedWriter(ctx context.Context, w *Writer, cb *CircuitBreaker, maxBufferSize int) *BufferedWriter {
	return newBufferedWriter(ctx, w.writeEventBatch, cb, maxBufferSize)
}

func newBufferedWriter(ctx context.Context, write func(context.Context, []model.ShapeEvent) error, cb *CircuitBreaker, maxBufferSize int) *BufferedWriter {
	if maxBufferSize <= 0 {
		maxBufferSize = 10000
	}
	bw := &BufferedWriter{
		write:  write,
		cb:     cb,
		ctx:    ctx,
		buffer: make([]pendingWrite, 0, 64),
		maxBuf: maxBufferSize,
	}

	// Flush once the breaker closes
	prevCallback := cb.OnStateChange
	cb.OnStateChange = func(from, to State) {
		if prevCallback != nil {
			prevCallback(from, to)
		}
		if to == StateClosed {
			go bw.Flush()
		}
	}

	return bw
}

// WriteEventBatch writes events through the circuit breaker. It satisfies
// model.EventWriter; failed batches are buffered rather than returned.
func (bw *BufferedWriter) WriteEventBatch(ctx context.Context, events []model.ShapeEvent) {
	if len(events) == 0 {
		return
	}
	err := bw.cb.Execute(func() error {
		return bw.write(ctx, events)
	})
	if err == nil {
		return
	}
	if !errors.Is(err, ErrCircuitOpen) {
		log.Printf("[buffered-writer] write failed, buffering %d events: %v", len(events), err)
	}
	bw.bufferWrite(events)
}

func (bw *BufferedWriter) bufferWrite(events []model.ShapeEvent) {
	cp := append([]model.ShapeEvent(nil), events...)

	bw.mu.Lock()
	defer bw.mu.Unlock()

	dropped := 0
	for len(bw.buffer) > 0 && bw.events+len(cp) > bw.maxBuf {
		dropped += len(bw.buffer[0].Events)
		bw.events -= len(bw.buffer[0].Events)
		bw.buffer = bw.buffer[1:]
	}
	bw.buffer = append(bw.buffer, pendingWrite{Events: cp})
	bw.events += len(cp)

	if dropped > 0 && bw.OnDrop != nil {
		bw.OnDrop(dropped)
	}
	if bw.OnBuffer != nil {
		bw.OnBuffer(len(cp))
	}
}

// Flush replays buffered batches in order. A batch that fails again is put
// back with everything after it.
func (bw *BufferedWriter) Flush() {
	bw.flushMu.Lock()
	defer bw.flushMu.Unlock()

	bw.mu.Lock()
	if len(bw.buffer) == 0 {
		bw.mu.Unlock()
		return
	}
	toFlush := bw.buffer
	bw.buffer = make([]pendingWrite, 0, 64)
	bw.events = 0
	bw.mu.Unlock()

	flushed := 0
	for i, pw := range toFlush {
		if err := bw.write(bw.ctx, pw.Events); err != nil {
			log.Printf("[buffered-writer] flush stopped after %d events: %v", flushed, err)
			bw.requeue(toFlush[i:])
			break
		}
		flushed += len(pw.Events)
	}

	if flushed == 0 {
		return
	}
	log.Printf("[buffered-writer] flushed %d buffered events", flushed)
	if bw.OnFlush != nil {
		bw.OnFlush(flushed)
	}
}

// requeue puts rest ahead of anything buffered since the flush started.
func (bw *BufferedWriter) requeue(rest []pendingWrite) {
	bw.mu.Lock()
	defer bw.mu.Unlock()
	merged := make([]pendingWrite, 0, len(rest)+len(bw.buffer))
	merged = append(merged, rest...)
	merged = append(merged, bw.buffer...)
	bw.buffer = merged
	for _, pw := range rest {
		bw.events += len(pw.Events)
	}
}

// PendingCount returns the number of buffered events waiting to be flushed.
func (bw *BufferedWriter) PendingCount() int {
	bw.mu.Lock()
	defer bw.mu.Unlock()
	return bw.events
}
