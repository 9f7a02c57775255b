package redis

import (
	"context"
	"fmt"
	"log"
	"time"
	"unsafe"

	"shapefinder/internal/model"

	goredis "github.com/go-redis/redis/v8"
)

const (
	defaultLatestTTL = 30 * time.Minute
	// ~3h of history per TF plus a buffer
	streamHorizonSec = 10800
	minStreamLen     = 200
)

// WriterConfig configures the Redis writer.
type WriterConfig struct {
	Addr     string // Redis address, e.g. "localhost:6379"
	Password string
	DB       int
}

// Writer publishes shape events, and seeds TF candle streams for replays.
type Writer struct {
	client *goredis.Client
}

// Client returns the underlying Redis client for health checks.
func (w *Writer) Client() *goredis.Client { return w.client }

// New creates a new Redis Writer and pings the server.
func New(cfg WriterConfig) (*Writer, error) {
	client := goredis.NewClient(&goredis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	log.Printf("[redis] connected to %s", cfg.Addr)
	return &Writer{client: client}, nil
}

// streamMaxLen sizes a stream to roughly three hours of tf-second entries.
func streamMaxLen(tf int) int64 {
	if tf <= 0 {
		return minStreamLen
	}
	n := int64(streamHorizonSec/tf) + 100
	if n < minStreamLen {
		n = minStreamLen
	}
	return n
}

// WriteEventBatch writes all events in one pipeline: XADD to the event
// stream, SET of the latest value per type, and PUBLISH for live subscribers.
// Errors are logged; use writeEventBatch to observe them.
func (w *Writer) WriteEventBatch(ctx context.Context, events []model.ShapeEvent) {
	if err := w.writeEventBatch(ctx, events); err != nil {
		log.Printf("[redis] event batch pipeline error (%d events): %v", len(events), err)
	}
}

func (w *Writer) writeEventBatch(ctx context.Context, events []model.ShapeEvent) error {
	if len(events) == 0 {
		return nil
	}

	pipe := w.client.Pipeline()
	for i := range events {
		ev := &events[i]
		jsonBytes := ev.JSON()
		// jsonBytes is not touched after this
		jsonData := *(*string)(unsafe.Pointer(&jsonBytes))

		pipe.XAdd(ctx, &goredis.XAddArgs{
			Stream: ev.StreamKey(),
			MaxLen: streamMaxLen(ev.TF),
			Approx: true,
			Values: map[string]interface{}{"data": jsonData},
		})
		pipe.Set(ctx, ev.LatestKey(), jsonData, defaultLatestTTL)
		pipe.Publish(ctx, ev.PubSubChannel(), jsonData)
	}

	_, err := pipe.Exec(ctx)
	return err
}

// WriteTFCandle appends a completed TF candle to its stream. The backtest
// seeder uses it to feed a running service from SQLite history.
func (w *Writer) WriteTFCandle(ctx context.Context, tfc model.TFCandle) error {
	return w.client.XAdd(ctx, &goredis.XAddArgs{
		Stream: tfc.StreamKey(),
		MaxLen: streamMaxLen(tfc.TF),
		Approx: true,
		Values: map[string]interface{}{"data": string(tfc.JSON())},
	}).Err()
}

// Close closes the Redis client.
func (w *Writer) Close() error {
	return w.client.Close()
}
