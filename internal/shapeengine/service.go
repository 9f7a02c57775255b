// Package shapeengine runs the shape detection service: it consumes TF
// candles from Redis Streams, tracks price shapes per instrument, and
// publishes breakouts and key points to Redis, websocket clients and alert
// channels.
package shapeengine

import (
	"context"
	"database/sql"
	"log"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"shapefinder/internal/logger"
	"shapefinder/internal/metrics"
	"shapefinder/internal/model"
	"shapefinder/internal/notification"
	redisstore "shapefinder/internal/store/redis"
	sqlitestore "shapefinder/internal/store/sqlite"
	"shapefinder/internal/tracker"
)

// Service is the top-level orchestrator for the shape engine.
// It wires all dependencies, manages lifecycle, and coordinates goroutines.
type Service struct {
	cfg Config

	// engineMu guards engine and the shape fields of cfg. The tracker is
	// single-goroutine; the process loop, snapshots and the HTTP API share it.
	engineMu sync.Mutex
	engine   *tracker.Engine

	redisReader *redisstore.Reader
	replayer    candleReplayer // redisReader outside tests
	redisWriter *redisstore.Writer
	events      model.EventWriter
	sqlReader   *sqlitestore.Reader
	sqlWriter   *sqlitestore.Writer

	prom   *metrics.Metrics
	health *metrics.HealthStatus
	server *metrics.Server
	hub    *Hub
	alerts *notification.Dispatcher

	streams     []string
	tfCandleCh  chan model.TFCandle
	controlCh   chan controlRequest // nil until the process loop runs
	archiveCh   chan model.TFCandle // nil when archiving is off
	archiveDone chan struct{}
}

// New creates a new Service from the given Config.
// It connects to Redis and SQLite; the engine is restored by Run.
func New(cfg Config) (*Service, error) {
	svc := &Service{
		cfg:        cfg,
		prom:       metrics.NewMetrics(),
		health:     metrics.NewHealthStatus(),
		hub:        NewHub(),
		tfCandleCh: make(chan model.TFCandle, 5000),
	}
	svc.health.SetEnabledTFs(cfg.EnabledTFs)
	svc.hub.OnCount = func(n int) { svc.prom.WSClients.Set(float64(n)) }
	svc.alerts = svc.newDispatcher()

	// ---- Connect to Redis ----
	var err error
	svc.redisReader, err = redisstore.NewReader(redisstore.ReaderConfig{
		Addr:          cfg.RedisAddr,
		Password:      cfg.RedisPassword,
		ConsumerGroup: cfg.ConsumerGroup,
		ConsumerName:  cfg.ConsumerName,
	})
	if err != nil {
		return nil, err
	}
	svc.replayer = svc.redisReader

	svc.redisWriter, err = redisstore.New(redisstore.WriterConfig{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
	})
	if err != nil {
		svc.redisReader.Close()
		return nil, err
	}
	svc.health.SetRedisConnected(true)
	svc.events = svc.newBufferedWriter()

	// ---- Open SQLite ----
	// The writer creates the schema, so it opens first.
	if dir := filepath.Dir(cfg.SQLitePath); dir != "." {
		os.MkdirAll(dir, 0o755)
	}
	svc.sqlWriter, err = sqlitestore.New(sqlitestore.WriterConfig{DBPath: cfg.SQLitePath})
	if err == nil {
		svc.sqlReader, err = sqlitestore.NewReader(cfg.SQLitePath)
	}
	if err != nil {
		if cfg.SQLiteRequired {
			svc.closeStores()
			return nil, err
		}
		log.Printf("[shapeengine] WARNING: sqlite init failed: %v (continuing without SQLite)", err)
		if svc.sqlWriter != nil {
			svc.sqlWriter.Close()
			svc.sqlWriter = nil
		}
		svc.sqlReader = nil
	}
	svc.health.SetSQLite(cfg.SQLiteRequired, svc.sqlWriter != nil)
	if svc.sqlWriter != nil && cfg.ArchiveCandles {
		svc.archiveCh = make(chan model.TFCandle, 5000)
	}

	return svc, nil
}

// newBufferedWriter puts the Redis event writer behind a circuit breaker
// whose state is exported as metrics.
func (svc *Service) newBufferedWriter() *redisstore.BufferedWriter {
	cb := redisstore.NewCircuitBreaker(svc.cfg.BreakerFailures, svc.cfg.BreakerReset)
	cb.OnStateChange = func(from, to redisstore.State) {
		svc.prom.RedisCircuitBreakerState.Set(float64(to))
		if to == redisstore.StateOpen {
			svc.prom.RedisCircuitBreakerTrips.Inc()
		}
		svc.health.SetRedisConnected(to == redisstore.StateClosed)
		log.Printf("[shapeengine] redis circuit breaker %s -> %s", from, to)
	}
	bw := redisstore.NewBufferedWriter(context.Background(), svc.redisWriter, cb, svc.cfg.BufferMax)
	bw.OnBuffer = func(n int) { svc.prom.RedisBufferedWrites.Add(float64(n)) }
	bw.OnDrop = func(n int) { svc.prom.RedisDroppedWrites.Add(float64(n)) }
	bw.OnFlush = func(n int) { log.Printf("[shapeengine] flushed %d buffered events to redis", n) }
	return bw
}

// newDispatcher builds the alert chain: the log always, plus webhook and
// Telegram when configured.
func (svc *Service) newDispatcher() *notification.Dispatcher {
	chain := notification.Multi{notification.NewLogNotifier()}
	if svc.cfg.WebhookURL != "" {
		chain = append(chain, notification.NewWebhookNotifier(svc.cfg.WebhookURL))
	}
	if svc.cfg.TelegramToken != "" && svc.cfg.TelegramChatID != "" {
		chain = append(chain, notification.NewTelegramNotifier(svc.cfg.TelegramToken, svc.cfg.TelegramChatID))
	}
	d := notification.NewDispatcher(chain, 256)
	d.Throttle(float64(svc.cfg.AlertRatePerMin), svc.cfg.AlertBurst)
	d.OnResult = func(r string) { svc.prom.AlertsTotal.WithLabelValues(r).Inc() }
	return d
}

// Run starts all subsystems and blocks until ctx is cancelled.
func (svc *Service) Run(ctx context.Context) error {
	cfg := svc.cfg
	log.Println("[shapeengine] starting Shape Engine...")

	// ---- Restore engine from snapshot ----
	if err := svc.restoreEngine(ctx); err != nil {
		return err
	}

	// ---- Discover / build streams ----
	svc.streams = svc.buildStreams(ctx)
	log.Printf("[shapeengine] consuming from %d streams: %v", len(svc.streams), svc.streams)

	// ---- Backfill from Redis streams ----
	svc.replayStreams(ctx, svc.streams, "backfill")

	go svc.alerts.Run(ctx)
	svc.controlCh = make(chan controlRequest)
	go svc.processLoop(ctx)
	if svc.archiveCh != nil {
		svc.archiveDone = make(chan struct{})
		go func() {
			defer close(svc.archiveDone)
			svc.sqlWriter.RunTFCandles(ctx, svc.archiveCh)
		}()
	}

	// ---- Consumer groups ----
	if len(svc.streams) > 0 {
		if err := svc.redisReader.EnsureConsumerGroup(ctx, svc.streams); err != nil {
			log.Printf("[shapeengine] WARNING: consumer group setup: %v", err)
		}
		if err := svc.redisReader.RecoverPending(ctx, svc.streams, svc.tfCandleCh); err != nil {
			log.Printf("[shapeengine] pending recovery error: %v", err)
		}
	}

	// ---- Start subsystems ----
	svc.startPELReclaimer(ctx)
	svc.startConsumer(ctx)
	go svc.snapshotLoop(ctx)
	svc.startHTTP()
	svc.startConfigSubscriber(ctx)
	var sqlDB *sql.DB
	if svc.sqlWriter != nil {
		sqlDB = svc.sqlWriter.DB()
	}
	svc.health.StartLivenessChecker(ctx, svc.redisReader.Client(), sqlDB, 10*time.Second)

	log.Println("[shapeengine] ╔════════════════════════════════════════════════════════╗")
	log.Println("[shapeengine] ║  Shape Engine Active                                  ║")
	log.Println("[shapeengine] ║                                                       ║")
	log.Println("[shapeengine] ║  [Redis Streams] → [Shape Tracker] → [Redis Publish]  ║")
	log.Printf("[shapeengine] ║  Snapshot checkpoint every %ds", cfg.SnapshotIntervalS)
	log.Printf("[shapeengine] ║  TFs: %v  field: %s  window: %d", cfg.EnabledTFs, cfg.Field, cfg.Shape.Window)
	if cfg.AlertSession != nil {
		log.Printf("[shapeengine] ║  Alerts: %s", cfg.AlertSession.Status(time.Now()))
	}
	log.Println("[shapeengine] ╚════════════════════════════════════════════════════════╝")
	log.Println("[shapeengine] ✅ all systems running. Press Ctrl+C to stop.")

	<-ctx.Done()

	svc.shutdown()
	return nil
}

// shutdown saves the final snapshot and closes connections.
func (svc *Service) shutdown() {
	log.Println("[shapeengine] shutdown signal received, saving final snapshot...")

	shutCtx, shutCancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer shutCancel()

	svc.saveSnapshot(shutCtx, svc.takeSnapshot("shutdown"))
	log.Println("[shapeengine] final snapshot saved")

	if svc.server != nil {
		svc.server.Stop(shutCtx)
	}
	svc.hub.Close()
	if svc.archiveDone != nil {
		// the archive flushes its last batch on cancel
		select {
		case <-svc.archiveDone:
		case <-shutCtx.Done():
		}
	}
	svc.closeStores()

	log.Println("[shapeengine] shutdown complete.")
}

func (svc *Service) closeStores() {
	if svc.sqlReader != nil {
		svc.sqlReader.Close()
	}
	if svc.sqlWriter != nil {
		svc.sqlWriter.Close()
	}
	if svc.redisWriter != nil {
		svc.redisWriter.Close()
	}
	if svc.redisReader != nil {
		svc.redisReader.Close()
	}
}

// trackerOptions builds engine options from the current config.
// Callers hold engineMu once the service is running.
func (svc *Service) trackerOptions() tracker.Options {
	return tracker.Options{
		TFs:      svc.cfg.EnabledTFs,
		Field:    svc.cfg.Field,
		Base:     svc.cfg.Shape,
		Resolver: svc.cfg.Overrides,
	}
}

// restoreEngine restores the tracker from the Redis snapshot, then the
// SQLite one, then cold, and warms cold detectors from SQLite history.
func (svc *Service) restoreEngine(ctx context.Context) error {
	restorer := tracker.NewRestorer(svc.trackerOptions())

	snap, err := svc.redisReader.ReadSnapshot(ctx, svc.cfg.SnapshotKey)
	if err != nil {
		log.Printf("[shapeengine] redis snapshot read error: %v", err)
	}

	if snap == nil && svc.sqlReader != nil {
		snap, err = svc.sqlReader.ReadLatestSnapshot()
		if err != nil {
			log.Printf("[shapeengine] sqlite snapshot read error: %v", err)
		}
	}

	engine, err := restorer.RestoreFromSnap(snap)
	if err != nil {
		return err
	}

	if svc.sqlReader != nil {
		backfilled := restorer.BackfillFromSQLite(engine, svc.sqlReader, svc.cfg.BackfillDepth, func(events []model.ShapeEvent) {
			svc.events.WriteEventBatch(ctx, events)
		})
		if backfilled > 0 {
			log.Printf("[shapeengine] warmed up detectors with %d historical candles", backfilled)
		}
	}

	svc.engineMu.Lock()
	svc.engine = engine
	svc.engineMu.Unlock()
	svc.health.SetEngineOK(true)
	return nil
}

// buildStreams constructs the candle streams for the configured tokens, or
// discovers every candle stream on each TF when none are configured.
func (svc *Service) buildStreams(ctx context.Context) []string {
	var streams []string
	for _, tf := range svc.cfg.EnabledTFs {
		if len(svc.cfg.SubscribeTokenKeys) > 0 {
			streams = append(streams, svc.redisReader.DiscoverTFStreams(ctx, []int{tf}, svc.cfg.SubscribeTokenKeys)...)
			continue
		}
		found, err := svc.redisReader.ScanTFStreams(ctx, tf)
		if err != nil {
			log.Printf("[shapeengine] stream scan TF=%d: %v", tf, err)
			continue
		}
		streams = append(streams, found...)
	}
	return streams
}

// candleReplayer reads a candle stream from startID to its end.
type candleReplayer interface {
	ReplayFromID(ctx context.Context, stream, startID string, out chan<- model.TFCandle) (string, error)
}

// replayStreams feeds the full history of streams through the engine.
// Candles a detector already covers are skipped by the tracker. Events are
// published to Redis only: they are history, not alerts. Once the process
// loop runs it is the only caller.
func (svc *Service) replayStreams(ctx context.Context, streams []string, what string) int {
	if svc.replayer == nil || len(streams) == 0 {
		return 0
	}
	replayCh := make(chan model.TFCandle, 5000)
	go func() {
		for _, stream := range streams {
			if _, err := svc.replayer.ReplayFromID(ctx, stream, "0", replayCh); err != nil {
				log.Printf("[shapeengine] %s error on %s: %v", what, stream, err)
			}
		}
		close(replayCh)
	}()

	count := 0
	for tfc := range replayCh {
		if tfc.Forming {
			continue
		}
		svc.engineMu.Lock()
		events, err := svc.engine.Process(tfc)
		svc.engineMu.Unlock()
		if err != nil {
			log.Printf("[shapeengine] %s: %v", what, err)
			continue
		}
		if len(events) > 0 {
			svc.events.WriteEventBatch(ctx, events)
		}
		count++
	}
	if count > 0 {
		log.Printf("[shapeengine] ✅ %s: %d candles from Redis streams", what, count)
	} else {
		log.Printf("[shapeengine] %s: no candles in Redis streams", what)
	}
	return count
}

// handleCandle runs one candle through the tracker and fans its events out
// to Redis, websocket clients and, for live breakouts, the alert chain.
func (svc *Service) handleCandle(ctx context.Context, tfc model.TFCandle) []model.ShapeEvent {
	if tfc.Forming {
		return nil
	}
	traceID := logger.GenerateTraceID(tfc.Key(), tfc.TS)
	ctx = logger.WithTraceID(ctx, traceID)

	start := time.Now()
	svc.engineMu.Lock()
	events, err := svc.engine.Process(tfc)
	svc.engineMu.Unlock()
	svc.prom.IngestDur.Observe(time.Since(start).Seconds())

	if err != nil {
		svc.prom.RejectedSamples.Inc()
		slog.Warn("candle rejected",
			append(logger.LogWithTrace(ctx), "key", tfc.Key(), "tf", tfc.TF, "error", err)...)
		return nil
	}
	svc.prom.SamplesTotal.Inc()
	svc.health.SetLastCandleTime(tfc.TS)
	if len(events) == 0 {
		return nil
	}

	for i := range events {
		ev := &events[i]
		ev.TraceID = traceID
		switch ev.Type {
		case model.EventKeyPoint:
			svc.prom.KeyPointsTotal.WithLabelValues(ev.Kind).Inc()
			slog.Debug("key point",
				append(logger.LogWithTrace(ctx), "key", ev.Key(), "tf", ev.TF, "kind", ev.Kind, "index", ev.Index, "price", ev.Price)...)
		case model.EventBreakout:
			svc.prom.BreakoutsTotal.WithLabelValues(ev.Direction).Inc()
			slog.Info("breakout",
				append(logger.LogWithTrace(ctx), "key", ev.Key(), "tf", ev.TF, "direction", ev.Direction,
					"index", ev.Index, "price", ev.Price, "threshold", ev.Threshold, "live", ev.Live)...)
		}
	}

	svc.events.WriteEventBatch(ctx, events)
	for _, ev := range events {
		svc.hub.Broadcast(ev)
		if svc.shouldAlert(ev) {
			if !svc.alerts.Notify(notification.BreakoutAlert(ev)) {
				slog.Warn("alert not queued", append(logger.LogWithTrace(ctx), "key", ev.Key())...)
			}
		}
	}
	return events
}

// shouldAlert limits alerts to live breakouts, and to the alert session
// when one is configured.
func (svc *Service) shouldAlert(ev model.ShapeEvent) bool {
	if ev.Type != model.EventBreakout || !ev.Live {
		return false
	}
	return svc.cfg.AlertSession == nil || svc.cfg.AlertSession.Contains(ev.TS)
}
