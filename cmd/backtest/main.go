// cmd/backtest replays historical candle data from SQLite through the shape
// tracker and the breakout strategy, paper-trades the signals, then checks
// every instrument's streaming result against a batch analysis of the same
// samples.
//
// Usage:
//
//	go run ./cmd/backtest --speed=100 --tf=60,300 --from=0
//	go run ./cmd/backtest --seed-redis=localhost:6379   # also XADD candles for a live engine
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"sort"
	"syscall"

	"shapefinder/config"
	"shapefinder/internal/marketdata/replay"
	"shapefinder/internal/model"
	"shapefinder/internal/portfolio"
	"shapefinder/internal/shape"
	redisstore "shapefinder/internal/store/redis"
	sqlitestore "shapefinder/internal/store/sqlite"
	"shapefinder/internal/strategy"
	"shapefinder/internal/tracker"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds | log.Lshortfile)
	config.LoadDotEnv()

	// Flags
	speed := flag.Float64("speed", 0, "Playback speed multiplier (0=max, 1=realtime, 100=100x)")
	tfStr := flag.String("tf", "60,300", "Comma-separated TFs to replay")
	fromTS := flag.Int64("from", 0, "Unix timestamp to start replay from (0=all)")
	dbPath := flag.String("db", "data/candles.db", "Path to SQLite database")
	fieldStr := flag.String("field", "high", "Candle price fed to detectors (high, low, open, close, hlc3)")
	overridesPath := flag.String("overrides", config.GetEnv("SHAPE_OVERRIDES_PATH", ""), "Per-instrument detector overrides (YAML)")
	qty := flag.Int64("qty", 1, "Strategy order quantity per side")
	slippage := flag.Int64("slippage-bps", 5, "Simulated slippage per fill in basis points")
	journalPath := flag.String("journal", "", "SQLite file to record paper fills to (empty = off)")
	verify := flag.Bool("verify", true, "Cross-check streaming breakouts against batch analysis")
	seedRedis := flag.String("seed-redis", "", "Redis address to XADD replayed candles to (empty = off)")
	flag.Parse()

	tfs := config.ParseTFs(*tfStr)
	if len(tfs) == 0 {
		log.Fatal("[backtest] no valid TFs specified")
	}
	field, err := model.ParseField(*fieldStr)
	if err != nil {
		log.Fatalf("[backtest] %v", err)
	}
	base, err := config.ShapeFromEnv(shape.DefaultConfig())
	if err != nil {
		log.Fatalf("[backtest] %v", err)
	}
	overrides, err := config.LoadOverrides(*overridesPath)
	if err != nil {
		log.Fatalf("[backtest] %v", err)
	}

	// Open SQLite
	reader, err := sqlitestore.NewReader(*dbPath)
	if err != nil {
		log.Fatalf("[backtest] sqlite open failed: %v", err)
	}
	defer reader.Close()

	var seeder *redisstore.Writer
	if *seedRedis != "" {
		seeder, err = redisstore.New(redisstore.WriterConfig{Addr: *seedRedis, Password: config.GetEnv("REDIS_PASSWORD", "")})
		if err != nil {
			log.Fatalf("[backtest] redis connect failed: %v", err)
		}
		defer seeder.Close()
	}

	opts := tracker.Options{TFs: tfs, Field: field, Base: base, Resolver: overrides}
	engine, err := tracker.NewRestorer(opts).RestoreFromSnap(nil) // cold start
	if err != nil {
		log.Fatalf("[backtest] engine init failed: %v", err)
	}

	breakout := strategy.NewBreakoutStrategy(*qty)
	strat := strategy.NewEngine()
	strat.Register(breakout)
	book := portfolio.NewBook(*slippage)

	var journal *portfolio.Journal
	if *journalPath != "" {
		journal, err = portfolio.NewJournal(*journalPath)
		if err != nil {
			log.Fatalf("[backtest] journal open failed: %v", err)
		}
		defer journal.Close()
	}
	fill := func(sig strategy.Signal) {
		f, err := book.Fill(sig)
		if err != nil {
			log.Printf("[backtest] %v", err)
			return
		}
		if journal != nil {
			if err := journal.RecordFill(f); err != nil {
				log.Printf("[backtest] journal: %v", err)
			}
		}
	}

	// Setup context
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		cancel()
	}()

	replayer := replay.New(reader)
	candleCh := make(chan model.TFCandle, 10000)

	go func() {
		if _, err := replayer.Run(ctx, tfs, *fromTS, *speed, candleCh); err != nil {
			log.Printf("[backtest] replay error: %v", err)
		}
		close(candleCh)
	}()

	rec := newRecorder(field)
	var stats summary
	for candle := range candleCh {
		if seeder != nil {
			if err := seeder.WriteTFCandle(ctx, candle); err != nil {
				log.Printf("[backtest] seed %s: %v", candle.StreamKey(), err)
			}
		}

		events, err := engine.Process(candle)
		if err != nil {
			stats.rejected++
			log.Printf("[backtest] %v", err)
			continue
		}
		stats.processed++
		rec.observe(candle, events)
		book.Mark(candle.Exchange, candle.Token, candle.TF, candle.Close, candle.TS)

		for _, ev := range events {
			switch ev.Type {
			case model.EventKeyPoint:
				stats.keyPoints++
			case model.EventBreakout:
				stats.breakouts++
			}
			for _, sig := range strat.Process(ev) {
				stats.signals++
				fill(sig)
				if stats.signals <= 10 || stats.signals%100 == 0 {
					fmt.Printf("  [%s] %-4s %s:%s TF=%ds qty=%d @%.2f  %s\n",
						sig.TS.Format("2006-01-02 15:04:05"), sig.Action, sig.Exchange, sig.Token,
						sig.TF, sig.Qty, sig.RefPrice, sig.Reason)
				}
			}
		}
	}
	exits := breakout.Flatten()
	for _, sig := range exits {
		fill(sig)
	}
	stats.exits = len(exits)
	stats.pnl = book.Summary()

	if *verify {
		for _, m := range rec.crossCheck(func(key string, tf int) shape.Config { return overrides.Resolve(key, tf, base) }) {
			stats.mismatches++
			fmt.Printf("  MISMATCH %s\n", m)
		}
		stats.verified = len(rec.series)
	}

	stats.print(tfs)
	stats.pnl.Log("backtest")
}

// summary counts what the run produced.
type summary struct {
	processed  int
	rejected   int
	keyPoints  int
	breakouts  int
	signals    int
	exits      int
	verified   int
	mismatches int
	pnl        portfolio.Summary
}

func (s summary) print(tfs []int) {
	fmt.Println()
	fmt.Println("╔══════════════════════════════════════╗")
	fmt.Println("║        BACKTEST COMPLETE             ║")
	fmt.Println("╠══════════════════════════════════════╣")
	fmt.Printf("║  Candles processed: %-16d ║\n", s.processed)
	fmt.Printf("║  Candles rejected:  %-16d ║\n", s.rejected)
	fmt.Printf("║  Key points:        %-16d ║\n", s.keyPoints)
	fmt.Printf("║  Breakouts:         %-16d ║\n", s.breakouts)
	fmt.Printf("║  Signals:           %-16d ║\n", s.signals)
	fmt.Printf("║  Flattened at end:  %-16d ║\n", s.exits)
	fmt.Printf("║  Series verified:   %-16d ║\n", s.verified)
	fmt.Printf("║  Mismatches:        %-16d ║\n", s.mismatches)
	fmt.Printf("║  Realized P&L:      ₹%-15s ║\n", portfolio.Rupees(s.pnl.Realized))
	fmt.Printf("║  Max drawdown:      ₹%-15s ║\n", portfolio.Rupees(s.pnl.MaxDrawdown))
	fmt.Printf("║  TFs:               %-16v ║\n", tfs)
	fmt.Println("╚══════════════════════════════════════╝")
}

// seriesKey identifies one detector.
type seriesKey struct {
	tf  int
	key string
}

func (k seriesKey) String() string { return fmt.Sprintf("%s TF=%ds", k.key, k.tf) }

// recorder keeps the samples each detector accepted and the breakouts it
// streamed, so they can be compared with a batch run afterwards.
type recorder struct {
	field     model.Field
	series    map[seriesKey][]float64
	lastTS    map[seriesKey]int64
	breakouts map[seriesKey][]model.ShapeEvent
}

func newRecorder(field model.Field) *recorder {
	return &recorder{
		field:     field,
		series:    make(map[seriesKey][]float64),
		lastTS:    make(map[seriesKey]int64),
		breakouts: make(map[seriesKey][]model.ShapeEvent),
	}
}

// observe mirrors the tracker's acceptance rule: forming and non-increasing
// timestamps are skipped.
func (r *recorder) observe(c model.TFCandle, events []model.ShapeEvent) {
	if c.Forming {
		return
	}
	k := seriesKey{tf: c.TF, key: c.Key()}
	ts := c.TS.UnixNano()
	if last, ok := r.lastTS[k]; ok && ts <= last {
		return
	}
	r.lastTS[k] = ts
	r.series[k] = append(r.series[k], c.Sample(r.field))
	for _, ev := range events {
		if ev.Type == model.EventBreakout {
			r.breakouts[k] = append(r.breakouts[k], ev)
		}
	}
}

// crossCheck runs shape.Analyze over every recorded series and describes
// each difference from the streamed breakouts, in key order.
func (r *recorder) crossCheck(configFor func(key string, tf int) shape.Config) []string {
	keys := make([]seriesKey, 0, len(r.series))
	for k := range r.series {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].tf != keys[j].tf {
			return keys[i].tf < keys[j].tf
		}
		return keys[i].key < keys[j].key
	})

	var out []string
	for _, k := range keys {
		res, err := shape.Analyze(r.series[k], configFor(k.key, k.tf))
		if err != nil {
			out = append(out, fmt.Sprintf("%s: analyze: %v", k, err))
			continue
		}
		streamed := r.breakouts[k]
		if len(streamed) != len(res.Breakouts) {
			out = append(out, fmt.Sprintf("%s: %d streamed breakouts, %d in batch", k, len(streamed), len(res.Breakouts)))
			continue
		}
		for i, b := range res.Breakouts {
			ev := streamed[i]
			if ev.Index != b.Index || ev.Direction != b.Direction.String() || ev.Reference != b.Reference {
				out = append(out, fmt.Sprintf("%s: breakout %d streamed %s@%d ref %d, batch %s@%d ref %d",
					k, i, ev.Direction, ev.Index, ev.Reference, b.Direction, b.Index, b.Reference))
				break
			}
		}
	}
	return out
}
