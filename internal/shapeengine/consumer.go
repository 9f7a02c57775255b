package shapeengine

import (
	"context"
	"fmt"
	"log"
	"time"

	"shapefinder/internal/model"
)

// startConsumer starts the Redis stream XREADGROUP consumer in a goroutine.
func (svc *Service) startConsumer(ctx context.Context) {
	if len(svc.streams) == 0 {
		return
	}
	go func() {
		if err := svc.redisReader.ConsumeTFCandles(ctx, svc.streams, svc.tfCandleCh); err != nil {
			log.Printf("[shapeengine] consumer error: %v", err)
		}
	}()
}

// startPELReclaimer starts periodic reclamation of stale PEL messages.
func (svc *Service) startPELReclaimer(ctx context.Context) {
	if len(svc.streams) == 0 {
		return
	}
	go svc.redisReader.StartPELReclaimer(ctx, svc.streams,
		svc.cfg.ConsumerGroup, svc.cfg.ConsumerName,
		time.Duration(svc.cfg.PELIntervalS)*time.Second,
		svc.cfg.PELMinIdleMs, svc.tfCandleCh,
		func(count int) {
			svc.prom.PELMessagesReclaimed.Add(float64(count))
			log.Printf("[shapeengine] reclaimed %d stale PEL messages", count)
		})
	log.Printf("[shapeengine] PEL reclaimer started (interval=%ds, minIdle=%dms)",
		svc.cfg.PELIntervalS, svc.cfg.PELMinIdleMs)
}

const (
	ingestLatencyKey     = "metrics:shapeengine:ingest_ms"
	ingestLatencyTTL     = 30 * time.Second
	ingestLatencyMinGap  = 2 * time.Second
	ingestLatencyAlpha   = 0.2
	ingestLatencyTimeout = 200 * time.Millisecond
)

// ewma is an exponentially weighted moving average seeded by its first value.
type ewma struct {
	alpha float64
	value float64
	set   bool
}

func (e *ewma) add(v float64) float64 {
	if !e.set {
		e.value, e.set = v, true
		return v
	}
	e.value = e.value*(1-e.alpha) + v*e.alpha
	return e.value
}

// archive hands a consumed candle to the SQLite writer, dropping it when
// the writer is behind.
func (svc *Service) archive(tfc model.TFCandle) {
	if svc.archiveCh == nil || tfc.Forming {
		return
	}
	select {
	case svc.archiveCh <- tfc:
	default:
		svc.prom.ArchiveDropped.Inc()
	}
}

// processLoop consumes TF candles from the channel and tracks shapes.
// Control requests run here too; live candles queue while one replays.
// The smoothed per-candle latency is published to Redis for dashboards.
func (svc *Service) processLoop(ctx context.Context) {
	latency := ewma{alpha: ingestLatencyAlpha}
	var lastPublish time.Time

	for {
		select {
		case <-ctx.Done():
			return
		case req := <-svc.controlCh:
			svc.runControl(ctx, req)
		case tfc, ok := <-svc.tfCandleCh:
			if !ok {
				return
			}

			start := time.Now()
			svc.handleCandle(ctx, tfc)
			svc.archive(tfc)
			ms := latency.add(float64(time.Since(start).Microseconds()) / 1000.0)

			if svc.redisWriter != nil && time.Since(lastPublish) >= ingestLatencyMinGap {
				cctx, cancel := context.WithTimeout(ctx, ingestLatencyTimeout)
				_ = svc.redisWriter.Client().Set(cctx, ingestLatencyKey, fmt.Sprintf("%.3f", ms), ingestLatencyTTL).Err()
				cancel()
				lastPublish = time.Now()
			}
		}
	}
}
