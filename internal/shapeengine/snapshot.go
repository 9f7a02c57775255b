package shapeengine

import (
	"context"
	"log"
	"strconv"
	"time"

	"shapefinder/internal/model"
	"shapefinder/internal/tracker"
)

// snapshotLoop periodically saves engine state to Redis and SQLite.
func (svc *Service) snapshotLoop(ctx context.Context) {
	ticker := time.NewTicker(time.Duration(svc.cfg.SnapshotIntervalS) * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			snap := svc.takeSnapshot(streamMarker(time.Now()))
			if svc.saveSnapshot(ctx, snap) {
				log.Printf("[shapeengine] ✅ checkpoint saved (%d detectors)", len(snap.Detectors))
			}
		}
	}
}

// streamMarker returns a time-based stream ID marker for snapshots.
func streamMarker(now time.Time) string {
	return strconv.FormatInt(now.UnixMilli(), 10) + "-0"
}

// takeSnapshot captures the engine and refreshes the detector gauges.
func (svc *Service) takeSnapshot(streamID string) *tracker.EngineSnapshot {
	start := time.Now()
	svc.engineMu.Lock()
	snap := tracker.SnapshotEngine(svc.engine, streamID)
	infos := svc.engine.Detectors()
	svc.engineMu.Unlock()
	svc.prom.SnapshotDur.Observe(time.Since(start).Seconds())

	svc.updateGauges(infos)
	return snap
}

// updateGauges exports the detector count and the largest window per TF.
func (svc *Service) updateGauges(infos []tracker.DetectorInfo) {
	longest := make(map[int]int)
	for _, tf := range svc.cfg.EnabledTFs {
		longest[tf] = 0
	}
	for _, d := range infos {
		if d.Len > longest[d.TF] {
			longest[d.TF] = d.Len
		}
	}
	for tf, n := range longest {
		svc.prom.WindowLen.WithLabelValues(model.Itoa(tf)).Set(float64(n))
	}
	svc.prom.DetectorsActive.Set(float64(len(infos)))
	svc.health.SetDetectors(len(infos))
}

// saveSnapshot writes snap to Redis and SQLite. It reports whether at least
// one store accepted it.
func (svc *Service) saveSnapshot(ctx context.Context, snap *tracker.EngineSnapshot) bool {
	saved := false
	if svc.redisReader != nil {
		if err := svc.redisReader.WriteSnapshot(ctx, svc.cfg.SnapshotKey, snap); err != nil {
			log.Printf("[shapeengine] redis snapshot write error: %v", err)
			svc.prom.SnapshotsSent.WithLabelValues("redis", "error").Inc()
		} else {
			svc.prom.SnapshotsSent.WithLabelValues("redis", "ok").Inc()
			saved = true
		}
	}
	if svc.sqlWriter != nil {
		if err := svc.sqlWriter.SaveSnapshot(snap); err != nil {
			log.Printf("[shapeengine] sqlite snapshot write error: %v", err)
			svc.prom.SnapshotsSent.WithLabelValues("sqlite", "error").Inc()
		} else {
			svc.prom.SnapshotsSent.WithLabelValues("sqlite", "ok").Inc()
			saved = true
		}
	}
	return saved
}
