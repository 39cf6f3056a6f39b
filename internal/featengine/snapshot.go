package featengine

import (
	"context"
	"log"
	"strconv"
	"time"

	"stock-evalv1/internal/pipeline"
)

// snapshotLoop periodically checkpoints engine state to Redis and SQLite.
func (svc *Service) snapshotLoop(ctx context.Context) {
	ticker := time.NewTicker(time.Duration(svc.cfg.SnapshotIntervalS) * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			start := time.Now()

			svc.engineMu.Lock()
			snap := pipeline.SnapshotEngine(svc.engine, lastStreamIDMarker())
			svc.engineMu.Unlock()

			if err := svc.redisReader.WriteSnapshot(ctx, svc.cfg.SnapshotKey, snap); err != nil {
				log.Printf("[featengine] redis snapshot write error: %v", err)
			}
			if svc.sqlWriter != nil {
				if err := svc.sqlWriter.SaveSnapshot(snap); err != nil {
					log.Printf("[featengine] sqlite snapshot write error: %v", err)
				}
			}

			svc.prom.SnapshotsTotal.Inc()
			svc.prom.SnapshotDur.Observe(time.Since(start).Seconds())
			log.Printf("[featengine] ✅ checkpoint saved (%d symbols)", len(snap.Streams))
		}
	}
}

// lastStreamIDMarker returns a time-based stream ID usable as an XRANGE
// lower bound for delta replay after restart.
func lastStreamIDMarker() string {
	return strconv.FormatInt(time.Now().UnixMilli(), 10) + "-0"
}
