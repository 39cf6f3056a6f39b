package featengine

import (
	"context"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"

	"stock-evalv1/internal/bus"
	"stock-evalv1/internal/metrics"
	"stock-evalv1/internal/model"
	"stock-evalv1/internal/pipeline"
	redisstore "stock-evalv1/internal/store/redis"
	sqlitestore "stock-evalv1/internal/store/sqlite"
	"stock-evalv1/internal/wsout"
)

// Subscriber names, in fan-out subscription order.
var sinkNames = []string{"redis_sink", "sqlite_sink", "ws_hub"}

// Service is the top-level orchestrator for the feature engine.
// It wires all dependencies, manages lifecycle, and coordinates goroutines.
type Service struct {
	cfg Config

	// engineMu guards engine access across the process loop, the snapshot
	// loop and the /reload handler.
	engineMu sync.Mutex
	engine   *pipeline.Engine

	redisReader *redisstore.Reader
	redisWriter *redisstore.Writer
	buffered    *redisstore.BufferedWriter
	sqlReader   *sqlitestore.Reader
	sqlWriter   *sqlitestore.Writer
	prom        *metrics.Metrics
	health      *metrics.HealthStatus
	fan         *bus.FanOut
	hub         *wsout.Hub
	httpSrv     *metrics.Server

	streams  []string
	barCh    chan model.Bar
	recordCh chan model.FeatureRecord
}

// New creates a new Service from the given Config.
// It connects to Redis and SQLite; the engine is restored in Run.
func New(cfg Config) (*Service, error) {
	svc := &Service{
		cfg:      cfg,
		prom:     metrics.NewMetrics(),
		health:   metrics.NewHealthStatus(),
		fan:      bus.New(2048),
		hub:      wsout.NewHub(),
		barCh:    make(chan model.Bar, 5000),
		recordCh: make(chan model.FeatureRecord, 5000),
	}

	svc.hub.OnClientCount = func(n int) {
		svc.prom.WSClientsConnected.Set(float64(n))
	}
	svc.fan.OnDrop = func(idx int) {
		name := "unknown"
		if idx < len(sinkNames) {
			name = sinkNames[idx]
		}
		svc.prom.FanoutDropsTotal.WithLabelValues(name).Inc()
	}

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

	svc.redisWriter, err = redisstore.New(redisstore.WriterConfig{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
	})
	if err != nil {
		svc.redisReader.Close()
		return nil, err
	}

	// ---- Open SQLite ----
	os.MkdirAll(filepath.Dir(cfg.SQLitePath), 0o755)
	svc.sqlWriter, err = sqlitestore.New(sqlitestore.WriterConfig{DBPath: cfg.SQLitePath})
	if err != nil {
		log.Printf("[featengine] WARNING: sqlite writer init failed: %v", err)
	}
	svc.sqlReader, err = sqlitestore.NewReader(cfg.SQLitePath)
	if err != nil {
		log.Printf("[featengine] WARNING: sqlite reader init failed: %v (continuing without backfill)", err)
	}

	return svc, nil
}

// Run starts all subsystems and blocks until ctx is cancelled.
func (svc *Service) Run(ctx context.Context) error {
	cfg := svc.cfg
	log.Println("[featengine] starting Feature Engine service...")

	// Redis writes go through a circuit breaker with an in-memory buffer
	// so transient outages do not lose feature records.
	cb := redisstore.NewCircuitBreaker(5, 10*time.Second)
	cb.OnStateChange = func(from, to redisstore.State) {
		log.Printf("[featengine] redis circuit breaker: %s → %s", from, to)
		svc.prom.RedisCircuitBreakerState.Set(float64(to))
		if to == redisstore.StateOpen {
			svc.prom.RedisCircuitBreakerTrips.Inc()
		}
	}
	svc.buffered = redisstore.NewBufferedWriter(ctx, svc.redisWriter, cb, 10000)
	svc.buffered.OnBuffer = svc.prom.RedisBufferedWrites.Inc

	// ---- Restore engine from snapshot ----
	if err := svc.restoreEngine(ctx); err != nil {
		return err
	}

	// ---- Warm cold streams from SQLite history ----
	svc.backfillFromSQLite(ctx)

	// ---- Discover / build streams ----
	svc.streams = svc.buildStreams(ctx)
	log.Printf("[featengine] consuming from %d streams: %v", len(svc.streams), svc.streams)

	// ---- Replay delta since snapshot ----
	svc.replayDelta(ctx)

	// ---- Ensure consumer groups ----
	if !svc.feedEnabled() && len(svc.streams) > 0 {
		if err := svc.redisReader.EnsureConsumerGroup(ctx, svc.streams); err != nil {
			log.Printf("[featengine] WARNING: consumer group setup: %v", err)
		}
		if err := svc.redisReader.RecoverPending(ctx, svc.streams, svc.barCh); err != nil {
			log.Printf("[featengine] pending recovery error: %v", err)
		}
	}

	// ---- Start subsystems ----
	svc.startPELReclaimer(ctx)
	if err := svc.startFeed(ctx); err != nil {
		return err
	}
	go svc.processLoop(ctx)
	go svc.fan.Run(ctx, svc.recordCh)
	svc.startSinks(ctx)
	svc.startConsumer(ctx)
	go svc.snapshotLoop(ctx)
	go svc.saturationLoop(ctx)
	svc.startHTTP(ctx)
	svc.startConfigSubscriber(ctx)

	svc.health.SetEngineOK(true)
	svc.health.SetSymbols(cfg.Symbols)
	if svc.sqlWriter != nil {
		svc.health.StartLivenessChecker(ctx, svc.redisWriter.Client(), svc.sqlWriter.DB(), 10*time.Second)
	} else {
		svc.health.StartLivenessChecker(ctx, svc.redisWriter.Client(), nil, 10*time.Second)
	}

	log.Printf("[featengine] checkpoint every %ds, %d indicator definitions",
		cfg.SnapshotIntervalS, len(svc.engine.Definitions()))
	log.Println("[featengine] ✅ all systems running. Press Ctrl+C to stop.")

	<-ctx.Done()

	svc.shutdown()
	return nil
}

// shutdown saves a final snapshot and closes connections.
func (svc *Service) shutdown() {
	log.Println("[featengine] shutdown signal received, saving final snapshot...")

	svc.engineMu.Lock()
	finalSnap := pipeline.SnapshotEngine(svc.engine, lastStreamIDMarker())
	svc.engineMu.Unlock()

	shutCtx, shutCancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer shutCancel()

	if err := svc.redisReader.WriteSnapshot(shutCtx, svc.cfg.SnapshotKey, finalSnap); err != nil {
		log.Printf("[featengine] redis snapshot write error: %v", err)
	}
	if svc.sqlWriter != nil {
		if err := svc.sqlWriter.SaveSnapshot(finalSnap); err != nil {
			log.Printf("[featengine] sqlite snapshot write error: %v", err)
		}
	}
	log.Println("[featengine] final snapshot saved")

	if svc.httpSrv != nil {
		svc.httpSrv.Stop(shutCtx)
	}
	if svc.sqlReader != nil {
		svc.sqlReader.Close()
	}
	if svc.sqlWriter != nil {
		svc.sqlWriter.Close()
	}
	svc.redisWriter.Close()
	svc.redisReader.Close()

	log.Println("[featengine] shutdown complete.")
}

// restoreEngine restores the engine from the Redis snapshot, falling back to
// the latest SQLite snapshot, and finally to a cold start.
func (svc *Service) restoreEngine(ctx context.Context) error {
	snap, err := svc.redisReader.ReadSnapshot(ctx, svc.cfg.SnapshotKey)
	if err != nil {
		log.Printf("[featengine] redis snapshot read error: %v", err)
	}
	if snap == nil && svc.sqlReader != nil {
		snap, err = svc.sqlReader.ReadLatestSnapshot()
		if err != nil {
			log.Printf("[featengine] sqlite snapshot read error: %v", err)
		}
	}

	if snap == nil {
		log.Println("[featengine] no snapshot found, cold start")
		svc.engine, err = pipeline.NewEngine(svc.cfg.Definitions)
		return err
	}

	svc.engine, err = pipeline.RestoreEngine(svc.cfg.Definitions, snap)
	if err != nil {
		return err
	}
	log.Printf("[featengine] restored engine state for %d symbols", len(snap.Streams))
	return nil
}

// backfillFromSQLite warms up cold symbols by replaying their most recent
// bars through the engine. Symbols already restored from a snapshot keep
// their warm state; replaying old bars into them would be rejected anyway.
func (svc *Service) backfillFromSQLite(ctx context.Context) {
	if svc.sqlReader == nil {
		return
	}

	symbols := svc.cfg.Symbols
	if len(symbols) == 0 {
		var err error
		symbols, err = svc.sqlReader.Symbols()
		if err != nil {
			log.Printf("[featengine] symbol discovery error: %v", err)
			return
		}
	}

	lookback := svc.engine.MaxLookback()
	warmed := 0
	for _, sym := range symbols {
		if svc.engine.Stream(sym) != nil {
			continue
		}
		bars, err := svc.sqlReader.ReadLastBars(sym, lookback)
		if err != nil {
			log.Printf("[featengine] backfill read error for %s: %v", sym, err)
			continue
		}
		for _, bar := range bars {
			if _, err := svc.engine.Process(bar); err != nil {
				log.Printf("[featengine] backfill error for %s: %v", sym, err)
				break
			}
		}
		if len(bars) > 0 {
			warmed++
		}
	}
	if warmed > 0 {
		log.Printf("[featengine] warmed %d symbols from SQLite history (lookback=%d bars)", warmed, lookback)
	}
}

// buildStreams constructs the Redis stream names to consume. With explicit
// symbols configured the streams are derived directly; otherwise existing
// bar streams are discovered by scanning.
func (svc *Service) buildStreams(ctx context.Context) []string {
	if len(svc.cfg.Symbols) > 0 {
		streams := make([]string, len(svc.cfg.Symbols))
		for i, sym := range svc.cfg.Symbols {
			streams[i] = "bars:" + sym
		}
		return streams
	}
	return svc.redisReader.DiscoverBarStreams(ctx, nil)
}

// replayDelta replays bars written to the streams since the snapshot was
// taken. Bars the engine has already seen are rejected by the ordering
// guard, so overlap with the snapshot is harmless.
func (svc *Service) replayDelta(ctx context.Context) {
	snap, _ := svc.redisReader.ReadSnapshot(ctx, svc.cfg.SnapshotKey)
	if snap == nil || snap.StreamID == "" || len(svc.streams) == 0 {
		return
	}

	log.Printf("[featengine] replaying delta from stream ID: %s", snap.StreamID)
	replayCh := make(chan model.Bar, 5000)
	go func() {
		for _, stream := range svc.streams {
			if _, err := svc.redisReader.ReplayFromID(ctx, stream, snap.StreamID, replayCh); err != nil {
				log.Printf("[featengine] replay error on %s: %v", stream, err)
			}
		}
		close(replayCh)
	}()

	deltaCount := 0
	var batch []model.FeatureRecord
	for bar := range replayCh {
		rec, err := svc.engine.Process(bar)
		if err != nil {
			continue // already applied before the snapshot
		}
		batch = append(batch, rec)
		deltaCount++
	}
	if len(batch) > 0 {
		if err := svc.buffered.WriteFeatureBatch(batch); err != nil {
			log.Printf("[featengine] delta feature write error: %v", err)
		}
	}
	log.Printf("[featengine] ✅ replayed %d delta bars", deltaCount)
}
