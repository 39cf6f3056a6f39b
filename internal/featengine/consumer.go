package featengine

import (
	"context"
	"errors"
	"log"
	"time"

	"stock-evalv1/internal/ingest/ws"
	"stock-evalv1/internal/model"
	"stock-evalv1/internal/ringbuf"
	"stock-evalv1/internal/series"
)

func (svc *Service) feedEnabled() bool {
	return svc.cfg.FeedWSURL != ""
}

// startConsumer starts the Redis stream XREADGROUP consumer in a goroutine.
// Skipped when a direct feed is configured: this process is then the stream
// producer, and consuming its own writes would only echo bars back.
func (svc *Service) startConsumer(ctx context.Context) {
	if svc.feedEnabled() || len(svc.streams) == 0 {
		return
	}
	go func() {
		if err := svc.redisReader.ConsumeBars(ctx, svc.streams, svc.barCh); err != nil {
			log.Printf("[featengine] consumer error: %v", err)
		}
	}()
}

// startPELReclaimer starts periodic reclamation of stale pending messages
// abandoned by crashed consumers in the same group.
func (svc *Service) startPELReclaimer(ctx context.Context) {
	if svc.feedEnabled() || len(svc.streams) == 0 {
		return
	}
	go svc.redisReader.StartPELReclaimer(ctx, svc.streams,
		time.Duration(svc.cfg.PELIntervalS)*time.Second,
		svc.cfg.PELMinIdleMs, svc.barCh,
		func(count int) {
			svc.prom.PELMessagesReclaimed.Add(float64(count))
			log.Printf("[featengine] reclaimed %d stale PEL messages", count)
		})
	log.Printf("[featengine] PEL reclaimer started (interval=%ds, minIdle=%dms)",
		svc.cfg.PELIntervalS, svc.cfg.PELMinIdleMs)
}

// startFeed connects to the upstream bar feed when configured. Feed bars go
// into the engine's bar channel and are persisted to Redis and SQLite for
// downstream consumers and restarts.
func (svc *Service) startFeed(ctx context.Context) error {
	if !svc.feedEnabled() {
		// No feed of our own; bars arrive via Redis streams.
		svc.health.SetFeedConnected(true)
		return nil
	}

	client, err := ws.New(ws.Config{
		URL:        svc.cfg.FeedWSURL,
		APIKey:     svc.cfg.FeedAPIKey,
		TOTPSecret: svc.cfg.FeedTOTPSecret,
		Symbols:    svc.cfg.Symbols,
		RetryDelay: svc.cfg.FeedRetryDelay,
	})
	if err != nil {
		return err
	}
	client.OnConnected = svc.health.SetFeedConnected
	client.OnReconnect = svc.prom.WSReconnects.Inc
	client.OnDrop = svc.prom.DroppedBars.Inc

	ring := ringbuf.New(8192)
	redisBarCh := make(chan model.Bar, 5000)
	go svc.redisWriter.Run(ctx, redisBarCh)

	var sqlBarCh chan model.Bar
	if svc.sqlWriter != nil {
		sqlBarCh = make(chan model.Bar, 5000)
		go svc.sqlWriter.Run(ctx, sqlBarCh)
	}

	// Single consumer draining the SPSC ring into the engine and the
	// persistence channels.
	go func() {
		var lastOverflow uint64
		for ctx.Err() == nil {
			bar, ok := ring.Pop()
			if !ok {
				if of := ring.Overflow(); of > lastOverflow {
					svc.prom.RingBufOverflow.Add(float64(of - lastOverflow))
					lastOverflow = of
				}
				time.Sleep(time.Millisecond)
				continue
			}
			select {
			case svc.barCh <- bar:
			default:
				svc.prom.DroppedBars.Inc()
			}
			select {
			case redisBarCh <- bar:
			default:
			}
			if sqlBarCh != nil {
				select {
				case sqlBarCh <- bar:
				default:
				}
			}
		}
	}()

	go func() {
		if err := client.Start(ctx, ring); err != nil && ctx.Err() == nil {
			log.Printf("[featengine] feed client stopped: %v", err)
		}
	}()
	return nil
}

// processLoop consumes bars and computes feature records.
func (svc *Service) processLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case bar, ok := <-svc.barCh:
			if !ok {
				return
			}

			start := time.Now()
			svc.engineMu.Lock()
			rec, err := svc.engine.Process(bar)
			svc.engineMu.Unlock()
			svc.prom.ComputeDur.Observe(time.Since(start).Seconds())

			svc.prom.BarsTotal.Inc()
			svc.prom.BarLag.Set(time.Since(bar.TS).Seconds())
			svc.health.SetLastBarTime(bar.TS)

			if err != nil {
				switch {
				case errors.Is(err, series.ErrDuplicate):
					svc.prom.RejectedBarsTotal.WithLabelValues("duplicate").Inc()
				case errors.Is(err, series.ErrOutOfOrder):
					svc.prom.RejectedBarsTotal.WithLabelValues("out_of_order").Inc()
				default:
					log.Printf("[featengine] process error for %s@%s: %v", bar.Symbol, bar.TS, err)
				}
				continue
			}

			svc.prom.FeatureRecordsTotal.Inc()
			select {
			case svc.recordCh <- rec:
			default:
				svc.prom.FanoutDropsTotal.WithLabelValues("fan_input").Inc()
			}
		}
	}
}

// startSinks subscribes the three downstream sinks to the fan-out.
// Subscription order must match sinkNames.
func (svc *Service) startSinks(ctx context.Context) {
	go svc.redisSinkLoop(ctx, svc.fan.Subscribe())
	go svc.sqliteSinkLoop(ctx, svc.fan.Subscribe())
	go svc.hub.Run(ctx, svc.fan.Subscribe())
}

const (
	sinkBatchSize    = 100
	sinkFlushTimeout = 100 * time.Millisecond
)

func (svc *Service) redisSinkLoop(ctx context.Context, in <-chan model.FeatureRecord) {
	svc.sinkLoop(ctx, in, func(batch []model.FeatureRecord) {
		start := time.Now()
		if err := svc.buffered.WriteFeatureBatch(batch); err != nil {
			log.Printf("[featengine] redis feature write error: %v", err)
		}
		svc.prom.RedisWriteDur.Observe(time.Since(start).Seconds())
	})
}

func (svc *Service) sqliteSinkLoop(ctx context.Context, in <-chan model.FeatureRecord) {
	svc.sinkLoop(ctx, in, func(batch []model.FeatureRecord) {
		if svc.sqlWriter == nil {
			return
		}
		start := time.Now()
		if err := svc.sqlWriter.WriteFeatureBatch(batch); err != nil {
			log.Printf("[featengine] sqlite feature write error: %v", err)
		}
		svc.prom.SQLiteCommitDur.Observe(time.Since(start).Seconds())
	})
}

// sinkLoop batches records and flushes on size or timeout.
func (svc *Service) sinkLoop(ctx context.Context, in <-chan model.FeatureRecord, flush func([]model.FeatureRecord)) {
	batch := make([]model.FeatureRecord, 0, sinkBatchSize)
	ticker := time.NewTicker(sinkFlushTimeout)
	defer ticker.Stop()

	doFlush := func() {
		if len(batch) == 0 {
			return
		}
		flush(batch)
		batch = batch[:0]
	}

	for {
		select {
		case <-ctx.Done():
			doFlush()
			return
		case rec, ok := <-in:
			if !ok {
				doFlush()
				return
			}
			batch = append(batch, rec)
			if len(batch) >= sinkBatchSize {
				doFlush()
			}
		case <-ticker.C:
			doFlush()
		}
	}
}

// saturationLoop samples channel fill levels for the backpressure gauges.
func (svc *Service) saturationLoop(ctx context.Context) {
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			svc.prom.ChannelSaturationPct.WithLabelValues("bars").Set(
				100 * float64(len(svc.barCh)) / float64(cap(svc.barCh)))
			svc.prom.ChannelSaturationPct.WithLabelValues("records").Set(
				100 * float64(len(svc.recordCh)) / float64(cap(svc.recordCh)))
			for i, st := range svc.fan.ChannelStats() {
				if i >= len(sinkNames) || st.Cap == 0 {
					continue
				}
				svc.prom.ChannelSaturationPct.WithLabelValues(sinkNames[i]).Set(
					100 * float64(st.Len) / float64(st.Cap))
			}
		}
	}
}
