package redis

import (
	"context"
	"fmt"
	"log"
	"time"
	"unsafe"

	"stock-evalv1/internal/model"

	goredis "github.com/go-redis/redis/v8"
)

const (
	// Stream trimming: ~1 trading week of 1m bars + buffer
	barStreamMaxLen  = 2100
	featStreamMaxLen = 2100
	defaultLatestTTL = 30 * time.Minute
)

// WriterConfig configures the Redis writer.
type WriterConfig struct {
	Addr     string // Redis address, e.g. "localhost:6379"
	Password string
	DB       int
}

// Writer writes bars and feature records to Redis.
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

// Run reads bars from barCh and writes them to Redis.
// Blocks until ctx is cancelled or barCh is closed.
func (w *Writer) Run(ctx context.Context, barCh <-chan model.Bar) {
	for {
		select {
		case <-ctx.Done():
			return
		case bar, ok := <-barCh:
			if !ok {
				return
			}
			w.writeBar(ctx, bar)
		}
	}
}

// WriteFeatureBatch writes multiple feature records in a single Redis pipeline.
// This batches XADD + SET + PUBLISH for all records into one network roundtrip.
// Optimized: []byte→string zero-copy, no fmt.Sprintf.
func (w *Writer) WriteFeatureBatch(ctx context.Context, records []model.FeatureRecord) error {
	if len(records) == 0 {
		return nil
	}

	pipe := w.client.Pipeline()
	for i := range records {
		rec := &records[i]

		jsonBytes := rec.JSON()
		// Zero-copy []byte→string (safe: jsonBytes is not mutated after this)
		jsonData := *(*string)(unsafe.Pointer(&jsonBytes))

		pipe.XAdd(ctx, &goredis.XAddArgs{
			Stream: rec.StreamKey(),
			MaxLen: featStreamMaxLen,
			Approx: true,
			Values: map[string]interface{}{"data": jsonData},
		})
		pipe.Set(ctx, "feat:latest:"+rec.Symbol, jsonData, defaultLatestTTL)
		pipe.Publish(ctx, rec.PubSubChannel(), jsonData)
	}

	if _, err := pipe.Exec(ctx); err != nil {
		log.Printf("[redis] feature batch pipeline error (%d records): %v", len(records), err)
		return err
	}
	return nil
}

// writeBar performs pipelined writes for a finalized bar.
func (w *Writer) writeBar(ctx context.Context, bar model.Bar) {
	jsonBytes := bar.JSON()
	jsonData := *(*string)(unsafe.Pointer(&jsonBytes))

	pipe := w.client.Pipeline()

	// XADD to the symbol's bar stream with auto-trimming
	pipe.XAdd(ctx, &goredis.XAddArgs{
		Stream: bar.StreamKey(),
		MaxLen: barStreamMaxLen,
		Approx: true,
		Values: map[string]interface{}{"data": jsonData},
	})

	// SET latest bar with TTL
	pipe.Set(ctx, "bars:latest:"+bar.Symbol, jsonData, defaultLatestTTL)

	// PUBLISH for real-time subscribers
	pipe.Publish(ctx, "pub:bars:"+bar.Symbol, jsonData)

	if _, err := pipe.Exec(ctx); err != nil {
		log.Printf("[redis] bar pipeline error for %s: %v", bar.Symbol, err)
	}
}

// Close closes the Redis client.
func (w *Writer) Close() error {
	return w.client.Close()
}
