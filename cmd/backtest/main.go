// cmd/backtest replays historical bar data from SQLite through the feature
// engine to validate indicator output without live market data. Results can
// be exported to Parquet for offline analysis.
//
// Usage:
//
//	go run ./cmd/backtest --speed=0 --symbols=AAPL,MSFT --from=0 --out=features.parquet
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"stock-evalv1/internal/export"
	"stock-evalv1/internal/featengine"
	"stock-evalv1/internal/model"
	"stock-evalv1/internal/pipeline"
	"stock-evalv1/internal/replay"
	sqlitestore "stock-evalv1/internal/store/sqlite"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds | log.Lshortfile)

	speed := flag.Float64("speed", 0, "Playback speed multiplier (0=max, 1=realtime, 100=100x)")
	symbolsStr := flag.String("symbols", "", "Comma-separated symbols to replay (empty=all)")
	fromTS := flag.Int64("from", 0, "Unix timestamp (seconds) to start replay from (0=all)")
	dbPath := flag.String("db", "data/bars.db", "Path to SQLite database")
	indicatorCfg := flag.String("indicators", "", "Indicator specs: TYPE:PERIOD[:K],... (default: EMA:9,EMA:21,RSI:14,BOLL:20:2,STOCH:14)")
	outFeatures := flag.String("out", "", "Write feature records to this Parquet file")
	outBars := flag.String("out-bars", "", "Write replayed bars to this Parquet file")
	flag.Parse()

	var symbols []string
	for _, s := range strings.Split(*symbolsStr, ",") {
		if s = strings.TrimSpace(strings.ToUpper(s)); s != "" {
			symbols = append(symbols, s)
		}
	}

	reader, err := sqlitestore.NewReader(*dbPath)
	if err != nil {
		log.Fatalf("[backtest] sqlite open failed: %v", err)
	}
	defer reader.Close()

	defs := featengine.ParseDefinitionSpecs(*indicatorCfg)
	engine, err := pipeline.NewEngine(defs)
	if err != nil {
		log.Fatalf("[backtest] engine init failed: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		cancel()
	}()

	replayer := replay.New(reader)
	barCh := make(chan model.Bar, 10000)
	go func() {
		if err := replayer.Run(ctx, symbols, *fromTS, *speed, barCh); err != nil {
			log.Printf("[backtest] replay error: %v", err)
		}
		close(barCh)
	}()

	var (
		bars      []model.Bar
		records   []model.FeatureRecord
		processed int
		rejected  int
	)
	for bar := range barCh {
		rec, err := engine.Process(bar)
		if err != nil {
			rejected++
			continue
		}
		processed++
		if *outBars != "" {
			bars = append(bars, bar)
		}
		if *outFeatures != "" {
			records = append(records, rec)
		}
		if processed <= 10 || processed%1000 == 0 {
			printSample(bar, rec)
		}
	}

	if *outFeatures != "" {
		if err := export.WriteFeatureRecords(*outFeatures, records); err != nil {
			log.Fatalf("[backtest] %v", err)
		}
		log.Printf("[backtest] wrote %d feature records to %s", len(records), *outFeatures)
	}
	if *outBars != "" {
		if err := export.WriteBars(*outBars, bars); err != nil {
			log.Fatalf("[backtest] %v", err)
		}
		log.Printf("[backtest] wrote %d bars to %s", len(bars), *outBars)
	}

	fmt.Println()
	fmt.Println("backtest complete")
	fmt.Printf("  bars processed: %d\n", processed)
	fmt.Printf("  bars rejected:  %d\n", rejected)
	fmt.Printf("  indicators:     %d\n", len(engine.Definitions()))
	fmt.Printf("  symbols:        %d\n", len(engine.Symbols()))
}

func printSample(bar model.Bar, rec model.FeatureRecord) {
	var parts []string
	for _, d := range []string{"EMA_9", "RSI_14", "BOLL_20"} {
		if v, ok := rec.Value(d); ok {
			parts = append(parts, fmt.Sprintf("%s=%.4f", d, v))
		}
	}
	fmt.Printf("  [%s] %s close=%.2f %s\n",
		bar.TS.Format("15:04:05"), bar.Symbol, bar.CloseDollars(), strings.Join(parts, " "))
}
