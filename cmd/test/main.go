package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"upbit-observer/src/config"
	"upbit-observer/src/gateway"
	"upbit-observer/src/logger"
	"upbit-observer/src/merger"
	"upbit-observer/src/models"
	"upbit-observer/src/server"
	"upbit-observer/src/stats"
	"upbit-observer/src/utils"
)

// Offline harness: drives the full merge/aggregate/serve pipeline with a
// synthetic trade feed instead of the exchange websocket. Useful for load
// checks and for poking the HTTP endpoints locally.
func main() {
	// 1. Parse command line flags
	configPath := flag.String("config", "../../config/default.yaml", "path to config file")
	rate := flag.Int("rate", 200, "synthetic trades per second")
	duration := flag.Duration("duration", 0, "stop after this long (0 = run until interrupted)")
	flag.Parse()

	// 2. Load config
	conf, err := config.NewConfig(*configPath)
	if err != nil {
		fmt.Printf("Error loading config: %v\n", err)
		os.Exit(1)
	}

	// 3. Setup Logger
	appLogger := logger.NewLogger(conf.LogLevel, "Harness")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if *duration > 0 {
		ctx, cancel = context.WithTimeout(ctx, *duration)
		defer cancel()
	}

	// 4. Setup Components
	gw := gateway.NewGateway(conf.MConfig, logger.NewLogger(conf.LogLevel, "Gateway"))
	mrg := merger.NewMerger(conf.MConfig, logger.NewLogger(conf.LogLevel, "Merger"))
	agg := stats.NewAggregator(conf.MConfig, logger.NewLogger(conf.LogLevel, "Stats"))

	maxPoints := utils.CalculateMaxDataPoints(utils.DefaultRetentionDays, conf.Pipeline.MergeWindowMs)
	memManager := utils.NewMemoryManager(256, maxPoints, logger.NewLogger(conf.LogLevel, "MemoryManager"))

	srv := server.NewFastAPIServer(conf.MConfig, logger.NewLogger(conf.LogLevel, "Server"), agg, gw, memManager)
	srv.Metrics = func() models.MPipelineMetrics {
		processed, dropped, emitted := mrg.Counters()
		symbolsTracked, snapshotsGenerated := agg.Counters()
		return models.MPipelineMetrics{
			TradesProcessed:    processed,
			TradesDropped:      dropped,
			RecordsEmitted:     emitted,
			OpenMergeRecords:   mrg.OpenRecordCount(),
			SnapshotsGenerated: snapshotsGenerated,
			SymbolsTracked:     symbolsTracked,
		}
	}

	go func() {
		if err := srv.Start(); err != nil {
			appLogger.Error("Server failed: %v", err)
		}
	}()

	// 5. Synthetic feed in place of the websocket subscription
	symbols := []string{"KRW-BTC", "KRW-ETH", "KRW-XRP", "KRW-SOL", "KRW-ADA"}
	feed := newSyntheticFeed(symbols, time.Now().UnixNano())

	trades := make(chan models.MTrade, 1000)
	go feed.run(ctx, trades, *rate)
	go mrg.Run(ctx, trades)

	aggIn := make(chan models.MMergedTrade, 1000)
	snapshots := make(chan models.MSnapshot, 8)
	go agg.Run(ctx, aggIn, snapshots)

	go func() {
		for snapshot := range snapshots {
			srv.Broadcast(snapshot)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)

	report := time.NewTicker(10 * time.Second)
	defer report.Stop()

	appLogger.Info("Harness running with %d symbols at ~%d trades/sec", len(symbols), *rate)

	for {
		select {
		case record, ok := <-mrg.Out():
			if !ok {
				close(aggIn)
				appLogger.Info("Feed drained, shutting down.")
				if err := srv.Stop(); err != nil {
					appLogger.Error("Server shutdown error: %v", err)
				}
				return
			}
			aggIn <- record
			memManager.AddRecord(record)
			srv.Broadcast(record)

		case <-report.C:
			processed, dropped, emitted := mrg.Counters()
			appLogger.Info("processed=%d dropped=%d emitted=%d open=%d mem=%.1fMB",
				processed, dropped, emitted, mrg.OpenRecordCount(), memManager.GetProcessMemoryMB())

		case <-quit:
			cancel()
		}
	}
}
