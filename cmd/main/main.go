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
	"upbit-observer/src/data_source"
	"upbit-observer/src/gateway"
	"upbit-observer/src/interfaces"
	"upbit-observer/src/logger"
	"upbit-observer/src/merger"
	"upbit-observer/src/models"
	"upbit-observer/src/server"
	"upbit-observer/src/stats"
	"upbit-observer/src/storage"
	"upbit-observer/src/subscription"
	"upbit-observer/src/utils"
)

// -----------------------------------------------------------------------------

func main() {

	// Parse command line flags
	configPath := flag.String("config", "../../config/default.yaml", "path to config file")
	flag.Parse()

	// Load config from YAML file
	conf, err := config.NewConfig(*configPath)
	if err != nil {
		fmt.Printf("Error loading config: %v\n", err)
		os.Exit(1)
	}

	// Setup logger
	appLogger := logger.NewLogger(conf.LogLevel, conf.Name)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 1. Request gateway + symbol universe bootstrap
	gw := gateway.NewGateway(conf.MConfig, logger.NewLogger(conf.LogLevel, "Gateway"))
	catalog := data_source.NewMarketCatalog(gw, logger.NewLogger(conf.LogLevel, "MarketCatalog"))

	symbols, err := catalog.FetchSymbols(ctx, "KRW", conf.Exchange.MaxSubscriptions)
	if err != nil {
		appLogger.Critical("Failed to fetch market catalog: %v", err)
		os.Exit(1)
	}
	appLogger.Info("Observing %d symbols", len(symbols))

	// 2. Storage (optional)
	var db interfaces.IDatabase
	if conf.Storage.Enabled {
		db, err = storage.New(conf.MConfig, logger.NewLogger(conf.LogLevel, "Storage"))
		if err != nil {
			appLogger.Critical("Failed to init db: %v", err)
			os.Exit(1)
		}
		if err := db.Initialize(); err != nil {
			appLogger.Critical("Failed to migrate db: %v", err)
			os.Exit(1)
		}
		defer db.Close()
	}

	// 3. Pipeline components
	var feed interfaces.ITradeFeed = subscription.NewClient(conf.MConfig, logger.NewLogger(conf.LogLevel, "Subscription"))
	mrg := merger.NewMerger(conf.MConfig, logger.NewLogger(conf.LogLevel, "Merger"))
	agg := stats.NewAggregator(conf.MConfig, logger.NewLogger(conf.LogLevel, "Stats"))

	maxPoints := utils.CalculateMaxDataPoints(conf.Storage.RetentionDays, conf.Pipeline.MergeWindowMs)
	memManager := utils.NewMemoryManager(512, maxPoints, logger.NewLogger(conf.LogLevel, "MemoryManager"))

	// 4. HTTP / websocket fan-out
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

	// 5. Start the feed and the pipeline stages
	if err := feed.Connect(ctx, symbols); err != nil {
		appLogger.Critical("Failed to start subscription: %v", err)
		os.Exit(1)
	}

	go mrg.Run(ctx, feed.Stream())

	aggIn := make(chan models.MMergedTrade, 1000)
	snapshots := make(chan models.MSnapshot, 8)
	go agg.Run(ctx, aggIn, snapshots)

	// Status notifications go straight to websocket listeners.
	go func() {
		for change := range feed.StatusChanges() {
			appLogger.Info("Feed status: %s (failures=%d)", change.Status, change.ConsecutiveFailures)
			srv.Broadcast(change)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)

	flushTicker := time.NewTicker(5 * time.Second)
	defer flushTicker.Stop()
	cleanupTicker := time.NewTicker(time.Hour)
	defer cleanupTicker.Stop()

	var pendingWrites []models.MMergedTrade

	flush := func() {
		if db == nil || len(pendingWrites) == 0 {
			return
		}
		if err := db.SaveMergedTradesBulk(pendingWrites); err != nil {
			appLogger.Error("Failed to persist %d merged trades: %v", len(pendingWrites), err)
		}
		pendingWrites = pendingWrites[:0]
	}

	appLogger.Info("Starting ingestion loop...")

	for {
		select {
		case record, ok := <-mrg.Out():
			if !ok {
				appLogger.Info("Merged stream closed.")
				flush()
				close(aggIn)
				if err := srv.Stop(); err != nil {
					appLogger.Error("Server shutdown error: %v", err)
				}
				return
			}
			aggIn <- record
			memManager.AddRecord(record)
			srv.Broadcast(record)
			if db != nil {
				pendingWrites = append(pendingWrites, record)
			}

		case snapshot, ok := <-snapshots:
			if !ok {
				continue
			}
			srv.Broadcast(snapshot)
			if db != nil {
				if err := db.SaveSnapshot(snapshot); err != nil {
					appLogger.Error("Failed to persist snapshot: %v", err)
				}
			}
			if warnings := agg.ValidateIntegrity(time.Now()); len(warnings) > 0 {
				appLogger.Warning("Integrity check reported %d anomalies", len(warnings))
			}

		case <-flushTicker.C:
			flush()

		case <-cleanupTicker.C:
			if db != nil {
				if err := db.CleanupOldData(); err != nil {
					appLogger.Error("Retention cleanup failed: %v", err)
				}
			}

		case <-quit:
			appLogger.Info("Shutting down...")
			feed.Dispose()
			cancel()
			flush()
			if err := srv.Stop(); err != nil {
				appLogger.Error("Server shutdown error: %v", err)
			}
			return
		}
	}
}
