package stats

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"upbit-observer/src/logger"
	"upbit-observer/src/models"
	"upbit-observer/src/utils"
)

// -----------------------------------------------------------------------------
// Streaming Statistics Aggregator
//
// Consumes merged trade records and maintains bounded per-symbol and
// per-sector running statistics. On a fixed cadence it materializes an
// immutable snapshot; on an independent cadence it evicts inactive entries
// so memory stays bounded under unbounded symbol churn.
// -----------------------------------------------------------------------------

const unknownSector = "UNKNOWN"

type Aggregator struct {
	Config *models.MConfig
	Logger *logger.Logger

	mu      sync.Mutex
	markets map[string]models.MMarketStats
	sectors map[string]models.MSectorStats

	recentTrades  *utils.RingBuffer
	largeTrades   *utils.RingBuffer
	activeSymbols map[string]time.Time

	snapshots      []models.MSnapshot
	baseline       *models.MSnapshot
	baselineAt     time.Time
	lastSnapshotAt time.Time
	lastEvictionAt time.Time

	snapshotsGenerated int64
}

// -----------------------------------------------------------------------------

func NewAggregator(cfg *models.MConfig, log *logger.Logger) *Aggregator {
	return &Aggregator{
		Config:        cfg,
		Logger:        log,
		markets:       make(map[string]models.MMarketStats),
		sectors:       make(map[string]models.MSectorStats),
		recentTrades:  utils.NewRingBuffer(cfg.Pipeline.RecentTradesCapacity),
		largeTrades:   utils.NewRingBuffer(cfg.Pipeline.LargeTradesCapacity),
		activeSymbols: make(map[string]time.Time),
	}
}

// -----------------------------------------------------------------------------

// AddTrade folds one merged trade record into the running state. Records are
// validated upstream; this never fails.
func (a *Aggregator) AddTrade(record models.MMergedTrade) {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.markets[record.Symbol] = addTrade(a.markets[record.Symbol], record, a.Config.Pipeline.LargeTradeNotional)

	sector := a.sectorFor(record.Symbol)
	a.sectors[sector] = addToSector(a.sectors[sector], sector, record)

	a.recentTrades.Append(record)
	if a.Config.Pipeline.LargeTradeNotional > 0 && record.TotalNotional >= a.Config.Pipeline.LargeTradeNotional {
		a.largeTrades.Append(record)
	}
	a.activeSymbols[record.Symbol] = time.UnixMilli(record.LastTimestampMs)
}

// -----------------------------------------------------------------------------

// MaybeGenerateSnapshot builds a snapshot when the configured interval has
// elapsed, nil otherwise. The hourly baseline snapshot is refreshed on its
// own slower cadence and used for delta comparisons in between.
func (a *Aggregator) MaybeGenerateSnapshot(now time.Time) *models.MSnapshot {
	a.mu.Lock()
	defer a.mu.Unlock()

	interval := time.Duration(a.Config.Pipeline.SnapshotIntervalSeconds) * time.Second
	if !a.lastSnapshotAt.IsZero() && now.Sub(a.lastSnapshotAt) < interval {
		return nil
	}

	snapshot := a.buildSnapshotLocked(now)
	a.lastSnapshotAt = now
	a.snapshotsGenerated++

	a.snapshots = append(a.snapshots, snapshot)
	if limit := a.Config.Pipeline.SnapshotHistory; limit > 0 && len(a.snapshots) > limit {
		a.snapshots = a.snapshots[len(a.snapshots)-limit:]
	}

	baselineTTL := time.Duration(a.Config.Pipeline.BaselineRefreshSeconds) * time.Second
	if a.baseline == nil || now.Sub(a.baselineAt) >= baselineTTL {
		a.baseline = &snapshot
		a.baselineAt = now
	}

	return &snapshot
}

// -----------------------------------------------------------------------------

// MaybeEvict drops inactive symbols and sectors and purges expired ring
// buffer entries when the eviction interval has elapsed. Returns the number
// of evicted symbols.
func (a *Aggregator) MaybeEvict(now time.Time) int {
	a.mu.Lock()
	defer a.mu.Unlock()

	interval := time.Duration(a.Config.Pipeline.EvictionIntervalSeconds) * time.Second
	if !a.lastEvictionAt.IsZero() && now.Sub(a.lastEvictionAt) < interval {
		return 0
	}
	a.lastEvictionAt = now

	activity := time.Duration(a.Config.Pipeline.ActivityWindowSeconds) * time.Second
	evicted := 0
	for symbol, stats := range a.markets {
		if !stats.IsActive(now, activity) {
			delete(a.markets, symbol)
			evicted++
		}
	}
	for sector, stats := range a.sectors {
		if now.Sub(stats.LastUpdateAt) >= activity {
			delete(a.sectors, sector)
		}
	}

	ttl := time.Duration(a.Config.Pipeline.ActiveSymbolTTLSeconds) * time.Second
	for symbol, lastSeen := range a.activeSymbols {
		if now.Sub(lastSeen) >= ttl {
			delete(a.activeSymbols, symbol)
		}
	}

	cutoff := now.Add(-activity).UnixMilli()
	a.recentTrades.PruneOlderThan(cutoff)
	a.largeTrades.PruneOlderThan(cutoff)

	if evicted > 0 {
		a.Logger.Info("Evicted %d inactive symbols, %d remain", evicted, len(a.markets))
	}
	return evicted
}

// -----------------------------------------------------------------------------

// GetTopMarkets returns up to n active markets by total volume descending,
// ties broken by symbol.
func (a *Aggregator) GetTopMarkets(n int, now time.Time) []models.MMarketStats {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.topVolumesLocked(n, now)
}

// -----------------------------------------------------------------------------

// GetSectorBreakdown returns per-sector volume projections, largest first.
func (a *Aggregator) GetSectorBreakdown() []models.MSectorVolume {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.sectorVolumesLocked()
}

// -----------------------------------------------------------------------------

// GetSnapshotHistory returns the bounded snapshot history, oldest first.
func (a *Aggregator) GetSnapshotHistory() []models.MSnapshot {
	a.mu.Lock()
	defer a.mu.Unlock()
	history := make([]models.MSnapshot, len(a.snapshots))
	copy(history, a.snapshots)
	return history
}

// -----------------------------------------------------------------------------

// ActiveSymbolCount reports the number of symbols inside the activity TTL.
func (a *Aggregator) ActiveSymbolCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.activeSymbols)
}

// -----------------------------------------------------------------------------

// Counters reports tracked symbols and snapshots generated since start.
func (a *Aggregator) Counters() (symbolsTracked int, snapshotsGenerated int64) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.markets), a.snapshotsGenerated
}

// -----------------------------------------------------------------------------

// ValidateIntegrity reports state anomalies as warnings without halting
// ingestion: future timestamps, inverted trade ordering, negative volumes.
func (a *Aggregator) ValidateIntegrity(now time.Time) []string {
	a.mu.Lock()
	defer a.mu.Unlock()

	var warnings []string
	for symbol, stats := range a.markets {
		if stats.LastTradeAt.After(now.Add(time.Minute)) {
			warnings = append(warnings, fmt.Sprintf("%s: last trade timestamp %v is in the future", symbol, stats.LastTradeAt))
		}
		if stats.LastTradeAt.Before(stats.FirstTradeAt) {
			warnings = append(warnings, fmt.Sprintf("%s: last trade predates first trade", symbol))
		}
		if stats.TotalVolume < 0 || stats.TotalNotional < 0 {
			warnings = append(warnings, fmt.Sprintf("%s: negative running volume or notional", symbol))
		}
	}

	for _, warning := range warnings {
		a.Logger.Warning("Integrity check: %s", warning)
	}
	return warnings
}

// -----------------------------------------------------------------------------

// Run consumes the merged trade stream until it closes or the context is
// cancelled, driving the snapshot and eviction cadences from a shared ticker.
// Produced snapshots go to out, which is closed on return.
func (a *Aggregator) Run(ctx context.Context, in <-chan models.MMergedTrade, out chan<- models.MSnapshot) {
	defer close(out)

	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case record, ok := <-in:
			if !ok {
				return
			}
			a.AddTrade(record)
		case now := <-ticker.C:
			a.MaybeEvict(now)
			if snapshot := a.MaybeGenerateSnapshot(now); snapshot != nil {
				select {
				case out <- *snapshot:
				case <-ctx.Done():
					return
				}
			}
		case <-ctx.Done():
			return
		}
	}
}

// -----------------------------------------------------------------------------

func (a *Aggregator) sectorFor(symbol string) string {
	if sector, ok := a.Config.Sectors[symbol]; ok {
		return sector
	}
	return unknownSector
}

// -----------------------------------------------------------------------------

func (a *Aggregator) topVolumesLocked(n int, now time.Time) []models.MMarketStats {
	activity := time.Duration(a.Config.Pipeline.ActivityWindowSeconds) * time.Second

	active := make([]models.MMarketStats, 0, len(a.markets))
	for _, stats := range a.markets {
		if stats.IsActive(now, activity) {
			active = append(active, stats)
		}
	}

	sort.Slice(active, func(i, j int) bool {
		if active[i].TotalVolume != active[j].TotalVolume {
			return active[i].TotalVolume > active[j].TotalVolume
		}
		return active[i].Symbol < active[j].Symbol
	})

	if n > 0 && len(active) > n {
		active = active[:n]
	}
	return active
}

// -----------------------------------------------------------------------------

func (a *Aggregator) sectorVolumesLocked() []models.MSectorVolume {
	volumes := make([]models.MSectorVolume, 0, len(a.sectors))
	for _, stats := range a.sectors {
		volumes = append(volumes, models.MSectorVolume{
			Sector:        stats.Sector,
			TotalVolume:   stats.TotalVolume,
			TotalNotional: stats.TotalNotional,
			ActiveSymbols: stats.ActiveSymbolCount(),
		})
	}

	sort.Slice(volumes, func(i, j int) bool {
		if volumes[i].TotalVolume != volumes[j].TotalVolume {
			return volumes[i].TotalVolume > volumes[j].TotalVolume
		}
		return volumes[i].Sector < volumes[j].Sector
	})
	return volumes
}
