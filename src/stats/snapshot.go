package stats

import (
	"math"
	"sort"
	"time"

	"upbit-observer/src/models"
)

// -----------------------------------------------------------------------------
// Snapshot assembly. A snapshot is a side-effect-free read of current state
// taken under the aggregator lock, so it never observes a half-applied
// market update.
// -----------------------------------------------------------------------------

func (a *Aggregator) buildSnapshotLocked(now time.Time) models.MSnapshot {
	topN := a.Config.Pipeline.TopN
	topVolumes := a.topVolumesLocked(topN, now)

	snapshot := models.MSnapshot{
		Timestamp:      now,
		TopTrades:      a.topTradesLocked(topN),
		TopVolumes:     topVolumes,
		Movers:         a.moversLocked(topN, now),
		SectorVolumes:  a.sectorVolumesLocked(),
		VolumeDeltaPct: make(map[string]float64),
		PriceDeltaPct:  make(map[string]float64),
	}

	// Deltas compare against the hourly baseline when one exists, so the
	// comparison horizon stays stable between baseline refreshes. The first
	// snapshot of a session has nothing to compare against.
	reference := a.baseline
	if reference == nil && len(a.snapshots) > 0 {
		reference = &a.snapshots[len(a.snapshots)-1]
	}
	if reference != nil {
		previous := make(map[string]models.MMarketStats, len(reference.TopVolumes))
		for _, stats := range reference.TopVolumes {
			previous[stats.Symbol] = stats
		}
		for _, stats := range topVolumes {
			prev, ok := previous[stats.Symbol]
			if !ok {
				continue
			}
			if prev.TotalVolume > 0 {
				snapshot.VolumeDeltaPct[stats.Symbol] = (stats.TotalVolume - prev.TotalVolume) / prev.TotalVolume * 100
			}
			if prev.CurrentPrice > 0 {
				snapshot.PriceDeltaPct[stats.Symbol] = (stats.CurrentPrice - prev.CurrentPrice) / prev.CurrentPrice * 100
			}
		}
	}

	return snapshot
}

// -----------------------------------------------------------------------------

// topTradesLocked ranks the recent-trades buffer by notional descending.
func (a *Aggregator) topTradesLocked(n int) []models.MMergedTrade {
	trades := a.recentTrades.GetAll()

	sort.Slice(trades, func(i, j int) bool {
		if trades[i].TotalNotional != trades[j].TotalNotional {
			return trades[i].TotalNotional > trades[j].TotalNotional
		}
		return trades[i].Symbol < trades[j].Symbol
	})

	if n > 0 && len(trades) > n {
		trades = trades[:n]
	}
	return trades
}

// -----------------------------------------------------------------------------

// moversLocked ranks active markets by absolute change percent descending.
// At equal magnitude the positive mover wins; remaining ties fall back to
// symbol order for determinism.
func (a *Aggregator) moversLocked(n int, now time.Time) []models.MMover {
	activity := time.Duration(a.Config.Pipeline.ActivityWindowSeconds) * time.Second

	movers := make([]models.MMover, 0, len(a.markets))
	for _, stats := range a.markets {
		if !stats.IsActive(now, activity) {
			continue
		}
		movers = append(movers, models.MMover{
			Symbol:        stats.Symbol,
			CurrentPrice:  stats.CurrentPrice,
			ChangePercent: stats.ChangePercent(),
			TotalVolume:   stats.TotalVolume,
		})
	}

	sort.Slice(movers, func(i, j int) bool {
		absI, absJ := math.Abs(movers[i].ChangePercent), math.Abs(movers[j].ChangePercent)
		if absI != absJ {
			return absI > absJ
		}
		if movers[i].ChangePercent != movers[j].ChangePercent {
			return movers[i].ChangePercent > movers[j].ChangePercent
		}
		return movers[i].Symbol < movers[j].Symbol
	})

	if n > 0 && len(movers) > n {
		movers = movers[:n]
	}
	return movers
}
