package stats

import (
	"time"

	"upbit-observer/src/models"
)

// -----------------------------------------------------------------------------
// Pure update transforms. Each takes the previous aggregate by value and
// returns the next one; callers swap the result in wholesale, so a concurrent
// reader never observes a half-applied update.
// -----------------------------------------------------------------------------

// addTrade folds one merged trade record into a symbol's running statistics.
// The first record for a symbol pins the base price used for change-percent.
func addTrade(prev models.MMarketStats, record models.MMergedTrade, largeNotional float64) models.MMarketStats {
	tradedAt := time.UnixMilli(record.LastTimestampMs)

	next := prev
	if prev.TradeCount == 0 {
		next.Symbol = record.Symbol
		next.BasePrice = record.WeightedAvgPrice
		next.HighPrice = record.WeightedAvgPrice
		next.LowPrice = record.WeightedAvgPrice
		next.FirstTradeAt = time.UnixMilli(record.FirstTimestampMs)
	}

	next.TotalVolume += record.TotalVolume
	next.TotalNotional += record.TotalNotional
	next.TradeCount += int64(record.TradeCount)
	next.CurrentPrice = record.WeightedAvgPrice
	next.LastTradeAt = tradedAt

	if record.WeightedAvgPrice > next.HighPrice {
		next.HighPrice = record.WeightedAvgPrice
	}
	if record.WeightedAvgPrice < next.LowPrice {
		next.LowPrice = record.WeightedAvgPrice
	}
	if largeNotional > 0 && record.TotalNotional >= largeNotional {
		next.LargeTradeCount++
	}
	if next.TotalVolume > 0 {
		next.VolumeWeightedAvgPrice = next.TotalNotional / next.TotalVolume
	}

	return next
}

// -----------------------------------------------------------------------------

// addToSector folds one merged trade record into its sector's aggregate.
func addToSector(prev models.MSectorStats, sector string, record models.MMergedTrade) models.MSectorStats {
	tradedAt := time.UnixMilli(record.LastTimestampMs)

	next := prev
	if next.ActiveSymbols == nil {
		next.Sector = sector
		next.ActiveSymbols = make(map[string]struct{})
		next.FirstUpdateAt = tradedAt
	} else {
		// Copy-on-write so a snapshot holding the previous value stays stable.
		symbols := make(map[string]struct{}, len(prev.ActiveSymbols)+1)
		for s := range prev.ActiveSymbols {
			symbols[s] = struct{}{}
		}
		next.ActiveSymbols = symbols
	}

	next.ActiveSymbols[record.Symbol] = struct{}{}
	next.TotalVolume += record.TotalVolume
	next.TotalNotional += record.TotalNotional
	next.LastUpdateAt = tradedAt

	return next
}
