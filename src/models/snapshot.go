package models

import "time"

// -----------------------------------------------------------------------------
// Snapshot Structures
// -----------------------------------------------------------------------------

// MSnapshot is an immutable, point-in-time summary produced by the stats
// aggregator on a fixed cadence. Downstream consumers receive it as-is.
type MSnapshot struct {
	Timestamp      time.Time          `json:"timestamp"`
	TopTrades      []MMergedTrade     `json:"top_trades"`
	TopVolumes     []MMarketStats     `json:"top_volumes"`
	Movers         []MMover           `json:"movers"`
	SectorVolumes  []MSectorVolume    `json:"sector_volumes"`
	VolumeDeltaPct map[string]float64 `json:"volume_delta_pct"`
	PriceDeltaPct  map[string]float64 `json:"price_delta_pct"`
}

// -----------------------------------------------------------------------------

// MMover is a market-stats projection used in the snapshot movers ranking.
type MMover struct {
	Symbol        string  `json:"symbol"`
	CurrentPrice  float64 `json:"current_price"`
	ChangePercent float64 `json:"change_percent"`
	TotalVolume   float64 `json:"total_volume"`
}

// -----------------------------------------------------------------------------

// MSectorVolume is a sector-stats projection used in the snapshot breakdown.
type MSectorVolume struct {
	Sector        string  `json:"sector"`
	TotalVolume   float64 `json:"total_volume"`
	TotalNotional float64 `json:"total_notional"`
	ActiveSymbols int     `json:"active_symbols"`
}
