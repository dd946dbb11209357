package models

import "time"

// -----------------------------------------------------------------------------
// Running Statistics Structures
// -----------------------------------------------------------------------------

// MMarketStats is the running aggregate for one symbol. Values are replaced
// wholesale on every update (pure add-trade transform, no hidden state).
type MMarketStats struct {
	Symbol                 string    `json:"symbol"`
	TotalVolume            float64   `json:"total_volume"`
	TotalNotional          float64   `json:"total_notional"`
	TradeCount             int64     `json:"trade_count"`
	BasePrice              float64   `json:"base_price"`
	CurrentPrice           float64   `json:"current_price"`
	HighPrice              float64   `json:"high_price"`
	LowPrice               float64   `json:"low_price"`
	LargeTradeCount        int64     `json:"large_trade_count"`
	FirstTradeAt           time.Time `json:"first_trade_at"`
	LastTradeAt            time.Time `json:"last_trade_at"`
	VolumeWeightedAvgPrice float64   `json:"vwap"`
}

// -----------------------------------------------------------------------------

// ChangePercent returns the price move relative to the base price, in percent.
func (m MMarketStats) ChangePercent() float64 {
	if m.BasePrice == 0 {
		return 0
	}
	return (m.CurrentPrice - m.BasePrice) / m.BasePrice * 100
}

// -----------------------------------------------------------------------------

// IsActive reports whether the symbol traded within the activity window.
func (m MMarketStats) IsActive(now time.Time, activityWindow time.Duration) bool {
	return now.Sub(m.LastTradeAt) < activityWindow
}

// -----------------------------------------------------------------------------

// MSectorStats aggregates market stats by the static symbol->sector table.
type MSectorStats struct {
	Sector        string              `json:"sector"`
	TotalVolume   float64             `json:"total_volume"`
	TotalNotional float64             `json:"total_notional"`
	ActiveSymbols map[string]struct{} `json:"-"`
	FirstUpdateAt time.Time           `json:"first_update_at"`
	LastUpdateAt  time.Time           `json:"last_update_at"`
}

// -----------------------------------------------------------------------------

// ActiveSymbolCount returns the number of distinct symbols seen in the sector.
func (s MSectorStats) ActiveSymbolCount() int {
	return len(s.ActiveSymbols)
}
