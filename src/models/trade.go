package models

// -----------------------------------------------------------------------------
// Trade Structures
// -----------------------------------------------------------------------------

// TradeSide marks the aggressor side of a trade.
type TradeSide string

const (
	SideBuy  TradeSide = "BUY"
	SideSell TradeSide = "SELL"
)

// -----------------------------------------------------------------------------

// MTrade represents one normalized trade from the exchange feed.
// SequenceID is unique per exchange per symbol; TimestampMs is non-decreasing
// per symbol within a single connection session.
type MTrade struct {
	Symbol      string    `json:"symbol"`
	Price       float64   `json:"price"`
	Volume      float64   `json:"volume"`
	Side        TradeSide `json:"side"`
	SequenceID  string    `json:"sequence_id"`
	TimestampMs int64     `json:"timestamp_ms"`
}

// -----------------------------------------------------------------------------

// Notional returns the traded value (price * volume).
func (t MTrade) Notional() float64 {
	return t.Price * t.Volume
}

// -----------------------------------------------------------------------------

// IsValid reports whether the trade carries usable fields.
// Invalid trades are dropped upstream and never reach the aggregator.
func (t MTrade) IsValid() bool {
	return t.Symbol != "" && t.Price > 0 && t.Volume > 0 && t.TimestampMs > 0
}

// -----------------------------------------------------------------------------

// MMergedTrade is the output of the trade window merger: one or more raw
// trades for a symbol folded into a single volume-weighted record.
type MMergedTrade struct {
	Symbol           string    `json:"symbol"`
	WeightedAvgPrice float64   `json:"weighted_avg_price"`
	TotalVolume      float64   `json:"total_volume"`
	TotalNotional    float64   `json:"total_notional"`
	TradeCount       int       `json:"trade_count"`
	FirstTimestampMs int64     `json:"first_timestamp_ms"`
	LastTimestampMs  int64     `json:"last_timestamp_ms"`
	LastSequenceID   string    `json:"last_sequence_id"`
	LastSide         TradeSide `json:"last_side"`
}
