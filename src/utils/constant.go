package utils

import "math"

// -----------------------------------------------------------------------------

// Constants for data retention and memory management.
// Crypto markets trade around the clock, so retention sizing assumes a full
// 24h day of merged records at the configured merge window.
const (
	DefaultRetentionDays = 7
)

// -----------------------------------------------------------------------------

// CalculateMaxDataPoints sizes a per-symbol history buffer: one merged
// record per window across the retention period, capped to keep a single
// hot symbol from dominating memory.
func CalculateMaxDataPoints(days int, mergeWindowMs int) int {
	if mergeWindowMs <= 0 {
		mergeWindowMs = 1000
	}
	perDay := float64(24*60*60*1000) / float64(mergeWindowMs)
	points := int(math.Ceil(float64(days) * perDay))
	if points > 100_000 {
		points = 100_000
	}
	return points
}
