package merger

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"upbit-observer/src/logger"
	"upbit-observer/src/models"
)

// -----------------------------------------------------------------------------

func testMerger(windowMs int) *Merger {
	cfg := &models.MConfig{
		Pipeline: models.MPipelineConfig{MergeWindowMs: windowMs},
	}
	return NewMerger(cfg, logger.NewLogger("error", "test"))
}

// baseTs keeps test timestamps in the valid range while the cases below
// reason in small offsets.
const baseTs int64 = 1_700_000_000_000

func trade(symbol string, price, volume float64, tsMs int64) models.MTrade {
	return models.MTrade{
		Symbol:      symbol,
		Price:       price,
		Volume:      volume,
		Side:        models.SideBuy,
		SequenceID:  "1",
		TimestampMs: baseTs + tsMs,
	}
}

// -----------------------------------------------------------------------------

func TestInWindowTradesFoldIntoOneWeightedRecord(t *testing.T) {
	m := testMerger(1000)

	require.Empty(t, m.ProcessTrade(trade("KRW-BTC", 100, 1.0, 0)))
	require.Empty(t, m.ProcessTrade(trade("KRW-BTC", 110, 2.0, 500)))

	records := m.FlushAll()
	require.Len(t, records, 1)

	record := records[0]
	assert.Equal(t, "KRW-BTC", record.Symbol)
	assert.Equal(t, 3.0, record.TotalVolume)
	assert.Equal(t, 320.0, record.TotalNotional)
	assert.InDelta(t, 106.67, record.WeightedAvgPrice, 0.01)
	assert.Equal(t, 2, record.TradeCount)
	assert.Equal(t, baseTs, record.FirstTimestampMs)
	assert.Equal(t, baseTs+500, record.LastTimestampMs)
}

// -----------------------------------------------------------------------------

func TestWindowBoundaryInclusive(t *testing.T) {
	const window = 1000

	// Exactly one window apart: folded into one record.
	m := testMerger(window)
	m.ProcessTrade(trade("KRW-BTC", 100, 1.0, 0))
	emitted := m.ProcessTrade(trade("KRW-BTC", 100, 1.0, window))
	assert.Empty(t, emitted)
	assert.Len(t, m.FlushAll(), 1)

	// One millisecond past the window: two separate records.
	m = testMerger(window)
	m.ProcessTrade(trade("KRW-BTC", 100, 1.0, 0))
	emitted = m.ProcessTrade(trade("KRW-BTC", 100, 1.0, window+1))
	require.Len(t, emitted, 1)
	assert.Equal(t, 1, emitted[0].TradeCount)
	remaining := m.FlushAll()
	require.Len(t, remaining, 1)
	assert.Equal(t, 1, remaining[0].TradeCount)
}

// -----------------------------------------------------------------------------

func TestWindowAnchorsOnLastTradeTimestamp(t *testing.T) {
	// Each trade arrives within a window of the previous one, so the run
	// keeps extending even past the first trade's window.
	m := testMerger(1000)
	m.ProcessTrade(trade("KRW-BTC", 100, 1.0, 0))
	assert.Empty(t, m.ProcessTrade(trade("KRW-BTC", 100, 1.0, 900)))
	assert.Empty(t, m.ProcessTrade(trade("KRW-BTC", 100, 1.0, 1800)))

	records := m.FlushAll()
	require.Len(t, records, 1)
	assert.Equal(t, 3, records[0].TradeCount)
}

// -----------------------------------------------------------------------------

func TestVolumeConservation(t *testing.T) {
	m := testMerger(1000)

	inputs := []models.MTrade{
		trade("KRW-BTC", 100, 1.5, 0),
		trade("KRW-BTC", 101, 0.5, 400),
		trade("KRW-BTC", 102, 2.0, 2500),
		trade("KRW-BTC", 103, 1.0, 2600),
		trade("KRW-BTC", 104, 0.25, 9000),
	}

	var inputVolume, emittedVolume float64
	for _, in := range inputs {
		inputVolume += in.Volume
		for _, record := range m.ProcessTrade(in) {
			emittedVolume += record.TotalVolume
		}
	}
	for _, record := range m.FlushAll() {
		emittedVolume += record.TotalVolume
	}

	assert.InDelta(t, inputVolume, emittedVolume, 1e-9)
}

// -----------------------------------------------------------------------------

func TestSymbolsMergeIndependently(t *testing.T) {
	m := testMerger(1000)

	m.ProcessTrade(trade("KRW-BTC", 100, 1.0, 0))
	m.ProcessTrade(trade("KRW-ETH", 50, 2.0, 100))
	m.ProcessTrade(trade("KRW-BTC", 101, 1.0, 200))
	m.ProcessTrade(trade("KRW-ETH", 51, 2.0, 300))

	records := m.FlushAll()
	require.Len(t, records, 2)
	// FlushAll orders by symbol.
	assert.Equal(t, "KRW-BTC", records[0].Symbol)
	assert.Equal(t, 2.0, records[0].TotalVolume)
	assert.Equal(t, "KRW-ETH", records[1].Symbol)
	assert.Equal(t, 4.0, records[1].TotalVolume)
}

// -----------------------------------------------------------------------------

func TestInvalidTradesDroppedSilently(t *testing.T) {
	m := testMerger(1000)

	assert.Empty(t, m.ProcessTrade(trade("", 100, 1.0, 0)))
	assert.Empty(t, m.ProcessTrade(trade("KRW-BTC", 0, 1.0, 0)))
	assert.Empty(t, m.ProcessTrade(trade("KRW-BTC", 100, -1.0, 0)))
	assert.Empty(t, m.ProcessTrade(models.MTrade{Symbol: "KRW-BTC", Price: 100, Volume: 1.0}))

	assert.Equal(t, 0, m.OpenRecordCount())
	assert.Empty(t, m.FlushAll())
}

// -----------------------------------------------------------------------------

func TestFlushExpiredClosesIdleRecords(t *testing.T) {
	m := testMerger(1000)

	m.ProcessTrade(trade("KRW-BTC", 100, 1.0, 0))
	m.ProcessTrade(trade("KRW-ETH", 50, 1.0, 1500))

	expired := m.FlushExpired(baseTs + 1600)
	require.Len(t, expired, 1)
	assert.Equal(t, "KRW-BTC", expired[0].Symbol)
	assert.Equal(t, 1, m.OpenRecordCount())
}

// -----------------------------------------------------------------------------

func TestRunFlushesOnInputClose(t *testing.T) {
	m := testMerger(1000)
	in := make(chan models.MTrade, 4)

	go m.Run(context.Background(), in)

	in <- trade("KRW-BTC", 100, 1.0, 0)
	in <- trade("KRW-BTC", 110, 2.0, 500)
	close(in)

	var records []models.MMergedTrade
	for record := range m.Out() {
		records = append(records, record)
	}
	require.Len(t, records, 1)
	assert.Equal(t, 3.0, records[0].TotalVolume)
}
