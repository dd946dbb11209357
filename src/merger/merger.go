package merger

import (
	"context"
	"sort"
	"sync"
	"time"

	"upbit-observer/src/logger"
	"upbit-observer/src/models"
)

// -----------------------------------------------------------------------------
// Trade Window Merger
//
// Coalesces trades for the same symbol arriving within a short merge window
// into one volume-weighted record. Every input trade's volume lands in
// exactly one emitted record: records close when a trade falls outside the
// window, when the window expires with no follow-up, or on an explicit flush.
// Invalid trades are dropped and logged, never propagated.
// -----------------------------------------------------------------------------

type Merger struct {
	Config *models.MConfig
	Logger *logger.Logger

	window time.Duration

	mu        sync.Mutex
	pending   map[string]*pendingRecord
	processed int64
	dropped   int64
	emitted   int64

	out chan models.MMergedTrade
}

// pendingRecord is the open accumulation for one symbol. At most one exists
// per symbol at a time.
type pendingRecord struct {
	record models.MMergedTrade
}

// -----------------------------------------------------------------------------

func NewMerger(cfg *models.MConfig, log *logger.Logger) *Merger {
	return &Merger{
		Config:  cfg,
		Logger:  log,
		window:  time.Duration(cfg.Pipeline.MergeWindowMs) * time.Millisecond,
		pending: make(map[string]*pendingRecord),
		out:     make(chan models.MMergedTrade, 1000),
	}
}

// -----------------------------------------------------------------------------

// Out returns the merged trade stream. Closed when Run returns.
func (m *Merger) Out() <-chan models.MMergedTrade {
	return m.out
}

// -----------------------------------------------------------------------------

// Run pumps the inbound trade stream through the merger until the input
// channel closes or the context is cancelled. A side ticker flushes records
// whose window expired without a follow-up trade, so a quiet symbol's record
// is delayed by at most one window length. Remaining open records are
// flushed on shutdown.
func (m *Merger) Run(ctx context.Context, in <-chan models.MTrade) {
	defer close(m.out)

	ticker := time.NewTicker(m.window)
	defer ticker.Stop()

	for {
		select {
		case trade, ok := <-in:
			if !ok {
				m.emit(ctx, m.FlushAll())
				return
			}
			m.emit(ctx, m.ProcessTrade(trade))
		case now := <-ticker.C:
			m.emit(ctx, m.FlushExpired(now.UnixMilli()))
		case <-ctx.Done():
			m.emit(context.Background(), m.FlushAll())
			return
		}
	}
}

// -----------------------------------------------------------------------------

// ProcessTrade folds the trade into the symbol's open record. Returns the
// previously open record when the trade falls outside its merge window,
// nothing otherwise.
func (m *Merger) ProcessTrade(trade models.MTrade) []models.MMergedTrade {
	if !trade.IsValid() {
		m.Logger.Debug("Dropping invalid trade: symbol=%q price=%f volume=%f ts=%d",
			trade.Symbol, trade.Price, trade.Volume, trade.TimestampMs)
		m.mu.Lock()
		m.dropped++
		m.mu.Unlock()
		return nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.processed++

	open, exists := m.pending[trade.Symbol]
	if !exists {
		m.pending[trade.Symbol] = &pendingRecord{record: recordFromTrade(trade)}
		return nil
	}

	if trade.TimestampMs-open.record.LastTimestampMs <= int64(m.window/time.Millisecond) {
		foldTrade(&open.record, trade)
		return nil
	}

	closed := open.record
	m.pending[trade.Symbol] = &pendingRecord{record: recordFromTrade(trade)}
	m.emitted++
	return []models.MMergedTrade{closed}
}

// -----------------------------------------------------------------------------

// FlushAll closes and returns every open record, ordered by symbol for
// deterministic output.
func (m *Merger) FlushAll() []models.MMergedTrade {
	m.mu.Lock()
	defer m.mu.Unlock()

	flushed := make([]models.MMergedTrade, 0, len(m.pending))
	for _, open := range m.pending {
		flushed = append(flushed, open.record)
	}
	m.pending = make(map[string]*pendingRecord)
	m.emitted += int64(len(flushed))

	sort.Slice(flushed, func(i, j int) bool {
		return flushed[i].Symbol < flushed[j].Symbol
	})
	return flushed
}

// -----------------------------------------------------------------------------

// FlushExpired closes records whose merge window elapsed before nowMs with no
// follow-up trade.
func (m *Merger) FlushExpired(nowMs int64) []models.MMergedTrade {
	m.mu.Lock()
	defer m.mu.Unlock()

	var flushed []models.MMergedTrade
	windowMs := int64(m.window / time.Millisecond)
	for symbol, open := range m.pending {
		if nowMs-open.record.LastTimestampMs > windowMs {
			flushed = append(flushed, open.record)
			delete(m.pending, symbol)
		}
	}
	m.emitted += int64(len(flushed))

	sort.Slice(flushed, func(i, j int) bool {
		return flushed[i].Symbol < flushed[j].Symbol
	})
	return flushed
}

// -----------------------------------------------------------------------------

// OpenRecordCount reports the number of symbols with an open record.
func (m *Merger) OpenRecordCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.pending)
}

// -----------------------------------------------------------------------------

// Counters reports processed, dropped and emitted totals since start.
func (m *Merger) Counters() (processed, dropped, emitted int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.processed, m.dropped, m.emitted
}

// -----------------------------------------------------------------------------

func (m *Merger) emit(ctx context.Context, records []models.MMergedTrade) {
	for _, record := range records {
		select {
		case m.out <- record:
		case <-ctx.Done():
			return
		}
	}
}

// -----------------------------------------------------------------------------

func recordFromTrade(trade models.MTrade) models.MMergedTrade {
	return models.MMergedTrade{
		Symbol:           trade.Symbol,
		WeightedAvgPrice: trade.Price,
		TotalVolume:      trade.Volume,
		TotalNotional:    trade.Notional(),
		TradeCount:       1,
		FirstTimestampMs: trade.TimestampMs,
		LastTimestampMs:  trade.TimestampMs,
		LastSequenceID:   trade.SequenceID,
		LastSide:         trade.Side,
	}
}

// -----------------------------------------------------------------------------

// foldTrade accumulates a trade into an open record and recomputes the
// volume-weighted average price.
func foldTrade(record *models.MMergedTrade, trade models.MTrade) {
	record.TotalVolume += trade.Volume
	record.TotalNotional += trade.Notional()
	record.TradeCount++
	record.LastTimestampMs = trade.TimestampMs
	record.LastSequenceID = trade.SequenceID
	record.LastSide = trade.Side
	if record.TotalVolume > 0 {
		record.WeightedAvgPrice = record.TotalNotional / record.TotalVolume
	}
}
