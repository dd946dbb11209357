package main

import (
	"context"
	"math/rand"
	"strconv"
	"time"

	"upbit-observer/src/models"
)

// -----------------------------------------------------------------------------
// Synthetic trade feed. Produces random-walk trades for a fixed symbol set so
// the pipeline can be exercised without any exchange connectivity.

type syntheticFeed struct {
	symbols []string
	prices  map[string]float64
	rng     *rand.Rand
	seq     int64
}

func newSyntheticFeed(symbols []string, seed int64) *syntheticFeed {
	prices := make(map[string]float64, len(symbols))
	base := 1_000.0
	for _, s := range symbols {
		prices[s] = base
		base *= 3.7 // spread the symbols across price ranges
	}
	return &syntheticFeed{
		symbols: symbols,
		prices:  prices,
		rng:     rand.New(rand.NewSource(seed)),
	}
}

func (f *syntheticFeed) next() models.MTrade {
	symbol := f.symbols[f.rng.Intn(len(f.symbols))]

	// Random walk, +-0.5% per tick
	price := f.prices[symbol] * (1 + (f.rng.Float64()-0.5)/100)
	f.prices[symbol] = price

	side := models.SideBuy
	if f.rng.Intn(2) == 0 {
		side = models.SideSell
	}

	f.seq++
	return models.MTrade{
		Symbol:      symbol,
		Price:       price,
		Volume:      0.01 + f.rng.Float64()*2,
		Side:        side,
		TimestampMs: time.Now().UnixMilli(),
		SequenceID:  strconv.FormatInt(f.seq, 10),
	}
}

// run pushes trades onto out at the given rate until ctx is cancelled,
// then closes out.
func (f *syntheticFeed) run(ctx context.Context, out chan<- models.MTrade, perSecond int) {
	defer close(out)

	interval := time.Second / time.Duration(perSecond)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			select {
			case out <- f.next():
			case <-ctx.Done():
				return
			}
		}
	}
}
