package utils

import (
	"runtime"
	"runtime/debug"
	"sync"

	"upbit-observer/src/logger"
	"upbit-observer/src/models"
)

// -----------------------------------------------------------------------------
// MemoryManager keeps per-symbol merged trade history in bounded ring
// buffers and halves retention under memory pressure.
// -----------------------------------------------------------------------------

type MemoryManager struct {
	DataStreams   map[string]*RingBuffer
	MaxMemoryMB   int
	MaxDataPoints int
	Logger        *logger.Logger
	mu            sync.RWMutex
}

// -----------------------------------------------------------------------------

func NewMemoryManager(maxMemoryMB, maxDataPoints int, log *logger.Logger) *MemoryManager {
	return &MemoryManager{
		DataStreams:   make(map[string]*RingBuffer),
		MaxMemoryMB:   maxMemoryMB,
		MaxDataPoints: maxDataPoints,
		Logger:        log,
	}
}

// -----------------------------------------------------------------------------

// AddRecord appends a merged trade to its symbol's history buffer.
func (mm *MemoryManager) AddRecord(record models.MMergedTrade) {
	mm.mu.Lock()
	defer mm.mu.Unlock()

	if _, ok := mm.DataStreams[record.Symbol]; !ok {
		mm.DataStreams[record.Symbol] = NewRingBuffer(mm.MaxDataPoints)
	}

	mm.DataStreams[record.Symbol].Append(record)

	// Periodic memory check
	if mm.DataStreams[record.Symbol].Size()%100 == 0 {
		mm.CheckMemoryLimits()
	}
}

// -----------------------------------------------------------------------------

// GetHistory returns the full buffered history for a symbol, oldest first.
func (mm *MemoryManager) GetHistory(symbol string) []models.MMergedTrade {
	mm.mu.RLock()
	defer mm.mu.RUnlock()

	buffer, ok := mm.DataStreams[symbol]
	if !ok || buffer.Size() == 0 {
		return nil
	}
	return buffer.GetAll()
}

// -----------------------------------------------------------------------------

// GetLatest returns the most recent record per symbol.
func (mm *MemoryManager) GetLatest() map[string]models.MMergedTrade {
	mm.mu.RLock()
	defer mm.mu.RUnlock()

	result := make(map[string]models.MMergedTrade)
	for sym, buffer := range mm.DataStreams {
		if buffer.Size() == 0 {
			continue
		}
		latest := buffer.GetLatest(1)
		if len(latest) > 0 {
			result[sym] = latest[0]
		}
	}
	return result
}

// -----------------------------------------------------------------------------

// CheckMemoryLimits enforces the memory ceiling. Caller holds mm.mu.
func (mm *MemoryManager) CheckMemoryLimits() {
	currentMemory := mm.GetProcessMemoryMB()

	if currentMemory > float64(mm.MaxMemoryMB) {
		mm.Logger.Info("Memory usage %.1fMB exceeds limit %dMB. Cleaning up.",
			currentMemory, mm.MaxMemoryMB)

		// Reduce data retention by half to free memory
		for symbol := range mm.DataStreams {
			buffer := mm.DataStreams[symbol]
			if buffer.Capacity() > 100 {
				newCapacity := buffer.Capacity() / 2
				if newCapacity < 50 {
					newCapacity = 50
				}
				buffer.Resize(newCapacity)
			}
		}

		// Force garbage collection
		runtime.GC()
		debug.FreeOSMemory()
	}
}

// -----------------------------------------------------------------------------

// GetProcessMemoryMB gets current process memory usage in MB
func (mm *MemoryManager) GetProcessMemoryMB() float64 {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)

	// HeapAlloc is the closest cheap proxy for resident size
	return float64(m.HeapAlloc) / 1024 / 1024
}

// -----------------------------------------------------------------------------

// Cleanup clears all data
func (mm *MemoryManager) Cleanup() {
	mm.mu.Lock()
	defer mm.mu.Unlock()

	mm.DataStreams = make(map[string]*RingBuffer)
	runtime.GC()
	debug.FreeOSMemory()
}

// -----------------------------------------------------------------------------

// HasSymbol checks if symbol exists
func (mm *MemoryManager) HasSymbol(symbol string) bool {
	mm.mu.RLock()
	defer mm.mu.RUnlock()

	_, ok := mm.DataStreams[symbol]
	return ok
}

// -----------------------------------------------------------------------------

// SymbolCount returns number of symbols with data
func (mm *MemoryManager) SymbolCount() int {
	mm.mu.RLock()
	defer mm.mu.RUnlock()

	return len(mm.DataStreams)
}
