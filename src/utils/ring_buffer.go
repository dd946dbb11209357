package utils

import (
	"upbit-observer/src/models"
)

// -----------------------------------------------------------------------------
// RingBuffer is a fixed-size circular buffer of merged trade records.
// True ring buffer - appends past capacity overwrite the oldest entry.
// -----------------------------------------------------------------------------

type RingBuffer struct {
	data     []models.MMergedTrade
	capacity int
	index    int // Next write position
	size     int // Current number of elements
}

// -----------------------------------------------------------------------------

// NewRingBuffer creates a new buffer with fixed capacity
func NewRingBuffer(capacity int) *RingBuffer {
	if capacity <= 0 {
		capacity = 1000 // Default reasonable size
	}

	return &RingBuffer{
		data:     make([]models.MMergedTrade, capacity),
		capacity: capacity,
		index:    0,
		size:     0,
	}
}

// -----------------------------------------------------------------------------

// Append adds a record, overwriting the oldest once full
func (rb *RingBuffer) Append(record models.MMergedTrade) {
	rb.data[rb.index] = record
	rb.index = (rb.index + 1) % rb.capacity

	// Update size (never exceeds capacity)
	if rb.size < rb.capacity {
		rb.size++
	}
}

// -----------------------------------------------------------------------------

// GetLatest returns the n most recent records, oldest first
func (rb *RingBuffer) GetLatest(n int) []models.MMergedTrade {
	if rb.size == 0 || n <= 0 {
		return []models.MMergedTrade{}
	}

	count := n
	if n > rb.size {
		count = rb.size
	}

	result := make([]models.MMergedTrade, count)

	// Latest record sits at index-1
	startIdx := (rb.index - count + rb.capacity) % rb.capacity

	for i := 0; i < count; i++ {
		result[i] = rb.data[(startIdx+i)%rb.capacity]
	}

	return result
}

// -----------------------------------------------------------------------------

// GetAll returns all records in insertion order (oldest to newest)
func (rb *RingBuffer) GetAll() []models.MMergedTrade {
	if rb.size == 0 {
		return []models.MMergedTrade{}
	}

	result := make([]models.MMergedTrade, rb.size)

	// Oldest element: at the write index when full, otherwise at 0
	var startIdx int
	if rb.size == rb.capacity {
		startIdx = rb.index
	} else {
		startIdx = 0
	}

	for i := 0; i < rb.size; i++ {
		result[i] = rb.data[(startIdx+i)%rb.capacity]
	}

	return result
}

// -----------------------------------------------------------------------------

// PruneOlderThan drops records whose last trade predates cutoffMs, compacting
// the survivors in insertion order
func (rb *RingBuffer) PruneOlderThan(cutoffMs int64) int {
	if rb.size == 0 {
		return 0
	}

	kept := make([]models.MMergedTrade, 0, rb.size)
	for _, record := range rb.GetAll() {
		if record.LastTimestampMs >= cutoffMs {
			kept = append(kept, record)
		}
	}

	dropped := rb.size - len(kept)
	if dropped == 0 {
		return 0
	}

	newData := make([]models.MMergedTrade, rb.capacity)
	copy(newData, kept)
	rb.data = newData
	rb.size = len(kept)
	rb.index = len(kept) % rb.capacity
	return dropped
}

// -----------------------------------------------------------------------------

// Size returns current number of elements
func (rb *RingBuffer) Size() int {
	return rb.size
}

// -----------------------------------------------------------------------------

// Capacity returns buffer capacity (fixed)
func (rb *RingBuffer) Capacity() int {
	return rb.capacity
}

// -----------------------------------------------------------------------------

// Resize changes the capacity of the buffer
// If newCapacity < size, oldest data is dropped
func (rb *RingBuffer) Resize(newCapacity int) {
	if newCapacity <= 0 || newCapacity == rb.capacity {
		return
	}

	count := rb.size
	if count > newCapacity {
		count = newCapacity
	}

	// Keep the newest 'count' records
	startIdx := (rb.index - count + rb.capacity) % rb.capacity

	newData := make([]models.MMergedTrade, newCapacity)
	for i := 0; i < count; i++ {
		newData[i] = rb.data[(startIdx+i)%rb.capacity]
	}

	rb.data = newData
	rb.capacity = newCapacity
	rb.size = count
	rb.index = count % newCapacity
}

// -----------------------------------------------------------------------------

// IsFull returns whether buffer is full
func (rb *RingBuffer) IsFull() bool {
	return rb.size == rb.capacity
}

// -----------------------------------------------------------------------------

// Clear resets the buffer
func (rb *RingBuffer) Clear() {
	rb.index = 0
	rb.size = 0
}
