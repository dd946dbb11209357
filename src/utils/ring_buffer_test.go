package utils

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"upbit-observer/src/models"
)

// -----------------------------------------------------------------------------

func record(i int) models.MMergedTrade {
	return models.MMergedTrade{
		Symbol:          fmt.Sprintf("KRW-%03d", i),
		TotalVolume:     float64(i),
		LastTimestampMs: int64(i) * 1000,
	}
}

// -----------------------------------------------------------------------------

func TestAppendWrapsAroundAtCapacity(t *testing.T) {
	rb := NewRingBuffer(3)

	for i := 1; i <= 5; i++ {
		rb.Append(record(i))
	}

	assert.Equal(t, 3, rb.Size())
	assert.True(t, rb.IsFull())

	all := rb.GetAll()
	require.Len(t, all, 3)
	assert.Equal(t, "KRW-003", all[0].Symbol)
	assert.Equal(t, "KRW-005", all[2].Symbol)
}

// -----------------------------------------------------------------------------

func TestGetLatestReturnsNewestOldestFirst(t *testing.T) {
	rb := NewRingBuffer(10)
	for i := 1; i <= 4; i++ {
		rb.Append(record(i))
	}

	latest := rb.GetLatest(2)
	require.Len(t, latest, 2)
	assert.Equal(t, "KRW-003", latest[0].Symbol)
	assert.Equal(t, "KRW-004", latest[1].Symbol)

	// Asking beyond size returns everything.
	assert.Len(t, rb.GetLatest(100), 4)
	assert.Empty(t, rb.GetLatest(0))
}

// -----------------------------------------------------------------------------

func TestPruneOlderThanCompactsSurvivors(t *testing.T) {
	rb := NewRingBuffer(5)
	for i := 1; i <= 5; i++ {
		rb.Append(record(i))
	}

	dropped := rb.PruneOlderThan(3000)
	assert.Equal(t, 2, dropped)
	assert.Equal(t, 3, rb.Size())

	all := rb.GetAll()
	require.Len(t, all, 3)
	assert.Equal(t, "KRW-003", all[0].Symbol)
	assert.Equal(t, "KRW-005", all[2].Symbol)

	// Appending after a prune keeps insertion order intact.
	rb.Append(record(6))
	all = rb.GetAll()
	assert.Equal(t, "KRW-006", all[len(all)-1].Symbol)
}

// -----------------------------------------------------------------------------

func TestResizePreservesNewest(t *testing.T) {
	rb := NewRingBuffer(5)
	for i := 1; i <= 5; i++ {
		rb.Append(record(i))
	}

	rb.Resize(2)
	assert.Equal(t, 2, rb.Capacity())

	all := rb.GetAll()
	require.Len(t, all, 2)
	assert.Equal(t, "KRW-004", all[0].Symbol)
	assert.Equal(t, "KRW-005", all[1].Symbol)
}

// -----------------------------------------------------------------------------

func TestClearResetsWithoutReallocation(t *testing.T) {
	rb := NewRingBuffer(3)
	rb.Append(record(1))
	rb.Clear()

	assert.Equal(t, 0, rb.Size())
	assert.Empty(t, rb.GetAll())
	assert.Equal(t, 3, rb.Capacity())
}
