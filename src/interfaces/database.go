package interfaces

import "upbit-observer/src/models"

// -----------------------------------------------------------------------------
// IDatabase defines the contract for storage operations.
// -----------------------------------------------------------------------------

type IDatabase interface {

	// -----------------------------------------------------------------------------

	// Initialize sets up the database schema and tables.
	Initialize() error

	// -----------------------------------------------------------------------------

	// SaveMergedTradesBulk inserts a batch of merged trade records.
	SaveMergedTradesBulk(trades []models.MMergedTrade) error

	// -----------------------------------------------------------------------------

	// SaveSnapshot persists one materialized snapshot.
	SaveSnapshot(snapshot models.MSnapshot) error

	// -----------------------------------------------------------------------------

	// CleanupOldData removes data older than the retention policy.
	CleanupOldData() error

	// -----------------------------------------------------------------------------

	// Close the database connection
	Close() error
}
