package interfaces

import (
	"context"

	"upbit-observer/src/models"
)

// -----------------------------------------------------------------------------
// ITradeFeed interface for the live trade subscription stream.
// -----------------------------------------------------------------------------

type ITradeFeed interface {

	// -----------------------------------------------------------------------------

	// Connect validates the symbol set against the protocol ceiling and
	// starts the background connect/reconnect loop.
	Connect(ctx context.Context, symbols []string) error

	// -----------------------------------------------------------------------------

	// Stream returns the decoded trade stream. Lazy, infinite, closed only
	// on dispose.
	Stream() <-chan models.MTrade

	// -----------------------------------------------------------------------------

	// StatusChanges returns connection transition notifications.
	StatusChanges() <-chan models.MStatusChange

	// -----------------------------------------------------------------------------

	// Dispose stops the feed. The only way to reach the terminal
	// disconnected state.
	Dispose()
}
