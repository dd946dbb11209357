package interfaces

import "context"

// -----------------------------------------------------------------------------
// IRequestGateway defines the contract for rate-limited REST access.
// -----------------------------------------------------------------------------

type IRequestGateway interface {

	// -----------------------------------------------------------------------------

	// Get performs a throttled GET request against an API path with query
	// parameters. Returns the response body as bytes or a typed error.
	Get(ctx context.Context, path string, query map[string]string) ([]byte, error)
}
