package models

import "time"

// -----------------------------------------------------------------------------
// Subscription Connection State (Matches the client lifecycle exactly)
// -----------------------------------------------------------------------------

type ConnectionStatus string

const (
	StatusDisconnected ConnectionStatus = "DISCONNECTED"
	StatusConnecting   ConnectionStatus = "CONNECTING"
	StatusConnected    ConnectionStatus = "CONNECTED"
	StatusBackoff      ConnectionStatus = "BACKOFF"
)

// -----------------------------------------------------------------------------

// MStatusChange notifies external collaborators of a connection transition.
type MStatusChange struct {
	Status              ConnectionStatus `json:"status"`
	ConsecutiveFailures int              `json:"consecutive_failures"`
	SubscribedSymbols   int              `json:"subscribed_symbols"`
	At                  time.Time        `json:"at"`
}

// -----------------------------------------------------------------------------
// Link quality signal consumed by the backoff policy.
// -----------------------------------------------------------------------------

type LinkQuality int

const (
	LinkFast LinkQuality = iota
	LinkSlow
	LinkNone
)
