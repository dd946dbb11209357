package models

// -----------------------------------------------------------------------------
// Push / Fan-out Structures
// -----------------------------------------------------------------------------

// Push event types broadcast to websocket listeners.
const (
	EventTrade    = "trade"
	EventSnapshot = "snapshot"
	EventStatus   = "status"
)

// MPushEvent is the envelope sent to websocket consumers.
type MPushEvent struct {
	Type      string      `json:"type"`
	Timestamp int64       `json:"timestamp"`
	Payload   interface{} `json:"payload"`
}

// -----------------------------------------------------------------------------

// MSubscribeCommand is the inbound client message selecting event channels.
// An empty channel list subscribes to everything.
type MSubscribeCommand struct {
	Command  string   `json:"command"`
	Channels []string `json:"channels"`
}
