package models

import "time"

// -----------------------------------------------------------------------------
// Rate Limit Structures
// -----------------------------------------------------------------------------

// MRemainingQuota is the structured result of parsing the server's
// "Remaining-Req" response header. Absence of the header is not an error;
// callers receive (nil, false) and keep using local-only throttling.
type MRemainingQuota struct {
	Group     string        `json:"group"`
	Remaining int           `json:"remaining"`
	Window    time.Duration `json:"window"`
	At        time.Time     `json:"at"`
}

// -----------------------------------------------------------------------------

// MRateLimitDebug is the observability view of one rate-limit group.
type MRateLimitDebug struct {
	Group            string     `json:"group"`
	StaticCeiling    int        `json:"static_ceiling"`
	EffectiveCeiling int        `json:"effective_ceiling"`
	PeriodMs         int64      `json:"period_ms"`
	CallsInWindow    int        `json:"calls_in_window"`
	ServerRemaining  *int       `json:"server_remaining,omitempty"`
	ServerWindowMs   *int64     `json:"server_window_ms,omitempty"`
	LastServerUpdate *time.Time `json:"last_server_update,omitempty"`
}
