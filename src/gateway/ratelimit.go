package gateway

import (
	"strconv"
	"strings"
	"time"

	"upbit-observer/src/models"
)

// -----------------------------------------------------------------------------
// Rate Limit Group State
//
// Each group tracks a local sliding-window call counter bounded by its
// statically configured ceiling, plus the most recent server-advertised
// remaining quota. The gateway is the single writer; access is serialized by
// the gateway's mutex.
// -----------------------------------------------------------------------------

type groupState struct {
	name          string
	staticCeiling int
	effective     int
	period        time.Duration

	// recent call timestamps, oldest first, pruned to the sliding window
	calls []time.Time

	serverRemaining  *int
	serverWindow     time.Duration
	lastServerUpdate time.Time
}

// -----------------------------------------------------------------------------

func newGroupState(cfg models.MRateLimitGroup) *groupState {
	return &groupState{
		name:          cfg.Name,
		staticCeiling: cfg.MaxPerPeriod,
		effective:     cfg.MaxPerPeriod,
		period:        time.Duration(cfg.PeriodSeconds) * time.Second,
	}
}

// -----------------------------------------------------------------------------

// prune drops call timestamps that have aged out of the sliding window.
func (g *groupState) prune(now time.Time) {
	cutoff := now.Add(-g.period)
	i := 0
	for i < len(g.calls) && !g.calls[i].After(cutoff) {
		i++
	}
	if i > 0 {
		g.calls = g.calls[i:]
	}
}

// -----------------------------------------------------------------------------

// waitTime returns how long the caller must wait before the next send.
// The tighter of the two constraints wins: if the server says the remaining
// quota is at or below the low-water mark and its window has not elapsed,
// wait out that window; otherwise fall back to the local sliding window.
func (g *groupState) waitTime(now time.Time, lowWater int) time.Duration {
	if g.serverRemaining != nil && *g.serverRemaining <= lowWater {
		windowEnd := g.lastServerUpdate.Add(g.serverWindow)
		if now.Before(windowEnd) {
			return windowEnd.Sub(now)
		}
	}

	g.prune(now)
	if len(g.calls) < g.effective {
		return 0
	}

	// Wait until the oldest call that still counts ages out.
	oldest := g.calls[len(g.calls)-g.effective]
	return oldest.Add(g.period).Sub(now)
}

// -----------------------------------------------------------------------------

// record registers a sent call in the sliding window.
func (g *groupState) record(now time.Time) {
	g.prune(now)
	g.calls = append(g.calls, now)
}

// -----------------------------------------------------------------------------

// applyFeedback folds a parsed Remaining-Req header into the group state.
// When the advertised remaining quota (scaled to the local period) implies a
// tighter rate than the effective ceiling, the ceiling is lowered by the
// safety factor. It is never raised above the static ceiling and never
// relaxed within a session.
func (g *groupState) applyFeedback(q models.MRemainingQuota, safetyFactor float64) {
	remaining := q.Remaining
	g.serverRemaining = &remaining
	g.serverWindow = q.Window
	g.lastServerUpdate = q.At

	implied := float64(remaining)
	if q.Window > 0 && q.Window != g.period {
		implied = implied * float64(g.period) / float64(q.Window)
	}

	if int(implied) < g.effective {
		tightened := int(implied * safetyFactor)
		if tightened < 1 {
			tightened = 1
		}
		if tightened < g.effective {
			g.effective = tightened
		}
	}
}

// -----------------------------------------------------------------------------

// debug copies the group state for the observability endpoint.
func (g *groupState) debug(now time.Time) models.MRateLimitDebug {
	g.prune(now)
	d := models.MRateLimitDebug{
		Group:            g.name,
		StaticCeiling:    g.staticCeiling,
		EffectiveCeiling: g.effective,
		PeriodMs:         g.period.Milliseconds(),
		CallsInWindow:    len(g.calls),
	}
	if g.serverRemaining != nil {
		remaining := *g.serverRemaining
		windowMs := g.serverWindow.Milliseconds()
		updated := g.lastServerUpdate
		d.ServerRemaining = &remaining
		d.ServerWindowMs = &windowMs
		d.LastServerUpdate = &updated
	}
	return d
}

// -----------------------------------------------------------------------------
// Remaining-Req Header Parsing
// -----------------------------------------------------------------------------

// ParseRemainingQuota parses the server's rate-limit feedback header:
//
//	Remaining-Req: group=order; min=2; sec=1
//
// Unknown keys are ignored. Returns (quota, true) only when group, min and
// sec are all present and well-formed; callers must handle the absent case
// explicitly instead of assuming defaults.
func ParseRemainingQuota(header string, now time.Time) (models.MRemainingQuota, bool) {
	if header == "" {
		return models.MRemainingQuota{}, false
	}

	var (
		group      string
		remaining  = -1
		windowSecs = -1
	)

	for _, part := range strings.Split(header, ";") {
		kv := strings.SplitN(strings.TrimSpace(part), "=", 2)
		if len(kv) != 2 {
			continue
		}
		key := strings.TrimSpace(kv[0])
		value := strings.TrimSpace(kv[1])

		switch key {
		case "group":
			group = value
		case "min":
			if n, err := strconv.Atoi(value); err == nil && n >= 0 {
				remaining = n
			}
		case "sec":
			if n, err := strconv.Atoi(value); err == nil && n > 0 {
				windowSecs = n
			}
		}
	}

	if group == "" || remaining < 0 || windowSecs < 0 {
		return models.MRemainingQuota{}, false
	}

	return models.MRemainingQuota{
		Group:     group,
		Remaining: remaining,
		Window:    time.Duration(windowSecs) * time.Second,
		At:        now,
	}, true
}
