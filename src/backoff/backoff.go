package backoff

import (
	"time"

	"upbit-observer/src/models"
)

// -----------------------------------------------------------------------------
// Backoff Policy
//
// Pure delay computation shared by the request gateway and the subscription
// client. The policy owns no state: attempt and failure-streak counters are
// passed in by the caller, and the jitter unit comes from the caller's RNG so
// the function stays deterministic under test.
// -----------------------------------------------------------------------------

const (
	// JitterBand is the fraction of the capped delay used as the jitter span.
	JitterBand = 0.20

	// StreakPenaltyStep grows the jitter per consecutive failure.
	StreakPenaltyStep = 0.1

	// StreakPenaltyCeiling saturates the failure-streak penalty.
	StreakPenaltyCeiling = 1.5

	// StreakCooldown is how long failures must be absent before callers
	// reset their streak counter to zero.
	StreakCooldown = 5 * time.Minute
)

// -----------------------------------------------------------------------------

// ComputeDelay returns the wait before retry number `attempt` (zero-based).
//
// The base delay grows exponentially (base * 2^attempt) and is capped at
// maxDelay. A jitter band of +/-20% of the capped value is applied, scaled by
// a link-quality multiplier and a failure-streak penalty. jitterUnit must be
// in [-1, 1]; callers draw it from their own RNG. The result is never
// negative and never exceeds maxDelay plus the scaled band.
func ComputeDelay(attempt int, baseDelay, maxDelay time.Duration, quality models.LinkQuality, failureStreak int, jitterUnit float64) time.Duration {
	capped := baseForAttempt(attempt, baseDelay, maxDelay)

	if jitterUnit > 1 {
		jitterUnit = 1
	} else if jitterUnit < -1 {
		jitterUnit = -1
	}

	band := float64(capped) * JitterBand * QualityMultiplier(quality) * StreakPenalty(failureStreak)
	delay := time.Duration(float64(capped) + jitterUnit*band)

	if delay < 0 {
		return 0
	}
	return delay
}

// -----------------------------------------------------------------------------

// baseForAttempt computes the un-jittered exponential delay, capped.
func baseForAttempt(attempt int, baseDelay, maxDelay time.Duration) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	if baseDelay <= 0 {
		return 0
	}

	delay := baseDelay
	for i := 0; i < attempt; i++ {
		delay *= 2
		if delay >= maxDelay || delay < 0 {
			return maxDelay
		}
	}
	if delay > maxDelay {
		return maxDelay
	}
	return delay
}

// -----------------------------------------------------------------------------

// QualityMultiplier scales the jitter band by the coarse link-quality probe:
// a fast link keeps jitter tight, no link spreads retries wide apart.
func QualityMultiplier(quality models.LinkQuality) float64 {
	switch quality {
	case models.LinkFast:
		return 0.7
	case models.LinkSlow:
		return 1.2
	default:
		return 2.0
	}
}

// -----------------------------------------------------------------------------

// StreakPenalty grows with consecutive failures and saturates at the ceiling.
// Callers reset the streak after StreakCooldown without failures.
func StreakPenalty(failureStreak int) float64 {
	if failureStreak < 0 {
		failureStreak = 0
	}
	penalty := 1.0 + StreakPenaltyStep*float64(failureStreak)
	if penalty > StreakPenaltyCeiling {
		return StreakPenaltyCeiling
	}
	return penalty
}
