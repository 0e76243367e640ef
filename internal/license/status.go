package license

import (
	"math"
	"time"
)

const day = 24 * time.Hour

// Report is the status summary served for a single license.
type Report struct {
	Status        Status `json:"status"`
	RemainingDays int    `json:"remainingDays"`
	Expired       bool   `json:"expired"`
}

// ExpiredAt reports whether l has expired at now. The expiry instant itself
// counts as expired.
func ExpiredAt(l *License, now time.Time) bool {
	return !now.Before(l.ExpiresAt)
}

// StatusAt derives the lifecycle status of l at now. The stored Status field
// is ignored.
func StatusAt(l *License, now time.Time) Status {
	switch {
	case l.Revoked:
		return StatusRevoked
	case ExpiredAt(l, now):
		return StatusExpired
	case len(l.Activations) > 0:
		return StatusActive
	case l.EverActivated:
		return StatusInactive
	default:
		return StatusPending
	}
}

// RemainingDays returns the whole days left before expiry, rounded up and
// never negative.
func RemainingDays(l *License, now time.Time) int {
	left := l.ExpiresAt.Sub(now)
	if left <= 0 {
		return 0
	}
	return int(math.Ceil(float64(left) / float64(day)))
}

// ReportAt computes the status summary of l at now.
func ReportAt(l *License, now time.Time) Report {
	return Report{
		Status:        StatusAt(l, now),
		RemainingDays: RemainingDays(l, now),
		Expired:       ExpiredAt(l, now),
	}
}

// Resolve returns a deep copy of l with the derived fields computed at now.
func (l License) Resolve(now time.Time) License {
	out := l.Clone()
	out.Status = StatusAt(&out, now)
	out.RemainingDays = RemainingDays(&out, now)
	return out
}
