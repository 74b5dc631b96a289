package services

import (
	"time"

	"keycabinet/internal/core/domain"
)

// ComputePenalty maps a return against its due time to lateness and score cut.
// It is pure: the active rules are passed in by the caller. Lateness is
// measured from dueAt; borrowAt does not shift it.
//
//	raw      = max(0, floor((returnAt - dueAt) / 1m))
//	raw <= grace            -> not late, 0
//	lateMinutes = raw - grace
//	intervals = ceil(lateMinutes / interval)
//	penalty   = intervals * scorePerInterval
func ComputePenalty(borrowAt, dueAt, returnAt time.Time, rules domain.PenaltyRules) domain.PenaltyVerdict {
	rules = normalizeRules(rules)

	raw := 0
	if returnAt.After(dueAt) {
		raw = int(returnAt.Sub(dueAt) / time.Minute)
	}

	if raw <= rules.GraceMinutes {
		return domain.PenaltyVerdict{}
	}

	billable := raw - rules.GraceMinutes
	intervals := (billable + rules.IntervalMinutes - 1) / rules.IntervalMinutes
	return domain.PenaltyVerdict{
		LateMinutes:  billable,
		PenaltyScore: intervals * rules.ScorePerInterval,
		IsLate:       true,
	}
}

// OverdueMinutes is the display-only lateness of a booking at now
func OverdueMinutes(dueAt, now time.Time) int {
	if !now.After(dueAt) {
		return 0
	}
	return int(now.Sub(dueAt) / time.Minute)
}

// normalizeRules replaces unusable values with the documented defaults
func normalizeRules(r domain.PenaltyRules) domain.PenaltyRules {
	if r.GraceMinutes < 0 {
		r.GraceMinutes = domain.DefaultGraceMinutes
	}
	if r.IntervalMinutes <= 0 {
		r.IntervalMinutes = domain.DefaultIntervalMinutes
	}
	if r.ScorePerInterval < 0 {
		r.ScorePerInterval = domain.DefaultScorePerInterval
	}
	if r.RestoreDays <= 0 {
		r.RestoreDays = domain.DefaultRestoreDays
	}
	return r
}
