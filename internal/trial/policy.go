// Package trial computes trial cutoffs, effective expiries and level fees from
// the admin-configured policy. Everything here is pure; callers supply the
// current settings.
package trial

import (
	"time"

	"github.com/memberhub/backend/internal/domain"
)

const (
	// anchorHour pins fixed calendar cutoffs to midday UTC so the date does not
	// drift across client timezones.
	anchorHour = 12

	minMonths = 1
	maxMonths = 60
)

// Cutoff returns the date before which a member of the given policy owes no
// payment, or nil when the policy grants no trial.
func Cutoff(cfg domain.TrialConfig, createdAt time.Time) *time.Time {
	switch cfg.Type {
	case domain.TrialFixedDate:
		return fixedDateCutoff(cfg.Month, cfg.Day, createdAt)
	case domain.TrialDurationMonths:
		t := AddMonths(createdAt, ClampMonths(cfg.Months))
		return &t
	default:
		return nil
	}
}

// EffectiveExpiry returns the trial cutoff when the billing period starts
// before it, otherwise the provider's period end.
func EffectiveExpiry(cfg domain.TrialConfig, createdAt, periodStart, periodEnd time.Time) time.Time {
	if cutoff := Cutoff(cfg, createdAt); cutoff != nil && periodStart.Before(*cutoff) {
		return *cutoff
	}
	return periodEnd
}

// Fee returns the annual fee for level, falling back to the built-in default
// when the schedule has no usable entry.
func Fee(schedule domain.FeeSchedule, level domain.Level) float64 {
	if v, ok := schedule[level]; ok && v >= 0 {
		return v
	}
	return domain.DefaultFees()[level]
}

// ClampMonths bounds a trial duration to [1, 60] months.
func ClampMonths(n int) int {
	if n < minMonths {
		return minMonths
	}
	if n > maxMonths {
		return maxMonths
	}
	return n
}

// AddMonths adds n calendar months to t, clamping the day to the length of
// the target month (Jan 31 + 1 month = Feb 28/29) and keeping the wall clock.
func AddMonths(t time.Time, n int) time.Time {
	y, m, d := t.Date()
	first := time.Date(y, m+time.Month(n), 1, 0, 0, 0, 0, t.Location())
	if last := daysIn(first.Year(), first.Month()); d > last {
		d = last
	}
	return time.Date(first.Year(), first.Month(), d, t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), t.Location())
}

func fixedDateCutoff(month, day int, createdAt time.Time) *time.Time {
	if month < 1 || month > 12 || day < 1 {
		return nil
	}
	created := createdAt.UTC()
	cutoff := anchoredDate(created.Year(), time.Month(month), day)
	if !cutoff.After(created) {
		cutoff = anchoredDate(created.Year()+1, time.Month(month), day)
	}
	return &cutoff
}

func anchoredDate(year int, month time.Month, day int) time.Time {
	if last := daysIn(year, month); day > last {
		day = last
	}
	return time.Date(year, month, day, anchorHour, 0, 0, 0, time.UTC)
}

func daysIn(year int, month time.Month) int {
	return time.Date(year, month+1, 0, 0, 0, 0, 0, time.UTC).Day()
}
