package vesting

import (
	"time"

	"fractions-backend/internal/domain"
)

const (
	// CliffPercent of the grant releases at the cliff date.
	CliffPercent = 25
	// LinearPeriods is the number of monthly entries without a cliff.
	LinearPeriods = 12
)

// addMonths adds n calendar months, clamping to the last day of the target
// month so Jan 31 + 1 month is Feb 28/29 rather than early March.
func addMonths(t time.Time, n int) time.Time {
	y, m, d := t.Date()
	first := time.Date(y, m+time.Month(n), 1, t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), t.Location())
	last := first.AddDate(0, 1, -1).Day()
	if d > last {
		d = last
	}
	return time.Date(first.Year(), first.Month(), d, t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), t.Location())
}

// split divides amount into n parts, adding the remainder to the last part.
func split(amount int64, n int) []int64 {
	parts := make([]int64, n)
	each := amount / int64(n)
	for i := range parts {
		parts[i] = each
	}
	parts[n-1] += amount - each*int64(n)
	return parts
}

// GenerateSchedule builds the release entries of a grant.
//
// With a cliff, 25% releases at the cliff and the rest is split over one entry
// per whole month after the cliff up to end (a single entry dated end when no
// whole month fits). Without a cliff, the grant is split over 12 monthly
// entries after start. Rounding remainders go to the final entry, so the sum
// always equals total.
func GenerateSchedule(total int64, start, end time.Time, cliff *time.Time) ([]domain.ReleaseEntry, error) {
	if total <= 0 {
		return nil, domain.Wrap(domain.ErrInvalidSchedule, "total amount must be positive")
	}
	if start.IsZero() || !end.After(start) {
		return nil, domain.Wrap(domain.ErrInvalidSchedule, "end date must be after start date")
	}
	if cliff == nil {
		entries := make([]domain.ReleaseEntry, 0, LinearPeriods)
		for i, amt := range split(total, LinearPeriods) {
			entries = append(entries, domain.ReleaseEntry{Seq: i + 1, Date: addMonths(start, i+1), Amount: amt})
		}
		return entries, nil
	}

	c := *cliff
	if c.Before(start) || c.After(end) {
		return nil, domain.Wrap(domain.ErrInvalidSchedule, "cliff date must be within [start, end]")
	}
	cliffAmount := total * CliffPercent / 100
	rest := total - cliffAmount

	var dates []time.Time
	for k := 1; ; k++ {
		d := addMonths(c, k)
		if d.After(end) {
			break
		}
		dates = append(dates, d)
	}
	if len(dates) == 0 {
		dates = []time.Time{end}
	}

	entries := make([]domain.ReleaseEntry, 0, len(dates)+1)
	entries = append(entries, domain.ReleaseEntry{Seq: 0, Date: c, Amount: cliffAmount})
	for i, amt := range split(rest, len(dates)) {
		entries = append(entries, domain.ReleaseEntry{Seq: i + 1, Date: dates[i], Amount: amt})
	}
	return entries, nil
}

// Claimable sums matured, unreleased entries.
func Claimable(entries []domain.ReleaseEntry, now time.Time) int64 {
	var sum int64
	for _, e := range entries {
		if !e.Released && !e.Date.After(now) {
			sum += e.Amount
		}
	}
	return sum
}

// liveStatus derives the non-administrative status of a schedule.
func liveStatus(v *domain.VestingSchedule, now time.Time) domain.VestingStatus {
	switch {
	case v.ClaimedAmount >= v.TotalAmount:
		return domain.VestingCompleted
	case now.Before(v.StartDate):
		return domain.VestingNotStarted
	default:
		return domain.VestingActive
	}
}
