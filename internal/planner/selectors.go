package planner

import (
	"math"
	"time"
)

// Bedtime window: a deadline is meaningful only in the evening.
const (
	earliestBedtime = 14 * 60
	latestBedtime   = 23*60 + 59
)

// ParseClock parses a strict "HH:MM" string into minutes after midnight.
func ParseClock(s string) (int, bool) {
	if len(s) != 5 || s[2] != ':' {
		return 0, false
	}
	for _, i := range []int{0, 1, 3, 4} {
		if s[i] < '0' || s[i] > '9' {
			return 0, false
		}
	}
	hh := int(s[0]-'0')*10 + int(s[1]-'0')
	mm := int(s[3]-'0')*10 + int(s[4]-'0')
	if hh > 23 || mm > 59 {
		return 0, false
	}
	return hh*60 + mm, true
}

// BedtimeMinutes returns the bedtime as minutes after midnight when it lies
// strictly between 14:00 and 23:59.
func BedtimeMinutes(bedtime string) (int, bool) {
	mins, ok := ParseClock(bedtime)
	if !ok || mins <= earliestBedtime || mins >= latestBedtime {
		return 0, false
	}
	return mins, true
}

// Sums aggregates the plan. Done tasks contribute their actual minutes
// (absent counts as zero); open tasks contribute their planned minutes, which
// is also the remaining work.
type Sums struct {
	PlannedNotDoneMin int
	ActualDoneMin     int
	TotalWorkMin      int
}

// Summarize computes Sums over tasks.
func Summarize(tasks []Task) Sums {
	var s Sums
	for _, t := range tasks {
		if t.Done {
			if t.ActualMin != nil {
				s.ActualDoneMin += *t.ActualMin
			}
			continue
		}
		s.PlannedNotDoneMin += t.PlannedMin
	}
	s.TotalWorkMin = s.PlannedNotDoneMin
	return s
}

// BedtimeAt places bedMinutes on the calendar day of now, in now's location.
func BedtimeAt(bedMinutes int, now time.Time) time.Time {
	y, m, d := now.Date()
	return time.Date(y, m, d, bedMinutes/60, bedMinutes%60, 0, 0, now.Location())
}

// TimeUntilBed is negative once bedtime has passed.
func TimeUntilBed(bedMinutes int, now time.Time) time.Duration {
	return BedtimeAt(bedMinutes, now).Sub(now)
}

// Buffer is the slack left after the remaining work is done.
func Buffer(untilBed time.Duration, totalWorkMin int) time.Duration {
	return untilBed - time.Duration(totalWorkMin)*time.Minute
}

// CompletionAt estimates when the remaining work ends if started now.
func CompletionAt(now time.Time, totalWorkMin int) time.Time {
	return now.Add(time.Duration(totalWorkMin) * time.Minute)
}

// Progress is the share of the time left before bed that the remaining work
// occupies, as a whole percentage clamped to [0, 150].
func Progress(untilBed time.Duration, totalWorkMin int) int {
	denom := float64(untilBed.Milliseconds())
	if denom < 1 {
		denom = 1
	}
	busy := float64(totalWorkMin) * msPerMinute / denom
	busy = math.Max(0, math.Min(1.5, busy))
	return int(math.Round(busy * 100))
}

// HasDoneWithoutActual reports a finished task missing its actual minutes.
// Reachable states never contain one; documents from other writers might.
func HasDoneWithoutActual(tasks []Task) bool {
	for _, t := range tasks {
		if t.Done && t.ActualMin == nil {
			return true
		}
	}
	return false
}
