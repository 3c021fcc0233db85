package leadtime

import (
	"sort"
	"time"
)

// Period is one attendance span of a mechanic. A nil End means still checked in.
type Period struct {
	Start time.Time
	End   *time.Time
}

// ProductiveHours is the working time a mechanic was present during the
// service window. Attendance is clipped to the window, overlapping spans are
// merged, and each merged span is measured against opening hours.
func (s Schedule) ProductiveHours(serviceStart, serviceEnd time.Time, periods []Period) float64 {
	if !serviceEnd.After(serviceStart) {
		return 0
	}

	type span struct{ from, to time.Time }
	clipped := make([]span, 0, len(periods))
	for _, p := range periods {
		end := serviceEnd
		if p.End != nil {
			end = *p.End
		}
		from := latest(p.Start, serviceStart)
		to := earliest(end, serviceEnd)
		if to.After(from) {
			clipped = append(clipped, span{from: from, to: to})
		}
	}
	if len(clipped) == 0 {
		return 0
	}

	sort.Slice(clipped, func(i, j int) bool { return clipped[i].from.Before(clipped[j].from) })

	merged := []span{clipped[0]}
	for _, sp := range clipped[1:] {
		last := &merged[len(merged)-1]
		if !sp.from.After(last.to) {
			last.to = latest(last.to, sp.to)
			continue
		}
		merged = append(merged, sp)
	}

	var total time.Duration
	for _, sp := range merged {
		from, to := sp.from, sp.to
		total += s.EffectiveDuration(&from, &to, true)
	}
	return Hours(total)
}
