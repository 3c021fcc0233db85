package leadtime

import "sort"

// Standard keys for the measured waiting segments.
const (
	StandardReceptionWait     = "reception_wait"
	StandardReception         = "reception"
	StandardPreServiceWait    = "pre_service_wait"
	StandardAwaitConfirmation = "await_confirmation"
	StandardAwaitPart1        = "await_part_1"
	StandardAwaitPart2        = "await_part_2"
)

// Standards maps a segment key to its allowed duration in minutes.
type Standards map[string]float64

func DefaultStandards() Standards {
	return Standards{
		StandardReceptionWait:     15,
		StandardReception:         15,
		StandardPreServiceWait:    15,
		StandardAwaitConfirmation: 40,
		StandardAwaitPart1:        45,
		StandardAwaitPart2:        45,
	}
}

// Keys returns the standard keys in a stable order.
func (s Standards) Keys() []string {
	keys := make([]string, 0, len(s))
	for k := range s {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

type Compliance struct {
	Key             string  `json:"key"`
	StandardMinutes float64 `json:"standard_minutes"`
	ActualMinutes   float64 `json:"actual_minutes"`
	Exceeded        bool    `json:"exceeded"`
	ExceededBy      float64 `json:"exceeded_by_minutes"`
}

// Classify compares a measured duration against the standard for key.
// ok is false when no standard is configured for key.
func (s Standards) Classify(key string, minutes float64) (Compliance, bool) {
	limit, ok := s[key]
	if !ok {
		return Compliance{}, false
	}
	c := Compliance{
		Key:             key,
		StandardMinutes: limit,
		ActualMinutes:   minutes,
	}
	if minutes > limit {
		c.Exceeded = true
		c.ExceededBy = minutes - limit
	}
	return c, true
}

// Measured returns the minutes of each standardised segment that has been
// measured for an order. Segments not yet reached are left out.
func Measured(ts Timestamps, l LeadTimes) map[string]float64 {
	out := make(map[string]float64, 6)
	if ts.Arrival != nil && ts.ReceptionStart != nil {
		out[StandardReceptionWait] = l.ReceptionWait * 60
	}
	if ts.ReceptionStart != nil && ts.DocumentPrinted != nil {
		out[StandardReception] = l.ReceptionProcessing * 60
	}
	if ts.DocumentPrinted != nil && ts.ServiceStart != nil {
		out[StandardPreServiceWait] = l.PreServiceWait * 60
	}
	if ts.Stops.AwaitConfirmation.Complete() {
		out[StandardAwaitConfirmation] = l.AwaitConfirmation * 60
	}
	if ts.Stops.AwaitPart1.Complete() {
		out[StandardAwaitPart1] = l.AwaitPart1 * 60
	}
	if ts.Stops.AwaitPart2.Complete() {
		out[StandardAwaitPart2] = l.AwaitPart2 * 60
	}
	return out
}

// Evaluate classifies every measured segment of an order.
func (s Standards) Evaluate(ts Timestamps, l LeadTimes) []Compliance {
	measured := Measured(ts, l)
	out := make([]Compliance, 0, len(measured))
	for _, key := range s.Keys() {
		minutes, ok := measured[key]
		if !ok {
			continue
		}
		c, _ := s.Classify(key, minutes)
		out = append(out, c)
	}
	return out
}
