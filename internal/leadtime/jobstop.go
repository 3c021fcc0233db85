package leadtime

import (
	"fmt"
	"time"
)

// StopType names a category of non-productive waiting during service.
type StopType string

const (
	StopAwaitConfirmation StopType = "await_confirmation"
	StopAwaitPart1        StopType = "await_part_1"
	StopAwaitPart2        StopType = "await_part_2"
	StopBreak             StopType = "break"
	StopAwaitSublet       StopType = "await_sublet"
	StopOther             StopType = "other"
)

// StopTypes lists every stop type in display order.
var StopTypes = []StopType{
	StopAwaitConfirmation,
	StopAwaitPart1,
	StopAwaitPart2,
	StopBreak,
	StopAwaitSublet,
	StopOther,
}

// deductedStops are subtracted from gross service time. StopOther is tracked
// and reported but never deducted.
var deductedStops = []StopType{
	StopAwaitConfirmation,
	StopAwaitPart1,
	StopAwaitPart2,
	StopAwaitSublet,
	StopBreak,
}

func ParseStopType(s string) (StopType, error) {
	for _, t := range StopTypes {
		if string(t) == s {
			return t, nil
		}
	}
	return "", fmt.Errorf("unknown job stop type %q", s)
}

// Pair is one start/end interval. A pair with a start and no end is active.
type Pair struct {
	Start *time.Time `json:"start,omitempty"`
	End   *time.Time `json:"end,omitempty"`
}

func (p Pair) Active() bool {
	return p.Start != nil && p.End == nil
}

func (p Pair) Complete() bool {
	return p.Start != nil && p.End != nil
}

// JobStops holds at most one interval per stop type.
type JobStops struct {
	AwaitConfirmation Pair `json:"await_confirmation"`
	AwaitPart1        Pair `json:"await_part_1"`
	AwaitPart2        Pair `json:"await_part_2"`
	Break             Pair `json:"break"`
	AwaitSublet       Pair `json:"await_sublet"`
	Other             Pair `json:"other"`
}

func (j *JobStops) slot(t StopType) *Pair {
	switch t {
	case StopAwaitConfirmation:
		return &j.AwaitConfirmation
	case StopAwaitPart1:
		return &j.AwaitPart1
	case StopAwaitPart2:
		return &j.AwaitPart2
	case StopBreak:
		return &j.Break
	case StopAwaitSublet:
		return &j.AwaitSublet
	case StopOther:
		return &j.Other
	}
	return nil
}

// Get returns the pair for t; unknown types yield an empty pair.
func (j JobStops) Get(t StopType) Pair {
	if p := j.slot(t); p != nil {
		return *p
	}
	return Pair{}
}

func (j *JobStops) Set(t StopType, p Pair) {
	if slot := j.slot(t); slot != nil {
		*slot = p
	}
}

// Duration is the wall-clock duration of a completed pair. Active or empty
// pairs contribute nothing.
func (j JobStops) Duration(t StopType) time.Duration {
	p := j.Get(t)
	return Interval(p.Start, p.End)
}

// ActiveCount counts the stops currently open across all types.
func (j JobStops) ActiveCount() int {
	n := 0
	for _, t := range StopTypes {
		if j.Get(t).Active() {
			n++
		}
	}
	return n
}
