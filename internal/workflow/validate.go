package workflow

import (
	"fmt"
	"time"

	"github.com/pitcar/leadtime/internal/leadtime"
)

// Validate checks the ordering invariants between stored timestamps.
func Validate(ts leadtime.Timestamps) error {
	if v := violation(ts); v != "" {
		return fmt.Errorf("%w: %s", ErrInvalidTimestamps, v)
	}
	return nil
}

func violation(ts leadtime.Timestamps) string {
	checks := []struct {
		start, end *time.Time
		msg        string
	}{
		{ts.Arrival, ts.ReceptionStart, "reception start is before arrival"},
		{ts.ReceptionStart, ts.DocumentPrinted, "document printed before reception start"},
		{ts.EstimateStart, ts.EstimateEnd, "estimate end is before estimate start"},
		{ts.ServiceStart, ts.ServiceEnd, "service end is before service start"},
		{ts.Arrival, ts.ServiceEnd, "service end is before arrival"},
		{ts.ServiceEnd, ts.UnitExit, "unit exit is before service end"},
		{ts.Arrival, ts.UnitExit, "unit exit is before arrival"},
	}
	for _, c := range checks {
		if c.start != nil && c.end != nil && c.end.Before(*c.start) {
			return c.msg
		}
	}

	for _, t := range leadtime.StopTypes {
		p := ts.Stops.Get(t)
		if p.End == nil {
			continue
		}
		if p.Start == nil {
			return fmt.Sprintf("%s has an end without a start", t)
		}
		if p.End.Before(*p.Start) {
			return fmt.Sprintf("%s ends before it starts", t)
		}
	}
	return ""
}
