package leadtime

import "time"

// Timestamps are the raw workflow facts of a service order. Every value is an
// absolute instant; nil means the step has not happened yet.
type Timestamps struct {
	Arrival         *time.Time `json:"arrival,omitempty"`
	ReceptionStart  *time.Time `json:"reception_start,omitempty"`
	DocumentPrinted *time.Time `json:"document_printed,omitempty"`
	EstimateStart   *time.Time `json:"estimate_start,omitempty"`
	EstimateEnd     *time.Time `json:"estimate_end,omitempty"`
	ServiceStart    *time.Time `json:"service_start,omitempty"`
	ServiceEnd      *time.Time `json:"service_end,omitempty"`
	UnitExit        *time.Time `json:"unit_exit,omitempty"`
	Stops           JobStops   `json:"job_stops"`
}

// LeadTimes are the engine outputs, all expressed in hours.
type LeadTimes struct {
	ReceptionWait       float64 `json:"reception_wait_hours"`
	ReceptionProcessing float64 `json:"reception_hours"`
	PreServiceWait      float64 `json:"pre_service_wait_hours"`
	EstimateDuration    float64 `json:"estimate_hours"`

	AwaitConfirmation float64 `json:"await_confirmation_hours"`
	AwaitPart1        float64 `json:"await_part_1_hours"`
	AwaitPart2        float64 `json:"await_part_2_hours"`
	Break             float64 `json:"break_hours"`
	AwaitSublet       float64 `json:"await_sublet_hours"`
	Other             float64 `json:"other_hours"`
	AutoLunch         float64 `json:"auto_lunch_hours"`
	JobStopTotal      float64 `json:"job_stop_total_hours"`

	TotalLeadTime   float64 `json:"total_lead_time_hours"`
	NetLeadTime     float64 `json:"net_lead_time_hours"`
	OverallLeadTime float64 `json:"overall_lead_time_hours"`
	IsOvernight     bool    `json:"is_overnight"`
}

// StopHours returns the reported hours for a single stop type.
func (l LeadTimes) StopHours(t StopType) float64 {
	switch t {
	case StopAwaitConfirmation:
		return l.AwaitConfirmation
	case StopAwaitPart1:
		return l.AwaitPart1
	case StopAwaitPart2:
		return l.AwaitPart2
	case StopBreak:
		return l.Break
	case StopAwaitSublet:
		return l.AwaitSublet
	case StopOther:
		return l.Other
	}
	return 0
}

// Derived bundles everything recomputed from Timestamps.
type Derived struct {
	LeadTimes
	Progress float64 `json:"progress_percentage"`
	Stage    Stage   `json:"stage"`
}

type Engine struct {
	schedule Schedule
}

func NewEngine(schedule Schedule) *Engine {
	return &Engine{schedule: schedule}
}

func (e *Engine) Schedule() Schedule {
	return e.schedule
}

// Compute derives lead times from timestamps. It is pure: the same input
// always produces the same output and nothing outside the result is touched.
// Reception, pre-service, estimate, per-stop and overall hours are computed
// from whatever timestamps exist; only the service-window outputs (total,
// net, automatic lunch, job-stop total, overnight) stay zero until service
// has both started and ended.
func (e *Engine) Compute(ts Timestamps) LeadTimes {
	var out LeadTimes

	out.ReceptionWait = Hours(Interval(ts.Arrival, ts.ReceptionStart))
	out.ReceptionProcessing = Hours(Interval(ts.ReceptionStart, ts.DocumentPrinted))
	out.PreServiceWait = Hours(Interval(ts.DocumentPrinted, ts.ServiceStart))
	out.EstimateDuration = Hours(Interval(ts.EstimateStart, ts.EstimateEnd))

	out.AwaitConfirmation = Hours(ts.Stops.Duration(StopAwaitConfirmation))
	out.AwaitPart1 = Hours(ts.Stops.Duration(StopAwaitPart1))
	out.AwaitPart2 = Hours(ts.Stops.Duration(StopAwaitPart2))
	out.Break = Hours(ts.Stops.Duration(StopBreak))
	out.AwaitSublet = Hours(ts.Stops.Duration(StopAwaitSublet))
	out.Other = Hours(ts.Stops.Duration(StopOther))

	finish := ts.UnitExit
	if finish == nil {
		finish = ts.ServiceEnd
	}
	out.OverallLeadTime = Hours(Interval(ts.Arrival, finish))

	if ts.ServiceStart == nil || ts.ServiceEnd == nil || !ts.ServiceEnd.After(*ts.ServiceStart) {
		return out
	}
	start, end := *ts.ServiceStart, *ts.ServiceEnd

	total := end.Sub(start)

	var stops time.Duration
	for _, t := range deductedStops {
		stops += ts.Stops.Duration(t)
	}

	var lunch time.Duration
	if !ts.Stops.Break.Complete() {
		lunch = e.schedule.LunchOverlap(start, end)
	}

	net := total - stops - lunch
	if net < 0 {
		net = 0
	}

	out.AutoLunch = Hours(lunch)
	out.JobStopTotal = Hours(stops + lunch)
	out.TotalLeadTime = Hours(total)
	out.NetLeadTime = Hours(net)
	out.IsOvernight = !e.schedule.SameDay(start, end)

	return out
}

// Derive runs the full recomputation: lead times, progress and stage.
func (e *Engine) Derive(category string, ts Timestamps) Derived {
	return Derived{
		LeadTimes: e.Compute(ts),
		Progress:  Progress(ts),
		Stage:     ClassifyStage(category, ts),
	}
}
