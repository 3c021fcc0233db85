package stats

import (
	"fmt"
	"time"

	"github.com/pitcar/leadtime/internal/leadtime"
	"github.com/pitcar/leadtime/internal/storage"
)

const (
	firstHour = 8
	lastHour  = 17

	uncategorized = "uncategorized"
)

// Range is a half-open [Start, End) window of arrivals.
type Range struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// Day returns the calendar day containing t in loc.
func Day(t time.Time, loc *time.Location) Range {
	local := t.In(loc)
	start := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, loc)
	return Range{Start: start, End: start.AddDate(0, 0, 1)}
}

// Month returns the calendar month in loc. month must be 1..12.
func Month(year, month int, loc *time.Location) (Range, error) {
	if month < 1 || month > 12 {
		return Range{}, fmt.Errorf("month must be between 1 and 12, got %d", month)
	}
	start := time.Date(year, time.Month(month), 1, 0, 0, 0, 0, loc)
	return Range{Start: start, End: start.AddDate(0, 1, 0)}, nil
}

// Dates returns the range covering both local dates inclusively.
func Dates(from, to time.Time, loc *time.Location) (Range, error) {
	start := Day(from, loc).Start
	end := Day(to, loc).End
	if !end.After(start) {
		return Range{}, fmt.Errorf("end date %s is before start date %s", to.Format(time.DateOnly), from.Format(time.DateOnly))
	}
	return Range{Start: start, End: end}, nil
}

func (r Range) contains(t *time.Time) bool {
	return t != nil && !t.Before(r.Start) && t.Before(r.End)
}

type StandardStats struct {
	StandardMinutes    float64 `json:"standard_minutes"`
	Total              int     `json:"total_count"`
	Exceeded           int     `json:"exceeded_count"`
	Within             int     `json:"within_count"`
	ExceededPercentage float64 `json:"exceeded_percentage"`
	WithinPercentage   float64 `json:"within_percentage"`
	AvgExceededMinutes float64 `json:"avg_exceeded_minutes"`
	AvgWithinMinutes   float64 `json:"avg_within_minutes"`

	exceededSum float64
	withinSum   float64
}

type StatusBreakdown struct {
	NotStarted int `json:"not_started"`
	InProgress int `json:"in_progress"`
	Completed  int `json:"completed"`
}

type Period struct {
	TotalOrders              int     `json:"total_orders"`
	CompletedOrders          int     `json:"completed_orders"`
	ActiveOrders             int     `json:"active_orders"`
	CompletionRate           float64 `json:"completion_rate"`
	AverageLeadTime          float64 `json:"average_lead_time_hours"`
	AverageNetLeadTime       float64 `json:"average_net_lead_time_hours"`
	AverageCompletionMinutes float64 `json:"average_completion_minutes"`

	ActiveStops          map[leadtime.StopType]int     `json:"active_job_stops"`
	StopMinutes          map[leadtime.StopType]float64 `json:"job_stop_minutes"`
	AverageStopMinutes   map[leadtime.StopType]float64 `json:"average_job_stop_minutes"`
	Standards            map[string]*StandardStats     `json:"standards_analysis"`
	Status               StatusBreakdown               `json:"status_breakdown"`
	Categories           map[string]int                `json:"categories"`
	Subcategories        map[string]int                `json:"subcategories"`
	Stages               map[leadtime.Stage]int        `json:"stages"`
	completedStops       map[leadtime.StopType]int
	completionMinutesSum float64
	completionSamples    int
}

type DayStats struct {
	Date string `json:"date"`
	Period
}

type HourStats struct {
	Hour        string `json:"hour"`
	Starts      int    `json:"starts"`
	Completions int    `json:"completions"`
}

type Dashboard struct {
	Range   Range       `json:"date_range"`
	Overall Period      `json:"overall"`
	Daily   []DayStats  `json:"daily_breakdown"`
	Hourly  []HourStats `json:"hourly_distribution"`
}

// Aggregate builds the dashboard for orders that arrived within r. Orders
// outside the range are ignored, so callers may pass a superset.
func Aggregate(orders []storage.Order, r Range, standards leadtime.Standards, loc *time.Location) Dashboard {
	var inRange []storage.Order
	for _, o := range orders {
		if r.contains(o.Timestamps.Arrival) {
			inRange = append(inRange, o)
		}
	}

	d := Dashboard{
		Range:   r,
		Overall: Summarize(inRange, standards),
		Hourly:  hourly(inRange, loc),
	}

	for day := Day(r.Start, loc); day.Start.Before(r.End); day = Day(day.End, loc) {
		var dayOrders []storage.Order
		for _, o := range inRange {
			if day.contains(o.Timestamps.Arrival) {
				dayOrders = append(dayOrders, o)
			}
		}
		d.Daily = append(d.Daily, DayStats{
			Date:   day.Start.Format(time.DateOnly),
			Period: Summarize(dayOrders, standards),
		})
	}
	return d
}

// Summarize computes period statistics over orders.
func Summarize(orders []storage.Order, standards leadtime.Standards) Period {
	p := newPeriod(standards)
	p.TotalOrders = len(orders)

	var grossSum, netSum float64
	for _, o := range orders {
		ts := o.Timestamps
		started, ended := ts.ServiceStart != nil, ts.ServiceEnd != nil

		switch {
		case ended:
			p.CompletedOrders++
			p.Status.Completed++
			grossSum += o.Derived.TotalLeadTime
			netSum += o.Derived.NetLeadTime
			if minutes := leadtime.Interval(ts.ServiceStart, ts.ServiceEnd).Minutes(); minutes > 0 {
				p.completionMinutesSum += minutes
				p.completionSamples++
			}
		case started:
			p.ActiveOrders++
			p.Status.InProgress++
		default:
			p.Status.NotStarted++
		}

		for _, t := range leadtime.StopTypes {
			pair := ts.Stops.Get(t)
			if pair.Active() {
				p.ActiveStops[t]++
			}
			if minutes := ts.Stops.Duration(t).Minutes(); minutes > 0 {
				p.StopMinutes[t] += minutes
				p.completedStops[t]++
			}
		}

		lt := o.Derived.LeadTimes
		for key, minutes := range leadtime.Measured(ts, lt) {
			if minutes > 0 {
				p.classify(standards, key, minutes)
			}
		}

		p.Categories[categoryKey(string(o.Category))]++
		p.Subcategories[categoryKey(string(o.Subcategory))]++
		p.Stages[o.Derived.Stage]++
	}

	if p.TotalOrders > 0 {
		p.CompletionRate = float64(p.CompletedOrders) / float64(p.TotalOrders) * 100
	}
	if p.CompletedOrders > 0 {
		p.AverageLeadTime = grossSum / float64(p.CompletedOrders)
		p.AverageNetLeadTime = netSum / float64(p.CompletedOrders)
	}
	if p.completionSamples > 0 {
		p.AverageCompletionMinutes = p.completionMinutesSum / float64(p.completionSamples)
	}
	for _, t := range leadtime.StopTypes {
		if n := p.completedStops[t]; n > 0 {
			p.AverageStopMinutes[t] = p.StopMinutes[t] / float64(n)
		}
	}
	for _, s := range p.Standards {
		s.finish()
	}
	return p
}

func newPeriod(standards leadtime.Standards) Period {
	p := Period{
		ActiveStops:        make(map[leadtime.StopType]int, len(leadtime.StopTypes)),
		StopMinutes:        make(map[leadtime.StopType]float64, len(leadtime.StopTypes)),
		AverageStopMinutes: make(map[leadtime.StopType]float64, len(leadtime.StopTypes)),
		Standards:          make(map[string]*StandardStats, len(standards)),
		Categories:         map[string]int{uncategorized: 0},
		Subcategories:      map[string]int{uncategorized: 0},
		Stages:             make(map[leadtime.Stage]int),
		completedStops:     make(map[leadtime.StopType]int, len(leadtime.StopTypes)),
	}
	for _, t := range leadtime.StopTypes {
		p.ActiveStops[t] = 0
		p.StopMinutes[t] = 0
		p.AverageStopMinutes[t] = 0
	}
	for key, limit := range standards {
		p.Standards[key] = &StandardStats{StandardMinutes: limit}
	}
	return p
}

func (p *Period) classify(standards leadtime.Standards, key string, minutes float64) {
	c, ok := standards.Classify(key, minutes)
	if !ok {
		return
	}
	s := p.Standards[key]
	s.Total++
	if c.Exceeded {
		s.Exceeded++
		s.exceededSum += minutes
	} else {
		s.Within++
		s.withinSum += minutes
	}
}

func (s *StandardStats) finish() {
	if s.Total == 0 {
		return
	}
	s.ExceededPercentage = float64(s.Exceeded) / float64(s.Total) * 100
	s.WithinPercentage = float64(s.Within) / float64(s.Total) * 100
	if s.Exceeded > 0 {
		s.AvgExceededMinutes = s.exceededSum / float64(s.Exceeded)
	}
	if s.Within > 0 {
		s.AvgWithinMinutes = s.withinSum / float64(s.Within)
	}
}

// hourly counts service starts and completions per local workshop hour.
func hourly(orders []storage.Order, loc *time.Location) []HourStats {
	out := make([]HourStats, 0, lastHour-firstHour+1)
	for h := firstHour; h <= lastHour; h++ {
		out = append(out, HourStats{Hour: fmt.Sprintf("%02d", h)})
	}
	bucket := func(t *time.Time) *HourStats {
		if t == nil {
			return nil
		}
		h := t.In(loc).Hour()
		if h < firstHour || h > lastHour {
			return nil
		}
		return &out[h-firstHour]
	}

	for _, o := range orders {
		if b := bucket(o.Timestamps.ServiceStart); b != nil {
			b.Starts++
		}
		if b := bucket(o.Timestamps.ServiceEnd); b != nil {
			b.Completions++
		}
	}
	return out
}

func categoryKey(s string) string {
	if s == "" {
		return uncategorized
	}
	return s
}
