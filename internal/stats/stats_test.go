package stats

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pitcar/leadtime/internal/leadtime"
	"github.com/pitcar/leadtime/internal/storage"
)

var wib = time.FixedZone("WIB", 7*3600)

func at(day, hour, minute int) *time.Time {
	t := time.Date(2024, time.March, day, hour, minute, 0, 0, wib).UTC()
	return &t
}

func order(id string, category storage.Category, ts leadtime.Timestamps) storage.Order {
	engine := leadtime.NewEngine(leadtime.DefaultSchedule(wib))
	return storage.Order{
		ID:         id,
		Category:   category,
		Timestamps: ts,
		Derived:    engine.Derive(string(category), ts),
	}
}

func fixture() []storage.Order {
	completed := leadtime.Timestamps{
		Arrival:         at(4, 8, 0),
		ReceptionStart:  at(4, 8, 10),
		DocumentPrinted: at(4, 8, 40),
		ServiceStart:    at(4, 9, 0),
		ServiceEnd:      at(4, 11, 0),
	}
	completed.Stops.Set(leadtime.StopAwaitPart1, leadtime.Pair{Start: at(4, 9, 30), End: at(4, 10, 30)})

	active := leadtime.Timestamps{
		Arrival:         at(4, 10, 0),
		ReceptionStart:  at(4, 10, 5),
		DocumentPrinted: at(4, 10, 15),
		ServiceStart:    at(4, 10, 30),
	}
	active.Stops.Set(leadtime.StopAwaitConfirmation, leadtime.Pair{Start: at(4, 11, 0)})

	waiting := leadtime.Timestamps{Arrival: at(5, 9, 0)}

	outside := leadtime.Timestamps{Arrival: at(7, 9, 0)}

	return []storage.Order{
		order("SO-1", storage.CategoryMaintenance, completed),
		order("SO-2", storage.CategoryRepair, active),
		order("SO-3", "", waiting),
		order("SO-4", storage.CategoryRepair, outside),
	}
}

func TestSummarize(t *testing.T) {
	orders := fixture()[:3]
	p := Summarize(orders, leadtime.DefaultStandards())

	assert.Equal(t, 3, p.TotalOrders)
	assert.Equal(t, 1, p.CompletedOrders)
	assert.Equal(t, 1, p.ActiveOrders)
	assert.InDelta(t, 33.333, p.CompletionRate, 0.001)
	assert.InDelta(t, 2.0, p.AverageLeadTime, 1e-9)
	assert.InDelta(t, 1.0, p.AverageNetLeadTime, 1e-9)
	assert.InDelta(t, 120.0, p.AverageCompletionMinutes, 1e-9)

	assert.Equal(t, 1, p.ActiveStops[leadtime.StopAwaitConfirmation])
	assert.Equal(t, 0, p.ActiveStops[leadtime.StopAwaitPart1])
	assert.InDelta(t, 60.0, p.StopMinutes[leadtime.StopAwaitPart1], 1e-9)
	assert.InDelta(t, 60.0, p.AverageStopMinutes[leadtime.StopAwaitPart1], 1e-9)

	assert.Equal(t, StatusBreakdown{NotStarted: 1, InProgress: 1, Completed: 1}, p.Status)
	assert.Equal(t, map[string]int{"maintenance": 1, "repair": 1, uncategorized: 1}, p.Categories)
	assert.Equal(t, 3, p.Subcategories[uncategorized])
	assert.Equal(t, 1, p.Stages[leadtime.StageServiceDone])
	assert.Equal(t, 1, p.Stages[leadtime.StageWaitingConfirmation])
	assert.Equal(t, 1, p.Stages[leadtime.StageNotStarted])
}

func TestSummarize_StandardsAnalysis(t *testing.T) {
	p := Summarize(fixture()[:3], leadtime.DefaultStandards())

	// Reception waits: 10 and 5 minutes, both within 15.
	rw := p.Standards[leadtime.StandardReceptionWait]
	require.NotNil(t, rw)
	assert.Equal(t, 2, rw.Total)
	assert.Equal(t, 2, rw.Within)
	assert.InDelta(t, 100.0, rw.WithinPercentage, 1e-9)
	assert.InDelta(t, 7.5, rw.AvgWithinMinutes, 1e-9)

	// Reception: 30 exceeds 15, 10 does not.
	r := p.Standards[leadtime.StandardReception]
	assert.Equal(t, 2, r.Total)
	assert.Equal(t, 1, r.Exceeded)
	assert.InDelta(t, 50.0, r.ExceededPercentage, 1e-9)
	assert.InDelta(t, 30.0, r.AvgExceededMinutes, 1e-9)

	// Part wait: 60 exceeds 45.
	part := p.Standards[leadtime.StandardAwaitPart1]
	assert.Equal(t, 1, part.Exceeded)

	// The open confirmation wait is not measured yet.
	assert.Equal(t, 0, p.Standards[leadtime.StandardAwaitConfirmation].Total)
}

func TestSummarize_Empty(t *testing.T) {
	p := Summarize(nil, leadtime.DefaultStandards())

	assert.Zero(t, p.TotalOrders)
	assert.Zero(t, p.CompletionRate)
	assert.Len(t, p.ActiveStops, len(leadtime.StopTypes))
	assert.Len(t, p.Standards, len(leadtime.DefaultStandards()))
	assert.Equal(t, 0, p.Categories[uncategorized])
}

func TestAggregate(t *testing.T) {
	r, err := Dates(*at(4, 12, 0), *at(5, 12, 0), wib)
	require.NoError(t, err)

	d := Aggregate(fixture(), r, leadtime.DefaultStandards(), wib)

	assert.Equal(t, 3, d.Overall.TotalOrders)
	require.Len(t, d.Daily, 2)
	assert.Equal(t, "2024-03-04", d.Daily[0].Date)
	assert.Equal(t, 2, d.Daily[0].TotalOrders)
	assert.Equal(t, "2024-03-05", d.Daily[1].Date)
	assert.Equal(t, 1, d.Daily[1].TotalOrders)

	require.Len(t, d.Hourly, 10)
	assert.Equal(t, "08", d.Hourly[0].Hour)
	assert.Equal(t, HourStats{Hour: "09", Starts: 1}, d.Hourly[1])
	assert.Equal(t, HourStats{Hour: "10", Starts: 1}, d.Hourly[2])
	assert.Equal(t, HourStats{Hour: "11", Completions: 1}, d.Hourly[3])
}

func TestRanges(t *testing.T) {
	t.Run("day", func(t *testing.T) {
		r := Day(*at(4, 23, 30), wib)
		assert.Equal(t, time.Date(2024, time.March, 4, 0, 0, 0, 0, wib), r.Start)
		assert.Equal(t, 24*time.Hour, r.End.Sub(r.Start))
	})

	t.Run("month", func(t *testing.T) {
		r, err := Month(2024, 2, wib)
		require.NoError(t, err)
		assert.Equal(t, 29*24*time.Hour, r.End.Sub(r.Start))

		_, err = Month(2024, 13, wib)
		assert.Error(t, err)
	})

	t.Run("inverted dates", func(t *testing.T) {
		_, err := Dates(*at(5, 9, 0), *at(3, 9, 0), wib)
		assert.Error(t, err)
	})
}
