package storage

import (
	"github.com/pitcar/leadtime/internal/leadtime"
	"github.com/pitcar/leadtime/internal/repository"
)

func toRepoOrder(o Order) *repository.Order {
	ts, d := o.Timestamps, o.Derived
	return &repository.Order{
		ID:          o.ID,
		Category:    string(o.Category),
		Subcategory: string(o.Subcategory),
		MechanicIDs: o.MechanicIDs,
		Notes:       o.Notes,

		ArrivalAt:         ts.Arrival,
		ReceptionStartAt:  ts.ReceptionStart,
		DocumentPrintedAt: ts.DocumentPrinted,
		EstimateStartAt:   ts.EstimateStart,
		EstimateEndAt:     ts.EstimateEnd,
		ServiceStartAt:    ts.ServiceStart,
		ServiceEndAt:      ts.ServiceEnd,
		UnitExitAt:        ts.UnitExit,

		AwaitConfirmationStart: ts.Stops.AwaitConfirmation.Start,
		AwaitConfirmationEnd:   ts.Stops.AwaitConfirmation.End,
		AwaitPart1Start:        ts.Stops.AwaitPart1.Start,
		AwaitPart1End:          ts.Stops.AwaitPart1.End,
		AwaitPart2Start:        ts.Stops.AwaitPart2.Start,
		AwaitPart2End:          ts.Stops.AwaitPart2.End,
		BreakStart:             ts.Stops.Break.Start,
		BreakEnd:               ts.Stops.Break.End,
		AwaitSubletStart:       ts.Stops.AwaitSublet.Start,
		AwaitSubletEnd:         ts.Stops.AwaitSublet.End,
		OtherStart:             ts.Stops.Other.Start,
		OtherEnd:               ts.Stops.Other.End,

		ReceptionWaitHours:     d.ReceptionWait,
		ReceptionHours:         d.ReceptionProcessing,
		PreServiceWaitHours:    d.PreServiceWait,
		EstimateHours:          d.EstimateDuration,
		AwaitConfirmationHours: d.AwaitConfirmation,
		AwaitPart1Hours:        d.AwaitPart1,
		AwaitPart2Hours:        d.AwaitPart2,
		BreakHours:             d.Break,
		AwaitSubletHours:       d.AwaitSublet,
		OtherHours:             d.Other,
		AutoLunchHours:         d.AutoLunch,
		JobStopTotalHours:      d.JobStopTotal,
		TotalLeadTimeHours:     d.TotalLeadTime,
		NetLeadTimeHours:       d.NetLeadTime,
		OverallLeadTimeHours:   d.OverallLeadTime,
		IsOvernight:            d.IsOvernight,
		ProgressPercentage:     d.Progress,
		Stage:                  string(d.Stage),

		CreatedAt: o.CreatedAt,
		UpdatedAt: o.UpdatedAt,
	}
}

func fromRepoOrder(r *repository.Order) Order {
	stage, ok := leadtime.ParseStage(r.Stage)
	if !ok {
		stage = leadtime.StageNotStarted
	}
	return Order{
		ID:          r.ID,
		Category:    Category(r.Category),
		Subcategory: Subcategory(r.Subcategory),
		MechanicIDs: r.MechanicIDs,
		Notes:       r.Notes,
		Timestamps: leadtime.Timestamps{
			Arrival:         r.ArrivalAt,
			ReceptionStart:  r.ReceptionStartAt,
			DocumentPrinted: r.DocumentPrintedAt,
			EstimateStart:   r.EstimateStartAt,
			EstimateEnd:     r.EstimateEndAt,
			ServiceStart:    r.ServiceStartAt,
			ServiceEnd:      r.ServiceEndAt,
			UnitExit:        r.UnitExitAt,
			Stops: leadtime.JobStops{
				AwaitConfirmation: leadtime.Pair{Start: r.AwaitConfirmationStart, End: r.AwaitConfirmationEnd},
				AwaitPart1:        leadtime.Pair{Start: r.AwaitPart1Start, End: r.AwaitPart1End},
				AwaitPart2:        leadtime.Pair{Start: r.AwaitPart2Start, End: r.AwaitPart2End},
				Break:             leadtime.Pair{Start: r.BreakStart, End: r.BreakEnd},
				AwaitSublet:       leadtime.Pair{Start: r.AwaitSubletStart, End: r.AwaitSubletEnd},
				Other:             leadtime.Pair{Start: r.OtherStart, End: r.OtherEnd},
			},
		},
		Derived: leadtime.Derived{
			LeadTimes: leadtime.LeadTimes{
				ReceptionWait:       r.ReceptionWaitHours,
				ReceptionProcessing: r.ReceptionHours,
				PreServiceWait:      r.PreServiceWaitHours,
				EstimateDuration:    r.EstimateHours,
				AwaitConfirmation:   r.AwaitConfirmationHours,
				AwaitPart1:          r.AwaitPart1Hours,
				AwaitPart2:          r.AwaitPart2Hours,
				Break:               r.BreakHours,
				AwaitSublet:         r.AwaitSubletHours,
				Other:               r.OtherHours,
				AutoLunch:           r.AutoLunchHours,
				JobStopTotal:        r.JobStopTotalHours,
				TotalLeadTime:       r.TotalLeadTimeHours,
				NetLeadTime:         r.NetLeadTimeHours,
				OverallLeadTime:     r.OverallLeadTimeHours,
				IsOvernight:         r.IsOvernight,
			},
			Progress: r.ProgressPercentage,
			Stage:    stage,
		},
		CreatedAt: r.CreatedAt,
		UpdatedAt: r.UpdatedAt,
	}
}

func fromRepoOrders(rows []*repository.Order) []Order {
	orders := make([]Order, len(rows))
	for i, r := range rows {
		orders[i] = fromRepoOrder(r)
	}
	return orders
}

func toRepoHistory(e HistoryEntry) *repository.HistoryEntry {
	return &repository.HistoryEntry{
		OrderID:   e.OrderID,
		Action:    e.Action,
		Actor:     e.Actor,
		Role:      e.Role,
		Message:   e.Message,
		ChangedAt: e.ChangedAt,
	}
}
