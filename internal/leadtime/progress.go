package leadtime

// Stage is the human-facing position of an order in the workshop flow.
type Stage string

const (
	StageNotStarted          Stage = "not_started"
	StageCategorySelected    Stage = "category_selected"
	StageCheckedIn           Stage = "checked_in"
	StageInReception         Stage = "in_reception"
	StageDocumentPrinted     Stage = "document_printed"
	StageEstimating          Stage = "estimating"
	StageWaitingConfirmation Stage = "waiting_confirmation"
	StageWaitingParts        Stage = "waiting_parts"
	StageInService           Stage = "in_service"
	StageServiceDone         Stage = "service_done"
	StageWaitingPickup       Stage = "waiting_pickup"
	StageCompleted           Stage = "completed"
)

// Stages lists every stage in workflow order.
var Stages = []Stage{
	StageNotStarted,
	StageCategorySelected,
	StageCheckedIn,
	StageInReception,
	StageDocumentPrinted,
	StageEstimating,
	StageWaitingConfirmation,
	StageWaitingParts,
	StageInService,
	StageServiceDone,
	StageWaitingPickup,
	StageCompleted,
}

func ParseStage(s string) (Stage, bool) {
	for _, st := range Stages {
		if string(st) == s {
			return st, true
		}
	}
	return "", false
}

const (
	weightArrival         = 10
	weightReceptionStart  = 15
	weightDocumentPrinted = 15
	weightServiceStart    = 30
	weightServiceEnd      = 30
	activeStopPenalty     = 5
)

// Progress estimates completion in percent from the milestones reached.
// Each open job stop costs five points; the result is clamped to [0, 100].
func Progress(ts Timestamps) float64 {
	if ts.Arrival == nil {
		return 0
	}

	progress := weightArrival
	if ts.ReceptionStart != nil {
		progress += weightReceptionStart
	}
	if ts.DocumentPrinted != nil {
		progress += weightDocumentPrinted
	}
	if ts.ServiceStart != nil {
		progress += weightServiceStart
	}
	if ts.ServiceEnd != nil {
		progress += weightServiceEnd
	}
	progress -= activeStopPenalty * ts.Stops.ActiveCount()

	switch {
	case progress < 0:
		return 0
	case progress > 100:
		return 100
	}
	return float64(progress)
}

// ClassifyStage maps an order to exactly one stage. Checks run in priority
// order and the last case is the fallback, so every input has a stage.
// Estimation stages only apply while service has not started: an order whose
// service started without an estimate reports in_service (or a waiting
// stage), not document_printed.
func ClassifyStage(category string, ts Timestamps) Stage {
	switch {
	case category == "":
		return StageNotStarted
	case ts.Arrival == nil:
		return StageCategorySelected
	case ts.ReceptionStart == nil:
		return StageCheckedIn
	case ts.DocumentPrinted == nil:
		return StageInReception
	case ts.ServiceStart == nil && ts.EstimateStart == nil:
		return StageDocumentPrinted
	case ts.ServiceStart == nil && ts.EstimateEnd == nil:
		return StageEstimating
	case ts.Stops.AwaitConfirmation.Active():
		return StageWaitingConfirmation
	case ts.Stops.AwaitPart1.Active() || ts.Stops.AwaitPart2.Active():
		return StageWaitingParts
	case ts.ServiceStart != nil && ts.ServiceEnd == nil:
		return StageInService
	case ts.ServiceEnd != nil && ts.UnitExit == nil:
		return StageServiceDone
	case ts.UnitExit != nil:
		return StageCompleted
	default:
		return StageWaitingPickup
	}
}
