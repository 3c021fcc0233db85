package workflow

import (
	"fmt"

	"github.com/pitcar/leadtime/internal/leadtime"
)

type Role string

const (
	RoleController     Role = "controller"
	RoleServiceAdvisor Role = "service_advisor"
	RoleFrontOffice    Role = "front_office"
	RoleAdmin          Role = "admin"
)

func ParseRole(s string) (Role, error) {
	switch r := Role(s); r {
	case RoleController, RoleServiceAdvisor, RoleFrontOffice, RoleAdmin:
		return r, nil
	}
	return "", fmt.Errorf("unknown role %q", s)
}

// Actor is the identity performing a transition.
type Actor struct {
	Name string `json:"name"`
	Role Role   `json:"role"`
}

// State is the workflow position of an order, derived from its timestamps.
type State string

const (
	StateNotStarted          State = "not_started"
	StateCategorySelected    State = "category_selected"
	StateCheckedIn           State = "checked_in"
	StateReceptionStarted    State = "reception_started"
	StateDocumentPrinted     State = "document_printed"
	StateEstimationSet       State = "estimation_set"
	StateWaitingConfirmation State = "waiting_confirmation"
	StateWaitingParts        State = "waiting_parts"
	StateOnBreak             State = "on_break"
	StateInService           State = "in_service"
	StateServiceDone         State = "service_done"
	StateCompleted           State = "completed"
)

func StateOf(category string, ts leadtime.Timestamps) State {
	switch {
	case ts.Arrival == nil && category == "":
		return StateNotStarted
	case ts.Arrival == nil:
		return StateCategorySelected
	case ts.UnitExit != nil:
		return StateCompleted
	case ts.ServiceEnd != nil:
		return StateServiceDone
	case ts.ReceptionStart == nil:
		return StateCheckedIn
	case ts.DocumentPrinted == nil:
		return StateReceptionStarted
	case ts.Stops.AwaitConfirmation.Active():
		return StateWaitingConfirmation
	case ts.Stops.AwaitPart1.Active(), ts.Stops.AwaitPart2.Active():
		return StateWaitingParts
	case ts.Stops.Break.Active():
		return StateOnBreak
	case ts.ServiceStart != nil:
		return StateInService
	case ts.EstimateStart != nil:
		return StateEstimationSet
	default:
		return StateDocumentPrinted
	}
}
