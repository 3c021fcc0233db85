package workflow

import (
	"fmt"
	"time"

	"github.com/pitcar/leadtime/internal/leadtime"
)

type Action string

const (
	ActionRecordArrival   Action = "record_arrival"
	ActionStartReception  Action = "start_reception"
	ActionPrintDocument   Action = "print_document"
	ActionSetEstimate     Action = "set_estimate"
	ActionStartService    Action = "start_service"
	ActionCompleteService Action = "complete_service"
	ActionStartJobStop    Action = "start_job_stop"
	ActionEndJobStop      Action = "end_job_stop"
	ActionRecordUnitExit  Action = "record_unit_exit"
)

// Command is a single requested transition. At is the instant being
// recorded; job-stop actions also carry StopType, set_estimate carries the
// estimate window.
type Command struct {
	Action        Action
	At            time.Time
	StopType      leadtime.StopType
	EstimateStart *time.Time
	EstimateEnd   *time.Time
}

// Transition describes an accepted command.
type Transition struct {
	Action  Action    `json:"action"`
	Actor   Actor     `json:"actor"`
	From    State     `json:"from"`
	To      State     `json:"to"`
	At      time.Time `json:"at"`
	Message string    `json:"message"`
}

type rule struct {
	roles []Role
	apply func(ts *leadtime.Timestamps, cmd Command) error
}

func (r rule) allows(role Role) bool {
	if len(r.roles) == 0 {
		return true
	}
	for _, allowed := range r.roles {
		if allowed == role {
			return true
		}
	}
	return false
}

// Machine enforces the service-order workflow. It holds no order state;
// each call receives the current timestamps and returns the updated copy.
type Machine struct {
	loc   *time.Location
	rules map[Action]rule
}

func NewMachine(loc *time.Location) *Machine {
	if loc == nil {
		loc = time.UTC
	}
	return &Machine{
		loc: loc,
		rules: map[Action]rule{
			ActionRecordArrival:   {apply: recordArrival},
			ActionStartReception:  {apply: startReception},
			ActionPrintDocument:   {roles: []Role{RoleServiceAdvisor}, apply: printDocument},
			ActionSetEstimate:     {roles: []Role{RoleController, RoleServiceAdvisor}, apply: setEstimate},
			ActionStartService:    {roles: []Role{RoleController}, apply: startService},
			ActionCompleteService: {roles: []Role{RoleController}, apply: completeService},
			ActionStartJobStop:    {roles: []Role{RoleController}, apply: startJobStop},
			ActionEndJobStop:      {roles: []Role{RoleController}, apply: endJobStop},
			ActionRecordUnitExit:  {apply: recordUnitExit},
		},
	}
}

// Apply checks authorization, guards and invariants, in that order, and
// returns the new timestamps. On error the input is left untouched.
func (m *Machine) Apply(category string, ts leadtime.Timestamps, cmd Command, actor Actor) (leadtime.Timestamps, Transition, error) {
	r, ok := m.rules[cmd.Action]
	if !ok {
		return ts, Transition{}, reject(cmd.Action, ErrUnknownAction, "no such action")
	}
	if !r.allows(actor.Role) {
		return ts, Transition{}, reject(cmd.Action, ErrForbidden, "role %q may not perform this action", actor.Role)
	}
	if cmd.At.IsZero() {
		return ts, Transition{}, reject(cmd.Action, ErrPreconditionFailed, "missing timestamp")
	}

	next := ts
	if err := r.apply(&next, cmd); err != nil {
		return ts, Transition{}, err
	}
	if v := violation(next); v != "" {
		return ts, Transition{}, reject(cmd.Action, ErrInvalidTimestamps, "%s", v)
	}

	tr := Transition{
		Action: cmd.Action,
		Actor:  actor,
		From:   StateOf(category, ts),
		To:     StateOf(category, next),
		At:     cmd.At.UTC(),
	}
	tr.Message = m.describe(cmd, actor)
	return next, tr, nil
}

func (m *Machine) describe(cmd Command, actor Actor) string {
	what := string(cmd.Action)
	if cmd.StopType != "" && (cmd.Action == ActionStartJobStop || cmd.Action == ActionEndJobStop) {
		what = fmt.Sprintf("%s %s", cmd.Action, cmd.StopType)
	}
	return fmt.Sprintf("%s at %s by %s (%s)", what, cmd.At.In(m.loc).Format("2006-01-02 15:04:05"), actor.Name, actor.Role)
}

func stamp(t time.Time) *time.Time {
	u := t.UTC()
	return &u
}

func recordArrival(ts *leadtime.Timestamps, cmd Command) error {
	if ts.Arrival != nil {
		return reject(cmd.Action, ErrPreconditionFailed, "arrival already recorded")
	}
	ts.Arrival = stamp(cmd.At)
	return nil
}

func startReception(ts *leadtime.Timestamps, cmd Command) error {
	if ts.Arrival == nil {
		return reject(cmd.Action, ErrPreconditionFailed, "arrival has not been recorded")
	}
	if ts.ReceptionStart != nil {
		return reject(cmd.Action, ErrPreconditionFailed, "reception already started")
	}
	ts.ReceptionStart = stamp(cmd.At)
	return nil
}

func printDocument(ts *leadtime.Timestamps, cmd Command) error {
	if ts.ReceptionStart == nil {
		return reject(cmd.Action, ErrPreconditionFailed, "reception has not started")
	}
	if ts.DocumentPrinted != nil {
		return reject(cmd.Action, ErrPreconditionFailed, "work order document already printed")
	}
	ts.DocumentPrinted = stamp(cmd.At)
	return nil
}

func setEstimate(ts *leadtime.Timestamps, cmd Command) error {
	if ts.Arrival == nil {
		return reject(cmd.Action, ErrPreconditionFailed, "arrival has not been recorded")
	}
	if ts.ServiceEnd != nil {
		return reject(cmd.Action, ErrPreconditionFailed, "service already completed")
	}
	start := cmd.EstimateStart
	if start == nil {
		start = &cmd.At
	}
	ts.EstimateStart = stamp(*start)
	ts.EstimateEnd = nil
	if cmd.EstimateEnd != nil {
		ts.EstimateEnd = stamp(*cmd.EstimateEnd)
	}
	return nil
}

func startService(ts *leadtime.Timestamps, cmd Command) error {
	if ts.ReceptionStart == nil {
		return reject(cmd.Action, ErrPreconditionFailed, "reception has not started")
	}
	if ts.DocumentPrinted == nil {
		return reject(cmd.Action, ErrPreconditionFailed, "work order document has not been printed")
	}
	if ts.ServiceStart != nil {
		return reject(cmd.Action, ErrPreconditionFailed, "service already started")
	}
	ts.ServiceStart = stamp(cmd.At)
	return nil
}

func completeService(ts *leadtime.Timestamps, cmd Command) error {
	if ts.ServiceStart == nil {
		return reject(cmd.Action, ErrPreconditionFailed, "service has not started")
	}
	if ts.ServiceEnd != nil {
		return reject(cmd.Action, ErrPreconditionFailed, "service already completed")
	}
	ts.ServiceEnd = stamp(cmd.At)
	return nil
}

func startJobStop(ts *leadtime.Timestamps, cmd Command) error {
	if _, err := leadtime.ParseStopType(string(cmd.StopType)); err != nil {
		return reject(cmd.Action, ErrPreconditionFailed, "%v", err)
	}
	if ts.ServiceEnd != nil {
		return reject(cmd.Action, ErrPreconditionFailed, "service already completed")
	}
	p := ts.Stops.Get(cmd.StopType)
	if p.Active() {
		return reject(cmd.Action, ErrPreconditionFailed, "%s is already active", cmd.StopType)
	}
	if p.Complete() {
		return reject(cmd.Action, ErrPreconditionFailed, "%s has already been recorded", cmd.StopType)
	}
	ts.Stops.Set(cmd.StopType, leadtime.Pair{Start: stamp(cmd.At)})
	return nil
}

func endJobStop(ts *leadtime.Timestamps, cmd Command) error {
	if _, err := leadtime.ParseStopType(string(cmd.StopType)); err != nil {
		return reject(cmd.Action, ErrPreconditionFailed, "%v", err)
	}
	p := ts.Stops.Get(cmd.StopType)
	if p.Start == nil {
		return reject(cmd.Action, ErrPreconditionFailed, "%s has not started", cmd.StopType)
	}
	if p.End != nil {
		return reject(cmd.Action, ErrPreconditionFailed, "%s has already ended", cmd.StopType)
	}
	p.End = stamp(cmd.At)
	ts.Stops.Set(cmd.StopType, p)
	return nil
}

func recordUnitExit(ts *leadtime.Timestamps, cmd Command) error {
	switch {
	case ts.ReceptionStart == nil:
		return reject(cmd.Action, ErrPreconditionFailed, "reception has not started")
	case ts.DocumentPrinted == nil:
		return reject(cmd.Action, ErrPreconditionFailed, "work order document has not been printed")
	case ts.ServiceStart == nil:
		return reject(cmd.Action, ErrPreconditionFailed, "service has not started")
	case ts.ServiceEnd == nil:
		return reject(cmd.Action, ErrPreconditionFailed, "service has not been completed")
	case ts.UnitExit != nil:
		return reject(cmd.Action, ErrPreconditionFailed, "unit exit already recorded")
	}
	ts.UnitExit = stamp(cmd.At)
	return nil
}
