package workflow

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pitcar/leadtime/internal/leadtime"
)

var (
	wib        = time.FixedZone("WIB", 7*60*60)
	controller = Actor{Name: "andi", Role: RoleController}
	advisor    = Actor{Name: "sari", Role: RoleServiceAdvisor}
	frontDesk  = Actor{Name: "rina", Role: RoleFrontOffice}
)

func clock(hour, minute int) time.Time {
	return time.Date(2024, time.March, 4, hour, minute, 0, 0, wib)
}

func ptr(t time.Time) *time.Time {
	u := t.UTC()
	return &u
}

func ready() leadtime.Timestamps {
	return leadtime.Timestamps{
		Arrival:         ptr(clock(8, 0)),
		ReceptionStart:  ptr(clock(8, 5)),
		DocumentPrinted: ptr(clock(8, 20)),
	}
}

func TestMachine_HappyPath(t *testing.T) {
	m := NewMachine(wib)

	steps := []struct {
		cmd   Command
		actor Actor
		want  State
	}{
		{Command{Action: ActionRecordArrival, At: clock(8, 0)}, frontDesk, StateCheckedIn},
		{Command{Action: ActionStartReception, At: clock(8, 5)}, advisor, StateReceptionStarted},
		{Command{Action: ActionPrintDocument, At: clock(8, 20)}, advisor, StateDocumentPrinted},
		{Command{Action: ActionSetEstimate, At: clock(8, 25), EstimateEnd: ptr(clock(8, 40))}, advisor, StateEstimationSet},
		{Command{Action: ActionStartService, At: clock(9, 0)}, controller, StateInService},
		{Command{Action: ActionStartJobStop, At: clock(9, 30), StopType: leadtime.StopAwaitPart1}, controller, StateWaitingParts},
		{Command{Action: ActionEndJobStop, At: clock(10, 15), StopType: leadtime.StopAwaitPart1}, controller, StateInService},
		{Command{Action: ActionCompleteService, At: clock(12, 0)}, controller, StateServiceDone},
		{Command{Action: ActionRecordUnitExit, At: clock(13, 0)}, frontDesk, StateCompleted},
	}

	var ts leadtime.Timestamps
	for _, step := range steps {
		next, tr, err := m.Apply("repair", ts, step.cmd, step.actor)
		require.NoError(t, err, step.cmd.Action)
		assert.Equal(t, step.want, tr.To, step.cmd.Action)
		assert.Equal(t, StateOf("repair", ts), tr.From)
		assert.Equal(t, step.cmd.At.UTC(), tr.At)
		assert.Equal(t, step.actor, tr.Actor)
		ts = next
	}

	assert.Equal(t, clock(9, 30).UTC(), *ts.Stops.AwaitPart1.Start)
	assert.Equal(t, clock(10, 15).UTC(), *ts.Stops.AwaitPart1.End)
	assert.Equal(t, time.UTC, ts.ServiceStart.Location())
}

func TestMachine_Guards(t *testing.T) {
	m := NewMachine(wib)

	started := ready()
	started.ServiceStart = ptr(clock(9, 0))

	completed := started
	completed.ServiceEnd = ptr(clock(11, 0))

	confirming := started
	confirming.Stops.AwaitConfirmation = leadtime.Pair{Start: ptr(clock(9, 30))}

	confirmed := started
	confirmed.Stops.AwaitConfirmation = leadtime.Pair{Start: ptr(clock(9, 30)), End: ptr(clock(9, 45))}

	tests := []struct {
		name    string
		ts      leadtime.Timestamps
		cmd     Command
		actor   Actor
		wantErr error
	}{
		{
			name:    "service start without reception",
			ts:      leadtime.Timestamps{Arrival: ptr(clock(8, 0))},
			cmd:     Command{Action: ActionStartService, At: clock(9, 0)},
			actor:   controller,
			wantErr: ErrPreconditionFailed,
		},
		{
			name: "service start without printed document",
			ts: leadtime.Timestamps{
				Arrival:        ptr(clock(8, 0)),
				ReceptionStart: ptr(clock(8, 5)),
			},
			cmd:     Command{Action: ActionStartService, At: clock(9, 0)},
			actor:   controller,
			wantErr: ErrPreconditionFailed,
		},
		{
			name:    "service started twice",
			ts:      started,
			cmd:     Command{Action: ActionStartService, At: clock(9, 30)},
			actor:   controller,
			wantErr: ErrPreconditionFailed,
		},
		{
			name:    "completion before start",
			ts:      ready(),
			cmd:     Command{Action: ActionCompleteService, At: clock(11, 0)},
			actor:   controller,
			wantErr: ErrPreconditionFailed,
		},
		{
			name:    "completion twice",
			ts:      completed,
			cmd:     Command{Action: ActionCompleteService, At: clock(11, 30)},
			actor:   controller,
			wantErr: ErrPreconditionFailed,
		},
		{
			name:    "job stop after completion",
			ts:      completed,
			cmd:     Command{Action: ActionStartJobStop, At: clock(11, 30), StopType: leadtime.StopBreak},
			actor:   controller,
			wantErr: ErrPreconditionFailed,
		},
		{
			name:    "same job stop twice while active",
			ts:      confirming,
			cmd:     Command{Action: ActionStartJobStop, At: clock(9, 40), StopType: leadtime.StopAwaitConfirmation},
			actor:   controller,
			wantErr: ErrPreconditionFailed,
		},
		{
			name:    "restart of recorded job stop",
			ts:      confirmed,
			cmd:     Command{Action: ActionStartJobStop, At: clock(10, 0), StopType: leadtime.StopAwaitConfirmation},
			actor:   controller,
			wantErr: ErrPreconditionFailed,
		},
		{
			name:    "ending a job stop that never started",
			ts:      started,
			cmd:     Command{Action: ActionEndJobStop, At: clock(10, 0), StopType: leadtime.StopAwaitSublet},
			actor:   controller,
			wantErr: ErrPreconditionFailed,
		},
		{
			name:    "ending a job stop twice",
			ts:      confirmed,
			cmd:     Command{Action: ActionEndJobStop, At: clock(10, 0), StopType: leadtime.StopAwaitConfirmation},
			actor:   controller,
			wantErr: ErrPreconditionFailed,
		},
		{
			name:    "unknown stop type",
			ts:      started,
			cmd:     Command{Action: ActionStartJobStop, At: clock(10, 0), StopType: "coffee"},
			actor:   controller,
			wantErr: ErrPreconditionFailed,
		},
		{
			name:    "advisor cannot start service",
			ts:      ready(),
			cmd:     Command{Action: ActionStartService, At: clock(9, 0)},
			actor:   advisor,
			wantErr: ErrForbidden,
		},
		{
			name:    "advisor cannot start job stop",
			ts:      started,
			cmd:     Command{Action: ActionStartJobStop, At: clock(9, 30), StopType: leadtime.StopBreak},
			actor:   advisor,
			wantErr: ErrForbidden,
		},
		{
			name: "controller cannot print document",
			ts: leadtime.Timestamps{
				Arrival:        ptr(clock(8, 0)),
				ReceptionStart: ptr(clock(8, 5)),
			},
			cmd:     Command{Action: ActionPrintDocument, At: clock(8, 20)},
			actor:   controller,
			wantErr: ErrForbidden,
		},
		{
			name:    "unit exit before service completion",
			ts:      started,
			cmd:     Command{Action: ActionRecordUnitExit, At: clock(12, 0)},
			actor:   frontDesk,
			wantErr: ErrPreconditionFailed,
		},
		{
			name:    "completion stamped before start",
			ts:      started,
			cmd:     Command{Action: ActionCompleteService, At: clock(8, 30)},
			actor:   controller,
			wantErr: ErrInvalidTimestamps,
		},
		{
			name:    "job stop ending before it started",
			ts:      confirming,
			cmd:     Command{Action: ActionEndJobStop, At: clock(9, 0), StopType: leadtime.StopAwaitConfirmation},
			actor:   controller,
			wantErr: ErrInvalidTimestamps,
		},
		{
			name:    "estimate ending before it starts",
			ts:      ready(),
			cmd:     Command{Action: ActionSetEstimate, At: clock(8, 30), EstimateEnd: ptr(clock(8, 25))},
			actor:   advisor,
			wantErr: ErrInvalidTimestamps,
		},
		{
			name:    "missing timestamp",
			ts:      ready(),
			cmd:     Command{Action: ActionStartService},
			actor:   controller,
			wantErr: ErrPreconditionFailed,
		},
		{
			name:    "unknown action",
			ts:      ready(),
			cmd:     Command{Action: "teleport", At: clock(9, 0)},
			actor:   controller,
			wantErr: ErrUnknownAction,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			before := tc.ts

			got, _, err := m.Apply("repair", tc.ts, tc.cmd, tc.actor)

			require.Error(t, err)
			assert.True(t, errors.Is(err, tc.wantErr), "got %v", err)
			assert.Equal(t, before, got)

			var trErr *TransitionError
			require.True(t, errors.As(err, &trErr))
			assert.Equal(t, tc.cmd.Action, trErr.Action)
		})
	}
}

func TestMachine_ConcurrentStopsOfDifferentTypes(t *testing.T) {
	m := NewMachine(wib)

	ts := ready()
	ts.ServiceStart = ptr(clock(9, 0))

	ts, _, err := m.Apply("repair", ts, Command{Action: ActionStartJobStop, At: clock(10, 0), StopType: leadtime.StopAwaitConfirmation}, controller)
	require.NoError(t, err)
	ts, tr, err := m.Apply("repair", ts, Command{Action: ActionStartJobStop, At: clock(10, 15), StopType: leadtime.StopBreak}, controller)
	require.NoError(t, err)

	assert.Equal(t, 2, ts.Stops.ActiveCount())
	assert.Equal(t, StateWaitingConfirmation, tr.To)
	assert.Equal(t, 60.0, leadtime.Progress(ts))
}

func TestMachine_TransitionMessage(t *testing.T) {
	m := NewMachine(wib)

	_, tr, err := m.Apply("repair", ready(), Command{Action: ActionStartService, At: clock(9, 5)}, controller)
	require.NoError(t, err)

	assert.Equal(t, "start_service at 2024-03-04 09:05:00 by andi (controller)", tr.Message)
}

func TestValidate(t *testing.T) {
	ts := ready()
	require.NoError(t, Validate(ts))

	ts.Stops.AwaitSublet = leadtime.Pair{End: ptr(clock(10, 0))}
	err := Validate(ts)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidTimestamps)
	assert.Contains(t, err.Error(), "await_sublet has an end without a start")

	ts = ready()
	ts.UnitExit = ptr(clock(7, 0))
	assert.ErrorIs(t, Validate(ts), ErrInvalidTimestamps)
}

func TestParseRole(t *testing.T) {
	r, err := ParseRole("service_advisor")
	require.NoError(t, err)
	assert.Equal(t, RoleServiceAdvisor, r)

	_, err = ParseRole("mechanic")
	assert.Error(t, err)
}
