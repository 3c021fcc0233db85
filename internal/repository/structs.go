package repository

import (
	"errors"
	"time"
)

var (
	ErrObjectNotFound     = errors.New("not found")
	ErrInvalidCredentials = errors.New("invalid credentials")
)

type Order struct {
	ID          string   `db:"id"`
	Category    string   `db:"category"`
	Subcategory string   `db:"subcategory"`
	MechanicIDs []string `db:"mechanic_ids"`
	Notes       string   `db:"notes"`

	ArrivalAt         *time.Time `db:"arrival_at"`
	ReceptionStartAt  *time.Time `db:"reception_start_at"`
	DocumentPrintedAt *time.Time `db:"document_printed_at"`
	EstimateStartAt   *time.Time `db:"estimate_start_at"`
	EstimateEndAt     *time.Time `db:"estimate_end_at"`
	ServiceStartAt    *time.Time `db:"service_start_at"`
	ServiceEndAt      *time.Time `db:"service_end_at"`
	UnitExitAt        *time.Time `db:"unit_exit_at"`

	AwaitConfirmationStart *time.Time `db:"await_confirmation_start"`
	AwaitConfirmationEnd   *time.Time `db:"await_confirmation_end"`
	AwaitPart1Start        *time.Time `db:"await_part_1_start"`
	AwaitPart1End          *time.Time `db:"await_part_1_end"`
	AwaitPart2Start        *time.Time `db:"await_part_2_start"`
	AwaitPart2End          *time.Time `db:"await_part_2_end"`
	BreakStart             *time.Time `db:"break_start"`
	BreakEnd               *time.Time `db:"break_end"`
	AwaitSubletStart       *time.Time `db:"await_sublet_start"`
	AwaitSubletEnd         *time.Time `db:"await_sublet_end"`
	OtherStart             *time.Time `db:"other_start"`
	OtherEnd               *time.Time `db:"other_end"`

	ReceptionWaitHours     float64 `db:"reception_wait_hours"`
	ReceptionHours         float64 `db:"reception_hours"`
	PreServiceWaitHours    float64 `db:"pre_service_wait_hours"`
	EstimateHours          float64 `db:"estimate_hours"`
	AwaitConfirmationHours float64 `db:"await_confirmation_hours"`
	AwaitPart1Hours        float64 `db:"await_part_1_hours"`
	AwaitPart2Hours        float64 `db:"await_part_2_hours"`
	BreakHours             float64 `db:"break_hours"`
	AwaitSubletHours       float64 `db:"await_sublet_hours"`
	OtherHours             float64 `db:"other_hours"`
	AutoLunchHours         float64 `db:"auto_lunch_hours"`
	JobStopTotalHours      float64 `db:"job_stop_total_hours"`
	TotalLeadTimeHours     float64 `db:"total_lead_time_hours"`
	NetLeadTimeHours       float64 `db:"net_lead_time_hours"`
	OverallLeadTimeHours   float64 `db:"overall_lead_time_hours"`
	IsOvernight            bool    `db:"is_overnight"`
	ProgressPercentage     float64 `db:"progress_percentage"`
	Stage                  string  `db:"stage"`

	CreatedAt time.Time `db:"created_at"`
	UpdatedAt time.Time `db:"updated_at"`
}

// OrderFilter narrows order listings. Zero values disable a condition.
type OrderFilter struct {
	Stage       string
	Category    string
	ArrivedFrom *time.Time
	ArrivedTo   *time.Time
	Limit       uint64
}

type HistoryEntry struct {
	ID        int64     `db:"id"`
	OrderID   string    `db:"order_id"`
	Action    string    `db:"action"`
	Actor     string    `db:"actor"`
	Role      string    `db:"role"`
	Message   string    `db:"message"`
	ChangedAt time.Time `db:"changed_at"`
}

type Attendance struct {
	ID         int64      `db:"id"`
	EmployeeID string     `db:"employee_id"`
	CheckIn    time.Time  `db:"check_in"`
	CheckOut   *time.Time `db:"check_out"`
}

type User struct {
	ID       int64  `db:"id"`
	Username string `db:"username"`
	Password string `db:"password"`
	Role     string `db:"role"`
}
