package repository

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

type TaskStatus string

const (
	TaskStatusCreated    TaskStatus = "CREATED"
	TaskStatusProcessing TaskStatus = "PROCESSING"
	TaskStatusFailed     TaskStatus = "FAILED"
	TaskStatusDone       TaskStatus = "DONE"
)

type OutboxTask struct {
	ID          uuid.UUID       `db:"id"`
	Status      TaskStatus      `db:"status"`
	Payload     json.RawMessage `db:"payload"`
	Topic       string          `db:"topic"`
	Attempts    int             `db:"attempts"`
	LastError   *string         `db:"last_error"`
	CreatedAt   time.Time       `db:"created_at"`
	UpdatedAt   time.Time       `db:"updated_at"`
	CompletedAt *time.Time      `db:"completed_at"`
}

// OrderEventPayload is published for every accepted order change.
type OrderEventPayload struct {
	EventID       uuid.UUID `json:"event_id"`
	OrderID       string    `json:"order_id"`
	Action        string    `json:"action"`
	Actor         string    `json:"actor"`
	Role          string    `json:"role,omitempty"`
	Message       string    `json:"message"`
	Stage         string    `json:"stage"`
	NetLeadTime   float64   `json:"net_lead_time_hours"`
	TotalLeadTime float64   `json:"total_lead_time_hours"`
	OccurredAt    time.Time `json:"occurred_at"`
}
