package postgresql

import (
	"context"
	"fmt"
	"time"

	"github.com/pitcar/leadtime/internal/db"
	"github.com/pitcar/leadtime/internal/repository"
	"github.com/pitcar/leadtime/internal/storage"
)

type AttendanceRepo struct {
	db db.DB
}

func NewAttendanceRepo(db db.DB) storage.AttendanceRepository {
	return &AttendanceRepo{db: db}
}

// ListForEmployees returns attendance spans overlapping [from, to]. Open
// spans (no check-out yet) always overlap when they started before to.
func (r *AttendanceRepo) ListForEmployees(ctx context.Context, employeeIDs []string, from, to time.Time) ([]*repository.Attendance, error) {
	var rows []*repository.Attendance
	err := r.db.Select(ctx, &rows, `
        SELECT id, employee_id, check_in, check_out
        FROM attendance
        WHERE employee_id = ANY($1)
          AND check_in <= $3
          AND (check_out IS NULL OR check_out >= $2)
        ORDER BY employee_id, check_in
    `, employeeIDs, from, to)
	if err != nil {
		return nil, fmt.Errorf("failed to get attendance: %w", err)
	}
	return rows, nil
}
