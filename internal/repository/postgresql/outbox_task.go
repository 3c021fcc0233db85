package postgresql

import (
	"context"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/google/uuid"
	"github.com/jackc/pgconn"

	"github.com/pitcar/leadtime/internal/db"
	"github.com/pitcar/leadtime/internal/repository"
	"github.com/pitcar/leadtime/internal/storage"
)

// execer is satisfied by both db.DB and db.Tx.
type execer interface {
	Exec(ctx context.Context, query string, args ...interface{}) (pgconn.CommandTag, error)
}

// claimLease is how long a PROCESSING task may stay claimed before another
// publisher takes it over, e.g. after a crash mid-batch.
const claimLease = 5 * time.Minute

var outboxColumns = []string{"id", "status", "payload", "topic", "attempts", "last_error", "created_at", "updated_at", "completed_at"}

type OutboxTaskRepo struct {
	maxAttempts int
	timeNow     func() time.Time
}

func NewOutboxTaskRepo(maxAttempts int) storage.OutboxTaskRepository {
	return &OutboxTaskRepo{maxAttempts: maxAttempts, timeNow: time.Now}
}

func (r *OutboxTaskRepo) CreateTx(ctx context.Context, tx db.Tx, task *repository.OutboxTask) error {
	if task.ID == uuid.Nil {
		task.ID = uuid.New()
	}
	now := r.timeNow().UTC()

	query, args, err := psql.Insert("outbox_tasks").
		Columns("id", "status", "payload", "topic", "created_at", "updated_at").
		Values(task.ID, repository.TaskStatusCreated, task.Payload, task.Topic, now, now).
		ToSql()
	if err != nil {
		return fmt.Errorf("failed to build outbox insert: %w", err)
	}
	if _, err := tx.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("failed to insert outbox task: %w", err)
	}
	return nil
}

// GetProcessableTasksTx locks up to limit new, retryable or abandoned tasks,
// oldest first. Locked rows are skipped by concurrent publishers until tx
// ends.
func (r *OutboxTaskRepo) GetProcessableTasksTx(ctx context.Context, tx db.Tx, limit int) ([]*repository.OutboxTask, error) {
	query, args, err := psql.Select(outboxColumns...).
		From("outbox_tasks").
		Where(sq.Or{
			sq.Eq{"status": repository.TaskStatusCreated},
			sq.And{
				sq.Eq{"status": repository.TaskStatusFailed},
				sq.Lt{"attempts": r.maxAttempts},
			},
			sq.And{
				sq.Eq{"status": repository.TaskStatusProcessing},
				sq.Expr("updated_at < now() - make_interval(secs => ?)", claimLease.Seconds()),
			},
		}).
		OrderBy("updated_at ASC").
		Limit(uint64(limit)).
		Suffix("FOR UPDATE SKIP LOCKED").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build outbox query: %w", err)
	}

	var tasks []*repository.OutboxTask
	if err := tx.Select(ctx, &tasks, query, args...); err != nil {
		return nil, fmt.Errorf("failed to get processable outbox tasks: %w", err)
	}
	return tasks, nil
}

func (r *OutboxTaskRepo) UpdateTaskStatusTx(ctx context.Context, tx db.Tx, id uuid.UUID, status repository.TaskStatus, attempts int, lastError *string, completedAt *time.Time) error {
	return r.setStatus(ctx, tx, id, status, attempts, lastError, completedAt)
}

func (r *OutboxTaskRepo) UpdateTaskStatus(ctx context.Context, pool db.DB, id uuid.UUID, status repository.TaskStatus, attempts int, lastError *string, completedAt *time.Time) error {
	return r.setStatus(ctx, pool, id, status, attempts, lastError, completedAt)
}

func (r *OutboxTaskRepo) setStatus(ctx context.Context, exec execer, id uuid.UUID, status repository.TaskStatus, attempts int, lastError *string, completedAt *time.Time) error {
	query, args, err := psql.Update("outbox_tasks").
		Set("status", status).
		Set("attempts", attempts).
		Set("last_error", lastError).
		Set("completed_at", completedAt).
		Set("updated_at", sq.Expr("now()")).
		Where(sq.Eq{"id": id}).
		ToSql()
	if err != nil {
		return fmt.Errorf("failed to build outbox update: %w", err)
	}

	tag, err := exec.Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to update outbox task %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return repository.ErrObjectNotFound
	}
	return nil
}
