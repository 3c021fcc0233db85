package postgresql

import (
	"context"

	"github.com/pitcar/leadtime/internal/db"
	"github.com/pitcar/leadtime/internal/repository"
	"github.com/pitcar/leadtime/internal/storage"
)

type HistoryRepo struct {
	db db.DB
}

func NewHistoryRepo(db db.DB) storage.HistoryRepository {
	return &HistoryRepo{db: db}
}

func (r *HistoryRepo) CreateTx(ctx context.Context, tx db.Tx, entry *repository.HistoryEntry) error {
	_, err := tx.Exec(ctx, `
        INSERT INTO order_history (
            order_id, action, actor, role, message, changed_at
        ) VALUES ($1, $2, $3, $4, $5, $6)
    `, entry.OrderID, entry.Action, entry.Actor, entry.Role, entry.Message, entry.ChangedAt)
	return err
}

func (r *HistoryRepo) GetByOrderID(ctx context.Context, orderID string) ([]*repository.HistoryEntry, error) {
	var entries []*repository.HistoryEntry
	err := r.db.Select(ctx, &entries, `
        SELECT id, order_id, action, actor, role, message, changed_at
        FROM order_history
        WHERE order_id = $1
        ORDER BY changed_at ASC, id ASC
    `, orderID)
	return entries, err
}
