//go:generate mockgen -source ./postgres.go -destination=./mocks/storage.go -package=mock_storage
package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgconn"

	"github.com/pitcar/leadtime/internal/db"
	"github.com/pitcar/leadtime/internal/repository"
)

// ErrNotFound is returned when an order does not exist.
var ErrNotFound = repository.ErrObjectNotFound

var ErrAlreadyExists = errors.New("order already exists")

const uniqueViolation = "23505"

type OrderRepository interface {
	CreateTx(ctx context.Context, tx db.Tx, order *repository.Order) error
	GetByID(ctx context.Context, id string) (*repository.Order, error)
	GetByIDTx(ctx context.Context, tx db.Tx, id string) (*repository.Order, error)
	GetByIDs(ctx context.Context, ids []string) ([]*repository.Order, error)
	List(ctx context.Context, filter repository.OrderFilter) ([]*repository.Order, error)
	ListActive(ctx context.Context) ([]*repository.Order, error)
	ComputableIDs(ctx context.Context) ([]string, error)
	UpdateTx(ctx context.Context, tx db.Tx, order *repository.Order) error
	UpdateDerivedTx(ctx context.Context, tx db.Tx, order *repository.Order, loadedAt time.Time) error
}

type HistoryRepository interface {
	CreateTx(ctx context.Context, tx db.Tx, entry *repository.HistoryEntry) error
	GetByOrderID(ctx context.Context, orderID string) ([]*repository.HistoryEntry, error)
}

type AttendanceRepository interface {
	ListForEmployees(ctx context.Context, employeeIDs []string, from, to time.Time) ([]*repository.Attendance, error)
}

// Mutation changes an order inside a locked transaction. A non-nil entry is
// appended to the audit log and published as an order event.
type Mutation func(order *Order) (*HistoryEntry, error)

type PostgresStorage struct {
	db             db.DB
	orderRepo      OrderRepository
	historyRepo    HistoryRepository
	attendanceRepo AttendanceRepository
	outboxRepo     OutboxTaskRepository
	topic          string
	timeNow        func() time.Time
}

func NewStorage(
	database db.DB,
	orderRepo OrderRepository,
	historyRepo HistoryRepository,
	attendanceRepo AttendanceRepository,
	outboxRepo OutboxTaskRepository,
	topic string,
) *PostgresStorage {
	return &PostgresStorage{
		db:             database,
		orderRepo:      orderRepo,
		historyRepo:    historyRepo,
		attendanceRepo: attendanceRepo,
		outboxRepo:     outboxRepo,
		topic:          topic,
		timeNow:        time.Now,
	}
}

func (s *PostgresStorage) AddOrder(ctx context.Context, order Order, entry HistoryEntry) (err error) {
	tx, err := s.db.BeginTx(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	now := s.version()
	order.CreatedAt, order.UpdatedAt = now, now

	if err = s.orderRepo.CreateTx(ctx, tx, toRepoOrder(order)); err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return fmt.Errorf("order %s: %w", order.ID, ErrAlreadyExists)
		}
		return fmt.Errorf("failed to add order: %w", err)
	}
	if err = s.record(ctx, tx, order, entry); err != nil {
		return err
	}
	if err = tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

func (s *PostgresStorage) GetOrder(ctx context.Context, orderID string) (*Order, error) {
	row, err := s.orderRepo.GetByID(ctx, orderID)
	if err != nil {
		if errors.Is(err, repository.ErrObjectNotFound) {
			return nil, fmt.Errorf("order %s: %w", orderID, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get order: %w", err)
	}
	order := fromRepoOrder(row)
	return &order, nil
}

func (s *PostgresStorage) GetOrders(ctx context.Context, orderIDs []string) ([]Order, error) {
	rows, err := s.orderRepo.GetByIDs(ctx, orderIDs)
	if err != nil {
		return nil, fmt.Errorf("failed to get orders: %w", err)
	}
	return fromRepoOrders(rows), nil
}

func (s *PostgresStorage) ListOrders(ctx context.Context, filter ListFilter) ([]Order, error) {
	f := repository.OrderFilter{
		Stage:       string(filter.Stage),
		Category:    string(filter.Category),
		ArrivedFrom: filter.ArrivedFrom,
		ArrivedTo:   filter.ArrivedTo,
	}
	if filter.Limit > 0 {
		f.Limit = uint64(filter.Limit)
	}
	rows, err := s.orderRepo.List(ctx, f)
	if err != nil {
		return nil, fmt.Errorf("failed to list orders: %w", err)
	}
	return fromRepoOrders(rows), nil
}

// ListActiveOrders returns orders whose vehicle has not left the workshop.
func (s *PostgresStorage) ListActiveOrders(ctx context.Context) ([]Order, error) {
	rows, err := s.orderRepo.ListActive(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list active orders: %w", err)
	}
	return fromRepoOrders(rows), nil
}

func (s *PostgresStorage) ComputableOrderIDs(ctx context.Context) ([]string, error) {
	ids, err := s.orderRepo.ComputableIDs(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list computable orders: %w", err)
	}
	return ids, nil
}

// UpdateOrder locks the order row, applies mutate and persists the result
// together with its audit entry and outbox event in one transaction.
func (s *PostgresStorage) UpdateOrder(ctx context.Context, orderID string, mutate Mutation) (_ *Order, err error) {
	tx, err := s.db.BeginTx(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	row, err := s.orderRepo.GetByIDTx(ctx, tx, orderID)
	if err != nil {
		if errors.Is(err, repository.ErrObjectNotFound) {
			return nil, fmt.Errorf("order %s: %w", orderID, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get order: %w", err)
	}

	order := fromRepoOrder(row)
	entry, err := mutate(&order)
	if err != nil {
		return nil, err
	}
	order.ID = orderID
	order.UpdatedAt = s.version()

	if err = s.orderRepo.UpdateTx(ctx, tx, toRepoOrder(order)); err != nil {
		return nil, fmt.Errorf("failed to update order: %w", err)
	}
	if entry != nil {
		if err = s.record(ctx, tx, order, *entry); err != nil {
			return nil, err
		}
	}
	if err = tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}
	return &order, nil
}

// SaveRecomputed writes derived fields of a batch of orders and their audit
// entries in one transaction. Timestamps are left untouched. Each order's
// UpdatedAt must be the version it was loaded with: an order whose row
// changed since then is skipped together with its entries and returned in
// stale. Saved orders get their new UpdatedAt in place.
func (s *PostgresStorage) SaveRecomputed(ctx context.Context, orders []Order, entries []HistoryEntry) (stale []string, err error) {
	if len(orders) == 0 && len(entries) == 0 {
		return nil, nil
	}

	tx, err := s.db.BeginTx(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	now := s.version()
	saved := make([]time.Time, len(orders))
	skipped := make(map[string]bool)
	for i, order := range orders {
		row := toRepoOrder(order)
		row.UpdatedAt = now
		err = s.orderRepo.UpdateDerivedTx(ctx, tx, row, order.UpdatedAt)
		if errors.Is(err, repository.ErrObjectNotFound) {
			err = nil
			skipped[order.ID] = true
			stale = append(stale, order.ID)
			saved[i] = order.UpdatedAt
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("failed to save derived fields of %s: %w", order.ID, err)
		}
		saved[i] = now
	}
	for _, entry := range entries {
		if skipped[entry.OrderID] {
			continue
		}
		if err = s.historyRepo.CreateTx(ctx, tx, toRepoHistory(entry)); err != nil {
			return nil, fmt.Errorf("failed to add order history entry: %w", err)
		}
	}
	if err = tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}

	for i := range orders {
		orders[i].UpdatedAt = saved[i]
	}
	return stale, nil
}

func (s *PostgresStorage) GetOrderHistory(ctx context.Context, orderID string) ([]HistoryEntry, error) {
	rows, err := s.historyRepo.GetByOrderID(ctx, orderID)
	if err != nil {
		return nil, fmt.Errorf("failed to get order history: %w", err)
	}

	entries := make([]HistoryEntry, len(rows))
	for i, r := range rows {
		entries[i] = HistoryEntry{
			OrderID:   r.OrderID,
			Action:    r.Action,
			Actor:     r.Actor,
			Role:      r.Role,
			Message:   r.Message,
			ChangedAt: r.ChangedAt,
		}
	}
	return entries, nil
}

// AttendanceFor loads attendance of the given employees overlapping
// [from, to], grouped by employee.
func (s *PostgresStorage) AttendanceFor(ctx context.Context, employeeIDs []string, from, to time.Time) (map[string][]Attendance, error) {
	out := make(map[string][]Attendance)
	if len(employeeIDs) == 0 {
		return out, nil
	}

	rows, err := s.attendanceRepo.ListForEmployees(ctx, employeeIDs, from, to)
	if err != nil {
		return nil, fmt.Errorf("failed to load attendance: %w", err)
	}
	for _, r := range rows {
		out[r.EmployeeID] = append(out[r.EmployeeID], Attendance{
			EmployeeID: r.EmployeeID,
			CheckIn:    r.CheckIn,
			CheckOut:   r.CheckOut,
		})
	}
	return out, nil
}

// version returns the write time used as updated_at, truncated to the
// column's microsecond precision so it compares equal after a round trip.
func (s *PostgresStorage) version() time.Time {
	return s.timeNow().UTC().Truncate(time.Microsecond)
}

func (s *PostgresStorage) record(ctx context.Context, tx db.Tx, order Order, entry HistoryEntry) error {
	entry.OrderID = order.ID
	if entry.ChangedAt.IsZero() {
		entry.ChangedAt = s.timeNow().UTC()
	}
	if err := s.historyRepo.CreateTx(ctx, tx, toRepoHistory(entry)); err != nil {
		return fmt.Errorf("failed to add order history entry: %w", err)
	}

	payload, err := json.Marshal(repository.OrderEventPayload{
		EventID:       uuid.New(),
		OrderID:       order.ID,
		Action:        entry.Action,
		Actor:         entry.Actor,
		Role:          entry.Role,
		Message:       entry.Message,
		Stage:         string(order.Derived.Stage),
		NetLeadTime:   order.Derived.NetLeadTime,
		TotalLeadTime: order.Derived.TotalLeadTime,
		OccurredAt:    entry.ChangedAt,
	})
	if err != nil {
		return fmt.Errorf("failed to marshal order event: %w", err)
	}

	task := &repository.OutboxTask{Payload: payload, Topic: s.topic}
	if err := s.outboxRepo.CreateTx(ctx, tx, task); err != nil {
		return fmt.Errorf("failed to enqueue order event: %w", err)
	}
	return nil
}
