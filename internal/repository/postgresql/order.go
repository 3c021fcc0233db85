package postgresql

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v4"

	"github.com/pitcar/leadtime/internal/db"
	"github.com/pitcar/leadtime/internal/repository"
	"github.com/pitcar/leadtime/internal/storage"
)

var psql = sq.StatementBuilder.PlaceholderFormat(sq.Dollar)

var (
	identityColumns = []string{"id", "category", "subcategory", "mechanic_ids", "notes"}

	timestampColumns = []string{
		"arrival_at", "reception_start_at", "document_printed_at",
		"estimate_start_at", "estimate_end_at",
		"service_start_at", "service_end_at", "unit_exit_at",
		"await_confirmation_start", "await_confirmation_end",
		"await_part_1_start", "await_part_1_end",
		"await_part_2_start", "await_part_2_end",
		"break_start", "break_end",
		"await_sublet_start", "await_sublet_end",
		"other_start", "other_end",
	}

	derivedColumns = []string{
		"reception_wait_hours", "reception_hours", "pre_service_wait_hours", "estimate_hours",
		"await_confirmation_hours", "await_part_1_hours", "await_part_2_hours",
		"break_hours", "await_sublet_hours", "other_hours",
		"auto_lunch_hours", "job_stop_total_hours",
		"total_lead_time_hours", "net_lead_time_hours", "overall_lead_time_hours",
		"is_overnight", "progress_percentage", "stage",
	}

	orderColumns = concat(identityColumns, timestampColumns, derivedColumns, []string{"created_at", "updated_at"})
	selectOrder  = "SELECT " + strings.Join(orderColumns, ", ") + " FROM orders"
)

func concat(groups ...[]string) []string {
	var out []string
	for _, g := range groups {
		out = append(out, g...)
	}
	return out
}

type OrderRepo struct {
	db db.DB
}

func NewOrderRepo(db db.DB) storage.OrderRepository {
	return &OrderRepo{db: db}
}

func detailValues(o *repository.Order) sq.Eq {
	mechanics := o.MechanicIDs
	if mechanics == nil {
		// mechanic_ids is NOT NULL; a nil slice would be encoded as NULL.
		mechanics = []string{}
	}
	return sq.Eq{
		"category":     o.Category,
		"subcategory":  o.Subcategory,
		"mechanic_ids": mechanics,
		"notes":        o.Notes,
	}
}

func timestampValues(o *repository.Order) sq.Eq {
	return sq.Eq{
		"arrival_at":               o.ArrivalAt,
		"reception_start_at":       o.ReceptionStartAt,
		"document_printed_at":      o.DocumentPrintedAt,
		"estimate_start_at":        o.EstimateStartAt,
		"estimate_end_at":          o.EstimateEndAt,
		"service_start_at":         o.ServiceStartAt,
		"service_end_at":           o.ServiceEndAt,
		"unit_exit_at":             o.UnitExitAt,
		"await_confirmation_start": o.AwaitConfirmationStart,
		"await_confirmation_end":   o.AwaitConfirmationEnd,
		"await_part_1_start":       o.AwaitPart1Start,
		"await_part_1_end":         o.AwaitPart1End,
		"await_part_2_start":       o.AwaitPart2Start,
		"await_part_2_end":         o.AwaitPart2End,
		"break_start":              o.BreakStart,
		"break_end":                o.BreakEnd,
		"await_sublet_start":       o.AwaitSubletStart,
		"await_sublet_end":         o.AwaitSubletEnd,
		"other_start":              o.OtherStart,
		"other_end":                o.OtherEnd,
	}
}

func derivedValues(o *repository.Order) sq.Eq {
	return sq.Eq{
		"reception_wait_hours":     o.ReceptionWaitHours,
		"reception_hours":          o.ReceptionHours,
		"pre_service_wait_hours":   o.PreServiceWaitHours,
		"estimate_hours":           o.EstimateHours,
		"await_confirmation_hours": o.AwaitConfirmationHours,
		"await_part_1_hours":       o.AwaitPart1Hours,
		"await_part_2_hours":       o.AwaitPart2Hours,
		"break_hours":              o.BreakHours,
		"await_sublet_hours":       o.AwaitSubletHours,
		"other_hours":              o.OtherHours,
		"auto_lunch_hours":         o.AutoLunchHours,
		"job_stop_total_hours":     o.JobStopTotalHours,
		"total_lead_time_hours":    o.TotalLeadTimeHours,
		"net_lead_time_hours":      o.NetLeadTimeHours,
		"overall_lead_time_hours":  o.OverallLeadTimeHours,
		"is_overnight":             o.IsOvernight,
		"progress_percentage":      o.ProgressPercentage,
		"stage":                    o.Stage,
	}
}

func merge(groups ...sq.Eq) map[string]interface{} {
	out := make(map[string]interface{})
	for _, g := range groups {
		for k, v := range g {
			out[k] = v
		}
	}
	return out
}

func (r *OrderRepo) CreateTx(ctx context.Context, tx db.Tx, order *repository.Order) error {
	values := merge(detailValues(order), timestampValues(order), derivedValues(order))
	values["id"] = order.ID
	values["created_at"] = order.CreatedAt
	values["updated_at"] = order.UpdatedAt

	query, args, err := psql.Insert("orders").SetMap(values).ToSql()
	if err != nil {
		return fmt.Errorf("failed to build insert: %w", err)
	}
	_, err = tx.Exec(ctx, query, args...)
	return err
}

func (r *OrderRepo) GetByID(ctx context.Context, id string) (*repository.Order, error) {
	var order repository.Order
	err := r.db.Get(ctx, &order, selectOrder+" WHERE id = $1", id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, repository.ErrObjectNotFound
		}
		return nil, err
	}
	return &order, nil
}

func (r *OrderRepo) GetByIDTx(ctx context.Context, tx db.Tx, id string) (*repository.Order, error) {
	var order repository.Order
	err := tx.Get(ctx, &order, selectOrder+" WHERE id = $1 FOR UPDATE", id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, repository.ErrObjectNotFound
		}
		return nil, err
	}
	return &order, nil
}

func (r *OrderRepo) GetByIDs(ctx context.Context, ids []string) ([]*repository.Order, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	var orders []*repository.Order
	err := r.db.Select(ctx, &orders, selectOrder+" WHERE id = ANY($1) ORDER BY id", ids)
	if err != nil {
		return nil, fmt.Errorf("failed to get orders by ids: %w", err)
	}
	return orders, nil
}

func (r *OrderRepo) List(ctx context.Context, filter repository.OrderFilter) ([]*repository.Order, error) {
	q := psql.Select(orderColumns...).From("orders").OrderBy("arrival_at DESC NULLS LAST", "id")
	if filter.Stage != "" {
		q = q.Where(sq.Eq{"stage": filter.Stage})
	}
	if filter.Category != "" {
		q = q.Where(sq.Eq{"category": filter.Category})
	}
	if filter.ArrivedFrom != nil {
		q = q.Where(sq.GtOrEq{"arrival_at": *filter.ArrivedFrom})
	}
	if filter.ArrivedTo != nil {
		q = q.Where(sq.Lt{"arrival_at": *filter.ArrivedTo})
	}
	if filter.Limit > 0 {
		q = q.Limit(filter.Limit)
	}

	query, args, err := q.ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build order listing: %w", err)
	}

	var orders []*repository.Order
	if err := r.db.Select(ctx, &orders, query, args...); err != nil {
		return nil, fmt.Errorf("failed to list orders: %w", err)
	}
	return orders, nil
}

func (r *OrderRepo) ListActive(ctx context.Context) ([]*repository.Order, error) {
	var orders []*repository.Order
	err := r.db.Select(ctx, &orders, selectOrder+`
        WHERE arrival_at IS NOT NULL AND unit_exit_at IS NULL
        ORDER BY arrival_at ASC`)
	if err != nil {
		return nil, fmt.Errorf("failed to get active orders: %w", err)
	}
	return orders, nil
}

func (r *OrderRepo) ComputableIDs(ctx context.Context) ([]string, error) {
	var ids []string
	err := r.db.Select(ctx, &ids, `
        SELECT id FROM orders
        WHERE service_start_at IS NOT NULL AND service_end_at IS NOT NULL
        ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("failed to get computable order ids: %w", err)
	}
	return ids, nil
}

func (r *OrderRepo) UpdateTx(ctx context.Context, tx db.Tx, order *repository.Order) error {
	values := merge(detailValues(order), timestampValues(order), derivedValues(order))
	return r.update(ctx, tx, order.ID, order.UpdatedAt, values)
}

// UpdateDerivedTx writes derived columns only while the row still carries
// loadedAt as its updated_at. A row changed since it was read, or removed,
// yields ErrObjectNotFound.
func (r *OrderRepo) UpdateDerivedTx(ctx context.Context, tx db.Tx, order *repository.Order, loadedAt time.Time) error {
	return r.update(ctx, tx, order.ID, order.UpdatedAt, merge(derivedValues(order)), sq.Eq{"updated_at": loadedAt})
}

func (r *OrderRepo) update(ctx context.Context, tx db.Tx, id string, updatedAt time.Time, values map[string]interface{}, guards ...sq.Sqlizer) error {
	values["updated_at"] = updatedAt
	q := psql.Update("orders").SetMap(values).Where(sq.Eq{"id": id})
	for _, g := range guards {
		q = q.Where(g)
	}
	query, args, err := q.ToSql()
	if err != nil {
		return fmt.Errorf("failed to build update: %w", err)
	}

	tag, err := tx.Exec(ctx, query, args...)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return repository.ErrObjectNotFound
	}
	return nil
}
