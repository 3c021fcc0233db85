//go:generate mockgen -source ./service.go -destination=./mocks/service.go -package=mock_workshop
package workshop

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	gocache "github.com/patrickmn/go-cache"
	"go.uber.org/zap"

	"github.com/pitcar/leadtime/internal/leadtime"
	"github.com/pitcar/leadtime/internal/metrics"
	"github.com/pitcar/leadtime/internal/storage"
	"github.com/pitcar/leadtime/internal/workflow"
)

var ErrInvalidInput = errors.New("invalid input")

type Storage interface {
	AddOrder(ctx context.Context, order storage.Order, entry storage.HistoryEntry) error
	GetOrder(ctx context.Context, orderID string) (*storage.Order, error)
	GetOrders(ctx context.Context, orderIDs []string) ([]storage.Order, error)
	ListOrders(ctx context.Context, filter storage.ListFilter) ([]storage.Order, error)
	ComputableOrderIDs(ctx context.Context) ([]string, error)
	UpdateOrder(ctx context.Context, orderID string, mutate storage.Mutation) (*storage.Order, error)
	SaveRecomputed(ctx context.Context, orders []storage.Order, entries []storage.HistoryEntry) ([]string, error)
	GetOrderHistory(ctx context.Context, orderID string) ([]storage.HistoryEntry, error)
	AttendanceFor(ctx context.Context, employeeIDs []string, from, to time.Time) (map[string][]storage.Attendance, error)
}

type OrderCache interface {
	Get(orderID string) (storage.Order, bool)
	Set(order storage.Order)
}

type Options struct {
	BatchSize int
	Workers   int
	StatsTTL  time.Duration
}

type Service struct {
	storage   Storage
	cache     OrderCache
	engine    *leadtime.Engine
	machine   *workflow.Machine
	standards leadtime.Standards
	stats     *gocache.Cache
	opts      Options
	logger    *zap.Logger
	timeNow   func() time.Time
}

func New(st Storage, cache OrderCache, engine *leadtime.Engine, standards leadtime.Standards, opts Options, logger *zap.Logger) *Service {
	if opts.BatchSize <= 0 {
		opts.BatchSize = 50
	}
	if opts.Workers <= 0 {
		opts.Workers = 1
	}
	if opts.StatsTTL <= 0 {
		opts.StatsTTL = time.Minute
	}
	return &Service{
		storage:   st,
		cache:     cache,
		engine:    engine,
		machine:   workflow.NewMachine(engine.Schedule().Location),
		standards: standards,
		stats:     gocache.New(opts.StatsTTL, 2*opts.StatsTTL),
		opts:      opts,
		logger:    logger,
		timeNow:   time.Now,
	}
}

// Location is the business timezone used for calendar days.
func (s *Service) Location() *time.Location {
	return s.engine.Schedule().Location
}

type NewOrder struct {
	ID          string
	Category    storage.Category
	Subcategory storage.Subcategory
	MechanicIDs []string
	Notes       string
}

// Details carries the descriptive fields of an order. Nil fields are left
// unchanged.
type Details struct {
	Category    *storage.Category
	Subcategory *storage.Subcategory
	MechanicIDs []string
	Notes       *string
}

// OrderView is an order together with everything derived for display.
type OrderView struct {
	storage.Order
	State      workflow.State        `json:"state"`
	Compliance []leadtime.Compliance `json:"compliance"`
}

func (s *Service) CreateOrder(ctx context.Context, in NewOrder, actor workflow.Actor) (*storage.Order, error) {
	if err := storage.ValidateCategory(in.Category, in.Subcategory); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}

	order := storage.Order{
		ID:          in.ID,
		Category:    in.Category,
		Subcategory: in.Subcategory,
		MechanicIDs: in.MechanicIDs,
		Notes:       in.Notes,
	}
	if order.ID == "" {
		order.ID = uuid.NewString()
	}
	order.Derived = s.engine.Derive(string(order.Category), order.Timestamps)

	entry := storage.HistoryEntry{
		OrderID:   order.ID,
		Action:    "create_order",
		Actor:     actor.Name,
		Role:      string(actor.Role),
		Message:   fmt.Sprintf("order registered by %s (%s)", actor.Name, actor.Role),
		ChangedAt: s.timeNow().UTC(),
	}
	if err := s.storage.AddOrder(ctx, order, entry); err != nil {
		metrics.OperationErrorsTotal.WithLabelValues("create_order").Inc()
		return nil, err
	}

	metrics.OrdersCreatedTotal.Inc()
	s.afterWrite(order)
	s.logger.Info("order registered", zap.String("order_id", order.ID), zap.String("actor", actor.Name))
	return &order, nil
}

func (s *Service) GetOrder(ctx context.Context, orderID string) (*OrderView, error) {
	order, ok := s.cache.Get(orderID)
	if !ok {
		stored, err := s.storage.GetOrder(ctx, orderID)
		if err != nil {
			return nil, err
		}
		order = *stored
	}
	return s.view(order), nil
}

func (s *Service) ListOrders(ctx context.Context, filter storage.ListFilter) ([]storage.Order, error) {
	return s.storage.ListOrders(ctx, filter)
}

func (s *Service) History(ctx context.Context, orderID string) ([]storage.HistoryEntry, error) {
	if _, err := s.storage.GetOrder(ctx, orderID); err != nil {
		return nil, err
	}
	return s.storage.GetOrderHistory(ctx, orderID)
}

// UpdateDetails changes descriptive fields. The stage is recomputed since it
// depends on the category.
func (s *Service) UpdateDetails(ctx context.Context, orderID string, d Details, actor workflow.Actor) (*storage.Order, error) {
	now := s.timeNow().UTC()
	updated, err := s.storage.UpdateOrder(ctx, orderID, func(order *storage.Order) (*storage.HistoryEntry, error) {
		if d.Category != nil {
			order.Category = *d.Category
		}
		if d.Subcategory != nil {
			order.Subcategory = *d.Subcategory
		}
		if err := storage.ValidateCategory(order.Category, order.Subcategory); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidInput, err)
		}
		if d.MechanicIDs != nil {
			order.MechanicIDs = d.MechanicIDs
		}
		if d.Notes != nil {
			order.Notes = *d.Notes
		}
		order.Derived = s.engine.Derive(string(order.Category), order.Timestamps)

		return &storage.HistoryEntry{
			Action:    "update_details",
			Actor:     actor.Name,
			Role:      string(actor.Role),
			Message:   fmt.Sprintf("details updated by %s (%s)", actor.Name, actor.Role),
			ChangedAt: now,
		}, nil
	})
	if err != nil {
		metrics.OperationErrorsTotal.WithLabelValues("update_details").Inc()
		return nil, err
	}

	s.afterWrite(*updated)
	return updated, nil
}

func (s *Service) view(order storage.Order) *OrderView {
	return &OrderView{
		Order:      order,
		State:      workflow.StateOf(string(order.Category), order.Timestamps),
		Compliance: s.standards.Evaluate(order.Timestamps, s.engine.Compute(order.Timestamps)),
	}
}

func (s *Service) afterWrite(order storage.Order) {
	s.cache.Set(order)
	s.stats.Flush()
}
