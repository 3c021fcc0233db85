package storage

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	mock_database "github.com/pitcar/leadtime/internal/db/mocks"
	"github.com/pitcar/leadtime/internal/leadtime"
	"github.com/pitcar/leadtime/internal/repository"
	mock_storage "github.com/pitcar/leadtime/internal/storage/mocks"
)

var fixedNow = time.Date(2024, time.March, 4, 8, 0, 0, 0, time.UTC)

type fixture struct {
	storage    *PostgresStorage
	db         *mock_database.MockDB
	tx         *mock_database.MockTx
	orders     *mock_storage.MockOrderRepository
	history    *mock_storage.MockHistoryRepository
	attendance *mock_storage.MockAttendanceRepository
	outbox     *mock_storage.MockOutboxTaskRepository
}

func newFixture(t *testing.T) fixture {
	ctrl := gomock.NewController(t)
	f := fixture{
		db:         mock_database.NewMockDB(ctrl),
		tx:         mock_database.NewMockTx(ctrl),
		orders:     mock_storage.NewMockOrderRepository(ctrl),
		history:    mock_storage.NewMockHistoryRepository(ctrl),
		attendance: mock_storage.NewMockAttendanceRepository(ctrl),
		outbox:     mock_storage.NewMockOutboxTaskRepository(ctrl),
	}
	f.storage = NewStorage(f.db, f.orders, f.history, f.attendance, f.outbox, "service_order_events")
	f.storage.timeNow = func() time.Time { return fixedNow }
	return f
}

func TestAddOrder(t *testing.T) {
	ctx := context.Background()
	entry := HistoryEntry{Action: "create_order", Actor: "andi", Role: "controller", Message: "order registered by andi (controller)"}

	t.Run("writes order, history and event", func(t *testing.T) {
		f := newFixture(t)
		f.db.EXPECT().BeginTx(ctx).Return(f.tx, nil)
		f.orders.EXPECT().
			CreateTx(ctx, f.tx, gomock.Any()).
			DoAndReturn(func(_ context.Context, _ interface{}, o *repository.Order) error {
				assert.Equal(t, "SO-1", o.ID)
				assert.Equal(t, "maintenance", o.Category)
				assert.Equal(t, fixedNow, o.CreatedAt)
				return nil
			})
		f.history.EXPECT().
			CreateTx(ctx, f.tx, &repository.HistoryEntry{
				OrderID:   "SO-1",
				Action:    "create_order",
				Actor:     "andi",
				Role:      "controller",
				Message:   entry.Message,
				ChangedAt: fixedNow,
			}).
			Return(nil)
		f.outbox.EXPECT().
			CreateTx(ctx, f.tx, gomock.Any()).
			DoAndReturn(func(_ context.Context, _ interface{}, task *repository.OutboxTask) error {
				assert.Equal(t, "service_order_events", task.Topic)
				var event repository.OrderEventPayload
				require.NoError(t, json.Unmarshal(task.Payload, &event))
				assert.Equal(t, "SO-1", event.OrderID)
				assert.Equal(t, "create_order", event.Action)
				assert.Equal(t, "not_started", event.Stage)
				return nil
			})
		f.tx.EXPECT().Commit(ctx).Return(nil)

		order := Order{ID: "SO-1", Category: CategoryMaintenance}
		order.Derived.Stage = leadtime.StageNotStarted
		require.NoError(t, f.storage.AddOrder(ctx, order, entry))
	})

	t.Run("duplicate id", func(t *testing.T) {
		f := newFixture(t)
		f.db.EXPECT().BeginTx(ctx).Return(f.tx, nil)
		f.orders.EXPECT().CreateTx(ctx, f.tx, gomock.Any()).Return(&pgconn.PgError{Code: "23505"})
		f.tx.EXPECT().Rollback(ctx).Return(nil)

		err := f.storage.AddOrder(ctx, Order{ID: "SO-1"}, entry)
		assert.ErrorIs(t, err, ErrAlreadyExists)
	})

	t.Run("outbox failure rolls back", func(t *testing.T) {
		f := newFixture(t)
		f.db.EXPECT().BeginTx(ctx).Return(f.tx, nil)
		f.orders.EXPECT().CreateTx(ctx, f.tx, gomock.Any()).Return(nil)
		f.history.EXPECT().CreateTx(ctx, f.tx, gomock.Any()).Return(nil)
		f.outbox.EXPECT().CreateTx(ctx, f.tx, gomock.Any()).Return(errors.New("disk full"))
		f.tx.EXPECT().Rollback(ctx).Return(nil)

		err := f.storage.AddOrder(ctx, Order{ID: "SO-1"}, entry)
		assert.ErrorContains(t, err, "failed to enqueue order event")
	})
}

func TestGetOrder(t *testing.T) {
	ctx := context.Background()

	t.Run("converts row", func(t *testing.T) {
		f := newFixture(t)
		arrival := fixedNow
		f.orders.EXPECT().GetByID(ctx, "SO-1").Return(&repository.Order{
			ID:                 "SO-1",
			Category:           "repair",
			ArrivalAt:          &arrival,
			NetLeadTimeHours:   1.5,
			Stage:              "checked_in",
			AwaitPart1Start:    &arrival,
			TotalLeadTimeHours: 2,
		}, nil)

		order, err := f.storage.GetOrder(ctx, "SO-1")
		require.NoError(t, err)
		assert.Equal(t, CategoryRepair, order.Category)
		assert.Equal(t, &arrival, order.Timestamps.Arrival)
		assert.Equal(t, &arrival, order.Timestamps.Stops.AwaitPart1.Start)
		assert.Equal(t, 1.5, order.Derived.NetLeadTime)
		assert.Equal(t, leadtime.StageCheckedIn, order.Derived.Stage)
	})

	t.Run("not found", func(t *testing.T) {
		f := newFixture(t)
		f.orders.EXPECT().GetByID(ctx, "SO-404").Return(nil, repository.ErrObjectNotFound)

		_, err := f.storage.GetOrder(ctx, "SO-404")
		assert.ErrorIs(t, err, ErrNotFound)
	})
}

func TestUpdateOrder(t *testing.T) {
	ctx := context.Background()

	t.Run("mutation with entry", func(t *testing.T) {
		f := newFixture(t)
		f.db.EXPECT().BeginTx(ctx).Return(f.tx, nil)
		f.orders.EXPECT().GetByIDTx(ctx, f.tx, "SO-1").Return(&repository.Order{ID: "SO-1"}, nil)
		f.orders.EXPECT().
			UpdateTx(ctx, f.tx, gomock.Any()).
			DoAndReturn(func(_ context.Context, _ interface{}, o *repository.Order) error {
				require.NotNil(t, o.ArrivalAt)
				assert.Equal(t, fixedNow, o.UpdatedAt)
				return nil
			})
		f.history.EXPECT().CreateTx(ctx, f.tx, gomock.Any()).Return(nil)
		f.outbox.EXPECT().CreateTx(ctx, f.tx, gomock.Any()).Return(nil)
		f.tx.EXPECT().Commit(ctx).Return(nil)

		updated, err := f.storage.UpdateOrder(ctx, "SO-1", func(o *Order) (*HistoryEntry, error) {
			at := fixedNow
			o.Timestamps.Arrival = &at
			return &HistoryEntry{Action: "record_arrival", Actor: "andi"}, nil
		})
		require.NoError(t, err)
		assert.NotNil(t, updated.Timestamps.Arrival)
	})

	t.Run("rejected mutation rolls back", func(t *testing.T) {
		f := newFixture(t)
		rejected := errors.New("precondition failed")
		f.db.EXPECT().BeginTx(ctx).Return(f.tx, nil)
		f.orders.EXPECT().GetByIDTx(ctx, f.tx, "SO-1").Return(&repository.Order{ID: "SO-1"}, nil)
		f.tx.EXPECT().Rollback(ctx).Return(nil)

		_, err := f.storage.UpdateOrder(ctx, "SO-1", func(*Order) (*HistoryEntry, error) {
			return nil, rejected
		})
		assert.ErrorIs(t, err, rejected)
	})

	t.Run("missing order", func(t *testing.T) {
		f := newFixture(t)
		f.db.EXPECT().BeginTx(ctx).Return(f.tx, nil)
		f.orders.EXPECT().GetByIDTx(ctx, f.tx, "SO-404").Return(nil, repository.ErrObjectNotFound)
		f.tx.EXPECT().Rollback(ctx).Return(nil)

		_, err := f.storage.UpdateOrder(ctx, "SO-404", func(*Order) (*HistoryEntry, error) {
			t.Fatal("mutation must not run")
			return nil, nil
		})
		assert.ErrorIs(t, err, ErrNotFound)
	})
}

func TestSaveRecomputed(t *testing.T) {
	ctx := context.Background()
	loadedAt := fixedNow.Add(-time.Hour)

	t.Run("nothing to save", func(t *testing.T) {
		f := newFixture(t)
		stale, err := f.storage.SaveRecomputed(ctx, nil, nil)
		assert.NoError(t, err)
		assert.Empty(t, stale)
	})

	t.Run("derived fields and entries", func(t *testing.T) {
		f := newFixture(t)
		f.db.EXPECT().BeginTx(ctx).Return(f.tx, nil)
		f.orders.EXPECT().
			UpdateDerivedTx(ctx, f.tx, gomock.Any(), loadedAt).
			DoAndReturn(func(_ context.Context, _ interface{}, o *repository.Order, _ time.Time) error {
				assert.Equal(t, fixedNow, o.UpdatedAt)
				return nil
			}).
			Times(2)
		f.history.EXPECT().CreateTx(ctx, f.tx, gomock.Any()).Return(nil)
		f.tx.EXPECT().Commit(ctx).Return(nil)

		orders := []Order{{ID: "SO-1", UpdatedAt: loadedAt}, {ID: "SO-2", UpdatedAt: loadedAt}}
		stale, err := f.storage.SaveRecomputed(ctx, orders, []HistoryEntry{{OrderID: "SO-1", Action: "recompute"}})
		require.NoError(t, err)
		assert.Empty(t, stale)
		assert.Equal(t, fixedNow, orders[0].UpdatedAt)
		assert.Equal(t, fixedNow, orders[1].UpdatedAt)
	})

	t.Run("order changed after it was loaded", func(t *testing.T) {
		f := newFixture(t)
		f.db.EXPECT().BeginTx(ctx).Return(f.tx, nil)
		f.orders.EXPECT().
			UpdateDerivedTx(ctx, f.tx, gomock.Any(), loadedAt).
			DoAndReturn(func(_ context.Context, _ interface{}, o *repository.Order, _ time.Time) error {
				if o.ID == "SO-1" {
					return repository.ErrObjectNotFound
				}
				return nil
			}).
			Times(2)
		f.history.EXPECT().
			CreateTx(ctx, f.tx, gomock.Any()).
			DoAndReturn(func(_ context.Context, _ interface{}, e *repository.HistoryEntry) error {
				assert.Equal(t, "SO-2", e.OrderID)
				return nil
			})
		f.tx.EXPECT().Commit(ctx).Return(nil)

		orders := []Order{{ID: "SO-1", UpdatedAt: loadedAt}, {ID: "SO-2", UpdatedAt: loadedAt}}
		stale, err := f.storage.SaveRecomputed(ctx, orders, []HistoryEntry{
			{OrderID: "SO-1", Action: "recompute"},
			{OrderID: "SO-2", Action: "recompute"},
		})
		require.NoError(t, err)
		assert.Equal(t, []string{"SO-1"}, stale)
		assert.Equal(t, loadedAt, orders[0].UpdatedAt)
		assert.Equal(t, fixedNow, orders[1].UpdatedAt)
	})

	t.Run("failure rolls back", func(t *testing.T) {
		f := newFixture(t)
		f.db.EXPECT().BeginTx(ctx).Return(f.tx, nil)
		f.orders.EXPECT().UpdateDerivedTx(ctx, f.tx, gomock.Any(), gomock.Any()).Return(errors.New("deadlock"))
		f.tx.EXPECT().Rollback(ctx).Return(nil)

		_, err := f.storage.SaveRecomputed(ctx, []Order{{ID: "SO-1"}}, nil)
		assert.ErrorContains(t, err, "SO-1")
	})
}

func TestAttendanceFor(t *testing.T) {
	ctx := context.Background()
	from, to := fixedNow, fixedNow.Add(8*time.Hour)

	t.Run("no employees", func(t *testing.T) {
		f := newFixture(t)
		out, err := f.storage.AttendanceFor(ctx, nil, from, to)
		require.NoError(t, err)
		assert.Empty(t, out)
	})

	t.Run("groups by employee", func(t *testing.T) {
		f := newFixture(t)
		f.attendance.EXPECT().ListForEmployees(ctx, []string{"M-1", "M-2"}, from, to).Return([]*repository.Attendance{
			{EmployeeID: "M-1", CheckIn: from},
			{EmployeeID: "M-1", CheckIn: from.Add(5 * time.Hour)},
			{EmployeeID: "M-2", CheckIn: from},
		}, nil)

		out, err := f.storage.AttendanceFor(ctx, []string{"M-1", "M-2"}, from, to)
		require.NoError(t, err)
		assert.Len(t, out["M-1"], 2)
		assert.Len(t, out["M-2"], 1)
	})
}

func TestGetOrderHistory(t *testing.T) {
	f := newFixture(t)
	f.history.EXPECT().GetByOrderID(gomock.Any(), "SO-1").Return([]*repository.HistoryEntry{
		{ID: 7, OrderID: "SO-1", Action: "start_service", Actor: "andi", ChangedAt: fixedNow},
	}, nil)

	entries, err := f.storage.GetOrderHistory(context.Background(), "SO-1")
	require.NoError(t, err)
	assert.Equal(t, []HistoryEntry{{OrderID: "SO-1", Action: "start_service", Actor: "andi", ChangedAt: fixedNow}}, entries)
}
