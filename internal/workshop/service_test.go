package workshop

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
	"go.uber.org/zap"

	"github.com/pitcar/leadtime/internal/leadtime"
	"github.com/pitcar/leadtime/internal/stats"
	"github.com/pitcar/leadtime/internal/storage"
	"github.com/pitcar/leadtime/internal/workflow"
	mock_workshop "github.com/pitcar/leadtime/internal/workshop/mocks"
)

var (
	wib        = time.FixedZone("WIB", 7*3600)
	controller = workflow.Actor{Name: "andi", Role: workflow.RoleController}
	advisor    = workflow.Actor{Name: "sari", Role: workflow.RoleServiceAdvisor}
)

func at(day, hour, minute int) *time.Time {
	t := time.Date(2024, time.March, day, hour, minute, 0, 0, wib).UTC()
	return &t
}

type fixture struct {
	svc     *Service
	storage *mock_workshop.MockStorage
	cache   *mock_workshop.MockOrderCache
}

func newFixture(t *testing.T) fixture {
	ctrl := gomock.NewController(t)
	st := mock_workshop.NewMockStorage(ctrl)
	cache := mock_workshop.NewMockOrderCache(ctrl)

	engine := leadtime.NewEngine(leadtime.DefaultSchedule(wib))
	svc := New(st, cache, engine, leadtime.DefaultStandards(), Options{BatchSize: 2, Workers: 1}, zap.NewNop())
	svc.timeNow = func() time.Time { return *at(4, 15, 0) }

	return fixture{svc: svc, storage: st, cache: cache}
}

// applyTo makes UpdateOrder run the mutation against a copy of order and
// records the resulting history entry.
func applyTo(order storage.Order, entry **storage.HistoryEntry) func(context.Context, string, storage.Mutation) (*storage.Order, error) {
	return func(_ context.Context, _ string, mutate storage.Mutation) (*storage.Order, error) {
		o := order
		e, err := mutate(&o)
		if err != nil {
			return nil, err
		}
		*entry = e
		return &o, nil
	}
}

func readyForService() storage.Order {
	return storage.Order{
		ID:       "SO-1",
		Category: storage.CategoryMaintenance,
		Timestamps: leadtime.Timestamps{
			Arrival:         at(4, 8, 0),
			ReceptionStart:  at(4, 8, 10),
			DocumentPrinted: at(4, 8, 30),
		},
	}
}

func TestCreateOrder(t *testing.T) {
	ctx := context.Background()

	t.Run("registers order with audit entry", func(t *testing.T) {
		f := newFixture(t)

		var stored storage.Order
		f.storage.EXPECT().AddOrder(ctx, gomock.Any(), gomock.Any()).
			DoAndReturn(func(_ context.Context, o storage.Order, e storage.HistoryEntry) error {
				stored = o
				assert.Equal(t, "create_order", e.Action)
				assert.Equal(t, "sari", e.Actor)
				assert.Equal(t, o.ID, e.OrderID)
				return nil
			})
		f.cache.EXPECT().Set(gomock.Any())

		order, err := f.svc.CreateOrder(ctx, NewOrder{
			ID:          "SO-1",
			Category:    storage.CategoryMaintenance,
			Subcategory: storage.SubcategoryOilChange,
		}, advisor)
		require.NoError(t, err)
		assert.Equal(t, "SO-1", stored.ID)
		assert.Equal(t, leadtime.StageCategorySelected, order.Derived.Stage)
	})

	t.Run("generates id", func(t *testing.T) {
		f := newFixture(t)
		f.storage.EXPECT().AddOrder(ctx, gomock.Any(), gomock.Any()).Return(nil)
		f.cache.EXPECT().Set(gomock.Any())

		order, err := f.svc.CreateOrder(ctx, NewOrder{}, advisor)
		require.NoError(t, err)
		assert.NotEmpty(t, order.ID)
		assert.Equal(t, leadtime.StageNotStarted, order.Derived.Stage)
	})

	t.Run("rejects subcategory of another category", func(t *testing.T) {
		f := newFixture(t)

		_, err := f.svc.CreateOrder(ctx, NewOrder{
			Category:    storage.CategoryRepair,
			Subcategory: storage.SubcategoryTuneUp,
		}, advisor)
		assert.ErrorIs(t, err, ErrInvalidInput)
	})

	t.Run("duplicate id", func(t *testing.T) {
		f := newFixture(t)
		f.storage.EXPECT().AddOrder(ctx, gomock.Any(), gomock.Any()).Return(storage.ErrAlreadyExists)

		_, err := f.svc.CreateOrder(ctx, NewOrder{ID: "SO-1"}, advisor)
		assert.ErrorIs(t, err, storage.ErrAlreadyExists)
	})
}

func TestGetOrder(t *testing.T) {
	ctx := context.Background()

	t.Run("from cache", func(t *testing.T) {
		f := newFixture(t)
		order := readyForService()
		f.cache.EXPECT().Get("SO-1").Return(order, true)

		view, err := f.svc.GetOrder(ctx, "SO-1")
		require.NoError(t, err)
		assert.Equal(t, workflow.StateDocumentPrinted, view.State)
		// reception wait 10 and reception 20 minutes are measured.
		require.Len(t, view.Compliance, 2)
		assert.Equal(t, leadtime.StandardReception, view.Compliance[0].Key)
		assert.True(t, view.Compliance[0].Exceeded)
	})

	t.Run("from storage", func(t *testing.T) {
		f := newFixture(t)
		order := readyForService()
		f.cache.EXPECT().Get("SO-1").Return(storage.Order{}, false)
		f.storage.EXPECT().GetOrder(ctx, "SO-1").Return(&order, nil)

		view, err := f.svc.GetOrder(ctx, "SO-1")
		require.NoError(t, err)
		assert.Equal(t, "SO-1", view.ID)
	})

	t.Run("not found", func(t *testing.T) {
		f := newFixture(t)
		f.cache.EXPECT().Get("SO-404").Return(storage.Order{}, false)
		f.storage.EXPECT().GetOrder(ctx, "SO-404").Return(nil, storage.ErrNotFound)

		_, err := f.svc.GetOrder(ctx, "SO-404")
		assert.ErrorIs(t, err, storage.ErrNotFound)
	})
}

func TestTransition(t *testing.T) {
	ctx := context.Background()

	t.Run("start service stamps now and recomputes", func(t *testing.T) {
		f := newFixture(t)

		var entry *storage.HistoryEntry
		f.storage.EXPECT().UpdateOrder(ctx, "SO-1", gomock.Any()).DoAndReturn(applyTo(readyForService(), &entry))
		f.cache.EXPECT().Set(gomock.Any())

		order, err := f.svc.Transition(ctx, "SO-1", TransitionRequest{
			Command: workflow.Command{Action: workflow.ActionStartService},
		}, controller)
		require.NoError(t, err)

		assert.Equal(t, at(4, 15, 0), order.Timestamps.ServiceStart)
		assert.Equal(t, leadtime.StageInService, order.Derived.Stage)
		assert.InDelta(t, 70.0, order.Derived.Progress, 1e-9)

		require.NotNil(t, entry)
		assert.Equal(t, "start_service", entry.Action)
		assert.Equal(t, "controller", entry.Role)
		assert.Equal(t, "start_service at 2024-03-04 15:00:00 by andi (controller)", entry.Message)
	})

	t.Run("complete service with notes", func(t *testing.T) {
		f := newFixture(t)
		order := readyForService()
		order.Timestamps.ServiceStart = at(4, 9, 0)

		var entry *storage.HistoryEntry
		f.storage.EXPECT().UpdateOrder(ctx, "SO-1", gomock.Any()).DoAndReturn(applyTo(order, &entry))
		f.cache.EXPECT().Set(gomock.Any())

		notes := "brake pads replaced"
		got, err := f.svc.Transition(ctx, "SO-1", TransitionRequest{
			Command: workflow.Command{Action: workflow.ActionCompleteService, At: *at(4, 11, 0)},
			Notes:   &notes,
		}, controller)
		require.NoError(t, err)
		assert.Equal(t, notes, got.Notes)
		assert.InDelta(t, 2.0, got.Derived.TotalLeadTime, 1e-9)
		assert.InDelta(t, 2.0, got.Derived.NetLeadTime, 1e-9)
	})

	t.Run("wrong role is forbidden", func(t *testing.T) {
		f := newFixture(t)

		var entry *storage.HistoryEntry
		f.storage.EXPECT().UpdateOrder(ctx, "SO-1", gomock.Any()).DoAndReturn(applyTo(readyForService(), &entry))

		_, err := f.svc.Transition(ctx, "SO-1", TransitionRequest{
			Command: workflow.Command{Action: workflow.ActionStartService},
		}, advisor)
		assert.ErrorIs(t, err, workflow.ErrForbidden)
		assert.Nil(t, entry)
	})

	t.Run("precondition failure", func(t *testing.T) {
		f := newFixture(t)
		order := readyForService()
		order.Timestamps.DocumentPrinted = nil

		var entry *storage.HistoryEntry
		f.storage.EXPECT().UpdateOrder(ctx, "SO-1", gomock.Any()).DoAndReturn(applyTo(order, &entry))

		_, err := f.svc.Transition(ctx, "SO-1", TransitionRequest{
			Command: workflow.Command{Action: workflow.ActionStartService},
		}, controller)
		assert.ErrorIs(t, err, workflow.ErrPreconditionFailed)
	})

	t.Run("storage failure", func(t *testing.T) {
		f := newFixture(t)
		f.storage.EXPECT().UpdateOrder(ctx, "SO-1", gomock.Any()).Return(nil, errors.New("connection reset"))

		_, err := f.svc.Transition(ctx, "SO-1", TransitionRequest{
			Command: workflow.Command{Action: workflow.ActionRecordArrival},
		}, controller)
		assert.EqualError(t, err, "connection reset")
	})
}

func TestUpdateDetails(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	var entry *storage.HistoryEntry
	f.storage.EXPECT().UpdateOrder(ctx, "SO-1", gomock.Any()).DoAndReturn(applyTo(storage.Order{ID: "SO-1"}, &entry))
	f.cache.EXPECT().Set(gomock.Any())

	category := storage.CategoryRepair
	got, err := f.svc.UpdateDetails(ctx, "SO-1", Details{Category: &category, MechanicIDs: []string{"M-1"}}, advisor)
	require.NoError(t, err)
	assert.Equal(t, storage.CategoryRepair, got.Category)
	assert.Equal(t, []string{"M-1"}, got.MechanicIDs)
	assert.Equal(t, leadtime.StageCategorySelected, got.Derived.Stage)
	assert.Equal(t, "update_details", entry.Action)
}

func TestRecompute(t *testing.T) {
	ctx := context.Background()

	completed := readyForService()
	completed.Timestamps.ServiceStart = at(4, 11, 30)
	completed.Timestamps.ServiceEnd = at(4, 13, 30)

	t.Run("stale values are replaced and audited", func(t *testing.T) {
		f := newFixture(t)

		var entry *storage.HistoryEntry
		f.storage.EXPECT().UpdateOrder(ctx, "SO-1", gomock.Any()).DoAndReturn(applyTo(completed, &entry))
		f.cache.EXPECT().Set(gomock.Any())

		got, err := f.svc.Recompute(ctx, "SO-1", controller)
		require.NoError(t, err)
		assert.InDelta(t, 1.0, got.Derived.NetLeadTime, 1e-9)
		require.NotNil(t, entry)
		assert.Equal(t, "lead time recomputed: total 0.00 -> 2.00 h, net 0.00 -> 1.00 h", entry.Message)
	})

	t.Run("unchanged values write no entry", func(t *testing.T) {
		f := newFixture(t)
		current := completed
		current.Derived = f.svc.engine.Derive(string(current.Category), current.Timestamps)

		var entry *storage.HistoryEntry
		f.storage.EXPECT().UpdateOrder(ctx, "SO-1", gomock.Any()).DoAndReturn(applyTo(current, &entry))
		f.cache.EXPECT().Set(gomock.Any())

		_, err := f.svc.Recompute(ctx, "SO-1", controller)
		require.NoError(t, err)
		assert.Nil(t, entry)
	})
}

func TestHistory(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	entries := []storage.HistoryEntry{{OrderID: "SO-1", Action: "create_order"}}
	f.storage.EXPECT().GetOrder(ctx, "SO-1").Return(&storage.Order{ID: "SO-1"}, nil)
	f.storage.EXPECT().GetOrderHistory(ctx, "SO-1").Return(entries, nil)

	got, err := f.svc.History(ctx, "SO-1")
	require.NoError(t, err)
	assert.Equal(t, entries, got)
}

func TestStatistics_Cached(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	r := stats.Day(*at(4, 9, 0), wib)
	order := readyForService()
	order.Derived = f.svc.engine.Derive(string(order.Category), order.Timestamps)

	f.storage.EXPECT().ListOrders(ctx, gomock.Any()).
		DoAndReturn(func(_ context.Context, filter storage.ListFilter) ([]storage.Order, error) {
			assert.Equal(t, r.Start, *filter.ArrivedFrom)
			assert.Equal(t, r.End, *filter.ArrivedTo)
			return []storage.Order{order}, nil
		}).Times(1)

	first, err := f.svc.Statistics(ctx, r)
	require.NoError(t, err)
	second, err := f.svc.Statistics(ctx, r)
	require.NoError(t, err)

	assert.Equal(t, 1, first.Overall.TotalOrders)
	assert.Equal(t, first.Overall.TotalOrders, second.Overall.TotalOrders)
}
