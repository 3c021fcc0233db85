package postgresql_test

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgconn"
	"github.com/jackc/pgx/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	mock_database "github.com/pitcar/leadtime/internal/db/mocks"
	"github.com/pitcar/leadtime/internal/repository"
	"github.com/pitcar/leadtime/internal/repository/postgresql"
)

func TestOrderRepo_CreateTx(t *testing.T) {
	ctx := context.Background()

	t.Run("success", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		mockTx := mock_database.NewMockTx(ctrl)
		repo := postgresql.NewOrderRepo(mock_database.NewMockDB(ctrl))

		now := time.Date(2025, time.January, 1, 8, 0, 0, 0, time.UTC)
		order := &repository.Order{
			ID:          "SO-1",
			Category:    "maintenance",
			MechanicIDs: []string{"M-1"},
			ArrivalAt:   &now,
			Stage:       "checked_in",
			CreatedAt:   now,
			UpdatedAt:   now,
		}

		mockTx.EXPECT().
			Exec(gomock.Any(), gomock.Any(), gomock.Any()).
			DoAndReturn(func(_ context.Context, query string, args ...interface{}) (pgconn.CommandTag, error) {
				assert.True(t, strings.HasPrefix(query, "INSERT INTO orders"), query)
				assert.Contains(t, query, "arrival_at")
				assert.Contains(t, query, "$1")
				assert.Contains(t, args, "SO-1")
				assert.Contains(t, args, "checked_in")
				return pgconn.CommandTag("INSERT 0 1"), nil
			})

		assert.NoError(t, repo.CreateTx(ctx, mockTx, order))
	})

	t.Run("database error", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		mockTx := mock_database.NewMockTx(ctrl)
		repo := postgresql.NewOrderRepo(mock_database.NewMockDB(ctrl))

		expectedErr := errors.New("database error")
		mockTx.EXPECT().Exec(gomock.Any(), gomock.Any(), gomock.Any()).Return(nil, expectedErr)

		err := repo.CreateTx(ctx, mockTx, &repository.Order{ID: "SO-1"})
		assert.Equal(t, expectedErr, err)
	})
}

func TestOrderRepo_GetByID(t *testing.T) {
	ctx := context.Background()

	t.Run("found", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		mockDB := mock_database.NewMockDB(ctrl)
		repo := postgresql.NewOrderRepo(mockDB)

		mockDB.EXPECT().
			Get(gomock.Any(), gomock.Any(), gomock.Any(), "SO-1").
			DoAndReturn(func(_ context.Context, dest interface{}, query string, args ...interface{}) error {
				assert.Contains(t, query, "FROM orders WHERE id = $1")
				*dest.(*repository.Order) = repository.Order{ID: "SO-1", Category: "repair"}
				return nil
			})

		order, err := repo.GetByID(ctx, "SO-1")
		require.NoError(t, err)
		assert.Equal(t, "repair", order.Category)
	})

	t.Run("not found", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		mockDB := mock_database.NewMockDB(ctrl)
		repo := postgresql.NewOrderRepo(mockDB)

		mockDB.EXPECT().Get(gomock.Any(), gomock.Any(), gomock.Any(), "SO-404").Return(pgx.ErrNoRows)

		order, err := repo.GetByID(ctx, "SO-404")
		assert.Nil(t, order)
		assert.ErrorIs(t, err, repository.ErrObjectNotFound)
	})
}

func TestOrderRepo_GetByIDTx_LocksRow(t *testing.T) {
	ctrl := gomock.NewController(t)
	mockTx := mock_database.NewMockTx(ctrl)
	repo := postgresql.NewOrderRepo(mock_database.NewMockDB(ctrl))

	mockTx.EXPECT().
		Get(gomock.Any(), gomock.Any(), gomock.Any(), "SO-1").
		DoAndReturn(func(_ context.Context, dest interface{}, query string, args ...interface{}) error {
			assert.True(t, strings.HasSuffix(query, "FOR UPDATE"), query)
			dest.(*repository.Order).ID = "SO-1"
			return nil
		})

	order, err := repo.GetByIDTx(context.Background(), mockTx, "SO-1")
	require.NoError(t, err)
	assert.Equal(t, "SO-1", order.ID)
}

func TestOrderRepo_GetByIDs_Empty(t *testing.T) {
	ctrl := gomock.NewController(t)
	repo := postgresql.NewOrderRepo(mock_database.NewMockDB(ctrl))

	orders, err := repo.GetByIDs(context.Background(), nil)
	assert.NoError(t, err)
	assert.Nil(t, orders)
}

func TestOrderRepo_List(t *testing.T) {
	ctx := context.Background()

	t.Run("all filters", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		mockDB := mock_database.NewMockDB(ctrl)
		repo := postgresql.NewOrderRepo(mockDB)

		from := time.Date(2024, time.March, 1, 0, 0, 0, 0, time.UTC)
		to := from.AddDate(0, 0, 7)

		mockDB.EXPECT().
			Select(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).
			DoAndReturn(func(_ context.Context, dest interface{}, query string, args ...interface{}) error {
				assert.Contains(t, query, "WHERE stage = $1 AND category = $2 AND arrival_at >= $3 AND arrival_at < $4")
				assert.Contains(t, query, "ORDER BY arrival_at DESC NULLS LAST, id")
				assert.Contains(t, query, "LIMIT 5")
				assert.Equal(t, []interface{}{"in_service", "repair", from, to}, args)
				*dest.(*[]*repository.Order) = []*repository.Order{{ID: "SO-1"}}
				return nil
			})

		orders, err := repo.List(ctx, repository.OrderFilter{
			Stage:       "in_service",
			Category:    "repair",
			ArrivedFrom: &from,
			ArrivedTo:   &to,
			Limit:       5,
		})
		require.NoError(t, err)
		require.Len(t, orders, 1)
	})

	t.Run("no filters", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		mockDB := mock_database.NewMockDB(ctrl)
		repo := postgresql.NewOrderRepo(mockDB)

		mockDB.EXPECT().
			Select(gomock.Any(), gomock.Any(), gomock.Any()).
			DoAndReturn(func(_ context.Context, _ interface{}, query string, args ...interface{}) error {
				assert.NotContains(t, query, "WHERE")
				assert.NotContains(t, query, "LIMIT")
				assert.Empty(t, args)
				return nil
			})

		_, err := repo.List(ctx, repository.OrderFilter{})
		assert.NoError(t, err)
	})
}

func TestOrderRepo_UpdateTx(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2025, time.January, 1, 8, 0, 0, 0, time.UTC)

	t.Run("full update", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		mockTx := mock_database.NewMockTx(ctrl)
		repo := postgresql.NewOrderRepo(mock_database.NewMockDB(ctrl))

		mockTx.EXPECT().
			Exec(gomock.Any(), gomock.Any(), gomock.Any()).
			DoAndReturn(func(_ context.Context, query string, args ...interface{}) (pgconn.CommandTag, error) {
				assert.True(t, strings.HasPrefix(query, "UPDATE orders SET"), query)
				assert.Contains(t, query, "service_start_at")
				assert.Contains(t, query, "net_lead_time_hours")
				assert.Equal(t, "SO-1", args[len(args)-1])
				return pgconn.CommandTag("UPDATE 1"), nil
			})

		assert.NoError(t, repo.UpdateTx(ctx, mockTx, &repository.Order{ID: "SO-1", UpdatedAt: now}))
	})

	t.Run("missing row", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		mockTx := mock_database.NewMockTx(ctrl)
		repo := postgresql.NewOrderRepo(mock_database.NewMockDB(ctrl))

		mockTx.EXPECT().Exec(gomock.Any(), gomock.Any(), gomock.Any()).Return(pgconn.CommandTag("UPDATE 0"), nil)

		err := repo.UpdateTx(ctx, mockTx, &repository.Order{ID: "SO-404", UpdatedAt: now})
		assert.ErrorIs(t, err, repository.ErrObjectNotFound)
	})
}

func TestOrderRepo_UpdateDerivedTx(t *testing.T) {
	loadedAt := time.Date(2025, time.January, 1, 8, 0, 0, 0, time.UTC)
	savedAt := loadedAt.Add(time.Hour)

	t.Run("leaves timestamps and checks version", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		mockTx := mock_database.NewMockTx(ctrl)
		repo := postgresql.NewOrderRepo(mock_database.NewMockDB(ctrl))

		mockTx.EXPECT().
			Exec(gomock.Any(), gomock.Any(), gomock.Any()).
			DoAndReturn(func(_ context.Context, query string, args ...interface{}) (pgconn.CommandTag, error) {
				assert.Contains(t, query, "total_lead_time_hours")
				assert.NotContains(t, query, "service_start_at")
				assert.NotContains(t, query, "mechanic_ids")
				assert.True(t, strings.HasSuffix(query, "WHERE id = $20 AND updated_at = $21"), query)
				require.Len(t, args, 21)
				assert.Equal(t, "SO-1", args[19])
				assert.Equal(t, loadedAt, args[20])
				assert.Contains(t, args, savedAt)
				return pgconn.CommandTag("UPDATE 1"), nil
			})

		order := &repository.Order{ID: "SO-1", TotalLeadTimeHours: 2.5, UpdatedAt: savedAt}
		assert.NoError(t, repo.UpdateDerivedTx(context.Background(), mockTx, order, loadedAt))
	})

	t.Run("row changed since it was read", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		mockTx := mock_database.NewMockTx(ctrl)
		repo := postgresql.NewOrderRepo(mock_database.NewMockDB(ctrl))

		mockTx.EXPECT().Exec(gomock.Any(), gomock.Any(), gomock.Any()).Return(pgconn.CommandTag("UPDATE 0"), nil)

		order := &repository.Order{ID: "SO-1", UpdatedAt: savedAt}
		err := repo.UpdateDerivedTx(context.Background(), mockTx, order, loadedAt)
		assert.ErrorIs(t, err, repository.ErrObjectNotFound)
	})
}

func TestOrderRepo_CreateTx_WithoutMechanics(t *testing.T) {
	ctrl := gomock.NewController(t)
	mockTx := mock_database.NewMockTx(ctrl)
	repo := postgresql.NewOrderRepo(mock_database.NewMockDB(ctrl))

	mockTx.EXPECT().
		Exec(gomock.Any(), gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ context.Context, query string, args ...interface{}) (pgconn.CommandTag, error) {
			for _, arg := range args {
				if ids, ok := arg.([]string); ok {
					assert.NotNil(t, ids)
					assert.Empty(t, ids)
					return pgconn.CommandTag("INSERT 0 1"), nil
				}
			}
			t.Errorf("mechanic_ids not bound in %s", query)
			return pgconn.CommandTag("INSERT 0 1"), nil
		})

	assert.NoError(t, repo.CreateTx(context.Background(), mockTx, &repository.Order{ID: "SO-1"}))
}
