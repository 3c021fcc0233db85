package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"
	_ "time/tzdata"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/pitcar/leadtime/internal/cache"
	"github.com/pitcar/leadtime/internal/config"
	"github.com/pitcar/leadtime/internal/db"
	"github.com/pitcar/leadtime/internal/leadtime"
	"github.com/pitcar/leadtime/internal/logger"
	"github.com/pitcar/leadtime/internal/repository/postgresql"
	"github.com/pitcar/leadtime/internal/stats"
	"github.com/pitcar/leadtime/internal/storage"
	"github.com/pitcar/leadtime/internal/workflow"
	"github.com/pitcar/leadtime/internal/workshop"
)

var systemActor = workflow.Actor{Name: "system", Role: workflow.RoleAdmin}

var rootCmd = &cobra.Command{
	Use:   "leadtime-admin",
	Short: "Maintenance commands for the service-order lead-time tracker",
}

var recomputeCmd = &cobra.Command{
	Use:   "recompute [order-id...]",
	Short: "Recompute lead times for the given orders or for every finished order",
	Long: `Recompute derived lead-time fields from stored timestamps.

Examples:
  leadtime-admin recompute --all
  leadtime-admin recompute SO-1 SO-2 --batch-size 10`,
	Run: func(cmd *cobra.Command, args []string) {
		all, _ := cmd.Flags().GetBool("all")
		batchSize, _ := cmd.Flags().GetInt("batch-size")
		if !all && len(args) == 0 {
			fmt.Fprintln(os.Stderr, "Pass --all or at least one order id")
			os.Exit(1)
		}

		withService(func(ctx context.Context, svc *workshop.Service) error {
			summary, err := svc.RecomputeBatch(ctx, workshop.BatchRequest{
				AllOrders: all,
				OrderIDs:  args,
				BatchSize: batchSize,
			}, systemActor)
			if err != nil {
				return err
			}
			fmt.Printf("Processed: %d\nRecomputed: %d\nErrors: %d\n", summary.Processed, summary.Recomputed, summary.Errors)
			return nil
		})
	},
}

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Print the statistics dashboard as JSON",
	Long: `Print the statistics dashboard for a month, a date range, or today.

Examples:
  leadtime-admin stats --month 2024-03
  leadtime-admin stats --from 2024-03-01 --to 2024-03-07`,
	Run: func(cmd *cobra.Command, args []string) {
		month, _ := cmd.Flags().GetString("month")
		from, _ := cmd.Flags().GetString("from")
		to, _ := cmd.Flags().GetString("to")

		withService(func(ctx context.Context, svc *workshop.Service) error {
			rng, err := statsRange(svc.Location(), month, from, to)
			if err != nil {
				return err
			}
			dashboard, err := svc.Statistics(ctx, rng)
			if err != nil {
				return err
			}
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(dashboard)
		})
	},
}

var userCmd = &cobra.Command{
	Use:   "user",
	Short: "Manage API users",
}

var userAddCmd = &cobra.Command{
	Use:   "add <username>",
	Short: "Create an API user with a workshop role",
	Long: `Create a user for HTTP basic auth. Roles: controller, service_advisor,
front_office, admin.

Examples:
  leadtime-admin user add budi --role controller --password s3cret
  leadtime-admin user add sari --role service_advisor --password s3cret`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		role, _ := cmd.Flags().GetString("role")
		password, _ := cmd.Flags().GetString("password")

		withDB(func(ctx context.Context, pool *db.Database, _ *config.Config, _ *zap.Logger) error {
			return addUser(ctx, postgresql.NewUserRepo(pool), args[0], password, role, os.Stdout)
		})
	},
}

type userStore interface {
	EnsureUser(ctx context.Context, username, password, role string) (bool, error)
}

func addUser(ctx context.Context, users userStore, username, password, role string, out io.Writer) error {
	r, err := workflow.ParseRole(role)
	if err != nil {
		return err
	}
	if username == "" || password == "" {
		return errors.New("username and password are required")
	}

	created, err := users.EnsureUser(ctx, username, password, string(r))
	if err != nil {
		return err
	}
	if !created {
		return fmt.Errorf("user %q already exists", username)
	}
	fmt.Fprintf(out, "Created user %s (%s)\n", username, r)
	return nil
}

func statsRange(loc *time.Location, month, from, to string) (stats.Range, error) {
	switch {
	case month != "":
		m, err := time.ParseInLocation("2006-01", month, loc)
		if err != nil {
			return stats.Range{}, fmt.Errorf("invalid month %q, expected YYYY-MM", month)
		}
		return stats.Month(m.Year(), int(m.Month()), loc)
	case from != "":
		if to == "" {
			to = from
		}
		start, err := time.ParseInLocation("2006-01-02", from, loc)
		if err != nil {
			return stats.Range{}, fmt.Errorf("invalid date %q, expected YYYY-MM-DD", from)
		}
		end, err := time.ParseInLocation("2006-01-02", to, loc)
		if err != nil {
			return stats.Range{}, fmt.Errorf("invalid date %q, expected YYYY-MM-DD", to)
		}
		return stats.Dates(start, end, loc)
	default:
		return stats.Day(time.Now(), loc), nil
	}
}

// withService builds the service stack and runs fn.
func withService(fn func(ctx context.Context, svc *workshop.Service) error) {
	withDB(func(ctx context.Context, dbPool *db.Database, cfg *config.Config, log *zap.Logger) error {
		stg := storage.NewStorage(
			dbPool,
			postgresql.NewOrderRepo(dbPool),
			postgresql.NewHistoryRepo(dbPool),
			postgresql.NewAttendanceRepo(dbPool),
			postgresql.NewOutboxTaskRepo(cfg.Outbox.MaxAttempts),
			cfg.Kafka.Topic,
		)
		engine := leadtime.NewEngine(leadtime.DefaultSchedule(cfg.Location))
		svc := workshop.New(stg, cache.NewOrderCache(stg, log), engine, cfg.Standards, workshop.Options{
			BatchSize: cfg.Recompute.BatchSize,
			Workers:   cfg.Recompute.Workers,
		}, log)
		return fn(ctx, svc)
	})
}

// withDB loads config, connects to the database, runs fn and exits non-zero
// on error.
func withDB(fn func(ctx context.Context, dbPool *db.Database, cfg *config.Config, log *zap.Logger) error) {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.New(cfg.Log.Level, cfg.Log.Development)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to init logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = log.Sync() }()

	dbPool, err := db.NewDb(ctx, cfg.DB.DSN(), cfg.DB.MaxConns)
	if err != nil {
		log.Fatal("database init error", zap.Error(err))
	}
	defer dbPool.Close()

	if err := fn(ctx, dbPool, cfg, log); err != nil {
		log.Error("command failed", zap.Error(err))
		dbPool.Close()
		os.Exit(1)
	}
}

func main() {
	recomputeCmd.Flags().Bool("all", false, "Recompute every order with a finished service window")
	recomputeCmd.Flags().Int("batch-size", 0, "Orders per batch (defaults to RECOMPUTE_BATCH_SIZE)")
	statsCmd.Flags().String("month", "", "Calendar month, YYYY-MM")
	statsCmd.Flags().String("from", "", "First date, YYYY-MM-DD")
	statsCmd.Flags().String("to", "", "Last date, YYYY-MM-DD")

	userAddCmd.Flags().String("role", "", "controller, service_advisor, front_office or admin")
	userAddCmd.Flags().String("password", "", "Password for HTTP basic auth")
	_ = userAddCmd.MarkFlagRequired("role")
	_ = userAddCmd.MarkFlagRequired("password")
	userCmd.AddCommand(userAddCmd)

	rootCmd.AddCommand(recomputeCmd, statsCmd, userCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
