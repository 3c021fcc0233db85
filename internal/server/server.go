//go:generate mockgen -source ./server.go -destination=./mocks/server.go -package=mock_server
package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/pitcar/leadtime/internal/repository"
	"github.com/pitcar/leadtime/internal/stats"
	"github.com/pitcar/leadtime/internal/storage"
	"github.com/pitcar/leadtime/internal/workflow"
	"github.com/pitcar/leadtime/internal/workshop"
)

type Service interface {
	CreateOrder(ctx context.Context, in workshop.NewOrder, actor workflow.Actor) (*storage.Order, error)
	GetOrder(ctx context.Context, orderID string) (*workshop.OrderView, error)
	ListOrders(ctx context.Context, filter storage.ListFilter) ([]storage.Order, error)
	UpdateDetails(ctx context.Context, orderID string, d workshop.Details, actor workflow.Actor) (*storage.Order, error)
	Transition(ctx context.Context, orderID string, req workshop.TransitionRequest, actor workflow.Actor) (*storage.Order, error)
	Recompute(ctx context.Context, orderID string, actor workflow.Actor) (*storage.Order, error)
	RecomputeBatch(ctx context.Context, req workshop.BatchRequest, actor workflow.Actor) (workshop.Summary, error)
	History(ctx context.Context, orderID string) ([]storage.HistoryEntry, error)
	Statistics(ctx context.Context, r stats.Range) (stats.Dashboard, error)
	Location() *time.Location
}

type UserRepo interface {
	Authenticate(ctx context.Context, username, password string) (*repository.User, error)
}

type Server struct {
	service      Service
	userRepo     UserRepo
	validate     *validator.Validate
	logger       *zap.Logger
	timeNow      func() time.Time
	server       *http.Server
	AuditManager *AuditManager
}

func New(service Service, userRepo UserRepo, logger *zap.Logger) *Server {
	return &Server{
		service:      service,
		userRepo:     userRepo,
		validate:     validator.New(),
		logger:       logger,
		timeNow:      time.Now,
		AuditManager: NewAuditManager(2, 5, 500*time.Millisecond, logger),
	}
}

func (s *Server) Run(ctx context.Context, port string) error {
	s.server = &http.Server{
		Addr:         ":" + port,
		Handler:      s.Router(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
	}

	s.AuditManager.Start(ctx)

	s.logger.Info("server starting", zap.String("port", port))
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down server")

	if s.server != nil {
		if err := s.server.Shutdown(ctx); err != nil {
			return err
		}
	}
	s.AuditManager.Shutdown(ctx)
	s.logger.Info("server shutdown completed")
	return nil
}

func (s *Server) Router() http.Handler {
	r := mux.NewRouter()
	r.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)

	api := r.NewRoute().Subrouter()
	api.Use(s.auditLogMiddleware, s.basicAuthMiddleware)

	api.HandleFunc("/orders", s.handleCreateOrder).Methods(http.MethodPost).Name("createOrder")
	api.HandleFunc("/orders", s.handleListOrders).Methods(http.MethodGet).Name("listOrders")
	api.HandleFunc("/orders/{id}", s.handleGetOrder).Methods(http.MethodGet).Name("getOrder")
	api.HandleFunc("/orders/{id}", s.handleUpdateDetails).Methods(http.MethodPatch).Name("updateDetails")
	api.HandleFunc("/orders/{id}/transitions", s.handleTransition).Methods(http.MethodPost).Name("transition")
	api.HandleFunc("/orders/{id}/recompute", s.handleRecompute).Methods(http.MethodPost).Name("recompute")
	api.HandleFunc("/orders/{id}/history", s.handleOrderHistory).Methods(http.MethodGet).Name("orderHistory")
	api.HandleFunc("/recompute", s.handleRecomputeBatch).Methods(http.MethodPost).Name("recomputeBatch")
	api.HandleFunc("/statistics", s.handleStatistics).Methods(http.MethodGet).Name("statistics")

	return r
}

type actorKey struct{}

func withActor(ctx context.Context, actor workflow.Actor) context.Context {
	return context.WithValue(ctx, actorKey{}, actor)
}

func actorFrom(ctx context.Context) workflow.Actor {
	actor, _ := ctx.Value(actorKey{}).(workflow.Actor)
	return actor
}

func (s *Server) basicAuthMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		username, password, ok := r.BasicAuth()
		if !ok {
			w.Header().Set("WWW-Authenticate", `Basic realm="Restricted"`)
			respondError(w, http.StatusUnauthorized, "Unauthorized")
			return
		}

		user, err := s.userRepo.Authenticate(r.Context(), username, password)
		if err != nil {
			if !errors.Is(err, repository.ErrInvalidCredentials) {
				s.logger.Error("authentication failed", zap.String("user", username), zap.Error(err))
			}
			w.Header().Set("WWW-Authenticate", `Basic realm="Restricted"`)
			respondError(w, http.StatusUnauthorized, "Unauthorized")
			return
		}

		role, err := workflow.ParseRole(user.Role)
		if err != nil {
			s.logger.Warn("user has unknown role", zap.String("user", username), zap.String("role", user.Role))
			respondError(w, http.StatusForbidden, err.Error())
			return
		}

		next.ServeHTTP(w, r.WithContext(withActor(r.Context(), workflow.Actor{Name: user.Username, Role: role})))
	})
}
