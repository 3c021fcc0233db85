package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/pitcar/leadtime/internal/leadtime"
	"github.com/pitcar/leadtime/internal/stats"
	"github.com/pitcar/leadtime/internal/storage"
	"github.com/pitcar/leadtime/internal/workflow"
	"github.com/pitcar/leadtime/internal/workshop"
)

const localLayout = "2006-01-02 15:04:05"

type createOrderRequest struct {
	ID          string   `json:"id" validate:"omitempty,max=64"`
	Category    string   `json:"category" validate:"omitempty,oneof=maintenance repair"`
	Subcategory string   `json:"subcategory"`
	MechanicIDs []string `json:"mechanic_ids" validate:"omitempty,dive,required"`
	Notes       string   `json:"notes" validate:"max=2000"`
}

type updateOrderRequest struct {
	Category    *string  `json:"category" validate:"omitempty,oneof=maintenance repair"`
	Subcategory *string  `json:"subcategory"`
	MechanicIDs []string `json:"mechanic_ids" validate:"omitempty,dive,required"`
	Notes       *string  `json:"notes" validate:"omitempty,max=2000"`
}

type transitionRequest struct {
	Action        string  `json:"action" validate:"required"`
	At            string  `json:"at"`
	StopType      string  `json:"stop_type" validate:"required_if=Action start_job_stop,required_if=Action end_job_stop"`
	EstimateStart string  `json:"estimate_start" validate:"required_if=Action set_estimate"`
	EstimateEnd   string  `json:"estimate_end" validate:"required_if=Action set_estimate"`
	Notes         *string `json:"notes" validate:"omitempty,max=2000"`
}

type recomputeBatchRequest struct {
	AllOrders bool     `json:"all_orders"`
	OrderIDs  []string `json:"order_ids" validate:"required_without=AllOrders"`
	BatchSize int      `json:"batch_size" validate:"gte=0,lte=1000"`
}

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		if err := json.NewEncoder(w).Encode(data); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
	}
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}

// respondServiceError maps domain errors onto HTTP statuses.
func (s *Server) respondServiceError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, workflow.ErrForbidden):
		respondError(w, http.StatusForbidden, err.Error())
	case errors.Is(err, workflow.ErrPreconditionFailed), errors.Is(err, workflow.ErrInvalidTimestamps):
		respondError(w, http.StatusUnprocessableEntity, err.Error())
	case errors.Is(err, workflow.ErrUnknownAction), errors.Is(err, workshop.ErrInvalidInput):
		respondError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, storage.ErrNotFound):
		respondError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, storage.ErrAlreadyExists):
		respondError(w, http.StatusConflict, err.Error())
	default:
		s.logger.Error("request failed",
			zap.String("handler", getHandlerName(r)),
			zap.String("path", r.URL.Path),
			zap.Error(err),
		)
		respondError(w, http.StatusInternalServerError, "internal error")
	}
}

func (s *Server) decode(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return false
	}
	if err := s.validate.Struct(v); err != nil {
		respondError(w, http.StatusBadRequest, "Validation failed: "+err.Error())
		return false
	}
	return true
}

// parseTime accepts RFC3339 or a local wall time in the business timezone.
func (s *Server) parseTime(value string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, value); err == nil {
		return t.UTC(), nil
	}
	t, err := time.ParseInLocation(localLayout, value, s.service.Location())
	if err != nil {
		return time.Time{}, errors.New("invalid time " + strconv.Quote(value) + ": use RFC3339 or YYYY-MM-DD HH:MM:SS")
	}
	return t.UTC(), nil
}

func (s *Server) handleCreateOrder(w http.ResponseWriter, r *http.Request) {
	var req createOrderRequest
	if !s.decode(w, r, &req) {
		return
	}

	order, err := s.service.CreateOrder(r.Context(), workshop.NewOrder{
		ID:          strings.TrimSpace(req.ID),
		Category:    storage.Category(req.Category),
		Subcategory: storage.Subcategory(req.Subcategory),
		MechanicIDs: req.MechanicIDs,
		Notes:       req.Notes,
	}, actorFrom(r.Context()))
	if err != nil {
		s.respondServiceError(w, r, err)
		return
	}

	respondJSON(w, http.StatusCreated, order)
}

func (s *Server) handleGetOrder(w http.ResponseWriter, r *http.Request) {
	view, err := s.service.GetOrder(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		s.respondServiceError(w, r, err)
		return
	}

	respondJSON(w, http.StatusOK, view)
}

func (s *Server) handleListOrders(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	var filter storage.ListFilter

	if v := q.Get("stage"); v != "" {
		stage, ok := leadtime.ParseStage(v)
		if !ok {
			respondError(w, http.StatusBadRequest, "Invalid value for 'stage' parameter")
			return
		}
		filter.Stage = stage
	}
	if v := q.Get("category"); v != "" {
		if err := storage.ValidateCategory(storage.Category(v), ""); err != nil {
			respondError(w, http.StatusBadRequest, "Invalid value for 'category' parameter")
			return
		}
		filter.Category = storage.Category(v)
	}
	if v := q.Get("limit"); v != "" {
		limit, err := strconv.Atoi(v)
		if err != nil || limit <= 0 {
			respondError(w, http.StatusBadRequest, "Invalid value for 'limit' parameter")
			return
		}
		filter.Limit = limit
	}
	if q.Get("from") != "" || q.Get("to") != "" {
		rng, ok := s.dateRange(w, q.Get("from"), q.Get("to"))
		if !ok {
			return
		}
		filter.ArrivedFrom = &rng.Start
		filter.ArrivedTo = &rng.End
	}

	orders, err := s.service.ListOrders(r.Context(), filter)
	if err != nil {
		s.respondServiceError(w, r, err)
		return
	}
	if orders == nil {
		orders = []storage.Order{}
	}

	respondJSON(w, http.StatusOK, orders)
}

func (s *Server) handleUpdateDetails(w http.ResponseWriter, r *http.Request) {
	var req updateOrderRequest
	if !s.decode(w, r, &req) {
		return
	}

	var d workshop.Details
	if req.Category != nil {
		c := storage.Category(*req.Category)
		d.Category = &c
	}
	if req.Subcategory != nil {
		sub := storage.Subcategory(*req.Subcategory)
		d.Subcategory = &sub
	}
	d.MechanicIDs = req.MechanicIDs
	d.Notes = req.Notes

	order, err := s.service.UpdateDetails(r.Context(), mux.Vars(r)["id"], d, actorFrom(r.Context()))
	if err != nil {
		s.respondServiceError(w, r, err)
		return
	}

	respondJSON(w, http.StatusOK, order)
}

func (s *Server) handleTransition(w http.ResponseWriter, r *http.Request) {
	var req transitionRequest
	if !s.decode(w, r, &req) {
		return
	}

	cmd := workflow.Command{Action: workflow.Action(req.Action)}
	var err error
	if req.At != "" {
		if cmd.At, err = s.parseTime(req.At); err != nil {
			respondError(w, http.StatusBadRequest, err.Error())
			return
		}
	}
	if req.StopType != "" {
		if cmd.StopType, err = leadtime.ParseStopType(req.StopType); err != nil {
			respondError(w, http.StatusBadRequest, err.Error())
			return
		}
	}
	if req.EstimateStart != "" {
		start, err := s.parseTime(req.EstimateStart)
		if err != nil {
			respondError(w, http.StatusBadRequest, err.Error())
			return
		}
		cmd.EstimateStart = &start
	}
	if req.EstimateEnd != "" {
		end, err := s.parseTime(req.EstimateEnd)
		if err != nil {
			respondError(w, http.StatusBadRequest, err.Error())
			return
		}
		cmd.EstimateEnd = &end
	}

	order, err := s.service.Transition(r.Context(), mux.Vars(r)["id"], workshop.TransitionRequest{
		Command: cmd,
		Notes:   req.Notes,
	}, actorFrom(r.Context()))
	if err != nil {
		s.respondServiceError(w, r, err)
		return
	}

	respondJSON(w, http.StatusOK, order)
}

func (s *Server) handleRecompute(w http.ResponseWriter, r *http.Request) {
	order, err := s.service.Recompute(r.Context(), mux.Vars(r)["id"], actorFrom(r.Context()))
	if err != nil {
		s.respondServiceError(w, r, err)
		return
	}

	respondJSON(w, http.StatusOK, order)
}

func (s *Server) handleOrderHistory(w http.ResponseWriter, r *http.Request) {
	entries, err := s.service.History(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		s.respondServiceError(w, r, err)
		return
	}
	if entries == nil {
		entries = []storage.HistoryEntry{}
	}

	respondJSON(w, http.StatusOK, entries)
}

func (s *Server) handleRecomputeBatch(w http.ResponseWriter, r *http.Request) {
	var req recomputeBatchRequest
	if !s.decode(w, r, &req) {
		return
	}

	summary, err := s.service.RecomputeBatch(r.Context(), workshop.BatchRequest{
		AllOrders: req.AllOrders,
		OrderIDs:  req.OrderIDs,
		BatchSize: req.BatchSize,
	}, actorFrom(r.Context()))
	if err != nil {
		s.respondServiceError(w, r, err)
		return
	}

	respondJSON(w, http.StatusOK, summary)
}

// handleStatistics accepts start_date/end_date, month/year, or nothing for
// the current business day.
func (s *Server) handleStatistics(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	loc := s.service.Location()

	var rng stats.Range
	switch {
	case q.Get("start_date") != "" || q.Get("end_date") != "":
		var ok bool
		if rng, ok = s.dateRange(w, q.Get("start_date"), q.Get("end_date")); !ok {
			return
		}
	case q.Get("month") != "" || q.Get("year") != "":
		month, err := strconv.Atoi(q.Get("month"))
		if err != nil {
			respondError(w, http.StatusBadRequest, "Invalid value for 'month' parameter")
			return
		}
		year, err := strconv.Atoi(q.Get("year"))
		if err != nil {
			respondError(w, http.StatusBadRequest, "Invalid value for 'year' parameter")
			return
		}
		if rng, err = stats.Month(year, month, loc); err != nil {
			respondError(w, http.StatusBadRequest, err.Error())
			return
		}
	default:
		rng = stats.Day(s.timeNow(), loc)
	}

	dashboard, err := s.service.Statistics(r.Context(), rng)
	if err != nil {
		s.respondServiceError(w, r, err)
		return
	}

	respondJSON(w, http.StatusOK, dashboard)
}

// dateRange parses an inclusive YYYY-MM-DD range; a missing bound repeats
// the other one.
func (s *Server) dateRange(w http.ResponseWriter, from, to string) (stats.Range, bool) {
	if from == "" {
		from = to
	}
	if to == "" {
		to = from
	}
	loc := s.service.Location()

	start, err := time.ParseInLocation("2006-01-02", from, loc)
	if err != nil {
		respondError(w, http.StatusBadRequest, "Invalid date format. Use YYYY-MM-DD")
		return stats.Range{}, false
	}
	end, err := time.ParseInLocation("2006-01-02", to, loc)
	if err != nil {
		respondError(w, http.StatusBadRequest, "Invalid date format. Use YYYY-MM-DD")
		return stats.Range{}, false
	}

	rng, err := stats.Dates(start, end, loc)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return stats.Range{}, false
	}
	return rng, true
}
