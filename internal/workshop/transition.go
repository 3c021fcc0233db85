package workshop

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/pitcar/leadtime/internal/leadtime"
	"github.com/pitcar/leadtime/internal/metrics"
	"github.com/pitcar/leadtime/internal/storage"
	"github.com/pitcar/leadtime/internal/workflow"
)

// TransitionRequest is a workflow command plus fields written in the same
// transaction as the recorded timestamp.
type TransitionRequest struct {
	Command workflow.Command
	Notes   *string
}

// Transition applies one workflow action to an order. The order row is
// locked for the duration, derived fields are recomputed and the audit entry
// is stored atomically with the change. A zero Command.At is stamped with the
// current time.
func (s *Service) Transition(ctx context.Context, orderID string, req TransitionRequest, actor workflow.Actor) (*storage.Order, error) {
	l := s.logger.With(zap.String("order_id", orderID), zap.String("action", string(req.Command.Action)))

	cmd := req.Command
	now := s.timeNow().UTC()
	if cmd.At.IsZero() {
		cmd.At = now
	}

	updated, err := s.storage.UpdateOrder(ctx, orderID, func(order *storage.Order) (*storage.HistoryEntry, error) {
		next, tr, err := s.machine.Apply(string(order.Category), order.Timestamps, cmd, actor)
		if err != nil {
			return nil, err
		}

		order.Timestamps = next
		if req.Notes != nil {
			order.Notes = *req.Notes
		}
		order.Derived = s.engine.Derive(string(order.Category), order.Timestamps)

		return &storage.HistoryEntry{
			Action:    string(tr.Action),
			Actor:     actor.Name,
			Role:      string(actor.Role),
			Message:   tr.Message,
			ChangedAt: now,
		}, nil
	})
	if err != nil {
		var terr *workflow.TransitionError
		if errors.As(err, &terr) {
			metrics.TransitionsRejectedTotal.WithLabelValues(string(cmd.Action)).Inc()
			l.Info("transition rejected", zap.String("actor", actor.Name), zap.Error(err))
		} else {
			metrics.OperationErrorsTotal.WithLabelValues("transition").Inc()
			l.Error("transition failed", zap.Error(err))
		}
		return nil, err
	}

	metrics.TransitionsTotal.WithLabelValues(string(cmd.Action)).Inc()
	l.Info("transition applied",
		zap.String("actor", actor.Name),
		zap.String("stage", string(updated.Derived.Stage)),
		zap.Float64("net_lead_time", updated.Derived.NetLeadTime),
	)
	s.afterWrite(*updated)
	return updated, nil
}

// Recompute resets and recomputes the derived fields of one order. An audit
// entry is written only when gross or net lead time changed.
func (s *Service) Recompute(ctx context.Context, orderID string, actor workflow.Actor) (*storage.Order, error) {
	now := s.timeNow().UTC()
	updated, err := s.storage.UpdateOrder(ctx, orderID, func(order *storage.Order) (*storage.HistoryEntry, error) {
		old := order.Derived
		s.rederive(order)
		if !leadTimesChanged(old, order.Derived) {
			return nil, nil
		}
		return &storage.HistoryEntry{
			Action:    "recompute",
			Actor:     actor.Name,
			Role:      string(actor.Role),
			Message:   recomputeMessage(old, order.Derived, nil),
			ChangedAt: now,
		}, nil
	})
	if err != nil {
		metrics.OperationErrorsTotal.WithLabelValues("recompute").Inc()
		return nil, err
	}

	metrics.RecomputedOrdersTotal.Inc()
	s.afterWrite(*updated)
	return updated, nil
}

func recomputeMessage(old, cur leadtime.Derived, productive []string) string {
	msg := fmt.Sprintf("lead time recomputed: total %.2f -> %.2f h, net %.2f -> %.2f h",
		old.TotalLeadTime, cur.TotalLeadTime, old.NetLeadTime, cur.NetLeadTime)
	if len(productive) > 0 {
		msg += "; productive hours: " + strings.Join(productive, ", ")
	}
	return msg
}
