package workshop

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/pitcar/leadtime/internal/leadtime"
	"github.com/pitcar/leadtime/internal/metrics"
	"github.com/pitcar/leadtime/internal/storage"
	"github.com/pitcar/leadtime/internal/workflow"
)

type BatchRequest struct {
	AllOrders bool
	OrderIDs  []string
	BatchSize int
}

// Summary counts the outcome of a batch recompute. Skipped orders changed
// while the batch ran; their newer write already carries fresh derived fields.
type Summary struct {
	Processed  int `json:"processed"`
	Recomputed int `json:"recomputed"`
	Errors     int `json:"errors"`
	Skipped    int `json:"skipped,omitempty"`
}

func (s *Summary) add(o Summary) {
	s.Processed += o.Processed
	s.Recomputed += o.Recomputed
	s.Errors += o.Errors
	s.Skipped += o.Skipped
}

// RecomputeBatch recomputes lead times for every computable order, or for
// the listed ones. Orders are split into batches that are loaded, recomputed
// and committed independently: a failing batch or order is counted and
// logged, never aborting the others.
func (s *Service) RecomputeBatch(ctx context.Context, req BatchRequest, actor workflow.Actor) (Summary, error) {
	var ids []string
	switch {
	case req.AllOrders:
		all, err := s.storage.ComputableOrderIDs(ctx)
		if err != nil {
			return Summary{}, err
		}
		ids = all
	case len(req.OrderIDs) > 0:
		ids = dedupe(req.OrderIDs)
	default:
		return Summary{}, fmt.Errorf("%w: either order ids or all orders is required", ErrInvalidInput)
	}

	size := req.BatchSize
	if size <= 0 {
		size = s.opts.BatchSize
	}

	l := s.logger.With(zap.String("actor", actor.Name))
	l.Info("batch recompute started", zap.Int("orders", len(ids)), zap.Int("batch_size", size))

	var (
		mu      sync.Mutex
		summary Summary
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.opts.Workers)

	for start := 0; start < len(ids); start += size {
		end := start + size
		if end > len(ids) {
			end = len(ids)
		}
		batch := ids[start:end]

		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			res := s.recomputeBatch(gctx, batch, actor, l)
			mu.Lock()
			summary.add(res)
			mu.Unlock()
			return nil
		})
	}

	err := g.Wait()
	s.stats.Flush()
	l.Info("batch recompute finished",
		zap.Int("processed", summary.Processed),
		zap.Int("recomputed", summary.Recomputed),
		zap.Int("errors", summary.Errors),
		zap.Int("skipped", summary.Skipped),
	)
	return summary, err
}

func (s *Service) recomputeBatch(ctx context.Context, ids []string, actor workflow.Actor, l *zap.Logger) Summary {
	started := time.Now()
	defer func() {
		metrics.RecomputeBatchDuration.Observe(time.Since(started).Seconds())
	}()

	res := Summary{Processed: len(ids)}
	fail := func(n int) Summary {
		res.Errors += n
		metrics.RecomputeErrorsTotal.Add(float64(n))
		return res
	}

	orders, err := s.storage.GetOrders(ctx, ids)
	if err != nil {
		l.Error("failed to load batch", zap.Strings("order_ids", ids), zap.Error(err))
		return fail(len(ids))
	}

	found := make(map[string]bool, len(orders))
	for _, o := range orders {
		found[o.ID] = true
	}
	for _, id := range ids {
		if !found[id] {
			l.Warn("order not found", zap.String("order_id", id))
			fail(1)
		}
	}

	attendance := s.prefetchAttendance(ctx, orders, l)

	var (
		changed []storage.Order
		entries []storage.HistoryEntry
		ok      int
	)
	now := s.timeNow().UTC()
	for _, order := range orders {
		next, entry, err := s.recomputeOne(order, attendance, actor, now)
		if err != nil {
			l.Error("failed to recompute order", zap.String("order_id", order.ID), zap.Error(err))
			fail(1)
			continue
		}
		ok++
		if next.Derived != order.Derived {
			changed = append(changed, next)
		}
		if entry != nil {
			entries = append(entries, *entry)
		}
	}

	var stale []string
	if len(changed) > 0 || len(entries) > 0 {
		stale, err = s.storage.SaveRecomputed(ctx, changed, entries)
		if err != nil {
			l.Error("failed to save batch", zap.Strings("order_ids", ids), zap.Error(err))
			return fail(ok)
		}
	}

	skipped := make(map[string]bool, len(stale))
	for _, id := range stale {
		l.Warn("order changed during recompute, skipped", zap.String("order_id", id))
		skipped[id] = true
	}
	for _, o := range changed {
		if !skipped[o.ID] {
			s.cache.Set(o)
		}
	}
	ok -= len(stale)
	res.Skipped = len(stale)
	res.Recomputed = ok
	metrics.RecomputedOrdersTotal.Add(float64(ok))
	return res
}

// prefetchAttendance loads attendance for every mechanic of the batch in one
// query covering the union of their service windows. A failed load only
// drops productive hours from the audit entries.
func (s *Service) prefetchAttendance(ctx context.Context, orders []storage.Order, l *zap.Logger) map[string][]storage.Attendance {
	var (
		from, to  time.Time
		mechanics []string
		seen      = make(map[string]bool)
	)
	for _, o := range orders {
		if !o.Computable() || len(o.MechanicIDs) == 0 {
			continue
		}
		start, end := *o.Timestamps.ServiceStart, *o.Timestamps.ServiceEnd
		if from.IsZero() || start.Before(from) {
			from = start
		}
		if end.After(to) {
			to = end
		}
		for _, m := range o.MechanicIDs {
			if !seen[m] {
				seen[m] = true
				mechanics = append(mechanics, m)
			}
		}
	}
	if len(mechanics) == 0 {
		return nil
	}

	attendance, err := s.storage.AttendanceFor(ctx, mechanics, from, to)
	if err != nil {
		l.Warn("failed to prefetch attendance", zap.Error(err))
		return nil
	}
	return attendance
}

func (s *Service) recomputeOne(order storage.Order, attendance map[string][]storage.Attendance, actor workflow.Actor, now time.Time) (next storage.Order, entry *storage.HistoryEntry, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic while recomputing: %v", r)
		}
	}()

	next = order
	s.rederive(&next)
	if !leadTimesChanged(order.Derived, next.Derived) {
		return next, nil, nil
	}

	entry = &storage.HistoryEntry{
		OrderID:   order.ID,
		Action:    "recompute",
		Actor:     actor.Name,
		Role:      string(actor.Role),
		Message:   recomputeMessage(order.Derived, next.Derived, s.productiveHours(next, attendance)),
		ChangedAt: now,
	}
	return next, entry, nil
}

// productiveHours reports, per assigned mechanic, the attended working hours
// inside the service window.
func (s *Service) productiveHours(order storage.Order, attendance map[string][]storage.Attendance) []string {
	if !order.Computable() {
		return nil
	}
	start, end := *order.Timestamps.ServiceStart, *order.Timestamps.ServiceEnd
	schedule := s.engine.Schedule()

	mechanics := append([]string(nil), order.MechanicIDs...)
	sort.Strings(mechanics)

	var out []string
	for _, m := range mechanics {
		spans := attendance[m]
		if len(spans) == 0 {
			continue
		}
		periods := make([]leadtime.Period, len(spans))
		for i, a := range spans {
			periods[i] = leadtime.Period{Start: a.CheckIn, End: a.CheckOut}
		}
		if hours := schedule.ProductiveHours(start, end, periods); hours > 0 {
			out = append(out, fmt.Sprintf("%s %.2f h", m, hours))
		}
	}
	return out
}

// rederive resets the derived fields and recomputes them from timestamps.
func (s *Service) rederive(order *storage.Order) {
	order.Derived = leadtime.Derived{}
	order.Derived = s.engine.Derive(string(order.Category), order.Timestamps)
}

func leadTimesChanged(old, cur leadtime.Derived) bool {
	return old.TotalLeadTime != cur.TotalLeadTime || old.NetLeadTime != cur.NetLeadTime
}

func dedupe(ids []string) []string {
	seen := make(map[string]bool, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	return out
}
