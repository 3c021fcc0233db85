package workshop

import (
	"context"
	"time"

	"github.com/pitcar/leadtime/internal/stats"
	"github.com/pitcar/leadtime/internal/storage"
)

// Statistics returns the dashboard for orders that arrived in r. Results are
// cached until the next write or for the configured TTL.
func (s *Service) Statistics(ctx context.Context, r stats.Range) (stats.Dashboard, error) {
	key := r.Start.UTC().Format(time.RFC3339) + "/" + r.End.UTC().Format(time.RFC3339)
	if cached, ok := s.stats.Get(key); ok {
		return cached.(stats.Dashboard), nil
	}

	start, end := r.Start, r.End
	orders, err := s.storage.ListOrders(ctx, storage.ListFilter{ArrivedFrom: &start, ArrivedTo: &end})
	if err != nil {
		return stats.Dashboard{}, err
	}

	d := stats.Aggregate(orders, r, s.standards, s.Location())
	s.stats.SetDefault(key, d)
	return d, nil
}
