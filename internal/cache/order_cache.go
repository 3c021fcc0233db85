package cache

import (
	"context"
	"sync"
	"time"

	gocache "github.com/patrickmn/go-cache"
	"go.uber.org/zap"

	"github.com/pitcar/leadtime/internal/leadtime"
	"github.com/pitcar/leadtime/internal/metrics"
	"github.com/pitcar/leadtime/internal/storage"
)

type OrderSource interface {
	ListActiveOrders(ctx context.Context) ([]storage.Order, error)
}

// removedTTL bounds how long the version of an evicted order is remembered.
const removedTTL = 10 * time.Minute

// OrderCache keeps orders that are still in the workshop. Orders leave the
// cache once their vehicle exits. Writes carrying an older UpdatedAt than the
// cached or evicted version are ignored, so concurrent writers may call Set in
// any order.
type OrderCache struct {
	mu      sync.RWMutex
	cache   map[string]storage.Order
	removed *gocache.Cache
	source  OrderSource
	logger  *zap.Logger
}

func NewOrderCache(source OrderSource, logger *zap.Logger) *OrderCache {
	return &OrderCache{
		cache:   make(map[string]storage.Order),
		removed: gocache.New(removedTTL, 2*removedTTL),
		source:  source,
		logger:  logger,
	}
}

func (c *OrderCache) LoadInitialData(ctx context.Context) error {
	c.logger.Info("loading active orders into cache")
	orders, err := c.source.ListActiveOrders(ctx)
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	for _, order := range orders {
		c.cache[order.ID] = order
	}
	metrics.OrderCacheItems.Set(float64(len(c.cache)))
	c.logger.Info("order cache loaded", zap.Int("orders", len(c.cache)))
	return nil
}

func (c *OrderCache) Get(orderID string) (storage.Order, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	order, found := c.cache[orderID]
	return order, found
}

func (c *OrderCache) Set(order storage.Order) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.hasNewer(order) {
		c.logger.Debug("cache: stale order ignored", zap.String("order_id", order.ID), zap.Time("updated_at", order.UpdatedAt))
		return
	}
	if !isActive(order) {
		c.removed.SetDefault(order.ID, order.UpdatedAt)
		c.delete(order.ID)
		return
	}

	c.removed.Delete(order.ID)
	c.cache[order.ID] = order
	metrics.OrderCacheItems.Set(float64(len(c.cache)))
	c.logger.Debug("cache: set order", zap.String("order_id", order.ID), zap.String("stage", string(order.Derived.Stage)))
}

func (c *OrderCache) Delete(orderID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.delete(orderID)
}

func (c *OrderCache) delete(orderID string) {
	if _, found := c.cache[orderID]; found {
		delete(c.cache, orderID)
		metrics.OrderCacheItems.Set(float64(len(c.cache)))
		c.logger.Debug("cache: deleted order", zap.String("order_id", orderID))
	}
}

func (c *OrderCache) hasNewer(order storage.Order) bool {
	if cur, ok := c.cache[order.ID]; ok && cur.UpdatedAt.After(order.UpdatedAt) {
		return true
	}
	if v, ok := c.removed.Get(order.ID); ok && v.(time.Time).After(order.UpdatedAt) {
		return true
	}
	return false
}

func (c *OrderCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.cache)
}

func isActive(order storage.Order) bool {
	return order.Timestamps.Arrival != nil && order.Derived.Stage != leadtime.StageCompleted
}
