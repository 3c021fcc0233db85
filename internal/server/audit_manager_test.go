package server

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestAuditManager_FlushesOnShutdown(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	m := NewAuditManager(2, 2, time.Hour, zap.New(core))
	m.Start(context.Background())

	for i := 0; i < 3; i++ {
		m.LogEntry(context.Background(), AuditLogEntry{Handler: "getOrder", Method: "GET", Path: "/orders/SO-1", StatusCode: 200})
	}
	m.Shutdown(context.Background())

	assert.Equal(t, 0, m.Pending())
	assert.Equal(t, 3, logs.FilterMessage("request").Len())
}

func TestAuditManager_FlushesAfterInterval(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	m := NewAuditManager(1, 10, 10*time.Millisecond, zap.New(core))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	m.Start(ctx)

	m.LogEntry(context.Background(), AuditLogEntry{Handler: "transition", Actor: "andi", OrderID: "SO-1", Action: "start_service"})

	require.Eventually(t, func() bool { return m.Pending() == 0 }, time.Second, 5*time.Millisecond)
	entry := logs.FilterMessage("request").All()[0]
	assert.Equal(t, "start_service", entry.ContextMap()["action"])
	assert.Equal(t, "SO-1", entry.ContextMap()["order_id"])
}

func TestAuditManager_WritesDirectlyAfterShutdown(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	m := NewAuditManager(1, 10, time.Hour, zap.New(core))
	m.Shutdown(context.Background())

	m.LogEntry(context.Background(), AuditLogEntry{Handler: "listOrders"})

	assert.Equal(t, 0, m.Pending())
	assert.Equal(t, 1, logs.FilterMessage("audit entry written directly").Len())
}
