package server

import (
	"time"

	"go.uber.org/zap"
)

// AuditLogEntry describes one authenticated API request.
type AuditLogEntry struct {
	Timestamp  time.Time `json:"timestamp"`
	Handler    string    `json:"handler"`
	Method     string    `json:"method"`
	Path       string    `json:"path"`
	StatusCode int       `json:"status_code"`
	Actor      string    `json:"actor,omitempty"`
	OrderID    string    `json:"order_id,omitempty"`
	Action     string    `json:"action,omitempty"`
	Request    string    `json:"request,omitempty"`
	Response   string    `json:"response,omitempty"`
}

func (e AuditLogEntry) fields() []zap.Field {
	fields := []zap.Field{
		zap.Time("timestamp", e.Timestamp),
		zap.String("handler", e.Handler),
		zap.String("method", e.Method),
		zap.String("path", e.Path),
		zap.Int("status", e.StatusCode),
	}
	optional := []struct{ key, val string }{
		{"actor", e.Actor},
		{"order_id", e.OrderID},
		{"action", e.Action},
		{"request", e.Request},
		{"response", e.Response},
	}
	for _, o := range optional {
		if o.val != "" {
			fields = append(fields, zap.String(o.key, o.val))
		}
	}
	return fields
}
