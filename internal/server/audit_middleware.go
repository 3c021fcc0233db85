package server

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/mux"
)

func (s *Server) auditLogMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		contentType := r.Header.Get("Content-Type")
		skipRequestBody := strings.Contains(contentType, "multipart/form-data")
		entry := AuditLogEntry{
			Timestamp: time.Now(),
			Method:    r.Method,
			Path:      r.URL.Path,
			Handler:   getHandlerName(r),
			OrderID:   mux.Vars(r)["id"],
		}

		if username, _, ok := r.BasicAuth(); ok {
			entry.Actor = username
		}

		if !skipRequestBody && r.Body != nil {
			requestBody, _ := io.ReadAll(r.Body)
			r.Body = io.NopCloser(bytes.NewBuffer(requestBody))
			entry.Request = truncate(requestBody)

			if entry.Handler == "transition" {
				var body struct {
					Action string `json:"action"`
				}
				if err := json.Unmarshal(requestBody, &body); err == nil {
					entry.Action = body.Action
				}
			}
		}

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		entry.StatusCode = rec.status
		entry.Response = truncate(rec.body.Bytes())

		s.AuditManager.LogEntry(r.Context(), entry)
	})
}

// getHandlerName returns the name of the matched route.
func getHandlerName(r *http.Request) string {
	if route := mux.CurrentRoute(r); route != nil {
		if name := route.GetName(); name != "" {
			return name
		}
	}
	return "unknown"
}

const maxAuditBody = 4096

func truncate(body []byte) string {
	if len(body) > maxAuditBody {
		return string(body[:maxAuditBody]) + "..."
	}
	return string(body)
}

// statusRecorder keeps the status code and the first maxAuditBody bytes of
// the response while passing everything through to the client.
type statusRecorder struct {
	http.ResponseWriter
	status int
	body   bytes.Buffer
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Write(b []byte) (int, error) {
	if room := maxAuditBody + 1 - r.body.Len(); room > 0 {
		if len(b) < room {
			room = len(b)
		}
		r.body.Write(b[:room])
	}
	return r.ResponseWriter.Write(b)
}
