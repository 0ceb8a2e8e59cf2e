package worker

import (
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"

	"regwatch/internal/observability/logging"
)

// RequestIDHeader carries the request id in both directions.
const RequestIDHeader = "X-Request-ID"

// responseRecorder remembers the status code and body size of a response.
type responseRecorder struct {
	http.ResponseWriter
	statusCode    int
	bytesWritten  int
	headerWritten bool
}

func newResponseRecorder(w http.ResponseWriter) *responseRecorder {
	return &responseRecorder{ResponseWriter: w, statusCode: http.StatusOK}
}

func (w *responseRecorder) WriteHeader(statusCode int) {
	if w.headerWritten {
		return
	}
	w.statusCode = statusCode
	w.headerWritten = true
	w.ResponseWriter.WriteHeader(statusCode)
}

func (w *responseRecorder) Write(b []byte) (int, error) {
	if !w.headerWritten {
		w.WriteHeader(http.StatusOK)
	}
	n, err := w.ResponseWriter.Write(b)
	w.bytesWritten += n
	return n, err
}

// Unwrap lets http.ResponseController reach the underlying writer.
func (w *responseRecorder) Unwrap() http.ResponseWriter {
	return w.ResponseWriter
}

// instrument wraps next with request id propagation, request metrics and a
// debug access log. The route label is the matched mux pattern so unknown
// paths cannot grow label cardinality.
func instrument(next http.Handler, metrics *WorkerMetrics, logger *slog.Logger) http.Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		requestID := r.Header.Get(RequestIDHeader)
		if requestID == "" {
			requestID = uuid.New().String()
		}
		w.Header().Set(RequestIDHeader, requestID)

		ctx := logging.WithLogger(r.Context(), logger)
		ctx = logging.WithCorrelationID(ctx, requestID)
		req := r.WithContext(ctx)

		rw := newResponseRecorder(w)
		next.ServeHTTP(rw, req)

		route := req.Pattern
		if route == "" {
			route = "unmatched"
		}
		elapsed := time.Since(start)
		if metrics != nil {
			metrics.RecordRequest(route, rw.statusCode, elapsed)
		}
		logging.FromContext(ctx).Debug("status request",
			slog.String("method", r.Method),
			slog.String("route", route),
			slog.Int("status", rw.statusCode),
			slog.Int("bytes", rw.bytesWritten),
			slog.Duration("duration", elapsed))
	})
}

func statusLabel(code int) string {
	return strconv.Itoa(code)
}
