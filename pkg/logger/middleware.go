package logger

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/screwyprof/restaker/pkg/httpkit"
)

// responseWriter wraps http.ResponseWriter to capture status code and response size
type responseWriter struct {
	http.ResponseWriter
	statusCode int
	bytesOut   int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	size, err := rw.ResponseWriter.Write(b)
	rw.bytesOut += size
	return size, err
}

// MiddlewareOption configures the request logging middleware
type MiddlewareOption func(*middlewareSettings)

type middlewareSettings struct {
	quietPaths map[string]struct{}
}

// WithQuietPaths logs successful requests to the given paths at debug level.
// Health probes and metric scrapes would otherwise flood the log.
func WithQuietPaths(paths ...string) MiddlewareOption {
	return func(s *middlewareSettings) {
		for _, p := range paths {
			s.quietPaths[p] = struct{}{}
		}
	}
}

// NewMiddleware creates HTTP request logging middleware
func NewMiddleware(logger *slog.Logger, opts ...MiddlewareOption) func(http.Handler) http.Handler {
	settings := middlewareSettings{quietPaths: map[string]struct{}{}}
	for _, opt := range opts {
		opt(&settings)
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			r = r.WithContext(httpkit.WithErrorTracking(r.Context()))
			rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

			next.ServeHTTP(rw, r)

			attrs := []slog.Attr{
				slog.String("method", r.Method),
				slog.String("uri", r.RequestURI),
				slog.Int("status", rw.statusCode),
				slog.Duration("duration", time.Since(start)),
				slog.Int("bytes_in", max(0, int(r.ContentLength))),
				slog.Int("bytes_out", rw.bytesOut),
			}
			if err := httpkit.ErrorFrom(r.Context()); err != nil {
				attrs = append(attrs, slog.String("error", errorMessage(err)))
			}

			_, quiet := settings.quietPaths[r.URL.Path]
			logger.LogAttrs(r.Context(), levelFor(rw.statusCode, quiet), "HTTP", attrs...)
		})
	}
}

func levelFor(status int, quiet bool) slog.Level {
	switch {
	case status >= http.StatusInternalServerError:
		return slog.LevelError
	case quiet:
		return slog.LevelDebug
	default:
		return slog.LevelInfo
	}
}

// errorMessage prefers the detailed cause over the client-facing message
func errorMessage(err error) string {
	var httpErr httpkit.HTTPError
	if errors.As(err, &httpErr) && httpErr.Cause() != nil {
		return httpErr.Cause().Error()
	}
	return err.Error()
}
