package logx

import (
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
)

// New builds a JSON logger stamped with the service name. An unknown
// level falls back to info.
func New(w io.Writer, service, level string) zerolog.Logger {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil || level == "" {
		lvl = zerolog.InfoLevel
	}
	return zerolog.New(w).Level(lvl).With().Timestamp().Str("service", service).Logger()
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (w *statusRecorder) WriteHeader(status int) {
	w.status = status
	w.ResponseWriter.WriteHeader(status)
}

func (w *statusRecorder) Write(b []byte) (int, error) {
	if w.status == 0 {
		w.status = http.StatusOK
	}
	return w.ResponseWriter.Write(b)
}

// Middleware logs one line per request and turns a panic into a 500.
// Must run after chi's RequestID middleware.
func Middleware(log zerolog.Logger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			rec := &statusRecorder{ResponseWriter: w}
			start := time.Now()

			defer func() {
				if p := recover(); p != nil {
					log.Error().
						Str("request_id", middleware.GetReqID(r.Context())).
						Str("method", r.Method).
						Str("url", r.URL.String()).
						Str("error", fmt.Sprint(p)).
						Msg("panic")
					if rec.status == 0 {
						rec.Header().Set("Content-Type", "application/json")
						rec.WriteHeader(http.StatusInternalServerError)
						_, _ = rec.Write([]byte(`{"error":"internal server error"}` + "\n"))
					}
				}

				ev := log.Info()
				if rec.status >= http.StatusInternalServerError {
					ev = log.Error()
				}
				ev.Str("request_id", middleware.GetReqID(r.Context())).
					Str("user_id", r.Header.Get("X-User-ID")).
					Str("method", r.Method).
					Str("url", r.URL.String()).
					Int("status", rec.status).
					Dur("latency", time.Since(start)).
					Msg("request completed")
			}()

			next.ServeHTTP(rec, r)
		})
	}
}
