package middleware

import (
	"log/slog"
	"net/http"
	"runtime/debug"

	"github.com/go-chi/chi/v5"

	"github.com/jmylchreest/framecast/internal/observability"
)

// Recovery recovers from handler panics, logs them with the matched route
// and answers 500. Window routes also log the window id.
// http.ErrAbortHandler is re-raised.
func Recovery(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				rec := recover()
				if rec == nil {
					return
				}
				if rec == http.ErrAbortHandler {
					panic(rec)
				}

				route := routePattern(r)
				attrs := []slog.Attr{
					slog.Any("error", rec),
					slog.String("method", r.Method),
					slog.String("route", route),
					slog.String("path", r.URL.Path),
					slog.String(observability.AttrRequestID, observability.RequestIDFromContext(r.Context())),
				}
				if id := chi.URLParam(r, "id"); id != "" {
					attrs = append(attrs, slog.String(observability.AttrWindowID, id))
				}
				attrs = append(attrs, slog.String("stack", string(debug.Stack())))
				logger.LogAttrs(r.Context(), slog.LevelError, "panic recovered", attrs...)
				observability.RecordAPIPanic(route)

				http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
			}()
			next.ServeHTTP(w, r)
		})
	}
}
