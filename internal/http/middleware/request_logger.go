package middleware

import (
	"context"
	"net/http"
	"time"

	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"

	"github.com/wolfman30/booking-core/internal/identity"
	"github.com/wolfman30/booking-core/pkg/logging"
)

type callerKey struct{}

// caller is filled in by BearerJWT so the outer request log can name the user.
type caller struct {
	id identity.Identity
	ok bool
}

func recordCaller(ctx context.Context, id identity.Identity) {
	if c, _ := ctx.Value(callerKey{}).(*caller); c != nil {
		c.id, c.ok = id, true
	}
}

// RequestLogger emits one structured log line per HTTP request and echoes the
// request id back in X-Request-ID.
func RequestLogger(logger *logging.Logger) func(http.Handler) http.Handler {
	if logger == nil {
		logger = logging.Default()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			reqID := r.Header.Get("X-Request-ID")
			if reqID == "" {
				reqID = chimw.GetReqID(r.Context())
			}
			if reqID == "" {
				reqID = uuid.NewString()
			}
			w.Header().Set("X-Request-ID", reqID)
			c := &caller{}
			ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r.WithContext(context.WithValue(r.Context(), callerKey{}, c)))

			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}
			args := []any{
				"method", r.Method,
				"path", r.URL.Path,
				"request_id", reqID,
				"status", status,
				"bytes", ww.BytesWritten(),
				"duration_ms", time.Since(start).Milliseconds(),
			}
			if c.ok {
				args = append(args, "user_id", c.id.UserID, "role", string(c.id.Role))
			} else if id, ok := identity.FromContext(r.Context()); ok {
				args = append(args, "user_id", id.UserID, "role", string(id.Role))
			}
			if status >= http.StatusInternalServerError {
				logger.Error("request completed", args...)
				return
			}
			logger.Info("request completed", args...)
		})
	}
}
