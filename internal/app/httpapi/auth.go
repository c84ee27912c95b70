package httpapi

import (
	"context"
	"net/http"
	"strings"

	"github.com/gorilla/mux"

	"github.com/cleanfleet/control-plane/internal/app/domain/authz"
	"github.com/cleanfleet/control-plane/internal/app/metrics"
	"github.com/cleanfleet/control-plane/internal/app/services/accesscontrol"
)

type contextKey string

const accessResultKey contextKey = "accessResult"

func extractToken(r *http.Request) string {
	h := r.Header.Get("Authorization")
	if !strings.HasPrefix(h, "Bearer ") {
		return ""
	}
	return strings.TrimSpace(strings.TrimPrefix(h, "Bearer "))
}

// accessFromContext returns the access decision the auth middleware
// attached to the request, if any.
func accessFromContext(r *http.Request) (authz.AccessResult, bool) {
	v, ok := r.Context().Value(accessResultKey).(authz.AccessResult)
	return v, ok
}

// authMiddleware runs every request through the Access Controller, using
// the mux route's registered path template as the resource pattern so the
// declarative policy table matches on the same shape it was authored
// against rather than on concrete path segments.
func authMiddleware(controller *accesscontrol.Controller, m *metrics.Metrics) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			resource := r.URL.Path
			if route := mux.CurrentRoute(r); route != nil {
				if tmpl, err := route.GetPathTemplate(); err == nil {
					resource = tmpl
				}
			}

			result := controller.Validate(authz.AccessRequest{
				Token:    extractToken(r),
				Resource: resource,
				Method:   r.Method,
				ClientIP: clientIP(r),
			})

			if m != nil {
				m.AccessDecisionsTotal.WithLabelValues(boolLabel(result.Granted), string(result.DenialReason)).Inc()
			}

			if !result.Granted {
				status := http.StatusForbidden
				if result.DenialReason == authz.DenialUnauthorized {
					status = http.StatusUnauthorized
				}
				writeJSON(w, status, map[string]interface{}{
					"message":      "access denied",
					"reason":       result.DenialReason,
					"missingPerms": result.MissingPerms,
				})
				return
			}

			ctx := context.WithValue(r.Context(), accessResultKey, result)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func boolLabel(b bool) string {
	if b {
		return "true"
	}
	return "false"
}

func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		return strings.TrimSpace(strings.SplitN(fwd, ",", 2)[0])
	}
	return r.RemoteAddr
}
