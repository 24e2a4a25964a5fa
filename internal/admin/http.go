package admin

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	apperrors "github.com/Proton-105/claim-bot/internal/errors"
	"github.com/Proton-105/claim-bot/internal/middleware"
	"github.com/Proton-105/claim-bot/pkg/logger"
)

// HealthReporter returns per-component statuses, "OK" meaning healthy.
type HealthReporter interface {
	Check(ctx context.Context) map[string]string
}

// RouterConfig wires the admin HTTP surface.
type RouterConfig struct {
	Service *Service
	Token   string
	Health  HealthReporter
	Metrics http.Handler
	Log     *slog.Logger
}

type api struct {
	svc   *Service
	token string
	log   *slog.Logger
}

// NewRouter serves health and metrics publicly and the admin routes behind a bearer token.
// The admin routes are not mounted when no token is configured.
func NewRouter(cfg RouterConfig) http.Handler {
	log := cfg.Log
	if log == nil {
		log = slog.Default()
	}

	a := &api{svc: cfg.Service, token: cfg.Token, log: log.With(slog.String("component", "admin_http"))}

	r := chi.NewRouter()
	r.Use(logger.Middleware)
	r.Use(middleware.HTTPLogging(a.log))

	if cfg.Health != nil {
		r.Get("/healthz", healthHandler(cfg.Health))
	}
	if cfg.Metrics != nil {
		r.Handle("/metrics", cfg.Metrics)
	}

	if cfg.Service == nil || cfg.Token == "" {
		return r
	}

	r.Route("/admin", func(r chi.Router) {
		r.Use(a.auth)
		r.Get("/status", a.handleStatus)
		r.Put("/request-count", a.handleRequestCount)
		r.Put("/success-threshold", a.handleSuccessThreshold)
		r.Put("/delay", a.handleDelay)
		r.Put("/requests-enabled", a.handleRequestsEnabled)
		r.Post("/users/{id}/cancel", a.handleCancel)
		r.Post("/blocked/{key}", a.handleBlock)
		r.Delete("/blocked/{key}", a.handleUnblock)
	})

	return r
}

func healthHandler(h HealthReporter) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		results := h.Check(r.Context())
		code := http.StatusOK
		for _, status := range results {
			if status != "OK" {
				code = http.StatusServiceUnavailable
				break
			}
		}
		writeJSON(w, code, results)
	}
}

func (a *api) auth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got := parseBearer(r.Header.Get("Authorization"))
		if got == "" || subtle.ConstantTimeCompare([]byte(got), []byte(a.token)) != 1 {
			a.log.Warn("admin request rejected",
				slog.String("path", r.URL.Path),
				slog.String("correlation_id", logger.CorrelationIDFromContext(r.Context())),
			)
			writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
			return
		}
		next.ServeHTTP(w, r)
	})
}

func parseBearer(header string) string {
	const prefix = "Bearer "
	if len(header) < len(prefix) || !strings.EqualFold(header[:len(prefix)], prefix) {
		return ""
	}
	return strings.TrimSpace(header[len(prefix):])
}

type valueRequest struct {
	Value json.RawMessage `json:"value"`
}

func decodeValue(r *http.Request, dst any) error {
	var req valueRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		return apperrors.NewValidationError("body must be JSON like {\"value\": ...}")
	}
	if len(req.Value) == 0 {
		return apperrors.NewValidationError("missing \"value\"")
	}
	if err := json.Unmarshal(req.Value, dst); err != nil {
		return apperrors.NewValidationError("\"value\" has the wrong type")
	}
	return nil
}

func (a *api) handleStatus(w http.ResponseWriter, r *http.Request) {
	st, err := a.svc.Status(r.Context())
	if err != nil {
		a.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (a *api) handleRequestCount(w http.ResponseWriter, r *http.Request) {
	var n int
	if err := decodeValue(r, &n); err != nil {
		a.writeError(w, err)
		return
	}
	if err := a.svc.SetRequestCount(n); err != nil {
		a.writeError(w, err)
		return
	}
	a.handleStatus(w, r)
}

func (a *api) handleSuccessThreshold(w http.ResponseWriter, r *http.Request) {
	var n int
	if err := decodeValue(r, &n); err != nil {
		a.writeError(w, err)
		return
	}
	if err := a.svc.SetSuccessThreshold(n); err != nil {
		a.writeError(w, err)
		return
	}
	a.handleStatus(w, r)
}

func (a *api) handleDelay(w http.ResponseWriter, r *http.Request) {
	var raw string
	if err := decodeValue(r, &raw); err != nil {
		a.writeError(w, err)
		return
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		a.writeError(w, apperrors.NewValidationError("delay must be a duration like 2s"))
		return
	}
	if err := a.svc.SetDelay(d); err != nil {
		a.writeError(w, err)
		return
	}
	a.handleStatus(w, r)
}

func (a *api) handleRequestsEnabled(w http.ResponseWriter, r *http.Request) {
	var enabled bool
	if err := decodeValue(r, &enabled); err != nil {
		a.writeError(w, err)
		return
	}
	a.svc.SetRequestsEnabled(enabled)
	a.handleStatus(w, r)
}

func (a *api) handleCancel(w http.ResponseWriter, r *http.Request) {
	userID, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		a.writeError(w, apperrors.NewValidationError("user id must be an integer"))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"user_id": userID, "cancelled": a.svc.CancelUser(userID)})
}

func (a *api) handleBlock(w http.ResponseWriter, r *http.Request) {
	key, added, err := a.svc.Block(r.Context(), chi.URLParam(r, "key"))
	if err != nil {
		a.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"key": key, "changed": added})
}

func (a *api) handleUnblock(w http.ResponseWriter, r *http.Request) {
	key, removed, err := a.svc.Unblock(r.Context(), chi.URLParam(r, "key"))
	if err != nil {
		a.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"key": key, "changed": removed})
}

func (a *api) writeError(w http.ResponseWriter, err error) {
	var appErr *apperrors.AppError
	if errors.As(err, &appErr) && appErr.Code == apperrors.CodeValidation {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": appErr.Message, "code": appErr.Code})
		return
	}

	a.log.Error("admin request failed", slog.Any("error", err))
	writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal error"})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
