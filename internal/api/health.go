package api

import (
	"context"
	"net/http"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/hackgods/dental-appointment-scheduling/internal/notification"
)

// Pinger is satisfied by the appointment store behind the service.
type Pinger interface {
	Ping(ctx context.Context) error
}

// NotifierState reports the confirmation channel's connection state.
type NotifierState interface {
	State() notification.State
}

type HealthHandler struct {
	store    Pinger
	redis    *redis.Client
	notifier NotifierState
	env      string
	version  string
}

// NewHealthHandler builds the health endpoints. redis and notifier may be nil
// when the deployment runs without them.
func NewHealthHandler(store Pinger, redis *redis.Client, notifier NotifierState, env, version string) *HealthHandler {
	return &HealthHandler{
		store:    store,
		redis:    redis,
		notifier: notifier,
		env:      env,
		version:  version,
	}
}

type LivenessResponse struct {
	Status  string `json:"status"`
	Version string `json:"version,omitempty"`
	Env     string `json:"env,omitempty"`
}

type ReadinessResponse struct {
	Status       string            `json:"status"`
	Version      string            `json:"version,omitempty"`
	Env          string            `json:"env,omitempty"`
	Dependencies map[string]string `json:"dependencies"`
}

func (h *HealthHandler) Liveness(w http.ResponseWriter, r *http.Request) {
	resp := LivenessResponse{
		Status:  "ok",
		Version: h.version,
		Env:     h.env,
	}
	writeJSON(w, http.StatusOK, resp)
}

// Readiness fails only when the store is down. A missing lock server or
// notification channel degrades the service but bookings still work.
func (h *HealthHandler) Readiness(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	deps := make(map[string]string)
	status := "ok"
	degrade := func() {
		if status == "ok" {
			status = "degraded"
		}
	}

	storeCtx, storeCancel := context.WithTimeout(ctx, 1*time.Second)
	err := h.store.Ping(storeCtx)
	storeCancel()
	if err != nil {
		deps["store"] = "down"
		status = "error"
	} else {
		deps["store"] = "ok"
	}

	if h.redis != nil {
		redisCtx, redisCancel := context.WithTimeout(ctx, 1*time.Second)
		err = h.redis.Ping(redisCtx).Err()
		redisCancel()
		if err != nil {
			deps["redis"] = "down"
			degrade()
		} else {
			deps["redis"] = "ok"
		}
	}

	if h.notifier != nil {
		state := h.notifier.State()
		deps["notifier"] = string(state)
		if state != notification.StateReady {
			degrade()
		}
	}

	resp := ReadinessResponse{
		Status:       status,
		Version:      h.version,
		Env:          h.env,
		Dependencies: deps,
	}

	httpStatus := http.StatusOK
	if status == "error" {
		httpStatus = http.StatusServiceUnavailable
	}

	writeJSON(w, httpStatus, resp)
}
