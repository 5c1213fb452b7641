package api

import (
	"context"
	"net/http"
	"time"
)

type HealthResponse struct {
	Status        string            `json:"status"`
	Version       string            `json:"version"`
	UptimeSeconds int64             `json:"uptime_seconds"`
	Checks        map[string]string `json:"checks"`
}

// Pinger is satisfied by *database.DB.
type Pinger interface {
	HealthCheck(ctx context.Context) error
}

// ConnStatus is satisfied by *mqttclient.Client.
type ConnStatus interface {
	IsConnected() bool
}

type HealthHandler struct {
	db        Pinger
	mqtt      ConnStatus
	providers Providers
	version   string
	startTime time.Time
}

// NewHealthHandler builds the health endpoint. mqtt may be nil when no
// broker is configured.
func NewHealthHandler(db Pinger, mqtt ConnStatus, providers Providers, version string, startTime time.Time) *HealthHandler {
	return &HealthHandler{
		db:        db,
		mqtt:      mqtt,
		providers: providers,
		version:   version,
		startTime: startTime,
	}
}

func (h *HealthHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	checks := make(map[string]string)
	status := "healthy"
	httpStatus := http.StatusOK

	// Database check
	if err := h.db.HealthCheck(r.Context()); err != nil {
		checks["database"] = "error"
		status = "unhealthy"
		httpStatus = http.StatusServiceUnavailable
	} else {
		checks["database"] = "ok"
	}

	// MQTT check
	if h.mqtt != nil {
		if h.mqtt.IsConnected() {
			checks["mqtt"] = "ok"
		} else {
			checks["mqtt"] = "disconnected"
			if status == "healthy" {
				status = "degraded"
			}
		}
	} else {
		checks["mqtt"] = "not_configured"
	}

	checks[providerCloud] = configured(h.providers.Cloud != nil)
	checks[providerClova] = configured(h.providers.Clova != nil)
	checks[providerGemini] = configured(h.providers.Gemini != nil)
	checks["short_form"] = configured(h.providers.Short != nil)

	WriteJSON(w, httpStatus, HealthResponse{
		Status:        status,
		Version:       h.version,
		UptimeSeconds: int64(time.Since(h.startTime).Seconds()),
		Checks:        checks,
	})
}

func configured(ok bool) string {
	if ok {
		return "ok"
	}
	return "not_configured"
}
