package handlers

import (
	"context"
	"net/http"
	"os"
	"runtime"
	"time"

	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-layers/pkg/config"
)

// PostGISChecker reports the PostGIS version of the backing database.
// *database.DB satisfies it.
type PostGISChecker interface {
	PostGISVersion(ctx context.Context) (string, error)
}

// PingResponse contains service status and version information.
type PingResponse struct {
	Status         string `json:"status"`
	Version        string `json:"version"`
	Service        string `json:"service"`
	GoVersion      string `json:"go_version"`
	Hostname       string `json:"hostname"`
	Environment    string `json:"environment"`
	PostGISVersion string `json:"postgis_version,omitempty"`
	Database       string `json:"database"`
}

// HealthHandler handles health check and ping endpoints.
type HealthHandler struct {
	cfg     *config.Config
	postgis PostGISChecker
	logger  *zap.Logger
}

// NewHealthHandler creates a new HealthHandler. postgis may be nil, in which
// case /ping reports the database as "unchecked".
func NewHealthHandler(cfg *config.Config, postgis PostGISChecker, logger *zap.Logger) *HealthHandler {
	return &HealthHandler{cfg: cfg, postgis: postgis, logger: logger}
}

// RegisterRoutes registers the health handler's routes on the given mux.
func (h *HealthHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /health", h.Health)
	mux.HandleFunc("GET /ping", h.Ping)
}

// Health handles GET /health requests. Liveness only; it never touches the
// database.
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// Ping handles GET /ping requests.
// Returns service details and checks that PostGIS answers. Responds 503 when
// the database check fails.
func (h *HealthHandler) Ping(w http.ResponseWriter, r *http.Request) {
	hostname, err := os.Hostname()
	if err != nil {
		http.Error(w, "failed to get hostname", http.StatusInternalServerError)
		return
	}

	response := PingResponse{
		Status:      "ok",
		Version:     h.cfg.Version,
		Service:     "ekaya-layers",
		GoVersion:   runtime.Version(),
		Hostname:    hostname,
		Environment: h.cfg.Env,
		Database:    "unchecked",
	}

	status := http.StatusOK
	if h.postgis != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
		defer cancel()

		version, err := h.postgis.PostGISVersion(ctx)
		if err != nil {
			h.logger.Warn("PostGIS check failed", zap.Error(err))
			response.Status = "degraded"
			response.Database = "unavailable"
			status = http.StatusServiceUnavailable
		} else {
			response.Database = "ok"
			response.PostGISVersion = version
		}
	}

	if err := WriteJSON(w, status, response); err != nil {
		h.logger.Error("Failed to encode ping response", zap.Error(err))
	}
}
