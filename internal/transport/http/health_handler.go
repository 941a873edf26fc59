package http

import (
	"net/http"
	"os"
	"path/filepath"

	"github.com/go-chi/render"
)

// HealthHandler reports service liveness and storage writability.
type HealthHandler struct {
	version      string
	datasetsPath string
}

// NewHealthHandler creates the handler.
func NewHealthHandler(version, datasetsPath string) *HealthHandler {
	return &HealthHandler{version: version, datasetsPath: datasetsPath}
}

// Healthz handles GET /healthz.
func (h *HealthHandler) Healthz(w http.ResponseWriter, r *http.Request) {
	storageOK := true
	probe := filepath.Join(h.datasetsPath, ".healthz")
	if err := os.WriteFile(probe, []byte("ok"), 0o644); err != nil {
		storageOK = false
	} else {
		os.Remove(probe)
	}

	status := "ok"
	code := http.StatusOK
	if !storageOK {
		status = "degraded"
		code = http.StatusServiceUnavailable
	}
	render.Status(r, code)
	render.JSON(w, r, map[string]interface{}{
		"status":     status,
		"version":    h.version,
		"storage_ok": storageOK,
	})
}
