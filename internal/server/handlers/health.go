package handlers

import (
	"context"

	"github.com/maruel/secdb/internal/server/dto"
)

// HealthHandler reports liveness.
type HealthHandler struct {
	version string
}

// NewHealthHandler returns a HealthHandler.
func NewHealthHandler(version string) *HealthHandler {
	return &HealthHandler{version: version}
}

// Health returns the server status.
func (h *HealthHandler) Health(ctx context.Context, req *dto.HealthRequest) (*dto.HealthResponse, error) {
	return &dto.HealthResponse{Status: "ok", Version: h.version}, nil
}
