package api

import (
	"net/http"

	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// Health tracks readiness for both the HTTP /health endpoint and the gRPC
// health service. It reports NOT_SERVING until SetReady(true), which the
// server calls once recovery has finished.
type Health struct {
	srv *health.Server
}

func NewHealth() *Health {
	srv := health.NewServer()
	srv.SetServingStatus("", healthpb.HealthCheckResponse_NOT_SERVING)
	return &Health{srv: srv}
}

func (h *Health) SetReady(ready bool) {
	status := healthpb.HealthCheckResponse_NOT_SERVING
	if ready {
		status = healthpb.HealthCheckResponse_SERVING
	}
	h.srv.SetServingStatus("", status)
}

// Shutdown marks every service NOT_SERVING and ignores later updates.
func (h *Health) Shutdown() { h.srv.Shutdown() }

// Server is the gRPC health service to register on a grpc.Server.
func (h *Health) Server() healthpb.HealthServer { return h.srv }

func (h *Health) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	resp, err := h.srv.Check(r.Context(), &healthpb.HealthCheckRequest{})
	if err != nil || resp.GetStatus() != healthpb.HealthCheckResponse_SERVING {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
