package httpapi

import (
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// HealthServer exposes database connectivity through the standard
// grpc.health.v1 service, both overall ("") and for serviceName.
type HealthServer struct {
	srv *health.Server
}

// NewHealthServer starts in NOT_SERVING until the first status update.
func NewHealthServer() *HealthServer {
	h := &HealthServer{srv: health.NewServer()}
	h.set(healthpb.HealthCheckResponse_NOT_SERVING)
	return h
}

// SetConnected is shaped to be registered as a database status listener.
func (h *HealthServer) SetConnected(connected bool) {
	if connected {
		h.set(healthpb.HealthCheckResponse_SERVING)
		return
	}
	h.set(healthpb.HealthCheckResponse_NOT_SERVING)
}

// Register attaches the health service to s.
func (h *HealthServer) Register(s *grpc.Server) {
	healthpb.RegisterHealthServer(s, h.srv)
}

// Shutdown marks every service NOT_SERVING and ignores later updates.
func (h *HealthServer) Shutdown() { h.srv.Shutdown() }

func (h *HealthServer) set(status healthpb.HealthCheckResponse_ServingStatus) {
	h.srv.SetServingStatus("", status)
	h.srv.SetServingStatus(serviceName, status)
}
