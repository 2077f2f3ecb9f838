package api

import (
	"fmt"
	"net"
	"sync"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/banshee-data/csistudio/internal/csi/stream"
	"github.com/banshee-data/csistudio/internal/monitoring"
)

// HealthService is the gRPC health service name that mirrors the stream
// state.
const HealthService = "csistudio.Stream"

// Health serves grpc.health.v1.Health. HealthService is SERVING while the
// orchestrator is streaming and NOT_SERVING otherwise.
type Health struct {
	status *health.Server

	mu       sync.Mutex
	server   *grpc.Server
	listener net.Listener
	wg       sync.WaitGroup
}

// NewHealth returns a health service reporting NOT_SERVING.
func NewHealth() *Health {
	h := &Health{status: health.NewServer()}
	h.status.SetServingStatus(HealthService, healthpb.HealthCheckResponse_NOT_SERVING)
	return h
}

// Update mirrors state. It is safe to call from the orchestrator's event
// callback.
func (h *Health) Update(state stream.State) {
	s := healthpb.HealthCheckResponse_NOT_SERVING
	if state == stream.StateStreaming {
		s = healthpb.HealthCheckResponse_SERVING
	}
	h.status.SetServingStatus(HealthService, s)
}

// OnEvent is a stream event hook that forwards state changes to Update.
func (h *Health) OnEvent(e stream.Event) {
	if e.Kind == stream.EventStateChanged {
		h.Update(e.State)
	}
}

// Start listens on addr and serves in the background.
func (h *Health) Start(addr string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.server != nil {
		return fmt.Errorf("health server already running")
	}
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen: %w", err)
	}
	h.listener = lis
	h.server = grpc.NewServer()
	healthpb.RegisterHealthServer(h.server, h.status)

	srv := h.server
	h.wg.Add(1)
	go func() {
		defer h.wg.Done()
		monitoring.Logf("gRPC health service listening on %s", lis.Addr())
		if err := srv.Serve(lis); err != nil {
			monitoring.Logf("gRPC health server error: %v", err)
		}
	}()
	return nil
}

// Addr returns the listening address, or nil before Start.
func (h *Health) Addr() net.Addr {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.listener == nil {
		return nil
	}
	return h.listener.Addr()
}

// Stop marks every service NOT_SERVING and stops the server.
func (h *Health) Stop() {
	h.mu.Lock()
	srv := h.server
	h.server = nil
	h.listener = nil
	h.mu.Unlock()

	h.status.Shutdown()
	if srv != nil {
		srv.GracefulStop()
	}
	h.wg.Wait()
}
