package grpcsvc

import (
	"log/slog"
	"net"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// ServiceName is the health entry tracking dashboard readiness.
const ServiceName = "testpulse.Dashboard"

// drainTimeout bounds GracefulStop; open health Watch streams never finish
// on their own.
const drainTimeout = 5 * time.Second

// Server wraps a grpc.Server with a health service registered.
type Server struct {
	srv    *grpc.Server
	health *health.Server
}

// New creates a Server. Readiness starts as NOT_SERVING.
func New(unary grpc.UnaryServerInterceptor, stream grpc.StreamServerInterceptor) *Server {
	srv := grpc.NewServer(
		grpc.UnaryInterceptor(unary),
		grpc.StreamInterceptor(stream),
	)
	hs := health.NewServer()
	hs.SetServingStatus(ServiceName, healthpb.HealthCheckResponse_NOT_SERVING)
	healthpb.RegisterHealthServer(srv, hs)
	return &Server{srv: srv, health: hs}
}

// SetReady flips the dashboard health entry.
func (s *Server) SetReady(ready bool) {
	st := healthpb.HealthCheckResponse_NOT_SERVING
	if ready {
		st = healthpb.HealthCheckResponse_SERVING
	}
	s.health.SetServingStatus(ServiceName, st)
	slog.Debug("grpc: readiness changed", "service", ServiceName, "status", st.String())
}

// Serve accepts connections on lis until Stop is called.
func (s *Server) Serve(lis net.Listener) error {
	slog.Info("grpc: health service listening", "addr", lis.Addr().String())
	return s.srv.Serve(lis)
}

// Stop marks every service NOT_SERVING and drains in-flight calls, closing
// whatever is still open after a few seconds.
func (s *Server) Stop() {
	s.StopWithin(drainTimeout)
}

// StopWithin is Stop with an explicit drain deadline.
func (s *Server) StopWithin(d time.Duration) {
	s.health.Shutdown()

	done := make(chan struct{})
	go func() {
		s.srv.GracefulStop()
		close(done)
	}()

	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-done:
	case <-t.C:
		slog.Warn("grpc: drain timed out, closing remaining streams", "timeout", d)
		s.srv.Stop()
		<-done
	}
}
