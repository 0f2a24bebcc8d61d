package grpcsvc_test

import (
	"context"
	"net"
	"testing"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"github.com/testpulse/testpulse/internal/auth"
	"github.com/testpulse/testpulse/internal/grpcsvc"
)

// startServer starts the health service on a random TCP port and returns a
// connected client.
func startServer(t *testing.T, mode, key string) (healthpb.HealthClient, *grpcsvc.Server) {
	t.Helper()

	srv := grpcsvc.New(
		auth.APIKeyInterceptor(mode, "x-api-key", key),
		auth.StreamAPIKeyInterceptor(mode, "x-api-key", key),
	)

	lis, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	go srv.Serve(lis) //nolint:errcheck
	t.Cleanup(srv.Stop)

	conn, err := grpc.Dial(lis.Addr().String(),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	) //nolint:staticcheck
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })

	return healthpb.NewHealthClient(conn), srv
}

func check(t *testing.T, ctx context.Context, client healthpb.HealthClient) healthpb.HealthCheckResponse_ServingStatus {
	t.Helper()
	resp, err := client.Check(ctx, &healthpb.HealthCheckRequest{Service: grpcsvc.ServiceName})
	if err != nil {
		t.Fatalf("Check: %v", err)
	}
	return resp.Status
}

func TestHealth_ReadinessTransitions(t *testing.T) {
	client, srv := startServer(t, "none", "")
	ctx := context.Background()

	if st := check(t, ctx, client); st != healthpb.HealthCheckResponse_NOT_SERVING {
		t.Errorf("initial status = %v, want NOT_SERVING", st)
	}

	srv.SetReady(true)
	if st := check(t, ctx, client); st != healthpb.HealthCheckResponse_SERVING {
		t.Errorf("status after SetReady(true) = %v, want SERVING", st)
	}

	srv.SetReady(false)
	if st := check(t, ctx, client); st != healthpb.HealthCheckResponse_NOT_SERVING {
		t.Errorf("status after SetReady(false) = %v, want NOT_SERVING", st)
	}
}

func TestHealth_OverallServerServing(t *testing.T) {
	client, _ := startServer(t, "none", "")
	resp, err := client.Check(context.Background(), &healthpb.HealthCheckRequest{})
	if err != nil {
		t.Fatalf("Check: %v", err)
	}
	if resp.Status != healthpb.HealthCheckResponse_SERVING {
		t.Errorf("status = %v, want SERVING", resp.Status)
	}
}

func TestHealth_UnknownService_NotFound(t *testing.T) {
	client, _ := startServer(t, "none", "")
	_, err := client.Check(context.Background(), &healthpb.HealthCheckRequest{Service: "nope"})
	if code := status.Code(err); code != codes.NotFound {
		t.Errorf("code = %v, want NotFound", code)
	}
}

func TestHealth_APIKeyRequired(t *testing.T) {
	client, _ := startServer(t, auth.ModeAPIKey, "secret")

	_, err := client.Check(context.Background(), &healthpb.HealthCheckRequest{})
	if code := status.Code(err); code != codes.Unauthenticated {
		t.Errorf("without key: code = %v, want Unauthenticated", code)
	}

	ctx := metadata.AppendToOutgoingContext(context.Background(), "x-api-key", "secret")
	if _, err := client.Check(ctx, &healthpb.HealthCheckRequest{}); err != nil {
		t.Errorf("with key: %v", err)
	}
}

func TestStop_DoesNotWaitForWatchStreams(t *testing.T) {
	client, srv := startServer(t, "none", "")
	srv.SetReady(true)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	stream, err := client.Watch(ctx, &healthpb.HealthCheckRequest{Service: grpcsvc.ServiceName})
	if err != nil {
		t.Fatalf("Watch: %v", err)
	}
	if _, err := stream.Recv(); err != nil {
		t.Fatalf("first Watch update: %v", err)
	}

	stopped := make(chan struct{})
	go func() {
		srv.StopWithin(100 * time.Millisecond)
		close(stopped)
	}()

	select {
	case <-stopped:
	case <-time.After(3 * time.Second):
		t.Fatal("StopWithin blocked on an open Watch stream")
	}
}
