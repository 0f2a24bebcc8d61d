package auth

import (
	"context"
	"testing"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
)

const (
	testHeader = "x-testpulse-token"
	testKey    = "dashboard-key"
)

// incoming builds a server-side context; a nil md means no metadata at all.
func incoming(md metadata.MD) context.Context {
	if md == nil {
		return context.Background()
	}
	return metadata.NewIncomingContext(context.Background(), md)
}

var authCases = []struct {
	name string
	mode string
	key  string
	md   metadata.MD
	want codes.Code
}{
	{"mode none ignores key", "none", testKey, nil, codes.OK},
	{"empty key disables auth", ModeAPIKey, "", nil, codes.OK},
	{"correct key", ModeAPIKey, testKey, metadata.Pairs(testHeader, testKey), codes.OK},
	{"wrong key", ModeAPIKey, testKey, metadata.Pairs(testHeader, "nope"), codes.Unauthenticated},
	{"key under other header", ModeAPIKey, testKey, metadata.Pairs("x-api-key", testKey), codes.Unauthenticated},
	{"empty metadata", ModeAPIKey, testKey, metadata.MD{}, codes.Unauthenticated},
	{"no metadata", ModeAPIKey, testKey, nil, codes.Unauthenticated},
}

func TestAPIKeyInterceptor(t *testing.T) {
	for _, tc := range authCases {
		t.Run(tc.name, func(t *testing.T) {
			called := false
			next := func(ctx context.Context, req interface{}) (interface{}, error) {
				called = true
				return "ok", nil
			}

			i := APIKeyInterceptor(tc.mode, testHeader, tc.key)
			res, err := i(incoming(tc.md), nil, &grpc.UnaryServerInfo{FullMethod: "/grpc.health.v1.Health/Check"}, next)

			if got := status.Code(err); got != tc.want {
				t.Fatalf("code: got %v, want %v", got, tc.want)
			}
			if tc.want == codes.OK && (res != "ok" || !called) {
				t.Errorf("handler not reached: res=%v called=%v", res, called)
			}
			if tc.want != codes.OK && called {
				t.Error("handler must not run when the call is rejected")
			}
		})
	}
}

// fakeStream carries only a context.
type fakeStream struct {
	grpc.ServerStream
	ctx context.Context
}

func (s fakeStream) Context() context.Context { return s.ctx }

func TestStreamAPIKeyInterceptor(t *testing.T) {
	for _, tc := range authCases {
		t.Run(tc.name, func(t *testing.T) {
			called := false
			next := func(srv interface{}, ss grpc.ServerStream) error {
				called = true
				return nil
			}

			i := StreamAPIKeyInterceptor(tc.mode, testHeader, tc.key)
			err := i(nil, fakeStream{ctx: incoming(tc.md)}, &grpc.StreamServerInfo{}, next)

			if got := status.Code(err); got != tc.want {
				t.Fatalf("code: got %v, want %v", got, tc.want)
			}
			if called != (tc.want == codes.OK) {
				t.Errorf("handler called=%v, want %v", called, tc.want == codes.OK)
			}
		})
	}
}
