package auth

import (
	"context"
	"crypto/subtle"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
)

// ModeAPIKey is the only mode that enforces a key.
const ModeAPIKey = "apikey"

// APIKeyInterceptor guards unary calls on the gRPC listener. When mode is
// not ModeAPIKey or key is empty every call is let through; otherwise the
// first value of the (lowercase) metadata header must equal key or the call
// fails with codes.Unauthenticated.
func APIKeyInterceptor(mode, header, key string) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req interface{}, _ *grpc.UnaryServerInfo, next grpc.UnaryHandler) (interface{}, error) {
		if err := authorize(ctx, mode, header, key); err != nil {
			return nil, err
		}
		return next(ctx, req)
	}
}

// StreamAPIKeyInterceptor applies the same check to streams (health Watch).
func StreamAPIKeyInterceptor(mode, header, key string) grpc.StreamServerInterceptor {
	return func(srv interface{}, ss grpc.ServerStream, _ *grpc.StreamServerInfo, next grpc.StreamHandler) error {
		if err := authorize(ss.Context(), mode, header, key); err != nil {
			return err
		}
		return next(srv, ss)
	}
}

func authorize(ctx context.Context, mode, header, key string) error {
	if !enforced(mode, key) {
		return nil
	}
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return status.Error(codes.Unauthenticated, "missing metadata")
	}
	if vals := md.Get(header); len(vals) == 0 || !equal(vals[0], key) {
		return status.Error(codes.Unauthenticated, "invalid api key")
	}
	return nil
}

func enforced(mode, key string) bool {
	return mode == ModeAPIKey && key != ""
}

// equal compares in constant time.
func equal(got, want string) bool {
	return subtle.ConstantTimeCompare([]byte(got), []byte(want)) == 1
}
