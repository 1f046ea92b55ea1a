package control

import (
	"context"
	"net"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/peer"
	"google.golang.org/grpc/status"
)

// loopbackOnlyInterceptor rejects any RPC whose peer address isn't on
// the local host, grounded on the teacher's ReadOnlyInterceptor gate
// (pkg/api/interceptor.go denies writes over the unix-socket listener
// unless the caller authenticates over TCP+mTLS); here the control
// surface has no certificates to check, so the gate is instead "did
// this call even originate on this machine" — the surface is
// documented as loopback-only (spec §6.1), this interceptor makes
// that a server-enforced property instead of just a deployment
// convention.
func loopbackOnlyInterceptor() grpc.UnaryServerInterceptor {
	return func(
		ctx context.Context,
		req interface{},
		info *grpc.UnaryServerInfo,
		handler grpc.UnaryHandler,
	) (interface{}, error) {
		p, ok := peer.FromContext(ctx)
		if !ok || !isLoopbackAddr(p.Addr) {
			return nil, status.Error(codes.PermissionDenied, "control surface only accepts loopback connections")
		}
		return handler(ctx, req)
	}
}

func isLoopbackAddr(addr net.Addr) bool {
	host, _, err := net.SplitHostPort(addr.String())
	if err != nil {
		host = addr.String()
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}
