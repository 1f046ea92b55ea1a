package control

import (
	"context"
	"fmt"
	"net"

	"github.com/rs/zerolog"
	"google.golang.org/grpc"
	"google.golang.org/grpc/encoding"

	"github.com/cuemby/ota-agent/internal/otalog"
	"github.com/cuemby/ota-agent/pkg/otatypes"
)

func init() {
	encoding.RegisterCodec(jsonCodec{})
}

// Agent is the subset of *orchestrator.Orchestrator the control
// surface drives (spec §6.1's "public API": start/stop/get-update-now
// plus the read-only accessors).
type Agent interface {
	Snapshot() otatypes.AgentSnapshot
	CheckNow()
	Stop()
}

// Server implements ControlServer over a running Agent, the loopback
// counterpart to the teacher's mTLS-secured pkg/api.Server — grounded
// on the same NewServer/Start/Stop shape, simplified to an
// unauthenticated loopback listener since this surface never leaves
// the host the agent runs on (spec §6.1 describes it as an in-process
// callback API; this is its minimal remote-process equivalent).
type Server struct {
	agent  Agent
	grpc   *grpc.Server
	logger zerolog.Logger
}

// NewServer wraps agent in a gRPC service ready to Start.
func NewServer(agent Agent) *Server {
	return &Server{
		agent:  agent,
		grpc:   grpc.NewServer(grpc.UnaryInterceptor(loopbackOnlyInterceptor())),
		logger: otalog.WithComponent("control"),
	}
}

// Start listens on addr and serves until the server is stopped or
// Serve fails (spec §6.1 "a separate CLI process cannot reach the
// in-process callback API").
func (s *Server) Start(addr string) error {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("control: listen on %s: %w", addr, err)
	}
	return s.serve(lis)
}

// serve registers the service and blocks on lis, factored out of
// Start so tests can hand it a listener bound to an OS-assigned port.
func (s *Server) serve(lis net.Listener) error {
	s.grpc.RegisterService(&serviceDesc, s)
	s.logger.Info().Str("addr", lis.Addr().String()).Msg("listening")
	return s.grpc.Serve(lis)
}

// Stop gracefully stops the gRPC server without touching the agent
// itself; callers that also want the agent's worker to stop call
// Agent.Stop separately (see cmd/ota-agent's shutdown sequence).
func (s *Server) Stop() {
	if s.grpc != nil {
		s.grpc.GracefulStop()
	}
}

// Status implements ControlServer.
func (s *Server) Status(ctx context.Context, _ *StatusRequest) (*StatusResponse, error) {
	snap := s.agent.Snapshot()
	resp := &StatusResponse{
		State:        string(snap.State),
		TotalSize:    snap.Progress.TotalSize,
		BytesWritten: snap.Progress.BytesWritten,
		Percentage:   snap.Progress.Percentage,
		StartedAt:    snap.StartedAt,
		RetryCount:   int32(snap.RetryCount),
		ConnectRetry: int32(snap.ConnectRetry),
	}
	if snap.LastError != nil {
		resp.LastError = snap.LastError.Error()
	}
	return resp, nil
}

// UpdateNow implements ControlServer.
func (s *Server) UpdateNow(ctx context.Context, _ *UpdateNowRequest) (*UpdateNowResponse, error) {
	s.agent.CheckNow()
	return &UpdateNowResponse{Accepted: true}, nil
}

// StopAgent implements ControlServer's Stop RPC. It returns before the
// agent's worker loop has necessarily finished unwinding; Agent.Stop()
// blocks internally until the worker exits, so this RPC runs it in its
// own goroutine to keep the RPC responsive.
func (s *Server) StopAgent(ctx context.Context, _ *StopRequest) (*StopResponse, error) {
	go s.agent.Stop()
	return &StopResponse{Accepted: true}, nil
}
