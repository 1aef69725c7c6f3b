package executor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"path/filepath"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/caesar-terminal/swapdesk/internal/signer"
)

// Observer receives executor request outcomes.
type Observer interface {
	ObserveExecution(result string)
}

type nopObserver struct{}

func (nopObserver) ObserveExecution(string) {}

// Handler implements ExecutorServiceServer. It accepts an exchange only if
// its signature recovers to an allowed desk address, then hands it to the
// sink.
type Handler struct {
	allowed  []common.Address
	sink     Sink
	logger   *slog.Logger
	observer Observer
	newID    func() string
}

// NewHandler creates a Handler. At least one allowed signer is required.
func NewHandler(allowed []common.Address, sink Sink, logger *slog.Logger, observer Observer) (*Handler, error) {
	if len(allowed) == 0 {
		return nil, fmt.Errorf("executor: at least one allowed signer required")
	}
	if sink == nil {
		return nil, fmt.Errorf("executor: sink required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	if observer == nil {
		observer = nopObserver{}
	}
	return &Handler{
		allowed:  append([]common.Address{}, allowed...),
		sink:     sink,
		logger:   logger,
		observer: observer,
		newID:    uuid.NewString,
	}, nil
}

// Execute verifies and accepts one exchange.
func (h *Handler) Execute(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	env, err := fromStruct(req)
	if err != nil {
		h.observer.ObserveExecution("malformed")
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	sig, err := env.SignatureBytes()
	if err != nil {
		h.observer.ObserveExecution("malformed")
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	if err := signer.Verify(env.Summary, sig, h.allowed...); err != nil {
		h.observer.ObserveExecution("denied")
		h.logger.Warn("executor: signature rejected", "claimed_signer", env.Signer, "error", err)
		return nil, status.Error(codes.PermissionDenied, err.Error())
	}

	id := h.newID()
	if err := h.sink.Accept(ctx, id, env); err != nil {
		h.observer.ObserveExecution("failed")
		h.logger.Error("executor: sink failed", "id", id, "error", err)
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return nil, status.FromContextError(err).Err()
		}
		return nil, status.Error(codes.Unavailable, err.Error())
	}

	h.observer.ObserveExecution("accepted")
	return structpb.NewStruct(map[string]any{"status": "accepted", "id": id})
}

// Server wraps the gRPC server and its Unix domain socket listener.
type Server struct {
	grpcServer *grpc.Server
	listener   net.Listener
	socketPath string
}

// NewServer binds the executor service to socketPath.
func NewServer(socketPath string, handler ExecutorServiceServer) (*Server, error) {
	if err := os.MkdirAll(filepath.Dir(socketPath), 0o700); err != nil {
		return nil, fmt.Errorf("executor: create socket directory: %w", err)
	}

	// Remove any stale socket file from a previous run.
	if err := os.Remove(socketPath); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("executor: remove stale socket: %w", err)
	}

	lis, err := net.Listen("unix", socketPath)
	if err != nil {
		return nil, fmt.Errorf("executor: listen on unix socket %s: %w", socketPath, err)
	}

	// Owner only.
	if err := os.Chmod(socketPath, 0o600); err != nil {
		lis.Close()
		return nil, fmt.Errorf("executor: chmod socket: %w", err)
	}

	gs := grpc.NewServer()
	RegisterExecutorServiceServer(gs, handler)

	return &Server{grpcServer: gs, listener: lis, socketPath: socketPath}, nil
}

// Serve accepts connections until the server is stopped.
func (s *Server) Serve() error {
	return s.grpcServer.Serve(s.listener)
}

// GracefulStop drains in-flight RPCs and removes the socket file.
func (s *Server) GracefulStop() {
	s.grpcServer.GracefulStop()
	s.listener.Close()
	os.Remove(s.socketPath)
}
