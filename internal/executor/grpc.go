package executor

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/caesar-terminal/swapdesk/internal/swap"
)

const (
	serviceName   = "swapdesk.executor.v1.ExecutorService"
	executeMethod = "/" + serviceName + "/Execute"
)

// ExecutorServiceServer is the server API of the executor service.
type ExecutorServiceServer interface {
	Execute(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
}

func executeHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(ExecutorServiceServer).Execute(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: executeMethod}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(ExecutorServiceServer).Execute(ctx, req.(*structpb.Struct))
	}
	return interceptor(ctx, in, info, handler)
}

// serviceDesc registers ExecutorServiceServer with a grpc.Server. Messages
// are google.protobuf.Struct, so no generated code is needed.
var serviceDesc = grpc.ServiceDesc{
	ServiceName: serviceName,
	HandlerType: (*ExecutorServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Execute", Handler: executeHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "swapdesk/executor/v1/executor.proto",
}

// RegisterExecutorServiceServer registers srv on s.
func RegisterExecutorServiceServer(s grpc.ServiceRegistrar, srv ExecutorServiceServer) {
	s.RegisterService(&serviceDesc, srv)
}

// Client is a swap.Executor that forwards signed summaries to the executor
// service over a Unix domain socket.
type Client struct {
	conn    *grpc.ClientConn
	signer  Signer
	timeout time.Duration
	logger  *slog.Logger
}

// Dial creates a client for the executor listening on socketPath. The
// connection is established lazily on the first call.
func Dial(socketPath string, s Signer, timeout time.Duration, logger *slog.Logger) (*Client, error) {
	if s == nil {
		return nil, fmt.Errorf("executor: signer required")
	}
	conn, err := grpc.NewClient("unix:"+socketPath, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("executor: dial %s: %w", socketPath, err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{conn: conn, signer: s, timeout: timeout, logger: logger}, nil
}

// Execute signs summary and submits it. The returned error carries the
// gRPC status of a rejection.
func (c *Client) Execute(ctx context.Context, summary swap.ExchangeSummary) error {
	env, err := Seal(summary, c.signer)
	if err != nil {
		return err
	}
	req, err := toStruct(env)
	if err != nil {
		return fmt.Errorf("executor: encode request: %w", err)
	}

	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	resp := new(structpb.Struct)
	if err := c.conn.Invoke(ctx, executeMethod, req, resp); err != nil {
		return fmt.Errorf("executor: execute: %w", err)
	}
	c.logger.Info("executor: exchange accepted",
		"id", resp.GetFields()["id"].GetStringValue(),
		"send_asset", summary.SendAsset, "receive_asset", summary.ReceiveAsset)
	return nil
}

// Close releases the connection.
func (c *Client) Close() error {
	return c.conn.Close()
}
