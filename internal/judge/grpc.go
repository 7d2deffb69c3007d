package judge

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/cwrk-planet/coderoom/internal/domain"
)

const (
	ServiceName  = "judge.v1.JudgeService"
	MethodRun    = "/" + ServiceName + "/Run"
	MethodSubmit = "/" + ServiceName + "/Submit"
)

// GRPCClient calls the judge over gRPC. Messages are google.protobuf.Struct
// carrying the same fields as the REST body.
type GRPCClient struct {
	conn    *grpc.ClientConn
	timeout time.Duration
}

func NewGRPC(opts Options, extra ...grpc.DialOption) (*GRPCClient, error) {
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	dialOpts := []grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithChainUnaryInterceptor(UnaryClientInterceptor(opts.Timeout)),
	}
	dialOpts = append(dialOpts, extra...)

	conn, err := grpc.NewClient(opts.Target, dialOpts...)
	if err != nil {
		return nil, fmt.Errorf("judge client: new client failed: %w", err)
	}
	return &GRPCClient{conn: conn, timeout: opts.Timeout}, nil
}

func (c *GRPCClient) Close() error { return c.conn.Close() }

func (c *GRPCClient) Run(ctx context.Context, req domain.ExecutionRequest) (*domain.RunResult, error) {
	return c.invoke(ctx, MethodRun, "run", req)
}

func (c *GRPCClient) Submit(ctx context.Context, req domain.ExecutionRequest) (*domain.RunResult, error) {
	req.SampleOnly = false
	return c.invoke(ctx, MethodSubmit, "submit", req)
}

func (c *GRPCClient) invoke(ctx context.Context, method, op string, in domain.ExecutionRequest) (*domain.RunResult, error) {
	rpcCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	rpcCtx = withOutboundMeta(rpcCtx, in.ParticipantID)

	msg, err := structpb.NewStruct(map[string]any{
		"code":        in.Code,
		"language":    in.Language,
		"problem_id":  in.ProblemID,
		"sample_only": in.SampleOnly,
	})
	if err != nil {
		return nil, failure(op, err)
	}

	var out structpb.Struct
	if err := c.conn.Invoke(rpcCtx, method, msg, &out); err != nil {
		return nil, failure(op, err)
	}

	res, err := decodeStruct(&out)
	if err != nil {
		return nil, failure(op, err)
	}
	return res, nil
}

func decodeStruct(s *structpb.Struct) (*domain.RunResult, error) {
	raw, err := protojson.Marshal(s)
	if err != nil {
		return nil, err
	}
	var r response
	if err := json.Unmarshal(raw, &r); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	return r.toDomain(), nil
}
