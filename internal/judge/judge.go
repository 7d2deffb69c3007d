// Package judge talks to the external code execution service.
package judge

import (
	"context"
	"fmt"
	"time"

	"github.com/cwrk-planet/coderoom/internal/domain"
)

// Client runs code against a problem's tests. Every error it returns wraps
// domain.ErrExecutionFailure.
type Client interface {
	Run(ctx context.Context, req domain.ExecutionRequest) (*domain.RunResult, error)
	Submit(ctx context.Context, req domain.ExecutionRequest) (*domain.RunResult, error)
	Close() error
}

const (
	TransportHTTP = "http"
	TransportGRPC = "grpc"
)

type Options struct {
	Transport string
	Target    string
	Timeout   time.Duration
}

func New(opts Options) (Client, error) {
	if opts.Target == "" {
		return nil, fmt.Errorf("judge client: empty target")
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	switch opts.Transport {
	case "", TransportHTTP:
		return NewHTTP(opts), nil
	case TransportGRPC:
		return NewGRPC(opts)
	default:
		return nil, fmt.Errorf("judge client: unknown transport %q", opts.Transport)
	}
}

// response mirrors the judge's JSON body. The gRPC transport reuses it
// through structpb.
type response struct {
	OverallStatus   string                  `json:"overall_status"`
	TestCaseResults []domain.TestCaseResult `json:"test_case_results"`
	ExecutionTime   float64                 `json:"execution_time"`
	MemoryUsage     float64                 `json:"memory_usage"`
	ErrorMessage    string                  `json:"error_message"`
}

func (r response) toDomain() *domain.RunResult {
	tcs := r.TestCaseResults
	if tcs == nil {
		tcs = []domain.TestCaseResult{}
	}
	return &domain.RunResult{
		OverallStatus:   r.OverallStatus,
		Passed:          r.OverallStatus == domain.StatusPass,
		TestCaseResults: tcs,
		ExecutionTime:   r.ExecutionTime,
		MemoryUsage:     r.MemoryUsage,
		ErrorMessage:    r.ErrorMessage,
	}
}

type request struct {
	Code       string `json:"code"`
	Language   string `json:"language"`
	ProblemID  int64  `json:"problem_id"`
	SampleOnly bool   `json:"sample_only"`
}

func toRequest(req domain.ExecutionRequest) request {
	return request{
		Code:       req.Code,
		Language:   req.Language,
		ProblemID:  req.ProblemID,
		SampleOnly: req.SampleOnly,
	}
}

func failure(op string, err error) error {
	return fmt.Errorf("%w: judge %s: %v", domain.ErrExecutionFailure, op, err)
}
