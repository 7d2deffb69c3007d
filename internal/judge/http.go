package judge

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5/middleware"

	"github.com/cwrk-planet/coderoom/internal/domain"
)

// HTTPClient calls the judge's REST API:
// POST {target}/api/submissions/run and POST {target}/api/submissions/.
type HTTPClient struct {
	base    string
	http    *http.Client
	timeout time.Duration
}

func NewHTTP(opts Options) *HTTPClient {
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	return &HTTPClient{
		base:    strings.TrimRight(opts.Target, "/"),
		http:    &http.Client{},
		timeout: opts.Timeout,
	}
}

func (c *HTTPClient) Close() error {
	c.http.CloseIdleConnections()
	return nil
}

func (c *HTTPClient) Run(ctx context.Context, req domain.ExecutionRequest) (*domain.RunResult, error) {
	return c.post(ctx, "/api/submissions/run", "run", req)
}

func (c *HTTPClient) Submit(ctx context.Context, req domain.ExecutionRequest) (*domain.RunResult, error) {
	req.SampleOnly = false
	return c.post(ctx, "/api/submissions/", "submit", req)
}

func (c *HTTPClient) post(ctx context.Context, path, op string, in domain.ExecutionRequest) (*domain.RunResult, error) {
	rpcCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	body, err := json.Marshal(toRequest(in))
	if err != nil {
		return nil, failure(op, err)
	}
	httpReq, err := http.NewRequestWithContext(rpcCtx, http.MethodPost, c.base+path, bytes.NewReader(body))
	if err != nil {
		return nil, failure(op, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if rid := middleware.GetReqID(ctx); rid != "" {
		httpReq.Header.Set("X-Request-ID", rid)
	}
	if in.ParticipantID != "" {
		httpReq.Header.Set("X-Participant-ID", string(in.ParticipantID))
	}

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, failure(op, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, failure(op, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var e struct {
			Detail string `json:"detail"`
		}
		if json.Unmarshal(raw, &e) == nil && e.Detail != "" {
			return nil, failure(op, fmt.Errorf("status %d: %s", resp.StatusCode, e.Detail))
		}
		return nil, failure(op, fmt.Errorf("status %d", resp.StatusCode))
	}

	var out response
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, failure(op, fmt.Errorf("decode response: %w", err))
	}
	return out.toDomain(), nil
}
