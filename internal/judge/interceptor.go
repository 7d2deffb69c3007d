package judge

import (
	"context"
	"log/slog"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"google.golang.org/grpc"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"github.com/cwrk-planet/coderoom/internal/domain"
)

// UnaryClientInterceptor logs every judge call and puts a deadline on calls
// that arrive without one.
func UnaryClientInterceptor(guard time.Duration) grpc.UnaryClientInterceptor {
	return func(
		ctx context.Context,
		method string,
		req, reply any,
		cc *grpc.ClientConn,
		invoker grpc.UnaryInvoker,
		opts ...grpc.CallOption,
	) error {
		start := time.Now()
		if _, ok := ctx.Deadline(); !ok && guard > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, guard)
			defer cancel()
		}

		err := invoker(ctx, method, req, reply, cc, opts...)

		level := slog.LevelInfo
		if err != nil {
			level = slog.LevelWarn
		}
		slog.Log(ctx, level, "grpc judge call",
			"method", method,
			"dur_ms", time.Since(start).Milliseconds(),
			"code", status.Code(err).String(),
			"err", errString(err))
		return err
	}
}

// withOutboundMeta adds x-request-id and x-participant-id to the metadata.
func withOutboundMeta(ctx context.Context, pid domain.ParticipantID) context.Context {
	if rid := middleware.GetReqID(ctx); rid != "" {
		ctx = metadata.AppendToOutgoingContext(ctx, "x-request-id", rid)
	}
	if pid != "" {
		ctx = metadata.AppendToOutgoingContext(ctx, "x-participant-id", string(pid))
	}
	return ctx
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
