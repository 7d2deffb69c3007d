package httpmw

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/cwrk-planet/coderoom/internal/domain"
)

type HeartbeatToucher interface {
	TouchHeartbeat(ctx context.Context, code string, pid domain.ParticipantID) error
}

// Heartbeat refreshes last_seen for {code, participant} on routes under /rooms/{code}.
// Mount it inside the route so the URL param is already resolved.
func Heartbeat(members HeartbeatToucher) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if pid := ParticipantFromCtx(r.Context()); pid != "" {
				if code := chi.URLParam(r, "code"); code != "" {
					// best effort
					_ = members.TouchHeartbeat(r.Context(), domain.NormalizeRoomCode(code), pid)
				}
			}
			next.ServeHTTP(w, r)
		})
	}
}
