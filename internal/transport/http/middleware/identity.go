package httpmw

import (
	"context"
	"net/http"
	"strings"

	"github.com/cwrk-planet/coderoom/internal/domain"
)

type ctxKey string

const (
	HeaderParticipantID        = "X-Participant-ID"
	ctxKeyParticipant   ctxKey = "participant_id"
)

// Identity puts X-Participant-ID into the context when present. No token checks.
func Identity(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if pid := strings.TrimSpace(r.Header.Get(HeaderParticipantID)); pid != "" {
			ctx := context.WithValue(r.Context(), ctxKeyParticipant, domain.ParticipantID(pid))
			r = r.WithContext(ctx)
		}
		next.ServeHTTP(w, r)
	})
}

// RequireParticipant rejects requests without X-Participant-ID.
func RequireParticipant(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if ParticipantFromCtx(r.Context()) == "" {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = w.Write([]byte(`{"error":"missing X-Participant-ID"}`))
			return
		}
		next.ServeHTTP(w, r)
	})
}

func ParticipantFromCtx(ctx context.Context) domain.ParticipantID {
	if v := ctx.Value(ctxKeyParticipant); v != nil {
		if id, ok := v.(domain.ParticipantID); ok {
			return id
		}
	}
	return ""
}
