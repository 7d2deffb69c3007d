package http

import (
	"net/http"
	"time"

	httpmw "github.com/cwrk-planet/coderoom/internal/transport/http/middleware"
	"github.com/cwrk-planet/coderoom/internal/transport/ws"

	"github.com/go-chi/chi/v5"
	middlewareChi "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

type RouterOptions struct {
	AllowedOrigins []string
	RequestTimeout time.Duration
}

func NewRouter(h *Handler, members httpmw.HeartbeatToucher, wsServer *ws.Server, opts RouterOptions) http.Handler {
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = 60 * time.Second
	}
	if len(opts.AllowedOrigins) == 0 {
		opts.AllowedOrigins = []string{"http://localhost:5173", "http://127.0.0.1:5173"}
	}

	r := chi.NewRouter()
	r.Use(middlewareChi.RequestID)
	r.Use(middlewareChi.RealIP)
	r.Use(middlewareChi.Recoverer)
	r.Use(httpmw.Identity)
	r.Use(httpmw.RequestLogger)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   opts.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type", "X-Request-ID", httpmw.HeaderParticipantID},
		ExposedHeaders:   []string{"X-Request-ID"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	// realtime; no request timeout on long-lived sockets
	r.Get("/ws", wsServer.HandleWS)

	r.Group(func(pr chi.Router) {
		pr.Use(middlewareChi.Timeout(opts.RequestTimeout))

		pr.Route("/rooms", func(rm chi.Router) {
			rm.Post("/", h.CreateRoom)
			rm.Get("/", h.ListRooms)

			rm.Route("/{code}", func(rr chi.Router) {
				rr.Use(httpmw.Heartbeat(members))

				rr.Get("/", h.GetRoom)
				rr.Get("/participants", h.GetParticipants)
				rr.Get("/code/{participantID}", h.GetCode)
				rr.Get("/submissions", h.ListSubmissions)

				rr.Group(func(ar chi.Router) {
					ar.Use(httpmw.RequireParticipant)
					ar.Post("/leave", h.LeaveRoom)
					ar.Post("/run", h.Run)
					ar.Post("/submit", h.Submit)
				})
			})
		})

		pr.Get("/problems/{id}", h.GetProblem)
	})

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	return r
}
