package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cwrk-planet/coderoom/config"
	"github.com/cwrk-planet/coderoom/internal/cache"
	"github.com/cwrk-planet/coderoom/internal/judge"
	"github.com/cwrk-planet/coderoom/internal/postgres"
	"github.com/cwrk-planet/coderoom/internal/room"
	"github.com/cwrk-planet/coderoom/internal/service"
	httpx "github.com/cwrk-planet/coderoom/internal/transport/http"
	"github.com/cwrk-planet/coderoom/internal/transport/ws"
	"github.com/cwrk-planet/coderoom/migrations"
	"github.com/cwrk-planet/coderoom/pkg/logger"
)

func main() {
	// --- config ---
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	logger.Init(logger.Config{
		Env:       logger.ParseEnv(cfg.Logging.Env),
		Service:   cfg.Logging.Service,
		Version:   cfg.Logging.Version,
		Backend:   logger.Backend(cfg.Logging.Backend),
		Level:     logger.ParseLevel(cfg.Logging.Level),
		AddSource: cfg.Logging.AddSource,
		Debug:     cfg.Logging.Debug,
	})
	slog.Info("starting coderoom",
		"env", cfg.Logging.Env, "version", cfg.Logging.Version, "judge", cfg.Judge.Transport)

	ctx, stop := context.WithCancel(context.Background())
	defer stop()

	// --- postgres ---
	pool, err := postgres.NewPool(ctx, postgres.Config{
		DSN:             cfg.Postgres.DSN,
		MaxConns:        cfg.Postgres.MaxConns,
		MinConns:        cfg.Postgres.MinConns,
		ApplicationName: cfg.Logging.Service,
	})
	if err != nil {
		log.Fatalf("postgres: %v", err)
	}
	defer pool.Close()

	if cfg.Postgres.Migrate {
		if err := postgres.Migrate(ctx, pool, migrations.FS); err != nil {
			log.Fatalf("migrate: %v", err)
		}
	}

	// --- redis (optional) ---
	rdb := cache.NewClient(ctx, cache.Config{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if rdb != nil {
		defer rdb.Close()
	}

	// --- repos ---
	roomRepo := postgres.NewRoomRepository(pool)
	partRepo := postgres.NewParticipantRepository(pool)
	subRepo := postgres.NewSubmissionRepository(pool)
	problemRepo := postgres.NewProblemRepository(pool)
	rooms := cache.NewRooms(rdb, roomRepo, cfg.Redis.RoomTTLDur)
	limiter := cache.NewLimiter(rdb, cfg.Rooms.RateLimit.Limit, cfg.Rooms.RateLimit.WindowDur)

	// --- judge ---
	judgeClient, err := judge.New(judge.Options{
		Transport: cfg.Judge.Transport,
		Target:    cfg.Judge.Target,
		Timeout:   cfg.Judge.TimeoutDur,
	})
	if err != nil {
		log.Fatalf("judge: %v", err)
	}
	defer judgeClient.Close()

	// --- rooms ---
	dir := room.NewDirectory(rooms, room.DirectoryOptions{
		Session: room.Options{
			DefaultLanguage: cfg.Rooms.DefaultLanguage,
			Languages:       cfg.Rooms.Languages,
			InboxSize:       cfg.Rooms.InboxSize,
		},
		IdleTTL:    cfg.Rooms.IdleTTLDur,
		SweepEvery: cfg.Rooms.SweepEveryDur,
	})
	go dir.Run(ctx)
	coord := room.NewCoordinator(dir, judgeClient, subRepo)

	// --- services ---
	roomSvc := service.NewRoomService(roomRepo, rooms, problemRepo, cfg.Rooms.DefaultLanguage)
	memberSvc := service.NewMemberService(partRepo, rooms, dir)
	execSvc := service.NewExecutionService(coord, limiter, subRepo, rooms)
	problemSvc := service.NewProblemService(problemRepo)

	// --- WS Hub & Server ---
	hub := ws.NewHub()
	wsServer := ws.NewServer(hub, dir, memberSvc, ws.Options{
		PingEvery:   cfg.WS.PingEveryDur,
		WriteWait:   cfg.WS.WriteWaitDur,
		SendQueue:   cfg.WS.SendQueue,
		ReadLimit:   cfg.WS.ReadLimit,
		CheckOrigin: originChecker(cfg.CORS.AllowedOrigins),
	})

	// --- HTTP ---
	handler := httpx.NewHandler(roomSvc, memberSvc, execSvc, problemSvc)
	router := httpx.NewRouter(handler, memberSvc, wsServer, httpx.RouterOptions{
		AllowedOrigins: cfg.CORS.AllowedOrigins,
		RequestTimeout: cfg.HTTP.RequestTimeoutDur,
	})
	httpSrv := &http.Server{
		Addr:              cfg.HTTP.Addr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("http listen", "addr", cfg.HTTP.Addr)
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	// --- graceful shutdown ---
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		slog.Info("shutdown signal", "sig", sig)
	case err := <-errCh:
		slog.Error("server error", "err", err)
	}

	ctxShutdown, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeoutDur)
	defer cancel()

	// hijacked sockets are not tracked by http.Server
	wsServer.Shutdown()
	if err := httpSrv.Shutdown(ctxShutdown); err != nil {
		slog.Warn("http shutdown", "err", err)
	}
	coord.Wait()
	stop()
	dir.CloseAll()
	slog.Info("stopped")
}

// originChecker allows requests without Origin and those from allowed.
func originChecker(allowed []string) func(r *http.Request) bool {
	if len(allowed) == 0 {
		return nil
	}
	set := make(map[string]struct{}, len(allowed))
	for _, o := range allowed {
		set[o] = struct{}{}
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		_, ok := set[origin]
		return ok
	}
}
