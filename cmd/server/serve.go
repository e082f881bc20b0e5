package main

import (
	"context"
	"encoding/json"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"
	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/openclaw/broadcast-server-go/internal/config"
	"github.com/openclaw/broadcast-server-go/internal/handler"
	"github.com/openclaw/broadcast-server-go/internal/jobs"
	"github.com/openclaw/broadcast-server-go/internal/middleware"
	"github.com/openclaw/broadcast-server-go/internal/model"
	"github.com/openclaw/broadcast-server-go/internal/repository"
	"github.com/openclaw/broadcast-server-go/internal/service"
	"github.com/openclaw/broadcast-server-go/internal/sse"
)

const authRateLimitPerIP = 30

func newServeCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and the dispatch timer",
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve(opts.cfg)
		},
	}
}

func serve(cfg *config.Config) error {
	db, err := openDatabase(cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	redisClient, err := openRedis(cfg)
	if err != nil {
		return err
	}
	defer redisClient.Close()

	broker := sse.NewBroker(redisClient)
	defer broker.Close()

	deps, err := buildDispatch(cfg, db, broker)
	if err != nil {
		return err
	}

	hsCipher, err := handshakeCipher(cfg)
	if err != nil {
		return err
	}

	limiter := service.NewRateLimiter(redisClient.Client)
	loginService := service.NewLoginService(
		deps.gateway,
		deps.accounts,
		repository.NewRedisChallengeLedger(redisClient),
		hsCipher,
		limiter,
		deps.metrics,
		service.LoginOptions{
			HandshakeTTL: config.HandshakeTTL,
			RateLimit:    cfg.LoginRateLimit,
			RateWindow:   config.LoginLimitWindow,
		},
	)
	scheduleService := service.NewScheduleService(deps.schedules, deps.accounts, deps.gateway)
	adminService := service.NewAdminService(deps.accounts)
	tokens := service.NewTokenService(cfg.JWTSecret, cfg.SessionTTL())

	authMiddleware := middleware.NewAuthMiddleware(tokens, deps.accounts)
	authRateLimit := middleware.NewIPRateLimitMiddleware(limiter, authRateLimitPerIP, config.LoginLimitWindow, "auth")
	securityHeaders := middleware.NewSecurityHeadersMiddleware(isProduction())

	authHandler := handler.NewAuthHandler(loginService, tokens)
	scheduleHandler := handler.NewScheduleHandler(scheduleService)
	adminHandler := handler.NewAdminHandler(adminService, deps.engine)
	eventsHandler := handler.NewEventsHandler(broker)

	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.RequestLogger)
	r.Use(chimiddleware.Recoverer)
	r.Use(middleware.CORS(cfg.AllowedOrigins()))
	r.Use(securityHeaders.Handler)
	r.Use(middleware.BodyLimit(middleware.DefaultMaxBodySize))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), config.DBPingTimeout)
		defer cancel()

		status, code := "ok", http.StatusOK
		if err := db.Ping(ctx); err != nil {
			status, code = "database unavailable", http.StatusServiceUnavailable
		} else if err := redisClient.Ping(ctx).Err(); err != nil {
			status, code = "redis unavailable", http.StatusServiceUnavailable
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(code)
		json.NewEncoder(w).Encode(map[string]any{
			"status":    status,
			"timestamp": time.Now().UnixMilli(),
		})
	})
	r.Handle("/metrics", deps.metrics.Handler())

	r.Route("/api", func(r chi.Router) {
		r.With(authRateLimit.Handler, chimiddleware.Timeout(config.ServerRequestTimeout)).
			Mount("/auth", authHandler.Routes())

		r.Group(func(r chi.Router) {
			r.Use(authMiddleware.Handler)

			r.Get("/events", eventsHandler.ServeHTTP)

			r.Group(func(r chi.Router) {
				r.Use(chimiddleware.Timeout(config.ServerRequestTimeout))
				r.Get("/me", handler.Me)
				scheduleHandler.Register(r)
			})

			r.Route("/admin", func(r chi.Router) {
				r.Use(middleware.RequireRole(model.RoleAdmin))
				r.Mount("/", adminHandler.Routes())
			})
		})
	})

	job, err := jobs.NewDispatchJob(deps.engine, cfg.DispatchSchedule, config.DispatchRunTimeout)
	if err != nil {
		return err
	}
	job.Start()

	server := &http.Server{
		Addr:         cfg.Addr(),
		Handler:      r,
		ReadTimeout:  config.ServerReadTimeout,
		WriteTimeout: 0,
		IdleTimeout:  config.ServerIdleTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", cfg.Addr()).Msg("starting server")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	notifySystemd(daemon.SdNotifyReady)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	var serveErr error
	select {
	case <-quit:
		log.Info().Msg("shutting down server")
	case serveErr = <-errCh:
		log.Error().Err(serveErr).Msg("server error")
	}
	notifySystemd(daemon.SdNotifyStopping)

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), config.ServerShutdownTimeout)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("server forced to shutdown")
	}
	job.Stop(shutdownCtx)

	log.Info().Msg("server stopped")
	return serveErr
}

// notifySystemd is a no-op outside a systemd unit with Type=notify.
func notifySystemd(state string) {
	if _, err := daemon.SdNotify(false, state); err != nil {
		log.Debug().Err(err).Str("state", state).Msg("sd_notify failed")
	}
}
