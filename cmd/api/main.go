package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/CanSsever/qoder-deneme-sub000/internal/bootstrap"
	httpapi "github.com/CanSsever/qoder-deneme-sub000/internal/http"
	"github.com/CanSsever/qoder-deneme-sub000/internal/http/handlers"
	"github.com/CanSsever/qoder-deneme-sub000/internal/infra"
)

func main() {
	_ = godotenv.Load()

	cfg, err := infra.LoadConfig()
	if err != nil {
		panic(err)
	}
	logger := infra.NewLogger(cfg.AppEnv)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rt, err := bootstrap.Open(ctx, cfg, &logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("api: bootstrap failed")
	}
	defer rt.Close()

	hub := handlers.NewHub(cfg.AllowedOrigins, &logger)
	updates, err := rt.Status.Subscribe(ctx)
	if err != nil {
		logger.Warn().Err(err).Msg("api: live updates disabled, websocket clients only receive the current status")
	} else {
		go hub.Run(ctx, updates)
	}

	app := &handlers.App{
		Jobs:      rt.Store,
		Canceller: rt.Orchestrator,
		Providers: rt.Providers,
		Status:    rt.Status,
		Files:     rt.Files,
		Hub:       hub,
		Logger:    &logger,
	}
	router := httpapi.NewRouter(app, httpapi.RouterOptions{
		StaticDir:       rt.Files.BasePath(),
		AllowedOrigins:  cfg.AllowedOrigins,
		CancelRateLimit: cfg.CancelRateLimit,
		Logger:          &logger,
	})

	server := infra.NewHTTPServer(cfg, router)
	logger.Info().Str("port", cfg.Port).Msg("api: listening")
	if err := server.Run(ctx); err != nil {
		logger.Error().Err(err).Msg("api: http server failed")
	}

	drainCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTPIdleTimeout)
	defer cancel()
	rt.Webhooks.Shutdown(drainCtx)
	logger.Info().Msg("api: stopped")
}
