// cmd/server/main.go
package main

import (
	"context"
	"log"
	"net/http"

	"github.com/jonboulle/clockwork"
	_ "github.com/joho/godotenv/autoload"
	"github.com/sirupsen/logrus"

	"github.com/parlorgames/trivia/internal/broadcast"
	"github.com/parlorgames/trivia/internal/config"
	"github.com/parlorgames/trivia/internal/engine"
	"github.com/parlorgames/trivia/internal/handlers"
	"github.com/parlorgames/trivia/internal/history"
	"github.com/parlorgames/trivia/internal/middleware"
	"github.com/parlorgames/trivia/internal/modes"
	"github.com/parlorgames/trivia/internal/session"
	"github.com/parlorgames/trivia/internal/store"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	logger := logrus.New()
	if level, err := logrus.ParseLevel(cfg.LogLevel); err == nil {
		logger.SetLevel(level)
	}

	ctx := context.Background()

	var st store.Store
	if cfg.DatabaseURL != "" {
		pg, err := store.NewPostgresStore(ctx, cfg.DatabaseURL)
		if err != nil {
			logger.Fatalf("connect postgres: %v", err)
		}
		defer pg.Close()
		if err := pg.EnsureSchema(ctx); err != nil {
			logger.Fatalf("ensure schema: %v", err)
		}
		st = pg
		logger.Info("using postgres store")
	} else {
		st = store.NewMemoryStore()
		logger.Info("using in-memory store")
	}

	var recorder history.Recorder = history.Nop{}
	if cfg.RedisAddr != "" {
		r, err := history.NewRedisRecorder(cfg.RedisAddr, cfg.RedisDB, cfg.HistoryQueue, logger)
		if err != nil {
			logger.Fatalf("connect redis: %v", err)
		}
		recorder = r
		logger.Info("lobby event history enabled")
	}

	registry := modes.Default()
	if cfg.ModesFile != "" {
		registry, err = modes.LoadFile(cfg.ModesFile)
		if err != nil {
			logger.Fatalf("load modes: %v", err)
		}
	}
	logger.Infof("registered game modes: %v", registry.Keys())

	hub := broadcast.NewHub()
	eng := engine.New(st, session.NewDirectory(), registry, hub, recorder, clockwork.NewRealClock(), logger, engine.Config{
		ModeGraceDelay: cfg.ModeGraceDelay,
		RevealDelay:    cfg.RevealDelay,
		LobbyTTL:       cfg.LobbyTTL,
	})

	go eng.RunSweeper(ctx, cfg.SweepInterval)

	mux := http.NewServeMux()
	mux.Handle("/ws", middleware.LogMiddleware(logger)(http.HandlerFunc(
		handlers.WSHandler(logger, eng, hub),
	)))
	mux.Handle("/api/reconnect", middleware.LogMiddleware(logger)(http.HandlerFunc(
		handlers.ReconnectHandler(logger, eng),
	)))
	mux.Handle("/api/theme", middleware.LogMiddleware(logger)(http.HandlerFunc(
		handlers.ThemeHandler(),
	)))

	logger.Infof("Running on %s", cfg.Addr)
	if err := http.ListenAndServe(cfg.Addr, mux); err != nil {
		log.Fatalf("server exited: %v", err)
	}
}
