package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/levenlabs/go-lflag"
	"github.com/levenlabs/go-llog"

	"github.com/kiwiwatt/kiwiwatt/pkg/auth"
	"github.com/kiwiwatt/kiwiwatt/pkg/electrickiwi"
	"github.com/kiwiwatt/kiwiwatt/pkg/hass"
	"github.com/kiwiwatt/kiwiwatt/pkg/lawnmower"
	"github.com/kiwiwatt/kiwiwatt/pkg/log"
	"github.com/kiwiwatt/kiwiwatt/pkg/server"
	"github.com/kiwiwatt/kiwiwatt/pkg/storage"
)

func main() {
	// init packages
	h := hass.Configured()
	oauth := auth.Configured()
	s := storage.Configured()
	ek := electrickiwi.Configured(oauth, s, h)
	mowers := lawnmower.Configured(h)

	// init server
	srv := server.Configured(ek, mowers)

	// parse flags
	lflag.Configure()

	var level slog.Level
	// lflag automatically sets llog's level, but we need to set the slog level
	switch llog.GetLevel() {
	case llog.DebugLevel:
		level = slog.LevelDebug
	case llog.InfoLevel:
		level = slog.LevelInfo
	case llog.WarnLevel:
		level = slog.LevelWarn
	case llog.ErrorLevel:
		level = slog.LevelError
	default:
		panic(fmt.Errorf("unknown log level: %s", llog.GetLevel().String()))
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: level,
	}))
	slog.SetDefault(logger)
	slog.Debug("logger configured", slog.String("level", level.String()))

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	defer func() {
		if err := s.Close(); err != nil {
			log.Ctx(ctx).ErrorContext(ctx, "failed to close storage", slog.Any("error", err))
		}
	}()

	if !h.Enabled() {
		log.Ctx(ctx).WarnContext(ctx, "hass-url not set, sensors will not be published")
	}

	if err := ek.LoadAll(ctx); err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "failed to load entries", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		ek.Shutdown(shutdownCtx)
	}()

	// Run will block until context is canceled or error happens
	if err := srv.Run(ctx); err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "server failed", slog.Any("error", err))
		os.Exit(1)
	}
	log.Ctx(ctx).InfoContext(ctx, "server exited cleanly")
}
