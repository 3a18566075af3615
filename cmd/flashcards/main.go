package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/marib00/flashcard-app/internal/config"
	"github.com/marib00/flashcard-app/internal/history"
	"github.com/marib00/flashcard-app/internal/session"
	"github.com/marib00/flashcard-app/internal/storage"
	"github.com/marib00/flashcard-app/internal/web"
)

func main() {
	flags := config.Flags("flashcards")
	flags.Parse(os.Args[1:])

	cfg, err := config.Load(flags)
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	log := newLogger(cfg.LogLevel)
	slog.SetDefault(log)

	if err := run(cfg, log); err != nil {
		log.Error("exiting", "error", err)
		os.Exit(1)
	}
}

func run(cfg config.Config, log *slog.Logger) error {
	db, err := storage.Open(cfg.DBPath)
	if err != nil {
		return err
	}
	defer db.Close()
	log.Info("database opened", "path", cfg.DBPath)

	priorities, err := cfg.Priorities.ToDomain()
	if err != nil {
		return err
	}

	sess := session.New(db, priorities,
		session.WithLogger(log),
		session.WithLocation(history.ParseTimezone(cfg.Timezone)),
		session.WithRevealDelay(time.Duration(cfg.RevealDelayMs)*time.Millisecond),
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := sess.Start(ctx); err != nil {
		return err
	}

	srv := &http.Server{
		Addr:    cfg.Listen,
		Handler: web.NewServer(sess, log),
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("server listening", "addr", cfg.Listen)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil && !errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return nil
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}
