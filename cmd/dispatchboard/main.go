package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/vaidashi/dispatch-board/internal/api"
	"github.com/vaidashi/dispatch-board/internal/config"
	"github.com/vaidashi/dispatch-board/internal/database"
	"github.com/vaidashi/dispatch-board/pkg/logger"
)

func main() {
	if err := newApp().Run(os.Args); err != nil {
		log.Fatalf("dispatchboard: %v", err)
	}
}

func newApp() *cli.App {
	return &cli.App{
		Name:  "dispatchboard",
		Usage: "shared dispatch board for service orders",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "env-file",
				Usage:   "dotenv file to load before reading the environment",
				EnvVars: []string{"DISPATCH_ENV_FILE"},
			},
		},
		Commands: []*cli.Command{
			{
				Name:   "serve",
				Usage:  "run the HTTP API and background workers",
				Action: serve,
			},
			{
				Name:  "migrate",
				Usage: "apply or roll back database migrations",
				Flags: []cli.Flag{
					&cli.IntFlag{
						Name:  "down",
						Usage: "roll back this many migrations instead of applying",
					},
				},
				Action: runMigrations,
			},
		},
		DefaultCommand: "serve",
	}
}

func loadConfig(c *cli.Context) (*config.Config, logger.Logger, error) {
	cfg, err := config.Load(c.String("env-file"))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	l := logger.NewLogger(cfg.LogLevel)
	if cfg.EnvFile != "" {
		l.Debug("Loaded env file", "path", cfg.EnvFile)
	}

	return cfg, l, nil
}

func serve(c *cli.Context) error {
	cfg, l, err := loadConfig(c)
	if err != nil {
		return err
	}

	l.Info("Starting dispatch board...", "store", cfg.StoreDriver, "env", cfg.Env)

	server, err := api.NewServer(cfg, l)
	if err != nil {
		return err
	}

	errCh := make(chan error, 1)

	go func() {
		l.Info(fmt.Sprintf("Server is starting on port %d", cfg.Port))

		if err := server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	// Graceful shutdown via interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-quit:
	case err := <-errCh:
		l.Error("Failed to start server", "error", err)
		shutdown(server, l)
		return err
	}

	l.Info("Shutting down server...")
	shutdown(server, l)
	return nil
}

func shutdown(server *api.Server, l logger.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		l.Error("Server forced to shutdown", "error", err)
	} else {
		l.Info("Server exiting")
	}
}

func runMigrations(c *cli.Context) error {
	cfg, l, err := loadConfig(c)
	if err != nil {
		return err
	}

	db, err := database.New(cfg, l)
	if err != nil {
		return err
	}
	defer db.Close()

	if steps := c.Int("down"); steps > 0 {
		return db.RollbackMigrations(steps)
	}

	return db.RunMigrations()
}
