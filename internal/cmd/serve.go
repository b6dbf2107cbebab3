package cmd

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/spf13/cobra"

	"github.com/termbridge/termbridge/internal/config"
	"github.com/termbridge/termbridge/internal/handlers"
	"github.com/termbridge/termbridge/internal/logger"
	"github.com/termbridge/termbridge/internal/middleware"
	"github.com/termbridge/termbridge/internal/persist"
	"github.com/termbridge/termbridge/internal/terminal"
)

var serveFlags struct {
	configPath string
	listenAddr string
	dev        bool
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the termbridge server",
	Long: `# 🚀 Run the Termbridge Server

Starts the HTTP server exposing terminal sessions over WebSocket and REST.

## ✨ What you get

- **POST /v1/sessions** to spawn pty or tmux sessions
- **GET /v1/sessions/:id/ws** to attach a live terminal
- **GET /v1/sessions/:id/output** for polling clients
- **POST /v1/hooks** for external activity events`,
	Example: `  # Start with defaults on :8080
  termbridge serve

  # Start with a config file
  termbridge serve --config /etc/termbridge.yaml

  # Override the listen address
  termbridge serve --listen :9000`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().StringVarP(&serveFlags.configPath, "config", "c", "", "Path to YAML config file")
	serveCmd.Flags().StringVarP(&serveFlags.listenAddr, "listen", "l", "", "Listen address (overrides config)")
	serveCmd.Flags().BoolVar(&serveFlags.dev, "dev", false, "Pretty console logging")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	logger.Configure(logger.GetLogLevelFromEnv(serveFlags.dev), serveFlags.dev)

	cfg, err := config.Load(serveFlags.configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if serveFlags.listenAddr != "" {
		cfg.ListenAddr = serveFlags.listenAddr
	}

	var store persist.Store
	if cfg.StoreURL != "" {
		store = persist.NewHTTPStore(cfg.StoreURL)
	} else {
		store = persist.NewNopStore()
	}

	batcher := persist.NewBatcher(store, cfg.FlushInterval, cfg.FlushSize)
	batcher.Start()

	// sessions from a previous server run cannot be reattached
	batcher.MarkOrphanedSessions()

	registry := terminal.NewRegistry(cfg, batcher)

	app := fiber.New(fiber.Config{
		DisableStartupMessage: true,
	})
	app.Use(recover.New())
	app.Use(cors.New())

	auth := middleware.NewAuthMiddleware(cfg.AuthSecret)
	app.Use(auth.RequireAuth)

	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"status":   "ok",
			"sessions": len(registry.List()),
		})
	})

	v1 := app.Group("/v1")
	handlers.NewSessionsHandler(registry).RegisterRoutes(v1)
	handlers.NewTerminalHandler(registry, cfg).RegisterRoutes(v1)
	handlers.NewHooksHandler(registry).RegisterRoutes(v1)

	errCh := make(chan error, 1)
	go func() {
		logger.Infof("termbridge listening on %s", cfg.ListenAddr)
		errCh <- app.Listen(cfg.ListenAddr)
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		logger.Infof("received %s, shutting down", sig)
	case err := <-errCh:
		if err != nil {
			registry.Shutdown()
			return fmt.Errorf("server error: %w", err)
		}
	}

	if err := app.ShutdownWithTimeout(5 * time.Second); err != nil {
		logger.Warnf("server shutdown: %v", err)
	}

	// kills every process, then flushes pending output to the store
	registry.Shutdown()
	return nil
}
