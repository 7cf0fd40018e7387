// Package main is the entry point of the document API server and its queue tooling.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-contrib/sessions"
	"github.com/gin-contrib/sessions/cookie"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/yarikpiskun41/llm-pdf-parser/internal/config"
	"github.com/yarikpiskun41/llm-pdf-parser/internal/document"
)

const (
	sessionCookieName = "llm_pdf_session"
	sessionMaxAge     = 30 * 24 * 60 * 60
	shutdownSlack     = 30 * time.Second
	healthTimeout     = 2 * time.Second
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	var configPath string

	root := &cobra.Command{
		Use:          "api",
		Short:        "PDF upload, extraction and question answering API",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), configPath)
		},
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "YAML config file (defaults to $CONFIG_FILE)")

	root.AddCommand(&cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP server, the worker pool and the queue pruner",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), configPath)
		},
	})
	root.AddCommand(newQueueCommand(&configPath))
	return root
}

func runServe(ctx context.Context, configPath string) error {
	if ctx == nil {
		ctx = context.Background()
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	gin.SetMode(cfg.GinMode)
	logger := log.Default()

	rt, err := setupRuntime(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer rt.close()

	router, closeLog, err := newRouter(cfg, rt)
	if err != nil {
		return err
	}
	defer closeLog()

	rt.records.Start(ctx)
	if err := rt.manager.StartWorkers(); err != nil {
		return err
	}
	if err := rt.pruner.Start(cfg.PruneSchedule); err != nil {
		shutdownWorkers(rt, cfg.ExtractTimeout+shutdownSlack)
		return err
	}

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	serveErr := make(chan error, 1)
	go func() {
		logger.Printf("Starting API server on %s (mode: %s)", srv.Addr, cfg.GinMode)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
	}()

	sigCtx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	var runErr error
	select {
	case <-sigCtx.Done():
		logger.Printf("shutdown signal received, shutting down gracefully")
	case runErr = <-serveErr:
		logger.Printf("http server failed: %v", runErr)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ExtractTimeout+shutdownSlack)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Printf("http shutdown failed: %v", err)
	}
	rt.pruner.Stop()
	if err := rt.manager.Shutdown(shutdownCtx); err != nil {
		logger.Printf("%v", err)
	}
	logger.Printf("shutdown complete")
	return runErr
}

func shutdownWorkers(rt *runtime, timeout time.Duration) {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := rt.manager.Shutdown(ctx); err != nil {
		rt.logger.Printf("%v", err)
	}
}

// newRouter builds the HTTP routes. The returned func closes the request log.
func newRouter(cfg *config.Config, rt *runtime) (*gin.Engine, func(), error) {
	router := gin.New()
	router.MaxMultipartMemory = 8 << 20
	router.Use(gin.Logger(), gin.Recovery())

	closeLog := func() {}
	if cfg.RequestLogPath != "" {
		f, err := os.OpenFile(cfg.RequestLogPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open request log: %w", err)
		}
		router.Use(errorRequestLogger(f))
		closeLog = func() { _ = f.Close() }
	}

	secret := cfg.SessionSecret
	if secret == "" {
		// Only reachable outside release mode; sessions do not survive restarts.
		secret = uuid.NewString()
		rt.logger.Printf("SESSION_SECRET is not set, using an ephemeral key")
	}
	store := cookie.NewStore([]byte(secret))
	store.Options(sessions.Options{
		Path:     "/",
		MaxAge:   sessionMaxAge,
		HttpOnly: true,
		Secure:   cfg.GinMode == gin.ReleaseMode,
		SameSite: http.SameSiteLaxMode,
	})
	router.Use(sessions.Sessions(sessionCookieName, store))

	corsConfig := cors.DefaultConfig()
	if origins := splitOrigins(cfg.CORSAllowedOrigins); len(origins) > 0 {
		corsConfig.AllowOrigins = origins
	} else {
		corsConfig.AllowAllOrigins = true
	}
	corsConfig.AllowCredentials = true
	corsConfig.AllowHeaders = []string{
		"Origin",
		"Content-Type",
		"Accept",
	}
	router.Use(cors.New(corsConfig))

	setupRoutes(router, cfg, rt)
	return router, closeLog, nil
}

func setupRoutes(router *gin.Engine, cfg *config.Config, rt *runtime) {
	router.GET("/health", handleHealth(rt))
	router.GET("/metrics", gin.WrapH(rt.metrics.Handler()))

	api := router.Group("/api")
	{
		document.RegisterRoutes(api.Group("/document"), rt.documents, document.HandlerOptions{
			MaxUploadBytes: cfg.MaxFileSize,
		})
	}
}

// errorRequestLogger appends requests that ended with a 4xx or 5xx status to w.
func errorRequestLogger(w io.Writer) gin.HandlerFunc {
	return gin.LoggerWithConfig(gin.LoggerConfig{
		Output: w,
		Skip: func(c *gin.Context) bool {
			return c.Writer.Status() < http.StatusBadRequest
		},
	})
}

// handleHealth reports whether the broker is reachable.
func handleHealth(rt *runtime) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), healthTimeout)
		defer cancel()
		if err := rt.redis.Ping(ctx).Err(); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"status": "unavailable",
				"error":  "queue broker unreachable",
			})
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"status":  "ok",
			"service": "llm-pdf-parser-api",
			"version": "0.1.0",
		})
	}
}

func splitOrigins(value string) []string {
	var origins []string
	for _, o := range strings.Split(value, ",") {
		if o = strings.TrimSpace(o); o != "" {
			origins = append(origins, o)
		}
	}
	return origins
}
