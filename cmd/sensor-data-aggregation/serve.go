package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	httpapi "github.com/i474232898/sensor-data-aggregation/internal/api/http"
)

const shutdownTimeout = 10 * time.Second

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and the collection scheduler",
		RunE:  runServe,
	}
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	svc, err := buildServices(ctx)
	if err != nil {
		return err
	}
	defer svc.close(context.Background())

	// Scheduler that periodically harvests scheduled sources.
	if err := svc.scheduler.Start(); err != nil {
		return err
	}

	// Basic app configuration
	app := fiber.New(fiber.Config{
		AppName:               appName,
		DisableStartupMessage: true,
		ReadTimeout:           10 * time.Second,
		// Downloads over long ranges wait on many provider calls.
		WriteTimeout: svc.cfg.QueryTimeout + 10*time.Second,
		ErrorHandler: httpapi.ErrorHandler,
	})

	// Global middleware
	app.Use(logger.New())
	app.Use(recover.New())

	// Basic health endpoint
	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"status":  "ok",
			"service": appName,
		})
	})

	// API routes.
	httpapi.RegisterRoutes(app, httpapi.Deps{
		Engine:    svc.engine,
		Scheduler: svc.scheduler,
		Runs:      svc.runs,
		Metrics:   promhttp.HandlerFor(svc.registry, promhttp.HandlerOpts{}),
	})

	go func() {
		if err := app.Listen(":" + svc.cfg.Port); err != nil {
			log.Printf("fiber server stopped: %v", err)
		}
	}()
	log.Printf("%s listening on :%s", appName, svc.cfg.Port)

	// Wait for termination signal
	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := app.ShutdownWithContext(shutdownCtx); err != nil {
		log.Printf("error during shutdown: %v", err)
	}
	// In-flight collection runs are allowed to finish.
	runCtx, cancelRuns := context.WithTimeout(context.Background(), svc.cfg.CollectRunTimeout+shutdownTimeout)
	defer cancelRuns()
	if err := svc.scheduler.Stop(runCtx); err != nil {
		log.Printf("error during shutdown: %v", err)
	}
	return nil
}
