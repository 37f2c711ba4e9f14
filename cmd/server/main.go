package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/segyhp/fleet-billing/internal/app"
	"github.com/segyhp/fleet-billing/internal/config"
	"github.com/segyhp/fleet-billing/internal/handler"
	"github.com/segyhp/fleet-billing/pkg/logger"
	"github.com/segyhp/fleet-billing/pkg/response"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		logrus.Fatalf("Failed to load configuration: %v", err)
	}

	log := logger.New(cfg.Logging.Level, cfg.Logging.Format)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	application, err := app.New(ctx, cfg, log)
	cancel()
	if err != nil {
		log.WithError(err).Fatal("Failed to initialize billing engine")
	}
	defer application.Close()

	billingHandler := handler.NewBillingHandler(application.Service)
	healthHandler := handler.NewHealthHandler(application.Store, application.Redis, cfg.GetHealthTimeout())

	// Setup routes
	router := setupRoutes(billingHandler, healthHandler, application, log)

	// Start server
	server := &http.Server{
		Addr:         cfg.Server.Host + ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  cfg.GetReadTimeout(),
		WriteTimeout: cfg.GetWriteTimeout(),
	}

	// Start server in a goroutine
	go func() {
		log.WithField("addr", server.Addr).Info("Server starting")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.WithError(err).Fatal("Server failed to start")
		}
	}()

	// Wait for interrupt signal to gracefully shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info("Shutting down server...")

	// Graceful shutdown
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Error("Server forced to shutdown")
		return
	}

	log.Info("Server exited")
}

func setupRoutes(billingHandler *handler.BillingHandler, healthHandler *handler.HealthHandler, application *app.App, log *logrus.Logger) *mux.Router {
	router := mux.NewRouter()
	router.Use(response.LoggingMiddleware(log))

	// Health check
	router.HandleFunc("/health", healthHandler.Health).Methods(http.MethodGet)
	router.HandleFunc("/health/ready", healthHandler.Ready).Methods(http.MethodGet)
	router.Handle("/metrics", promhttp.HandlerFor(application.Registry, promhttp.HandlerOpts{})).Methods(http.MethodGet)

	billingHandler.Register(router)

	return router
}
