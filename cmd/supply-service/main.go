package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/clinsupply/clinsupply-backend/internal/supply/consumers"
	"github.com/clinsupply/clinsupply-backend/internal/supply/events"
	"github.com/clinsupply/clinsupply-backend/internal/supply/handler"
	"github.com/clinsupply/clinsupply-backend/internal/supply/repository"
	"github.com/clinsupply/clinsupply-backend/internal/supply/service"
	"github.com/clinsupply/clinsupply-backend/pkg/config"
	"github.com/clinsupply/clinsupply-backend/pkg/database"
	"github.com/clinsupply/clinsupply-backend/pkg/httputil"
	"github.com/clinsupply/clinsupply-backend/pkg/logger"
	"github.com/clinsupply/clinsupply-backend/pkg/messaging"
)

func main() {
	// Load configuration with validation (fails fast in production if required config is missing)
	cfg, err := config.LoadWithValidation("supply-service")
	if err != nil {
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	log := logger.New("supply-service", cfg.Server.Environment)
	log.Info().Msg("starting Supply Service")

	// Connect to database
	db, err := database.New(&cfg.Database, log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer db.Close()

	// Connect to RabbitMQ
	rmq, err := messaging.New(&cfg.RabbitMQ, log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to RabbitMQ")
	}
	defer rmq.Close()

	// Initialize event publisher
	publisher, err := events.NewSupplyEventPublisher(rmq, log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to create event publisher")
	}

	// Initialize repositories
	productRepo := repository.NewProductRepository(db)
	ledgerRepo := repository.NewLedgerRepository(db)
	patientRepo := repository.NewPatientRepository(db)
	requestRepo := repository.NewRequestRepository(db)
	invoiceRepo := repository.NewInvoiceRepository(db)
	staffCacheRepo := repository.NewStaffCacheRepository(db)

	// Initialize services
	ledgerService := service.NewLedgerService(db, ledgerRepo, productRepo, publisher, log)
	catalogService := service.NewCatalogService(productRepo, ledgerService, publisher, log)
	requestService := service.NewRequestService(db, requestRepo, patientRepo, ledgerService, publisher, log)
	invoiceService := service.NewInvoiceService(db, invoiceRepo, catalogService, ledgerService, publisher, log)
	alertService := service.NewAlertService(ledgerRepo, publisher, log)

	// Initialize handlers
	stockHandler := handler.NewStockHandler(ledgerService, log)
	productHandler := handler.NewProductHandler(catalogService, log)
	requestHandler := handler.NewRequestHandler(requestService, log)
	invoiceHandler := handler.NewInvoiceHandler(invoiceService, log)
	alertHandler := handler.NewAlertHandler(alertService, cfg.Alerts.ExpirationThresholdDays, log)

	// Start the periodic stock scan
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	scheduler := service.NewAlertScheduler(db, alertService, cfg.Alerts.ScanInterval, cfg.Alerts.ExpirationThresholdDays, log)
	go scheduler.Start(ctx)

	// Keep the staff cache in sync with the directory service
	staffConsumer, err := consumers.NewStaffEventConsumer(rmq, staffCacheRepo, log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to create staff event consumer")
	}
	if err := staffConsumer.Start(ctx); err != nil {
		log.Fatal().Err(err).Msg("failed to start staff event consumer")
	}

	// Create router
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RealIP)
	r.Use(httputil.RequestID)
	r.Use(httputil.Logger(log))
	r.Use(httputil.Recoverer(log))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Tenant-ID", "X-Tenant-Slug", "X-Request-ID"},
		AllowCredentials: false,
		MaxAge:           300,
	}))
	r.Use(httputil.TenantMiddleware) // Extract tenant context from headers

	// Health check
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		httputil.JSON(w, http.StatusOK, map[string]interface{}{
			"status":   "healthy",
			"service":  "supply-service",
			"database": db.Health(r.Context()),
			"rabbitmq": rmq.Health(),
		})
	})

	// API routes
	r.Route("/api/v1/supply", func(r chi.Router) {
		// Product catalog routes
		r.Route("/products", func(r chi.Router) {
			r.Get("/", productHandler.List)
			r.Post("/", productHandler.Register)
			r.Get("/{id}", productHandler.Get)
			r.Post("/{id}/approve", productHandler.Approve)
		})

		// Stock ledger routes
		r.Route("/stock", func(r chi.Router) {
			r.Get("/", stockHandler.List)
			r.Get("/low", stockHandler.ListLow)
			r.Get("/expiring", stockHandler.ListExpiring)
			r.Post("/remove", stockHandler.RemoveStock)
			r.Post("/check", stockHandler.CheckAvailability)
			r.Get("/{productID}", stockHandler.Get)
			r.Get("/{productID}/lots", stockHandler.ListLots)
			r.Post("/{productID}/add", stockHandler.AddStock)
			r.Put("/{productID}/minimum", stockHandler.SetMinimum)
		})

		// Patient routes
		r.Route("/patients", func(r chi.Router) {
			r.Post("/", requestHandler.CreatePatient)
			r.Get("/{id}", requestHandler.GetPatient)
			r.Get("/{id}/requests", requestHandler.ListByPatient)
			r.Get("/{id}/treatments", requestHandler.ListTreatments)
		})

		// Treatment request routes
		r.Route("/requests", func(r chi.Router) {
			r.Get("/", requestHandler.List)
			r.Post("/", requestHandler.Create)
			r.Get("/{id}", requestHandler.Get)
			r.Put("/{id}", requestHandler.Update)
			r.Post("/{id}/consume", requestHandler.Consume)
			r.Post("/{id}/cancel", requestHandler.Cancel)
		})

		// Invoice routes
		r.Route("/invoices", func(r chi.Router) {
			r.Get("/", invoiceHandler.List)
			r.Post("/", invoiceHandler.Create)
			r.Get("/{id}", invoiceHandler.Get)
			r.Post("/{id}/approve", invoiceHandler.Approve)
			r.Post("/{id}/reject", invoiceHandler.Reject)
			r.Delete("/{id}", invoiceHandler.Delete)
		})

		// On-demand stock scan
		r.Get("/alerts/scan", alertHandler.Scan)
	})

	// Create server
	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	// Start server
	go func() {
		log.Info().Str("addr", addr).Msg("server listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("server error")
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("shutting down server")

	// Stop the scan scheduler
	cancel()

	// Graceful shutdown
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("server forced to shutdown")
	}

	log.Info().Msg("server stopped")
}
