package server

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"ledger-service/internal/config"
	"ledger-service/internal/handler/rest"
	"ledger-service/internal/pub"
	"ledger-service/internal/quote"
	"ledger-service/internal/repository"
	"ledger-service/internal/usecase"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Run wires the service together and serves HTTP until SIGINT/SIGTERM.
func Run(cfg config.AppConfig, logger *zap.Logger) error {
	// --- DB connection ---
	dbpool, err := config.ConnectDB()
	if err != nil {
		return err
	}
	defer dbpool.Close()

	schemaCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := repository.EnsureSchema(schemaCtx, dbpool); err != nil {
		return err
	}

	// --- Redis client ---
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPass,
		DB:       0,
	})
	defer rdb.Close()

	// --- Kafka publisher ---
	events := pub.NewTransactionEventPublisher(cfg.KafkaBrokers, cfg.KafkaTopic, logger)
	defer events.Close()

	// --- Quote cache ---
	provider := quote.NewCoinGeckoClient(cfg.QuoteBaseURL)
	quotes := quote.NewCache(provider, cfg.QuoteTTL, quote.WithLogger(logger))

	// --- Repositories ---
	accountRepo := repository.NewAccountRepo(dbpool)
	txRepo := repository.NewTransactionRepo(dbpool)
	ledgerRepo := repository.NewLedgerRepo(dbpool)

	// --- Usecases ---
	ledgerUC := usecase.NewLedgerUsecase(ledgerRepo, accountRepo, txRepo, rdb, events, logger)
	accountUC := usecase.NewAccountUsecase(accountRepo, ledgerUC, logger)
	orderUC := usecase.NewOrderUsecase(ledgerUC, accountRepo, quotes, rdb, logger)

	// --- Handlers ---
	ledgerHandler := rest.NewLedgerRestHandler(accountUC, ledgerUC, logger)
	cryptoHandler := rest.NewCryptoRestHandler(orderUC, logger)

	router := newRouter(logger, ledgerHandler, cryptoHandler)

	srv := &http.Server{
		Addr:         cfg.HTTPAddr,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("ledger HTTP server listening", zap.String("addr", cfg.HTTPAddr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-quit:
		logger.Info("shutting down gracefully")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

func newRouter(
	logger *zap.Logger,
	ledgerHandler *rest.LedgerRestHandler,
	cryptoHandler *rest.CryptoRestHandler,
) http.Handler {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(loggerMiddleware(logger))
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	// CORS
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "Idempotency-Key"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	// Health check
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})

	ledgerHandler.RegisterRoutes(r)
	cryptoHandler.RegisterRoutes(r)

	return r
}

// loggerMiddleware logs HTTP requests
func loggerMiddleware(logger *zap.Logger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)

			logger.Info("http request",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.Status()),
				zap.Duration("duration", time.Since(start)),
				zap.String("remote_addr", r.RemoteAddr))
		})
	}
}
