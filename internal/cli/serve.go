package cli

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/rl1809/carbon-exchange/internal/adapter/handler"
	"github.com/rl1809/carbon-exchange/internal/adapter/metrics"
	"github.com/rl1809/carbon-exchange/internal/config"
	"github.com/rl1809/carbon-exchange/internal/core/service"
)

const startupTimeout = 30 * time.Second

func NewServeCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP and gRPC servers",
		Long: `Restore the book from the event store, then serve the exchange over HTTP
and gRPC until SIGINT or SIGTERM.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := rootOpts.load()
			if err != nil {
				return err
			}
			return serve(cfg, log)
		},
	}
}

func serve(cfg config.Config, log *logrus.Logger) error {
	startCtx, cancel := context.WithTimeout(context.Background(), startupTimeout)
	defer cancel()

	in, err := openInfra(startCtx, cfg, log)
	if err != nil {
		return err
	}
	defer func() {
		if err := in.close(); err != nil {
			log.WithError(err).Error("failed to close connections")
		}
	}()

	recorder := metrics.NewRecorder()
	book, err := service.NewBook(service.Config{
		Owner:          cfg.Market.Owner,
		Treasury:       cfg.Market.Treasury,
		FeeBasisPoints: cfg.Market.FeeBasisPoints,
	}, in.events, in.payments,
		service.WithLogger(log),
		service.WithMetrics(recorder),
		service.WithOutboxSize(cfg.Market.OutboxSize),
	)
	if err != nil {
		return err
	}
	if err := book.Restore(startCtx); err != nil {
		return fmt.Errorf("restore book: %w", err)
	}

	// Start event relay
	relay := service.NewRelay(book, in.publisher, log)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		relay.Run()
	}()

	exchange := newExchange(cfg, in, book, log)
	limiter := handler.NewRateLimiter(cfg.Market.RateLimit, cfg.Market.RateBurst)

	// Initialize gRPC server
	grpcServer := handler.NewGRPCServer(handler.NewGRPCHandler(exchange),
		handler.UnaryInterceptor(limiter, recorder, log))
	lis, err := net.Listen("tcp", cfg.GRPCAddr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", cfg.GRPCAddr, err)
	}
	go func() {
		log.WithField("addr", cfg.GRPCAddr).Info("gRPC server listening")
		if err := grpcServer.Serve(lis); err != nil {
			log.WithError(err).Error("gRPC server error")
		}
	}()

	// Initialize HTTP server
	httpHandler := handler.NewHTTPHandler(exchange,
		handler.WithRateLimiter(limiter),
		handler.WithMetrics(recorder, recorder.Handler()),
		handler.WithLogger(log),
	)
	httpServer := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           httpHandler.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		log.WithField("addr", cfg.HTTPAddr).Info("HTTP server listening")
		if err := httpServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			log.WithError(err).Error("HTTP server error")
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Warn("HTTP server shutdown")
	}
	log.Info("HTTP server stopped")

	grpcServer.GracefulStop()
	log.Info("gRPC server stopped")

	// Close outbox and wait for the relay to drain it
	book.Close()
	wg.Wait()
	log.Info("relay stopped")
	return nil
}

// newExchange binds the services over book to the adapters in in.
func newExchange(cfg config.Config, in *infra, book *service.Book, log logrus.FieldLogger) *handler.Exchange {
	ledger := service.NewCreditLedger(book)
	return &handler.Exchange{
		Ledger: ledger,
		Market: service.NewMarketplace(book),
		Review: service.NewIssuerReview(ledger, in.oracle, cfg.Oracle.MinConfidence, log),
		Guard:  service.NewRequestGuard(in.cache, log),
		Events: in.events,
		Funds:  in.funds,
	}
}
