// Command server receives Clover order webhooks and forwards the orders to
// Lightspeed as sales. With a Kafka bootstrap configured it only enqueues
// order ids; otherwise it processes inline.
package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"posbridge/internal/clover"
	"posbridge/internal/config"
	"posbridge/internal/dedup"
	"posbridge/internal/lightspeed"
	"posbridge/internal/mapper"
	"posbridge/internal/metrics"
	"posbridge/internal/processor"
	"posbridge/internal/queue"
	"posbridge/internal/retry"
	"posbridge/internal/token"
	"posbridge/internal/webhookapi"
)

func main() {
	cfg := config.FromEnv()
	flag.StringVar(&cfg.ListenAddr, "listen", cfg.ListenAddr, "HTTP listen address")
	flag.StringVar(&cfg.DedupDir, "dedup-dir", cfg.DedupDir, "directory for persistent dedup state (in-memory when empty)")
	flag.Parse()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	if err := run(cfg, logger); err != nil {
		logger.Error("server failed", "error", err)
		os.Exit(1)
	}
}

func run(cfg config.Config, logger *slog.Logger) error {
	mreg := metrics.NewRegistry()
	exec := retry.NewExecutor(logger)
	exec.OnRetry = mreg.RetryAttempts.Inc

	cloverTokens, err := token.NewManager(token.Config{
		Name:         "clover",
		TokenURL:     cfg.CloverTokenURL,
		ClientID:     cfg.CloverAppID,
		ClientSecret: cfg.CloverAppSecret,
		RefreshToken: cfg.CloverRefreshToken,
		StaticToken:  cfg.CloverAccessToken,
	}, nil, exec, logger)
	if err != nil {
		return err
	}
	lightspeedTokens, err := token.NewManager(token.Config{
		Name:         "lightspeed",
		TokenURL:     cfg.LightspeedTokenURL,
		ClientID:     cfg.LightspeedClientID,
		ClientSecret: cfg.LightspeedClientSecret,
		RefreshToken: cfg.LightspeedRefreshToken,
		StaticToken:  cfg.LightspeedPersonalToken,
	}, nil, exec, logger)
	if err != nil {
		return err
	}

	source, err := clover.NewClient(clover.Config{
		BaseURL:         cfg.CloverBaseURL,
		MerchantID:      cfg.CloverMerchantID,
		WebhookSecret:   cfg.CloverWebhookSecret,
		SignatureSecret: cfg.WebhookSignatureSecret,
	}, cloverTokens, nil, exec, logger)
	if err != nil {
		return err
	}
	dest, err := lightspeed.NewClient(lightspeed.Config{
		BaseURL:   cfg.LightspeedBaseURL,
		AccountID: cfg.LightspeedAccountID,
	}, lightspeedTokens, nil, exec, logger)
	if err != nil {
		return err
	}

	var store dedup.Store
	if cfg.DedupDir != "" {
		ps, err := dedup.NewPebbleStore(cfg.DedupDir, cfg.DedupTTL)
		if err != nil {
			return err
		}
		defer ps.Close()
		store = ps
		logger.Info("dedup state persisted", "dir", cfg.DedupDir, "ttl", cfg.DedupTTL)
	} else {
		store = dedup.NewMemoryStore(cfg.DedupTTL)
	}

	proc, err := processor.New(source, dest, store, mapper.Options{
		ShopID:     cfg.LightspeedShopID,
		EmployeeID: cfg.LightspeedEmployeeID,
		RegisterID: cfg.LightspeedRegisterID,
	}, logger, mreg)
	if err != nil {
		return err
	}

	var enqueuer queue.Enqueuer
	if cfg.UseQueue() {
		enqueuer = queue.NewKafkaEnqueuer(cfg.KafkaBootstrap, cfg.QueueTopic)
		logger.Info("queue mode enabled", "topic", cfg.QueueTopic)
	}

	api := webhookapi.NewServer(source, proc, enqueuer, logger, mreg)
	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           api.Router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errc := make(chan error, 1)
	go func() {
		logger.Info("listening", "addr", cfg.ListenAddr, "queueMode", cfg.UseQueue())
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}
