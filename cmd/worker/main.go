// Command worker consumes enqueued order ids and runs them through the
// forwarding pipeline. Offsets are committed only for outcomes that a
// redelivery cannot improve, so transient failures are retried by Kafka.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	ck "github.com/confluentinc/confluent-kafka-go/v2/kafka"

	"posbridge/internal/bridge"
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
)

// redeliveryBackoff is how long the worker pauses after a transient
// failure before re-reading the same offset.
const redeliveryBackoff = 5 * time.Second

func main() {
	cfg := config.FromEnv()
	flag.StringVar(&cfg.DedupDir, "dedup-dir", cfg.DedupDir, "directory for persistent dedup state (in-memory when empty)")
	flag.Parse()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	if err := run(cfg, logger); err != nil {
		logger.Error("worker failed", "error", err)
		os.Exit(1)
	}
}

func run(cfg config.Config, logger *slog.Logger) error {
	if !cfg.UseQueue() {
		return errors.New("KAFKA_BOOTSTRAP must be set for the worker")
	}

	proc, closeFn, err := buildProcessor(cfg, logger)
	if err != nil {
		return err
	}
	defer closeFn()

	c, err := ck.NewConsumer(&ck.ConfigMap{
		"bootstrap.servers":  cfg.KafkaBootstrap,
		"group.id":           cfg.QueueGroupID,
		"enable.auto.commit": false,
		"auto.offset.reset":  "earliest",
	})
	if err != nil {
		return err
	}
	defer c.Close()
	if err := c.SubscribeTopics([]string{cfg.QueueTopic}, nil); err != nil {
		return err
	}
	logger.Info("worker consuming", "topic", cfg.QueueTopic, "group", cfg.QueueGroupID)

	sigchan := make(chan os.Signal, 1)
	signal.Notify(sigchan, syscall.SIGINT, syscall.SIGTERM)

	ctx := context.Background()
	for {
		select {
		case sig := <-sigchan:
			logger.Info("terminating", "signal", sig.String())
			return nil
		default:
		}

		msg, err := c.ReadMessage(time.Second)
		if err != nil {
			var kerr ck.Error
			if errors.As(err, &kerr) && kerr.Code() == ck.ErrTimedOut {
				continue
			}
			logger.Error("read message", "error", err)
			continue
		}

		var qm queue.Message
		if err := json.Unmarshal(msg.Value, &qm); err != nil || qm.OrderID == "" {
			// Poison message; redelivery cannot fix it.
			logger.Error("discarding malformed queue message", "error", err, "offset", msg.TopicPartition.Offset)
			commit(c, msg, logger)
			continue
		}

		err = proc.ProcessByOrderID(ctx, qm.OrderID)
		if terminal(err) {
			if err != nil {
				logger.Warn("order finished with terminal error", "orderId", qm.OrderID, "error", err)
			}
			commit(c, msg, logger)
			continue
		}

		// Transient failure: leave the offset uncommitted, rewind to the
		// same message and back off so the next read retries it.
		logger.Error("transient failure, message will be redelivered", "orderId", qm.OrderID, "error", err)
		if serr := c.Seek(msg.TopicPartition, 0); serr != nil {
			logger.Error("seek back", "error", serr)
		}
		time.Sleep(redeliveryBackoff)
	}
}

// terminal reports whether the outcome is final for this order: success,
// an already-forwarded duplicate, a rejected order, or one the source no
// longer has.
func terminal(err error) bool {
	if err == nil {
		return true
	}
	return errors.Is(err, bridge.ErrDuplicateOrder) ||
		errors.Is(err, bridge.ErrValidation) ||
		errors.Is(err, bridge.ErrOrderNotFound)
}

func commit(c *ck.Consumer, msg *ck.Message, logger *slog.Logger) {
	if _, err := c.CommitMessage(msg); err != nil {
		logger.Error("commit offset", "error", err)
	}
}

func buildProcessor(cfg config.Config, logger *slog.Logger) (*processor.Processor, func(), error) {
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
		return nil, nil, err
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
		return nil, nil, err
	}

	source, err := clover.NewClient(clover.Config{
		BaseURL:         cfg.CloverBaseURL,
		MerchantID:      cfg.CloverMerchantID,
		WebhookSecret:   cfg.CloverWebhookSecret,
		SignatureSecret: cfg.WebhookSignatureSecret,
	}, cloverTokens, nil, exec, logger)
	if err != nil {
		return nil, nil, err
	}
	dest, err := lightspeed.NewClient(lightspeed.Config{
		BaseURL:   cfg.LightspeedBaseURL,
		AccountID: cfg.LightspeedAccountID,
	}, lightspeedTokens, nil, exec, logger)
	if err != nil {
		return nil, nil, err
	}

	closeFn := func() {}
	var store dedup.Store
	if cfg.DedupDir != "" {
		ps, err := dedup.NewPebbleStore(cfg.DedupDir, cfg.DedupTTL)
		if err != nil {
			return nil, nil, err
		}
		closeFn = func() { _ = ps.Close() }
		store = ps
	} else {
		store = dedup.NewMemoryStore(cfg.DedupTTL)
	}

	proc, err := processor.New(source, dest, store, mapper.Options{
		ShopID:     cfg.LightspeedShopID,
		EmployeeID: cfg.LightspeedEmployeeID,
		RegisterID: cfg.LightspeedRegisterID,
	}, logger, mreg)
	if err != nil {
		closeFn()
		return nil, nil, err
	}
	return proc, closeFn, nil
}
