// Command enqueue publishes order ids to the processing topic by hand.
// Useful for replaying missed webhooks or smoke-testing the worker.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"posbridge/internal/config"
	"posbridge/internal/queue"
)

func main() {
	cfg := config.FromEnv()
	bootstrap := flag.String("bootstrap", cfg.KafkaBootstrap, "kafka bootstrap servers")
	topic := flag.String("topic", cfg.QueueTopic, "topic to publish to")
	flag.Parse()

	if *bootstrap == "" {
		fmt.Fprintln(os.Stderr, "a kafka bootstrap is required (-bootstrap or KAFKA_BOOTSTRAP)")
		os.Exit(2)
	}
	if flag.NArg() == 0 {
		fmt.Fprintln(os.Stderr, "usage: enqueue [-bootstrap host:port] [-topic name] ORDER_ID...")
		os.Exit(2)
	}

	enq := queue.NewKafkaEnqueuer(*bootstrap, *topic)
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	for _, orderID := range flag.Args() {
		if err := enq.Enqueue(ctx, orderID); err != nil {
			fmt.Fprintf(os.Stderr, "enqueue %s: %v\n", orderID, err)
			os.Exit(1)
		}
		fmt.Printf("enqueued %s to %s\n", orderID, *topic)
	}
}
