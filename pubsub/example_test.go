package pubsub_test

import (
	"context"
	"fmt"
	"time"

	gcppubsub "cloud.google.com/go/pubsub"
	"cloud.google.com/go/pubsub/pstest"
	"google.golang.org/api/option"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/infigaming-com/cloudpubsub-transport/pubsub"
	"github.com/infigaming-com/cloudpubsub-transport/pubsub/driver/google"
)

func ExampleServer_google() {
	ctx := context.Background()
	server := pstest.NewServer()
	defer server.Close()

	conn, err := grpc.DialContext(ctx, server.Addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		panic(err)
	}
	defer conn.Close()

	gcpClient, err := gcppubsub.NewClient(ctx, "test-project", option.WithGRPCConn(conn))
	if err != nil {
		panic(err)
	}
	defer gcpClient.Close()

	broker, err := google.New(ctx, google.Config{Client: gcpClient})
	if err != nil {
		panic(err)
	}

	done := make(chan struct{})
	handlers := pubsub.NewHandlers().Handle("order-created", func(ctx context.Context, data map[string]any) (any, error) {
		fmt.Println("received", data["id"])
		close(done)
		return nil, nil
	})

	transport, err := pubsub.New(broker, handlers,
		pubsub.WithDefaultTopic("orders-topic"),
		pubsub.WithDefaultSubscription("orders-sub"),
		pubsub.WithEnableLogger(false),
	)
	if err != nil {
		panic(err)
	}
	transport.Listen(ctx, nil)

	publisher, err := pubsub.NewPublisher(broker)
	if err != nil {
		panic(err)
	}
	if _, err := publisher.Publish(ctx, "orders-topic", "order-created", map[string]any{"id": "42"}); err != nil {
		panic(err)
	}

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		panic("timeout waiting for message")
	}

	if err := transport.Close(ctx); err != nil {
		panic(err)
	}
	// Output: received 42
}
