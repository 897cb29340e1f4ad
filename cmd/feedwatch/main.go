// Command feedwatch streams health updates from a gRPC server into a bounded feed
// and reports the feed as it changes. It is a small end-to-end exercise of the
// client, executor and feed packages.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/asaskevich/EventBus"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc/health/grpc_health_v1"

	"github.com/feedline/core/go/certs"
	"github.com/feedline/core/go/feed"
	"github.com/feedline/core/go/flags"
	"github.com/feedline/core/go/grpc"
	"github.com/feedline/core/go/logging"
	"github.com/feedline/core/go/prometheus"
)

const feedTopic = "feedwatch.changed"

var opts struct {
	Logging    logging.Opts    `group:"logging" namespace:"logging" env-namespace:"LOGGING"`
	GRPC       grpc.Opts       `group:"grpc" namespace:"grpc" env-namespace:"GRPC"`
	Auth       grpc.AuthOpts   `group:"auth" namespace:"auth" env-namespace:"AUTH"`
	Certs      certs.Opts      `group:"certs" namespace:"certs" env-namespace:"CERTS"`
	Prometheus prometheus.Opts `group:"prometheus" namespace:"prometheus" env-namespace:"PROMETHEUS"`

	Service   string `long:"service" env:"SERVICE" description:"Service name to watch. Empty watches the whole server."`
	MaxItems  int    `long:"max-items" env:"MAX_ITEMS" description:"Feed capacity." default:"100"`
	BatchSize int    `long:"batch-size" env:"BATCH_SIZE" description:"Updates accumulated before the feed is touched." default:"1"`
	TrimBatch int    `long:"trim-batch" env:"TRIM_BATCH" description:"Minimum eviction granularity." default:"10"`
}

func main() {
	flags.MustParse(&opts)
	if err := logging.Init(&opts.Logging); err != nil {
		fmt.Fprintf(os.Stderr, "initializing logging: %v\n", err)
		os.Exit(1)
	}
	if err := run(); err != nil {
		slog.Error("feedwatch failed", "error", err)
		os.Exit(1)
	}
}

func run() error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	client, err := grpc.NewClient(&opts.GRPC, &opts.Auth, &opts.Certs, &opts.Prometheus)
	if err != nil {
		return fmt.Errorf("creating client: %w", err)
	}
	connection, _, err := client.Connect()
	if err != nil {
		return fmt.Errorf("connecting: %w", err)
	}
	defer client.Close()

	dispatcher := feed.NewSerialDispatcher()
	defer dispatcher.Close()
	binder, err := feed.NewBinder[*grpc_health_v1.HealthCheckResponse](dispatcher, opts.MaxItems, opts.BatchSize, opts.TrimBatch)
	if err != nil {
		return fmt.Errorf("creating binder: %w", err)
	}

	bus := EventBus.New()
	view := binder.View().NotifyOn(bus, feedTopic)
	if err := bus.Subscribe(feedTopic, func(length int) {
		if length == 0 {
			return
		}
		latest := view.At(length - 1)
		slog.Info("health update", "status", latest.GetStatus().String(), "held", length)
	}); err != nil {
		return fmt.Errorf("subscribing to feed topic: %w", err)
	}

	healthClient := grpc_health_v1.NewHealthClient(connection)
	updates := grpc.ServerStream(ctx, client.Caller(), "grpc.health.v1.Health/Watch", nil,
		func(callCtx context.Context) (grpc.RecvStream[*grpc_health_v1.HealthCheckResponse], error) {
			return healthClient.Watch(callCtx, &grpc_health_v1.HealthCheckRequest{Service: opts.Service})
		},
	)

	group, groupCtx := errgroup.WithContext(ctx)
	prometheusServer := prometheus.NewServer(&opts.Prometheus)
	group.Go(func() error {
		prometheusServer.Start(groupCtx)
		return nil
	})
	group.Go(func() error {
		defer stop()
		err := binder.Bind(groupCtx, updates, true)
		_ = prometheusServer.Stop(context.Background())
		return err
	})
	return group.Wait()
}
