package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	container "gitlab.com/maplesense1/mpt.hive_bridge/src/production/MQT.Container"
	mqtingestor "gitlab.com/maplesense1/mpt.hive_bridge/src/production/MQT.IngestorService/ingestor"
	"gitlab.com/maplesense1/mpt.hive_bridge/src/production/MQT.IngestorService/health"
)

func main() {
	os.Exit(run())
}

// run returns the process exit status. Any worker unit exiting is a failure
// so the outer supervisor restarts the process.
func run() int {
	ctr, err := container.NewBridgeContainer()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize container: %v\n", err)
		return 1
	}
	defer ctr.Shutdown(context.Background())

	log := ctr.GetLogger()
	cfg := ctr.GetConfig()
	m := ctr.GetMetrics()
	log.Info("Starting hive bridge worker")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	repo, err := ctr.GetSubscriptionRepository()
	if err != nil {
		log.ErrorWithError(err, "Failed to open subscription store")
		return 1
	}
	brokerClient, err := ctr.GetBroker()
	if err != nil {
		log.ErrorWithError(err, "Failed to create broker client")
		return 1
	}
	sink, err := ctr.GetSink()
	if err != nil {
		log.ErrorWithError(err, "Failed to create sink client")
		return 1
	}

	log.WithField("broker", cfg.GetMQTTBrokerURL()).Info("Connecting to broker")
	if err := brokerClient.Connect(ctx); err != nil {
		log.ErrorWithError(err, "Failed to connect to broker")
		return 1
	}

	bootstrapper := mqtingestor.NewBootstrapper(repo, brokerClient, m, log)
	bootstrapper.Run(ctx)

	healthServer := health.NewServer(cfg.Server, brokerClient, repo, sink, ctr.GetRegistry(), log)
	go func() {
		if err := healthServer.Start(); err != nil {
			log.ErrorWithError(err, "Health server stopped")
		}
	}()
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = healthServer.Shutdown(shutdownCtx)
	}()

	listener := ctr.NewChangeFeed()
	queue := ctr.NewEventQueue()
	reconciler := mqtingestor.NewReconciler(brokerClient, repo.Scheme(), m, log)
	pump := mqtingestor.NewPump(brokerClient, sink, bootstrapper, cfg.Worker.RetryBackoff, m, log)

	supervisor := mqtingestor.NewSupervisor(log,
		mqtingestor.Unit{Name: "changefeed", Run: func(ctx context.Context) error { return listener.Run(ctx, queue) }},
		mqtingestor.Unit{Name: "reconciler", Run: func(ctx context.Context) error { return reconciler.Run(ctx, queue) }},
		mqtingestor.Unit{Name: "pump", Run: pump.Run},
	)

	log.Info("Hive bridge running... press Ctrl+C to stop")
	err = supervisor.Run(ctx)

	if ctx.Err() != nil && errors.Is(err, context.Canceled) {
		log.Info("Shutting down...")
		return 0
	}
	log.ErrorWithError(err, "Worker terminated")
	return 1
}
