package mqtingestor

import (
	"context"

	logger "gitlab.com/maplesense1/mpt.hive_bridge/src/production/MQT.Logger"
	metrics "gitlab.com/maplesense1/mpt.hive_bridge/src/production/MQT.Metrics"
	interfaces "gitlab.com/maplesense1/mpt.hive_bridge/src/production/MQT.Repository/Interfaces"
)

// BootstrapReport summarizes one resync pass.
type BootstrapReport struct {
	Rows       int
	Subscribed int
	Failed     int
	QueryErr   error
}

// Bootstrapper subscribes to every desired topic. It never fails its
// caller: a query error leaves existing subscriptions as they are and
// per-row failures do not stop the pass.
type Bootstrapper struct {
	repo    interfaces.SubscriptionTopicRepository
	broker  Subscriber
	metrics *metrics.BridgeMetrics
	logger  *logger.Logger
}

func NewBootstrapper(repo interfaces.SubscriptionTopicRepository, broker Subscriber, m *metrics.BridgeMetrics, log *logger.Logger) *Bootstrapper {
	return &Bootstrapper{
		repo:    repo,
		broker:  broker,
		metrics: m,
		logger:  log.WithComponent("bootstrapper"),
	}
}

func (b *Bootstrapper) Run(ctx context.Context) BootstrapReport {
	subs, err := b.repo.ListDesired(ctx)
	if err != nil {
		b.logger.WithError(err).Warn("could not load desired subscriptions, keeping current ones")
		b.metrics.ObserveBootstrap(err, 0)
		return BootstrapReport{QueryErr: err}
	}

	report := BootstrapReport{Rows: len(subs)}
	scheme := b.repo.Scheme()
	for _, s := range subs {
		if ctx.Err() != nil {
			break
		}
		topic := s.Topic(scheme)
		err := b.broker.Subscribe(ctx, topic)
		b.metrics.ObserveSubscriptionOp(metrics.OpSubscribe, err)
		if err != nil {
			report.Failed++
			b.logger.WithTopic(topic).ErrorWithError(err, "bootstrap subscribe failed")
			continue
		}
		report.Subscribed++
		b.logger.WithTopic(topic).Debug("bootstrap subscribed")
	}

	b.metrics.ObserveBootstrap(nil, report.Subscribed)
	b.logger.WithFields(map[string]interface{}{
		"rows":       report.Rows,
		"subscribed": report.Subscribed,
		"failed":     report.Failed,
	}).Info("bootstrap complete")
	return report
}
