package mqtingestor

import (
	"context"

	logger "gitlab.com/maplesense1/mpt.hive_bridge/src/production/MQT.Logger"
	metrics "gitlab.com/maplesense1/mpt.hive_bridge/src/production/MQT.Metrics"
	mqtmodels "gitlab.com/maplesense1/mpt.hive_bridge/src/production/MQT.Models"
)

// Subscriber is the subscribe side of the shared broker client.
type Subscriber interface {
	Subscribe(ctx context.Context, topic string) error
	Unsubscribe(ctx context.Context, topic string) error
}

// ChangeQueue is the consumer side of the change event queue.
type ChangeQueue interface {
	Pop(ctx context.Context) (mqtmodels.TopicSubscriptionChangeEvent, error)
}

// Reconciler applies change events to the broker one at a time, in order.
// Failed operations are logged and not retried. Repeated inserts are passed
// through; the broker treats a resubscribe as a no-op.
type Reconciler struct {
	broker  Subscriber
	scheme  mqtmodels.TopicScheme
	metrics *metrics.BridgeMetrics
	logger  *logger.Logger
}

func NewReconciler(broker Subscriber, scheme mqtmodels.TopicScheme, m *metrics.BridgeMetrics, log *logger.Logger) *Reconciler {
	return &Reconciler{
		broker:  broker,
		scheme:  scheme,
		metrics: m,
		logger:  log.WithComponent("reconciler"),
	}
}

// Run drains queue until ctx ends or the queue is closed.
func (r *Reconciler) Run(ctx context.Context, queue ChangeQueue) error {
	for {
		ev, err := queue.Pop(ctx)
		if err != nil {
			return err
		}
		r.apply(ctx, ev)
	}
}

func (r *Reconciler) apply(ctx context.Context, ev mqtmodels.TopicSubscriptionChangeEvent) {
	topic := ev.Subscription().Topic(r.scheme)
	log := r.logger.WithTopic(topic)

	switch ev.Action {
	case mqtmodels.ActionInsert:
		err := r.broker.Subscribe(ctx, topic)
		r.metrics.ObserveSubscriptionOp(metrics.OpSubscribe, err)
		if err != nil {
			log.ErrorWithError(err, "subscribe failed")
			return
		}
		log.Info("subscribed")

	case mqtmodels.ActionDelete:
		err := r.broker.Unsubscribe(ctx, topic)
		r.metrics.ObserveSubscriptionOp(metrics.OpUnsubscribe, err)
		if err != nil {
			log.ErrorWithError(err, "unsubscribe failed")
			return
		}
		log.Info("unsubscribed")

	default:
		log.WithField("action", ev.RawAction).Warn("change action not supported, ignoring")
	}
}
