package changefeed

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/lib/pq"
	logger "gitlab.com/maplesense1/mpt.hive_bridge/src/production/MQT.Logger"
	metrics "gitlab.com/maplesense1/mpt.hive_bridge/src/production/MQT.Metrics"
	mqtmodels "gitlab.com/maplesense1/mpt.hive_bridge/src/production/MQT.Models"
)

// NotificationSource is the part of *pq.Listener the change feed needs.
type NotificationSource interface {
	Listen(channel string) error
	NotificationChannel() <-chan *pq.Notification
	Close() error
}

// DialPostgresListener opens a dedicated LISTEN connection. Any disconnect or
// failed connection attempt is reported once on the returned channel.
func DialPostgresListener(dsn string, minReconnect, maxReconnect time.Duration, log *logger.Logger) (*pq.Listener, <-chan error) {
	lost := make(chan error, 1)
	l := log.WithComponent("changefeed")

	listener := pq.NewListener(dsn, minReconnect, maxReconnect, func(ev pq.ListenerEventType, err error) {
		switch ev {
		case pq.ListenerEventConnected:
			l.Info("notification connection established")
		case pq.ListenerEventReconnected:
			l.Info("notification connection re-established")
		case pq.ListenerEventDisconnected, pq.ListenerEventConnectionAttemptFailed:
			if err == nil {
				err = errors.New("notification connection lost")
			}
			l.ErrorWithError(err, "notification connection lost")
			select {
			case lost <- &mqtmodels.ConnectionError{Source: "postgres", Err: err}:
			default:
			}
		}
	})
	return listener, lost
}

// Listener turns store notifications into change events on an EventQueue.
type Listener struct {
	source  NotificationSource
	lost    <-chan error
	channel string
	strict  bool
	metrics *metrics.BridgeMetrics
	logger  *logger.Logger
}

// NewListener wires a notification source. When strict is set a malformed
// notification ends Run; otherwise it is logged and skipped.
func NewListener(source NotificationSource, lost <-chan error, channel string, strict bool, m *metrics.BridgeMetrics, log *logger.Logger) *Listener {
	return &Listener{
		source:  source,
		lost:    lost,
		channel: channel,
		strict:  strict,
		metrics: m,
		logger:  log.WithComponent("changefeed").WithField("channel", channel),
	}
}

// Run listens until ctx ends or the notification connection is lost.
func (l *Listener) Run(ctx context.Context, queue *EventQueue) error {
	if err := l.source.Listen(l.channel); err != nil {
		return &mqtmodels.ConnectionError{Source: "postgres", Err: err}
	}
	l.logger.Info("listening for subscription changes")

	notifications := l.source.NotificationChannel()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case err := <-l.lost:
			return err

		case n, ok := <-notifications:
			if !ok {
				return &mqtmodels.ConnectionError{Source: "postgres", Err: errors.New("notification channel closed")}
			}
			if n == nil {
				continue
			}
			if err := l.handle(ctx, queue, n.Extra); err != nil {
				return err
			}
		}
	}
}

func (l *Listener) handle(ctx context.Context, queue *EventQueue, payload string) error {
	var ev mqtmodels.TopicSubscriptionChangeEvent
	if err := json.Unmarshal([]byte(payload), &ev); err != nil {
		l.metrics.IncChangeDecodeFailure()
		decodeErr := &mqtmodels.DecodeError{Kind: mqtmodels.DecodeMalformedJSON, Err: err}
		if l.strict {
			return decodeErr
		}
		l.logger.WithError(decodeErr).WithField("payload", payload).Warn("skipping malformed change notification")
		return nil
	}

	l.metrics.ObserveChangeEvent(ev.Action.String())
	l.logger.Logger.Debug().
		Str("action", ev.Action.String()).
		Str("device_name", ev.DeviceName).
		Msg("change event received")

	switch err := queue.Push(ctx, ev); {
	case err == nil:
		return nil
	case errors.Is(err, ErrQueueFull):
		l.logger.WithField("action", ev.Action.String()).Warn("change event dropped, queue full")
		return nil
	default:
		return err
	}
}
