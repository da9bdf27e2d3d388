package mqtingestor

import (
	"context"
	"time"

	"gitlab.com/maplesense1/mpt.hive_bridge/src/production/MQT.IngestorService/broker"
	"gitlab.com/maplesense1/mpt.hive_bridge/src/production/MQT.IngestorService/codec"
	logger "gitlab.com/maplesense1/mpt.hive_bridge/src/production/MQT.Logger"
	metrics "gitlab.com/maplesense1/mpt.hive_bridge/src/production/MQT.Metrics"
)

// EventSource is the polling side of the shared broker client.
type EventSource interface {
	Poll(ctx context.Context) (broker.Event, error)
}

// Sink accepts one line-protocol point per call.
type Sink interface {
	Write(ctx context.Context, line string) error
}

// Resyncer re-establishes the desired subscriptions.
type Resyncer interface {
	Run(ctx context.Context) BootstrapReport
}

// Pump moves inbound publishes through the codec into the sink.
type Pump struct {
	source  EventSource
	sink    Sink
	resync  Resyncer
	backoff time.Duration
	metrics *metrics.BridgeMetrics
	logger  *logger.Logger
}

func NewPump(source EventSource, sink Sink, resync Resyncer, backoff time.Duration, m *metrics.BridgeMetrics, log *logger.Logger) *Pump {
	return &Pump{
		source:  source,
		sink:    sink,
		resync:  resync,
		backoff: backoff,
		metrics: m,
		logger:  log.WithComponent("pump"),
	}
}

// Run polls until ctx ends. A poll error is followed by the backoff sleep
// and a bootstrap pass. The broker client reconnects on its own schedule, so
// the clean session it comes back with is resynced again on the next connect
// event until a pass completes without failures.
func (p *Pump) Run(ctx context.Context) error {
	needResync := false
	for {
		ev, err := p.source.Poll(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			p.metrics.IncBrokerConnectionError()
			p.logger.WithField("backoff", p.backoff.String()).ErrorWithError(err, "broker poll failed")
			needResync = true

			if err := sleepCtx(ctx, p.backoff); err != nil {
				return err
			}
			p.resync.Run(ctx)
			continue
		}

		switch ev.Kind {
		case broker.EventPublish:
			p.handlePublish(ctx, ev)
		case broker.EventConnected:
			if !needResync {
				p.logger.Debug("broker connected")
				continue
			}
			p.logger.Info("broker reconnected, resyncing subscriptions")
			report := p.resync.Run(ctx)
			needResync = report.QueryErr != nil || report.Failed > 0
		default:
			p.logger.Debug("broker event ignored")
		}
	}
}

func (p *Pump) handlePublish(ctx context.Context, ev broker.Event) {
	log := p.logger.WithTopic(ev.Topic)

	reading, err := codec.Decode(ev.Payload)
	if err != nil {
		p.metrics.ObserveMessage(metrics.MessageDecodeError)
		log.WithError(err).Warn("discarding undecodable payload")
		return
	}

	line := codec.Encode(reading).String()
	start := time.Now()
	err = p.sink.Write(ctx, line)
	p.metrics.ObserveSinkWrite(time.Since(start))
	if err != nil {
		p.metrics.ObserveMessage(metrics.MessageSinkError)
		log.ErrorWithError(err, "sink write failed")
		return
	}

	p.metrics.ObserveMessage(metrics.MessageWritten)
	log.WithField("variant", string(reading.Variant())).Debug("point written")
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
