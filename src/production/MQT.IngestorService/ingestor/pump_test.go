package mqtingestor

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"gitlab.com/maplesense1/mpt.hive_bridge/src/production/MQT.IngestorService/broker"
	logger "gitlab.com/maplesense1/mpt.hive_bridge/src/production/MQT.Logger"
	metrics "gitlab.com/maplesense1/mpt.hive_bridge/src/production/MQT.Metrics"
	mqtmodels "gitlab.com/maplesense1/mpt.hive_bridge/src/production/MQT.Models"
)

const hiveCPayload = `{"device_name":"hiveC","weight":"42","temperature":"21.5","humidity":"55.2"}`

type countingResync struct {
	runs chan struct{}
}

func (c *countingResync) Run(context.Context) BootstrapReport {
	c.runs <- struct{}{}
	return BootstrapReport{}
}

// scriptedResync returns the queued reports in order, then clean ones.
type scriptedResync struct {
	mu      sync.Mutex
	reports []BootstrapReport
	runs    chan struct{}
}

func (s *scriptedResync) Run(context.Context) BootstrapReport {
	s.mu.Lock()
	var r BootstrapReport
	if len(s.reports) > 0 {
		r, s.reports = s.reports[0], s.reports[1:]
	}
	s.mu.Unlock()
	s.runs <- struct{}{}
	return r
}

func waitResync(t *testing.T, runs <-chan struct{}, msg string) {
	t.Helper()
	select {
	case <-runs:
	case <-time.After(time.Second):
		t.Fatal(msg)
	}
}

func assertNoResync(t *testing.T, runs <-chan struct{}, msg string) {
	t.Helper()
	select {
	case <-runs:
		t.Fatal(msg)
	case <-time.After(20 * time.Millisecond):
	}
}

func runPump(p *Pump) (context.CancelFunc, <-chan error) {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- p.Run(ctx) }()
	return cancel, done
}

func TestPumpWritesDecodedPoints(t *testing.T) {
	fb := newFakeBroker()
	sink := &mockSink{}
	written := make(chan string, 4)
	sink.On("Write", mock.Anything, mock.AnythingOfType("string")).
		Run(func(args mock.Arguments) { written <- args.String(1) }).
		Return(nil)

	p := NewPump(fb, sink, &countingResync{runs: make(chan struct{}, 1)}, time.Millisecond, nil, logger.NewNopLogger())
	cancel, done := runPump(p)

	fb.publish("apiary/1/hiveC", hiveCPayload)
	assert.Equal(t, "hive_sensors,device_name=hiveC temperature=21.5,humidity=55.2,weight=42", <-written)

	cancel()
	assert.True(t, errors.Is(<-done, context.Canceled))
}

func TestPumpSkipsBadPayloadsAndSinkErrors(t *testing.T) {
	fb := newFakeBroker()
	sink := &mockSink{}
	calls := make(chan struct{}, 4)
	sink.On("Write", mock.Anything, mock.Anything).
		Run(func(mock.Arguments) { calls <- struct{}{} }).
		Return(&mqtmodels.SinkWriteError{StatusCode: 500, Body: "internal"})
	m := metrics.NewBridgeMetrics(prometheus.NewRegistry())

	p := NewPump(fb, sink, &countingResync{runs: make(chan struct{}, 1)}, time.Millisecond, m, logger.NewNopLogger())
	cancel, done := runPump(p)
	defer func() { cancel(); <-done }()

	fb.publish("apiary/1/hiveC", `{"apiary_id":"a","hive_id":"h","weight":"42"}`)
	fb.publish("apiary/1/hiveC", string([]byte{0xff}))
	fb.polls <- pollResult{ev: broker.Event{Kind: broker.EventConnected}}
	fb.publish("apiary/1/hiveC", hiveCPayload)
	fb.publish("apiary/1/hiveC", hiveCPayload)

	<-calls
	<-calls
	select {
	case <-calls:
		t.Fatal("sink writes are never retried")
	case <-time.After(20 * time.Millisecond):
	}
	sink.AssertNumberOfCalls(t, "Write", 2)
}

func TestPumpBacksOffThenBootstraps(t *testing.T) {
	fb := newFakeBroker()
	resync := &countingResync{runs: make(chan struct{}, 2)}
	p := NewPump(fb, &mockSink{}, resync, 30*time.Millisecond, nil, logger.NewNopLogger())
	cancel, done := runPump(p)
	defer func() { cancel(); <-done }()

	start := time.Now()
	fb.polls <- pollResult{err: &mqtmodels.ConnectionError{Source: "broker", Err: errors.New("EOF")}}

	select {
	case <-resync.runs:
		assert.GreaterOrEqual(t, time.Since(start), 30*time.Millisecond)
	case <-time.After(time.Second):
		t.Fatal("bootstrap not triggered after poll error")
	}
}

func TestPumpBackoffHonoursCancel(t *testing.T) {
	fb := newFakeBroker()
	resync := &countingResync{runs: make(chan struct{}, 1)}
	p := NewPump(fb, &mockSink{}, resync, time.Hour, nil, logger.NewNopLogger())
	cancel, done := runPump(p)

	fb.polls <- pollResult{err: errors.New("connection reset")}
	time.Sleep(10 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		require.True(t, errors.Is(err, context.Canceled))
	case <-time.After(time.Second):
		t.Fatal("pump ignored cancellation during backoff")
	}
	assert.Len(t, resync.runs, 0)
}

func TestPumpResyncsWhenBrokerReconnectsAfterBackoff(t *testing.T) {
	fb := newFakeBroker()
	// The backoff pass ran while the broker was still down, so every row failed.
	resync := &scriptedResync{
		reports: []BootstrapReport{{Rows: 2, Failed: 2}},
		runs:    make(chan struct{}, 4),
	}
	p := NewPump(fb, &mockSink{}, resync, time.Millisecond, nil, logger.NewNopLogger())
	cancel, done := runPump(p)
	defer func() { cancel(); <-done }()

	fb.polls <- pollResult{ev: broker.Event{Kind: broker.EventConnected}}
	assertNoResync(t, resync.runs, "initial connect must not resync")

	fb.polls <- pollResult{err: &mqtmodels.ConnectionError{Source: "broker", Err: errors.New("EOF")}}
	waitResync(t, resync.runs, "bootstrap not triggered after backoff")

	fb.polls <- pollResult{ev: broker.Event{Kind: broker.EventConnected}}
	waitResync(t, resync.runs, "reconnected clean session was not resynced")

	fb.polls <- pollResult{ev: broker.Event{Kind: broker.EventConnected}}
	assertNoResync(t, resync.runs, "resync repeated after a clean pass")
}

func TestPumpKeepsResyncingUntilCleanPass(t *testing.T) {
	fb := newFakeBroker()
	resync := &scriptedResync{
		reports: []BootstrapReport{
			{Rows: 1, Failed: 1},
			{QueryErr: errors.New("connection refused")},
		},
		runs: make(chan struct{}, 4),
	}
	p := NewPump(fb, &mockSink{}, resync, time.Millisecond, nil, logger.NewNopLogger())
	cancel, done := runPump(p)
	defer func() { cancel(); <-done }()

	fb.polls <- pollResult{err: errors.New("connection reset")}
	waitResync(t, resync.runs, "bootstrap not triggered after backoff")

	fb.polls <- pollResult{ev: broker.Event{Kind: broker.EventConnected}}
	waitResync(t, resync.runs, "first reconnect did not resync")

	fb.polls <- pollResult{ev: broker.Event{Kind: broker.EventConnected}}
	waitResync(t, resync.runs, "failed pass did not keep resync pending")

	fb.polls <- pollResult{ev: broker.Event{Kind: broker.EventConnected}}
	assertNoResync(t, resync.runs, "resync repeated after a clean pass")
}
