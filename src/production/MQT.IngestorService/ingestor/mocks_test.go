package mqtingestor

import (
	"context"
	"sync"

	"github.com/stretchr/testify/mock"
	"gitlab.com/maplesense1/mpt.hive_bridge/src/production/MQT.IngestorService/broker"
	mqtmodels "gitlab.com/maplesense1/mpt.hive_bridge/src/production/MQT.Models"
)

type mockRepo struct {
	mock.Mock
	scheme mqtmodels.TopicScheme
}

func (m *mockRepo) ListDesired(ctx context.Context) ([]mqtmodels.DesiredSubscription, error) {
	args := m.Called(ctx)
	subs, _ := args.Get(0).([]mqtmodels.DesiredSubscription)
	return subs, args.Error(1)
}

func (m *mockRepo) Scheme() mqtmodels.TopicScheme { return m.scheme }

func (m *mockRepo) Ping(ctx context.Context) error { return m.Called(ctx).Error(0) }

type mockSink struct {
	mock.Mock
}

func (m *mockSink) Write(ctx context.Context, line string) error {
	return m.Called(ctx, line).Error(0)
}

type brokerOp struct {
	Op    string
	Topic string
}

// fakeBroker records subscription calls in order and hands out queued poll results.
type fakeBroker struct {
	mu     sync.Mutex
	ops    []brokerOp
	failOn map[string]error
	polls  chan pollResult
	subbed chan string
}

type pollResult struct {
	ev  broker.Event
	err error
}

func newFakeBroker() *fakeBroker {
	return &fakeBroker{
		failOn: map[string]error{},
		polls:  make(chan pollResult, 16),
		subbed: make(chan string, 16),
	}
}

func (f *fakeBroker) Subscribe(_ context.Context, topic string) error {
	f.mu.Lock()
	f.ops = append(f.ops, brokerOp{"subscribe", topic})
	err := f.failOn[topic]
	f.mu.Unlock()

	select {
	case f.subbed <- topic:
	default:
	}
	return err
}

func (f *fakeBroker) Unsubscribe(_ context.Context, topic string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ops = append(f.ops, brokerOp{"unsubscribe", topic})
	return f.failOn[topic]
}

func (f *fakeBroker) Poll(ctx context.Context) (broker.Event, error) {
	select {
	case <-ctx.Done():
		return broker.Event{}, ctx.Err()
	case r := <-f.polls:
		return r.ev, r.err
	}
}

func (f *fakeBroker) Ops() []brokerOp {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]brokerOp(nil), f.ops...)
}

func (f *fakeBroker) publish(topic, payload string) {
	f.polls <- pollResult{ev: broker.Event{Kind: broker.EventPublish, Topic: topic, Payload: []byte(payload)}}
}
