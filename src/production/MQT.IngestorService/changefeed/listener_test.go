package changefeed

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	config "gitlab.com/maplesense1/mpt.hive_bridge/src/production/MQT.Config"
	logger "gitlab.com/maplesense1/mpt.hive_bridge/src/production/MQT.Logger"
	metrics "gitlab.com/maplesense1/mpt.hive_bridge/src/production/MQT.Metrics"
	mqtmodels "gitlab.com/maplesense1/mpt.hive_bridge/src/production/MQT.Models"
)

type fakeSource struct {
	listened  []string
	listenErr error
	ch        chan *pq.Notification
}

func newFakeSource() *fakeSource {
	return &fakeSource{ch: make(chan *pq.Notification, 16)}
}

func (f *fakeSource) Listen(channel string) error {
	f.listened = append(f.listened, channel)
	return f.listenErr
}

func (f *fakeSource) NotificationChannel() <-chan *pq.Notification { return f.ch }
func (f *fakeSource) Close() error                                { return nil }

func (f *fakeSource) notify(payload string) {
	f.ch <- &pq.Notification{Channel: "subscriptions_topics", Extra: payload}
}

const (
	insertHiveA = `{"table":"subscriptions_topics","action":"INSERT","organization_id":"11111111-1111-1111-1111-111111111111","device_id":"22222222-2222-2222-2222-222222222222","device_name":"hiveA","topic_prefix":"apiary/1"}`
	deleteHiveA = `{"table":"subscriptions_topics","action_type":"DELETE","organization_id":"11111111-1111-1111-1111-111111111111","device_id":"22222222-2222-2222-2222-222222222222","device_name":"hiveA","topic_prefix":"apiary/1"}`
)

func runListener(t *testing.T, l *Listener, q *EventQueue) (context.CancelFunc, <-chan error) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- l.Run(ctx, q) }()
	return cancel, done
}

func popWithin(t *testing.T, q *EventQueue) mqtmodels.TopicSubscriptionChangeEvent {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	ev, err := q.Pop(ctx)
	require.NoError(t, err)
	return ev
}

func TestListenerSkipsMalformedByDefault(t *testing.T) {
	src := newFakeSource()
	m := metrics.NewBridgeMetrics(prometheus.NewRegistry())
	l := NewListener(src, nil, "subscriptions_topics", false, m, logger.NewNopLogger())
	q := NewEventQueue(0, config.QueuePolicyBlock, nil)

	src.notify(insertHiveA)
	src.notify(`{"action":`)
	src.notify(deleteHiveA)

	cancel, done := runListener(t, l, q)

	first := popWithin(t, q)
	second := popWithin(t, q)
	assert.Equal(t, mqtmodels.ActionInsert, first.Action)
	assert.Equal(t, mqtmodels.ActionDelete, second.Action)
	assert.Equal(t, "hiveA", second.DeviceName)

	cancel()
	assert.True(t, errors.Is(<-done, context.Canceled))
	assert.Equal(t, []string{"subscriptions_topics"}, src.listened)
}

func TestListenerStrictDecodeIsFatal(t *testing.T) {
	src := newFakeSource()
	l := NewListener(src, nil, "subscriptions_topics", true, nil, logger.NewNopLogger())
	q := NewEventQueue(0, config.QueuePolicyBlock, nil)

	src.notify("not json")
	cancel, done := runListener(t, l, q)
	defer cancel()

	err := <-done
	assert.True(t, errors.Is(err, mqtmodels.ErrDecode))
	assert.Equal(t, 0, q.Len())
}

func TestListenerConnectionLossIsFatal(t *testing.T) {
	src := newFakeSource()
	lost := make(chan error, 1)
	l := NewListener(src, lost, "subscriptions_topics", false, nil, logger.NewNopLogger())

	cancel, done := runListener(t, l, NewEventQueue(0, config.QueuePolicyBlock, nil))
	defer cancel()

	lost <- &mqtmodels.ConnectionError{Source: "postgres", Err: errors.New("server closed the connection")}
	assert.True(t, errors.Is(<-done, mqtmodels.ErrConnection))
}

func TestListenerClosedChannelIsFatal(t *testing.T) {
	src := newFakeSource()
	close(src.ch)
	l := NewListener(src, nil, "subscriptions_topics", false, nil, logger.NewNopLogger())

	cancel, done := runListener(t, l, NewEventQueue(0, config.QueuePolicyBlock, nil))
	defer cancel()
	assert.True(t, errors.Is(<-done, mqtmodels.ErrConnection))
}

func TestListenerListenFailure(t *testing.T) {
	src := newFakeSource()
	src.listenErr = errors.New("permission denied")
	l := NewListener(src, nil, "subscriptions_topics", false, nil, logger.NewNopLogger())

	err := l.Run(context.Background(), NewEventQueue(0, config.QueuePolicyBlock, nil))
	assert.True(t, errors.Is(err, mqtmodels.ErrConnection))
}

func TestListenerDropsWhenQueueFull(t *testing.T) {
	src := newFakeSource()
	l := NewListener(src, nil, "subscriptions_topics", false, nil, logger.NewNopLogger())
	q := NewEventQueue(1, config.QueuePolicyDrop, nil)

	src.notify(insertHiveA)
	src.notify(deleteHiveA)
	cancel, done := runListener(t, l, q)

	require.Eventually(t, func() bool { return len(src.ch) == 0 }, time.Second, 5*time.Millisecond)
	time.Sleep(10 * time.Millisecond)
	cancel()
	<-done

	assert.Equal(t, 1, q.Len())
	ev := popWithin(t, q)
	assert.Equal(t, mqtmodels.ActionInsert, ev.Action)
}
