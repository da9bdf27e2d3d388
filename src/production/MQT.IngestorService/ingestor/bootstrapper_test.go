package mqtingestor

import (
	"context"
	"errors"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	logger "gitlab.com/maplesense1/mpt.hive_bridge/src/production/MQT.Logger"
	mqtmodels "gitlab.com/maplesense1/mpt.hive_bridge/src/production/MQT.Models"
)

func subscribedTopics(fb *fakeBroker) []string {
	var topics []string
	for _, op := range fb.Ops() {
		if op.Op == "subscribe" {
			topics = append(topics, op.Topic)
		}
	}
	sort.Strings(topics)
	return topics
}

func TestBootstrapSubscribesEveryRow(t *testing.T) {
	for _, rows := range [][]mqtmodels.DesiredSubscription{
		{{TopicPrefix: "apiary/1", DeviceName: "hiveA"}, {TopicPrefix: "apiary/1", DeviceName: "hiveB"}},
		{{TopicPrefix: "apiary/1", DeviceName: "hiveB"}, {TopicPrefix: "apiary/1", DeviceName: "hiveA"}},
	} {
		repo := &mockRepo{scheme: mqtmodels.TopicSchemePrefixDevice}
		repo.On("ListDesired", mock.Anything).Return(rows, nil).Once()
		fb := newFakeBroker()

		report := NewBootstrapper(repo, fb, nil, logger.NewNopLogger()).Run(context.Background())

		assert.Equal(t, BootstrapReport{Rows: 2, Subscribed: 2}, report)
		assert.Len(t, fb.Ops(), 2)
		assert.Equal(t, []string{"apiary/1/hiveA", "apiary/1/hiveB"}, subscribedTopics(fb))
		repo.AssertExpectations(t)
	}
}

func TestBootstrapContinuesPastFailures(t *testing.T) {
	repo := &mockRepo{scheme: mqtmodels.TopicSchemePrefixDevice}
	repo.On("ListDesired", mock.Anything).Return([]mqtmodels.DesiredSubscription{
		{TopicPrefix: "apiary/1", DeviceName: "hiveA"},
		{TopicPrefix: "apiary/1", DeviceName: "hiveB"},
		{TopicPrefix: "apiary/2", DeviceName: "hiveC"},
	}, nil)
	fb := newFakeBroker()
	fb.failOn["apiary/1/hiveB"] = errors.New("quota exceeded")

	report := NewBootstrapper(repo, fb, nil, logger.NewNopLogger()).Run(context.Background())

	assert.Equal(t, 3, report.Rows)
	assert.Equal(t, 2, report.Subscribed)
	assert.Equal(t, 1, report.Failed)
	assert.Len(t, fb.Ops(), 3)
}

func TestBootstrapQueryFailureIsTolerated(t *testing.T) {
	repo := &mockRepo{scheme: mqtmodels.TopicSchemePrefixDevice}
	queryErr := errors.New("connection refused")
	repo.On("ListDesired", mock.Anything).Return(nil, queryErr)
	fb := newFakeBroker()

	report := NewBootstrapper(repo, fb, nil, logger.NewNopLogger()).Run(context.Background())

	assert.Equal(t, queryErr, report.QueryErr)
	assert.Zero(t, report.Rows)
	assert.Empty(t, fb.Ops())
}
