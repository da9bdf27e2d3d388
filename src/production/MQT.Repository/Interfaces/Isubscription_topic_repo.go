package interfaces

import (
	"context"

	mqtmodels "gitlab.com/maplesense1/mpt.hive_bridge/src/production/MQT.Models"
)

type SubscriptionTopicRepository interface {
	// Read every desired subscription row
	ListDesired(ctx context.Context) ([]mqtmodels.DesiredSubscription, error)

	// Scheme used to turn rows into topic strings
	Scheme() mqtmodels.TopicScheme

	// Connectivity check for readiness
	Ping(ctx context.Context) error
}
