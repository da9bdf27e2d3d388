package mqtmodels

import (
	"fmt"

	"github.com/google/uuid"
)

// TopicScheme selects how a subscription row maps to a broker topic string.
type TopicScheme string

const (
	// TopicSchemePrefixDevice yields "<topic_prefix>/<device_name>".
	TopicSchemePrefixDevice TopicScheme = "prefix_device"
	// TopicSchemeOrgDevice yields "<organization_id>/<device_id>".
	TopicSchemeOrgDevice TopicScheme = "org_device"
)

// ParseTopicScheme validates a configured scheme name.
func ParseTopicScheme(s string) (TopicScheme, error) {
	switch TopicScheme(s) {
	case TopicSchemePrefixDevice, TopicSchemeOrgDevice:
		return TopicScheme(s), nil
	default:
		return "", fmt.Errorf("unknown topic scheme %q", s)
	}
}

// DesiredSubscription is one row of the desired-subscription table.
type DesiredSubscription struct {
	OrganizationID uuid.UUID `json:"organization_id" db:"organization_id"`
	DeviceID       uuid.UUID `json:"device_id" db:"device_id"`
	DeviceName     string    `json:"device_name" db:"device_name"`
	TopicPrefix    string    `json:"topic_prefix" db:"topic_prefix"`
}

// Topic computes the broker topic string for the row under the given scheme.
func (s DesiredSubscription) Topic(scheme TopicScheme) string {
	if scheme == TopicSchemeOrgDevice {
		return s.OrganizationID.String() + "/" + s.DeviceID.String()
	}
	return s.TopicPrefix + "/" + s.DeviceName
}
