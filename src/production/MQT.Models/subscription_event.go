package mqtmodels

import (
	"encoding/json"
	"strings"

	"github.com/google/uuid"
)

// ActionKind is the row-level change reported by the store's change feed.
type ActionKind int

const (
	ActionUnknown ActionKind = iota
	ActionInsert
	ActionUpdate
	ActionDelete
)

// ParseActionKind maps the wire value (INSERT, UPDATE, DELETE) to an ActionKind.
// Anything else is ActionUnknown.
func ParseActionKind(s string) ActionKind {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "INSERT":
		return ActionInsert
	case "UPDATE":
		return ActionUpdate
	case "DELETE":
		return ActionDelete
	default:
		return ActionUnknown
	}
}

func (a ActionKind) String() string {
	switch a {
	case ActionInsert:
		return "INSERT"
	case ActionUpdate:
		return "UPDATE"
	case ActionDelete:
		return "DELETE"
	default:
		return "UNKNOWN"
	}
}

// TopicSubscriptionChangeEvent is one notification from the subscriptions change feed.
type TopicSubscriptionChangeEvent struct {
	Table          string     `json:"table"`
	Action         ActionKind `json:"-"`
	RawAction      string     `json:"action"`
	OrganizationID uuid.UUID  `json:"organization_id"`
	DeviceID       uuid.UUID  `json:"device_id"`
	DeviceName     string     `json:"device_name"`
	TopicPrefix    string     `json:"topic_prefix"`
}

// UnmarshalJSON accepts both "action" and the older "action_type" key.
func (e *TopicSubscriptionChangeEvent) UnmarshalJSON(data []byte) error {
	var wire struct {
		Table          string    `json:"table"`
		Action         *string   `json:"action"`
		ActionType     *string   `json:"action_type"`
		OrganizationID uuid.UUID `json:"organization_id"`
		DeviceID       uuid.UUID `json:"device_id"`
		DeviceName     string    `json:"device_name"`
		TopicPrefix    string    `json:"topic_prefix"`
	}
	if err := json.Unmarshal(data, &wire); err != nil {
		return err
	}

	raw := ""
	switch {
	case wire.Action != nil:
		raw = *wire.Action
	case wire.ActionType != nil:
		raw = *wire.ActionType
	}

	*e = TopicSubscriptionChangeEvent{
		Table:          wire.Table,
		Action:         ParseActionKind(raw),
		RawAction:      raw,
		OrganizationID: wire.OrganizationID,
		DeviceID:       wire.DeviceID,
		DeviceName:     wire.DeviceName,
		TopicPrefix:    wire.TopicPrefix,
	}
	return nil
}

// Subscription returns the row identity carried by the event.
func (e TopicSubscriptionChangeEvent) Subscription() DesiredSubscription {
	return DesiredSubscription{
		OrganizationID: e.OrganizationID,
		DeviceID:       e.DeviceID,
		DeviceName:     e.DeviceName,
		TopicPrefix:    e.TopicPrefix,
	}
}
