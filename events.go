package bootready

import (
	"fmt"
	"time"

	cloudevents "github.com/cloudevents/sdk-go/v2"
	"github.com/google/uuid"
)

// ConfigurationEvent is the payload of configuration CloudEvents.
type ConfigurationEvent struct {
	PID        string          `json:"pid"`
	FactoryPID string          `json:"factoryPid,omitempty"`
	Type       ConfigEventType `json:"type"`
}

// NewCloudEvent creates a new CloudEvent with the specified parameters.
func NewCloudEvent(eventType, source string, data any, metadata map[string]any) cloudevents.Event {
	event := cloudevents.NewEvent()

	event.SetID(generateEventID())
	event.SetSource(source)
	event.SetType(eventType)
	event.SetTime(time.Now())
	event.SetSpecVersion(cloudevents.VersionV1)

	if data != nil {
		_ = event.SetData(cloudevents.ApplicationJSON, data)
	}

	for key, value := range metadata {
		event.SetExtension(key, value)
	}

	return event
}

// generateEventID generates a unique identifier for CloudEvents using UUIDv7.
func generateEventID() string {
	id, err := uuid.NewV7()
	if err != nil {
		id = uuid.New()
	}
	return id.String()
}

// configEventTypes maps ConfigEventType to its CloudEvent type.
var configEventTypes = map[ConfigEventType]string{
	ConfigEventUpdated:         EventTypeConfigUpdated,
	ConfigEventDeleted:         EventTypeConfigDeleted,
	ConfigEventLocationChanged: EventTypeConfigLocationChanged,
}

// CloudEventType returns the CloudEvent type for a configuration event type.
func (t ConfigEventType) CloudEventType() string {
	return configEventTypes[t]
}

// NewConfigurationEvent builds the CloudEvent a runtime publishes after a
// configuration record changed. The pid is carried as the CloudEvent subject.
func NewConfigurationEvent(source string, ev ConfigurationEvent) cloudevents.Event {
	event := NewCloudEvent(ev.Type.CloudEventType(), source, ev, nil)
	event.SetSubject(ev.PID)
	return event
}

// ParseConfigurationEvent extracts a ConfigurationEvent from a CloudEvent.
// The subject is authoritative for the pid; the data payload is optional.
func ParseConfigurationEvent(event cloudevents.Event) (ConfigurationEvent, error) {
	var ev ConfigurationEvent
	found := false
	for t, ceType := range configEventTypes {
		if ceType == event.Type() {
			ev.Type = t
			found = true
			break
		}
	}
	if !found {
		return ConfigurationEvent{}, fmt.Errorf("%w: %s", ErrUnknownConfigEventType, event.Type())
	}

	if len(event.Data()) > 0 {
		var payload ConfigurationEvent
		if err := event.DataAs(&payload); err != nil {
			return ConfigurationEvent{}, fmt.Errorf("decode configuration event: %w", err)
		}
		ev.PID = payload.PID
		ev.FactoryPID = payload.FactoryPID
	}
	if subject := event.Subject(); subject != "" {
		ev.PID = subject
	}
	if ev.PID == "" {
		return ConfigurationEvent{}, ErrEventMissingPID
	}
	return ev, nil
}
