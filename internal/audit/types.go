package audit

import "time"

// EventType represents the type of audit event
type EventType string

const (
	// Threshold configuration events
	EventThresholdCreated EventType = "threshold.created"
	EventThresholdUpdated EventType = "threshold.updated"
	EventThresholdDeleted EventType = "threshold.deleted"
	EventThresholdsSeeded EventType = "threshold.seeded"

	// Alert events
	EventAlertFired        EventType = "alert.fired"
	EventAlertAcknowledged EventType = "alert.acknowledged"
	EventHistoryCleared    EventType = "alert.history_cleared"

	// Cache events
	EventCacheCleared     EventType = "cache.cleared"
	EventCacheInvalidated EventType = "cache.invalidated"

	// Forecast events
	EventForecastGenerated EventType = "forecast.generated"

	// System events
	EventServerStarted  EventType = "system.server_started"
	EventServerShutdown EventType = "system.server_shutdown"
	EventConfigReload   EventType = "system.config_reload"
)

// Result represents the outcome of an audited action
type Result string

const (
	ResultSuccess Result = "success"
	ResultFailure Result = "failure"
)

// Event represents a single audit event
type Event struct {
	Timestamp     time.Time `json:"timestamp"`
	CorrelationID string    `json:"correlation_id,omitempty"`
	EventType     EventType `json:"event_type"`
	Result        Result    `json:"result"`

	SourceIP string `json:"source_ip,omitempty"`

	// Resource is the threshold, notification or cache category acted on.
	Resource     string `json:"resource,omitempty"`
	ResourceType string `json:"resource_type,omitempty"`

	Description string         `json:"description,omitempty"`
	Metadata    map[string]any `json:"metadata,omitempty"`

	Error string `json:"error,omitempty"`

	DurationMs int64 `json:"duration_ms,omitempty"`
}

// NewEvent creates a successful event stamped now.
func NewEvent(eventType EventType) *Event {
	return &Event{
		Timestamp: time.Now().UTC(),
		EventType: eventType,
		Result:    ResultSuccess,
		Metadata:  make(map[string]any),
	}
}

func (e *Event) WithCorrelationID(id string) *Event {
	e.CorrelationID = id
	return e
}

func (e *Event) WithSourceIP(ip string) *Event {
	e.SourceIP = ip
	return e
}

func (e *Event) WithResource(resource, resourceType string) *Event {
	e.Resource = resource
	e.ResourceType = resourceType
	return e
}

func (e *Event) WithDescription(desc string) *Event {
	e.Description = desc
	return e
}

// WithError marks the event failed. A nil error is ignored.
func (e *Event) WithError(err error) *Event {
	if err != nil {
		e.Error = err.Error()
		e.Result = ResultFailure
	}
	return e
}

func (e *Event) WithDuration(d time.Duration) *Event {
	e.DurationMs = d.Milliseconds()
	return e
}

func (e *Event) WithMetadata(key string, value any) *Event {
	e.Metadata[key] = value
	return e
}
