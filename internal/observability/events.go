package observability

import "time"

type EventEnvelope struct {
	EventType string      `json:"event_type"`
	EventName string      `json:"event_name"`
	Payload   interface{} `json:"payload"`
}

func BuildHeaders(requestID, traceID string) map[string]string {
	headers := map[string]string{}
	if requestID != "" {
		headers["x-request-id"] = requestID
	}
	if traceID != "" {
		headers["trace_id"] = traceID
	}
	return headers
}

// WSIdentity describes who holds a websocket connection.
type WSIdentity struct {
	ConnID      string
	UserID      string
	DeviceID    string
	IP          string
	ConnectedAt time.Time
}

// WSEvent builds the envelope published for websocket lifecycle changes.
func WSEvent(name string, id WSIdentity, reason string) EventEnvelope {
	var duration int64
	if !id.ConnectedAt.IsZero() {
		duration = time.Since(id.ConnectedAt).Milliseconds()
	}
	return EventEnvelope{
		EventType: "ws_events",
		EventName: name,
		Payload: map[string]interface{}{
			"ws": map[string]interface{}{
				"event":       name,
				"conn_id":     id.ConnID,
				"duration_ms": duration,
				"reason":      reason,
			},
			"identity": map[string]interface{}{
				"user_id":   id.UserID,
				"device_id": id.DeviceID,
				"ip":        id.IP,
			},
		},
	}
}

// WSRoutingKey is where websocket lifecycle events are published.
const WSRoutingKey = "ws_events.direct"
