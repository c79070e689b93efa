package telemetry

import (
	"context"
	"time"

	"letschat/internal/logging"
)

type Publisher interface {
	Publish(ctx context.Context, routingKey string, event any) error
}

// Audit levels.
const (
	LevelInfo = "INFO"
	LevelWarn = "WARN"
)

type AuditEmitter struct {
	publisher   Publisher
	routingKey  string
	service     string
	environment string
}

type AuditEnvelope struct {
	SchemaVersion int          `json:"schema_version"`
	EventType     string       `json:"event_type"`
	OccurredAt    string       `json:"occurred_at"`
	Service       string       `json:"service"`
	Environment   string       `json:"environment"`
	RequestID     string       `json:"request_id"`
	UserID        *string      `json:"user_id,omitempty"`
	Payload       AuditPayload `json:"payload"`
}

type AuditPayload struct {
	Level  string            `json:"level"`
	Action string            `json:"action,omitempty"`
	Text   string            `json:"text"`
	Fields map[string]string `json:"fields,omitempty"`
}

// Entry is a single security-relevant action.
type Entry struct {
	Level     string
	Action    string
	Text      string
	RequestID string
	UserID    string
	Fields    map[string]string
}

type requestIDKey struct{}

// WithRequestID attaches a request id for audit entries emitted under ctx.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, requestIDKey{}, requestID)
}

// RequestIDFrom returns the request id attached to ctx, if any.
func RequestIDFrom(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

func NewAuditEmitter(publisher Publisher, routingKey, service, environment string) *AuditEmitter {
	return &AuditEmitter{
		publisher:   publisher,
		routingKey:  routingKey,
		service:     service,
		environment: environment,
	}
}

// Emit publishes an audit record. Failures are logged, never returned.
func (e *AuditEmitter) Emit(ctx context.Context, entry Entry) {
	if e == nil || e.publisher == nil {
		return
	}

	if entry.RequestID == "" {
		entry.RequestID = RequestIDFrom(ctx)
	}
	log := logging.NewWithFields("AuditEmitter.Emit", map[string]interface{}{
		"action":     entry.Action,
		"request_id": entry.RequestID,
		"user_id":    entry.UserID,
	})
	log.Debugf("audit emit: level=%s text=%q", entry.Level, entry.Text)

	var userID *string
	if entry.UserID != "" {
		id := entry.UserID
		userID = &id
	}
	level := entry.Level
	if level == "" {
		level = LevelInfo
	}
	envelope := AuditEnvelope{
		SchemaVersion: 1,
		EventType:     "audit_log",
		OccurredAt:    time.Now().UTC().Format(time.RFC3339Nano),
		Service:       e.service,
		Environment:   e.environment,
		RequestID:     entry.RequestID,
		UserID:        userID,
		Payload: AuditPayload{
			Level:  level,
			Action: entry.Action,
			Text:   entry.Text,
			Fields: entry.Fields,
		},
	}

	if err := e.publisher.Publish(ctx, e.routingKey, envelope); err != nil {
		log.WithError(err).Warn("audit publish failed")
	}
}
