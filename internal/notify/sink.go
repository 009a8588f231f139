package notify

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"time"

	"promptbot/internal/domain"
	"promptbot/internal/infra"
)

// PayloadKind tells consumers how to render a delivery.
type PayloadKind string

const (
	KindImage PayloadKind = "image"
	KindText  PayloadKind = "text"
)

// Payload is what a user receives: either an image reference (optionally
// captioned) or a plain text message. Final marks the last delivery of a job.
type Payload struct {
	JobID    string
	Kind     PayloadKind
	Artifact *domain.Artifact
	Text     string
	Final    bool
}

// ImagePayload builds the final image delivery for a job.
func ImagePayload(jobID string, artifact domain.Artifact, caption string) Payload {
	return Payload{JobID: jobID, Kind: KindImage, Artifact: &artifact, Text: caption, Final: true}
}

// TextPayload builds an intermediate text delivery. jobID may be empty.
func TextPayload(jobID, text string) Payload {
	return Payload{JobID: jobID, Kind: KindText, Text: text}
}

// ErrorPayload builds the final text delivery of a failed job.
func ErrorPayload(jobID, text string) Payload {
	return Payload{JobID: jobID, Kind: KindText, Text: text, Final: true}
}

// Sink delivers payloads to users. Implementations must be safe for
// concurrent use.
type Sink interface {
	Deliver(ctx context.Context, userID string, payload Payload) error
}

// SinkFunc adapts a function to the Sink interface.
type SinkFunc func(ctx context.Context, userID string, payload Payload) error

func (f SinkFunc) Deliver(ctx context.Context, userID string, payload Payload) error {
	return f(ctx, userID, payload)
}

// Event is the wire form of a delivery.
type Event struct {
	Event     string           `json:"event"`
	JobID     string           `json:"job_id,omitempty"`
	UserID    string           `json:"user_id"`
	Kind      PayloadKind      `json:"kind"`
	Text      string           `json:"text,omitempty"`
	Artifact  *domain.Artifact `json:"artifact,omitempty"`
	Final     bool             `json:"final"`
	Timestamp time.Time        `json:"ts"`
}

// Publisher is the subset of bus.Client used by NATSSink.
type Publisher interface {
	PublishJSON(subject string, v any) error
}

// NATSSink publishes deliveries as JSON events on <subject>.<user>.
type NATSSink struct {
	publisher Publisher
	subject   string
	now       func() time.Time
}

// NewNATSSink returns a sink publishing below subject.
func NewNATSSink(publisher Publisher, subject string) *NATSSink {
	subject = strings.TrimSuffix(strings.TrimSpace(subject), ".")
	if subject == "" {
		subject = "promptbot.deliveries"
	}
	return &NATSSink{publisher: publisher, subject: subject, now: time.Now}
}

// SubjectFor returns the subject a user's deliveries are published on.
func (s *NATSSink) SubjectFor(userID string) string {
	return s.subject + "." + subjectToken(userID)
}

func (s *NATSSink) Deliver(ctx context.Context, userID string, payload Payload) error {
	if s == nil || s.publisher == nil {
		return errors.New("notify: nats publisher not configured")
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	evt := Event{
		Event:     "delivery",
		JobID:     payload.JobID,
		UserID:    userID,
		Kind:      payload.Kind,
		Text:      payload.Text,
		Artifact:  payload.Artifact,
		Final:     payload.Final,
		Timestamp: s.now().UTC(),
	}
	if err := s.publisher.PublishJSON(s.SubjectFor(userID), evt); err != nil {
		return fmt.Errorf("notify: publish: %w", err)
	}
	return nil
}

// subjectToken encodes a user id as one NATS subject token. The encoding is
// reversible, so distinct users never share a subject.
func subjectToken(userID string) string {
	if userID == "" {
		return "_"
	}
	return base64.RawURLEncoding.EncodeToString([]byte(userID))
}

// LogSink writes deliveries to the log. Useful when no bus is configured.
type LogSink struct {
	logger *infra.Logger
}

func NewLogSink(logger *infra.Logger) *LogSink {
	return &LogSink{logger: infra.OrDiscard(logger)}
}

func (s *LogSink) Deliver(ctx context.Context, userID string, payload Payload) error {
	evt := s.logger.Info().
		Str("user_id", userID).
		Str("job_id", payload.JobID).
		Str("kind", string(payload.Kind)).
		Bool("final", payload.Final)
	if payload.Artifact != nil {
		evt = evt.Str("storage_key", payload.Artifact.StorageKey).Str("mime", payload.Artifact.MIME)
	}
	evt.Str("text", payload.Text).Msg("delivery")
	return nil
}

// MultiSink fans a delivery out to every sink and joins their errors.
type MultiSink []Sink

func (m MultiSink) Deliver(ctx context.Context, userID string, payload Payload) error {
	var errs []error
	for _, s := range m {
		if s == nil {
			continue
		}
		if err := s.Deliver(ctx, userID, payload); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
