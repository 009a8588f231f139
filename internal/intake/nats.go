// Package intake accepts prompts from the message bus.
package intake

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"

	"promptbot/internal/bus"
	"promptbot/internal/dispatch"
	"promptbot/internal/domain"
	"promptbot/internal/infra"
)

// Submitter is implemented by dispatch.Dispatcher.
type Submitter interface {
	Submit(ctx context.Context, req dispatch.Request) (dispatch.Submission, error)
}

// Message is the JSON body published on the request subject.
type Message struct {
	UserID string `json:"user_id"`
	Prompt string `json:"prompt"`
	Locale string `json:"locale,omitempty"`
}

// Reply answers request-reply publishers.
type Reply struct {
	JobID    string           `json:"job_id,omitempty"`
	Status   domain.JobStatus `json:"status,omitempty"`
	Admitted bool             `json:"admitted"`
	Error    string           `json:"error,omitempty"`
}

// Subscriber is the subset of bus.Client used to join the request queue.
type Subscriber interface {
	QueueSubscribeJSON(subject, queue string, timeout time.Duration, handler bus.Handler) (*nats.Subscription, error)
}

// NATSIntake feeds bus messages into the dispatcher.
type NATSIntake struct {
	submitter     Submitter
	defaultLocale string
	logger        *infra.Logger
}

func NewNATSIntake(submitter Submitter, defaultLocale string, logger *infra.Logger) *NATSIntake {
	return &NATSIntake{submitter: submitter, defaultLocale: defaultLocale, logger: infra.OrDiscard(logger)}
}

// Subscribe joins queue on subject so several dispatchers share the load.
func (i *NATSIntake) Subscribe(sub Subscriber, subject, queue string) (*nats.Subscription, error) {
	s, err := sub.QueueSubscribeJSON(subject, queue, 10*time.Second, func(ctx context.Context, data []byte) any {
		reply, err := i.HandleMessage(ctx, data)
		if err != nil {
			i.logger.Warn().Err(err).Str("subject", subject).Msg("intake: request rejected")
		}
		return reply
	})
	if err != nil {
		return nil, fmt.Errorf("intake: subscribe %s: %w", subject, err)
	}
	i.logger.Info().Str("subject", subject).Str("queue", queue).Msg("intake: listening for requests")
	return s, nil
}

// HandleMessage decodes one request and submits it. The returned Reply is
// always populated, including on error.
func (i *NATSIntake) HandleMessage(ctx context.Context, data []byte) (Reply, error) {
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		return Reply{Error: "invalid_payload"}, fmt.Errorf("intake: decode message: %w", err)
	}
	locale := msg.Locale
	if locale == "" {
		locale = i.defaultLocale
	}
	sub, err := i.submitter.Submit(ctx, dispatch.Request{UserID: msg.UserID, Prompt: msg.Prompt, Locale: locale})
	if err != nil {
		code := "internal_error"
		switch {
		case errors.Is(err, domain.ErrInvalidPrompt):
			code = "invalid_prompt"
		case errors.Is(err, dispatch.ErrClosed):
			code = "unavailable"
		}
		return Reply{Error: code}, err
	}
	reply := Reply{JobID: sub.Job.ID, Status: sub.Job.Status, Admitted: sub.Admitted}
	if !sub.Admitted {
		reply.Error = "already_active"
	}
	return reply, nil
}
