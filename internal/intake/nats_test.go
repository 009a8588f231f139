package intake

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/nats-io/nats.go"

	"promptbot/internal/bus"
	"promptbot/internal/dispatch"
	"promptbot/internal/domain"
)

type stubSubmitter struct {
	got dispatch.Request
	sub dispatch.Submission
	err error
}

func (s *stubSubmitter) Submit(ctx context.Context, req dispatch.Request) (dispatch.Submission, error) {
	s.got = req
	return s.sub, s.err
}

type stubSubscriber struct {
	subject, queue string
	handler        bus.Handler
}

func (s *stubSubscriber) QueueSubscribeJSON(subject, queue string, timeout time.Duration, handler bus.Handler) (*nats.Subscription, error) {
	s.subject, s.queue, s.handler = subject, queue, handler
	return &nats.Subscription{}, nil
}

func TestHandleMessageAdmitted(t *testing.T) {
	sub := &stubSubmitter{sub: dispatch.Submission{Admitted: true, Job: domain.Job{ID: "job-1", Status: domain.JobStatusRunning}}}
	in := NewNATSIntake(sub, "id", nil)

	reply, err := in.HandleMessage(context.Background(), []byte(`{"user_id":"u1","prompt":"cat"}`))
	if err != nil {
		t.Fatalf("HandleMessage: %v", err)
	}
	if reply.JobID != "job-1" || !reply.Admitted || reply.Status != domain.JobStatusRunning || reply.Error != "" {
		t.Fatalf("reply = %+v", reply)
	}
	if sub.got.UserID != "u1" || sub.got.Prompt != "cat" || sub.got.Locale != "id" {
		t.Fatalf("request = %+v", sub.got)
	}
}

func TestHandleMessageAlreadyActive(t *testing.T) {
	sub := &stubSubmitter{sub: dispatch.Submission{Admitted: false, Job: domain.Job{ID: "job-1", Status: domain.JobStatusRunning}}}
	reply, err := NewNATSIntake(sub, "en", nil).HandleMessage(context.Background(), []byte(`{"user_id":"u1","prompt":"dog","locale":"en"}`))
	if err != nil {
		t.Fatalf("HandleMessage: %v", err)
	}
	if reply.Admitted || reply.JobID != "job-1" || reply.Error != "already_active" {
		t.Fatalf("reply = %+v", reply)
	}
}

func TestHandleMessageErrors(t *testing.T) {
	tests := []struct {
		name string
		data string
		err  error
		code string
	}{
		{"bad json", `{`, nil, "invalid_payload"},
		{"invalid prompt", `{"user_id":"u1"}`, domain.ErrInvalidPrompt, "invalid_prompt"},
		{"closed", `{"user_id":"u1","prompt":"cat"}`, dispatch.ErrClosed, "unavailable"},
		{"other", `{"user_id":"u1","prompt":"cat"}`, errors.New("boom"), "internal_error"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			reply, err := NewNATSIntake(&stubSubmitter{err: tc.err}, "en", nil).HandleMessage(context.Background(), []byte(tc.data))
			if err == nil {
				t.Fatal("expected error")
			}
			if reply.Error != tc.code {
				t.Fatalf("code = %q, want %q", reply.Error, tc.code)
			}
		})
	}
}

func TestSubscribeWiresHandler(t *testing.T) {
	sub := &stubSubmitter{sub: dispatch.Submission{Admitted: true, Job: domain.Job{ID: "job-7"}}}
	subscriber := &stubSubscriber{}
	if _, err := NewNATSIntake(sub, "en", nil).Subscribe(subscriber, "promptbot.requests", "workers"); err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	if subscriber.subject != "promptbot.requests" || subscriber.queue != "workers" {
		t.Fatalf("subscribed to %s/%s", subscriber.subject, subscriber.queue)
	}
	reply, ok := subscriber.handler(context.Background(), []byte(`{"user_id":"u1","prompt":"cat"}`)).(Reply)
	if !ok || reply.JobID != "job-7" {
		t.Fatalf("handler reply = %+v", reply)
	}
}
