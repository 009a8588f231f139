package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/nats-io/nats.go"

	"promptbot/internal/bus"
	"promptbot/internal/intake"
	"promptbot/internal/notify"
)

func main() {
	var (
		natsFlag     string
		requestFlag  string
		deliveryFlag string
		userFlag     string
		promptFlag   string
		localeFlag   string
		waitFlag     time.Duration
	)

	flag.StringVar(&natsFlag, "nats", envOr("NATS_URL", nats.DefaultURL), "NATS server URL")
	flag.StringVar(&requestFlag, "subject", envOr("REQUEST_SUBJECT", "promptbot.requests"), "subject prompts are published on")
	flag.StringVar(&deliveryFlag, "deliveries", envOr("DELIVERY_SUBJECT", "promptbot.deliveries"), "subject prefix deliveries are published on")
	flag.StringVar(&userFlag, "user", "", "user id to submit as")
	flag.StringVar(&promptFlag, "prompt", "", "text prompt to render")
	flag.StringVar(&localeFlag, "locale", "", "locale for user-facing messages (en, id)")
	flag.DurationVar(&waitFlag, "wait", 3*time.Minute, "how long to wait for the final delivery (0 to not wait)")
	flag.Parse()

	user := strings.TrimSpace(userFlag)
	prompt := strings.TrimSpace(promptFlag)
	if prompt == "" && flag.NArg() > 0 {
		prompt = strings.TrimSpace(strings.Join(flag.Args(), " "))
	}
	if user == "" {
		exitWithError(errors.New("-user is required"))
	}
	if prompt == "" {
		exitWithError(errors.New("-prompt is required"))
	}

	client, err := bus.Connect(natsFlag, "promptctl")
	if err != nil {
		exitWithError(fmt.Errorf("connect to NATS: %w", err))
	}
	defer client.Close()

	deliveries := make(chan notify.Event, 8)
	subject := notify.NewNATSSink(nil, deliveryFlag).SubjectFor(user)
	sub, err := client.Conn().Subscribe(subject, func(msg *nats.Msg) {
		var evt notify.Event
		if err := json.Unmarshal(msg.Data, &evt); err != nil {
			return
		}
		select {
		case deliveries <- evt:
		default:
		}
	})
	if err != nil {
		exitWithError(fmt.Errorf("subscribe %s: %w", subject, err))
	}
	defer sub.Unsubscribe()

	body, _ := json.Marshal(intake.Message{UserID: user, Prompt: prompt, Locale: localeFlag})
	msg, err := client.Conn().Request(requestFlag, body, 10*time.Second)
	if err != nil {
		exitWithError(fmt.Errorf("submit request: %w", err))
	}
	var reply intake.Reply
	if err := json.Unmarshal(msg.Data, &reply); err != nil {
		exitWithError(fmt.Errorf("decode reply: %w", err))
	}
	if reply.Error != "" && reply.Error != "already_active" {
		exitWithError(fmt.Errorf("request rejected: %s", reply.Error))
	}
	fmt.Printf("job %s (%s) admitted=%t\n", reply.JobID, reply.Status, reply.Admitted)
	if !reply.Admitted || waitFlag <= 0 {
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	ctx, cancel := context.WithTimeout(ctx, waitFlag)
	defer cancel()

	for {
		select {
		case evt := <-deliveries:
			// notices for other submissions, such as an already-active rejection, carry no job id
			if evt.JobID != reply.JobID {
				continue
			}
			printEvent(evt)
			if evt.Final {
				return
			}
		case <-ctx.Done():
			exitWithError(fmt.Errorf("waiting for job %s: %w", reply.JobID, ctx.Err()))
		}
	}
}

func printEvent(evt notify.Event) {
	switch {
	case evt.Artifact != nil:
		fmt.Printf("[%s] image %s %dx%d %s\n", evt.Kind, evt.Artifact.StorageKey, evt.Artifact.Width, evt.Artifact.Height, evt.Text)
	default:
		fmt.Printf("[%s] %s\n", evt.Kind, evt.Text)
	}
}

func envOr(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}

func exitWithError(err error) {
	fmt.Fprintf(os.Stderr, "promptctl: %v\n", err)
	os.Exit(1)
}
