package intake

import (
	"context"
	"sync"
	"testing"

	"promptbot/internal/dispatch"
	"promptbot/internal/domain"
	"promptbot/internal/notify"
	"promptbot/internal/providers/image"
)

// memorySlots stands in for the JetStream bucket two workers share.
type memorySlots struct {
	mu      sync.Mutex
	holders map[string]string
}

func (m *memorySlots) Acquire(ctx context.Context, userID, jobID string) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if holder, ok := m.holders[userID]; ok {
		return holder, false, nil
	}
	m.holders[userID] = jobID
	return jobID, true, nil
}

func (m *memorySlots) Release(ctx context.Context, userID, jobID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.holders[userID] == jobID {
		delete(m.holders, userID)
	}
	return nil
}

func TestQueueWorkersShareUserSlot(t *testing.T) {
	block := make(chan struct{})
	backend := image.GeneratorFunc(func(ctx context.Context, req image.GenerateRequest) ([]image.Asset, error) {
		<-block
		return nil, ctx.Err()
	})
	sink := notify.SinkFunc(func(ctx context.Context, userID string, payload notify.Payload) error { return nil })
	slots := &memorySlots{holders: make(map[string]string)}

	var workers []*dispatch.Dispatcher
	var intakes []*NATSIntake
	for i := 0; i < 2; i++ {
		d, err := dispatch.New(dispatch.Deps{Backend: backend, Sink: sink, Admission: slots}, dispatch.Options{})
		if err != nil {
			t.Fatalf("dispatch.New: %v", err)
		}
		workers = append(workers, d)
		intakes = append(intakes, NewNATSIntake(d, "en", nil))
	}
	t.Cleanup(func() {
		close(block)
		for _, d := range workers {
			d.Wait()
		}
	})

	first, err := intakes[0].HandleMessage(context.Background(), []byte(`{"user_id":"u1","prompt":"cat"}`))
	if err != nil || !first.Admitted {
		t.Fatalf("first reply = %+v, %v", first, err)
	}
	second, err := intakes[1].HandleMessage(context.Background(), []byte(`{"user_id":"u1","prompt":"dog"}`))
	if err != nil {
		t.Fatalf("second HandleMessage: %v", err)
	}
	if second.Admitted || second.Error != "already_active" || second.JobID != first.JobID {
		t.Fatalf("second reply = %+v, want already_active for %s", second, first.JobID)
	}

	active := 0
	for _, d := range workers {
		if job, ok := d.Store().ActiveJobFor("u1"); ok {
			active++
			if job.Status != domain.JobStatusRunning {
				t.Fatalf("active job = %+v", job)
			}
		}
	}
	if active != 1 {
		t.Fatalf("u1 has %d active jobs across workers, want 1", active)
	}
}
