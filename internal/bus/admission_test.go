package bus

import (
	"context"
	"errors"
	"regexp"
	"sync"
	"testing"

	"github.com/nats-io/nats.go"
)

type memKV struct {
	mu      sync.Mutex
	entries map[string]memEntry
	rev     uint64
	getErr  error
}

type memEntry struct {
	value    []byte
	revision uint64
}

func newMemKV() *memKV { return &memKV{entries: make(map[string]memEntry)} }

func (m *memKV) create(key string, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.entries[key]; ok {
		return nats.ErrKeyExists
	}
	m.rev++
	m.entries[key] = memEntry{value: append([]byte(nil), value...), revision: m.rev}
	return nil
}

func (m *memKV) get(key string) ([]byte, uint64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.getErr != nil {
		return nil, 0, m.getErr
	}
	e, ok := m.entries[key]
	if !ok {
		return nil, 0, nats.ErrKeyNotFound
	}
	return e.value, e.revision, nil
}

func (m *memKV) deleteAt(key string, revision uint64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[key]
	if !ok || e.revision != revision {
		return errors.New("wrong last sequence")
	}
	delete(m.entries, key)
	return nil
}

func TestAdmissionSingleHolderPerUser(t *testing.T) {
	kv := newMemKV()
	workerA, workerB := &KVAdmission{kv: kv}, &KVAdmission{kv: kv}
	ctx := context.Background()

	if holder, ok, err := workerA.Acquire(ctx, "u1", "job-a"); err != nil || !ok || holder != "job-a" {
		t.Fatalf("first Acquire = %q, %v, %v", holder, ok, err)
	}
	holder, ok, err := workerB.Acquire(ctx, "u1", "job-b")
	if err != nil || ok || holder != "job-a" {
		t.Fatalf("second Acquire = %q, %v, %v; want held by job-a", holder, ok, err)
	}
	if _, ok, _ := workerB.Acquire(ctx, "u2", "job-c"); !ok {
		t.Fatal("other user blocked")
	}

	if err := workerB.Release(ctx, "u1", "job-b"); err != nil {
		t.Fatalf("Release by non-holder: %v", err)
	}
	if _, ok, _ := workerB.Acquire(ctx, "u1", "job-b"); ok {
		t.Fatal("non-holder release freed the slot")
	}

	if err := workerA.Release(ctx, "u1", "job-a"); err != nil {
		t.Fatalf("Release: %v", err)
	}
	if _, ok, _ := workerB.Acquire(ctx, "u1", "job-d"); !ok {
		t.Fatal("slot not freed by its holder")
	}
	if err := workerA.Release(ctx, "u9", "job-x"); err != nil {
		t.Fatalf("Release of free slot: %v", err)
	}
}

func TestAdmissionConcurrentAcquire(t *testing.T) {
	kv := newMemKV()
	var wg sync.WaitGroup
	var mu sync.Mutex
	winners := 0
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			a := &KVAdmission{kv: kv}
			if _, ok, err := a.Acquire(context.Background(), "u1", string(rune('a'+i))); err == nil && ok {
				mu.Lock()
				winners++
				mu.Unlock()
			}
		}(i)
	}
	wg.Wait()
	if winners != 1 {
		t.Fatalf("winners = %d, want 1", winners)
	}
}

func TestAdmissionReadError(t *testing.T) {
	kv := newMemKV()
	a := &KVAdmission{kv: kv}
	_, _, _ = a.Acquire(context.Background(), "u1", "job-a")
	kv.getErr = errors.New("timeout")
	if _, ok, err := a.Acquire(context.Background(), "u1", "job-b"); err == nil || ok {
		t.Fatalf("Acquire with broken bucket = %v, %v", ok, err)
	}
}

func TestAdmissionKeyIsValidAndDistinct(t *testing.T) {
	valid := regexp.MustCompile(`^[-/_=\.a-zA-Z0-9]+$`)
	seen := map[string]string{}
	for _, id := range []string{"alice.smith", "alice_smith", "a*b>c", "x y", "пользователь", "42"} {
		key := admissionKey(id)
		if !valid.MatchString(key) {
			t.Fatalf("admissionKey(%q) = %q is not a valid key", id, key)
		}
		if prev, dup := seen[key]; dup {
			t.Fatalf("%q and %q share key %q", prev, id, key)
		}
		seen[key] = id
	}
}
