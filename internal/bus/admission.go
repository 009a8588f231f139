package bus

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
)

const acquireAttempts = 3

// kvStore is the part of a JetStream key-value bucket admission needs.
type kvStore interface {
	create(key string, value []byte) error
	get(key string) (value []byte, revision uint64, err error)
	deleteAt(key string, revision uint64) error
}

type natsKV struct{ kv nats.KeyValue }

func (n natsKV) create(key string, value []byte) error {
	_, err := n.kv.Create(key, value)
	return err
}

func (n natsKV) get(key string) ([]byte, uint64, error) {
	entry, err := n.kv.Get(key)
	if err != nil {
		return nil, 0, err
	}
	return entry.Value(), entry.Revision(), nil
}

func (n natsKV) deleteAt(key string, revision uint64) error {
	return n.kv.Delete(key, nats.LastRevision(revision))
}

// KVAdmission holds one key per user with an active job in a JetStream
// key-value bucket, so every dispatcher on the bus sees the same slots.
// The bucket TTL frees slots left behind by a crashed process.
type KVAdmission struct {
	kv kvStore
}

// Admission binds to bucket, creating it with ttl when it does not exist.
func (c *Client) Admission(bucket string, ttl time.Duration) (*KVAdmission, error) {
	js, err := c.nc.JetStream()
	if err != nil {
		return nil, fmt.Errorf("bus: jetstream: %w", err)
	}
	kv, err := js.KeyValue(bucket)
	if errors.Is(err, nats.ErrBucketNotFound) {
		kv, err = js.CreateKeyValue(&nats.KeyValueConfig{
			Bucket:      bucket,
			Description: "active generation job per user",
			TTL:         ttl,
		})
	}
	if err != nil {
		return nil, fmt.Errorf("bus: admission bucket %s: %w", bucket, err)
	}
	return &KVAdmission{kv: natsKV{kv: kv}}, nil
}

// Acquire claims userID's slot for jobID. When another job holds it, ok is
// false and holder is that job's id.
func (a *KVAdmission) Acquire(ctx context.Context, userID, jobID string) (holder string, ok bool, err error) {
	key := admissionKey(userID)
	for i := 0; i < acquireAttempts; i++ {
		if err := ctx.Err(); err != nil {
			return "", false, err
		}
		err := a.kv.create(key, []byte(jobID))
		if err == nil {
			return jobID, true, nil
		}
		if !errors.Is(err, nats.ErrKeyExists) {
			return "", false, fmt.Errorf("bus: acquire %s: %w", userID, err)
		}
		value, _, err := a.kv.get(key)
		switch {
		case err == nil:
			return string(value), false, nil
		case errors.Is(err, nats.ErrKeyNotFound):
			// released between create and get
			continue
		default:
			return "", false, fmt.Errorf("bus: read holder of %s: %w", userID, err)
		}
	}
	return "", false, fmt.Errorf("bus: acquire %s: slot kept changing hands", userID)
}

// Release frees userID's slot if jobID still holds it.
func (a *KVAdmission) Release(ctx context.Context, userID, jobID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	key := admissionKey(userID)
	value, revision, err := a.kv.get(key)
	if errors.Is(err, nats.ErrKeyNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("bus: release %s: %w", userID, err)
	}
	if string(value) != jobID {
		return nil
	}
	if err := a.kv.deleteAt(key, revision); err != nil {
		return fmt.Errorf("bus: release %s: %w", userID, err)
	}
	return nil
}

// admissionKey encodes any user id into the key alphabet JetStream accepts.
func admissionKey(userID string) string {
	return "user." + base64.RawURLEncoding.EncodeToString([]byte(userID))
}
