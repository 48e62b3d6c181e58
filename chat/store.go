package chat

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/nats-io/nats.go/jetstream"
)

// ActivityBucket is the default KV bucket for stream activity.
const ActivityBucket = "CHAT_ACTIVITY"

// maxUpdateAttempts bounds optimistic-concurrency retries in Update.
const maxUpdateAttempts = 5

// ErrActivityNotFound is returned when a stream has no activity record.
var ErrActivityNotFound = errors.New("activity not found")

// ActivityStore persists Activity records keyed by stream ID.
type ActivityStore struct {
	bucket jetstream.KeyValue
	now    func() time.Time
}

// NewActivityStore creates or opens the activity bucket.
func NewActivityStore(ctx context.Context, js jetstream.JetStream, bucket string) (*ActivityStore, error) {
	if bucket == "" {
		bucket = ActivityBucket
	}
	kv, err := js.CreateOrUpdateKeyValue(ctx, jetstream.KeyValueConfig{
		Bucket:      bucket,
		Description: "Per-stream chat activity for proactive thinking",
		TTL:         30 * 24 * time.Hour,
	})
	if err != nil {
		return nil, fmt.Errorf("create/update kv bucket: %w", err)
	}
	return NewActivityStoreFromKV(kv), nil
}

// NewActivityStoreFromKV wraps an existing bucket.
func NewActivityStoreFromKV(kv jetstream.KeyValue) *ActivityStore {
	return &ActivityStore{bucket: kv, now: time.Now}
}

// activityKey encodes a stream ID as a valid KV key; stream IDs carry
// characters such as ':' that keys do not allow.
func activityKey(streamID string) string {
	return base64.RawURLEncoding.EncodeToString([]byte(streamID))
}

// Get returns the activity for streamID.
func (s *ActivityStore) Get(ctx context.Context, streamID string) (*Activity, error) {
	a, _, err := s.get(ctx, streamID)
	return a, err
}

func (s *ActivityStore) get(ctx context.Context, streamID string) (*Activity, uint64, error) {
	entry, err := s.bucket.Get(ctx, activityKey(streamID))
	if err != nil {
		if errors.Is(err, jetstream.ErrKeyNotFound) {
			return nil, 0, fmt.Errorf("%w: %s", ErrActivityNotFound, streamID)
		}
		return nil, 0, fmt.Errorf("get activity: %w", err)
	}

	var a Activity
	if err := json.Unmarshal(entry.Value(), &a); err != nil {
		return nil, 0, fmt.Errorf("unmarshal activity: %w", err)
	}
	return &a, entry.Revision(), nil
}

// Put stores a unconditionally.
func (s *ActivityStore) Put(ctx context.Context, a *Activity) error {
	if a.StreamID == "" {
		return errors.New("activity stream_id is required")
	}
	a.UpdatedAt = s.now().UTC()

	data, err := json.Marshal(a)
	if err != nil {
		return fmt.Errorf("marshal activity: %w", err)
	}
	if _, err := s.bucket.Put(ctx, activityKey(a.StreamID), data); err != nil {
		return fmt.Errorf("put activity: %w", err)
	}
	return nil
}

// Update applies fn to the stream's activity and writes it back only if no
// one else wrote in between, retrying on conflict. A missing record starts
// empty. If fn returns an error nothing is written.
func (s *ActivityStore) Update(ctx context.Context, streamID string, fn func(*Activity) error) (*Activity, error) {
	key := activityKey(streamID)

	var lastErr error
	for attempt := 0; attempt < maxUpdateAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		a, rev, err := s.get(ctx, streamID)
		switch {
		case errors.Is(err, ErrActivityNotFound):
			a = &Activity{StreamID: streamID}
		case err != nil:
			return nil, err
		}

		if err := fn(a); err != nil {
			return nil, err
		}
		a.StreamID = streamID
		a.UpdatedAt = s.now().UTC()

		data, err := json.Marshal(a)
		if err != nil {
			return nil, fmt.Errorf("marshal activity: %w", err)
		}

		if rev == 0 {
			_, err = s.bucket.Create(ctx, key, data)
		} else {
			_, err = s.bucket.Update(ctx, key, data, rev)
		}
		if err == nil {
			return a, nil
		}
		lastErr = err
	}
	return nil, fmt.Errorf("update activity %s: %w", streamID, lastErr)
}

// List returns every activity record ordered by stream ID. Records that fail
// to decode are skipped.
func (s *ActivityStore) List(ctx context.Context) ([]*Activity, error) {
	keys, err := s.bucket.Keys(ctx)
	if err != nil {
		if errors.Is(err, jetstream.ErrNoKeysFound) {
			return []*Activity{}, nil
		}
		return nil, fmt.Errorf("list keys: %w", err)
	}

	out := make([]*Activity, 0, len(keys))
	for _, key := range keys {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		entry, err := s.bucket.Get(ctx, key)
		if err != nil {
			continue
		}
		var a Activity
		if err := json.Unmarshal(entry.Value(), &a); err != nil {
			continue
		}
		out = append(out, &a)
	}

	sort.Slice(out, func(i, j int) bool { return out[i].StreamID < out[j].StreamID })
	return out, nil
}

// Delete removes the stream's record.
func (s *ActivityStore) Delete(ctx context.Context, streamID string) error {
	if err := s.bucket.Delete(ctx, activityKey(streamID)); err != nil {
		return fmt.Errorf("delete activity: %w", err)
	}
	return nil
}
