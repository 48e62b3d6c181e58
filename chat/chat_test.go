package chat

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"
	"unicode"

	"github.com/nats-io/nats.go/jetstream"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// memKV is an in-memory jetstream.KeyValue covering the calls ActivityStore makes.
type memKV struct {
	jetstream.KeyValue

	mu       sync.Mutex
	data     map[string][]byte
	revs     map[string]uint64
	seq      uint64
	conflict int // fail this many Create/Update calls with a revision error
}

func newMemKV() *memKV {
	return &memKV{data: map[string][]byte{}, revs: map[string]uint64{}}
}

type memEntry struct {
	jetstream.KeyValueEntry
	key   string
	value []byte
	rev   uint64
}

func (e memEntry) Key() string      { return e.key }
func (e memEntry) Value() []byte    { return e.value }
func (e memEntry) Revision() uint64 { return e.rev }

var errWrongRevision = errors.New("wrong last sequence")

func (m *memKV) Get(_ context.Context, key string) (jetstream.KeyValueEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.data[key]
	if !ok {
		return nil, jetstream.ErrKeyNotFound
	}
	return memEntry{key: key, value: v, rev: m.revs[key]}, nil
}

func (m *memKV) put(key string, value []byte) uint64 {
	m.seq++
	m.data[key] = append([]byte(nil), value...)
	m.revs[key] = m.seq
	return m.seq
}

func (m *memKV) Put(_ context.Context, key string, value []byte) (uint64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.put(key, value), nil
}

func (m *memKV) Create(_ context.Context, key string, value []byte, _ ...jetstream.KVCreateOpt) (uint64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.conflict > 0 {
		m.conflict--
		return 0, jetstream.ErrKeyExists
	}
	if _, ok := m.data[key]; ok {
		return 0, jetstream.ErrKeyExists
	}
	return m.put(key, value), nil
}

func (m *memKV) Update(_ context.Context, key string, value []byte, rev uint64) (uint64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.conflict > 0 {
		m.conflict--
		return 0, errWrongRevision
	}
	if m.revs[key] != rev {
		return 0, errWrongRevision
	}
	return m.put(key, value), nil
}

func (m *memKV) Keys(_ context.Context, _ ...jetstream.WatchOpt) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.data) == 0 {
		return nil, jetstream.ErrNoKeysFound
	}
	keys := make([]string, 0, len(m.data))
	for k := range m.data {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys, nil
}

func (m *memKV) Delete(_ context.Context, key string, _ ...jetstream.KVDeleteOpt) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, key)
	delete(m.revs, key)
	return nil
}

func msgAt(stream, user string, at time.Time, bot bool) *MessageEvent {
	return &MessageEvent{StreamID: stream, Platform: "qq", UserID: user, Content: "hi from " + user, IsBot: bot, Timestamp: at}
}

func TestMessageEvent_Validate(t *testing.T) {
	now := time.Now()
	assert.NoError(t, msgAt("qq:group:1", "u", now, false).Validate())
	assert.Error(t, (&MessageEvent{Timestamp: now}).Validate())
	assert.Error(t, (&MessageEvent{StreamID: "s"}).Validate())
	assert.Equal(t, MessageType, (&MessageEvent{}).Schema())
}

func TestMessageEvent_Speaker(t *testing.T) {
	assert.Equal(t, "Ann", (&MessageEvent{UserID: "1", UserName: "Ann"}).Speaker())
	assert.Equal(t, "1", (&MessageEvent{UserID: "1"}).Speaker())
}

func TestSubjectToken(t *testing.T) {
	assert.Equal(t, "qq_group_123", SubjectToken("qq:group:123"))
	assert.Equal(t, "a_b_c_d", SubjectToken("a.b*c>d"))

	tests := []struct {
		in   string
		want string
	}{
		{"tg:chat 9", "tg_chat_9"},
		{"room\tone", "room_one"},
		{"room\none\r", "room_one_"},
		{"wide\u3000space", "wide_space"},
		{"nbsp\u00a0id", "nbsp_id"},
		{"bell\x07", "bell_"},
		{"群聊:42", "群聊_42"},
	}
	for _, tt := range tests {
		got := SubjectToken(tt.in)
		assert.Equal(t, tt.want, got, "stream %q", tt.in)
		assert.False(t, strings.ContainsFunc(got, unicode.IsSpace), "token %q has whitespace", got)
	}
}

func TestActivity_Observe(t *testing.T) {
	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	var a Activity

	for i := 0; i < 5; i++ {
		a.Observe(msgAt("s", string(rune('a'+i)), base.Add(time.Duration(i)*time.Minute), false), 3)
	}
	assert.Equal(t, "s", a.StreamID)
	assert.Equal(t, "qq", a.Platform)
	assert.EqualValues(t, 5, a.MessageCount)
	require.Len(t, a.Recent, 3)
	assert.Equal(t, "c", a.Recent[0].Speaker)
	assert.Equal(t, "e", a.LastSpeaker)
	assert.Equal(t, base.Add(4*time.Minute), a.LastMessageAt)

	// A late-arriving older message does not rewind the clock.
	a.Observe(msgAt("s", "late", base, false), 3)
	assert.Equal(t, "e", a.LastSpeaker)
	assert.Equal(t, base.Add(4*time.Minute), a.LastMessageAt)

	a.Observe(msgAt("s", "bot", base.Add(5*time.Minute), true), 3)
	assert.True(t, a.LastFromBot)

	a.Observe(msgAt("s", "x", base.Add(6*time.Minute), false), 0)
	assert.Empty(t, a.Recent)
	assert.Equal(t, 4*time.Minute, a.SilentFor(base.Add(10*time.Minute)))
}

func TestActivity_Thoughts(t *testing.T) {
	loc := time.FixedZone("UTC+8", 8*3600)
	day1 := time.Date(2026, 3, 1, 15, 0, 0, 0, time.UTC) // 23:00 local
	var a Activity

	assert.Zero(t, a.SilentFor(day1))
	assert.False(t, a.DecidedSinceLastMessage())

	a.RecordThought(day1, loc)
	a.RecordThought(day1.Add(30*time.Minute), loc)
	assert.Equal(t, 2, a.ThoughtsOn(day1, loc))

	// 00:30 local the next day resets the counter.
	day2 := day1.Add(90 * time.Minute)
	assert.Equal(t, 0, a.ThoughtsOn(day2, loc))
	a.RecordThought(day2, loc)
	assert.Equal(t, 1, a.ThoughtsOn(day2, loc))
	assert.Equal(t, day2, a.LastThoughtAt)

	a.LastMessageAt = day2.Add(time.Minute)
	assert.False(t, a.DecidedSinceLastMessage())
	a.RecordDecision(day2.Add(2 * time.Minute))
	assert.True(t, a.DecidedSinceLastMessage())
}

func TestActivityStore(t *testing.T) {
	ctx := context.Background()
	kv := newMemKV()
	store := NewActivityStoreFromKV(kv)

	list, err := store.List(ctx)
	require.NoError(t, err)
	assert.Empty(t, list)

	_, err = store.Get(ctx, "qq:group:1")
	assert.ErrorIs(t, err, ErrActivityNotFound)

	now := time.Now().UTC()
	a, err := store.Update(ctx, "qq:group:1", func(a *Activity) error {
		a.Observe(msgAt("qq:group:1", "u1", now, false), 10)
		return nil
	})
	require.NoError(t, err)
	assert.EqualValues(t, 1, a.MessageCount)

	a, err = store.Update(ctx, "qq:group:1", func(a *Activity) error {
		a.Observe(msgAt("qq:group:1", "u2", now.Add(time.Second), false), 10)
		return nil
	})
	require.NoError(t, err)
	assert.EqualValues(t, 2, a.MessageCount)

	require.NoError(t, store.Put(ctx, &Activity{StreamID: "tg:chat.9"}))
	assert.Error(t, store.Put(ctx, &Activity{}))

	list, err = store.List(ctx)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "qq:group:1", list[0].StreamID)
	assert.Equal(t, "tg:chat.9", list[1].StreamID)

	got, err := store.Get(ctx, "qq:group:1")
	require.NoError(t, err)
	assert.Equal(t, "u2", got.LastSpeaker)
	assert.False(t, got.UpdatedAt.IsZero())

	require.NoError(t, store.Delete(ctx, "tg:chat.9"))
	list, err = store.List(ctx)
	require.NoError(t, err)
	assert.Len(t, list, 1)
}

func TestActivityStore_UpdateRetriesConflicts(t *testing.T) {
	ctx := context.Background()
	kv := newMemKV()
	store := NewActivityStoreFromKV(kv)

	calls := 0
	kv.conflict = 2
	a, err := store.Update(ctx, "s", func(a *Activity) error {
		calls++
		a.ThoughtsToday++
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
	assert.Equal(t, 1, a.ThoughtsToday)

	kv.conflict = maxUpdateAttempts
	_, err = store.Update(ctx, "s", func(*Activity) error { return nil })
	assert.ErrorIs(t, err, errWrongRevision)
}

func TestActivityStore_UpdateAbortsOnCallbackError(t *testing.T) {
	ctx := context.Background()
	kv := newMemKV()
	store := NewActivityStoreFromKV(kv)

	boom := errors.New("boom")
	_, err := store.Update(ctx, "s", func(*Activity) error { return boom })
	assert.ErrorIs(t, err, boom)

	_, err = store.Get(ctx, "s")
	assert.ErrorIs(t, err, ErrActivityNotFound)
}
