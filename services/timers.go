package services

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/redis/go-redis/v9"
	"github.com/rotisserie/eris"
)

// KeyedTimers holds at most one delayed task per key.
type KeyedTimers struct {
	clock   clockwork.Clock
	mu      sync.Mutex
	entries map[string]*keyedTimer
	nextGen uint64
}

type keyedTimer struct {
	timer    clockwork.Timer
	gen      uint64
	deadline time.Time
}

func NewKeyedTimers(clock clockwork.Clock) *KeyedTimers {
	return &KeyedTimers{clock: clock, entries: map[string]*keyedTimer{}}
}

// ScheduleIfAbsent arms fn after d unless key already has a pending task.
func (k *KeyedTimers) ScheduleIfAbsent(key string, d time.Duration, fn func()) bool {
	k.mu.Lock()
	defer k.mu.Unlock()
	if _, ok := k.entries[key]; ok {
		return false
	}
	k.arm(key, d, fn)
	return true
}

// Schedule arms fn after d, replacing any pending task for key.
func (k *KeyedTimers) Schedule(key string, d time.Duration, fn func()) {
	k.mu.Lock()
	defer k.mu.Unlock()
	if e, ok := k.entries[key]; ok {
		e.timer.Stop()
		delete(k.entries, key)
	}
	k.arm(key, d, fn)
}

// Cancel stops the pending task for key. It reports whether one was pending.
func (k *KeyedTimers) Cancel(key string) bool {
	k.mu.Lock()
	defer k.mu.Unlock()
	e, ok := k.entries[key]
	if !ok {
		return false
	}
	e.timer.Stop()
	delete(k.entries, key)
	return true
}

func (k *KeyedTimers) Pending(key string) bool {
	k.mu.Lock()
	defer k.mu.Unlock()
	_, ok := k.entries[key]
	return ok
}

// Deadline returns when the pending task for key fires.
func (k *KeyedTimers) Deadline(key string) (time.Time, bool) {
	k.mu.Lock()
	defer k.mu.Unlock()
	e, ok := k.entries[key]
	if !ok {
		return time.Time{}, false
	}
	return e.deadline, true
}

// arm must be called with mu held.
func (k *KeyedTimers) arm(key string, d time.Duration, fn func()) {
	// Never zero: the callback takes mu, which the caller is holding.
	if d < time.Millisecond {
		d = time.Millisecond
	}
	k.nextGen++
	gen := k.nextGen
	entry := &keyedTimer{gen: gen, deadline: k.clock.Now().Add(d)}
	entry.timer = k.clock.AfterFunc(d, func() {
		k.mu.Lock()
		cur, ok := k.entries[key]
		stale := !ok || cur.gen != gen
		k.mu.Unlock()
		if stale {
			return
		}
		defer func() {
			k.mu.Lock()
			if cur, ok := k.entries[key]; ok && cur.gen == gen {
				delete(k.entries, key)
			}
			k.mu.Unlock()
		}()
		fn()
	})
	k.entries[key] = entry
}

// PendingFinalize is a persisted finalize timer.
type PendingFinalize struct {
	MatchID  string    `json:"match_id"`
	Deadline time.Time `json:"deadline"`
}

// TimerRegistry persists pending finalize timers so a restart can re-arm them.
type TimerRegistry interface {
	Save(ctx context.Context, seasonID string, p PendingFinalize) error
	Delete(ctx context.Context, seasonID string) error
	List(ctx context.Context) (map[string]PendingFinalize, error)
}

const DefaultTimerRegistryKey = "tournament:finalize_timers"

// RedisTimerRegistry stores pending timers in one hash, field = season id.
type RedisTimerRegistry struct {
	client *redis.Client
	key    string
}

func NewRedisTimerRegistry(client *redis.Client, key string) *RedisTimerRegistry {
	if key == "" {
		key = DefaultTimerRegistryKey
	}
	return &RedisTimerRegistry{client: client, key: key}
}

func (r *RedisTimerRegistry) Save(ctx context.Context, seasonID string, p PendingFinalize) error {
	b, err := json.Marshal(p)
	if err != nil {
		return eris.Wrap(err, "marshal pending finalize")
	}
	if err := r.client.HSet(ctx, r.key, seasonID, b).Err(); err != nil {
		return eris.Wrapf(err, "save finalize timer for %s", seasonID)
	}
	return nil
}

func (r *RedisTimerRegistry) Delete(ctx context.Context, seasonID string) error {
	if err := r.client.HDel(ctx, r.key, seasonID).Err(); err != nil {
		return eris.Wrapf(err, "delete finalize timer for %s", seasonID)
	}
	return nil
}

func (r *RedisTimerRegistry) List(ctx context.Context) (map[string]PendingFinalize, error) {
	raw, err := r.client.HGetAll(ctx, r.key).Result()
	if err != nil {
		return nil, eris.Wrap(err, "list finalize timers")
	}
	out := make(map[string]PendingFinalize, len(raw))
	for seasonID, v := range raw {
		var p PendingFinalize
		if err := json.Unmarshal([]byte(v), &p); err != nil {
			return nil, eris.Wrapf(err, "decode finalize timer for %s", seasonID)
		}
		out[seasonID] = p
	}
	return out, nil
}

// NoopTimerRegistry keeps nothing; timers are lost on restart.
type NoopTimerRegistry struct{}

func (NoopTimerRegistry) Save(context.Context, string, PendingFinalize) error { return nil }
func (NoopTimerRegistry) Delete(context.Context, string) error                { return nil }
func (NoopTimerRegistry) List(context.Context) (map[string]PendingFinalize, error) {
	return map[string]PendingFinalize{}, nil
}
