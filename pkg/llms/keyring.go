package llms

import (
	"fmt"
	"sync"
	"time"

	"github.com/lks21c/hdsp-agent/pkg/config"
)

// ErrNoUsableKeys is returned when every key is disabled or cooling down.
var ErrNoUsableKeys = fmt.Errorf("no usable API keys")

// Keyring rotates over a pool of Gemini API keys. Keys that hit rate limits
// are placed in a cooldown and skipped until it expires; keys rejected for
// authorization are disabled for the life of the ring.
type Keyring struct {
	mu       sync.Mutex
	keys     []config.GeminiKey
	next     int
	cooldown map[string]time.Time
	disabled map[string]bool

	now func() time.Time
}

// NewKeyring creates a ring over the given keys.
func NewKeyring(keys []config.GeminiKey) *Keyring {
	return &Keyring{
		keys:     append([]config.GeminiKey(nil), keys...),
		cooldown: make(map[string]time.Time),
		disabled: make(map[string]bool),
		now:      time.Now,
	}
}

// Next returns the next usable key in round-robin order.
func (r *Keyring) Next() (config.GeminiKey, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	n := len(r.keys)
	if n == 0 {
		return config.GeminiKey{}, ErrNoUsableKeys
	}

	now := r.now()
	for i := 0; i < n; i++ {
		key := r.keys[(r.next+i)%n]
		if !key.Enabled || r.disabled[key.ID] {
			continue
		}
		if until, ok := r.cooldown[key.ID]; ok && now.Before(until) {
			continue
		}
		r.next = (r.next + i + 1) % n
		return key, nil
	}

	return config.GeminiKey{}, ErrNoUsableKeys
}

// Cooldown parks a key until the given duration elapses.
func (r *Keyring) Cooldown(id string, d time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cooldown[id] = r.now().Add(d)
}

// Disable removes a key from rotation permanently.
func (r *Keyring) Disable(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.disabled[id] = true
}

// SetKeys replaces the pool, clearing cooldowns for keys that changed.
func (r *Keyring) SetKeys(keys []config.GeminiKey) {
	r.mu.Lock()
	defer r.mu.Unlock()

	current := make(map[string]string, len(r.keys))
	for _, k := range r.keys {
		current[k.ID] = k.Key
	}
	for _, k := range keys {
		if current[k.ID] != k.Key {
			delete(r.cooldown, k.ID)
			delete(r.disabled, k.ID)
		}
	}

	r.keys = append([]config.GeminiKey(nil), keys...)
	if r.next >= len(r.keys) {
		r.next = 0
	}
}

// Len reports the pool size including cooled and disabled keys.
func (r *Keyring) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.keys)
}
