package media

import (
	"context"
	"sync"

	"github.com/rs/zerolog/log"
)

// RelayManager keeps one relay per remote track key.
type RelayManager struct {
	mu     sync.RWMutex
	relays map[string]*Relay
}

func NewRelayManager() *RelayManager {
	return &RelayManager{
		relays: make(map[string]*Relay),
	}
}

// StartRelay creates a relay for key and starts its loop. An existing relay
// under the same key is stopped first.
func (m *RelayManager) StartRelay(ctx context.Context, key string, src RTPReader) *Relay {
	logger := log.With().
		Str("module", "media.relay").
		Str("key", key).
		Logger()

	relayCtx, cancel := context.WithCancel(ctx)
	relay := NewRelay(src, cancel)

	m.mu.Lock()
	if old, ok := m.relays[key]; ok {
		logger.Info().Msg("replacing existing relay")
		old.markAllDelete()
		old.cancel()
	}
	m.relays[key] = relay
	m.mu.Unlock()

	logger.Info().Msg("starting relay loop")
	go relay.loop(relayCtx, &logger)
	return relay
}

// AddOutput attaches w to the relay of key under name.
func (m *RelayManager) AddOutput(key, name string, w RTPWriter) bool {
	m.mu.RLock()
	relay, ok := m.relays[key]
	m.mu.RUnlock()
	if !ok {
		return false
	}
	relay.AddOutput(name, NewOutput(w))
	return true
}

// SetMuted pauses or resumes every output of key.
func (m *RelayManager) SetMuted(key string, muted bool) {
	m.mu.RLock()
	relay, ok := m.relays[key]
	m.mu.RUnlock()
	if !ok {
		return
	}
	relay.mu.RLock()
	defer relay.mu.RUnlock()
	for _, out := range relay.outputs {
		if out.State() == OutputDelete {
			continue
		}
		if muted {
			out.MarkMuted()
		} else {
			out.MarkOk()
		}
	}
}

// StopRelay stops the relay for key and forgets it.
func (m *RelayManager) StopRelay(key string) {
	m.mu.Lock()
	relay, ok := m.relays[key]
	if ok {
		delete(m.relays, key)
	}
	m.mu.Unlock()
	if !ok {
		return
	}
	relay.markAllDelete()
	relay.cancel()
}

// StopAll stops every relay.
func (m *RelayManager) StopAll() {
	m.mu.Lock()
	relays := m.relays
	m.relays = make(map[string]*Relay)
	m.mu.Unlock()
	for _, r := range relays {
		r.markAllDelete()
		r.cancel()
	}
}

func (m *RelayManager) HasRelay(key string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.relays[key]
	return ok
}

func (m *RelayManager) Keys() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]string, 0, len(m.relays))
	for k := range m.relays {
		out = append(out, k)
	}
	return out
}
