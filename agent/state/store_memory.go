package state

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
)

// MemoryStore keeps sessions in process. Entries are stored encoded so callers never share pointers.
type MemoryStore struct {
	mu    sync.Mutex
	items map[string][]byte
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{items: make(map[string][]byte)}
}

func (m *MemoryStore) Load(_ context.Context, clientID string) (*Session, error) {
	if _, err := sessionKey("", clientID); err != nil {
		return nil, err
	}
	m.mu.Lock()
	raw, ok := m.items[clientID]
	m.mu.Unlock()
	if !ok {
		return nil, ErrStateNotFound
	}
	return decodeSession(raw)
}

func (m *MemoryStore) Save(_ context.Context, st *Session) error {
	payload, err := encodeNext(st)
	if err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	var stored int64
	if raw, ok := m.items[st.ClientID]; ok {
		var probe struct {
			Version int64 `json:"version"`
		}
		if err := json.Unmarshal(raw, &probe); err != nil {
			return fmt.Errorf("decode stored version: %w", err)
		}
		stored = probe.Version
	}
	if stored != st.Version {
		return fmt.Errorf("%w: client_id=%s have=%d want=%d", ErrVersionConflict, st.ClientID, st.Version, stored)
	}

	m.items[st.ClientID] = payload
	st.Version++
	return nil
}

func (m *MemoryStore) Delete(_ context.Context, clientID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.items, clientID)
	return nil
}
