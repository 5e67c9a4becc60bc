package store

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/matchbox-io/matchbox/pkg/game"
)

// Memory is the default backend: a mutex-guarded map. Values are deep-copied
// through JSON on the way in and out so callers never alias stored data.
type Memory struct {
	mu    sync.RWMutex
	rooms map[string]*memoryRoom
}

type memoryRoom struct {
	gameName string
	state    []byte
	metadata []byte
}

func NewMemory() *Memory {
	return &Memory{rooms: make(map[string]*memoryRoom)}
}

func (m *Memory) CreateGame(_ context.Context, roomID string, state game.State, metadata Metadata) error {
	stateJSON, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("encode state: %w", err)
	}
	metaJSON, err := json.Marshal(metadata)
	if err != nil {
		return fmt.Errorf("encode metadata: %w", err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rooms[roomID] = &memoryRoom{gameName: metadata.GameName, state: stateJSON, metadata: metaJSON}
	return nil
}

func (m *Memory) FetchState(_ context.Context, roomID string) (game.State, error) {
	m.mu.RLock()
	room, ok := m.rooms[roomID]
	m.mu.RUnlock()
	if !ok || room.state == nil {
		return game.State{}, ErrNotFound
	}
	var s game.State
	if err := json.Unmarshal(room.state, &s); err != nil {
		return game.State{}, fmt.Errorf("decode state: %w", err)
	}
	return s, nil
}

func (m *Memory) WriteState(_ context.Context, roomID string, state game.State) error {
	stateJSON, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("encode state: %w", err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	room, ok := m.rooms[roomID]
	if !ok {
		return ErrNotFound
	}
	room.state = stateJSON
	return nil
}

func (m *Memory) FetchMetadata(_ context.Context, roomID string) (Metadata, error) {
	m.mu.RLock()
	room, ok := m.rooms[roomID]
	m.mu.RUnlock()
	if !ok || room.metadata == nil {
		return Metadata{}, ErrNotFound
	}
	var meta Metadata
	if err := json.Unmarshal(room.metadata, &meta); err != nil {
		return Metadata{}, fmt.Errorf("decode metadata: %w", err)
	}
	return meta, nil
}

func (m *Memory) WriteMetadata(_ context.Context, roomID string, metadata Metadata) error {
	metaJSON, err := json.Marshal(metadata)
	if err != nil {
		return fmt.Errorf("encode metadata: %w", err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	room, ok := m.rooms[roomID]
	if !ok {
		return ErrNotFound
	}
	room.gameName = metadata.GameName
	room.metadata = metaJSON
	return nil
}

func (m *Memory) ListRooms(_ context.Context, gameName string) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var ids []string
	for id, room := range m.rooms {
		if room.gameName == gameName {
			ids = append(ids, id)
		}
	}
	return ids, nil
}

func (m *Memory) Wipe(_ context.Context, roomID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.rooms, roomID)
	return nil
}

func (m *Memory) Close() error { return nil }
