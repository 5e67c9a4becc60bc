// Package store is the persistence boundary. The server core never retries
// storage failures; they propagate to the caller of the current operation.
package store

import (
	"context"
	"errors"
	"strconv"

	"github.com/matchbox-io/matchbox/pkg/game"
)

// ErrNotFound is returned when a room has no persisted state or metadata.
var ErrNotFound = errors.New("not found")

// PlayerSlot is one fixed player position in a room. A slot is occupied iff
// Name is set, claimable iff CredentialHash is unset.
type PlayerSlot struct {
	ID             string `json:"id"`
	Name           string `json:"name,omitempty"`
	CredentialHash string `json:"credential_hash,omitempty"`
}

// Metadata is the lobby-owned record for one room. The Players key set is
// fixed at creation ("0".."N-1") and never changes size.
type Metadata struct {
	RoomID     string                `json:"room_id"`
	GameName   string                `json:"game_name"`
	Players    map[string]PlayerSlot `json:"players"`
	NextRoomID string                `json:"next_room_id,omitempty"`
}

// Occupied reports whether any slot currently has a player.
func (m Metadata) Occupied() bool {
	for _, slot := range m.Players {
		if slot.Name != "" {
			return true
		}
	}
	return false
}

// Store is the pluggable persistence backend. Implementations must make
// fetched values safe to mutate by the caller (no aliasing of stored data).
type Store interface {
	CreateGame(ctx context.Context, roomID string, state game.State, metadata Metadata) error
	FetchState(ctx context.Context, roomID string) (game.State, error)
	WriteState(ctx context.Context, roomID string, state game.State) error
	FetchMetadata(ctx context.Context, roomID string) (Metadata, error)
	WriteMetadata(ctx context.Context, roomID string, metadata Metadata) error
	ListRooms(ctx context.Context, gameName string) ([]string, error)
	Wipe(ctx context.Context, roomID string) error
	Close() error
}

// NewMetadata builds the creation-time metadata for a room.
func NewMetadata(roomID, gameName string, numPlayers int) Metadata {
	m := Metadata{
		RoomID:   roomID,
		GameName: gameName,
		Players:  make(map[string]PlayerSlot, numPlayers),
	}
	for i := 0; i < numPlayers; i++ {
		id := strconv.Itoa(i)
		m.Players[id] = PlayerSlot{ID: id}
	}
	return m
}
