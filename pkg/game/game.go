// Package game defines the contract between the sync server and the games it
// hosts. A game plugs in as a Definition: pure functions over an opaque JSON
// payload plus a turn Context the game itself maintains. The server never
// inspects the payload beyond handing it back for per-player redaction.
package game

import (
	"encoding/json"
	"errors"
)

// DefaultNumPlayers is used when a room is created without a player count.
const DefaultNumPlayers = 2

// ErrInvalidAction signals that an action is illegal for the current
// turn/phase/player. The server drops such actions silently; any other error
// from Apply is treated as a game fault and logged.
var ErrInvalidAction = errors.New("invalid action")

// Context is the turn bookkeeping a game maintains alongside its payload.
// Invariant (the game's to keep): CurrentPlayer == PlayOrder[PlayOrderPos].
type Context struct {
	NumPlayers    int      `json:"num_players"`
	CurrentPlayer string   `json:"current_player"`
	PlayOrder     []string `json:"play_order"`
	PlayOrderPos  int      `json:"play_order_pos"`
	Phase         string   `json:"phase,omitempty"`
	ActionPlayers []string `json:"action_players,omitempty"`
	NumMoves      int      `json:"num_moves"`
	PhaseStats    Stats    `json:"phase_stats,omitzero"`
	TurnStats     Stats    `json:"turn_stats,omitzero"`
	Seed          int64    `json:"seed,omitempty"`
	AllowedMoves  []string `json:"allowed_moves,omitempty"`
}

// Stats tracks per-phase or per-turn move counts.
type Stats struct {
	NumMoves  map[string]int `json:"num_moves,omitempty"`
	AllPlayed bool           `json:"all_played,omitempty"`
}

// Action is a single player submission.
type Action struct {
	Type        string          `json:"type"`
	Payload     json.RawMessage `json:"payload,omitempty"`
	PlayerID    string          `json:"player_id"`
	Credentials string          `json:"credentials,omitempty"`
}

// Definition is the capability interface a hosted game implements.
type Definition interface {
	Name() string

	// Setup produces the initial payload and context for a fresh room.
	Setup(numPlayers int, setupData json.RawMessage) (json.RawMessage, Context, error)

	// Apply computes the next payload and context, or ErrInvalidAction.
	// It must not mutate its inputs.
	Apply(g json.RawMessage, ctx Context, a Action) (json.RawMessage, Context, error)

	// PlayerView redacts the payload down to what playerID may see.
	PlayerView(g json.RawMessage, ctx Context, playerID string) json.RawMessage
}
