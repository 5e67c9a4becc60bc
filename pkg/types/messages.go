// Package types holds the wire shapes shared with clients of the real-time
// channel.
package types

import (
	"encoding/json"

	"github.com/matchbox-io/matchbox/pkg/game"
)

// ClientMessage is one frame from a client.
//
// "sync" binds the connection to a room (creating state if absent) and is
// answered with a "sync" frame. "update" submits an action against an
// expected version; it is either answered with an "update" broadcast to the
// whole room or dropped silently. Clients treat silence as rejection and
// re-sync.
type ClientMessage struct {
	Type        string          `json:"type"` // "sync" | "update"
	Game        string          `json:"game,omitempty"`
	RoomID      string          `json:"room_id"`
	PlayerID    string          `json:"player_id,omitempty"`
	NumPlayers  int             `json:"num_players,omitempty"`
	ActionType  string          `json:"action_type,omitempty"`
	Payload     json.RawMessage `json:"payload,omitempty"`
	Credentials string          `json:"credentials,omitempty"`
	Version     int64           `json:"version,omitempty"`
}

// ServerMessage is one frame to a client. State carries that client's own
// redaction of the room state.
type ServerMessage struct {
	Type    string     `json:"type"` // "sync" | "update" | "error"
	RoomID  string     `json:"room_id,omitempty"`
	Version int64      `json:"version,omitempty"`
	State   *game.View `json:"state,omitempty"`
	Error   string     `json:"error,omitempty"`
}
