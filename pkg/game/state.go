package game

import "encoding/json"

// State is the authoritative, versioned state of one room. Version counts
// applied actions: a state derived by applying k actions to a fresh Setup has
// Version == k. TurnSnapshot is the state as it stood at the start of the
// current turn, kept to support undo-within-a-turn.
type State struct {
	G            json.RawMessage `json:"g"`
	Ctx          Context         `json:"ctx"`
	Log          []LogEntry      `json:"log,omitempty"`
	Version      int64           `json:"version"`
	TurnSnapshot *State          `json:"turn_snapshot,omitempty"`
}

// LogEntry records one applied action.
type LogEntry struct {
	ActionType  string          `json:"action_type"`
	Payload     json.RawMessage `json:"payload,omitempty"`
	PlayerID    string          `json:"player_id"`
	Credentials string          `json:"credentials,omitempty"`
}

// View is the redaction of a State sent to a single player.
type View struct {
	G       json.RawMessage `json:"g"`
	Ctx     Context         `json:"ctx"`
	Version int64           `json:"version"`
}

// NewState runs a definition's Setup and wraps the result at version 0.
func NewState(def Definition, numPlayers int, setupData json.RawMessage) (State, error) {
	if numPlayers <= 0 {
		numPlayers = DefaultNumPlayers
	}
	g, ctx, err := def.Setup(numPlayers, setupData)
	if err != nil {
		return State{}, err
	}
	s := State{G: g, Ctx: ctx, Version: 0}
	s.TurnSnapshot = s.Snapshot()
	return s, nil
}

// Snapshot returns a copy suitable for storing as a turn-start checkpoint:
// no log, no nested snapshot.
func (s State) Snapshot() *State {
	c := s
	c.Log = nil
	c.TurnSnapshot = nil
	return &c
}

// ViewFor computes the filtered view of s for one player.
func (s State) ViewFor(def Definition, playerID string) View {
	return View{
		G:       def.PlayerView(s.G, s.Ctx, playerID),
		Ctx:     s.Ctx,
		Version: s.Version,
	}
}
