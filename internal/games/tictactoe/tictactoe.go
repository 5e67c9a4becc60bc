// Package tictactoe is the sample game shipped with the server. It exercises
// the whole Definition contract with the simplest possible rules.
package tictactoe

import (
	"encoding/json"
	"fmt"

	"github.com/matchbox-io/matchbox/pkg/game"
)

type Game struct{}

type board struct {
	Cells  []string `json:"cells"` // 9 cells, "" | "X" | "O"
	Winner string   `json:"winner,omitempty"`
}

type movePayload struct {
	Cell int `json:"cell"`
}

var marks = map[string]string{"0": "X", "1": "O"}

func (Game) Name() string { return "tic-tac-toe" }

func (Game) Setup(numPlayers int, _ json.RawMessage) (json.RawMessage, game.Context, error) {
	if numPlayers != 2 {
		return nil, game.Context{}, fmt.Errorf("tic-tac-toe needs exactly 2 players, got %d", numPlayers)
	}
	g, err := json.Marshal(board{Cells: make([]string, 9)})
	if err != nil {
		return nil, game.Context{}, err
	}
	ctx := game.Context{
		NumPlayers:    2,
		CurrentPlayer: "0",
		PlayOrder:     []string{"0", "1"},
		PlayOrderPos:  0,
		Phase:         "play",
		ActionPlayers: []string{"0"},
	}
	return g, ctx, nil
}

func (Game) Apply(raw json.RawMessage, ctx game.Context, a game.Action) (json.RawMessage, game.Context, error) {
	if a.Type != "clickCell" {
		return nil, game.Context{}, game.ErrInvalidAction
	}
	if a.PlayerID != ctx.CurrentPlayer || ctx.Phase != "play" {
		return nil, game.Context{}, game.ErrInvalidAction
	}
	var b board
	if err := json.Unmarshal(raw, &b); err != nil {
		return nil, game.Context{}, fmt.Errorf("decode board: %w", err)
	}
	var mv movePayload
	if err := json.Unmarshal(a.Payload, &mv); err != nil {
		return nil, game.Context{}, game.ErrInvalidAction
	}
	if mv.Cell < 0 || mv.Cell >= len(b.Cells) || b.Cells[mv.Cell] != "" {
		return nil, game.Context{}, game.ErrInvalidAction
	}

	b.Cells[mv.Cell] = marks[a.PlayerID]
	b.Winner = winner(b.Cells)

	next := ctx
	next.NumMoves = ctx.NumMoves + 1
	if b.Winner != "" || full(b.Cells) {
		next.Phase = "gameover"
		next.ActionPlayers = nil
	} else {
		next.PlayOrderPos = (ctx.PlayOrderPos + 1) % len(ctx.PlayOrder)
		next.CurrentPlayer = ctx.PlayOrder[next.PlayOrderPos]
		next.ActionPlayers = []string{next.CurrentPlayer}
	}

	out, err := json.Marshal(b)
	if err != nil {
		return nil, game.Context{}, err
	}
	return out, next, nil
}

// PlayerView is the identity: the whole board is public.
func (Game) PlayerView(g json.RawMessage, _ game.Context, _ string) json.RawMessage {
	return g
}

var lines = [8][3]int{
	{0, 1, 2}, {3, 4, 5}, {6, 7, 8},
	{0, 3, 6}, {1, 4, 7}, {2, 5, 8},
	{0, 4, 8}, {2, 4, 6},
}

func winner(cells []string) string {
	for _, l := range lines {
		if cells[l[0]] != "" && cells[l[0]] == cells[l[1]] && cells[l[1]] == cells[l[2]] {
			return cells[l[0]]
		}
	}
	return ""
}

func full(cells []string) bool {
	for _, c := range cells {
		if c == "" {
			return false
		}
	}
	return true
}
