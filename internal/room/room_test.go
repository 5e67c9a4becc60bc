package room

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/matchbox-io/matchbox/internal/registry"
	"github.com/matchbox-io/matchbox/internal/store"
	"github.com/matchbox-io/matchbox/pkg/game"
)

// echoGame counts bumps and rotates the current player. Its PlayerView tags
// the payload with the viewer's id, so every connection can be checked for
// its own redaction.
type echoGame struct{}

type echoData struct {
	Count int `json:"count"`
}

func (echoGame) Name() string { return "echo" }

func (echoGame) Setup(numPlayers int, _ json.RawMessage) (json.RawMessage, game.Context, error) {
	order := make([]string, numPlayers)
	for i := range order {
		order[i] = fmt.Sprintf("%d", i)
	}
	g, _ := json.Marshal(echoData{})
	return g, game.Context{
		NumPlayers:    numPlayers,
		CurrentPlayer: "0",
		PlayOrder:     order,
		PlayOrderPos:  0,
		Phase:         "play",
	}, nil
}

func (echoGame) Apply(raw json.RawMessage, ctx game.Context, a game.Action) (json.RawMessage, game.Context, error) {
	if a.Type != "bump" {
		return nil, game.Context{}, game.ErrInvalidAction
	}
	var d echoData
	if err := json.Unmarshal(raw, &d); err != nil {
		return nil, game.Context{}, err
	}
	d.Count++
	next := ctx
	next.NumMoves++
	next.PlayOrderPos = (ctx.PlayOrderPos + 1) % len(ctx.PlayOrder)
	next.CurrentPlayer = ctx.PlayOrder[next.PlayOrderPos]
	g, _ := json.Marshal(d)
	return g, next, nil
}

func (echoGame) PlayerView(raw json.RawMessage, _ game.Context, playerID string) json.RawMessage {
	var d echoData
	_ = json.Unmarshal(raw, &d)
	out, _ := json.Marshal(map[string]any{"player": playerID, "count": d.Count})
	return out
}

// plainAuth compares secrets without hashing, to keep the delegation visible.
func plainAuth(submitted, storedHash string) bool { return submitted == storedHash }

type fixture struct {
	room  *Room
	store *store.Memory
	reg   *registry.Registry
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	st := store.NewMemory()
	reg := registry.New()
	r := New(ctx, "ROOM01", echoGame{}, st, reg, plainAuth, zap.NewNop())
	return fixture{room: r, store: st, reg: reg}
}

func (f fixture) sync(t *testing.T, connID, playerID string, numPlayers, buffer int) (chan Packet, game.View) {
	t.Helper()
	out := make(chan Packet, buffer)
	reply := make(chan SyncResult, 1)
	f.room.Inbox() <- Sync{ConnID: connID, PlayerID: playerID, NumPlayers: numPlayers, Outbox: out, Reply: reply}
	res := recvSyncResult(t, reply, time.Second)
	if res.Err != nil {
		t.Fatalf("sync %s: %v", connID, res.Err)
	}
	return out, res.View
}

func recvSyncResult(t *testing.T, ch <-chan SyncResult, within time.Duration) SyncResult {
	t.Helper()
	select {
	case res := <-ch:
		return res
	case <-time.After(within):
		t.Fatalf("timed out waiting for sync reply")
		return SyncResult{}
	}
}

func recvPacket(t *testing.T, ch <-chan Packet, within time.Duration) Packet {
	t.Helper()
	select {
	case pkt, ok := <-ch:
		if !ok {
			t.Fatalf("outbox closed unexpectedly")
		}
		return pkt
	case <-time.After(within):
		t.Fatalf("timed out waiting for packet")
		return Packet{}
	}
}

func recvNoPacket(t *testing.T, ch <-chan Packet, within time.Duration) {
	t.Helper()
	select {
	case pkt, ok := <-ch:
		if !ok {
			return
		}
		t.Fatalf("expected no packet within %v, got: %+v", within, pkt)
	case <-time.After(within):
		// good: silence
	}
}

func recvInfo(t *testing.T, r *Room, within time.Duration) Info {
	t.Helper()
	reply := make(chan Info, 1)
	r.Inbox() <- GetState{Reply: reply}
	select {
	case info := <-reply:
		return info
	case <-time.After(within):
		t.Fatalf("timed out waiting for info")
		return Info{}
	}
}

func viewPlayer(t *testing.T, v game.View) string {
	t.Helper()
	var decoded struct {
		Player string `json:"player"`
	}
	if err := json.Unmarshal(v.G, &decoded); err != nil {
		t.Fatalf("decode view: %v", err)
	}
	return decoded.Player
}

func TestRoom_SyncCreatesStateAndRegisters(t *testing.T) {
	f := newFixture(t)

	_, view := f.sync(t, "c1", "0", 2, 2)
	if view.Version != 0 {
		t.Fatalf("after first sync: want version=0, got %d", view.Version)
	}
	if got := viewPlayer(t, view); got != "0" {
		t.Fatalf("want view for player 0, got %q", got)
	}

	st, err := f.store.FetchState(context.Background(), "ROOM01")
	if err != nil {
		t.Fatalf("state not persisted: %v", err)
	}
	if st.Ctx.NumPlayers != 2 {
		t.Fatalf("want 2 players, got %d", st.Ctx.NumPlayers)
	}
	if st.TurnSnapshot == nil || st.TurnSnapshot.Version != 0 {
		t.Fatalf("want turn snapshot at version 0, got %+v", st.TurnSnapshot)
	}
	if id, ok := f.reg.IdentityOf("c1"); !ok || id.RoomID != "ROOM01" || id.PlayerID != "0" {
		t.Fatalf("connection not registered: %+v ok=%v", id, ok)
	}
}

func TestRoom_SyncDefaultsToTwoPlayers(t *testing.T) {
	f := newFixture(t)
	f.sync(t, "c1", "0", 0, 2)

	st, err := f.store.FetchState(context.Background(), "ROOM01")
	if err != nil {
		t.Fatalf("fetch state: %v", err)
	}
	if st.Ctx.NumPlayers != 2 {
		t.Fatalf("want default 2 players, got %d", st.Ctx.NumPlayers)
	}
}

func TestRoom_UpdateBroadcastsPerPlayerViews(t *testing.T) {
	f := newFixture(t)
	out0, _ := f.sync(t, "c1", "0", 2, 2)
	out1, _ := f.sync(t, "c2", "1", 2, 2)

	f.room.Inbox() <- Update{Action: game.Action{Type: "bump", PlayerID: "0"}, Version: 0}

	pkt0 := recvPacket(t, out0, time.Second)
	pkt1 := recvPacket(t, out1, time.Second)
	if pkt0.View.Version != 1 || pkt1.View.Version != 1 {
		t.Fatalf("want version=1 on both, got %d and %d", pkt0.View.Version, pkt1.View.Version)
	}
	if got := viewPlayer(t, pkt0.View); got != "0" {
		t.Fatalf("conn c1: want its own view (player 0), got %q", got)
	}
	if got := viewPlayer(t, pkt1.View); got != "1" {
		t.Fatalf("conn c2: want its own view (player 1), got %q", got)
	}
}

func TestRoom_VersionIsGapless(t *testing.T) {
	f := newFixture(t)
	out, _ := f.sync(t, "c1", "0", 2, 8)
	f.sync(t, "c2", "1", 2, 8)

	for i := 0; i < 4; i++ {
		player := fmt.Sprintf("%d", i%2)
		f.room.Inbox() <- Update{Action: game.Action{Type: "bump", PlayerID: player}, Version: int64(i)}
		pkt := recvPacket(t, out, time.Second)
		if pkt.View.Version != int64(i+1) {
			t.Fatalf("action %d: want version=%d, got %d", i, i+1, pkt.View.Version)
		}
	}
}

func TestRoom_StaleVersionNeverMutatesOrBroadcasts(t *testing.T) {
	f := newFixture(t)
	out, _ := f.sync(t, "c1", "0", 2, 2)

	f.room.Inbox() <- Update{Action: game.Action{Type: "bump", PlayerID: "0"}, Version: 0}
	_ = recvPacket(t, out, time.Second) // version 1

	// Replay against the old version: the room is now past it.
	f.room.Inbox() <- Update{Action: game.Action{Type: "bump", PlayerID: "0"}, Version: 0}
	recvNoPacket(t, out, 200*time.Millisecond)

	st, err := f.store.FetchState(context.Background(), "ROOM01")
	if err != nil {
		t.Fatalf("fetch state: %v", err)
	}
	if st.Version != 1 {
		t.Fatalf("stale action mutated state: version %d", st.Version)
	}
}

func TestRoom_UnconnectedPlayerDropped(t *testing.T) {
	f := newFixture(t)
	out, _ := f.sync(t, "c1", "0", 2, 2)

	f.room.Inbox() <- Update{Action: game.Action{Type: "bump", PlayerID: "1"}, Version: 0}
	recvNoPacket(t, out, 200*time.Millisecond)
}

func TestRoom_CredentialsChecked(t *testing.T) {
	f := newFixture(t)
	out, _ := f.sync(t, "c1", "0", 2, 4)

	// Claim slot 0 with a credential hash, as the lobby would.
	ctx := context.Background()
	meta, err := f.store.FetchMetadata(ctx, "ROOM01")
	if err != nil {
		t.Fatalf("fetch metadata: %v", err)
	}
	slot := meta.Players["0"]
	slot.Name = "alice"
	slot.CredentialHash = "sekrit"
	meta.Players["0"] = slot
	if err := f.store.WriteMetadata(ctx, "ROOM01", meta); err != nil {
		t.Fatalf("write metadata: %v", err)
	}

	f.room.Inbox() <- Update{Action: game.Action{Type: "bump", PlayerID: "0", Credentials: "wrong"}, Version: 0}
	recvNoPacket(t, out, 200*time.Millisecond)

	f.room.Inbox() <- Update{Action: game.Action{Type: "bump", PlayerID: "0", Credentials: "sekrit"}, Version: 0}
	pkt := recvPacket(t, out, time.Second)
	if pkt.View.Version != 1 {
		t.Fatalf("authorized action: want version=1, got %d", pkt.View.Version)
	}
}

func TestRoom_InvalidActionDropped(t *testing.T) {
	f := newFixture(t)
	out, _ := f.sync(t, "c1", "0", 2, 2)

	f.room.Inbox() <- Update{Action: game.Action{Type: "nonsense", PlayerID: "0"}, Version: 0}
	recvNoPacket(t, out, 200*time.Millisecond)
}

func TestRoom_TurnSnapshotFollowsTurnChange(t *testing.T) {
	f := newFixture(t)
	out, _ := f.sync(t, "c1", "0", 2, 2)

	f.room.Inbox() <- Update{Action: game.Action{Type: "bump", PlayerID: "0"}, Version: 0}
	_ = recvPacket(t, out, time.Second)

	st, err := f.store.FetchState(context.Background(), "ROOM01")
	if err != nil {
		t.Fatalf("fetch state: %v", err)
	}
	// echoGame rotates the current player every bump, so the snapshot moves.
	if st.TurnSnapshot == nil || st.TurnSnapshot.Version != 1 {
		t.Fatalf("want turn snapshot at version 1, got %+v", st.TurnSnapshot)
	}
	if st.TurnSnapshot.Ctx.CurrentPlayer != "1" {
		t.Fatalf("want snapshot current player 1, got %q", st.TurnSnapshot.Ctx.CurrentPlayer)
	}
}

func TestRoom_HistoryAppendsAndRebasesOnSync(t *testing.T) {
	f := newFixture(t)
	out, _ := f.sync(t, "c1", "0", 2, 4)
	f.sync(t, "c2", "1", 2, 4)

	f.room.Inbox() <- Update{Action: game.Action{Type: "bump", PlayerID: "0"}, Version: 0}
	_ = recvPacket(t, out, time.Second)
	f.room.Inbox() <- Update{Action: game.Action{Type: "bump", PlayerID: "1"}, Version: 1}
	_ = recvPacket(t, out, time.Second)

	ctx := context.Background()
	st, err := f.store.FetchState(ctx, "ROOM01")
	if err != nil {
		t.Fatalf("fetch state: %v", err)
	}
	if len(st.Log) != 2 {
		t.Fatalf("want 2 log entries, got %d", len(st.Log))
	}
	if st.Log[0].PlayerID != "0" || st.Log[1].PlayerID != "1" {
		t.Fatalf("log out of order: %+v", st.Log)
	}

	// A full resync rebases the log.
	f.sync(t, "c3", "0", 2, 4)
	st, err = f.store.FetchState(ctx, "ROOM01")
	if err != nil {
		t.Fatalf("fetch state after resync: %v", err)
	}
	if len(st.Log) != 0 {
		t.Fatalf("want rebased log, got %d entries", len(st.Log))
	}
}

func TestRoom_DropSlowClient(t *testing.T) {
	f := newFixture(t)
	// Buffer of 1: the first broadcast fills it, the second finds it full.
	out, _ := f.sync(t, "c1", "0", 2, 1)
	f.sync(t, "c2", "1", 2, 8)

	f.room.Inbox() <- Update{Action: game.Action{Type: "bump", PlayerID: "0"}, Version: 0}
	f.room.Inbox() <- Update{Action: game.Action{Type: "bump", PlayerID: "1"}, Version: 1}

	info := recvInfo(t, f.room, time.Second)
	if info.NumClients != 1 {
		t.Fatalf("expected slow client to be dropped; NumClients=%d", info.NumClients)
	}
	if _, ok := f.reg.IdentityOf("c1"); ok {
		t.Fatalf("dropped client still registered")
	}
	_ = out
}

func TestRoom_LeaveUnregisters(t *testing.T) {
	f := newFixture(t)
	out, _ := f.sync(t, "c1", "0", 2, 2)
	f.sync(t, "c2", "1", 2, 2)

	f.room.Inbox() <- Leave{ConnID: "c1"}

	info := recvInfo(t, f.room, time.Second)
	if info.NumClients != 1 {
		t.Fatalf("want 1 client after leave, got %d", info.NumClients)
	}
	if _, ok := f.reg.IdentityOf("c1"); ok {
		t.Fatalf("left connection still registered")
	}

	// Departed connections get no further broadcasts.
	f.room.Inbox() <- Update{Action: game.Action{Type: "bump", PlayerID: "1"}, Version: 0}
	recvNoPacket(t, out, 200*time.Millisecond)
}

func TestRoom_SyncQueuedBehindShutdownIsAnswered(t *testing.T) {
	f := newFixture(t)

	// Park the loop on an unbuffered reply so the next messages queue up
	// behind each other.
	gate := make(chan Info)
	f.room.Inbox() <- GetState{Reply: gate}

	reply := make(chan SyncResult, 1)
	out := make(chan Packet, 2)
	f.room.Inbox() <- Shutdown{}
	f.room.Inbox() <- Sync{ConnID: "c1", PlayerID: "0", NumPlayers: 2, Outbox: out, Reply: reply}
	<-gate

	res := recvSyncResult(t, reply, time.Second)
	if res.Err == nil {
		t.Fatalf("sync queued behind shutdown got a view instead of an error")
	}
}

func TestRoom_BroadcastToNobodyIsFine(t *testing.T) {
	f := newFixture(t)
	f.sync(t, "c1", "0", 2, 2)
	f.room.Inbox() <- Leave{ConnID: "c1"}

	f.room.Inbox() <- Update{Action: game.Action{Type: "bump", PlayerID: "0"}, Version: 0}

	// Nobody is connected, so the action is dropped at the membership check
	// and the room keeps working.
	info := recvInfo(t, f.room, time.Second)
	if info.Version != 0 {
		t.Fatalf("want version 0, got %d", info.Version)
	}
}
