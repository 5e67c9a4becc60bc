// Package room runs one actor goroutine per game room. The actor is the sole
// authority over its room's state: actions are applied one at a time, guarded
// by an optimistic version check, and every applied action fans out a
// per-player filtered view to the room's registered connections. Invalid,
// stale, unauthorized, or unknown-room actions are dropped without a reply;
// clients treat silence as rejection and re-sync.
package room

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/matchbox-io/matchbox/internal/auth"
	"github.com/matchbox-io/matchbox/internal/registry"
	"github.com/matchbox-io/matchbox/internal/store"
	"github.com/matchbox-io/matchbox/pkg/game"
)

// ErrClosed answers syncs that arrive while the room is shutting down.
var ErrClosed = errors.New("room closed")

// Packet is one filtered snapshot delivered to one connection.
type Packet struct {
	RoomID string
	View   game.View
}

type Msg interface{ isRoomMsg() }

// Sync registers a connection and replies with the player's current view,
// creating and persisting fresh state if the room has none.
type Sync struct {
	ConnID     string
	PlayerID   string
	NumPlayers int
	Outbox     chan Packet
	Reply      chan SyncResult
}

// Update submits an action against an expected version.
type Update struct {
	Action  game.Action
	Version int64
}

// Leave detaches a connection from the room.
type Leave struct{ ConnID string }

// GetState reflects internal bookkeeping without data races (tests only).
type GetState struct{ Reply chan Info }

type Shutdown struct{}

func (Sync) isRoomMsg()     {}
func (Update) isRoomMsg()   {}
func (Leave) isRoomMsg()    {}
func (GetState) isRoomMsg() {}
func (Shutdown) isRoomMsg() {}

type SyncResult struct {
	View game.View
	Err  error
}

// Info is the test-only reflection of a room's bookkeeping. Version is -1
// when no state is persisted.
type Info struct {
	NumClients int
	Version    int64
}

type client struct {
	playerID string
	outbox   chan Packet
}

type Room struct {
	id    string
	def   game.Definition
	store store.Store
	reg   *registry.Registry
	authn auth.Authenticator
	log   *zap.Logger

	inbox  chan Msg
	conns  map[string]client
	ctx    context.Context
	cancel context.CancelFunc
}

func New(parent context.Context, id string, def game.Definition, st store.Store, reg *registry.Registry, authn auth.Authenticator, log *zap.Logger) *Room {
	ctx, cancel := context.WithCancel(parent)
	r := &Room{
		id:     id,
		def:    def,
		store:  st,
		reg:    reg,
		authn:  authn,
		log:    log.With(zap.String("room_id", id), zap.String("game", def.Name())),
		inbox:  make(chan Msg, 64),
		conns:  make(map[string]client),
		ctx:    ctx,
		cancel: cancel,
	}
	go r.loop()
	return r
}

// Inbox is where transports and the hub send messages.
func (r *Room) Inbox() chan<- Msg { return r.inbox }

// Done closes when the actor has shut down. Senders select on it so a
// message racing a shutdown cannot block them forever.
func (r *Room) Done() <-chan struct{} { return r.ctx.Done() }

// Game names the definition this room runs.
func (r *Room) Game() string { return r.def.Name() }

func (r *Room) loop() {
	for {
		select {
		case <-r.ctx.Done():
			r.shutdown()
			return

		case m := <-r.inbox:
			switch msg := m.(type) {
			case Sync:
				r.handleSync(msg)

			case Update:
				r.handleUpdate(msg)

			case Leave:
				r.reg.Unregister(msg.ConnID)
				delete(r.conns, msg.ConnID)

			case GetState:
				info := Info{NumClients: len(r.conns), Version: -1}
				if st, err := r.store.FetchState(r.ctx, r.id); err == nil {
					info.Version = st.Version
				}
				msg.Reply <- info

			case Shutdown:
				r.shutdown()
				return
			}
		}
	}
}

func (r *Room) shutdown() {
	for id, c := range r.conns {
		close(c.outbox)
		delete(r.conns, id)
		r.reg.Unregister(id)
	}
	r.cancel()
	// Answer whatever is still queued so no sender waits on a dead actor.
	for {
		select {
		case m := <-r.inbox:
			switch msg := m.(type) {
			case Sync:
				msg.Reply <- SyncResult{Err: ErrClosed}
			case Leave:
				r.reg.Unregister(msg.ConnID)
			case GetState:
				msg.Reply <- Info{Version: -1}
			}
		default:
			return
		}
	}
}

// handleSync always re-reads the store so the reply reflects the latest
// persisted state, and rebases the action log on a full sync.
func (r *Room) handleSync(m Sync) {
	st, err := r.store.FetchState(r.ctx, r.id)
	if errors.Is(err, store.ErrNotFound) {
		st, err = r.create(m.NumPlayers)
	}
	if err != nil {
		r.log.Error("sync failed", zap.Error(err))
		m.Reply <- SyncResult{Err: err}
		return
	}

	if len(st.Log) > 0 {
		st.Log = nil
		if werr := r.store.WriteState(r.ctx, r.id, st); werr != nil {
			r.log.Warn("log rebase failed", zap.Error(werr))
		}
	}

	r.reg.Register(m.ConnID, r.id, m.PlayerID)
	r.conns[m.ConnID] = client{playerID: m.PlayerID, outbox: m.Outbox}
	m.Reply <- SyncResult{View: st.ViewFor(r.def, m.PlayerID)}
}

func (r *Room) create(numPlayers int) (game.State, error) {
	st, err := game.NewState(r.def, numPlayers, nil)
	if err != nil {
		return game.State{}, err
	}
	meta := store.NewMetadata(r.id, r.def.Name(), st.Ctx.NumPlayers)
	if err := r.store.CreateGame(r.ctx, r.id, st, meta); err != nil {
		return game.State{}, err
	}
	return st, nil
}

func (r *Room) handleUpdate(m Update) {
	st, err := r.store.FetchState(r.ctx, r.id)
	if errors.Is(err, store.ErrNotFound) {
		r.log.Debug("drop action: no state", zap.String("player_id", m.Action.PlayerID))
		return
	}
	if err != nil {
		r.log.Error("drop action: fetch state", zap.Error(err))
		return
	}
	if !r.hasPlayer(m.Action.PlayerID) {
		r.log.Debug("drop action: player not connected", zap.String("player_id", m.Action.PlayerID))
		return
	}
	if !r.authorized(m.Action) {
		r.log.Debug("drop action: bad credentials", zap.String("player_id", m.Action.PlayerID))
		return
	}
	if m.Version != st.Version {
		r.log.Debug("drop action: stale version",
			zap.Int64("got", m.Version), zap.Int64("want", st.Version))
		return
	}

	g, ctx, err := r.def.Apply(st.G, st.Ctx, m.Action)
	if errors.Is(err, game.ErrInvalidAction) {
		r.log.Debug("drop action: rejected by game",
			zap.String("type", m.Action.Type), zap.String("player_id", m.Action.PlayerID))
		return
	}
	if err != nil {
		r.log.Error("game apply failed", zap.String("type", m.Action.Type), zap.Error(err))
		return
	}

	prevPlayer := st.Ctx.CurrentPlayer
	next := st
	next.G = g
	next.Ctx = ctx
	next.Version = st.Version + 1
	next.Log = append(append([]game.LogEntry(nil), st.Log...), game.LogEntry{
		ActionType:  m.Action.Type,
		Payload:     m.Action.Payload,
		PlayerID:    m.Action.PlayerID,
		Credentials: m.Action.Credentials,
	})
	if ctx.CurrentPlayer != prevPlayer {
		next.TurnSnapshot = next.Snapshot()
	}

	if err := r.store.WriteState(r.ctx, r.id, next); err != nil {
		r.log.Error("persist failed, no broadcast", zap.Error(err))
		return
	}
	r.broadcast(next)
}

func (r *Room) hasPlayer(playerID string) bool {
	for _, c := range r.conns {
		if c.playerID == playerID {
			return true
		}
	}
	return false
}

// authorized checks the action's credentials against the slot's stored hash.
// Rooms without metadata, and slots that never issued credentials, are open.
func (r *Room) authorized(a game.Action) bool {
	meta, err := r.store.FetchMetadata(r.ctx, r.id)
	if errors.Is(err, store.ErrNotFound) {
		return true
	}
	if err != nil {
		r.log.Error("fetch metadata", zap.Error(err))
		return false
	}
	slot, ok := meta.Players[a.PlayerID]
	if !ok {
		return false
	}
	if slot.CredentialHash == "" {
		return true
	}
	return r.authn(a.Credentials, slot.CredentialHash)
}

// broadcast sends each connection its own redaction of the new state. A slow
// or full client is dropped rather than stalling the room.
func (r *Room) broadcast(st game.State) {
	for connID, c := range r.conns {
		pkt := Packet{RoomID: r.id, View: st.ViewFor(r.def, c.playerID)}
		select {
		case c.outbox <- pkt:
			// ok
		default:
			close(c.outbox)
			delete(r.conns, connID)
			r.reg.Unregister(connID)
			r.log.Warn("dropped slow client", zap.String("conn_id", connID))
		}
	}
}
