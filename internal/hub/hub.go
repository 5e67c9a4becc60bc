// Package hub is the front door of the real-time path. It owns the shared
// connection registry and the per-room actors, creating rooms on demand and
// routing sync/update/disconnect traffic to them.
package hub

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/matchbox-io/matchbox/internal/auth"
	"github.com/matchbox-io/matchbox/internal/registry"
	"github.com/matchbox-io/matchbox/internal/room"
	"github.com/matchbox-io/matchbox/internal/store"
	"github.com/matchbox-io/matchbox/pkg/game"
)

type Hub struct {
	games *game.Registry
	store store.Store
	reg   *registry.Registry
	authn auth.Authenticator
	log   *zap.Logger

	mu    sync.Mutex
	rooms map[string]*room.Room

	ctx    context.Context
	cancel context.CancelFunc
}

func New(parent context.Context, games *game.Registry, st store.Store, authn auth.Authenticator, log *zap.Logger) *Hub {
	ctx, cancel := context.WithCancel(parent)
	return &Hub{
		games:  games,
		store:  st,
		reg:    registry.New(),
		authn:  authn,
		log:    log,
		rooms:  make(map[string]*room.Room),
		ctx:    ctx,
		cancel: cancel,
	}
}

// Registry exposes the shared connection registry.
func (h *Hub) Registry() *registry.Registry { return h.reg }

// Sync binds a connection to a room and returns the player's filtered view.
// If the connection was synced into a different room, it is moved first. A
// room that already exists belongs to the game that created it: a sync
// claiming a different game is rejected, so one game's rules and redaction
// can never run against another game's state.
func (h *Hub) Sync(connID, gameName, roomID, playerID string, numPlayers int, outbox chan room.Packet) (game.View, error) {
	def, ok := h.games.Get(gameName)
	if !ok {
		return game.View{}, fmt.Errorf("unknown game %q", gameName)
	}
	if meta, err := h.store.FetchMetadata(h.ctx, roomID); err == nil {
		if meta.GameName != gameName {
			return game.View{}, fmt.Errorf("room %q belongs to game %q", roomID, meta.GameName)
		}
	} else if !errors.Is(err, store.ErrNotFound) {
		return game.View{}, fmt.Errorf("fetch metadata: %w", err)
	}

	if prev, ok := h.reg.IdentityOf(connID); ok && prev.RoomID != roomID {
		if r := h.get(prev.RoomID); r != nil {
			r.Inbox() <- room.Leave{ConnID: connID}
		} else {
			h.reg.Unregister(connID)
		}
	}

	r, err := h.ensure(roomID, def)
	if err != nil {
		return game.View{}, err
	}
	reply := make(chan room.SyncResult, 1)
	msg := room.Sync{
		ConnID:     connID,
		PlayerID:   playerID,
		NumPlayers: numPlayers,
		Outbox:     outbox,
		Reply:      reply,
	}
	select {
	case r.Inbox() <- msg:
	case <-r.Done():
		return game.View{}, room.ErrClosed
	}
	select {
	case res := <-reply:
		return res.View, res.Err
	case <-r.Done():
		// The actor answers queued syncs while shutting down; collect the
		// reply if it got to ours.
		select {
		case res := <-reply:
			return res.View, res.Err
		default:
		}
		return game.View{}, room.ErrClosed
	case <-h.ctx.Done():
		return game.View{}, h.ctx.Err()
	}
}

// Update submits an action. Rejections of any kind are silent; no actor for
// the room means no connections are synced into it, so there is nothing to do.
func (h *Hub) Update(roomID string, a game.Action, version int64) {
	r := h.get(roomID)
	if r == nil {
		h.log.Debug("drop action: no active room", zap.String("room_id", roomID))
		return
	}
	r.Inbox() <- room.Update{Action: a, Version: version}
}

// Disconnect detaches a connection. Unknown connections are a no-op.
func (h *Hub) Disconnect(connID string) {
	id, ok := h.reg.IdentityOf(connID)
	if !ok {
		return
	}
	if r := h.get(id.RoomID); r != nil {
		r.Inbox() <- room.Leave{ConnID: connID}
		return
	}
	h.reg.Unregister(connID)
}

// Remove shuts down a room's actor, if one is running. The lobby calls this
// when it wipes a room.
func (h *Hub) Remove(roomID string) {
	h.mu.Lock()
	r, ok := h.rooms[roomID]
	delete(h.rooms, roomID)
	h.mu.Unlock()
	if ok {
		r.Inbox() <- room.Shutdown{}
	}
}

// Close shuts down every room actor.
func (h *Hub) Close() {
	h.mu.Lock()
	rooms := h.rooms
	h.rooms = make(map[string]*room.Room)
	h.mu.Unlock()
	for _, r := range rooms {
		r.Inbox() <- room.Shutdown{}
	}
	h.cancel()
}

func (h *Hub) get(roomID string) *room.Room {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.rooms[roomID]
}

func (h *Hub) ensure(roomID string, def game.Definition) (*room.Room, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if r, ok := h.rooms[roomID]; ok {
		if r.Game() != def.Name() {
			return nil, fmt.Errorf("room %q belongs to game %q", roomID, r.Game())
		}
		return r, nil
	}
	r := room.New(h.ctx, roomID, def, h.store, h.reg, h.authn, h.log)
	h.rooms[roomID] = r
	return r, nil
}
