// Package registry tracks which live connections belong to which room. It is
// shared by every connection handler, so all access goes through one RWMutex.
// Transport handles never live here; a connection is just an opaque ID.
package registry

import "sync"

// Identity is what a connection resolved to at sync time.
type Identity struct {
	RoomID   string
	PlayerID string
}

type Registry struct {
	mu    sync.RWMutex
	conns map[string]Identity
	rooms map[string]map[string]struct{}
}

func New() *Registry {
	return &Registry{
		conns: make(map[string]Identity),
		rooms: make(map[string]map[string]struct{}),
	}
}

// Register binds a connection to (roomID, playerID), detaching it from any
// room it was previously in. A connection belongs to exactly one room.
func (r *Registry) Register(connID, roomID, playerID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.detach(connID)
	r.conns[connID] = Identity{RoomID: roomID, PlayerID: playerID}
	members, ok := r.rooms[roomID]
	if !ok {
		members = make(map[string]struct{})
		r.rooms[roomID] = members
	}
	members[connID] = struct{}{}
}

// Unregister drops a connection. Unknown connections are a no-op.
func (r *Registry) Unregister(connID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.detach(connID)
	delete(r.conns, connID)
}

func (r *Registry) detach(connID string) {
	id, ok := r.conns[connID]
	if !ok {
		return
	}
	if members, ok := r.rooms[id.RoomID]; ok {
		delete(members, connID)
		if len(members) == 0 {
			delete(r.rooms, id.RoomID)
		}
	}
}

// MembersOf returns the connections currently synced into a room.
func (r *Registry) MembersOf(roomID string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	members := r.rooms[roomID]
	out := make([]string, 0, len(members))
	for connID := range members {
		out = append(out, connID)
	}
	return out
}

// IdentityOf reports what a connection is bound to, if anything.
func (r *Registry) IdentityOf(connID string) (Identity, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.conns[connID]
	return id, ok
}
