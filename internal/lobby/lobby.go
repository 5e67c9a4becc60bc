// Package lobby manages room lifecycle: create, join, rename, leave, rematch,
// and listing. Every mutating operation authorizes independently and is atomic
// from the caller's perspective: all checks run before any write, and
// read-modify-write of a room's metadata is serialized per room.
package lobby

import (
	"context"
	crand "crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"sort"
	"strconv"
	"sync"

	"go.uber.org/zap"

	"github.com/matchbox-io/matchbox/internal/auth"
	"github.com/matchbox-io/matchbox/internal/store"
	"github.com/matchbox-io/matchbox/pkg/game"
)

var (
	// ErrNotFound covers absent games, rooms, and player slots.
	ErrNotFound = errors.New("not found")
	// ErrForbidden covers missing fields and credential mismatches.
	ErrForbidden = errors.New("forbidden")
	// ErrConflict covers joining an already-occupied slot.
	ErrConflict = errors.New("conflict")
)

// RoomSummary is the public shape of one room: slot ids ascending, names only
// for occupied slots, credentials never.
type RoomSummary struct {
	RoomID  string
	Players []PlayerInfo
}

type PlayerInfo struct {
	ID   int
	Name string
}

type Service struct {
	store  store.Store
	games  *game.Registry
	authn  auth.Authenticator
	log    *zap.Logger
	onWipe func(roomID string)

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// New builds a lobby service. onWipe, if non-nil, is invoked after a room is
// destroyed so the real-time hub can shut down the room's actor.
func New(st store.Store, games *game.Registry, authn auth.Authenticator, log *zap.Logger, onWipe func(roomID string)) *Service {
	return &Service{
		store:  st,
		games:  games,
		authn:  authn,
		log:    log,
		onWipe: onWipe,
		locks:  make(map[string]*sync.Mutex),
	}
}

// CreateGame builds a fresh room for a registered game and returns its id.
func (s *Service) CreateGame(ctx context.Context, gameName string, numPlayers int, setupData json.RawMessage) (string, error) {
	def, ok := s.games.Get(gameName)
	if !ok {
		return "", fmt.Errorf("game %q: %w", gameName, ErrNotFound)
	}
	if numPlayers <= 0 {
		numPlayers = game.DefaultNumPlayers
	}
	st, err := game.NewState(def, numPlayers, setupData)
	if err != nil {
		return "", fmt.Errorf("setup %q: %w", gameName, err)
	}
	roomID, err := s.freshRoomID(ctx)
	if err != nil {
		return "", err
	}
	meta := store.NewMetadata(roomID, gameName, numPlayers)
	if err := s.store.CreateGame(ctx, roomID, st, meta); err != nil {
		return "", fmt.Errorf("create room: %w", err)
	}
	s.log.Info("room created", zap.String("game", gameName), zap.String("room_id", roomID))
	return roomID, nil
}

// Join claims a vacant slot and returns the credentials for it. The secret
// goes to the caller only; storage keeps its hash.
func (s *Service) Join(ctx context.Context, gameName, roomID, playerID, name string) (string, error) {
	if playerID == "" || name == "" {
		return "", fmt.Errorf("player id and name are required: %w", ErrForbidden)
	}
	unlock := s.lockRoom(roomID)
	defer unlock()

	meta, err := s.fetchRoom(ctx, gameName, roomID)
	if err != nil {
		return "", err
	}
	slot, ok := meta.Players[playerID]
	if !ok {
		return "", fmt.Errorf("slot %q: %w", playerID, ErrNotFound)
	}
	if slot.Name != "" {
		return "", fmt.Errorf("slot %q already occupied: %w", playerID, ErrConflict)
	}

	creds := auth.NewCredentials()
	hash, err := auth.Hash(creds)
	if err != nil {
		return "", fmt.Errorf("issue credentials: %w", err)
	}
	slot.Name = name
	slot.CredentialHash = hash
	meta.Players[playerID] = slot
	if err := s.store.WriteMetadata(ctx, roomID, meta); err != nil {
		return "", fmt.Errorf("write metadata: %w", err)
	}
	return creds, nil
}

// Rename changes the display name on a slot the caller holds credentials for.
func (s *Service) Rename(ctx context.Context, gameName, roomID, playerID, credentials, newName string) error {
	if playerID == "" || newName == "" {
		return fmt.Errorf("player id and new name are required: %w", ErrForbidden)
	}
	unlock := s.lockRoom(roomID)
	defer unlock()

	meta, slot, err := s.authorizedSlot(ctx, gameName, roomID, playerID, credentials)
	if err != nil {
		return err
	}
	slot.Name = newName
	meta.Players[playerID] = slot
	if err := s.store.WriteMetadata(ctx, roomID, meta); err != nil {
		return fmt.Errorf("write metadata: %w", err)
	}
	return nil
}

// Leave vacates the caller's slot. When the last occupant leaves, the room's
// state and metadata are wiped together.
func (s *Service) Leave(ctx context.Context, gameName, roomID, playerID, credentials string) error {
	if playerID == "" {
		return fmt.Errorf("player id is required: %w", ErrForbidden)
	}
	unlock := s.lockRoom(roomID)
	defer unlock()

	meta, slot, err := s.authorizedSlot(ctx, gameName, roomID, playerID, credentials)
	if err != nil {
		return err
	}
	slot.Name = ""
	slot.CredentialHash = ""
	meta.Players[playerID] = slot

	if !meta.Occupied() {
		if err := s.store.Wipe(ctx, roomID); err != nil {
			return fmt.Errorf("wipe room: %w", err)
		}
		s.log.Info("room wiped", zap.String("room_id", roomID))
		if s.onWipe != nil {
			s.onWipe(roomID)
		}
		return nil
	}
	if err := s.store.WriteMetadata(ctx, roomID, meta); err != nil {
		return fmt.Errorf("write metadata: %w", err)
	}
	return nil
}

// PlayAgain creates the successor room, or returns the one a previous caller
// already created. The first requester wins; later requesters get the same id.
func (s *Service) PlayAgain(ctx context.Context, gameName, roomID, playerID, credentials string, numPlayers int) (string, error) {
	if playerID == "" {
		return "", fmt.Errorf("player id is required: %w", ErrForbidden)
	}
	unlock := s.lockRoom(roomID)
	defer unlock()

	meta, _, err := s.authorizedSlot(ctx, gameName, roomID, playerID, credentials)
	if err != nil {
		return "", err
	}
	if meta.NextRoomID != "" {
		return meta.NextRoomID, nil
	}
	if numPlayers <= 0 {
		numPlayers = len(meta.Players)
	}
	nextID, err := s.CreateGame(ctx, meta.GameName, numPlayers, nil)
	if err != nil {
		return "", err
	}
	meta.NextRoomID = nextID
	if err := s.store.WriteMetadata(ctx, roomID, meta); err != nil {
		return "", fmt.Errorf("write metadata: %w", err)
	}
	return nextID, nil
}

// ListGames returns registered game names in registration order.
func (s *Service) ListGames() []string {
	return s.games.Names()
}

// ListRooms returns a summary for every persisted room of one game.
func (s *Service) ListRooms(ctx context.Context, gameName string) ([]RoomSummary, error) {
	if _, ok := s.games.Get(gameName); !ok {
		return nil, fmt.Errorf("game %q: %w", gameName, ErrNotFound)
	}
	ids, err := s.store.ListRooms(ctx, gameName)
	if err != nil {
		return nil, fmt.Errorf("list rooms: %w", err)
	}
	sort.Strings(ids)
	out := make([]RoomSummary, 0, len(ids))
	for _, id := range ids {
		meta, err := s.store.FetchMetadata(ctx, id)
		if errors.Is(err, store.ErrNotFound) {
			continue // raced a wipe
		}
		if err != nil {
			return nil, fmt.Errorf("fetch metadata: %w", err)
		}
		out = append(out, summarize(meta))
	}
	return out, nil
}

// GetRoom returns one room's summary.
func (s *Service) GetRoom(ctx context.Context, gameName, roomID string) (RoomSummary, error) {
	meta, err := s.fetchRoom(ctx, gameName, roomID)
	if err != nil {
		return RoomSummary{}, err
	}
	return summarize(meta), nil
}

// fetchRoom loads metadata and checks it belongs to the named game.
func (s *Service) fetchRoom(ctx context.Context, gameName, roomID string) (store.Metadata, error) {
	meta, err := s.store.FetchMetadata(ctx, roomID)
	if errors.Is(err, store.ErrNotFound) {
		return store.Metadata{}, fmt.Errorf("room %q: %w", roomID, ErrNotFound)
	}
	if err != nil {
		return store.Metadata{}, fmt.Errorf("fetch metadata: %w", err)
	}
	if meta.GameName != gameName {
		return store.Metadata{}, fmt.Errorf("room %q: %w", roomID, ErrNotFound)
	}
	return meta, nil
}

// authorizedSlot fetches the room and verifies the caller's credentials
// against the slot's stored hash.
func (s *Service) authorizedSlot(ctx context.Context, gameName, roomID, playerID, credentials string) (store.Metadata, store.PlayerSlot, error) {
	meta, err := s.fetchRoom(ctx, gameName, roomID)
	if err != nil {
		return store.Metadata{}, store.PlayerSlot{}, err
	}
	slot, ok := meta.Players[playerID]
	if !ok {
		return store.Metadata{}, store.PlayerSlot{}, fmt.Errorf("slot %q: %w", playerID, ErrNotFound)
	}
	if !s.authn(credentials, slot.CredentialHash) {
		return store.Metadata{}, store.PlayerSlot{}, fmt.Errorf("credentials: %w", ErrForbidden)
	}
	return meta, slot, nil
}

func (s *Service) lockRoom(roomID string) func() {
	s.mu.Lock()
	l, ok := s.locks[roomID]
	if !ok {
		l = &sync.Mutex{}
		s.locks[roomID] = l
	}
	s.mu.Unlock()
	l.Lock()
	return l.Unlock
}

const roomIDCharset = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
const roomIDLength = 6

// freshRoomID draws random codes until one misses in the store.
func (s *Service) freshRoomID(ctx context.Context) (string, error) {
	for {
		id, err := generateRoomID()
		if err != nil {
			return "", fmt.Errorf("generate room id: %w", err)
		}
		_, err = s.store.FetchMetadata(ctx, id)
		if errors.Is(err, store.ErrNotFound) {
			return id, nil
		}
		if err != nil {
			return "", fmt.Errorf("check room id: %w", err)
		}
		s.log.Debug("room id collision, regenerating", zap.String("room_id", id))
	}
}

func generateRoomID() (string, error) {
	code := make([]byte, roomIDLength)
	for i := range code {
		n, err := crand.Int(crand.Reader, big.NewInt(int64(len(roomIDCharset))))
		if err != nil {
			return "", err
		}
		code[i] = roomIDCharset[n.Int64()]
	}
	return string(code), nil
}

func summarize(meta store.Metadata) RoomSummary {
	ids := make([]int, 0, len(meta.Players))
	for key := range meta.Players {
		if n, err := strconv.Atoi(key); err == nil {
			ids = append(ids, n)
		}
	}
	sort.Ints(ids)
	summary := RoomSummary{RoomID: meta.RoomID, Players: make([]PlayerInfo, 0, len(ids))}
	for _, n := range ids {
		slot := meta.Players[strconv.Itoa(n)]
		summary.Players = append(summary.Players, PlayerInfo{ID: n, Name: slot.Name})
	}
	return summary
}
