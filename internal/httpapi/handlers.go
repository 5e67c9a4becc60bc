package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/matchbox-io/matchbox/internal/lobby"
)

type createRequest struct {
	NumPlayers int             `json:"numPlayers,omitempty"`
	SetupData  json.RawMessage `json:"setupData,omitempty"`
}

type joinRequest struct {
	PlayerID   *int   `json:"playerID,omitempty"`
	PlayerName string `json:"playerName,omitempty"`
}

type renameRequest struct {
	PlayerID    *int   `json:"playerID,omitempty"`
	Credentials string `json:"credentials,omitempty"`
	NewName     string `json:"newName,omitempty"`
}

type leaveRequest struct {
	PlayerID    *int   `json:"playerID,omitempty"`
	Credentials string `json:"credentials,omitempty"`
}

type playAgainRequest struct {
	PlayerID    *int   `json:"playerID,omitempty"`
	Credentials string `json:"credentials,omitempty"`
	NumPlayers  int    `json:"numPlayers,omitempty"`
}

type playerEntry struct {
	ID   int    `json:"id"`
	Name string `json:"name,omitempty"`
}

func CreateGame(svc *lobby.Service, log *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var body createRequest
		decodeBody(r, &body)
		roomID, err := svc.CreateGame(r.Context(), chi.URLParam(r, "name"), body.NumPlayers, body.SetupData)
		if err != nil {
			writeError(w, log, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"gameID": roomID})
	}
}

func Join(svc *lobby.Service, log *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var body joinRequest
		decodeBody(r, &body)
		creds, err := svc.Join(r.Context(),
			chi.URLParam(r, "name"), chi.URLParam(r, "id"),
			playerID(body.PlayerID), body.PlayerName)
		if err != nil {
			writeError(w, log, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"playerCredentials": creds})
	}
}

func Rename(svc *lobby.Service, log *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var body renameRequest
		decodeBody(r, &body)
		err := svc.Rename(r.Context(),
			chi.URLParam(r, "name"), chi.URLParam(r, "id"),
			playerID(body.PlayerID), body.Credentials, body.NewName)
		if err != nil {
			writeError(w, log, err)
			return
		}
		w.WriteHeader(http.StatusOK)
	}
}

func Leave(svc *lobby.Service, log *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var body leaveRequest
		decodeBody(r, &body)
		err := svc.Leave(r.Context(),
			chi.URLParam(r, "name"), chi.URLParam(r, "id"),
			playerID(body.PlayerID), body.Credentials)
		if err != nil {
			writeError(w, log, err)
			return
		}
		w.WriteHeader(http.StatusOK)
	}
}

func PlayAgain(svc *lobby.Service, log *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var body playAgainRequest
		decodeBody(r, &body)
		nextID, err := svc.PlayAgain(r.Context(),
			chi.URLParam(r, "name"), chi.URLParam(r, "id"),
			playerID(body.PlayerID), body.Credentials, body.NumPlayers)
		if err != nil {
			writeError(w, log, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"nextRoomID": nextID})
	}
}

func ListGames(svc *lobby.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, svc.ListGames())
	}
}

func ListRooms(svc *lobby.Service, log *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rooms, err := svc.ListRooms(r.Context(), chi.URLParam(r, "name"))
		if err != nil {
			writeError(w, log, err)
			return
		}
		entries := make([]map[string]any, 0, len(rooms))
		for _, rm := range rooms {
			entries = append(entries, map[string]any{
				"gameID":  rm.RoomID,
				"players": playerEntries(rm.Players),
			})
		}
		writeJSON(w, http.StatusOK, map[string]any{"rooms": entries})
	}
}

func GetRoom(svc *lobby.Service, log *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rm, err := svc.GetRoom(r.Context(), chi.URLParam(r, "name"), chi.URLParam(r, "id"))
		if err != nil {
			writeError(w, log, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"roomID":  rm.RoomID,
			"players": playerEntries(rm.Players),
		})
	}
}

func Healthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
}

// decodeBody tolerates empty and malformed bodies; field validation is the
// lobby's job, so a garbled body just means missing fields.
func decodeBody(r *http.Request, v any) {
	if r.Body == nil {
		return
	}
	_ = json.NewDecoder(r.Body).Decode(v)
}

func playerID(id *int) string {
	if id == nil || *id < 0 {
		return ""
	}
	return strconv.Itoa(*id)
}

func playerEntries(players []lobby.PlayerInfo) []playerEntry {
	out := make([]playerEntry, 0, len(players))
	for _, p := range players {
		out = append(out, playerEntry{ID: p.ID, Name: p.Name})
	}
	return out
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, log *zap.Logger, err error) {
	switch {
	case errors.Is(err, lobby.ErrNotFound):
		http.Error(w, err.Error(), http.StatusNotFound)
	case errors.Is(err, lobby.ErrForbidden):
		http.Error(w, err.Error(), http.StatusForbidden)
	case errors.Is(err, lobby.ErrConflict):
		http.Error(w, err.Error(), http.StatusConflict)
	default:
		log.Error("lobby request failed", zap.Error(err))
		http.Error(w, "internal error", http.StatusInternalServerError)
	}
}
