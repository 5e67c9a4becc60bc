package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/matchbox-io/matchbox/internal/hub"
	"github.com/matchbox-io/matchbox/internal/room"
	"github.com/matchbox-io/matchbox/pkg/game"
	"github.com/matchbox-io/matchbox/pkg/types"
)

const (
	writeTimeout = 3 * time.Second
	idleTimeout  = 10 * time.Minute
)

// Handler serves the real-time channel. One connection, one goroutine pair:
// the reader loop below and a writer draining the outbox the hub broadcasts
// into.
func Handler(h *hub.Hub, log *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close(websocket.StatusNormalClosure, "bye")

		connID := uuid.NewString()
		outbox := make(chan room.Packet, 8)
		defer h.Disconnect(connID)

		// Writer goroutine: the channel closes when the room drops us.
		writeCtx, writeCancel := context.WithCancel(r.Context())
		defer writeCancel()
		go func() {
			for pkt := range outbox {
				view := pkt.View
				msg := types.ServerMessage{
					Type:    "update",
					RoomID:  pkt.RoomID,
					Version: view.Version,
					State:   &view,
				}
				payload, _ := json.Marshal(msg)
				ctx, cancel := context.WithTimeout(writeCtx, writeTimeout)
				_ = conn.Write(ctx, websocket.MessageText, payload)
				cancel()
			}
		}()

		for {
			ctx, cancel := context.WithTimeout(r.Context(), idleTimeout)
			_, data, err := conn.Read(ctx)
			cancel()
			if err != nil {
				switch websocket.CloseStatus(err) {
				case websocket.StatusNormalClosure, websocket.StatusGoingAway:
					return
				}
				return
			}

			var cm types.ClientMessage
			if err := json.Unmarshal(data, &cm); err != nil {
				writeError(r.Context(), conn, "bad json")
				continue
			}

			switch cm.Type {
			case "sync":
				view, err := h.Sync(connID, cm.Game, cm.RoomID, cm.PlayerID, cm.NumPlayers, outbox)
				if err != nil {
					log.Debug("sync failed", zap.String("room_id", cm.RoomID), zap.Error(err))
					writeError(r.Context(), conn, "sync failed")
					continue
				}
				msg := types.ServerMessage{Type: "sync", RoomID: cm.RoomID, Version: view.Version, State: &view}
				payload, _ := json.Marshal(msg)
				wctx, wcancel := context.WithTimeout(r.Context(), writeTimeout)
				_ = conn.Write(wctx, websocket.MessageText, payload)
				wcancel()

			case "update":
				h.Update(cm.RoomID, game.Action{
					Type:        cm.ActionType,
					Payload:     cm.Payload,
					PlayerID:    cm.PlayerID,
					Credentials: cm.Credentials,
				}, cm.Version)

			default:
				writeError(r.Context(), conn, "unknown type")
			}
		}
	}
}

func writeError(ctx context.Context, conn *websocket.Conn, msg string) {
	payload, _ := json.Marshal(types.ServerMessage{Type: "error", Error: msg})
	wctx, cancel := context.WithTimeout(ctx, writeTimeout)
	_ = conn.Write(wctx, websocket.MessageText, payload)
	cancel()
}
