package httpapi

import (
	"crypto/subtle"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/matchbox-io/matchbox/internal/hub"
	"github.com/matchbox-io/matchbox/internal/lobby"
	"github.com/matchbox-io/matchbox/internal/ws"
)

// SetupRoutes builds the router with the lobby and hub injected. When
// apiSecret is non-empty, every lobby route requires a matching
// Authorization header.
func SetupRoutes(svc *lobby.Service, h *hub.Hub, log *zap.Logger, apiSecret string) http.Handler {
	r := chi.NewRouter()

	r.Get("/healthz", Healthz)
	r.Get("/ws", ws.Handler(h, log))

	r.Route("/games", func(r chi.Router) {
		if apiSecret != "" {
			r.Use(RequireSecret(apiSecret))
		}
		r.Get("/", ListGames(svc))
		r.Route("/{name}", func(r chi.Router) {
			r.Get("/", ListRooms(svc, log))
			r.Post("/create", CreateGame(svc, log))
			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", GetRoom(svc, log))
				r.Post("/join", Join(svc, log))
				r.Post("/rename", Rename(svc, log))
				r.Post("/leave", Leave(svc, log))
				r.Post("/playAgain", PlayAgain(svc, log))
			})
		})
	})
	return r
}

// RequireSecret gates lobby routes behind a shared secret.
func RequireSecret(secret string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			got := r.Header.Get("Authorization")
			if subtle.ConstantTimeCompare([]byte(got), []byte(secret)) != 1 {
				http.Error(w, "forbidden", http.StatusForbidden)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
