package api

import (
	"net/http"

	"github.com/ashureev/oracle-shell/internal/identity"
	"github.com/ashureev/oracle-shell/internal/middleware"
	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
)

// Deps are the services behind the HTTP API.
type Deps struct {
	Chat           ChatSender
	Assistant      AssistantResolver
	Shards         ShardArchive
	Store          Pinger
	Terminal       http.Handler // optional WebSocket endpoint
	AllowedOrigins []string
	IsDevelopment  bool
	RequestLogging bool
}

// NewRouter builds the chi router with global middleware and all routes.
func NewRouter(d Deps) chi.Router {
	r := chi.NewRouter()

	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	if d.RequestLogging {
		r.Use(chiMiddleware.Logger)
	}
	r.Use(chiMiddleware.Recoverer)
	r.Use(chiMiddleware.Heartbeat("/health"))
	r.Use(middleware.CORS(d.AllowedOrigins))
	r.Use(identity.Middleware(d.IsDevelopment))

	NewHealthHandler(d.Store).RegisterRoutes(r)
	NewChatHandler(d.Chat, d.Assistant).RegisterRoutes(r)
	NewShardHandler(d.Shards).RegisterRoutes(r)

	if d.Terminal != nil {
		r.Get("/ws/oracle", d.Terminal.ServeHTTP)
	}
	return r
}
