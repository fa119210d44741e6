package httpserver

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/mirrorsms/server/internal/relay"
	"github.com/mirrorsms/server/internal/service"
)

// Server wires services into HTTP handlers.
type Server struct {
	auth   service.AuthService
	sync   service.SyncService
	queue  service.QueueService
	events *relay.Relay
	log    *zap.Logger
}

// New constructs an HTTP server with injected services.
func New(auth service.AuthService, sync service.SyncService, queue service.QueueService, events *relay.Relay, log *zap.Logger) *Server {
	return &Server{auth: auth, sync: sync, queue: queue, events: events, log: log}
}

// Routes builds the API router.
func (s *Server) Routes() chi.Router {
	r := chi.NewRouter()
	r.Use(Recover(s.log), Logging(s.log))

	r.Get("/health", s.handleHealth)

	r.Route("/api", func(r chi.Router) {
		r.Route("/auth", func(r chi.Router) {
			r.Post("/register", s.handleRegister)
			r.Post("/login", s.handleLogin)
			r.Post("/refresh", s.handleRefresh)
			r.With(s.requireAuth).Post("/logout", s.handleLogout)
		})

		r.Group(func(r chi.Router) {
			r.Use(s.requireAuth)

			r.Route("/sync", func(r chi.Router) {
				r.Post("/full", s.handleFullSync)
				r.Post("/incremental", s.handleIncrementalSync)
				r.Get("/status", s.handleSyncStatus)
			})

			r.Route("/queue", func(r chi.Router) {
				r.Get("/", s.handleFetchQueue)
				r.Post("/confirm", s.handleConfirmSent)
			})

			r.Post("/messages/send", s.handleSendMessage)
			r.Get("/events", s.handleEvents)
		})
	})

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, okResponse{Success: true})
}
