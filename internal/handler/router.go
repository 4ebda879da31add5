/*
Package handler provides the HTTP handlers and routing setup for the notesync server.

This file defines the main Router, applying logging, CORS and IP-based rate
limiting before delegating to the health, presence and WebSocket handlers.
*/
package handler

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"
	"github.com/rs/cors"
	"golang.org/x/time/rate"

	"notesync/internal/pkg/auth/jwt"
	"notesync/internal/pkg/limiter"
	"notesync/internal/pkg/logx"
	"notesync/internal/pkg/resp"
)

const (
	ConnectRate  = 1
	ConnectBurst = 10
	APIRate      = 5
	APIBurst     = 20
)

// Router sets up the main HTTP routing table. The rate limiters' sweepers stop
// when ctx is done.
func Router(ctx context.Context, deps *AppDeps) http.Handler {
	connectLimiter := limiter.NewIPRateLimiter(ctx, rate.Limit(ConnectRate), ConnectBurst)
	apiLimiter := limiter.NewIPRateLimiter(ctx, rate.Limit(APIRate), APIBurst)

	r := chi.NewRouter()

	allowedOrigins := make(map[string]struct{})
	for _, origin := range deps.Config.AllowedOrigins {
		allowedOrigins[origin] = struct{}{}
	}

	var wsUpgrader = websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin: func(r *http.Request) bool {
			if deps.Config.IsDevelopment() {
				return true
			}

			origin := r.Header.Get("Origin")
			if _, ok := allowedOrigins[origin]; ok {
				return true
			}

			logx.Warn("WebSocket connection rejected: Origin not allowed.", "origin", origin)
			return false
		},
	}

	corsAllowedOrigins := []string{}
	if deps.Config.IsDevelopment() {
		corsAllowedOrigins = []string{"*"}
	} else if len(deps.Config.AllowedOrigins) > 0 {
		corsAllowedOrigins = deps.Config.AllowedOrigins
	}

	c := cors.New(cors.Options{
		AllowedOrigins:   corsAllowedOrigins,
		AllowedMethods:   []string{"GET", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{},
		AllowCredentials: true,
		MaxAge:           300,
	})
	r.Use(c.Handler)

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(logx.RequestLogger(logx.RequestLoggerOptions{QuietPaths: []string{"/health"}}))
	r.Use(middleware.Recoverer)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		data := map[string]any{
			"status":   "ok",
			"service":  "notesync",
			"instance": deps.Hub.InstanceID(),
			"hub":      deps.Hub.Stats(),
		}
		resp.RespondSuccess(w, r, data)
	})

	r.Route("/api", func(api chi.Router) {
		api.Use(apiLimiter.Middleware)
		api.Use(jwt.RequireIdentity(deps.Config.JWTSecret))

		api.Get("/notes/{noteId}/presence", HandleGetPresence(deps))
	})

	r.With(connectLimiter.Middleware, jwt.RequireIdentity(deps.Config.JWTSecret)).
		Get("/ws", HandleWebSocket(wsUpgrader, deps))

	return r
}
