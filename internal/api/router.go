package api

import (
	"encoding/json"
	"net/http"

	"github.com/taskdeck/taskdeck/internal/api/handlers"
	"github.com/taskdeck/taskdeck/internal/api/middleware"
	"github.com/taskdeck/taskdeck/internal/config"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// NewRouter creates the HTTP router with all API routes.
func NewRouter(cfg *config.Config, h *handlers.Handlers) http.Handler {
	r := chi.NewRouter()

	identity := middleware.NewIdentity(cfg.Auth.Keys)

	// Global middleware
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	r.Use(identity.Middleware)
	r.Use(middleware.Logger)
	r.Use(middleware.Telemetry)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "PATCH", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-User-Id", "X-Request-Id"},
		ExposedHeaders:   []string{"X-Request-Id", "X-Thread-Id"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	// Health & info
	r.Get("/health", healthHandler(h))
	r.Get("/version", versionHandler(cfg))

	r.Route("/api", func(r chi.Router) {
		// Tasks
		r.Route("/tasks", func(r chi.Router) {
			r.Get("/", h.ListTasks)
			r.Post("/", h.CreateTask)
			r.Get("/counts", h.TaskCounts)
			r.Get("/events", h.ListTaskEvents)
			r.Route("/{taskId}", func(r chi.Router) {
				r.Get("/", h.GetTask)
				r.Put("/", h.UpdateTask)
				r.Delete("/", h.DeleteTask)
			})
		})

		// Tags
		r.Route("/tags", func(r chi.Router) {
			r.Get("/", h.ListTags)
			r.Post("/", h.CreateTag)
			r.Delete("/{tagName}", h.DeleteTag)
		})

		// Chat (synchronous)
		r.Route("/chat", func(r chi.Router) {
			r.Post("/", h.Chat)
			r.Get("/history", h.ChatHistory)
			r.Delete("/history", h.ClearChatHistory)
		})

		// ChatKit (SSE streaming)
		r.Route("/chatkit", func(r chi.Router) {
			r.Post("/", h.ChatKit)
			r.Route("/threads", func(r chi.Router) {
				r.Get("/", h.ListThreads)
				r.Get("/{threadId}", h.GetThread)
				r.Delete("/{threadId}", h.DeleteThread)
			})
		})
	})

	// MCP protocol endpoint
	r.Post("/mcp", h.MCPEndpoint)

	return r
}

func healthHandler(h *handlers.Handlers) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		status := "healthy"
		code := http.StatusOK
		if err := h.Store.Ping(r.Context()); err != nil {
			status = "degraded"
			code = http.StatusServiceUnavailable
		}
		w.WriteHeader(code)
		json.NewEncoder(w).Encode(map[string]string{
			"status":  status,
			"service": "taskdeck",
		})
	}
}

func versionHandler(cfg *config.Config) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{
			"version": cfg.Version,
			"service": "taskdeck",
		})
	}
}
