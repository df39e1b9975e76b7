// Package handlers implements the HTTP handlers for the TaskDeck backend:
// task and tag CRUD, the chat assistant (sync and streaming), conversation
// history, and the MCP endpoint.
package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/taskdeck/taskdeck/internal/agent"
	"github.com/taskdeck/taskdeck/internal/config"
	"github.com/taskdeck/taskdeck/internal/llm"
	"github.com/taskdeck/taskdeck/internal/mcpgw"
	"github.com/taskdeck/taskdeck/internal/store"
	"github.com/taskdeck/taskdeck/internal/tools"
)

// Handlers holds all handler dependencies.
type Handlers struct {
	Store      store.Store
	Executor   *tools.Executor
	Loop       *agent.Loop
	MCPGateway *mcpgw.Gateway
	Config     *config.Config
}

// New creates a Handlers instance with all dependencies wired.
func New(s store.Store, generator llm.Generator, cfg *config.Config) *Handlers {
	exec := tools.NewExecutor(s)
	return &Handlers{
		Store:      s,
		Executor:   exec,
		Loop:       agent.NewLoop(generator, exec),
		MCPGateway: mcpgw.NewGateway(exec, cfg.Version),
		Config:     cfg,
	}
}

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}

// respondStoreError maps store failures to HTTP: missing entities are 404,
// uniqueness violations are 409, everything else is 500.
func respondStoreError(w http.ResponseWriter, err error) {
	var notFound *store.ErrNotFound
	if errors.As(err, &notFound) {
		respondError(w, http.StatusNotFound, err.Error())
		return
	}
	var conflict *store.ErrConflict
	if errors.As(err, &conflict) {
		respondError(w, http.StatusConflict, err.Error())
		return
	}
	respondError(w, http.StatusInternalServerError, err.Error())
}

func queryInt(r *http.Request, key string, fallback int) int {
	if v := r.URL.Query().Get(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}
