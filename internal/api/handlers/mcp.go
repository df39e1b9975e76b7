package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/taskdeck/taskdeck/internal/api/middleware"
	"github.com/taskdeck/taskdeck/pkg/models"
)

// MCPEndpoint serves MCP JSON-RPC 2.0 over HTTP POST. The authenticated
// user scopes every tool invocation; notifications get 202 with no body.
func (h *Handlers) MCPEndpoint(w http.ResponseWriter, r *http.Request) {
	var req models.MCPRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondJSON(w, http.StatusOK, models.MCPResponse{
			Jsonrpc: "2.0",
			Error: &models.MCPError{
				Code:    -32700,
				Message: "Parse error",
				Data:    err.Error(),
			},
		})
		return
	}

	userID := middleware.GetUserID(r.Context())
	resp := h.MCPGateway.HandleJSONRPC(r.Context(), userID, &req)
	if resp == nil {
		w.WriteHeader(http.StatusAccepted)
		return
	}
	respondJSON(w, http.StatusOK, resp)
}
