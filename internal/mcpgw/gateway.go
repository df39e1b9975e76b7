// Package mcpgw exposes the task-management operations over the MCP
// (Model Context Protocol), JSON-RPC 2.0 over HTTP. Clients discover the
// operation set via tools/list and invoke via tools/call; both shapes are
// derived from the same registry the chat assistant uses, so the two
// surfaces cannot drift.
//
// The authenticated user is resolved by the transport before any request
// reaches the gateway — tool arguments can never name a different
// principal.
package mcpgw

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/taskdeck/taskdeck/internal/tools"
	"github.com/taskdeck/taskdeck/pkg/models"

	"github.com/rs/zerolog/log"
)

const protocolVersion = "2024-11-05"

// Gateway serves MCP requests against the local operation executor.
type Gateway struct {
	executor *tools.Executor
	version  string
}

// NewGateway creates an MCP gateway over the given executor.
func NewGateway(e *tools.Executor, version string) *Gateway {
	return &Gateway{executor: e, version: version}
}

// HandleJSONRPC processes one MCP JSON-RPC 2.0 request on behalf of
// userID. A nil response means the request was a notification.
func (gw *Gateway) HandleJSONRPC(ctx context.Context, userID string, req *models.MCPRequest) *models.MCPResponse {
	switch req.Method {

	// ── Discovery ────────────────────────────────────
	case "initialize":
		return gw.handleInitialize(req)

	case "tools/list":
		return &models.MCPResponse{
			Jsonrpc: "2.0",
			Result: map[string]interface{}{
				"tools": tools.MCPToolInfos(),
			},
			ID: req.ID,
		}

	// ── Tool Invocation ──────────────────────────────
	case "tools/call":
		return gw.handleToolsCall(ctx, userID, req)

	// ── Notifications (no response) ──────────────────
	case "notifications/initialized":
		log.Debug().Str("user_id", userID).Msg("MCP client initialized")
		return nil

	case "ping":
		return &models.MCPResponse{
			Jsonrpc: "2.0",
			Result:  map[string]string{"status": "pong"},
			ID:      req.ID,
		}

	default:
		return &models.MCPResponse{
			Jsonrpc: "2.0",
			Error: &models.MCPError{
				Code:    -32601,
				Message: "Method not found",
				Data:    fmt.Sprintf("Method '%s' is not supported", req.Method),
			},
			ID: req.ID,
		}
	}
}

func (gw *Gateway) handleInitialize(req *models.MCPRequest) *models.MCPResponse {
	return &models.MCPResponse{
		Jsonrpc: "2.0",
		Result: map[string]interface{}{
			"protocolVersion": protocolVersion,
			"capabilities": map[string]interface{}{
				"tools": map[string]bool{
					"listChanged": false,
				},
			},
			"serverInfo": map[string]string{
				"name":    "taskdeck-mcp",
				"version": gw.version,
			},
		},
		ID: req.ID,
	}
}

func (gw *Gateway) handleToolsCall(ctx context.Context, userID string, req *models.MCPRequest) *models.MCPResponse {
	var params models.MCPToolCallParams
	if err := json.Unmarshal(req.Params, &params); err != nil {
		return &models.MCPResponse{
			Jsonrpc: "2.0",
			Error: &models.MCPError{
				Code:    -32602,
				Message: "Invalid params",
				Data:    err.Error(),
			},
			ID: req.ID,
		}
	}
	if params.Name == "" {
		return &models.MCPResponse{
			Jsonrpc: "2.0",
			Error: &models.MCPError{
				Code:    -32602,
				Message: "Invalid params",
				Data:    "tool name is required",
			},
			ID: req.ID,
		}
	}

	known := false
	for _, d := range tools.Descriptors() {
		if d.Name == params.Name {
			known = true
			break
		}
	}
	if !known {
		return &models.MCPResponse{
			Jsonrpc: "2.0",
			Error: &models.MCPError{
				Code:    -32001,
				Message: "Tool not found",
				Data:    fmt.Sprintf("Tool '%s' is not registered", params.Name),
			},
			ID: req.ID,
		}
	}

	result := gw.executor.Invoke(ctx, params.Name, params.Arguments, userID)

	text, err := json.Marshal(result)
	if err != nil {
		return &models.MCPResponse{
			Jsonrpc: "2.0",
			Error: &models.MCPError{
				Code:    -32603,
				Message: "Internal error",
				Data:    err.Error(),
			},
			ID: req.ID,
		}
	}

	return &models.MCPResponse{
		Jsonrpc: "2.0",
		Result: models.MCPToolResult{
			Content: []models.MCPContent{{
				Type: "text",
				Text: string(text),
			}},
			IsError: result["success"] == false,
		},
		ID: req.ID,
	}
}
