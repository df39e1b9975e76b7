package mcpgw

import (
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/taskdeck/taskdeck/internal/store"
	"github.com/taskdeck/taskdeck/internal/tools"
	"github.com/taskdeck/taskdeck/pkg/models"
)

func newGateway(t *testing.T) *Gateway {
	t.Helper()
	t.Setenv("TASKDECK_DATA_DIR", t.TempDir())
	s := store.NewMemoryStore()
	t.Cleanup(func() { s.Close() })
	return NewGateway(tools.NewExecutor(s), "0.4.0")
}

func rpc(method string, params any) *models.MCPRequest {
	req := &models.MCPRequest{Jsonrpc: "2.0", Method: method, ID: 1}
	if params != nil {
		raw, _ := json.Marshal(params)
		req.Params = raw
	}
	return req
}

func TestInitialize(t *testing.T) {
	gw := newGateway(t)
	resp := gw.HandleJSONRPC(context.Background(), "u", rpc("initialize", nil))
	if resp == nil || resp.Error != nil {
		t.Fatalf("resp = %+v", resp)
	}
	result := resp.Result.(map[string]interface{})
	if result["protocolVersion"] != "2024-11-05" {
		t.Errorf("protocolVersion = %v", result["protocolVersion"])
	}
}

func TestToolsListMatchesRegistry(t *testing.T) {
	gw := newGateway(t)
	resp := gw.HandleJSONRPC(context.Background(), "u", rpc("tools/list", nil))
	if resp.Error != nil {
		t.Fatalf("error: %+v", resp.Error)
	}
	listed := resp.Result.(map[string]interface{})["tools"].([]models.MCPToolInfo)
	if len(listed) != len(tools.Descriptors()) {
		t.Errorf("listed %d tools, registry has %d", len(listed), len(tools.Descriptors()))
	}
}

func TestToolsCallInjectsIdentity(t *testing.T) {
	gw := newGateway(t)
	ctx := context.Background()

	// Arguments claim to be bob; the authenticated user is alice.
	resp := gw.HandleJSONRPC(ctx, "alice", rpc("tools/call", models.MCPToolCallParams{
		Name:      "add_task",
		Arguments: map[string]any{"title": "secret", "user_id": "bob"},
	}))
	if resp.Error != nil {
		t.Fatalf("error: %+v", resp.Error)
	}

	list := gw.HandleJSONRPC(ctx, "bob", rpc("tools/call", models.MCPToolCallParams{
		Name: "list_tasks",
	}))
	text := list.Result.(models.MCPToolResult).Content[0].Text
	if strings.Contains(text, "secret") {
		t.Error("task leaked to the argument-supplied identity")
	}

	aliceList := gw.HandleJSONRPC(ctx, "alice", rpc("tools/call", models.MCPToolCallParams{
		Name: "list_tasks",
	}))
	if !strings.Contains(aliceList.Result.(models.MCPToolResult).Content[0].Text, "secret") {
		t.Error("task missing for the authenticated identity")
	}
}

func TestToolsCallFailureIsFlagged(t *testing.T) {
	gw := newGateway(t)
	resp := gw.HandleJSONRPC(context.Background(), "u", rpc("tools/call", models.MCPToolCallParams{
		Name:      "complete_task",
		Arguments: map[string]any{"title_match": "nope"},
	}))
	result := resp.Result.(models.MCPToolResult)
	if !result.IsError {
		t.Error("operation failure should set isError")
	}
	if !strings.Contains(result.Content[0].Text, "No pending task found") {
		t.Errorf("text = %q", result.Content[0].Text)
	}
}

func TestUnknownToolAndMethod(t *testing.T) {
	gw := newGateway(t)
	ctx := context.Background()

	resp := gw.HandleJSONRPC(ctx, "u", rpc("tools/call", models.MCPToolCallParams{Name: "no_such_tool"}))
	if resp.Error == nil || resp.Error.Code != -32001 {
		t.Errorf("unknown tool error = %+v", resp.Error)
	}

	resp = gw.HandleJSONRPC(ctx, "u", rpc("resources/list", nil))
	if resp.Error == nil || resp.Error.Code != -32601 {
		t.Errorf("unknown method error = %+v", resp.Error)
	}
}

func TestNotificationGetsNoResponse(t *testing.T) {
	gw := newGateway(t)
	if resp := gw.HandleJSONRPC(context.Background(), "u", rpc("notifications/initialized", nil)); resp != nil {
		t.Errorf("notification got response: %+v", resp)
	}
}

func TestPing(t *testing.T) {
	gw := newGateway(t)
	resp := gw.HandleJSONRPC(context.Background(), "u", rpc("ping", nil))
	if resp.Result.(map[string]string)["status"] != "pong" {
		t.Errorf("resp = %+v", resp)
	}
}

func TestInvalidParams(t *testing.T) {
	gw := newGateway(t)
	req := &models.MCPRequest{Jsonrpc: "2.0", Method: "tools/call", Params: []byte(`{not json`), ID: 7}
	resp := gw.HandleJSONRPC(context.Background(), "u", req)
	if resp.Error == nil || resp.Error.Code != -32602 {
		t.Errorf("error = %+v", resp.Error)
	}
}
