package handlers

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/taskdeck/taskdeck/internal/api/middleware"
	"github.com/taskdeck/taskdeck/internal/config"
	"github.com/taskdeck/taskdeck/internal/llm"
	"github.com/taskdeck/taskdeck/internal/store"
	"github.com/taskdeck/taskdeck/pkg/models"

	"github.com/go-chi/chi/v5"
)

// echoGenerator answers a fixed script: first an add_task tool call when
// the user mentions "add", then a confirmation.
type echoGenerator struct {
	calls int
}

func (g *echoGenerator) Generate(_ context.Context, messages []models.ChatMessage, _ []models.ToolDefinition) (*llm.Completion, error) {
	g.calls++
	last := messages[len(messages)-1]
	if last.Role == "user" && strings.Contains(last.Content, "add ") {
		call := models.ToolCallResult{ID: "tc-1", Type: "function"}
		call.Function.Name = "add_task"
		title := strings.TrimPrefix(last.Content, "add ")
		args, _ := json.Marshal(map[string]string{"title": title})
		call.Function.Arguments = string(args)
		return &llm.Completion{ToolCalls: []models.ToolCallResult{call}}, nil
	}
	return &llm.Completion{Content: "✅ Done"}, nil
}

func newTestHandlers(t *testing.T) (*Handlers, chi.Router) {
	t.Helper()
	t.Setenv("TASKDECK_DATA_DIR", t.TempDir())
	s := store.NewMemoryStore()
	t.Cleanup(func() { s.Close() })

	cfg := config.Load()
	h := New(s, &echoGenerator{}, cfg)

	r := chi.NewRouter()
	r.Route("/api/tasks", func(r chi.Router) {
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
	r.Route("/api/tags", func(r chi.Router) {
		r.Get("/", h.ListTags)
		r.Post("/", h.CreateTag)
		r.Delete("/{tagName}", h.DeleteTag)
	})
	r.Post("/api/chat", h.Chat)
	r.Get("/api/chat/history", h.ChatHistory)
	r.Delete("/api/chat/history", h.ClearChatHistory)
	r.Post("/api/chatkit", h.ChatKit)
	r.Get("/api/chatkit/threads", h.ListThreads)
	r.Post("/mcp", h.MCPEndpoint)
	return h, r
}

func doJSON(t *testing.T, router http.Handler, method, path, user string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req = req.WithContext(context.WithValue(req.Context(), middleware.UserIDKey, user))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, out any) {
	t.Helper()
	if err := json.Unmarshal(rec.Body.Bytes(), out); err != nil {
		t.Fatalf("decode response: %v\n%s", err, rec.Body.String())
	}
}

func TestTaskCRUDOverHTTP(t *testing.T) {
	_, router := newTestHandlers(t)

	rec := doJSON(t, router, "POST", "/api/tasks/", "alice", models.TaskCreateRequest{Title: "write report"})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create status = %d: %s", rec.Code, rec.Body.String())
	}
	var created models.Task
	decode(t, rec, &created)

	rec = doJSON(t, router, "GET", "/api/tasks/"+created.ID+"/", "alice", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("get status = %d", rec.Code)
	}

	completed := true
	rec = doJSON(t, router, "PUT", "/api/tasks/"+created.ID+"/", "alice",
		models.TaskUpdateRequest{Completed: &completed})
	if rec.Code != http.StatusOK {
		t.Fatalf("update status = %d: %s", rec.Code, rec.Body.String())
	}
	var updated models.Task
	decode(t, rec, &updated)
	if !updated.Completed {
		t.Error("task should be completed")
	}

	rec = doJSON(t, router, "DELETE", "/api/tasks/"+created.ID+"/", "alice", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("delete status = %d", rec.Code)
	}

	rec = doJSON(t, router, "GET", "/api/tasks/"+created.ID+"/", "alice", nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("get after delete status = %d, want 404", rec.Code)
	}
}

func TestTaskOwnershipOverHTTP(t *testing.T) {
	_, router := newTestHandlers(t)

	rec := doJSON(t, router, "POST", "/api/tasks/", "alice", models.TaskCreateRequest{Title: "private"})
	var created models.Task
	decode(t, rec, &created)

	rec = doJSON(t, router, "GET", "/api/tasks/"+created.ID+"/", "bob", nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("cross-user get status = %d, want 404", rec.Code)
	}
	rec = doJSON(t, router, "DELETE", "/api/tasks/"+created.ID+"/", "bob", nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("cross-user delete status = %d, want 404", rec.Code)
	}
}

func TestCreateTaskValidation(t *testing.T) {
	_, router := newTestHandlers(t)

	rec := doJSON(t, router, "POST", "/api/tasks/", "u", models.TaskCreateRequest{Title: "  "})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("blank title status = %d, want 400", rec.Code)
	}

	bad := 9
	rec = doJSON(t, router, "POST", "/api/tasks/", "u", models.TaskCreateRequest{Title: "x", Priority: &bad})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("bad priority status = %d, want 400", rec.Code)
	}
}

func TestTagsOverHTTP(t *testing.T) {
	_, router := newTestHandlers(t)

	rec := doJSON(t, router, "POST", "/api/tags/", "u", models.TagCreateRequest{Name: "work"})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create tag status = %d", rec.Code)
	}
	var tag models.Tag
	decode(t, rec, &tag)
	if tag.Color != models.DefaultTagColor {
		t.Errorf("default color = %q", tag.Color)
	}

	rec = doJSON(t, router, "DELETE", "/api/tags/work", "u", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("delete tag status = %d", rec.Code)
	}
	rec = doJSON(t, router, "DELETE", "/api/tags/work", "u", nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("second delete status = %d, want 404", rec.Code)
	}
}

func TestCreateTagDuplicateNameConflicts(t *testing.T) {
	_, router := newTestHandlers(t)

	rec := doJSON(t, router, "POST", "/api/tags/", "u", models.TagCreateRequest{Name: "work", Color: "#FF8800"})
	if rec.Code != http.StatusCreated {
		t.Fatalf("first create status = %d", rec.Code)
	}

	rec = doJSON(t, router, "POST", "/api/tags/", "u", models.TagCreateRequest{Name: "work", Color: "#222222"})
	if rec.Code != http.StatusConflict {
		t.Fatalf("duplicate create status = %d, want 409: %s", rec.Code, rec.Body.String())
	}

	// The stored tag keeps its original color.
	rec = doJSON(t, router, "GET", "/api/tags/", "u", nil)
	var listed struct {
		Tags []models.Tag `json:"tags"`
	}
	decode(t, rec, &listed)
	if len(listed.Tags) != 1 {
		t.Fatalf("tag count = %d, want 1", len(listed.Tags))
	}
	if listed.Tags[0].Color != "#FF8800" {
		t.Errorf("color = %q, want original #FF8800", listed.Tags[0].Color)
	}
}

func TestChatRunsToolAndPersists(t *testing.T) {
	h, router := newTestHandlers(t)

	rec := doJSON(t, router, "POST", "/api/chat", "alice", models.ChatRequest{Message: "add buy milk"})
	if rec.Code != http.StatusOK {
		t.Fatalf("chat status = %d: %s", rec.Code, rec.Body.String())
	}
	var resp models.ChatResponse
	decode(t, rec, &resp)
	if resp.ConversationID == "" {
		t.Error("missing conversation_id")
	}
	if len(resp.ActionsTaken) != 1 || resp.ActionsTaken[0].Tool != "add_task" {
		t.Fatalf("actions = %+v", resp.ActionsTaken)
	}

	// The tool call hit the store.
	tasks, _ := h.Store.ListTasks(context.Background(), "alice", store.TaskFilter{})
	if len(tasks) != 1 || tasks[0].Title != "buy milk" {
		t.Errorf("tasks = %+v", tasks)
	}

	// Both turn messages were persisted and the title was auto-set.
	msgs, _ := h.Store.ListMessages(context.Background(), resp.ConversationID)
	if len(msgs) != 2 || msgs[0].Role != "user" || msgs[1].Role != "assistant" {
		t.Errorf("messages = %+v", msgs)
	}
	conv, _ := h.Store.GetConversation(context.Background(), "alice", resp.ConversationID)
	if conv.Title != "add buy milk" {
		t.Errorf("title = %q", conv.Title)
	}
}

func TestChatUnknownConversation(t *testing.T) {
	_, router := newTestHandlers(t)
	rec := doJSON(t, router, "POST", "/api/chat", "u",
		models.ChatRequest{Message: "hi", ConversationID: "nope"})
	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rec.Code)
	}
}

func TestChatHistoryAndClear(t *testing.T) {
	_, router := newTestHandlers(t)

	doJSON(t, router, "POST", "/api/chat", "u", models.ChatRequest{Message: "hello"})
	doJSON(t, router, "POST", "/api/chat", "u", models.ChatRequest{Message: "hello again"})

	rec := doJSON(t, router, "GET", "/api/chat/history", "u", nil)
	var history models.HistoryResponse
	decode(t, rec, &history)
	if history.Total != 2 || len(history.Conversations) != 2 {
		t.Fatalf("history = %+v", history)
	}
	if history.Conversations[0].MessageCount != 2 {
		t.Errorf("message_count = %d, want 2", history.Conversations[0].MessageCount)
	}

	rec = doJSON(t, router, "DELETE", "/api/chat/history", "u", nil)
	var cleared models.DeleteHistoryResponse
	decode(t, rec, &cleared)
	if cleared.ConversationsDeleted != 2 || cleared.MessagesDeleted != 4 {
		t.Errorf("cleared = %+v", cleared)
	}
}

func TestChatKitStreamOrder(t *testing.T) {
	_, router := newTestHandlers(t)

	rec := doJSON(t, router, "POST", "/api/chatkit", "u", models.ChatKitRequest{Message: "add call mom"})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}
	if rec.Header().Get("X-Thread-Id") == "" {
		t.Error("missing X-Thread-Id header")
	}
	if ct := rec.Header().Get("Content-Type"); ct != "text/event-stream" {
		t.Errorf("content-type = %q", ct)
	}

	var types []string
	scanner := bufio.NewScanner(rec.Body)
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		var event map[string]any
		if err := json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &event); err != nil {
			t.Fatalf("bad event line %q: %v", line, err)
		}
		types = append(types, event["type"].(string))
	}

	want := []string{
		"thread.created",
		"message.created",
		"tool_call",
		"message.created",
		"message.delta",
		"message.done",
		"done",
	}
	if len(types) != len(want) {
		t.Fatalf("events = %v, want %v", types, want)
	}
	for i := range want {
		if types[i] != want[i] {
			t.Errorf("event %d = %s, want %s", i, types[i], want[i])
		}
	}
}

func TestChatKitReusesThread(t *testing.T) {
	h, router := newTestHandlers(t)

	rec := doJSON(t, router, "POST", "/api/chatkit", "u", models.ChatKitRequest{Message: "hello"})
	threadID := rec.Header().Get("X-Thread-Id")

	rec = doJSON(t, router, "POST", "/api/chatkit", "u", models.ChatKitRequest{Message: "again", ThreadID: threadID})
	if strings.Contains(rec.Body.String(), "thread.created") {
		t.Error("existing thread must not re-emit thread.created")
	}

	msgs, _ := h.Store.ListMessages(context.Background(), threadID)
	if len(msgs) != 4 {
		t.Errorf("persisted %d messages across two turns, want 4", len(msgs))
	}
}

// brokenStream fails every body write, simulating a client that is gone
// before the first event goes out.
type brokenStream struct {
	header http.Header
}

func (b *brokenStream) Header() http.Header {
	if b.header == nil {
		b.header = http.Header{}
	}
	return b.header
}

func (b *brokenStream) WriteHeader(int)           {}
func (b *brokenStream) Write([]byte) (int, error) { return 0, errors.New("client gone") }
func (b *brokenStream) Flush()                    {}

func TestChatKitSkipsPersistWhenStreamNeverStarts(t *testing.T) {
	h, _ := newTestHandlers(t)

	var buf bytes.Buffer
	json.NewEncoder(&buf).Encode(models.ChatKitRequest{Message: "hello"})
	req := httptest.NewRequest("POST", "/api/chatkit", &buf)
	req = req.WithContext(context.WithValue(req.Context(), middleware.UserIDKey, "u"))

	w := &brokenStream{}
	h.ChatKit(w, req)

	// The first sink write failed, so the turn never ran and no messages
	// should be recorded against the thread.
	threadID := w.Header().Get("X-Thread-Id")
	if threadID == "" {
		t.Fatal("missing X-Thread-Id header")
	}
	msgs, err := h.Store.ListMessages(context.Background(), threadID)
	if err != nil {
		t.Fatalf("ListMessages: %v", err)
	}
	if len(msgs) != 0 {
		t.Errorf("persisted %d messages for a turn that never ran, want 0", len(msgs))
	}
}

func TestMCPEndpointToolsList(t *testing.T) {
	_, router := newTestHandlers(t)

	rec := doJSON(t, router, "POST", "/mcp", "u", map[string]any{
		"jsonrpc": "2.0", "method": "tools/list", "id": 1,
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var resp struct {
		Result struct {
			Tools []models.MCPToolInfo `json:"tools"`
		} `json:"result"`
	}
	decode(t, rec, &resp)
	if len(resp.Result.Tools) != 6 {
		t.Errorf("listed %d tools, want 6", len(resp.Result.Tools))
	}
}

func TestMCPNotificationReturns202(t *testing.T) {
	_, router := newTestHandlers(t)
	rec := doJSON(t, router, "POST", "/mcp", "u", map[string]any{
		"jsonrpc": "2.0", "method": "notifications/initialized",
	})
	if rec.Code != http.StatusAccepted {
		t.Errorf("status = %d, want 202", rec.Code)
	}
}
