package handlers

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/taskdeck/taskdeck/internal/agent"
	"github.com/taskdeck/taskdeck/internal/api/middleware"
	"github.com/taskdeck/taskdeck/pkg/models"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// ChatKit is the SSE streaming chat endpoint. Events go out as NDJSON
// ("data: {...}\n\n") in the fixed order the emitter enforces; the thread
// ID is echoed in the X-Thread-Id header so clients can resume before the
// first event arrives.
func (h *Handlers) ChatKit(w http.ResponseWriter, r *http.Request) {
	var req models.ChatKitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if strings.TrimSpace(req.Message) == "" {
		respondError(w, http.StatusBadRequest, "Message is required")
		return
	}

	ctx := r.Context()
	userID := middleware.GetUserID(ctx)

	threadID := req.ThreadID
	if threadID == "" {
		threadID = uuid.NewString()
	}

	conv, err := h.Store.GetConversation(ctx, userID, threadID)
	newThread := err != nil
	if newThread {
		conv = h.newConversation(ctx, userID, threadID)
		if conv == nil {
			respondError(w, http.StatusInternalServerError, "Could not create thread")
			return
		}
	}

	history, err := h.Store.ListMessages(ctx, conv.ID)
	if err != nil {
		respondStoreError(w, err)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		respondError(w, http.StatusInternalServerError, "Streaming not supported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Thread-Id", threadID)
	w.WriteHeader(http.StatusOK)

	emitter := agent.NewEmitter(func(e agent.Event) error {
		data, err := json.Marshal(e)
		if err != nil {
			return err
		}
		if _, err := w.Write([]byte("data: " + string(data) + "\n\n")); err != nil {
			return err
		}
		flusher.Flush()
		return nil
	})

	var ran bool
	outcome, err := emitter.EmitTurn(
		agent.TurnParams{ThreadID: threadID, NewThread: newThread, UserText: req.Message},
		func() agent.Outcome {
			ran = true
			return h.Loop.Run(ctx, historyToChatMessages(history), req.Message, userID)
		},
	)
	if err != nil {
		log.Warn().Err(err).Str("thread_id", threadID).Msg("Stream aborted")
		if !ran {
			// The sink died before the turn started; there is no turn to record.
			return
		}
		// Client disconnected mid-stream; still persist what completed.
	}

	h.persistTurn(ctx, conv, req.Message, outcome)
}

// ── Thread management ────────────────────────────────────────

func (h *Handlers) ListThreads(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID := middleware.GetUserID(ctx)
	limit := queryInt(r, "limit", 20)
	offset := queryInt(r, "offset", 0)

	convs, total, err := h.Store.ListConversations(ctx, userID, limit, offset)
	if err != nil {
		respondStoreError(w, err)
		return
	}

	threads := make([]map[string]interface{}, 0, len(convs))
	for i := range convs {
		count, _ := h.Store.CountMessages(ctx, convs[i].ID)
		threads = append(threads, map[string]interface{}{
			"thread_id":     convs[i].ID,
			"title":         convs[i].Title,
			"created_at":    convs[i].CreatedAt,
			"updated_at":    convs[i].UpdatedAt,
			"message_count": count,
		})
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"threads":  threads,
		"total":    total,
		"has_more": total > offset+limit,
	})
}

func (h *Handlers) GetThread(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID := middleware.GetUserID(ctx)
	threadID := chi.URLParam(r, "threadId")

	conv, err := h.Store.GetConversation(ctx, userID, threadID)
	if err != nil {
		respondStoreError(w, err)
		return
	}
	messages, err := h.Store.ListMessages(ctx, threadID)
	if err != nil {
		respondStoreError(w, err)
		return
	}

	out := make([]map[string]interface{}, 0, len(messages))
	for _, msg := range messages {
		out = append(out, map[string]interface{}{
			"message_id": msg.ID,
			"role":       msg.Role,
			"content":    msg.Content,
			"tool_calls": msg.ToolCalls,
			"created_at": msg.CreatedAt,
		})
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"thread_id":  conv.ID,
		"title":      conv.Title,
		"created_at": conv.CreatedAt,
		"updated_at": conv.UpdatedAt,
		"messages":   out,
	})
}

func (h *Handlers) DeleteThread(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID := middleware.GetUserID(ctx)
	threadID := chi.URLParam(r, "threadId")

	deleted, err := h.Store.DeleteConversation(ctx, userID, threadID)
	if err != nil {
		respondStoreError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"deleted":          true,
		"thread_id":        threadID,
		"messages_deleted": deleted,
	})
}
