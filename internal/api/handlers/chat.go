package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/taskdeck/taskdeck/internal/agent"
	"github.com/taskdeck/taskdeck/internal/api/middleware"
	"github.com/taskdeck/taskdeck/pkg/models"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// Chat processes one chat message synchronously and returns the full turn.
//
// Flow: get or create conversation → fetch text history → run the agent →
// persist both messages → return response with actions.
func (h *Handlers) Chat(w http.ResponseWriter, r *http.Request) {
	var req models.ChatRequest
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

	var conv *models.Conversation
	if req.ConversationID != "" {
		existing, err := h.Store.GetConversation(ctx, userID, req.ConversationID)
		if err != nil {
			respondStoreError(w, err)
			return
		}
		conv = existing
	} else {
		conv = h.newConversation(ctx, userID, uuid.NewString())
		if conv == nil {
			respondError(w, http.StatusInternalServerError, "Could not create conversation")
			return
		}
	}

	history, err := h.Store.ListMessages(ctx, conv.ID)
	if err != nil {
		respondStoreError(w, err)
		return
	}

	outcome := h.Loop.Run(ctx, historyToChatMessages(history), req.Message, userID)

	h.persistTurn(ctx, conv, req.Message, outcome)

	resp := agent.AtomicOutcome(outcome, conv.ID)
	resp.Metadata = map[string]any{
		"message_count": len(history) + 2,
		"model":         h.Config.OpenAI.Model,
	}
	respondJSON(w, http.StatusOK, resp)
}

func (h *Handlers) newConversation(ctx context.Context, userID, id string) *models.Conversation {
	now := time.Now().UTC()
	conv := &models.Conversation{ID: id, UserID: userID, CreatedAt: now, UpdatedAt: now}
	if err := h.Store.CreateConversation(ctx, conv); err != nil {
		log.Error().Err(err).Str("user_id", userID).Msg("Conversation create failed")
		return nil
	}
	return conv
}

// historyToChatMessages converts persisted messages to exchange entries.
// Only user/assistant text goes into the exchange; the loop drops the rest.
func historyToChatMessages(history []models.Message) []models.ChatMessage {
	out := make([]models.ChatMessage, 0, len(history))
	for _, msg := range history {
		out = append(out, models.ChatMessage{Role: msg.Role, Content: msg.Content})
	}
	return out
}

// persistTurn stores the user and assistant messages and refreshes the
// conversation title/timestamp. First message becomes the title.
func (h *Handlers) persistTurn(ctx context.Context, conv *models.Conversation, userText string, outcome agent.Outcome) {
	now := time.Now().UTC()

	userMsg := &models.Message{
		ID:             uuid.NewString(),
		ConversationID: conv.ID,
		Role:           "user",
		Content:        userText,
		CreatedAt:      now,
	}
	if err := h.Store.CreateMessage(ctx, userMsg); err != nil {
		log.Error().Err(err).Str("conversation_id", conv.ID).Msg("User message persist failed")
	}

	assistantMsg := &models.Message{
		ID:             uuid.NewString(),
		ConversationID: conv.ID,
		Role:           "assistant",
		Content:        outcome.Response,
		CreatedAt:      now.Add(time.Millisecond),
	}
	if len(outcome.Actions) > 0 {
		if raw, err := json.Marshal(map[string]any{"data": outcome.Actions}); err == nil {
			assistantMsg.ToolCalls = raw
		}
	}
	if err := h.Store.CreateMessage(ctx, assistantMsg); err != nil {
		log.Error().Err(err).Str("conversation_id", conv.ID).Msg("Assistant message persist failed")
	}

	conv.UpdatedAt = now
	if conv.Title == "" {
		conv.Title = autoTitle(userText)
	}
	if err := h.Store.UpdateConversation(ctx, conv); err != nil {
		log.Warn().Err(err).Str("conversation_id", conv.ID).Msg("Conversation update failed")
	}
}

// autoTitle derives a conversation title from its first message.
func autoTitle(message string) string {
	runes := []rune(message)
	if len(runes) > 50 {
		return string(runes[:50]) + "..."
	}
	return message
}

// ── History ──────────────────────────────────────────────────

// ChatHistory lists conversations and, when conversation_id is given, that
// conversation's messages.
func (h *Handlers) ChatHistory(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID := middleware.GetUserID(ctx)
	conversationID := r.URL.Query().Get("conversation_id")
	limit := queryInt(r, "limit", 50)
	offset := queryInt(r, "offset", 0)

	var (
		summaries []models.ConversationSummary
		total     int
	)
	if conversationID != "" {
		conv, err := h.Store.GetConversation(ctx, userID, conversationID)
		if err != nil {
			respondStoreError(w, err)
			return
		}
		count, _ := h.Store.CountMessages(ctx, conv.ID)
		summaries = append(summaries, conversationSummary(conv, count))
		_, total, err = h.Store.ListConversations(ctx, userID, 1, 0)
		if err != nil {
			respondStoreError(w, err)
			return
		}
	} else {
		convs, t, err := h.Store.ListConversations(ctx, userID, limit, offset)
		if err != nil {
			respondStoreError(w, err)
			return
		}
		total = t
		for i := range convs {
			count, _ := h.Store.CountMessages(ctx, convs[i].ID)
			summaries = append(summaries, conversationSummary(&convs[i], count))
		}
	}
	if summaries == nil {
		summaries = []models.ConversationSummary{}
	}

	resp := models.HistoryResponse{
		Conversations: summaries,
		Total:         total,
		HasMore:       total > offset+limit,
	}
	if conversationID != "" {
		messages, err := h.Store.ListMessages(ctx, conversationID)
		if err != nil {
			respondStoreError(w, err)
			return
		}
		resp.Messages = messages
	}
	respondJSON(w, http.StatusOK, resp)
}

func conversationSummary(conv *models.Conversation, messageCount int) models.ConversationSummary {
	return models.ConversationSummary{
		ID:           conv.ID,
		Title:        conv.Title,
		CreatedAt:    conv.CreatedAt,
		UpdatedAt:    conv.UpdatedAt,
		MessageCount: messageCount,
	}
}

// ClearChatHistory deletes one conversation or all of the user's history.
func (h *Handlers) ClearChatHistory(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID := middleware.GetUserID(ctx)
	conversationID := r.URL.Query().Get("conversation_id")

	if conversationID != "" {
		deleted, err := h.Store.DeleteConversation(ctx, userID, conversationID)
		if err != nil {
			respondStoreError(w, err)
			return
		}
		respondJSON(w, http.StatusOK, models.DeleteHistoryResponse{
			Deleted:              true,
			ConversationsDeleted: 1,
			MessagesDeleted:      deleted,
		})
		return
	}

	convs, _, err := h.Store.ListConversations(ctx, userID, 0, 0)
	if err != nil {
		respondStoreError(w, err)
		return
	}
	totalMessages := 0
	for i := range convs {
		deleted, err := h.Store.DeleteConversation(ctx, userID, convs[i].ID)
		if err != nil {
			continue
		}
		totalMessages += deleted
	}
	respondJSON(w, http.StatusOK, models.DeleteHistoryResponse{
		Deleted:              true,
		ConversationsDeleted: len(convs),
		MessagesDeleted:      totalMessages,
	})
}
