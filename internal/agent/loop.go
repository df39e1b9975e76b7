// Package agent orchestrates one chat turn: it holds a bounded exchange
// with the model, routes requested tool calls through the executor, and
// folds results back in until the model produces a final answer.
package agent

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/taskdeck/taskdeck/internal/llm"
	"github.com/taskdeck/taskdeck/internal/tools"
	"github.com/taskdeck/taskdeck/pkg/models"

	"github.com/rs/zerolog/log"
)

const systemPrompt = `You are a helpful todo assistant. You help users manage their tasks through natural conversation.

You have access to tools that let you add, list, complete, update, and delete tasks, and organize them with tags.

## Behavior Rules:
1. **Always confirm actions** - Tell the user what you did after each action
2. **Be concise** - Keep responses short and actionable
3. **Handle errors gracefully** - If something fails, explain what went wrong helpfully
4. **Clarify ambiguity** - If multiple tasks match, ask the user to be more specific
5. **Provide context** - After actions, show task counts when relevant

## Response Format Guidelines:
- Use ✅ for successful additions/completions
- Use 📋 for listing tasks
- Use ✏️ for updates
- Use 🗑️ for deletions
- Use ❌ for errors
- Use [ ] for pending tasks and [x] for completed tasks when listing`

// maxIterations bounds the generate/dispatch rounds of one turn so a model
// that keeps requesting tools can never loop forever.
const maxIterations = 10

const (
	fallbackEmpty     = "I'm not sure how to help with that. Try asking me to add, list, complete, update, or delete tasks."
	fallbackExhausted = "❌ I'm having trouble processing your request. Please try again with a simpler request."
)

// Outcome is the result of one completed turn.
type Outcome struct {
	Response string
	Actions  []models.Action
}

// Loop runs turns against a Generator and an operation executor.
type Loop struct {
	generator llm.Generator
	executor  *tools.Executor
}

func NewLoop(g llm.Generator, e *tools.Executor) *Loop {
	return &Loop{generator: g, executor: e}
}

// Run executes one turn for userID. history carries only prior user and
// assistant text; tool-call bookkeeping from earlier turns is dropped so
// the model re-reads current state instead of trusting stale memory.
//
// Failures never propagate as errors: a model-call failure or iteration
// exhaustion terminates the turn with a fixed apology plus whatever
// actions already committed (partial success is preserved, not rolled
// back).
func (l *Loop) Run(ctx context.Context, history []models.ChatMessage, userText, userID string) Outcome {
	exchange := make([]models.ChatMessage, 0, len(history)+2)
	exchange = append(exchange, models.ChatMessage{Role: "system", Content: systemPrompt})
	for _, msg := range history {
		if msg.Role == "user" || msg.Role == "assistant" {
			exchange = append(exchange, models.ChatMessage{Role: msg.Role, Content: msg.Content})
		}
	}
	exchange = append(exchange, models.ChatMessage{Role: "user", Content: userText})

	toolDefs := tools.ToolDefinitions()
	actions := []models.Action{}

	for iteration := 1; iteration <= maxIterations; iteration++ {
		if err := ctx.Err(); err != nil {
			log.Warn().Err(err).Str("user_id", userID).Msg("Turn cancelled")
			return Outcome{Response: fmt.Sprintf("❌ Sorry, I encountered an error: %v", err), Actions: actions}
		}

		completion, err := l.generator.Generate(ctx, exchange, toolDefs)
		if err != nil {
			log.Error().Err(err).Str("user_id", userID).Int("iteration", iteration).Msg("Model call failed")
			return Outcome{Response: fmt.Sprintf("❌ Sorry, I encountered an error: %v", err), Actions: actions}
		}

		if len(completion.ToolCalls) == 0 {
			text := completion.Content
			if text == "" {
				text = fallbackEmpty
			}
			return Outcome{Response: text, Actions: actions}
		}

		exchange = append(exchange, models.ChatMessage{
			Role:      "assistant",
			Content:   completion.Content,
			ToolCalls: completion.ToolCalls,
		})

		for _, call := range completion.ToolCalls {
			var args map[string]any
			if err := json.Unmarshal([]byte(call.Function.Arguments), &args); err != nil {
				// Malformed payload is treated as empty arguments, not a
				// turn-ending error; the operation's own validation reports
				// what is missing.
				args = map[string]any{}
			}

			result := l.executor.Invoke(ctx, call.Function.Name, args, userID)

			sanitized := make(map[string]any, len(args))
			for k, v := range args {
				if k != "user_id" {
					sanitized[k] = v
				}
			}
			actions = append(actions, models.Action{
				Tool:   call.Function.Name,
				Input:  sanitized,
				Result: result,
			})

			resultJSON, _ := json.Marshal(result)
			exchange = append(exchange, models.ChatMessage{
				Role:       "tool",
				ToolCallID: call.ID,
				Content:    string(resultJSON),
			})
		}
	}

	log.Warn().Str("user_id", userID).Int("actions", len(actions)).Msg("Turn hit iteration cap")
	return Outcome{Response: fallbackExhausted, Actions: actions}
}
