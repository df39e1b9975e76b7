package agent

import (
	"encoding/json"
	"time"

	"github.com/taskdeck/taskdeck/pkg/models"

	"github.com/google/uuid"
)

// Event is one entry of the incremental turn stream. It serializes flat:
// {"type": ..., <data fields>}.
type Event struct {
	Type string
	Data map[string]any
}

func (e Event) MarshalJSON() ([]byte, error) {
	flat := make(map[string]any, len(e.Data)+1)
	for k, v := range e.Data {
		flat[k] = v
	}
	flat["type"] = e.Type
	return json.Marshal(flat)
}

// ── event constructors ──────────────────────────────────────

func threadCreatedEvent(threadID string) Event {
	return Event{Type: "thread.created", Data: map[string]any{
		"thread_id":  threadID,
		"created_at": time.Now().UTC().Format(time.RFC3339),
	}}
}

func messageCreatedEvent(messageID, threadID, role, content string) Event {
	return Event{Type: "message.created", Data: map[string]any{
		"message_id": messageID,
		"thread_id":  threadID,
		"role":       role,
		"content":    content,
		"created_at": time.Now().UTC().Format(time.RFC3339),
	}}
}

func toolCallEvent(action models.Action) Event {
	return Event{Type: "tool_call", Data: map[string]any{
		"tool_call_id": uuid.NewString(),
		"tool_name":    action.Tool,
		"arguments":    action.Input,
		"result":       action.Result,
	}}
}

func messageDeltaEvent(messageID, content string) Event {
	return Event{Type: "message.delta", Data: map[string]any{
		"message_id": messageID,
		"delta":      map[string]any{"content": content},
	}}
}

func messageDoneEvent(messageID, content string) Event {
	return Event{Type: "message.done", Data: map[string]any{
		"message_id": messageID,
		"content":    content,
	}}
}

func doneEvent(threadID string) Event {
	return Event{Type: "done", Data: map[string]any{
		"thread_id": threadID,
	}}
}

// ── emitter ─────────────────────────────────────────────────

// Emitter sequences the incremental event stream for one turn. It holds no
// state across turns; the sink receives events in the fixed protocol order:
// thread.created (new threads only), message.created (user), tool_call per
// action, message.created (assistant), one message.delta with the full
// text, message.done, done.
type Emitter struct {
	sink func(Event) error
}

// NewEmitter wraps a sink that delivers events to the transport (e.g. an
// SSE writer). A sink error aborts the stream.
func NewEmitter(sink func(Event) error) *Emitter {
	return &Emitter{sink: sink}
}

// TurnParams carries the identifiers the emitter needs to label events.
type TurnParams struct {
	ThreadID  string
	NewThread bool
	UserText  string
}

// EmitTurn streams one full turn. run is invoked between the user
// message.created event and the tool_call events, so the stream opens
// before the model round-trips. Returns the outcome (for persistence by
// the caller) and the first sink error, if any.
func (e *Emitter) EmitTurn(p TurnParams, run func() Outcome) (Outcome, error) {
	if p.NewThread {
		if err := e.sink(threadCreatedEvent(p.ThreadID)); err != nil {
			return Outcome{}, err
		}
	}
	if err := e.sink(messageCreatedEvent(uuid.NewString(), p.ThreadID, "user", p.UserText)); err != nil {
		return Outcome{}, err
	}

	outcome := run()

	for _, action := range outcome.Actions {
		if err := e.sink(toolCallEvent(action)); err != nil {
			return outcome, err
		}
	}

	assistantID := uuid.NewString()
	if err := e.sink(messageCreatedEvent(assistantID, p.ThreadID, "assistant", "")); err != nil {
		return outcome, err
	}
	if err := e.sink(messageDeltaEvent(assistantID, outcome.Response)); err != nil {
		return outcome, err
	}
	if err := e.sink(messageDoneEvent(assistantID, outcome.Response)); err != nil {
		return outcome, err
	}
	if err := e.sink(doneEvent(p.ThreadID)); err != nil {
		return outcome, err
	}
	return outcome, nil
}

// AtomicOutcome is the buffered presentation mode: the whole turn as one
// response body.
func AtomicOutcome(outcome Outcome, conversationID string) models.ChatResponse {
	return models.ChatResponse{
		Response:       outcome.Response,
		ConversationID: conversationID,
		ActionsTaken:   outcome.Actions,
	}
}
