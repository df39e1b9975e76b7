package agent

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/taskdeck/taskdeck/pkg/models"
)

func collectEvents(t *testing.T, p TurnParams, outcome Outcome) []Event {
	t.Helper()
	var events []Event
	emitter := NewEmitter(func(e Event) error {
		events = append(events, e)
		return nil
	})
	if _, err := emitter.EmitTurn(p, func() Outcome { return outcome }); err != nil {
		t.Fatalf("EmitTurn: %v", err)
	}
	return events
}

func eventTypes(events []Event) []string {
	types := make([]string, len(events))
	for i, e := range events {
		types[i] = e.Type
	}
	return types
}

func TestEventOrderNewThreadWithTools(t *testing.T) {
	outcome := Outcome{
		Response: "✅ done",
		Actions: []models.Action{
			{Tool: "add_task", Input: map[string]any{"title": "a"}, Result: map[string]any{"success": true}},
			{Tool: "list_tasks", Input: map[string]any{}, Result: map[string]any{"success": true}},
		},
	}
	events := collectEvents(t, TurnParams{ThreadID: "th1", NewThread: true, UserText: "add a"}, outcome)

	want := []string{
		"thread.created",
		"message.created", // user
		"tool_call",
		"tool_call",
		"message.created", // assistant
		"message.delta",
		"message.done",
		"done",
	}
	got := eventTypes(events)
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("event %d = %s, want %s", i, got[i], want[i])
		}
	}

	if events[1].Data["role"] != "user" || events[4].Data["role"] != "assistant" {
		t.Error("message.created roles out of order")
	}
	if events[2].Data["tool_name"] != "add_task" || events[3].Data["tool_name"] != "list_tasks" {
		t.Error("tool_call events must preserve dispatch order")
	}
}

func TestEventOrderExistingThreadNoTools(t *testing.T) {
	events := collectEvents(t, TurnParams{ThreadID: "th1", UserText: "hi"}, Outcome{Response: "hello"})

	got := eventTypes(events)
	want := []string{"message.created", "message.created", "message.delta", "message.done", "done"}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("event %d = %s, want %s", i, got[i], want[i])
		}
	}
}

func TestDeltaCarriesFullContent(t *testing.T) {
	events := collectEvents(t, TurnParams{ThreadID: "th1", UserText: "hi"}, Outcome{Response: "full answer"})

	var delta, done Event
	for _, e := range events {
		switch e.Type {
		case "message.delta":
			delta = e
		case "message.done":
			done = e
		}
	}
	if delta.Data["delta"].(map[string]any)["content"] != "full answer" {
		t.Errorf("delta = %v", delta.Data)
	}
	if done.Data["content"] != "full answer" {
		t.Errorf("done = %v", done.Data)
	}
	if delta.Data["message_id"] != done.Data["message_id"] {
		t.Error("delta and done must label the same assistant message")
	}
}

func TestEventSerializesFlat(t *testing.T) {
	data, err := json.Marshal(doneEvent("th9"))
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var decoded map[string]any
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if decoded["type"] != "done" || decoded["thread_id"] != "th9" {
		t.Errorf("decoded = %v", decoded)
	}
	if _, nested := decoded["data"]; nested {
		t.Error("event must serialize flat, not nested under data")
	}
}

func TestSinkErrorAbortsStream(t *testing.T) {
	calls := 0
	emitter := NewEmitter(func(Event) error {
		calls++
		if calls == 2 {
			return errors.New("client went away")
		}
		return nil
	})
	_, err := emitter.EmitTurn(TurnParams{ThreadID: "t", NewThread: true, UserText: "x"},
		func() Outcome { return Outcome{Response: "r"} })
	if err == nil {
		t.Fatal("expected sink error to propagate")
	}
	if calls != 2 {
		t.Errorf("emitted %d events after failure, want stop at 2", calls)
	}
}

func TestAtomicOutcome(t *testing.T) {
	outcome := Outcome{
		Response: "done",
		Actions:  []models.Action{{Tool: "add_task"}},
	}
	resp := AtomicOutcome(outcome, "conv-1")
	if resp.Response != "done" || resp.ConversationID != "conv-1" || len(resp.ActionsTaken) != 1 {
		t.Errorf("resp = %+v", resp)
	}
}
