package relay

import (
	"encoding/json"
	"testing"

	"github.com/ferrovax/chatrelay/internal/roster"
)

func TestEncodeRoster(t *testing.T) {
	ids := []roster.Identity{
		{ID: "1", Name: "alice"},
		{ID: "2", Name: "bob"},
	}

	var decoded []roster.Identity
	if err := json.Unmarshal(encodeRoster(ids), &decoded); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(decoded) != 2 || decoded[0].Name != "alice" || decoded[1].Name != "bob" {
		t.Errorf("decoded roster = %v", decoded)
	}
}

func TestEncodeRosterEmpty(t *testing.T) {
	if got := string(encodeRoster(nil)); got != "[]" {
		t.Errorf("empty roster = %s, want []", got)
	}
}

func TestEncodeHistoryEmbedsRawPayloads(t *testing.T) {
	msgs := []ChatMessage{
		{Payload: json.RawMessage(`{"type":"send","text":"hi"}`)},
		{Payload: json.RawMessage(`{"type":"send","text":"yo"}`)},
	}

	var env struct {
		Type     string            `json:"type"`
		Messages []json.RawMessage `json:"messages"`
	}
	if err := json.Unmarshal(encodeHistory(msgs), &env); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if env.Type != "messages" {
		t.Errorf("type = %q, want messages", env.Type)
	}
	if len(env.Messages) != 2 {
		t.Fatalf("messages length = %d, want 2", len(env.Messages))
	}
	if string(env.Messages[0]) != `{"type":"send","text":"hi"}` {
		t.Errorf("payload not embedded verbatim: %s", env.Messages[0])
	}
}

func TestEncodeHistoryEmpty(t *testing.T) {
	var env historyEnvelope
	if err := json.Unmarshal(encodeHistory(nil), &env); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if env.Type != "messages" || len(env.Messages) != 0 {
		t.Errorf("empty envelope = %+v", env)
	}
}
