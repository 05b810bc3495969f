package relay

import (
	"encoding/json"

	"github.com/ferrovax/chatrelay/internal/roster"
)

// Inbound frame types.
const (
	FrameJoin = "join"
	FrameSend = "send"
	FrameExit = "exit"
)

// User is the identity reference a client attaches to announce itself.
type User struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Frame is the envelope of an inbound client frame. Unknown fields are
// preserved only in the raw payload, which is what gets re-broadcast.
type Frame struct {
	Type string `json:"type"`
	User *User  `json:"user,omitempty"`
}

// encodeRoster serializes a roster snapshot as a JSON array of {id,name}.
func encodeRoster(identities []roster.Identity) []byte {
	if identities == nil {
		identities = []roster.Identity{}
	}
	data, _ := json.Marshal(identities)
	return data
}

// historyEnvelope is the one-shot replay sent to a newly joined connection.
type historyEnvelope struct {
	Type     string            `json:"type"`
	Messages []json.RawMessage `json:"messages"`
}

// encodeHistory builds the {"type":"messages",...} replay envelope. The
// stored raw payloads are embedded verbatim, in arrival order.
func encodeHistory(messages []ChatMessage) []byte {
	env := historyEnvelope{
		Type:     "messages",
		Messages: make([]json.RawMessage, len(messages)),
	}
	for i, m := range messages {
		env.Messages[i] = m.Payload
	}
	data, _ := json.Marshal(env)
	return data
}
