package relay

import (
	"encoding/json"
	"sync"
	"time"
)

// ChatMessage is one relayed chat payload retained for replay. Payload
// is the raw client frame, kept verbatim; Seq records arrival order.
type ChatMessage struct {
	Seq        int64           `json:"seq"`
	SenderID   string          `json:"sender_id,omitempty"`
	SenderName string          `json:"sender_name,omitempty"`
	Payload    json.RawMessage `json:"payload"`
	ReceivedAt time.Time       `json:"received_at"`
}

// History is the append-only in-memory message sequence replayed to
// joining connections. A limit > 0 bounds it as a drop-oldest ring;
// limit 0 keeps every message for the process lifetime.
type History struct {
	mu       sync.RWMutex
	messages []ChatMessage
	nextSeq  int64
	limit    int
}

// NewHistory creates a history retaining up to limit messages.
func NewHistory(limit int) *History {
	return &History{limit: limit}
}

// Append stores a copy of payload at the end of the sequence and
// returns the stored message.
func (h *History) Append(senderID, senderName string, payload []byte) ChatMessage {
	raw := make(json.RawMessage, len(payload))
	copy(raw, payload)

	h.mu.Lock()
	defer h.mu.Unlock()

	msg := ChatMessage{
		Seq:        h.nextSeq,
		SenderID:   senderID,
		SenderName: senderName,
		Payload:    raw,
		ReceivedAt: time.Now(),
	}
	h.nextSeq++

	h.messages = append(h.messages, msg)
	if h.limit > 0 && len(h.messages) > h.limit {
		excess := len(h.messages) - h.limit
		h.messages = h.messages[excess:]
	}
	return msg
}

// Replay returns the retained messages in arrival order.
func (h *History) Replay() []ChatMessage {
	h.mu.RLock()
	defer h.mu.RUnlock()

	out := make([]ChatMessage, len(h.messages))
	copy(out, h.messages)
	return out
}

// Len returns the number of retained messages.
func (h *History) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.messages)
}
