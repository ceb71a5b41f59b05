package chat

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/dgnsrekt/tab_agent/internal/kvstore"
)

// Message roles follow the generation service's conversation format.
const (
	RoleUser  = "user"
	RoleModel = "model"
)

type Message struct {
	Role string `json:"role"`
	Text string `json:"text"`
}

// History is the persisted conversation. Mutations persist immediately;
// RemoveLast exists so a cancelled generation can roll back the user turn
// that started it.
type History struct {
	mu       sync.Mutex
	messages []Message
	kv       kvstore.Store
}

func NewHistory(kv kvstore.Store) *History {
	return &History{kv: kv}
}

// Load restores the conversation from storage. Unreadable state is dropped
// rather than failing startup.
func (h *History) Load(ctx context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	data, ok, err := h.kv.Get(ctx, kvstore.KeyChatHistory)
	if err != nil {
		return fmt.Errorf("chat: load: %w", err)
	}
	if !ok {
		h.messages = nil
		return nil
	}

	var stored []Message
	if err := json.Unmarshal(data, &stored); err != nil {
		slog.Warn("chat discarding unreadable stored history", "error", err)
		h.messages = nil
		return nil
	}
	h.messages = stored
	return nil
}

// Add appends a message and persists.
func (h *History) Add(ctx context.Context, m Message) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.messages = append(h.messages, m)
	return h.persistLocked(ctx)
}

// RemoveLast drops the most recent message and persists. A no-op on an
// empty history.
func (h *History) RemoveLast(ctx context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.messages) == 0 {
		return nil
	}
	h.messages = h.messages[:len(h.messages)-1]
	return h.persistLocked(ctx)
}

// Messages returns a copy of the conversation in order.
func (h *History) Messages() []Message {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]Message, len(h.messages))
	copy(out, h.messages)
	return out
}

// Clear drops the conversation and removes the persisted record.
func (h *History) Clear(ctx context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.messages = nil
	if err := h.kv.Delete(ctx, kvstore.KeyChatHistory); err != nil {
		return fmt.Errorf("chat: clear: %w", err)
	}
	return nil
}

func (h *History) persistLocked(ctx context.Context) error {
	msgs := h.messages
	if msgs == nil {
		msgs = []Message{}
	}
	data, err := json.Marshal(msgs)
	if err != nil {
		return fmt.Errorf("chat: marshal: %w", err)
	}
	if err := h.kv.Set(ctx, kvstore.KeyChatHistory, data); err != nil {
		return fmt.Errorf("chat: persist: %w", err)
	}
	return nil
}
