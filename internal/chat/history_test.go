package chat

import (
	"context"
	"testing"

	"github.com/dgnsrekt/tab_agent/internal/kvstore"
)

func TestAddAndRemoveLast(t *testing.T) {
	h := NewHistory(kvstore.NewMemory())
	ctx := context.Background()

	if err := h.Add(ctx, Message{Role: RoleUser, Text: "hello"}); err != nil {
		t.Fatalf("Add() failed: %v", err)
	}
	if err := h.Add(ctx, Message{Role: RoleModel, Text: "hi there"}); err != nil {
		t.Fatalf("Add() failed: %v", err)
	}

	if err := h.RemoveLast(ctx); err != nil {
		t.Fatalf("RemoveLast() failed: %v", err)
	}

	msgs := h.Messages()
	if len(msgs) != 1 || msgs[0].Text != "hello" {
		t.Fatalf("Messages() = %+v", msgs)
	}
}

func TestRemoveLastOnEmptyHistory(t *testing.T) {
	kv := kvstore.NewMemory()
	h := NewHistory(kv)
	if err := h.RemoveLast(context.Background()); err != nil {
		t.Fatalf("RemoveLast() on empty = %v; want nil", err)
	}
	if kv.SetCalls != 0 {
		t.Fatalf("persist writes = %d; want 0", kv.SetCalls)
	}
}

func TestHistorySurvivesReload(t *testing.T) {
	kv := kvstore.NewMemory()
	ctx := context.Background()

	first := NewHistory(kv)
	if err := first.Add(ctx, Message{Role: RoleUser, Text: "remember me"}); err != nil {
		t.Fatalf("Add() failed: %v", err)
	}

	second := NewHistory(kv)
	if err := second.Load(ctx); err != nil {
		t.Fatalf("Load() failed: %v", err)
	}
	msgs := second.Messages()
	if len(msgs) != 1 || msgs[0].Text != "remember me" {
		t.Fatalf("Messages() after reload = %+v", msgs)
	}
}

func TestLoadToleratesCorruptState(t *testing.T) {
	kv := kvstore.NewMemory()
	ctx := context.Background()
	if err := kv.Set(ctx, kvstore.KeyChatHistory, []byte(`"not an array"`)); err != nil {
		t.Fatalf("seeding store failed: %v", err)
	}

	h := NewHistory(kv)
	if err := h.Load(ctx); err != nil {
		t.Fatalf("Load() failed: %v", err)
	}
	if got := len(h.Messages()); got != 0 {
		t.Fatalf("len(Messages()) = %d; want 0", got)
	}
}

func TestClearRemovesStoredRecord(t *testing.T) {
	kv := kvstore.NewMemory()
	h := NewHistory(kv)
	ctx := context.Background()

	if err := h.Add(ctx, Message{Role: RoleUser, Text: "ephemeral"}); err != nil {
		t.Fatalf("Add() failed: %v", err)
	}
	if err := h.Clear(ctx); err != nil {
		t.Fatalf("Clear() failed: %v", err)
	}

	if len(h.Messages()) != 0 {
		t.Fatal("messages survived Clear()")
	}
	if _, ok, _ := kv.Get(ctx, kvstore.KeyChatHistory); ok {
		t.Fatal("stored record survived Clear()")
	}
}

func TestMessagesReturnsCopy(t *testing.T) {
	h := NewHistory(kvstore.NewMemory())
	ctx := context.Background()
	if err := h.Add(ctx, Message{Role: RoleUser, Text: "original"}); err != nil {
		t.Fatalf("Add() failed: %v", err)
	}

	msgs := h.Messages()
	msgs[0].Text = "mutated"

	if got := h.Messages()[0].Text; got != "original" {
		t.Fatalf("history mutated through returned slice: %q", got)
	}
}
