package orchestrator

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/dgnsrekt/tab_agent/internal/chat"
	"github.com/dgnsrekt/tab_agent/internal/content"
	"github.com/dgnsrekt/tab_agent/internal/genai"
	"github.com/dgnsrekt/tab_agent/internal/kvstore"
	"github.com/dgnsrekt/tab_agent/internal/pins"
	"github.com/dgnsrekt/tab_agent/internal/tabhost"
)

type fakeHost struct {
	tabs   []tabhost.Tab
	active int64
}

func (f *fakeHost) QueryTabs(_ context.Context, filter tabhost.Filter) ([]tabhost.Tab, error) {
	if !filter.Active {
		return f.tabs, nil
	}
	for _, t := range f.tabs {
		if t.ID == f.active {
			return []tabhost.Tab{t}, nil
		}
	}
	return nil, nil
}

func (f *fakeHost) GetTab(_ context.Context, id int64) (tabhost.Tab, bool, error) {
	for _, t := range f.tabs {
		if t.ID == id {
			return t, true, nil
		}
	}
	return tabhost.Tab{}, false, nil
}

func (f *fakeHost) InjectAndRun(_ context.Context, _ int64, _ string, _ any) error { return nil }

func (f *fakeHost) CreateTab(_ context.Context, url string) (tabhost.Tab, error) {
	t := tabhost.Tab{ID: int64(len(f.tabs) + 1), URL: url, Status: tabhost.StatusComplete}
	f.tabs = append(f.tabs, t)
	return t, nil
}

func (f *fakeHost) AwaitTabComplete(_ context.Context, _ int64, _ int) error { return nil }

type fakeResolver struct {
	byTab map[int64]string
}

func (f *fakeResolver) Resolve(_ context.Context, tabID int64, _ string) (content.Fragment, error) {
	if text, ok := f.byTab[tabID]; ok {
		return content.TextFragment(text), nil
	}
	return content.TextFragment("[This tab has been closed]"), nil
}

// fakeGen records the request and either replies immediately or blocks
// until its context is cancelled.
type fakeGen struct {
	reply    string
	block    bool
	started  chan struct{}
	contents []genai.Content
}

func (f *fakeGen) Generate(ctx context.Context, _ string, contents []genai.Content) (string, error) {
	f.contents = contents
	if f.started != nil {
		close(f.started)
	}
	if f.block {
		<-ctx.Done()
		return "", ctx.Err()
	}
	return f.reply, nil
}

func newTestService(host *fakeHost, gen genai.Client, resolver pins.ContentResolver) (*Service, *kvstore.Memory) {
	kv := kvstore.NewMemory()
	pinStore := pins.NewStore(kv, resolver)
	history := chat.NewHistory(kv)
	return NewService(host, pinStore, history, kv, gen, resolver, "test-model"), kv
}

func boolPtr(v bool) *bool { return &v }

func TestSendMessageOrdersContextBeforeUserText(t *testing.T) {
	host := &fakeHost{
		tabs: []tabhost.Tab{
			{ID: 1, URL: "https://a.example", Title: "A", Status: tabhost.StatusComplete},
			{ID: 2, URL: "https://b.example", Title: "B", Status: tabhost.StatusComplete},
		},
	}
	resolver := &fakeResolver{byTab: map[int64]string{1: "frag A", 2: "frag B"}}
	gen := &fakeGen{reply: "the answer"}
	svc, _ := newTestService(host, gen, resolver)
	ctx := context.Background()

	for _, e := range []pins.Entry{
		{TabID: 1, URL: "https://a.example", Title: "A"},
		{TabID: 2, URL: "https://b.example", Title: "B"},
	} {
		if err := svc.pins.Add(ctx, e); err != nil {
			t.Fatalf("Add() failed: %v", err)
		}
	}

	res, err := svc.SendMessage(ctx, "question?", "", boolPtr(false))
	if err != nil {
		t.Fatalf("SendMessage() failed: %v", err)
	}
	if res.Reply != "the answer" {
		t.Fatalf("reply = %q", res.Reply)
	}

	if len(gen.contents) != 1 {
		t.Fatalf("turns = %d; want 1", len(gen.contents))
	}
	parts := gen.contents[0].Parts
	if len(parts) != 5 {
		t.Fatalf("parts = %d; want header/frag pairs plus user text", len(parts))
	}
	wantOrder := []string{"Pinned Tab: A", "frag A", "Pinned Tab: B", "frag B", "question?"}
	for i, want := range wantOrder {
		if !strings.Contains(parts[i].Text, want) {
			t.Errorf("part %d = %q; want it to contain %q", i, parts[i].Text, want)
		}
	}

	msgs := svc.History()
	if len(msgs) != 2 || msgs[0].Role != chat.RoleUser || msgs[1].Role != chat.RoleModel {
		t.Fatalf("history = %+v", msgs)
	}
}

func TestSendMessageOrdersActiveTabBeforePins(t *testing.T) {
	host := &fakeHost{
		tabs: []tabhost.Tab{
			{ID: 1, URL: "https://p.example", Title: "P", Status: tabhost.StatusComplete},
			{ID: 2, URL: "https://live.example", Title: "Live", Status: tabhost.StatusComplete},
		},
		active: 2,
	}
	resolver := &fakeResolver{byTab: map[int64]string{1: "pinned content", 2: "active content"}}
	gen := &fakeGen{reply: "ok"}
	svc, _ := newTestService(host, gen, resolver)
	ctx := context.Background()

	if err := svc.pins.Add(ctx, pins.Entry{TabID: 1, URL: "https://p.example", Title: "P"}); err != nil {
		t.Fatalf("Add() failed: %v", err)
	}

	if _, err := svc.SendMessage(ctx, "question?", "", boolPtr(true)); err != nil {
		t.Fatalf("SendMessage() failed: %v", err)
	}

	parts := gen.contents[0].Parts
	if len(parts) != 5 {
		t.Fatalf("parts = %d; want active pair, pinned pair, user text", len(parts))
	}
	wantOrder := []string{"Active Tab: Live", "active content", "Pinned Tab: P", "pinned content", "question?"}
	for i, want := range wantOrder {
		if !strings.Contains(parts[i].Text, want) {
			t.Errorf("part %d = %q; want it to contain %q", i, parts[i].Text, want)
		}
	}
}

func TestSendMessageAbortRollsBackUserMessage(t *testing.T) {
	host := &fakeHost{}
	gen := &fakeGen{block: true, started: make(chan struct{})}
	svc, _ := newTestService(host, gen, &fakeResolver{})
	ctx := context.Background()

	type outcome struct {
		res ChatResult
		err error
	}
	done := make(chan outcome, 1)
	go func() {
		res, err := svc.SendMessage(ctx, "doomed question", "", boolPtr(false))
		done <- outcome{res, err}
	}()

	<-gen.started
	if !svc.StopGeneration() {
		t.Fatal("StopGeneration() = false; want true while generating")
	}

	select {
	case out := <-done:
		if out.err != nil {
			t.Fatalf("SendMessage() after stop = %v; want nil", out.err)
		}
		if !out.res.Aborted {
			t.Fatalf("result = %+v; want Aborted", out.res)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("SendMessage() did not return after stop")
	}

	if msgs := svc.History(); len(msgs) != 0 {
		t.Fatalf("history after abort = %+v; want empty", msgs)
	}
}

func TestStopGenerationIdleNoop(t *testing.T) {
	svc, _ := newTestService(&fakeHost{}, &fakeGen{}, &fakeResolver{})
	if svc.StopGeneration() {
		t.Fatal("StopGeneration() while idle = true; want false")
	}
}

func TestSendMessageRejectsEmptyText(t *testing.T) {
	svc, _ := newTestService(&fakeHost{}, &fakeGen{}, &fakeResolver{})
	if _, err := svc.SendMessage(context.Background(), "   ", "", boolPtr(false)); err == nil {
		t.Fatal("SendMessage() with blank text should fail")
	}
}

func TestSendMessageIncludesActiveTab(t *testing.T) {
	host := &fakeHost{
		tabs:   []tabhost.Tab{{ID: 7, URL: "https://live.example", Title: "Live", Status: tabhost.StatusComplete}},
		active: 7,
	}
	resolver := &fakeResolver{byTab: map[int64]string{7: "live content"}}
	gen := &fakeGen{reply: "ok"}
	svc, _ := newTestService(host, gen, resolver)

	if _, err := svc.SendMessage(context.Background(), "what's on screen?", "", boolPtr(true)); err != nil {
		t.Fatalf("SendMessage() failed: %v", err)
	}

	parts := gen.contents[0].Parts
	if len(parts) != 3 {
		t.Fatalf("parts = %d; want active header, content, user text", len(parts))
	}
	if !strings.Contains(parts[0].Text, "Active Tab: Live") {
		t.Fatalf("part 0 = %q", parts[0].Text)
	}
	if parts[1].Text != "live content" {
		t.Fatalf("part 1 = %q", parts[1].Text)
	}
}

func TestSendMessageDedupesPinnedActiveTab(t *testing.T) {
	host := &fakeHost{
		tabs:   []tabhost.Tab{{ID: 7, URL: "https://live.example", Title: "Live", Status: tabhost.StatusComplete}},
		active: 7,
	}
	resolver := &fakeResolver{byTab: map[int64]string{7: "live content"}}
	gen := &fakeGen{reply: "ok"}
	svc, _ := newTestService(host, gen, resolver)
	ctx := context.Background()

	if err := svc.pins.Add(ctx, pins.Entry{TabID: 7, URL: "https://live.example", Title: "Live"}); err != nil {
		t.Fatalf("Add() failed: %v", err)
	}

	if _, err := svc.SendMessage(ctx, "again?", "", boolPtr(true)); err != nil {
		t.Fatalf("SendMessage() failed: %v", err)
	}

	parts := gen.contents[0].Parts
	count := 0
	for _, p := range parts {
		if p.Text == "live content" {
			count++
		}
	}
	if count != 1 {
		t.Fatalf("pinned active tab content appeared %d times; want 1", count)
	}
	if !strings.Contains(parts[0].Text, "content included below among the pinned tabs") {
		t.Fatalf("part 0 = %q; want the dedup reference leading the payload", parts[0].Text)
	}
}

func TestShareActiveTabDefaultsOn(t *testing.T) {
	svc, _ := newTestService(&fakeHost{}, &fakeGen{}, &fakeResolver{})
	ctx := context.Background()

	v, err := svc.ShareActiveTab(ctx)
	if err != nil || !v {
		t.Fatalf("ShareActiveTab() = %v, %v; want true, nil", v, err)
	}

	if err := svc.SetShareActiveTab(ctx, false); err != nil {
		t.Fatalf("SetShareActiveTab() failed: %v", err)
	}
	v, err = svc.ShareActiveTab(ctx)
	if err != nil || v {
		t.Fatalf("ShareActiveTab() after off = %v, %v; want false, nil", v, err)
	}
}

func TestListPinnedAnnotatesLiveState(t *testing.T) {
	host := &fakeHost{
		tabs: []tabhost.Tab{
			{ID: 1, URL: "https://a.example", Status: tabhost.StatusComplete},
			{ID: 2, URL: "https://b.example", Status: tabhost.StatusComplete, Discarded: true},
		},
	}
	svc, _ := newTestService(host, &fakeGen{}, &fakeResolver{})
	ctx := context.Background()

	for _, e := range []pins.Entry{
		{TabID: 1, URL: "https://a.example"},
		{TabID: 2, URL: "https://b.example"},
		{TabID: 3, URL: "https://c.example"},
	} {
		if err := svc.pins.Add(ctx, e); err != nil {
			t.Fatalf("Add() failed: %v", err)
		}
	}

	statuses, err := svc.ListPinned(ctx)
	if err != nil {
		t.Fatalf("ListPinned() failed: %v", err)
	}
	want := []string{PinStatusOpen, PinStatusDiscarded, PinStatusClosed}
	for i, s := range statuses {
		if s.Status != want[i] {
			t.Errorf("pin %d status = %q; want %q", s.TabID, s.Status, want[i])
		}
	}
}

func TestClearSessionDropsHistoryAndPins(t *testing.T) {
	svc, _ := newTestService(&fakeHost{}, &fakeGen{}, &fakeResolver{})
	ctx := context.Background()

	if err := svc.pins.Add(ctx, pins.Entry{TabID: 1, URL: "https://a.example"}); err != nil {
		t.Fatalf("Add() failed: %v", err)
	}
	if err := svc.history.Add(ctx, chat.Message{Role: chat.RoleUser, Text: "x"}); err != nil {
		t.Fatalf("Add() failed: %v", err)
	}

	if err := svc.ClearSession(ctx); err != nil {
		t.Fatalf("ClearSession() failed: %v", err)
	}
	if len(svc.History()) != 0 || len(svc.pins.Entries()) != 0 {
		t.Fatal("session not cleared")
	}
}

func TestOpenTabRejectsRestrictedURL(t *testing.T) {
	svc, _ := newTestService(&fakeHost{}, &fakeGen{}, &fakeResolver{})
	if _, err := svc.OpenTab(context.Background(), "chrome://settings"); err == nil {
		t.Fatal("OpenTab() with restricted URL should fail")
	}
}

func TestHandleTabRemovedUnpins(t *testing.T) {
	svc, _ := newTestService(&fakeHost{}, &fakeGen{}, &fakeResolver{})
	ctx := context.Background()

	if err := svc.pins.Add(ctx, pins.Entry{TabID: 5, URL: "https://a.example"}); err != nil {
		t.Fatalf("Add() failed: %v", err)
	}
	if err := svc.HandleTabRemoved(ctx, 5); err != nil {
		t.Fatalf("HandleTabRemoved() failed: %v", err)
	}
	if svc.pins.Contains(5) {
		t.Fatal("pin survived tab removal")
	}
}
