package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/dgnsrekt/tab_agent/internal/chat"
	"github.com/dgnsrekt/tab_agent/internal/content"
	"github.com/dgnsrekt/tab_agent/internal/genai"
	"github.com/dgnsrekt/tab_agent/internal/kvstore"
	"github.com/dgnsrekt/tab_agent/internal/pins"
	"github.com/dgnsrekt/tab_agent/internal/tabhost"
)

// PinStatus is a pinned tab annotated with its live state.
type PinStatus struct {
	pins.Entry
	Status string `json:"status"`
}

// Live pin states.
const (
	PinStatusOpen      = "open"
	PinStatusDiscarded = "discarded"
	PinStatusClosed    = "closed"
)

// ChatResult is the outcome of one send: either a reply or a clean abort.
type ChatResult struct {
	Reply   string
	Aborted bool
}

// Service orchestrates chat generation over browser-tab context. One
// generation runs at a time; sends are serialized and Stop cancels the one
// in flight.
type Service struct {
	host     tabhost.Host
	pins     *pins.Store
	history  *chat.History
	kv       kvstore.Store
	gen      genai.Client
	res      pins.ContentResolver
	model    string
	sendMu   sync.Mutex
	cancelMu sync.Mutex
	cancel   context.CancelFunc
}

func NewService(host tabhost.Host, pinStore *pins.Store, history *chat.History, kv kvstore.Store, gen genai.Client, res pins.ContentResolver, model string) *Service {
	return &Service{
		host:    host,
		pins:    pinStore,
		history: history,
		kv:      kv,
		gen:     gen,
		res:     res,
		model:   model,
	}
}

// SendMessage runs one full chat turn: persist the user message, assemble
// tab context, call the generation service, persist the reply. A Stop (or
// client disconnect) between any two steps rolls the user message back and
// reports Aborted instead of an error.
func (s *Service) SendMessage(ctx context.Context, text, model string, includeActiveTab *bool) (ChatResult, error) {
	if strings.TrimSpace(text) == "" {
		return ChatResult{}, tabhost.NewError(tabhost.CodeValidation, "message text is required", nil)
	}
	if model == "" {
		model = s.model
	}

	s.sendMu.Lock()
	defer s.sendMu.Unlock()

	genCtx, cancel := context.WithCancel(ctx)
	s.setCancel(cancel)
	defer func() {
		s.setCancel(nil)
		cancel()
	}()

	requestID := uuid.NewString()
	log := slog.With("request_id", requestID)
	log.Info("chat send started", "model", model, "text_len", len(text))

	// Another writer may have touched the persisted session since the last
	// turn; reload so this turn sees it.
	if err := s.pins.Load(genCtx, s.host); err != nil {
		return s.finish(genCtx, log, err)
	}
	if err := s.history.Load(genCtx); err != nil {
		return s.finish(genCtx, log, err)
	}

	if err := s.history.Add(genCtx, chat.Message{Role: chat.RoleUser, Text: text}); err != nil {
		return ChatResult{}, err
	}

	fragments, err := s.assembleContext(genCtx, includeActiveTab)
	if err != nil {
		return s.rollback(genCtx, log, err)
	}
	if genCtx.Err() != nil {
		return s.rollback(genCtx, log, genCtx.Err())
	}

	contents := buildContents(s.history.Messages(), fragments)
	log.Info("chat context assembled", "fragments", len(fragments), "turns", len(contents))

	reply, err := s.gen.Generate(genCtx, model, contents)
	if err != nil {
		return s.rollback(genCtx, log, err)
	}

	if err := s.history.Add(genCtx, chat.Message{Role: chat.RoleModel, Text: reply}); err != nil {
		return ChatResult{}, err
	}
	log.Info("chat send finished", "reply_len", len(reply))
	return ChatResult{Reply: reply}, nil
}

// StopGeneration cancels the in-flight generation, if any. Reports whether
// anything was running.
func (s *Service) StopGeneration() bool {
	s.cancelMu.Lock()
	defer s.cancelMu.Unlock()
	if s.cancel == nil {
		return false
	}
	s.cancel()
	s.cancel = nil
	slog.Info("chat generation stopped")
	return true
}

func (s *Service) setCancel(c context.CancelFunc) {
	s.cancelMu.Lock()
	s.cancel = c
	s.cancelMu.Unlock()
}

// rollback undoes the user turn after a failure or abort. The removal runs
// on a fresh context: the cancelled one must not block the cleanup.
func (s *Service) rollback(genCtx context.Context, log *slog.Logger, cause error) (ChatResult, error) {
	if err := s.history.RemoveLast(context.Background()); err != nil {
		log.Error("chat rollback failed", "error", err)
	}
	return s.finish(genCtx, log, cause)
}

func (s *Service) finish(genCtx context.Context, log *slog.Logger, cause error) (ChatResult, error) {
	if genCtx.Err() != nil && (errors.Is(cause, context.Canceled) || errors.Is(cause, context.DeadlineExceeded)) {
		log.Info("chat send aborted")
		return ChatResult{Aborted: true}, nil
	}
	log.Warn("chat send failed", "error", cause)
	return ChatResult{}, cause
}

// assembleContext gathers the fragments for this turn: the active tab when
// sharing is on, then every pinned tab. A pinned active tab is referenced
// rather than extracted twice.
func (s *Service) assembleContext(ctx context.Context, includeActiveTab *bool) ([]content.Fragment, error) {
	activeFragments, err := s.activeContext(ctx, includeActiveTab)
	if err != nil {
		return nil, err
	}
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}

	pinned, err := s.pins.GetAllContent(ctx)
	if err != nil {
		return nil, err
	}
	return append(activeFragments, pinned...), nil
}

// activeContext resolves the active tab's fragment pair, or nothing when
// sharing is off or no tab has focus.
func (s *Service) activeContext(ctx context.Context, includeActiveTab *bool) ([]content.Fragment, error) {
	share := includeActiveTab != nil && *includeActiveTab
	if includeActiveTab == nil {
		stored, err := s.ShareActiveTab(ctx)
		if err != nil {
			return nil, err
		}
		share = stored
	}
	if !share {
		return nil, nil
	}

	active, ok, err := s.activeTab(ctx)
	if err != nil || !ok {
		return nil, err
	}

	label := active.Title
	if strings.TrimSpace(label) == "" {
		label = active.URL
	}
	if s.pins.Contains(active.ID) {
		return []content.Fragment{content.TextFragment(
			fmt.Sprintf("Active Tab: %s (%s) [content included below among the pinned tabs]", label, active.URL))}, nil
	}

	frag, err := s.res.Resolve(ctx, active.ID, active.URL)
	if err != nil {
		return nil, err
	}
	return []content.Fragment{
		content.TextFragment(fmt.Sprintf("Active Tab: %s (%s)", label, active.URL)),
		frag,
	}, nil
}

func (s *Service) activeTab(ctx context.Context) (tabhost.Tab, bool, error) {
	tabs, err := s.host.QueryTabs(ctx, tabhost.Filter{Active: true})
	if err != nil {
		return tabhost.Tab{}, false, err
	}
	if len(tabs) == 0 {
		return tabhost.Tab{}, false, nil
	}
	return tabs[0], true, nil
}

// buildContents maps the conversation into generation turns. The final user
// turn carries the context fragments ahead of the user's text so the model
// reads the material before the question.
func buildContents(messages []chat.Message, fragments []content.Fragment) []genai.Content {
	contents := make([]genai.Content, 0, len(messages))
	for i, m := range messages {
		c := genai.Content{Role: m.Role}
		if i == len(messages)-1 && m.Role == chat.RoleUser {
			for _, f := range fragments {
				c.Parts = append(c.Parts, fragmentPart(f))
			}
		}
		c.Parts = append(c.Parts, genai.Part{Text: m.Text})
		contents = append(contents, c)
	}
	return contents
}

func fragmentPart(f content.Fragment) genai.Part {
	if f.IsMedia() {
		return genai.Part{FileData: &genai.FileData{MIMEType: f.MIMEType, FileURI: f.URI}}
	}
	return genai.Part{Text: f.Text}
}

// PinCurrentTab pins the browser's active tab.
func (s *Service) PinCurrentTab(ctx context.Context) (pins.Entry, error) {
	active, ok, err := s.activeTab(ctx)
	if err != nil {
		return pins.Entry{}, err
	}
	if !ok {
		return pins.Entry{}, tabhost.NewError(tabhost.CodeTabNotFound, "no active tab", nil)
	}
	e := pins.Entry{TabID: active.ID, URL: active.URL, Title: active.Title}
	if err := s.pins.Add(ctx, e); err != nil {
		return pins.Entry{}, err
	}
	slog.Info("tab pinned", "tab_id", e.TabID, "url", e.URL)
	return e, nil
}

// Unpin removes a pin by tab id.
func (s *Service) Unpin(ctx context.Context, tabID int64) error {
	removed, err := s.pins.Remove(ctx, tabID)
	if err != nil {
		return err
	}
	if !removed {
		return tabhost.NewError(tabhost.CodeTabNotFound, fmt.Sprintf("tab %d is not pinned", tabID), nil)
	}
	slog.Info("tab unpinned", "tab_id", tabID)
	return nil
}

// ListPinned returns the pinned set annotated with live tab state.
func (s *Service) ListPinned(ctx context.Context) ([]PinStatus, error) {
	entries := s.pins.Entries()
	out := make([]PinStatus, 0, len(entries))
	for _, e := range entries {
		status := PinStatusOpen
		tab, ok, err := s.host.GetTab(ctx, e.TabID)
		switch {
		case err != nil:
			return nil, err
		case !ok:
			status = PinStatusClosed
		case tab.Discarded:
			status = PinStatusDiscarded
		}
		out = append(out, PinStatus{Entry: e, Status: status})
	}
	return out, nil
}

// History returns the persisted conversation.
func (s *Service) History() []chat.Message {
	return s.history.Messages()
}

// ClearSession drops the conversation and every pin.
func (s *Service) ClearSession(ctx context.Context) error {
	if err := s.history.Clear(ctx); err != nil {
		return err
	}
	if err := s.pins.Clear(ctx); err != nil {
		return err
	}
	slog.Info("session cleared")
	return nil
}

// ShareActiveTab reads the persisted sharing default. Missing or unreadable
// state defaults to on.
func (s *Service) ShareActiveTab(ctx context.Context) (bool, error) {
	data, ok, err := s.kv.Get(ctx, kvstore.KeyShareActiveTab)
	if err != nil {
		return false, err
	}
	if !ok {
		return true, nil
	}
	var v bool
	if err := json.Unmarshal(data, &v); err != nil {
		slog.Warn("share flag unreadable, defaulting on", "error", err)
		return true, nil
	}
	return v, nil
}

// SetShareActiveTab persists the sharing default.
func (s *Service) SetShareActiveTab(ctx context.Context, v bool) error {
	data, _ := json.Marshal(v)
	return s.kv.Set(ctx, kvstore.KeyShareActiveTab, data)
}

// OpenTab opens a URL in a new browser tab.
func (s *Service) OpenTab(ctx context.Context, url string) (tabhost.Tab, error) {
	if content.IsRestrictedURL(url) {
		return tabhost.Tab{}, tabhost.NewError(tabhost.CodeRestrictedURL, "refusing to open a restricted URL", nil)
	}
	tab, err := s.host.CreateTab(ctx, url)
	if err != nil {
		return tabhost.Tab{}, err
	}
	slog.Info("tab opened", "tab_id", tab.ID, "url", url)
	return tab, nil
}

// HandleTabUpdated refreshes pin metadata after a navigation or title
// change. Unpinned tabs are ignored.
func (s *Service) HandleTabUpdated(ctx context.Context, tabID int64, url, title string) error {
	return s.pins.UpdateMetadata(ctx, tabID, url, title)
}

// HandleTabRemoved unpins a closed tab, if it was pinned.
func (s *Service) HandleTabRemoved(ctx context.Context, tabID int64) error {
	removed, err := s.pins.Remove(ctx, tabID)
	if removed {
		slog.Info("pin removed for closed tab", "tab_id", tabID)
	}
	return err
}

// Health reports whether the browser connection answers, with the visible
// tab count.
func (s *Service) Health(ctx context.Context) (int, error) {
	tabs, err := s.host.QueryTabs(ctx, tabhost.Filter{})
	if err != nil {
		return 0, err
	}
	return len(tabs), nil
}
