package pins

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/dgnsrekt/tab_agent/internal/content"
	"github.com/dgnsrekt/tab_agent/internal/kvstore"
	"github.com/dgnsrekt/tab_agent/internal/tabhost"
)

// MaxPinnedTabs bounds how many tabs can be pinned at once.
const MaxPinnedTabs = 6

// Entry is one pinned tab. URL and Title are the last observed values; the
// live tab wins whenever it is still around.
type Entry struct {
	TabID int64  `json:"tab_id"`
	URL   string `json:"url"`
	Title string `json:"title"`
}

// ContentResolver produces the context fragment for one tab.
type ContentResolver interface {
	Resolve(ctx context.Context, tabID int64, url string) (content.Fragment, error)
}

// Store holds the pinned set, persisting every mutation. All methods are
// safe for concurrent use; the mutex also serializes persistence so writes
// can never interleave.
type Store struct {
	mu       sync.Mutex
	entries  []Entry
	kv       kvstore.Store
	resolver ContentResolver
}

func NewStore(kv kvstore.Store, resolver ContentResolver) *Store {
	return &Store{kv: kv, resolver: resolver}
}

// Load restores the pinned set from storage, pruning entries whose tabs no
// longer exist. A prune triggers exactly one re-persist.
func (s *Store) Load(ctx context.Context, host tabhost.Host) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, ok, err := s.kv.Get(ctx, kvstore.KeyPinnedTabs)
	if err != nil {
		return fmt.Errorf("pins: load: %w", err)
	}
	if !ok {
		s.entries = nil
		return nil
	}

	var stored []Entry
	if err := json.Unmarshal(data, &stored); err != nil {
		// Corrupt state is not worth failing startup over.
		slog.Warn("pins discarding unreadable stored state", "error", err)
		s.entries = nil
		return nil
	}

	live := stored[:0]
	pruned := 0
	for _, e := range stored {
		_, exists, err := host.GetTab(ctx, e.TabID)
		if err != nil {
			return fmt.Errorf("pins: liveness check for tab %d: %w", e.TabID, err)
		}
		if !exists {
			pruned++
			continue
		}
		live = append(live, e)
	}
	s.entries = live

	if pruned > 0 {
		slog.Info("pins pruned dead tabs on load", "pruned", pruned, "kept", len(live))
		return s.persistLocked(ctx)
	}
	return nil
}

// Add pins a tab. Re-pinning an already pinned tab is a no-op and does not
// re-persist.
func (s *Store) Add(ctx context.Context, e Entry) error {
	if strings.TrimSpace(e.URL) == "" {
		return tabhost.NewError(tabhost.CodeInvalidPinTarget, "tab has no URL to pin", nil)
	}
	if content.IsRestrictedURL(e.URL) {
		return tabhost.NewError(tabhost.CodeRestrictedURL, "browser-internal pages cannot be pinned", nil)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.entries {
		if existing.TabID == e.TabID {
			return nil
		}
	}
	if len(s.entries) >= MaxPinnedTabs {
		return tabhost.NewError(tabhost.CodePinLimitExceeded,
			fmt.Sprintf("cannot pin more than %d tabs", MaxPinnedTabs), nil)
	}

	s.entries = append(s.entries, e)
	return s.persistLocked(ctx)
}

// Remove unpins a tab. Removing an unpinned tab is a no-op and does not
// re-persist. Returns whether an entry was removed.
func (s *Store) Remove(ctx context.Context, tabID int64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i, e := range s.entries {
		if e.TabID == tabID {
			s.entries = append(s.entries[:i], s.entries[i+1:]...)
			return true, s.persistLocked(ctx)
		}
	}
	return false, nil
}

// UpdateMetadata refreshes the stored URL and title for a pinned tab,
// persisting only on change. Unpinned tabs are ignored.
func (s *Store) UpdateMetadata(ctx context.Context, tabID int64, url, title string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i, e := range s.entries {
		if e.TabID != tabID {
			continue
		}
		if e.URL == url && e.Title == title {
			return nil
		}
		s.entries[i].URL = url
		s.entries[i].Title = title
		return s.persistLocked(ctx)
	}
	return nil
}

// Contains reports whether the tab is pinned.
func (s *Store) Contains(tabID int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range s.entries {
		if e.TabID == tabID {
			return true
		}
	}
	return false
}

// Entries returns a copy of the pinned set in pin order.
func (s *Store) Entries() []Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Entry, len(s.entries))
	copy(out, s.entries)
	return out
}

// Clear drops every pin and removes the persisted record.
func (s *Store) Clear(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = nil
	if err := s.kv.Delete(ctx, kvstore.KeyPinnedTabs); err != nil {
		return fmt.Errorf("pins: clear: %w", err)
	}
	return nil
}

// GetAllContent resolves every pinned tab into fragments, each preceded by a
// header fragment naming the tab. Pin order is preserved. Resolution
// failures appear as diagnostic fragments; only cancellation aborts.
func (s *Store) GetAllContent(ctx context.Context) ([]content.Fragment, error) {
	entries := s.Entries()

	var out []content.Fragment
	for _, e := range entries {
		frag, err := s.resolver.Resolve(ctx, e.TabID, e.URL)
		if err != nil {
			return nil, err
		}
		out = append(out, content.TextFragment(headerFor(e.Title, e.URL)), frag)
	}
	return out, nil
}

func headerFor(title, url string) string {
	if strings.TrimSpace(title) == "" {
		title = url
	}
	return fmt.Sprintf("Pinned Tab: %s (%s)", title, url)
}

func (s *Store) persistLocked(ctx context.Context) error {
	data, err := json.Marshal(s.entries)
	if err != nil {
		return fmt.Errorf("pins: marshal: %w", err)
	}
	if err := s.kv.Set(ctx, kvstore.KeyPinnedTabs, data); err != nil {
		return fmt.Errorf("pins: persist: %w", err)
	}
	return nil
}
