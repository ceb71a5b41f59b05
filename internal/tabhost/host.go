package tabhost

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/cdproto/target"
)

// transientHints are substrings in error causes that indicate a transient
// failure worth retrying (e.g. broken connection, closed session).
var transientHints = []string{
	"context canceled",
	"target closed",
	"session closed",
	"websocket",
	"connection reset",
	"broken pipe",
	"eof",
	"connection refused",
	"connection closed",
}

// policyHints mark evaluate failures caused by the browser's enterprise or
// extension policy denying script access, which callers surface differently
// from a generic extraction failure.
var policyHints = []string{
	"blocked by the administrator",
	"extensionsettings policy",
	"not allowed by policy",
}

type tabEntry struct {
	id       int64
	targetID target.ID
	url      string
	title    string
	active   bool

	mu        sync.Mutex
	sessionID string // CDP session ID from Target.attachToTarget
}

// CDPHost implements Host against a local Chromium's DevTools endpoint.
// Numeric tab ids are assigned in discovery order and stay stable for the
// lifetime of the process, like the ids a browser hands to its extensions.
type CDPHost struct {
	cdpURL      string
	evalTimeout time.Duration

	mu       sync.Mutex
	cdp      *rawCDP
	nextID   int64
	byID     map[int64]*tabEntry
	byTarget map[target.ID]*tabEntry
}

func NewCDPHost(cdpURL string, evalTimeout time.Duration) *CDPHost {
	return &CDPHost{
		cdpURL:      cdpURL,
		evalTimeout: evalTimeout,
		byID:        make(map[int64]*tabEntry),
		byTarget:    make(map[target.ID]*tabEntry),
	}
}

func (h *CDPHost) Connect(ctx context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.connectLocked(ctx)
}

func (h *CDPHost) connectLocked(ctx context.Context) error {
	if h.cdpURL == "" {
		return NewError(CodeCDPUnavailable, "missing CDP URL", nil)
	}

	slog.Info("tabhost connect start", "cdp_url", h.cdpURL)
	h.cleanupLocked()

	h.cdp = newRawCDP(h.cdpURL)
	if err := h.cdp.connect(ctx); err != nil {
		h.cdp = nil
		return NewError(CodeCDPUnavailable, "connect to CDP failed", err)
	}

	if err := h.syncTabsLocked(ctx); err != nil {
		slog.Error("tabhost initial tab sync failed", "error", err)
		h.cleanupLocked()
		return NewError(CodeCDPUnavailable, "connect to CDP failed", err)
	}

	slog.Info("tabhost connect ok", "cdp_url", h.cdpURL, "tabs", len(h.byID))
	return nil
}

func (h *CDPHost) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.cleanupLocked()
	return nil
}

func (h *CDPHost) cleanupLocked() {
	// Detach from any active sessions without closing targets. The numeric id
	// maps survive so ids stay stable across a reconnect.
	if h.cdp != nil {
		for _, entry := range h.byID {
			entry.mu.Lock()
			if entry.sessionID != "" {
				ctx, cancel := context.WithTimeout(context.Background(), time.Second)
				if err := h.cdp.detachFromTarget(ctx, entry.sessionID); err != nil {
					slog.Debug("tabhost detach cleanup failed", "tab_id", entry.id, "error", err)
				}
				cancel()
				entry.sessionID = ""
			}
			entry.mu.Unlock()
		}
		h.cdp.close()
		h.cdp = nil
	}
}

// syncTabsLocked reconciles the registry with the browser's live page targets.
// New targets get the next numeric id; vanished targets are dropped; the first
// listed page target is the most recently activated one and marked active.
func (h *CDPHost) syncTabsLocked(ctx context.Context) error {
	if h.cdp == nil {
		return NewError(CodeCDPUnavailable, "CDP client not connected", nil)
	}

	targets, err := h.cdp.listTargets(ctx)
	if err != nil {
		return err
	}

	seen := make(map[target.ID]bool)
	first := true
	for _, t := range targets {
		if t.Type != "page" {
			continue
		}
		seen[t.TargetID] = true
		entry := h.byTarget[t.TargetID]
		if entry == nil {
			h.nextID++
			entry = &tabEntry{id: h.nextID, targetID: t.TargetID}
			h.byTarget[t.TargetID] = entry
			h.byID[entry.id] = entry
		}
		entry.url = t.URL
		entry.title = t.Title
		entry.active = first
		first = false
	}

	for tid, entry := range h.byTarget {
		if seen[tid] {
			continue
		}
		delete(h.byTarget, tid)
		delete(h.byID, entry.id)
	}

	slog.Debug("tabhost tab sync", "targets", len(targets), "tabs", len(h.byID))
	return nil
}

func (h *CDPHost) refreshTabs(ctx context.Context) error {
	if err := h.ensureConnected(ctx); err != nil {
		return err
	}

	h.mu.Lock()
	err := h.syncTabsLocked(ctx)
	h.mu.Unlock()
	if err == nil {
		return nil
	}
	return NewError(CodeCDPUnavailable, "failed to list targets", err)
}

func (h *CDPHost) ensureConnected(ctx context.Context) error {
	h.mu.Lock()
	connected := h.cdp != nil
	h.mu.Unlock()
	if connected {
		return nil
	}
	return h.reconnect(ctx)
}

func (h *CDPHost) reconnect(ctx context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.connectLocked(ctx)
}

// QueryTabs returns a metadata snapshot of open tabs. Status probing is
// deliberately skipped here; callers that need readiness use GetTab.
func (h *CDPHost) QueryTabs(ctx context.Context, f Filter) ([]Tab, error) {
	if err := h.refreshTabs(ctx); err != nil {
		return nil, err
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	tabs := make([]Tab, 0, len(h.byID))
	for _, entry := range h.byID {
		if f.Active && !entry.active {
			continue
		}
		if f.URLContains != "" && !strings.Contains(strings.ToLower(entry.url), strings.ToLower(f.URLContains)) {
			continue
		}
		tabs = append(tabs, h.tabFromEntryLocked(entry, StatusComplete, false))
	}
	sortTabs(tabs)
	return tabs, nil
}

// GetTab looks a tab up by id and probes its readiness. A tab whose renderer
// is gone (unloaded by the browser to save memory) reports Discarded.
func (h *CDPHost) GetTab(ctx context.Context, id int64) (Tab, bool, error) {
	entry, err := h.resolveEntry(ctx, id)
	if err != nil {
		return Tab{}, false, err
	}
	if entry == nil {
		return Tab{}, false, nil
	}

	status, discarded := h.probeStatus(ctx, entry)

	h.mu.Lock()
	defer h.mu.Unlock()
	return h.tabFromEntryLocked(entry, status, discarded), true, nil
}

// InjectAndRun evaluates a WrapJS-wrapped script on the tab and decodes the
// envelope into out. Transient transport failures trigger a single retry
// after a reconnect or tab refresh.
func (h *CDPHost) InjectAndRun(ctx context.Context, id int64, js string, out any) error {
	entry, err := h.resolveEntry(ctx, id)
	if err != nil {
		return err
	}
	if entry == nil {
		return NewError(CodeTabNotFound, "tab not found", nil)
	}

	err = h.evalOnEntry(ctx, entry, js, out)
	if err == nil || !h.shouldRetry(err) {
		return err
	}

	slog.Warn("tabhost eval retry after transient failure", "tab_id", id, "error", err)
	if h.asCode(err, CodeCDPUnavailable) {
		if recErr := h.reconnect(ctx); recErr != nil {
			return recErr
		}
	} else if syncErr := h.refreshTabs(ctx); syncErr != nil {
		slog.Warn("tabhost tab refresh failed during retry", "tab_id", id, "error", syncErr)
	}

	entry, err = h.resolveEntry(ctx, id)
	if err != nil {
		return err
	}
	if entry == nil {
		return NewError(CodeTabNotFound, "tab not found", nil)
	}
	return h.evalOnEntry(ctx, entry, js, out)
}

// CreateTab opens a new tab at the given URL and returns its registry entry.
func (h *CDPHost) CreateTab(ctx context.Context, url string) (Tab, error) {
	if err := h.ensureConnected(ctx); err != nil {
		return Tab{}, err
	}

	h.mu.Lock()
	cdp := h.cdp
	h.mu.Unlock()
	if cdp == nil {
		return Tab{}, NewError(CodeCDPUnavailable, "CDP client not connected", nil)
	}

	targetID, err := cdp.createTarget(ctx, url)
	if err != nil {
		return Tab{}, NewError(CodeCDPUnavailable, "create target failed", err)
	}

	if err := h.refreshTabs(ctx); err != nil {
		return Tab{}, err
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	entry := h.byTarget[target.ID(targetID)]
	if entry == nil {
		return Tab{}, NewError(CodeTabNotFound, "created tab vanished before registration", nil)
	}
	slog.Info("tabhost tab created", "tab_id", entry.id, "url", url)
	return h.tabFromEntryLocked(entry, StatusLoading, false), nil
}

// AwaitTabComplete polls the tab's readiness until it completes or the
// timeout expires. Expiry is reported as a LOAD_TIMEOUT coded error; the
// caller decides whether that degrades to a warning.
func (h *CDPHost) AwaitTabComplete(ctx context.Context, id int64, timeoutMS int) error {
	deadline := time.After(time.Duration(timeoutMS) * time.Millisecond)
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()

	for {
		entry, err := h.resolveEntry(ctx, id)
		if err != nil {
			return err
		}
		if entry == nil {
			return NewError(CodeTabNotFound, "tab not found", nil)
		}
		status, discarded := h.probeStatus(ctx, entry)
		if discarded {
			return NewError(CodeTabDiscarded, "tab was discarded while loading", nil)
		}
		if status == StatusComplete {
			return nil
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-deadline:
			return NewError(CodeLoadTimeout, "tab did not finish loading in time", nil)
		case <-ticker.C:
		}
	}
}

func (h *CDPHost) resolveEntry(ctx context.Context, id int64) (*tabEntry, error) {
	h.mu.Lock()
	entry := h.byID[id]
	h.mu.Unlock()
	if entry != nil {
		return entry, nil
	}

	if err := h.refreshTabs(ctx); err != nil {
		return nil, err
	}

	h.mu.Lock()
	entry = h.byID[id]
	h.mu.Unlock()
	return entry, nil
}

// probeStatus evaluates document.readyState on the tab. Probe failures are
// interpreted as a discarded renderer rather than propagated: the registry
// still lists the target, but nothing is home to answer.
func (h *CDPHost) probeStatus(ctx context.Context, entry *tabEntry) (string, bool) {
	probeCtx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()

	raw, err := h.rawEval(probeCtx, entry, "document.readyState")
	if err != nil {
		slog.Debug("tabhost readiness probe failed", "tab_id", entry.id, "error", err)
		return StatusLoading, true
	}
	if raw == "complete" {
		return StatusComplete, false
	}
	return StatusLoading, false
}

func (h *CDPHost) evalOnEntry(ctx context.Context, entry *tabEntry, js string, out any) error {
	evalCtx, cancel := context.WithTimeout(ctx, h.evalTimeout)
	defer cancel()

	raw, err := h.rawEval(evalCtx, entry, js)
	if err != nil {
		if errors.Is(err, context.Canceled) && ctx.Err() != nil {
			return ctx.Err()
		}
		if isPolicyBlocked(err.Error()) {
			return NewError(CodePolicyBlocked, "script access denied by browser policy", err)
		}
		return NewError(CodeExtractionFailed, "evaluation failed", err)
	}

	var env evalEnvelope
	if err := json.Unmarshal([]byte(raw), &env); err != nil {
		return NewError(CodeExtractionFailed, "invalid evaluation envelope", err)
	}
	if !env.OK {
		code := env.ErrorCode
		if code == "" {
			code = CodeExtractionFailed
		}
		if isPolicyBlocked(env.ErrorMessage) {
			code = CodePolicyBlocked
		}
		return NewError(code, env.ErrorMessage, nil)
	}
	if out == nil || len(env.Data) == 0 {
		return nil
	}
	if err := json.Unmarshal(env.Data, out); err != nil {
		return NewError(CodeExtractionFailed, "invalid evaluation data", err)
	}
	return nil
}

// rawEval runs an expression on the entry's session, attaching if needed.
// An eval failure resets the cached session so the next call re-attaches.
func (h *CDPHost) rawEval(ctx context.Context, entry *tabEntry, js string) (string, error) {
	h.mu.Lock()
	cdp := h.cdp
	h.mu.Unlock()
	if cdp == nil {
		return "", NewError(CodeCDPUnavailable, "CDP client not connected", nil)
	}

	entry.mu.Lock()
	sessionID := entry.sessionID
	if sessionID == "" {
		sid, err := cdp.attachToTarget(ctx, string(entry.targetID))
		if err != nil {
			entry.mu.Unlock()
			return "", err
		}
		entry.sessionID = sid
		sessionID = sid
		slog.Debug("tabhost session attached", "tab_id", entry.id, "session_id", sid)
	}
	entry.mu.Unlock()

	raw, err := cdp.evaluate(ctx, sessionID, js)
	if err != nil {
		entry.mu.Lock()
		entry.sessionID = ""
		entry.mu.Unlock()
	}
	return raw, err
}

func (h *CDPHost) tabFromEntryLocked(entry *tabEntry, status string, discarded bool) Tab {
	return Tab{
		ID:        entry.id,
		TargetID:  string(entry.targetID),
		URL:       entry.url,
		Title:     entry.title,
		Status:    status,
		Discarded: discarded,
		Active:    entry.active,
		WindowID:  1,
	}
}

func (h *CDPHost) shouldRetry(err error) bool {
	var coded *CodedError
	if !errors.As(err, &coded) {
		cause := strings.ToLower(err.Error())
		for _, hint := range transientHints {
			if strings.Contains(cause, hint) {
				return true
			}
		}
		return false
	}

	switch coded.Code {
	case CodeCDPUnavailable:
		return true
	case CodeTabNotFound, CodePolicyBlocked:
		return false
	case CodeExtractionFailed:
		if coded.Cause == nil {
			return false
		}
		cause := strings.ToLower(coded.Cause.Error())
		for _, hint := range transientHints {
			if strings.Contains(cause, hint) {
				return true
			}
		}
	}
	return false
}

func (h *CDPHost) asCode(err error, code string) bool {
	var coded *CodedError
	if !errors.As(err, &coded) {
		return false
	}
	return coded.Code == code
}

func isPolicyBlocked(msg string) bool {
	lower := strings.ToLower(msg)
	for _, hint := range policyHints {
		if strings.Contains(lower, hint) {
			return true
		}
	}
	return false
}

func sortTabs(tabs []Tab) {
	sort.Slice(tabs, func(i, j int) bool { return tabs[i].ID < tabs[j].ID })
}
