package content

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/dgnsrekt/tab_agent/internal/tabhost"
)

// DefaultLoadTimeoutMS bounds how long resolution waits for a still-loading
// tab before extracting whatever is there.
const DefaultLoadTimeoutMS = 2000

// LoadingWarningPrefix marks a fragment extracted from a tab that never
// reached the complete state within the wait window.
const LoadingWarningPrefix = "[Tab still loading - content may be partial] "

// Resolver turns a tab into a context fragment. Failures along the way
// degrade to bracketed diagnostic fragments so one bad tab never sinks a
// whole generation request; only context cancellation surfaces as an error.
type Resolver struct {
	host          tabhost.Host
	strategies    []Strategy
	loadTimeoutMS int
}

func NewResolver(host tabhost.Host, loadTimeoutMS int) *Resolver {
	if loadTimeoutMS <= 0 {
		loadTimeoutMS = DefaultLoadTimeoutMS
	}
	return &Resolver{
		host:          host,
		strategies:    defaultStrategies(host),
		loadTimeoutMS: loadTimeoutMS,
	}
}

// Resolve produces the fragment for the given tab. The url argument is the
// last known URL for the tab and is only consulted when the tab itself is
// gone; a live tab's current URL wins.
func (r *Resolver) Resolve(ctx context.Context, tabID int64, url string) (Fragment, error) {
	if IsRestrictedURL(url) {
		return TextFragment("[Cannot access this page: browser-internal and local pages are restricted]"), nil
	}

	tab, ok, err := r.host.GetTab(ctx, tabID)
	if err != nil {
		if ctx.Err() != nil {
			return Fragment{}, ctx.Err()
		}
		slog.Warn("content tab lookup failed", "tab_id", tabID, "error", err)
		return TextFragment("[Unable to read this tab: the browser connection failed]"), nil
	}
	if !ok {
		return TextFragment("[This tab has been closed]"), nil
	}
	if tab.URL != "" {
		url = tab.URL
	}
	if IsRestrictedURL(url) {
		return TextFragment("[Cannot access this page: browser-internal and local pages are restricted]"), nil
	}
	if tab.Discarded {
		return TextFragment("[This tab is suspended and its content is unavailable; revisit the tab to restore it]"), nil
	}

	strategy := selectStrategy(r.strategies, url)

	stillLoading := false
	if strategy.RequiresLoad() && tab.Status != tabhost.StatusComplete {
		if err := r.host.AwaitTabComplete(ctx, tabID, r.loadTimeoutMS); err != nil {
			if ctx.Err() != nil {
				return Fragment{}, ctx.Err()
			}
			switch asErrorCode(err) {
			case tabhost.CodeLoadTimeout:
				stillLoading = true
			case tabhost.CodeTabDiscarded:
				return TextFragment("[This tab is suspended and its content is unavailable; revisit the tab to restore it]"), nil
			default:
				slog.Warn("content load wait failed", "tab_id", tabID, "error", err)
				stillLoading = true
			}
		}
	}

	frag, err := strategy.Content(ctx, tabID, url)
	if err != nil {
		if ctx.Err() != nil {
			return Fragment{}, ctx.Err()
		}
		return diagnosticFor(tabID, err), nil
	}
	if !frag.IsMedia() && strings.TrimSpace(frag.Text) == "" {
		return TextFragment("[This page has no extractable text content]"), nil
	}
	if stillLoading && !frag.IsMedia() {
		frag = TextFragment(LoadingWarningPrefix + frag.Text)
	}
	return frag, nil
}

func diagnosticFor(tabID int64, err error) Fragment {
	switch asErrorCode(err) {
	case tabhost.CodePolicyBlocked:
		return TextFragment("[Cannot access this page: script access is blocked by browser policy]")
	case tabhost.CodeTabDiscarded:
		return TextFragment("[This tab is suspended and its content is unavailable; revisit the tab to restore it]")
	case tabhost.CodeTabNotFound:
		return TextFragment("[This tab has been closed]")
	}
	slog.Warn("content extraction failed", "tab_id", tabID, "error", err)
	return TextFragment(fmt.Sprintf("[Unable to extract content from this page: %v]", err))
}

func asErrorCode(err error) string {
	var coded *tabhost.CodedError
	if errors.As(err, &coded) {
		return coded.Code
	}
	return ""
}
