package content

import (
	"context"
	"net/url"
	"strings"

	"github.com/dgnsrekt/tab_agent/internal/tabhost"
)

// Strategy decides how one kind of page becomes a context fragment.
// Strategies are tried in a fixed priority order; the first whose CanHandle
// returns true wins, and the default text strategy always matches so
// selection never fails.
type Strategy interface {
	CanHandle(url string) bool
	// RequiresLoad reports whether extraction needs a loaded document. The
	// video strategy never touches the page, so the resolver skips the
	// readiness wait for it.
	RequiresLoad() bool
	Content(ctx context.Context, tabID int64, url string) (Fragment, error)
}

func defaultStrategies(host tabhost.Host) []Strategy {
	return []Strategy{
		videoStrategy{},
		richDocStrategy{host: host},
		textStrategy{host: host},
	}
}

func selectStrategy(strategies []Strategy, url string) Strategy {
	for _, s := range strategies {
		if s.CanHandle(url) {
			return s
		}
	}
	// Unreachable while the catch-all is last; kept so a misordered list
	// still degrades to plain text extraction.
	return textStrategy{}
}

// videoStrategy matches known video-hosting URL shapes and defers all
// extraction to the generation service: the fragment is just a reference.
type videoStrategy struct{}

func (videoStrategy) CanHandle(raw string) bool {
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	host := strings.ToLower(u.Hostname())
	switch {
	case host == "youtu.be":
		return strings.TrimPrefix(u.Path, "/") != ""
	case host == "youtube.com" || strings.HasSuffix(host, ".youtube.com"):
		if u.Path == "/watch" {
			return u.Query().Get("v") != ""
		}
		return strings.HasPrefix(u.Path, "/shorts/")
	}
	return false
}

func (videoStrategy) RequiresLoad() bool { return false }

func (videoStrategy) Content(_ context.Context, _ int64, raw string) (Fragment, error) {
	// The URL is passed through unchanged; the generation service fetches
	// and understands the video itself.
	return MediaFragment("video/*", raw), nil
}

// textStrategy is the catch-all: extract the rendered text of the page.
type textStrategy struct {
	host tabhost.Host
}

func (textStrategy) CanHandle(string) bool { return true }

func (textStrategy) RequiresLoad() bool { return true }

func (s textStrategy) Content(ctx context.Context, tabID int64, _ string) (Fragment, error) {
	var out struct {
		Text string `json:"text"`
	}
	if err := s.host.InjectAndRun(ctx, tabID, jsPageText(), &out); err != nil {
		return Fragment{}, err
	}
	return TextFragment(out.Text), nil
}

func jsPageText() string {
	return tabhost.WrapJS(`
var text = document.body ? document.body.innerText : "";
return JSON.stringify({ok:true,data:{text:String(text || "")}});`)
}
