package tabhost

import "context"

// Tab statuses mirror the host platform's loading lifecycle.
const (
	StatusLoading  = "loading"
	StatusComplete = "complete"
)

// Tab describes one browser tab as seen by the host platform.
type Tab struct {
	ID        int64  `json:"id"`
	TargetID  string `json:"target_id"`
	URL       string `json:"url"`
	Title     string `json:"title,omitempty"`
	Status    string `json:"status"`
	Discarded bool   `json:"discarded"`
	Active    bool   `json:"active"`
	WindowID  int    `json:"window_id"`
}

// Filter narrows a QueryTabs call.
type Filter struct {
	Active      bool
	URLContains string
}

// Host is the tab platform contract consumed by the content resolver and the
// pin store. The CDP client implements it; tests substitute fakes.
type Host interface {
	QueryTabs(ctx context.Context, f Filter) ([]Tab, error)
	GetTab(ctx context.Context, id int64) (Tab, bool, error)
	InjectAndRun(ctx context.Context, id int64, js string, out any) error
	CreateTab(ctx context.Context, url string) (Tab, error)
	AwaitTabComplete(ctx context.Context, id int64, timeoutMS int) error
}
