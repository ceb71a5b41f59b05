package content

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"sort"
	"strings"

	"github.com/dgnsrekt/tab_agent/internal/tabhost"
)

// chunkAssignPrefix is the assignment that carries document model chunks in
// the page's embedded data scripts.
const chunkAssignPrefix = "DOCS_modelChunk = "

// richDocStrategy extracts collaborative documents whose rendered DOM is a
// canvas: the text lives in data-carrying script elements instead, as JSON
// chunk assignments in arbitrary order.
type richDocStrategy struct {
	host tabhost.Host
}

func (richDocStrategy) CanHandle(raw string) bool {
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	if !strings.EqualFold(u.Hostname(), "docs.google.com") {
		return false
	}
	return strings.HasPrefix(u.Path, "/document/")
}

func (richDocStrategy) RequiresLoad() bool { return true }

func (s richDocStrategy) Content(ctx context.Context, tabID int64, _ string) (Fragment, error) {
	var out struct {
		Scripts []string `json:"scripts"`
		Scanned int      `json:"scanned"`
	}
	if err := s.host.InjectAndRun(ctx, tabID, jsCollectChunkScripts(), &out); err != nil {
		return Fragment{}, err
	}

	text, parsed := parseChunkScripts(out.Scripts)
	if parsed == 0 {
		return TextFragment(fmt.Sprintf(
			"[Unable to extract document text: no parseable content chunks found (%d scripts scanned, %d carried the chunk marker)]",
			out.Scanned, len(out.Scripts))), nil
	}
	return TextFragment(text), nil
}

func jsCollectChunkScripts() string {
	return tabhost.WrapJS(`
var marker = ` + tabhost.JSString(chunkAssignPrefix) + `;
var scripts = document.querySelectorAll("script");
var hits = [];
for (var i = 0; i < scripts.length; i++) {
  var t = scripts[i].textContent || "";
  if (t.indexOf(marker) !== -1) hits.push(t);
}
return JSON.stringify({ok:true,data:{scripts:hits,scanned:scripts.length}});`)
}

type docChunk struct {
	Index int    `json:"index"`
	Text  string `json:"text"`
}

type chunkPayload struct {
	Chunk []docChunk `json:"chunk"`
}

// parseChunkScripts pulls every chunk assignment out of the given script
// bodies and joins the chunk texts in ascending index order (chunks arrive
// in arbitrary script order; the index restores document order). Returns the
// joined text and the number of chunks parsed.
//
// The payload is sliced from the end of the assignment prefix to the next
// occurrence of the same prefix, tolerating trailing statements; a decoder
// then reads a single JSON object and ignores the remainder. A prefix token
// nested inside a string literal would mis-split; the heuristic only has to
// hold for observed document shapes.
func parseChunkScripts(scripts []string) (string, int) {
	var chunks []docChunk
	for _, script := range scripts {
		rest := script
		for {
			start := strings.Index(rest, chunkAssignPrefix)
			if start < 0 {
				break
			}
			rest = rest[start+len(chunkAssignPrefix):]

			payload := rest
			if next := strings.Index(payload, chunkAssignPrefix); next >= 0 {
				payload = payload[:next]
			}

			var parsed chunkPayload
			dec := json.NewDecoder(strings.NewReader(payload))
			if err := dec.Decode(&parsed); err != nil {
				continue
			}
			chunks = append(chunks, parsed.Chunk...)
		}
	}
	if len(chunks) == 0 {
		return "", 0
	}

	sort.SliceStable(chunks, func(i, j int) bool { return chunks[i].Index < chunks[j].Index })

	var b strings.Builder
	for _, c := range chunks {
		b.WriteString(c.Text)
	}
	return b.String(), len(chunks)
}
