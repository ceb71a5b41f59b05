package content

// MaxContextLength bounds any text fragment sent to the generation service.
// Truncation is a hard cutoff, not word-aware.
const MaxContextLength = 250_000

// Fragment is one unit of context contributed to a generation request:
// either plain text or a media reference the generation service resolves
// itself. Immutable once returned.
type Fragment struct {
	Text     string `json:"text,omitempty"`
	MIMEType string `json:"mime_type,omitempty"`
	URI      string `json:"uri,omitempty"`
}

// IsMedia reports whether the fragment is a media reference.
func (f Fragment) IsMedia() bool { return f.URI != "" }

// TextFragment builds a text fragment, applying the length bound.
func TextFragment(text string) Fragment {
	return Fragment{Text: Truncate(text)}
}

// MediaFragment builds a media-reference fragment.
func MediaFragment(mimeType, uri string) Fragment {
	return Fragment{MIMEType: mimeType, URI: uri}
}

// Truncate enforces MaxContextLength, counting characters rather than bytes
// so a multi-byte rune is never split.
func Truncate(s string) string {
	if len(s) <= MaxContextLength {
		return s
	}
	runes := []rune(s)
	if len(runes) <= MaxContextLength {
		return s
	}
	return string(runes[:MaxContextLength])
}
