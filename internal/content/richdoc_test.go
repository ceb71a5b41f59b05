package content

import "testing"

func TestParseChunkScriptsRestoresIndexOrder(t *testing.T) {
	scripts := []string{
		`DOCS_modelChunk = {"chunk":[{"index":2,"text":"c"}]}; DOCS_modelChunkLoadStart = 1;`,
		`DOCS_modelChunk = {"chunk":[{"index":0,"text":"a"}]};`,
		`DOCS_modelChunk = {"chunk":[{"index":1,"text":"b"}]};`,
	}
	text, parsed := parseChunkScripts(scripts)
	if parsed != 3 {
		t.Fatalf("expected 3 chunks, got %d", parsed)
	}
	if text != "abc" {
		t.Fatalf("expected %q, got %q", "abc", text)
	}
}

func TestParseChunkScriptsMultipleAssignmentsPerScript(t *testing.T) {
	scripts := []string{
		`var x = 1; DOCS_modelChunk = {"chunk":[{"index":1,"text":"world"}]}; DOCS_modelChunk = {"chunk":[{"index":0,"text":"hello "}]};`,
	}
	text, parsed := parseChunkScripts(scripts)
	if parsed != 2 {
		t.Fatalf("expected 2 chunks, got %d", parsed)
	}
	if text != "hello world" {
		t.Fatalf("expected %q, got %q", "hello world", text)
	}
}

func TestParseChunkScriptsToleratesMalformedPayload(t *testing.T) {
	scripts := []string{
		`DOCS_modelChunk = not even json;`,
		`DOCS_modelChunk = {"chunk":[{"index":0,"text":"kept"}]};`,
	}
	text, parsed := parseChunkScripts(scripts)
	if parsed != 1 {
		t.Fatalf("expected 1 chunk, got %d", parsed)
	}
	if text != "kept" {
		t.Fatalf("expected %q, got %q", "kept", text)
	}
}

func TestParseChunkScriptsEmpty(t *testing.T) {
	if text, parsed := parseChunkScripts(nil); parsed != 0 || text != "" {
		t.Fatalf("expected no chunks, got %d %q", parsed, text)
	}
}

func TestRichDocStrategyCanHandle(t *testing.T) {
	s := richDocStrategy{}
	if !s.CanHandle("https://docs.google.com/document/d/abc123/edit") {
		t.Fatal("document URL should match")
	}
	if s.CanHandle("https://docs.google.com/spreadsheets/d/abc123/edit") {
		t.Fatal("spreadsheet URL should not match")
	}
	if s.CanHandle("https://example.com/document/") {
		t.Fatal("foreign host should not match")
	}
}
