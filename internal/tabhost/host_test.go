package tabhost

import (
	"errors"
	"strings"
	"testing"
)

func TestShouldRetryClassification(t *testing.T) {
	h := NewCDPHost("http://127.0.0.1:9222", 0)

	cases := []struct {
		name string
		err  error
		want bool
	}{
		{"cdp unavailable", NewError(CodeCDPUnavailable, "connect to CDP failed", nil), true},
		{"tab not found", NewError(CodeTabNotFound, "tab not found", nil), false},
		{"policy blocked", NewError(CodePolicyBlocked, "script access denied", nil), false},
		{"extraction with transient cause", NewError(CodeExtractionFailed, "evaluation failed", errors.New("websocket: close 1006")), true},
		{"extraction with page cause", NewError(CodeExtractionFailed, "evaluation failed", errors.New("ReferenceError: x is not defined")), false},
		{"extraction without cause", NewError(CodeExtractionFailed, "evaluation failed", nil), false},
		{"bare transient", errors.New("read tcp: connection reset by peer"), true},
		{"bare other", errors.New("some page script exploded"), false},
	}
	for _, tc := range cases {
		if got := h.shouldRetry(tc.err); got != tc.want {
			t.Errorf("%s: shouldRetry() = %v, want %v", tc.name, got, tc.want)
		}
	}
}

func TestIsPolicyBlocked(t *testing.T) {
	if !isPolicyBlocked("This page is Blocked By The Administrator") {
		t.Fatal("administrator block should match")
	}
	if !isPolicyBlocked("script not allowed by policy on this origin") {
		t.Fatal("policy denial should match")
	}
	if isPolicyBlocked("TypeError: cannot read properties of null") {
		t.Fatal("page error should not match")
	}
}

func TestSortTabsByID(t *testing.T) {
	tabs := []Tab{{ID: 3}, {ID: 1}, {ID: 2}}
	sortTabs(tabs)
	for i, want := range []int64{1, 2, 3} {
		if tabs[i].ID != want {
			t.Fatalf("tabs[%d].ID = %d; want %d", i, tabs[i].ID, want)
		}
	}
}

func TestWrapJSEnvelope(t *testing.T) {
	js := WrapJS(`return JSON.stringify({ok:true,data:{x:1}});`)
	if !strings.HasPrefix(js, "(function(){") {
		t.Fatalf("missing IIFE prefix: %q", js)
	}
	if !strings.Contains(js, `error_code:"`+CodeExtractionFailed+`"`) {
		t.Fatal("catch branch must report an extraction failure code")
	}
	if !strings.HasSuffix(js, "})()") {
		t.Fatalf("missing IIFE invocation: %q", js)
	}

	async := WrapJSAsync(`return JSON.stringify({ok:true});`)
	if !strings.HasPrefix(async, "(async function(){") {
		t.Fatalf("missing async prefix: %q", async)
	}
}

func TestJSStringEscapes(t *testing.T) {
	got := JSString(`he said "hi"` + "\n")
	if got != `"he said \"hi\"\n"` {
		t.Fatalf("JSString() = %s", got)
	}
}

func TestCodedErrorFormatting(t *testing.T) {
	err := NewError(CodeLoadTimeout, "tab did not finish loading in time", nil)
	if got := err.Error(); got != "LOAD_TIMEOUT: tab did not finish loading in time" {
		t.Fatalf("Error() = %q", got)
	}

	wrapped := NewError(CodeExtractionFailed, "evaluation failed", errors.New("boom"))
	var coded *CodedError
	if !errors.As(wrapped, &coded) {
		t.Fatal("errors.As failed")
	}
	if !strings.Contains(wrapped.Error(), "boom") {
		t.Fatalf("cause not included: %q", wrapped.Error())
	}
}
