package genai

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/dgnsrekt/tab_agent/internal/tabhost"
)

func TestGenerateSendsContentsAndReturnsReply(t *testing.T) {
	var got generateRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1beta/models/test-model:generateContent" {
			t.Errorf("unexpected path %q", r.URL.Path)
		}
		if r.Header.Get("x-goog-api-key") != "secret" {
			t.Errorf("missing api key header")
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decoding request failed: %v", err)
		}
		_, _ = w.Write([]byte(`{"candidates":[{"content":{"parts":[{"text":"the "},{"text":"reply"}]}}]}`))
	}))
	defer srv.Close()

	client := NewHTTPClient(srv.URL, "secret")
	contents := []Content{
		{Role: "user", Parts: []Part{
			{Text: "Pinned Tab: A (https://a.example)"},
			{FileData: &FileData{MIMEType: "video/*", FileURI: "https://youtu.be/abc"}},
			{Text: "what do you see?"},
		}},
	}

	reply, err := client.Generate(context.Background(), "test-model", contents)
	if err != nil {
		t.Fatalf("Generate() failed: %v", err)
	}
	if reply != "the reply" {
		t.Fatalf("reply = %q", reply)
	}

	if len(got.Contents) != 1 || len(got.Contents[0].Parts) != 3 {
		t.Fatalf("request contents = %+v", got.Contents)
	}
	parts := got.Contents[0].Parts
	if !strings.HasPrefix(parts[0].Text, "Pinned Tab:") {
		t.Fatalf("context part must precede the user text, got first part %+v", parts[0])
	}
	if parts[1].FileData == nil || parts[1].FileData.MIMEType != "video/*" {
		t.Fatalf("media part not preserved: %+v", parts[1])
	}
	if parts[2].Text != "what do you see?" {
		t.Fatalf("user text must come last, got %+v", parts[2])
	}
}

func TestGenerateMapsServiceError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"error":{"code":429,"message":"quota exhausted","status":"RESOURCE_EXHAUSTED"}}`))
	}))
	defer srv.Close()

	client := NewHTTPClient(srv.URL, "secret")
	_, err := client.Generate(context.Background(), "test-model", nil)

	var coded *tabhost.CodedError
	if !errors.As(err, &coded) || coded.Code != tabhost.CodeGenerationFailed {
		t.Fatalf("Generate() = %v; want GENERATION_FAILED", err)
	}
	if !strings.Contains(coded.Message, "quota exhausted") {
		t.Fatalf("service message not carried: %q", coded.Message)
	}
}

func TestGenerateCancelledContext(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	defer srv.Close()

	client := NewHTTPClient(srv.URL, "secret")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := client.Generate(ctx, "test-model", nil)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Generate() with cancelled context = %v; want context.Canceled", err)
	}
}
