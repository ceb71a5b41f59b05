package genai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/dgnsrekt/tab_agent/internal/tabhost"
)

// Content is one conversation turn sent to the generation service.
type Content struct {
	Role  string `json:"role"`
	Parts []Part `json:"parts"`
}

// Part is either inline text or a reference to media the service fetches
// itself. Exactly one field is set.
type Part struct {
	Text     string    `json:"text,omitempty"`
	FileData *FileData `json:"fileData,omitempty"`
}

type FileData struct {
	MIMEType string `json:"mimeType"`
	FileURI  string `json:"fileUri"`
}

// Client generates a reply from an ordered list of conversation turns.
type Client interface {
	Generate(ctx context.Context, model string, contents []Content) (string, error)
}

// HTTPClient talks to a Gemini-compatible generateContent endpoint.
type HTTPClient struct {
	baseURL string
	apiKey  string
	client  *http.Client
}

func NewHTTPClient(baseURL, apiKey string) *HTTPClient {
	return &HTTPClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		client:  &http.Client{Timeout: 120 * time.Second},
	}
}

type generateRequest struct {
	Contents []Content `json:"contents"`
}

type generateResponse struct {
	Candidates []struct {
		Content struct {
			Parts []struct {
				Text string `json:"text"`
			} `json:"parts"`
		} `json:"content"`
	} `json:"candidates"`
	Error *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
		Status  string `json:"status"`
	} `json:"error"`
}

// Generate sends the turns and returns the first candidate's text. The
// context governs the whole request; cancellation surfaces as ctx.Err so
// callers can distinguish an abort from a service failure.
func (c *HTTPClient) Generate(ctx context.Context, model string, contents []Content) (string, error) {
	body, err := json.Marshal(generateRequest{Contents: contents})
	if err != nil {
		return "", fmt.Errorf("genai: marshal request: %w", err)
	}

	url := fmt.Sprintf("%s/v1beta/models/%s:generateContent", c.baseURL, model)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("genai: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-goog-api-key", c.apiKey)

	resp, err := c.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		return "", tabhost.NewError(tabhost.CodeGenerationFailed, "generation request failed", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 32<<20))
	if err != nil {
		return "", tabhost.NewError(tabhost.CodeGenerationFailed, "reading generation response failed", err)
	}

	var parsed generateResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return "", tabhost.NewError(tabhost.CodeGenerationFailed,
			fmt.Sprintf("unparseable generation response (status %d)", resp.StatusCode), err)
	}
	if resp.StatusCode != http.StatusOK {
		msg := fmt.Sprintf("generation service returned status %d", resp.StatusCode)
		if parsed.Error != nil && parsed.Error.Message != "" {
			msg = parsed.Error.Message
		}
		return "", tabhost.NewError(tabhost.CodeGenerationFailed, msg, nil)
	}
	if len(parsed.Candidates) == 0 {
		return "", tabhost.NewError(tabhost.CodeGenerationFailed, "generation returned no candidates", nil)
	}

	var b strings.Builder
	for _, p := range parsed.Candidates[0].Content.Parts {
		b.WriteString(p.Text)
	}
	return b.String(), nil
}
