// Package summarizer defines the document summarization collaborator.
// The chat core only triggers summarization and relays its result; text
// extraction and the AI model live behind the external service.
package summarizer

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
)

type Summarizer interface {
	Summarize(ctx context.Context, documentId string, content []byte) (string, error)
}

type summarizeRequest struct {
	DocumentId string `json:"document_id"`
	Content    []byte `json:"content"`
}

type summarizeResponse struct {
	Summary string `json:"summary"`
	Error   string `json:"error,omitempty"`
}

// HTTPSummarizer calls an external summarization service. No deadline is
// imposed beyond the upstream's own timeout; callers run requests
// out-of-band so a slow upstream never blocks a room's event stream.
type HTTPSummarizer struct {
	baseURL string
	client  *http.Client
}

func NewHTTPSummarizer(baseURL string) *HTTPSummarizer {
	return &HTTPSummarizer{
		baseURL: baseURL,
		client:  http.DefaultClient,
	}
}

func (s *HTTPSummarizer) Summarize(ctx context.Context, documentId string, content []byte) (string, error) {
	body, err := json.Marshal(summarizeRequest{
		DocumentId: documentId,
		Content:    content,
	})
	if err != nil {
		return "", fmt.Errorf("encode summarize request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+"/summarize", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("build summarize request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("summarize request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("summarizer returned status %d", resp.StatusCode)
	}

	var sr summarizeResponse
	if err := json.NewDecoder(resp.Body).Decode(&sr); err != nil {
		return "", fmt.Errorf("decode summarize response: %w", err)
	}

	if sr.Error != "" {
		return "", fmt.Errorf("summarizer: %s", sr.Error)
	}

	return sr.Summary, nil
}
