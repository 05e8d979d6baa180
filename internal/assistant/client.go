// Package assistant is the adapter for the upstream Dify chat backend. The
// orchestrator talks to it through a narrow Send call; swapping the upstream
// provider means replacing this adapter, not the request pipeline.
package assistant

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// SendInput is one blocking chat request. ConversationID continues an
// existing upstream conversation when set.
type SendInput struct {
	Query          string
	ConversationID string
	User           string
}

// Reply is the normalized upstream answer. Raw keeps the decoded response
// body for audit diagnostics.
type Reply struct {
	Answer         string
	ConversationID string
	MessageID      string
	Sources        []string
	Raw            map[string]any
}

// UpstreamError reports a reachable upstream that answered non-2xx. Body
// holds the parsed JSON body, or {"raw": text} when the body was not JSON.
type UpstreamError struct {
	Status int
	Body   any
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("upstream returned status %d", e.Status)
}

type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

func NewClient(baseURL, apiKey string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		// No client-level timeout: the caller bounds each Send with a
		// context deadline so cancellation and timeout share one path.
		httpClient: &http.Client{},
	}
}

type retrieverResource struct {
	DocumentName string `json:"document_name"`
	DatasetName  string `json:"dataset_name"`
	SegmentID    string `json:"segment_id"`
}

type chatResponse struct {
	Answer         string `json:"answer"`
	ConversationID string `json:"conversation_id"`
	MessageID      string `json:"message_id"`
	Metadata       struct {
		RetrieverResources []retrieverResource `json:"retriever_resources"`
	} `json:"metadata"`
}

// Send issues one blocking chat-messages call. The context deadline bounds
// the whole round trip and cancels the in-flight request when exceeded.
func (c *Client) Send(ctx context.Context, input SendInput) (Reply, error) {
	payload := map[string]any{
		"inputs":        map[string]any{},
		"query":         input.Query,
		"response_mode": "blocking",
		"user":          input.User,
	}
	if input.ConversationID != "" {
		payload["conversation_id"] = input.ConversationID
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return Reply{}, fmt.Errorf("marshal chat request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/chat-messages", bytes.NewReader(body))
	if err != nil {
		return Reply{}, fmt.Errorf("build chat request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return Reply{}, err
	}
	defer resp.Body.Close()

	rawText, err := io.ReadAll(resp.Body)
	if err != nil {
		return Reply{}, fmt.Errorf("read chat response: %w", err)
	}

	// Keep a non-JSON body instead of masking the status with a parse error.
	raw := map[string]any{}
	if len(rawText) > 0 {
		if err := json.Unmarshal(rawText, &raw); err != nil {
			raw = map[string]any{"raw": string(rawText)}
		}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return Reply{}, &UpstreamError{Status: resp.StatusCode, Body: raw}
	}

	var parsed chatResponse
	_ = json.Unmarshal(rawText, &parsed)

	return Reply{
		Answer:         parsed.Answer,
		ConversationID: parsed.ConversationID,
		MessageID:      parsed.MessageID,
		Sources:        extractSources(parsed.Metadata.RetrieverResources),
		Raw:            raw,
	}, nil
}

// extractSources labels each retrieved item by document name, falling back
// to dataset name then segment id, drops empties, and deduplicates while
// preserving first-occurrence order.
func extractSources(resources []retrieverResource) []string {
	sources := make([]string, 0, len(resources))
	seen := make(map[string]struct{}, len(resources))
	for _, item := range resources {
		label := item.DocumentName
		if label == "" {
			label = item.DatasetName
		}
		if label == "" {
			label = item.SegmentID
		}
		if label == "" {
			continue
		}
		if _, ok := seen[label]; ok {
			continue
		}
		seen[label] = struct{}{}
		sources = append(sources, label)
	}
	return sources
}
