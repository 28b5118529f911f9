// Package summarizer scores batches of items for topical relevance,
// using an OpenAI-compatible chat completion endpoint when a credential
// is available and a pure keyword match otherwise.
package summarizer

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

// Boundary limits applied to every result, model-produced or not.
const (
	MaxSummaryLength   = 500
	MaxRationaleLength = 300
	MaxTags            = 6
)

// DefaultTimeout bounds the full round trip of one completion call.
const DefaultTimeout = 30 * time.Second

// Input is one item handed to the summarizer.
type Input struct {
	ID      int64
	Title   string
	Source  string
	Snippet string
}

// Result is the summarizer's verdict on one input item. Fields are
// validated and clamped at this boundary regardless of where they
// came from.
type Result struct {
	ID        int64
	Summary   string
	Rationale string
	Tags      []string
	Relevance int
}

// Client calls an OpenAI-compatible chat completions endpoint.
type Client struct {
	apiURL     string
	model      string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewClient creates a summarizer client for the given endpoint and
// model. A zero timeout falls back to DefaultTimeout.
func NewClient(apiURL, model string, timeout time.Duration, logger *slog.Logger) *Client {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		apiURL:     apiURL,
		model:      model,
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger,
	}
}

// Summarize produces one result per input item. With an empty apiKey
// the whole batch takes the keyword fallback; with a key, each item
// that fails the model call individually degrades to the fallback
// instead of aborting the batch. The key itself is never logged.
func (c *Client) Summarize(ctx context.Context, items []Input, topic string, keywords []string, apiKey string) []Result {
	if apiKey == "" {
		c.logger.Info("no LLM API key, using keyword-only fallback", "items", len(items))
		results := make([]Result, 0, len(items))
		for _, item := range items {
			results = append(results, fallbackResult(item, keywords, "Matched by keyword relevance (no LLM key set)."))
		}
		return results
	}

	results := make([]Result, 0, len(items))
	for _, item := range items {
		r, err := c.summarizeOne(ctx, item, topic, keywords, apiKey)
		if err != nil {
			c.logger.Warn("LLM call failed, falling back to keywords", "item_id", item.ID, "error", err)
			results = append(results, fallbackResult(item, keywords, "Summary unavailable (LLM error)."))
			continue
		}
		results = append(results, r)
	}
	return results
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
	MaxTokens   int           `json:"max_tokens"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

// verdict is the JSON shape the model is asked to produce.
type verdict struct {
	Summary   string   `json:"summary"`
	Rationale string   `json:"why_it_matters"`
	Tags      []string `json:"tags"`
	Relevance int      `json:"relevance_score"`
}

func (c *Client) summarizeOne(ctx context.Context, item Input, topic string, keywords []string, apiKey string) (Result, error) {
	snippet := item.Snippet
	if snippet == "" {
		snippet = "N/A"
	}
	if len(snippet) > 400 {
		snippet = snippet[:400]
	}

	prompt := fmt.Sprintf(`You are a content curator for the topic: %q.
Keywords of interest: %s

Given this article:
Title: %s
Source: %s
Snippet: %s

Respond with ONLY valid JSON (no markdown fences):
{
  "summary": "1-2 sentence summary",
  "why_it_matters": "1 sentence on relevance to the topic",
  "tags": ["tag1", "tag2", "tag3"],
  "relevance_score": 50
}`, topic, strings.Join(keywords, ", "), item.Title, item.Source, snippet)

	body, err := json.Marshal(chatRequest{
		Model:       c.model,
		Messages:    []chatMessage{{Role: "user", Content: prompt}},
		Temperature: 0.3,
		MaxTokens:   300,
	})
	if err != nil {
		return Result{}, fmt.Errorf("encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.apiURL, bytes.NewReader(body))
	if err != nil {
		return Result{}, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return Result{}, fmt.Errorf("call completion endpoint: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return Result{}, fmt.Errorf("completion endpoint returned status %d", resp.StatusCode)
	}

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return Result{}, fmt.Errorf("read response: %w", err)
	}

	var chat chatResponse
	if err := json.Unmarshal(raw, &chat); err != nil {
		return Result{}, fmt.Errorf("decode response: %w", err)
	}
	if len(chat.Choices) == 0 {
		return Result{}, fmt.Errorf("completion response has no choices")
	}

	content := stripCodeFences(strings.TrimSpace(chat.Choices[0].Message.Content))
	var v verdict
	if err := json.Unmarshal([]byte(content), &v); err != nil {
		return Result{}, fmt.Errorf("decode verdict: %w", err)
	}

	return Result{
		ID:        item.ID,
		Summary:   truncate(v.Summary, MaxSummaryLength),
		Rationale: truncate(v.Rationale, MaxRationaleLength),
		Tags:      capTags(v.Tags),
		Relevance: clampRelevance(v.Relevance),
	}, nil
}

// stripCodeFences removes an optional markdown fence wrapper around
// the model's JSON output.
func stripCodeFences(s string) string {
	if !strings.HasPrefix(s, "```") {
		return s
	}
	if idx := strings.Index(s, "\n"); idx >= 0 {
		s = s[idx+1:]
	}
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}

// fallbackResult scores an item by keyword matching alone:
// relevance = min(100, 10 + 15 * hits), tags = the matched keywords.
func fallbackResult(item Input, keywords []string, rationale string) Result {
	summary := item.Snippet
	if summary == "" {
		summary = "No summary available."
	}
	return Result{
		ID:        item.ID,
		Summary:   truncate(summary, 200),
		Rationale: rationale,
		Tags:      keywordTags(item, keywords),
		Relevance: keywordScore(item, keywords),
	}
}

func keywordText(item Input) string {
	return strings.ToLower(item.Title + " " + item.Snippet)
}

func keywordTags(item Input, keywords []string) []string {
	text := keywordText(item)
	var tags []string
	for _, kw := range keywords {
		if strings.Contains(text, strings.ToLower(kw)) {
			tags = append(tags, kw)
		}
	}
	return capTags(tags)
}

func keywordScore(item Input, keywords []string) int {
	text := keywordText(item)
	hits := 0
	for _, kw := range keywords {
		if strings.Contains(text, strings.ToLower(kw)) {
			hits++
		}
	}
	score := 10 + 15*hits
	if score > 100 {
		score = 100
	}
	return score
}

func truncate(s string, max int) string {
	if len(s) > max {
		return s[:max]
	}
	return s
}

func capTags(tags []string) []string {
	if len(tags) > MaxTags {
		return tags[:MaxTags]
	}
	return tags
}

func clampRelevance(r int) int {
	if r < 0 {
		return 0
	}
	if r > 100 {
		return 100
	}
	return r
}
