package compact

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	"github.com/untoldecay/codex-extra-memory/internal/memconfig"
	"github.com/untoldecay/codex-extra-memory/internal/memstore"
)

const responsesEndpoint = "https://api.openai.com/v1/responses"

const systemPrompt = "You summarize a user's stored memories into a short, dense block suitable " +
	"for injection into another agent's context. Preserve concrete facts, preferences, and " +
	"constraints. Do not invent anything not present in the input. Output plain text only."

// maxRowsRendered bounds how many memory rows are rendered into the
// summarization prompt.
const maxRowsRendered = 200

// HTTPSummarizer calls the OpenAI Responses API to compress a memory set
// into a short block.
type HTTPSummarizer struct {
	Client *http.Client
}

// NewHTTPSummarizer returns a summarizer using client, or a default
// http.Client with the configured timeout when client is nil.
func NewHTTPSummarizer(client *http.Client) *HTTPSummarizer {
	if client == nil {
		client = &http.Client{}
	}
	return &HTTPSummarizer{Client: client}
}

func renderRowsForPrompt(rows []memstore.Row) string {
	limit := len(rows)
	if limit > maxRowsRendered {
		limit = maxRowsRendered
	}
	var b strings.Builder
	for _, row := range rows[:limit] {
		tag := string(row.Category)
		if row.Pinned {
			tag = "pinned / " + tag
		}
		fmt.Fprintf(&b, "- [%s / %s] %s\n", row.Scope, tag, row.Content)
	}
	return b.String()
}

// Summarize posts the given rows to the OpenAI Responses API and returns
// the extracted summary text. A missing OPENAI_API_KEY or an empty rows
// slice is not an error: it returns ("", nil), signaling "no summary
// available" rather than a failure worth surfacing as llm_fallback noise.
func (s *HTTPSummarizer) Summarize(rows []memstore.Row, cfg memconfig.LlmCompaction) (string, error) {
	if len(rows) == 0 {
		return "", nil
	}
	apiKey := strings.TrimSpace(os.Getenv("OPENAI_API_KEY"))
	if apiKey == "" {
		return "", nil
	}

	rendered := renderRowsForPrompt(rows)
	userPrompt := "Summarize the following memories:\n\n" + rendered

	body := map[string]any{
		"model": cfg.Model,
		"input": []map[string]any{
			{
				"role":    "system",
				"content": []map[string]string{{"type": "input_text", "text": systemPrompt}},
			},
			{
				"role":    "user",
				"content": []map[string]string{{"type": "input_text", "text": userPrompt}},
			},
		},
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return "", fmt.Errorf("marshal llm request: %w", err)
	}

	timeout := time.Duration(cfg.TimeoutMs) * time.Millisecond
	if timeout <= 0 {
		timeout = 8 * time.Second
	}
	client := s.Client
	if client == nil {
		client = &http.Client{}
	}
	httpClient := &http.Client{Timeout: timeout, Transport: client.Transport}

	req, err := http.NewRequest(http.MethodPost, responsesEndpoint, bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("build llm request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+apiKey)

	resp, err := httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("llm request failed: %w", err)
	}
	defer resp.Body.Close()

	var buf bytes.Buffer
	if _, err := buf.ReadFrom(resp.Body); err != nil {
		return "", fmt.Errorf("read llm response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("llm request returned status %d: %s", resp.StatusCode, buf.String())
	}

	text, err := extractSummaryText(buf.Bytes())
	if err != nil {
		return "", err
	}
	return text, nil
}

// extractSummaryText applies, in order, the three response shapes the
// Responses API may return: a top-level string, a top-level array of
// strings, or an "output" array of message items whose content parts
// carry the text.
func extractSummaryText(body []byte) (string, error) {
	root := gjson.ParseBytes(body)

	if v := root.Get("output_text"); v.Exists() {
		if v.Type == gjson.String {
			return v.String(), nil
		}
		if v.IsArray() {
			var parts []string
			for _, item := range v.Array() {
				if item.Type == gjson.String {
					parts = append(parts, item.String())
				}
			}
			if len(parts) > 0 {
				return strings.Join(parts, "\n"), nil
			}
		}
	}

	if output := root.Get("output"); output.IsArray() {
		var parts []string
		for _, item := range output.Array() {
			if item.Get("type").String() != "message" {
				continue
			}
			for _, part := range item.Get("content").Array() {
				switch part.Get("type").String() {
				case "text", "output_text":
					if text := part.Get("text").String(); text != "" {
						parts = append(parts, text)
					}
				}
			}
		}
		if len(parts) > 0 {
			return strings.Join(parts, "\n"), nil
		}
	}

	return "", fmt.Errorf("could not extract summary text from llm response")
}
