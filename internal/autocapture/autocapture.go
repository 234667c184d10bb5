// Package autocapture extracts candidate memories from a conversation's
// message array via pattern matching: a pure function of
// (messages, config, processedHashes) -> candidates.
package autocapture

import (
	"encoding/json"
	"regexp"
	"strings"

	"github.com/untoldecay/codex-extra-memory/internal/memconfig"
	"github.com/untoldecay/codex-extra-memory/internal/memstore"
	"github.com/untoldecay/codex-extra-memory/internal/memutil"
)

// Candidate is a memory-shaped datum extracted from a conversation turn,
// not yet persisted.
type Candidate struct {
	Hash     string            `json:"hash"`
	Text     string            `json:"text"`
	Category memstore.Category `json:"category"`
	Reason   string            `json:"reason"`
}

var (
	explicitRememberRe   = regexp.MustCompile(`(?i)(?:please\s+)?remember(?:\s+that)?\s+(.+)`)
	explicitPreferenceRe = regexp.MustCompile(`(?i)(?:my\s+preference\s+is|i\s+prefer)\s+(.+)`)
	assistantMarkerRe    = regexp.MustCompile(`(?i)^(?:memory|remember)\s*:\s*(.+)$`)
)

type extracted struct {
	text     string
	category memstore.Category
	reason   string
}

// rawMessage mirrors the host-protocol event shape: {role, content}
// where content is either a string or an array of {type, text} blocks.
type rawMessage struct {
	Role    string          `json:"role"`
	Content json.RawMessage `json:"content"`
}

func extractTextFromContent(raw json.RawMessage) string {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}

	var blocks []map[string]any
	if err := json.Unmarshal(raw, &blocks); err != nil {
		return ""
	}
	var chunks []string
	for _, block := range blocks {
		if t, _ := block["type"].(string); t != "text" {
			continue
		}
		text, _ := block["text"].(string)
		if strings.TrimSpace(text) == "" {
			continue
		}
		chunks = append(chunks, text)
	}
	return strings.Join(chunks, "\n")
}

var quoteCutset = "`\"'“”‘’"
var trailingPunctCutset = ";:,.!?"

func cleanupText(value string) string {
	trimmed := strings.Trim(strings.TrimSpace(value), quoteCutset)
	collapsed := strings.Join(strings.Fields(trimmed), " ")
	return strings.TrimSpace(strings.TrimRight(collapsed, trailingPunctCutset))
}

func inferCategory(text string) memstore.Category {
	lower := strings.ToLower(text)
	for _, needle := range []string{"prefer", "preference", "like", "dislike"} {
		if strings.Contains(lower, needle) {
			return memstore.CategoryPreference
		}
	}
	for _, needle := range []string{"always", "usually", "workflow", "run", "command", "format", "style"} {
		if strings.Contains(lower, needle) {
			return memstore.CategoryWorkflow
		}
	}
	for _, needle := range []string{"never", "must", "mustn't", "do not", "don't", "avoid", "required", "forbid"} {
		if strings.Contains(lower, needle) {
			return memstore.CategoryConstraint
		}
	}
	return memstore.CategoryOther
}

func extractUserExplicit(text string) []extracted {
	var out []extracted
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if m := explicitRememberRe.FindStringSubmatch(line); m != nil {
			out = append(out, extracted{text: m[1], category: inferCategory(m[1]), reason: "explicit remember statement"})
			continue
		}
		if m := explicitPreferenceRe.FindStringSubmatch(line); m != nil {
			out = append(out, extracted{text: m[1], category: memstore.CategoryPreference, reason: "explicit preference statement"})
		}
	}
	return out
}

func extractAssistantMarked(text string) []extracted {
	var out []extracted
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if m := assistantMarkerRe.FindStringSubmatch(line); m != nil {
			out = append(out, extracted{text: m[1], category: inferCategory(m[1]), reason: "assistant memory marker"})
		}
	}
	return out
}

// Extract runs the capture pipeline over messagesJSON (the JSON array of
// {role, content} objects from an event payload), returning at most
// config.MaxPerTurn fresh candidates.
func Extract(messagesJSON json.RawMessage, config memconfig.AutoCapture, processedHashes map[string]bool) []Candidate {
	var messages []rawMessage
	if err := json.Unmarshal(messagesJSON, &messages); err != nil {
		return nil
	}

	var candidates []Candidate
	seenThisTurn := map[string]bool{}

	for _, message := range messages {
		if message.Role != "user" && message.Role != "assistant" {
			continue
		}
		text := extractTextFromContent(message.Content)
		if text == "" {
			continue
		}

		var items []extracted
		if message.Role == "user" {
			items = extractUserExplicit(text)
		} else {
			items = extractAssistantMarked(text)
		}

		for _, item := range items {
			cleaned := cleanupText(item.text)
			if cleaned == "" {
				continue
			}
			charCount := len([]rune(cleaned))
			if charCount < config.MinChars || charCount > config.MaxChars {
				continue
			}
			if memutil.IsProbablySecret(cleaned) {
				continue
			}

			hash := memutil.SHA256Hex(message.Role + ":" + memutil.NormalizeForHash(cleaned))
			if processedHashes[hash] || seenThisTurn[hash] {
				continue
			}

			candidates = append(candidates, Candidate{
				Hash:     hash,
				Text:     cleaned,
				Category: item.category,
				Reason:   item.reason,
			})
			seenThisTurn[hash] = true

			if len(candidates) >= config.MaxPerTurn {
				return candidates
			}
		}
	}

	return candidates
}

// AgentEndMessages extracts the "messages" field of a host event payload,
// defaulting to an empty array when absent.
func AgentEndMessages(eventPayload json.RawMessage) json.RawMessage {
	var event map[string]json.RawMessage
	if err := json.Unmarshal(eventPayload, &event); err != nil {
		return json.RawMessage("[]")
	}
	if messages, ok := event["messages"]; ok {
		return messages
	}
	return json.RawMessage("[]")
}
