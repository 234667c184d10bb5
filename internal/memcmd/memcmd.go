// Package memcmd tokenizes a command string into a typed command variant.
package memcmd

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/untoldecay/codex-extra-memory/internal/memstore"
)

// Kind tags which command variant a Command holds.
type Kind string

const (
	KindHelp    Kind = "help"
	KindRefresh Kind = "refresh"
	KindSync    Kind = "sync"
	KindAdd     Kind = "add"
	KindShow    Kind = "show"
	KindList    Kind = "list"
	KindSearch  Kind = "search"
	KindDelete  Kind = "delete"
	KindPin     Kind = "pin"
	KindAuto    Kind = "auto"
	KindStats   Kind = "stats"
	KindExport  Kind = "export"
)

// Command is the parsed result of a command string. Only the fields
// relevant to Kind are populated.
type Command struct {
	Kind Kind

	// add
	Text     string
	Scope    memstore.ScopeTarget
	Category string

	// list / search
	Query  string
	Limit  int
	Cursor string

	// delete / pin
	ID       string
	PinState bool

	// auto: "on", "off", or "status"
	AutoAction string

	// export
	ExportAll    bool
	ExportFormat string
	ExportPath   string
}

const maxListLimit = 200

// Parse tokenizes and classifies raw into a Command.
func Parse(raw string) (Command, error) {
	tokens := tokenize(raw)
	tokens = stripLeadingMemoryPrefix(tokens)

	if len(tokens) == 0 {
		return Command{Kind: KindHelp}, nil
	}

	name := strings.ToLower(tokens[0])
	rest := tokens[1:]

	switch name {
	case "help":
		return Command{Kind: KindHelp}, nil
	case "refresh":
		return Command{Kind: KindRefresh}, nil
	case "sync":
		return Command{Kind: KindSync}, nil
	case "show":
		return Command{Kind: KindShow}, nil
	case "stats":
		return Command{Kind: KindStats}, nil
	case "add":
		return parseAdd(rest)
	case "list":
		return parseList(rest)
	case "search":
		return parseSearch(rest)
	case "delete":
		return parseDelete(rest)
	case "pin":
		return parsePin(rest)
	case "auto":
		return parseAuto(rest)
	case "export":
		return parseExport(rest)
	default:
		return Command{}, fmt.Errorf("unknown command '%s'", name)
	}
}

func stripLeadingMemoryPrefix(tokens []string) []string {
	if len(tokens) == 0 {
		return tokens
	}
	if strings.EqualFold(tokens[0], "/memory") || strings.EqualFold(tokens[0], "memory") {
		return tokens[1:]
	}
	return tokens
}

// tokenize splits s on whitespace, honoring "double quoted substrings"
// as single tokens so free text containing spaces can be passed as one
// argument.
func tokenize(s string) []string {
	var tokens []string
	var current strings.Builder
	inQuotes := false
	hasCurrent := false

	flush := func() {
		if hasCurrent {
			tokens = append(tokens, current.String())
			current.Reset()
			hasCurrent = false
		}
	}

	for _, r := range s {
		switch {
		case r == '"':
			inQuotes = !inQuotes
			hasCurrent = true
		case !inQuotes && (r == ' ' || r == '\t' || r == '\n'):
			flush()
		default:
			current.WriteRune(r)
			hasCurrent = true
		}
	}
	flush()
	return tokens
}

func parseAdd(tokens []string) (Command, error) {
	cmd := Command{Kind: KindAdd, Scope: memstore.ScopeTargetProject, Category: "other"}

	i := 0
loop:
	for i < len(tokens) {
		switch tokens[i] {
		case "--global":
			cmd.Scope = memstore.ScopeTargetGlobal
			i++
		case "--project":
			cmd.Scope = memstore.ScopeTargetProject
			i++
		case "--category":
			if i+1 >= len(tokens) {
				return Command{}, fmt.Errorf("--category requires a value")
			}
			cmd.Category = tokens[i+1]
			i += 2
		default:
			break loop
		}
	}
	text := strings.TrimSpace(strings.Join(tokens[i:], " "))
	if text == "" {
		return Command{}, fmt.Errorf("usage: add [--global|--project] [--category <c>] <text>")
	}
	cmd.Text = text
	return cmd, nil
}

func parseListLikeFlags(tokens []string) (limit int, cursor string, rest []string, err error) {
	for i := 0; i < len(tokens); {
		switch tokens[i] {
		case "--limit":
			if i+1 >= len(tokens) {
				return 0, "", nil, fmt.Errorf("--limit requires a value")
			}
			n, convErr := strconv.Atoi(tokens[i+1])
			if convErr != nil || n <= 0 {
				return 0, "", nil, fmt.Errorf("--limit must be a positive integer")
			}
			if n > maxListLimit {
				n = maxListLimit
			}
			limit = n
			i += 2
		case "--cursor":
			if i+1 >= len(tokens) {
				return 0, "", nil, fmt.Errorf("--cursor requires a value")
			}
			cursor = tokens[i+1]
			i += 2
		default:
			rest = append(rest, tokens[i])
			i++
		}
	}
	return limit, cursor, rest, nil
}

func parseList(tokens []string) (Command, error) {
	limit, cursor, rest, err := parseListLikeFlags(tokens)
	if err != nil {
		return Command{}, err
	}
	if len(rest) > 0 {
		return Command{}, fmt.Errorf("list takes no positional arguments")
	}
	return Command{Kind: KindList, Limit: limit, Cursor: cursor}, nil
}

func parseSearch(tokens []string) (Command, error) {
	var queryTokens []string
	i := 0
	for i < len(tokens) && !strings.HasPrefix(tokens[i], "--") {
		queryTokens = append(queryTokens, tokens[i])
		i++
	}
	query := strings.TrimSpace(strings.Join(queryTokens, " "))
	if query == "" {
		return Command{}, fmt.Errorf("usage: search <query> [--limit n] [--cursor t]")
	}

	limit, cursor, rest, err := parseListLikeFlags(tokens[i:])
	if err != nil {
		return Command{}, err
	}
	if len(rest) > 0 {
		return Command{}, fmt.Errorf("unexpected arguments after search flags")
	}
	return Command{Kind: KindSearch, Query: query, Limit: limit, Cursor: cursor}, nil
}

func parseDelete(tokens []string) (Command, error) {
	if len(tokens) != 1 || strings.TrimSpace(tokens[0]) == "" {
		return Command{}, fmt.Errorf("usage: delete <id-or-prefix>")
	}
	return Command{Kind: KindDelete, ID: tokens[0]}, nil
}

func parsePin(tokens []string) (Command, error) {
	if len(tokens) != 2 {
		return Command{}, fmt.Errorf("usage: pin <id-or-prefix> on|off")
	}
	var state bool
	switch strings.ToLower(tokens[1]) {
	case "on":
		state = true
	case "off":
		state = false
	default:
		return Command{}, fmt.Errorf("pin state must be 'on' or 'off'")
	}
	return Command{Kind: KindPin, ID: tokens[0], PinState: state}, nil
}

func parseAuto(tokens []string) (Command, error) {
	if len(tokens) == 0 {
		return Command{Kind: KindAuto, AutoAction: "status"}, nil
	}
	if len(tokens) != 1 {
		return Command{}, fmt.Errorf("usage: auto [on|off|status]")
	}
	switch strings.ToLower(tokens[0]) {
	case "on", "off", "status":
		return Command{Kind: KindAuto, AutoAction: strings.ToLower(tokens[0])}, nil
	default:
		return Command{}, fmt.Errorf("auto action must be 'on', 'off', or 'status'")
	}
}

func parseExport(tokens []string) (Command, error) {
	cmd := Command{Kind: KindExport, ExportFormat: "json"}

	i := 0
	for i < len(tokens) && tokens[i] == "--all" {
		cmd.ExportAll = true
		i++
	}

	sentinel := false
	if i < len(tokens) && tokens[i] == "--" {
		sentinel = true
		i++
	}

	if !sentinel && i < len(tokens) && (tokens[i] == "json" || tokens[i] == "md") {
		cmd.ExportFormat = tokens[i]
		i++
	}

	if i < len(tokens) && tokens[i] == "--" {
		sentinel = true
		i++
	}
	_ = sentinel

	cmd.ExportPath = strings.TrimSpace(strings.Join(tokens[i:], " "))
	return cmd, nil
}
