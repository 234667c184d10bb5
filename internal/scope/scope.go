// Package scope derives a stable project identity from a workspace
// directory, preferring git remote metadata and falling back to a
// canonicalized filesystem path.
package scope

import (
	"context"
	"net/url"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/untoldecay/codex-extra-memory/internal/memutil"
)

// Info is the resolved identity of a workspace directory.
type Info struct {
	Scope      string
	Kind       string
	Identifier string
	Root       string
}

// Detect derives Info for workspaceDir. Any failure to invoke git (missing
// binary, non-zero exit, non-UTF8 output, not a repository) is swallowed;
// the path-based fallback is always reachable.
func Detect(workspaceDir string) Info {
	cwd := workspaceDir
	if abs, err := filepath.Abs(workspaceDir); err == nil {
		if real, err := filepath.EvalSymlinks(abs); err == nil {
			cwd = real
		} else {
			cwd = abs
		}
	}

	root := cwd
	kind := "path"
	identifier := cwd

	if gitRoot, ok := gitStdout(cwd, "rev-parse", "--show-toplevel"); ok {
		root = filepath.Clean(gitRoot)
		identifier = root

		if remote, ok := gitStdout(root, "config", "--get", "remote.origin.url"); ok {
			kind = "git"
			identifier = normalizeGitRemoteIdentifier(remote)
		}
	}

	scopeHash := memutil.SHA256Hex(kind + ":" + identifier)

	return Info{
		Scope:      "project:" + scopeHash,
		Kind:       kind,
		Identifier: identifier,
		Root:       root,
	}
}

func gitStdout(cwd string, args ...string) (string, bool) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	fullArgs := append([]string{"-C", cwd}, args...)
	cmd := exec.CommandContext(ctx, "git", fullArgs...)
	out, err := cmd.Output()
	if err != nil {
		return "", false
	}
	trimmed := strings.TrimSpace(string(out))
	if trimmed == "" {
		return "", false
	}
	return trimmed, true
}

// normalizeGitRemoteIdentifier folds git@host:org/repo(.git)?,
// https://host/org/repo(.git)?, and similar forms into a single
// https://<lowercase-host>/<org>/<repo> representation.
func normalizeGitRemoteIdentifier(remote string) string {
	trimmed := strings.TrimSpace(remote)
	if trimmed == "" {
		return trimmed
	}

	if rest, ok := strings.CutPrefix(trimmed, "git@"); ok {
		if host, repo, ok := strings.Cut(rest, ":"); ok {
			normalizedRepo := strings.TrimSuffix(strings.TrimPrefix(repo, "/"), ".git")
			return "https://" + strings.ToLower(host) + "/" + normalizedRepo
		}
	}

	if parsed, err := url.Parse(trimmed); err == nil && parsed.Host != "" {
		host := strings.ToLower(parsed.Host)
		repo := strings.TrimSuffix(strings.TrimPrefix(parsed.Path, "/"), ".git")
		if repo == "" {
			return "https://" + host
		}
		return "https://" + host + "/" + repo
	}

	return strings.TrimSuffix(trimmed, ".git")
}
