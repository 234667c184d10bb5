package scope

import (
	"os"
	"strings"
)

// ResolveActorLabel derives a human-readable label for whoever is acting
// through the service, used as the memory_events/memories "source" value
// in place of the bare literal "user" when a more specific identity is
// available: an env override, then git identity, then hostname.
func ResolveActorLabel(root string) string {
	if name := strings.TrimSpace(os.Getenv("CODEXMEM_ACTOR")); name != "" {
		return name
	}

	if name, ok := gitStdout(root, "config", "--get", "user.name"); ok {
		return name
	}

	if host, err := os.Hostname(); err == nil && strings.TrimSpace(host) != "" {
		return strings.TrimSpace(host)
	}

	return "user"
}
