package memsvc

import (
	"fmt"
	"os"
	"path/filepath"
)

// resolveCodexHome resolves the root directory the service lives under:
// an explicit CODEX_HOME environment variable wins, otherwise it falls
// back to the invoking user's home directory.
func resolveCodexHome() (string, error) {
	if home := os.Getenv("CODEX_HOME"); home != "" {
		return home, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolve user home directory: %w", err)
	}
	return filepath.Join(home, ".codex"), nil
}

func memoryDir(codexHome string) string {
	return filepath.Join(codexHome, "memory")
}

func databasePath(memDir string) string {
	return filepath.Join(memDir, "memory.sqlite")
}

func configFilePath(memDir string) string {
	return filepath.Join(memDir, "config.json")
}
