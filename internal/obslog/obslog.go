// Package obslog provides the module's small ambient logger: stderr by
// default, rotating to a file via lumberjack when CODEX_MEMORY_LOG_FILE
// is set.
package obslog

import (
	"log"
	"os"
	"sync"

	"gopkg.in/natefinch/lumberjack.v2"
)

var (
	mu      sync.Mutex
	logger  = log.New(os.Stderr, "", 0)
	debugOn = os.Getenv("CODEX_MEMORY_DEBUG") == "1"
)

func init() {
	if path := os.Getenv("CODEX_MEMORY_LOG_FILE"); path != "" {
		logger = log.New(&lumberjack.Logger{
			Filename:   path,
			MaxSize:    10, // megabytes
			MaxBackups: 3,
			MaxAge:     28, // days
		}, "", log.LstdFlags|log.LUTC)
	}
}

// Warnf logs a warning-level message: config corruption recovery, FTS
// rebuild, and LLM fallback all go through this.
func Warnf(format string, args ...any) {
	mu.Lock()
	defer mu.Unlock()
	logger.Printf("WARN "+format, args...)
}

// Debugf logs a debug-level message, silent unless CODEX_MEMORY_DEBUG=1.
func Debugf(format string, args ...any) {
	if !debugOn {
		return
	}
	mu.Lock()
	defer mu.Unlock()
	logger.Printf("DEBUG "+format, args...)
}
