// Package logging provides category-based file logging for taskchat.
// Logs are written under <data_dir>/logs with one file per category and
// day. Logging is gated by debug_mode in the service config - when
// disabled, every call is a silent no-op.
package logging

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Category represents a log category/system.
type Category string

const (
	CategoryBoot   Category = "boot"   // Startup and shutdown
	CategoryServer Category = "server" // HTTP request handling
	CategoryChat   Category = "chat"   // Conversation orchestration
	CategoryAPI    Category = "api"    // LLM API calls
	CategoryRules  Category = "rules"  // Fallback rule engine decisions
	CategoryTools  Category = "tools"  // Action dispatch / tool execution
	CategoryStore  Category = "store"  // SQLite store operations
)

// Log levels.
const (
	LevelDebug = 0
	LevelInfo  = 1
	LevelWarn  = 2
	LevelError = 3
)

// Options controls logger behavior. Zero value means disabled.
type Options struct {
	DebugMode  bool
	Dir        string          // directory for log files
	Level      string          // debug/info/warn/error
	Categories map[string]bool // nil enables all categories
}

// Logger wraps a standard logger bound to one category and file.
type Logger struct {
	category Category
	logger   *log.Logger
	file     *os.File
}

var (
	loggers   = make(map[Category]*Logger)
	loggersMu sync.RWMutex
	optsMu    sync.RWMutex
	opts      Options
	logLevel  int
)

// Configure sets up logging. Call once at startup; safe to call again to
// apply a config reload (existing files stay open, level and category
// gates take effect immediately).
func Configure(o Options) error {
	optsMu.Lock()
	opts = o
	switch o.Level {
	case "debug":
		logLevel = LevelDebug
	case "warn", "warning":
		logLevel = LevelWarn
	case "error":
		logLevel = LevelError
	default:
		logLevel = LevelInfo
	}
	optsMu.Unlock()

	if !o.DebugMode {
		return nil
	}
	if o.Dir == "" {
		return fmt.Errorf("logging directory required in debug mode")
	}
	if err := os.MkdirAll(o.Dir, 0o755); err != nil {
		return fmt.Errorf("failed to create logs directory: %w", err)
	}
	Get(CategoryBoot).Info("logging initialized: dir=%s level=%s", o.Dir, o.Level)
	return nil
}

// SetLevel changes the active level at runtime (config hot reload).
func SetLevel(level string) {
	optsMu.Lock()
	defer optsMu.Unlock()
	opts.Level = level
	switch level {
	case "debug":
		logLevel = LevelDebug
	case "warn", "warning":
		logLevel = LevelWarn
	case "error":
		logLevel = LevelError
	default:
		logLevel = LevelInfo
	}
}

// IsDebugMode returns whether debug logging is enabled.
func IsDebugMode() bool {
	optsMu.RLock()
	defer optsMu.RUnlock()
	return opts.DebugMode
}

func isCategoryEnabled(category Category) bool {
	optsMu.RLock()
	defer optsMu.RUnlock()
	if !opts.DebugMode {
		return false
	}
	if opts.Categories == nil {
		return true
	}
	enabled, exists := opts.Categories[string(category)]
	if !exists {
		return true
	}
	return enabled
}

func currentLevel() int {
	optsMu.RLock()
	defer optsMu.RUnlock()
	return logLevel
}

// Get returns (or creates) the logger for a category. Returns a no-op
// logger when the category or debug mode is disabled.
func Get(category Category) *Logger {
	if !isCategoryEnabled(category) {
		return &Logger{category: category}
	}

	loggersMu.RLock()
	if l, ok := loggers[category]; ok {
		loggersMu.RUnlock()
		return l
	}
	loggersMu.RUnlock()

	loggersMu.Lock()
	defer loggersMu.Unlock()
	if l, ok := loggers[category]; ok {
		return l
	}

	optsMu.RLock()
	dir := opts.Dir
	optsMu.RUnlock()

	// Date prefix keeps rotation a matter of deleting old files.
	date := time.Now().Format("2006-01-02")
	logPath := filepath.Join(dir, fmt.Sprintf("%s_%s.log", date, category))

	file, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		fmt.Fprintf(os.Stderr, "[logging] could not open log file %s: %v\n", logPath, err)
		return &Logger{category: category}
	}

	l := &Logger{
		category: category,
		file:     file,
		logger:   log.New(file, "", log.Ldate|log.Ltime|log.Lmicroseconds),
	}
	loggers[category] = l
	return l
}

// Debug logs a debug message.
func (l *Logger) Debug(format string, args ...interface{}) {
	if l.logger == nil || currentLevel() > LevelDebug {
		return
	}
	l.logger.Printf("[DEBUG] %s", fmt.Sprintf(format, args...))
}

// Info logs an informational message.
func (l *Logger) Info(format string, args ...interface{}) {
	if l.logger == nil || currentLevel() > LevelInfo {
		return
	}
	l.logger.Printf("[INFO] %s", fmt.Sprintf(format, args...))
}

// Warn logs a warning message.
func (l *Logger) Warn(format string, args ...interface{}) {
	if l.logger == nil || currentLevel() > LevelWarn {
		return
	}
	l.logger.Printf("[WARN] %s", fmt.Sprintf(format, args...))
}

// Error logs an error message. Always written if the logger is live.
func (l *Logger) Error(format string, args ...interface{}) {
	if l.logger == nil {
		return
	}
	l.logger.Printf("[ERROR] %s", fmt.Sprintf(format, args...))
}

// CloseAll closes all open log files. Call at shutdown.
func CloseAll() {
	loggersMu.Lock()
	defer loggersMu.Unlock()
	for _, l := range loggers {
		if l.file != nil {
			l.file.Close()
		}
	}
	loggers = make(map[Category]*Logger)
}

// =============================================================================
// CONVENIENCE FUNCTIONS - quick logging without fetching a logger first
// =============================================================================

// Boot logs to the boot category.
func Boot(format string, args ...interface{}) { Get(CategoryBoot).Info(format, args...) }

// Server logs to the server category.
func Server(format string, args ...interface{}) { Get(CategoryServer).Info(format, args...) }

// ServerDebug logs debug to the server category.
func ServerDebug(format string, args ...interface{}) { Get(CategoryServer).Debug(format, args...) }

// Chat logs to the chat category.
func Chat(format string, args ...interface{}) { Get(CategoryChat).Info(format, args...) }

// ChatDebug logs debug to the chat category.
func ChatDebug(format string, args ...interface{}) { Get(CategoryChat).Debug(format, args...) }

// ChatError logs error to the chat category.
func ChatError(format string, args ...interface{}) { Get(CategoryChat).Error(format, args...) }

// API logs to the api category.
func API(format string, args ...interface{}) { Get(CategoryAPI).Info(format, args...) }

// APIDebug logs debug to the api category.
func APIDebug(format string, args ...interface{}) { Get(CategoryAPI).Debug(format, args...) }

// APIError logs error to the api category.
func APIError(format string, args ...interface{}) { Get(CategoryAPI).Error(format, args...) }

// Rules logs to the rules category.
func Rules(format string, args ...interface{}) { Get(CategoryRules).Info(format, args...) }

// RulesDebug logs debug to the rules category.
func RulesDebug(format string, args ...interface{}) { Get(CategoryRules).Debug(format, args...) }

// Tools logs to the tools category.
func Tools(format string, args ...interface{}) { Get(CategoryTools).Info(format, args...) }

// ToolsDebug logs debug to the tools category.
func ToolsDebug(format string, args ...interface{}) { Get(CategoryTools).Debug(format, args...) }

// ToolsError logs error to the tools category.
func ToolsError(format string, args ...interface{}) { Get(CategoryTools).Error(format, args...) }

// Store logs to the store category.
func Store(format string, args ...interface{}) { Get(CategoryStore).Info(format, args...) }

// StoreDebug logs debug to the store category.
func StoreDebug(format string, args ...interface{}) { Get(CategoryStore).Debug(format, args...) }

// StoreError logs error to the store category.
func StoreError(format string, args ...interface{}) { Get(CategoryStore).Error(format, args...) }
