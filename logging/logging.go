package logging

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"
)

type LogCategory string

const (
	META    LogCategory = "meta" // For logs about logging
	OSC_IN  LogCategory = "osc_in"
	OSC_OUT LogCategory = "osc_out"
	DEVICE  LogCategory = "device" // External scanner/printer commands
	GATE    LogCategory = "gate"
	APP     LogCategory = "app" // For application-specific logs (i.e. business logic)
)

// Categories lists every known category in a stable order.
var Categories = []LogCategory{META, OSC_IN, OSC_OUT, DEVICE, GATE, APP}

func strToLogCategory(s string) (LogCategory, bool) {
	for _, c := range Categories {
		if string(c) == s {
			return c, true
		}
	}
	return "", false
}

// Internal state for loggers per category
var (
	mu               = new(sync.RWMutex)
	loggers          = map[LogCategory]*slog.Logger{}
	categoryLvls     = map[LogCategory]*slog.LevelVar{}
	defaultLogLevels = map[LogCategory]slog.Level{
		META:    slog.LevelInfo,
		OSC_IN:  slog.LevelWarn,
		OSC_OUT: slog.LevelWarn,
		DEVICE:  slog.LevelInfo,
		GATE:    slog.LevelInfo,
		APP:     slog.LevelInfo,
	}
)

// levelVar returns the LevelVar for category, creating it from the defaults. Callers hold mu.
func levelVar(category LogCategory) *slog.LevelVar {
	lvlVar, ok := categoryLvls[category]
	if !ok {
		lvlVar = new(slog.LevelVar)
		lvlVar.Set(defaultLogLevels[category])
		categoryLvls[category] = lvlVar
	}
	return lvlVar
}

// Get returns a slog.Logger that always has the "category" attribute set.
// Each category gets its own logger instance.
func Get(category LogCategory) *slog.Logger {
	mu.RLock()
	l, ok := loggers[category]
	mu.RUnlock()
	if ok {
		return l
	}
	mu.Lock()
	defer mu.Unlock()
	// Double-check after locking
	if l, ok := loggers[category]; ok {
		return l
	}
	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: levelVar(category),
	})
	catLogger := slog.New(handler).With("category", category)
	loggers[category] = catLogger
	return catLogger
}

// SetCategoryLevel changes the minimum level for category. Loggers already handed out by Get follow the change.
func SetCategoryLevel(category LogCategory, level slog.Level) error {
	if _, ok := strToLogCategory(string(category)); !ok {
		return fmt.Errorf("unknown log category %q", category)
	}
	mu.Lock()
	defer mu.Unlock()
	levelVar(category).Set(level)
	return nil
}

func CategoryLevel(category LogCategory) slog.Level {
	mu.Lock()
	defer mu.Unlock()
	return levelVar(category).Level()
}

// ParseLevel accepts slog level names ("debug", "INFO", "warn+2") as used in the config file.
func ParseLevel(s string) (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(s)); err != nil {
		return 0, fmt.Errorf("parsing log level %q: %w", s, err)
	}
	return level, nil
}

// ApplyLevels sets the level of each named category. Every entry is attempted; the first error is returned.
func ApplyLevels(levels map[string]string) error {
	var firstErr error
	for name, lvl := range levels {
		cat, ok := strToLogCategory(name)
		if !ok {
			if firstErr == nil {
				firstErr = fmt.Errorf("unknown log category %q", name)
			}
			continue
		}
		level, err := ParseLevel(lvl)
		if err != nil {
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		SetCategoryLevel(cat, level)
	}
	return firstErr
}

// LevelAddress is the OSC address that controls the level of category.
func LevelAddress(category LogCategory) string {
	return fmt.Sprintf("/meta/logging/%s/level", category)
}

func splitOscPath(path string) []string {
	return strings.Split(path, "/")[1:]
}

// OSC handler for runtime config
//
// Routes:
// /meta/logging/{category}/level as int where -4 is Debug, 0 is Info, 4 is Warn, 8 is Error
func HandleOSCSetCategoryLevel(address string, args []any) {
	pathSegs := splitOscPath(address)

	if len(pathSegs) != 4 || pathSegs[0] != "meta" || pathSegs[1] != "logging" || pathSegs[3] != "level" {
		return
	}
	cat, ok := strToLogCategory(pathSegs[2])
	if !ok {
		Get(META).Info("Unrecognized log category in OSC message", "category", pathSegs[2])
		return
	}
	if len(args) == 0 {
		Get(META).Error("Missing level in OSC message", "address", address)
		return
	}
	level, ok := args[0].(int32)
	if !ok {
		Get(META).Error("Invalid level type in OSC message", "expected", "int32", "got", fmt.Sprintf("%T", args[0]))
		return
	}
	Get(META).Info("Setting category level via OSC",
		"category", cat,
		"level", level)
	SetCategoryLevel(cat, slog.Level(level))
}
