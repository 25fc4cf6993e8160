package logger

import (
	"io"
	"log"
	"strings"
	"sync/atomic"
)

type Level int32

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
)

func (l Level) String() string {
	switch l {
	case LevelDebug:
		return "debug"
	case LevelWarn:
		return "warn"
	case LevelError:
		return "error"
	default:
		return "info"
	}
}

var currentLevel atomic.Int32

func init() {
	currentLevel.Store(int32(LevelInfo))
}

func SetOutput(w io.Writer) {
	log.SetOutput(w)
}

func SetFlags(flags int) {
	log.SetFlags(flags)
}

// ParseLevel maps a LOG_LEVEL value to a Level.
// An empty value is valid and means info; unknown values report ok=false.
func ParseLevel(level string) (Level, bool) {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return LevelDebug, true
	case "", "info":
		return LevelInfo, true
	case "warn", "warning":
		return LevelWarn, true
	case "error":
		return LevelError, true
	default:
		return LevelInfo, false
	}
}

func SetLevel(level Level) {
	currentLevel.Store(int32(level))
}

func CurrentLevel() Level {
	return Level(currentLevel.Load())
}

func EnabledDebug() bool {
	return enabled(LevelDebug)
}

func Debugf(format string, args ...any) {
	if enabled(LevelDebug) {
		log.Printf("[DEBUG] "+format, args...)
	}
}

func Infof(format string, args ...any) {
	if enabled(LevelInfo) {
		log.Printf("[INFO] "+format, args...)
	}
}

func Warnf(format string, args ...any) {
	if enabled(LevelWarn) {
		log.Printf("[WARN] "+format, args...)
	}
}

func Errorf(format string, args ...any) {
	if enabled(LevelError) {
		log.Printf("[ERROR] "+format, args...)
	}
}

func Fatalf(format string, args ...any) {
	log.Fatalf("[FATAL] "+format, args...)
}

func enabled(level Level) bool {
	return level >= Level(currentLevel.Load())
}
