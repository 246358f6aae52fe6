package debuglog

import (
	"fmt"
	"log"
	"os"
	"strings"
)

type Level uint8

const (
	LevelOff Level = iota
	LevelError
	LevelWarn
	LevelInfo
	LevelVerbose
	LevelTrace

	UseGlobal Level = 255
)

const envKey = "RELAY_DEBUG"

var (
	GlobalLevel = parseEnvLevel(os.Getenv(envKey))
)

func parseEnvLevel(raw string) Level {
	if level, ok := ParseLevel(raw); ok {
		return level
	}
	return LevelInfo
}

// ParseLevel maps a level name to a Level. Unknown names report false.
func ParseLevel(raw string) (Level, bool) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "trace":
		return LevelTrace, true
	case "verbose", "debug":
		return LevelVerbose, true
	case "info":
		return LevelInfo, true
	case "warn", "warning":
		return LevelWarn, true
	case "error":
		return LevelError, true
	case "off":
		return LevelOff, true
	default:
		return LevelInfo, false
	}
}

// SetGlobalLevel applies a configured level unless RELAY_DEBUG is set, which always wins.
func SetGlobalLevel(level Level) {
	if os.Getenv(envKey) != "" {
		return
	}
	GlobalLevel = level
}

func Log(prefix string, level Level, local Level, format string, args ...interface{}) {
	effective := GlobalLevel
	if local != UseGlobal {
		effective = local
	}
	if level > effective {
		return
	}
	message := fmt.Sprintf(format, args...)
	if prefix != "" {
		log.Printf("[%s] %s", prefix, message)
	} else {
		log.Print(message)
	}
}

func ShouldLog(level Level, local Level) bool {
	effective := GlobalLevel
	if local != UseGlobal {
		effective = local
	}
	return level <= effective
}

func ErrorLog(format string, args ...interface{}) {
	Log("ERROR", LevelError, UseGlobal, format, args...)
}

func WarnLog(format string, args ...interface{}) {
	Log("WARN", LevelWarn, UseGlobal, format, args...)
}

func InfoLog(format string, args ...interface{}) {
	Log("", LevelInfo, UseGlobal, format, args...)
}

func DebugLog(format string, args ...interface{}) {
	Log("DEBUG", LevelVerbose, UseGlobal, format, args...)
}

func TraceLog(format string, args ...interface{}) {
	Log("TRACE", LevelTrace, UseGlobal, format, args...)
}

// LogTextFragment logs a possibly long text, showing only its head and tail when it exceeds maxChars*2.
func LogTextFragment(prefix string, level Level, local Level, description, text string, maxChars int) {
	if !ShouldLog(level, local) {
		return
	}

	textLen := len(text)

	if textLen <= maxChars*2 {
		Log(prefix, level, local, "%s (len=%d): %s", description, textLen, text)
		return
	}

	Log(prefix, level, local, "%s (len=%d): first %d chars: %s",
		description, textLen, maxChars, text[:maxChars])
	Log(prefix, level, local, "%s (len=%d): last %d chars: %s",
		description, textLen, maxChars, text[textLen-maxChars:])
}
