// Package logging provides level-filtered, severity-colored log output.
package logging

import (
	"fmt"
	"io"
	"log"
	"os"
	"strings"
	"sync/atomic"

	"github.com/fatih/color"
)

// Level is a log severity.
type Level int32

// Log levels, least severe first.
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
	case LevelInfo:
		return "info"
	case LevelWarn:
		return "warn"
	case LevelError:
		return "error"
	}
	return fmt.Sprintf("logging.Level(%d)", int32(l))
}

// ParseLevel accepts "debug", "info", "warn" or "error", in any case.
func ParseLevel(s string) (Level, error) {
	switch strings.ToLower(s) {
	case "debug":
		return LevelDebug, nil
	case "info", "":
		return LevelInfo, nil
	case "warn", "warning":
		return LevelWarn, nil
	case "error":
		return LevelError, nil
	}
	return LevelInfo, fmt.Errorf("unknown log level %q", s)
}

var (
	currentLevel atomic.Int32
	logger       = log.New(os.Stderr, "", log.LstdFlags)

	debugColor = color.New(color.Faint).SprintfFunc()
	infoColor  = color.New(color.FgGreen).SprintfFunc()
	warnColor  = color.New(color.FgYellow).SprintfFunc()
	errorColor = color.New(color.FgRed).SprintfFunc()
)

func init() {
	currentLevel.Store(int32(LevelInfo))
}

// SetLevel sets the minimum level that is written.
func SetLevel(l Level) { currentLevel.Store(int32(l)) }

// GetLevel returns the minimum level that is written.
func GetLevel() Level { return Level(currentLevel.Load()) }

// SetOutput redirects all log output to w.
func SetOutput(w io.Writer) { logger.SetOutput(w) }

// Enabled reports whether messages at l are written.
func Enabled(l Level) bool { return l >= GetLevel() }

// Debug logs pipeline state and other chatter.
func Debug(format string, args ...interface{}) {
	output(LevelDebug, debugColor, "[DEBUG] ", format, args)
}

// Info logs a normal progress message.
func Info(format string, args ...interface{}) {
	output(LevelInfo, infoColor, "[INFO] ", format, args)
}

// Warn logs a recoverable problem.
func Warn(format string, args ...interface{}) {
	output(LevelWarn, warnColor, "[WARN] ", format, args)
}

// Error logs a failure.
func Error(format string, args ...interface{}) {
	output(LevelError, errorColor, "[ERROR] ", format, args)
}

func output(l Level, paint func(string, ...interface{}) string, prefix, format string, args []interface{}) {
	if !Enabled(l) {
		return
	}
	logger.Print(paint("%s", prefix+fmt.Sprintf(format, args...)))
}
