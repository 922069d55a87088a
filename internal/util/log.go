package util

import (
	"fmt"
	"io"
	"strings"

	"github.com/pterm/pterm"
)

func init() {
	pterm.DefaultLogger.ShowTime = true
	pterm.DefaultLogger.TimeFormat = "02 Jan 15:04:05.000"
	pterm.DefaultLogger.MaxWidth = 1000
}

// Leveled logging functions backed by the pterm logger.
// All output goes to stderr by default (pterm's default).

func LogTrace(format string, args ...interface{}) {
	pterm.DefaultLogger.Trace(fmt.Sprintf(format, args...))
}

func LogDebug(format string, args ...interface{}) {
	pterm.DefaultLogger.Debug(fmt.Sprintf(format, args...))
}

func LogInfo(format string, args ...interface{}) {
	pterm.DefaultLogger.Info(fmt.Sprintf(format, args...))
}

func LogSuccess(format string, args ...interface{}) {
	pterm.DefaultLogger.Info(fmt.Sprintf(format, args...), pterm.DefaultLogger.Args("ok", true))
}

func LogWarning(format string, args ...interface{}) {
	pterm.DefaultLogger.Warn(fmt.Sprintf(format, args...))
}

func LogError(format string, args ...interface{}) {
	pterm.DefaultLogger.Error(fmt.Sprintf(format, args...))
}

// EnableDebug configures the logger to show debug messages.
func EnableDebug() {
	pterm.DefaultLogger.Level = pterm.LogLevelDebug
}

// SetLogLevel selects the minimum level by name: trace, debug, info, warn
// or error.
func SetLogLevel(name string) error {
	levels := map[string]pterm.LogLevel{
		"trace": pterm.LogLevelTrace,
		"debug": pterm.LogLevelDebug,
		"info":  pterm.LogLevelInfo,
		"warn":  pterm.LogLevelWarn,
		"error": pterm.LogLevelError,
	}
	level, ok := levels[strings.ToLower(name)]
	if !ok {
		return fmt.Errorf("unknown log level %q", name)
	}
	pterm.DefaultLogger.Level = level
	return nil
}

// SetLogOutput redirects log output, e.g. to a log file.
func SetLogOutput(w io.Writer) {
	pterm.DefaultLogger.Writer = w
}
