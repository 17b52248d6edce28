package util

import (
	"fmt"
	"strings"
	"sync/atomic"

	"github.com/pterm/pterm"
	"gopkg.in/natefinch/lumberjack.v2"
)

func init() {
	pterm.DefaultLogger.ShowTime = true
	pterm.DefaultLogger.TimeFormat = "02 Jan 15:04:05"
	pterm.DefaultLogger.MaxWidth = 1000
}

// fileLogger mirrors console output into a rotating file when configured.
var fileLogger atomic.Pointer[pterm.Logger]

// Leveled logging functions backed by pterm prefixed printers.
// All output goes to stderr by default (pterm's default).

func LogDebug(format string, args ...interface{}) {
	msg := fmt.Sprintf(format, args...)
	pterm.DefaultLogger.Debug(msg)
	if fl := fileLogger.Load(); fl != nil {
		fl.Debug(msg)
	}
}

func LogInfo(format string, args ...interface{}) {
	msg := fmt.Sprintf(format, args...)
	pterm.DefaultLogger.Info(msg)
	if fl := fileLogger.Load(); fl != nil {
		fl.Info(msg)
	}
}

func LogSuccess(format string, args ...interface{}) {
	msg := fmt.Sprintf(format, args...)
	pterm.DefaultLogger.Info(msg)
	if fl := fileLogger.Load(); fl != nil {
		fl.Info(msg)
	}
}

func LogWarning(format string, args ...interface{}) {
	msg := fmt.Sprintf(format, args...)
	pterm.DefaultLogger.Warn(msg)
	if fl := fileLogger.Load(); fl != nil {
		fl.Warn(msg)
	}
}

func LogError(format string, args ...interface{}) {
	msg := fmt.Sprintf(format, args...)
	pterm.DefaultLogger.Error(msg)
	if fl := fileLogger.Load(); fl != nil {
		fl.Error(msg)
	}
}

// EnableDebug configures the logger to show debug messages.
func EnableDebug() {
	SetLevel("debug")
}

// SetLevel applies a textual level ("debug", "info", "warn", "error").
// Unknown values leave the level unchanged and return false.
func SetLevel(level string) bool {
	var l pterm.LogLevel
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		l = pterm.LogLevelDebug
	case "info", "":
		l = pterm.LogLevelInfo
	case "warn", "warning":
		l = pterm.LogLevelWarn
	case "error":
		l = pterm.LogLevelError
	default:
		return false
	}
	pterm.DefaultLogger.Level = l
	if fl := fileLogger.Load(); fl != nil {
		fileLogger.Store(fl.WithLevel(l))
	}
	return true
}

// FileOptions configures the rotating log file.
type FileOptions struct {
	Path       string
	MaxSizeMB  int
	MaxBackups int
}

// EnableFileLog starts mirroring log lines as JSON into a rotating file.
// The returned func closes the file; it is a no-op when Path is empty.
func EnableFileLog(opts FileOptions) func() error {
	if opts.Path == "" {
		return func() error { return nil }
	}
	if opts.MaxSizeMB <= 0 {
		opts.MaxSizeMB = 100
	}
	if opts.MaxBackups <= 0 {
		opts.MaxBackups = 1
	}

	lj := &lumberjack.Logger{
		Filename:   opts.Path,
		MaxSize:    opts.MaxSizeMB,
		MaxBackups: opts.MaxBackups,
	}
	fl := pterm.DefaultLogger.
		WithWriter(lj).
		WithFormatter(pterm.LogFormatterJSON).
		WithLevel(pterm.DefaultLogger.Level)
	fileLogger.Store(fl)

	return func() error {
		fileLogger.CompareAndSwap(fl, nil)
		return lj.Close()
	}
}
