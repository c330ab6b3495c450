// Package logger is the process-wide structured logger for lback. Compiler
// phases report through the Log* helpers; everything else uses the
// level functions or With.
package logger

import (
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/xyproto/env/v2"
)

var (
	defaultLogger *slog.Logger
	logFile       *os.File

	discard = slog.New(slog.NewTextHandler(io.Discard, nil))
)

// LogLevel is the minimum severity that gets written
type LogLevel int

const (
	LevelDebug LogLevel = iota
	LevelInfo
	LevelWarn
	LevelError
)

var slogLevels = [...]slog.Level{
	LevelDebug: slog.LevelDebug,
	LevelInfo:  slog.LevelInfo,
	LevelWarn:  slog.LevelWarn,
	LevelError: slog.LevelError,
}

func (l LogLevel) slog() slog.Level {
	if l < 0 || int(l) >= len(slogLevels) {
		return slog.LevelInfo
	}
	return slogLevels[l]
}

// Environment variables consulted by FromEnv
const (
	EnvLevel  = "LBACK_LOG_LEVEL"
	EnvFormat = "LBACK_LOG_FORMAT"
	EnvFile   = "LBACK_LOG_FILE"
)

// Config holds logger configuration
type Config struct {
	Level     LogLevel
	Format    string // "text" or "json"
	Output    io.Writer
	AddSource bool
	LogFile   string // appended to instead of Output when set
}

// DefaultConfig logs warnings and errors as text on stderr
func DefaultConfig() Config {
	return Config{Level: LevelWarn, Format: "text", Output: os.Stderr}
}

// FromEnv overlays LBACK_LOG_* settings on cfg, re-reading the environment
func FromEnv(cfg Config) Config {
	env.Load()
	if lvl := env.Str(EnvLevel); lvl != "" {
		cfg.Level = ParseLevel(lvl)
	}
	cfg.Format = env.Str(EnvFormat, cfg.Format)
	cfg.LogFile = env.Str(EnvFile, cfg.LogFile)
	return cfg
}

// ParseLevel maps a level name to a LogLevel, defaulting to info
func ParseLevel(s string) LogLevel {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return LevelDebug
	case "warn", "warning":
		return LevelWarn
	case "error":
		return LevelError
	}
	return LevelInfo
}

// Init replaces the global logger. A previously opened log file is closed.
func Init(cfg Config) error {
	out, f, err := openOutput(cfg)
	if err != nil {
		return err
	}
	Close()
	logFile = f

	defaultLogger = slog.New(newHandler(out, cfg))
	slog.SetDefault(defaultLogger)
	return nil
}

// InitDev logs everything as text on stderr, with source positions
func InitDev() {
	_ = Init(Config{Level: LevelDebug, Format: "text", Output: os.Stderr, AddSource: true})
}

// Close releases the log file opened by Init, if any
func Close() error {
	if logFile == nil {
		return nil
	}
	err := logFile.Close()
	logFile = nil
	return err
}

func openOutput(cfg Config) (io.Writer, *os.File, error) {
	if cfg.LogFile != "" {
		f, err := os.OpenFile(cfg.LogFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			return nil, nil, err
		}
		return f, f, nil
	}
	if cfg.Output == nil {
		return os.Stderr, nil, nil
	}
	return cfg.Output, nil, nil
}

func newHandler(w io.Writer, cfg Config) slog.Handler {
	opts := &slog.HandlerOptions{Level: cfg.Level.slog(), AddSource: cfg.AddSource}
	if cfg.Format == "json" {
		return slog.NewJSONHandler(w, opts)
	}
	return slog.NewTextHandler(w, opts)
}

// current is the configured logger, or one that drops everything before Init
func current() *slog.Logger {
	if defaultLogger == nil {
		return discard
	}
	return defaultLogger
}

func Debug(msg string, args ...any) { current().Debug(msg, args...) }
func Info(msg string, args ...any)  { current().Info(msg, args...) }
func Warn(msg string, args ...any)  { current().Warn(msg, args...) }
func Error(msg string, args ...any) { current().Error(msg, args...) }

// With returns a child logger carrying args on every record
func With(args ...any) *slog.Logger { return current().With(args...) }

// Pipeline

// LogPhase logs the start of a pipeline phase
func LogPhase(phase string) {
	Info("Starting phase", "phase", phase)
}

// LogPhaseComplete logs the completion of a pipeline phase
func LogPhaseComplete(phase string) {
	Info("Completed phase", "phase", phase)
}

func LogCFG(nodes, edges int) {
	Debug("CFG built", "nodes", nodes, "edges", edges)
}

// LogAllocation logs the allocator verdict; failure is a warning
func LogAllocation(temps, colors int, ok bool) {
	if !ok {
		Warn("Register allocation failed", "temps", temps)
		return
	}
	Debug("Register allocation complete", "temps", temps, "colors", colors)
}

func LogHazard(name string) {
	Warn("Variable may be used before initialization", "name", name)
}

// LogFrame logs the storage decision for one function
func LogFrame(fn string, recursive bool, frameSize int) {
	Debug("Storage assigned", "function", fn, "recursive", recursive, "frame", frameSize)
}

// LogCodeGen logs the instruction count reached after fn
func LogCodeGen(arch, fn string, instructions int) {
	Debug("Code generated", "arch", arch, "function", fn, "instructions", instructions)
}

// Driver

func LogCompilerStart(files []string) {
	Info("lback starting", "files", files)
}

func LogCompilerComplete(success bool, duration string) {
	if success {
		Info("Compilation successful", "duration", duration)
		return
	}
	Error("Compilation failed", "duration", duration)
}

func LogFileProcessing(file string) {
	Info("Processing module", "file", file)
}

// LogError logs a failure of one module in phase
func LogError(phase, file, msg string) {
	Error("Compilation error", "phase", phase, "file", file, "message", msg)
}
