// Package logging wraps the standard library log.Logger with an agent-id
// prefix and level guards, matching cellorg/public/agent.BaseAgent's
// LogInfo/LogDebug/LogError style rather than reaching for a structured
// logging library the teacher itself never imports.
package logging

import (
	"io"
	"log"
	"os"
	"time"

	"gopkg.in/natefinch/lumberjack.v2"
)

// Logger is a thin level-aware wrapper, one per agent process.
type Logger struct {
	agtuuid string
	debug   bool
	out     *log.Logger
}

// New builds a Logger writing to w with the given agent id. Debug gates
// LogDebug output.
func New(agtuuid string, debug bool, w io.Writer) *Logger {
	return &Logger{agtuuid: agtuuid, debug: debug, out: log.New(w, "", log.LstdFlags|log.Lmicroseconds)}
}

// NewDaemon builds a Logger that writes to stderr and, if logDir is
// non-empty, also to a daily-rotated file under logDir, mirroring the
// original's TimedRotatingFileHandler(when="D", backupCount=30).
func NewDaemon(agtuuid string, debug bool, logDir string) *Logger {
	if logDir == "" {
		return New(agtuuid, debug, os.Stderr)
	}
	rotated := &lumberjack.Logger{
		Filename: logDir + "/application.log",
		MaxAge:   30, // days
		Compress: true,
	}
	go func() {
		for range time.Tick(24 * time.Hour) {
			_ = rotated.Rotate()
		}
	}()
	return New(agtuuid, debug, io.MultiWriter(os.Stderr, rotated))
}

func (l *Logger) Info(format string, args ...any) {
	l.out.Printf("[INFO] [%s] "+format, append([]any{l.agtuuid}, args...)...)
}

func (l *Logger) Error(format string, args ...any) {
	l.out.Printf("[ERROR] [%s] "+format, append([]any{l.agtuuid}, args...)...)
}

func (l *Logger) Debug(format string, args ...any) {
	if !l.debug {
		return
	}
	l.out.Printf("[DEBUG] [%s] "+format, append([]any{l.agtuuid}, args...)...)
}
