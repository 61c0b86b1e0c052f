// Package elog provides structured logging for emberdb.
//
// The logger supports multiple log levels (TRACE, DEBUG, INFO, WARN, ERROR)
// and automatically includes contextual information such as file, function,
// and line numbers. Unlike a process-global logger, each emberdb component
// holds its own *Logger value, so two databases opened in the same process
// never share log state.
//
// Log output format:
//
//	YYYY/MM/DD HH:MM:SS.ssssss [PID:name] [LEVEL] function.file:line: message
package elog

import (
	"fmt"
	"io"
	"log"
	"os"
	"runtime"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// Level represents the severity of a log message. Higher values are more
// severe; a Logger only emits messages at or above its configured Level.
type Level int32

const (
	TRACE Level = iota
	DEBUG
	INFO
	WARN
	ERROR
)

var levelNames = map[Level]string{
	TRACE: "TRACE",
	DEBUG: "DEBUG",
	INFO:  "INFO",
	WARN:  "WARN",
	ERROR: "ERROR",
}

// ParseLevel maps a case-insensitive level name to a Level.
func ParseLevel(name string) (Level, error) {
	switch strings.ToUpper(strings.TrimSpace(name)) {
	case "TRACE":
		return TRACE, nil
	case "DEBUG":
		return DEBUG, nil
	case "INFO":
		return INFO, nil
	case "WARN":
		return WARN, nil
	case "ERROR":
		return ERROR, nil
	default:
		return 0, fmt.Errorf("invalid log level: %s", name)
	}
}

// Logger is an injected logging capability. The zero value is not usable;
// construct with New or Discard.
type Logger struct {
	level      atomic.Int32
	out        *log.Logger
	processID  int
	name       string
	traceMu    sync.RWMutex
	traceSubs  map[string]bool
}

// New creates a Logger named name, writing formatted lines to w at or above
// level.
func New(name string, w io.Writer, level Level) *Logger {
	l := &Logger{
		out:       log.New(w, "", 0),
		processID: os.Getpid(),
		name:      name,
		traceSubs: make(map[string]bool),
	}
	l.level.Store(int32(level))
	return l
}

// Discard returns a Logger that drops every message. Used as the default
// when a caller does not configure logging explicitly.
func Discard() *Logger {
	return New("discard", io.Discard, ERROR)
}

// SetLevel changes the minimum level the logger emits.
func (l *Logger) SetLevel(level Level) {
	l.level.Store(int32(level))
}

// Level returns the logger's current minimum level.
func (l *Logger) Level() Level {
	return Level(l.level.Load())
}

// EnableTrace turns on TRACE-level output for the named subsystems (e.g.
// "wal", "bufferpool", "index").
func (l *Logger) EnableTrace(subsystems ...string) {
	l.traceMu.Lock()
	defer l.traceMu.Unlock()
	for _, s := range subsystems {
		l.traceSubs[s] = true
	}
}

// DisableTrace turns off TRACE-level output for the named subsystems.
func (l *Logger) DisableTrace(subsystems ...string) {
	l.traceMu.Lock()
	defer l.traceMu.Unlock()
	for _, s := range subsystems {
		delete(l.traceSubs, s)
	}
}

func (l *Logger) traceEnabled(subsystem string) bool {
	l.traceMu.RLock()
	defer l.traceMu.RUnlock()
	return l.traceSubs[subsystem]
}

func (l *Logger) formatMessage(level Level, skip int, format string, args ...interface{}) string {
	pc, file, line, ok := runtime.Caller(skip)
	if !ok {
		file = "unknown"
		line = 0
	}
	if idx := strings.LastIndex(file, "/"); idx != -1 {
		file = file[idx+1:]
	}
	if idx := strings.LastIndex(file, ".go"); idx != -1 {
		file = file[:idx]
	}
	funcName := "unknown"
	if fn := runtime.FuncForPC(pc); fn != nil {
		full := fn.Name()
		if idx := strings.LastIndex(full, "."); idx != -1 {
			funcName = full[idx+1:]
		}
	}
	msg := fmt.Sprintf(format, args...)
	ts := time.Now().Format("2006/01/02 15:04:05.000000")
	return fmt.Sprintf("%s [%d:%s] [%s] %s.%s:%d: %s",
		ts, l.processID, l.name, levelNames[level], funcName, file, line, msg)
}

func (l *Logger) log(level Level, skip int, format string, args ...interface{}) {
	if level < Level(l.level.Load()) {
		return
	}
	l.out.Println(l.formatMessage(level, skip, format, args...))
}

// TraceIf logs at TRACE only if the named subsystem has been enabled via
// EnableTrace.
func (l *Logger) TraceIf(subsystem, format string, args ...interface{}) {
	if Level(l.level.Load()) > TRACE || !l.traceEnabled(subsystem) {
		return
	}
	l.log(TRACE, 3, "[%s] %s", subsystem, fmt.Sprintf(format, args...))
}

func (l *Logger) Trace(format string, args ...interface{}) { l.log(TRACE, 3, format, args...) }
func (l *Logger) Debug(format string, args ...interface{}) { l.log(DEBUG, 3, format, args...) }
func (l *Logger) Info(format string, args ...interface{})  { l.log(INFO, 3, format, args...) }
func (l *Logger) Warn(format string, args ...interface{})  { l.log(WARN, 3, format, args...) }
func (l *Logger) Error(format string, args ...interface{}) { l.log(ERROR, 3, format, args...) }
