package log

import (
	"fmt"
	"io"
	stdlog "log"
	"os"
	"strings"
	"sync"
	"time"
)

type Level string

const (
	LevelDebug Level = "DEBUG"
	LevelInfo  Level = "INFO"
	LevelWarn  Level = "WARN"
	LevelError Level = "ERROR"
)

var (
	mu       sync.Mutex
	logger   = stdlog.New(os.Stderr, "", 0)
	minLevel = LevelInfo
)

// rank orders levels for filtering.
var rank = map[Level]int{
	LevelDebug: 0,
	LevelInfo:  1,
	LevelWarn:  2,
	LevelError: 3,
}

// ParseLevel maps a config string ("debug", "info", ...) to a Level.
// Unknown values fall back to INFO.
func ParseLevel(s string) Level {
	l := Level(strings.ToUpper(strings.TrimSpace(s)))
	if _, ok := rank[l]; ok {
		return l
	}
	return LevelInfo
}

func SetLevel(l Level) {
	mu.Lock()
	defer mu.Unlock()
	if _, ok := rank[l]; !ok {
		l = LevelInfo
	}
	minLevel = l
}

// SetOutput redirects log lines, mainly for tests.
func SetOutput(w io.Writer) {
	mu.Lock()
	defer mu.Unlock()
	logger.SetOutput(w)
}

func Debug(msg string, kv ...any) {
	logWithLevel(LevelDebug, msg, kv...)
}

func Info(msg string, kv ...any) {
	logWithLevel(LevelInfo, msg, kv...)
}

func Warn(msg string, kv ...any) {
	logWithLevel(LevelWarn, msg, kv...)
}

func Error(msg string, err error, kv ...any) {
	// Prepend error into key-value list.
	extended := append([]any{"err", err}, kv...)
	logWithLevel(LevelError, msg, extended...)
}

func logWithLevel(level Level, msg string, kv ...any) {
	mu.Lock()
	defer mu.Unlock()
	if rank[level] < rank[minLevel] {
		return
	}

	// 2025-01-01T00:00:00Z [LEVEL] msg key=value ...
	var b strings.Builder
	b.WriteString(time.Now().Format(time.RFC3339Nano))
	b.WriteString(" [")
	b.WriteString(string(level))
	b.WriteString("] ")
	b.WriteString(msg)
	writeKVs(&b, kv...)

	logger.Println(b.String())
}

func writeKVs(b *strings.Builder, kv ...any) {
	// Pairs only; a trailing odd value is dropped.
	for i := 0; i+1 < len(kv); i += 2 {
		key, ok := kv[i].(string)
		if !ok {
			continue
		}
		b.WriteString(" ")
		b.WriteString(key)
		b.WriteString("=")
		b.WriteString(formatValue(kv[i+1]))
	}
}

func formatValue(v any) string {
	s := fmt.Sprint(v)
	if strings.ContainsAny(s, " \t\"=") {
		return fmt.Sprintf("%q", s)
	}
	return s
}
