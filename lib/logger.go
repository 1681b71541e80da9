package lib

import (
	"fmt"
	"testing"
)

type Logger interface {
	Print(a ...any)
	Println(a ...any)
	Printf(format string, a ...any)
}

// LevelLogger receives one line per routing decision.
type LevelLogger interface {
	Infof(format string, a ...any)
	Warnf(format string, a ...any)
}

type NoLog struct{}

func (l *NoLog) Print(a ...any)                 {}
func (l *NoLog) Println(a ...any)               {}
func (l *NoLog) Printf(format string, a ...any) {}
func (l *NoLog) Infof(format string, a ...any)  {}
func (l *NoLog) Warnf(format string, a ...any)  {}

type TestLogger struct {
	t      *testing.T
	prefix string
}

func NewTestLogger(t *testing.T, prefix string) *TestLogger {
	return &TestLogger{
		t:      t,
		prefix: prefix,
	}
}

func (l *TestLogger) Print(a ...any) {
	if l.prefix == "" {
		l.t.Log(a...)
	} else {
		l.t.Log(append([]any{l.prefix + ":"}, a...)...)
	}
}

func (l *TestLogger) Println(a ...any) {
	l.Print(a...)
}

func (l *TestLogger) Printf(format string, a ...any) {
	if l.prefix != "" {
		format = l.prefix + ": " + format
	}
	l.t.Logf(format, a...)
}

func (l *TestLogger) Infof(format string, a ...any) {
	l.Printf("INFO "+format, a...)
}

func (l *TestLogger) Warnf(format string, a ...any) {
	l.Printf("WARN "+format, a...)
}

// RecordingLogger keeps every line so tests can count decisions.
type RecordingLogger struct {
	Infos    []string
	Warnings []string
}

func (l *RecordingLogger) Infof(format string, a ...any) {
	l.Infos = append(l.Infos, fmt.Sprintf(format, a...))
}

func (l *RecordingLogger) Warnf(format string, a ...any) {
	l.Warnings = append(l.Warnings, fmt.Sprintf(format, a...))
}
