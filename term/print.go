package term

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/pterm/pterm"
)

type Level int

const (
	LevelTrace Level = iota
	LevelDebug
	LevelInfo
	LevelWarn
	LevelError
)

// TimeFormat is the prefix of each line when timestamps are enabled
const TimeFormat = "2006-01-02 15:04:05"

var (
	lvl       = LevelInfo
	output    io.Writer = os.Stdout
	timestamp bool
	now       = time.Now
	mu        sync.Mutex
)

func SetLevel(level Level) {
	lvl = level
}

// SetOutput redirects the console output; nil goes back to stdout.
func SetOutput(w io.Writer) {
	mu.Lock()
	defer mu.Unlock()
	if w == nil {
		w = os.Stdout
	}
	output = w
}

// SetTimestamp prefixes every line with the local time, which is what you
// want when the output ends up in a cron mail or a log file.
func SetTimestamp(enable bool) {
	timestamp = enable
}

func printLine(color pterm.Color, line string) {
	line = strings.TrimSuffix(line, "\n")
	if timestamp {
		line = now().Format(TimeFormat) + " " + line
	}
	mu.Lock()
	defer mu.Unlock()
	fmt.Fprintln(output, color.Sprint(line))
}

func Debug(a ...any) {
	if lvl > LevelDebug {
		return
	}
	printLine(pterm.FgLightCyan, fmt.Sprintln(a...))
}

func Debugf(format string, a ...any) {
	if lvl > LevelDebug {
		return
	}
	printLine(pterm.FgLightCyan, fmt.Sprintf(format, a...))
}

func Info(a ...any) {
	if lvl > LevelInfo {
		return
	}
	printLine(pterm.FgLightGreen, fmt.Sprintln(a...))
}

func Infof(format string, a ...any) {
	if lvl > LevelInfo {
		return
	}
	printLine(pterm.FgLightGreen, fmt.Sprintf(format, a...))
}

func Warn(a ...any) {
	if lvl > LevelWarn {
		return
	}
	printLine(pterm.FgYellow, fmt.Sprintln(a...))
}

func Warnf(format string, a ...any) {
	if lvl > LevelWarn {
		return
	}
	printLine(pterm.FgYellow, fmt.Sprintf(format, a...))
}

func Error(a ...any) {
	printLine(pterm.FgLightRed, fmt.Sprintln(a...))
}

func Errorf(format string, a ...any) {
	printLine(pterm.FgLightRed, fmt.Sprintf(format, a...))
}
