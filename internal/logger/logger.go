// Package logger contains the logging primitives shared across relaycore.
package logger

import (
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/gookit/color"
	"golang.org/x/term"
)

// Level is a log level.
type Level int

// log levels.
const (
	Debug Level = iota
	Info
	Warn
	Error
)

func (l Level) String() string {
	switch l {
	case Debug:
		return "DEB"
	case Info:
		return "INF"
	case Warn:
		return "WAR"
	case Error:
		return "ERR"
	default:
		return "???"
	}
}

func (l Level) color() color.Color {
	switch l {
	case Debug:
		return color.FgGray
	case Warn:
		return color.FgYellow
	case Error:
		return color.FgRed
	default:
		return color.FgBlue
	}
}

// Writer is implemented by anything that accepts log lines. Every
// coroutine and connection in the package holds one, propagated down
// from its parent, so that log lines can be attributed to a context id.
type Writer interface {
	Log(level Level, format string, args ...interface{})
}

// Destination is an output sink.
type Destination int

// destinations.
const (
	DestinationStdout Destination = iota
	DestinationFile
)

// Logger is the root log handler. It satisfies Writer.
type Logger struct {
	level Level
	color bool
	file  *os.File

	mutex sync.Mutex
}

// New allocates a Logger.
func New(level Level, dest Destination, filePath string) (*Logger, error) {
	lh := &Logger{
		level: level,
		color: dest == DestinationStdout && term.IsTerminal(int(os.Stdout.Fd())),
	}

	if dest == DestinationFile {
		f, err := os.OpenFile(filePath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, fmt.Errorf("logger: opening log file: %w", err)
		}
		lh.file = f
	}

	return lh, nil
}

// Close closes the logger.
func (lh *Logger) Close() error {
	if lh.file != nil {
		return lh.file.Close()
	}
	return nil
}

// Log implements Writer.
func (lh *Logger) Log(level Level, format string, args ...interface{}) {
	if level < lh.level {
		return
	}

	lh.mutex.Lock()
	defer lh.mutex.Unlock()

	line := fmt.Sprintf("%s %s %s\n",
		time.Now().Format("2006/01/02 15:04:05"),
		level.String(),
		fmt.Sprintf(format, args...))

	if lh.file != nil {
		lh.file.WriteString(line) //nolint:errcheck
		return
	}

	if lh.color {
		color.New(level.color()).Print(line)
		return
	}
	os.Stdout.WriteString(line) //nolint:errcheck
}

// Prefixed wraps a Writer, prepending a context id to every line.
type Prefixed struct {
	Prefix string
	Parent Writer
}

// NewPrefixed allocates a Prefixed logger.
func NewPrefixed(parent Writer, format string, args ...interface{}) *Prefixed {
	return &Prefixed{
		Prefix: fmt.Sprintf(format, args...),
		Parent: parent,
	}
}

// Log implements Writer.
func (p *Prefixed) Log(level Level, format string, args ...interface{}) {
	p.Parent.Log(level, "[%s] %s", p.Prefix, fmt.Sprintf(format, args...))
}
