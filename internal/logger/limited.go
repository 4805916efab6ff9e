package logger

import (
	"sync"
	"time"
)

const minIntervalBetweenWarnings = 1 * time.Second

// Limited is a pithy-print wrapper around a Writer: it suppresses
// messages that repeat faster than minIntervalBetweenWarnings, so a
// hot loop logging the same condition on every iteration doesn't
// flood the destination.
type Limited struct {
	w Writer

	mutex       sync.Mutex
	lastPrinted time.Time
	suppressed  uint64
}

// NewLimited allocates a Limited logger.
func NewLimited(w Writer) *Limited {
	return &Limited{w: w}
}

// Log implements Writer.
func (l *Limited) Log(level Level, format string, args ...interface{}) {
	now := time.Now()

	l.mutex.Lock()
	defer l.mutex.Unlock()

	if now.Sub(l.lastPrinted) < minIntervalBetweenWarnings {
		l.suppressed++
		return
	}

	if l.suppressed > 0 {
		l.w.Log(level, format+" (%d similar messages suppressed)", append(args, l.suppressed)...)
	} else {
		l.w.Log(level, format, args...)
	}

	l.lastPrinted = now
	l.suppressed = 0
}
