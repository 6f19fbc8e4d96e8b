package logging

import (
	"io"
	"log"
	"sync/atomic"
)

// StdLogger writes events through the standard library's log.Logger,
// matching the teacher's logger/std.go implementation: a monotonically
// increasing counter prefixes every line so interleaved goroutine output
// stays distinguishable.
type StdLogger struct {
	dest    *log.Logger
	counter uint64
}

// NewStdLogger returns a Logger backed by dest with the given prefix/flag,
// the same constructor shape as the teacher's NewStdLogger.
func NewStdLogger(dest io.Writer, prefix string, flag int) *StdLogger {
	return &StdLogger{dest: log.New(dest, prefix, flag)}
}

func (l *StdLogger) Log(level Level, e *Event) {
	n := atomic.AddUint64(&l.counter, 1)
	l.dest.Printf("[%06d] %s %s/%s session=%q tab=%q %v\n",
		n, level, e.Component, e.Type, e.SessionID, e.TabID, e.Values)
}

var _ Logger = (*StdLogger)(nil)
