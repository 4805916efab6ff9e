package webrtcconn

import (
	"fmt"

	"github.com/pion/logging"

	"github.com/relaycore/relaycore/internal/logger"
)

// leveledLogger adapts a relaycore logger.Writer to pion's per-scope
// LeveledLogger, so DTLS/ICE library-internal logs are attributed to
// the owning session the same way every other connection's logs are.
type leveledLogger struct {
	parent logger.Writer
	scope  string
}

func (l *leveledLogger) log(level logger.Level, format string, args ...interface{}) {
	l.parent.Log(level, "["+l.scope+"] "+format, args...)
}

func (l *leveledLogger) Trace(msg string)                          { l.log(logger.Debug, "%s", msg) }
func (l *leveledLogger) Tracef(format string, args ...interface{}) { l.log(logger.Debug, format, args...) }
func (l *leveledLogger) Debug(msg string)                          { l.log(logger.Debug, "%s", msg) }
func (l *leveledLogger) Debugf(format string, args ...interface{}) { l.log(logger.Debug, format, args...) }
func (l *leveledLogger) Info(msg string)                           { l.log(logger.Info, "%s", msg) }
func (l *leveledLogger) Infof(format string, args ...interface{})  { l.log(logger.Info, format, args...) }
func (l *leveledLogger) Warn(msg string)                           { l.log(logger.Warn, "%s", msg) }
func (l *leveledLogger) Warnf(format string, args ...interface{})  { l.log(logger.Warn, format, args...) }
func (l *leveledLogger) Error(msg string)                          { l.log(logger.Error, "%s", msg) }
func (l *leveledLogger) Errorf(format string, args ...interface{}) { l.log(logger.Error, format, args...) }

// loggerFactory is a pion/logging.LoggerFactory producing one
// leveledLogger per scope, all writing to the same parent.
type loggerFactory struct {
	parent logger.Writer
}

func (f *loggerFactory) NewLogger(scope string) logging.LeveledLogger {
	return &leveledLogger{parent: f.parent, scope: scope}
}

var _ logging.LoggerFactory = (*loggerFactory)(nil)

func fmtPeer(addr fmt.Stringer) string {
	return addr.String()
}
