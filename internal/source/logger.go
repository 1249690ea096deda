package source

import (
	"go.uber.org/zap"
)

// ClientLogger adapts a zap logger to resty's logger interface.
type ClientLogger struct {
	*zap.SugaredLogger
}

func (l *ClientLogger) Debugf(format string, v ...interface{}) {
	l.SugaredLogger.Debugf("HTTP\t"+format, v...)
}

func (l *ClientLogger) Warnf(format string, v ...interface{}) {
	l.SugaredLogger.Debugf("HTTP-WARN\t"+format, v...)
}

func (l *ClientLogger) Errorf(format string, v ...interface{}) {
	l.SugaredLogger.Debugf("HTTP-ERROR\t"+format, v...)
}
