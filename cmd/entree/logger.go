package main

import (
	"fmt"

	"github.com/goliatone/go-errors"
	"github.com/goliatone/go-logger/glog"

	"github.com/goliatone/go-entree"
)

func newLogger(debug bool) *glog.BaseLogger {
	if debug {
		return glog.NewLogger(
			glog.WithLoggerTypePretty(),
			glog.WithLevel(glog.Trace),
			glog.WithName("entree"),
			glog.WithAddSource(true),
			glog.WithRichErrorHandler(errors.ToSlogAttributes),
		)
	}
	return glog.NewLogger(
		glog.WithName("entree"),
		glog.WithAddSource(false),
		glog.WithRichErrorHandler(errors.ToSlogAttributes),
	)
}

// printfLogger renders format strings before handing them to glog
type printfLogger struct {
	glog.Logger
}

var _ entree.Logger = printfLogger{}

func named(base *glog.BaseLogger, name string) printfLogger {
	return printfLogger{Logger: base.GetLogger(name)}
}

func (l printfLogger) Debug(format string, args ...any) {
	l.Logger.Debug(fmt.Sprintf(format, args...))
}

func (l printfLogger) Info(format string, args ...any) {
	l.Logger.Info(fmt.Sprintf(format, args...))
}

func (l printfLogger) Warn(format string, args ...any) {
	l.Logger.Warn(fmt.Sprintf(format, args...))
}

func (l printfLogger) Error(format string, args ...any) {
	l.Logger.Error(fmt.Sprintf(format, args...))
}
