// Package logging wires the process-wide logrus logger and hands out
// component-scoped entries.
package logging

import (
	"io"
	"os"
	"strings"

	"github.com/sirupsen/logrus"
)

var base = newBase(os.Stderr)

func newBase(w io.Writer) *logrus.Logger {
	l := logrus.New()
	l.SetOutput(w)
	l.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	l.SetLevel(logrus.InfoLevel)
	return l
}

// Setup sets the level ("debug", "info", ...) and switches to JSON output
// when format is "json". Unknown levels leave the level unchanged.
func Setup(level, format string) {
	if lvl, err := logrus.ParseLevel(strings.TrimSpace(level)); err == nil {
		base.SetLevel(lvl)
	} else if level != "" {
		base.WithField("level", level).Warn("unknown log level, keeping current")
	}
	if strings.EqualFold(format, "json") {
		base.SetFormatter(&logrus.JSONFormatter{})
	}
}

// SetOutput redirects every logger, mainly for tests.
func SetOutput(w io.Writer) {
	base.SetOutput(w)
}

// For returns a logger tagged with the component name.
func For(component string) *logrus.Entry {
	return base.WithField("component", component)
}
