// Package common provides centralized logging infrastructure for the Neptune
// search replication service. It implements intelligent log output routing
// that automatically directs error messages to stderr while sending other log
// levels to stdout, enabling proper stream separation for containerized and
// scripted environments.
//
// The logging system is built on logrus for structured logging capabilities
// with custom output handling that supports both development workflows and
// production deployment patterns.
//
// Output Routing Strategy:
//
//	Error-level messages (containing "level=error") are directed to stderr
//	for immediate attention and error handling, while info, debug, and
//	warning messages go to stdout for general log processing.
package common

import (
	"bytes"
	"os"

	"github.com/sirupsen/logrus"
)

// OutputSplitter implements log output routing based on log content analysis.
// This custom writer examines log messages and directs them to the
// appropriate output stream (stdout vs stderr) based on their severity level.
type OutputSplitter struct{}

// Write routes a single formatted log entry to stdout or stderr.
func (splitter *OutputSplitter) Write(p []byte) (n int, err error) {
	if bytes.Contains(p, []byte("level=error")) {
		return os.Stderr.Write(p)
	}
	return os.Stdout.Write(p)
}

// Logger provides the global logger instance for the replication service.
// All packages log through this instance to guarantee consistent formatting
// and output routing. The level and format are adjusted at startup from
// configuration via ConfigureLogger.
var Logger = logrus.New()

// ConfigureLogger applies the configured level and format to the global
// logger. Unknown levels fall back to info; format "json" selects the JSON
// formatter, everything else the full-timestamp text formatter.
func ConfigureLogger(level, format string) {
	parsed, err := logrus.ParseLevel(level)
	if err != nil {
		parsed = logrus.InfoLevel
	}
	Logger.SetLevel(parsed)

	if format == "json" {
		Logger.SetFormatter(&logrus.JSONFormatter{})
	} else {
		Logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
}

func init() {
	// Configure the global logger with intelligent output routing
	Logger.SetOutput(&OutputSplitter{})
}
