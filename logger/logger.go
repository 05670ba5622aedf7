// Package logger wraps logrus with the fields, formats and outputs used by
// fixturefeed. Warnings and errors are also counted per component for the
// periodic report.
package logger

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	lumberjack "gopkg.in/natefinch/lumberjack.v2"
)

// Fields mirrors logrus.Fields.
type Fields map[string]interface{}

type Log struct {
	*logrus.Logger
}

type Entry struct {
	*logrus.Entry
}

// levelReport logs at info and additionally enables the periodic report.
const levelReport = "report"

// rotateSizeMB caps a rotated log file when a retention age is configured.
const rotateSizeMB = 100

var globalLogger = Logger()

// Logger builds a logger writing JSON to stderr at the LOG_LEVEL level, or
// info when LOG_LEVEL is unset or unknown.
func Logger() *Log {
	l := logrus.New()
	level, err := parseLevel(os.Getenv("LOG_LEVEL"))
	if err != nil {
		level = logrus.InfoLevel
	}
	l.SetLevel(level)
	l.SetReportCaller(true)
	l.SetFormatter(jsonFormatter())
	l.AddHook(&callerHook{})
	return &Log{Logger: l}
}

// GetLogger returns the process wide logger.
func GetLogger() *Log {
	return globalLogger
}

// Configure applies the logging section of the configuration. LOG_LEVEL
// wins over level when set. output is stdout, stderr or a file path; a
// positive maxAge rotates the file and keeps maxAge days of history.
func (l *Log) Configure(level, format, output string, maxAge int) error {
	if env := os.Getenv("LOG_LEVEL"); env != "" {
		level = env
	}
	lvl, err := parseLevel(level)
	if err != nil {
		return err
	}
	formatter, err := newFormatter(format)
	if err != nil {
		return err
	}
	w, err := openOutput(output, maxAge)
	if err != nil {
		return err
	}

	l.SetLevel(lvl)
	l.SetFormatter(formatter)
	l.SetOutput(w)
	l.SetReportCaller(true)
	return nil
}

func parseLevel(level string) (logrus.Level, error) {
	level = strings.ToLower(strings.TrimSpace(level))
	switch level {
	case "":
		return logrus.InfoLevel, nil
	case levelReport:
		return logrus.InfoLevel, nil
	}
	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		return 0, fmt.Errorf("invalid log level '%s'", level)
	}
	return lvl, nil
}

func newFormatter(format string) (logrus.Formatter, error) {
	switch strings.ToLower(format) {
	case "json", "":
		return jsonFormatter(), nil
	case "text":
		return &logrus.TextFormatter{
			FullTimestamp:    true,
			TimestampFormat:  time.RFC3339,
			CallerPrettyfier: shortCaller,
		}, nil
	}
	return nil, fmt.Errorf("invalid log format '%s'", format)
}

func openOutput(output string, maxAge int) (io.Writer, error) {
	switch output {
	case "stdout", "":
		return os.Stdout, nil
	case "stderr":
		return os.Stderr, nil
	}
	if maxAge > 0 {
		return &lumberjack.Logger{
			Filename: output,
			MaxAge:   maxAge,
			MaxSize:  rotateSizeMB,
			Compress: true,
		}, nil
	}
	f, err := os.OpenFile(output, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("failed to open log file '%s': %w", output, err)
	}
	return f, nil
}

// jsonFormatter renames the standard keys so dashboards and log shippers
// read timestamp, level and message.
func jsonFormatter() *logrus.JSONFormatter {
	return &logrus.JSONFormatter{
		TimestampFormat: time.RFC3339Nano,
		FieldMap: logrus.FieldMap{
			logrus.FieldKeyTime: "timestamp",
			logrus.FieldKeyMsg:  "message",
		},
		CallerPrettyfier: shortCaller,
	}
}

// shortCaller drops the function name and keeps file:line.
func shortCaller(f *runtime.Frame) (string, string) {
	return "", fmt.Sprintf("%s:%d", filepath.Base(f.File), f.Line)
}

func (l *Log) WithComponent(component string) *Entry {
	return &Entry{Entry: l.Logger.WithField("component", component)}
}

func (l *Log) WithFields(fields Fields) *Entry {
	return &Entry{Entry: l.Logger.WithFields(logrus.Fields(fields))}
}

func (l *Log) WithError(err error) *Entry {
	return &Entry{Entry: l.Logger.WithError(err)}
}

// WithRun tags an entry with the id of the refresh that produced it.
func (l *Log) WithRun(runID string) *Entry {
	return &Entry{Entry: l.Logger.WithField("run_id", runID)}
}

func (e *Entry) WithComponent(component string) *Entry {
	return &Entry{Entry: e.Entry.WithField("component", component)}
}

func (e *Entry) WithFields(fields Fields) *Entry {
	return &Entry{Entry: e.Entry.WithFields(logrus.Fields(fields))}
}

func (e *Entry) WithError(err error) *Entry {
	return &Entry{Entry: e.Entry.WithError(err)}
}

func (e *Entry) WithRun(runID string) *Entry {
	return &Entry{Entry: e.Entry.WithField("run_id", runID)}
}

func (e *Entry) Warn(args ...interface{}) {
	e.count(recordWarn)
	e.Entry.Warn(args...)
}

func (e *Entry) Error(args ...interface{}) {
	e.count(recordError)
	e.Entry.Error(args...)
}

func (e *Entry) count(record func(string)) {
	if component, ok := e.Entry.Data["component"].(string); ok {
		record(component)
	}
}

// LogStageTiming logs how long one stage of a refresh took.
func LogStageTiming(entry *Entry, component, stage string, took time.Duration, fields Fields) {
	out := Fields{
		"stage":       stage,
		"duration_ms": float64(took.Microseconds()) / 1000,
	}
	for k, v := range fields {
		out[k] = v
	}
	entry.WithComponent(component).WithFields(out).Info("stage timing")
}

// LogRowFlow logs how many rows one refresh moved from the feed into the
// normalized table, and how many it lost on the way.
func LogRowFlow(entry *Entry, source string, rows, skipped, dropped int) {
	entry.WithFields(Fields{
		"source":  source,
		"rows":    rows,
		"skipped": skipped,
		"dropped": dropped,
	}).Info("row flow")
}
