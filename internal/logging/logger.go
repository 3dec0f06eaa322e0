package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

// LogLevel represents the logging level
type LogLevel string

const (
	// LogLevelQuiet suppresses all output except critical errors
	LogLevelQuiet LogLevel = "quiet"
	// LogLevelNormal shows standard operational messages
	LogLevelNormal LogLevel = "normal"
	// LogLevelVerbose shows detailed operational information
	LogLevelVerbose LogLevel = "verbose"
	// LogLevelDebug shows all debug information
	LogLevelDebug LogLevel = "debug"
)

// Logger provides structured logging capabilities
type Logger struct {
	logger *logrus.Logger
	level  LogLevel
}

// Config holds logger configuration
type Config struct {
	Level      LogLevel
	Output     io.Writer
	Format     string // "text" or "json"
	ShowCaller bool
	LogFile    string
}

// NewLogger creates a new logger with the specified configuration
func NewLogger(config Config) (*Logger, error) {
	logger := logrus.New()

	if config.Output != nil {
		logger.SetOutput(config.Output)
	} else {
		logger.SetOutput(os.Stdout)
	}

	switch config.Format {
	case "json":
		logger.SetFormatter(&logrus.JSONFormatter{
			TimestampFormat: time.RFC3339,
		})
	default:
		logger.SetFormatter(&logrus.TextFormatter{
			FullTimestamp:   true,
			TimestampFormat: "2006-01-02 15:04:05",
			DisableColors:   false,
		})
	}

	switch config.Level {
	case LogLevelQuiet:
		logger.SetLevel(logrus.ErrorLevel)
	case LogLevelNormal:
		logger.SetLevel(logrus.InfoLevel)
	case LogLevelVerbose:
		logger.SetLevel(logrus.DebugLevel)
	case LogLevelDebug:
		logger.SetLevel(logrus.TraceLevel)
	default:
		logger.SetLevel(logrus.InfoLevel)
	}

	if config.ShowCaller {
		logger.SetReportCaller(true)
		logger.SetFormatter(&logrus.TextFormatter{
			FullTimestamp:   true,
			TimestampFormat: "2006-01-02 15:04:05",
			CallerPrettyfier: func(f *runtime.Frame) (string, string) {
				filename := filepath.Base(f.File)
				return fmt.Sprintf("%s()", f.Function), fmt.Sprintf("%s:%d", filename, f.Line)
			},
		})
	}

	if config.LogFile != "" {
		file, err := os.OpenFile(config.LogFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0666)
		if err != nil {
			return nil, fmt.Errorf("failed to open log file %s: %w", config.LogFile, err)
		}

		// Write to both the file and the configured output
		if config.Output == nil {
			logger.SetOutput(io.MultiWriter(os.Stdout, file))
		} else {
			logger.SetOutput(io.MultiWriter(config.Output, file))
		}
	}

	return &Logger{
		logger: logger,
		level:  config.Level,
	}, nil
}

// NewDefaultLogger creates a logger with default configuration
func NewDefaultLogger() *Logger {
	config := Config{
		Level:      LogLevelNormal,
		Output:     os.Stdout,
		Format:     "text",
		ShowCaller: false,
	}

	logger, _ := NewLogger(config)
	return logger
}

// WithFields returns a logger with additional fields
func (l *Logger) WithFields(fields map[string]interface{}) *logrus.Entry {
	return l.logger.WithFields(fields)
}

// WithField returns a logger with a single additional field
func (l *Logger) WithField(key string, value interface{}) *logrus.Entry {
	return l.logger.WithField(key, value)
}

// Pipeline operation logging methods

// LogControlPlaneCall logs a single sqlcmd invocation
func (l *Logger) LogControlPlaneCall(statement string, duration time.Duration, exitCode int, err error) {
	fields := logrus.Fields{
		"operation": "control_plane_call",
		"duration":  duration.String(),
		"exit_code": exitCode,
	}

	// Truncate long statements for readability
	statement = SanitizeStatement(statement)
	if len(statement) > 200 {
		fields["statement"] = statement[:200] + "..."
		fields["statement_length"] = len(statement)
	} else {
		fields["statement"] = statement
	}

	if err != nil {
		fields["error"] = err.Error()
		l.logger.WithFields(fields).Error("Control-plane call failed")
	} else {
		if l.level == LogLevelVerbose || l.level == LogLevelDebug {
			l.logger.WithFields(fields).Debug("Control-plane call completed")
		}
	}
}

// LogExtraction logs archive extraction results
func (l *Logger) LogExtraction(archive string, workDir string, payloadCount int, duration time.Duration, err error) {
	fields := logrus.Fields{
		"operation":     "archive_extraction",
		"archive":       archive,
		"work_dir":      workDir,
		"payload_count": payloadCount,
		"duration":      duration.String(),
	}

	if err != nil {
		fields["error"] = err.Error()
		l.logger.WithFields(fields).Error("Archive extraction failed")
	} else {
		l.logger.WithFields(fields).Info("Archive extraction completed")
	}
}

// LogRestoreAttempt logs one restore statement attempt
func (l *Logger) LogRestoreAttempt(database string, attempt int, withMove bool, duration time.Duration, err error) {
	fields := logrus.Fields{
		"operation": "restore_attempt",
		"database":  database,
		"attempt":   attempt,
		"with_move": withMove,
		"duration":  duration.String(),
	}

	if err != nil {
		fields["error"] = err.Error()
		l.logger.WithFields(fields).Error("Restore attempt failed")
	} else {
		l.logger.WithFields(fields).Info("Restore completed")
	}
}

// LogAvailabilityPoll logs one availability poll for a restored database
func (l *Logger) LogAvailabilityPoll(database string, attempt int, state string, online bool) {
	fields := logrus.Fields{
		"operation": "availability_poll",
		"database":  database,
		"attempt":   attempt,
		"state":     state,
	}

	if online {
		l.logger.WithFields(fields).Info("Database is online")
	} else {
		l.logger.WithFields(fields).Debug("Database not yet available")
	}
}

// LogCleanup logs a cleanup pass over restored databases and work dirs
func (l *Logger) LogCleanup(target string, dropped int, failed int, err error) {
	fields := logrus.Fields{
		"operation": "cleanup",
		"target":    target,
		"dropped":   dropped,
		"failed":    failed,
	}

	if err != nil {
		fields["error"] = err.Error()
		l.logger.WithFields(fields).Warn("Cleanup finished with failures")
	} else {
		l.logger.WithFields(fields).Info("Cleanup completed")
	}
}

// LogTableAnalysis logs table discovery and description results
func (l *Logger) LogTableAnalysis(database string, tablesFound int, duration time.Duration, err error) {
	fields := logrus.Fields{
		"operation":    "table_analysis",
		"database":     database,
		"tables_found": tablesFound,
		"duration":     duration.String(),
	}

	if err != nil {
		fields["error"] = err.Error()
		l.logger.WithFields(fields).Error("Table analysis failed")
	} else {
		l.logger.WithFields(fields).Info("Table analysis completed")
	}
}

// Standard logging methods

// Info logs an info message
func (l *Logger) Info(msg string) {
	l.logger.Info(msg)
}

// Infof logs a formatted info message
func (l *Logger) Infof(format string, args ...interface{}) {
	l.logger.Infof(format, args...)
}

// Debug logs a debug message
func (l *Logger) Debug(msg string) {
	l.logger.Debug(msg)
}

// Debugf logs a formatted debug message
func (l *Logger) Debugf(format string, args ...interface{}) {
	l.logger.Debugf(format, args...)
}

// Warn logs a warning message
func (l *Logger) Warn(msg string) {
	l.logger.Warn(msg)
}

// Warnf logs a formatted warning message
func (l *Logger) Warnf(format string, args ...interface{}) {
	l.logger.Warnf(format, args...)
}

// Error logs an error message
func (l *Logger) Error(msg string) {
	l.logger.Error(msg)
}

// Errorf logs a formatted error message
func (l *Logger) Errorf(format string, args ...interface{}) {
	l.logger.Errorf(format, args...)
}

// Fatal logs a fatal message and exits
func (l *Logger) Fatal(msg string) {
	l.logger.Fatal(msg)
}

// Fatalf logs a formatted fatal message and exits
func (l *Logger) Fatalf(format string, args ...interface{}) {
	l.logger.Fatalf(format, args...)
}

// GetLevel returns the current log level
func (l *Logger) GetLevel() LogLevel {
	return l.level
}

// SetLevel sets the log level
func (l *Logger) SetLevel(level LogLevel) {
	l.level = level
	switch level {
	case LogLevelQuiet:
		l.logger.SetLevel(logrus.ErrorLevel)
	case LogLevelNormal:
		l.logger.SetLevel(logrus.InfoLevel)
	case LogLevelVerbose:
		l.logger.SetLevel(logrus.DebugLevel)
	case LogLevelDebug:
		l.logger.SetLevel(logrus.TraceLevel)
	}
}

// LogOperationStart logs the start of an operation and returns a function to log completion
func (l *Logger) LogOperationStart(operation string, fields map[string]interface{}) func(error) {
	startTime := time.Now()

	logFields := logrus.Fields{
		"operation": operation,
		"status":    "started",
	}
	for k, v := range fields {
		logFields[k] = v
	}

	l.logger.WithFields(logFields).Debug("Operation started")

	return func(err error) {
		duration := time.Since(startTime)
		logFields["status"] = "completed"
		logFields["duration"] = duration.String()

		if err != nil {
			logFields["error"] = err.Error()
			logFields["success"] = false
			l.logger.WithFields(logFields).Error("Operation failed")
		} else {
			logFields["success"] = true
			l.logger.WithFields(logFields).Info("Operation completed")
		}
	}
}

// SanitizeStatement masks credentials that could leak into logs through
// sqlcmd arguments or connection-style statements.
func SanitizeStatement(stmt string) string {
	for _, marker := range []string{"PASSWORD=", "password=", "-P "} {
		idx := strings.Index(stmt, marker)
		if idx == -1 {
			continue
		}
		rest := stmt[idx+len(marker):]
		end := strings.IndexAny(rest, " \t\n")
		if end == -1 {
			end = len(rest)
		}
		stmt = stmt[:idx+len(marker)] + "***" + rest[end:]
	}

	if len(stmt) > 500 {
		return stmt[:500] + "... [truncated]"
	}
	return stmt
}
