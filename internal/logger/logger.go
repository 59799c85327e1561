// Package logger provides a small leveled logger that writes every
// record to a log file and mirrors warnings, errors and explicit
// console lines to stdout.
package logger

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Level lists supported log severities.
type Level int

const (
	DEBUG Level = iota
	INFO
	WARN
	ERROR
)

var levelNames = map[Level]string{
	DEBUG: "DEBUG",
	INFO:  "INFO",
	WARN:  "WARN",
	ERROR: "ERROR",
}

// ParseLevel maps a level name to a Level, defaulting to INFO.
func ParseLevel(name string) Level {
	switch name {
	case "DEBUG", "debug":
		return DEBUG
	case "WARN", "warn":
		return WARN
	case "ERROR", "error":
		return ERROR
	default:
		return INFO
	}
}

// Logger writes to a file and mirrors select records to the console.
type Logger struct {
	mu          sync.Mutex
	fileLogger  *log.Logger
	consoleLog  *log.Logger
	level       Level
	logFile     *os.File
	logFilePath string
}

var (
	defaultLogger *Logger
	once          sync.Once
)

// Init creates the global logger. logFilePrefix names the file under
// logDir, e.g. "redisserver" produces "redisserver.log".
func Init(logDir string, level Level, logFilePrefix string) error {
	var initErr error
	once.Do(func() {
		if err := os.MkdirAll(logDir, 0755); err != nil {
			initErr = fmt.Errorf("logger: create log dir: %w", err)
			return
		}

		if logFilePrefix == "" {
			logFilePrefix = "redisserver"
		}
		logFilePath := filepath.Join(logDir, logFilePrefix+".log")

		logFile, err := os.OpenFile(logFilePath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			initErr = fmt.Errorf("logger: open log file: %w", err)
			return
		}

		defaultLogger = &Logger{
			fileLogger:  log.New(logFile, "", 0),
			consoleLog:  log.New(os.Stdout, "", 0),
			level:       level,
			logFile:     logFile,
			logFilePath: logFilePath,
		}
	})
	return initErr
}

// Close releases the backing log file.
func Close() error {
	if defaultLogger != nil && defaultLogger.logFile != nil {
		return defaultLogger.logFile.Close()
	}
	return nil
}

// FilePath returns the path of the active log file, if any.
func FilePath() string {
	if defaultLogger != nil {
		return defaultLogger.logFilePath
	}
	return ""
}

func formatMessage(level Level, format string, args ...interface{}) string {
	timestamp := time.Now().Format("2006/01/02 15:04:05.000")
	return fmt.Sprintf("%s [%s] %s", timestamp, levelNames[level], fmt.Sprintf(format, args...))
}

func logToFile(level Level, format string, args ...interface{}) {
	if defaultLogger == nil {
		return
	}
	if level < defaultLogger.level {
		return
	}
	defaultLogger.mu.Lock()
	defer defaultLogger.mu.Unlock()
	defaultLogger.fileLogger.Println(formatMessage(level, format, args...))
}

func logToConsole(format string, args ...interface{}) {
	if defaultLogger == nil {
		fmt.Printf(format+"\n", args...)
		return
	}
	defaultLogger.mu.Lock()
	defer defaultLogger.mu.Unlock()
	timestamp := time.Now().Format("2006/01/02 15:04:05")
	defaultLogger.consoleLog.Printf("%s [redisserver] %s", timestamp, fmt.Sprintf(format, args...))
}

func logToBoth(level Level, format string, args ...interface{}) {
	logToFile(level, format, args...)
	logToConsole(format, args...)
}

// Debug logs a debug record (file only).
func Debug(format string, args ...interface{}) { logToFile(DEBUG, format, args...) }

// Info logs an info record (file only).
func Info(format string, args ...interface{}) { logToFile(INFO, format, args...) }

// Warn logs a warning (file + console).
func Warn(format string, args ...interface{}) { logToBoth(WARN, format, args...) }

// Error logs an error (file + console).
func Error(format string, args ...interface{}) { logToBoth(ERROR, format, args...) }

// Console prints a status line to the console and mirrors it to the file.
func Console(format string, args ...interface{}) {
	logToConsole(format, args...)
	logToFile(INFO, format, args...)
}
