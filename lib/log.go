package lib

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fatih/color"
	"gopkg.in/natefinch/lumberjack.v2"
)

const (
	LogDirectory = "logs"
	LogFileName  = "generals.log"
)

/*
	This file implements the leveled logger shared by every general and the CLI.
	Output is colored and timestamped, going to a caller supplied writer or to stdout plus an auto-rotating log file.
*/

func init() {
	color.NoColor = false
}

// LoggerI defines the interface for various logging levels and formatted output
type LoggerI interface {
	Debug(msg string)
	Info(msg string)
	Warn(msg string)
	Error(msg string)
	Fatal(msg string)
	Print(msg string)
	Debugf(format string, args ...interface{})
	Infof(format string, args ...interface{})
	Warnf(format string, args ...interface{})
	Errorf(format string, args ...interface{})
	Fatalf(format string, args ...interface{})
	Printf(format string, args ...interface{})
	WithPrefix(prefix string) LoggerI
}

const (
	DebugLevel int32 = -4
	InfoLevel  int32 = 0
	WarnLevel  int32 = 4
	ErrorLevel int32 = 8

	Reset = iota
	RED
	GREEN
	YELLOW
	BLUE
	GRAY
)

var _ LoggerI = &Logger{}

// LoggerConfig holds configuration settings for the logger, including logging level and output writer
type LoggerConfig struct {
	Level       int32  `json:"level"`
	MaxSizeMB   int    `json:"maxSizeMB"` // rotation threshold of the log file, only used when Out is nil
	MaxBackups  int    `json:"maxBackups"`
	MaxAgeDays  int    `json:"maxAgeDays"`
	Prefix      string `json:"prefix"`
	Out         io.Writer
	exitOnFatal func(code int)
}

// Logger is the concrete implementation of LoggerI
type Logger struct {
	config LoggerConfig
}

// a level knows its threshold, label and color
type level struct {
	threshold int32
	label     string
	color     int
}

var (
	debug = level{DebugLevel, "DEBUG", BLUE}
	info  = level{InfoLevel, "INFO", GREEN}
	warn  = level{WarnLevel, "WARN", YELLOW}
	errL  = level{ErrorLevel, "ERROR", RED}
	fatal = level{ErrorLevel, "FATAL", RED}
)

func (l *Logger) Debug(msg string) { l.leveled(debug, msg) }
func (l *Logger) Info(msg string)  { l.leveled(info, msg) }
func (l *Logger) Warn(msg string)  { l.leveled(warn, msg) }
func (l *Logger) Error(msg string) { l.leveled(errL, msg) }

// Fatal() logs an error message and terminates the program
func (l *Logger) Fatal(msg string) {
	l.write(colorString(fatal.color, fatal.label+": "+l.prefixed(msg)))
	l.exit()
}

// Print() writes a message without any level or color, used for protocol output like the trace
func (l *Logger) Print(msg string) { l.write(l.prefixed(msg)) }

func (l *Logger) Debugf(format string, args ...interface{}) { l.Debug(fmt.Sprintf(format, args...)) }
func (l *Logger) Infof(format string, args ...interface{})  { l.Info(fmt.Sprintf(format, args...)) }
func (l *Logger) Warnf(format string, args ...interface{})  { l.Warn(fmt.Sprintf(format, args...)) }
func (l *Logger) Errorf(format string, args ...interface{}) { l.Error(fmt.Sprintf(format, args...)) }
func (l *Logger) Fatalf(format string, args ...interface{}) { l.Fatal(fmt.Sprintf(format, args...)) }
func (l *Logger) Printf(format string, args ...interface{}) { l.Print(fmt.Sprintf(format, args...)) }

// WithPrefix() returns a logger sharing the same output that tags every line with prefix
func (l *Logger) WithPrefix(prefix string) LoggerI {
	c := l.config
	if c.Prefix != "" {
		prefix = c.Prefix + "/" + prefix
	}
	c.Prefix = prefix
	return &Logger{config: c}
}

// leveled() writes msg if the configured level allows it
func (l *Logger) leveled(lvl level, msg string) {
	if l.config.Level > lvl.threshold {
		return
	}
	l.write(colorString(lvl.color, lvl.label+": "+l.prefixed(msg)))
}

func (l *Logger) prefixed(msg string) string {
	if l.config.Prefix == "" {
		return msg
	}
	return "[" + l.config.Prefix + "] " + msg
}

// write() outputs the log message with a timestamp to the configured writer
func (l *Logger) write(msg string) {
	timeColored := colorString(GRAY, time.Now().Format(time.StampMilli))
	if _, err := fmt.Fprintf(l.config.Out, "%s %s\n", timeColored, msg); err != nil {
		fmt.Println(newLogError(err))
	}
}

func (l *Logger) exit() {
	if l.config.exitOnFatal != nil {
		l.config.exitOnFatal(1)
		return
	}
	os.Exit(1)
}

// NewLogger() creates a new Logger; without a writer it logs to stdout and a rotating file under the data directory
func NewLogger(config LoggerConfig, dataDirPath ...string) LoggerI {
	if config.Out == nil {
		dir := DefaultDataDirPath()
		if len(dataDirPath) != 0 && dataDirPath[0] != "" {
			dir = dataDirPath[0]
		}
		logDir := filepath.Join(dir, LogDirectory)
		if _, err := os.Stat(logDir); errors.Is(err, os.ErrNotExist) {
			if err = os.MkdirAll(logDir, os.ModePerm); err != nil {
				panic(err)
			}
		}
		config.Out = io.MultiWriter(os.Stdout, &lumberjack.Logger{
			Filename:   filepath.Join(logDir, LogFileName),
			MaxSize:    max(config.MaxSizeMB, 1), // megabytes
			MaxBackups: config.MaxBackups,
			MaxAge:     config.MaxAgeDays, // days
			Compress:   true,
		})
	}
	return &Logger{config: config}
}

// NewDefaultLogger() creates a Logger with default settings, logging at the Debug level to stdout
func NewDefaultLogger() LoggerI {
	return NewLogger(LoggerConfig{
		Level: DebugLevel,
		Out:   os.Stdout,
	})
}

// NewNullLogger() creates a Logger that discards all log output
func NewNullLogger() LoggerI {
	return NewLogger(LoggerConfig{
		Level: DebugLevel,
		Out:   io.Discard,
	})
}

// colorString() returns a string with color applied, preserving line breaks
func colorString(c int, msg string) string {
	lines := strings.Split(msg, "\n")
	for i, line := range lines {
		lines[i] = cString(c, line)
	}
	return strings.Join(lines, "\n")
}

// cString() returns a string with a specific color applied
func cString(c int, msg string) string {
	switch c {
	case BLUE:
		return color.BlueString(msg)
	case RED:
		return color.RedString(msg)
	case YELLOW:
		return color.YellowString(msg)
	case GREEN:
		return color.GreenString(msg)
	case GRAY:
		return color.HiBlackString(msg)
	default:
		return color.WhiteString(msg)
	}
}
