package logger

import (
	"os"
	"strings"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

type LogLevel int

const (
	DEBUG LogLevel = iota
	INFO
	WARN
	ERROR
)

// Options configures the process-wide logger.
type Options struct {
	// File enables a rotated JSON log next to the console output.
	File  string
	Level LogLevel
	// JSON switches the console encoder to JSON.
	JSON bool
}

var (
	mu    sync.RWMutex
	base  *zap.Logger
	level = zap.NewAtomicLevelAt(zapcore.InfoLevel)
)

func init() {
	base = newLogger(Options{Level: INFO})
}

// Init replaces the process logger. It is safe to call more than once.
func Init(opts Options) {
	l := newLogger(opts)
	mu.Lock()
	old := base
	base = l
	mu.Unlock()
	if old != nil {
		_ = old.Sync()
	}
}

func newLogger(opts Options) *zap.Logger {
	level.SetLevel(toZapLevel(opts.Level))

	var consoleEncoder zapcore.Encoder
	if opts.JSON {
		consoleEncoder = zapcore.NewJSONEncoder(fileEncoderConfig())
	} else {
		cfg := zap.NewDevelopmentEncoderConfig()
		cfg.EncodeTime = zapcore.TimeEncoderOfLayout("15:04:05.000")
		consoleEncoder = zapcore.NewConsoleEncoder(cfg)
	}
	cores := []zapcore.Core{
		zapcore.NewCore(consoleEncoder, zapcore.Lock(os.Stderr), level),
	}

	if path := strings.TrimSpace(opts.File); path != "" {
		rotator := &lumberjack.Logger{
			Filename:   path,
			MaxSize:    10, // megabytes
			MaxBackups: 5,
			MaxAge:     30, // days
			Compress:   true,
		}
		cores = append(cores, zapcore.NewCore(
			zapcore.NewJSONEncoder(fileEncoderConfig()),
			zapcore.AddSync(rotator),
			level,
		))
	}

	return zap.New(zapcore.NewTee(cores...), zap.AddCaller(), zap.AddCallerSkip(2))
}

func fileEncoderConfig() zapcore.EncoderConfig {
	cfg := zap.NewProductionEncoderConfig()
	cfg.TimeKey = "timestamp"
	cfg.EncodeTime = zapcore.ISO8601TimeEncoder
	cfg.MessageKey = "message"
	cfg.LevelKey = "level"
	cfg.EncodeLevel = zapcore.CapitalLevelEncoder
	return cfg
}

func toZapLevel(l LogLevel) zapcore.Level {
	switch l {
	case DEBUG:
		return zapcore.DebugLevel
	case WARN:
		return zapcore.WarnLevel
	case ERROR:
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}

// ParseLevel maps a config string to a level, defaulting to INFO.
func ParseLevel(s string) LogLevel {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return DEBUG
	case "warn", "warning":
		return WARN
	case "error":
		return ERROR
	default:
		return INFO
	}
}

func SetLevel(l LogLevel) {
	level.SetLevel(toZapLevel(l))
}

func GetLevel() LogLevel {
	switch level.Level() {
	case zapcore.DebugLevel:
		return DEBUG
	case zapcore.WarnLevel:
		return WARN
	case zapcore.ErrorLevel:
		return ERROR
	default:
		return INFO
	}
}

func Sync() error {
	mu.RLock()
	defer mu.RUnlock()
	return base.Sync()
}

func current() *zap.Logger {
	mu.RLock()
	defer mu.RUnlock()
	return base
}

func log(l zapcore.Level, component, message string, fields map[string]interface{}) {
	zl := current()
	if ce := zl.Check(l, message); ce != nil {
		zf := make([]zap.Field, 0, 2)
		if component != "" {
			zf = append(zf, zap.String("component", component))
		}
		if len(fields) > 0 {
			zf = append(zf, zap.Any("fields", fields))
		}
		ce.Write(zf...)
	}
}

func DebugCF(component, message string, fields map[string]interface{}) {
	log(zapcore.DebugLevel, component, message, fields)
}

func InfoCF(component, message string, fields map[string]interface{}) {
	log(zapcore.InfoLevel, component, message, fields)
}

func WarnCF(component, message string, fields map[string]interface{}) {
	log(zapcore.WarnLevel, component, message, fields)
}

func ErrorCF(component, message string, fields map[string]interface{}) {
	log(zapcore.ErrorLevel, component, message, fields)
}

func DebugC(component, message string) { DebugCF(component, message, nil) }
func InfoC(component, message string)  { InfoCF(component, message, nil) }
func WarnC(component, message string)  { WarnCF(component, message, nil) }
func ErrorC(component, message string) { ErrorCF(component, message, nil) }
