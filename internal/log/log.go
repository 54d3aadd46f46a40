package log

import (
	"strings"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

type Level string

const (
	LevelDebug Level = "DEBUG"
	LevelInfo  Level = "INFO"
	LevelError Level = "ERROR"
)

var (
	mu     sync.RWMutex
	sugar  *zap.SugaredLogger
	atomic = zap.NewAtomicLevelAt(zapcore.InfoLevel)
)

// Init builds the global logger for the given environment. "production"
// logs JSON; anything else logs colored console lines.
func Init(env string) error {
	l, err := newConfig(env).Build(zap.AddCallerSkip(2))
	if err != nil {
		return err
	}
	replace(l)
	return nil
}

func newConfig(env string) zap.Config {
	var cfg zap.Config
	if env == "production" {
		cfg = zap.NewProductionConfig()
	} else {
		cfg = zap.NewDevelopmentConfig()
		cfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	}
	cfg.Level = atomic
	cfg.OutputPaths = []string{"stderr"}
	return cfg
}

// UseCore routes all log output to core. Tests use it with an observer.
func UseCore(core zapcore.Core) {
	replace(zap.New(core, zap.AddCallerSkip(2)))
}

func replace(l *zap.Logger) {
	mu.Lock()
	defer mu.Unlock()
	if sugar != nil {
		_ = sugar.Sync()
	}
	sugar = l.Sugar()
}

func current() *zap.SugaredLogger {
	mu.RLock()
	s := sugar
	mu.RUnlock()
	if s != nil {
		return s
	}
	if err := Init("development"); err != nil {
		replace(zap.NewNop())
	}
	mu.RLock()
	defer mu.RUnlock()
	return sugar
}

// Sync flushes buffered entries. Call before exiting.
func Sync() {
	mu.RLock()
	defer mu.RUnlock()
	if sugar != nil {
		_ = sugar.Sync()
	}
}

func SetLevel(l Level) {
	atomic.SetLevel(l.zap())
}

// ParseLevel maps a config string to a Level, defaulting to INFO.
func ParseLevel(s string) Level {
	switch Level(strings.ToUpper(strings.TrimSpace(s))) {
	case LevelDebug:
		return LevelDebug
	case LevelError:
		return LevelError
	default:
		return LevelInfo
	}
}

func (l Level) zap() zapcore.Level {
	switch l {
	case LevelDebug:
		return zapcore.DebugLevel
	case LevelError:
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}

func Debug(msg string, kv ...any) {
	logWithLevel(LevelDebug, msg, kv...)
}

func Info(msg string, kv ...any) {
	logWithLevel(LevelInfo, msg, kv...)
}

func Error(msg string, err error, kv ...any) {
	extended := append([]any{zap.Error(err)}, kv...)
	logWithLevel(LevelError, msg, extended...)
}

func logWithLevel(level Level, msg string, kv ...any) {
	s := current()
	switch level {
	case LevelDebug:
		s.Debugw(msg, kv...)
	case LevelError:
		s.Errorw(msg, kv...)
	default:
		s.Infow(msg, kv...)
	}
}
