package logger

import (
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	base    *zap.Logger
	sugar   *zap.SugaredLogger
	logFile *os.File
)

const (
	INFO = iota
	DEBUG
)

func encoderConfig() zapcore.EncoderConfig {
	cfg := zap.NewProductionEncoderConfig()
	cfg.TimeKey = "time"
	cfg.EncodeTime = zapcore.ISO8601TimeEncoder
	cfg.EncodeLevel = zapcore.CapitalLevelEncoder
	return cfg
}

func levelFor(level int) zapcore.Level {
	if level == DEBUG {
		return zapcore.DebugLevel
	}
	return zapcore.InfoLevel
}

// InitLogger writes diagnostics to stderr and, when filename is set, also
// appends them to that file. Stdout is left alone for machine-readable output.
func InitLogger(filename string, level int) error {
	lvl := zap.NewAtomicLevelAt(levelFor(level))
	cores := []zapcore.Core{
		zapcore.NewCore(zapcore.NewConsoleEncoder(encoderConfig()), zapcore.Lock(os.Stderr), lvl),
	}

	if filename != "" {
		f, err := os.OpenFile(filename, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0666)
		if err != nil {
			return err
		}
		logFile = f
		cores = append(cores, zapcore.NewCore(zapcore.NewJSONEncoder(encoderConfig()), zapcore.AddSync(f), lvl))
	}

	SetLogger(zap.New(zapcore.NewTee(cores...), zap.AddCaller(), zap.AddCallerSkip(1)))
	return nil
}

// SetLogger replaces the package logger. Tests use it with zaptest/observer.
func SetLogger(l *zap.Logger) {
	base = l
	sugar = l.Sugar()
}

func Close() {
	if base != nil {
		_ = base.Sync()
	}
	if logFile != nil {
		logFile.Close()
		logFile = nil
	}
}

func Init() {
	if err := InitLogger("", INFO); err != nil {
		SetLogger(zap.NewNop())
	}
}

func L() *zap.SugaredLogger {
	if sugar == nil {
		Init()
	}
	return sugar
}

func Info(format string, v ...interface{}) {
	L().Infof(format, v...)
}

func Infof(format string, v ...interface{}) {
	Info(format, v...)
}

func Debugf(format string, v ...interface{}) {
	L().Debugf(format, v...)
}

func Error(format string, v ...interface{}) {
	L().Errorf(format, v...)
}

func Errorf(format string, v ...interface{}) {
	Error(format, v...)
}

func Warn(format string, v ...interface{}) {
	L().Warnf(format, v...)
}

func Warnf(format string, v ...interface{}) {
	Warn(format, v...)
}

// With returns a child logger carrying structured fields, e.g. the run id.
func With(keysAndValues ...interface{}) *zap.SugaredLogger {
	return L().With(keysAndValues...)
}
