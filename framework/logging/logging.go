package logging

import (
	"os"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/km-arc/go-ioc/framework/config"
)

// New builds the container logger. Development mode writes coloured console
// output to stdout; otherwise JSON in the zap production format.
func New(cfg config.LogConfig) (*zap.Logger, error) {
	level := ParseLevel(cfg.Level)

	if cfg.Development {
		enc := zap.NewDevelopmentEncoderConfig()
		enc.EncodeLevel = zapcore.CapitalColorLevelEncoder
		enc.EncodeTime = zapcore.ISO8601TimeEncoder
		core := zapcore.NewCore(zapcore.NewConsoleEncoder(enc), zapcore.AddSync(os.Stdout), level)
		return zap.New(core, zap.AddCaller()), nil
	}

	zc := zap.NewProductionConfig()
	zc.Level = level
	return zc.Build()
}

// ParseLevel maps a LOG_LEVEL value onto a zap level, defaulting to info.
func ParseLevel(s string) zap.AtomicLevel {
	switch strings.ToLower(s) {
	case "debug":
		return zap.NewAtomicLevelAt(zapcore.DebugLevel)
	case "warn", "warning":
		return zap.NewAtomicLevelAt(zapcore.WarnLevel)
	case "error":
		return zap.NewAtomicLevelAt(zapcore.ErrorLevel)
	}
	return zap.NewAtomicLevelAt(zapcore.InfoLevel)
}

// Nop returns a logger that drops everything.
func Nop() *zap.Logger { return zap.NewNop() }
