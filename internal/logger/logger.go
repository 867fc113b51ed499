package logger

import (
	"arbitrage-bot-go/internal/models"
	"os"
	"strings"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

var (
	mu      sync.RWMutex
	baseLog *zap.Logger
	sugared *zap.SugaredLogger
)

// InitLogger builds the process-wide logger from cfg. It may be called again
// once the configuration file has been read.
func InitLogger(cfg models.LogConfig) {
	l := New(cfg)
	mu.Lock()
	baseLog = l
	sugared = l.Sugar()
	mu.Unlock()
}

// New builds a logger without installing it globally.
func New(cfg models.LogConfig) *zap.Logger {
	logLevel := zap.NewAtomicLevel()
	if err := logLevel.UnmarshalText([]byte(cfg.Level)); err != nil {
		logLevel.SetLevel(zap.InfoLevel)
	}

	encoderConfig := zap.NewProductionEncoderConfig()
	encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	encoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	consoleEncoder := zapcore.NewConsoleEncoder(encoderConfig)

	var cores []zapcore.Core

	output := strings.ToLower(cfg.Output)
	if (output == "file" || output == "both") && cfg.File != "" {
		// rotated files never get colour codes
		fileEncoderConfig := encoderConfig
		fileEncoderConfig.EncodeLevel = zapcore.CapitalLevelEncoder
		rotator := &lumberjack.Logger{
			Filename:   cfg.File,
			MaxSize:    cfg.MaxSize,
			MaxBackups: cfg.MaxBackups,
			MaxAge:     cfg.MaxAge,
			Compress:   cfg.Compress,
		}
		cores = append(cores, zapcore.NewCore(zapcore.NewConsoleEncoder(fileEncoderConfig), zapcore.AddSync(rotator), logLevel))
	}

	if output == "console" || output == "both" || len(cores) == 0 {
		cores = append(cores, zapcore.NewCore(consoleEncoder, zapcore.AddSync(os.Stdout), logLevel))
	}

	return zap.New(zapcore.NewTee(cores...), zap.AddCaller())
}

// S returns the global sugared logger.
func S() *zap.SugaredLogger {
	mu.RLock()
	defer mu.RUnlock()
	if sugared == nil {
		l, _ := zap.NewDevelopment()
		return l.Sugar()
	}
	return sugared
}

// L returns the global structured logger.
func L() *zap.Logger {
	mu.RLock()
	defer mu.RUnlock()
	if baseLog == nil {
		l, _ := zap.NewDevelopment()
		return l
	}
	return baseLog
}
