// Package logger builds the process logger: JSON lines rotated by
// lumberjack, optionally teed to a console encoder on stdout.
package logger

import (
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/natefinch/lumberjack"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config tunes the log sink. Dir is relative to the process root unless
// absolute.
type Config struct {
	Dir        string `koanf:"dir"`
	Level      string `koanf:"level"`
	Console    bool   `koanf:"console"`
	MaxSizeMB  int    `koanf:"max_size_mb"`
	MaxBackups int    `koanf:"max_backups"`
	MaxAgeDays int    `koanf:"max_age_days"`
	Compress   bool   `koanf:"compress"`
}

func DefaultConfig() Config {
	return Config{
		Dir:        "logs",
		Level:      "info",
		MaxSizeMB:  50,
		MaxBackups: 7,
		MaxAgeDays: 14,
		Compress:   true,
	}
}

// Levels accepted by Config.Level.
var Levels = []interface{}{"debug", "info", "warn", "error"}

// New returns a logger writing JSON to <Dir>/YYYY-MM-DD.log. With Console
// set the same entries are also written to stdout. The returned closer
// flushes and releases the file.
func New(cfg Config) (*zap.SugaredLogger, io.Closer, error) {
	return newLogger(cfg, os.Stdout, time.Now())
}

func newLogger(cfg Config, console zapcore.WriteSyncer, now time.Time) (*zap.SugaredLogger, io.Closer, error) {
	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return nil, nil, err
	}
	if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
		return nil, nil, err
	}

	fileSink := &lumberjack.Logger{
		Filename:   filepath.Join(cfg.Dir, now.Format("2006-01-02")+".log"),
		MaxSize:    cfg.MaxSizeMB,
		MaxBackups: cfg.MaxBackups,
		MaxAge:     cfg.MaxAgeDays,
		Compress:   cfg.Compress,
	}

	encCfg := zapcore.EncoderConfig{
		TimeKey:      "ts",
		LevelKey:     "level",
		NameKey:      "logger",
		MessageKey:   "msg",
		CallerKey:    "caller",
		EncodeTime:   zapcore.ISO8601TimeEncoder,
		EncodeLevel:  zapcore.LowercaseLevelEncoder,
		EncodeCaller: zapcore.ShortCallerEncoder,
	}

	cores := []zapcore.Core{
		zapcore.NewCore(zapcore.NewJSONEncoder(encCfg), zapcore.AddSync(fileSink), level),
	}
	if cfg.Console && console != nil {
		consoleCfg := encCfg
		consoleCfg.EncodeLevel = zapcore.LowercaseColorLevelEncoder
		cores = append(cores, zapcore.NewCore(zapcore.NewConsoleEncoder(consoleCfg), console, level))
	}

	z := zap.New(
		zapcore.NewTee(cores...),
		zap.AddCaller(),
		zap.ErrorOutput(zapcore.AddSync(fileSink)),
	).Sugar()

	return z, closer{logger: z, sink: fileSink}, nil
}

type closer struct {
	logger *zap.SugaredLogger
	sink   *lumberjack.Logger
}

func (c closer) Close() error {
	// stdout sync errors are expected on some terminals
	_ = c.logger.Sync()
	return c.sink.Close()
}
