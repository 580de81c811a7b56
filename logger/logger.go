/*
 * Author: Markus Stenberg <fingon@iki.fi>
 *
 * Copyright (c) 2026 Markus Stenberg
 *
 * Created:       Mon Oct  5 11:20:31 2026 mstenber
 * Last modified: Mon Oct  5 12:01:55 2026 mstenber
 * Edit time:     34 min
 *
 */

// logger is the operational log of btrfsro: mount events, notices
// about on-disk features we do not handle, and errors that end up as
// EIO in the fuse layer. Tracing stays in mlog; Init points mlog
// output at the same zap core.
package logger

import (
	"fmt"
	"sync"

	"github.com/fingon/go-btrfsro/mlog"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config chooses how the log looks and where it goes.
type Config struct {
	Debug  bool   // Debug level enabled
	Format string // "json" or "human"
	File   string // extra output path, optional
}

var (
	lock   sync.Mutex
	base   = zap.NewNop()
	sugar  = base.Sugar()
	undoML func()
)

// Init builds the global logger from config.
func Init(config Config) error {
	var zc zap.Config
	switch config.Format {
	case "json":
		zc = zap.NewProductionConfig()
	case "", "human":
		zc = zap.NewDevelopmentConfig()
		zc.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	default:
		return fmt.Errorf("unknown log format %q", config.Format)
	}
	zc.OutputPaths = []string{"stderr"}
	if config.File != "" {
		zc.OutputPaths = append(zc.OutputPaths, config.File)
	}
	if config.Debug {
		zc.Level = zap.NewAtomicLevelAt(zap.DebugLevel)
	} else {
		zc.Level = zap.NewAtomicLevelAt(zap.InfoLevel)
	}
	l, err := zc.Build()
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	Set(l)
	return nil
}

// Set replaces the global logger (tests use an observer core). mlog
// is re-pointed at it as well.
func Set(l *zap.Logger) {
	lock.Lock()
	defer lock.Unlock()
	if undoML != nil {
		undoML()
	}
	base = l
	sugar = l.Sugar()
	undoML = mlog.SetLogger(zap.NewStdLog(l.Named("mlog")))
}

// L returns the current sugared logger.
func L() *zap.SugaredLogger {
	lock.Lock()
	defer lock.Unlock()
	return sugar
}

func Debugw(msg string, kv ...interface{}) {
	L().Debugw(msg, kv...)
}

func Infow(msg string, kv ...interface{}) {
	L().Infow(msg, kv...)
}

func Warnw(msg string, kv ...interface{}) {
	L().Warnw(msg, kv...)
}

func Errorw(msg string, err error, kv ...interface{}) {
	L().Errorw(msg, append(kv, "error", err)...)
}

// With returns a child logger carrying the fields.
func With(kv ...interface{}) *zap.SugaredLogger {
	return L().With(kv...)
}

// Sync flushes buffered entries.
func Sync() error {
	lock.Lock()
	defer lock.Unlock()
	return base.Sync()
}
