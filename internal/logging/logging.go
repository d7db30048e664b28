// Copyright (c) 2025 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

// Package logging builds the process wide zap logger.
package logging

import (
	"fmt"
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config configures the local log sink.
type Config struct {
	Level        zapcore.Level `config:"level"`
	Format       string        `config:"format"`
	File         string        `config:"file"`
	ErrorFile    string        `config:"errorFile"`
	MaskedFields []string      `config:"maskedFields"`
}

// UnknownFormatError is returned by New if Config.Format
// is neither "json" nor "console".
type UnknownFormatError struct {
	Format string
}

// Error implements the error interface.
func (e UnknownFormatError) Error() string {
	return fmt.Sprintf("unknown log format: %s", e.Format)
}

// OpenError occurs when one of the configured log files can not be opened.
type OpenError struct {
	Path  string
	Cause error
}

// Error implements the error interface.
func (e OpenError) Error() string {
	return fmt.Sprintf("failed to open log file %s: %s", e.Path, e.Cause)
}

// Unwrap implements the implicit interface used by errors.Is and errors.As.
func (e OpenError) Unwrap() error {
	return e.Cause
}

// New returns a logger which writes every entry at or above cfg.Level to
// stderr and, when configured, to cfg.File. Entries at error level and
// above are additionally written to cfg.ErrorFile. Files are always JSON
// encoded.
func New(cfg Config) (*zap.Logger, error) {
	encCfg := zap.NewProductionEncoderConfig()
	encCfg.TimeKey = "timestamp"
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder

	var console zapcore.Encoder
	switch cfg.Format {
	case "", "json":
		console = zapcore.NewJSONEncoder(encCfg)
	case "console":
		consoleCfg := encCfg
		consoleCfg.EncodeLevel = zapcore.CapitalColorLevelEncoder
		console = zapcore.NewConsoleEncoder(consoleCfg)
	default:
		return nil, UnknownFormatError{Format: cfg.Format}
	}

	level := zap.NewAtomicLevelAt(cfg.Level)
	cores := []zapcore.Core{
		zapcore.NewCore(console, zapcore.Lock(os.Stderr), level),
	}

	files := []struct {
		path  string
		level zapcore.LevelEnabler
	}{
		{path: cfg.File, level: level},
		{path: cfg.ErrorFile, level: zap.ErrorLevel},
	}
	for _, f := range files {
		if f.path == "" {
			continue
		}
		ws, _, err := zap.Open(f.path)
		if err != nil {
			return nil, OpenError{Path: f.path, Cause: err}
		}
		cores = append(cores, zapcore.NewCore(zapcore.NewJSONEncoder(encCfg), ws, f.level))
	}

	core := zapcore.NewTee(cores...)
	if len(cfg.MaskedFields) > 0 {
		core = MaskFields(core, cfg.MaskedFields...)
	}
	return zap.New(core, zap.AddCaller(), zap.AddStacktrace(zap.DPanicLevel)), nil
}
