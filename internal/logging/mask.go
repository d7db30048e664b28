// Copyright (c) 2025 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package logging

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Masked is the value written in place of a masked field.
const Masked = "****"

type maskCore struct {
	zapcore.Core

	keys map[string]struct{}
}

// MaskFields wraps core so that every field whose key is one of keys
// is written as [Masked], regardless of its type.
func MaskFields(core zapcore.Core, keys ...string) zapcore.Core {
	m := make(map[string]struct{}, len(keys))
	for _, k := range keys {
		m[k] = struct{}{}
	}
	return &maskCore{
		Core: core,
		keys: m,
	}
}

// With implements the zapcore.Core interface.
func (c *maskCore) With(fields []zapcore.Field) zapcore.Core {
	return &maskCore{
		Core: c.Core.With(c.mask(fields)),
		keys: c.keys,
	}
}

// Check implements the zapcore.Core interface.
func (c *maskCore) Check(ent zapcore.Entry, ce *zapcore.CheckedEntry) *zapcore.CheckedEntry {
	if c.Enabled(ent.Level) {
		return ce.AddCore(ent, c)
	}
	return ce
}

// Write implements the zapcore.Core interface.
func (c *maskCore) Write(ent zapcore.Entry, fields []zapcore.Field) error {
	return c.Core.Write(ent, c.mask(fields))
}

func (c *maskCore) mask(fields []zapcore.Field) []zapcore.Field {
	var masked []zapcore.Field
	for i, f := range fields {
		if _, ok := c.keys[f.Key]; !ok {
			continue
		}
		if masked == nil {
			masked = make([]zapcore.Field, len(fields))
			copy(masked, fields)
		}
		masked[i] = zap.String(f.Key, Masked)
	}
	if masked == nil {
		return fields
	}
	return masked
}
