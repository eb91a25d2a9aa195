// Package logging builds the process logger: zap writing to stderr, teed
// into an in-memory ring buffer that diagnostics can query.
package logging

import (
	"io"

	"github.com/pkg/errors"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config selects level and encoding.
type Config struct {
	Level  string // debug, info, warn, error
	Format string // text, json
}

// New creates a logger writing to w. When buffer is non-nil every entry is
// also captured there.
func New(cfg Config, w io.Writer, buffer *Buffer) (*zap.Logger, error) {
	levelText := cfg.Level
	if levelText == "" {
		levelText = "info"
	}
	level, err := zapcore.ParseLevel(levelText)
	if err != nil {
		return nil, errors.Wrapf(err, "invalid log level %q", cfg.Level)
	}

	encCfg := zap.NewProductionEncoderConfig()
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder

	var encoder zapcore.Encoder
	switch cfg.Format {
	case "json":
		encoder = zapcore.NewJSONEncoder(encCfg)
	case "text", "":
		encCfg.EncodeLevel = zapcore.CapitalLevelEncoder
		encoder = zapcore.NewConsoleEncoder(encCfg)
	default:
		return nil, errors.Errorf("invalid log format %q", cfg.Format)
	}

	core := zapcore.NewCore(encoder, zapcore.AddSync(w), level)
	if buffer != nil {
		core = zapcore.NewTee(core, &bufferCore{LevelEnabler: level, buffer: buffer})
	}
	return zap.New(core), nil
}

// bufferCore is a zapcore.Core capturing entries into a Buffer.
type bufferCore struct {
	zapcore.LevelEnabler
	buffer *Buffer
	fields []zapcore.Field
}

func (c *bufferCore) With(fields []zapcore.Field) zapcore.Core {
	all := make([]zapcore.Field, 0, len(c.fields)+len(fields))
	all = append(all, c.fields...)
	all = append(all, fields...)
	return &bufferCore{
		LevelEnabler: c.LevelEnabler,
		buffer:       c.buffer,
		fields:       all,
	}
}

func (c *bufferCore) Check(ent zapcore.Entry, ce *zapcore.CheckedEntry) *zapcore.CheckedEntry {
	if c.Enabled(ent.Level) {
		return ce.AddCore(ent, c)
	}
	return ce
}

func (c *bufferCore) Write(ent zapcore.Entry, fields []zapcore.Field) error {
	enc := zapcore.NewMapObjectEncoder()
	for _, f := range c.fields {
		f.AddTo(enc)
	}
	for _, f := range fields {
		f.AddTo(enc)
	}

	entry := Entry{
		Timestamp: ent.Time,
		Level:     ent.Level.CapitalString(),
		Message:   ent.Message,
	}
	if len(enc.Fields) > 0 {
		entry.Fields = enc.Fields
	}
	c.buffer.Add(entry)
	return nil
}

func (c *bufferCore) Sync() error {
	return nil
}
