// Package logging builds the zap logger that writes through the HAL log
// sink.
package logging

import (
	"bytes"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"hospos/hal"
)

type Options struct {
	Level    string // debug, info, warn, error
	Encoding string // console, json
	// BootID tags every entry. A random id is generated when empty.
	BootID string
}

// New returns a logger whose entries are written as lines on sink.
func New(sink hal.Logger, opts Options) (*zap.Logger, error) {
	lvl := zapcore.InfoLevel
	if opts.Level != "" {
		if err := lvl.UnmarshalText([]byte(opts.Level)); err != nil {
			return nil, fmt.Errorf("log level %q: %w", opts.Level, err)
		}
	}

	encCfg := zap.NewProductionEncoderConfig()
	encCfg.TimeKey = "ts"
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	var enc zapcore.Encoder
	switch opts.Encoding {
	case "", "console":
		encCfg.EncodeLevel = zapcore.CapitalLevelEncoder
		enc = zapcore.NewConsoleEncoder(encCfg)
	case "json":
		enc = zapcore.NewJSONEncoder(encCfg)
	default:
		return nil, fmt.Errorf("log encoding %q: unknown", opts.Encoding)
	}

	if opts.BootID == "" {
		opts.BootID = uuid.NewString()
	}
	core := zapcore.NewCore(enc, zapcore.AddSync(&sinkWriter{sink: sink}), lvl)
	return zap.New(core).With(zap.String("boot", opts.BootID)), nil
}

// sinkWriter splits encoded entries into lines for a hal.Logger.
type sinkWriter struct {
	mu   sync.Mutex
	sink hal.Logger
	buf  []byte
}

func (w *sinkWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.buf = append(w.buf, p...)
	for {
		i := bytes.IndexByte(w.buf, '\n')
		if i < 0 {
			break
		}
		w.sink.WriteLineBytes(w.buf[:i])
		w.buf = w.buf[i+1:]
	}
	if len(w.buf) == 0 {
		w.buf = nil
	}
	return len(p), nil
}
