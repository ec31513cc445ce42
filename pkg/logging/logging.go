// Package logging builds the process logger.
package logging

import (
	"os"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

type options struct {
	entries *prometheus.CounterVec
	sink    zapcore.WriteSyncer
}

// Option is a function that sets an option.
type Option func(o *options)

// WithEntriesCounter counts every emitted entry in c, labelled by level.
func WithEntriesCounter(c *prometheus.CounterVec) Option {
	return func(o *options) {
		o.entries = c
	}
}

// WithOutput redirects the log output, stderr by default.
func WithOutput(w zapcore.WriteSyncer) Option {
	return func(o *options) {
		o.sink = w
	}
}

// NewEntriesCounter returns the counter used with WithEntriesCounter.
func NewEntriesCounter() *prometheus.CounterVec {
	return prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "t1_peerings",
		Name:      "log_entries_total",
		Help:      "Number of log entries emitted, by level.",
	}, []string{"level"})
}

// New returns a console logger at debug level if debug is set, info level
// otherwise.
func New(debug bool, opts ...Option) *zap.SugaredLogger {
	o := options{sink: zapcore.Lock(os.Stderr)}
	for _, opt := range opts {
		opt(&o)
	}

	level := zapcore.InfoLevel
	if debug {
		level = zapcore.DebugLevel
	}

	encoderCfg := zapcore.EncoderConfig{
		TimeKey:        "ts",
		LevelKey:       "level",
		MessageKey:     "msg",
		CallerKey:      "caller",
		LineEnding:     zapcore.DefaultLineEnding,
		EncodeTime:     zapcore.ISO8601TimeEncoder,
		EncodeLevel:    zapcore.CapitalLevelEncoder,
		EncodeDuration: zapcore.StringDurationEncoder,
		EncodeCaller:   zapcore.ShortCallerEncoder,
	}
	core := zapcore.NewCore(zapcore.NewConsoleEncoder(encoderCfg), o.sink, level)

	zapOpts := []zap.Option{zap.ErrorOutput(o.sink)}
	if debug {
		zapOpts = append(zapOpts, zap.AddCaller())
	}
	if o.entries != nil {
		entries := o.entries
		zapOpts = append(zapOpts, zap.Hooks(func(e zapcore.Entry) error {
			entries.WithLabelValues(e.Level.String()).Inc()
			return nil
		}))
	}
	return zap.New(core, zapOpts...).Sugar()
}
