// Package applog wires up the process-wide zap logger the way the rest of
// the codebase expects to find it: attached to a context.Context and
// extractable with ctxzap.
package applog

import (
	"context"
	"net/url"
	"sync"

	"github.com/grpc-ecosystem/go-grpc-middleware/logging/zap/ctxzap"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golift.io/rotatorr"
	"golift.io/rotatorr/timerotator"
)

type Option func(*zap.Config)

func WithLevel(level string) Option {
	return func(c *zap.Config) {
		lvl := zapcore.InfoLevel
		if level != "" {
			_ = lvl.Set(level)
		}
		c.Level.SetLevel(lvl)
	}
}

const rotatorrScheme = "rotatorr"

// WithLogFile routes output through a rotating file sink instead of
// stdout, for long-running --tray sessions where a console isn't watched.
func WithLogFile(path string) Option {
	return func(c *zap.Config) {
		if path == "" {
			return
		}
		u := &url.URL{Scheme: rotatorrScheme, Path: path}
		c.OutputPaths = []string{u.String()}
	}
}

type zapSink struct {
	*rotatorr.Logger
}

func (z *zapSink) Sync() error { return nil }

type pathRegistry struct {
	sync.Map
}

func (p *pathRegistry) register(path string) (zap.Sink, error) {
	if sink, ok := p.Load(path); ok {
		return sink.(zap.Sink), nil
	}
	rr, err := rotatorr.New(&rotatorr.Config{
		FileSize: 5 * 1024 * 1024,
		Filepath: path,
		Rotatorr: &timerotator.Layout{FileCount: 5},
	})
	if err != nil {
		return nil, err
	}
	sink := &zapSink{Logger: rr}
	p.Store(path, sink)
	return sink, nil
}

var registry = &pathRegistry{}

func init() {
	if err := zap.RegisterSink(rotatorrScheme, func(u *url.URL) (zap.Sink, error) {
		return registry.register(u.Path)
	}); err != nil {
		panic(err)
	}
}

// Init builds a zap logger and returns a context carrying it via ctxzap.
func Init(ctx context.Context, opts ...Option) (context.Context, error) {
	cfg := zap.NewProductionConfig()
	cfg.Sampling = nil
	cfg.DisableStacktrace = true
	cfg.EncoderConfig.TimeKey = "ts"
	cfg.OutputPaths = []string{"stdout"}

	for _, opt := range opts {
		opt(&cfg)
	}

	l, err := cfg.Build()
	if err != nil {
		return nil, err
	}

	l.Debug("logger initialized", zap.String("level", cfg.Level.String()))
	return ctxzap.ToContext(ctx, l), nil
}

// From extracts the logger stashed in ctx by Init.
func From(ctx context.Context) *zap.Logger {
	return ctxzap.Extract(ctx)
}
