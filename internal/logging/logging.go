// Package logging provides the structured, leveled logger shared by every
// component of the hibernator core.
package logging

import (
	"sync"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Logger is the interface every component depends on. It never takes the
// concrete zap types in its exported surface beyond the field helpers below,
// so callers can log structured fields (Site, Err, ...) or printf-style
// messages depending on what reads better at the call site.
type Logger interface {
	Debug(msg string, fields ...zap.Field)
	Info(msg string, fields ...zap.Field)
	Warn(msg string, fields ...zap.Field)
	Error(msg string, fields ...zap.Field)
	Fatal(msg string, fields ...zap.Field)

	Debugf(template string, args ...any)
	Infof(template string, args ...any)
	Warnf(template string, args ...any)
	Errorf(template string, args ...any)

	// With returns a Logger that always attaches the given fields, e.g. a
	// per-site logger built once with With(Site(name)).
	With(fields ...zap.Field) Logger

	Sync() error
}

type zapLogger struct {
	base    *zap.Logger
	sugared *zap.SugaredLogger
}

// New builds a Logger. level is one of "debug"|"info"|"warn"|"error";
// pretty selects a human-readable console encoder instead of JSON.
func New(level string, pretty bool) Logger {
	var cfg zap.Config
	if pretty {
		cfg = zap.NewDevelopmentConfig()
		cfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	} else {
		cfg = zap.NewProductionConfig()
	}
	if lvl, ok := parseLevel(level); ok {
		cfg.Level = zap.NewAtomicLevelAt(lvl)
	}
	base, err := cfg.Build(zap.AddStacktrace(zapcore.FatalLevel))
	if err != nil {
		panic(err)
	}
	return &zapLogger{base: base, sugared: base.Sugar()}
}

func parseLevel(lvl string) (zapcore.Level, bool) {
	switch lvl {
	case "debug":
		return zapcore.DebugLevel, true
	case "info":
		return zapcore.InfoLevel, true
	case "warn":
		return zapcore.WarnLevel, true
	case "error":
		return zapcore.ErrorLevel, true
	default:
		return 0, false
	}
}

func (l *zapLogger) Debug(msg string, fields ...zap.Field) { l.base.Debug(msg, fields...) }
func (l *zapLogger) Info(msg string, fields ...zap.Field)  { l.base.Info(msg, fields...) }
func (l *zapLogger) Warn(msg string, fields ...zap.Field)  { l.base.Warn(msg, fields...) }
func (l *zapLogger) Error(msg string, fields ...zap.Field) { l.base.Error(msg, fields...) }
func (l *zapLogger) Fatal(msg string, fields ...zap.Field) { l.base.Fatal(msg, fields...) }

func (l *zapLogger) Debugf(t string, args ...any) { l.sugared.Debugf(t, args...) }
func (l *zapLogger) Infof(t string, args ...any)  { l.sugared.Infof(t, args...) }
func (l *zapLogger) Warnf(t string, args ...any)  { l.sugared.Warnf(t, args...) }
func (l *zapLogger) Errorf(t string, args ...any) { l.sugared.Errorf(t, args...) }

func (l *zapLogger) With(fields ...zap.Field) Logger {
	base := l.base.With(fields...)
	return &zapLogger{base: base, sugared: base.Sugar()}
}

func (l *zapLogger) Sync() error { return l.base.Sync() }

// Field constructors re-exported for callers that don't want to import zap directly.
func Site(name string) zap.Field          { return zap.String("site", name) }
func State(s string) zap.Field            { return zap.String("state", s) }
func Result(r string) zap.Field           { return zap.String("result", r) }
func Err(err error) zap.Field             { return zap.Error(err) }
func String(key, val string) zap.Field    { return zap.String(key, val) }
func Int(key string, val int) zap.Field   { return zap.Int(key, val) }
func Dur(key string, d time.Duration) zap.Field { return zap.Duration(key, d) }

// rateLimited wraps a Logger and drops calls beyond a small per-callsite-key
// budget per second, so a misbehaving backend spamming, say, UpstreamIoError
// cannot flood the log at line rate. The budget is keyed explicitly by the
// caller (e.g. a site name) rather than by runtime.Caller, since every
// call here already runs through a handful of fixed call sites.
type rateLimited struct {
	Logger
	mu      sync.Mutex
	buckets map[string]*rateBucket
	limit   int
}

type rateBucket struct {
	window time.Time
	count  int
}

// RateLimited returns a Logger whose WarnKeyed/ErrorKeyed methods cap calls
// sharing the same key to limit-per-second. Warn, Error and every other
// Logger method pass through unchanged and are never capped.
func RateLimited(base Logger, limitPerSecond int) Logger {
	return &rateLimited{Logger: base, buckets: make(map[string]*rateBucket), limit: limitPerSecond}
}

func (l *rateLimited) allow(key string) bool {
	now := time.Now().Truncate(time.Second)
	l.mu.Lock()
	defer l.mu.Unlock()
	b := l.buckets[key]
	if b == nil {
		b = &rateBucket{}
		l.buckets[key] = b
	}
	if !b.window.Equal(now) {
		b.window = now
		b.count = 0
	}
	if b.count >= l.limit {
		return false
	}
	b.count++
	return true
}

// WarnKeyed logs at warn level, rate-limited per key.
func (l *rateLimited) WarnKeyed(key, msg string, fields ...zap.Field) {
	if l.allow("warn:" + key) {
		l.Logger.Warn(msg, fields...)
	}
}

// ErrorKeyed logs at error level, rate-limited per key.
func (l *rateLimited) ErrorKeyed(key, msg string, fields ...zap.Field) {
	if l.allow("error:" + key) {
		l.Logger.Error(msg, fields...)
	}
}
