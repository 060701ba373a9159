package logger

import (
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config describe cómo se arma el logger global.
//
// Env "prod" emite JSON; cualquier otro valor usa consola con colores.
// Level acepta debug, info, warn o error (info si está vacío o es desconocido).
// Ring, si no es nil, recibe las entradas que llevan el campo "category".
type Config struct {
	Env         string
	Level       string
	ServiceName string
	Version     string
	Ring        *Ring
}

func (c Config) build() *zap.Logger {
	level := levelOf(c.Level)

	zcfg := zap.NewDevelopmentConfig()
	opts := []zap.Option{zap.AddCaller()}
	if strings.EqualFold(c.Env, "prod") {
		zcfg = zap.NewProductionConfig()
		zcfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
		opts = append(opts, zap.AddStacktrace(zapcore.ErrorLevel))
	} else {
		zcfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
		zcfg.EncoderConfig.EncodeTime = zapcore.TimeEncoderOfLayout("15:04:05.000")
		zcfg.DisableStacktrace = true
	}
	zcfg.Level = zap.NewAtomicLevelAt(level)
	zcfg.EncoderConfig.EncodeCaller = zapcore.ShortCallerEncoder

	l, err := zcfg.Build(opts...)
	if err != nil {
		l = zap.NewExample()
	}

	if ring := c.Ring; ring != nil {
		l = l.WithOptions(zap.WrapCore(func(core zapcore.Core) zapcore.Core {
			return zapcore.NewTee(core, ring.core(level))
		}))
	}

	var base []zap.Field
	if c.ServiceName != "" {
		base = append(base, zap.String("service", c.ServiceName))
	}
	if c.Version != "" {
		base = append(base, zap.String("version", c.Version))
	}
	return l.With(base...)
}

func levelOf(s string) zapcore.Level {
	var lvl zapcore.Level
	if err := lvl.UnmarshalText([]byte(strings.ToLower(strings.TrimSpace(s)))); err != nil {
		return zapcore.InfoLevel
	}
	if lvl < zapcore.DebugLevel || lvl > zapcore.ErrorLevel {
		return zapcore.InfoLevel
	}
	return lvl
}
