package logger

import (
	"time"

	"go.uber.org/zap"
)

// Claves de los campos que comparten todas las capas.
const (
	keyRequestID = "request_id"
	keyUserID    = "user_id"
)

// HTTP.

func RequestID(v string) zap.Field       { return zap.String(keyRequestID, v) }
func Method(v string) zap.Field          { return zap.String("method", v) }
func Path(v string) zap.Field            { return zap.String("path", v) }
func Status(v int) zap.Field             { return zap.Int("status", v) }
func ClientIP(v string) zap.Field        { return zap.String("client_ip", v) }
func Bytes(v int) zap.Field              { return zap.Int("bytes", v) }
func Duration(v time.Duration) zap.Field { return zap.Duration("duration", v) }
func DurationMs(v int64) zap.Field       { return zap.Int64("duration_ms", v) }

// Login y eventos.

func UserID(v string) zap.Field    { return zap.String(keyUserID, v) }
func Sub(v string) zap.Field       { return zap.String("sub", v) }
func ClientID(v string) zap.Field  { return zap.String("client_id", v) }
func EventType(v string) zap.Field { return zap.String("event_type", v) }
func Org(v string) zap.Field       { return zap.String("org", v) }

// Code es el código corto que viaja en ?login-error=.
func Code(v string) zap.Field { return zap.String("code", v) }

// State registra solo los primeros 8 caracteres del token.
func State(v string) zap.Field {
	if len(v) > 8 {
		v = v[:8] + "..."
	}
	return zap.String("state", v)
}

// Category copia la entrada al Ring con la categoría dada.
func Category(v string) zap.Field { return zap.String(categoryKey, v) }

// Estructura interna.

func Component(v string) zap.Field { return zap.String("component", v) }
func Layer(v string) zap.Field     { return zap.String("layer", v) }
func Op(v string) zap.Field        { return zap.String("op", v) }
func Err(err error) zap.Field      { return zap.Error(err) }
func Count(v int) zap.Field        { return zap.Int("count", v) }

func String(key, v string) zap.Field    { return zap.String(key, v) }
func Int(key string, v int) zap.Field   { return zap.Int(key, v) }
func Bool(key string, v bool) zap.Field { return zap.Bool(key, v) }
func Any(key string, v any) zap.Field   { return zap.Any(key, v) }
