package logger

import (
	"context"
	"sync"

	"go.uber.org/zap"
)

var (
	initOnce sync.Once
	root     *zap.Logger
)

// Init construye el logger global. Las llamadas posteriores no tienen efecto.
func Init(cfg Config) {
	initOnce.Do(func() { root = cfg.build() })
}

// L devuelve el logger global; sin Init previo arranca en modo dev/info.
func L() *zap.Logger {
	initOnce.Do(func() { root = Config{}.build() })
	return root
}

// Sync vacía los buffers del logger global, si existe.
func Sync() error {
	if root == nil {
		return nil
	}
	return root.Sync()
}

type scopedKey struct{}

// ToContext asocia l al contexto para que From lo recupere aguas abajo.
func ToContext(ctx context.Context, l *zap.Logger) context.Context {
	return context.WithValue(ctx, scopedKey{}, l)
}

// From devuelve el logger del request o, en su defecto, el global.
func From(ctx context.Context) *zap.Logger {
	if ctx != nil {
		if l, ok := ctx.Value(scopedKey{}).(*zap.Logger); ok && l != nil {
			return l
		}
	}
	return L()
}
