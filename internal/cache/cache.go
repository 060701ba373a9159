// Package cache es el almacenamiento clave/valor con TTL que respalda al
// StateStore.
//
// Backends:
//   - Memory (go-cache, in-process, un solo nodo o tests)
//   - Redis (compartido entre procesos)
package cache

import (
	"context"
	"errors"
	"strings"
	"time"
)

// Client define las operaciones de cache.
type Client interface {
	// Get obtiene un valor. Retorna ErrNotFound si no existe o expiró.
	Get(ctx context.Context, key string) (string, error)

	// Set guarda un valor. ttl 0 no expira.
	Set(ctx context.Context, key, value string, ttl time.Duration) error

	// Add es Set solo si la key no existe; si existe retorna ErrExists.
	Add(ctx context.Context, key, value string, ttl time.Duration) error

	Delete(ctx context.Context, key string) error
	Ping(ctx context.Context) error
	Close() error
}

// Sweeper lo implementan los backends que necesitan un barrido explícito
// de entradas expiradas. Redis expira de forma nativa y no lo implementa.
type Sweeper interface {
	DeleteExpired(ctx context.Context) (int, error)
}

type Config struct {
	Driver   string // "memory" | "redis"
	Addr     string // host:port para redis
	Password string
	DB       int
	Prefix   string
}

var (
	ErrNotFound = errors.New("cache: key not found")
	ErrExists   = errors.New("cache: key already exists")
)

func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// New crea el backend indicado por cfg.Driver (memory por defecto).
func New(ctx context.Context, cfg Config) (Client, error) {
	switch cfg.Driver {
	case "redis":
		return NewRedis(ctx, cfg)
	default:
		return NewMemory(cfg.Prefix), nil
	}
}

// prefixed une prefix y key con un solo ":".
func prefixed(prefix, key string) string {
	if prefix == "" {
		return key
	}
	return strings.TrimSuffix(prefix, ":") + ":" + key
}
