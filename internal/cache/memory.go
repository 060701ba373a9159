package cache

import (
	"context"
	"time"

	gocache "github.com/patrickmn/go-cache"
)

// memoryClient implementa Client sobre go-cache.
type memoryClient struct {
	prefix string
	c      *gocache.Cache
}

// NewMemory crea un cliente de cache en memoria. go-cache limpia las
// entradas expiradas cada minuto; DeleteExpired fuerza el barrido.
func NewMemory(prefix string) *memoryClient {
	return &memoryClient{
		prefix: prefix,
		c:      gocache.New(gocache.NoExpiration, time.Minute),
	}
}

func ttlOrForever(ttl time.Duration) time.Duration {
	if ttl <= 0 {
		return gocache.NoExpiration
	}
	return ttl
}

func (m *memoryClient) Get(_ context.Context, key string) (string, error) {
	v, ok := m.c.Get(prefixed(m.prefix, key))
	if !ok {
		return "", ErrNotFound
	}
	s, _ := v.(string)
	return s, nil
}

func (m *memoryClient) Set(_ context.Context, key, value string, ttl time.Duration) error {
	m.c.Set(prefixed(m.prefix, key), value, ttlOrForever(ttl))
	return nil
}

func (m *memoryClient) Add(_ context.Context, key, value string, ttl time.Duration) error {
	// go-cache.Add falla si la key existe y no expiró
	if err := m.c.Add(prefixed(m.prefix, key), value, ttlOrForever(ttl)); err != nil {
		return ErrExists
	}
	return nil
}

func (m *memoryClient) Delete(_ context.Context, key string) error {
	m.c.Delete(prefixed(m.prefix, key))
	return nil
}

func (m *memoryClient) Ping(context.Context) error { return nil }

func (m *memoryClient) Close() error {
	m.c.Flush()
	return nil
}

// DeleteExpired elimina las entradas expiradas y retorna cuántas quitó.
func (m *memoryClient) DeleteExpired(context.Context) (int, error) {
	before := m.c.ItemCount()
	m.c.DeleteExpired()
	return before - m.c.ItemCount(), nil
}
