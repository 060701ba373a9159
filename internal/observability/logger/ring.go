package logger

import (
	"sync"
	"time"

	"go.uber.org/zap/zapcore"
)

const categoryKey = "category"

// Entry es una línea del log acotado: (mensaje, categoría).
type Entry struct {
	Time     time.Time `json:"time"`
	Level    string    `json:"level"`
	Message  string    `json:"message"`
	Category string    `json:"category"`
}

// Ring guarda las últimas N entradas con categoría. Al superar el límite
// se descartan las más viejas.
type Ring struct {
	mu      sync.Mutex
	limit   int
	entries []Entry
}

// NewRing crea un Ring con capacidad limit (1000 si limit <= 0).
func NewRing(limit int) *Ring {
	if limit <= 0 {
		limit = 1000
	}
	return &Ring{limit: limit}
}

// Append agrega una entrada y recorta al límite.
func (r *Ring) Append(e Entry) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.entries = append(r.entries, e)
	if over := len(r.entries) - r.limit; over > 0 {
		copy(r.entries, r.entries[over:])
		r.entries = r.entries[:r.limit]
	}
}

// Entries retorna una copia de las entradas actuales (más vieja primero).
func (r *Ring) Entries() []Entry {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Entry, len(r.entries))
	copy(out, r.entries)
	return out
}

// Len retorna la cantidad de entradas guardadas.
func (r *Ring) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

// Limit retorna la capacidad del ring.
func (r *Ring) Limit() int { return r.limit }

func (r *Ring) core(level zapcore.LevelEnabler) zapcore.Core {
	return &ringCore{LevelEnabler: level, ring: r}
}

// ringCore es un zapcore.Core que solo registra entradas con "category".
type ringCore struct {
	zapcore.LevelEnabler
	ring     *Ring
	category string
}

func (c *ringCore) With(fields []zapcore.Field) zapcore.Core {
	clone := *c
	if cat, ok := findCategory(fields); ok {
		clone.category = cat
	}
	return &clone
}

func (c *ringCore) Check(ent zapcore.Entry, ce *zapcore.CheckedEntry) *zapcore.CheckedEntry {
	if c.Enabled(ent.Level) {
		return ce.AddCore(ent, c)
	}
	return ce
}

func (c *ringCore) Write(ent zapcore.Entry, fields []zapcore.Field) error {
	cat := c.category
	if v, ok := findCategory(fields); ok {
		cat = v
	}
	if cat == "" {
		return nil
	}
	c.ring.Append(Entry{
		Time:     ent.Time,
		Level:    ent.Level.String(),
		Message:  ent.Message,
		Category: cat,
	})
	return nil
}

func (c *ringCore) Sync() error { return nil }

func findCategory(fields []zapcore.Field) (string, bool) {
	for _, f := range fields {
		if f.Key == categoryKey && f.Type == zapcore.StringType {
			return f.String, true
		}
	}
	return "", false
}
