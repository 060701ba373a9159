// Package audit publica eventos de dominio tipados (usuario creado,
// actualizado, login, redirect) a los listeners registrados y deja traza en
// el log estructurado.
package audit

import (
	"context"
	"sync"
	"time"

	"github.com/dropDatabas3/hellologin/internal/observability/logger"
)

// Kind identifica el tipo de evento.
type Kind string

const (
	UserCreated  Kind = "user-created"
	UserUpdated  Kind = "user-updated"
	UserLoggedIn Kind = "user-logged-in"
	Redirect     Kind = "redirect"
)

// Event es un evento de dominio.
type Event struct {
	Kind   Kind
	UserID string
	At     time.Time
	Fields map[string]any
}

// Listener recibe eventos de forma síncrona.
type Listener func(ctx context.Context, ev Event)

// Bus despacha eventos a los listeners suscriptos al Kind.
type Bus struct {
	mu        sync.RWMutex
	listeners map[Kind][]Listener
	now       func() time.Time
}

// NewBus crea un Bus vacío.
func NewBus() *Bus {
	return &Bus{listeners: map[Kind][]Listener{}, now: time.Now}
}

// Subscribe registra l para kind.
func (b *Bus) Subscribe(kind Kind, l Listener) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.listeners[kind] = append(b.listeners[kind], l)
}

// Publish escribe el evento en el log y lo entrega a cada listener. Un
// listener que hace panic no afecta al resto. Un Bus nil solo loguea.
func (b *Bus) Publish(ctx context.Context, ev Event) {
	if ev.At.IsZero() {
		ev.At = time.Now().UTC()
		if b != nil {
			ev.At = b.now().UTC()
		}
	}
	logger.From(ctx).Info("audit event",
		logger.String("event", string(ev.Kind)),
		logger.UserID(ev.UserID),
		logger.Any("fields", ev.Fields),
		logger.Category(string(ev.Kind)),
	)
	if b == nil {
		return
	}

	b.mu.RLock()
	ls := append([]Listener(nil), b.listeners[ev.Kind]...)
	b.mu.RUnlock()

	for _, l := range ls {
		func() {
			defer func() {
				if r := recover(); r != nil {
					logger.From(ctx).Error("audit listener panic", logger.Any("panic", r))
				}
			}()
			l(ctx, ev)
		}()
	}
}
