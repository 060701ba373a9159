// Package state persiste los registros de autenticación en vuelo
// (state token -> redirect_to + code_verifier) con expiración.
package state

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/dropDatabas3/hellologin/internal/cache"
	"github.com/dropDatabas3/hellologin/internal/metrics"
	"github.com/dropDatabas3/hellologin/internal/observability/logger"
)

// KeyPrefix antecede a cada token en el cache.
const KeyPrefix = "state--"

// MinTTL es el límite inferior aceptado para state_time_limit.
const MinTTL = 60 * time.Second

const (
	tokenBytes       = 32
	maxIssueAttempts = 3
)

var (
	// ErrNotFound indica que el state no existe o ya expiró.
	ErrNotFound = errors.New("state: not found")
	// ErrCollision: todos los tokens generados ya existían (fuente de
	// aleatoriedad rota).
	ErrCollision = errors.New("state: token collision")
)

// AuthState es un intento de login en curso.
type AuthState struct {
	Token        string    `json:"-"`
	RedirectTo   string    `json:"redirect_to"`
	CodeVerifier string    `json:"code_verifier"`
	ExpiresAt    time.Time `json:"expires_at"`
}

// Store guarda AuthState sobre un cache.Client con TTL.
type Store struct {
	cache cache.Client
	ttl   time.Duration
	now   func() time.Time
	rand  io.Reader
}

// Option configura un Store.
type Option func(*Store)

// WithClock reemplaza el reloj (tests de expiración).
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// WithRandom reemplaza la fuente de aleatoriedad de los tokens.
func WithRandom(r io.Reader) Option {
	return func(s *Store) { s.rand = r }
}

// New crea un Store. ttl menor a MinTTL se eleva a MinTTL.
func New(c cache.Client, ttl time.Duration, opts ...Option) *Store {
	if ttl < MinTTL {
		ttl = MinTTL
	}
	s := &Store{cache: c, ttl: ttl, now: time.Now, rand: rand.Reader}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// TTL retorna el tiempo de vida efectivo de cada state.
func (s *Store) TTL() time.Duration { return s.ttl }

// NewState genera un token aleatorio y persiste el registro. El registro
// se escribe una sola vez: si el token ya existe se genera otro.
func (s *Store) NewState(ctx context.Context, redirectTo, codeVerifier string) (string, error) {
	rec := AuthState{
		RedirectTo:   redirectTo,
		CodeVerifier: codeVerifier,
		ExpiresAt:    s.now().Add(s.ttl),
	}
	raw, err := json.Marshal(rec)
	if err != nil {
		return "", fmt.Errorf("state: encode: %w", err)
	}

	for attempt := 0; attempt < maxIssueAttempts; attempt++ {
		b := make([]byte, tokenBytes)
		if _, err := io.ReadFull(s.rand, b); err != nil {
			return "", fmt.Errorf("state: generate token: %w", err)
		}
		token := base64.RawURLEncoding.EncodeToString(b)

		err := s.cache.Add(ctx, KeyPrefix+token, string(raw), s.ttl)
		if errors.Is(err, cache.ErrExists) {
			continue
		}
		if err != nil {
			metrics.StateOp("issue", "error")
			return "", fmt.Errorf("state: persist: %w", err)
		}
		metrics.StateOp("issue", "ok")
		logger.From(ctx).Debug("state issued", logger.State(token), logger.Duration(s.ttl))
		return token, nil
	}
	metrics.StateOp("issue", "collision")
	return "", ErrCollision
}

// Check es true sii existe un registro no expirado para token.
func (s *Store) Check(ctx context.Context, token string) (bool, error) {
	_, err := s.load(ctx, token)
	switch {
	case err == nil:
		metrics.StateOp("check", "found")
		return true, nil
	case errors.Is(err, ErrNotFound):
		metrics.StateOp("check", "missing")
		return false, nil
	default:
		metrics.StateOp("check", "error")
		return false, err
	}
}

// Consume lee el registro. No lo borra: una segunda lectura antes de la
// expiración también tiene éxito.
func (s *Store) Consume(ctx context.Context, token string) (AuthState, error) {
	st, err := s.load(ctx, token)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			metrics.StateOp("consume", "missing")
		} else {
			metrics.StateOp("consume", "error")
		}
		return AuthState{}, err
	}
	metrics.StateOp("consume", "found")
	return st, nil
}

// GarbageCollect fuerza la eliminación de entradas expiradas cuando el
// backend lo requiere. Los backends con TTL nativo no necesitan barrido.
func (s *Store) GarbageCollect(ctx context.Context) (int, error) {
	sw, ok := s.cache.(cache.Sweeper)
	if !ok {
		return 0, nil
	}
	n, err := sw.DeleteExpired(ctx)
	if err != nil {
		metrics.StateOp("gc", "error")
		return 0, fmt.Errorf("state: gc: %w", err)
	}
	metrics.StateOp("gc", "ok")
	logger.From(ctx).Debug("state gc sweep", logger.Count(n))
	return n, nil
}

func (s *Store) load(ctx context.Context, token string) (AuthState, error) {
	if token == "" {
		return AuthState{}, ErrNotFound
	}
	raw, err := s.cache.Get(ctx, KeyPrefix+token)
	if err != nil {
		if cache.IsNotFound(err) {
			return AuthState{}, ErrNotFound
		}
		return AuthState{}, fmt.Errorf("state: read: %w", err)
	}

	var st AuthState
	if err := json.Unmarshal([]byte(raw), &st); err != nil {
		return AuthState{}, fmt.Errorf("state: decode: %w", err)
	}
	if !st.ExpiresAt.IsZero() && !s.now().Before(st.ExpiresAt) {
		_ = s.cache.Delete(ctx, KeyPrefix+token)
		return AuthState{}, ErrNotFound
	}
	st.Token = token
	return st, nil
}
