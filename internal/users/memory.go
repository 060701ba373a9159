package users

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryDirectory es un Directory en memoria, para tests y despliegues de
// un solo proceso.
type MemoryDirectory struct {
	mu    sync.RWMutex
	users map[string]*User
	meta  map[string]map[string]string
	now   func() time.Time
}

// NewMemoryDirectory crea un directorio vacío.
func NewMemoryDirectory() *MemoryDirectory {
	return &MemoryDirectory{
		users: map[string]*User{},
		meta:  map[string]map[string]string{},
		now:   time.Now,
	}
}

func clone(u *User) *User {
	c := *u
	c.Roles = append([]string(nil), u.Roles...)
	return &c
}

func (m *MemoryDirectory) FindByID(_ context.Context, id string) (*User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	u, ok := m.users[id]
	if !ok {
		return nil, ErrNotFound
	}
	return clone(u), nil
}

func (m *MemoryDirectory) FindBySubject(ctx context.Context, sub string) (*User, error) {
	if sub == "" {
		return nil, ErrNotFound
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	ids := make([]string, 0, len(m.meta))
	for id, kv := range m.meta {
		if kv[MetaSubject] == sub {
			ids = append(ids, id)
		}
	}
	if len(ids) == 0 {
		return nil, ErrNotFound
	}
	if len(ids) > 1 {
		duplicateSubject(ctx, sub, len(ids))
		sort.Slice(ids, func(i, j int) bool { return m.users[ids[i]].CreatedAt.Before(m.users[ids[j]].CreatedAt) })
	}
	return clone(m.users[ids[0]]), nil
}

func (m *MemoryDirectory) FindByEmail(_ context.Context, email string) (string, error) {
	if email == "" {
		return "", ErrNotFound
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	for id, u := range m.users {
		if strings.EqualFold(u.Email, email) {
			return id, nil
		}
	}
	return "", ErrNotFound
}

func (m *MemoryDirectory) LoginExists(_ context.Context, login string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.loginTaken(login, ""), nil
}

func (m *MemoryDirectory) loginTaken(login, exceptID string) bool {
	for id, u := range m.users {
		if id != exceptID && u.Login == login {
			return true
		}
	}
	return false
}

func (m *MemoryDirectory) Create(_ context.Context, in CreateInput) (*User, error) {
	if strings.TrimSpace(in.Login) == "" {
		return nil, ErrInvalidInput
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.loginTaken(in.Login, "") {
		return nil, ErrLoginTaken
	}

	u := &User{
		ID:           uuid.NewString(),
		Login:        in.Login,
		Email:        in.Email,
		Nickname:     in.Nickname,
		DisplayName:  in.DisplayName,
		FirstName:    in.FirstName,
		LastName:     in.LastName,
		PasswordHash: in.PasswordHash,
		CreatedAt:    m.now().UTC(),
	}
	if in.Role != "" {
		u.Roles = []string{in.Role}
	}
	m.users[u.ID] = u
	m.meta[u.ID] = map[string]string{}
	return clone(u), nil
}

func (m *MemoryDirectory) Update(_ context.Context, u *User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.users[u.ID]
	if !ok {
		return ErrNotFound
	}
	if m.loginTaken(u.Login, u.ID) {
		return ErrLoginTaken
	}
	cur.Login = u.Login
	cur.Email = u.Email
	cur.Nickname = u.Nickname
	cur.DisplayName = u.DisplayName
	cur.FirstName = u.FirstName
	cur.LastName = u.LastName
	return nil
}

func (m *MemoryDirectory) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.users[id]; !ok {
		return ErrNotFound
	}
	delete(m.users, id)
	delete(m.meta, id)
	return nil
}

func (m *MemoryDirectory) AddRole(_ context.Context, id, role string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return ErrNotFound
	}
	if !u.HasRole(role) {
		u.Roles = append(u.Roles, role)
	}
	return nil
}

func (m *MemoryDirectory) GetMeta(_ context.Context, id, key string) (string, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	kv, ok := m.meta[id]
	if !ok {
		return "", false, ErrNotFound
	}
	v, ok := kv[key]
	return v, ok, nil
}

func (m *MemoryDirectory) SetMeta(_ context.Context, id, key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	kv, ok := m.meta[id]
	if !ok {
		return ErrNotFound
	}
	kv[key] = value
	return nil
}

func (m *MemoryDirectory) DeleteMeta(_ context.Context, id, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	kv, ok := m.meta[id]
	if !ok {
		return ErrNotFound
	}
	delete(kv, key)
	return nil
}
