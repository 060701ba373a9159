package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/dropDatabas3/hellologin/internal/oidc"
)

// SettingsStore persiste Settings en un archivo YAML. Los valores que vienen
// de HELLO_LOGIN_* se aplican al leer y nunca se escriben.
type SettingsStore struct {
	mu   sync.RWMutex
	path string
	base Settings
}

// NewSettingsStore parte de base (normalmente Config.HelloBase) y le superpone
// el archivo en path si existe. path vacío deja el store solo en memoria.
func NewSettingsStore(path string, base Settings) (*SettingsStore, error) {
	s := &SettingsStore{path: path, base: base}
	if path == "" {
		return s, nil
	}
	b, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return s, nil
	}
	if err != nil {
		return nil, err
	}
	if err := yaml.Unmarshal(b, &s.base); err != nil {
		return nil, fmt.Errorf("settings: parse %s: %w", path, err)
	}
	return s, nil
}

// Get retorna los valores vigentes (archivo + overrides de entorno).
func (s *SettingsStore) Get() Settings {
	s.mu.RLock()
	cur := s.base
	s.mu.RUnlock()
	applyHelloEnv(&cur)
	cur.normalize()
	return cur
}

// Overridden reporta si key está fijada por entorno.
func (s *SettingsStore) Overridden(key string) bool {
	var probe Settings
	for _, k := range applyHelloEnv(&probe) {
		if k == key {
			return true
		}
	}
	return false
}

// Update aplica fn sobre los valores persistibles y los guarda. Del scope
// solo se guardan los scopes propios, sin repetidos: los obligatorios se
// agregan al armar cada request.
func (s *SettingsStore) Update(fn func(*Settings)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	next := s.base
	fn(&next)
	next.Scope = oidc.RemoveDuplicateScopes(oidc.RemoveDefaultScopes(next.Scope))
	if s.path != "" {
		b, err := yaml.Marshal(next)
		if err != nil {
			return err
		}
		if err := writeFileAtomic(s.path, b, 0o600); err != nil {
			return err
		}
	}
	s.base = next
	return nil
}

// writeFileAtomic: write tmp -> Sync -> Close -> Chmod -> Rename. Si rename
// falla (Windows con destino bloqueado) intenta remove+rename.
func writeFileAtomic(path string, data []byte, perm fs.FileMode) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("mkdir %s: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, ".settings-*")
	if err != nil {
		return fmt.Errorf("create temp: %w", err)
	}
	tmpPath := tmp.Name()
	defer func() {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
	}()

	if _, err := tmp.Write(data); err != nil {
		return fmt.Errorf("write temp: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		return fmt.Errorf("fsync temp: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp: %w", err)
	}
	_ = os.Chmod(tmpPath, perm)

	if err := os.Rename(tmpPath, path); err != nil {
		_ = os.Remove(path)
		if err2 := os.Rename(tmpPath, path); err2 != nil {
			return fmt.Errorf("rename: %v (after remove: %v)", err, err2)
		}
	}
	return nil
}
