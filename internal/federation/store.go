package federation

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"sync"

	"github.com/redis/go-redis/v9"
)

// MemoryStore es un DocumentStore en memoria.
type MemoryStore struct {
	mu      sync.Mutex
	doc     []byte
	version int64
}

func NewMemoryStore() *MemoryStore { return &MemoryStore{} }

func (m *MemoryStore) Load(context.Context) ([]byte, int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]byte(nil), m.doc...), m.version, nil
}

func (m *MemoryStore) Save(_ context.Context, doc []byte, expected int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.version != expected {
		return ErrConflict
	}
	m.doc = append([]byte(nil), doc...)
	m.version++
	return nil
}

// RedisStore guarda {version, body} en un hash y hace CAS con WATCH/MULTI.
type RedisStore struct {
	rdb *redis.Client
	key string
}

// DefaultDocumentKey es el nombre del documento en Redis y Postgres.
const DefaultDocumentKey = "federation-groups"

func NewRedisStore(rdb *redis.Client, key string) *RedisStore {
	if key == "" {
		key = DefaultDocumentKey
	}
	return &RedisStore{rdb: rdb, key: key}
}

func readHash(ctx context.Context, c redis.Cmdable, key string) ([]byte, int64, error) {
	vals, err := c.HMGet(ctx, key, "version", "body").Result()
	if err != nil {
		return nil, 0, err
	}
	if vals[0] == nil {
		return nil, 0, nil
	}
	v, err := strconv.ParseInt(fmt.Sprint(vals[0]), 10, 64)
	if err != nil {
		return nil, 0, fmt.Errorf("federation: bad version in redis: %w", err)
	}
	body, _ := vals[1].(string)
	return []byte(body), v, nil
}

func (s *RedisStore) Load(ctx context.Context) ([]byte, int64, error) {
	return readHash(ctx, s.rdb, s.key)
}

func (s *RedisStore) Save(ctx context.Context, doc []byte, expected int64) error {
	err := s.rdb.Watch(ctx, func(tx *redis.Tx) error {
		_, cur, err := readHash(ctx, tx, s.key)
		if err != nil {
			return err
		}
		if cur != expected {
			return ErrConflict
		}
		_, err = tx.TxPipelined(ctx, func(p redis.Pipeliner) error {
			p.HSet(ctx, s.key, "version", expected+1, "body", string(doc))
			return nil
		})
		return err
	}, s.key)
	if errors.Is(err, redis.TxFailedErr) {
		return ErrConflict
	}
	return err
}

// PostgresStore usa la tabla hl_document con columna version.
type PostgresStore struct {
	db   *sql.DB
	name string
}

func NewPostgresStore(db *sql.DB, name string) *PostgresStore {
	if name == "" {
		name = DefaultDocumentKey
	}
	return &PostgresStore{db: db, name: name}
}

func (s *PostgresStore) Load(ctx context.Context) ([]byte, int64, error) {
	var (
		body    []byte
		version int64
	)
	err := s.db.QueryRowContext(ctx, `SELECT version, body FROM hl_document WHERE name = $1`, s.name).Scan(&version, &body)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, 0, nil
	}
	if err != nil {
		return nil, 0, fmt.Errorf("federation: load document: %w", err)
	}
	return body, version, nil
}

func (s *PostgresStore) Save(ctx context.Context, doc []byte, expected int64) error {
	if !json.Valid(doc) {
		return errors.New("federation: document is not valid json")
	}

	var (
		res sql.Result
		err error
	)
	if expected == 0 {
		res, err = s.db.ExecContext(ctx,
			`INSERT INTO hl_document (name, version, body) VALUES ($1, 1, $2) ON CONFLICT (name) DO NOTHING`,
			s.name, string(doc))
	} else {
		res, err = s.db.ExecContext(ctx,
			`UPDATE hl_document SET version = version + 1, body = $2, updated_at = NOW() WHERE name = $1 AND version = $3`,
			s.name, string(doc), expected)
	}
	if err != nil {
		return fmt.Errorf("federation: save document: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrConflict
	}
	return nil
}
