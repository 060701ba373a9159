package users

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
)

const (
	pgUniqueViolation     = "23505"
	pgForeignKeyViolation = "23503"
)

// PostgresDirectory es un Directory sobre las tablas hl_user, hl_user_role y
// hl_user_meta (ver internal/infra/pg/migrations).
type PostgresDirectory struct {
	db *sql.DB
}

// NewPostgresDirectory crea el directorio sobre db.
func NewPostgresDirectory(db *sql.DB) *PostgresDirectory {
	return &PostgresDirectory{db: db}
}

func pgCode(err error) string {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code
	}
	return ""
}

const selectUser = `SELECT id, login, email, nickname, display_name, first_name, last_name, password_hash, created_at FROM hl_user`

func (p *PostgresDirectory) FindByID(ctx context.Context, id string) (*User, error) {
	var u User
	err := p.db.QueryRowContext(ctx, selectUser+` WHERE id = $1`, id).Scan(
		&u.ID, &u.Login, &u.Email, &u.Nickname, &u.DisplayName, &u.FirstName, &u.LastName, &u.PasswordHash, &u.CreatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("users: find by id: %w", err)
	}

	rows, err := p.db.QueryContext(ctx, `SELECT role FROM hl_user_role WHERE user_id = $1 ORDER BY role`, id)
	if err != nil {
		return nil, fmt.Errorf("users: roles: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var r string
		if err := rows.Scan(&r); err != nil {
			return nil, err
		}
		u.Roles = append(u.Roles, r)
	}
	return &u, rows.Err()
}

func (p *PostgresDirectory) FindBySubject(ctx context.Context, sub string) (*User, error) {
	if sub == "" {
		return nil, ErrNotFound
	}
	var (
		id      string
		matches int
	)
	err := p.db.QueryRowContext(ctx,
		`SELECT m.user_id, COUNT(*) OVER () FROM hl_user_meta m JOIN hl_user u ON u.id = m.user_id
		 WHERE m.key = $1 AND m.value = $2 ORDER BY u.created_at LIMIT 1`,
		MetaSubject, sub,
	).Scan(&id, &matches)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("users: find by subject: %w", err)
	}
	if matches > 1 {
		duplicateSubject(ctx, sub, matches)
	}
	return p.FindByID(ctx, id)
}

func (p *PostgresDirectory) FindByEmail(ctx context.Context, email string) (string, error) {
	if email == "" {
		return "", ErrNotFound
	}
	var id string
	err := p.db.QueryRowContext(ctx,
		`SELECT id FROM hl_user WHERE LOWER(email) = LOWER($1) ORDER BY created_at LIMIT 1`, email,
	).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("users: find by email: %w", err)
	}
	return id, nil
}

func (p *PostgresDirectory) LoginExists(ctx context.Context, login string) (bool, error) {
	var exists bool
	err := p.db.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM hl_user WHERE login = $1)`, login).Scan(&exists)
	return exists, err
}

func (p *PostgresDirectory) Create(ctx context.Context, in CreateInput) (*User, error) {
	if strings.TrimSpace(in.Login) == "" {
		return nil, ErrInvalidInput
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
	}

	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	err = tx.QueryRowContext(ctx,
		`INSERT INTO hl_user (id, login, email, nickname, display_name, first_name, last_name, password_hash)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8) RETURNING created_at`,
		u.ID, u.Login, u.Email, u.Nickname, u.DisplayName, u.FirstName, u.LastName, u.PasswordHash,
	).Scan(&u.CreatedAt)
	if err != nil {
		if pgCode(err) == pgUniqueViolation {
			return nil, ErrLoginTaken
		}
		return nil, fmt.Errorf("users: insert: %w", err)
	}

	if in.Role != "" {
		if _, err := tx.ExecContext(ctx, `INSERT INTO hl_user_role (user_id, role) VALUES ($1, $2)`, u.ID, in.Role); err != nil {
			return nil, fmt.Errorf("users: insert role: %w", err)
		}
		u.Roles = []string{in.Role}
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return u, nil
}

func (p *PostgresDirectory) Update(ctx context.Context, u *User) error {
	res, err := p.db.ExecContext(ctx,
		`UPDATE hl_user SET login = $2, email = $3, nickname = $4, display_name = $5, first_name = $6, last_name = $7
		 WHERE id = $1`,
		u.ID, u.Login, u.Email, u.Nickname, u.DisplayName, u.FirstName, u.LastName,
	)
	if err != nil {
		if pgCode(err) == pgUniqueViolation {
			return ErrLoginTaken
		}
		return fmt.Errorf("users: update: %w", err)
	}
	return affected(res)
}

func (p *PostgresDirectory) Delete(ctx context.Context, id string) error {
	res, err := p.db.ExecContext(ctx, `DELETE FROM hl_user WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("users: delete: %w", err)
	}
	return affected(res)
}

func affected(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (p *PostgresDirectory) AddRole(ctx context.Context, id, role string) error {
	_, err := p.db.ExecContext(ctx,
		`INSERT INTO hl_user_role (user_id, role) VALUES ($1, $2) ON CONFLICT DO NOTHING`, id, role)
	if pgCode(err) == pgForeignKeyViolation {
		return ErrNotFound
	}
	return err
}

func (p *PostgresDirectory) GetMeta(ctx context.Context, id, key string) (string, bool, error) {
	var v string
	err := p.db.QueryRowContext(ctx, `SELECT value FROM hl_user_meta WHERE user_id = $1 AND key = $2`, id, key).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return v, true, nil
}

func (p *PostgresDirectory) SetMeta(ctx context.Context, id, key, value string) error {
	_, err := p.db.ExecContext(ctx,
		`INSERT INTO hl_user_meta (user_id, key, value) VALUES ($1, $2, $3)
		 ON CONFLICT (user_id, key) DO UPDATE SET value = EXCLUDED.value`,
		id, key, value,
	)
	if pgCode(err) == pgForeignKeyViolation {
		return ErrNotFound
	}
	return err
}

func (p *PostgresDirectory) DeleteMeta(ctx context.Context, id, key string) error {
	_, err := p.db.ExecContext(ctx, `DELETE FROM hl_user_meta WHERE user_id = $1 AND key = $2`, id, key)
	return err
}
