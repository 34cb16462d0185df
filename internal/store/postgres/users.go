package postgres

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"github.com/google/uuid"

	"lingochat/internal/store"
)

type UserRepo struct {
	db *sql.DB
}

const userColumns = `id, mobile, name, preferred_language, is_verified, created_at, last_login_at`

func scanUser(row rowScanner) (store.User, error) {
	var u store.User
	var lastLogin sql.NullTime
	err := row.Scan(&u.ID, &u.Mobile, &u.Name, &u.PreferredLanguage, &u.IsVerified, &u.CreatedAt, &lastLogin)
	u.LastLoginAt = timePtr(lastLogin)
	return u, err
}

func (r *UserRepo) Create(ctx context.Context, u *store.User) error {
	if u.ID == "" {
		u.ID = uuid.NewString()
	}
	query := `INSERT INTO users (` + userColumns + `) VALUES ($1, $2, $3, $4, $5, $6, $7)`
	_, err := r.db.ExecContext(ctx, query,
		u.ID, u.Mobile, u.Name, u.PreferredLanguage, u.IsVerified, u.CreatedAt, u.LastLoginAt)
	return mapErr("insert user", err, "")
}

func (r *UserRepo) GetByID(ctx context.Context, id string) (store.User, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, id)
	u, err := scanUser(row)
	return u, mapErr("get user", err, "user not found")
}

func (r *UserRepo) GetByMobile(ctx context.Context, mobile string) (store.User, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE mobile = $1`, mobile)
	u, err := scanUser(row)
	return u, mapErr("get user by mobile", err, "user not found")
}

func (r *UserRepo) GetMany(ctx context.Context, ids []string) (map[string]store.User, error) {
	out := make(map[string]store.User, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	rows, err := r.db.QueryContext(ctx, `SELECT `+userColumns+` FROM users WHERE id = ANY($1)`, ids)
	if err != nil {
		return nil, mapErr("get users", err, "")
	}
	defer rows.Close()
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, mapErr("scan user", err, "")
		}
		out[u.ID] = u
	}
	return out, mapErr("get users", rows.Err(), "")
}

func (r *UserRepo) RecordLogin(ctx context.Context, id string, at time.Time) (store.User, error) {
	row := r.db.QueryRowContext(ctx, `
		UPDATE users SET is_verified = TRUE, last_login_at = $2
		WHERE id = $1
		RETURNING `+userColumns, id, at)
	u, err := scanUser(row)
	return u, mapErr("record login", err, "user not found")
}

func (r *UserRepo) UpdateProfile(ctx context.Context, id string, name, preferredLanguage *string) (store.User, error) {
	row := r.db.QueryRowContext(ctx, `
		UPDATE users
		SET name = COALESCE($2, name),
		    preferred_language = COALESCE($3, preferred_language)
		WHERE id = $1
		RETURNING `+userColumns, id, nullString(name), nullString(preferredLanguage))
	u, err := scanUser(row)
	return u, mapErr("update profile", err, "user not found")
}

func (r *UserRepo) Search(ctx context.Context, query, excludeID string, limit int) ([]store.User, error) {
	pattern := "%" + strings.NewReplacer("%", `\%`, "_", `\_`).Replace(query) + "%"
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+userColumns+` FROM users
		WHERE (name ILIKE $1 OR mobile ILIKE $1) AND id <> $2
		ORDER BY name
		LIMIT $3`, pattern, excludeID, limit)
	if err != nil {
		return nil, mapErr("search users", err, "")
	}
	defer rows.Close()

	var users []store.User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, mapErr("scan user", err, "")
		}
		users = append(users, u)
	}
	return users, mapErr("search users", rows.Err(), "")
}
