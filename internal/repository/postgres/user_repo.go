package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/NordCoder/Questline/internal/domain/user"
	"github.com/jackc/pgx/v5"
)

var _ user.Repo = (*UserRepo)(nil)

// UserRepo reads the users table owned by the platform; this service never
// writes to it.
type UserRepo struct {
	db *DB
}

func NewUserRepo(db *DB) *UserRepo { return &UserRepo{db: db} }

const qUserByID = `
SELECT id::text, email, COALESCE(username, ''), created_at
FROM users
WHERE id = $1::uuid;`

func (r *UserRepo) GetByID(ctx context.Context, id string) (*user.User, error) {
	ctx, cancel := r.db.withTimeout(ctx)
	defer cancel()

	var u user.User
	if err := r.db.execQueryer(ctx).QueryRow(ctx, qUserByID, id).
		Scan(&u.ID, &u.Email, &u.Username, &u.CreatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("scan user: %w", err)
	}
	return &u, nil
}
