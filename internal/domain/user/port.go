package user

import (
	"context"
	"time"
)

// User is the read-only projection of the platform's users table.
type User struct {
	ID        string
	Email     string
	Username  string
	CreatedAt time.Time
}

type Repo interface {
	GetByID(ctx context.Context, id string) (*User, error)
}
