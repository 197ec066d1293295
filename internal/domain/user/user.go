package user

import (
	"context"
	"errors"
)

var (
	ErrTokenInvalid = errors.New("user: token invalid or expired")
	ErrNotFound     = errors.New("user: not found")
)

// User is the slice of the platform identity the messaging core consumes.
// Session establishment and profile management live upstream.
type User struct {
	ID    string
	Email string
	Name  string
}

// Resolver turns a bearer token into the current user. Backed by the
// platform's identity service.
type Resolver interface {
	ResolveToken(ctx context.Context, token string) (*User, error)
}

// Directory looks up users by id, used for notification addressing.
type Directory interface {
	ByID(ctx context.Context, id string) (*User, error)
}
