// ABOUTME: Admin credential verification against bcrypt hashes in the store
// ABOUTME: Exchanges a valid username/password pair for a signed session token

package auth

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/crypto/bcrypt"

	"github.com/ProCodeJH/PC-Management/internal/store"
)

// ErrBadCredentials covers both unknown users and wrong passwords, so the
// response does not leak which one it was.
var ErrBadCredentials = errors.New("invalid username or password")

// UserStore is the slice of the store the authenticator needs.
type UserStore interface {
	GetAdminUser(ctx context.Context, username string) (*store.AdminUser, error)
	CreateAdminUser(ctx context.Context, username, passwordHash, role string) error
}

// Authenticator exchanges credentials for session tokens.
type Authenticator struct {
	users     UserStore
	authority *JWTAuthority
}

// NewAuthenticator creates an Authenticator backed by the given store.
func NewAuthenticator(users UserStore, authority *JWTAuthority) *Authenticator {
	return &Authenticator{users: users, authority: authority}
}

// Login verifies a credential pair and returns a signed token.
func (a *Authenticator) Login(ctx context.Context, username, password string) (string, error) {
	user, err := a.users.GetAdminUser(ctx, username)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return "", ErrBadCredentials
		}
		return "", fmt.Errorf("lookup admin user: %w", err)
	}

	if bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)) != nil {
		return "", ErrBadCredentials
	}

	token, err := a.authority.Generate(user.Username, user.Role)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return token, nil
}

// Bootstrap creates the initial admin account if the username is free.
// Existing users are left untouched.
func (a *Authenticator) Bootstrap(ctx context.Context, username, password string) error {
	if _, err := a.users.GetAdminUser(ctx, username); err == nil {
		return nil
	} else if !errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("lookup admin user: %w", err)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}
	return a.users.CreateAdminUser(ctx, username, string(hash), "admin")
}
