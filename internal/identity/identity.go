// Package identity resolves user references (account ids or email addresses)
// to accounts. It never authenticates a session; callers pass identities that
// the auth middleware already verified.
package identity

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/videobox/videobox/internal/database"
)

var ErrNotFound = errors.New("identity not found")

type User struct {
	ID    string
	Email string
	Role  string
}

type Directory struct {
	db database.DBTX
}

func NewDirectory(db database.DBTX) *Directory {
	return &Directory{db: db}
}

// Resolve looks a user up by email when ref parses as an address and by id otherwise.
func (d *Directory) Resolve(ctx context.Context, ref string) (User, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return User{}, ErrNotFound
	}

	if email, ok := NormalizeEmail(ref); ok {
		return d.scanOne(ctx,
			`SELECT id, email, role FROM users WHERE lower(email) = $1`, email)
	}
	return d.scanOne(ctx,
		`SELECT id, email, role FROM users WHERE id::text = $1`, ref)
}

func (d *Directory) scanOne(ctx context.Context, query string, arg string) (User, error) {
	var u User
	err := d.db.QueryRow(ctx, query, arg).Scan(&u.ID, &u.Email, &u.Role)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return User{}, ErrNotFound
		}
		return User{}, fmt.Errorf("lookup user: %w", err)
	}
	return u, nil
}

// NormalizeEmail reports whether s is a bare email address and returns it lower-cased.
func NormalizeEmail(s string) (string, bool) {
	s = strings.TrimSpace(s)
	if !strings.Contains(s, "@") {
		return "", false
	}
	addr, err := mail.ParseAddress(s)
	if err != nil || addr.Address != s {
		return "", false
	}
	return strings.ToLower(addr.Address), true
}
