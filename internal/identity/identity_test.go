package identity

import (
	"context"
	"errors"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
)

func TestNormalizeEmail(t *testing.T) {
	tests := []struct {
		in     string
		want   string
		wantOK bool
	}{
		{"alice@example.com", "alice@example.com", true},
		{"  Alice@Example.COM ", "alice@example.com", true},
		{"550e8400-e29b-41d4-a716-446655440000", "", false},
		{"Alice <alice@example.com>", "", false},
		{"not-an-email@", "", false},
		{"", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, ok := NormalizeEmail(tt.in)
			if ok != tt.wantOK || got != tt.want {
				t.Errorf("NormalizeEmail(%q) = (%q, %v), want (%q, %v)", tt.in, got, ok, tt.want, tt.wantOK)
			}
		})
	}
}

func TestResolve_ByEmail(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatal(err)
	}
	defer mock.Close()

	mock.ExpectQuery(`SELECT id, email, role FROM users WHERE lower\(email\) = \$1`).
		WithArgs("alice@example.com").
		WillReturnRows(pgxmock.NewRows([]string{"id", "email", "role"}).
			AddRow("user-1", "Alice@example.com", "student"))

	u, err := NewDirectory(mock).Resolve(context.Background(), "ALICE@example.com")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if u.ID != "user-1" || u.Role != "student" {
		t.Errorf("unexpected user: %+v", u)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestResolve_ByID(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatal(err)
	}
	defer mock.Close()

	mock.ExpectQuery(`SELECT id, email, role FROM users WHERE id::text = \$1`).
		WithArgs("user-2").
		WillReturnRows(pgxmock.NewRows([]string{"id", "email", "role"}).
			AddRow("user-2", "bob@example.com", "coach"))

	u, err := NewDirectory(mock).Resolve(context.Background(), "user-2")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if u.Email != "bob@example.com" {
		t.Errorf("expected bob@example.com, got %q", u.Email)
	}
}

func TestResolve_NotFound(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatal(err)
	}
	defer mock.Close()

	mock.ExpectQuery(`SELECT id, email, role FROM users`).
		WithArgs("ghost@example.com").
		WillReturnError(pgx.ErrNoRows)

	_, err = NewDirectory(mock).Resolve(context.Background(), "ghost@example.com")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestResolve_EmptyRef(t *testing.T) {
	_, err := NewDirectory(nil).Resolve(context.Background(), "   ")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestResolve_DatabaseError(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatal(err)
	}
	defer mock.Close()

	mock.ExpectQuery(`SELECT id, email, role FROM users`).
		WithArgs("user-3").
		WillReturnError(errors.New("connection reset"))

	_, err = NewDirectory(mock).Resolve(context.Background(), "user-3")
	if err == nil || errors.Is(err, ErrNotFound) {
		t.Fatalf("expected wrapped database error, got %v", err)
	}
}
