package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"

	"maison/api/models"

	"github.com/lib/pq"
)

var (
	ErrUserExists   = errors.New("user already exists")
	ErrUserNotFound = errors.New("user not found")
)

type UserStore struct {
	db *sql.DB
}

// NewUserStore creates a new UserStore instance.
func NewUserStore(db *sql.DB) *UserStore {
	return &UserStore{db: db}
}

// CreateUser inserts a new operator. An empty role defaults to viewer.
func (s *UserStore) CreateUser(ctx context.Context, name, email, role string, hashedPassword []byte) (*models.User, error) {
	if role == "" {
		role = models.RoleViewer
	}
	user := &models.User{}
	query := `
		INSERT INTO users (name, email, role, hashed_password)
		VALUES ($1, $2, $3, $4)
		RETURNING id, name, email, role, created_at, updated_at;
	`
	err := s.db.QueryRowContext(ctx, query, name, email, role, hashedPassword).Scan(
		&user.ID,
		&user.Name,
		&user.Email,
		&user.Role,
		&user.CreatedAt,
		&user.UpdatedAt,
	)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23505" {
			return nil, fmt.Errorf("user with email '%s': %w", email, ErrUserExists)
		}
		return nil, fmt.Errorf("failed to create user: %w", err)
	}

	log.Printf("User created in DB: ID=%d, Email=%s", user.ID, user.Email)
	return user, nil
}

func (s *UserStore) GetUserByEmail(ctx context.Context, email string) (*models.User, error) {
	user := &models.User{}
	query := `
		SELECT id, name, email, role, hashed_password, created_at, updated_at
		FROM users
		WHERE lower(email) = lower($1);
	`
	err := s.db.QueryRowContext(ctx, query, email).Scan(
		&user.ID,
		&user.Name,
		&user.Email,
		&user.Role,
		&user.HashedPassword,
		&user.CreatedAt,
		&user.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("user with email '%s': %w", email, ErrUserNotFound)
		}
		return nil, fmt.Errorf("failed to get user by email: %w", err)
	}

	return user, nil
}
