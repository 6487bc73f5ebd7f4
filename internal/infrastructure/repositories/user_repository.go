package repositories

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/jmoiron/sqlx"
)

// UserRepository looks up contact details for deposit notifications
type UserRepository struct {
	db *sqlx.DB
}

// NewUserRepository creates a new user repository
func NewUserRepository(db *sqlx.DB) *UserRepository {
	return &UserRepository{db: db}
}

// GetEmail returns the user's email, or an empty string when unknown
func (r *UserRepository) GetEmail(ctx context.Context, userID string) (string, error) {
	var email string
	if err := r.db.GetContext(ctx, &email, `SELECT email FROM users WHERE id = $1`, userID); err != nil {
		if err == sql.ErrNoRows {
			return "", nil
		}
		return "", fmt.Errorf("failed to get user email: %w", err)
	}
	return email, nil
}
