package repository

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/sma-gate-api/internal/models"
)

// UserRepository reads the identity table owned by the admin application.
type UserRepository struct {
	db *sqlx.DB
}

// NewUserRepository constructs the repository.
func NewUserRepository(db *sqlx.DB) *UserRepository {
	return &UserRepository{db: db}
}

const userColumns = "id, full_name, reg_number, role, class_id, organization_id, rfid_tag, phone, active, created_at, updated_at"

// GetByRFIDTag resolves a tag to its user. Returns sql.ErrNoRows when the
// tag is unknown.
func (r *UserRepository) GetByRFIDTag(ctx context.Context, tag string) (*models.User, error) {
	query := fmt.Sprintf("SELECT %s FROM users WHERE rfid_tag = $1 AND active = TRUE", userColumns)
	var user models.User
	if err := r.db.GetContext(ctx, &user, query, tag); err != nil {
		return nil, fmt.Errorf("get user by tag: %w", err)
	}
	return &user, nil
}

// GetByID fetches one user.
func (r *UserRepository) GetByID(ctx context.Context, id string) (*models.User, error) {
	query := fmt.Sprintf("SELECT %s FROM users WHERE id = $1", userColumns)
	var user models.User
	if err := r.db.GetContext(ctx, &user, query, id); err != nil {
		return nil, fmt.Errorf("get user: %w", err)
	}
	return &user, nil
}

// StudentsByClass lists the active students enrolled in a class.
func (r *UserRepository) StudentsByClass(ctx context.Context, classID string) ([]models.User, error) {
	query := fmt.Sprintf("SELECT %s FROM users WHERE role = $1 AND class_id = $2 AND active = TRUE ORDER BY full_name", userColumns)
	var students []models.User
	if err := r.db.SelectContext(ctx, &students, query, models.RoleStudent, classID); err != nil {
		return nil, fmt.Errorf("list students by class: %w", err)
	}
	return students, nil
}
