package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/sma-portal-api/internal/models"
)

// GuardianRepository provides guardian contact data and the guardian-student
// relation used for consent linkage checks.
type GuardianRepository struct {
	db *sqlx.DB
}

// NewGuardianRepository constructs the repository.
func NewGuardianRepository(db *sqlx.DB) *GuardianRepository {
	return &GuardianRepository{db: db}
}

// FindByID returns a guardian by identifier.
func (r *GuardianRepository) FindByID(ctx context.Context, id string) (*models.Guardian, error) {
	const query = `SELECT id, full_name, email_address, mobile_number, created_at, updated_at FROM guardians WHERE id = $1 LIMIT 1`
	var guardian models.Guardian
	if err := r.db.GetContext(ctx, &guardian, query, id); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("find guardian: %w", err)
	}
	return &guardian, nil
}

// GuardiansOf returns the ids of all guardians linked to a student.
func (r *GuardianRepository) GuardiansOf(ctx context.Context, studentID string) ([]string, error) {
	const query = `SELECT guardian_id FROM guardian_students WHERE student_id = $1`
	var ids []string
	if err := r.db.SelectContext(ctx, &ids, query, studentID); err != nil {
		return nil, fmt.Errorf("list guardians of student: %w", err)
	}
	return ids, nil
}

// FindStudent returns a student by identifier.
func (r *GuardianRepository) FindStudent(ctx context.Context, id string) (*models.Student, error) {
	const query = `SELECT id, full_name, user_id, created_at FROM students WHERE id = $1 LIMIT 1`
	var student models.Student
	if err := r.db.GetContext(ctx, &student, query, id); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("find student: %w", err)
	}
	return &student, nil
}
