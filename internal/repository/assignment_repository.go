package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/sma-portal-api/internal/models"
)

// AssignmentRepository handles persistence of homework assignments.
type AssignmentRepository struct {
	db *sqlx.DB
}

// NewAssignmentRepository constructs the repository.
func NewAssignmentRepository(db *sqlx.DB) *AssignmentRepository {
	return &AssignmentRepository{db: db}
}

// GetByID returns an assignment by identifier.
func (r *AssignmentRepository) GetByID(ctx context.Context, id string) (*models.Assignment, error) {
	const query = `SELECT id, title, description, teacher_id, due_date, max_grade, total_submissions,
graded_submissions, average_grade, stats_updated_at, created_at, updated_at
FROM homework_assignments WHERE id = $1 LIMIT 1`
	var assignment models.Assignment
	if err := r.db.GetContext(ctx, &assignment, query, id); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("get assignment: %w", err)
	}
	return &assignment, nil
}

// UpdateStats writes recomputed aggregate statistics for an assignment.
func (r *AssignmentRepository) UpdateStats(ctx context.Context, stats models.AssignmentStats) error {
	const query = `UPDATE homework_assignments SET total_submissions = $2, graded_submissions = $3,
average_grade = $4, stats_updated_at = $5, updated_at = $5 WHERE id = $1`
	if _, err := r.db.ExecContext(ctx, query, stats.AssignmentID, stats.TotalSubmissions,
		stats.GradedSubmissions, stats.AverageGrade, stats.ComputedAt); err != nil {
		return fmt.Errorf("update assignment stats: %w", err)
	}
	return nil
}
