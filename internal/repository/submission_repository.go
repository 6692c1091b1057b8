package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/noah-isme/sma-portal-api/internal/models"
)

const submissionColumns = `id, assignment_id, student_id, submission_text, attachments, submission_date,
submission_time, grade, max_grade, percentage, is_late, extension_granted, extension_date, late_reason,
status, feedback, graded_by, graded_date, created_at, updated_at`

// submissionRow mirrors HomeworkSubmission with a pq array for attachments.
type submissionRow struct {
	models.HomeworkSubmission
	AttachmentsRaw pq.StringArray `db:"attachments"`
}

func (row submissionRow) toModel() models.HomeworkSubmission {
	submission := row.HomeworkSubmission
	submission.Attachments = []string(row.AttachmentsRaw)
	return submission
}

// SubmissionRepository handles persistence of homework submissions.
type SubmissionRepository struct {
	db *sqlx.DB
}

// NewSubmissionRepository constructs the repository.
func NewSubmissionRepository(db *sqlx.DB) *SubmissionRepository {
	return &SubmissionRepository{db: db}
}

// Create inserts a new homework submission.
func (r *SubmissionRepository) Create(ctx context.Context, submission *models.HomeworkSubmission) error {
	if submission.ID == "" {
		submission.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if submission.CreatedAt.IsZero() {
		submission.CreatedAt = now
	}
	submission.UpdatedAt = now
	const query = `INSERT INTO homework_submissions (id, assignment_id, student_id, submission_text, attachments,
submission_date, submission_time, grade, max_grade, percentage, is_late, extension_granted, extension_date,
late_reason, status, feedback, graded_by, graded_date, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20)`
	if _, err := r.db.ExecContext(ctx, query,
		submission.ID, submission.AssignmentID, submission.StudentID, submission.SubmissionText,
		pq.Array(submission.Attachments), submission.SubmissionDate, submission.SubmissionTime,
		submission.Grade, submission.MaxGrade, submission.Percentage, submission.IsLate,
		submission.ExtensionGranted, submission.ExtensionDate, submission.LateReason, submission.Status,
		submission.Feedback, submission.GradedBy, submission.GradedDate, submission.CreatedAt, submission.UpdatedAt,
	); err != nil {
		return fmt.Errorf("create homework submission: %w", err)
	}
	return nil
}

// GetByID returns a submission by identifier.
func (r *SubmissionRepository) GetByID(ctx context.Context, id string) (*models.HomeworkSubmission, error) {
	query := fmt.Sprintf("SELECT %s FROM homework_submissions WHERE id = $1 LIMIT 1", submissionColumns)
	var row submissionRow
	if err := r.db.GetContext(ctx, &row, query, id); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("get homework submission: %w", err)
	}
	submission := row.toModel()
	return &submission, nil
}

// Update persists the mutable fields of a submission.
func (r *SubmissionRepository) Update(ctx context.Context, submission *models.HomeworkSubmission) error {
	submission.UpdatedAt = time.Now().UTC()
	const query = `UPDATE homework_submissions SET submission_text = $2, attachments = $3, submission_date = $4,
submission_time = $5, grade = $6, max_grade = $7, percentage = $8, is_late = $9, extension_granted = $10,
extension_date = $11, late_reason = $12, status = $13, feedback = $14, graded_by = $15, graded_date = $16,
updated_at = $17 WHERE id = $1`
	res, err := r.db.ExecContext(ctx, query,
		submission.ID, submission.SubmissionText, pq.Array(submission.Attachments), submission.SubmissionDate,
		submission.SubmissionTime, submission.Grade, submission.MaxGrade, submission.Percentage, submission.IsLate,
		submission.ExtensionGranted, submission.ExtensionDate, submission.LateReason, submission.Status,
		submission.Feedback, submission.GradedBy, submission.GradedDate, submission.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("update homework submission: %w", err)
	}
	if affected, err := res.RowsAffected(); err == nil && affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// List returns submissions per provided filter with total count.
func (r *SubmissionRepository) List(ctx context.Context, filter models.SubmissionFilter) ([]models.HomeworkSubmission, int, error) {
	base := "FROM homework_submissions"
	where := []string{"1=1"}
	args := []interface{}{}
	if filter.AssignmentID != "" {
		where = append(where, fmt.Sprintf("assignment_id = $%d", len(args)+1))
		args = append(args, filter.AssignmentID)
	}
	if filter.StudentID != "" {
		where = append(where, fmt.Sprintf("student_id = $%d", len(args)+1))
		args = append(args, filter.StudentID)
	}
	if filter.Status != "" {
		where = append(where, fmt.Sprintf("status = $%d", len(args)+1))
		args = append(args, filter.Status)
	}
	if filter.IsLate != nil {
		where = append(where, fmt.Sprintf("is_late = $%d", len(args)+1))
		args = append(args, *filter.IsLate)
	}
	whereClause := strings.Join(where, " AND ")

	page := filter.Page
	if page < 1 {
		page = 1
	}
	size := filter.PageSize
	if size <= 0 || size > 200 {
		size = 50
	}
	offset := (page - 1) * size

	query := fmt.Sprintf("SELECT %s %s WHERE %s ORDER BY submission_date DESC NULLS LAST, created_at DESC LIMIT %d OFFSET %d",
		submissionColumns, base, whereClause, size, offset)
	var rows []submissionRow
	if err := r.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, 0, fmt.Errorf("list homework submissions: %w", err)
	}
	submissions := make([]models.HomeworkSubmission, 0, len(rows))
	for _, row := range rows {
		submissions = append(submissions, row.toModel())
	}

	countQuery := fmt.Sprintf("SELECT COUNT(*) %s WHERE %s", base, whereClause)
	var total int
	if err := r.db.GetContext(ctx, &total, countQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("count homework submissions: %w", err)
	}
	return submissions, total, nil
}

// History returns all submissions for an assignment and student, newest first.
func (r *SubmissionRepository) History(ctx context.Context, assignmentID, studentID string) ([]models.HomeworkSubmission, error) {
	query := fmt.Sprintf(`SELECT %s FROM homework_submissions WHERE assignment_id = $1 AND student_id = $2
ORDER BY submission_date DESC NULLS LAST, created_at DESC`, submissionColumns)
	var rows []submissionRow
	if err := r.db.SelectContext(ctx, &rows, query, assignmentID, studentID); err != nil {
		return nil, fmt.Errorf("submission history: %w", err)
	}
	submissions := make([]models.HomeworkSubmission, 0, len(rows))
	for _, row := range rows {
		submissions = append(submissions, row.toModel())
	}
	return submissions, nil
}

// CountByStatuses counts submissions for an assignment whose status is in the provided set.
func (r *SubmissionRepository) CountByStatuses(ctx context.Context, assignmentID string, statuses []models.SubmissionStatus) (int, error) {
	values := make([]string, len(statuses))
	for i, s := range statuses {
		values[i] = string(s)
	}
	const query = `SELECT COUNT(*) FROM homework_submissions WHERE assignment_id = $1 AND status = ANY($2)`
	var total int
	if err := r.db.GetContext(ctx, &total, query, assignmentID, pq.Array(values)); err != nil {
		return 0, fmt.Errorf("count submissions by status: %w", err)
	}
	return total, nil
}

// AverageGraded returns the mean grade over all graded submissions for an
// assignment. An assignment with no graded submissions averages to zero.
func (r *SubmissionRepository) AverageGraded(ctx context.Context, assignmentID string) (float64, error) {
	const query = `SELECT COALESCE(AVG(grade), 0) FROM homework_submissions
WHERE assignment_id = $1 AND status = $2 AND grade IS NOT NULL`
	var avg float64
	if err := r.db.GetContext(ctx, &avg, query, assignmentID, models.SubmissionStatusGraded); err != nil {
		return 0, fmt.Errorf("average graded submissions: %w", err)
	}
	return avg, nil
}
