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

const consentColumns = `id, student_id, guardian_id, title, consent_type, activity_date, activity_location,
request_date, expiry_date, status, consent_given, consent_date, digital_signature, description,
responsible_staff, created_at, updated_at`

// ConsentRepository handles persistence of consent requests.
type ConsentRepository struct {
	db *sqlx.DB
}

// NewConsentRepository constructs the repository.
func NewConsentRepository(db *sqlx.DB) *ConsentRepository {
	return &ConsentRepository{db: db}
}

// Create inserts a new consent request.
func (r *ConsentRepository) Create(ctx context.Context, consent *models.ConsentRequest) error {
	if consent.ID == "" {
		consent.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if consent.CreatedAt.IsZero() {
		consent.CreatedAt = now
	}
	consent.UpdatedAt = now
	query := `INSERT INTO consent_requests (id, student_id, guardian_id, title, consent_type, activity_date, activity_location,
request_date, expiry_date, status, consent_given, consent_date, digital_signature, description, responsible_staff, created_at, updated_at)
VALUES (:id, :student_id, :guardian_id, :title, :consent_type, :activity_date, :activity_location,
:request_date, :expiry_date, :status, :consent_given, :consent_date, :digital_signature, :description, :responsible_staff, :created_at, :updated_at)`
	if _, err := r.db.NamedExecContext(ctx, query, consent); err != nil {
		return fmt.Errorf("create consent request: %w", err)
	}
	return nil
}

// GetByID returns a consent request by identifier.
func (r *ConsentRepository) GetByID(ctx context.Context, id string) (*models.ConsentRequest, error) {
	query := fmt.Sprintf("SELECT %s FROM consent_requests WHERE id = $1 LIMIT 1", consentColumns)
	var consent models.ConsentRequest
	if err := r.db.GetContext(ctx, &consent, query, id); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("get consent request: %w", err)
	}
	return &consent, nil
}

// Update persists the mutable fields of a consent request.
func (r *ConsentRepository) Update(ctx context.Context, consent *models.ConsentRequest) error {
	consent.UpdatedAt = time.Now().UTC()
	query := `UPDATE consent_requests SET title = :title, consent_type = :consent_type, activity_date = :activity_date,
activity_location = :activity_location, request_date = :request_date, expiry_date = :expiry_date, status = :status,
consent_given = :consent_given, consent_date = :consent_date, digital_signature = :digital_signature,
description = :description, responsible_staff = :responsible_staff, updated_at = :updated_at
WHERE id = :id`
	res, err := r.db.NamedExecContext(ctx, query, consent)
	if err != nil {
		return fmt.Errorf("update consent request: %w", err)
	}
	if affected, err := res.RowsAffected(); err == nil && affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// List returns consent requests per provided filter with total count.
func (r *ConsentRepository) List(ctx context.Context, filter models.ConsentFilter) ([]models.ConsentRequest, int, error) {
	base := "FROM consent_requests"
	where := []string{"1=1"}
	args := []interface{}{}
	if filter.StudentID != "" {
		where = append(where, fmt.Sprintf("student_id = $%d", len(args)+1))
		args = append(args, filter.StudentID)
	}
	if filter.GuardianID != "" {
		where = append(where, fmt.Sprintf("guardian_id = $%d", len(args)+1))
		args = append(args, filter.GuardianID)
	}
	if filter.Status != "" {
		where = append(where, fmt.Sprintf("status = $%d", len(args)+1))
		args = append(args, filter.Status)
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

	query := fmt.Sprintf("SELECT %s %s WHERE %s ORDER BY request_date DESC, created_at DESC LIMIT %d OFFSET %d",
		consentColumns, base, whereClause, size, offset)
	var consents []models.ConsentRequest
	if err := r.db.SelectContext(ctx, &consents, query, args...); err != nil {
		return nil, 0, fmt.Errorf("list consent requests: %w", err)
	}

	countQuery := fmt.Sprintf("SELECT COUNT(*) %s WHERE %s", base, whereClause)
	var total int
	if err := r.db.GetContext(ctx, &total, countQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("count consent requests: %w", err)
	}
	return consents, total, nil
}

// ListByStudent returns recent consent requests for a student, excluding one id.
func (r *ConsentRepository) ListByStudent(ctx context.Context, studentID, excludeID string, limit int) ([]models.ConsentRequest, error) {
	if limit <= 0 {
		limit = 10
	}
	query := fmt.Sprintf(`SELECT %s FROM consent_requests WHERE student_id = $1 AND id <> $2
ORDER BY request_date DESC LIMIT %d`, consentColumns, limit)
	var consents []models.ConsentRequest
	if err := r.db.SelectContext(ctx, &consents, query, studentID, excludeID); err != nil {
		return nil, fmt.Errorf("list consents by student: %w", err)
	}
	return consents, nil
}

// ListExpirable returns non-terminal consent requests whose expiry date is in the past.
func (r *ConsentRepository) ListExpirable(ctx context.Context, now time.Time) ([]models.ConsentRequest, error) {
	nonTerminal := []string{string(models.ConsentStatusPending), string(models.ConsentStatusApproved)}
	query := fmt.Sprintf(`SELECT %s FROM consent_requests
WHERE status = ANY($1) AND expiry_date IS NOT NULL AND expiry_date < $2`, consentColumns)
	var consents []models.ConsentRequest
	if err := r.db.SelectContext(ctx, &consents, query, pq.Array(nonTerminal), now); err != nil {
		return nil, fmt.Errorf("list expirable consents: %w", err)
	}
	return consents, nil
}

// SummaryByStatus aggregates consent counts per status.
func (r *ConsentRepository) SummaryByStatus(ctx context.Context) (*models.ConsentSummary, error) {
	query := `SELECT COUNT(*) AS total,
        COALESCE(SUM(CASE WHEN status = 'PENDING' THEN 1 ELSE 0 END),0) AS pending,
        COALESCE(SUM(CASE WHEN status = 'APPROVED' THEN 1 ELSE 0 END),0) AS approved,
        COALESCE(SUM(CASE WHEN status = 'DECLINED' THEN 1 ELSE 0 END),0) AS declined,
        COALESCE(SUM(CASE WHEN status = 'WITHDRAWN' THEN 1 ELSE 0 END),0) AS withdrawn,
        COALESCE(SUM(CASE WHEN status = 'EXPIRED' THEN 1 ELSE 0 END),0) AS expired
FROM consent_requests`
	var summary models.ConsentSummary
	if err := r.db.QueryRowxContext(ctx, query).Scan(&summary.Total, &summary.Pending, &summary.Approved,
		&summary.Declined, &summary.Withdrawn, &summary.Expired); err != nil {
		return nil, fmt.Errorf("consent summary: %w", err)
	}
	summary.FetchedAt = time.Now().UTC()
	return &summary, nil
}
