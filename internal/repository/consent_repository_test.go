package repository

import (
	"context"
	"database/sql"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/sma-portal-api/internal/models"
)

var consentColumnList = []string{
	"id", "student_id", "guardian_id", "title", "consent_type", "activity_date", "activity_location",
	"request_date", "expiry_date", "status", "consent_given", "consent_date", "digital_signature",
	"description", "responsible_staff", "created_at", "updated_at",
}

func addConsentRow(rows *sqlmock.Rows, id, studentID, status string, ts time.Time) *sqlmock.Rows {
	return rows.AddRow(id, studentID, "g-1", "Museum Trip", "FIELD_TRIP", ts, nil,
		ts, ts.Add(168*time.Hour), status, false, nil, nil, "Visit to the city museum", nil, ts, ts)
}

func TestConsentCreateAssignsID(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewConsentRepository(db)

	mock.ExpectExec("INSERT INTO consent_requests").
		WillReturnResult(sqlmock.NewResult(0, 1))

	consent := &models.ConsentRequest{
		StudentID:   "s-1",
		GuardianID:  "g-1",
		Title:       "Museum Trip",
		ConsentType: models.ConsentTypeFieldTrip,
		RequestDate: time.Date(2024, 9, 1, 0, 0, 0, 0, time.UTC),
		Status:      models.ConsentStatusPending,
	}
	err := repo.Create(context.Background(), consent)
	require.NoError(t, err)
	assert.NotEmpty(t, consent.ID)
	assert.False(t, consent.CreatedAt.IsZero())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestConsentGetByID(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewConsentRepository(db)
	ts := time.Date(2024, 9, 1, 0, 0, 0, 0, time.UTC)

	rows := addConsentRow(sqlmock.NewRows(consentColumnList), "c-1", "s-1", "PENDING", ts)
	mock.ExpectQuery("FROM consent_requests WHERE id = \\$1 LIMIT 1").
		WithArgs("c-1").
		WillReturnRows(rows)

	consent, err := repo.GetByID(context.Background(), "c-1")
	require.NoError(t, err)
	assert.Equal(t, "c-1", consent.ID)
	assert.Equal(t, models.ConsentStatusPending, consent.Status)
	require.NotNil(t, consent.ExpiryDate)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestConsentGetByIDNotFound(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewConsentRepository(db)

	mock.ExpectQuery("FROM consent_requests WHERE id = \\$1 LIMIT 1").
		WithArgs("missing").
		WillReturnError(sql.ErrNoRows)

	consent, err := repo.GetByID(context.Background(), "missing")
	assert.Nil(t, consent)
	assert.ErrorIs(t, err, sql.ErrNoRows)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestConsentUpdateMissingRow(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewConsentRepository(db)

	mock.ExpectExec("UPDATE consent_requests SET").
		WillReturnResult(sqlmock.NewResult(0, 0))

	consent := &models.ConsentRequest{ID: "gone", Status: models.ConsentStatusApproved}
	err := repo.Update(context.Background(), consent)
	assert.ErrorIs(t, err, sql.ErrNoRows)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestConsentListWithFilters(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewConsentRepository(db)
	ts := time.Date(2024, 9, 1, 0, 0, 0, 0, time.UTC)

	rows := addConsentRow(sqlmock.NewRows(consentColumnList), "c-2", "s-1", "PENDING", ts)
	mock.ExpectQuery("FROM consent_requests WHERE 1=1 AND student_id = \\$1 AND status = \\$2 ORDER BY request_date DESC, created_at DESC LIMIT 10 OFFSET 10").
		WithArgs("s-1", models.ConsentStatusPending).
		WillReturnRows(rows)
	mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(*) FROM consent_requests WHERE 1=1 AND student_id = $1 AND status = $2")).
		WithArgs("s-1", models.ConsentStatusPending).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(12))

	filter := models.ConsentFilter{StudentID: "s-1", Status: models.ConsentStatusPending, Page: 2, PageSize: 10}
	consents, total, err := repo.List(context.Background(), filter)
	require.NoError(t, err)
	assert.Len(t, consents, 1)
	assert.Equal(t, 12, total)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestConsentListByStudentExcludesID(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewConsentRepository(db)
	ts := time.Date(2024, 9, 1, 0, 0, 0, 0, time.UTC)

	rows := addConsentRow(sqlmock.NewRows(consentColumnList), "c-3", "s-1", "APPROVED", ts)
	mock.ExpectQuery("FROM consent_requests WHERE student_id = \\$1 AND id <> \\$2").
		WithArgs("s-1", "c-1").
		WillReturnRows(rows)

	consents, err := repo.ListByStudent(context.Background(), "s-1", "c-1", 10)
	require.NoError(t, err)
	assert.Len(t, consents, 1)
	assert.Equal(t, "c-3", consents[0].ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestConsentListExpirable(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewConsentRepository(db)
	now := time.Date(2024, 9, 20, 0, 0, 0, 0, time.UTC)
	ts := now.AddDate(0, 0, -10)

	rows := addConsentRow(sqlmock.NewRows(consentColumnList), "c-4", "s-1", "PENDING", ts)
	mock.ExpectQuery("FROM consent_requests\\s+WHERE status = ANY\\(\\$1\\) AND expiry_date IS NOT NULL AND expiry_date < \\$2").
		WithArgs(pq.Array([]string{"PENDING", "APPROVED"}), now).
		WillReturnRows(rows)

	consents, err := repo.ListExpirable(context.Background(), now)
	require.NoError(t, err)
	assert.Len(t, consents, 1)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestConsentSummaryByStatus(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewConsentRepository(db)

	rows := sqlmock.NewRows([]string{"total", "pending", "approved", "declined", "withdrawn", "expired"}).
		AddRow(10, 4, 3, 1, 1, 1)
	mock.ExpectQuery("SELECT COUNT\\(\\*\\) AS total").WillReturnRows(rows)

	summary, err := repo.SummaryByStatus(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 10, summary.Total)
	assert.Equal(t, 4, summary.Pending)
	assert.Equal(t, 3, summary.Approved)
	assert.False(t, summary.FetchedAt.IsZero())
	assert.NoError(t, mock.ExpectationsWereMet())
}
