package repository

import (
	"context"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/sma-portal-api/internal/models"
)

func TestGuardianFindByID(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewGuardianRepository(db)
	now := time.Now()

	rows := sqlmock.NewRows([]string{"id", "full_name", "email_address", "mobile_number", "created_at", "updated_at"}).
		AddRow("g-1", "Pat Parent", "pat@example.com", "+628123456789", now, now)
	mock.ExpectQuery("FROM guardians WHERE id = \\$1 LIMIT 1").
		WithArgs("g-1").
		WillReturnRows(rows)

	guardian, err := repo.FindByID(context.Background(), "g-1")
	require.NoError(t, err)
	assert.Equal(t, "Pat Parent", guardian.FullName)
	require.NotNil(t, guardian.MobileNumber)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGuardiansOf(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewGuardianRepository(db)

	rows := sqlmock.NewRows([]string{"guardian_id"}).AddRow("g-1").AddRow("g-2")
	mock.ExpectQuery(regexp.QuoteMeta("SELECT guardian_id FROM guardian_students WHERE student_id = $1")).
		WithArgs("s-1").
		WillReturnRows(rows)

	ids, err := repo.GuardiansOf(context.Background(), "s-1")
	require.NoError(t, err)
	assert.Equal(t, []string{"g-1", "g-2"}, ids)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGuardianFindStudent(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewGuardianRepository(db)
	now := time.Now()

	rows := sqlmock.NewRows([]string{"id", "full_name", "user_id", "created_at"}).
		AddRow("s-1", "Sam Student", "u-9", now)
	mock.ExpectQuery("FROM students WHERE id = \\$1 LIMIT 1").
		WithArgs("s-1").
		WillReturnRows(rows)

	student, err := repo.FindStudent(context.Background(), "s-1")
	require.NoError(t, err)
	assert.Equal(t, "Sam Student", student.FullName)
	require.NotNil(t, student.UserID)
	assert.Equal(t, "u-9", *student.UserID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAssignmentUpdateStats(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewAssignmentRepository(db)
	ts := time.Date(2024, 9, 10, 12, 0, 0, 0, time.UTC)

	mock.ExpectExec("UPDATE homework_assignments SET total_submissions = \\$2").
		WithArgs("a-1", 8, 5, 81.25, ts).
		WillReturnResult(sqlmock.NewResult(0, 1))

	stats := models.AssignmentStats{
		AssignmentID:      "a-1",
		TotalSubmissions:  8,
		GradedSubmissions: 5,
		AverageGrade:      81.25,
		ComputedAt:        ts,
	}
	err := repo.UpdateStats(context.Background(), stats)
	assert.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}
