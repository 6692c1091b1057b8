package bootstrap

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/noah-isme/sma-portal-api/internal/models"
	"github.com/noah-isme/sma-portal-api/pkg/config"
)

// Seed provisions a demo data set on an empty database: an academic year
// marker, portal accounts for each role, a guardian-student pair and one
// homework assignment. It is idempotent: when the marker row exists the seed
// is skipped entirely.
func Seed(ctx context.Context, db *sqlx.DB, cfg config.BootstrapConfig, logger *zap.Logger) error {
	if logger == nil {
		logger = zap.NewNop()
	}
	if !cfg.Enabled {
		return nil
	}

	var count int
	if err := db.GetContext(ctx, &count,
		`SELECT COUNT(*) FROM academic_years WHERE name = $1`, cfg.AcademicYear); err != nil {
		return fmt.Errorf("check academic year marker: %w", err)
	}
	if count > 0 {
		logger.Sugar().Debugw("bootstrap seed already applied", "academic_year", cfg.AcademicYear)
		return nil
	}

	tx, err := db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin seed transaction: %w", err)
	}
	defer tx.Rollback()

	now := time.Now().UTC()
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO academic_years (id, name, created_at) VALUES ($1, $2, $3)`,
		uuid.NewString(), cfg.AcademicYear, now); err != nil {
		return fmt.Errorf("insert academic year: %w", err)
	}

	adminID, err := seedUser(ctx, tx, "admin@portal.local", "Portal Admin", models.RoleAdmin, now)
	if err != nil {
		return err
	}
	teacherID, err := seedUser(ctx, tx, "teacher@portal.local", "Demo Teacher", models.RoleTeacher, now)
	if err != nil {
		return err
	}
	studentUserID, err := seedUser(ctx, tx, "student@portal.local", "Demo Student", models.RoleStudent, now)
	if err != nil {
		return err
	}
	if _, err = seedUser(ctx, tx, "guardian@portal.local", "Demo Guardian", models.RoleGuardian, now); err != nil {
		return err
	}

	guardianID := uuid.NewString()
	email := "guardian@portal.local"
	mobile := "+620000000001"
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO guardians (id, full_name, email_address, mobile_number, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $5)`,
		guardianID, "Demo Guardian", email, mobile, now); err != nil {
		return fmt.Errorf("insert guardian: %w", err)
	}

	studentID := uuid.NewString()
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO students (id, full_name, user_id, created_at) VALUES ($1, $2, $3, $4)`,
		studentID, "Demo Student", studentUserID, now); err != nil {
		return fmt.Errorf("insert student: %w", err)
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO guardian_students (guardian_id, student_id, relation) VALUES ($1, $2, $3)`,
		guardianID, studentID, "parent"); err != nil {
		return fmt.Errorf("insert guardian link: %w", err)
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO homework_assignments (id, title, description, teacher_id, due_date, max_grade, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $7)`,
		uuid.NewString(), "Welcome Assignment", "Introduce yourself in a short essay.",
		teacherID, now.AddDate(0, 0, 7), 100.0, now); err != nil {
		return fmt.Errorf("insert assignment: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit seed transaction: %w", err)
	}

	logger.Sugar().Infow("bootstrap seed applied",
		"academic_year", cfg.AcademicYear, "admin_id", adminID)
	return nil
}

func seedUser(ctx context.Context, tx *sqlx.Tx, email, fullName string, role models.UserRole, now time.Time) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte("changeme"), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("hash seed password: %w", err)
	}
	id := uuid.NewString()
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO users (id, email, password_hash, full_name, role, active, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, TRUE, $6, $6)`,
		id, email, string(hash), fullName, role, now); err != nil {
		return "", fmt.Errorf("insert user %s: %w", email, err)
	}
	return id, nil
}
