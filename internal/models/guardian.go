package models

import "time"

// Guardian represents a parent or legal guardian reachable for consent requests.
type Guardian struct {
	ID           string    `db:"id" json:"id"`
	FullName     string    `db:"full_name" json:"full_name"`
	EmailAddress *string   `db:"email_address" json:"email_address,omitempty"`
	MobileNumber *string   `db:"mobile_number" json:"mobile_number,omitempty"`
	CreatedAt    time.Time `db:"created_at" json:"created_at"`
	UpdatedAt    time.Time `db:"updated_at" json:"updated_at"`
}

// Student holds the subset of student data the portal workflows need.
type Student struct {
	ID        string    `db:"id" json:"id"`
	FullName  string    `db:"full_name" json:"full_name"`
	UserID    *string   `db:"user_id" json:"user_id,omitempty"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

// GuardianLink records the guardian-student relation used for linkage checks.
type GuardianLink struct {
	GuardianID string `db:"guardian_id" json:"guardian_id"`
	StudentID  string `db:"student_id" json:"student_id"`
	Relation   string `db:"relation" json:"relation"`
}
