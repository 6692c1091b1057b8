package models

import "time"

// ConsentStatus represents the lifecycle of a parental consent request.
type ConsentStatus string

// Possible consent statuses.
const (
	ConsentStatusPending   ConsentStatus = "PENDING"
	ConsentStatusApproved  ConsentStatus = "APPROVED"
	ConsentStatusDeclined  ConsentStatus = "DECLINED"
	ConsentStatusWithdrawn ConsentStatus = "WITHDRAWN"
	ConsentStatusExpired   ConsentStatus = "EXPIRED"
)

// consentTransitions is the legal transition table for consent requests.
// Expiry is not listed here: it is a derivation applied to any non-terminal
// record once past its expiry date, never a guardian action.
var consentTransitions = map[ConsentStatus][]ConsentStatus{
	ConsentStatusPending:  {ConsentStatusApproved, ConsentStatusDeclined},
	ConsentStatusApproved: {ConsentStatusWithdrawn},
}

// CanTransition reports whether moving from one consent status to another is legal.
func (s ConsentStatus) CanTransition(to ConsentStatus) bool {
	for _, next := range consentTransitions[s] {
		if next == to {
			return true
		}
	}
	return false
}

// IsTerminal reports whether no further guardian action is defined for the status.
func (s ConsentStatus) IsTerminal() bool {
	return len(consentTransitions[s]) == 0
}

// ConsentType categorises the activity requiring consent.
type ConsentType string

// Supported consent types.
const (
	ConsentTypeFieldTrip ConsentType = "FIELD_TRIP"
	ConsentTypeSports    ConsentType = "SPORTS"
	ConsentTypeMedia     ConsentType = "MEDIA"
	ConsentTypeMedical   ConsentType = "MEDICAL"
	ConsentTypeOther     ConsentType = "OTHER"
)

// ConsentRequest tracks a guardian's consent for a school activity.
type ConsentRequest struct {
	ID               string        `db:"id" json:"id"`
	StudentID        string        `db:"student_id" json:"student_id"`
	GuardianID       string        `db:"guardian_id" json:"guardian_id"`
	Title            string        `db:"title" json:"title"`
	ConsentType      ConsentType   `db:"consent_type" json:"consent_type"`
	ActivityDate     *time.Time    `db:"activity_date" json:"activity_date,omitempty"`
	ActivityLocation *string       `db:"activity_location" json:"activity_location,omitempty"`
	RequestDate      time.Time     `db:"request_date" json:"request_date"`
	ExpiryDate       *time.Time    `db:"expiry_date" json:"expiry_date,omitempty"`
	Status           ConsentStatus `db:"status" json:"status"`
	ConsentGiven     bool          `db:"consent_given" json:"consent_given"`
	ConsentDate      *time.Time    `db:"consent_date" json:"consent_date,omitempty"`
	DigitalSignature *string       `db:"digital_signature" json:"digital_signature,omitempty"`
	Description      string        `db:"description" json:"description"`
	ResponsibleStaff *string       `db:"responsible_staff" json:"responsible_staff,omitempty"`
	CreatedAt        time.Time     `db:"created_at" json:"created_at"`
	UpdatedAt        time.Time     `db:"updated_at" json:"updated_at"`
}

// ConsentFilter provides filters for listing consent requests.
type ConsentFilter struct {
	StudentID  string
	GuardianID string
	Status     ConsentStatus
	Page       int
	PageSize   int
	SortBy     string
	SortOrder  string
}

// ConsentSummary aggregates consent counts by status for dashboards.
type ConsentSummary struct {
	Total     int       `json:"total"`
	Pending   int       `json:"pending"`
	Approved  int       `json:"approved"`
	Declined  int       `json:"declined"`
	Withdrawn int       `json:"withdrawn"`
	Expired   int       `json:"expired"`
	FetchedAt time.Time `json:"fetched_at"`
}

// SweepResult summarises one run of the consent expiry sweep.
type SweepResult struct {
	Scanned int      `json:"scanned"`
	Expired int      `json:"expired"`
	Failed  []string `json:"failed,omitempty"`
	RunAt   time.Time `json:"run_at"`
}
