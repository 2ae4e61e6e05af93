package alumni

import (
	"strings"
	"time"

	"github.com/uptrace/bun"
)

// ProfilesTable is the logical table holding one Profile per identity.
const ProfilesTable = "profiles"

// Role is the access tier of a profile
type Role string

const (
	// RoleAlumni is a registered graduate
	RoleAlumni Role = "alumni"
	// RoleRegistrar reviews registrations
	RoleRegistrar Role = "registrar"
	// RoleAdmin reviews registrations and manages records
	RoleAdmin Role = "admin"
	// RoleSuperAdmin manages staff roles
	RoleSuperAdmin Role = "superadmin"
)

// Status is the approval state of a profile
type Status string

const (
	StatusPending  Status = "pending_approval"
	StatusVerified Status = "verified"
	StatusRejected Status = "rejected"
)

// IsValid reports whether s is a known status.
func (s Status) IsValid() bool {
	switch s {
	case StatusPending, StatusVerified, StatusRejected:
		return true
	default:
		return false
	}
}

// ParseStatus parses a status name.
func ParseStatus(raw string) (Status, bool) {
	s := Status(strings.TrimSpace(strings.ToLower(raw)))
	return s, s.IsValid()
}

// Profile is the application owned record extending an identity.
type Profile struct {
	bun.BaseModel      `bun:"table:profiles,alias:prf"`
	ID                 string     `bun:"id,pk" json:"id"`
	FirstName          string     `bun:"first_name,notnull" json:"first_name"`
	MiddleName         string     `bun:"middle_name" json:"middle_name,omitempty"`
	LastName           string     `bun:"last_name,notnull" json:"last_name"`
	Suffix             string     `bun:"suffix" json:"suffix,omitempty"`
	Email              string     `bun:"email,notnull" json:"email"`
	MobileNumber       string     `bun:"mobile_number" json:"mobile_number,omitempty"`
	Role               Role       `bun:"role,notnull" json:"role"`
	Status             Status     `bun:"status,notnull" json:"status"`
	Course             string     `bun:"course" json:"course,omitempty"`
	BatchYear          string     `bun:"batch_year" json:"batch_year,omitempty"`
	StudentID          string     `bun:"student_id" json:"student_id,omitempty"`
	VerificationAnswer string     `bun:"verification_answer" json:"verification_answer,omitempty"`
	AvatarURL          string     `bun:"avatar_url" json:"avatar_url,omitempty"`
	RejectionReason    string     `bun:"rejection_reason" json:"rejection_reason,omitempty"`
	CreatedAt          time.Time  `bun:"created_at,nullzero,notnull,default:current_timestamp" json:"created_at"`
	UpdatedAt          *time.Time `bun:"updated_at,nullzero" json:"updated_at,omitempty"`
}

// FullName joins first and last name.
func (p *Profile) FullName() string {
	return strings.TrimSpace(strings.TrimSpace(p.FirstName) + " " + strings.TrimSpace(p.LastName))
}

// EnsureDefaults fills role and status when missing.
func (p *Profile) EnsureDefaults() {
	if p.Role == "" {
		p.Role = RoleAlumni
	}
	if p.Status == "" {
		p.Status = StatusPending
	}
}

// SessionUser is the resolved view of the authenticated identity.
type SessionUser struct {
	ID              string `json:"id"`
	Email           string `json:"email"`
	Name            string `json:"name"`
	Role            Role   `json:"role"`
	Status          Status `json:"status,omitempty"`
	AvatarURL       string `json:"avatar_url,omitempty"`
	NeedsOnboarding bool   `json:"needs_onboarding,omitempty"`
}

// Navigation returns the sidebar for the user role.
func (u *SessionUser) Navigation() Navigation {
	if u == nil {
		return NavigationFor("")
	}
	return u.Role.Navigation()
}

// LoginChallenge is a pending second factor code.
type LoginChallenge struct {
	bun.BaseModel `bun:"table:login_challenges,alias:lch"`
	ID            string    `bun:"id,pk" json:"id"`
	ProfileID     string    `bun:"profile_id,notnull" json:"profile_id"`
	CodeHash      string    `bun:"code_hash,notnull" json:"-"`
	Attempts      int       `bun:"attempts,notnull,default:0" json:"attempts"`
	ExpiresAt     time.Time `bun:"expires_at,notnull" json:"expires_at"`
	CreatedAt     time.Time `bun:"created_at,nullzero,notnull,default:current_timestamp" json:"created_at"`
}

// RosterEntry is a row of the institutional master list.
type RosterEntry struct {
	bun.BaseModel `bun:"table:master_list,alias:mst"`
	StudentID     string    `bun:"student_id,pk" json:"student_id"`
	LastName      string    `bun:"last_name,notnull" json:"last_name"`
	FirstName     string    `bun:"first_name,notnull" json:"first_name"`
	Course        string    `bun:"course" json:"course,omitempty"`
	BatchYear     string    `bun:"batch_year" json:"batch_year,omitempty"`
	ImportedAt    time.Time `bun:"imported_at,nullzero,notnull,default:current_timestamp" json:"imported_at"`
}
