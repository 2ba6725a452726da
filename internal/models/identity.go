package models

import "time"

// Principal is an authenticated identity. RoleHint comes from signup
// metadata and is only used as a last resort during resolution.
type Principal struct {
	ID       string `json:"id"`
	Email    string `json:"email"`
	RoleHint string `json:"role_hint,omitempty"`
	Name     string `json:"name,omitempty"`
}

// Session is an access/refresh token pair.
type Session struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token"`
	ExpiresAt    time.Time `json:"expires_at"`
}

// IdentityKind tags a ResolvedIdentity. A principal that matches no
// strategy has no kind; resolution fails with PROFILE_UNRESOLVED instead.
type IdentityKind string

const (
	IdentityMaster            IdentityKind = "master"
	IdentityStudent           IdentityKind = "student"
	IdentitySysAdmin          IdentityKind = "sysadmin"
	IdentityPendingApplicant  IdentityKind = "pending_applicant"
	IdentityRejectedApplicant IdentityKind = "rejected_applicant"
	IdentityDegradedMaster    IdentityKind = "degraded_master"
)

// ResolvedIdentity is the operating role of a principal. Which fields are
// populated depends on Kind.
type ResolvedIdentity struct {
	Kind      IdentityKind `json:"kind"`
	UserID    string       `json:"user_id"`
	DojoID    string       `json:"dojo_id,omitempty"`
	StudentID string       `json:"student_id,omitempty"`

	Profile            *Student         `json:"profile,omitempty"`
	UpcomingGraduation *GraduationEvent `json:"upcoming_graduation,omitempty"`
	UpcomingExam       *Exam            `json:"upcoming_exam,omitempty"`
	Request            *JoinRequest     `json:"request,omitempty"`
	DojoName           string           `json:"dojo_name,omitempty"`
}

// ActsAsMaster is true for masters with or without a persisted link.
func (r *ResolvedIdentity) ActsAsMaster() bool {
	return r != nil && (r.Kind == IdentityMaster || r.Kind == IdentityDegradedMaster)
}
