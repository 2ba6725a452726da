package models

import "time"

// JoinRequestStatus tracks a self-service application.
type JoinRequestStatus string

const (
	JoinRequestPending  JoinRequestStatus = "pending"
	JoinRequestApproved JoinRequestStatus = "approved"
	JoinRequestRejected JoinRequestStatus = "rejected"
)

// Terminal reports whether no further transition is allowed.
func (s JoinRequestStatus) Terminal() bool {
	return s == JoinRequestApproved || s == JoinRequestRejected
}

// JoinRequest is a principal's application to a dojo.
type JoinRequest struct {
	ID        string            `json:"id"`
	UserID    string            `json:"user_id"`
	DojoID    string            `json:"dojo_id"`
	Name      string            `json:"name"`
	Email     string            `json:"email"`
	Phone     string            `json:"phone,omitempty"`
	Status    JoinRequestStatus `json:"status"`
	CreatedAt *time.Time        `json:"created_at,omitempty"`
	DojoName  string            `json:"dojo_name,omitempty"`
}
