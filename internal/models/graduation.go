package models

// GraduationStatus moves one way from scheduled to completed.
type GraduationStatus string

const (
	GraduationScheduled GraduationStatus = "scheduled"
	GraduationCompleted GraduationStatus = "completed"
)

// GraduationEvent is one student's attempt at an exam on a date.
type GraduationEvent struct {
	ID         string           `json:"id"`
	ExamID     string           `json:"exam_id"`
	DojoID     string           `json:"dojo_id"`
	StudentID  string           `json:"student_id"`
	Date       string           `json:"date"`
	Status     GraduationStatus `json:"status"`
	FinalGrade *float64         `json:"final_grade,omitempty"`
	IsApproved *bool            `json:"is_approved,omitempty"`
}

// GraduationOutcome summarises one finalized attendee.
type GraduationOutcome struct {
	EventID   string   `json:"event_id"`
	StudentID string   `json:"student_id"`
	Grade     *float64 `json:"grade,omitempty"`
	Approved  bool     `json:"approved"`
	NewBelt   string   `json:"new_belt,omitempty"`
	Skipped   bool     `json:"skipped,omitempty"`
}
