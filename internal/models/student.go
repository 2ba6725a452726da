package models

import "time"

// InitialHistoryExamName labels the history entry written when a student
// is first registered.
const InitialHistoryExamName = "Cadastro Inicial"

// Student is a dojo member profile. GraduationHistory is append-only.
type Student struct {
	ID                 string                      `json:"id"`
	DojoID             string                      `json:"dojo_id"`
	Name               string                      `json:"name"`
	Email              string                      `json:"email"`
	Phone              string                      `json:"phone,omitempty"`
	Belt               string                      `json:"belt"`
	Modality           string                      `json:"modality"`
	TuitionFee         float64                     `json:"tuition_fee"`
	PaymentHistory     []Payment                   `json:"payment_history"`
	FightRecord        FightRecord                 `json:"fight_record"`
	GraduationHistory  []GraduationHistoryEntry    `json:"graduation_history"`
	LastGraduationDate *string                     `json:"last_graduation_date,omitempty"`
	CreatedAt          *time.Time                  `json:"created_at,omitempty"`
	Championships      []ChampionshipParticipation `json:"championships,omitempty"`
}

// GraduationHistoryEntry is an immutable promotion record.
type GraduationHistoryEntry struct {
	Date     string  `json:"date"`
	Belt     string  `json:"belt"`
	Grade    float64 `json:"grade"`
	ExamName string  `json:"exam_name"`
}

// Payment is a tuition payment.
type Payment struct {
	Date   string  `json:"date"`
	Amount float64 `json:"amount"`
	Method string  `json:"method,omitempty"`
}

// FightRecord tallies competitive results.
type FightRecord struct {
	Wins   int `json:"wins"`
	Losses int `json:"losses"`
	Draws  int `json:"draws"`
}

// ChampionshipParticipation is a row of the championships collection.
type ChampionshipParticipation struct {
	ID        string `json:"id"`
	StudentID string `json:"student_id"`
	Name      string `json:"name"`
	Date      string `json:"date"`
	Placement string `json:"placement,omitempty"`
}
