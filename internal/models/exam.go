package models

// Exercise is one item evaluated during an exam.
type Exercise struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
}

// Exam defines what is tested for a target belt and the passing grade.
type Exam struct {
	ID              string     `json:"id"`
	DojoID          string     `json:"dojo_id"`
	Name            string     `json:"name"`
	Modality        string     `json:"modality"`
	TargetBelt      string     `json:"target_belt"`
	MinPassingGrade float64    `json:"min_passing_grade"`
	Exercises       []Exercise `json:"exercises"`
}

// Passes applies the inclusive passing boundary. A missing grade fails.
func (e *Exam) Passes(grade *float64) bool {
	return grade != nil && *grade >= e.MinPassingGrade
}
