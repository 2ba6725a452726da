package models

// Belt is a rank inside a modality's ordered progression.
type Belt struct {
	Name  string `json:"name"`
	Color string `json:"color,omitempty"`
}

// Modality is a discipline taught by a dojo. Belts are ordered from the
// entry rank upwards.
type Modality struct {
	Name  string `json:"name"`
	Belts []Belt `json:"belts"`
}

// Dojo is the tenant that owns students, exams and graduation events.
type Dojo struct {
	ID         string     `json:"id"`
	Name       string     `json:"name"`
	OwnerID    string     `json:"owner_id,omitempty"`
	Modalities []Modality `json:"modalities"`
}

// Modality returns the named modality.
func (d *Dojo) Modality(name string) (*Modality, bool) {
	for i := range d.Modalities {
		if d.Modalities[i].Name == name {
			return &d.Modalities[i], true
		}
	}
	return nil, false
}

// HasBelt reports whether the modality lists the belt.
func (m *Modality) HasBelt(name string) bool {
	for _, b := range m.Belts {
		if b.Name == name {
			return true
		}
	}
	return false
}
