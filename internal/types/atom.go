package types

import (
	"time"

	"github.com/google/uuid"
)

const (
	AtomRoleUser      = "user"
	AtomRoleAssistant = "assistant"
)

// Atom is one normalized conversation turn inside an import batch. Rows are
// written by the import pipeline and are read-only here.
type Atom struct {
	ID        uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	BatchID   uuid.UUID `gorm:"type:uuid;not null;index" json:"batch_id"`
	Source    string    `gorm:"column:source;not null;index" json:"source"`
	Role      string    `gorm:"column:role;not null;index" json:"role"`
	Timestamp time.Time `gorm:"column:timestamp;not null;index" json:"timestamp"` // UTC
	Text      string    `gorm:"column:text;not null" json:"text"`
	CreatedAt time.Time `gorm:"not null" json:"created_at"`
}

func (Atom) TableName() string { return "atom" }

// AtomLabel is one classification verdict for an atom under a specific
// (model, prompt version) pair. A later classify run with the same pair
// treats an existing row as already-labeled and skips the atom.
type AtomLabel struct {
	ID              uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	AtomID          uuid.UUID `gorm:"type:uuid;not null;index:idx_atom_label_key" json:"atom_id"`
	Model           string    `gorm:"column:model;not null;index:idx_atom_label_key" json:"model"`
	PromptVersionID string    `gorm:"column:prompt_version_id;not null;index:idx_atom_label_key" json:"prompt_version_id"`
	Category        string    `gorm:"column:category;not null;index" json:"category"`
	Aliased         bool      `gorm:"column:aliased;not null;default:false" json:"aliased"`
	CreatedAt       time.Time `gorm:"not null" json:"created_at"`
}

func (AtomLabel) TableName() string { return "atom_label" }
