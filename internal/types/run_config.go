package types

import (
	"strconv"
	"strings"

	"github.com/google/uuid"
)

const (
	FilterModeInclude = "INCLUDE"
	FilterModeExclude = "EXCLUDE"
)

// LabelSpec identifies the classification labels a run reads its filter
// decisions from. Categories carry the run's canonical category list in the
// order it was frozen at run creation.
type LabelSpec struct {
	Model           string   `json:"model"`
	PromptVersionID string   `json:"prompt_version_id"`
	Categories      []string `json:"categories"`
}

// Key renders a stable identity string for hashing and echo purposes.
// Parts are length-prefixed so category names containing separator
// characters can never collide two distinct specs into one key.
func (s LabelSpec) Key() string {
	return keyParts(append([]string{s.Model, s.PromptVersionID}, s.Categories...))
}

type FilterProfile struct {
	Mode       string   `json:"mode"` // INCLUDE | EXCLUDE
	Categories []string `json:"categories"`
}

func (f FilterProfile) Key() string {
	return keyParts(append([]string{f.Mode}, f.Categories...))
}

func keyParts(parts []string) string {
	var b strings.Builder
	for _, p := range parts {
		b.WriteString(strconv.Itoa(len(p)))
		b.WriteByte(':')
		b.WriteString(p)
		b.WriteByte('/')
	}
	return b.String()
}

// Allows reports whether an atom labeled with category passes the filter.
// An unlabeled atom (empty category) passes only an EXCLUDE filter.
func (f FilterProfile) Allows(category string) bool {
	in := false
	for _, c := range f.Categories {
		if c == category {
			in = true
			break
		}
	}
	switch f.Mode {
	case FilterModeInclude:
		return in
	case FilterModeExclude:
		return !in
	}
	return true
}

// RunConfig is the frozen configuration snapshot captured when a run is
// created. It is never re-read from live upstream state: a run must behave
// identically even if the referenced batches or labels change afterwards.
type RunConfig struct {
	ModelID       string        `json:"model_id"`
	LabelSpec     LabelSpec     `json:"label_spec"`
	FilterProfile FilterProfile `json:"filter_profile"`
	Timezone      string        `json:"timezone"`
	TokenBudget   int           `json:"token_budget"`
	Sources       []string      `json:"sources,omitempty"` // empty = all sources
	BatchIDs      []uuid.UUID   `json:"batch_ids"`         // canonical (created_at asc, id asc) order
}
