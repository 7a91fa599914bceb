// Package bundle assembles the deterministic per-day input for
// summarization. A bundle is rebuilt fresh on every tick and every preview
// read, never cached across requests: hash comparison is the engine's sole
// correctness mechanism, not memoization.
package bundle

import (
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/yungbote/daybrief-backend/internal/types"
)

// BatchRef identifies one contributing source batch in the run's canonical
// (created_at asc, id asc) order. Location is the batch's own IANA timezone,
// used both to compute local day boundaries and to render timestamps.
type BatchRef struct {
	ID       uuid.UUID
	Location *time.Location
}

// Atom is one candidate conversation turn. Category is its classification
// label under the run's frozen label spec, empty when unlabeled.
type Atom struct {
	ID        uuid.UUID
	BatchID   uuid.UUID
	Source    string
	Role      string
	Timestamp time.Time // UTC
	Text      string
	Category  string
}

type Bundle struct {
	DayDate     string `json:"day_date"`
	AtomCount   int    `json:"atom_count"`
	Text        string `json:"text"`
	ContentHash string `json:"content_hash"`
	ContextHash string `json:"context_hash"`
}

type Input struct {
	DayDate   string // YYYY-MM-DD
	Batches   []BatchRef
	Atoms     []Atom
	Sources   []string // empty = all sources eligible
	LabelSpec types.LabelSpec
	Filter    types.FilterProfile
	ModelID   string
	Timezone  string // run-level timezone recorded in the frozen config
}

const dayLayout = "2006-01-02"

// Build selects, orders, and renders the day's eligible atoms, and computes
// both digests. Zero eligible atoms is a valid outcome (AtomCount 0), not an
// error. Build is pure over its input: same input, byte-identical text and
// identical hashes.
func Build(in Input) Bundle {
	batchIndex := make(map[uuid.UUID]int, len(in.Batches))
	batchLoc := make(map[uuid.UUID]*time.Location, len(in.Batches))
	for i, b := range in.Batches {
		batchIndex[b.ID] = i
		loc := b.Location
		if loc == nil {
			loc = time.UTC
		}
		batchLoc[b.ID] = loc
	}

	var sources map[string]struct{}
	if len(in.Sources) > 0 {
		sources = make(map[string]struct{}, len(in.Sources))
		for _, s := range in.Sources {
			sources[s] = struct{}{}
		}
	}

	selected := make([]Atom, 0, len(in.Atoms))
	for _, a := range in.Atoms {
		// Assistant replies are never bundled; only user turns feed the
		// summarizer.
		if a.Role != types.AtomRoleUser {
			continue
		}
		loc, ok := batchLoc[a.BatchID]
		if !ok {
			continue
		}
		if a.Timestamp.In(loc).Format(dayLayout) != in.DayDate {
			continue
		}
		if sources != nil {
			if _, ok := sources[a.Source]; !ok {
				continue
			}
		}
		if !in.Filter.Allows(a.Category) {
			continue
		}
		selected = append(selected, a)
	}

	sort.SliceStable(selected, func(i, j int) bool {
		a, b := selected[i], selected[j]
		if !a.Timestamp.Equal(b.Timestamp) {
			return a.Timestamp.Before(b.Timestamp)
		}
		if batchIndex[a.BatchID] != batchIndex[b.BatchID] {
			return batchIndex[a.BatchID] < batchIndex[b.BatchID]
		}
		return a.ID.String() < b.ID.String()
	})

	lines := make([]string, 0, len(selected))
	for _, a := range selected {
		local := a.Timestamp.In(batchLoc[a.BatchID])
		lines = append(lines, "["+local.Format("15:04")+"] "+a.Text)
	}
	text := strings.Join(lines, "\n\n")

	return Bundle{
		DayDate:     in.DayDate,
		AtomCount:   len(selected),
		Text:        text,
		ContentHash: HashText(text),
		ContextHash: HashContext(text, in.ModelID, in.LabelSpec.Key(), in.Filter.Key(), in.Timezone),
	}
}
