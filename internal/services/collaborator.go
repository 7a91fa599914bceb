package services

import "context"

// CollabError is the structured failure a summarizer or classifier raises.
// Code and Message are persisted on the job or classify run verbatim, so the
// message must never embed raw conversation content. Usage fields carry any
// partial spend the collaborator reported before failing.
type CollabError struct {
	Code      string  `json:"code"`
	Message   string  `json:"message"`
	TokensIn  int     `json:"tokens_in,omitempty"`
	TokensOut int     `json:"tokens_out,omitempty"`
	CostUSD   float64 `json:"cost_usd,omitempty"`
}

func (e *CollabError) Error() string {
	if e == nil {
		return ""
	}
	if e.Message == "" {
		return e.Code
	}
	return e.Code + ": " + e.Message
}

// SummaryContext is the execution context a bundle was built under. It
// travels with the bundle text so the collaborator prompt and the recorded
// output provenance agree.
type SummaryContext struct {
	DayDate      string
	ModelID      string
	LabelSpecKey string
	FilterKey    string
	Timezone     string
	TokenBudget  int
}

type SummaryResult struct {
	Text      string
	TokensIn  int
	TokensOut int
	CostUSD   float64
}

type Summarizer interface {
	Summarize(ctx context.Context, bundleText string, sc SummaryContext) (*SummaryResult, error)
}

type ClassifyResult struct {
	Category  string
	TokensIn  int
	TokensOut int
	CostUSD   float64
}

type Classifier interface {
	Classify(ctx context.Context, atomText string, categories []string, promptVersionID string) (*ClassifyResult, error)
}
