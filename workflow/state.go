package workflow

import (
	"maps"
	"slices"

	"github.com/tbxark/jobfill/types"
)

// State is the run-scoped working set of one Run. It belongs to the
// orchestrator until the run ends; the copy in Report is a snapshot.
type State struct {
	RunID string      `json:"runId"`
	URL   string      `json:"url"`
	Stage types.Stage `json:"stage"`
	// Attempt grows by one on every stage entry.
	Attempt int `json:"attempt"`

	Fields       []types.FormField            `json:"fields"`
	MorePages    bool                         `json:"morePages"`
	Profile      types.FlatProfile            `json:"profile"`
	Mappings     []types.FieldMapping         `json:"mappings"`
	Instructions []types.AutofillInstruction  `json:"instructions"`
	Outcomes     map[string]types.FillOutcome `json:"outcomes"`
	Retries      map[string]int               `json:"retries"`
	Asked        map[string]int               `json:"asked"`
	FieldErrors  map[string]string            `json:"fieldErrors"`
	Rounds       int                          `json:"rounds"`
	Transcript   []types.FeedbackExchange     `json:"transcript"`

	// filled holds the value last sent to each field.
	filled map[string]string
}

func newState(runID, url string) *State {
	return &State{
		RunID:       runID,
		URL:         url,
		Outcomes:    make(map[string]types.FillOutcome),
		Retries:     make(map[string]int),
		Asked:       make(map[string]int),
		FieldErrors: make(map[string]string),
		filled:      make(map[string]string),
	}
}

func (s *State) enter(stage types.Stage) {
	s.Stage = stage
	s.Attempt++
}

func (s *State) mapping(fieldID string) (types.FieldMapping, bool) {
	for _, m := range s.Mappings {
		if m.FieldID == fieldID {
			return m, true
		}
	}
	return types.FieldMapping{}, false
}

func (s *State) succeeded(fieldID string) bool {
	return s.Outcomes[fieldID].Succeeded
}

func (s *State) record(outcome types.FillOutcome) {
	s.Outcomes[outcome.FieldID] = outcome
	if outcome.Succeeded {
		delete(s.FieldErrors, outcome.FieldID)
		return
	}
	reason := string(outcome.Reason)
	if outcome.ErrorDetail != "" {
		reason += ": " + outcome.ErrorDetail
	}
	s.FieldErrors[outcome.FieldID] = reason
}

func (s *State) filledCount() int {
	n := 0
	for _, o := range s.Outcomes {
		if o.Succeeded {
			n++
		}
	}
	return n
}

func (s *State) snapshot() *State {
	c := *s
	c.Fields = slices.Clone(s.Fields)
	c.Profile = s.Profile.Clone()
	c.Mappings = slices.Clone(s.Mappings)
	c.Instructions = slices.Clone(s.Instructions)
	c.Outcomes = maps.Clone(s.Outcomes)
	c.Retries = maps.Clone(s.Retries)
	c.Asked = maps.Clone(s.Asked)
	c.FieldErrors = maps.Clone(s.FieldErrors)
	c.Transcript = slices.Clone(s.Transcript)
	c.filled = maps.Clone(s.filled)
	return &c
}
