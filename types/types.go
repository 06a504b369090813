package types

import (
	"context"
	"errors"
	"fmt"
	"sort"
)

var ErrInvalidExtraction = errors.New("invalid extraction")

type HTMLType string

const (
	HTMLText     HTMLType = "text"
	HTMLEmail    HTMLType = "email"
	HTMLTel      HTMLType = "tel"
	HTMLSelect   HTMLType = "select"
	HTMLCheckbox HTMLType = "checkbox"
	HTMLRadio    HTMLType = "radio"
	HTMLFile     HTMLType = "file"
	HTMLTextarea HTMLType = "textarea"
	HTMLDate     HTMLType = "date"
)

func (t HTMLType) Valid() bool {
	switch t {
	case HTMLText, HTMLEmail, HTMLTel, HTMLSelect, HTMLCheckbox, HTMLRadio, HTMLFile, HTMLTextarea, HTMLDate:
		return true
	}
	return false
}

// HasOptions reports whether values of this type must be one of FormField.Options.
func (t HTMLType) HasOptions() bool {
	return t == HTMLSelect || t == HTMLRadio
}

// FormField is one input element of the target form. It is produced once per
// run by the extractor and never modified afterwards.
type FormField struct {
	ID           string   `json:"id" jsonschema:"description=Stable field identity within one run"`
	Label        string   `json:"label" jsonschema:"description=Human readable label text"`
	HTMLType     HTMLType `json:"htmlType" jsonschema:"enum=text,enum=email,enum=tel,enum=select,enum=checkbox,enum=radio,enum=file,enum=textarea,enum=date"`
	Required     bool     `json:"required"`
	Options      []string `json:"options,omitempty"`
	Page         int      `json:"page" jsonschema:"minimum=1"`
	SelectorHint string   `json:"selectorHint,omitempty"`
}

type Extraction struct {
	URL       string      `json:"url"`
	Fields    []FormField `json:"fields"`
	MorePages bool        `json:"morePages"`
}

// Validate rejects field sets that downstream stages cannot rely on.
func (e Extraction) Validate() error {
	seen := make(map[string]struct{}, len(e.Fields))
	for i, f := range e.Fields {
		if f.ID == "" {
			return fmt.Errorf("%w: field %d has no id", ErrInvalidExtraction, i)
		}
		if _, dup := seen[f.ID]; dup {
			return fmt.Errorf("%w: duplicate field id %q", ErrInvalidExtraction, f.ID)
		}
		seen[f.ID] = struct{}{}
		if !f.HTMLType.Valid() {
			return fmt.Errorf("%w: field %q has unknown type %q", ErrInvalidExtraction, f.ID, f.HTMLType)
		}
		if f.Page < 1 {
			return fmt.Errorf("%w: field %q has page %d", ErrInvalidExtraction, f.ID, f.Page)
		}
		if len(f.Options) > 0 && !f.HTMLType.HasOptions() {
			return fmt.Errorf("%w: field %q of type %s carries options", ErrInvalidExtraction, f.ID, f.HTMLType)
		}
	}
	return nil
}

// Ordered returns a copy of the fields sorted by page, keeping extraction
// order within a page.
func (e Extraction) Ordered() []FormField {
	out := make([]FormField, len(e.Fields))
	copy(out, e.Fields)
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Page < out[j].Page
	})
	return out
}

type MatchKind string

const (
	MatchExact      MatchKind = "exact"
	MatchNormalized MatchKind = "normalized"
	MatchPartial    MatchKind = "partial"
	MatchUnmatched  MatchKind = "unmatched"
)

// FieldMapping is the decided correspondence between one form field and one
// profile path. Option holds the resolved option for select and radio fields.
type FieldMapping struct {
	FieldID     string    `json:"fieldId"`
	ProfilePath string    `json:"profilePath,omitempty"`
	Confidence  float64   `json:"confidence" jsonschema:"minimum=0,maximum=1"`
	MatchKind   MatchKind `json:"matchKind" jsonschema:"enum=exact,enum=normalized,enum=partial,enum=unmatched"`
	Option      string    `json:"option,omitempty"`
	Reason      string    `json:"reason,omitempty"`
}

func (m FieldMapping) Matched() bool {
	return m.MatchKind != MatchUnmatched && m.MatchKind != ""
}

func Unmatched(fieldID, reason string) FieldMapping {
	return FieldMapping{FieldID: fieldID, MatchKind: MatchUnmatched, Reason: reason}
}

type Action string

const (
	ActionSetText        Action = "setText"
	ActionSelectOption   Action = "selectOption"
	ActionToggleCheckbox Action = "toggleCheckbox"
	ActionChooseRadio    Action = "chooseRadio"
	ActionUploadFile     Action = "uploadFile"
)

type AutofillInstruction struct {
	FieldID  string `json:"fieldId"`
	Action   Action `json:"action" jsonschema:"enum=setText,enum=selectOption,enum=toggleCheckbox,enum=chooseRadio,enum=uploadFile"`
	Value    string `json:"value"`
	Selector string `json:"selector"`
	Page     int    `json:"page"`
}

type FailureReason string

const (
	ReasonSelector   FailureReason = "selector"
	ReasonExecution  FailureReason = "execution"
	ReasonGeneration FailureReason = "generation"
	ReasonUnmatched  FailureReason = "unmatched"
	ReasonCancelled  FailureReason = "cancelled"
)

type FillOutcome struct {
	FieldID     string        `json:"fieldId"`
	Succeeded   bool          `json:"succeeded"`
	ErrorDetail string        `json:"errorDetail,omitempty"`
	Reason      FailureReason `json:"reason,omitempty"`
}

type Status string

const (
	StatusCompleted         Status = "Completed"
	StatusCompletedWithGaps Status = "CompletedWithGaps"
	StatusFailed            Status = "Failed"
)

type WorkflowResult struct {
	Status         Status            `json:"status" jsonschema:"enum=Completed,enum=CompletedWithGaps,enum=Failed"`
	FilledCount    int               `json:"filledCount"`
	FailedFields   []string          `json:"failedFields"`
	FieldErrors    map[string]string `json:"fieldErrors,omitempty"`
	Retries        map[string]int    `json:"retries,omitempty"`
	FeedbackRounds int               `json:"feedbackRounds"`
	MorePages      bool              `json:"morePages,omitempty"`
	Submitted      bool              `json:"submitted,omitempty"`
	Screenshot     string            `json:"screenshot,omitempty"`
}

type Stage string

const (
	StageExtracting             Stage = "Extracting"
	StageRetrievingProfile      Stage = "RetrievingProfile"
	StageMapping                Stage = "Mapping"
	StageAwaitingFeedback       Stage = "AwaitingFeedback"
	StageGeneratingInstructions Stage = "GeneratingInstructions"
	StageFilling                Stage = "Filling"
	StageVerifying              Stage = "Verifying"
	StageDone                   Stage = "Done"
	StageFailed                 Stage = "Failed"
)

func (s Stage) Terminal() bool {
	return s == StageDone || s == StageFailed
}

// FeedbackExchange is one round of the feedback transcript.
type FeedbackExchange struct {
	Round       int    `json:"round"`
	FieldID     string `json:"fieldId"`
	Prompt      string `json:"prompt"`
	Answer      string `json:"answer,omitempty"`
	NoAnswer    bool   `json:"noAnswer,omitempty"`
	ProfilePath string `json:"profilePath,omitempty"`
	WriteError  string `json:"writeError,omitempty"`
}

// FormExtractor returns the raw field list of the form at url.
type FormExtractor interface {
	Extract(ctx context.Context, url string) (Extraction, error)
}

// Executor opens one browser session per run.
type Executor interface {
	Open(ctx context.Context, url string) (Session, error)
}

// Session performs DOM interaction for one form. Fill returns outcomes
// aligned with the instructions by FieldID; instructions arrive ordered by page.
type Session interface {
	Fill(ctx context.Context, instructions []AutofillInstruction) ([]FillOutcome, error)
	Screenshot(ctx context.Context) ([]byte, error)
	Submit(ctx context.Context) error
	Close() error
}
