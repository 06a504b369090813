// Package feedback asks the user for one missing value and turns the reply
// into a profile update.
package feedback

import (
	"context"
	"errors"

	"github.com/tbxark/jobfill/types"
)

// ErrCancelled is returned when the user asks to abandon the run.
var ErrCancelled = errors.New("feedback: cancelled by user")

type Question struct {
	FieldID string `json:"fieldId"`
	Prompt  string `json:"prompt"`
}

// Answer is one reply. OK is false when the channel got no input.
type Answer struct {
	Text string `json:"text"`
	OK   bool   `json:"ok"`
}

// Channel presents one prompt to a person and returns one answer. A channel
// that gives up on its own reports Answer{OK: false}; one stopped by ctx
// returns ctx.Err().
type Channel interface {
	Ask(ctx context.Context, q Question) (Answer, error)
}

type PromptRequest struct {
	Field         types.FormField
	PriorAttempts int
	// LastError is the reason the previous value could not be used, if any.
	LastError string
}

type Prompter interface {
	BuildPrompt(ctx context.Context, req *PromptRequest) (string, error)
}

type Request struct {
	Field         types.FormField
	PriorAttempts int
	LastError     string
	Profile       types.FlatProfile
	// TargetPath is the path to overwrite, usually the mapping that failed.
	TargetPath string
}

type Update struct {
	Path  string `json:"path"`
	Value any    `json:"value"`
}

// Resolution is the outcome of one feedback round. Update is nil when
// NoAnswer is set.
type Resolution struct {
	Update   *Update `json:"update,omitempty"`
	Prompt   string  `json:"prompt"`
	Answer   string  `json:"answer,omitempty"`
	NoAnswer bool    `json:"noAnswer,omitempty"`
}
