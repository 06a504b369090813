// Package workflow drives one application form from extraction to a final
// WorkflowResult: extract and load the profile, map fields, ask for missing
// values, generate instructions, fill, verify.
package workflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/tbxark/jobfill/artifact"
	"github.com/tbxark/jobfill/feedback"
	"github.com/tbxark/jobfill/instruction"
	"github.com/tbxark/jobfill/profile"
	"github.com/tbxark/jobfill/telemetry"
	"github.com/tbxark/jobfill/types"
)

var (
	ErrExtraction       = errors.New("form extraction failed")
	ErrProfileRetrieval = errors.New("profile retrieval failed")
	ErrCancelled        = errors.New("run cancelled")
)

// StageError reports the stage a run failed in.
type StageError struct {
	Stage types.Stage
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("%s: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error {
	return e.Err
}

const (
	DefaultMaxFeedbackRounds = 3
	DefaultExtractTimeout    = 60 * time.Second
	DefaultProfileTimeout    = 10 * time.Second
	DefaultFillTimeout       = 2 * time.Minute
)

type Mapper interface {
	Match(ctx context.Context, fields []types.FormField, profile types.FlatProfile) []types.FieldMapping
	Rematch(ctx context.Context, fields []types.FormField, profile types.FlatProfile, prev []types.FieldMapping, pinned map[string]string) []types.FieldMapping
	MatchOption(value string, options []string) (string, bool)
}

type Generator interface {
	Generate(mappings []types.FieldMapping, fields []types.FormField, profile types.FlatProfile) instruction.Plan
}

type Resolver interface {
	Resolve(ctx context.Context, req feedback.Request) (*feedback.Resolution, error)
}

// Deps are the collaborators of a run. Observer and Sink are optional.
type Deps struct {
	Extractor types.FormExtractor
	Profiles  profile.Store
	Mapper    Mapper
	Generator Generator
	Executor  types.Executor
	Resolver  Resolver
	Observer  telemetry.Observer
	Sink      artifact.Sink
}

type Options struct {
	MaxFeedbackRounds int
	ExtractTimeout    time.Duration
	ProfileTimeout    time.Duration
	FillTimeout       time.Duration
	// Submit presses the form's submit control after a Completed run.
	Submit bool
	// ScreenshotDir receives <runId>.png of the final form when set.
	ScreenshotDir string
	Logger        *slog.Logger
}

func (o *Options) defaults() {
	if o.MaxFeedbackRounds <= 0 {
		o.MaxFeedbackRounds = DefaultMaxFeedbackRounds
	}
	if o.ExtractTimeout <= 0 {
		o.ExtractTimeout = DefaultExtractTimeout
	}
	if o.ProfileTimeout <= 0 {
		o.ProfileTimeout = DefaultProfileTimeout
	}
	if o.FillTimeout <= 0 {
		o.FillTimeout = DefaultFillTimeout
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
}

type Orchestrator struct {
	deps     Deps
	opts     Options
	observer telemetry.Observer
	sink     artifact.Sink
}

func New(deps Deps, opts Options) (*Orchestrator, error) {
	switch {
	case deps.Extractor == nil:
		return nil, errors.New("workflow: form extractor is required")
	case deps.Profiles == nil:
		return nil, errors.New("workflow: profile store is required")
	case deps.Mapper == nil:
		return nil, errors.New("workflow: field mapper is required")
	case deps.Generator == nil:
		return nil, errors.New("workflow: instruction generator is required")
	case deps.Executor == nil:
		return nil, errors.New("workflow: browser executor is required")
	case deps.Resolver == nil:
		return nil, errors.New("workflow: feedback resolver is required")
	}
	opts.defaults()
	o := &Orchestrator{
		deps:     deps,
		opts:     opts,
		observer: telemetry.Safe(deps.Observer),
		sink:     deps.Sink,
	}
	if o.sink == nil {
		o.sink = artifact.Discard{}
	}
	return o, nil
}

// Report is what a run leaves behind. State is a snapshot of the run state
// at the terminal stage, kept for diagnostics even when the run failed.
type Report struct {
	RunID    string               `json:"runId"`
	Result   types.WorkflowResult `json:"result"`
	State    *State               `json:"state"`
	Artifact artifact.Record      `json:"artifact"`
}

// Run processes the form at url. The returned error is non-nil only for
// fatal conditions (extraction, profile retrieval, cancellation); the report
// is returned in every case once a run id exists.
func (o *Orchestrator) Run(ctx context.Context, url string) (*Report, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return nil, fmt.Errorf("generate run id: %w", err)
	}
	r := &run{
		o:       o,
		state:   newState(id.String(), url),
		log:     o.opts.Logger.With("run_id", id.String()),
		started: time.Now(),
	}
	r.log.Info("run started", "url", url)

	runErr := r.execute(ctx)
	result := r.finish(ctx, runErr)
	r.closeSession()

	rec := artifact.Record{
		RunID:        r.state.RunID,
		URL:          url,
		StartedAt:    r.started,
		FinishedAt:   time.Now(),
		Result:       result,
		Mappings:     r.state.Mappings,
		Instructions: r.state.Instructions,
		Transcript:   r.state.Transcript,
	}
	if runErr != nil {
		rec.Error = runErr.Error()
	}
	if err := o.sink.Save(context.WithoutCancel(ctx), rec); err != nil {
		r.log.Warn("failed to save run artifact", "error", err)
	}

	if runErr != nil {
		r.log.Error("run failed", "stage", stageOf(runErr), "error", runErr)
	} else {
		r.log.Info("run finished", "status", result.Status, "filled", result.FilledCount, "failed", len(result.FailedFields))
	}
	return &Report{
		RunID:    r.state.RunID,
		Result:   result,
		State:    r.state.snapshot(),
		Artifact: rec,
	}, runErr
}

func stageOf(err error) types.Stage {
	var se *StageError
	if errors.As(err, &se) {
		return se.Stage
	}
	return ""
}

func withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}
