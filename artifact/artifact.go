// Package artifact persists one flat record per workflow run for audit and
// evaluation.
package artifact

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/bytedance/sonic"
	"github.com/eino-contrib/jsonschema"

	"github.com/tbxark/jobfill/types"
)

type Record struct {
	RunID        string                      `json:"runId" jsonschema:"description=Run identifier (UUIDv7)"`
	URL          string                      `json:"url" jsonschema:"description=Form URL the run targeted"`
	StartedAt    time.Time                   `json:"startedAt"`
	FinishedAt   time.Time                   `json:"finishedAt"`
	Result       types.WorkflowResult        `json:"result"`
	Mappings     []types.FieldMapping        `json:"mappings"`
	Instructions []types.AutofillInstruction `json:"instructions"`
	Transcript   []types.FeedbackExchange    `json:"transcript"`
	Error        string                      `json:"error,omitempty" jsonschema:"description=Fatal error of the run if any"`
}

type Sink interface {
	Save(ctx context.Context, rec Record) error
}

// Schema returns the JSON schema of Record.
func Schema() (string, error) {
	schema := jsonschema.Reflect(&Record{})
	schema.Title = "jobfill run"
	schema.Description = "One application form run: final result, field mappings, fill instructions and the feedback transcript."
	raw, err := sonic.ConfigStd.MarshalIndent(schema, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to marshal JSON schema: %w", err)
	}
	return string(raw), nil
}

// FileSink writes <Dir>/<runId>.json.
type FileSink struct {
	Dir string
}

func (s FileSink) Path(runID string) string {
	return filepath.Join(s.Dir, runID+".json")
}

func (s FileSink) Save(ctx context.Context, rec Record) error {
	if rec.RunID == "" {
		return errors.New("artifact: record has no run id")
	}
	raw, err := sonic.ConfigStd.MarshalIndent(rec, "", "  ")
	if err != nil {
		return fmt.Errorf("artifact: encode %s: %w", rec.RunID, err)
	}
	if err := os.MkdirAll(s.Dir, 0o755); err != nil {
		return fmt.Errorf("artifact: create dir: %w", err)
	}
	if err := os.WriteFile(s.Path(rec.RunID), raw, 0o644); err != nil {
		return fmt.Errorf("artifact: write %s: %w", rec.RunID, err)
	}
	return nil
}

// Load reads a record written by Save.
func (s FileSink) Load(runID string) (Record, error) {
	var rec Record
	raw, err := os.ReadFile(s.Path(runID))
	if err != nil {
		return rec, fmt.Errorf("artifact: read %s: %w", runID, err)
	}
	if err := sonic.Unmarshal(raw, &rec); err != nil {
		return rec, fmt.Errorf("artifact: decode %s: %w", runID, err)
	}
	return rec, nil
}

type multiSink []Sink

// MultiSink saves to every sink and joins their errors.
func MultiSink(sinks ...Sink) Sink {
	return multiSink(sinks)
}

func (m multiSink) Save(ctx context.Context, rec Record) error {
	var errs []error
	for _, s := range m {
		if err := s.Save(ctx, rec); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

type Discard struct{}

func (Discard) Save(ctx context.Context, rec Record) error { return nil }
