// Package telemetry receives stage markers from a workflow run. Observers
// are write-only: nothing they do changes the run.
package telemetry

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/cloudwego/eino/callbacks"

	"github.com/tbxark/jobfill/types"
)

type Counts struct {
	FieldsSeen      int `json:"fieldsSeen"`
	FieldsMapped    int `json:"fieldsMapped"`
	FieldsUnmatched int `json:"fieldsUnmatched"`
	FieldsFilled    int `json:"fieldsFilled"`
	FieldsFailed    int `json:"fieldsFailed"`
}

type StageEvent struct {
	RunID  string      `json:"runId"`
	Stage  types.Stage `json:"stage"`
	Counts Counts      `json:"counts"`
	// Elapsed is set on end events.
	Elapsed time.Duration `json:"elapsed,omitempty"`
	Err     error         `json:"-"`
}

// Observer gets a start and an end marker per stage. StageStart may return a
// derived context that is then passed to StageEnd and to the stage's
// collaborators.
type Observer interface {
	StageStart(ctx context.Context, ev StageEvent) context.Context
	StageEnd(ctx context.Context, ev StageEvent)
}

type Nop struct{}

func (Nop) StageStart(ctx context.Context, ev StageEvent) context.Context { return ctx }
func (Nop) StageEnd(ctx context.Context, ev StageEvent)                   {}

// SlogObserver logs every marker.
type SlogObserver struct {
	Logger *slog.Logger
}

func (o SlogObserver) logger() *slog.Logger {
	if o.Logger != nil {
		return o.Logger
	}
	return slog.Default()
}

func (o SlogObserver) StageStart(ctx context.Context, ev StageEvent) context.Context {
	o.logger().DebugContext(ctx, "stage start", "run", ev.RunID, "stage", ev.Stage)
	return ctx
}

func (o SlogObserver) StageEnd(ctx context.Context, ev StageEvent) {
	attrs := []any{
		"run", ev.RunID,
		"stage", ev.Stage,
		"elapsed", ev.Elapsed,
		"seen", ev.Counts.FieldsSeen,
		"mapped", ev.Counts.FieldsMapped,
		"unmatched", ev.Counts.FieldsUnmatched,
		"filled", ev.Counts.FieldsFilled,
		"failed", ev.Counts.FieldsFailed,
	}
	if ev.Err != nil {
		o.logger().WarnContext(ctx, "stage failed", append(attrs, "error", ev.Err)...)
		return
	}
	o.logger().DebugContext(ctx, "stage end", attrs...)
}

// CallbackObserver reports stages to the eino callback handlers found in the
// context or registered globally, one RunInfo per stage.
type CallbackObserver struct {
	// Type is reported as RunInfo.Type. Default "Workflow".
	Type string
}

func (o CallbackObserver) StageStart(ctx context.Context, ev StageEvent) context.Context {
	typ := o.Type
	if typ == "" {
		typ = "Workflow"
	}
	ctx = callbacks.ReuseHandlers(ctx, &callbacks.RunInfo{
		Name:      string(ev.Stage),
		Type:      typ,
		Component: "Stage",
	})
	return callbacks.OnStart(ctx, ev)
}

func (o CallbackObserver) StageEnd(ctx context.Context, ev StageEvent) {
	if ev.Err != nil {
		callbacks.OnError(ctx, ev.Err)
		return
	}
	callbacks.OnEnd(ctx, ev)
}

type multi []Observer

// Multi fans markers out to every observer in order.
func Multi(observers ...Observer) Observer {
	return multi(observers)
}

func (m multi) StageStart(ctx context.Context, ev StageEvent) context.Context {
	for _, o := range m {
		ctx = o.StageStart(ctx, ev)
	}
	return ctx
}

func (m multi) StageEnd(ctx context.Context, ev StageEvent) {
	for _, o := range m {
		o.StageEnd(ctx, ev)
	}
}

type safe struct {
	inner Observer
}

// Safe recovers from panics in o and ignores a nil returned context.
func Safe(o Observer) Observer {
	if o == nil {
		return Nop{}
	}
	return safe{inner: o}
}

func (s safe) StageStart(ctx context.Context, ev StageEvent) (out context.Context) {
	out = ctx
	defer func() {
		if r := recover(); r != nil {
			slog.Warn("observer panicked", "stage", ev.Stage, "panic", fmt.Sprint(r))
			out = ctx
		}
	}()
	if next := s.inner.StageStart(ctx, ev); next != nil {
		out = next
	}
	return out
}

func (s safe) StageEnd(ctx context.Context, ev StageEvent) {
	defer func() {
		if r := recover(); r != nil {
			slog.Warn("observer panicked", "stage", ev.Stage, "panic", fmt.Sprint(r))
		}
	}()
	s.inner.StageEnd(ctx, ev)
}

// Recorder keeps every marker in memory.
type Recorder struct {
	mu     sync.Mutex
	starts []StageEvent
	ends   []StageEvent
}

func (r *Recorder) StageStart(ctx context.Context, ev StageEvent) context.Context {
	r.mu.Lock()
	r.starts = append(r.starts, ev)
	r.mu.Unlock()
	return ctx
}

func (r *Recorder) StageEnd(ctx context.Context, ev StageEvent) {
	r.mu.Lock()
	r.ends = append(r.ends, ev)
	r.mu.Unlock()
}

func (r *Recorder) Starts() []StageEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]StageEvent(nil), r.starts...)
}

func (r *Recorder) Ends() []StageEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]StageEvent(nil), r.ends...)
}

// Stages returns the stages that ended, in order.
func (r *Recorder) Stages() []types.Stage {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]types.Stage, 0, len(r.ends))
	for _, ev := range r.ends {
		out = append(out, ev.Stage)
	}
	return out
}
