package workflow

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/tbxark/jobfill/feedback"
	"github.com/tbxark/jobfill/instruction"
	"github.com/tbxark/jobfill/profile"
	"github.com/tbxark/jobfill/telemetry"
	"github.com/tbxark/jobfill/types"
)

// run is the state of a single Orchestrator.Run call.
type run struct {
	o       *Orchestrator
	state   *State
	log     *slog.Logger
	started time.Time

	session types.Session
	openErr error
	// sessionPage is the furthest page the session has been sent to.
	sessionPage int
	// applied holds the instruction that last succeeded per field, replayed
	// when a fresh session has to revisit an earlier page.
	applied map[string]types.AutofillInstruction
}

func (r *run) execute(ctx context.Context) error {
	if err := r.load(ctx); err != nil {
		return err
	}
	r.state.enter(types.StageMapping)
	_ = r.observe(ctx, types.StageMapping, func(ctx context.Context) error {
		r.state.Mappings = r.o.deps.Mapper.Match(ctx, r.state.Fields, r.state.Profile)
		return nil
	})

	for {
		if err := r.resolveUnmatched(ctx); err != nil {
			return err
		}
		if err := r.generateAndFill(ctx); err != nil {
			return err
		}
		field, ok := r.verify(ctx)
		if !ok {
			return nil
		}
		mapping, _ := r.state.mapping(field.ID)
		if err := r.ask(ctx, field, mapping.ProfilePath); err != nil {
			return err
		}
	}
}

// load runs extraction and profile retrieval concurrently. Mapping never
// starts on partial data.
func (r *run) load(ctx context.Context) error {
	r.state.enter(types.StageExtracting)
	var (
		extraction types.Extraction
		flat       types.FlatProfile
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return r.observe(gctx, types.StageExtracting, func(ctx context.Context) error {
			if err := r.checkCancel(ctx); err != nil {
				return err
			}
			ectx, cancel := withTimeout(ctx, r.o.opts.ExtractTimeout)
			defer cancel()
			ex, err := r.o.deps.Extractor.Extract(ectx, r.state.URL)
			if err == nil {
				err = ex.Validate()
			}
			if err != nil {
				if ctx.Err() != nil {
					return r.cancelled(ctx.Err())
				}
				return &StageError{Stage: types.StageExtracting, Err: fmt.Errorf("%w: %w", ErrExtraction, err)}
			}
			extraction = ex
			return nil
		})
	})
	g.Go(func() error {
		return r.observe(gctx, types.StageRetrievingProfile, func(ctx context.Context) error {
			p, err := r.loadProfile(ctx)
			if err != nil {
				return err
			}
			flat = p
			return nil
		})
	})
	if err := g.Wait(); err != nil {
		return err
	}
	r.state.Fields = extraction.Ordered()
	r.state.MorePages = extraction.MorePages
	r.state.Profile = flat
	r.log.Debug("loaded form and profile", "fields", len(r.state.Fields), "profile_paths", len(flat), "more_pages", extraction.MorePages)
	return nil
}

// loadProfile reads and flattens the profile. A user without a stored
// profile starts from an empty one.
func (r *run) loadProfile(ctx context.Context) (types.FlatProfile, error) {
	if err := r.checkCancel(ctx); err != nil {
		return nil, err
	}
	pctx, cancel := withTimeout(ctx, r.o.opts.ProfileTimeout)
	defer cancel()
	doc, err := r.o.deps.Profiles.Load(pctx)
	switch {
	case errors.Is(err, profile.ErrNotFound):
		r.log.Info("no stored profile, starting empty")
		return types.FlatProfile{}, nil
	case err != nil && ctx.Err() != nil:
		return nil, r.cancelled(ctx.Err())
	case err != nil:
		return nil, &StageError{Stage: types.StageRetrievingProfile, Err: fmt.Errorf("%w: %w", ErrProfileRetrieval, err)}
	}
	return types.Flatten(doc), nil
}

// nextQuestion picks the required field to ask about among those accepted by
// want: the one asked least often, then the earliest in page order.
func (r *run) nextQuestion(want func(types.FormField, types.FieldMapping) bool) (types.FormField, bool) {
	var (
		best  types.FormField
		found bool
	)
	for _, f := range r.state.Fields {
		if !f.Required || r.state.succeeded(f.ID) {
			continue
		}
		m, _ := r.state.mapping(f.ID)
		if !want(f, m) {
			continue
		}
		if !found || r.state.Asked[f.ID] < r.state.Asked[best.ID] {
			best, found = f, true
		}
	}
	return best, found
}

func (r *run) roundsLeft() bool {
	return r.state.Rounds < r.o.opts.MaxFeedbackRounds
}

// resolveUnmatched asks for required fields that have no mapping until each
// is mapped or the round budget is spent.
func (r *run) resolveUnmatched(ctx context.Context) error {
	for r.roundsLeft() {
		field, ok := r.nextQuestion(func(f types.FormField, m types.FieldMapping) bool {
			_, attempted := r.state.Outcomes[f.ID]
			return !m.Matched() && !attempted
		})
		if !ok {
			return nil
		}
		if err := r.ask(ctx, field, ""); err != nil {
			return err
		}
	}
	return nil
}

// ask runs one feedback round for field. A round is consumed whether or not
// an answer arrives. target is the path to overwrite, empty for a new one.
func (r *run) ask(ctx context.Context, field types.FormField, target string) error {
	r.state.enter(types.StageAwaitingFeedback)
	return r.observe(ctx, types.StageAwaitingFeedback, func(ctx context.Context) error {
		if err := r.checkCancel(ctx); err != nil {
			return err
		}
		r.state.Rounds++
		prior := r.state.Asked[field.ID]
		r.state.Asked[field.ID]++

		res, err := r.o.deps.Resolver.Resolve(ctx, feedback.Request{
			Field:         field,
			PriorAttempts: prior,
			LastError:     r.state.FieldErrors[field.ID],
			Profile:       r.state.Profile,
			TargetPath:    target,
		})
		exchange := types.FeedbackExchange{Round: r.state.Rounds, FieldID: field.ID}
		if res != nil {
			exchange.Prompt = res.Prompt
			exchange.Answer = res.Answer
			exchange.NoAnswer = res.NoAnswer
		}
		switch {
		case errors.Is(err, feedback.ErrCancelled):
			r.state.Transcript = append(r.state.Transcript, exchange)
			return r.cancelled(err)
		case err != nil && ctx.Err() != nil:
			return r.cancelled(ctx.Err())
		case err != nil:
			r.log.Warn("feedback round failed", "field", field.ID, "error", err)
			exchange.NoAnswer = true
		}
		if exchange.NoAnswer || res.Update == nil {
			exchange.NoAnswer = true
			r.state.Transcript = append(r.state.Transcript, exchange)
			r.log.Info("no answer for field", "field", field.ID, "round", r.state.Rounds)
			return nil
		}

		update := res.Update
		if field.HTMLType.HasOptions() && len(field.Options) > 0 {
			value := fmt.Sprint(update.Value)
			if _, ok := r.o.deps.Mapper.MatchOption(value, field.Options); !ok {
				exchange.NoAnswer = true
				r.state.Transcript = append(r.state.Transcript, exchange)
				r.state.FieldErrors[field.ID] = fmt.Sprintf("%s: answer %q matches none of the options", types.ReasonUnmatched, value)
				r.log.Info("answer fits no option", "field", field.ID, "answer", value, "round", r.state.Rounds)
				return nil
			}
		}
		exchange.ProfilePath = update.Path
		if err := r.writeProfile(ctx, update); err != nil {
			var se *StageError
			if errors.As(err, &se) {
				r.state.Transcript = append(r.state.Transcript, exchange)
				return err
			}
			exchange.WriteError = err.Error()
			r.state.Transcript = append(r.state.Transcript, exchange)
			r.log.Warn("failed to write answer", "field", field.ID, "path", update.Path, "error", err)
			return nil
		}
		r.state.Transcript = append(r.state.Transcript, exchange)

		// The answered field is decided again from the pinned path; every
		// other mapping is left alone.
		r.state.Mappings = r.o.deps.Mapper.Rematch(ctx, r.state.Fields, r.state.Profile, slices.Clone(r.state.Mappings), map[string]string{field.ID: update.Path})
		r.log.Debug("applied answer", "field", field.ID, "path", update.Path)
		return nil
	})
}

// writeProfile stores one value and re-reads the whole profile. A failed
// write is returned as a plain error; a failed re-read is fatal.
func (r *run) writeProfile(ctx context.Context, update *feedback.Update) error {
	wctx, cancel := withTimeout(ctx, r.o.opts.ProfileTimeout)
	defer cancel()
	if err := r.o.deps.Profiles.Write(wctx, update.Path, update.Value); err != nil {
		if ctx.Err() != nil {
			return r.cancelled(ctx.Err())
		}
		return err
	}
	flat, err := r.loadProfile(ctx)
	if err != nil {
		return err
	}
	r.state.Profile = flat
	return nil
}

// pending returns the matched mappings whose field has not succeeded and
// whose value differs from what was last sent, so no action repeats.
func (r *run) pending() ([]types.FieldMapping, map[string]string) {
	var out []types.FieldMapping
	keys := make(map[string]string)
	for _, m := range r.state.Mappings {
		if !m.Matched() || r.state.succeeded(m.FieldID) {
			continue
		}
		value, _ := r.state.Profile.Lookup(m.ProfilePath)
		key := m.ProfilePath + "\x00" + value + "\x00" + m.Option
		if last, ok := r.state.filled[m.FieldID]; ok && last == key {
			continue
		}
		out = append(out, m)
		keys[m.FieldID] = key
	}
	return out, keys
}

func (r *run) generateAndFill(ctx context.Context) error {
	mappings, keys := r.pending()
	if len(mappings) == 0 {
		return nil
	}
	r.state.enter(types.StageGeneratingInstructions)
	var plan instruction.Plan
	_ = r.observe(ctx, types.StageGeneratingInstructions, func(ctx context.Context) error {
		plan = r.o.deps.Generator.Generate(mappings, r.state.Fields, r.state.Profile)
		for _, gap := range plan.Gaps {
			r.state.record(types.FillOutcome{FieldID: gap.FieldID, ErrorDetail: gap.Reason, Reason: types.ReasonGeneration})
		}
		r.state.Instructions = append(r.state.Instructions, plan.Instructions...)
		return nil
	})
	for id, key := range keys {
		r.state.filled[id] = key
	}
	if len(plan.Instructions) == 0 {
		return nil
	}
	r.state.enter(types.StageFilling)
	return r.observe(ctx, types.StageFilling, func(ctx context.Context) error {
		return r.fill(ctx, plan.Instructions)
	})
}

// fill sends instructions page by page through the run's single session.
// A page is finished, retries included, before the session moves on. The
// session only goes forward, so revisiting an earlier page opens a fresh one
// and replays every instruction that already succeeded.
func (r *run) fill(ctx context.Context, ins []types.AutofillInstruction) error {
	ins = byPage(slices.Clone(ins))
	if r.session != nil && ins[0].Page < r.sessionPage {
		r.log.Info("reopening browser session to revisit an earlier page", "page", ins[0].Page, "session_page", r.sessionPage)
		replayed := r.replay(ins)
		r.state.Instructions = append(r.state.Instructions, replayed...)
		ins = byPage(append(ins, replayed...))
		r.closeSession()
	}
	session, err := r.openSession(ctx)
	if err != nil {
		var se *StageError
		if errors.As(err, &se) {
			return err
		}
		for _, in := range ins {
			r.state.record(types.FillOutcome{FieldID: in.FieldID, ErrorDetail: err.Error(), Reason: types.ReasonExecution})
		}
		return nil
	}
	for start := 0; start < len(ins); {
		end := start + 1
		for end < len(ins) && ins[end].Page == ins[start].Page {
			end++
		}
		if err := r.fillPage(ctx, session, ins[start:end]); err != nil {
			return err
		}
		start = end
	}
	return nil
}

// fillPage fills the instructions of one page and retries failed fields once
// with the next selector of their ladder while the session is still there.
func (r *run) fillPage(ctx context.Context, session types.Session, ins []types.AutofillInstruction) error {
	outcomes, err := r.fillBatch(ctx, session, ins)
	if err != nil {
		return err
	}
	r.sessionPage = max(r.sessionPage, ins[0].Page)
	var retry []types.AutofillInstruction
	for _, in := range ins {
		out := outcomes[in.FieldID]
		if !out.Succeeded && (out.Reason == types.ReasonSelector || out.Reason == types.ReasonExecution) {
			if next := instruction.Rederive(r.field(in.FieldID), in.Selector); next != "" {
				in.Selector = next
				retry = append(retry, in)
				r.state.Retries[in.FieldID]++
				continue
			}
		}
		r.settle(in, out)
	}
	if len(retry) == 0 {
		return nil
	}
	r.log.Debug("retrying fields", "page", ins[0].Page, "count", len(retry))
	r.state.Instructions = append(r.state.Instructions, retry...)
	outcomes, err = r.fillBatch(ctx, session, retry)
	if err != nil {
		return err
	}
	for _, in := range retry {
		r.settle(in, outcomes[in.FieldID])
	}
	return nil
}

func (r *run) settle(in types.AutofillInstruction, out types.FillOutcome) {
	r.state.record(out)
	if !out.Succeeded {
		return
	}
	if r.applied == nil {
		r.applied = make(map[string]types.AutofillInstruction)
	}
	r.applied[in.FieldID] = in
}

// replay returns the succeeded instructions of fields not covered by ins, in
// field order.
func (r *run) replay(ins []types.AutofillInstruction) []types.AutofillInstruction {
	covered := make(map[string]struct{}, len(ins))
	for _, in := range ins {
		covered[in.FieldID] = struct{}{}
	}
	var out []types.AutofillInstruction
	for _, f := range r.state.Fields {
		in, ok := r.applied[f.ID]
		if _, dup := covered[f.ID]; ok && !dup {
			out = append(out, in)
		}
	}
	return out
}

func byPage(ins []types.AutofillInstruction) []types.AutofillInstruction {
	slices.SortStableFunc(ins, func(a, b types.AutofillInstruction) int {
		return cmp.Compare(a.Page, b.Page)
	})
	return ins
}

// fillBatch makes one Fill call and aligns its outcomes with ins by field id.
func (r *run) fillBatch(ctx context.Context, session types.Session, ins []types.AutofillInstruction) (map[string]types.FillOutcome, error) {
	if err := r.checkCancel(ctx); err != nil {
		return nil, err
	}
	fctx, cancel := withTimeout(ctx, r.o.opts.FillTimeout)
	defer cancel()
	outcomes, err := session.Fill(fctx, ins)
	if err != nil && ctx.Err() != nil {
		return nil, r.cancelled(ctx.Err())
	}
	if err != nil {
		r.log.Warn("fill call failed", "error", err)
	}
	byID := make(map[string]types.FillOutcome, len(ins))
	for _, o := range outcomes {
		byID[o.FieldID] = o
	}
	for _, in := range ins {
		if _, ok := byID[in.FieldID]; ok {
			continue
		}
		detail := "no outcome reported"
		if err != nil {
			detail = err.Error()
		}
		byID[in.FieldID] = types.FillOutcome{FieldID: in.FieldID, ErrorDetail: detail, Reason: types.ReasonExecution}
	}
	return byID, nil
}

func (r *run) openSession(ctx context.Context) (types.Session, error) {
	if r.session != nil || r.openErr != nil {
		return r.session, r.openErr
	}
	if err := r.checkCancel(ctx); err != nil {
		return nil, err
	}
	octx, cancel := withTimeout(ctx, r.o.opts.FillTimeout)
	defer cancel()
	session, err := r.o.deps.Executor.Open(octx, r.state.URL)
	if err != nil {
		if ctx.Err() != nil {
			return nil, r.cancelled(ctx.Err())
		}
		r.openErr = fmt.Errorf("open browser session: %w", err)
		r.log.Warn("failed to open browser session", "error", err)
		return nil, r.openErr
	}
	r.session = session
	return session, nil
}

func (r *run) closeSession() {
	if r.session == nil {
		return
	}
	if err := r.session.Close(); err != nil {
		r.log.Warn("failed to close browser session", "error", err)
	}
	r.session = nil
	r.sessionPage = 0
}

// verify returns the required field to ask about next, or false when the
// run should finish.
func (r *run) verify(ctx context.Context) (types.FormField, bool) {
	r.state.enter(types.StageVerifying)
	var (
		field types.FormField
		ok    bool
	)
	_ = r.observe(ctx, types.StageVerifying, func(ctx context.Context) error {
		if !r.roundsLeft() {
			return nil
		}
		field, ok = r.nextQuestion(func(f types.FormField, m types.FieldMapping) bool {
			return m.Matched()
		})
		return nil
	})
	return field, ok
}

// finish decides the final status, takes the screenshot, submits when asked
// and emits the terminal stage.
func (r *run) finish(ctx context.Context, runErr error) types.WorkflowResult {
	cancelled := errors.Is(runErr, ErrCancelled)
	for _, f := range r.state.Fields {
		if _, ok := r.state.Outcomes[f.ID]; ok {
			continue
		}
		m, _ := r.state.mapping(f.ID)
		switch {
		case cancelled && (f.Required || m.Matched()):
			r.state.record(types.FillOutcome{FieldID: f.ID, ErrorDetail: "run cancelled", Reason: types.ReasonCancelled})
		case !f.Required:
		case !m.Matched():
			r.state.record(types.FillOutcome{FieldID: f.ID, ErrorDetail: m.Reason, Reason: types.ReasonUnmatched})
		default:
			r.state.record(types.FillOutcome{FieldID: f.ID, ErrorDetail: "not filled", Reason: types.ReasonExecution})
		}
	}

	result := types.WorkflowResult{
		Status:         r.status(runErr),
		FilledCount:    r.state.filledCount(),
		FeedbackRounds: r.state.Rounds,
		MorePages:      r.state.MorePages,
	}
	for _, f := range r.state.Fields {
		if o, ok := r.state.Outcomes[f.ID]; ok && !o.Succeeded {
			result.FailedFields = append(result.FailedFields, f.ID)
		}
	}
	if len(r.state.FieldErrors) > 0 {
		result.FieldErrors = make(map[string]string, len(r.state.FieldErrors))
		for id, reason := range r.state.FieldErrors {
			result.FieldErrors[id] = reason
		}
	}
	for id, n := range r.state.Retries {
		if n == 0 {
			continue
		}
		if result.Retries == nil {
			result.Retries = make(map[string]int)
		}
		result.Retries[id] = n
	}

	if r.state.MorePages && result.Status != types.StatusFailed {
		r.log.Warn("form may continue past the extracted pages", "status", result.Status)
	}

	terminal := types.StageDone
	if result.Status == types.StatusFailed {
		terminal = types.StageFailed
	}
	if cancelled {
		ctx = context.WithoutCancel(ctx)
	}
	r.state.enter(terminal)
	_ = r.observe(ctx, terminal, func(ctx context.Context) error {
		if runErr != nil || r.session == nil {
			return runErr
		}
		r.screenshot(ctx, &result)
		if r.o.opts.Submit && result.Status == types.StatusCompleted {
			if r.state.MorePages {
				r.log.Warn("not submitting, the form continues past the extracted pages")
				return nil
			}
			if err := r.session.Submit(ctx); err != nil {
				r.log.Warn("failed to submit form", "error", err)
			} else {
				result.Submitted = true
			}
		}
		return nil
	})
	return result
}

// status applies the terminal rules: every required field filled is
// Completed; nothing filled, or no required field filled, is Failed;
// anything else completed with gaps.
func (r *run) status(runErr error) types.Status {
	if runErr != nil {
		return types.StatusFailed
	}
	filled := r.state.filledCount()
	required, requiredOK := 0, 0
	for _, f := range r.state.Fields {
		if !f.Required {
			continue
		}
		required++
		if r.state.succeeded(f.ID) {
			requiredOK++
		}
	}
	switch {
	case required == requiredOK && (filled > 0 || len(r.state.Fields) == 0):
		return types.StatusCompleted
	case filled == 0:
		return types.StatusFailed
	case required > 0 && requiredOK == 0:
		return types.StatusFailed
	}
	return types.StatusCompletedWithGaps
}

func (r *run) screenshot(ctx context.Context, result *types.WorkflowResult) {
	if r.o.opts.ScreenshotDir == "" {
		return
	}
	img, err := r.session.Screenshot(ctx)
	if err != nil {
		r.log.Warn("failed to take screenshot", "error", err)
		return
	}
	if err := os.MkdirAll(r.o.opts.ScreenshotDir, 0o755); err != nil {
		r.log.Warn("failed to create screenshot dir", "error", err)
		return
	}
	path := filepath.Join(r.o.opts.ScreenshotDir, r.state.RunID+".png")
	if err := os.WriteFile(path, img, 0o644); err != nil {
		r.log.Warn("failed to write screenshot", "error", err)
		return
	}
	result.Screenshot = path
}

func (r *run) field(id string) types.FormField {
	for _, f := range r.state.Fields {
		if f.ID == id {
			return f
		}
	}
	return types.FormField{ID: id}
}

func (r *run) checkCancel(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return r.cancelled(err)
	}
	return nil
}

func (r *run) cancelled(cause error) error {
	return &StageError{Stage: r.state.Stage, Err: fmt.Errorf("%w: %w", ErrCancelled, cause)}
}

// observe wraps one stage in start and end markers. The context returned by
// the observer is the one the stage works with.
func (r *run) observe(ctx context.Context, stage types.Stage, fn func(context.Context) error) error {
	start := time.Now()
	sctx := r.o.observer.StageStart(ctx, r.event(stage, nil))
	err := fn(sctx)
	ev := r.event(stage, err)
	ev.Elapsed = time.Since(start)
	r.o.observer.StageEnd(sctx, ev)
	return err
}

func (r *run) event(stage types.Stage, err error) telemetry.StageEvent {
	counts := telemetry.Counts{FieldsSeen: len(r.state.Fields)}
	for _, m := range r.state.Mappings {
		if m.Matched() {
			counts.FieldsMapped++
		} else {
			counts.FieldsUnmatched++
		}
	}
	for _, o := range r.state.Outcomes {
		if o.Succeeded {
			counts.FieldsFilled++
		} else {
			counts.FieldsFailed++
		}
	}
	return telemetry.StageEvent{RunID: r.state.RunID, Stage: stage, Counts: counts, Err: err}
}
