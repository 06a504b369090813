package feedback

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"
	"unicode"

	"github.com/tbxark/jobfill/types"
)

const (
	DefaultTimeout    = 2 * time.Minute
	DefaultPathPrefix = "application"
)

type Option func(*Resolver)

func WithPrompter(p Prompter) Option {
	return func(r *Resolver) {
		if p != nil {
			r.prompter = p
		}
	}
}

// WithTimeout bounds each question. Zero disables the bound.
func WithTimeout(d time.Duration) Option {
	return func(r *Resolver) {
		r.timeout = d
	}
}

// WithPathPrefix sets the profile section new answers are written under.
func WithPathPrefix(prefix string) Option {
	return func(r *Resolver) {
		r.pathPrefix = prefix
	}
}

func WithIntentRecognizer(rec *IntentRecognizer) Option {
	return func(r *Resolver) {
		if rec != nil {
			r.intents = rec
		}
	}
}

type Resolver struct {
	channel    Channel
	prompter   Prompter
	intents    *IntentRecognizer
	timeout    time.Duration
	pathPrefix string
}

func NewResolver(channel Channel, opts ...Option) (*Resolver, error) {
	if channel == nil {
		return nil, errors.New("feedback channel is required")
	}
	r := &Resolver{
		channel:    channel,
		prompter:   LocalPrompter{},
		intents:    NewIntentRecognizer(),
		timeout:    DefaultTimeout,
		pathPrefix: DefaultPathPrefix,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// Resolve asks exactly one question about req.Field. A silent or timed out
// channel and an explicit skip yield NoAnswer. ErrCancelled is returned with
// the resolution when the user asks to stop.
func (r *Resolver) Resolve(ctx context.Context, req Request) (*Resolution, error) {
	prompt, err := r.prompter.BuildPrompt(ctx, &PromptRequest{
		Field:         req.Field,
		PriorAttempts: req.PriorAttempts,
		LastError:     req.LastError,
	})
	if err != nil {
		return nil, fmt.Errorf("build prompt: %w", err)
	}
	res := &Resolution{Prompt: prompt}

	askCtx := ctx
	if r.timeout > 0 {
		var cancel context.CancelFunc
		askCtx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}
	answer, err := r.channel.Ask(askCtx, Question{FieldID: req.Field.ID, Prompt: prompt})
	switch {
	case err == nil:
	case ctx.Err() != nil:
		return nil, ctx.Err()
	case errors.Is(err, ErrCancelled):
		return res, ErrCancelled
	case errors.Is(err, context.DeadlineExceeded):
		slog.Debug("feedback timed out", "field", req.Field.ID, "timeout", r.timeout)
		res.NoAnswer = true
		return res, nil
	default:
		slog.Warn("feedback channel failed", "field", req.Field.ID, "error", err)
		res.NoAnswer = true
		return res, nil
	}

	text := strings.TrimSpace(answer.Text)
	res.Answer = text
	if !answer.OK || text == "" {
		res.NoAnswer = true
		return res, nil
	}
	switch r.intents.Recognize(text) {
	case IntentCancel:
		return res, ErrCancelled
	case IntentSkip:
		res.NoAnswer = true
		return res, nil
	}

	res.Update = &Update{
		Path:  r.targetPath(req),
		Value: ParseValue(req.Field, text),
	}
	return res, nil
}

// ParseValue converts a reply into the scalar stored in the profile.
// Checkboxes become booleans; a number picks from a numbered option list.
func ParseValue(field types.FormField, text string) any {
	text = strings.TrimSpace(text)
	switch {
	case field.HTMLType == types.HTMLCheckbox:
		switch strings.ToLower(text) {
		case "y", "yes", "true", "1", "on", "checked", "是", "好":
			return true
		}
		return false
	case field.HTMLType.HasOptions():
		if n, err := strconv.Atoi(text); err == nil && n >= 1 && n <= len(field.Options) {
			return field.Options[n-1]
		}
	}
	return text
}

// targetPath picks where the answer goes: the requested path when it is
// still empty, else an existing empty path named after the field, else a new
// path under the configured prefix. A stored non-empty value is never
// overwritten; a taken new path gets a numeric suffix.
func (r *Resolver) targetPath(req Request) string {
	if req.TargetPath != "" && emptyAt(req.Profile, req.TargetPath) {
		return req.TargetPath
	}
	key := FieldKey(req.Field)
	for _, path := range req.Profile.Paths() {
		if types.Leaf(path) == key && types.IsEmptyValue(req.Profile[path]) {
			return path
		}
	}
	base := key
	if r.pathPrefix != "" {
		base = r.pathPrefix + types.PathSeparator + key
	}
	path := base
	for n := 2; !emptyAt(req.Profile, path); n++ {
		path = fmt.Sprintf("%s_%d", base, n)
	}
	return path
}

func emptyAt(profile types.FlatProfile, path string) bool {
	v, ok := profile[path]
	return !ok || types.IsEmptyValue(v)
}

// FieldKey derives a snake_case profile key from the field id, or from the
// label when the id is not a plain identifier.
func FieldKey(field types.FormField) string {
	if key := snake(field.ID); key != "" && key == strings.ToLower(field.ID) {
		return key
	}
	if key := snake(field.Label); key != "" {
		return key
	}
	if key := snake(field.ID); key != "" {
		return key
	}
	return "answer"
}

func snake(s string) string {
	var b strings.Builder
	pendingSep := false
	for _, r := range strings.ToLower(s) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			if pendingSep && b.Len() > 0 {
				b.WriteByte('_')
			}
			pendingSep = false
			b.WriteRune(r)
			continue
		}
		pendingSep = true
	}
	return b.String()
}
