package browser

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"

	"github.com/tbxark/jobfill/instruction"
	"github.com/tbxark/jobfill/types"
)

const labelControlJS = `(text) => {
	const norm = (s) => (s || '').replace(/[\s*:]+$/, '').replace(/\s+/g, ' ').trim().toLowerCase();
	const want = norm(text);
	for (const label of document.querySelectorAll('label')) {
		if (norm(label.textContent) === want && label.control) return label.control;
	}
	for (const el of document.querySelectorAll('[aria-label]')) {
		if (norm(el.getAttribute('aria-label')) === want) return el;
	}
	return null;
}`

// radioJS finds the button of a group whose value or label equals want. A
// "label=" selector names the group by its fieldset legend.
const radioJS = `(sel, legend, want) => {
	const norm = (s) => (s || '').replace(/[\s*:]+$/, '').replace(/\s+/g, ' ').trim().toLowerCase();
	let radios = [];
	if (legend) {
		for (const fs of document.querySelectorAll('fieldset')) {
			const lg = fs.querySelector('legend');
			if (lg && norm(lg.textContent) === norm(legend)) {
				radios = fs.querySelectorAll('input[type="radio"]');
				break;
			}
		}
	} else {
		radios = document.querySelectorAll(sel);
	}
	for (const el of radios) {
		const label = el.labels && el.labels.length ? el.labels[0].textContent : '';
		if (norm(el.value) === norm(want) || norm(label) === norm(want)) return el;
	}
	return null;
}`

const nextButtonJS = `(words) => {
	const nodes = document.querySelectorAll('button, a, input[type="submit"], input[type="button"]');
	for (const el of nodes) {
		const text = (el.tagName === 'INPUT' ? el.value : el.textContent || '').trim().toLowerCase();
		if (!el.disabled && words.some((w) => text.includes(w))) return el;
	}
	return null;
}`

const submitSelector = `button[type="submit"], input[type="submit"]`

// Session fills one form on one tab. Instructions must arrive ordered by
// page; the session only moves forward.
type Session struct {
	page        *rod.Page
	cfg         Config
	currentPage int
	advanceErr  error
}

var _ types.Session = (*Session)(nil)

func (s *Session) Fill(ctx context.Context, instructions []types.AutofillInstruction) ([]types.FillOutcome, error) {
	out := make([]types.FillOutcome, 0, len(instructions))
	for _, in := range instructions {
		if err := ctx.Err(); err != nil {
			return out, err
		}
		if in.Page > s.currentPage && s.advanceErr == nil {
			s.advanceErr = s.advance(ctx, in.Page)
		}
		if in.Page > s.currentPage {
			out = append(out, failure(in, types.ReasonExecution, s.advanceErr))
			continue
		}
		out = append(out, s.apply(ctx, in))
	}
	return out, nil
}

// advance clicks the next-step control until target is the current page.
func (s *Session) advance(ctx context.Context, target int) error {
	for s.currentPage < target {
		p := s.page.Context(ctx).Timeout(s.cfg.ElementTimeout)
		el, err := p.ElementByJS(rod.Eval(nextButtonJS, nextWords))
		if err != nil {
			p.CancelTimeout()
			return fmt.Errorf("browser: no next-step control on page %d: %w", s.currentPage, err)
		}
		err = el.Click(proto.InputMouseButtonLeft, 1)
		p.CancelTimeout()
		if err != nil {
			return fmt.Errorf("browser: advance from page %d: %w", s.currentPage, err)
		}
		if err := s.page.Context(ctx).WaitStable(time.Second); err != nil {
			s.cfg.Logger.Warn("browser: page did not settle", "page", s.currentPage+1, "error", err)
		}
		s.currentPage++
		s.cfg.Logger.Debug("browser: advanced form", "page", s.currentPage)
	}
	return nil
}

func (s *Session) apply(ctx context.Context, in types.AutofillInstruction) types.FillOutcome {
	p := s.page.Context(ctx).Timeout(s.cfg.ElementTimeout)
	defer p.CancelTimeout()

	el, err := s.find(p, in)
	if err != nil {
		return failure(in, types.ReasonSelector, err)
	}
	switch in.Action {
	case types.ActionSetText:
		if err = el.SelectAllText(); err == nil {
			err = el.Input(in.Value)
		}
	case types.ActionSelectOption:
		err = el.Select([]string{in.Value}, true, rod.SelectorTypeText)
	case types.ActionToggleCheckbox:
		var checked bool
		if prop, perr := el.Property("checked"); perr != nil {
			err = perr
		} else {
			checked = prop.Bool()
		}
		if err == nil && checked != (in.Value == "true") {
			err = el.Click(proto.InputMouseButtonLeft, 1)
		}
	case types.ActionChooseRadio:
		err = el.Click(proto.InputMouseButtonLeft, 1)
	case types.ActionUploadFile:
		err = el.SetFiles([]string{in.Value})
	default:
		err = fmt.Errorf("unknown action %q", in.Action)
	}
	if err != nil {
		return failure(in, types.ReasonExecution, err)
	}
	return types.FillOutcome{FieldID: in.FieldID, Succeeded: true}
}

func (s *Session) find(p *rod.Page, in types.AutofillInstruction) (*rod.Element, error) {
	label, byLabel := strings.CutPrefix(in.Selector, instruction.LabelPrefix)
	switch {
	case in.Action == types.ActionChooseRadio && byLabel:
		return p.ElementByJS(rod.Eval(radioJS, "", label, in.Value))
	case in.Action == types.ActionChooseRadio:
		return p.ElementByJS(rod.Eval(radioJS, in.Selector, "", in.Value))
	case byLabel:
		return p.ElementByJS(rod.Eval(labelControlJS, label))
	}
	return p.Element(in.Selector)
}

func (s *Session) Screenshot(ctx context.Context) ([]byte, error) {
	img, err := s.page.Context(ctx).Screenshot(true, nil)
	if err != nil {
		return nil, fmt.Errorf("browser: screenshot: %w", err)
	}
	return img, nil
}

func (s *Session) Submit(ctx context.Context) error {
	p := s.page.Context(ctx).Timeout(s.cfg.ElementTimeout)
	defer p.CancelTimeout()
	el, err := p.Element(submitSelector)
	if err != nil {
		return fmt.Errorf("browser: no submit control: %w", err)
	}
	if err := el.Click(proto.InputMouseButtonLeft, 1); err != nil {
		return fmt.Errorf("browser: submit: %w", err)
	}
	return nil
}

func (s *Session) Close() error {
	return s.page.Close()
}

func failure(in types.AutofillInstruction, reason types.FailureReason, err error) types.FillOutcome {
	detail := "unknown error"
	if err != nil {
		detail = err.Error()
	}
	return types.FillOutcome{FieldID: in.FieldID, ErrorDetail: fmt.Sprintf("%s: %s", in.Selector, detail), Reason: reason}
}
