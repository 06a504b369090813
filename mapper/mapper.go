// Package mapper decides, for every form field, which profile path fills it.
//
// Matching is a fixed ladder: exact, normalized (compact form or synonym),
// partial substring and, when configured, a model suggestion. The first tier
// that yields a candidate above the minimum confidence wins. The result is a
// pure function of the fields and the flattened profile.
package mapper

import (
	"context"
	"log/slog"
	"strings"
	"unicode/utf8"

	"github.com/tbxark/jobfill/types"
)

const (
	ExactConfidence      = 1.0
	NormalizedConfidence = 0.85

	DefaultMinConfidence = 0.4
	DefaultPartialCap    = 0.7

	minPartialRunes = 3

	reasonNoCandidate = "no candidate above threshold"
	reasonNoOption    = "no option matches value"
	reasonFeedback    = "feedback"
	reasonModel       = "model"
)

// PathLess orders profile paths that tie within a tier.
type PathLess func(a, b string) bool

// FewerSegmentsFirst prefers shallower paths, then lexicographic order.
func FewerSegmentsFirst(a, b string) bool {
	sa, sb := len(types.Segments(a)), len(types.Segments(b))
	if sa != sb {
		return sa < sb
	}
	return a < b
}

type Option func(*options)

type options struct {
	minConfidence float64
	partialCap    float64
	pathLess      PathLess
	suggester     Suggester
}

func WithMinConfidence(v float64) Option {
	return func(o *options) {
		o.minConfidence = v
	}
}

func WithPartialCap(v float64) Option {
	return func(o *options) {
		o.partialCap = v
	}
}

func WithPathLess(less PathLess) Option {
	return func(o *options) {
		if less != nil {
			o.pathLess = less
		}
	}
}

// WithSuggester enables the model tier, consulted only after every rule tier
// failed.
func WithSuggester(s Suggester) Option {
	return func(o *options) {
		o.suggester = s
	}
}

type Mapper struct {
	options
}

func New(opts ...Option) *Mapper {
	o := options{
		minConfidence: DefaultMinConfidence,
		partialCap:    DefaultPartialCap,
		pathLess:      FewerSegmentsFirst,
	}
	for _, opt := range opts {
		opt(&o)
	}
	return &Mapper{options: o}
}

type candidate struct {
	path    string
	value   string
	norm    string
	compact string
	concept string
}

func newCandidate(path, value string) candidate {
	leaf := types.Leaf(path)
	return candidate{
		path:    path,
		value:   value,
		norm:    Normalize(leaf),
		compact: Compact(leaf),
		concept: Concept(leaf),
	}
}

// candidates lists every profile path with a non-empty value, in path order.
func candidates(profile types.FlatProfile) []candidate {
	paths := profile.Paths()
	out := make([]candidate, 0, len(paths))
	for _, path := range paths {
		value, ok := profile.Lookup(path)
		if !ok {
			continue
		}
		out = append(out, newCandidate(path, value))
	}
	return out
}

type fieldKey struct {
	source  string
	norm    string
	compact string
	concept string
}

// keysOf returns the label key before the id key.
func keysOf(field types.FormField) []fieldKey {
	var keys []fieldKey
	add := func(source, text string) {
		if text == "" {
			return
		}
		keys = append(keys, fieldKey{
			source:  source,
			norm:    Normalize(text),
			compact: Compact(text),
			concept: Concept(text),
		})
	}
	add("label", field.Label)
	add("id", field.ID)
	return keys
}

// Match returns exactly one mapping per field, in field order.
func (m *Mapper) Match(ctx context.Context, fields []types.FormField, profile types.FlatProfile) []types.FieldMapping {
	cands := candidates(profile)
	out := make([]types.FieldMapping, 0, len(fields))
	unmatched := 0
	for _, field := range fields {
		mapping := m.matchField(ctx, field, cands)
		if !mapping.Matched() {
			unmatched++
		}
		out = append(out, mapping)
	}
	slog.Debug("mapped fields", "fields", len(fields), "candidates", len(cands), "unmatched", unmatched)
	return out
}

// Rematch recomputes only the unmatched required fields of prev and the
// fields named in pinned. Every other mapping is carried over unchanged.
// pinned maps a field id to the profile path the user just answered for it;
// that path is tried first and accepted even when no rule tier recognises it.
// A matched field is never downgraded: when its pinned path cannot be used
// the previous mapping is kept.
func (m *Mapper) Rematch(
	ctx context.Context,
	fields []types.FormField,
	profile types.FlatProfile,
	prev []types.FieldMapping,
	pinned map[string]string,
) []types.FieldMapping {
	prevByID := make(map[string]types.FieldMapping, len(prev))
	for _, p := range prev {
		prevByID[p.FieldID] = p
	}
	cands := candidates(profile)
	out := make([]types.FieldMapping, 0, len(fields))
	for _, field := range fields {
		p, ok := prevByID[field.ID]
		path, isPinned := pinned[field.ID]
		switch {
		case !ok:
			out = append(out, m.matchField(ctx, field, cands))
		case isPinned && path != "":
			next := m.rematchField(ctx, field, cands, profile, path)
			if !next.Matched() && p.Matched() {
				next = p
			}
			out = append(out, next)
		case p.Matched() || !field.Required:
			out = append(out, p)
		default:
			out = append(out, m.rematchField(ctx, field, cands, profile, ""))
		}
	}
	return out
}

func (m *Mapper) rematchField(ctx context.Context, field types.FormField, cands []candidate, profile types.FlatProfile, pinned string) types.FieldMapping {
	if pinned == "" {
		return m.matchField(ctx, field, cands)
	}
	value, ok := profile.Lookup(pinned)
	if !ok {
		return m.matchField(ctx, field, cands)
	}
	if mapping, ok := m.ladder(field, []candidate{newCandidate(pinned, value)}); ok {
		return m.resolveOption(field, mapping, value)
	}
	return m.resolveOption(field, types.FieldMapping{
		FieldID:     field.ID,
		ProfilePath: pinned,
		Confidence:  NormalizedConfidence,
		MatchKind:   types.MatchNormalized,
		Reason:      reasonFeedback,
	}, value)
}

func (m *Mapper) matchField(ctx context.Context, field types.FormField, cands []candidate) types.FieldMapping {
	mapping, ok := m.ladder(field, cands)
	if !ok && m.suggester != nil {
		mapping, ok = m.suggest(ctx, field, cands)
	}
	if !ok {
		return types.Unmatched(field.ID, reasonNoCandidate)
	}
	value := ""
	for _, c := range cands {
		if c.path == mapping.ProfilePath {
			value = c.value
			break
		}
	}
	return m.resolveOption(field, mapping, value)
}

// ladder runs the three rule tiers over cands.
func (m *Mapper) ladder(field types.FormField, cands []candidate) (types.FieldMapping, bool) {
	keys := keysOf(field)
	if len(keys) == 0 {
		return types.FieldMapping{}, false
	}
	found := func(c *candidate, kind types.MatchKind, confidence float64, reason string) (types.FieldMapping, bool) {
		if c == nil || confidence < m.minConfidence {
			return types.FieldMapping{}, false
		}
		return types.FieldMapping{
			FieldID:     field.ID,
			ProfilePath: c.path,
			Confidence:  confidence,
			MatchKind:   kind,
			Reason:      reason,
		}, true
	}

	// exact
	var best *candidate
	reason := ""
	for i := range cands {
		c := &cands[i]
		for _, k := range keys {
			if k.norm != "" && k.norm == c.norm {
				if best == nil || m.pathLess(c.path, best.path) {
					best, reason = c, "exact:"+k.source
				}
				break
			}
		}
	}
	if mapping, ok := found(best, types.MatchExact, ExactConfidence, reason); ok {
		return mapping, true
	}

	// normalized
	best = nil
	for i := range cands {
		c := &cands[i]
		for _, k := range keys {
			r := ""
			switch {
			case k.compact != "" && k.compact == c.compact:
				r = "normalized:" + k.source
			case k.concept != "" && k.concept == c.concept:
				r = "synonym:" + k.source
			default:
				continue
			}
			if best == nil || m.pathLess(c.path, best.path) {
				best, reason = c, r
			}
			break
		}
	}
	if mapping, ok := found(best, types.MatchNormalized, NormalizedConfidence, reason); ok {
		return mapping, true
	}

	// partial
	best = nil
	bestOverlap, bestConfidence := 0, 0.0
	for i := range cands {
		c := &cands[i]
		// the longest overlap over every key of the field, label first on ties
		overlap, confidence, source := 0, 0.0, ""
		for _, k := range keys {
			o, ratio := partialScore(k.compact, c.compact)
			if o == 0 || min(ratio, m.partialCap) < m.minConfidence {
				continue
			}
			if o > overlap {
				overlap, confidence, source = o, min(ratio, m.partialCap), k.source
			}
		}
		if overlap == 0 {
			continue
		}
		if best == nil || overlap > bestOverlap || (overlap == bestOverlap && m.pathLess(c.path, best.path)) {
			best, bestOverlap, bestConfidence, reason = c, overlap, confidence, "partial:"+source
		}
	}
	return found(best, types.MatchPartial, bestConfidence, reason)
}

// partialScore reports the overlap length and shorter/longer ratio when one
// compact name contains the other.
func partialScore(a, b string) (int, float64) {
	shorter, longer := a, b
	if utf8.RuneCountInString(shorter) > utf8.RuneCountInString(longer) {
		shorter, longer = longer, shorter
	}
	ns, nl := utf8.RuneCountInString(shorter), utf8.RuneCountInString(longer)
	if ns < minPartialRunes || !strings.Contains(longer, shorter) {
		return 0, 0
	}
	return ns, float64(ns) / float64(nl)
}

func (m *Mapper) suggest(ctx context.Context, field types.FormField, cands []candidate) (types.FieldMapping, bool) {
	if len(cands) == 0 {
		return types.FieldMapping{}, false
	}
	profile := make(types.FlatProfile, len(cands))
	for _, c := range cands {
		profile[c.path] = c.value
	}
	suggestion, err := m.suggester.Suggest(ctx, field, profile)
	if err != nil {
		slog.Warn("model suggestion failed", "field", field.ID, "error", err)
		return types.FieldMapping{}, false
	}
	if suggestion == nil || suggestion.Path == "" {
		return types.FieldMapping{}, false
	}
	if _, ok := profile[suggestion.Path]; !ok {
		slog.Debug("model suggested unknown path", "field", field.ID, "path", suggestion.Path)
		return types.FieldMapping{}, false
	}
	confidence := min(suggestion.Confidence, m.partialCap)
	if confidence < m.minConfidence {
		return types.FieldMapping{}, false
	}
	return types.FieldMapping{
		FieldID:     field.ID,
		ProfilePath: suggestion.Path,
		Confidence:  confidence,
		MatchKind:   types.MatchPartial,
		Reason:      reasonModel,
	}, true
}

// resolveOption fills Option for select and radio fields, or downgrades the
// mapping when the profile value fits none of the offered options.
func (m *Mapper) resolveOption(field types.FormField, mapping types.FieldMapping, value string) types.FieldMapping {
	if !field.HTMLType.HasOptions() {
		return mapping
	}
	option, ok := m.MatchOption(value, field.Options)
	if !ok {
		return types.Unmatched(field.ID, reasonNoOption)
	}
	mapping.Option = option
	return mapping
}

// MatchOption maps value onto one of options with the exact, normalized and
// partial tiers. Boolean-like values match yes/no style labels.
func (m *Mapper) MatchOption(value string, options []string) (string, bool) {
	if value == "" || len(options) == 0 {
		return "", false
	}
	norm := Normalize(value)
	for _, opt := range options {
		if Normalize(opt) == norm {
			return opt, true
		}
	}
	compact, concept := Compact(value), optionConcept(value)
	for _, opt := range options {
		if Compact(opt) == compact && compact != "" {
			return opt, true
		}
		if concept != "" && optionConcept(opt) == concept {
			return opt, true
		}
	}
	best, bestOverlap := "", 0
	for _, opt := range options {
		overlap, ratio := partialScore(compact, Compact(opt))
		if overlap == 0 || min(ratio, m.partialCap) < m.minConfidence {
			continue
		}
		if overlap > bestOverlap {
			best, bestOverlap = opt, overlap
		}
	}
	return best, best != ""
}
