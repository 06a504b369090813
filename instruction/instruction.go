// Package instruction turns accepted field mappings into fill actions.
package instruction

import (
	"fmt"
	"log/slog"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/tbxark/jobfill/types"
)

// Gap is a mapped field that could not be converted into an action.
type Gap struct {
	FieldID string `json:"fieldId"`
	Reason  string `json:"reason"`
}

type Plan struct {
	Instructions []types.AutofillInstruction `json:"instructions"`
	Gaps         []Gap                       `json:"gaps,omitempty"`
}

type Generator struct{}

func New() *Generator {
	return &Generator{}
}

// Generate emits one instruction per matched mapping with a usable value, in
// mapping order. Unmatched mappings produce nothing.
func (g *Generator) Generate(mappings []types.FieldMapping, fields []types.FormField, profile types.FlatProfile) Plan {
	byID := make(map[string]types.FormField, len(fields))
	for _, f := range fields {
		byID[f.ID] = f
	}
	var plan Plan
	gap := func(id, format string, args ...any) {
		plan.Gaps = append(plan.Gaps, Gap{FieldID: id, Reason: fmt.Sprintf(format, args...)})
	}
	for _, m := range mappings {
		if !m.Matched() {
			continue
		}
		field, ok := byID[m.FieldID]
		if !ok {
			gap(m.FieldID, "mapped field is not part of the form")
			continue
		}
		value, ok := profile.Lookup(m.ProfilePath)
		if !ok {
			gap(m.FieldID, "no value at %s", m.ProfilePath)
			continue
		}
		in := types.AutofillInstruction{
			FieldID:  field.ID,
			Selector: Selectors(field)[0],
			Page:     field.Page,
		}
		switch field.HTMLType {
		case types.HTMLText, types.HTMLEmail, types.HTMLTel, types.HTMLTextarea:
			in.Action, in.Value = types.ActionSetText, value
		case types.HTMLDate:
			in.Action, in.Value = types.ActionSetText, FormatDate(value, field)
		case types.HTMLSelect, types.HTMLRadio:
			if m.Option == "" {
				gap(field.ID, "no option resolved for value %q", value)
				continue
			}
			in.Action, in.Value = types.ActionSelectOption, m.Option
			if field.HTMLType == types.HTMLRadio {
				in.Action = types.ActionChooseRadio
			}
		case types.HTMLCheckbox:
			in.Action, in.Value = types.ActionToggleCheckbox, strconv.FormatBool(Truthy(value))
		case types.HTMLFile:
			path, ok := FilePath(value)
			if !ok {
				gap(field.ID, "value is not a usable file path")
				continue
			}
			in.Action, in.Value = types.ActionUploadFile, path
		default:
			gap(field.ID, "unsupported field type %q", field.HTMLType)
			continue
		}
		plan.Instructions = append(plan.Instructions, in)
	}
	slog.Debug("generated instructions", "instructions", len(plan.Instructions), "gaps", len(plan.Gaps))
	return plan
}

var falsy = map[string]struct{}{
	"": {}, "false": {}, "no": {}, "n": {}, "0": {}, "off": {}, "none": {}, "null": {}, "unchecked": {},
}

// Truthy reports whether a profile value means "checked".
func Truthy(value string) bool {
	_, ok := falsy[strings.ToLower(strings.TrimSpace(value))]
	return !ok
}

// FilePath returns the local path a file value refers to. Remote URLs,
// multi-line text and bare words are not paths.
func FilePath(value string) (string, bool) {
	v := strings.TrimSpace(value)
	if v == "" || strings.ContainsAny(v, "\r\n") {
		return "", false
	}
	if rest, ok := strings.CutPrefix(v, "file://"); ok {
		return rest, rest != ""
	}
	if strings.Contains(v, "://") {
		return "", false
	}
	if filepath.Ext(v) != "" || strings.ContainsAny(v, `/\`) {
		return v, true
	}
	return "", false
}
