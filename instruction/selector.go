package instruction

import (
	"fmt"
	"regexp"
	"slices"

	"github.com/tbxark/jobfill/types"
)

var cssIdent = regexp.MustCompile(`^-?[_a-zA-Z][_a-zA-Z0-9-]*$`)

// LabelPrefix marks a selector resolved by label text instead of CSS.
const LabelPrefix = "label="

// Selectors lists the locators for field from most to least specific: the
// element id, the extractor's hint, the name attribute and finally the label
// text. Radio groups are addressed by name.
func Selectors(field types.FormField) []string {
	var out []string
	add := func(s string) {
		if s != "" && !slices.Contains(out, s) {
			out = append(out, s)
		}
	}
	switch {
	case field.HTMLType == types.HTMLRadio:
		add(fmt.Sprintf(`input[type="radio"][name=%q]`, field.ID))
	case cssIdent.MatchString(field.ID):
		add("#" + field.ID)
	case field.ID != "":
		add(fmt.Sprintf(`[id=%q]`, field.ID))
	}
	add(field.SelectorHint)
	add(fmt.Sprintf(`[name=%q]`, field.ID))
	if field.Label != "" {
		add(LabelPrefix + field.Label)
	}
	return out
}

// Rederive returns the selector to try after failed, or "" when the ladder
// is exhausted.
func Rederive(field types.FormField, failed string) string {
	ladder := Selectors(field)
	i := slices.Index(ladder, failed)
	if i < 0 {
		for _, s := range ladder {
			if s != failed {
				return s
			}
		}
		return ""
	}
	if i+1 < len(ladder) {
		return ladder[i+1]
	}
	return ""
}
