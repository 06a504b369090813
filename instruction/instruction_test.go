package instruction

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tbxark/jobfill/types"
)

func TestGenerateDispatchesByType(t *testing.T) {
	t.Parallel()
	fields := []types.FormField{
		{ID: "fname", Label: "First Name", HTMLType: types.HTMLText, Page: 1},
		{ID: "dob", Label: "Date of birth (DD/MM/YYYY)", HTMLType: types.HTMLDate, Page: 1},
		{ID: "country", Label: "Country", HTMLType: types.HTMLSelect, Options: []string{"France", "United Kingdom"}, Page: 1},
		{ID: "relocate", Label: "Willing to relocate", HTMLType: types.HTMLCheckbox, Page: 2},
		{ID: "work_mode", Label: "Work mode", HTMLType: types.HTMLRadio, Options: []string{"Remote", "Onsite"}, Page: 2},
		{ID: "resume", Label: "Resume", HTMLType: types.HTMLFile, Page: 2},
		{ID: "visa_status", Label: "Visa", HTMLType: types.HTMLSelect, Options: []string{"Yes", "No"}, Page: 2},
	}
	profile := types.FlatProfile{
		"personal.first_name": "Ada",
		"personal.dob":        "1815-12-10",
		"personal.country":    "united kingdom",
		"prefs.relocate":      "no",
		"prefs.work_mode":     "remote",
		"docs.resume":         "file:///home/ada/cv.pdf",
	}
	mappings := []types.FieldMapping{
		{FieldID: "fname", ProfilePath: "personal.first_name", Confidence: 0.85, MatchKind: types.MatchNormalized},
		{FieldID: "dob", ProfilePath: "personal.dob", Confidence: 1, MatchKind: types.MatchExact},
		{FieldID: "country", ProfilePath: "personal.country", Confidence: 1, MatchKind: types.MatchExact, Option: "United Kingdom"},
		{FieldID: "relocate", ProfilePath: "prefs.relocate", Confidence: 1, MatchKind: types.MatchExact},
		{FieldID: "work_mode", ProfilePath: "prefs.work_mode", Confidence: 1, MatchKind: types.MatchExact, Option: "Remote"},
		{FieldID: "resume", ProfilePath: "docs.resume", Confidence: 1, MatchKind: types.MatchExact},
		types.Unmatched("visa_status", "no candidate above threshold"),
	}

	plan := New().Generate(mappings, fields, profile)
	assert.Empty(t, plan.Gaps)
	assert.Equal(t, []types.AutofillInstruction{
		{FieldID: "fname", Action: types.ActionSetText, Value: "Ada", Selector: "#fname", Page: 1},
		{FieldID: "dob", Action: types.ActionSetText, Value: "10/12/1815", Selector: "#dob", Page: 1},
		{FieldID: "country", Action: types.ActionSelectOption, Value: "United Kingdom", Selector: "#country", Page: 1},
		{FieldID: "relocate", Action: types.ActionToggleCheckbox, Value: "false", Selector: "#relocate", Page: 2},
		{FieldID: "work_mode", Action: types.ActionChooseRadio, Value: "Remote", Selector: `input[type="radio"][name="work_mode"]`, Page: 2},
		{FieldID: "resume", Action: types.ActionUploadFile, Value: "/home/ada/cv.pdf", Selector: "#resume", Page: 2},
	}, plan.Instructions)
}

func TestGenerateReportsGaps(t *testing.T) {
	t.Parallel()
	fields := []types.FormField{
		{ID: "resume", Label: "Resume", HTMLType: types.HTMLFile, Page: 1},
		{ID: "country", Label: "Country", HTMLType: types.HTMLSelect, Options: []string{"France"}, Page: 1},
		{ID: "email", Label: "Email", HTMLType: types.HTMLEmail, Page: 1},
	}
	profile := types.FlatProfile{
		"docs.resume":      "I will send it later",
		"personal.country": "Peru",
	}
	mappings := []types.FieldMapping{
		{FieldID: "resume", ProfilePath: "docs.resume", Confidence: 1, MatchKind: types.MatchExact},
		{FieldID: "country", ProfilePath: "personal.country", Confidence: 1, MatchKind: types.MatchExact},
		{FieldID: "email", ProfilePath: "contact.email", Confidence: 1, MatchKind: types.MatchExact},
		{FieldID: "ghost", ProfilePath: "personal.country", Confidence: 1, MatchKind: types.MatchExact},
	}
	plan := New().Generate(mappings, fields, profile)
	assert.Empty(t, plan.Instructions)
	ids := make([]string, 0, len(plan.Gaps))
	for _, g := range plan.Gaps {
		ids = append(ids, g.FieldID)
		assert.NotEmpty(t, g.Reason)
	}
	assert.Equal(t, []string{"resume", "country", "email", "ghost"}, ids)
}

func TestInstructionSoundness(t *testing.T) {
	t.Parallel()
	fields := []types.FormField{
		{ID: "a", Label: "A", HTMLType: types.HTMLText, Page: 1},
		{ID: "b", Label: "B", HTMLType: types.HTMLText, Page: 1},
		{ID: "c", Label: "C", HTMLType: types.HTMLTextarea, Page: 1},
	}
	profile := types.FlatProfile{"x.a": "1", "x.c": "3"}
	mappings := []types.FieldMapping{
		{FieldID: "a", ProfilePath: "x.a", Confidence: 1, MatchKind: types.MatchExact},
		types.Unmatched("b", "no candidate above threshold"),
		{FieldID: "c", ProfilePath: "x.c", Confidence: 0.5, MatchKind: types.MatchPartial},
	}
	plan := New().Generate(mappings, fields, profile)
	require.Len(t, plan.Instructions, 2)
	assert.Equal(t, "a", plan.Instructions[0].FieldID)
	assert.Equal(t, "c", plan.Instructions[1].FieldID)
}

func TestFormatDate(t *testing.T) {
	t.Parallel()
	cases := []struct {
		label string
		hint  string
		value string
		want  string
	}{
		{"Start date (MM/DD/YYYY)", "", "2025-03-04", "03/04/2025"},
		{"Start date", "input[placeholder='DD.MM.YYYY']", "2025-03-04", "04.03.2025"},
		{"Start date", "", "March 4, 2025", "2025-03-04"},
		{"Start date", "", "as soon as possible", "as soon as possible"},
		{"Graduation (MM/YYYY)", "", "2024-06", "06/2024"},
	}
	for _, tc := range cases {
		field := types.FormField{ID: "d", Label: tc.label, HTMLType: types.HTMLDate, SelectorHint: tc.hint, Page: 1}
		assert.Equal(t, tc.want, FormatDate(tc.value, field), tc.label)
	}
}

func TestTruthyAndFilePath(t *testing.T) {
	t.Parallel()
	for _, v := range []string{"yes", "true", "1", "Y", "checked", "anything"} {
		assert.True(t, Truthy(v), v)
	}
	for _, v := range []string{"", "no", "False", "0", " off "} {
		assert.False(t, Truthy(v), v)
	}

	p, ok := FilePath("/tmp/cv.pdf")
	assert.True(t, ok)
	assert.Equal(t, "/tmp/cv.pdf", p)
	_, ok = FilePath("cv.docx")
	assert.True(t, ok)
	_, ok = FilePath("https://example.com/cv.pdf")
	assert.False(t, ok)
	_, ok = FilePath("see attached")
	assert.False(t, ok)
	_, ok = FilePath("/tmp/a\n/tmp/b")
	assert.False(t, ok)
}

func TestSelectorLadder(t *testing.T) {
	t.Parallel()
	field := types.FormField{ID: "fname", Label: "First Name", HTMLType: types.HTMLText, SelectorHint: "input.first", Page: 1}
	assert.Equal(t, []string{"#fname", "input.first", `[name="fname"]`, "label=First Name"}, Selectors(field))
	assert.Equal(t, "input.first", Rederive(field, "#fname"))
	assert.Equal(t, `[name="fname"]`, Rederive(field, "input.first"))
	assert.Equal(t, "", Rederive(field, "label=First Name"))
	assert.Equal(t, "#fname", Rederive(field, "div.unknown"))

	odd := types.FormField{ID: "q[1].answer", Label: "Answer", HTMLType: types.HTMLText, Page: 1}
	assert.Equal(t, `[id="q[1].answer"]`, Selectors(odd)[0])

	hinted := types.FormField{ID: "x", HTMLType: types.HTMLText, SelectorHint: "#x", Page: 1}
	assert.Equal(t, []string{"#x", `[name="x"]`}, Selectors(hinted))
}
