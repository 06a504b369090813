package mapper

import (
	"context"
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tbxark/jobfill/internal/fakemodel"
	"github.com/tbxark/jobfill/types"
)

func TestNormalize(t *testing.T) {
	t.Parallel()
	assert.Equal(t, "first_name", Normalize("First Name"))
	assert.Equal(t, "visa_sponsorship_required", Normalize("  Visa Sponsorship   Required? "))
	assert.Equal(t, "firstname", Normalize("first_name"))
	assert.Equal(t, "firstname", Compact("firstName"))
	assert.Equal(t, "firstname", Compact("First-Name"))
	assert.Equal(t, "firstname", Compact("first_name"))
	assert.Equal(t, []string{"get", "http", "response"}, Tokens("getHTTPResponse"))
	assert.Equal(t, []string{"xml", "parser"}, Tokens("XMLParser"))
	assert.Equal(t, "last_name", Concept("Surname"))
	assert.Equal(t, "email", Concept("Your Email"))
	assert.Equal(t, "", Concept("Visa Sponsorship Required?"))
}

func TestMatchTiers(t *testing.T) {
	t.Parallel()
	cases := []struct {
		name    string
		field   types.FormField
		profile types.FlatProfile
		want    types.FieldMapping
	}{
		{
			name:    "normalized label",
			field:   types.FormField{ID: "fname", Label: "First Name", HTMLType: types.HTMLText, Required: true, Page: 1},
			profile: types.FlatProfile{"personal.first_name": "Ada"},
			want: types.FieldMapping{
				FieldID: "fname", ProfilePath: "personal.first_name", Confidence: 0.85,
				MatchKind: types.MatchNormalized, Reason: "normalized:label",
			},
		},
		{
			name:    "exact label",
			field:   types.FormField{ID: "f1", Label: "Email", HTMLType: types.HTMLEmail, Page: 1},
			profile: types.FlatProfile{"contact.email": "ada@example.com"},
			want: types.FieldMapping{
				FieldID: "f1", ProfilePath: "contact.email", Confidence: 1.0,
				MatchKind: types.MatchExact, Reason: "exact:label",
			},
		},
		{
			name:    "synonym",
			field:   types.FormField{ID: "f2", Label: "Surname", HTMLType: types.HTMLText, Page: 1},
			profile: types.FlatProfile{"personal.last_name": "Lovelace"},
			want: types.FieldMapping{
				FieldID: "f2", ProfilePath: "personal.last_name", Confidence: 0.85,
				MatchKind: types.MatchNormalized, Reason: "synonym:label",
			},
		},
		{
			name:    "mobile is phone",
			field:   types.FormField{ID: "f3", Label: "Mobile", HTMLType: types.HTMLTel, Page: 1},
			profile: types.FlatProfile{"contact.phone": "+44 20 7946 0000"},
			want: types.FieldMapping{
				FieldID: "f3", ProfilePath: "contact.phone", Confidence: 0.85,
				MatchKind: types.MatchNormalized, Reason: "synonym:label",
			},
		},
		{
			name:    "empty values are not candidates",
			field:   types.FormField{ID: "f4", Label: "First Name", HTMLType: types.HTMLText, Page: 1},
			profile: types.FlatProfile{"personal.first_name": "", "name.first": "Ada"},
			want: types.FieldMapping{
				FieldID: "f4", ProfilePath: "name.first", Confidence: 0.85,
				MatchKind: types.MatchNormalized, Reason: "synonym:label",
			},
		},
		{
			name: "unmatched",
			field: types.FormField{
				ID: "visa_status", Label: "Visa Sponsorship Required?", HTMLType: types.HTMLSelect,
				Required: true, Options: []string{"Yes", "No"}, Page: 1,
			},
			profile: types.FlatProfile{"personal.first_name": "Ada", "contact.email": "ada@example.com"},
			want:    types.Unmatched("visa_status", "no candidate above threshold"),
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := New().Match(context.Background(), []types.FormField{tc.field}, tc.profile)
			require.Len(t, got, 1)
			assert.Equal(t, tc.want, got[0])
		})
	}
}

func TestPartialPrefersLongestOverlap(t *testing.T) {
	t.Parallel()
	field := types.FormField{ID: "gh", Label: "Github Username", HTMLType: types.HTMLText, Page: 1}
	profile := types.FlatProfile{
		"links.github":      "https://github.com/ada",
		"accounts.username": "ada",
	}
	got := New().Match(context.Background(), []types.FormField{field}, profile)
	require.Len(t, got, 1)
	assert.Equal(t, types.MatchPartial, got[0].MatchKind)
	assert.Equal(t, "accounts.username", got[0].ProfilePath)
	assert.InDelta(t, 8.0/14.0, got[0].Confidence, 1e-9)
}

func TestPartialUsesBestKeyPerCandidate(t *testing.T) {
	t.Parallel()
	// label overlaps contact.pager_number by 5 runes, the id by 11
	field := types.FormField{ID: "pager_numbers", Label: "Pager", HTMLType: types.HTMLText, Page: 1}
	profile := types.FlatProfile{
		"contact.pager_number": "555-0100",
		"misc.numbers":         "42",
	}
	got := New().Match(context.Background(), []types.FormField{field}, profile)
	require.Len(t, got, 1)
	assert.Equal(t, types.MatchPartial, got[0].MatchKind)
	assert.Equal(t, "contact.pager_number", got[0].ProfilePath)
	assert.Equal(t, "partial:id", got[0].Reason)
	assert.Equal(t, DefaultPartialCap, got[0].Confidence)
}

func TestPartialIsCapped(t *testing.T) {
	t.Parallel()
	field := types.FormField{ID: "pl", Label: "Portfolios", HTMLType: types.HTMLText, Page: 1}
	got := New().Match(context.Background(), []types.FormField{field}, types.FlatProfile{"links.portfolio": "https://ada.dev"})
	require.Len(t, got, 1)
	assert.Equal(t, types.MatchPartial, got[0].MatchKind)
	assert.Equal(t, DefaultPartialCap, got[0].Confidence)
}

func TestTieBreak(t *testing.T) {
	t.Parallel()
	field := types.FormField{ID: "c", Label: "City", HTMLType: types.HTMLText, Page: 1}
	profile := types.FlatProfile{
		"work.address.city": "Paris",
		"home.city":         "London",
		"alt.city":          "Rome",
	}
	got := New().Match(context.Background(), []types.FormField{field}, profile)
	assert.Equal(t, "alt.city", got[0].ProfilePath)

	deepest := New(WithPathLess(func(a, b string) bool { return a > b }))
	got = deepest.Match(context.Background(), []types.FormField{field}, profile)
	assert.Equal(t, "work.address.city", got[0].ProfilePath)
}

func TestSelectOptionResolution(t *testing.T) {
	t.Parallel()
	field := types.FormField{
		ID: "visa_status", Label: "Visa Sponsorship Required?", HTMLType: types.HTMLSelect,
		Required: true, Options: []string{"Yes", "No"}, Page: 1,
	}
	m := New()

	got := m.Match(context.Background(), []types.FormField{field}, types.FlatProfile{"application.visa_status": "No"})
	assert.Equal(t, types.MatchExact, got[0].MatchKind)
	assert.Equal(t, "No", got[0].Option)

	got = m.Match(context.Background(), []types.FormField{field}, types.FlatProfile{"application.visa_status": true})
	assert.Equal(t, "Yes", got[0].Option)

	got = m.Match(context.Background(), []types.FormField{field}, types.FlatProfile{"application.visa_status": "Maybe"})
	assert.Equal(t, types.Unmatched("visa_status", "no option matches value"), got[0])
}

func TestMatchOption(t *testing.T) {
	t.Parallel()
	m := New()
	cases := []struct {
		value   string
		options []string
		want    string
		ok      bool
	}{
		{"united kingdom", []string{"France", "United Kingdom"}, "United Kingdom", true},
		{"Bachelors", []string{"High School", "Bachelor's Degree", "Master's Degree"}, "Bachelor's Degree", true},
		{"PhD", []string{"High School", "Bachelor's Degree"}, "", false},
		{"Bachelor", []string{"High School", "Bachelors", "Masters"}, "Bachelors", true},
		{"false", []string{"Yes", "No"}, "No", true},
		{"", []string{"Yes"}, "", false},
	}
	for _, tc := range cases {
		got, ok := m.MatchOption(tc.value, tc.options)
		assert.Equal(t, tc.ok, ok, tc.value)
		assert.Equal(t, tc.want, got, tc.value)
	}
}

func sampleFields() []types.FormField {
	return []types.FormField{
		{ID: "fname", Label: "First Name", HTMLType: types.HTMLText, Required: true, Page: 1},
		{ID: "lname", Label: "Surname", HTMLType: types.HTMLText, Required: true, Page: 1},
		{ID: "email", Label: "Email address", HTMLType: types.HTMLEmail, Required: true, Page: 1},
		{ID: "city", Label: "City", HTMLType: types.HTMLText, Page: 1},
		{ID: "visa_status", Label: "Visa Sponsorship Required?", HTMLType: types.HTMLSelect, Required: true, Options: []string{"Yes", "No"}, Page: 2},
		{ID: "cover", Label: "Cover letter", HTMLType: types.HTMLTextarea, Page: 2},
	}
}

func sampleProfile() types.FlatProfile {
	return types.Flatten(types.ProfileNode{
		"personal": map[string]any{"first_name": "Ada", "last_name": "Lovelace"},
		"contact":  map[string]any{"email": "ada@example.com", "phone": "123"},
		"home":     map[string]any{"city": "London"},
		"work":     map[string]any{"address": map[string]any{"city": "Paris"}},
	})
}

func TestMatchIsDeterministicAndTotal(t *testing.T) {
	t.Parallel()
	m := New()
	fields := sampleFields()
	first := m.Match(context.Background(), fields, sampleProfile())
	require.Len(t, first, len(fields))
	for i := 0; i < 20; i++ {
		again := m.Match(context.Background(), fields, sampleProfile())
		if diff := cmp.Diff(first, again); diff != "" {
			t.Fatalf("mapping changed between runs (-first +again):\n%s", diff)
		}
	}
	for i, mapping := range first {
		assert.Equal(t, fields[i].ID, mapping.FieldID)
	}

	empty := m.Match(context.Background(), fields, types.FlatProfile{})
	require.Len(t, empty, len(fields))
	for _, mapping := range empty {
		assert.False(t, mapping.Matched())
	}
}

func TestRematchIsMonotonic(t *testing.T) {
	t.Parallel()
	m := New()
	fields := sampleFields()
	profile := sampleProfile()
	prev := m.Match(context.Background(), fields, profile)
	require.Equal(t, types.MatchUnmatched, prev[4].MatchKind)
	require.Equal(t, types.MatchUnmatched, prev[5].MatchKind)

	updated := profile.Clone()
	delete(updated, "personal.first_name")
	updated["application.visa_status"] = "No"
	updated["documents.cover_letter"] = "I like engines."

	next := m.Rematch(context.Background(), fields, updated, prev, map[string]string{"visa_status": "application.visa_status"})
	require.Len(t, next, len(fields))
	for i := range prev {
		if prev[i].Matched() {
			assert.Equal(t, prev[i], next[i], "matched field %s changed", fields[i].ID)
		}
	}
	assert.Equal(t, "application.visa_status", next[4].ProfilePath)
	assert.Equal(t, "No", next[4].Option)
	assert.Equal(t, prev[5], next[5], "optional fields are not re-matched")
}

func TestRematchAcceptsPinnedPath(t *testing.T) {
	t.Parallel()
	field := types.FormField{
		ID: "visa_status", Label: "Visa Sponsorship Required?", HTMLType: types.HTMLSelect,
		Required: true, Options: []string{"Yes", "No"}, Page: 1,
	}
	prev := []types.FieldMapping{types.Unmatched("visa_status", "no candidate above threshold")}
	profile := types.FlatProfile{"answers.q17": "no"}

	got := New().Rematch(context.Background(), []types.FormField{field}, profile, prev, map[string]string{"visa_status": "answers.q17"})
	require.Len(t, got, 1)
	assert.Equal(t, types.FieldMapping{
		FieldID: "visa_status", ProfilePath: "answers.q17", Confidence: 0.85,
		MatchKind: types.MatchNormalized, Option: "No", Reason: "feedback",
	}, got[0])
}

func TestRematchPinnedMatchedField(t *testing.T) {
	t.Parallel()
	field := types.FormField{
		ID: "country", Label: "Country", HTMLType: types.HTMLSelect,
		Required: true, Options: []string{"France", "Germany"}, Page: 1,
	}
	m := New()
	prev := m.Match(context.Background(), []types.FormField{field}, types.FlatProfile{"personal.country": "France"})
	require.Equal(t, types.MatchExact, prev[0].MatchKind)

	t.Run("unusable answer keeps the previous mapping", func(t *testing.T) {
		profile := types.FlatProfile{"personal.country": "France", "application.country": "Spain"}
		got := m.Rematch(context.Background(), []types.FormField{field}, profile, prev, map[string]string{"country": "application.country"})
		assert.Equal(t, prev, got)
	})

	t.Run("usable answer moves the mapping", func(t *testing.T) {
		profile := types.FlatProfile{"personal.country": "France", "application.country": "germany"}
		got := m.Rematch(context.Background(), []types.FormField{field}, profile, prev, map[string]string{"country": "application.country"})
		require.Len(t, got, 1)
		assert.Equal(t, "application.country", got[0].ProfilePath)
		assert.Equal(t, "Germany", got[0].Option)
		assert.Equal(t, types.MatchExact, got[0].MatchKind)
	})
}

type stubSuggester struct {
	suggestion *Suggestion
	err        error
	calls      int
}

func (s *stubSuggester) Suggest(ctx context.Context, field types.FormField, profile types.FlatProfile) (*Suggestion, error) {
	s.calls++
	return s.suggestion, s.err
}

func TestModelTier(t *testing.T) {
	t.Parallel()
	field := types.FormField{ID: "q9", Label: "Where did you study?", HTMLType: types.HTMLText, Page: 1}
	profile := types.FlatProfile{"education.0.school": "UCL", "personal.first_name": "Ada"}

	s := &stubSuggester{suggestion: &Suggestion{Path: "education.0.school", Confidence: 0.95}}
	got := New(WithSuggester(s)).Match(context.Background(), []types.FormField{field}, profile)
	assert.Equal(t, types.FieldMapping{
		FieldID: "q9", ProfilePath: "education.0.school", Confidence: DefaultPartialCap,
		MatchKind: types.MatchPartial, Reason: "model",
	}, got[0])

	s = &stubSuggester{suggestion: &Suggestion{Path: "education.1.school", Confidence: 0.9}}
	got = New(WithSuggester(s)).Match(context.Background(), []types.FormField{field}, profile)
	assert.False(t, got[0].Matched(), "unknown path must be rejected")

	s = &stubSuggester{suggestion: &Suggestion{Path: "education.0.school", Confidence: 0.2}}
	got = New(WithSuggester(s)).Match(context.Background(), []types.FormField{field}, profile)
	assert.False(t, got[0].Matched(), "low confidence must be rejected")

	s = &stubSuggester{err: errors.New("boom")}
	got = New(WithSuggester(s)).Match(context.Background(), []types.FormField{field}, profile)
	assert.False(t, got[0].Matched())

	s = &stubSuggester{suggestion: &Suggestion{Path: "personal.first_name", Confidence: 1}}
	fname := types.FormField{ID: "fname", Label: "First Name", HTMLType: types.HTMLText, Page: 1}
	got = New(WithSuggester(s)).Match(context.Background(), []types.FormField{fname}, profile)
	assert.Equal(t, types.MatchNormalized, got[0].MatchKind)
	assert.Zero(t, s.calls, "rule tiers come first")
}

func TestToolBasedSuggesterCachesDecisions(t *testing.T) {
	t.Parallel()
	chatModel := &fakemodel.Model{
		ToolName:  "suggest_profile_path",
		Arguments: `{"path":"education.0.school","confidence":0.9}`,
	}
	s, err := NewToolBasedSuggester(chatModel, WithCacheSize(8))
	require.NoError(t, err)

	field := types.FormField{ID: "q9", Label: "Where did you study?", HTMLType: types.HTMLText, Page: 1}
	profile := types.FlatProfile{"education.0.school": "UCL"}
	for i := 0; i < 3; i++ {
		got, err := s.Suggest(context.Background(), field, profile)
		require.NoError(t, err)
		assert.Equal(t, "education.0.school", got.Path)
		assert.Equal(t, 0.9, got.Confidence)
	}
	assert.Equal(t, 1, chatModel.Calls())
	require.Len(t, chatModel.LastPrompt(), 2)
	assert.Contains(t, chatModel.LastPrompt()[1].Content, "education.0.school")

	failing := &fakemodel.Model{Err: errors.New("rate limited")}
	s, err = NewToolBasedSuggester(failing)
	require.NoError(t, err)
	_, err = s.Suggest(context.Background(), field, profile)
	require.Error(t, err)
}
