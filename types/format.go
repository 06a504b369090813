package types

import (
	"fmt"
	"sort"
	"strings"

	"github.com/olekukonko/tablewriter"
	"github.com/olekukonko/tablewriter/renderer"
)

func newMarkdownTable(buf *strings.Builder) *tablewriter.Table {
	return tablewriter.NewTable(buf, tablewriter.WithRenderer(renderer.NewMarkdown()))
}

// FormatField renders a single field for prompts.
func FormatField(field FormField) string {
	var buf strings.Builder
	buf.WriteString("# Form field:\n")
	table := newMarkdownTable(&buf)
	table.Header("ID", "Label", "Type", "Required", "Options")
	_ = table.Append(field.ID, field.Label, string(field.HTMLType), fmt.Sprint(field.Required), strings.Join(field.Options, " | "))
	_ = table.Render()
	return buf.String()
}

// FormatCandidates renders the profile paths a matcher may choose from.
func FormatCandidates(profile FlatProfile) string {
	var buf strings.Builder
	buf.WriteString("# Profile paths:\n")
	table := newMarkdownTable(&buf)
	table.Header("Path", "Value")
	for _, path := range profile.Paths() {
		value, ok := profile.Lookup(path)
		if !ok {
			continue
		}
		_ = table.Append(path, truncate(value, 60))
	}
	_ = table.Render()
	return buf.String()
}

// FormatMappings renders one row per field with its mapping decision.
func FormatMappings(fields []FormField, mappings []FieldMapping) string {
	byID := make(map[string]FieldMapping, len(mappings))
	for _, m := range mappings {
		byID[m.FieldID] = m
	}
	var buf strings.Builder
	buf.WriteString("# Field mappings:\n")
	table := newMarkdownTable(&buf)
	table.Header("Field", "Kind", "Confidence", "Profile path", "Reason")
	for _, f := range fields {
		m, ok := byID[f.ID]
		if !ok {
			m = Unmatched(f.ID, "no mapping")
		}
		_ = table.Append(f.ID, string(m.MatchKind), fmt.Sprintf("%.2f", m.Confidence), m.ProfilePath, m.Reason)
	}
	_ = table.Render()
	return buf.String()
}

// FormatResult renders the run summary shown to the user.
func FormatResult(result WorkflowResult) string {
	sections := []string{
		fmt.Sprintf("# Status: %s", result.Status),
		fmt.Sprintf("Filled fields: %d, feedback rounds: %d", result.FilledCount, result.FeedbackRounds),
	}
	if result.MorePages {
		sections = append(sections, "The form may continue beyond the extracted pages.")
	}
	if result.Submitted {
		sections = append(sections, "The form was submitted.")
	}
	if len(result.FailedFields) > 0 {
		var buf strings.Builder
		buf.WriteString("# Failed fields:\n")
		table := newMarkdownTable(&buf)
		table.Header("Field", "Reason", "Retries")
		for _, id := range result.FailedFields {
			_ = table.Append(id, result.FieldErrors[id], fmt.Sprint(result.Retries[id]))
		}
		_ = table.Render()
		sections = append(sections, buf.String())
	}
	return strings.Join(sections, "\n\n")
}

// SortedKeys returns the keys of a string set in order.
func SortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "…"
}
