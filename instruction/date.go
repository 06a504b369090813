package instruction

import (
	"strings"
	"time"

	"github.com/tbxark/jobfill/types"
)

const isoDate = "2006-01-02"

// advertised date patterns; MM/YYYY stays last because DD/MM/YYYY contains it.
var dateLayouts = []struct {
	hint   string
	layout string
}{
	{"MM/DD/YYYY", "01/02/2006"},
	{"DD/MM/YYYY", "02/01/2006"},
	{"YYYY-MM-DD", isoDate},
	{"YYYY/MM/DD", "2006/01/02"},
	{"DD.MM.YYYY", "02.01.2006"},
	{"MM-DD-YYYY", "01-02-2006"},
	{"DD-MM-YYYY", "02-01-2006"},
	{"MM/YYYY", "01/2006"},
}

var inputLayouts = []string{
	isoDate,
	time.RFC3339,
	"2006-01-02 15:04:05",
	"2006/01/02",
	"01/02/2006",
	"02.01.2006",
	"January 2, 2006",
	"Jan 2, 2006",
	"2 January 2006",
	"2 Jan 2006",
	"2006-01",
}

// DateLayout returns the Go layout the field advertises in its label or
// selector hint, or ISO-8601.
func DateLayout(field types.FormField) string {
	text := strings.ToUpper(field.Label + " " + field.SelectorHint)
	for _, l := range dateLayouts {
		if strings.Contains(text, l.hint) {
			return l.layout
		}
	}
	return isoDate
}

// FormatDate rewrites value into the field's layout. Values that parse with
// no known layout are returned unchanged.
func FormatDate(value string, field types.FormField) string {
	v := strings.TrimSpace(value)
	for _, layout := range inputLayouts {
		if t, err := time.Parse(layout, v); err == nil {
			return t.Format(DateLayout(field))
		}
	}
	return value
}
