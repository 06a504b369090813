package browser

import (
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"github.com/tbxark/jobfill/types"
)

var skippedInputTypes = map[string]struct{}{
	"hidden": {}, "submit": {}, "button": {}, "reset": {}, "image": {},
}

// inputTypes maps HTML input types onto field types; unknown types are text.
var inputTypes = map[string]types.HTMLType{
	"email":          types.HTMLEmail,
	"tel":            types.HTMLTel,
	"checkbox":       types.HTMLCheckbox,
	"radio":          types.HTMLRadio,
	"file":           types.HTMLFile,
	"date":           types.HTMLDate,
	"month":          types.HTMLDate,
	"datetime-local": types.HTMLDate,
}

var nextWords = []string{"next", "continue"}

// ParseForm reads the form controls of an HTML document in document order.
// Radio buttons sharing a name become one field whose options are the
// buttons' labels. A control's page is the nearest data-page or data-step
// ancestor value, 1 when there is none. MorePages is set when a next-step
// control or pagination marker sits on the last page that holds fields; one
// on an earlier step only moves between pages already extracted.
func ParseForm(r io.Reader, url string) (types.Extraction, error) {
	doc, err := html.Parse(r)
	if err != nil {
		return types.Extraction{}, fmt.Errorf("browser: parse html: %w", err)
	}
	p := &formParser{
		labels: make(map[string]string),
		radios: make(map[string]int),
		seen:   make(map[string]struct{}),
	}
	p.collectLabels(doc)
	p.walk(doc)
	lastPage := 1
	for _, f := range p.fields {
		lastPage = max(lastPage, f.Page)
	}
	return types.Extraction{URL: url, Fields: p.fields, MorePages: p.nextPage >= lastPage}, nil
}

type formParser struct {
	labels map[string]string
	fields []types.FormField
	radios map[string]int
	seen   map[string]struct{}

	// nextPage is the highest page holding a next-step control, 0 for none.
	nextPage int
}

func (p *formParser) collectLabels(n *html.Node) {
	if n.Type == html.ElementNode && n.DataAtom == atom.Label {
		if id := attr(n, "for"); id != "" {
			if _, ok := p.labels[id]; !ok {
				p.labels[id] = cleanLabel(collectText(n))
			}
		}
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		p.collectLabels(c)
	}
}

func (p *formParser) walk(n *html.Node) {
	if n.Type == html.ElementNode {
		p.checkPagination(n)
		switch n.DataAtom {
		case atom.Input:
			p.input(n)
		case atom.Select:
			p.selectField(n)
		case atom.Textarea:
			p.add(n, types.HTMLTextarea, nil)
		}
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		p.walk(c)
	}
}

func (p *formParser) input(n *html.Node) {
	typ := strings.ToLower(attr(n, "type"))
	if _, skip := skippedInputTypes[typ]; skip {
		return
	}
	htmlType, ok := inputTypes[typ]
	if !ok {
		htmlType = types.HTMLText
	}
	if htmlType == types.HTMLRadio {
		p.radio(n)
		return
	}
	p.add(n, htmlType, nil)
}

func (p *formParser) selectField(n *html.Node) {
	var options []string
	var walk func(*html.Node)
	walk = func(c *html.Node) {
		if c.Type == html.ElementNode && c.DataAtom == atom.Option {
			if text := collapse(collectText(c)); text != "" {
				options = append(options, text)
			}
			return
		}
		for cc := c.FirstChild; cc != nil; cc = cc.NextSibling {
			walk(cc)
		}
	}
	walk(n)
	p.add(n, types.HTMLSelect, options)
}

func (p *formParser) add(n *html.Node, htmlType types.HTMLType, options []string) {
	id, name := attr(n, "id"), attr(n, "name")
	fieldID := id
	if fieldID == "" {
		fieldID = name
	}
	if fieldID == "" {
		return
	}
	if _, dup := p.seen[fieldID]; dup {
		slog.Debug("skipping duplicate form control", "id", fieldID)
		return
	}
	p.seen[fieldID] = struct{}{}

	field := types.FormField{
		ID:       fieldID,
		Label:    p.labelOf(n, id, name),
		HTMLType: htmlType,
		Required: isRequired(n),
		Options:  options,
		Page:     pageOf(n),
	}
	switch {
	case id != "" && name != "" && name != id:
		field.SelectorHint = fmt.Sprintf(`[name=%q]`, name)
	case id == "":
		field.SelectorHint = fmt.Sprintf(`%s[name=%q]`, n.Data, name)
	}
	p.fields = append(p.fields, field)
}

// radio folds a radio button into the field of its group.
func (p *formParser) radio(n *html.Node) {
	name := attr(n, "name")
	if name == "" {
		name = attr(n, "id")
	}
	if name == "" {
		return
	}
	option := p.ownLabel(n, attr(n, "id"))
	if option == "" {
		option = attr(n, "value")
	}
	if i, ok := p.radios[name]; ok {
		f := &p.fields[i]
		if option != "" {
			f.Options = append(f.Options, option)
		}
		f.Required = f.Required || isRequired(n)
		return
	}
	if _, dup := p.seen[name]; dup {
		return
	}
	p.seen[name] = struct{}{}
	label := legendOf(n)
	if label == "" {
		label = firstNonEmpty(attr(n, "aria-label"), name)
	}
	field := types.FormField{
		ID:       name,
		Label:    label,
		HTMLType: types.HTMLRadio,
		Required: isRequired(n),
		Page:     pageOf(n),
	}
	if option != "" {
		field.Options = []string{option}
	}
	p.radios[name] = len(p.fields)
	p.fields = append(p.fields, field)
}

// labelOf prefers an explicit <label for>, then a wrapping label, then
// aria-label, placeholder and name.
func (p *formParser) labelOf(n *html.Node, id, name string) string {
	if label := p.ownLabel(n, id); label != "" {
		return label
	}
	return firstNonEmpty(attr(n, "aria-label"), attr(n, "placeholder"), name, id)
}

func (p *formParser) ownLabel(n *html.Node, id string) string {
	if id != "" {
		if label := p.labels[id]; label != "" {
			return label
		}
	}
	for a := n.Parent; a != nil; a = a.Parent {
		if a.Type == html.ElementNode && a.DataAtom == atom.Label {
			return cleanLabel(collectText(a))
		}
	}
	return ""
}

func (p *formParser) checkPagination(n *html.Node) {
	if isPaginationMarker(n) {
		p.nextPage = max(p.nextPage, pageOf(n))
	}
}

func isPaginationMarker(n *html.Node) bool {
	for _, key := range []string{"class", "id"} {
		if strings.Contains(strings.ToLower(attr(n, key)), "pagination") {
			return true
		}
	}
	switch n.DataAtom {
	case atom.Button, atom.A:
		return isNextText(collectText(n))
	case atom.Input:
		typ := strings.ToLower(attr(n, "type"))
		return (typ == "submit" || typ == "button") && isNextText(attr(n, "value"))
	}
	return false
}

// isNextText reports whether a control caption reads as "go to next step".
func isNextText(text string) bool {
	text = strings.ToLower(text)
	for _, w := range nextWords {
		if strings.Contains(text, w) {
			return true
		}
	}
	return false
}

func isRequired(n *html.Node) bool {
	if hasAttr(n, "required") {
		return true
	}
	return strings.EqualFold(attr(n, "aria-required"), "true")
}

func pageOf(n *html.Node) int {
	for a := n; a != nil; a = a.Parent {
		if a.Type != html.ElementNode {
			continue
		}
		for _, key := range []string{"data-page", "data-step"} {
			if v := attr(a, key); v != "" {
				if page, err := strconv.Atoi(strings.TrimSpace(v)); err == nil && page >= 1 {
					return page
				}
			}
		}
	}
	return 1
}

func legendOf(n *html.Node) string {
	for a := n.Parent; a != nil; a = a.Parent {
		if a.Type != html.ElementNode || a.DataAtom != atom.Fieldset {
			continue
		}
		for c := a.FirstChild; c != nil; c = c.NextSibling {
			if c.Type == html.ElementNode && c.DataAtom == atom.Legend {
				return cleanLabel(collectText(c))
			}
		}
		return ""
	}
	return ""
}

func attr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
}

func hasAttr(n *html.Node, key string) bool {
	for _, a := range n.Attr {
		if a.Key == key {
			return true
		}
	}
	return false
}

// collectText returns the text under n, leaving out the content of nested
// controls so a wrapping label does not absorb option text.
func collectText(n *html.Node) string {
	var b strings.Builder
	var walk func(*html.Node)
	walk = func(c *html.Node) {
		switch {
		case c.Type == html.TextNode:
			b.WriteString(c.Data)
			b.WriteByte(' ')
			return
		case c.Type == html.ElementNode && (c.DataAtom == atom.Select || c.DataAtom == atom.Textarea ||
			c.DataAtom == atom.Script || c.DataAtom == atom.Style):
			return
		}
		for cc := c.FirstChild; cc != nil; cc = cc.NextSibling {
			walk(cc)
		}
	}
	walk(n)
	return b.String()
}

func collapse(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// cleanLabel drops the required marker and trailing colon.
func cleanLabel(s string) string {
	return strings.TrimSpace(strings.TrimRight(collapse(s), " *:"))
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}
