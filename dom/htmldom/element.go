package htmldom

import (
	"strconv"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"github.com/hazyhaar/consentclick/dom"
)

// Default box for elements without an inline size.
const (
	defaultWidth  = 120
	defaultHeight = 32
)

// Element is a node of a Document.
type Element struct {
	doc *Document
	n   *html.Node
}

// TagName implements dom.Element.
func (e *Element) TagName() string {
	return strings.ToLower(e.n.Data)
}

// Attr implements dom.Element.
func (e *Element) Attr(name string) (string, bool) {
	e.doc.mu.Lock()
	defer e.doc.mu.Unlock()
	for _, a := range e.n.Attr {
		if a.Namespace == "" && strings.EqualFold(a.Key, name) {
			return a.Val, true
		}
	}
	return "", false
}

// DirectText implements dom.Element.
func (e *Element) DirectText() string {
	e.doc.mu.Lock()
	defer e.doc.mu.Unlock()
	var b strings.Builder
	for c := e.n.FirstChild; c != nil; c = c.NextSibling {
		if c.Type == html.TextNode {
			b.WriteString(c.Data)
		}
	}
	return collapse(b.String())
}

// Text implements dom.Element. Light-DOM text only, scripts and styles skipped.
func (e *Element) Text() string {
	e.doc.mu.Lock()
	defer e.doc.mu.Unlock()
	return textContent(e.n)
}

// Style implements dom.Element.
func (e *Element) Style() (dom.Style, error) {
	e.doc.mu.Lock()
	defer e.doc.mu.Unlock()
	if !e.doc.attachedLocked(e.n) {
		return dom.Style{}, dom.ErrDetached
	}
	own := parseStyle(attr(e.n, "style"))

	st := dom.Style{
		Display:         "block",
		Visibility:      "visible",
		Opacity:         "1",
		BackgroundColor: "rgba(0, 0, 0, 0)",
	}
	if hasAttr(e.n, "hidden") {
		st.Display = "none"
	}
	if v, ok := own["display"]; ok {
		st.Display = v
	}
	if v, ok := own["opacity"]; ok {
		st.Opacity = v
	}
	if v, ok := own["background-color"]; ok {
		st.BackgroundColor = v
	} else if v, ok := own["background"]; ok {
		st.BackgroundColor = v
	}
	// visibility inherits.
	for n := e.n; n != nil; n = e.doc.parentAcrossShadow(n) {
		if n.Type != html.ElementNode {
			continue
		}
		if v, ok := parseStyle(attr(n, "style"))["visibility"]; ok {
			st.Visibility = v
			break
		}
	}
	return st, nil
}

// Rect implements dom.Element. The box is empty under any display:none
// ancestor; <html> and <body> fill the viewport.
func (e *Element) Rect() (dom.Rect, error) {
	e.doc.mu.Lock()
	defer e.doc.mu.Unlock()
	if !e.doc.attachedLocked(e.n) {
		return dom.Rect{}, dom.ErrDetached
	}
	for n := e.n; n != nil; n = e.doc.parentAcrossShadow(n) {
		if n.Type != html.ElementNode {
			continue
		}
		if displayNone(n) {
			return dom.Rect{}, nil
		}
	}

	vp := e.doc.viewport
	r := dom.Rect{Width: defaultWidth, Height: defaultHeight}
	if e.n.DataAtom == atom.Html || e.n.DataAtom == atom.Body {
		r.Width, r.Height = vp.Width, vp.Height
	}
	own := parseStyle(attr(e.n, "style"))
	if v, ok := own["width"]; ok {
		r.Width = length(v, vp.Width, vp)
	}
	if v, ok := own["height"]; ok {
		r.Height = length(v, vp.Height, vp)
	}
	return r, nil
}

// Parent implements dom.Element.
func (e *Element) Parent() dom.Element {
	e.doc.mu.Lock()
	defer e.doc.mu.Unlock()
	p := e.n.Parent
	if p == nil || p.Type != html.ElementNode {
		return nil
	}
	return e.doc.wrap(p)
}

// ShadowRoot implements dom.Element.
func (e *Element) ShadowRoot() dom.Root {
	e.doc.mu.Lock()
	defer e.doc.mu.Unlock()
	frag, ok := e.doc.shadows[e.n]
	if !ok {
		return nil
	}
	return &ShadowRoot{doc: e.doc, frag: frag}
}

// Click implements dom.Element: it records the click and runs matching
// OnClick handlers synchronously.
func (e *Element) Click() error {
	d := e.doc
	d.mu.Lock()
	if !d.attachedLocked(e.n) {
		d.mu.Unlock()
		return dom.ErrDetached
	}
	name := attr(e.n, "id")
	if name == "" {
		name = textContent(e.n)
	}
	d.clickLog = append(d.clickLog, name)
	var fns []func(*Element)
	for _, h := range d.clicks {
		if h.sel.Match(e.n) {
			fns = append(fns, h.fn)
		}
	}
	d.mu.Unlock()

	for _, fn := range fns {
		fn(e)
	}
	return nil
}

// SetStyle implements dom.Element.
func (e *Element) SetStyle(prop, value string, important bool) error {
	if important {
		value += " !important"
	}
	return e.editStyle(func(m *styleDecl) { m.set(prop, value) })
}

// RemoveStyle implements dom.Element.
func (e *Element) RemoveStyle(prop string) error {
	return e.editStyle(func(m *styleDecl) { m.del(prop) })
}

func (e *Element) editStyle(edit func(*styleDecl)) error {
	d := e.doc
	d.mu.Lock()
	if !d.attachedLocked(e.n) {
		d.mu.Unlock()
		return dom.ErrDetached
	}
	decl := parseDecl(attr(e.n, "style"))
	edit(decl)
	setAttr(e.n, "style", decl.String())
	fns := d.collectLocked(e.n, dom.Mutation{Kind: dom.MutationAttributes, AttributeName: "style"})
	d.mu.Unlock()
	deliver(fns)
	return nil
}

// RemoveClass implements dom.Element.
func (e *Element) RemoveClass(names ...string) error {
	d := e.doc
	d.mu.Lock()
	if !d.attachedLocked(e.n) {
		d.mu.Unlock()
		return dom.ErrDetached
	}
	drop := make(map[string]bool, len(names))
	for _, n := range names {
		drop[n] = true
	}
	var kept []string
	changed := false
	for _, c := range strings.Fields(attr(e.n, "class")) {
		if drop[c] {
			changed = true
			continue
		}
		kept = append(kept, c)
	}
	if !changed {
		d.mu.Unlock()
		return nil
	}
	setAttr(e.n, "class", strings.Join(kept, " "))
	fns := d.collectLocked(e.n, dom.Mutation{Kind: dom.MutationAttributes, AttributeName: "class"})
	d.mu.Unlock()
	deliver(fns)
	return nil
}

// Remove implements dom.Element.
func (e *Element) Remove() error {
	d := e.doc
	d.mu.Lock()
	parent := e.n.Parent
	if parent == nil {
		d.mu.Unlock()
		return dom.ErrDetached
	}
	fns := d.collectLocked(parent, dom.Mutation{Kind: dom.MutationChildList})
	parent.RemoveChild(e.n)
	d.mu.Unlock()
	deliver(fns)
	return nil
}

// ShadowRoot is an open shadow root of a Document.
type ShadowRoot struct {
	doc  *Document
	frag *html.Node
}

// QueryAll implements dom.Root.
func (s *ShadowRoot) QueryAll(selector string) ([]dom.Element, error) {
	s.doc.mu.Lock()
	defer s.doc.mu.Unlock()
	return s.doc.queryAllLocked(s.frag, selector)
}

// ShadowHosts implements dom.Root.
func (s *ShadowRoot) ShadowHosts() ([]dom.Element, error) {
	s.doc.mu.Lock()
	defer s.doc.mu.Unlock()
	return s.doc.shadowHostsLocked(s.frag), nil
}

// Text implements dom.Root.
func (s *ShadowRoot) Text() string {
	s.doc.mu.Lock()
	defer s.doc.mu.Unlock()
	return textContent(s.frag)
}

// parentAcrossShadow steps to the parent, hopping from a shadow fragment to
// its host. Used for inherited style and ancestor display only.
func (d *Document) parentAcrossShadow(n *html.Node) *html.Node {
	if n.Parent != nil {
		if host, ok := d.fragHost[n.Parent]; ok {
			return host
		}
		return n.Parent
	}
	return nil
}

// --- helpers ---

func attr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Namespace == "" && a.Key == key {
			return a.Val
		}
	}
	return ""
}

func hasAttr(n *html.Node, key string) bool {
	for _, a := range n.Attr {
		if a.Namespace == "" && a.Key == key {
			return true
		}
	}
	return false
}

func setAttr(n *html.Node, key, val string) {
	for i, a := range n.Attr {
		if a.Namespace == "" && a.Key == key {
			n.Attr[i].Val = val
			return
		}
	}
	n.Attr = append(n.Attr, html.Attribute{Key: key, Val: val})
}

func displayNone(n *html.Node) bool {
	if v, ok := parseStyle(attr(n, "style"))["display"]; ok {
		return v == "none"
	}
	return hasAttr(n, "hidden")
}

func textContent(n *html.Node) string {
	var b strings.Builder
	var walk func(*html.Node)
	walk = func(c *html.Node) {
		switch c.Type {
		case html.TextNode:
			b.WriteString(c.Data)
			b.WriteByte(' ')
			return
		case html.ElementNode:
			switch c.DataAtom {
			case atom.Script, atom.Style, atom.Template, atom.Noscript:
				return
			}
		}
		for k := c.FirstChild; k != nil; k = k.NextSibling {
			walk(k)
		}
	}
	walk(n)
	return collapse(b.String())
}

func collapse(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// parseStyle returns lower-cased property -> value with !important stripped.
func parseStyle(s string) map[string]string {
	out := make(map[string]string)
	for _, p := range parseDecl(s).props {
		v := strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(p.value), "!important"))
		out[p.name] = strings.ToLower(v)
	}
	return out
}

type styleProp struct {
	name, value string
}

// styleDecl is an ordered inline declaration block.
type styleDecl struct {
	props []styleProp
}

func parseDecl(s string) *styleDecl {
	d := &styleDecl{}
	for _, part := range strings.Split(s, ";") {
		name, value, ok := strings.Cut(part, ":")
		if !ok {
			continue
		}
		name = strings.ToLower(strings.TrimSpace(name))
		if name == "" {
			continue
		}
		d.set(name, strings.TrimSpace(value))
	}
	return d
}

func (d *styleDecl) set(name, value string) {
	for i := range d.props {
		if d.props[i].name == name {
			d.props[i].value = value
			return
		}
	}
	d.props = append(d.props, styleProp{name: name, value: value})
}

func (d *styleDecl) del(name string) {
	kept := d.props[:0]
	for _, p := range d.props {
		if p.name != name {
			kept = append(kept, p)
		}
	}
	d.props = kept
}

func (d *styleDecl) String() string {
	parts := make([]string, 0, len(d.props))
	for _, p := range d.props {
		parts = append(parts, p.name+": "+p.value)
	}
	return strings.Join(parts, "; ")
}

// length resolves a CSS length in px, vw, vh or % of ref. Unknown units
// resolve to zero.
func length(v string, ref float64, vp dom.Size) float64 {
	v = strings.TrimSpace(v)
	unit := func(suffix string) (float64, bool) {
		num, ok := strings.CutSuffix(v, suffix)
		if !ok {
			return 0, false
		}
		f, err := strconv.ParseFloat(strings.TrimSpace(num), 64)
		if err != nil {
			return 0, false
		}
		return f, true
	}
	if f, ok := unit("px"); ok {
		return f
	}
	if f, ok := unit("vw"); ok {
		return f * vp.Width / 100
	}
	if f, ok := unit("vh"); ok {
		return f * vp.Height / 100
	}
	if f, ok := unit("%"); ok {
		return f * ref / 100
	}
	if f, err := strconv.ParseFloat(v, 64); err == nil {
		return f
	}
	return 0
}
