// Package htmldom is an in-memory dom.Document backed by golang.org/x/net/html.
//
// There is no layout engine and no script execution. Computed style comes
// from inline style attributes and the hidden attribute; geometry from inline
// width/height. Declarative shadow roots (<template shadowrootmode="open">)
// are attached to their host when parsed. Mutations made through the
// Document or its elements are delivered to observers the way a
// MutationObserver would deliver them, which makes the package usable both
// for offline inspection of saved pages and as a scripted test page.
//
// A Document is safe for concurrent use.
package htmldom

import (
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/PuerkitoBio/goquery"
	"github.com/andybalholm/cascadia"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"github.com/hazyhaar/consentclick/dom"
)

// DefaultViewport is the viewport used when none is configured.
var DefaultViewport = dom.Size{Width: 1280, Height: 720}

// Document is a parsed page.
type Document struct {
	mu sync.Mutex

	root     *html.Node
	shadows  map[*html.Node]*html.Node // host -> shadow fragment
	fragHost map[*html.Node]*html.Node // shadow fragment -> host

	viewport   dom.Size
	hidden     bool
	readyState string

	nextID        int
	observers     map[int]*observer
	visListeners  map[int]func(bool)
	readyHandlers map[int]func()
	loadHandlers  map[int]func()
	clicks        []clickHandler
	clickLog      []string
}

type observer struct {
	target *html.Node
	opts   dom.ObserveOptions
	fn     func([]dom.Mutation)
}

type clickHandler struct {
	sel cascadia.Selector
	fn  func(*Element)
}

// Option configures a Document.
type Option func(*Document)

// WithViewport sets the viewport size.
func WithViewport(s dom.Size) Option {
	return func(d *Document) { d.viewport = s }
}

// WithHidden starts the document as a background tab.
func WithHidden(hidden bool) Option {
	return func(d *Document) { d.hidden = hidden }
}

// Parse reads an HTML document.
func Parse(r io.Reader, opts ...Option) (*Document, error) {
	root, err := html.Parse(r)
	if err != nil {
		return nil, fmt.Errorf("htmldom: parse: %w", err)
	}
	d := &Document{
		root:          root,
		shadows:       make(map[*html.Node]*html.Node),
		fragHost:      make(map[*html.Node]*html.Node),
		viewport:      DefaultViewport,
		readyState:    "interactive",
		observers:     make(map[int]*observer),
		visListeners:  make(map[int]func(bool)),
		readyHandlers: make(map[int]func()),
		loadHandlers:  make(map[int]func()),
	}
	for _, o := range opts {
		o(d)
	}
	d.attachShadowRoots(root)
	return d, nil
}

// ParseString is Parse over a string.
func ParseString(src string, opts ...Option) (*Document, error) {
	return Parse(strings.NewReader(src), opts...)
}

// attachShadowRoots turns declarative shadow templates under n into shadow
// roots. Nested templates inside a new root are processed recursively.
func (d *Document) attachShadowRoots(n *html.Node) {
	var templates []*html.Node
	var walk func(*html.Node)
	walk = func(c *html.Node) {
		if c.Type == html.ElementNode && c.DataAtom == atom.Template && c.Parent != nil {
			if mode := attr(c, "shadowrootmode"); mode == "open" || mode == "closed" {
				templates = append(templates, c)
				return
			}
		}
		for k := c.FirstChild; k != nil; k = k.NextSibling {
			walk(k)
		}
	}
	walk(n)

	for _, t := range templates {
		host := t.Parent
		host.RemoveChild(t)
		if attr(t, "shadowrootmode") != "open" {
			// Closed roots are unreachable from page script.
			continue
		}
		if _, exists := d.shadows[host]; exists {
			continue
		}
		frag := &html.Node{Type: html.DocumentNode}
		for c := t.FirstChild; c != nil; {
			next := c.NextSibling
			t.RemoveChild(c)
			frag.AppendChild(c)
			c = next
		}
		d.shadows[host] = frag
		d.fragHost[frag] = host
		d.attachShadowRoots(frag)
	}
}

// --- dom.Root ---

// QueryAll implements dom.Root over the main tree.
func (d *Document) QueryAll(selector string) ([]dom.Element, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.queryAllLocked(d.root, selector)
}

// ShadowHosts implements dom.Root over the main tree.
func (d *Document) ShadowHosts() ([]dom.Element, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.shadowHostsLocked(d.root), nil
}

// Text implements dom.Root; it is the body text.
func (d *Document) Text() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	if b := d.bodyLocked(); b != nil {
		return textContent(b)
	}
	return textContent(d.root)
}

func (d *Document) queryAllLocked(root *html.Node, selector string) ([]dom.Element, error) {
	sel, err := cascadia.Compile(selector)
	if err != nil {
		return nil, fmt.Errorf("htmldom: selector %q: %w", selector, err)
	}
	var out []dom.Element
	goquery.NewDocumentFromNode(root).FindMatcher(sel).Each(func(_ int, s *goquery.Selection) {
		out = append(out, d.wrap(s.Get(0)))
	})
	return out, nil
}

func (d *Document) shadowHostsLocked(root *html.Node) []dom.Element {
	var out []dom.Element
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			if c.Type != html.ElementNode {
				continue
			}
			if _, ok := d.shadows[c]; ok {
				out = append(out, d.wrap(c))
			}
			walk(c)
		}
	}
	walk(root)
	return out
}

// --- dom.Document ---

// DocumentElement returns <html>.
func (d *Document) DocumentElement() dom.Element {
	d.mu.Lock()
	defer d.mu.Unlock()
	for c := d.root.FirstChild; c != nil; c = c.NextSibling {
		if c.Type == html.ElementNode && c.DataAtom == atom.Html {
			return d.wrap(c)
		}
	}
	return nil
}

// Body returns <body>, or nil.
func (d *Document) Body() dom.Element {
	d.mu.Lock()
	defer d.mu.Unlock()
	if b := d.bodyLocked(); b != nil {
		return d.wrap(b)
	}
	return nil
}

func (d *Document) bodyLocked() *html.Node {
	for c := d.root.FirstChild; c != nil; c = c.NextSibling {
		if c.Type == html.ElementNode && c.DataAtom == atom.Html {
			for b := c.FirstChild; b != nil; b = b.NextSibling {
				if b.Type == html.ElementNode && b.DataAtom == atom.Body {
					return b
				}
			}
		}
	}
	return nil
}

// Viewport returns the configured viewport.
func (d *Document) Viewport() (dom.Size, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.viewport, nil
}

// Hidden reports the visibility state.
func (d *Document) Hidden() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.hidden
}

// ReadyState returns "interactive" after parsing and "complete" after FireLoad.
func (d *Document) ReadyState() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.readyState
}

// Observe registers a mutation observer on target.
func (d *Document) Observe(target dom.Element, opts dom.ObserveOptions, fn func([]dom.Mutation)) (dom.CancelFunc, error) {
	el, ok := target.(*Element)
	if !ok || el.doc != d {
		return nil, fmt.Errorf("htmldom: observe: foreign element")
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.attachedLocked(el.n) {
		return nil, dom.ErrDetached
	}
	id := d.nextID
	d.nextID++
	d.observers[id] = &observer{target: el.n, opts: opts, fn: fn}
	return d.canceler(func() { delete(d.observers, id) }), nil
}

// OnVisibilityChange registers fn for SetHidden transitions.
func (d *Document) OnVisibilityChange(fn func(hidden bool)) dom.CancelFunc {
	d.mu.Lock()
	defer d.mu.Unlock()
	id := d.nextID
	d.nextID++
	d.visListeners[id] = fn
	return d.canceler(func() { delete(d.visListeners, id) })
}

// OnContentLoaded registers fn for FireContentLoaded.
func (d *Document) OnContentLoaded(fn func()) dom.CancelFunc {
	d.mu.Lock()
	defer d.mu.Unlock()
	id := d.nextID
	d.nextID++
	d.readyHandlers[id] = fn
	return d.canceler(func() { delete(d.readyHandlers, id) })
}

// OnLoad registers fn for FireLoad.
func (d *Document) OnLoad(fn func()) dom.CancelFunc {
	d.mu.Lock()
	defer d.mu.Unlock()
	id := d.nextID
	d.nextID++
	d.loadHandlers[id] = fn
	return d.canceler(func() { delete(d.loadHandlers, id) })
}

func (d *Document) canceler(del func()) dom.CancelFunc {
	var once sync.Once
	return func() {
		once.Do(func() {
			d.mu.Lock()
			del()
			d.mu.Unlock()
		})
	}
}

// --- scripting ---

// OnClick runs fn whenever an element matching selector is clicked.
func (d *Document) OnClick(selector string, fn func(*Element)) error {
	sel, err := cascadia.Compile(selector)
	if err != nil {
		return fmt.Errorf("htmldom: selector %q: %w", selector, err)
	}
	d.mu.Lock()
	d.clicks = append(d.clicks, clickHandler{sel: sel, fn: fn})
	d.mu.Unlock()
	return nil
}

// ClickLog lists clicked elements in order, each named by its id or, when
// it has none, by its trimmed text.
func (d *Document) ClickLog() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.clickLog...)
}

// Insert parses fragment and appends it to the first element matching
// parentSelector.
func (d *Document) Insert(parentSelector, fragment string) error {
	d.mu.Lock()
	parents, err := d.queryAllLocked(d.root, parentSelector)
	if err != nil {
		d.mu.Unlock()
		return err
	}
	if len(parents) == 0 {
		d.mu.Unlock()
		return fmt.Errorf("htmldom: insert: no element matches %q", parentSelector)
	}
	parent := parents[0].(*Element).n
	nodes, err := html.ParseFragment(strings.NewReader(fragment), parent)
	if err != nil {
		d.mu.Unlock()
		return fmt.Errorf("htmldom: insert: %w", err)
	}
	for _, n := range nodes {
		parent.AppendChild(n)
	}
	d.attachShadowRoots(parent)
	fns := d.collectLocked(parent, dom.Mutation{Kind: dom.MutationChildList})
	d.mu.Unlock()
	deliver(fns)
	return nil
}

// RemoveAll detaches every main-tree element matching selector and returns
// how many were removed.
func (d *Document) RemoveAll(selector string) (int, error) {
	d.mu.Lock()
	els, err := d.queryAllLocked(d.root, selector)
	if err != nil {
		d.mu.Unlock()
		return 0, err
	}
	var fns []delivery
	removed := 0
	for _, e := range els {
		n := e.(*Element).n
		if n.Parent == nil {
			continue // already gone with an ancestor
		}
		parent := n.Parent
		fns = append(fns, d.collectLocked(parent, dom.Mutation{Kind: dom.MutationChildList})...)
		parent.RemoveChild(n)
		removed++
	}
	d.mu.Unlock()
	deliver(fns)
	return removed, nil
}

// SetAttr sets an attribute on every main-tree element matching selector.
func (d *Document) SetAttr(selector, name, value string) error {
	d.mu.Lock()
	els, err := d.queryAllLocked(d.root, selector)
	if err != nil {
		d.mu.Unlock()
		return err
	}
	var fns []delivery
	for _, e := range els {
		n := e.(*Element).n
		setAttr(n, name, value)
		fns = append(fns, d.collectLocked(n, dom.Mutation{Kind: dom.MutationAttributes, AttributeName: name})...)
	}
	d.mu.Unlock()
	deliver(fns)
	return nil
}

// SetHidden switches the tab visibility and notifies listeners on change.
func (d *Document) SetHidden(hidden bool) {
	d.mu.Lock()
	if d.hidden == hidden {
		d.mu.Unlock()
		return
	}
	d.hidden = hidden
	fns := make([]func(bool), 0, len(d.visListeners))
	for _, fn := range d.visListeners {
		fns = append(fns, fn)
	}
	d.mu.Unlock()
	for _, fn := range fns {
		fn(hidden)
	}
}

// FireContentLoaded dispatches DOMContentLoaded.
func (d *Document) FireContentLoaded() {
	d.mu.Lock()
	fns := drain(d.readyHandlers)
	d.mu.Unlock()
	for _, fn := range fns {
		fn()
	}
}

// FireLoad marks the document complete and dispatches the load event.
func (d *Document) FireLoad() {
	d.mu.Lock()
	d.readyState = "complete"
	fns := drain(d.loadHandlers)
	d.mu.Unlock()
	for _, fn := range fns {
		fn()
	}
}

// Has reports whether any main-tree element matches selector.
func (d *Document) Has(selector string) bool {
	els, err := d.QueryAll(selector)
	return err == nil && len(els) > 0
}

// HTML renders the main tree.
func (d *Document) HTML() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	var b strings.Builder
	_ = html.Render(&b, d.root)
	return b.String()
}

func drain(m map[int]func()) []func() {
	out := make([]func(), 0, len(m))
	for id, fn := range m {
		out = append(out, fn)
		delete(m, id)
	}
	return out
}

// --- mutation delivery ---

type delivery struct {
	fn  func([]dom.Mutation)
	rec dom.Mutation
}

// collectLocked finds the observers interested in a mutation whose target
// is n. Observers never see across a shadow boundary.
func (d *Document) collectLocked(n *html.Node, rec dom.Mutation) []delivery {
	var out []delivery
	for _, o := range d.observers {
		switch rec.Kind {
		case dom.MutationChildList:
			if !o.opts.ChildList {
				continue
			}
		case dom.MutationAttributes:
			if !o.opts.Attributes {
				continue
			}
		}
		if o.target == n || (o.opts.Subtree && isAncestor(o.target, n)) {
			out = append(out, delivery{fn: o.fn, rec: rec})
		}
	}
	return out
}

func deliver(ds []delivery) {
	for _, d := range ds {
		d.fn([]dom.Mutation{d.rec})
	}
}

func isAncestor(anc, n *html.Node) bool {
	for p := n.Parent; p != nil; p = p.Parent {
		if p == anc {
			return true
		}
	}
	return false
}

// attachedLocked reports whether n is reachable from the document root,
// possibly through shadow hosts.
func (d *Document) attachedLocked(n *html.Node) bool {
	for {
		top := n
		for top.Parent != nil {
			top = top.Parent
		}
		if top == d.root {
			return true
		}
		host, ok := d.fragHost[top]
		if !ok {
			return false
		}
		n = host
	}
}

func (d *Document) wrap(n *html.Node) *Element {
	return &Element{doc: d, n: n}
}
