package roddom

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-rod/rod"

	"github.com/hazyhaar/consentclick/dom"
)

// Element is a remote element handle.
type Element struct {
	doc *Document
	el  *rod.Element
}

// Rod returns the underlying rod element.
func (e *Element) Rod() *rod.Element {
	return e.el
}

func (e *Element) eval(js string, args ...interface{}) (string, error) {
	res, err := e.el.Eval(js, args...)
	if err != nil {
		return "", err
	}
	return res.Value.Str(), nil
}

// TagName implements dom.Element.
func (e *Element) TagName() string {
	s, err := e.eval(`() => this.tagName ? this.tagName.toLowerCase() : ''`)
	if err != nil {
		return ""
	}
	return s
}

// Attr implements dom.Element.
func (e *Element) Attr(name string) (string, bool) {
	v, err := e.el.Attribute(name)
	if err != nil || v == nil {
		return "", false
	}
	return *v, true
}

// DirectText implements dom.Element.
func (e *Element) DirectText() string {
	s, err := e.eval(`() => Array.from(this.childNodes)
		.filter(n => n.nodeType === Node.TEXT_NODE)
		.map(n => n.textContent).join(' ')`)
	if err != nil {
		return ""
	}
	return collapse(s)
}

// Text implements dom.Element.
func (e *Element) Text() string {
	s, err := e.eval(`() => this.textContent || ''`)
	if err != nil {
		return ""
	}
	return collapse(s)
}

// Style implements dom.Element with getComputedStyle.
func (e *Element) Style() (dom.Style, error) {
	res, err := e.el.Eval(`() => {
		if (!this.isConnected) return null;
		const s = getComputedStyle(this);
		return {display: s.display, visibility: s.visibility, opacity: s.opacity, bg: s.backgroundColor};
	}`)
	if err != nil {
		return dom.Style{}, fmt.Errorf("roddom: style: %w", err)
	}
	if res.Value.Nil() {
		return dom.Style{}, dom.ErrDetached
	}
	var s struct {
		Display    string `json:"display"`
		Visibility string `json:"visibility"`
		Opacity    string `json:"opacity"`
		BG         string `json:"bg"`
	}
	if err := res.Value.Unmarshal(&s); err != nil {
		return dom.Style{}, fmt.Errorf("roddom: style: %w", err)
	}
	return dom.Style{Display: s.Display, Visibility: s.Visibility, Opacity: s.Opacity, BackgroundColor: s.BG}, nil
}

// Rect implements dom.Element with getBoundingClientRect.
func (e *Element) Rect() (dom.Rect, error) {
	res, err := e.el.Eval(`() => {
		if (!this.isConnected) return null;
		const r = this.getBoundingClientRect();
		return {x: r.x, y: r.y, width: r.width, height: r.height};
	}`)
	if err != nil {
		return dom.Rect{}, fmt.Errorf("roddom: rect: %w", err)
	}
	if res.Value.Nil() {
		return dom.Rect{}, dom.ErrDetached
	}
	var raw struct {
		X, Y, Width, Height float64
	}
	if err := res.Value.Unmarshal(&raw); err != nil {
		return dom.Rect{}, fmt.Errorf("roddom: rect: %w", err)
	}
	return dom.Rect{X: raw.X, Y: raw.Y, Width: raw.Width, Height: raw.Height}, nil
}

// Parent implements dom.Element. It is nil at a shadow root boundary.
func (e *Element) Parent() dom.Element {
	p, err := e.el.Parent()
	if err != nil || p == nil {
		return nil
	}
	return e.doc.wrap(p)
}

// ShadowRoot implements dom.Element. Closed roots are reported as absent.
func (e *Element) ShadowRoot() dom.Root {
	res, err := e.el.Eval(`() => !!this.shadowRoot`)
	if err != nil || !res.Value.Bool() {
		return nil
	}
	sr, err := e.el.ShadowRoot()
	if err != nil || sr == nil {
		return nil
	}
	return &ShadowRoot{doc: e.doc, el: sr}
}

// Click implements dom.Element with HTMLElement.click().
func (e *Element) Click() error {
	res, err := e.el.Eval(`() => {
		if (!this.isConnected) return false;
		this.click();
		return true;
	}`)
	if err != nil {
		return fmt.Errorf("roddom: click: %w", err)
	}
	if !res.Value.Bool() {
		return dom.ErrDetached
	}
	return nil
}

// SetStyle implements dom.Element.
func (e *Element) SetStyle(prop, value string, important bool) error {
	priority := ""
	if important {
		priority = "important"
	}
	_, err := e.el.Eval(`(p, v, prio) => this.style.setProperty(p, v, prio)`, prop, value, priority)
	if err != nil {
		return fmt.Errorf("roddom: set style %s: %w", prop, err)
	}
	return nil
}

// RemoveStyle implements dom.Element.
func (e *Element) RemoveStyle(prop string) error {
	if _, err := e.el.Eval(`p => this.style.removeProperty(p)`, prop); err != nil {
		return fmt.Errorf("roddom: remove style %s: %w", prop, err)
	}
	return nil
}

// RemoveClass implements dom.Element.
func (e *Element) RemoveClass(names ...string) error {
	if len(names) == 0 {
		return nil
	}
	if _, err := e.el.Eval(`names => this.classList.remove(...names)`, names); err != nil {
		return fmt.Errorf("roddom: remove class: %w", err)
	}
	return nil
}

// Remove implements dom.Element.
func (e *Element) Remove() error {
	res, err := e.el.Eval(`() => {
		if (!this.parentNode) return false;
		this.remove();
		return true;
	}`)
	if err != nil {
		return fmt.Errorf("roddom: remove: %w", err)
	}
	if !res.Value.Bool() {
		return dom.ErrDetached
	}
	return nil
}

// ShadowRoot is an open shadow root.
type ShadowRoot struct {
	doc *Document
	el  *rod.Element
}

// QueryAll implements dom.Root.
func (s *ShadowRoot) QueryAll(selector string) ([]dom.Element, error) {
	els, err := s.el.Elements(selector)
	if err != nil {
		return nil, fmt.Errorf("roddom: shadow query %q: %w", selector, err)
	}
	return s.doc.wrapAll(els), nil
}

// ShadowHosts implements dom.Root.
func (s *ShadowRoot) ShadowHosts() ([]dom.Element, error) {
	els, err := s.el.ElementsByJS(rod.Eval(
		`() => Array.from(this.querySelectorAll('*')).filter(e => e.shadowRoot)`))
	if err != nil {
		var nf *rod.ElementNotFoundError
		if errors.As(err, &nf) {
			return nil, nil
		}
		return nil, fmt.Errorf("roddom: shadow hosts: %w", err)
	}
	return s.doc.wrapAll(els), nil
}

// Text implements dom.Root.
func (s *ShadowRoot) Text() string {
	res, err := s.el.Eval(`() => this.textContent || ''`)
	if err != nil {
		return ""
	}
	return collapse(res.Value.Str())
}

func collapse(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
