// Package roddom adapts a live go-rod page to dom.Document.
//
// Element operations run as small functions evaluated on the remote object.
// Clicks are dispatched with HTMLElement.click() so that off-screen or
// covered controls still receive them. Mutation records, visibility changes
// and the DOMContentLoaded/load events travel from the page through a single
// Runtime binding and are fanned out to registered Go callbacks.
package roddom

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"

	"github.com/hazyhaar/consentclick/dom"
)

//go:embed bridge.js
var bridgeJS string

const bindingName = "__consentclick_binding"

// Document is a dom.Document over one rod page. The bridge is installed in
// the current document and in every document the page navigates to, so a
// Document can be created on a blank tab before navigation and still see
// DOMContentLoaded and load. Observers and listeners do not survive a
// navigation.
type Document struct {
	page   *rod.Page
	logger *slog.Logger
	cancel context.CancelFunc

	mu        sync.Mutex
	nextID    int
	observers map[int]func([]dom.Mutation)
	vis       map[int]func(bool)
	ready     map[int]func()
	load      map[int]func()
}

// New binds to page and installs the event bridge. The bridge stops
// when ctx ends or Close is called.
func New(ctx context.Context, page *rod.Page, logger *slog.Logger) (*Document, error) {
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(ctx)
	d := &Document{
		page:      page.Context(ctx),
		logger:    logger,
		cancel:    cancel,
		observers: make(map[int]func([]dom.Mutation)),
		vis:       make(map[int]func(bool)),
		ready:     make(map[int]func()),
		load:      make(map[int]func()),
	}

	if err := (proto.RuntimeAddBinding{Name: bindingName}).Call(d.page); err != nil {
		logger.Warn("roddom: addBinding failed (may already exist)", "error", err)
	}
	wait := d.page.EachEvent(func(e *proto.RuntimeBindingCalled) {
		if e.Name == bindingName {
			d.dispatch(e.Payload)
		}
	})
	go wait()

	script := fmt.Sprintf("window.__consentclickBinding = %q;\n%s", bindingName, bridgeJS)
	if _, err := d.page.EvalOnNewDocument(script); err != nil {
		cancel()
		return nil, fmt.Errorf("roddom: install bridge: %w", err)
	}
	if _, err := d.page.Eval("() => {" + script + "}"); err != nil {
		cancel()
		return nil, fmt.Errorf("roddom: inject bridge: %w", err)
	}
	return d, nil
}

// Close stops event delivery.
func (d *Document) Close() {
	d.cancel()
}

// Page returns the underlying page.
func (d *Document) Page() *rod.Page {
	return d.page
}

type bridgeMsg struct {
	Kind    string `json:"kind"`
	ID      int    `json:"id"`
	Hidden  bool   `json:"hidden"`
	Records []struct {
		Type string `json:"type"`
		Attr string `json:"attr"`
	} `json:"records"`
}

func (d *Document) dispatch(payload string) {
	var msg bridgeMsg
	if err := json.Unmarshal([]byte(payload), &msg); err != nil {
		d.logger.Warn("roddom: parse binding payload", "error", err)
		return
	}

	switch msg.Kind {
	case "mutation":
		d.mu.Lock()
		fn := d.observers[msg.ID]
		d.mu.Unlock()
		if fn == nil {
			return
		}
		muts := make([]dom.Mutation, 0, len(msg.Records))
		for _, r := range msg.Records {
			m := dom.Mutation{Kind: dom.MutationChildList}
			if r.Type == "attributes" {
				m = dom.Mutation{Kind: dom.MutationAttributes, AttributeName: r.Attr}
			}
			muts = append(muts, m)
		}
		fn(muts)

	case "visibility":
		d.mu.Lock()
		fns := make([]func(bool), 0, len(d.vis))
		for _, fn := range d.vis {
			fns = append(fns, fn)
		}
		d.mu.Unlock()
		for _, fn := range fns {
			fn(msg.Hidden)
		}

	case "ready", "load":
		d.mu.Lock()
		m := d.ready
		if msg.Kind == "load" {
			m = d.load
		}
		fns := make([]func(), 0, len(m))
		for id, fn := range m {
			fns = append(fns, fn)
			delete(m, id)
		}
		d.mu.Unlock()
		for _, fn := range fns {
			fn()
		}
	}
}

func (d *Document) register(m map[int]func(), fn func()) dom.CancelFunc {
	d.mu.Lock()
	id := d.nextID
	d.nextID++
	m[id] = fn
	d.mu.Unlock()
	return func() {
		d.mu.Lock()
		delete(m, id)
		d.mu.Unlock()
	}
}

// --- dom.Root ---

// QueryAll implements dom.Root.
func (d *Document) QueryAll(selector string) ([]dom.Element, error) {
	els, err := d.page.Elements(selector)
	if err != nil {
		return nil, fmt.Errorf("roddom: query %q: %w", selector, err)
	}
	return d.wrapAll(els), nil
}

// ShadowHosts implements dom.Root.
func (d *Document) ShadowHosts() ([]dom.Element, error) {
	els, err := d.page.ElementsByJS(rod.Eval(
		`() => Array.from(document.querySelectorAll('*')).filter(e => e.shadowRoot)`))
	if err != nil {
		return nil, fmt.Errorf("roddom: shadow hosts: %w", err)
	}
	return d.wrapAll(els), nil
}

// Text implements dom.Root.
func (d *Document) Text() string {
	res, err := d.page.Eval(`() => document.body ? document.body.textContent : ''`)
	if err != nil {
		return ""
	}
	return collapse(res.Value.Str())
}

// --- dom.Document ---

// DocumentElement implements dom.Document.
func (d *Document) DocumentElement() dom.Element {
	return d.byJS(`() => document.documentElement`)
}

// Body implements dom.Document.
func (d *Document) Body() dom.Element {
	return d.byJS(`() => document.body`)
}

func (d *Document) byJS(js string) dom.Element {
	el, err := d.page.Sleeper(rod.NotFoundSleeper).ElementByJS(rod.Eval(js))
	if err != nil {
		return nil
	}
	return d.wrap(el)
}

// Viewport implements dom.Document.
func (d *Document) Viewport() (dom.Size, error) {
	res, err := d.page.Eval(`() => ({width: window.innerWidth, height: window.innerHeight})`)
	if err != nil {
		return dom.Size{}, fmt.Errorf("roddom: viewport: %w", err)
	}
	var s struct {
		Width  float64 `json:"width"`
		Height float64 `json:"height"`
	}
	if err := res.Value.Unmarshal(&s); err != nil {
		return dom.Size{}, fmt.Errorf("roddom: viewport: %w", err)
	}
	return dom.Size{Width: s.Width, Height: s.Height}, nil
}

// Hidden implements dom.Document.
func (d *Document) Hidden() bool {
	res, err := d.page.Eval(`() => document.hidden`)
	if err != nil {
		return false
	}
	return res.Value.Bool()
}

// ReadyState implements dom.Document.
func (d *Document) ReadyState() string {
	res, err := d.page.Eval(`() => document.readyState`)
	if err != nil {
		return ""
	}
	return res.Value.Str()
}

// Observe implements dom.Document with a page-side MutationObserver.
func (d *Document) Observe(target dom.Element, opts dom.ObserveOptions, fn func([]dom.Mutation)) (dom.CancelFunc, error) {
	el, ok := target.(*Element)
	if !ok {
		return nil, errors.New("roddom: observe: foreign element")
	}

	d.mu.Lock()
	id := d.nextID
	d.nextID++
	d.observers[id] = fn
	d.mu.Unlock()

	jsOpts := map[string]bool{
		"childList":  opts.ChildList,
		"attributes": opts.Attributes,
		"subtree":    opts.Subtree,
	}
	if _, err := el.el.Eval(`(id, opts) => window.__consentclickBridge.observe(this, id, opts)`, id, jsOpts); err != nil {
		d.mu.Lock()
		delete(d.observers, id)
		d.mu.Unlock()
		return nil, fmt.Errorf("roddom: observe: %w", err)
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			d.mu.Lock()
			delete(d.observers, id)
			d.mu.Unlock()
			if _, err := d.page.Eval(`id => window.__consentclickBridge && window.__consentclickBridge.disconnect(id)`, id); err != nil {
				d.logger.Debug("roddom: disconnect observer", "id", id, "error", err)
			}
		})
	}, nil
}

// OnVisibilityChange implements dom.Document.
func (d *Document) OnVisibilityChange(fn func(hidden bool)) dom.CancelFunc {
	d.mu.Lock()
	id := d.nextID
	d.nextID++
	d.vis[id] = fn
	d.mu.Unlock()
	return func() {
		d.mu.Lock()
		delete(d.vis, id)
		d.mu.Unlock()
	}
}

// OnContentLoaded implements dom.Document.
func (d *Document) OnContentLoaded(fn func()) dom.CancelFunc {
	return d.register(d.ready, fn)
}

// OnLoad implements dom.Document.
func (d *Document) OnLoad(fn func()) dom.CancelFunc {
	return d.register(d.load, fn)
}

func (d *Document) wrap(el *rod.Element) *Element {
	return &Element{doc: d, el: el}
}

func (d *Document) wrapAll(els rod.Elements) []dom.Element {
	out := make([]dom.Element, 0, len(els))
	for _, el := range els {
		out = append(out, d.wrap(el))
	}
	return out
}
