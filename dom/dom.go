// Package dom is the narrow view of a document tree that the consent engine
// works against. Backends (a live Chrome page, a parsed static document)
// implement these interfaces; the engine never reaches past them.
//
// Elements are borrowed references. Holding one does not keep the underlying
// node alive, and methods on a detached element return an error.
package dom

import "errors"

// ErrDetached is returned by backends when an element no longer exists.
var ErrDetached = errors.New("dom: element detached")

// Style is the subset of the computed style the engine inspects.
// Values use CSS serialisation ("none", "hidden", "0", "rgba(0, 0, 0, 0)").
type Style struct {
	Display         string
	Visibility      string
	Opacity         string
	BackgroundColor string
}

// Rect is a rendered bounding box in CSS pixels.
type Rect struct {
	X, Y, Width, Height float64
}

// Size is a viewport size in CSS pixels.
type Size struct {
	Width, Height float64
}

// Element is a single element node.
type Element interface {
	// TagName is the lower-cased tag name ("button", "a", ...).
	TagName() string
	// Attr returns an attribute value and whether it is present.
	Attr(name string) (string, bool)
	// DirectText is the concatenation of the element's immediate text-node
	// children, excluding text of nested elements.
	DirectText() string
	// Text is the element's full rendered text.
	Text() string
	Style() (Style, error)
	Rect() (Rect, error)
	// Parent returns nil at the document root and at a shadow-root boundary.
	Parent() Element
	// ShadowRoot returns the attached open shadow root, or nil.
	ShadowRoot() Root
	Click() error
	SetStyle(prop, value string, important bool) error
	RemoveStyle(prop string) error
	RemoveClass(names ...string) error
	Remove() error
}

// Root is a queryable tree: the document itself or a shadow root.
type Root interface {
	// QueryAll returns the elements matching a CSS selector in document order.
	QueryAll(selector string) ([]Element, error)
	// ShadowHosts returns the elements of this tree hosting an open shadow root.
	ShadowHosts() ([]Element, error)
	// Text is the rendered text of the whole tree.
	Text() string
}

// ObserveOptions mirrors MutationObserverInit.
type ObserveOptions struct {
	ChildList  bool
	Attributes bool
	Subtree    bool
}

// MutationKind classifies a mutation record.
type MutationKind string

const (
	MutationChildList  MutationKind = "childList"
	MutationAttributes MutationKind = "attributes"
)

// Mutation is one delivered mutation record.
type Mutation struct {
	Kind          MutationKind
	AttributeName string
}

// CancelFunc releases a subscription. It is safe to call more than once.
type CancelFunc func()

// Document is a whole page.
type Document interface {
	Root
	DocumentElement() Element
	// Body returns nil while the body does not exist yet.
	Body() Element
	Viewport() (Size, error)
	// Hidden reports whether the page is not the foreground tab.
	Hidden() bool
	// ReadyState is "loading", "interactive" or "complete".
	ReadyState() string
	// Observe subscribes fn to mutation batches under target. fn may be
	// called from any goroutine.
	Observe(target Element, opts ObserveOptions, fn func([]Mutation)) (CancelFunc, error)
	// OnVisibilityChange calls fn with the new hidden state.
	OnVisibilityChange(fn func(hidden bool)) CancelFunc
	// OnContentLoaded calls fn once on DOMContentLoaded.
	OnContentLoaded(fn func()) CancelFunc
	// OnLoad calls fn once on the window load event.
	OnLoad(fn func()) CancelFunc
}
