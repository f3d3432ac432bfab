package consent

import (
	"strconv"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/hazyhaar/consentclick/dom"
)

const (
	// maxLabelLen drops whole paragraphs from being read as button labels.
	maxLabelLen = 50

	maxContextDepth = 8

	// Ancestors at least this share of the viewport are page-wide overlays.
	overlayWidthRatio  = 0.95
	overlayHeightRatio = 0.90
)

// normalize trims, collapses whitespace and lower-cases.
func normalize(s string) string {
	s = strings.Join(strings.Fields(s), " ")
	if s == "" {
		return ""
	}
	return cases.Lower(language.Und).String(s)
}

// Labels gathers the independent label candidates of an element: its direct
// text (or full text when it has none), aria-label, value and title.
func Labels(el dom.Element) []string {
	var out []string
	seen := make(map[string]bool, 4)
	add := func(s string) {
		s = normalize(s)
		if s == "" || seen[s] {
			return
		}
		seen[s] = true
		out = append(out, s)
	}

	text := el.DirectText()
	if strings.TrimSpace(text) == "" {
		text = el.Text()
	}
	add(text)
	for _, name := range []string{"aria-label", "value", "title"} {
		if v, ok := el.Attr(name); ok {
			add(v)
		}
	}
	return out
}

// matchesAny tests each label independently, skipping overlong ones.
func matchesAny(ps *PatternSet, labels []string) bool {
	for _, l := range labels {
		if utf8.RuneCountInString(l) > maxLabelLen {
			continue
		}
		if ps.Match(l) {
			return true
		}
	}
	return false
}

// IsHidden reports whether the style alone hides el. Inspection errors
// count as not hidden.
func IsHidden(el dom.Element) bool {
	st, err := el.Style()
	if err != nil {
		return false
	}
	return styleHidden(st)
}

// IsVisible reports whether el is displayed, visible, not fully transparent
// and has a non-empty box. Inspection errors count as not visible.
func IsVisible(el dom.Element) bool {
	st, err := el.Style()
	if err != nil || styleHidden(st) {
		return false
	}
	r, err := el.Rect()
	if err != nil {
		return false
	}
	return r.Width > 0 && r.Height > 0
}

func styleHidden(st dom.Style) bool {
	if st.Display == "none" {
		return true
	}
	if st.Visibility == "hidden" || st.Visibility == "collapse" {
		return true
	}
	if op, err := strconv.ParseFloat(strings.TrimSpace(st.Opacity), 64); err == nil && op == 0 {
		return true
	}
	return false
}

// HasContext walks up to eight ancestors looking for consent-related text.
// Ancestors covering the viewport are skipped, but the walk continues past
// them.
func (p *Patterns) HasContext(el dom.Element, vp dom.Size) bool {
	anc := el.Parent()
	for i := 0; i < maxContextDepth && anc != nil; i++ {
		if !isOverlay(anc, vp) && p.containsKeyword(anc.Text()) {
			return true
		}
		anc = anc.Parent()
	}
	return false
}

func isOverlay(el dom.Element, vp dom.Size) bool {
	if vp.Width <= 0 || vp.Height <= 0 {
		return false
	}
	r, err := el.Rect()
	if err != nil {
		return false
	}
	return r.Width >= overlayWidthRatio*vp.Width && r.Height >= overlayHeightRatio*vp.Height
}
