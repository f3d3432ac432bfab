package consent

import (
	"github.com/hazyhaar/consentclick/dom"
)

const maxForcedAncestors = 5

// clickHidden looks for an accept control that the page hid with style,
// forces it and its hidden ancestors visible, and clicks it. It returns the
// clicked candidate.
func (c *collector) clickHidden() (Candidate, bool) {
	els, err := c.doc.QueryAll(hiddenButtonSelector)
	if err != nil {
		c.logger.Debug("consent: hidden scan failed", "error", err)
		return Candidate{}, false
	}
	vp, _ := c.doc.Viewport()

	for _, el := range els {
		if !IsHidden(el) {
			continue
		}
		labels := Labels(el)
		if !matchesAny(c.patterns.Accept, labels) || matchesAny(c.patterns.Exclusion, labels) {
			continue
		}
		if !c.patterns.HasContext(el, vp) {
			continue
		}

		forceVisible(el)
		forced := 0
		for anc := el.Parent(); anc != nil && forced < maxForcedAncestors; anc = anc.Parent() {
			if !IsHidden(anc) {
				continue
			}
			_ = anc.SetStyle("display", "block", false)
			_ = anc.SetStyle("visibility", "visible", false)
			forced++
		}

		if err := el.Click(); err != nil {
			c.logger.Debug("consent: hidden click failed", "error", err)
			return Candidate{}, false
		}
		return Candidate{Element: el, Tag: el.TagName(), Labels: labels, Source: SourceMain}, true
	}
	return Candidate{}, false
}

func forceVisible(el dom.Element) {
	_ = el.SetStyle("display", "block", true)
	_ = el.SetStyle("visibility", "visible", true)
	_ = el.SetStyle("opacity", "1", true)
}

// removeContainers deletes known cross-origin CMP containers and returns
// how many nodes were removed.
func (c *collector) removeContainers() int {
	removed := 0
	for _, sel := range cmpContainerSelectors {
		els, err := c.doc.QueryAll(sel)
		if err != nil {
			continue
		}
		for _, el := range els {
			if err := el.Remove(); err == nil {
				removed++
			}
		}
	}
	return removed
}
