package consent

import (
	"log/slog"
	"sort"
	"strconv"
	"strings"

	"github.com/hazyhaar/consentclick/dom"
)

const (
	baseScore       = 50
	buttonBonus     = 10
	anchorPenalty   = 10
	backgroundBonus = 5

	// Candidates found in shadow roots always get this score.
	shadowScore    = 45
	maxShadowDepth = 2
)

// Source tells where a candidate was found.
type Source string

const (
	SourceMain   Source = "main"
	SourceShadow Source = "shadow"
)

// Candidate is an element judged eligible to be the accept action. It only
// lives for one detection pass.
type Candidate struct {
	Element dom.Element `json:"-"`
	Tag     string      `json:"tag"`
	Labels  []string    `json:"labels"`
	Score   int         `json:"score"`
	Source  Source      `json:"source"`
}

// Score classifies el as an accept candidate. ok is false when no label
// matches an accept pattern or any label matches an exclusion pattern.
func (p *Patterns) Score(el dom.Element) (Candidate, bool) {
	labels := Labels(el)
	if !matchesAny(p.Accept, labels) || matchesAny(p.Exclusion, labels) {
		return Candidate{}, false
	}

	tag := el.TagName()
	score := baseScore
	switch tag {
	case "button":
		score += buttonBonus
	case "a":
		score -= anchorPenalty
	}
	if st, err := el.Style(); err == nil && filledBackground(st.BackgroundColor) {
		score += backgroundBonus
	}
	return Candidate{Element: el, Tag: tag, Labels: labels, Score: score, Source: SourceMain}, true
}

func filledBackground(bg string) bool {
	bg = strings.ToLower(strings.TrimSpace(bg))
	switch strings.Join(strings.Fields(bg), "") {
	case "", "transparent", "white", "#fff", "#ffffff",
		"rgb(255,255,255)", "rgba(255,255,255,1)":
		return false
	}
	return !zeroAlpha(bg)
}

// zeroAlpha reports whether a CSS colour carries an explicit alpha of zero,
// in hex (#rgba, #rrggbbaa) or functional rgb/hsl notation, comma or slash
// separated.
func zeroAlpha(c string) bool {
	if strings.HasPrefix(c, "#") {
		switch len(c) {
		case 5:
			return c[4] == '0'
		case 9:
			return c[7:] == "00"
		}
		return false
	}
	open, end := strings.IndexByte(c, '('), strings.LastIndexByte(c, ')')
	if open < 0 || end < open {
		return false
	}
	switch strings.TrimSpace(c[:open]) {
	case "rgb", "rgba", "hsl", "hsla":
	default:
		return false
	}
	args := c[open+1 : end]
	var alpha string
	if i := strings.LastIndexByte(args, '/'); i >= 0 {
		alpha = args[i+1:]
	} else if parts := strings.Split(args, ","); len(parts) == 4 {
		alpha = parts[3]
	} else {
		return false
	}
	alpha = strings.TrimSuffix(strings.TrimSpace(alpha), "%")
	v, err := strconv.ParseFloat(alpha, 64)
	return err == nil && v == 0
}

// collector runs one detection pass over a document.
type collector struct {
	doc      dom.Document
	patterns *Patterns
	logger   *slog.Logger
}

// Collect ranks every accept candidate of the document, best first. Ties
// keep discovery order: main tree first, then shadow roots.
func (c *collector) Collect() []Candidate {
	vp, err := c.doc.Viewport()
	if err != nil {
		c.logger.Debug("consent: viewport unavailable", "error", err)
	}

	cands := c.mainPass(vp)
	cands = append(cands, c.shadowPass()...)

	sort.SliceStable(cands, func(i, j int) bool {
		return cands[i].Score > cands[j].Score
	})
	return cands
}

func (c *collector) mainPass(vp dom.Size) []Candidate {
	els, err := c.doc.QueryAll(clickableSelector)
	if err != nil {
		c.logger.Debug("consent: main query failed", "error", err)
		return nil
	}
	var out []Candidate
	for _, el := range els {
		if !IsVisible(el) || !c.patterns.HasContext(el, vp) {
			continue
		}
		if cand, ok := c.patterns.Score(el); ok {
			out = append(out, cand)
		}
	}
	return out
}

func (c *collector) shadowPass() []Candidate {
	hosts, err := c.doc.ShadowHosts()
	if err != nil {
		c.logger.Debug("consent: shadow host scan failed", "error", err)
		return nil
	}
	var out []Candidate
	for _, host := range hosts {
		root := host.ShadowRoot()
		if root == nil || !c.relevantHost(host, root) {
			continue
		}
		out = c.walkShadow(root, 1, out)
	}
	return out
}

// relevantHost gates a top-level shadow root: the host id/class or the
// subtree text must mention a context keyword. Nested roots inherit it.
func (c *collector) relevantHost(host dom.Element, root dom.Root) bool {
	id, _ := host.Attr("id")
	class, _ := host.Attr("class")
	return c.patterns.containsKeyword(id+" "+class) || c.patterns.containsKeyword(root.Text())
}

func (c *collector) walkShadow(root dom.Root, depth int, out []Candidate) []Candidate {
	if depth > maxShadowDepth {
		return out
	}
	els, err := root.QueryAll(clickableSelector)
	if err != nil {
		c.logger.Debug("consent: shadow query failed", "depth", depth, "error", err)
		return out
	}
	for _, el := range els {
		if !IsVisible(el) {
			continue
		}
		if cand, ok := c.patterns.Score(el); ok {
			cand.Score = shadowScore
			cand.Source = SourceShadow
			out = append(out, cand)
		}
	}

	nested, err := root.ShadowHosts()
	if err != nil {
		return out
	}
	for _, h := range nested {
		if r := h.ShadowRoot(); r != nil {
			out = c.walkShadow(r, depth+1, out)
		}
	}
	return out
}

// findSave looks for a visible save/confirm control in a consent context.
// Exclusion patterns are deliberately not applied here.
func (c *collector) findSave() dom.Element {
	vp, _ := c.doc.Viewport()
	els, err := c.doc.QueryAll(clickableSelector)
	if err != nil {
		return nil
	}
	for _, el := range els {
		if !IsVisible(el) {
			continue
		}
		if !matchesAny(c.patterns.Save, Labels(el)) {
			continue
		}
		if c.patterns.HasContext(el, vp) {
			return el
		}
	}
	return nil
}

// Inspect ranks the accept candidates of doc with the default patterns,
// without acting on them.
func Inspect(doc dom.Document, logger *slog.Logger) []Candidate {
	return DefaultPatterns.Inspect(doc, logger)
}

// Inspect ranks the accept candidates of doc under p.
func (p *Patterns) Inspect(doc dom.Document, logger *slog.Logger) []Candidate {
	if logger == nil {
		logger = slog.Default()
	}
	c := &collector{doc: doc, patterns: p, logger: logger}
	return c.Collect()
}
