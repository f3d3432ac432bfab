package consent

import (
	"errors"
	"strings"
	"testing"

	"github.com/hazyhaar/consentclick/dom"
)

func TestScore_Bonuses(t *testing.T) {
	doc := mustParse(t, `<html><body><div id="banner"><p>We use cookies.</p>
<button id="plain">Accept</button>
<button id="red" style="background-color: #c00">Accept</button>
<a href="#" id="link">Accept</a>
<input type="submit" id="submit" value="Accept">
<div role="button" id="role">Accept</div>
</div></body></html>`)

	want := map[string]int{"plain": 60, "red": 65, "link": 40, "submit": 50, "role": 50}
	for id, score := range want {
		c, ok := DefaultPatterns.Score(first(t, doc, "#"+id))
		if !ok {
			t.Errorf("%s: not a candidate", id)
			continue
		}
		if c.Score != score {
			t.Errorf("%s: score %d, want %d", id, c.Score, score)
		}
	}
}

func TestScore_TransparentBackgroundNoBonus(t *testing.T) {
	doc := mustParse(t, `<html><body><p>cookies</p>
<button id="a" style="background-color: transparent">Accept</button>
<button id="b" style="background: rgba(0, 0, 0, 0)">Accept</button>
<button id="c" style="background-color: rgba(255, 255, 255, 0)">Accept</button>
<button id="d" style="background-color: rgba(0, 0, 255, 0)">Accept</button>
<button id="e" style="background-color: rgba(0,0,0,0.0)">Accept</button>
<button id="f" style="background-color: hsla(120, 50%, 50%, 0)">Accept</button>
<button id="g" style="background-color: rgb(10 20 30 / 0%)">Accept</button>
<button id="h" style="background-color: #12345600">Accept</button>
<button id="i" style="background-color: #fff">Accept</button>
</body></html>`)
	for _, id := range []string{"a", "b", "c", "d", "e", "f", "g", "h", "i"} {
		c, _ := DefaultPatterns.Score(first(t, doc, "#"+id))
		if c.Score != 60 {
			t.Errorf("%s: score %d, want 60", id, c.Score)
		}
	}
}

func TestFilledBackground(t *testing.T) {
	cases := map[string]bool{
		"rgba(255, 255, 255, 0)":  false,
		"rgba(0, 0, 255, 0.5)":    true,
		"hsla(0, 100%, 50%, 0.0)": false,
		"rgb(0 0 255 / 0.2)":      true,
		"#00f0":                   false,
		"#00f":                    true,
		"rgb(204, 0, 0)":          true,
		"RGB(255, 255, 255)":      false,
	}
	for bg, want := range cases {
		if got := filledBackground(bg); got != want {
			t.Errorf("filledBackground(%q) = %v, want %v", bg, got, want)
		}
	}
}

func TestScore_ExclusionWins(t *testing.T) {
	doc := mustParse(t, `<html><body><p>cookies</p>
<button id="x" aria-label="Cookie settings">OK</button>
</body></html>`)
	if _, ok := DefaultPatterns.Score(first(t, doc, "#x")); ok {
		t.Error("label matching an exclusion phrase must not score")
	}
}

func TestLabels(t *testing.T) {
	doc := mustParse(t, `<html><body>
<button id="a" aria-label="Accept all" title="accept all">  Accept
   <span>All</span></button>
<button id="b"><span>Got it</span></button>
<input type="button" id="c" value="OK">
</body></html>`)

	if got := Labels(first(t, doc, "#a")); strings.Join(got, "|") != "accept|accept all" {
		t.Errorf("a: %q", got)
	}
	if got := Labels(first(t, doc, "#b")); len(got) != 1 || got[0] != "got it" {
		t.Errorf("b: %q", got)
	}
	if got := Labels(first(t, doc, "#c")); len(got) != 1 || got[0] != "ok" {
		t.Errorf("c: %q", got)
	}
}

func TestLabels_LongTextIgnored(t *testing.T) {
	long := "Accept " + strings.Repeat("x", 60)
	if matchesAny(DefaultPatterns.Accept, []string{normalize(long)}) {
		t.Error("label over 50 runes must not match")
	}
	if !matchesAny(DefaultPatterns.Accept, []string{"accept"}) {
		t.Error("short label should match")
	}
}

func TestHasContext(t *testing.T) {
	doc := mustParse(t, `<html><body>
<div id="overlay" style="width:100vw;height:100vh"><p>cookie wall</p>
  <div id="plain"><button id="in-overlay">Accept</button></div>
</div>
<div id="panel"><p>privacy notice</p><div><button id="in-panel">Accept</button></div></div>
<div><button id="orphan">Accept</button></div>
</body></html>`)
	vp, _ := doc.Viewport()

	cases := map[string]bool{"in-overlay": false, "in-panel": true, "orphan": false}
	for id, want := range cases {
		if got := DefaultPatterns.HasContext(first(t, doc, "#"+id), vp); got != want {
			t.Errorf("%s: HasContext=%v, want %v", id, got, want)
		}
	}
}

func TestHasContext_DepthLimit(t *testing.T) {
	build := func(levels int) string {
		return `<html><body><div><p>cookies</p>` +
			strings.Repeat("<div>", levels-1) + `<button id="b">Accept</button>` +
			strings.Repeat("</div>", levels-1) + `</div></body></html>`
	}
	vp := dom.Size{Width: 1280, Height: 720}

	near := mustParse(t, build(maxContextDepth))
	if !DefaultPatterns.HasContext(first(t, near, "#b"), vp) {
		t.Error("keyword ancestor at the depth limit should count")
	}
	far := mustParse(t, build(maxContextDepth+1))
	if DefaultPatterns.HasContext(first(t, far, "#b"), vp) {
		t.Error("keyword ancestor beyond the depth limit should not count")
	}
}

func TestCollect_RankingAndTies(t *testing.T) {
	doc := mustParse(t, `<html><body><div><p>We use cookies</p>
<a href="#" id="link">OK</a>
<button id="first">Accept</button>
<button id="second">Allow all</button>
</div></body></html>`)

	cands := Inspect(doc, quiet)
	if len(cands) != 3 {
		t.Fatalf("candidates: %d", len(cands))
	}
	var ids []string
	for _, c := range cands {
		id, _ := c.Element.Attr("id")
		ids = append(ids, id)
	}
	if strings.Join(ids, ",") != "first,second,link" {
		t.Errorf("order: %v", ids)
	}
}

func TestCollect_InvisibleSkipped(t *testing.T) {
	doc := mustParse(t, `<html><body><div><p>cookies</p>
<button style="visibility:hidden">Accept</button>
<button style="opacity:0">Accept</button>
<button style="width:0">Accept</button>
</div></body></html>`)
	if n := len(Inspect(doc, quiet)); n != 0 {
		t.Errorf("candidates: %d, want 0", n)
	}
}

func TestCollect_Shadow(t *testing.T) {
	doc := mustParse(t, `<html><body>
<div id="cookie-host"><template shadowrootmode="open">
  <button style="background:red">Accept</button>
  <div id="inner"><template shadowrootmode="open">
    <button>Allow all</button>
    <div id="deepest"><template shadowrootmode="open"><button>OK</button></template></div>
  </template></div>
</template></div>
<div id="unrelated"><template shadowrootmode="open"><button>Accept</button></template></div>
</body></html>`)

	cands := Inspect(doc, quiet)
	if len(cands) != 2 {
		t.Fatalf("shadow candidates: got %d, want 2", len(cands))
	}
	for _, c := range cands {
		if c.Score != shadowScore || c.Source != SourceShadow {
			t.Errorf("candidate %v: score=%d source=%s", c.Labels, c.Score, c.Source)
		}
	}
	if cands[0].Labels[0] != "accept" || cands[1].Labels[0] != "allow all" {
		t.Errorf("order: %v, %v", cands[0].Labels, cands[1].Labels)
	}
}

func TestCollect_ShadowOutranksAnchor(t *testing.T) {
	doc := mustParse(t, `<html><body>
<div id="consent-host"><template shadowrootmode="open"><button>Accept</button></template></div>
<div><p>cookies</p><a href="#" id="main-link">Accept</a></div>
</body></html>`)
	cands := Inspect(doc, quiet)
	if len(cands) != 2 || cands[0].Source != SourceShadow || cands[1].Score != 40 {
		t.Fatalf("candidates: %+v", cands)
	}
}

func TestFindSave(t *testing.T) {
	doc := mustParse(t, `<html><body><div><p>privacy</p>
<button id="s1" style="display:none">Save</button>
<button id="s2">Manage settings</button>
<button id="s3">Save my preferences</button>
</div></body></html>`)
	col := &collector{doc: doc, patterns: DefaultPatterns, logger: quiet}
	el := col.findSave()
	if el == nil {
		t.Fatal("no save control found")
	}
	if id, _ := el.Attr("id"); id != "s3" {
		t.Errorf("found %q, want s3", id)
	}
}

func TestExtend(t *testing.T) {
	p, err := DefaultPatterns.Extend(Extra{Accept: []string{"passt schon"}, ContextKeywords: []string{"RGPD"}})
	if err != nil {
		t.Fatal(err)
	}
	if !p.Accept.Match("passt schon") || DefaultPatterns.Accept.Match("passt schon") {
		t.Error("Extend must add to the copy only")
	}
	if !p.containsKeyword("Notre politique RGPD") {
		t.Error("extra keyword not applied")
	}
	if _, err := DefaultPatterns.Extend(Extra{Save: []string{"("}}); err == nil {
		t.Error("invalid phrase should fail")
	}
}

// stubElement fails every style and geometry query.
type stubElement struct{ dom.Element }

func (stubElement) TagName() string            { return "button" }
func (stubElement) Attr(string) (string, bool) { return "", false }
func (stubElement) DirectText() string         { return "Accept" }
func (stubElement) Text() string               { return "Accept" }
func (stubElement) Style() (dom.Style, error)  { return dom.Style{}, errors.New("gone") }
func (stubElement) Rect() (dom.Rect, error)    { return dom.Rect{}, errors.New("gone") }
func (stubElement) Parent() dom.Element        { return nil }

func TestPrimitives_ErrorsAreSwallowed(t *testing.T) {
	el := stubElement{}
	if IsVisible(el) {
		t.Error("style error must read as not visible")
	}
	if IsHidden(el) {
		t.Error("style error must read as not hidden")
	}
	c, ok := DefaultPatterns.Score(el)
	if !ok || c.Score != 60 {
		t.Errorf("score with style error: %+v ok=%v", c, ok)
	}
}
