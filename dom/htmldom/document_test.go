package htmldom

import (
	"strings"
	"sync"
	"testing"

	"github.com/hazyhaar/consentclick/dom"
)

func parse(t *testing.T, src string, opts ...Option) *Document {
	t.Helper()
	d, err := ParseString(src, opts...)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	return d
}

func one(t *testing.T, r dom.Root, sel string) dom.Element {
	t.Helper()
	els, err := r.QueryAll(sel)
	if err != nil {
		t.Fatalf("query %q: %v", sel, err)
	}
	if len(els) != 1 {
		t.Fatalf("query %q: got %d elements, want 1", sel, len(els))
	}
	return els[0]
}

func TestStyle_InlineAndInherited(t *testing.T) {
	d := parse(t, `<html><body>
<div id="a" style="visibility:hidden"><span id="b">x</span></div>
<p id="c" hidden>y</p>
<button id="d" style="background: RED; opacity: 0 !important">z</button>
</body></html>`)

	st, _ := one(t, d, "#b").Style()
	if st.Visibility != "hidden" {
		t.Errorf("inherited visibility: got %q", st.Visibility)
	}
	st, _ = one(t, d, "#c").Style()
	if st.Display != "none" {
		t.Errorf("hidden attribute: display %q", st.Display)
	}
	st, _ = one(t, d, "#d").Style()
	if st.BackgroundColor != "red" || st.Opacity != "0" {
		t.Errorf("button style: %+v", st)
	}
}

func TestRect_ViewportAndDisplayNone(t *testing.T) {
	d := parse(t, `<html><body>
<div id="overlay" style="width:100vw;height:100vh"></div>
<div id="gone" style="display:none"><button id="inner">x</button></div>
<div id="half" style="width:50%;height:10px"></div>
</body></html>`, WithViewport(dom.Size{Width: 1000, Height: 500}))

	r, _ := one(t, d, "#overlay").Rect()
	if r.Width != 1000 || r.Height != 500 {
		t.Errorf("overlay rect: %+v", r)
	}
	r, _ = one(t, d, "#inner").Rect()
	if r.Width != 0 || r.Height != 0 {
		t.Errorf("rect under display:none: %+v", r)
	}
	r, _ = one(t, d, "#half").Rect()
	if r.Width != 500 || r.Height != 10 {
		t.Errorf("percent rect: %+v", r)
	}
	r, _ = d.Body().Rect()
	if r.Width != 1000 {
		t.Errorf("body rect: %+v", r)
	}
}

func TestText_SkipsScripts(t *testing.T) {
	d := parse(t, `<html><body><div id="x">  Hello <script>var a=1</script><b>world</b>
</div></body></html>`)
	el := one(t, d, "#x")
	if got := el.Text(); got != "Hello world" {
		t.Errorf("Text: %q", got)
	}
	if got := el.DirectText(); got != "Hello" {
		t.Errorf("DirectText: %q", got)
	}
}

func TestShadowRoots(t *testing.T) {
	d := parse(t, `<html><body>
<div id="host"><template shadowrootmode="open">
<p>cookie notice</p><button id="in">Accept</button>
<div id="nested"><template shadowrootmode="open"><button id="deep">OK</button></template></div>
</template></div>
<div id="closed"><template shadowrootmode="closed"><button>Hidden</button></template></div>
</body></html>`)

	if d.Has("#in") {
		t.Error("shadow content leaked into the main tree")
	}
	hosts, _ := d.ShadowHosts()
	if len(hosts) != 1 {
		t.Fatalf("shadow hosts: got %d, want 1", len(hosts))
	}
	sr := hosts[0].ShadowRoot()
	if sr == nil {
		t.Fatal("no shadow root")
	}
	if !strings.Contains(sr.Text(), "cookie notice") {
		t.Errorf("shadow text: %q", sr.Text())
	}
	in := one(t, sr, "#in")
	if in.Parent() != nil {
		t.Error("top-level shadow child should have no light parent")
	}
	nested, _ := sr.ShadowHosts()
	if len(nested) != 1 || nested[0].ShadowRoot() == nil {
		t.Fatalf("nested hosts: %v", nested)
	}
	one(t, nested[0].ShadowRoot(), "#deep")

	if one(t, d, "#closed").ShadowRoot() != nil {
		t.Error("closed shadow root must be unreachable")
	}
}

func TestObserve_ChildListSubtree(t *testing.T) {
	d := parse(t, `<html><body><div id="a"><div id="b"></div></div></body></html>`)

	var mu sync.Mutex
	var got []dom.Mutation
	cancel, err := d.Observe(d.Body(), dom.ObserveOptions{ChildList: true, Subtree: true}, func(ms []dom.Mutation) {
		mu.Lock()
		got = append(got, ms...)
		mu.Unlock()
	})
	if err != nil {
		t.Fatal(err)
	}

	if err := d.Insert("#b", `<span>new</span>`); err != nil {
		t.Fatal(err)
	}
	if err := d.SetAttr("#b", "class", "x"); err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0].Kind != dom.MutationChildList {
		t.Fatalf("mutations: %+v", got)
	}

	cancel()
	_ = d.Insert("#b", `<span>after</span>`)
	if len(got) != 1 {
		t.Errorf("delivered after cancel: %+v", got)
	}
}

func TestObserve_Attributes(t *testing.T) {
	d := parse(t, `<html><body><div id="a"></div></body></html>`)
	var names []string
	cancel, _ := d.Observe(d.Body(), dom.ObserveOptions{Attributes: true, Subtree: true}, func(ms []dom.Mutation) {
		for _, m := range ms {
			names = append(names, m.AttributeName)
		}
	})
	defer cancel()

	el := one(t, d, "#a")
	if err := el.SetStyle("display", "block", true); err != nil {
		t.Fatal(err)
	}
	if v, _ := el.Attr("style"); v != "display: block !important" {
		t.Errorf("style attr: %q", v)
	}
	st, _ := el.Style()
	if st.Display != "block" {
		t.Errorf("display: %q", st.Display)
	}
	if len(names) != 1 || names[0] != "style" {
		t.Errorf("attribute mutations: %v", names)
	}
}

func TestClick_HandlersAndLog(t *testing.T) {
	d := parse(t, `<html><body><button id="go">Go</button><button>Plain text</button></body></html>`)
	var fired int
	if err := d.OnClick("#go", func(*Element) { fired++ }); err != nil {
		t.Fatal(err)
	}
	for _, sel := range []string{"#go", "button:not(#go)"} {
		if err := one(t, d, sel).Click(); err != nil {
			t.Fatal(err)
		}
	}
	if fired != 1 {
		t.Errorf("handler fired %d times", fired)
	}
	log := d.ClickLog()
	if len(log) != 2 || log[0] != "go" || log[1] != "Plain text" {
		t.Errorf("click log: %v", log)
	}
}

func TestRemove_Detaches(t *testing.T) {
	d := parse(t, `<html><body><div id="a"><button id="b">x</button></div></body></html>`)
	b := one(t, d, "#b")
	n, err := d.RemoveAll("#a")
	if err != nil || n != 1 {
		t.Fatalf("RemoveAll: n=%d err=%v", n, err)
	}
	if _, err := b.Style(); err != dom.ErrDetached {
		t.Errorf("Style on detached: %v", err)
	}
	if err := b.Click(); err != dom.ErrDetached {
		t.Errorf("Click on detached: %v", err)
	}
}

func TestRemoveClass(t *testing.T) {
	d := parse(t, `<html class="a no-scroll b"><body></body></html>`)
	html := d.DocumentElement()
	if err := html.RemoveClass("no-scroll", "missing"); err != nil {
		t.Fatal(err)
	}
	if v, _ := html.Attr("class"); v != "a b" {
		t.Errorf("class: %q", v)
	}
}

func TestEvents(t *testing.T) {
	d := parse(t, `<html><body></body></html>`, WithHidden(true))
	if !d.Hidden() || d.ReadyState() != "interactive" {
		t.Fatalf("initial state: hidden=%v ready=%q", d.Hidden(), d.ReadyState())
	}

	var vis []bool
	cancelVis := d.OnVisibilityChange(func(h bool) { vis = append(vis, h) })
	d.SetHidden(false)
	d.SetHidden(false)
	cancelVis()
	d.SetHidden(true)
	if len(vis) != 1 || vis[0] {
		t.Errorf("visibility events: %v", vis)
	}

	loads := 0
	d.OnLoad(func() { loads++ })
	d.FireLoad()
	d.FireLoad()
	if loads != 1 || d.ReadyState() != "complete" {
		t.Errorf("loads=%d ready=%q", loads, d.ReadyState())
	}

	ready := 0
	cancelReady := d.OnContentLoaded(func() { ready++ })
	cancelReady()
	d.FireContentLoaded()
	if ready != 0 {
		t.Errorf("cancelled handler ran")
	}
}
