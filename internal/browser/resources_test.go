package browser

import "testing"

func TestShouldBlock(t *testing.T) {
	set := map[string]bool{"images": true, "fonts": true, "script": true, "ping": true}
	cases := []struct {
		resType string
		want    bool
	}{
		{"Image", true},
		{"Font", true},
		{"Media", false},
		{"Stylesheet", false},
		{"Script", false},
		{"Document", false},
		{"Ping", true},
	}
	for _, c := range cases {
		if got := shouldBlock(set, c.resType); got != c.want {
			t.Errorf("shouldBlock(%q) = %v, want %v", c.resType, got, c.want)
		}
	}
}

func TestConfigDefaults(t *testing.T) {
	var c Config
	c.defaults()
	if c.MemoryLimit != 1<<30 || c.RecycleInterval == 0 || c.NavigateTimeout == 0 || c.Logger == nil {
		t.Errorf("defaults not applied: %+v", c)
	}
}

func TestOpenTab_NotStarted(t *testing.T) {
	m := NewManager(Config{})
	if _, err := m.OpenTab(t.Context()); err == nil {
		t.Fatal("expected error without a running browser")
	}
}
