package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestParse_Defaults(t *testing.T) {
	cfg, err := Parse(nil)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Consent.Debounce != 200*time.Millisecond ||
		cfg.Consent.HandshakeTimeout != 3*time.Second ||
		cfg.Consent.RetryDeadline != 15*time.Second {
		t.Errorf("engine defaults: %+v", cfg.Consent)
	}
	if cfg.Consent.PageTimeout != 45*time.Second {
		t.Errorf("page timeout: %v", cfg.Consent.PageTimeout)
	}
	if cfg.Channel.Type != "local" || !*cfg.Channel.Enabled || !*cfg.Browser.Stealth {
		t.Errorf("channel/browser defaults: %+v %+v", cfg.Channel, cfg.Browser)
	}
	if cfg.Server.Addr != ":8080" || cfg.Log.Format != "json" {
		t.Errorf("server/log defaults: %+v %+v", cfg.Server, cfg.Log)
	}
	if r := cfg.Server.RateLimits["POST /v1/dismiss"]; r.Requests != 30 || r.Window != time.Minute {
		t.Errorf("dismiss rate limit: %+v", r)
	}
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "consentd.yaml")
	src := `
browser:
  remote: ws://127.0.0.1:9222/devtools/browser/x
  stealth: false
  resource_blocking: [images, fonts]
consent:
  debounce: 500ms
  retry_deadline: 30s
channel:
  type: nats
  url: nats://localhost:4222
  subject_prefix: ext
server:
  rate_limits:
    "POST /v1/inspect": {requests: 5, window: 10s}
patterns:
  accept: ["jetzt zustimmen"]
  context_keywords: ["Cookie-Hinweis"]
`
	if err := os.WriteFile(path, []byte(src), 0o600); err != nil {
		t.Fatal(err)
	}
	cfg, err := LoadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if *cfg.Browser.Stealth || len(cfg.Browser.ResourceBlocking) != 2 {
		t.Errorf("browser: %+v", cfg.Browser)
	}
	if cfg.Consent.Debounce != 500*time.Millisecond || cfg.Consent.HandshakeTimeout != 3*time.Second {
		t.Errorf("consent: %+v", cfg.Consent)
	}
	if cfg.Channel.Type != "nats" || cfg.Channel.SubjectPrefix != "ext" {
		t.Errorf("channel: %+v", cfg.Channel)
	}
	if r := cfg.Server.RateLimits; len(r) != 1 || r["POST /v1/inspect"].Window != 10*time.Second {
		t.Errorf("rate limits: %+v", r)
	}

	ec, err := cfg.EngineConfig()
	if err != nil {
		t.Fatal(err)
	}
	if !ec.Patterns.Accept.Match("jetzt zustimmen") || !ec.Patterns.Accept.Match("accept all") {
		t.Error("extended accept patterns not applied")
	}
	if ec.RetryDeadline != 30*time.Second {
		t.Errorf("retry deadline: %v", ec.RetryDeadline)
	}
}

func TestParse_Invalid(t *testing.T) {
	cases := map[string]string{
		"unknown channel":  "channel: {type: carrier-pigeon}",
		"http without url": "channel: {type: http}",
		"bad pattern":      `patterns: {accept: ["(unclosed"]}`,
		"bad yaml":         "consent: [",
	}
	for name, src := range cases {
		if _, err := Parse([]byte(src)); err == nil {
			t.Errorf("%s: expected error", name)
		}
	}
}
