// Package consent finds and activates the "accept" control of cookie and
// privacy popups on a live document.
//
// A Session covers one page load. It waits for the tab to be visible, asks
// the controlling process whether it is enabled, runs a detection pass,
// clicks the best accept candidate and then follows an optional second
// confirmation step. While the page keeps rendering, a debounced mutation
// watcher re-runs detection for a bounded time. Once the session has
// accepted it never acts again.
//
// Detection ranks clickable elements by label patterns (accept phrases in
// several languages, minus settings/reject/navigation phrases), requires a
// consent-related ancestor, and also looks into open shadow roots. When no
// visible control qualifies, a style-hidden accept button is forced visible
// and clicked; as a last resort known cross-origin CMP containers are
// removed.
//
// All session state lives on a private single-goroutine loop. Mutation
// callbacks, timers and page events are posted to it as tasks, so there is
// no locking in the engine itself.
package consent

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/hazyhaar/consentclick/dom"
	"github.com/hazyhaar/consentclick/idgen"
)

// Config tunes a Session. Zero values take the defaults below.
type Config struct {
	Channel  Channel
	Patterns *Patterns
	Logger   *slog.Logger

	// Debounce is the quiet period before a retry pass. Default: 200ms.
	Debounce time.Duration
	// HandshakeTimeout bounds the wait for a save/confirm control. Default: 3s.
	HandshakeTimeout time.Duration
	// RetryDeadline stops the retry scheduler. Default: 15s.
	RetryDeadline time.Duration
	// QueryTimeout bounds the enablement query. Default: 2s.
	QueryTimeout time.Duration
	// NotifyTimeout bounds the acceptance notification. Default: 2s.
	NotifyTimeout time.Duration

	// RunID tags logs and the Result. Default: a new UUIDv7.
	RunID string
}

func (c *Config) defaults() {
	if c.Patterns == nil {
		c.Patterns = DefaultPatterns
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	if c.Debounce <= 0 {
		c.Debounce = 200 * time.Millisecond
	}
	if c.HandshakeTimeout <= 0 {
		c.HandshakeTimeout = 3 * time.Second
	}
	if c.RetryDeadline <= 0 {
		c.RetryDeadline = 15 * time.Second
	}
	if c.QueryTimeout <= 0 {
		c.QueryTimeout = 2 * time.Second
	}
	if c.NotifyTimeout <= 0 {
		c.NotifyTimeout = 2 * time.Second
	}
	if c.RunID == "" {
		c.RunID = idgen.New()
	}
}

// Method is how a session completed.
type Method string

const (
	MethodClick   Method = "click"
	MethodHidden  Method = "hidden"
	MethodRemoved Method = "removed"
)

// Outcome is why Run returned.
type Outcome string

const (
	OutcomeAccepted Outcome = "accepted"
	OutcomeDisabled Outcome = "disabled"
	OutcomeExpired  Outcome = "expired"
)

// Result summarises a session.
type Result struct {
	RunID       string        `json:"run_id"`
	Outcome     Outcome       `json:"outcome"`
	Enabled     bool          `json:"enabled"`
	Accepted    bool          `json:"accepted"`
	Method      Method        `json:"method,omitempty"`
	Clicked     []string      `json:"clicked,omitempty"`
	SaveClicked bool          `json:"save_clicked"`
	Removed     int           `json:"removed"`
	Passes      int           `json:"passes"`
	Duration    time.Duration `json:"duration_ns"`
}

// Session is the state of one page load. Fields below the loop are owned by
// loop tasks.
type Session struct {
	cfg    Config
	doc    dom.Document
	col    *collector
	loop   *loop
	logger *slog.Logger

	done     chan struct{}
	notifyWG sync.WaitGroup

	enabled  bool
	accepted bool
	// clicked is set by the primary click and keeps later passes from
	// clicking again while the handshake runs.
	clicked bool

	visCancel   dom.CancelFunc
	readyCancel dom.CancelFunc
	loadCancel  dom.CancelFunc

	// loaded is set once the load pass ran, or the page had already
	// finished loading when the session began.
	loaded  bool
	expired bool

	retryStart   time.Time
	retryTimer   *timer
	retrySub     *subscription
	retryStopped bool
	debounce     *timer

	saveSub   *subscription
	saveTimer *timer

	result Result
}

// NewSession prepares a session over doc. Call Run once.
func NewSession(doc dom.Document, cfg Config) *Session {
	cfg.defaults()
	logger := cfg.Logger.With("run_id", cfg.RunID)
	return &Session{
		cfg:    cfg,
		doc:    doc,
		col:    &collector{doc: doc, patterns: cfg.Patterns, logger: logger},
		loop:   newLoop(),
		logger: logger,
		done:   make(chan struct{}),
		result: Result{RunID: cfg.RunID, Outcome: OutcomeExpired},
	}
}

// Run drives the session until it accepted or was disabled, until the
// retry deadline passed after the load event, or until ctx ended. ctx is the
// page lifetime.
func Run(ctx context.Context, doc dom.Document, cfg Config) Result {
	return NewSession(doc, cfg).Run(ctx)
}

// Run drives the session. It must be called at most once.
func (s *Session) Run(ctx context.Context) Result {
	start := time.Now()
	s.loop.post(func() { s.start(ctx) })
	s.loop.run(ctx, s.done)
	s.teardown()
	s.notifyWG.Wait()

	s.result.Duration = time.Since(start)
	s.logger.Info("consent: session ended",
		"outcome", s.result.Outcome, "method", s.result.Method,
		"passes", s.result.Passes, "duration", s.result.Duration)
	return s.result
}

// start defers everything until the tab is visible.
func (s *Session) start(ctx context.Context) {
	if !s.doc.Hidden() {
		s.begin(ctx)
		return
	}
	s.logger.Debug("consent: tab hidden, waiting for visibility")
	s.visCancel = s.doc.OnVisibilityChange(func(hidden bool) {
		if hidden {
			return
		}
		s.loop.post(func() { s.becameVisible(ctx) })
	})
	// The tab may have turned visible before the listener was in place.
	if !s.doc.Hidden() {
		s.becameVisible(ctx)
	}
}

func (s *Session) becameVisible(ctx context.Context) {
	if s.visCancel == nil {
		return
	}
	s.visCancel()
	s.visCancel = nil
	s.begin(ctx)
}

func (s *Session) begin(ctx context.Context) {
	go func() {
		enabled := s.queryEnabled(ctx)
		s.loop.post(func() { s.onStatus(enabled) })
	}()
}

// queryEnabled fails open: no channel, an error or no reply mean enabled.
func (s *Session) queryEnabled(ctx context.Context) bool {
	if s.cfg.Channel == nil {
		return true
	}
	qctx, cancel := context.WithTimeout(ctx, s.cfg.QueryTimeout)
	defer cancel()
	enabled, err := s.cfg.Channel.QueryEnabled(qctx)
	if err != nil {
		s.logger.Debug("consent: status query failed, assuming enabled", "error", err)
		return true
	}
	return enabled
}

func (s *Session) onStatus(enabled bool) {
	s.enabled = enabled
	s.result.Enabled = enabled
	if !enabled {
		s.logger.Info("consent: disabled by controller")
		s.result.Outcome = OutcomeDisabled
		close(s.done)
		return
	}

	s.runPass("initial")
	if s.accepted {
		return
	}
	s.loadCancel = s.doc.OnLoad(func() {
		s.loop.post(func() {
			s.runPass("load")
			s.loaded = true
			s.maybeExpire()
		})
	})
	if s.doc.ReadyState() == "complete" {
		s.loaded = true
	}
	s.startRetry()
}

// runPass is the detection pipeline: collect, click the best candidate and
// start the handshake; otherwise try the hidden-button fallback; otherwise
// remove known CMP containers.
func (s *Session) runPass(trigger string) {
	if !s.enabled || s.accepted || s.clicked {
		return
	}
	s.result.Passes++

	cands := s.col.Collect()
	if len(cands) > 0 {
		best := cands[0]
		if err := best.Element.Click(); err != nil {
			s.logger.Debug("consent: click failed", "trigger", trigger, "error", err)
			return
		}
		s.logger.Info("consent: clicked accept",
			"trigger", trigger, "labels", best.Labels, "score", best.Score,
			"source", best.Source, "candidates", len(cands))
		s.clicked = true
		s.result.Method = MethodClick
		s.result.Clicked = append(s.result.Clicked, firstLabel(best.Labels))
		s.handshake()
		return
	}

	if cand, ok := s.col.clickHidden(); ok {
		s.logger.Info("consent: clicked hidden accept", "trigger", trigger, "labels", cand.Labels)
		s.clicked = true
		s.result.Method = MethodHidden
		s.result.Clicked = append(s.result.Clicked, firstLabel(cand.Labels))
		s.handshake()
		return
	}

	if n := s.col.removeContainers(); n > 0 {
		s.logger.Info("consent: removed CMP containers", "trigger", trigger, "count", n)
		s.result.Method = MethodRemoved
		s.result.Removed += n
		s.finish()
	}
}

func (s *Session) teardown() {
	s.saveSub.stop()
	s.saveTimer.stop()
	s.stopRetry()
	for _, c := range []dom.CancelFunc{s.visCancel, s.readyCancel, s.loadCancel} {
		if c != nil {
			c()
		}
	}
	s.visCancel, s.readyCancel, s.loadCancel = nil, nil, nil
}

func firstLabel(labels []string) string {
	if len(labels) == 0 {
		return ""
	}
	return labels[0]
}
