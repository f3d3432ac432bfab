package consent

import (
	"time"

	"github.com/hazyhaar/consentclick/dom"
)

// startRetry subscribes to body churn. Each burst of mutations collapses
// into one pass. RetryDeadline after the first call the scheduler stops for
// good, whether or not the body ever changed.
func (s *Session) startRetry() {
	if s.retryTimer == nil {
		s.retryStart = time.Now()
		s.retryTimer = s.loop.after(s.cfg.RetryDeadline, s.onRetryDeadline)
	}

	body := s.doc.Body()
	if body == nil {
		if s.readyCancel != nil {
			return
		}
		s.readyCancel = s.doc.OnContentLoaded(func() {
			s.loop.post(func() {
				if s.accepted || s.retryStopped || s.retrySub != nil {
					return
				}
				s.startRetry()
			})
		})
		return
	}

	sub, err := s.loop.observe(s.doc, body, dom.ObserveOptions{ChildList: true, Subtree: true}, s.onRetryMutation)
	if err != nil {
		s.logger.Debug("consent: retry observe failed", "error", err)
		return
	}
	s.retrySub = sub
}

func (s *Session) onRetryMutation() {
	if s.accepted {
		s.stopRetry()
		return
	}
	if time.Since(s.retryStart) > s.cfg.RetryDeadline {
		s.onRetryDeadline()
		return
	}
	s.debounce.stop()
	s.debounce = s.loop.after(s.cfg.Debounce, func() { s.runPass("retry") })
}

func (s *Session) onRetryDeadline() {
	s.logger.Debug("consent: retry deadline reached")
	s.stopRetry()
	s.maybeExpire()
}

func (s *Session) stopRetry() {
	s.retryStopped = true
	s.retrySub.stop()
	s.retryTimer.stop()
	s.debounce.stop()
}

// maybeExpire ends the session once nothing can trigger another pass: the
// retry scheduler has stopped, no handshake is pending and the load pass is
// behind us.
func (s *Session) maybeExpire() {
	if s.accepted || s.clicked || s.expired || !s.retryStopped || !s.loaded {
		return
	}
	s.logger.Debug("consent: nothing left to watch, expiring")
	s.expired = true
	s.result.Outcome = OutcomeExpired
	close(s.done)
}
