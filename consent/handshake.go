package consent

import (
	"context"

	"github.com/hazyhaar/consentclick/dom"
)

// handshake runs right after the primary click. A save/confirm control that
// is already there is clicked at once; otherwise the body is watched until
// one appears or HandshakeTimeout elapses. No follow-up within the timeout
// means the flow was single-step and is complete.
func (s *Session) handshake() {
	if save := s.col.findSave(); save != nil {
		s.clickSave(save, "immediate")
		s.finish()
		return
	}

	if body := s.doc.Body(); body != nil {
		sub, err := s.loop.observe(s.doc, body,
			dom.ObserveOptions{ChildList: true, Attributes: true, Subtree: true},
			s.onHandshakeMutation)
		if err != nil {
			s.logger.Debug("consent: handshake observe failed", "error", err)
		}
		s.saveSub = sub
	}
	s.saveTimer = s.loop.after(s.cfg.HandshakeTimeout, func() {
		s.saveSub.stop()
		s.logger.Debug("consent: no follow-up control, handshake timed out")
		s.finish()
	})
}

func (s *Session) onHandshakeMutation() {
	if s.accepted {
		s.saveSub.stop()
		return
	}
	save := s.col.findSave()
	if save == nil {
		return
	}
	// Disconnect before clicking so the click's own mutations cannot re-enter.
	s.saveSub.stop()
	s.saveTimer.stop()
	s.clickSave(save, "watched")
	s.finish()
}

func (s *Session) clickSave(el dom.Element, how string) {
	labels := Labels(el)
	if err := el.Click(); err != nil {
		s.logger.Debug("consent: save click failed", "error", err)
		return
	}
	s.logger.Info("consent: clicked follow-up", "how", how, "labels", labels)
	s.result.SaveClicked = true
	s.result.Clicked = append(s.result.Clicked, firstLabel(labels))
}

// finish completes the session once: restores scrolling, clears residual
// CMP containers and notifies the controller.
func (s *Session) finish() {
	if s.accepted {
		return
	}
	s.accepted = true
	s.result.Accepted = true
	s.result.Outcome = OutcomeAccepted

	s.saveSub.stop()
	s.saveTimer.stop()
	s.stopRetry()

	for _, el := range []dom.Element{s.doc.DocumentElement(), s.doc.Body()} {
		if el == nil {
			continue
		}
		_ = el.RemoveStyle("overflow")
		_ = el.RemoveStyle("position")
		_ = el.RemoveClass(scrollLockClasses...)
	}
	s.result.Removed += s.col.removeContainers()

	if s.cfg.Channel != nil {
		s.notifyWG.Add(1)
		go func() {
			defer s.notifyWG.Done()
			ctx, cancel := context.WithTimeout(context.Background(), s.cfg.NotifyTimeout)
			defer cancel()
			if err := s.cfg.Channel.Notify(ctx, Message{Type: MessageCookieAccepted}); err != nil {
				s.logger.Debug("consent: notify failed", "error", err)
			}
		}()
	}
	close(s.done)
}
