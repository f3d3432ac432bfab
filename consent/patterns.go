package consent

import (
	"fmt"
	"regexp"
	"strings"
)

// Accept phrases. Matched against a whole normalized label.
var acceptPhrases = []string{
	// en
	`accept`, `accept all`, `accept all cookies`, `accept cookies`,
	`accept (?:and|&) (?:close|continue|proceed)`, `i accept`,
	`agree`, `i agree`, `agree (?:and|&) (?:close|continue|proceed)`,
	`yes,? i (?:agree|accept)`, `allow`, `allow all`, `allow all cookies`,
	`allow cookies`, `got it!?`, `ok!?`, `okay!?`, `ok,? got it!?`,
	`i understand`, `understood`,
	// fr
	`accepter`, `tout accepter`, `accepter tout`, `accepter (?:et|&) (?:fermer|continuer)`,
	`j'accepte`, `d'accord`, `j'ai compris`, `ok,? j'ai compris`,
	// de
	`akzeptieren`, `alle akzeptieren`, `alles akzeptieren`, `alle cookies akzeptieren`,
	`zustimmen`, `allen zustimmen`, `alle zulassen`, `einverstanden`,
	`ich stimme zu`, `verstanden`,
	// es / pt
	`aceptar`, `aceptar todo`, `aceptar todas`, `aceptar cookies`, `acepto`,
	`de acuerdo`, `entendido`, `aceitar`, `aceitar todos`, `aceito`, `concordo`,
	// it
	`accetta`, `accetta tutto`, `accetta tutti`, `accetto`, `ho capito`,
	// nl
	`accepteren`, `alles accepteren`, `alle cookies accepteren`, `akkoord`, `ik ga akkoord`,
	// pl / nordic
	`akceptuj`, `akceptuję`, `akceptuj wszystkie`, `zgadzam się`,
	`acceptera`, `godkänn alla`, `accepter alle`, `tillad alle`,
}

// Save/confirm phrases, only used for the follow-up step of a handshake.
var savePhrases = []string{
	`save`, `save (?:my )?(?:preferences|settings|choices|selection)`,
	`save (?:&|and) (?:exit|close)`, `confirm`, `confirm (?:my )?(?:choices|selection|preferences)`,
	`submit`, `done`, `close`,
	`enregistrer`, `enregistrer (?:mes )?(?:choix|préférences)`, `confirmer`, `valider`, `fermer`,
	`speichern`, `auswahl speichern`, `einstellungen speichern`, `bestätigen`, `schließen`,
	`guardar`, `guardar (?:preferencias|configuración)`, `confirmar`, `cerrar`,
	`salva`, `salva (?:preferenze|impostazioni)`, `conferma`, `chiudi`,
	`opslaan`, `voorkeuren opslaan`, `bevestigen`, `sluiten`, `salvar`,
}

// Exclusion phrases: settings, reject, navigation, commerce, social intent.
var exclusionPhrases = []string{
	`settings`, `cookie settings`, `manage settings`, `privacy settings`,
	`manage (?:cookies|preferences|options|choices|consent)`, `preferences`,
	`cookie preferences`, `customi[sz]e`, `customi[sz]e (?:settings|cookies|choices)`,
	`options`, `more options`, `let me choose`,
	`reject`, `reject all`, `reject cookies`, `decline`, `decline all`, `deny`, `refuse`,
	`no`, `no,? thanks`, `not now`,
	`necessary only`, `only necessary`, `essential only`, `only essential`,
	`(?:accept|allow|use) (?:only )?(?:strictly )?(?:necessary|essential|required)(?: cookies)?(?: only)?`,
	`privacy policy`, `cookie policy`, `learn more`, `more info(?:rmation)?`, `read more`,
	`details`, `show details`, `show purposes`, `vendors`, `partners`,
	`sign in`, `log ?in`, `sign up`, `register`, `subscribe`, `buy`, `buy now`,
	`add to cart`, `checkout`, `share`, `follow`, `like`, `tweet`,
	`paramètres`, `personnaliser`, `refuser`, `tout refuser`, `continuer sans accepter`,
	`einstellungen`, `ablehnen`, `alle ablehnen`, `nur notwendige(?: cookies)?`,
	`rechazar`, `rechazar todo`, `configurar`, `rifiuta`, `rifiuta tutto`, `impostazioni`,
	`weigeren`, `instellingen`, `recusar`,
}

// Context keywords, matched as substrings of lower-cased ancestor text.
var contextKeywords = []string{
	"cookie", "consent", "gdpr", "privacy", "tracking", "we use",
	"personal data", "ccpa", "datenschutz", "einwilligung", "confidentialité",
	"données personnelles", "privacidad", "consentimiento", "informativa",
	"toestemming", "privacidade",
}

// Classes that CMPs put on <html> or <body> to lock scrolling.
var scrollLockClasses = []string{
	"sp-message-open", "no-scroll", "noscroll", "modal-open", "overflow-hidden",
	"didomi-popup-open", "tc-modal-open", "cookie-consent-open", "cmp-open",
}

// Sourcepoint containers. Their content is a cross-origin iframe that
// cannot be inspected or clicked.
var cmpContainerSelectors = []string{
	`[id^="sp_message_container"]`,
	`iframe[id^="sp_message_iframe"]`,
	`.sp_veil`,
}

// clickableSelector is the clickable-role selector set of the main pass.
const clickableSelector = `button, [role="button"], input[type="submit"], input[type="button"], a[href^="javascript"], a[href="#"]`

// hiddenButtonSelector is the narrower set scanned by the hidden-button fallback.
const hiddenButtonSelector = `button, [role="button"]`

// PatternSet is an immutable ordered set of whole-string matchers.
type PatternSet struct {
	res []*regexp.Regexp
}

// NewPatternSet compiles phrases as anchored, case-insensitive regexes. It
// panics on an invalid phrase; use CompilePatternSet for untrusted input.
func NewPatternSet(phrases []string) *PatternSet {
	ps, err := CompilePatternSet(phrases)
	if err != nil {
		panic(err)
	}
	return ps
}

// CompilePatternSet is NewPatternSet with an error return.
func CompilePatternSet(phrases []string) (*PatternSet, error) {
	ps := &PatternSet{res: make([]*regexp.Regexp, 0, len(phrases))}
	for _, p := range phrases {
		re, err := regexp.Compile(`(?i)^(?:` + p + `)$`)
		if err != nil {
			return nil, fmt.Errorf("consent: pattern %q: %w", p, err)
		}
		ps.res = append(ps.res, re)
	}
	return ps, nil
}

// Len returns the number of patterns.
func (ps *PatternSet) Len() int { return len(ps.res) }

func (ps *PatternSet) with(extra *PatternSet) *PatternSet {
	res := make([]*regexp.Regexp, 0, len(ps.res)+len(extra.res))
	res = append(res, ps.res...)
	return &PatternSet{res: append(res, extra.res...)}
}

// Match reports whether a normalized label matches any pattern.
func (ps *PatternSet) Match(label string) bool {
	for _, re := range ps.res {
		if re.MatchString(label) {
			return true
		}
	}
	return false
}

// Patterns groups the matchers used by a session.
type Patterns struct {
	Accept          *PatternSet
	Save            *PatternSet
	Exclusion       *PatternSet
	ContextKeywords []string
}

// DefaultPatterns is loaded once and never mutated.
var DefaultPatterns = &Patterns{
	Accept:          NewPatternSet(acceptPhrases),
	Save:            NewPatternSet(savePhrases),
	Exclusion:       NewPatternSet(exclusionPhrases),
	ContextKeywords: contextKeywords,
}

// Extra holds site- or locale-specific additions to the default phrases.
type Extra struct {
	Accept          []string `yaml:"accept" json:"accept,omitempty"`
	Save            []string `yaml:"save" json:"save,omitempty"`
	Exclusion       []string `yaml:"exclusion" json:"exclusion,omitempty"`
	ContextKeywords []string `yaml:"context_keywords" json:"context_keywords,omitempty"`
}

// Extend returns a copy of p with the extra phrases appended. p is not
// modified.
func (p *Patterns) Extend(extra Extra) (*Patterns, error) {
	accept, err := CompilePatternSet(extra.Accept)
	if err != nil {
		return nil, err
	}
	save, err := CompilePatternSet(extra.Save)
	if err != nil {
		return nil, err
	}
	excl, err := CompilePatternSet(extra.Exclusion)
	if err != nil {
		return nil, err
	}
	kw := make([]string, 0, len(p.ContextKeywords)+len(extra.ContextKeywords))
	kw = append(kw, p.ContextKeywords...)
	for _, k := range extra.ContextKeywords {
		kw = append(kw, strings.ToLower(k))
	}
	return &Patterns{
		Accept:          p.Accept.with(accept),
		Save:            p.Save.with(save),
		Exclusion:       p.Exclusion.with(excl),
		ContextKeywords: kw,
	}, nil
}

// containsKeyword reports whether lower-cased text holds any context keyword.
func (p *Patterns) containsKeyword(text string) bool {
	text = strings.ToLower(text)
	for _, k := range p.ContextKeywords {
		if strings.Contains(text, k) {
			return true
		}
	}
	return false
}
