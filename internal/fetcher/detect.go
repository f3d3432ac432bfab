package fetcher

import (
	"sort"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// cmpSignatures maps a consent platform to substrings of its loader script
// URL or inline bootstrap code.
var cmpSignatures = map[string][]string{
	"sourcepoint":    {"sourcepoint", "sp-prod.net", "_sp_.config", "sp_message"},
	"onetrust":       {"onetrust", "cookielaw.org", "optanon"},
	"cookiebot":      {"cookiebot"},
	"didomi":         {"didomi"},
	"quantcast":      {"quantcast.mgr", "cmp.quantcast", "__tcfapi"},
	"usercentrics":   {"usercentrics"},
	"trustarc":       {"trustarc", "truste.com"},
	"consentmanager": {"consentmanager.net"},
	"iubenda":        {"iubenda"},
	"complianz":      {"complianz"},
	"osano":          {"osano"},
}

// DetectCMPs lists the consent platforms whose scripts appear in doc,
// sorted by name.
func DetectCMPs(doc *goquery.Document) []string {
	var hay strings.Builder
	doc.Find("script").Each(func(_ int, s *goquery.Selection) {
		if src, ok := s.Attr("src"); ok {
			hay.WriteString(strings.ToLower(src))
			hay.WriteByte('\n')
		}
		hay.WriteString(strings.ToLower(s.Text()))
		hay.WriteByte('\n')
	})
	text := hay.String()

	var found []string
	for name, sigs := range cmpSignatures {
		for _, sig := range sigs {
			if strings.Contains(text, sig) {
				found = append(found, name)
				break
			}
		}
	}
	sort.Strings(found)
	return found
}

// shellRoots are the empty mount points of client-rendered apps.
var shellRoots = []string{"#root", "#app", "#__next", "#__nuxt"}

// IsShell reports whether doc is a client-rendered shell: an empty mount
// point, or under 200 characters of body text outside scripts and styles.
func IsShell(doc *goquery.Document) bool {
	for _, sel := range shellRoots {
		if root := doc.Find(sel); root.Length() > 0 && root.Children().Length() == 0 &&
			strings.TrimSpace(root.Text()) == "" {
			return true
		}
	}
	body := doc.Find("body").Clone()
	body.Find("script, style, noscript, template").Remove()
	return len(strings.Join(strings.Fields(body.Text()), " ")) < 200
}
