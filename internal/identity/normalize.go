// Package identity computes stable fingerprints for defect records and
// decides whether an incoming record is the same defect as a stored one.
package identity

import (
	"net/url"
	"path"
	"regexp"
	"strings"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"

	"github.com/starford/a11yledger/internal/wcag"
)

var (
	folder      = cases.Fold()
	hostLikeRe  = regexp.MustCompile(`^[A-Za-z0-9-]+(\.[A-Za-z0-9-]+)+(/|$)`)
	leadingIDRe = regexp.MustCompile(`^\s*(?:a11y[\s_-]*|wcag[\s_-]*|sc[\s_-]*)?\d\.\d{1,2}\.\d{1,2}\b`)
)

// noiseTokens are platform, browser and assistive-technology words that vary
// between reports of the same defect.
var noiseTokens = map[string]struct{}{
	"a11y": {}, "wcag": {}, "sc": {},
	"web": {}, "mobile": {}, "desktop": {}, "tablet": {}, "uma": {}, "app": {}, "native": {},
	"ios": {}, "ipados": {}, "android": {}, "windows": {}, "macos": {}, "mac": {}, "osx": {}, "linux": {},
	"chrome": {}, "safari": {}, "firefox": {}, "edge": {}, "browser": {},
	"nvda": {}, "jaws": {}, "voiceover": {}, "talkback": {}, "narrator": {},
	"regression": {}, "e2e": {}, "prod": {}, "qa": {}, "uat": {}, "stage": {}, "staging": {},
}

var noisePhrases = []string{"end to end"}

// fold returns the NFC-normalized, case-folded form of s.
func fold(s string) string {
	return folder.String(norm.NFC.String(s))
}

// Tokens splits s into folded word tokens.
func Tokens(s string) []string {
	return strings.FieldsFunc(fold(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

// TextKey is the comparison form of a finding: differences in case,
// whitespace and punctuation do not change it.
func TextKey(s string) string {
	return strings.Join(Tokens(s), " ")
}

// NormalizePage reduces a URL to host and path, dropping scheme, "www.",
// query, fragment, path parameters and trailing slashes. Screen names are
// folded and whitespace-collapsed.
func NormalizePage(page string) string {
	p := strings.TrimSpace(page)
	if p == "" {
		return ""
	}
	if !strings.Contains(p, "://") && hostLikeRe.MatchString(p) {
		p = "https://" + p
	}
	if u, err := url.Parse(p); err == nil && u.Host != "" && (u.Scheme == "http" || u.Scheme == "https") {
		host := strings.TrimPrefix(strings.ToLower(u.Hostname()), "www.")
		segs := strings.Split(u.Path, "/")
		for i, s := range segs {
			if j := strings.IndexByte(s, ';'); j >= 0 {
				segs[i] = s[:j]
			}
		}
		cleaned := path.Clean("/" + strings.Join(segs, "/"))
		cleaned = strings.TrimSuffix(strings.ToLower(cleaned), "/")
		return host + cleaned
	}
	if strings.HasPrefix(p, "/") {
		cleaned := path.Clean(strings.SplitN(strings.SplitN(p, "?", 2)[0], "#", 2)[0])
		return strings.TrimSuffix(strings.ToLower(cleaned), "/")
	}
	return strings.Join(strings.Fields(fold(p)), " ")
}

// NormalizeTitle extracts the leading WCAG criterion of title and returns the
// remaining signature: folded word tokens without the criterion name,
// platform, browser or assistive-technology words.
func NormalizeTitle(title string) (criterion, signature string) {
	criterion = wcag.LeadingID(title)
	rest := leadingIDRe.ReplaceAllString(fold(title), " ")
	tokens := Tokens(rest)

	if c, ok := wcag.Lookup(criterion); ok {
		tokens = removePhrase(tokens, Tokens(c.Name))
	}
	for _, phrase := range noisePhrases {
		tokens = removePhrase(tokens, strings.Fields(phrase))
	}

	kept := tokens[:0]
	for _, t := range tokens {
		if _, noise := noiseTokens[t]; noise || isNumber(t) {
			continue
		}
		kept = append(kept, t)
	}
	return criterion, strings.Join(kept, " ")
}

// removePhrase removes the first occurrence of phrase from tokens.
func removePhrase(tokens, phrase []string) []string {
	if len(phrase) == 0 || len(phrase) > len(tokens) {
		return tokens
	}
	for i := 0; i+len(phrase) <= len(tokens); i++ {
		match := true
		for j, p := range phrase {
			if tokens[i+j] != p {
				match = false
				break
			}
		}
		if match {
			out := make([]string, 0, len(tokens)-len(phrase))
			out = append(out, tokens[:i]...)
			return append(out, tokens[i+len(phrase):]...)
		}
	}
	return tokens
}

func isNumber(s string) bool {
	for _, r := range s {
		if !unicode.IsDigit(r) {
			return false
		}
	}
	return s != ""
}
