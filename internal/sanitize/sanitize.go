// Package sanitize implements the defensive scrubbing of user-authored
// strings described in spec §4.6 (C6). No HTML sanitizer library
// appears anywhere in the retrieved example pack, so this package is
// built on the standard library's html, regexp, and strings packages —
// see DESIGN.md for why that is a deliberate, justified exception to
// preferring a third-party dependency.
package sanitize

import (
	"html"
	"regexp"
	"strings"
)

const roomNameMaxLen = 100

var (
	anyTagPattern        = regexp.MustCompile(`<[^>]*>`)
	dangerousSchemePtn   = regexp.MustCompile(`(?i)(javascript|data|vbscript):`)
	eventHandlerAttrPtn  = regexp.MustCompile(`(?i)\son\w+\s*=\s*("[^"]*"|'[^']*'|[^\s>]*)`)
	anyTagWithNamePtn    = regexp.MustCompile(`</?([a-zA-Z][a-zA-Z0-9]*)[^>]*>`)
	messageBodyAllowlist = map[string]bool{
		"b": true, "i": true, "u": true, "em": true, "strong": true, "br": true, "p": true,
	}
)

// SanitizeText HTML-entity-escapes, strips every tag, strips dangerous
// URI schemes, and trims surrounding whitespace. It is a fixed point
// under re-application: re-normalizing via html.UnescapeString before
// re-stripping and re-escaping means sanitizing already-sanitized text
// reproduces it exactly.
func SanitizeText(s string) string {
	s = html.UnescapeString(s)
	s = anyTagPattern.ReplaceAllString(s, "")
	// Repeat until stable so a scheme nested inside another
	// ("javajavascript:script:") cannot survive one removal pass.
	for {
		next := dangerousSchemePtn.ReplaceAllString(s, "")
		if next == s {
			break
		}
		s = next
	}
	s = html.EscapeString(s)
	return strings.TrimSpace(s)
}

// SanitizeMessageBody permits a small whitelist of inline formatting
// tags (b, i, u, em, strong, br, p), forbidding all attributes —
// including event handlers — on every tag, whitelisted or not, and
// stripping dangerous URI schemes from the remaining text.
func SanitizeMessageBody(s string) string {
	s = html.UnescapeString(s)
	s = dangerousSchemePtn.ReplaceAllString(s, "")
	s = eventHandlerAttrPtn.ReplaceAllString(s, "")
	s = anyTagWithNamePtn.ReplaceAllStringFunc(s, func(tag string) string {
		m := anyTagWithNamePtn.FindStringSubmatch(tag)
		name := strings.ToLower(m[1])
		if !messageBodyAllowlist[name] {
			return ""
		}
		if strings.HasPrefix(tag, "</") {
			return "</" + name + ">"
		}
		return "<" + name + ">"
	})
	return strings.TrimSpace(s)
}

// SanitizeRoomName applies SanitizeText and clamps the result to 100
// characters (rune-aware, so a clamp never splits a multi-byte rune).
func SanitizeRoomName(s string) string {
	s = SanitizeText(s)
	r := []rune(s)
	if len(r) > roomNameMaxLen {
		r = r[:roomNameMaxLen]
	}
	return string(r)
}
