// Package scrub removes secrets from diagnostic text and bounds its length
// before it is shown to a chat user or written to a run record.
package scrub

import (
	"regexp"
	"strings"
	"unicode/utf8"
)

// DefaultMaxLength bounds error text surfaced to users.
const DefaultMaxLength = 500

// Pattern is one redaction rule.
type Pattern struct {
	Name        string
	Pattern     *regexp.Regexp
	Replacement string
}

// Ordered so multi-line and structured secrets are removed before the
// generic token rules can split them.
var defaultPatterns = []Pattern{
	{
		Name:        "private_key",
		Pattern:     regexp.MustCompile(`(?i)-----BEGIN\s+([A-Z]+\s+)?PRIVATE\s+KEY-----[\s\S]*?-----END\s+([A-Z]+\s+)?PRIVATE\s+KEY-----`),
		Replacement: "[PRIVATE_KEY_REDACTED]",
	},
	{
		Name:        "url_password",
		Pattern:     regexp.MustCompile(`://[^:/\s]+:([^@\s]+)@`),
		Replacement: "://[USER]:[PASSWORD_REDACTED]@",
	},
	{
		Name:        "jwt",
		Pattern:     regexp.MustCompile(`eyJ[a-zA-Z0-9_-]*\.eyJ[a-zA-Z0-9_-]*\.[a-zA-Z0-9_-]*`),
		Replacement: "[JWT_REDACTED]",
	},
	{
		Name:        "bearer",
		Pattern:     regexp.MustCompile(`(?i)bearer\s+[a-zA-Z0-9_\-\.=]+`),
		Replacement: "Bearer [TOKEN_REDACTED]",
	},
	{
		Name:        "anthropic_key",
		Pattern:     regexp.MustCompile(`sk-[a-zA-Z0-9_\-]{16,}`),
		Replacement: "[KEY_REDACTED]",
	},
	{
		Name:        "api_key",
		Pattern:     regexp.MustCompile(`(?i)(api[_\-]?key|apikey|secret[_\-]?key|auth[_\-]?token|password|token)(\s*[=:]\s*|\s+)["']?([a-zA-Z0-9_\-\.]{8,})["']?`),
		Replacement: "$1=[KEY_REDACTED]",
	},
	{
		Name:        "aws_key",
		Pattern:     regexp.MustCompile(`(AKIA|ABIA|ACCA|ASIA)[A-Z0-9]{16}`),
		Replacement: "[AWS_KEY_REDACTED]",
	},
	{
		Name:        "user_path_mac",
		Pattern:     regexp.MustCompile(`/Users/[a-zA-Z0-9_\-.]+/`),
		Replacement: "/Users/[USER]/",
	},
	{
		Name:        "home_path_linux",
		Pattern:     regexp.MustCompile(`/home/[a-zA-Z0-9_\-.]+/`),
		Replacement: "/home/[USER]/",
	},
}

// Scrubber applies redaction rules.
type Scrubber struct {
	patterns []Pattern
}

// New returns a scrubber with the default rules plus any extras.
func New(extra ...Pattern) *Scrubber {
	p := make([]Pattern, 0, len(defaultPatterns)+len(extra))
	p = append(p, defaultPatterns...)
	p = append(p, extra...)
	return &Scrubber{patterns: p}
}

// Literal returns a rule that redacts an exact configured secret value.
func Literal(name, secret string) Pattern {
	return Pattern{
		Name:        name,
		Pattern:     regexp.MustCompile(regexp.QuoteMeta(secret)),
		Replacement: "[" + strings.ToUpper(name) + "_REDACTED]",
	}
}

// Scrub returns text with every rule applied.
func (s *Scrubber) Scrub(text string) string {
	for _, p := range s.patterns {
		text = p.Pattern.ReplaceAllString(text, p.Replacement)
	}
	return text
}

// Bounded scrubs text and truncates it to max characters, marking the cut.
func (s *Scrubber) Bounded(text string, max int) string {
	return Truncate(strings.TrimSpace(s.Scrub(text)), max)
}

const ellipsis = "…"

// Truncate cuts text to at most max runes including the trailing marker.
func Truncate(text string, max int) string {
	if max <= 0 || utf8.RuneCountInString(text) <= max {
		return text
	}
	r := []rune(text)
	if max == 1 {
		return ellipsis
	}
	return string(r[:max-1]) + ellipsis
}

var defaultScrubber = New()

// String scrubs text with the default rules.
func String(text string) string { return defaultScrubber.Scrub(text) }
