// Package links finds URLs in message text and applies exclude rules to them.
package links

import (
	"fmt"
	"regexp"
	"strings"
)

var urlPattern = regexp.MustCompile(`(?i)https?://[^\s<>]+`)

// Extract returns every URL in text, in order of appearance.
func Extract(text string) []string {
	return urlPattern.FindAllString(text, -1)
}

// Rules decides which URLs are worth clipping.
// A nil *Rules allows everything.
type Rules struct {
	exclude []*regexp.Regexp
}

// NewRules compiles case-insensitive exclude patterns.
func NewRules(patterns []string) (*Rules, error) {
	r := &Rules{}
	for _, p := range patterns {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		re, err := compile(p)
		if err != nil {
			return nil, err
		}
		r.exclude = append(r.exclude, re)
	}
	return r, nil
}

// Allowed reports whether no exclude pattern matches url.
func (r *Rules) Allowed(url string) bool {
	if r == nil {
		return true
	}
	for _, re := range r.exclude {
		if re.MatchString(url) {
			return false
		}
	}
	return true
}

// Find extracts the URLs in text that pass the rules.
func (r *Rules) Find(text string) []string {
	var out []string
	for _, u := range Extract(text) {
		if r.Allowed(u) {
			out = append(out, u)
		}
	}
	return out
}

// ValidateRegex checks whether a pattern is a valid regular expression.
func ValidateRegex(pattern string) error {
	_, err := compile(pattern)
	return err
}

func compile(pattern string) (*regexp.Regexp, error) {
	re, err := regexp.Compile("(?i)" + pattern)
	if err != nil {
		return nil, fmt.Errorf("invalid regex %q: %w", pattern, err)
	}
	return re, nil
}
