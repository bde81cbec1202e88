// Package route maps inbound recipients to chat destinations.
package route

import (
	"fmt"
	"regexp"
	"strings"
)

// Rule sends mail for recipients matching Pattern to Channel.
// Patterns are regular expressions matched case-insensitively.
type Rule struct {
	Pattern string
	Channel string
}

type compiledRule struct {
	re      *regexp.Regexp
	channel string
}

// Table is an ordered, read-only set of routing rules with a fallback
// destination. It is safe for concurrent use.
type Table struct {
	rules    []compiledRule
	fallback string
}

// New compiles rules in order. It returns an error for an empty channel or
// an invalid pattern.
func New(fallback string, rules []Rule) (*Table, error) {
	t := &Table{fallback: fallback}

	for i, r := range rules {
		if strings.TrimSpace(r.Channel) == "" {
			return nil, fmt.Errorf("route %d (%q): channel is required", i, r.Pattern)
		}

		pattern := r.Pattern
		if !strings.HasPrefix(pattern, "(?i)") {
			pattern = "(?i)" + pattern
		}
		re, err := regexp.Compile(pattern)
		if err != nil {
			return nil, fmt.Errorf("route %d: invalid pattern %q: %w", i, r.Pattern, err)
		}
		t.rules = append(t.rules, compiledRule{re: re, channel: r.Channel})
	}

	return t, nil
}

// Lookup returns the channel of the first rule matching any of the
// recipients, trying rules in order. Without a match it returns the fallback.
func (t *Table) Lookup(recipients ...string) string {
	for _, r := range t.rules {
		for _, rcpt := range recipients {
			if r.re.MatchString(strings.TrimSpace(rcpt)) {
				return r.channel
			}
		}
	}
	return t.fallback
}

// Fallback returns the destination used when no rule matches.
func (t *Table) Fallback() string {
	return t.fallback
}

// Len returns the number of rules.
func (t *Table) Len() int {
	return len(t.rules)
}

// ParseRules parses the compact "pattern=channel;pattern=channel" form used
// in environment variables. The last '=' of each entry separates the pattern
// from the channel.
func ParseRules(s string) ([]Rule, error) {
	var rules []Rule
	for _, entry := range strings.Split(s, ";") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		i := strings.LastIndex(entry, "=")
		if i <= 0 || i == len(entry)-1 {
			return nil, fmt.Errorf("invalid route %q: want pattern=channel", entry)
		}
		rules = append(rules, Rule{
			Pattern: strings.TrimSpace(entry[:i]),
			Channel: strings.TrimSpace(entry[i+1:]),
		})
	}
	return rules, nil
}
