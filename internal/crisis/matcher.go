// Package crisis implements keyword-triggered crisis classification for
// inbound chat messages.
package crisis

import (
	"strings"

	"github.com/amparo-app/amparo/internal/storage"
)

// Matcher scans message text against a set of crisis rules.
//
// Matching is substring-based and case-insensitive, with no stemming,
// tokenization, or negation handling: "não vou recair" still matches a
// rule carrying "recair".
type Matcher struct {
	// SeverityPriority selects the highest-severity matching rule instead
	// of the first one in store order. Off by default: precedence follows
	// rule retrieval order.
	SeverityPriority bool
}

// Match returns the first rule (in the given order) with at least one
// trigger keyword contained in the lower-cased message text, and whether
// any rule matched. With SeverityPriority set, ties on severity still
// resolve to the earlier rule.
func (m Matcher) Match(text string, rules []storage.CrisisRule) (storage.CrisisRule, bool) {
	normalized := strings.ToLower(text)
	if normalized == "" {
		return storage.CrisisRule{}, false
	}

	var best storage.CrisisRule
	found := false
	for _, rule := range rules {
		if !ruleMatches(normalized, rule) {
			continue
		}
		if !m.SeverityPriority {
			return rule, true
		}
		if !found || rule.Severity > best.Severity {
			best = rule
			found = true
		}
	}
	return best, found
}

func ruleMatches(normalized string, rule storage.CrisisRule) bool {
	for _, kw := range rule.Keywords {
		if kw == "" {
			continue
		}
		if strings.Contains(normalized, strings.ToLower(kw)) {
			return true
		}
	}
	return false
}
