package content

import (
	"strings"
	"sync/atomic"
)

// Rules filter catalog candidates.
type Rules struct {
	// Denylist entries match as case-insensitive substrings of the title.
	Denylist []string
	// RecencySkip is the probability of skipping a candidate released before
	// RecentSinceYear.
	RecencySkip     float64
	RecentSinceYear int
}

// RuleSet holds the current Rules and can be swapped on config reload while
// sources are reading it.
type RuleSet struct {
	cur atomic.Pointer[compiledRules]
}

type compiledRules struct {
	Rules
	deny []string
}

func NewRuleSet(r Rules) *RuleSet {
	rs := &RuleSet{}
	rs.Set(r)
	return rs
}

func (rs *RuleSet) Set(r Rules) {
	c := &compiledRules{Rules: r}
	for _, d := range r.Denylist {
		d = strings.ToLower(strings.TrimSpace(d))
		if d != "" {
			c.deny = append(c.deny, d)
		}
	}
	rs.cur.Store(c)
}

func (rs *RuleSet) Get() Rules {
	if rs == nil {
		return Rules{}
	}
	if c := rs.cur.Load(); c != nil {
		return c.Rules
	}
	return Rules{}
}

// Denied reports whether title contains a denylisted substring.
func (rs *RuleSet) Denied(title string) bool {
	if rs == nil {
		return false
	}
	c := rs.cur.Load()
	if c == nil || len(c.deny) == 0 {
		return false
	}
	t := strings.ToLower(title)
	for _, d := range c.deny {
		if strings.Contains(t, d) {
			return true
		}
	}
	return false
}

// skipForAge applies the recency bias. Unknown years are never skipped.
func (rs *RuleSet) skipForAge(year int, rnd Rand) bool {
	r := rs.Get()
	if year <= 0 || r.RecentSinceYear <= 0 || r.RecencySkip <= 0 {
		return false
	}
	if year >= r.RecentSinceYear {
		return false
	}
	return rnd.Float64() < r.RecencySkip
}
