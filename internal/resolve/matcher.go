package resolve

import (
	"strings"
)

// Candidate is one known entity a raw name can be matched against.
// Variants carry alternate spellings (aliases, translations, acronym
// expansions) that score independently; the best variant wins.
type Candidate struct {
	ID       int64
	Name     string
	Variants []string
}

// Match is the outcome of candidate matching.
type Match struct {
	CandidateID int64
	Name        string
	Score       float64
	Reason      string
}

// Match reasons.
const (
	ReasonFuzzy       = "fuzzy"
	ReasonHintKeyword = "hint_keyword"
)

// MatcherOptions tunes candidate matching.
type MatcherOptions struct {
	// HintKeywords bypass the fuzzy threshold: a query containing one of
	// these substrings (case-insensitive) has its best score raised to at
	// least HintScore.
	HintKeywords []string
	HintScore    float64
}

// Matcher scores raw names against a fixed candidate list. An inverted
// token index prunes the scan to candidates sharing at least one
// comparison token with the query.
type Matcher struct {
	candidates []Candidate
	byToken    map[string][]int
	opts       MatcherOptions
}

// NewMatcher builds the token index over the candidate list.
func NewMatcher(candidates []Candidate, opts MatcherOptions) *Matcher {
	if opts.HintScore == 0 {
		opts.HintScore = 0.99
	}
	m := &Matcher{
		candidates: candidates,
		byToken:    make(map[string][]int),
		opts:       opts,
	}
	for i, c := range m.candidates {
		seen := make(map[string]bool)
		for _, name := range candidateNames(c) {
			for _, tok := range TokenSet(name).Slice() {
				if seen[tok] {
					continue
				}
				seen[tok] = true
				m.byToken[tok] = append(m.byToken[tok], i)
			}
		}
	}
	return m
}

func candidateNames(c Candidate) []string {
	names := append([]string{c.Name}, c.Variants...)
	// Many upstream entries carry an acronym prefix: "NRC - Norwegian
	// Refugee Council". Score the long form on its own too.
	for _, n := range names {
		if _, long, ok := strings.Cut(n, " - "); ok && long != "" {
			names = append(names, long)
		}
	}
	return names
}

// Best returns the highest-scoring candidate for the query name, or nil
// when no candidate shares a token with it. A query carrying a hint
// keyword bypasses the token pruning entirely and is scored against every
// candidate. Callers apply their own acceptance threshold.
func (m *Matcher) Best(query string) *Match {
	hinted := m.hasHint(query)
	hit := make(map[int]bool)
	for _, tok := range TokenSet(query).Slice() {
		for _, i := range m.byToken[tok] {
			hit[i] = true
		}
	}
	if len(hit) == 0 {
		if !hinted {
			return nil
		}
		for i := range m.candidates {
			hit[i] = true
		}
	}

	var best *Match
	for i := range m.candidates {
		if !hit[i] {
			continue
		}
		c := m.candidates[i]
		score := BestVariantScore(query, candidateNames(c))
		if best == nil || score > best.Score {
			best = &Match{CandidateID: c.ID, Name: c.Name, Score: score, Reason: ReasonFuzzy}
		}
	}

	if best != nil && m.hasHint(query) && best.Score < m.opts.HintScore {
		best.Score = m.opts.HintScore
		best.Reason = ReasonHintKeyword
	}
	return best
}

// BestVariantScore scores a query against every variant of one candidate
// and returns the maximum.
func BestVariantScore(query string, variants []string) float64 {
	best := 0.0
	for _, v := range variants {
		if v == "" {
			continue
		}
		if s := Similarity(query, v); s > best {
			best = s
		}
	}
	return best
}

func (m *Matcher) hasHint(query string) bool {
	lower := strings.ToLower(query)
	for _, hint := range m.opts.HintKeywords {
		if strings.Contains(lower, hint) {
			return true
		}
	}
	return false
}
