package terminology

import "strings"

// Relevance tiers, highest first.
const (
	ScoreExactPreferred  = 1.0
	ScorePrefixPreferred = 0.9
	ScoreExactSynonym    = 0.85
	ScoreInPreferred     = 0.8
	ScorePrefixSynonym   = 0.75
	ScoreInSynonym       = 0.7
)

// Score rates a concept against the untokenized query. Comparison is case
// insensitive; the query is trimmed. A zero score means no match.
func Score(query string, c *Concept, preferredOnly bool) float64 {
	q := strings.ToLower(strings.TrimSpace(query))
	if q == "" {
		return 0
	}
	pref := strings.ToLower(c.PreferredTerm)
	switch {
	case q == pref:
		return ScoreExactPreferred
	case strings.HasPrefix(pref, q):
		return ScorePrefixPreferred
	}
	if !preferredOnly {
		for _, syn := range c.Synonyms {
			if strings.EqualFold(q, syn) {
				return ScoreExactSynonym
			}
		}
	}
	if strings.Contains(pref, q) {
		return ScoreInPreferred
	}
	if preferredOnly {
		return 0
	}

	best := 0.0
	for _, syn := range c.Synonyms {
		s := strings.ToLower(syn)
		if strings.HasPrefix(s, q) {
			return ScorePrefixSynonym
		}
		if best == 0 && strings.Contains(s, q) {
			best = ScoreInSynonym
		}
	}
	return best
}
