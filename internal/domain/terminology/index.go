package terminology

// InvertedIndex maps a token to the codes whose indexed terms contain it.
// Each posting list holds a code at most once.
type InvertedIndex map[string][]string

// Grouping maps a secondary key (chapter, class, component ...) to codes in
// store insertion order.
type Grouping map[string][]string

// KeyFunc extracts the grouping keys of a concept.
type KeyFunc func(c *Concept) []string

// BuildIndex tokenizes the indexed terms of every active concept. Building
// twice from the same store yields the same index.
func BuildIndex(s *Store, p Policy) InvertedIndex {
	idx := make(InvertedIndex)
	s.Each(func(c *Concept) {
		if !c.Active {
			return
		}
		for _, term := range p.indexTerms(c) {
			for _, tok := range p.Tokenizer.Tokens(term) {
				idx.add(tok, c.Code)
			}
		}
	})
	return idx
}

// Codes concepts are added one at a time, so a duplicate within the same
// concept is always the last element of the posting list.
func (idx InvertedIndex) add(token, code string) {
	list := idx[token]
	if n := len(list); n > 0 && list[n-1] == code {
		return
	}
	idx[token] = append(list, code)
}

// Candidates unions the posting lists of the given tokens.
func (idx InvertedIndex) Candidates(tokens []string) map[string]struct{} {
	out := make(map[string]struct{})
	for _, tok := range tokens {
		for _, code := range idx[tok] {
			out[code] = struct{}{}
		}
	}
	return out
}

// BuildGrouping groups concepts by the keys returned from fn. Empty keys are
// ignored and a code appears once per key.
func BuildGrouping(s *Store, fn KeyFunc) Grouping {
	g := make(Grouping)
	s.Each(func(c *Concept) {
		for _, key := range fn(c) {
			if key == "" {
				continue
			}
			list := g[key]
			if n := len(list); n > 0 && list[n-1] == c.Code {
				continue
			}
			g[key] = append(list, c.Code)
		}
	})
	return g
}
