package terminology

import (
	"regexp"
	"strings"

	"github.com/fiam/gounidecode/unidecode"
)

var (
	wordPattern  = regexp.MustCompile(`\b[a-z]+\b`)
	alnumPattern = regexp.MustCompile(`[a-z0-9]+`)
)

// Tokenizer is one ontology's tokenization policy. The same policy must be
// used to build an index and to tokenize queries against it.
type Tokenizer struct {
	pattern *regexp.Regexp
	minLen  int
	stop    map[string]struct{}
}

// WordTokenizer keeps purely alphabetic words of at least minLen characters.
func WordTokenizer(minLen int, stopwords ...string) Tokenizer {
	return newTokenizer(wordPattern, minLen, stopwords)
}

// AlnumTokenizer keeps alphanumeric runs of at least minLen characters.
func AlnumTokenizer(minLen int, stopwords ...string) Tokenizer {
	return newTokenizer(alnumPattern, minLen, stopwords)
}

func newTokenizer(p *regexp.Regexp, minLen int, stopwords []string) Tokenizer {
	t := Tokenizer{pattern: p, minLen: minLen}
	if len(stopwords) > 0 {
		t.stop = make(map[string]struct{}, len(stopwords))
		for _, w := range stopwords {
			t.stop[w] = struct{}{}
		}
	}
	return t
}

// Tokens folds text to lowercase ASCII and returns the tokens that pass the
// length and stopword filters, in text order. Duplicates are kept.
func (t Tokenizer) Tokens(text string) []string {
	if t.pattern == nil || text == "" {
		return nil
	}
	folded := strings.ToLower(unidecode.Unidecode(text))
	var out []string
	for _, w := range t.pattern.FindAllString(folded, -1) {
		if len(w) < t.minLen {
			continue
		}
		if _, ok := t.stop[w]; ok {
			continue
		}
		out = append(out, w)
	}
	return out
}
