package terminology

import (
	"context"
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/surgebase/porter2"
)

// DefaultMapThreshold is the minimum score a search hit needs to be reported
// as a mapping.
const DefaultMapThreshold = 0.7

// mapSearchLimit is the number of hits fetched per candidate span.
const mapSearchLimit = 3

// ContextDiagnosis disables medication dose extraction in MapText.
const ContextDiagnosis = "diagnosis"

var (
	dosePatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?i)\b(\w+)\s+(\d+)\s*mg\b`),
		regexp.MustCompile(`(?i)\b(\w+)\s+(\d+)\s*mcg\b`),
		regexp.MustCompile(`(?i)\b(\w+)\s+(\d+)\s*units?\b`),
	}
	wordRun = regexp.MustCompile(`\w+`)

	conditionKeywords = []string{
		"diabetes", "hypertension", "infection", "disease", "disorder",
		"syndrome", "cancer", "failure", "insufficiency", "deficiency",
	}
	knownDrugWords = map[string]bool{"metformin": true, "aspirin": true, "insulin": true}
)

// conditionStems maps the stem of each condition keyword back to its index so
// inflected forms ("infections", "disorders") are detected too.
var conditionStems = func() map[string]int {
	m := make(map[string]int, len(conditionKeywords))
	for i, kw := range conditionKeywords {
		m[porter2.Stem(kw)] = i
	}
	return m
}()

// MapRequest is the input of Service.MapText.
type MapRequest struct {
	Text       string   `json:"text"`
	Ontologies []string `json:"ontologies,omitempty"`
	// Context is a clinical hint such as "diagnosis" or "medication".
	Context   string  `json:"context,omitempty"`
	Threshold float64 `json:"threshold,omitempty"`
}

// ConceptMatch is the best hit of one ontology for a span.
type ConceptMatch struct {
	Code          string  `json:"code"`
	PreferredTerm string  `json:"preferred_term"`
	Confidence    float64 `json:"confidence"`
}

// TextMapping links a span of the input text to concepts. Start and End are
// byte offsets into the text.
type TextMapping struct {
	TextSpan string                  `json:"text_span"`
	Start    int                     `json:"start"`
	End      int                     `json:"end"`
	Mappings map[string]ConceptMatch `json:"mappings"`
}

// Span is a candidate term found in free text.
type Span struct {
	Text  string
	Start int
	End   int
}

// MapText extracts candidate medical terms from free text and maps each to
// the best concept of every requested ontology whose score reaches the
// threshold. Spans without any such concept are omitted.
func (s *Service) MapText(ctx context.Context, req MapRequest) ([]TextMapping, error) {
	if strings.TrimSpace(req.Text) == "" {
		return nil, ErrTextRequired
	}
	names, err := s.resolve(req.Ontologies)
	if err != nil {
		return nil, err
	}
	threshold := req.Threshold
	if threshold <= 0 {
		threshold = DefaultMapThreshold
	}

	out := []TextMapping{}
	for _, span := range ExtractCandidates(req.Text, req.Context) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		results, err := s.Search(ctx, SearchRequest{Query: span.Text, Ontologies: names, Limit: mapSearchLimit})
		if err != nil {
			return nil, err
		}
		best := make(map[string]ConceptMatch)
		for ontology, hits := range results {
			if len(hits) == 0 || hits[0].Score < threshold {
				continue
			}
			best[ontology] = ConceptMatch{
				Code:          hits[0].Code,
				PreferredTerm: hits[0].PreferredTerm,
				Confidence:    hits[0].Score,
			}
		}
		if len(best) > 0 {
			out = append(out, TextMapping{TextSpan: span.Text, Start: span.Start, End: span.End, Mappings: best})
		}
	}
	return out, nil
}

// ExtractCandidates finds spans worth looking up: drug names followed by a
// dose (skipped for a diagnosis context), condition keywords with one word
// of context on each side, and capitalized or well-known drug words longer
// than four characters. A span is reported once per (lowercased text, start).
func ExtractCandidates(text, clinicalContext string) []Span {
	var spans []Span
	if clinicalContext != ContextDiagnosis {
		for _, re := range dosePatterns {
			for _, m := range re.FindAllStringSubmatchIndex(text, -1) {
				spans = append(spans, Span{Text: text[m[2]:m[3]], Start: m[2], End: m[3]})
			}
		}
	}

	words := wordRun.FindAllStringIndex(text, -1)
	for i := range conditionKeywords {
		for w, loc := range words {
			idx, ok := conditionStems[porter2.Stem(strings.ToLower(text[loc[0]:loc[1]]))]
			if !ok || idx != i {
				continue
			}
			start, end := loc[0], loc[1]
			if w > 0 && isSpace(text[words[w-1][1]:start]) {
				start = words[w-1][0]
			}
			if w+1 < len(words) && isSpace(text[end:words[w+1][0]]) {
				end = words[w+1][1]
			}
			spans = append(spans, Span{Text: text[start:end], Start: start, End: end})
		}
	}

	offset := 0
	for _, field := range strings.Fields(text) {
		pos := offset + strings.Index(text[offset:], field)
		offset = pos + len(field)
		word := strings.TrimFunc(field, unicode.IsPunct)
		if len(word) <= 4 {
			continue
		}
		first, _ := utf8.DecodeRuneInString(word)
		if !unicode.IsUpper(first) && !knownDrugWords[strings.ToLower(word)] {
			continue
		}
		start := pos + strings.Index(field, word)
		spans = append(spans, Span{Text: word, Start: start, End: start + len(word)})
	}

	type key struct {
		text  string
		start int
	}
	seen := make(map[key]bool, len(spans))
	unique := spans[:0]
	for _, sp := range spans {
		k := key{strings.ToLower(sp.Text), sp.Start}
		if seen[k] {
			continue
		}
		seen[k] = true
		unique = append(unique, sp)
	}
	return unique
}

func isSpace(s string) bool {
	return s != "" && strings.TrimSpace(s) == ""
}
