package terminology

import "strings"

// Normalize applies the shared field defaults to a parser-built concept. It
// trims display strings, drops empty synonyms, falls back to a placeholder
// preferred term and stores empty lists as nil so that a serialized concept
// decodes to an identical value. It never truncates lists.
func Normalize(c *Concept) {
	c.Code = strings.TrimSpace(c.Code)
	c.PreferredTerm = strings.TrimSpace(c.PreferredTerm)
	if c.PreferredTerm == "" {
		c.PreferredTerm = placeholderTerm(c.Code)
	}
	c.Category = strings.TrimSpace(c.Category)
	c.Synonyms = compactStrings(c.Synonyms)
	c.Parents = dedupe(compactStrings(c.Parents))
	c.Children = nilIfEmpty(c.Children)
	c.Ancestors = nilIfEmpty(c.Ancestors)
	c.Siblings = nilIfEmpty(c.Siblings)

	if d := c.ICD10; d != nil {
		d.InclusionTerms = compactStrings(d.InclusionTerms)
		d.ExclusionTerms = compactStrings(d.ExclusionTerms)
	}
	if d := c.RxNorm; d != nil {
		d.BrandNames = compactStrings(d.BrandNames)
		d.Sources = compactStrings(d.Sources)
		d.NDCCodes = compactStrings(d.NDCCodes)
		if len(d.Ingredients) == 0 {
			d.Ingredients = nil
		}
		if len(d.Relationships) == 0 {
			d.Relationships = nil
		}
	}
	if d := c.LOINC; d != nil {
		d.PanelMembers = compactStrings(d.PanelMembers)
	}
}

func compactStrings(in []string) []string {
	var out []string
	for _, s := range in {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

func dedupe(in []string) []string {
	if len(in) < 2 {
		return in
	}
	seen := make(map[string]struct{}, len(in))
	out := in[:0]
	for _, s := range in {
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	return out
}

func nilIfEmpty(in []string) []string {
	if len(in) == 0 {
		return nil
	}
	return in
}
