// Package rxnorm reads the RxNorm RRF release.
package rxnorm

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/medterm/medterm/internal/domain/terminology"
)

// RRF files.
const (
	ConsoFile = "RXNCONSO.RRF"
	RelFile   = "RXNREL.RRF"
	SatFile   = "RXNSAT.RRF"
)

// Limits.
const (
	MaxSynonyms        = 10
	MaxBrandNames      = 5
	MaxIndexedSynonyms = 3
)

// Grouping names available to Browse.
const (
	GroupTTY        = "tty"
	GroupIngredient = "ingredient"
)

// RXNCONSO field positions.
const (
	consoRXCUI    = 0
	consoLAT      = 1
	consoISPREF   = 6
	consoSAB      = 11
	consoTTY      = 12
	consoSTR      = 14
	consoSUPPRESS = 16
	consoMin      = 15
)

// RXNREL and RXNSAT field positions.
const (
	relRXCUI1 = 0
	relRXCUI2 = 4
	relRELA   = 7
	relMin    = 11

	satRXCUI = 0
	satATN   = 8
	satATV   = 10
	satMin   = 11
)

// TTYPriority orders term types when a concept carries several.
var TTYPriority = []string{"IN", "BN", "SCD", "SBD", "SCDC", "SCDF", "SCDG", "MIN", "PIN", "DFG", "DF"}

var ttyDescriptions = map[string]string{
	"IN":   "Ingredient",
	"BN":   "Brand Name",
	"SCD":  "Semantic Clinical Drug",
	"SBD":  "Semantic Branded Drug",
	"SCDC": "Semantic Clinical Drug Component",
	"SCDF": "Semantic Clinical Dose Form",
	"SCDG": "Semantic Clinical Drug Group",
	"MIN":  "Multiple Ingredients",
	"PIN":  "Precise Ingredient",
	"DFG":  "Dose Form Group",
	"DF":   "Dose Form",
}

var trackedRelations = map[string]bool{
	"has_ingredient":         true,
	"ingredient_of":          true,
	"has_brand_name":         true,
	"brand_name_of":          true,
	"has_dose_form":          true,
	"dose_form_of":           true,
	"has_strength":           true,
	"strength_of":            true,
	"consists_of":            true,
	"constitutes":            true,
	"has_precise_ingredient": true,
	"precise_ingredient_of":  true,
}

// CommonDrugs are written to the common_drugs sidecar when present.
var CommonDrugs = []string{
	"6809", "1719", "3640", "36567", "321988",
	"7052", "5640", "70618", "197361", "35636",
}

// TTYDescription returns the display name of a term type.
func TTYDescription(tty string) string {
	if d, ok := ttyDescriptions[tty]; ok {
		return d
	}
	return tty
}

// IsIngredient reports whether tty names an ingredient-level concept.
func IsIngredient(tty string) bool {
	return tty == "IN" || tty == "PIN" || tty == "MIN"
}

// Options tune parsing.
type Options struct {
	// RetainSuppressed keeps concepts whose RXNORM terms are all suppressed,
	// marked Active=false.
	RetainSuppressed bool
}

// Parser implements terminology.Parser for RxNorm.
type Parser struct {
	opts Options
}

// New creates an RxNorm parser.
func New(opts Options) *Parser { return &Parser{opts: opts} }

// Ontology returns terminology.OntologyRxNorm.
func (p *Parser) Ontology() string { return terminology.OntologyRxNorm }

// Policy returns the RxNorm indexing and chunking policy.
func (p *Parser) Policy() terminology.Policy {
	return terminology.Policy{
		Tokenizer: terminology.AlnumTokenizer(2),
		IndexTerms: func(c *terminology.Concept) []string {
			terms := []string{c.PreferredTerm}
			if c.RxNorm != nil {
				terms = append(terms, c.RxNorm.BrandNames...)
			}
			return append(terms, terminology.FirstN(c.Synonyms, MaxIndexedSynonyms)...)
		},
		Groupings: map[string]terminology.KeyFunc{
			GroupTTY:        func(c *terminology.Concept) []string { return []string{ttyOf(c)} },
			GroupIngredient: ingredientKeys,
		},
		ChunkPrefix:  "concepts_",
		PartitionKey: "concepts_by_type",
		Partition: func(c *terminology.Concept, _ int) string {
			if tty := ttyOf(c); tty != "" {
				return tty
			}
			return "OTHER"
		},
		Sidecars: sidecars,
	}
}

func ttyOf(c *terminology.Concept) string {
	if c.RxNorm == nil {
		return ""
	}
	return c.RxNorm.TTY
}

// ingredientKeys files ingredient concepts under their own name and drugs
// under the names of their ingredients.
func ingredientKeys(c *terminology.Concept) []string {
	if c.RxNorm == nil {
		return nil
	}
	var keys []string
	if IsIngredient(c.RxNorm.TTY) {
		keys = append(keys, strings.ToLower(c.PreferredTerm))
	}
	for _, in := range c.RxNorm.Ingredients {
		keys = append(keys, strings.ToLower(in.Name))
	}
	return keys
}

type term struct {
	text      string
	tty       string
	preferred bool
}

type draft struct {
	ttys       []string
	sources    []string
	terms      []term
	suppressed []term
}

func appendUnique(list []string, v string) []string {
	for _, x := range list {
		if x == v {
			return list
		}
	}
	return append(list, v)
}

func searchDirs(dir string) []string {
	return []string{dir, filepath.Join(dir, "rrf"), filepath.Join(dir, "prescribe", "rrf")}
}

// Parse reads RXNCONSO and, when present, RXNREL and RXNSAT.
func (p *Parser) Parse(ctx context.Context, dir string) (*terminology.ParseResult, error) {
	dirs := searchDirs(dir)
	consoPath := terminology.FindFile(dirs, ConsoFile)
	if consoPath == "" {
		return nil, &terminology.DataNotFoundError{Ontology: terminology.OntologyRxNorm, File: ConsoFile}
	}

	res := &terminology.ParseResult{Store: terminology.NewStore(), SourceFormat: "RRF"}
	var order []string
	drafts := make(map[string]*draft)

	err := terminology.ScanLines(ctx, consoPath, &res.Skipped, func(line string) error {
		f := strings.Split(line, "|")
		if len(f) < consoMin {
			res.Skipped++
			return nil
		}
		if f[consoLAT] != "ENG" {
			return nil
		}
		suppressed := len(f) > consoSUPPRESS && f[consoSUPPRESS] == "Y"
		if suppressed && !p.opts.RetainSuppressed {
			return nil
		}
		rxcui := f[consoRXCUI]
		d, ok := drafts[rxcui]
		if !ok {
			d = &draft{}
			drafts[rxcui] = d
			order = append(order, rxcui)
		}
		if !suppressed {
			d.sources = appendUnique(d.sources, f[consoSAB])
			d.ttys = appendUnique(d.ttys, f[consoTTY])
		}
		if f[consoSAB] != "RXNORM" {
			return nil
		}
		t := term{text: strings.TrimSpace(f[consoSTR]), tty: f[consoTTY], preferred: f[consoISPREF] == "Y"}
		if suppressed {
			d.suppressed = append(d.suppressed, t)
		} else {
			d.terms = append(d.terms, t)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", ConsoFile, err)
	}

	for _, rxcui := range order {
		if c := drafts[rxcui].concept(rxcui); c != nil {
			res.Store.Put(c)
		}
	}

	if path := terminology.FindFile(dirs, RelFile); path != "" {
		if err := readRelationships(ctx, path, res); err != nil {
			return nil, err
		}
	}
	if path := terminology.FindFile(dirs, SatFile); path != "" {
		if err := readAttributes(ctx, path, res); err != nil {
			return nil, err
		}
	}
	return res, nil
}

// concept builds the concept of one RXCUI, or nil when the RXCUI carries no
// RXNORM-sourced term.
func (d *draft) concept(rxcui string) *terminology.Concept {
	terms, active := d.terms, true
	if len(terms) == 0 {
		if len(d.suppressed) == 0 {
			return nil
		}
		terms, active = d.suppressed, false
		for _, t := range terms {
			d.ttys = appendUnique(d.ttys, t.tty)
			d.sources = appendUnique(d.sources, "RXNORM")
		}
	}

	preferred := terms[0].text
	for _, t := range terms {
		if t.preferred {
			preferred = t.text
			break
		}
	}
	tty := primaryTTY(d.ttys)

	c := &terminology.Concept{
		Code:          rxcui,
		PreferredTerm: preferred,
		Category:      TTYDescription(tty),
		Active:        active,
		RxNorm: &terminology.RxNormDetail{
			TTY:            tty,
			TTYDescription: TTYDescription(tty),
			Sources:        d.sources,
		},
	}
	seen := map[string]bool{preferred: true}
	for _, t := range terms {
		if t.tty == "BN" && len(c.RxNorm.BrandNames) < MaxBrandNames {
			c.RxNorm.BrandNames = append(c.RxNorm.BrandNames, t.text)
		}
		if t.preferred || seen[t.text] || len(c.Synonyms) >= MaxSynonyms {
			continue
		}
		seen[t.text] = true
		c.Synonyms = append(c.Synonyms, t.text)
	}
	return c
}

func primaryTTY(ttys []string) string {
	for _, want := range TTYPriority {
		for _, tty := range ttys {
			if tty == want {
				return want
			}
		}
	}
	if len(ttys) > 0 {
		return ttys[0]
	}
	return ""
}

func readRelationships(ctx context.Context, path string, res *terminology.ParseResult) error {
	err := terminology.ScanLines(ctx, path, &res.Skipped, func(line string) error {
		f := strings.Split(line, "|")
		if len(f) < relMin {
			res.Skipped++
			return nil
		}
		rela := f[relRELA]
		if !trackedRelations[rela] {
			return nil
		}
		from, ok := res.Store.Get(f[relRXCUI1])
		if !ok {
			return nil
		}
		to, ok := res.Store.Get(f[relRXCUI2])
		if !ok {
			return nil
		}
		d := from.RxNorm
		if d.Relationships == nil {
			d.Relationships = make(map[string][]string)
		}
		d.Relationships[rela] = append(d.Relationships[rela], to.Code)
		if rela == "has_ingredient" {
			d.Ingredients = append(d.Ingredients, terminology.Ingredient{RxCUI: to.Code, Name: to.PreferredTerm})
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("read %s: %w", RelFile, err)
	}
	return nil
}

func readAttributes(ctx context.Context, path string, res *terminology.ParseResult) error {
	err := terminology.ScanLines(ctx, path, &res.Skipped, func(line string) error {
		f := strings.Split(line, "|")
		if len(f) < satMin {
			res.Skipped++
			return nil
		}
		c, ok := res.Store.Get(f[satRXCUI])
		if !ok {
			return nil
		}
		v := strings.TrimSpace(f[satATV])
		if v == "" {
			return nil
		}
		switch f[satATN] {
		case "NDC":
			c.RxNorm.NDCCodes = append(c.RxNorm.NDCCodes, v)
		case "RXN_STRENGTH":
			c.RxNorm.Strength = v
		case "RXN_DOSE_FORM":
			c.RxNorm.DoseForm = v
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("read %s: %w", SatFile, err)
	}
	return nil
}

// IngredientIndex maps normalized ingredient names to the RXCUIs of
// ingredient concepts. Each name is also filed without spaces, hyphens and
// commas so "co-trimoxazole" matches "cotrimoxazole".
func IngredientIndex(s *terminology.Store) map[string][]string {
	idx := make(map[string][]string)
	s.Each(func(c *terminology.Concept) {
		if c.RxNorm == nil || !IsIngredient(c.RxNorm.TTY) {
			return
		}
		name := strings.ToLower(c.PreferredTerm)
		variants := []string{
			name,
			strings.ReplaceAll(name, " ", ""),
			strings.ReplaceAll(name, "-", ""),
			strings.ReplaceAll(name, ",", ""),
		}
		for _, v := range variants {
			if v == "" {
				continue
			}
			list := idx[v]
			if n := len(list); n > 0 && list[n-1] == c.Code {
				continue
			}
			idx[v] = append(list, c.Code)
		}
	})
	return idx
}

func sidecars(s *terminology.Store) map[string]any {
	common := make(map[string]*terminology.Concept)
	for _, code := range CommonDrugs {
		if c, ok := s.Get(code); ok {
			common[code] = c
		}
	}
	return map[string]any{
		"ingredient_index.json": IngredientIndex(s),
		"common_drugs.json":     common,
	}
}
