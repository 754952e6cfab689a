// Package snomed reads SNOMED CT RF2 snapshot files.
package snomed

import (
	"context"
	"fmt"
	"strings"

	"github.com/medterm/medterm/internal/domain/terminology"
)

// RF2 file patterns.
const (
	ConceptGlob      = "sct2_Concept_*.txt"
	DescriptionGlob  = "sct2_Description_*.txt"
	RelationshipGlob = "sct2_Relationship_*.txt"
)

// RF2 type identifiers.
const (
	TypeFSN     = "900000000000003001"
	TypeSynonym = "900000000000013009"
	TypeIsA     = "116680003"
)

// Limits.
const (
	MaxSynonyms        = 20
	MaxIndexedSynonyms = 5
	commonParents      = 3
)

// GroupSemanticTag groups concepts by the semantic tag of their FSN.
const GroupSemanticTag = "semantic_tag"

// CommonConcepts are written to the common_concepts sidecar when present.
var CommonConcepts = []string{
	"73211009", "38341003", "84114007", "13645005", "39065001",
	"22298006", "49601007", "84757009", "44054006", "46635009",
}

// Options tune parsing.
type Options struct {
	// RetainInactive keeps inactive concepts as Active=false instead of
	// dropping them.
	RetainInactive bool
}

// Parser implements terminology.Parser for SNOMED CT.
type Parser struct {
	opts Options
}

// New creates a SNOMED parser.
func New(opts Options) *Parser { return &Parser{opts: opts} }

// Ontology returns terminology.OntologySNOMED.
func (p *Parser) Ontology() string { return terminology.OntologySNOMED }

// Policy returns the SNOMED indexing and chunking policy.
func (p *Parser) Policy() terminology.Policy {
	return terminology.Policy{
		Tokenizer: terminology.WordTokenizer(3),
		IndexTerms: func(c *terminology.Concept) []string {
			return append([]string{c.PreferredTerm}, terminology.FirstN(c.Synonyms, MaxIndexedSynonyms)...)
		},
		Groupings: map[string]terminology.KeyFunc{
			GroupSemanticTag: func(c *terminology.Concept) []string { return []string{c.Category} },
		},
		ChunkPrefix: "concepts_chunk_",
		ChunkSize:   terminology.DefaultChunkSize,
		Sidecars:    sidecars,
	}
}

type draft struct {
	concept  *terminology.Concept
	fsn      string
	english  []string
	synonyms []string
}

// Parse reads concepts, descriptions and IS-A relationships.
func (p *Parser) Parse(ctx context.Context, dir string) (*terminology.ParseResult, error) {
	dirs := []string{dir}
	conceptPath := terminology.FindFile(dirs, ConceptGlob)
	if conceptPath == "" {
		return nil, &terminology.DataNotFoundError{Ontology: terminology.OntologySNOMED, File: ConceptGlob}
	}
	descPath := terminology.FindFile(dirs, DescriptionGlob)
	if descPath == "" {
		return nil, &terminology.DataNotFoundError{Ontology: terminology.OntologySNOMED, File: DescriptionGlob}
	}

	res := &terminology.ParseResult{Store: terminology.NewStore(), SourceFormat: "RF2"}
	drafts := make(map[string]*draft)

	err := readRF2(ctx, conceptPath, []string{"id", "active"}, func(r row) {
		id := r.get("id")
		if id == "" {
			res.Skipped++
			return
		}
		active := r.get("active") == "1"
		if !active && !p.opts.RetainInactive {
			return
		}
		c := &terminology.Concept{
			Code:   id,
			Active: active,
			SNOMED: &terminology.SNOMEDDetail{
				EffectiveTime:      r.get("effectiveTime"),
				ModuleID:           r.get("moduleId"),
				DefinitionStatusID: r.get("definitionStatusId"),
			},
		}
		drafts[id] = &draft{concept: c}
		res.Store.Put(c)
	}, &res.Skipped)
	if err != nil {
		return nil, err
	}

	err = readRF2(ctx, descPath, []string{"active", "conceptId", "typeId", "term"}, func(r row) {
		if r.get("active") != "1" {
			return
		}
		d, ok := drafts[r.get("conceptId")]
		if !ok {
			return
		}
		term := strings.TrimSpace(r.get("term"))
		if term == "" {
			return
		}
		switch r.get("typeId") {
		case TypeFSN:
			d.fsn = term
		case TypeSynonym:
			d.synonyms = append(d.synonyms, term)
			if r.get("languageCode") == "en" {
				d.english = append(d.english, term)
			}
		}
	}, &res.Skipped)
	if err != nil {
		return nil, err
	}

	if relPath := terminology.FindFile(dirs, RelationshipGlob); relPath != "" {
		err = readRF2(ctx, relPath, []string{"active", "sourceId", "destinationId", "typeId"}, func(r row) {
			if r.get("active") != "1" || r.get("typeId") != TypeIsA {
				return
			}
			src, dst := drafts[r.get("sourceId")], r.get("destinationId")
			if src == nil || drafts[dst] == nil {
				return
			}
			src.concept.Parents = append(src.concept.Parents, dst)
		}, &res.Skipped)
		if err != nil {
			return nil, err
		}
	}

	res.Store.Each(func(c *terminology.Concept) {
		drafts[c.Code].finish()
	})
	return res, nil
}

// finish picks the preferred term: the first English synonym, else the
// first synonym, else the FSN without its semantic tag.
func (d *draft) finish() {
	c := d.concept
	tag, bare := SplitFSN(d.fsn)
	c.SNOMED.FSN = d.fsn
	c.SNOMED.SemanticTag = tag
	c.Category = tag

	switch {
	case len(d.english) > 0:
		c.PreferredTerm = d.english[0]
	case len(d.synonyms) > 0:
		c.PreferredTerm = d.synonyms[0]
	default:
		c.PreferredTerm = bare
	}

	seen := map[string]bool{c.PreferredTerm: true}
	for _, s := range d.synonyms {
		if seen[s] || len(c.Synonyms) >= MaxSynonyms {
			continue
		}
		seen[s] = true
		c.Synonyms = append(c.Synonyms, s)
	}
}

// SplitFSN splits "Diabetes mellitus (disorder)" into the semantic tag
// "disorder" and the bare term "Diabetes mellitus".
func SplitFSN(fsn string) (tag, term string) {
	open := strings.LastIndex(fsn, "(")
	if open < 0 || !strings.HasSuffix(fsn, ")") {
		return "", strings.TrimSpace(fsn)
	}
	return strings.TrimSpace(fsn[open+1 : len(fsn)-1]), strings.TrimSpace(fsn[:open])
}

type row struct {
	cols   map[string]int
	fields []string
}

func (r row) get(name string) string {
	i, ok := r.cols[name]
	if !ok || i >= len(r.fields) {
		return ""
	}
	return r.fields[i]
}

// readRF2 reads a tab-separated RF2 file whose first line names the columns.
// Rows shorter than the header are counted in skipped.
func readRF2(ctx context.Context, path string, required []string, fn func(row), skipped *int) error {
	var cols map[string]int
	err := terminology.ScanLines(ctx, path, skipped, func(line string) error {
		fields := strings.Split(line, "\t")
		if cols == nil {
			cols = make(map[string]int, len(fields))
			for i, name := range fields {
				cols[strings.TrimSpace(strings.TrimPrefix(name, "\ufeff"))] = i
			}
			for _, name := range required {
				if _, ok := cols[name]; !ok {
					return fmt.Errorf("missing column %q", name)
				}
			}
			return nil
		}
		if line == "" {
			return nil
		}
		if len(fields) < len(cols) {
			*skipped++
			return nil
		}
		fn(row{cols: cols, fields: fields})
		return nil
	})
	if err != nil {
		return fmt.Errorf("read %s: %w", path, err)
	}
	return nil
}

type commonConcept struct {
	Code          string   `json:"code"`
	PreferredTerm string   `json:"preferred_term"`
	FSN           string   `json:"fsn,omitempty"`
	ParentCodes   []string `json:"parent_codes,omitempty"`
}

func sidecars(s *terminology.Store) map[string]any {
	common := make(map[string]commonConcept)
	for _, code := range CommonConcepts {
		c, ok := s.Get(code)
		if !ok {
			continue
		}
		cc := commonConcept{Code: code, PreferredTerm: c.PreferredTerm, ParentCodes: terminology.FirstN(c.Parents, commonParents)}
		if c.SNOMED != nil {
			cc.FSN = c.SNOMED.FSN
		}
		common[code] = cc
	}
	return map[string]any{"common_concepts.json": common}
}
