// Package icd10 reads ICD-10 diagnosis codes from either the WHO
// semicolon-separated systematic release or the ICD-10-CM tabular XML.
package icd10

import (
	"context"
	"path/filepath"
	"strconv"

	"github.com/medterm/medterm/internal/domain/terminology"
)

// Source files.
const (
	CodesFile    = "icd102019syst_codes.txt"
	ChaptersFile = "icd102019syst_chapters.txt"
	GroupsFile   = "icd102019syst_groups.txt"
	TabularGlob  = "icd10cm_tabular_*.xml"
	tabularDir   = "Table and Index"
)

// Indexing limits.
const (
	MaxIndexedSynonyms = 10
	categoryLen        = 3
)

// Grouping names available to Browse.
const (
	GroupChapter  = "chapter"
	GroupCategory = "category"
)

// CategoryIndexFile is the sidecar holding the category grouping.
const CategoryIndexFile = "category_index.json"

// CommonDiagnoses are the codes listed in the common_diagnoses sidecar when
// present in the release.
var CommonDiagnoses = []string{
	"E11.9", "I10", "F41.9", "M79.3", "J06.9",
	"K21.9", "E78.5", "Z00.00", "F32.9", "M25.511",
}

var levelNames = map[int]string{
	1: "Chapter",
	2: "Block",
	3: "Category",
	4: "Subcategory",
	5: "Detail",
}

// Parser implements terminology.Parser for ICD-10.
type Parser struct{}

// New creates an ICD-10 parser.
func New() *Parser { return &Parser{} }

// Ontology returns terminology.OntologyICD10.
func (p *Parser) Ontology() string { return terminology.OntologyICD10 }

// Parse reads the tabular XML when one is present and the systematic text
// release otherwise.
func (p *Parser) Parse(ctx context.Context, dir string) (*terminology.ParseResult, error) {
	if xmlPath := findTabularXML(dir); xmlPath != "" {
		return parseXML(ctx, xmlPath)
	}
	return parseText(ctx, dir)
}

func findTabularXML(dir string) string {
	return terminology.FindFile([]string{filepath.Join(dir, tabularDir), dir}, TabularGlob)
}

// Policy returns the ICD-10 indexing and chunking policy.
func (p *Parser) Policy() terminology.Policy {
	return terminology.Policy{
		Tokenizer: terminology.WordTokenizer(3,
			"the", "and", "or", "with", "without", "in", "of", "to", "for", "as", "by", "due"),
		IndexTerms: func(c *terminology.Concept) []string {
			return append([]string{c.PreferredTerm}, terminology.FirstN(c.Synonyms, MaxIndexedSynonyms)...)
		},
		Hierarchy: terminology.HierarchyOptions{Siblings: true, SortChildren: true},
		Groupings: map[string]terminology.KeyFunc{
			GroupChapter:  func(c *terminology.Concept) []string { return []string{chapterOf(c)} },
			GroupCategory: func(c *terminology.Concept) []string { return []string{Category(c.Code)} },
		},
		GroupingSidecars: map[string]string{
			GroupCategory: CategoryIndexFile,
		},
		ChunkPrefix:  "codes_level_",
		PartitionKey: "codes_by_level",
		Partition: func(c *terminology.Concept, _ int) string {
			if c.ICD10 == nil {
				return "0"
			}
			return strconv.Itoa(c.ICD10.Level)
		},
		Sidecars: sidecars,
	}
}

// Category returns the three-character category of a code, e.g. E11 for
// E11.9. Shorter codes have no category.
func Category(code string) string {
	if len(code) < categoryLen {
		return ""
	}
	return code[:categoryLen]
}

func chapterOf(c *terminology.Concept) string {
	if c.ICD10 == nil {
		return ""
	}
	return c.ICD10.Chapter
}

// LevelName returns the display name of a systematic release level.
func LevelName(level int) string {
	if name, ok := levelNames[level]; ok {
		return name
	}
	return "Level " + strconv.Itoa(level)
}

type chapterEntry struct {
	Description string   `json:"description"`
	Codes       []string `json:"codes"`
	Count       int      `json:"count"`
}

type commonDiagnosis struct {
	Code string `json:"code"`
	Term string `json:"term"`
}

func sidecars(s *terminology.Store) map[string]any {
	chapters := make(map[string]*chapterEntry)
	categories := make(map[string][]string)
	s.Each(func(c *terminology.Concept) {
		if ch := chapterOf(c); ch != "" {
			e, ok := chapters[ch]
			if !ok {
				e = &chapterEntry{Description: c.ICD10.ChapterName}
				chapters[ch] = e
			}
			e.Codes = append(e.Codes, c.Code)
			e.Count++
		}
		if cat := Category(c.Code); cat != "" {
			categories[cat] = append(categories[cat], c.Code)
		}
	})

	common := make([]commonDiagnosis, 0, len(CommonDiagnoses))
	for _, code := range CommonDiagnoses {
		if c, ok := s.Get(code); ok {
			common = append(common, commonDiagnosis{Code: code, Term: c.PreferredTerm})
		}
	}
	return map[string]any{
		"chapter_index.json":    chapters,
		CategoryIndexFile:       categories,
		"common_diagnoses.json": common,
	}
}
