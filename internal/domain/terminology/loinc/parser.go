// Package loinc reads the LOINC table CSV and the optional panels file.
package loinc

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/medterm/medterm/internal/domain/terminology"
)

// Source files.
const (
	TableFile  = "Loinc.csv"
	PanelsFile = "PanelsAndForms/PanelsAndForms.csv"
)

// Limits.
const (
	MaxRelatedNames      = 10
	MaxIndexedSynonyms   = 3
	MaxCommonTests       = 100
	minComponentWordSize = 4
)

// Grouping names available to Browse.
const (
	GroupClass     = "class"
	GroupComponent = "component"
)

// Sidecars holding the prebuilt groupings.
const (
	ClassIndexFile     = "class_index.json"
	ComponentIndexFile = "component_index.json"
)

var classDescriptions = map[string]string{
	"CHEM":     "Chemistry",
	"HEM/BC":   "Hematology/Blood Count",
	"MICRO":    "Microbiology",
	"SERO":     "Serology",
	"UA":       "Urinalysis",
	"DRUG/TOX": "Drug/Toxicology",
	"COAG":     "Coagulation",
	"PATH":     "Pathology",
	"H&P":      "History & Physical",
	"RAD":      "Radiology",
}

// ClassDescription returns the display name of a LOINC class.
func ClassDescription(class string) string {
	if d, ok := classDescriptions[class]; ok {
		return d
	}
	return class
}

// IsActiveStatus reports whether a STATUS value denotes a usable code. A
// blank status is not usable; tables without a STATUS column are handled by
// the caller.
func IsActiveStatus(status string) bool {
	return status == "ACTIVE" || status == "TRIAL"
}

// Options tune parsing.
type Options struct {
	// RetainInactive keeps DEPRECATED and DISCOURAGED codes as Active=false
	// instead of dropping them.
	RetainInactive bool
}

// Parser implements terminology.Parser for LOINC.
type Parser struct {
	opts Options
}

// New creates a LOINC parser.
func New(opts Options) *Parser { return &Parser{opts: opts} }

// Ontology returns terminology.OntologyLOINC.
func (p *Parser) Ontology() string { return terminology.OntologyLOINC }

var tokenizer = terminology.AlnumTokenizer(3)

// Policy returns the LOINC indexing and chunking policy.
func (p *Parser) Policy() terminology.Policy {
	return terminology.Policy{
		Tokenizer: tokenizer,
		IndexTerms: func(c *terminology.Concept) []string {
			terms := []string{c.PreferredTerm}
			if d := c.LOINC; d != nil {
				terms = append(terms, d.ShortName, d.Component)
			}
			return append(terms, terminology.FirstN(c.Synonyms, MaxIndexedSynonyms)...)
		},
		Groupings: map[string]terminology.KeyFunc{
			GroupClass:     func(c *terminology.Concept) []string { return []string{classOf(c)} },
			GroupComponent: ComponentKeys,
		},
		GroupingSidecars: map[string]string{
			GroupClass:     ClassIndexFile,
			GroupComponent: ComponentIndexFile,
		},
		ChunkPrefix:  "concepts_",
		PartitionKey: "concepts_by_class",
		Partition: func(c *terminology.Concept, _ int) string {
			if class := classOf(c); class != "" {
				return class
			}
			return "OTHER"
		},
		Sidecars: sidecars,
	}
}

func classOf(c *terminology.Concept) string {
	if c.LOINC == nil {
		return ""
	}
	return c.LOINC.Class
}

// ComponentKeys returns the lowercased component and each of its words of
// four or more characters.
func ComponentKeys(c *terminology.Concept) []string {
	if c.LOINC == nil || c.LOINC.Component == "" {
		return nil
	}
	keys := []string{strings.ToLower(strings.TrimSpace(c.LOINC.Component))}
	for _, w := range tokenizer.Tokens(c.LOINC.Component) {
		if len(w) >= minComponentWordSize && w != keys[0] {
			keys = append(keys, w)
		}
	}
	return keys
}

// Parse reads the LOINC table and fills panel members from the panels file
// when present.
func (p *Parser) Parse(ctx context.Context, dir string) (*terminology.ParseResult, error) {
	path := terminology.FindFile([]string{dir}, TableFile, strings.ToLower(TableFile))
	if path == "" {
		return nil, &terminology.DataNotFoundError{Ontology: terminology.OntologyLOINC, File: TableFile}
	}
	res := &terminology.ParseResult{Store: terminology.NewStore(), SourceFormat: "CSV"}

	err := readCSV(ctx, path, &res.Skipped, func(r record) {
		code := r.get("LOINC_NUM")
		if code == "" {
			res.Skipped++
			return
		}
		status := r.get("STATUS")
		active := !r.has("STATUS") || IsActiveStatus(status)
		if !active && !p.opts.RetainInactive {
			return
		}
		res.Store.Put(newConcept(code, status, active, r))
	})
	if err != nil {
		return nil, err
	}

	panels := filepath.Join(dir, filepath.FromSlash(PanelsFile))
	if terminology.FileExists(panels) {
		err := readCSV(ctx, panels, &res.Skipped, func(r record) {
			parent, member := r.get("ParentLOINC"), r.get("LOINC")
			if parent == "" || member == "" || parent == member {
				return
			}
			if c, ok := res.Store.Get(parent); ok {
				c.LOINC.PanelMembers = append(c.LOINC.PanelMembers, member)
			}
		})
		if err != nil {
			return nil, err
		}
	}
	return res, nil
}

func newConcept(code, status string, active bool, r record) *terminology.Concept {
	class := r.get("CLASS")
	d := &terminology.LOINCDetail{
		Component:        r.get("COMPONENT"),
		Property:         r.get("PROPERTY"),
		TimeAspect:       r.get("TIME_ASPCT"),
		System:           r.get("SYSTEM"),
		ScaleType:        r.get("SCALE_TYP"),
		MethodType:       r.get("METHOD_TYP"),
		Class:            class,
		ClassDescription: ClassDescription(class),
		Status:           status,
		ShortName:        r.get("SHORTNAME"),
		LongCommonName:   r.get("LONG_COMMON_NAME"),
		ConsumerName:     r.get("CONSUMER_NAME"),
		OrderObs:         r.get("ORDER_OBS"),
		UnitsRequired:    r.get("UNITSREQUIRED") == "Y",
		ExampleUnits:     r.get("EXAMPLE_UNITS"),
		ExampleUCUMUnits: r.get("EXAMPLE_UCUM_UNITS"),
		CommonTestRank:   atoi(r.get("COMMON_TEST_RANK")),
		CommonOrderRank:  atoi(r.get("COMMON_ORDER_RANK")),
	}
	preferred := d.LongCommonName
	if preferred == "" {
		preferred = d.ShortName
	}

	var synonyms []string
	if d.ShortName != "" && d.ShortName != d.LongCommonName {
		synonyms = append(synonyms, d.ShortName)
	}
	related := 0
	for _, s := range strings.Split(r.get("RELATEDNAMES2"), ";") {
		if s = strings.TrimSpace(s); s == "" || related == MaxRelatedNames {
			continue
		}
		related++
		synonyms = append(synonyms, s)
	}

	return &terminology.Concept{
		Code:          code,
		PreferredTerm: preferred,
		Synonyms:      synonyms,
		Category:      d.ClassDescription,
		Active:        active,
		LOINC:         d,
	}
}

func atoi(s string) int {
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return 0
	}
	return n
}

type record struct {
	cols   map[string]int
	fields []string
}

func (r record) has(name string) bool {
	_, ok := r.cols[name]
	return ok
}

func (r record) get(name string) string {
	i, ok := r.cols[name]
	if !ok || i >= len(r.fields) {
		return ""
	}
	return strings.TrimSpace(r.fields[i])
}

// readCSV reads a quoted CSV file with a header row. Records that fail to
// parse or have fewer fields than the header are counted in skipped.
func readCSV(ctx context.Context, path string, skipped *int, fn func(record)) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	cr := csv.NewReader(f)
	cr.FieldsPerRecord = -1
	cr.LazyQuotes = true

	header, err := cr.Read()
	if err != nil {
		return fmt.Errorf("read %s header: %w", filepath.Base(path), err)
	}
	cols := make(map[string]int, len(header))
	for i, name := range header {
		cols[strings.TrimSpace(strings.TrimPrefix(name, "\ufeff"))] = i
	}

	for n := 0; ; n++ {
		if n%10000 == 0 {
			if err := ctx.Err(); err != nil {
				return err
			}
		}
		fields, err := cr.Read()
		if errors.Is(err, io.EOF) {
			return nil
		}
		var perr *csv.ParseError
		if errors.As(err, &perr) {
			*skipped++
			continue
		}
		if err != nil {
			return fmt.Errorf("read %s: %w", filepath.Base(path), err)
		}
		if len(fields) < len(header) {
			*skipped++
			continue
		}
		fn(record{cols: cols, fields: fields})
	}
}

type commonTest struct {
	LOINCNum      string `json:"loinc_num"`
	PreferredTerm string `json:"preferred_term"`
	ShortName     string `json:"short_name,omitempty"`
	Class         string `json:"class,omitempty"`
	Rank          int    `json:"rank"`
	Component     string `json:"component,omitempty"`
	System        string `json:"system,omitempty"`
}

// CommonTests returns the most common tests by COMMON_TEST_RANK, rank 1
// first. Unranked codes are excluded.
func CommonTests(s *terminology.Store, n int) []*terminology.Concept {
	var ranked []*terminology.Concept
	s.Each(func(c *terminology.Concept) {
		if c.LOINC != nil && c.LOINC.CommonTestRank > 0 {
			ranked = append(ranked, c)
		}
	})
	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].LOINC.CommonTestRank < ranked[j].LOINC.CommonTestRank
	})
	if len(ranked) > n {
		ranked = ranked[:n]
	}
	return ranked
}

func sidecars(s *terminology.Store) map[string]any {
	classes := terminology.BuildGrouping(s, func(c *terminology.Concept) []string { return []string{classOf(c)} })
	components := terminology.BuildGrouping(s, ComponentKeys)

	common := make(map[string]commonTest)
	for _, c := range CommonTests(s, MaxCommonTests) {
		d := c.LOINC
		common[c.Code] = commonTest{
			LOINCNum:      c.Code,
			PreferredTerm: c.PreferredTerm,
			ShortName:     d.ShortName,
			Class:         d.Class,
			Rank:          d.CommonTestRank,
			Component:     d.Component,
			System:        d.System,
		}
	}
	return map[string]any{
		ClassIndexFile:      classes,
		ComponentIndexFile:  components,
		"common_tests.json": common,
	}
}
