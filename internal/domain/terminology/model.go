package terminology

import (
	"fmt"
	"strings"
)

// Ontology identifiers accepted by the service.
const (
	OntologySNOMED = "SNOMED"
	OntologyICD10  = "ICD10"
	OntologyRxNorm = "RxNorm"
	OntologyLOINC  = "LOINC"
)

// AllOntologies lists the supported ontologies in their default load order.
var AllOntologies = []string{OntologySNOMED, OntologyICD10, OntologyRxNorm, OntologyLOINC}

// CodeSystemURI constants for well-known terminology systems.
const (
	SystemLOINC  = "http://loinc.org"
	SystemICD10  = "http://hl7.org/fhir/sid/icd-10-cm"
	SystemSNOMED = "http://snomed.info/sct"
	SystemRxNorm = "http://www.nlm.nih.gov/research/umls/rxnorm"
)

// SystemURI returns the code system URI for an ontology id, or "" when unknown.
func SystemURI(ontology string) string {
	switch ontology {
	case OntologySNOMED:
		return SystemSNOMED
	case OntologyICD10:
		return SystemICD10
	case OntologyRxNorm:
		return SystemRxNorm
	case OntologyLOINC:
		return SystemLOINC
	}
	return ""
}

// OntologyForSystem maps a code system URI back to its ontology id.
func OntologyForSystem(uri string) (string, bool) {
	uri = strings.TrimRight(strings.TrimSpace(uri), "/")
	for _, ontology := range AllOntologies {
		if uri == SystemURI(ontology) {
			return ontology, true
		}
	}
	if uri == "http://hl7.org/fhir/sid/icd-10" {
		return OntologyICD10, true
	}
	return "", false
}

// Concept is a single coded entity within one ontology. Identity is the
// (Ontology, Code) pair. Children, Ancestors and Siblings are derived from
// Parents by BuildHierarchy and are never read from raw input.
type Concept struct {
	Ontology      string   `json:"ontology"`
	Code          string   `json:"code"`
	PreferredTerm string   `json:"preferred_term"`
	Synonyms      []string `json:"synonyms,omitempty"`
	Category      string   `json:"category,omitempty"`
	Active        bool     `json:"active"`
	Parents       []string `json:"parents,omitempty"`
	Children      []string `json:"children,omitempty"`
	Ancestors     []string `json:"ancestors,omitempty"`
	Siblings      []string `json:"siblings,omitempty"`

	SNOMED *SNOMEDDetail `json:"snomed,omitempty"`
	ICD10  *ICD10Detail  `json:"icd10,omitempty"`
	RxNorm *RxNormDetail `json:"rxnorm,omitempty"`
	LOINC  *LOINCDetail  `json:"loinc,omitempty"`
}

// SNOMEDDetail carries the RF2 concept attributes.
type SNOMEDDetail struct {
	EffectiveTime      string `json:"effective_time,omitempty"`
	ModuleID           string `json:"module_id,omitempty"`
	DefinitionStatusID string `json:"definition_status_id,omitempty"`
	FSN                string `json:"fsn,omitempty"`
	SemanticTag        string `json:"semantic_tag,omitempty"`
}

// ICD10Detail carries diagnosis code attributes from either the WHO text
// release or the ICD-10-CM tabular XML.
type ICD10Detail struct {
	UndottedCode     string   `json:"undotted_code,omitempty"`
	Level            int      `json:"level"`
	LevelName        string   `json:"level_name,omitempty"`
	IsLeaf           bool     `json:"is_leaf,omitempty"`
	Chapter          string   `json:"chapter,omitempty"`
	ChapterName      string   `json:"chapter_name,omitempty"`
	ShortDescription string   `json:"short_description,omitempty"`
	LongDescription  string   `json:"long_description,omitempty"`
	InclusionTerms   []string `json:"inclusion_terms,omitempty"`
	ExclusionTerms   []string `json:"exclusion_terms,omitempty"`
}

// Ingredient references an ingredient concept of a drug.
type Ingredient struct {
	RxCUI string `json:"rxcui"`
	Name  string `json:"name"`
}

// RxNormDetail carries medication attributes.
type RxNormDetail struct {
	TTY            string              `json:"tty,omitempty"`
	TTYDescription string              `json:"tty_description,omitempty"`
	BrandNames     []string            `json:"brand_names,omitempty"`
	Sources        []string            `json:"sources,omitempty"`
	Ingredients    []Ingredient        `json:"ingredients,omitempty"`
	Strength       string              `json:"strength,omitempty"`
	DoseForm       string              `json:"dose_form,omitempty"`
	NDCCodes       []string            `json:"ndc_codes,omitempty"`
	Relationships  map[string][]string `json:"relationships,omitempty"`
}

// LOINCDetail carries the LOINC six-axis attributes and ranks.
type LOINCDetail struct {
	Component        string   `json:"component,omitempty"`
	Property         string   `json:"property,omitempty"`
	TimeAspect       string   `json:"time_aspect,omitempty"`
	System           string   `json:"system,omitempty"`
	ScaleType        string   `json:"scale_type,omitempty"`
	MethodType       string   `json:"method_type,omitempty"`
	Class            string   `json:"class,omitempty"`
	ClassDescription string   `json:"class_description,omitempty"`
	Status           string   `json:"status,omitempty"`
	ShortName        string   `json:"short_name,omitempty"`
	LongCommonName   string   `json:"long_common_name,omitempty"`
	ConsumerName     string   `json:"consumer_name,omitempty"`
	OrderObs         string   `json:"order_obs,omitempty"`
	UnitsRequired    bool     `json:"units_required,omitempty"`
	ExampleUnits     string   `json:"example_units,omitempty"`
	ExampleUCUMUnits string   `json:"example_ucum_units,omitempty"`
	CommonTestRank   int      `json:"common_test_rank,omitempty"`
	CommonOrderRank  int      `json:"common_order_rank,omitempty"`
	PanelMembers     []string `json:"panel_members,omitempty"`
}

// IsPanel reports whether the LOINC code groups other codes.
func (d *LOINCDetail) IsPanel() bool { return d != nil && len(d.PanelMembers) > 0 }

// ScoredConcept is a search hit: the concept code, its relevance score and
// the display fields relevant to its ontology.
type ScoredConcept struct {
	Code          string   `json:"code"`
	PreferredTerm string   `json:"preferred_term"`
	Score         float64  `json:"score"`
	Category      string   `json:"category,omitempty"`
	Synonyms      []string `json:"synonyms,omitempty"`

	// SNOMED
	SemanticTag string `json:"semantic_tag,omitempty"`
	// ICD10
	Chapter string `json:"chapter,omitempty"`
	Level   int    `json:"level,omitempty"`
	// RxNorm
	TTY        string   `json:"tty,omitempty"`
	BrandNames []string `json:"brand_names,omitempty"`
	// LOINC
	Component string `json:"component,omitempty"`
	System    string `json:"system,omitempty"`
	Class     string `json:"class,omitempty"`
}

// maxResultSynonyms bounds the synonyms echoed in a search hit.
const maxResultSynonyms = 3

func newScoredConcept(c *Concept, score float64) ScoredConcept {
	sc := ScoredConcept{
		Code:          c.Code,
		PreferredTerm: c.PreferredTerm,
		Score:         score,
		Category:      c.Category,
	}
	if n := len(c.Synonyms); n > 0 {
		sc.Synonyms = c.Synonyms[:min(n, maxResultSynonyms)]
	}
	switch {
	case c.SNOMED != nil:
		sc.SemanticTag = c.SNOMED.SemanticTag
	case c.ICD10 != nil:
		sc.Chapter = c.ICD10.Chapter
		sc.Level = c.ICD10.Level
	case c.RxNorm != nil:
		sc.TTY = c.RxNorm.TTY
		sc.BrandNames = c.RxNorm.BrandNames
	case c.LOINC != nil:
		sc.Component = c.LOINC.Component
		sc.System = c.LOINC.System
		sc.Class = c.LOINC.Class
	}
	return sc
}

// ConceptSummary is the short form used for related concepts.
type ConceptSummary struct {
	Code          string `json:"code"`
	PreferredTerm string `json:"preferred_term"`
}

// Relationships lists the direct neighbours of a concept.
type Relationships struct {
	Ontology string           `json:"ontology"`
	Code     string           `json:"code"`
	Parents  []ConceptSummary `json:"parents"`
	Children []ConceptSummary `json:"children"`
}

// OntologyStatus is the per-ontology health report.
type OntologyStatus struct {
	Loaded           bool   `json:"loaded"`
	ConceptCount     int    `json:"concept_count"`
	UsedPreprocessed bool   `json:"used_preprocessed"`
	SkippedRecords   int    `json:"skipped_records,omitempty"`
	Generation       string `json:"generation,omitempty"`
	LoadError        string `json:"load_error,omitempty"`
}

// SearchRequest is the input of Service.Search.
type SearchRequest struct {
	Query         string   `json:"query"`
	Ontologies    []string `json:"ontologies,omitempty"`
	Limit         int      `json:"limit,omitempty"`
	PreferredOnly bool     `json:"preferred_only,omitempty"`
}

// CodeRef names one code to validate.
type CodeRef struct {
	Ontology string `json:"ontology"`
	Code     string `json:"code"`
}

// CodeValidation is the outcome of validating one CodeRef.
type CodeValidation struct {
	Ontology string `json:"ontology"`
	Code     string `json:"code"`
	Valid    bool   `json:"valid"`
	Term     string `json:"term,omitempty"`
	Error    string `json:"error,omitempty"`
}

func placeholderTerm(code string) string {
	return fmt.Sprintf("Concept %s", code)
}
