package terminology

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/medterm/medterm/internal/platform/fhir"
)

// defaultExpandCount is the page size of ValueSet/$expand.
const defaultExpandCount = 20

// RegisterFHIRRoutes registers the FHIR terminology operations.
func (h *Handler) RegisterFHIRRoutes(fhirGroup *echo.Group, mw ...echo.MiddlewareFunc) {
	g := fhirGroup.Group("", mw...)
	g.GET("/CodeSystem/$lookup", h.FHIRLookup)
	g.POST("/CodeSystem/$lookup", h.FHIRLookup)
	g.GET("/CodeSystem/$validate-code", h.FHIRValidateCode)
	g.POST("/CodeSystem/$validate-code", h.FHIRValidateCode)
	g.GET("/ValueSet/$expand", h.ExpandValueSet)
	g.POST("/ValueSet/$expand", h.ExpandValueSet)
}

// operationRequest accepts either a Parameters resource or a flat JSON body.
type operationRequest struct {
	ResourceType string           `json:"resourceType"`
	Parameter    []fhir.Parameter `json:"parameter"`
	System       string           `json:"system"`
	Code         string           `json:"code"`
	Display      string           `json:"display"`
	URL          string           `json:"url"`
	Filter       string           `json:"filter"`
	Count        int              `json:"count"`
	Offset       int              `json:"offset"`
}

type operationParams map[string]string

// readOperation collects the operation inputs from the query string (GET) or
// the body (POST). A "coding" parameter supplies system and code.
func readOperation(c echo.Context) (operationParams, error) {
	p := operationParams{}
	if c.Request().Method == http.MethodGet {
		for _, name := range []string{"system", "code", "display", "url", "filter", "count", "offset"} {
			if v := c.QueryParam(name); v != "" {
				p[name] = v
			}
		}
		return p, nil
	}

	var req operationRequest
	if err := c.Bind(&req); err != nil {
		return nil, err
	}
	for name, v := range map[string]string{
		"system": req.System, "code": req.Code, "display": req.Display,
		"url": req.URL, "filter": req.Filter,
	} {
		if v != "" {
			p[name] = v
		}
	}
	if req.Count > 0 {
		p["count"] = strconv.Itoa(req.Count)
	}
	if req.Offset > 0 {
		p["offset"] = strconv.Itoa(req.Offset)
	}
	for _, param := range req.Parameter {
		if param.Name == "coding" && param.ValueCoding != nil {
			p["system"] = param.ValueCoding.System
			p["code"] = param.ValueCoding.Code
			continue
		}
		if v := param.Value(); v != "" {
			p[param.Name] = v
		}
	}
	return p, nil
}

func (p operationParams) intValue(name string, fallback int) int {
	n, err := strconv.Atoi(p[name])
	if err != nil || n < 0 {
		return fallback
	}
	return n
}

// FHIRLookup handles GET/POST /fhir/CodeSystem/$lookup
func (h *Handler) FHIRLookup(c echo.Context) error {
	p, err := readOperation(c)
	if err != nil {
		return c.JSON(http.StatusBadRequest, fhir.InvalidOutcome(err.Error()))
	}
	if p["system"] == "" || p["code"] == "" {
		return c.JSON(http.StatusBadRequest, fhir.InvalidOutcome("system and code are required"))
	}
	ontology, ok := OntologyForSystem(p["system"])
	if !ok {
		return c.JSON(http.StatusBadRequest, fhir.InvalidOutcome("unsupported code system "+p["system"]))
	}

	concept, err := h.svc.GetConcept(c.Request().Context(), ontology, p["code"])
	if err != nil {
		return c.JSON(http.StatusNotFound, fhir.ErrorOutcome(err.Error()))
	}
	if concept == nil {
		return c.JSON(http.StatusNotFound, fhir.NotFoundOutcome(p["system"], p["code"]))
	}

	out := fhir.NewParameters().
		AddString("name", ontology).
		AddString("display", concept.PreferredTerm).
		AddBool("inactive", !concept.Active).
		AddProperty("category", concept.Category)
	for _, parent := range concept.Parents {
		out.AddProperty("parent", parent)
	}
	for _, child := range concept.Children {
		out.AddProperty("child", child)
	}
	for _, syn := range concept.Synonyms {
		out.AddDesignation(syn)
	}
	return c.JSON(http.StatusOK, out)
}

// FHIRValidateCode handles GET/POST /fhir/CodeSystem/$validate-code. An
// unknown code is a successful call with result=false.
func (h *Handler) FHIRValidateCode(c echo.Context) error {
	p, err := readOperation(c)
	if err != nil {
		return c.JSON(http.StatusBadRequest, fhir.InvalidOutcome(err.Error()))
	}
	if p["code"] == "" {
		return c.JSON(http.StatusBadRequest, fhir.InvalidOutcome("code is required"))
	}

	out := fhir.NewParameters()
	ontology, ok := OntologyForSystem(p["system"])
	if !ok {
		out.AddBool("result", false).AddString("message", "unsupported code system "+p["system"])
		return c.JSON(http.StatusOK, out)
	}

	concept, err := h.svc.GetConcept(c.Request().Context(), ontology, p["code"])
	switch {
	case err != nil:
		out.AddBool("result", false).AddString("message", err.Error())
	case concept == nil:
		out.AddBool("result", false).AddString("message", "code "+p["code"]+" not found in "+SystemURI(ontology))
	case p["display"] != "" && !displayMatches(concept, p["display"]):
		out.AddBool("result", false).
			AddString("message", "display "+strconv.Quote(p["display"])+" does not match").
			AddString("display", concept.PreferredTerm)
	default:
		out.AddBool("result", true).AddString("display", concept.PreferredTerm)
	}
	return c.JSON(http.StatusOK, out)
}

func displayMatches(c *Concept, display string) bool {
	if strings.EqualFold(c.PreferredTerm, display) {
		return true
	}
	for _, syn := range c.Synonyms {
		if strings.EqualFold(syn, display) {
			return true
		}
	}
	return false
}

// ExpandValueSet handles GET/POST /fhir/ValueSet/$expand. The url selects the
// code system by prefix and filter runs a ranked search over it.
func (h *Handler) ExpandValueSet(c echo.Context) error {
	p, err := readOperation(c)
	if err != nil {
		return c.JSON(http.StatusBadRequest, fhir.InvalidOutcome(err.Error()))
	}
	url := p["url"]
	ontology := ""
	for _, name := range AllOntologies {
		if system := SystemURI(name); url != "" && strings.HasPrefix(url, system) {
			ontology = name
			break
		}
	}
	if ontology == "" {
		return c.JSON(http.StatusBadRequest, fhir.InvalidOutcome("unsupported value set "+url))
	}

	count := p.intValue("count", defaultExpandCount)
	offset := p.intValue("offset", 0)
	filter := strings.TrimSpace(p["filter"])
	if filter == "" {
		return c.JSON(http.StatusOK, fhir.NewExpansion(url, 0, offset, nil))
	}

	results, err := h.svc.Search(c.Request().Context(), SearchRequest{
		Query:      filter,
		Ontologies: []string{ontology},
		Limit:      offset + count,
	})
	if err != nil {
		return c.JSON(http.StatusBadRequest, fhir.ErrorOutcome(err.Error()))
	}
	hits := results[ontology]
	total := len(hits)
	if offset > len(hits) {
		offset = len(hits)
	}
	hits = hits[offset:]
	if len(hits) > count {
		hits = hits[:count]
	}

	contains := make([]fhir.Coding, 0, len(hits))
	for _, hit := range hits {
		contains = append(contains, fhir.Coding{System: SystemURI(ontology), Code: hit.Code, Display: hit.PreferredTerm})
	}
	return c.JSON(http.StatusOK, fhir.NewExpansion(url, total, offset, contains))
}
