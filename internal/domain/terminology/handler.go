package terminology

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/medterm/medterm/pkg/pagination"
)

// Handler provides REST endpoints over the terminology service.
type Handler struct {
	svc *Service
}

// NewHandler creates a new terminology handler.
func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

// RegisterRoutes registers terminology routes on the API group. Extra
// middleware (auth, timeouts) applies to every route.
func (h *Handler) RegisterRoutes(api *echo.Group, mw ...echo.MiddlewareFunc) {
	g := api.Group("", mw...)
	g.GET("/search", h.Search)
	g.GET("/ontologies/:ontology/concepts/:code", h.GetConcept)
	g.GET("/ontologies/:ontology/concepts/:code/relationships", h.GetRelationships)
	g.GET("/ontologies/:ontology/groups/:group/:key", h.Browse)
	g.POST("/validate", h.ValidateCodes)
	g.POST("/map", h.MapText)
	g.GET("/status", h.Status)
}

// getLimit reads limit (or _count). Zero lets the service apply its default.
func getLimit(c echo.Context) (int, error) {
	raw := c.QueryParam("limit")
	if raw == "" {
		raw = c.QueryParam("_count")
	}
	if raw == "" {
		return 0, nil
	}
	limit, err := strconv.Atoi(raw)
	if err != nil || limit < 0 {
		return 0, echo.NewHTTPError(http.StatusBadRequest, "limit must be a non-negative integer")
	}
	return limit, nil
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// httpError maps service errors to HTTP errors. unknown is the status used
// for an unknown ontology: 404 when it came from the path, 400 otherwise.
func httpError(err error, unknown int) error {
	switch {
	case errors.Is(err, ErrQueryRequired), errors.Is(err, ErrTextRequired):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	case errors.Is(err, ErrUnknownOntology):
		return echo.NewHTTPError(unknown, err.Error())
	case errors.Is(err, ErrUnknownGroup):
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	case errors.Is(err, ErrNotLoaded):
		return echo.NewHTTPError(http.StatusServiceUnavailable, err.Error())
	}
	return err
}

type searchResponse struct {
	Query   string                     `json:"query"`
	Results map[string][]ScoredConcept `json:"results"`
}

// Search handles GET /api/v1/search?q=...&ontologies=SNOMED,ICD10&limit=10
func (h *Handler) Search(c echo.Context) error {
	query := c.QueryParam("q")
	if strings.TrimSpace(query) == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "query parameter 'q' is required")
	}
	limit, err := getLimit(c)
	if err != nil {
		return err
	}
	preferredOnly, _ := strconv.ParseBool(c.QueryParam("preferred_only"))

	results, err := h.svc.Search(c.Request().Context(), SearchRequest{
		Query:         query,
		Ontologies:    splitList(c.QueryParam("ontologies")),
		Limit:         limit,
		PreferredOnly: preferredOnly,
	})
	if err != nil {
		return httpError(err, http.StatusBadRequest)
	}
	return c.JSON(http.StatusOK, searchResponse{Query: query, Results: results})
}

// GetConcept handles GET /api/v1/ontologies/:ontology/concepts/:code
func (h *Handler) GetConcept(c echo.Context) error {
	concept, err := h.svc.GetConcept(c.Request().Context(), c.Param("ontology"), c.Param("code"))
	if err != nil {
		return httpError(err, http.StatusNotFound)
	}
	if concept == nil {
		return echo.NewHTTPError(http.StatusNotFound, "concept not found")
	}
	return c.JSON(http.StatusOK, concept)
}

// GetRelationships handles GET /api/v1/ontologies/:ontology/concepts/:code/relationships
func (h *Handler) GetRelationships(c echo.Context) error {
	rel, err := h.svc.Relationships(c.Request().Context(), c.Param("ontology"), c.Param("code"))
	if err != nil {
		return httpError(err, http.StatusNotFound)
	}
	if rel == nil {
		return echo.NewHTTPError(http.StatusNotFound, "concept not found")
	}
	return c.JSON(http.StatusOK, rel)
}

// Browse handles GET /api/v1/ontologies/:ontology/groups/:group/:key
func (h *Handler) Browse(c echo.Context) error {
	concepts, err := h.svc.Browse(c.Request().Context(), c.Param("ontology"), c.Param("group"), c.Param("key"))
	if err != nil {
		return httpError(err, http.StatusNotFound)
	}
	page := pagination.Slice(concepts, pagination.FromContext(c), c.Request().URL.Path)
	return c.JSON(http.StatusOK, browseResponse{
		Group: c.Param("group"),
		Key:   c.Param("key"),
		Page:  page,
	})
}

type browseResponse struct {
	Group string `json:"group"`
	Key   string `json:"key"`
	pagination.Page[ConceptSummary]
}

type validateRequest struct {
	Codes []CodeRef `json:"codes"`
}

// ValidateCodes handles POST /api/v1/validate
func (h *Handler) ValidateCodes(c echo.Context) error {
	var req validateRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if len(req.Codes) == 0 {
		return echo.NewHTTPError(http.StatusBadRequest, "codes is required")
	}
	results := h.svc.ValidateCodes(c.Request().Context(), req.Codes)
	return c.JSON(http.StatusOK, map[string]interface{}{"results": results})
}

// MapText handles POST /api/v1/map
func (h *Handler) MapText(c echo.Context) error {
	var req MapRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	mappings, err := h.svc.MapText(c.Request().Context(), req)
	if err != nil {
		return httpError(err, http.StatusBadRequest)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"mappings": mappings})
}

type statusResponse struct {
	Status     string                    `json:"status"`
	Ontologies map[string]OntologyStatus `json:"ontologies"`
}

// Status handles GET /api/v1/status.
func (h *Handler) Status(c echo.Context) error {
	status := h.svc.GetStatus()
	return c.JSON(http.StatusOK, statusResponse{Status: OverallStatus(status), Ontologies: status})
}
