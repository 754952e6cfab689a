package terminology

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

// ResultCache stores serialized search results. Implementations live in
// internal/platform/cache.
type ResultCache interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
}

// Options configure a Service.
type Options struct {
	// MaxResults caps the per-ontology limit a caller may request.
	MaxResults int
	// DefaultLimit applies when a request has no limit.
	DefaultLimit int
	Cache        ResultCache
	CacheTTL     time.Duration
}

// Service owns the registered ontologies and answers read requests against
// them. It is built once at startup and shared by every adapter.
type Service struct {
	names      []string
	ontologies map[string]Ontology
	lookup     map[string]string
	opts       Options
	logger     zerolog.Logger
}

// NewService registers the given ontologies in order.
func NewService(ontologies []Ontology, opts Options, logger zerolog.Logger) *Service {
	if opts.DefaultLimit <= 0 {
		opts.DefaultLimit = DefaultLimit
	}
	if opts.MaxResults <= 0 {
		opts.MaxResults = 100
	}
	if opts.CacheTTL <= 0 {
		opts.CacheTTL = time.Hour
	}
	s := &Service{
		ontologies: make(map[string]Ontology, len(ontologies)),
		lookup:     make(map[string]string, len(ontologies)),
		opts:       opts,
		logger:     logger,
	}
	for _, o := range ontologies {
		name := o.Name()
		if _, dup := s.ontologies[name]; dup {
			continue
		}
		s.names = append(s.names, name)
		s.ontologies[name] = o
		s.lookup[strings.ToLower(name)] = name
	}
	return s
}

// Ontologies returns the registered ontology ids in registration order.
func (s *Service) Ontologies() []string {
	return append([]string(nil), s.names...)
}

// Ontology returns the registered ontology by id, matched case-insensitively.
func (s *Service) Ontology(name string) (Ontology, error) {
	canonical, ok := s.lookup[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return nil, unknownOntology(name)
	}
	return s.ontologies[canonical], nil
}

// Initialize loads every ontology concurrently. A failing ontology is logged
// and reported by GetStatus; it never cancels or fails the others.
func (s *Service) Initialize(ctx context.Context) {
	start := time.Now()
	var g errgroup.Group
	for _, name := range s.names {
		o := s.ontologies[name]
		g.Go(func() error {
			defer s.recoverPanic(name, "load")
			s.logger.Info().Str("ontology", name).Msg("loading ontology")
			if err := o.Load(ctx); err != nil {
				s.logger.Error().Err(err).Str("ontology", name).Msg("failed to load ontology")
			}
			return nil
		})
	}
	_ = g.Wait()

	loaded := 0
	for _, name := range s.names {
		if s.ontologies[name].Loaded() {
			loaded++
		}
	}
	s.logger.Info().Int("loaded", loaded).Int("configured", len(s.names)).Dur("took", time.Since(start)).Msg("initialization complete")
}

// Search runs the query against each requested ontology concurrently. An
// ontology whose search fails contributes an empty list. Unknown ontology
// names fail the whole request.
func (s *Service) Search(ctx context.Context, req SearchRequest) (map[string][]ScoredConcept, error) {
	if strings.TrimSpace(req.Query) == "" {
		return nil, ErrQueryRequired
	}
	names, err := s.resolve(req.Ontologies)
	if err != nil {
		return nil, err
	}
	req.Ontologies = names
	req.Limit = s.clampLimit(req.Limit)

	key := s.cacheKey(req)
	if cached, ok := s.cachedSearch(ctx, key); ok {
		return cached, nil
	}

	results := make([][]ScoredConcept, len(names))
	complete := make([]bool, len(names))
	var g errgroup.Group
	for i, name := range names {
		o := s.ontologies[name]
		results[i] = []ScoredConcept{}
		g.Go(func() error {
			defer s.recoverPanic(name, "search")
			hits, err := o.Search(req.Query, SearchOptions{Limit: req.Limit, PreferredOnly: req.PreferredOnly})
			if err != nil {
				s.logger.Warn().Err(err).Str("ontology", name).Str("query", req.Query).Msg("search failed")
				return nil
			}
			if hits != nil {
				results[i] = hits
			}
			complete[i] = true
			return nil
		})
	}
	_ = g.Wait()

	out := make(map[string][]ScoredConcept, len(names))
	cacheable := true
	for i, name := range names {
		out[name] = results[i]
		cacheable = cacheable && complete[i]
	}
	if cacheable {
		s.storeSearch(ctx, key, out)
	}
	return out, nil
}

// GetConcept returns the concept with the exact code, or nil when the
// ontology holds no such code.
func (s *Service) GetConcept(_ context.Context, ontology, code string) (*Concept, error) {
	o, err := s.Ontology(ontology)
	if err != nil {
		return nil, err
	}
	c, ok := o.GetConcept(code)
	if !ok {
		return nil, nil
	}
	return c, nil
}

// GetStatus reports every registered ontology.
func (s *Service) GetStatus() map[string]OntologyStatus {
	out := make(map[string]OntologyStatus, len(s.names))
	for _, name := range s.names {
		out[name] = s.ontologies[name].Status()
	}
	return out
}

// OverallStatus is "ok" when every ontology loaded, "degraded" when some
// did and "unavailable" otherwise.
func OverallStatus(status map[string]OntologyStatus) string {
	loaded := 0
	for _, s := range status {
		if s.Loaded {
			loaded++
		}
	}
	switch {
	case loaded > 0 && loaded == len(status):
		return "ok"
	case loaded > 0:
		return "degraded"
	}
	return "unavailable"
}

// Relationships returns the direct parents and children of a concept, or nil
// when the code is unknown.
func (s *Service) Relationships(ctx context.Context, ontology, code string) (*Relationships, error) {
	o, err := s.Ontology(ontology)
	if err != nil {
		return nil, err
	}
	c, ok := o.GetConcept(code)
	if !ok {
		return nil, nil
	}
	return &Relationships{
		Ontology: o.Name(),
		Code:     c.Code,
		Parents:  summarize(o, c.Parents),
		Children: summarize(o, c.Children),
	}, nil
}

// Browse lists the concepts filed under key in a secondary grouping such as
// an ICD-10 category or a LOINC class.
func (s *Service) Browse(_ context.Context, ontology, group, key string) ([]ConceptSummary, error) {
	o, err := s.Ontology(ontology)
	if err != nil {
		return nil, err
	}
	codes, err := o.Group(group, key)
	if err != nil {
		return nil, err
	}
	return summarize(o, codes), nil
}

// ValidateCodes checks each reference independently.
func (s *Service) ValidateCodes(ctx context.Context, refs []CodeRef) []CodeValidation {
	out := make([]CodeValidation, 0, len(refs))
	for _, ref := range refs {
		v := CodeValidation{Ontology: ref.Ontology, Code: ref.Code}
		if ref.Ontology == "" || ref.Code == "" {
			v.Error = "Missing ontology or code"
			out = append(out, v)
			continue
		}
		c, err := s.GetConcept(ctx, ref.Ontology, ref.Code)
		switch {
		case err != nil:
			v.Error = err.Error()
		case c != nil:
			v.Valid = true
			v.Term = c.PreferredTerm
		}
		out = append(out, v)
	}
	return out
}

func summarize(o Ontology, codes []string) []ConceptSummary {
	out := make([]ConceptSummary, 0, len(codes))
	for _, code := range codes {
		if c, ok := o.GetConcept(code); ok {
			out = append(out, ConceptSummary{Code: c.Code, PreferredTerm: c.PreferredTerm})
		}
	}
	return out
}

// resolve maps requested names to registered ids, keeping request order and
// dropping duplicates. An empty request means every registered ontology.
func (s *Service) resolve(requested []string) ([]string, error) {
	if len(requested) == 0 {
		return s.Ontologies(), nil
	}
	seen := make(map[string]bool, len(requested))
	var names []string
	for _, r := range requested {
		o, err := s.Ontology(r)
		if err != nil {
			return nil, err
		}
		if name := o.Name(); !seen[name] {
			seen[name] = true
			names = append(names, name)
		}
	}
	return names, nil
}

func (s *Service) clampLimit(limit int) int {
	if limit <= 0 {
		limit = s.opts.DefaultLimit
	}
	if limit > s.opts.MaxResults {
		limit = s.opts.MaxResults
	}
	return limit
}

func (s *Service) recoverPanic(ontology, op string) {
	if r := recover(); r != nil {
		s.logger.Error().Str("ontology", ontology).Str("op", op).Str("panic", fmt.Sprintf("%v", r)).Msg("panic recovered")
	}
}

// The key covers the load generation of each ontology so a reload never
// serves results computed against older data.
func (s *Service) cacheKey(req SearchRequest) string {
	if s.opts.Cache == nil {
		return ""
	}
	h := sha256.New()
	fmt.Fprintf(h, "%s\x00%d\x00%t", strings.ToLower(strings.TrimSpace(req.Query)), req.Limit, req.PreferredOnly)
	for _, name := range req.Ontologies {
		fmt.Fprintf(h, "\x00%s:%s", name, s.ontologies[name].Status().Generation)
	}
	return "medterm:search:" + hex.EncodeToString(h.Sum(nil))
}

func (s *Service) cachedSearch(ctx context.Context, key string) (map[string][]ScoredConcept, bool) {
	if key == "" {
		return nil, false
	}
	data, ok, err := s.opts.Cache.Get(ctx, key)
	if err != nil {
		s.logger.Warn().Err(err).Msg("search cache read failed")
		return nil, false
	}
	if !ok {
		return nil, false
	}
	var out map[string][]ScoredConcept
	if err := json.Unmarshal(data, &out); err != nil {
		s.logger.Warn().Err(err).Msg("search cache entry unreadable")
		return nil, false
	}
	return out, true
}

func (s *Service) storeSearch(ctx context.Context, key string, out map[string][]ScoredConcept) {
	if key == "" {
		return
	}
	data, err := json.Marshal(out)
	if err != nil {
		return
	}
	if err := s.opts.Cache.Set(ctx, key, data, s.opts.CacheTTL); err != nil {
		s.logger.Warn().Err(err).Msg("search cache write failed")
	}
}
