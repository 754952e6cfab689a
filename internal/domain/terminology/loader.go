package terminology

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// DefaultLimit is the number of hits returned when a caller gives no limit.
const DefaultLimit = 10

// Ontology is the read contract the Service dispatches to. Loader is the only
// production implementation; tests substitute fakes.
type Ontology interface {
	Name() string
	Load(ctx context.Context) error
	Loaded() bool
	GetConcept(code string) (*Concept, bool)
	Search(query string, opts SearchOptions) ([]ScoredConcept, error)
	Group(name, key string) ([]string, error)
	Status() OntologyStatus
}

// SearchOptions tune a single-ontology search.
type SearchOptions struct {
	Limit         int
	PreferredOnly bool
}

// Built is a fully prepared ontology: normalized concepts with derived
// hierarchy fields and the inverted index.
type Built struct {
	Store     *Store
	Index     InvertedIndex
	Relations map[string][]string
	Result    *ParseResult
}

// Build parses the raw directory and prepares the result for search or
// serialization.
func Build(ctx context.Context, p Parser, dataDir string) (*Built, error) {
	res, err := p.Parse(ctx, dataDir)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	pol := p.Policy()
	res.Store.Each(func(c *Concept) {
		if c.Ontology == "" {
			c.Ontology = p.Ontology()
		}
		Normalize(c)
	})
	rel := BuildHierarchy(res.Store, pol.Hierarchy)
	res.Relations = rel
	return &Built{
		Store:     res.Store,
		Index:     BuildIndex(res.Store, pol),
		Relations: rel,
		Result:    res,
	}, nil
}

type loadState struct {
	store            *Store
	index            InvertedIndex
	groups           map[string]Grouping
	usedPreprocessed bool
	skipped          int
	generation       string
}

// Loader owns one ontology's concept store. It prefers the processed form
// next to the raw directory and falls back to parsing the raw files.
type Loader struct {
	parser       Parser
	policy       Policy
	dataDir      string
	processedDir string
	logger       zerolog.Logger

	mu     sync.Mutex
	loaded atomic.Bool
	state  atomic.Pointer[loadState]

	errMu   sync.RWMutex
	loadErr error
}

// NewLoader creates a loader for the raw ontology directory dataDir.
func NewLoader(p Parser, dataDir string, logger zerolog.Logger) *Loader {
	return &Loader{
		parser:       p,
		policy:       p.Policy(),
		dataDir:      dataDir,
		processedDir: ProcessedDir(dataDir),
		logger:       logger.With().Str("ontology", p.Ontology()).Logger(),
	}
}

// Name returns the ontology id.
func (l *Loader) Name() string { return l.parser.Ontology() }

// Loaded reports whether Load has completed successfully.
func (l *Loader) Loaded() bool { return l.loaded.Load() }

var errNoProcessed = errors.New("no processed data")

// Load populates the store once. Calls after a successful load return
// immediately; a failed load may be retried.
func (l *Loader) Load(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.loaded.Load() {
		return nil
	}

	start := time.Now()
	st, err := l.loadProcessed(ctx)
	if err != nil {
		if !errors.Is(err, errNoProcessed) {
			l.logger.Warn().Err(err).Str("path", l.processedDir).Msg("failed to load preprocessed data, falling back to raw files")
		}
		st, err = l.loadRaw(ctx)
		if err != nil {
			l.setErr(err)
			return fmt.Errorf("load %s: %w", l.Name(), err)
		}
	}

	st.groups = l.buildGroupings(st)

	l.state.Store(st)
	l.loaded.Store(true)
	l.setErr(nil)
	l.logger.Info().
		Int("concepts", st.store.Len()).
		Int("tokens", len(st.index)).
		Bool("preprocessed", st.usedPreprocessed).
		Int("skipped", st.skipped).
		Dur("took", time.Since(start)).
		Msg("ontology loaded")
	return nil
}

func (l *Loader) loadProcessed(ctx context.Context) (*loadState, error) {
	if _, err := os.Stat(filepath.Join(l.processedDir, ManifestFile)); err != nil {
		return nil, errNoProcessed
	}
	l.logger.Info().Str("path", l.processedDir).Msg("found preprocessed data")
	store, idx, m, err := ReadProcessed(ctx, l.processedDir)
	if err != nil {
		return nil, err
	}
	if m.Ontology != "" && m.Ontology != l.Name() {
		return nil, fmt.Errorf("processed data belongs to %s", m.Ontology)
	}
	return &loadState{
		store:            store,
		index:            idx,
		usedPreprocessed: true,
		skipped:          m.SkippedRecords,
		generation:       m.Generation,
	}, nil
}

// buildGroupings reads prebuilt groupings from the processed sidecars and
// derives the rest from the store. A missing or corrupt sidecar is rebuilt.
func (l *Loader) buildGroupings(st *loadState) map[string]Grouping {
	groups := make(map[string]Grouping, len(l.policy.Groupings))
	for name, fn := range l.policy.Groupings {
		if file, ok := l.policy.GroupingSidecars[name]; ok && st.usedPreprocessed {
			var g Grouping
			err := ReadSidecar(l.processedDir, file, &g)
			if err == nil && g != nil {
				groups[name] = g
				continue
			}
			l.logger.Warn().Err(err).Str("sidecar", file).Msg("rebuilding grouping from concepts")
		}
		groups[name] = BuildGrouping(st.store, fn)
	}
	return groups
}

func (l *Loader) loadRaw(ctx context.Context) (*loadState, error) {
	b, err := Build(ctx, l.parser, l.dataDir)
	if err != nil {
		return nil, err
	}
	return &loadState{
		store:      b.Store,
		index:      b.Index,
		skipped:    b.Result.Skipped,
		generation: uuid.NewString(),
	}, nil
}

func (l *Loader) setErr(err error) {
	l.errMu.Lock()
	l.loadErr = err
	l.errMu.Unlock()
}

// GetConcept returns the concept stored under the exact code.
func (l *Loader) GetConcept(code string) (*Concept, bool) {
	st := l.state.Load()
	if st == nil {
		return nil, false
	}
	return st.store.Get(code)
}

// Search scores the candidates of the query against the original query text
// and returns the best hits. Ties keep store order.
func (l *Loader) Search(query string, opts SearchOptions) ([]ScoredConcept, error) {
	st := l.state.Load()
	if st == nil {
		return nil, ErrNotLoaded
	}
	if strings.TrimSpace(query) == "" {
		return nil, ErrQueryRequired
	}
	limit := opts.Limit
	if limit <= 0 {
		limit = DefaultLimit
	}

	var codes []string
	if st.index != nil {
		cand := st.index.Candidates(l.policy.Tokenizer.Tokens(query))
		codes = make([]string, 0, len(cand))
		for code := range cand {
			if st.store.Has(code) {
				codes = append(codes, code)
			}
		}
		sort.Slice(codes, func(i, j int) bool {
			return st.store.Position(codes[i]) < st.store.Position(codes[j])
		})
	} else {
		codes = st.store.Codes()
	}

	var hits []ScoredConcept
	for _, code := range codes {
		c, _ := st.store.Get(code)
		if !c.Active {
			continue
		}
		if score := Score(query, c, opts.PreferredOnly); score > 0 {
			hits = append(hits, newScoredConcept(c, score))
		}
	}
	sort.SliceStable(hits, func(i, j int) bool { return hits[i].Score > hits[j].Score })
	if len(hits) > limit {
		hits = hits[:limit]
	}
	return hits, nil
}

// Group returns the codes filed under key in the named secondary grouping.
func (l *Loader) Group(name, key string) ([]string, error) {
	st := l.state.Load()
	if st == nil {
		return nil, ErrNotLoaded
	}
	g, ok := st.groups[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s has no grouping %q", ErrUnknownGroup, l.Name(), name)
	}
	return g[key], nil
}

// Status reports load state and counts.
func (l *Loader) Status() OntologyStatus {
	var s OntologyStatus
	if st := l.state.Load(); st != nil {
		s.Loaded = true
		s.ConceptCount = st.store.Len()
		s.UsedPreprocessed = st.usedPreprocessed
		s.SkippedRecords = st.skipped
		s.Generation = st.generation
	}
	l.errMu.RLock()
	if l.loadErr != nil {
		s.LoadError = l.loadErr.Error()
	}
	l.errMu.RUnlock()
	return s
}

// Store exposes the loaded store for export. It returns nil before Load.
func (l *Loader) Store() *Store {
	if st := l.state.Load(); st != nil {
		return st.store
	}
	return nil
}
