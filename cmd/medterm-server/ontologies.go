package main

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog"

	"github.com/medterm/medterm/internal/config"
	"github.com/medterm/medterm/internal/domain/terminology"
	"github.com/medterm/medterm/internal/domain/terminology/icd10"
	"github.com/medterm/medterm/internal/domain/terminology/loinc"
	"github.com/medterm/medterm/internal/domain/terminology/rxnorm"
	"github.com/medterm/medterm/internal/domain/terminology/snomed"
	"github.com/medterm/medterm/internal/platform/cache"
)

// ontologyDir is the raw release directory of one ontology, for example
// ./data/snomed.
func ontologyDir(dataPath, name string) string {
	return filepath.Join(dataPath, strings.ToLower(name))
}

func newParser(name string, cfg *config.Config) (terminology.Parser, error) {
	switch name {
	case terminology.OntologySNOMED:
		return snomed.New(snomed.Options{RetainInactive: cfg.SnomedRetainInactive}), nil
	case terminology.OntologyICD10:
		return icd10.New(), nil
	case terminology.OntologyRxNorm:
		return rxnorm.New(rxnorm.Options{RetainSuppressed: cfg.RxNormRetainSuppressed}), nil
	case terminology.OntologyLOINC:
		return loinc.New(loinc.Options{RetainInactive: cfg.LoincRetainInactive}), nil
	}
	return nil, fmt.Errorf("%w: %q", terminology.ErrUnknownOntology, name)
}

// selectOntologies narrows the enabled ontologies to the requested ones.
// An empty request selects every enabled ontology.
func selectOntologies(cfg *config.Config, requested []string) ([]string, error) {
	enabled, err := cfg.Ontologies()
	if err != nil {
		return nil, err
	}
	if len(requested) == 0 {
		return enabled, nil
	}

	var out []string
	for _, r := range requested {
		found := false
		for _, name := range enabled {
			if strings.EqualFold(r, name) {
				out = append(out, name)
				found = true
				break
			}
		}
		if !found {
			return nil, fmt.Errorf("%w: %q is not enabled", terminology.ErrUnknownOntology, r)
		}
	}
	return out, nil
}

func newLoaders(cfg *config.Config, names []string, logger zerolog.Logger) ([]*terminology.Loader, error) {
	loaders := make([]*terminology.Loader, 0, len(names))
	for _, name := range names {
		p, err := newParser(name, cfg)
		if err != nil {
			return nil, err
		}
		loaders = append(loaders, terminology.NewLoader(p, ontologyDir(cfg.DataPath, name), logger))
	}
	return loaders, nil
}

// newService builds the service over the named ontologies and loads them.
// The returned store is nil when caching is disabled.
func newService(ctx context.Context, cfg *config.Config, names []string, logger zerolog.Logger) (*terminology.Service, cache.Store, error) {
	loaders, err := newLoaders(cfg, names, logger)
	if err != nil {
		return nil, nil, err
	}
	ontologies := make([]terminology.Ontology, len(loaders))
	for i, l := range loaders {
		ontologies[i] = l
	}

	store, err := cache.New(ctx, cfg.CacheType, cfg.RedisURL)
	if err != nil {
		return nil, nil, err
	}
	opts := terminology.Options{
		MaxResults:   cfg.SearchMaxResults,
		DefaultLimit: cfg.SearchDefaultLimit,
		CacheTTL:     cfg.CacheTTL,
	}
	if store != nil {
		opts.Cache = store
	}

	svc := terminology.NewService(ontologies, opts, logger)
	svc.Initialize(ctx)
	return svc, store, nil
}
