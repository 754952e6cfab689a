package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"text/tabwriter"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/medterm/medterm/internal/config"
	"github.com/medterm/medterm/internal/domain/terminology"
	"github.com/medterm/medterm/internal/platform/cache"
	"github.com/medterm/medterm/internal/platform/db"
)

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func preprocessCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "preprocess [ontology...]",
		Short: "Write the processed form of raw ontology releases",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			logger := newLogger(os.Stderr, cfg)
			names, err := selectOntologies(cfg, args)
			if err != nil {
				return err
			}

			ctx := cmd.Context()
			out := cmd.OutOrStdout()
			var failed []string
			for _, name := range names {
				p, err := newParser(name, cfg)
				if err != nil {
					return err
				}
				m, err := terminology.Preprocess(ctx, p, ontologyDir(cfg.DataPath, name), "", logger)
				if err != nil {
					logger.Error().Err(err).Str("ontology", name).Msg("preprocessing failed")
					failed = append(failed, name)
					continue
				}
				fmt.Fprintf(out, "%s: %d concepts in %d chunks (generation %s)\n", name, m.TotalConcepts, m.TotalChunks, m.Generation)
			}
			if len(failed) > 0 {
				return fmt.Errorf("preprocessing failed for %s", strings.Join(failed, ", "))
			}
			return nil
		},
	}
	cmd.Flags().String("data-path", "", "Directory holding the ontology releases (overrides DATA_PATH)")
	return cmd
}

func searchCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Search the enabled ontologies and print JSON results",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			requested, _ := cmd.Flags().GetStringSlice("ontologies")
			limit, _ := cmd.Flags().GetInt("limit")
			preferred, _ := cmd.Flags().GetBool("preferred-only")

			names, err := selectOntologies(cfg, requested)
			if err != nil {
				return err
			}
			svc, err := loadService(cmd.Context(), cfg, names)
			if err != nil {
				return err
			}

			results, err := svc.Search(cmd.Context(), terminology.SearchRequest{
				Query:         strings.Join(args, " "),
				Ontologies:    names,
				Limit:         limit,
				PreferredOnly: preferred,
			})
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), results)
		},
	}
	cmd.Flags().StringSlice("ontologies", nil, "Ontologies to search (default: all enabled)")
	cmd.Flags().Int("limit", 0, "Maximum results per ontology")
	cmd.Flags().Bool("preferred-only", false, "Ignore synonym matches")
	cmd.Flags().String("data-path", "", "Directory holding the ontology releases (overrides DATA_PATH)")
	return cmd
}

func lookupCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "lookup <ontology> <code>",
		Short: "Print one concept as JSON",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			names, err := selectOntologies(cfg, args[:1])
			if err != nil {
				return err
			}
			svc, err := loadService(cmd.Context(), cfg, names)
			if err != nil {
				return err
			}

			concept, err := svc.GetConcept(cmd.Context(), names[0], args[1])
			if err != nil {
				return err
			}
			if concept == nil {
				return fmt.Errorf("concept %s not found in %s", args[1], names[0])
			}
			return writeJSON(cmd.OutOrStdout(), concept)
		},
	}
	cmd.Flags().String("data-path", "", "Directory holding the ontology releases (overrides DATA_PATH)")
	return cmd
}

func statusCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Load every enabled ontology and report its status",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			names, err := cfg.Ontologies()
			if err != nil {
				return err
			}
			svc, err := loadService(cmd.Context(), cfg, names)
			if err != nil {
				return err
			}
			printStatus(cmd.OutOrStdout(), svc.GetStatus())
			return nil
		},
	}
	cmd.Flags().String("data-path", "", "Directory holding the ontology releases (overrides DATA_PATH)")
	return cmd
}

func printStatus(w io.Writer, status map[string]terminology.OntologyStatus) {
	names := make([]string, 0, len(status))
	for name := range status {
		names = append(names, name)
	}
	sort.Strings(names)

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ONTOLOGY\tLOADED\tCONCEPTS\tPROCESSED\tSKIPPED\tERROR")
	for _, name := range names {
		s := status[name]
		fmt.Fprintf(tw, "%s\t%t\t%d\t%t\t%d\t%s\n", name, s.Loaded, s.ConceptCount, s.UsedPreprocessed, s.SkippedRecords, s.LoadError)
	}
	tw.Flush()
	fmt.Fprintf(w, "overall: %s\n", terminology.OverallStatus(status))
}

func publishCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "publish [ontology...]",
		Short: "Copy loaded ontologies into the terminology_concepts table",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			if cfg.DatabaseURL == "" {
				return fmt.Errorf("DATABASE_URL is required for publish")
			}
			logger := newLogger(os.Stderr, cfg)
			names, err := selectOntologies(cfg, args)
			if err != nil {
				return err
			}

			ctx := cmd.Context()
			pool, err := db.NewPool(ctx, db.PoolConfig{URL: cfg.DatabaseURL, MaxConns: cfg.DBMaxConns, MinConns: cfg.DBMinConns})
			if err != nil {
				return err
			}
			defer pool.Close()

			repo := terminology.NewConceptRepoPG(pool)
			if err := repo.CreateSchema(ctx); err != nil {
				return err
			}

			loaders, err := newLoaders(cfg, names, logger)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			for _, l := range loaders {
				if err := l.Load(ctx); err != nil {
					return fmt.Errorf("load %s: %w", l.Name(), err)
				}
				generation := l.Status().Generation
				if generation == "" {
					generation = uuid.NewString()
				}
				n, err := repo.Publish(ctx, l.Name(), generation, l.Store())
				if err != nil {
					return fmt.Errorf("publish %s: %w", l.Name(), err)
				}
				fmt.Fprintf(out, "%s: published %d concepts (generation %s)\n", l.Name(), n, generation)
			}

			counts, err := repo.Counts(ctx)
			if err != nil {
				return err
			}
			return writeJSON(out, counts)
		},
	}
	cmd.Flags().String("data-path", "", "Directory holding the ontology releases (overrides DATA_PATH)")
	return cmd
}

// loadService builds an uncached service over names for one-shot commands.
func loadService(ctx context.Context, cfg *config.Config, names []string) (*terminology.Service, error) {
	c := *cfg
	c.CacheType = cache.KindNone
	svc, _, err := newService(ctx, &c, names, newLogger(os.Stderr, &c))
	return svc, err
}
