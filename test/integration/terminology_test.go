//go:build integration

package integration

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"

	"github.com/medterm/medterm/internal/domain/terminology"
	"github.com/medterm/medterm/internal/platform/db"
)

func icd10Store() *terminology.Store {
	s := terminology.NewStore()
	s.Put(&terminology.Concept{
		Ontology:      terminology.OntologyICD10,
		Code:          "E11",
		PreferredTerm: "Type 2 diabetes mellitus",
		Category:      "Category",
		Active:        true,
		ICD10:         &terminology.ICD10Detail{Chapter: "IV", Level: 3},
	})
	s.Put(&terminology.Concept{
		Ontology:      terminology.OntologyICD10,
		Code:          "E11.9",
		PreferredTerm: "Type 2 diabetes mellitus without complications",
		Synonyms:      []string{"T2DM w/o complications"},
		Category:      "Subcategory",
		Active:        true,
		Parents:       []string{"E11"},
		ICD10:         &terminology.ICD10Detail{Chapter: "IV", Level: 4},
	})
	s.Put(&terminology.Concept{
		Ontology:      terminology.OntologyICD10,
		Code:          "E11.8",
		PreferredTerm: "Type 2 diabetes mellitus with unspecified complications",
		Active:        false,
		Parents:       []string{"E11"},
		ICD10:         &terminology.ICD10Detail{Chapter: "IV", Level: 4},
	})
	return s
}

func newRepo(t *testing.T, ctx context.Context) terminology.ConceptRepository {
	t.Helper()
	repo := terminology.NewConceptRepoPG(globalDB.Pool)
	if err := repo.CreateSchema(ctx); err != nil {
		t.Fatalf("create schema: %v", err)
	}
	resetConcepts(t, ctx)
	return repo
}

// =========== Publish ===========

func TestConceptRepo_PublishAndGet(t *testing.T) {
	ctx := context.Background()
	repo := newRepo(t, ctx)

	n, err := repo.Publish(ctx, terminology.OntologyICD10, "gen-1", icd10Store())
	if err != nil {
		t.Fatalf("publish: %v", err)
	}
	if n != 3 {
		t.Fatalf("expected 3 rows, got %d", n)
	}

	got, err := repo.GetByCode(ctx, terminology.OntologyICD10, "E11.9")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got == nil {
		t.Fatal("expected concept E11.9")
	}
	if got.PreferredTerm != "Type 2 diabetes mellitus without complications" {
		t.Errorf("unexpected preferred term %q", got.PreferredTerm)
	}
	if len(got.Parents) != 1 || got.Parents[0] != "E11" {
		t.Errorf("unexpected parents %v", got.Parents)
	}
	if got.ICD10 == nil || got.ICD10.Level != 4 {
		t.Errorf("expected ICD10 detail to round trip, got %+v", got.ICD10)
	}

	missing, err := repo.GetByCode(ctx, terminology.OntologyICD10, "Z99.99")
	if err != nil || missing != nil {
		t.Errorf("expected nil, nil for a missing code, got %+v, %v", missing, err)
	}
}

func TestConceptRepo_PublishReplaces(t *testing.T) {
	ctx := context.Background()
	repo := newRepo(t, ctx)

	if _, err := repo.Publish(ctx, terminology.OntologyICD10, "gen-1", icd10Store()); err != nil {
		t.Fatalf("publish: %v", err)
	}
	smaller := terminology.NewStore()
	smaller.Put(&terminology.Concept{Ontology: terminology.OntologyICD10, Code: "I10", PreferredTerm: "Essential (primary) hypertension", Active: true})
	if _, err := repo.Publish(ctx, terminology.OntologyICD10, "gen-2", smaller); err != nil {
		t.Fatalf("republish: %v", err)
	}

	counts, err := repo.Counts(ctx)
	if err != nil {
		t.Fatalf("counts: %v", err)
	}
	if counts[terminology.OntologyICD10] != 1 {
		t.Errorf("expected the second publish to replace the first, got %v", counts)
	}
}

// =========== Search ===========

func TestConceptRepo_Search(t *testing.T) {
	ctx := context.Background()
	repo := newRepo(t, ctx)
	if _, err := repo.Publish(ctx, terminology.OntologyICD10, "gen-1", icd10Store()); err != nil {
		t.Fatalf("publish: %v", err)
	}

	results, err := repo.Search(ctx, terminology.OntologyICD10, "diabetes", 10)
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("expected the two active concepts, got %+v", results)
	}
	for _, r := range results {
		if r.Code == "E11.8" {
			t.Error("inactive concept must not be returned")
		}
	}
}

// =========== Health ===========

func TestHealthHandler_Postgres(t *testing.T) {
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/health/db", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	if err := db.HealthHandler(globalDB.Pool)(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
}
