package snomed

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rs/zerolog"

	"github.com/medterm/medterm/internal/domain/terminology"
)

// =========== Fixtures ===========

func rf2(lines ...string) string {
	return strings.Join(lines, "\n") + "\n"
}

var conceptFixture = rf2(
	"id\teffectiveTime\tactive\tmoduleId\tdefinitionStatusId",
	"64572001\t20020131\t1\t900000000000207008\t900000000000074008",
	"73211009\t20020131\t1\t900000000000207008\t900000000000074008",
	"44054006\t20020131\t1\t900000000000207008\t900000000000073002",
	"99999001\t20020131\t0\t900000000000207008\t900000000000074008",
	"12345\ttruncated",
)

var descriptionFixture = rf2(
	"id\teffectiveTime\tactive\tmoduleId\tconceptId\tlanguageCode\ttypeId\tterm\tcaseSignificanceId",
	"1\t20020131\t1\t0\t64572001\ten\t900000000000003001\tDisease (disorder)\t0",
	"2\t20020131\t1\t0\t73211009\ten\t900000000000003001\tDiabetes mellitus (disorder)\t0",
	"3\t20020131\t1\t0\t73211009\tfr\t900000000000013009\tDiabète sucré\t0",
	"4\t20020131\t1\t0\t73211009\ten\t900000000000013009\tDiabetes mellitus\t0",
	"5\t20020131\t1\t0\t73211009\ten\t900000000000013009\tDM - Diabetes mellitus\t0",
	"6\t20020131\t1\t0\t44054006\ten\t900000000000003001\tDiabetes mellitus type 2 (disorder)\t0",
	"7\t20020131\t1\t0\t44054006\ten\t900000000000013009\tType 2 diabetes mellitus\t0",
	"8\t20020131\t0\t0\t44054006\ten\t900000000000013009\tRetired synonym\t0",
	"9\t20020131\t1\t0\t99999001\ten\t900000000000013009\tObsolete finding\t0",
)

var relationshipFixture = rf2(
	"id\teffectiveTime\tactive\tmoduleId\tsourceId\tdestinationId\trelationshipGroup\ttypeId\tcharacteristicTypeId\tmodifierId",
	"1\t20020131\t1\t0\t73211009\t64572001\t0\t116680003\t0\t0",
	"2\t20020131\t1\t0\t44054006\t73211009\t0\t116680003\t0\t0",
	"3\t20020131\t1\t0\t44054006\t64572001\t0\t363698007\t0\t0",
	"4\t20020131\t0\t0\t64572001\t44054006\t0\t116680003\t0\t0",
	"5\t20020131\t1\t0\t44054006\t404684003\t0\t116680003\t0\t0",
)

func release(t *testing.T) string {
	t.Helper()
	dir := filepath.Join(t.TempDir(), "snomed")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	files := map[string]string{
		"sct2_Concept_Snapshot_INT_20240101.txt":        conceptFixture,
		"sct2_Description_Snapshot-en_INT_20240101.txt": descriptionFixture,
		"sct2_Relationship_Snapshot_INT_20240101.txt":   relationshipFixture,
	}
	for name, content := range files {
		if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644); err != nil {
			t.Fatalf("write %s: %v", name, err)
		}
	}
	return dir
}

// =========== Parse ===========

func TestParse_PreferredTerms(t *testing.T) {
	res, err := New(Options{}).Parse(context.Background(), release(t))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Store.Len() != 3 {
		t.Fatalf("expected 3 active concepts, got %d", res.Store.Len())
	}
	if res.Skipped != 1 {
		t.Errorf("expected 1 skipped row, got %d", res.Skipped)
	}

	dm, _ := res.Store.Get("73211009")
	if dm.PreferredTerm != "Diabetes mellitus" {
		t.Errorf("expected first English synonym, got %q", dm.PreferredTerm)
	}
	if dm.Category != "disorder" || dm.SNOMED.SemanticTag != "disorder" {
		t.Errorf("expected disorder tag, got %q", dm.Category)
	}
	if len(dm.Synonyms) != 2 {
		t.Errorf("expected the other synonyms, got %v", dm.Synonyms)
	}

	disease, _ := res.Store.Get("64572001")
	if disease.PreferredTerm != "Disease" {
		t.Errorf("expected FSN without tag, got %q", disease.PreferredTerm)
	}

	t2, _ := res.Store.Get("44054006")
	for _, s := range t2.Synonyms {
		if s == "Retired synonym" {
			t.Error("inactive description must be ignored")
		}
	}
}

func TestParse_IsARelationships(t *testing.T) {
	res, err := New(Options{}).Parse(context.Background(), release(t))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	t2, _ := res.Store.Get("44054006")
	if len(t2.Parents) != 1 || t2.Parents[0] != "73211009" {
		t.Errorf("expected only the active IS-A parent, got %v", t2.Parents)
	}
	disease, _ := res.Store.Get("64572001")
	if len(disease.Parents) != 0 {
		t.Errorf("expected no parents for the root, got %v", disease.Parents)
	}
}

func TestParse_RetainInactive(t *testing.T) {
	res, err := New(Options{RetainInactive: true}).Parse(context.Background(), release(t))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	c, ok := res.Store.Get("99999001")
	if !ok {
		t.Fatal("expected inactive concept to be retained")
	}
	if c.Active {
		t.Error("expected Active=false")
	}
	if c.PreferredTerm != "Obsolete finding" {
		t.Errorf("unexpected preferred term %q", c.PreferredTerm)
	}
}

func TestParse_OversizedDescriptionSkipped(t *testing.T) {
	dir := release(t)
	huge := "10\t20020131\t1\t0\t64572001\ten\t900000000000013009\t" + strings.Repeat("a", 5<<20) + "\t0"
	path := filepath.Join(dir, "sct2_Description_Snapshot-en_INT_20240101.txt")
	if err := os.WriteFile(path, []byte(descriptionFixture+huge+"\n"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	res, err := New(Options{}).Parse(context.Background(), dir)
	if err != nil {
		t.Fatalf("an oversized line must not fail the parse: %v", err)
	}
	if res.Store.Len() != 3 {
		t.Errorf("expected 3 concepts, got %d", res.Store.Len())
	}
	if res.Skipped != 2 {
		t.Errorf("expected the truncated concept and the oversized description skipped, got %d", res.Skipped)
	}
	disease, _ := res.Store.Get("64572001")
	if disease.PreferredTerm != "Disease" {
		t.Errorf("unexpected preferred term %q", disease.PreferredTerm)
	}
}

func TestParse_MissingFiles(t *testing.T) {
	_, err := New(Options{}).Parse(context.Background(), t.TempDir())
	if !errors.Is(err, terminology.ErrDataNotFound) {
		t.Fatalf("expected ErrDataNotFound, got %v", err)
	}

	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "sct2_Concept_X.txt"), []byte(conceptFixture), 0o644); err != nil {
		t.Fatal(err)
	}
	_, err = New(Options{}).Parse(context.Background(), dir)
	var nf *terminology.DataNotFoundError
	if !errors.As(err, &nf) || nf.File != DescriptionGlob {
		t.Errorf("expected missing description file, got %v", err)
	}
}

func TestSplitFSN(t *testing.T) {
	tests := []struct {
		fsn, tag, term string
	}{
		{"Diabetes mellitus (disorder)", "disorder", "Diabetes mellitus"},
		{"Fracture of (left) femur (disorder)", "disorder", "Fracture of (left) femur"},
		{"No tag here", "", "No tag here"},
		{"", "", ""},
	}
	for _, tt := range tests {
		tag, term := SplitFSN(tt.fsn)
		if tag != tt.tag || term != tt.term {
			t.Errorf("SplitFSN(%q) = (%q, %q), want (%q, %q)", tt.fsn, tag, term, tt.tag, tt.term)
		}
	}
}

// =========== Active Filter ===========

func TestLoader_InactiveNeverReturned(t *testing.T) {
	for _, retain := range []bool{false, true} {
		l := terminology.NewLoader(New(Options{RetainInactive: retain}), release(t), zerolog.Nop())
		if err := l.Load(context.Background()); err != nil {
			t.Fatalf("load: %v", err)
		}
		hits, err := l.Search("obsolete finding", terminology.SearchOptions{})
		if err != nil {
			t.Fatalf("search: %v", err)
		}
		if len(hits) != 0 {
			t.Errorf("retain=%v: expected no hits for inactive concept, got %+v", retain, hits)
		}
		_, ok := l.GetConcept("99999001")
		if ok != retain {
			t.Errorf("retain=%v: GetConcept presence = %v", retain, ok)
		}
	}
}

func TestLoader_HierarchyAndGrouping(t *testing.T) {
	l := terminology.NewLoader(New(Options{}), release(t), zerolog.Nop())
	if err := l.Load(context.Background()); err != nil {
		t.Fatalf("load: %v", err)
	}
	t2, _ := l.GetConcept("44054006")
	if strings.Join(t2.Ancestors, ",") != "73211009,64572001" {
		t.Errorf("unexpected ancestors %v", t2.Ancestors)
	}
	disease, _ := l.GetConcept("64572001")
	if len(disease.Children) != 1 || disease.Children[0] != "73211009" {
		t.Errorf("unexpected children %v", disease.Children)
	}
	codes, err := l.Group(GroupSemanticTag, "disorder")
	if err != nil {
		t.Fatalf("group: %v", err)
	}
	if len(codes) != 3 {
		t.Errorf("expected 3 disorders, got %v", codes)
	}

	hits, err := l.Search("diabetes mellitus", terminology.SearchOptions{})
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(hits) < 2 || hits[0].Code != "73211009" || hits[0].Score != terminology.ScoreExactPreferred {
		t.Errorf("expected exact match first, got %+v", hits)
	}
}
