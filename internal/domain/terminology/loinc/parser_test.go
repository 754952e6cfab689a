package loinc

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

const tableFixture = `"LOINC_NUM","COMPONENT","PROPERTY","TIME_ASPCT","SYSTEM","SCALE_TYP","METHOD_TYP","CLASS","STATUS","SHORTNAME","LONG_COMMON_NAME","RELATEDNAMES2","UNITSREQUIRED","COMMON_TEST_RANK","ORDER_OBS"
"4548-4","Hemoglobin A1c/Hemoglobin.total","MFr","Pt","Bld","Qn","","CHEM","ACTIVE","Hgb A1c MFr Bld","Hemoglobin A1c/Hemoglobin.total in Blood","A1c; HbA1c; Glycated hemoglobin; ","Y","12","Both"
"2345-7","Glucose","MCnc","Pt","Ser/Plas","Qn","","CHEM","ACTIVE","Glucose SerPl-mCnc","Glucose [Mass/volume] in Serum or Plasma","Glu; Gluc; Sugar","Y","1","Both"
"718-7","Hemoglobin","MCnc","Pt","Bld","Qn","","HEM/BC","TRIAL","Hgb Bld-mCnc","Hemoglobin [Mass/volume] in Blood","Hgb; HGB","Y","3","Both"
"24323-8","Comprehensive metabolic 2000 panel","-","Pt","Ser/Plas","-","","PANEL.CHEM","ACTIVE","CMP SerPl","Comprehensive metabolic 2000 panel - Serum or Plasma","CMP","N","0","Order"
"1234-5","Old glucose test","MCnc","Pt","Bld","Qn","","CHEM","DEPRECATED","Old Glu","Old glucose test in Blood","","N","0","Observation"
"5555-5","Blank status marker","MCnc","Pt","Bld","Qn","","CHEM","","Blank marker","Blank status marker in Blood","","N","0","Observation"
"9999-9","Truncated"
"","Missing code","","","","","","CHEM","ACTIVE","","","","N","0",""
`

const panelsFixture = `"ParentLOINC","ParentName","LOINC","LoincName"
"24323-8","CMP","24323-8","CMP"
"24323-8","CMP","2345-7","Glucose"
"24323-8","CMP","718-7","Hemoglobin"
`

func release(t *testing.T, lower bool) string {
	t.Helper()
	dir := filepath.Join(t.TempDir(), "loinc")
	if err := os.MkdirAll(filepath.Join(dir, "PanelsAndForms"), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	name := TableFile
	if lower {
		name = strings.ToLower(TableFile)
	}
	if err := os.WriteFile(filepath.Join(dir, name), []byte(tableFixture), 0o644); err != nil {
		t.Fatalf("write table: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, filepath.FromSlash(PanelsFile)), []byte(panelsFixture), 0o644); err != nil {
		t.Fatalf("write panels: %v", err)
	}
	return dir
}

// =========== Parse ===========

func TestParse_Concepts(t *testing.T) {
	res, err := New(Options{}).Parse(context.Background(), release(t, false))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := strings.Join(res.Store.Codes(), ","); got != "4548-4,2345-7,718-7,24323-8" {
		t.Fatalf("unexpected codes %s", got)
	}
	if res.Skipped != 2 {
		t.Errorf("expected the truncated row and the row without LOINC_NUM to be skipped, got %d", res.Skipped)
	}
	if res.Store.Has("9999-9") {
		t.Error("row with fewer fields than the header must not be loaded")
	}
	if res.Store.Has("5555-5") {
		t.Error("row with a blank STATUS must be treated as inactive")
	}

	a1c, _ := res.Store.Get("4548-4")
	if a1c.PreferredTerm != "Hemoglobin A1c/Hemoglobin.total in Blood" {
		t.Errorf("unexpected preferred term %q", a1c.PreferredTerm)
	}
	want := []string{"Hgb A1c MFr Bld", "A1c", "HbA1c", "Glycated hemoglobin"}
	if strings.Join(a1c.Synonyms, "|") != strings.Join(want, "|") {
		t.Errorf("expected %v, got %v", want, a1c.Synonyms)
	}
	d := a1c.LOINC
	if d.ClassDescription != "Chemistry" || a1c.Category != "Chemistry" {
		t.Errorf("unexpected class description %q", d.ClassDescription)
	}
	if !d.UnitsRequired || d.CommonTestRank != 12 || d.System != "Bld" {
		t.Errorf("unexpected detail %+v", d)
	}

	hgb, _ := res.Store.Get("718-7")
	if !hgb.Active || hgb.LOINC.ClassDescription != "Hematology/Blood Count" {
		t.Errorf("expected active TRIAL hemoglobin, got %+v", hgb)
	}

	panel, _ := res.Store.Get("24323-8")
	if !panel.LOINC.IsPanel() || strings.Join(panel.LOINC.PanelMembers, ",") != "2345-7,718-7" {
		t.Errorf("unexpected panel members %v", panel.LOINC.PanelMembers)
	}
	if panel.LOINC.ClassDescription != "PANEL.CHEM" {
		t.Errorf("unknown classes keep their code, got %q", panel.LOINC.ClassDescription)
	}
}

func TestParse_LowercaseFileName(t *testing.T) {
	res, err := New(Options{}).Parse(context.Background(), release(t, true))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Store.Len() != 4 {
		t.Errorf("expected 4 concepts, got %d", res.Store.Len())
	}
}

func TestParse_RetainInactive(t *testing.T) {
	res, err := New(Options{RetainInactive: true}).Parse(context.Background(), release(t, false))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	c, ok := res.Store.Get("1234-5")
	if !ok {
		t.Fatal("expected deprecated code to be retained")
	}
	if c.Active || c.LOINC.Status != "DEPRECATED" {
		t.Errorf("expected inactive DEPRECATED code, got %+v", c)
	}
	blank, ok := res.Store.Get("5555-5")
	if !ok || blank.Active {
		t.Errorf("expected blank-status code retained as inactive, got %+v", blank)
	}
	if res.Store.Has("9999-9") {
		t.Error("truncated row must be skipped even when retaining inactive codes")
	}
}

func TestParse_NoStatusColumn(t *testing.T) {
	dir := t.TempDir()
	table := `"LOINC_NUM","COMPONENT","CLASS","LONG_COMMON_NAME"
"2345-7","Glucose","CHEM","Glucose [Mass/volume] in Serum or Plasma"
`
	if err := os.WriteFile(filepath.Join(dir, TableFile), []byte(table), 0o644); err != nil {
		t.Fatalf("write table: %v", err)
	}
	res, err := New(Options{}).Parse(context.Background(), dir)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	c, ok := res.Store.Get("2345-7")
	if !ok || !c.Active {
		t.Errorf("expected active concept when the table has no STATUS column, got %+v", c)
	}
}

func TestIsActiveStatus(t *testing.T) {
	tests := map[string]bool{
		"ACTIVE":      true,
		"TRIAL":       true,
		"DEPRECATED":  false,
		"DISCOURAGED": false,
		"":            false,
	}
	for status, want := range tests {
		if got := IsActiveStatus(status); got != want {
			t.Errorf("IsActiveStatus(%q) = %v, want %v", status, got, want)
		}
	}
}

func TestParse_MissingTable(t *testing.T) {
	_, err := New(Options{}).Parse(context.Background(), t.TempDir())
	if !errors.Is(err, terminology.ErrDataNotFound) {
		t.Fatalf("expected ErrDataNotFound, got %v", err)
	}
}

func TestComponentKeys(t *testing.T) {
	c := &terminology.Concept{LOINC: &terminology.LOINCDetail{Component: "Hemoglobin A1c/Hemoglobin.total"}}
	keys := ComponentKeys(c)
	want := "hemoglobin a1c/hemoglobin.total,hemoglobin,hemoglobin,total"
	if strings.Join(keys, ",") != want {
		t.Errorf("expected %s, got %v", want, keys)
	}
	if ComponentKeys(&terminology.Concept{}) != nil {
		t.Error("expected nil keys without detail")
	}
}

func TestCommonTests(t *testing.T) {
	res, err := New(Options{}).Parse(context.Background(), release(t, false))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	top := CommonTests(res.Store, 2)
	if len(top) != 2 || top[0].Code != "2345-7" || top[1].Code != "718-7" {
		t.Errorf("unexpected ranking %v", top)
	}
}

// =========== Loader ===========

func TestLoader_ActiveFilter(t *testing.T) {
	for _, retain := range []bool{false, true} {
		l := terminology.NewLoader(New(Options{RetainInactive: retain}), release(t, false), zerolog.Nop())
		if err := l.Load(context.Background()); err != nil {
			t.Fatalf("load: %v", err)
		}
		hits, err := l.Search("glucose", terminology.SearchOptions{Limit: 10})
		if err != nil {
			t.Fatalf("search: %v", err)
		}
		for _, h := range hits {
			if h.Code == "1234-5" {
				t.Errorf("retain=%v: inactive code returned", retain)
			}
		}
		if len(hits) == 0 || hits[0].Code != "2345-7" {
			t.Errorf("retain=%v: expected glucose first, got %+v", retain, hits)
		}
	}
}

func TestPreprocess_ClassChunks(t *testing.T) {
	dir := release(t, false)
	m, err := terminology.Preprocess(context.Background(), New(Options{}), dir, "", zerolog.Nop())
	if err != nil {
		t.Fatalf("preprocess: %v", err)
	}
	if m.PartitionKey != "concepts_by_class" || m.Partitions["CHEM"] != 2 || m.Partitions["HEM/BC"] != 1 {
		t.Errorf("unexpected partitions %v", m.Partitions)
	}
	out := terminology.ProcessedDir(dir)
	if _, err := os.Stat(filepath.Join(out, "concepts_HEM_BC.json.gz")); err != nil {
		t.Errorf("expected slash-free chunk name: %v", err)
	}

	var classes map[string][]string
	if err := terminology.ReadSidecar(out, "class_index.json", &classes); err != nil {
		t.Fatalf("read class index: %v", err)
	}
	if strings.Join(classes["CHEM"], ",") != "4548-4,2345-7" {
		t.Errorf("unexpected class index %v", classes)
	}

	l := terminology.NewLoader(New(Options{}), dir, zerolog.Nop())
	if err := l.Load(context.Background()); err != nil {
		t.Fatalf("load: %v", err)
	}
	if !l.Status().UsedPreprocessed {
		t.Error("expected preprocessed load")
	}
	codes, err := l.Group(GroupComponent, "hemoglobin")
	if err != nil {
		t.Fatalf("group: %v", err)
	}
	if strings.Join(codes, ",") != "4548-4,718-7" {
		t.Errorf("unexpected component group %v", codes)
	}
}

func TestLoader_GroupingsFromSidecars(t *testing.T) {
	dir := release(t, false)
	if _, err := terminology.Preprocess(context.Background(), New(Options{}), dir, "", zerolog.Nop()); err != nil {
		t.Fatalf("preprocess: %v", err)
	}
	out := terminology.ProcessedDir(dir)
	// A hand-edited sidecar shows the grouping is read rather than rebuilt.
	if err := os.WriteFile(filepath.Join(out, ComponentIndexFile), []byte(`{"hemoglobin":["718-7"]}`), 0o644); err != nil {
		t.Fatalf("write sidecar: %v", err)
	}
	if err := os.WriteFile(filepath.Join(out, ClassIndexFile), []byte(`{not json`), 0o644); err != nil {
		t.Fatalf("write sidecar: %v", err)
	}

	l := terminology.NewLoader(New(Options{}), dir, zerolog.Nop())
	if err := l.Load(context.Background()); err != nil {
		t.Fatalf("load: %v", err)
	}
	codes, err := l.Group(GroupComponent, "hemoglobin")
	if err != nil {
		t.Fatalf("group: %v", err)
	}
	if strings.Join(codes, ",") != "718-7" {
		t.Errorf("expected the sidecar grouping, got %v", codes)
	}

	classes, err := l.Group(GroupClass, "CHEM")
	if err != nil {
		t.Fatalf("group: %v", err)
	}
	if strings.Join(classes, ",") != "4548-4,2345-7" {
		t.Errorf("expected a corrupt sidecar to be rebuilt from concepts, got %v", classes)
	}
}
