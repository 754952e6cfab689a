package terminology

import (
	"context"
	"errors"
	"testing"
)

// =========== ExtractCandidates ===========

func spanTexts(spans []Span) []string {
	out := make([]string, len(spans))
	for i, s := range spans {
		out[i] = s.Text
	}
	return out
}

func TestExtractCandidates_DoseKeywordAndCapitalized(t *testing.T) {
	text := "Patient takes metformin 500 mg for type 2 diabetes"
	spans := ExtractCandidates(text, "")

	want := []Span{
		{Text: "metformin", Start: 14, End: 23},
		{Text: "2 diabetes", Start: 40, End: 50},
		{Text: "Patient", Start: 0, End: 7},
	}
	if len(spans) != len(want) {
		t.Fatalf("expected %v, got %v", spanTexts(want), spanTexts(spans))
	}
	for i := range want {
		if spans[i] != want[i] {
			t.Errorf("span %d: expected %+v, got %+v", i, want[i], spans[i])
		}
		if text[spans[i].Start:spans[i].End] != spans[i].Text {
			t.Errorf("span %d offsets do not match its text", i)
		}
	}
}

func TestExtractCandidates_DiagnosisContext(t *testing.T) {
	text := "Lisinopril 10 mg daily for hypertension"

	general := ExtractCandidates(text, "medication")
	if len(general) != 2 || general[0].Text != "Lisinopril" || general[1].Text != "for hypertension" {
		t.Errorf("unexpected spans %v", spanTexts(general))
	}

	diagnosis := ExtractCandidates(text, ContextDiagnosis)
	if len(diagnosis) != 2 || diagnosis[0].Text != "for hypertension" || diagnosis[1].Text != "Lisinopril" {
		t.Errorf("dose patterns must be skipped for a diagnosis, got %v", spanTexts(diagnosis))
	}
}

func TestExtractCandidates_InflectedKeyword(t *testing.T) {
	spans := ExtractCandidates("chronic infections noted", "")
	if len(spans) != 1 || spans[0].Text != "chronic infections noted" || spans[0].Start != 0 || spans[0].End != 24 {
		t.Errorf("unexpected spans %+v", spans)
	}
}

func TestExtractCandidates_TrimsPunctuation(t *testing.T) {
	spans := ExtractCandidates("Seen for Asthma, stable.", "")
	if len(spans) != 1 || spans[0] != (Span{Text: "Asthma", Start: 9, End: 15}) {
		t.Errorf("unexpected spans %+v", spans)
	}
}

func TestExtractCandidates_Nothing(t *testing.T) {
	if spans := ExtractCandidates("no findings today", ""); len(spans) != 0 {
		t.Errorf("expected no spans, got %+v", spans)
	}
}

// =========== MapText ===========

func TestService_MapText(t *testing.T) {
	svc := newTestService()
	out, err := svc.MapText(context.Background(), MapRequest{Text: "Hypertension noted"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(out) != 1 {
		t.Fatalf("expected one mapping, got %+v", out)
	}
	m := out[0]
	if m.TextSpan != "Hypertension" || m.Start != 0 || m.End != 12 {
		t.Errorf("unexpected span %+v", m)
	}
	if len(m.Mappings) != 2 {
		t.Errorf("expected SNOMED and ICD10 matches, got %v", m.Mappings)
	}
	if got := m.Mappings[OntologySNOMED]; got.Code != "38341003" || got.Confidence != ScoreExactSynonym {
		t.Errorf("unexpected SNOMED match %+v", got)
	}
}

func TestService_MapText_Threshold(t *testing.T) {
	svc := newTestService()
	out, err := svc.MapText(context.Background(), MapRequest{Text: "Hypertension noted", Threshold: 0.9})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out == nil || len(out) != 0 {
		t.Errorf("expected an empty list, got %+v", out)
	}
}

func TestService_MapText_Errors(t *testing.T) {
	svc := newTestService()
	if _, err := svc.MapText(context.Background(), MapRequest{Text: "  "}); !errors.Is(err, ErrTextRequired) {
		t.Errorf("expected ErrTextRequired, got %v", err)
	}
	_, err := svc.MapText(context.Background(), MapRequest{Text: "Hypertension", Ontologies: []string{"MeSH"}})
	if !errors.Is(err, ErrUnknownOntology) {
		t.Errorf("expected ErrUnknownOntology, got %v", err)
	}
}
