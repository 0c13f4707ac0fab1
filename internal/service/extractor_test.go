package service

import (
	"context"
	"strings"
	"testing"

	"github.com/timmy/kbase/internal/domain"
)

func termNames(terms []ScoredTerm) []string {
	names := make([]string, len(terms))
	for i, t := range terms {
		names[i] = t.Term
	}
	return names
}

func hasTerm(terms []ScoredTerm, want string) bool {
	for _, t := range terms {
		if t.Term == want {
			return true
		}
	}
	return false
}

func TestExtractEmptyInput(t *testing.T) {
	e := NewEntityExtractor(nil)

	tests := []struct {
		name string
		text string
	}{
		{name: "empty string", text: ""},
		{name: "whitespace only", text: "   \n\t  "},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			terms := e.Extract(context.Background(), tt.text)
			if terms == nil {
				t.Fatal("expected empty slice, got nil")
			}
			if len(terms) != 0 {
				t.Errorf("expected no terms, got %v", termNames(terms))
			}
		})
	}
}

func TestExtractRuleCompounds(t *testing.T) {
	e := NewEntityExtractor(&ExtractorConfig{Method: domain.MethodRule})

	text := "The battery-thermal-model governs cooling. The battery-thermal-model was validated against sensor data."
	terms := e.Extract(context.Background(), text)

	if len(terms) == 0 {
		t.Fatal("expected terms")
	}
	if terms[0].Term != "battery-thermal-model" {
		t.Errorf("expected compound to rank first, got %q", terms[0].Term)
	}
	if terms[0].Method != domain.MethodRule {
		t.Errorf("expected rule method, got %q", terms[0].Method)
	}
	// Compound components must not leak in as standalone words
	if hasTerm(terms, "battery") || hasTerm(terms, "thermal") {
		t.Errorf("compound components should be stripped, got %v", termNames(terms))
	}
}

func TestExtractRuleModelCodes(t *testing.T) {
	e := NewEntityExtractor(&ExtractorConfig{Method: domain.MethodRule})

	terms := e.Extract(context.Background(), "Install firmware on the mk4 controller and the mk4 gateway.")

	var code *ScoredTerm
	var word *ScoredTerm
	for i := range terms {
		switch terms[i].Term {
		case "mk4":
			code = &terms[i]
		case "controller":
			word = &terms[i]
		}
	}
	if code == nil {
		t.Fatalf("expected model code term, got %v", termNames(terms))
	}
	if word == nil {
		t.Fatalf("expected plain word term, got %v", termNames(terms))
	}
	// Both appear, but the code carries the specificity bonus
	if code.Score <= word.Score {
		t.Errorf("model code score %f should exceed plain word score %f", code.Score, word.Score)
	}
}

func TestExtractRuleFiltersStopwords(t *testing.T) {
	e := NewEntityExtractor(&ExtractorConfig{Method: domain.MethodRule})

	terms := e.Extract(context.Background(), "The turbine and the generator have been inspected.")

	for _, stop := range []string{"the", "and", "have", "been"} {
		if hasTerm(terms, stop) {
			t.Errorf("stopword %q should be filtered, got %v", stop, termNames(terms))
		}
	}
	if !hasTerm(terms, "turbine") || !hasTerm(terms, "generator") {
		t.Errorf("expected content words, got %v", termNames(terms))
	}
}

func TestExtractStatisticalFallsBackOnShortInput(t *testing.T) {
	e := NewEntityExtractor(&ExtractorConfig{Method: domain.MethodStatistical})

	// One short fragment yields a single pseudo-document, which is not
	// enough for document-frequency statistics
	terms := e.Extract(context.Background(), "compressor maintenance checklist")

	if len(terms) == 0 {
		t.Fatal("expected fallback terms")
	}
	for _, term := range terms {
		if term.Method != domain.MethodRule {
			t.Errorf("expected rule fallback for %q, got method %q", term.Term, term.Method)
		}
	}
}

func TestExtractStatisticalPrefersDistinctiveTerms(t *testing.T) {
	e := NewEntityExtractor(&ExtractorConfig{Method: domain.MethodStatistical, MaxDFRatio: 0.5})

	// "pipeline" appears everywhere; "flange" is concentrated in one sentence
	text := "The pipeline runs north. The pipeline crosses the river. The pipeline needs a flange replacement near the flange joint."
	terms := e.Extract(context.Background(), text)

	if hasTerm(terms, "pipeline") {
		t.Errorf("ubiquitous term should be filtered by the frequency ceiling, got %v", termNames(terms))
	}
	if !hasTerm(terms, "flange") {
		t.Errorf("expected distinctive term, got %v", termNames(terms))
	}
}

func TestExtractHybridMergesBothSignals(t *testing.T) {
	e := NewEntityExtractor(nil)

	text := "The vibration-sensor logs readings. The vibration-sensor triggered an alarm. Technicians replaced the bearing assembly after the alarm."
	terms := e.Extract(context.Background(), text)

	if len(terms) == 0 {
		t.Fatal("expected terms")
	}
	if !hasTerm(terms, "vibration-sensor") {
		t.Fatalf("expected compound in hybrid results, got %v", termNames(terms))
	}
	for i := 1; i < len(terms); i++ {
		if terms[i].Score > terms[i-1].Score {
			t.Errorf("terms not sorted by score: %f before %f", terms[i-1].Score, terms[i].Score)
		}
	}
}

func TestExtractRespectsMaxEntities(t *testing.T) {
	e := NewEntityExtractor(&ExtractorConfig{MaxEntities: 3})

	var b strings.Builder
	words := []string{"alternator", "camshaft", "crankshaft", "flywheel", "gasket", "manifold", "piston", "radiator"}
	for _, w := range words {
		b.WriteString("The " + w + " was inspected. ")
	}

	terms := e.Extract(context.Background(), b.String())
	if len(terms) > 3 {
		t.Errorf("expected at most 3 terms, got %d", len(terms))
	}
}

func TestExtractTruncatesOversizedInput(t *testing.T) {
	e := NewEntityExtractor(&ExtractorConfig{Method: domain.MethodRule, MaxInputRunes: 30})

	// "zirconium" sits past the truncation boundary
	terms := e.Extract(context.Background(), "manifold pressure stabilized ok zirconium")

	if hasTerm(terms, "zirconium") {
		t.Errorf("term beyond input cap should be ignored, got %v", termNames(terms))
	}
	if !hasTerm(terms, "manifold") {
		t.Errorf("expected term within cap, got %v", termNames(terms))
	}
}
