package service

import (
	"context"
	"math"
	"regexp"
	"sort"
	"strings"

	"github.com/timmy/kbase/internal/domain"
)

const (
	defaultMaxEntities   = 15
	defaultMaxDFRatio    = 0.85
	defaultMaxInputRunes = 50000

	ruleMergeWeight = 0.6
	statMergeWeight = 0.4

	statWindowRunes = 200
)

var (
	compoundTermRe = regexp.MustCompile(`[a-z][a-z0-9]*(?:-[a-z0-9]+)+`)
	modelCodeRe    = regexp.MustCompile(`\b[a-z]+[0-9][a-z0-9]*\b`)
	plainWordRe    = regexp.MustCompile(`[\p{L}]{3,}`)
	statTokenRe    = regexp.MustCompile(`[\p{L}][\p{L}\p{N}-]{2,}`)
)

var stopwords = map[string]struct{}{
	"the": {}, "and": {}, "for": {}, "are": {}, "but": {}, "not": {},
	"you": {}, "all": {}, "can": {}, "her": {}, "was": {}, "one": {},
	"our": {}, "out": {}, "has": {}, "have": {}, "had": {}, "this": {},
	"that": {}, "with": {}, "from": {}, "they": {}, "will": {}, "would": {},
	"there": {}, "their": {}, "what": {}, "about": {}, "which": {}, "when": {},
	"were": {}, "been": {}, "into": {}, "more": {}, "some": {}, "than": {},
	"then": {}, "them": {}, "these": {}, "also": {}, "each": {}, "other": {},
	"such": {}, "only": {}, "over": {}, "very": {}, "after": {}, "most": {},
	"where": {}, "between": {}, "because": {}, "through": {}, "during": {},
	"before": {}, "under": {}, "while": {}, "should": {}, "could": {},
	"being": {}, "both": {}, "does": {}, "using": {}, "used": {}, "based": {},
}

// ScoredTerm is one extracted entity term with its ranking score.
type ScoredTerm struct {
	Term   string
	Score  float64
	Method domain.ExtractionMethod
}

// ExtractorConfig holds configuration for entity extraction.
type ExtractorConfig struct {
	Method        domain.ExtractionMethod
	MaxEntities   int
	MaxDFRatio    float64
	MaxInputRunes int
}

// EntityExtractor extracts normalized entity terms from document text.
// Extraction never fails: sparse input degrades to the rule path and empty
// input yields an empty result.
type EntityExtractor struct {
	method        domain.ExtractionMethod
	maxEntities   int
	maxDFRatio    float64
	maxInputRunes int
}

// NewEntityExtractor creates an extractor with the given configuration.
// Parameters:
//   - cfg: extraction configuration; nil or zero fields use defaults.
// Returns:
//   - *EntityExtractor: initialized extractor.
func NewEntityExtractor(cfg *ExtractorConfig) *EntityExtractor {
	e := &EntityExtractor{
		method:        domain.MethodHybrid,
		maxEntities:   defaultMaxEntities,
		maxDFRatio:    defaultMaxDFRatio,
		maxInputRunes: defaultMaxInputRunes,
	}
	if cfg == nil {
		return e
	}
	if cfg.Method != "" {
		e.method = domain.ParseExtractionMethod(string(cfg.Method))
	}
	if cfg.MaxEntities > 0 {
		e.maxEntities = cfg.MaxEntities
	}
	if cfg.MaxDFRatio > 0 {
		e.maxDFRatio = cfg.MaxDFRatio
	}
	if cfg.MaxInputRunes > 0 {
		e.maxInputRunes = cfg.MaxInputRunes
	}
	return e
}

// Extract returns ranked entity terms for the given text.
// Parameters:
//   - ctx: context, unused by the pure extractor but kept for interface symmetry.
//   - text: document text.
// Returns:
//   - []ScoredTerm: ranked terms, at most MaxEntities, possibly empty.
func (e *EntityExtractor) Extract(ctx context.Context, text string) []ScoredTerm {
	_ = ctx

	text = strings.TrimSpace(text)
	if text == "" {
		return []ScoredTerm{}
	}
	if runes := []rune(text); len(runes) > e.maxInputRunes {
		text = string(runes[:e.maxInputRunes])
	}

	switch e.method {
	case domain.MethodRule:
		return truncateTerms(e.extractRule(text), e.maxEntities)
	case domain.MethodStatistical:
		terms, ok := e.extractStatistical(text)
		if !ok {
			return truncateTerms(e.extractRule(text), e.maxEntities)
		}
		return truncateTerms(terms, e.maxEntities)
	default:
		return e.extractHybrid(text)
	}
}

// extractRule extracts terms with pattern families: hyphenated compounds,
// alphanumeric model codes, and plain words. Compounds and codes carry a
// specificity bonus over plain words.
func (e *EntityExtractor) extractRule(text string) []ScoredTerm {
	lower := strings.ToLower(text)

	type termStat struct {
		freq   int
		weight float64
	}
	stats := make(map[string]*termStat)

	record := func(term string, weight float64) {
		if _, stop := stopwords[term]; stop {
			return
		}
		if s, ok := stats[term]; ok {
			s.freq++
			if weight > s.weight {
				s.weight = weight
			}
			return
		}
		stats[term] = &termStat{freq: 1, weight: weight}
	}

	for _, m := range compoundTermRe.FindAllString(lower, -1) {
		record(m, 2.0)
	}
	// Strip compounds so their components are not double counted as words
	stripped := compoundTermRe.ReplaceAllString(lower, " ")

	for _, m := range modelCodeRe.FindAllString(stripped, -1) {
		record(m, 1.5)
	}
	for _, m := range plainWordRe.FindAllString(stripped, -1) {
		record(m, 1.0)
	}

	terms := make([]ScoredTerm, 0, len(stats))
	for term, s := range stats {
		terms = append(terms, ScoredTerm{
			Term:   term,
			Score:  float64(s.freq) * s.weight,
			Method: domain.MethodRule,
		})
	}
	sortTerms(terms)
	return terms
}

// extractStatistical ranks terms by smoothed TF-IDF over pseudo-documents.
// Returns ok=false when the text yields fewer than two pseudo-documents,
// signalling the caller to fall back to the rule path.
func (e *EntityExtractor) extractStatistical(text string) ([]ScoredTerm, bool) {
	pseudoDocs := e.pseudoDocuments(text)
	if len(pseudoDocs) < 2 {
		return nil, false
	}

	n := len(pseudoDocs)
	docTokens := make([]map[string]int, n)
	docTotals := make([]int, n)
	df := make(map[string]int)

	for i, doc := range pseudoDocs {
		counts := make(map[string]int)
		for _, tok := range statTokenRe.FindAllString(strings.ToLower(doc), -1) {
			if _, stop := stopwords[tok]; stop {
				continue
			}
			counts[tok]++
			docTotals[i]++
		}
		docTokens[i] = counts
		for tok := range counts {
			df[tok]++
		}
	}

	// Document-frequency ceiling, clamped so it never exceeds the
	// pseudo-document count
	maxDF := int(e.maxDFRatio * float64(n))
	if maxDF < 1 {
		maxDF = 1
	}
	if maxDF > n {
		maxDF = n
	}

	scores := make(map[string]float64)
	for i := range pseudoDocs {
		if docTotals[i] == 0 {
			continue
		}
		for tok, count := range docTokens[i] {
			if df[tok] > maxDF {
				continue
			}
			tf := float64(count) / float64(docTotals[i])
			idf := math.Log(float64(1+n)/float64(1+df[tok])) + 1
			scores[tok] += tf * idf
		}
	}

	terms := make([]ScoredTerm, 0, len(scores))
	for tok, score := range scores {
		terms = append(terms, ScoredTerm{
			Term:   tok,
			Score:  score / float64(n),
			Method: domain.MethodStatistical,
		})
	}
	sortTerms(terms)
	return terms, true
}

// pseudoDocuments segments text for TF-IDF. Sentences are preferred; short
// texts degrade to fixed-size rune windows.
func (e *EntityExtractor) pseudoDocuments(text string) []string {
	sentences := splitSentences(text)
	if len(sentences) >= 3 {
		return sentences
	}

	runes := []rune(text)
	var windows []string
	for start := 0; start < len(runes); start += statWindowRunes {
		end := start + statWindowRunes
		if end > len(runes) {
			end = len(runes)
		}
		if w := strings.TrimSpace(string(runes[start:end])); w != "" {
			windows = append(windows, w)
		}
	}
	return windows
}

// extractHybrid merges rule and statistical rankings by position. Terms found
// by both methods accumulate both components and outrank single-method terms.
func (e *EntityExtractor) extractHybrid(text string) []ScoredTerm {
	budget := e.maxEntities * 2

	ruleTerms := truncateTerms(e.extractRule(text), budget)
	statTerms, ok := e.extractStatistical(text)
	if !ok {
		return truncateTerms(ruleTerms, e.maxEntities)
	}
	statTerms = truncateTerms(statTerms, budget)

	type merged struct {
		score float64
		both  bool
		seen  bool
	}
	combined := make(map[string]*merged)

	for i, t := range ruleTerms {
		pos := 1 - float64(i)/float64(len(ruleTerms))
		combined[t.Term] = &merged{score: ruleMergeWeight * pos, seen: true}
	}
	for i, t := range statTerms {
		pos := 1 - float64(i)/float64(len(statTerms))
		if m, exists := combined[t.Term]; exists {
			m.score += statMergeWeight * pos
			m.both = true
		} else {
			combined[t.Term] = &merged{score: statMergeWeight * pos}
		}
	}

	terms := make([]ScoredTerm, 0, len(combined))
	for term, m := range combined {
		method := domain.MethodHybrid
		if !m.both {
			if m.seen {
				method = domain.MethodRule
			} else {
				method = domain.MethodStatistical
			}
		}
		terms = append(terms, ScoredTerm{Term: term, Score: m.score, Method: method})
	}
	sortTerms(terms)
	return truncateTerms(terms, e.maxEntities)
}

// sortTerms orders by score descending with the term itself as a
// deterministic tiebreaker.
func sortTerms(terms []ScoredTerm) {
	sort.Slice(terms, func(i, j int) bool {
		if terms[i].Score != terms[j].Score {
			return terms[i].Score > terms[j].Score
		}
		return terms[i].Term < terms[j].Term
	})
}

func truncateTerms(terms []ScoredTerm, max int) []ScoredTerm {
	if len(terms) > max {
		return terms[:max]
	}
	return terms
}
