package usecase

import (
	"math"
	"sort"
	"strings"

	"github.com/emad-noorizadeh/eval-rag/internal/core/domain"
)

// computeGrounding derives the evidence metrics of an answer against the
// passages it cites. All metrics are computed locally; the model is never
// asked to grade itself.
func computeGrounding(question, answer string, cited []string, retrieved []string) domain.Grounding {
	idf := buildIDF(retrieved)

	citedTokens := make(map[string]struct{})
	for _, passage := range cited {
		for _, t := range contentTokens(tokenizeLower(passage)) {
			citedTokens[t] = struct{}{}
		}
	}

	g := domain.Grounding{
		SupportedTerms:     []domain.SupportedTerm{},
		Entities:           []domain.EntitySupport{},
		EntityCoverageBy:   map[string]float64{},
		UnsupportedNumbers: []string{},
		PerSentence:        []domain.SentencePrecision{},
	}

	// Supported-term ratio, IDF-weighted, with character spans back into
	// the answer.
	spans := tokenSpans(answer)
	termSpans := make(map[string][]domain.Span)
	var supportedIDF, totalIDF float64
	for _, sp := range spans {
		if _, stop := stopwords[sp.token]; stop {
			continue
		}
		w := idf[sp.token]
		if w == 0 {
			w = 1.0
		}
		totalIDF += w
		if _, ok := citedTokens[sp.token]; ok {
			supportedIDF += w
			termSpans[sp.token] = append(termSpans[sp.token], domain.Span{Start: sp.start, End: sp.end})
		}
	}
	terms := make([]string, 0, len(termSpans))
	for t := range termSpans {
		terms = append(terms, t)
	}
	sort.Strings(terms)
	for _, t := range terms {
		w := idf[t]
		if w == 0 {
			w = 1.0
		}
		g.SupportedTerms = append(g.SupportedTerms, domain.SupportedTerm{Term: t, Spans: termSpans[t], IDF: w})
	}
	if totalIDF > 0 {
		g.SupportedRatio = clip01(supportedIDF / totalIDF)
	}

	// Entity grounding: a recognized entity is supported iff its surface
	// form appears in a cited passage.
	citedLower := make([]string, len(cited))
	for i, p := range cited {
		citedLower[i] = strings.ToLower(p)
	}
	byType := map[string][2]int{} // supported, total
	entities := extractEntities(answer)
	supportedEntities := 0
	for _, e := range entities {
		supported := false
		needle := strings.ToLower(e.text)
		for _, p := range citedLower {
			if strings.Contains(p, needle) {
				supported = true
				break
			}
		}
		if supported {
			supportedEntities++
		}
		counts := byType[e.typ]
		counts[1]++
		if supported {
			counts[0]++
		}
		byType[e.typ] = counts
		g.Entities = append(g.Entities, domain.EntitySupport{
			Text:      e.text,
			Type:      e.typ,
			Spans:     []domain.Span{{Start: e.start, End: e.end}},
			Supported: supported,
		})
	}
	if len(entities) > 0 {
		g.EntityCoverage = float64(supportedEntities) / float64(len(entities))
	} else {
		g.EntityCoverage = 1.0
	}
	for typ, counts := range byType {
		g.EntityCoverageBy[typ] = float64(counts[0]) / float64(counts[1])
	}

	// Numeric fidelity: every number in the answer must appear, after
	// normalization, in a cited passage.
	citedNumbers := make(map[string]struct{})
	for _, p := range cited {
		for _, n := range extractNumbers(p) {
			citedNumbers[n] = struct{}{}
			// A bare number also satisfies its unit-tagged forms.
			citedNumbers[strings.TrimPrefix(strings.TrimSuffix(n, "%"), "$")] = struct{}{}
		}
	}
	seen := make(map[string]struct{})
	for _, n := range extractNumbers(answer) {
		if _, dup := seen[n]; dup {
			continue
		}
		seen[n] = struct{}{}
		if _, ok := citedNumbers[n]; ok {
			continue
		}
		bare := strings.TrimPrefix(strings.TrimSuffix(n, "%"), "$")
		if _, ok := citedNumbers[bare]; ok {
			continue
		}
		g.UnsupportedNumbers = append(g.UnsupportedNumbers, n)
	}

	g.QAAlignment = tfidfCosine(question, answer, idf)

	// Per-sentence precision over content tokens.
	for _, sentence := range splitSentences(answer) {
		tokens := contentTokens(tokenizeLower(sentence))
		if len(tokens) == 0 {
			continue
		}
		supported := 0
		for _, t := range tokens {
			if _, ok := citedTokens[t]; ok {
				supported++
			}
		}
		g.PerSentence = append(g.PerSentence, domain.SentencePrecision{
			Sentence:  sentence,
			Precision: float64(supported) / float64(len(tokens)),
		})
	}

	return g
}

// buildIDF computes inverse document frequency over the retrieved passages:
// log((N+1)/(df+1)) + 1, small and deterministic.
func buildIDF(passages []string) map[string]float64 {
	df := make(map[string]int)
	for _, p := range passages {
		seen := make(map[string]struct{})
		for _, t := range contentTokens(tokenizeLower(p)) {
			if _, dup := seen[t]; dup {
				continue
			}
			seen[t] = struct{}{}
			df[t]++
		}
	}
	n := float64(len(passages))
	idf := make(map[string]float64, len(df))
	for t, d := range df {
		idf[t] = math.Log((n+1)/float64(d+1)) + 1.0
	}
	return idf
}

// tfidfCosine is the diagnostic question-answer alignment score.
func tfidfCosine(question, answer string, idf map[string]float64) float64 {
	qv := tfidfVector(question, idf)
	av := tfidfVector(answer, idf)
	var dot, qn, an float64
	for t, qw := range qv {
		if aw, ok := av[t]; ok {
			dot += qw * aw
		}
		qn += qw * qw
	}
	for _, aw := range av {
		an += aw * aw
	}
	if qn == 0 || an == 0 {
		return 0
	}
	return clip01(dot / (math.Sqrt(qn) * math.Sqrt(an)))
}

func tfidfVector(text string, idf map[string]float64) map[string]float64 {
	tf := make(map[string]float64)
	for _, t := range contentTokens(tokenizeLower(text)) {
		tf[t]++
	}
	for t := range tf {
		w := idf[t]
		if w == 0 {
			w = 1.0
		}
		tf[t] *= w
	}
	return tf
}

func clip01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
