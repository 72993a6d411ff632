package qdrant

import (
	"math"

	"github.com/emad-noorizadeh/eval-rag/internal/core/domain"
)

const (
	bm25K1 = 1.2
	bm25B  = 0.75
)

// bm25Scorer is a small in-process BM25 index over document metadata text.
// The corpus is tens to hundreds of records, never chunk-scale, so building
// it per retrieval from the cached document list is cheap.
type bm25Scorer struct {
	termFreq map[string]map[string]int // docID -> term -> tf
	docLen   map[string]float64
	docFreq  map[string]int
	avgLen   float64
	n        int
}

func newBM25Scorer(corpus []domain.Document) *bm25Scorer {
	s := &bm25Scorer{
		termFreq: make(map[string]map[string]int, len(corpus)),
		docLen:   make(map[string]float64, len(corpus)),
		docFreq:  make(map[string]int),
		n:        len(corpus),
	}
	total := 0.0
	for _, doc := range corpus {
		tokens := lexicalTokens(doc.MetaText())
		tf := make(map[string]int, len(tokens))
		for _, t := range tokens {
			tf[t]++
		}
		s.termFreq[doc.ID] = tf
		s.docLen[doc.ID] = float64(len(tokens))
		total += float64(len(tokens))
		for t := range tf {
			s.docFreq[t]++
		}
	}
	if s.n > 0 {
		s.avgLen = total / float64(s.n)
	}
	return s
}

func (s *bm25Scorer) score(query, docID string) float64 {
	tf, ok := s.termFreq[docID]
	if !ok || s.n == 0 {
		return 0
	}
	dl := s.docLen[docID]
	score := 0.0
	for _, term := range lexicalTokens(query) {
		freq, present := tf[term]
		if !present {
			continue
		}
		df := s.docFreq[term]
		idf := math.Log(1 + (float64(s.n)-float64(df)+0.5)/(float64(df)+0.5))
		denom := float64(freq) + bm25K1*(1-bm25B+bm25B*dl/s.avgLen)
		score += idf * float64(freq) * (bm25K1 + 1) / denom
	}
	return score
}
