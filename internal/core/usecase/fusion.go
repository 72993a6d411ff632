package usecase

import (
	"sort"

	"github.com/emad-noorizadeh/eval-rag/internal/core/domain"
)

// fusionInput carries the three ranked candidate lists feeding the pool:
// dense KNN, lexical BM25 over chunk text, and chunks expanded from
// metadata-matched documents.
type fusionInput struct {
	dense    []domain.ScoredChunkRef
	chunkLex []domain.ScoredChunkRef
	metaLex  []domain.ScoredChunkRef
}

type fusedPassage struct {
	chunkID string
	signals domain.SignalScores
	rrf     float64
}

// fuseRRF builds the fusion pool as the union of the input lists and scores
// each member with Reciprocal Rank Fusion: sum over lists containing the
// passage of 1/(c+rank), rank 1-based. Passages absent from a list contribute
// nothing from it. The pool is truncated to kRRF after sorting.
func fuseRRF(in fusionInput, rrfC, kRRF int) []fusedPassage {
	if rrfC <= 0 {
		rrfC = 60
	}

	acc := make(map[string]*fusedPassage, len(in.dense)+len(in.chunkLex)+len(in.metaLex))
	get := func(id string) *fusedPassage {
		if p, ok := acc[id]; ok {
			return p
		}
		p := &fusedPassage{chunkID: id}
		acc[id] = p
		return p
	}

	for rank, ref := range in.dense {
		p := get(ref.ChunkID)
		p.signals.Dense = ref.Score
		p.rrf += 1.0 / float64(rrfC+rank+1)
	}
	for rank, ref := range in.chunkLex {
		p := get(ref.ChunkID)
		p.signals.BM25Chunk = ref.Score
		p.rrf += 1.0 / float64(rrfC+rank+1)
	}
	for rank, ref := range in.metaLex {
		p := get(ref.ChunkID)
		p.signals.BM25Meta = ref.Score
		p.rrf += 1.0 / float64(rrfC+rank+1)
	}

	out := make([]fusedPassage, 0, len(acc))
	for _, p := range acc {
		out = append(out, *p)
	}

	sortFused(out)

	if kRRF > 0 && len(out) > kRRF {
		out = out[:kRRF]
	}
	return out
}

// sortFused orders by RRF descending, breaking ties by dense similarity
// descending then chunk identifier ascending so the pool is deterministic
// for a fixed store snapshot.
func sortFused(passages []fusedPassage) {
	sort.SliceStable(passages, func(i, j int) bool {
		if passages[i].rrf != passages[j].rrf {
			return passages[i].rrf > passages[j].rrf
		}
		if passages[i].signals.Dense != passages[j].signals.Dense {
			return passages[i].signals.Dense > passages[j].signals.Dense
		}
		return passages[i].chunkID < passages[j].chunkID
	})
}

// medianRRF is the clamp reference for heuristic adjustments.
func medianRRF(passages []fusedPassage) float64 {
	if len(passages) == 0 {
		return 0
	}
	scores := make([]float64, len(passages))
	for i, p := range passages {
		scores[i] = p.rrf
	}
	sort.Float64s(scores)
	mid := len(scores) / 2
	if len(scores)%2 == 1 {
		return scores[mid]
	}
	return (scores[mid-1] + scores[mid]) / 2
}

// normalizeDense min-max normalizes the dense signal within the pool. A
// degenerate range maps every nonzero score to 1.
func normalizeDense(passages []fusedPassage) {
	var minScore, maxScore float64
	first := true
	for _, p := range passages {
		if p.signals.Dense == 0 {
			continue
		}
		if first {
			minScore, maxScore = p.signals.Dense, p.signals.Dense
			first = false
			continue
		}
		if p.signals.Dense < minScore {
			minScore = p.signals.Dense
		}
		if p.signals.Dense > maxScore {
			maxScore = p.signals.Dense
		}
	}
	if first {
		return
	}
	span := maxScore - minScore
	for i := range passages {
		if passages[i].signals.Dense == 0 {
			continue
		}
		if span <= 0 {
			passages[i].signals.Dense = 1
			continue
		}
		passages[i].signals.Dense = (passages[i].signals.Dense - minScore) / span
	}
}

// unionMaxScore merges two ranked lists keeping the max score per chunk,
// used for hint-assisted retrieval on clarification follow-ups.
func unionMaxScore(a, b []domain.ScoredChunkRef, limit int) []domain.ScoredChunkRef {
	byID := make(map[string]float64, len(a)+len(b))
	for _, ref := range a {
		if s, ok := byID[ref.ChunkID]; !ok || ref.Score > s {
			byID[ref.ChunkID] = ref.Score
		}
	}
	for _, ref := range b {
		if s, ok := byID[ref.ChunkID]; !ok || ref.Score > s {
			byID[ref.ChunkID] = ref.Score
		}
	}
	out := make([]domain.ScoredChunkRef, 0, len(byID))
	for id, score := range byID {
		out = append(out, domain.ScoredChunkRef{ChunkID: id, Score: score})
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return out[i].ChunkID < out[j].ChunkID
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}
