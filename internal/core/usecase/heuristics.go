package usecase

import (
	"math"
	"time"

	"github.com/emad-noorizadeh/eval-rag/internal/core/domain"
)

// HeuristicWeights are the additive re-ranking weights applied on top of the
// fused RRF score.
type HeuristicWeights struct {
	Authority         float64
	Currency          float64
	Numbers           float64
	Freshness         float64
	FreshnessHalfLife time.Duration
}

// heuristicClampFraction bounds the combined adjustment relative to the
// pool-median RRF score.
const heuristicClampFraction = 0.20

// heuristicAdjust computes the single additive heuristic term for one
// passage: authority, currency presence, number presence, and freshness
// decay, clamped to ±20% of the pool median RRF.
func heuristicAdjust(chunk domain.Chunk, doc domain.Document, w HeuristicWeights, poolMedian float64, now time.Time) float64 {
	adj := doc.AuthorityScore * w.Authority
	if chunk.HasCurrency {
		adj += w.Currency
	}
	if chunk.HasNumbers {
		adj += w.Numbers
	}
	adj += freshnessDecay(doc, w.FreshnessHalfLife, now) * w.Freshness

	clamp := poolMedian * heuristicClampFraction
	if clamp <= 0 {
		return 0
	}
	if adj > clamp {
		return clamp
	}
	if adj < -clamp {
		return -clamp
	}
	return adj
}

// freshnessDecay maps document age to (0,1] with exponential half-life decay
// on updated_at, falling back to published_at. Documents with no temporal
// fields contribute nothing.
func freshnessDecay(doc domain.Document, halfLife time.Duration, now time.Time) float64 {
	ts := doc.UpdatedAt
	if ts == nil {
		ts = doc.PublishedAt
	}
	if ts == nil || halfLife <= 0 {
		return 0
	}
	age := now.Sub(*ts)
	if age <= 0 {
		return 1
	}
	return math.Exp(-math.Ln2 * age.Seconds() / halfLife.Seconds())
}
