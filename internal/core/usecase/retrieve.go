package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/emad-noorizadeh/eval-rag/internal/core/domain"
	"github.com/emad-noorizadeh/eval-rag/internal/core/ports"
)

// RetrieverConfig is the snapshot of tunables one retrieval runs under.
type RetrieverConfig struct {
	Method        string // semantic | hybrid
	TopK          int
	KEmbed        int
	KBM25Chunk    int
	KBM25MetaDocs int
	KRRF          int
	KFinal        int
	MetaChunks    int
	RRFC          int
	Weights       HeuristicWeights
}

// HybridRetriever fans out dense KNN, chunk BM25 and metadata BM25 in
// parallel, fuses the candidates with RRF and applies clamped heuristic
// re-ranking. Output is deterministic for a fixed query, configuration and
// store snapshot.
type HybridRetriever struct {
	index    ports.Index
	embedder ports.Embedder
	cfg      func() RetrieverConfig
	now      func() time.Time
	log      *slog.Logger
}

func NewHybridRetriever(index ports.Index, embedder ports.Embedder, cfg func() RetrieverConfig, log *slog.Logger) *HybridRetriever {
	return &HybridRetriever{
		index:    index,
		embedder: embedder,
		cfg:      cfg,
		now:      time.Now,
		log:      log,
	}
}

func (r *HybridRetriever) Retrieve(ctx context.Context, question, hint string, filter *domain.MetadataFilter) (*domain.RetrievalResult, error) {
	cfg := r.cfg()
	if cfg.Method == "semantic" {
		return r.retrieveSemantic(ctx, question, hint, filter, cfg)
	}
	return r.retrieveHybrid(ctx, question, hint, filter, cfg)
}

func (r *HybridRetriever) retrieveHybrid(ctx context.Context, question, hint string, filter *domain.MetadataFilter, cfg RetrieverConfig) (*domain.RetrievalResult, error) {
	lexQuery := question
	if hint != "" {
		lexQuery = question + " " + hint
	}

	var (
		denseList    []domain.ScoredChunkRef
		chunkLexList []domain.ScoredChunkRef
		metaDocs     []domain.ScoredDocRef
		denseErr     error
		chunkLexErr  error
		metaErr      error
		unionApplied bool
	)

	queryVector, embedErr := r.embedder.EmbedQuery(ctx, question)
	var hintVector []float32
	if embedErr == nil && hint != "" {
		// Hint embedding failures degrade the union, not the request.
		hintVector, _ = r.embedder.EmbedQuery(ctx, hint)
	}

	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(3)

	group.Go(func() error {
		if embedErr != nil {
			denseErr = embedErr
			return nil
		}
		denseList, denseErr = r.index.KNN(groupCtx, queryVector, cfg.KEmbed, filter)
		if denseErr == nil && len(hintVector) > 0 {
			hintList, err := r.index.KNN(groupCtx, hintVector, cfg.KEmbed, filter)
			if err == nil {
				denseList = unionMaxScore(denseList, hintList, cfg.KEmbed)
				unionApplied = true
			}
		}
		return nil
	})
	group.Go(func() error {
		chunkLexList, chunkLexErr = r.index.BM25Chunk(groupCtx, lexQuery, cfg.KBM25Chunk, filter)
		return nil
	})
	group.Go(func() error {
		metaDocs, metaErr = r.index.BM25Meta(groupCtx, lexQuery, cfg.KBM25MetaDocs, filter)
		return nil
	})

	// Sub-retriever errors are recorded, not returned, so the join only
	// fails on context cancellation.
	if err := group.Wait(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, deadlineOr(err, "hybrid retrieve")
	}

	// Expand metadata-matched documents into their top chunks, carrying the
	// document-level BM25 score onto each expanded chunk.
	var metaLexList []domain.ScoredChunkRef
	if metaErr == nil {
		for _, doc := range metaDocs {
			chunks, err := r.index.TopChunks(ctx, doc.DocID, cfg.MetaChunks)
			if err != nil {
				metaErr = err
				break
			}
			for _, c := range chunks {
				metaLexList = append(metaLexList, domain.ScoredChunkRef{ChunkID: c.ChunkID, Score: doc.Score})
			}
		}
	}

	failures := 0
	for _, err := range []error{denseErr, chunkLexErr, metaErr} {
		if err != nil {
			failures++
			r.log.Warn("sub_retriever_failed", "error", err)
		}
	}
	if failures == 3 {
		return nil, domain.WrapError(domain.ErrRetrievalBackend, "hybrid retrieve",
			fmt.Errorf("all sub-retrievers failed: dense=%v chunk=%v meta=%v", denseErr, chunkLexErr, metaErr))
	}

	if denseErr != nil {
		denseList = nil
	}
	if chunkLexErr != nil {
		chunkLexList = nil
	}
	if metaErr != nil {
		metaLexList = nil
	}

	maxDense := 0.0
	for _, ref := range denseList {
		if ref.Score > maxDense {
			maxDense = ref.Score
		}
	}

	pool := fuseRRF(fusionInput{dense: denseList, chunkLex: chunkLexList, metaLex: metaLexList}, cfg.RRFC, cfg.KRRF)
	normalizeDense(pool)

	passages, err := r.finalize(ctx, pool, cfg)
	if err != nil {
		return nil, err
	}

	diag := buildDiagnostics(passages, len(denseList), len(chunkLexList), len(metaDocs), len(pool))
	diag.DenseAvailable = denseErr == nil && len(denseList) > 0
	diag.MaxDense = maxDense
	diag.UnionApplied = unionApplied
	if embedErr != nil {
		diag.DegradedReason = "dense embedding unavailable, lexical-only retrieval"
	}

	return &domain.RetrievalResult{Passages: passages, Diagnostics: diag}, nil
}

// retrieveSemantic is the single-signal mode kept behind
// retrieval_method=semantic. It degrades to chunk BM25 when the embedding
// backend is unavailable.
func (r *HybridRetriever) retrieveSemantic(ctx context.Context, question, hint string, filter *domain.MetadataFilter, cfg RetrieverConfig) (*domain.RetrievalResult, error) {
	topK := cfg.TopK
	if topK <= 0 {
		topK = 5
	}

	var (
		refs         []domain.ScoredChunkRef
		degraded     string
		unionApplied bool
	)
	queryVector, embedErr := r.embedder.EmbedQuery(ctx, question)
	if embedErr == nil {
		var err error
		refs, err = r.index.KNN(ctx, queryVector, topK, filter)
		if err != nil {
			return nil, domain.WrapError(domain.ErrRetrievalBackend, "semantic retrieve", err)
		}
		if hint != "" {
			if hintVector, err := r.embedder.EmbedQuery(ctx, hint); err == nil {
				if hintRefs, err := r.index.KNN(ctx, hintVector, topK, filter); err == nil {
					refs = unionMaxScore(refs, hintRefs, topK)
					unionApplied = true
				}
			}
		}
	} else {
		degraded = "dense embedding unavailable, lexical-only retrieval"
		var err error
		refs, err = r.index.BM25Chunk(ctx, question, topK, filter)
		if err != nil {
			return nil, domain.WrapError(domain.ErrRetrievalBackend, "semantic retrieve", err)
		}
	}

	maxDense := 0.0
	pool := make([]fusedPassage, 0, len(refs))
	for _, ref := range refs {
		p := fusedPassage{chunkID: ref.ChunkID, rrf: ref.Score}
		if embedErr == nil {
			p.signals.Dense = ref.Score
			if ref.Score > maxDense {
				maxDense = ref.Score
			}
		} else {
			p.signals.BM25Chunk = ref.Score
		}
		pool = append(pool, p)
	}

	passages, err := r.finalize(ctx, pool, RetrieverConfig{KFinal: topK, Weights: cfg.Weights})
	if err != nil {
		return nil, err
	}

	diag := buildDiagnostics(passages, len(refs), 0, 0, len(pool))
	diag.DenseAvailable = embedErr == nil && len(refs) > 0
	diag.MaxDense = maxDense
	diag.UnionApplied = unionApplied
	diag.DegradedReason = degraded
	return &domain.RetrievalResult{Passages: passages, Diagnostics: diag}, nil
}

// finalize resolves pooled chunks, applies the clamped heuristic term and
// produces the ranked passage list.
func (r *HybridRetriever) finalize(ctx context.Context, pool []fusedPassage, cfg RetrieverConfig) ([]domain.RetrievedPassage, error) {
	median := medianRRF(pool)
	now := r.now()

	passages := make([]domain.RetrievedPassage, 0, len(pool))
	for _, p := range pool {
		resolved, err := r.index.Resolve(ctx, p.chunkID)
		if err != nil {
			if ctx.Err() != nil {
				return nil, deadlineOr(ctx.Err(), "resolve passage")
			}
			r.log.Warn("resolve_failed", "chunk_id", p.chunkID, "error", err)
			continue
		}
		p.signals.Heuristic = heuristicAdjust(resolved.Chunk, resolved.Document, cfg.Weights, median, now)
		passages = append(passages, domain.RetrievedPassage{
			ChunkID:  p.chunkID,
			Text:     resolved.Chunk.Text,
			Signals:  p.signals,
			RRF:      p.rrf,
			Final:    p.rrf + p.signals.Heuristic,
			Chunk:    resolved.Chunk,
			Document: resolved.Document,
		})
	}

	sort.SliceStable(passages, func(i, j int) bool {
		if passages[i].Final != passages[j].Final {
			return passages[i].Final > passages[j].Final
		}
		if passages[i].Signals.Dense != passages[j].Signals.Dense {
			return passages[i].Signals.Dense > passages[j].Signals.Dense
		}
		return passages[i].ChunkID < passages[j].ChunkID
	})

	if cfg.KFinal > 0 && len(passages) > cfg.KFinal {
		passages = passages[:cfg.KFinal]
	}
	for i := range passages {
		passages[i].Rank = i + 1
	}
	return passages, nil
}

func buildDiagnostics(passages []domain.RetrievedPassage, denseCount, chunkLexCount, metaDocCount, poolSize int) domain.RetrievalDiagnostics {
	diag := domain.RetrievalDiagnostics{
		DenseCount:       denseCount,
		BM25ChunkCount:   chunkLexCount,
		BM25MetaDocCount: metaDocCount,
		PoolSize:         poolSize,
		ChunkCount:       len(passages),
	}
	if len(passages) == 0 {
		return diag
	}
	sum := 0.0
	diag.MinScore = passages[0].Final
	diag.MaxScore = passages[0].Final
	for _, p := range passages {
		sum += p.Final
		if p.Final < diag.MinScore {
			diag.MinScore = p.Final
		}
		if p.Final > diag.MaxScore {
			diag.MaxScore = p.Final
		}
		diag.ContextLength += len(p.Text)
	}
	diag.AvgScore = sum / float64(len(passages))
	return diag
}

// deadlineOr maps context errors to the deadline kind, wrapping anything
// else unchanged.
func deadlineOr(err error, op string) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return domain.WrapError(domain.ErrDeadlineExceeded, op, err)
	}
	return fmt.Errorf("%s: %w", op, err)
}
