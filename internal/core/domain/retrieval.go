package domain

// MetadataFilter restricts retrieval to records matching equality or
// set-containment predicates on metadata fields.
type MetadataFilter struct {
	DocKind  DocKind  `json:"doc_kind,omitempty"`
	Language string   `json:"language,omitempty"`
	GeoScope string   `json:"geo_scope,omitempty"`
	Category string   `json:"category,omitempty"` // set containment on Document.Categories
	DocIDs   []string `json:"doc_ids,omitempty"`
}

func (f *MetadataFilter) IsZero() bool {
	return f == nil || (f.DocKind == "" && f.Language == "" && f.GeoScope == "" && f.Category == "" && len(f.DocIDs) == 0)
}

// Matches reports whether a document satisfies every predicate in the filter.
func (f *MetadataFilter) Matches(doc Document) bool {
	if f.IsZero() {
		return true
	}
	if f.DocKind != "" && doc.Kind != f.DocKind {
		return false
	}
	if f.Language != "" && doc.Language != f.Language {
		return false
	}
	if f.GeoScope != "" && doc.GeoScope != f.GeoScope {
		return false
	}
	if f.Category != "" {
		found := false
		for _, c := range doc.Categories {
			if c == f.Category {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if len(f.DocIDs) > 0 {
		found := false
		for _, id := range f.DocIDs {
			if id == doc.ID {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

// ScoredChunkRef is one entry of a ranked list returned by a sub-retriever.
type ScoredChunkRef struct {
	ChunkID string  `json:"chunk_id"`
	Score   float64 `json:"score"`
}

type ScoredDocRef struct {
	DocID string  `json:"doc_id"`
	Score float64 `json:"score"`
}

// ResolvedChunk is the adapter's full view of one chunk: text, chunk
// metadata, and a snapshot of the owning document's metadata.
type ResolvedChunk struct {
	Chunk    Chunk    `json:"chunk"`
	Document Document `json:"document"`
}

// SignalScores holds the per-signal diagnostic scores of one passage.
type SignalScores struct {
	Dense     float64 `json:"dense"`
	BM25Chunk float64 `json:"bm25_chunk"`
	BM25Meta  float64 `json:"bm25_meta"`
	Heuristic float64 `json:"heuristic"`
}

// RetrievedPassage is the unit of the ranked list C2 hands to C3.
type RetrievedPassage struct {
	ChunkID  string       `json:"chunk_id"`
	Text     string       `json:"text"`
	Signals  SignalScores `json:"signals"`
	RRF      float64      `json:"rrf"`
	Final    float64      `json:"final"`
	Rank     int          `json:"rank"`
	Chunk    Chunk        `json:"chunk_meta"`
	Document Document     `json:"document_meta"`
}

// RetrievalDiagnostics records how the fan-out behaved for one request.
type RetrievalDiagnostics struct {
	DenseAvailable   bool    `json:"dense_available"`
	DenseCount       int     `json:"dense_count"`
	BM25ChunkCount   int     `json:"bm25_chunk_count"`
	BM25MetaDocCount int     `json:"bm25_meta_doc_count"`
	PoolSize         int     `json:"pool_size"`
	ChunkCount       int     `json:"chunk_count"`
	AvgScore         float64 `json:"avg_score"`
	MinScore         float64 `json:"min_score"`
	MaxScore         float64 `json:"max_score"`
	MaxDense         float64 `json:"max_dense"`
	ContextLength    int     `json:"context_length"`
	UnionApplied     bool    `json:"union_applied"`
	DegradedReason   string  `json:"degraded_reason,omitempty"`
}

// RetrievalResult is the full C2 output for one query.
type RetrievalResult struct {
	Passages    []RetrievedPassage   `json:"passages"`
	Diagnostics RetrievalDiagnostics `json:"diagnostics"`
}

// RoutingSignal is the similarity the router keys its decision on: the best
// dense score when dense retrieval contributed, otherwise the best fused
// score.
func (r RetrievalResult) RoutingSignal() float64 {
	if len(r.Passages) == 0 {
		return 0
	}
	if r.Diagnostics.DenseAvailable {
		return r.Diagnostics.MaxDense
	}
	best := r.Passages[0].Final
	for _, p := range r.Passages[1:] {
		if p.Final > best {
			best = p.Final
		}
	}
	return best
}
