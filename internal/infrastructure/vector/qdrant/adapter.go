package qdrant

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/abadojack/whatlanggo"

	"github.com/emad-noorizadeh/eval-rag/internal/core/domain"
	"github.com/emad-noorizadeh/eval-rag/internal/core/ports"
)

const (
	denseVectorName  = "dense"
	sparseVectorName = "lexical"
	corpusCacheTTL   = 30 * time.Second
)

// Adapter is the uniform read surface over Qdrant plus the document-metadata
// store (C1). Dense KNN and chunk BM25 are served by Qdrant; metadata BM25
// runs in-process over the small document corpus. Nothing here writes.
type Adapter struct {
	client *Client
	docs   ports.DocumentStore

	mu          sync.Mutex
	corpus      []domain.Document
	corpusAt    time.Time
	countCached int
	countAt     time.Time
}

func NewAdapter(client *Client, docs ports.DocumentStore) *Adapter {
	return &Adapter{client: client, docs: docs}
}

// Invalidate drops the corpus and count caches; wired to index-update
// notifications so re-ingestions are visible on the next request.
func (a *Adapter) Invalidate(context.Context) error {
	a.mu.Lock()
	a.corpus = nil
	a.corpusAt = time.Time{}
	a.countAt = time.Time{}
	a.mu.Unlock()
	return nil
}

func (a *Adapter) KNN(ctx context.Context, queryVector []float32, k int, filter *domain.MetadataFilter) ([]domain.ScoredChunkRef, error) {
	qdrantFilter, empty, err := a.buildFilter(ctx, filter)
	if err != nil {
		return nil, err
	}
	if empty {
		return nil, nil
	}
	body := map[string]any{
		"query": queryVector,
		"using": denseVectorName,
		"limit": k,
	}
	if qdrantFilter != nil {
		body["filter"] = qdrantFilter
	}
	points, err := a.client.query(ctx, body)
	if err != nil {
		return nil, domain.WrapError(domain.ErrRetrievalBackend, "knn", err)
	}
	refs := make([]domain.ScoredChunkRef, 0, len(points))
	for _, p := range points {
		refs = append(refs, domain.ScoredChunkRef{
			ChunkID: payloadString(p.Payload, "chunk_id"),
			Score:   normalizeCosine(p.Score),
		})
	}
	sortRefs(refs)
	return refs, nil
}

func (a *Adapter) BM25Chunk(ctx context.Context, queryText string, k int, filter *domain.MetadataFilter) ([]domain.ScoredChunkRef, error) {
	qdrantFilter, empty, err := a.buildFilter(ctx, filter)
	if err != nil {
		return nil, err
	}
	if empty {
		return nil, nil
	}
	sparse := encodeSparseQuery(queryText)
	if len(sparse.Indices) == 0 {
		return nil, nil
	}
	body := map[string]any{
		"query": map[string]any{"indices": sparse.Indices, "values": sparse.Values},
		"using": sparseVectorName,
		"limit": k,
	}
	if qdrantFilter != nil {
		body["filter"] = qdrantFilter
	}
	points, err := a.client.query(ctx, body)
	if err != nil {
		return nil, domain.WrapError(domain.ErrRetrievalBackend, "bm25 chunk", err)
	}
	refs := make([]domain.ScoredChunkRef, 0, len(points))
	for _, p := range points {
		refs = append(refs, domain.ScoredChunkRef{
			ChunkID: payloadString(p.Payload, "chunk_id"),
			Score:   p.Score,
		})
	}
	sortRefs(refs)
	return refs, nil
}

// BM25Meta scores documents over title + categories + product entities +
// doc kind. The corpus is small enough that scoring in-process keeps the
// store engine out of a concern it has no index for.
func (a *Adapter) BM25Meta(ctx context.Context, queryText string, k int, filter *domain.MetadataFilter) ([]domain.ScoredDocRef, error) {
	corpus, err := a.docCorpus(ctx)
	if err != nil {
		return nil, domain.WrapError(domain.ErrRetrievalBackend, "bm25 meta", err)
	}
	scorer := newBM25Scorer(corpus)
	refs := make([]domain.ScoredDocRef, 0, len(corpus))
	for _, doc := range corpus {
		if !filter.Matches(doc) {
			continue
		}
		score := scorer.score(queryText, doc.ID)
		if score <= 0 {
			continue
		}
		refs = append(refs, domain.ScoredDocRef{DocID: doc.ID, Score: score})
	}
	sort.SliceStable(refs, func(i, j int) bool {
		if refs[i].Score != refs[j].Score {
			return refs[i].Score > refs[j].Score
		}
		return refs[i].DocID < refs[j].DocID
	})
	if k > 0 && len(refs) > k {
		refs = refs[:k]
	}
	return refs, nil
}

// TopChunks returns a document's leading chunks by in-document position.
func (a *Adapter) TopChunks(ctx context.Context, docID string, m int) ([]domain.ScoredChunkRef, error) {
	payloads, err := a.client.scroll(ctx, matchFilter("doc_id", docID), 256)
	if err != nil {
		return nil, domain.WrapError(domain.ErrRetrievalBackend, "top chunks", err)
	}
	type ordered struct {
		id      string
		ordinal int
	}
	chunks := make([]ordered, 0, len(payloads))
	for _, p := range payloads {
		chunks = append(chunks, ordered{id: payloadString(p, "chunk_id"), ordinal: payloadInt(p, "ordinal")})
	}
	sort.SliceStable(chunks, func(i, j int) bool {
		if chunks[i].ordinal != chunks[j].ordinal {
			return chunks[i].ordinal < chunks[j].ordinal
		}
		return chunks[i].id < chunks[j].id
	})
	if m > 0 && len(chunks) > m {
		chunks = chunks[:m]
	}
	refs := make([]domain.ScoredChunkRef, len(chunks))
	for i, c := range chunks {
		refs[i] = domain.ScoredChunkRef{ChunkID: c.id}
	}
	return refs, nil
}

func (a *Adapter) Resolve(ctx context.Context, chunkID string) (*domain.ResolvedChunk, error) {
	payloads, err := a.client.scroll(ctx, matchFilter("chunk_id", chunkID), 1)
	if err != nil {
		return nil, domain.WrapError(domain.ErrRetrievalBackend, "resolve", err)
	}
	if len(payloads) == 0 {
		return nil, domain.WrapError(domain.ErrRetrievalBackend, "resolve", fmt.Errorf("chunk %s not found", chunkID))
	}
	chunk := chunkFromPayload(payloads[0])

	doc, err := a.docs.Get(ctx, chunk.DocumentID)
	if err != nil {
		return nil, domain.WrapError(domain.ErrRetrievalBackend, "resolve document", err)
	}
	if doc.Language == "" && chunk.Text != "" {
		info := whatlanggo.Detect(chunk.Text)
		doc.Language = info.Lang.Iso6391()
	}
	return &domain.ResolvedChunk{Chunk: chunk, Document: *doc}, nil
}

func (a *Adapter) Count(ctx context.Context) (int, error) {
	a.mu.Lock()
	if !a.countAt.IsZero() && time.Since(a.countAt) < corpusCacheTTL {
		count := a.countCached
		a.mu.Unlock()
		return count, nil
	}
	a.mu.Unlock()

	count, err := a.client.count(ctx)
	if err != nil {
		return 0, domain.WrapError(domain.ErrRetrievalBackend, "count", err)
	}
	a.mu.Lock()
	a.countCached = count
	a.countAt = time.Now()
	a.mu.Unlock()
	return count, nil
}

// buildFilter pushes document-level predicates down as a doc_id set, since
// chunk payloads only carry the document reference. The boolean result
// reports a filter that matches no documents at all.
func (a *Adapter) buildFilter(ctx context.Context, filter *domain.MetadataFilter) (map[string]any, bool, error) {
	if filter.IsZero() {
		return nil, false, nil
	}
	corpus, err := a.docCorpus(ctx)
	if err != nil {
		return nil, false, domain.WrapError(domain.ErrRetrievalBackend, "filter", err)
	}
	var ids []string
	for _, doc := range corpus {
		if filter.Matches(doc) {
			ids = append(ids, doc.ID)
		}
	}
	if len(ids) == 0 {
		return nil, true, nil
	}
	return map[string]any{
		"must": []map[string]any{
			{"key": "doc_id", "match": map[string]any{"any": ids}},
		},
	}, false, nil
}

func (a *Adapter) docCorpus(ctx context.Context) ([]domain.Document, error) {
	a.mu.Lock()
	if a.corpus != nil && time.Since(a.corpusAt) < corpusCacheTTL {
		corpus := a.corpus
		a.mu.Unlock()
		return corpus, nil
	}
	a.mu.Unlock()

	corpus, err := a.docs.List(ctx)
	if err != nil {
		return nil, err
	}
	sort.SliceStable(corpus, func(i, j int) bool { return corpus[i].ID < corpus[j].ID })

	a.mu.Lock()
	a.corpus = corpus
	a.corpusAt = time.Now()
	a.mu.Unlock()
	return corpus, nil
}

// normalizeCosine maps cosine similarity from [-1,1] to [0,1].
func normalizeCosine(score float64) float64 {
	normalized := (score + 1) / 2
	if normalized < 0 {
		return 0
	}
	if normalized > 1 {
		return 1
	}
	return normalized
}

// sortRefs re-sorts by score descending with identifier-ascending ties so
// the contract holds regardless of engine quirks.
func sortRefs(refs []domain.ScoredChunkRef) {
	sort.SliceStable(refs, func(i, j int) bool {
		if refs[i].Score != refs[j].Score {
			return refs[i].Score > refs[j].Score
		}
		return refs[i].ChunkID < refs[j].ChunkID
	})
}

func matchFilter(key, value string) map[string]any {
	return map[string]any{
		"must": []map[string]any{
			{"key": key, "match": map[string]any{"value": value}},
		},
	}
}

func payloadString(payload map[string]any, key string) string {
	if v, ok := payload[key].(string); ok {
		return v
	}
	return ""
}

func payloadInt(payload map[string]any, key string) int {
	switch v := payload[key].(type) {
	case float64:
		return int(v)
	case int:
		return v
	default:
		return 0
	}
}

func payloadBool(payload map[string]any, key string) bool {
	if v, ok := payload[key].(bool); ok {
		return v
	}
	return false
}

func chunkFromPayload(payload map[string]any) domain.Chunk {
	return domain.Chunk{
		ID:               payloadString(payload, "chunk_id"),
		DocumentID:       payloadString(payload, "doc_id"),
		Ordinal:          payloadInt(payload, "ordinal"),
		Text:             payloadString(payload, "text"),
		TokenCount:       payloadInt(payload, "token_count"),
		HasNumbers:       payloadBool(payload, "has_numbers"),
		HasCurrency:      payloadBool(payload, "has_currency"),
		StartLine:        payloadInt(payload, "start_line"),
		EndLine:          payloadInt(payload, "end_line"),
		StartChar:        payloadInt(payload, "start_char"),
		EndChar:          payloadInt(payload, "end_char"),
		EmbeddingVersion: payloadString(payload, "embedding_version"),
	}
}
