package qdrant

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/emad-noorizadeh/eval-rag/internal/core/domain"
)

type stubDocs struct {
	docs map[string]domain.Document
}

func (s *stubDocs) Get(_ context.Context, id string) (*domain.Document, error) {
	doc, ok := s.docs[id]
	if !ok {
		return nil, fmt.Errorf("document %s not found", id)
	}
	return &doc, nil
}

func (s *stubDocs) List(context.Context) ([]domain.Document, error) {
	out := make([]domain.Document, 0, len(s.docs))
	for _, d := range s.docs {
		out = append(out, d)
	}
	return out, nil
}

func (s *stubDocs) Put(_ context.Context, doc domain.Document) error {
	s.docs[doc.ID] = doc
	return nil
}

func TestNormalizeCosine(t *testing.T) {
	cases := []struct{ in, want float64 }{
		{1, 1},
		{-1, 0},
		{0, 0.5},
		{2, 1}, // engine quirks clamp
		{-2, 0},
	}
	for _, tc := range cases {
		if got := normalizeCosine(tc.in); got != tc.want {
			t.Fatalf("normalizeCosine(%f) = %f, want %f", tc.in, got, tc.want)
		}
	}
}

func TestSortRefsTieBreaksByID(t *testing.T) {
	refs := []domain.ScoredChunkRef{
		{ChunkID: "z", Score: 0.5},
		{ChunkID: "a", Score: 0.5},
		{ChunkID: "m", Score: 0.9},
	}
	sortRefs(refs)
	if refs[0].ChunkID != "m" || refs[1].ChunkID != "a" || refs[2].ChunkID != "z" {
		t.Fatalf("unexpected order: %+v", refs)
	}
}

func newStubQdrant(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	return NewClient(server.URL, "chunks", time.Second)
}

func TestKNNNormalizesAndSurfacesErrors(t *testing.T) {
	client := newStubQdrant(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/collections/chunks/points/query" {
			http.NotFound(w, r)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"result": map[string]any{
				"points": []map[string]any{
					{"score": 0.6, "payload": map[string]any{"chunk_id": "a_chunk_0"}},
					{"score": 0.2, "payload": map[string]any{"chunk_id": "b_chunk_0"}},
				},
			},
		})
	})
	adapter := NewAdapter(client, &stubDocs{docs: map[string]domain.Document{}})

	refs, err := adapter.KNN(context.Background(), []float32{0.1}, 5, nil)
	if err != nil {
		t.Fatalf("KNN() error = %v", err)
	}
	if len(refs) != 2 {
		t.Fatalf("got %d refs", len(refs))
	}
	if refs[0].Score != 0.8 || refs[1].Score != 0.6 {
		t.Fatalf("cosine not normalized to [0,1]: %+v", refs)
	}
}

func TestKNNErrorIsRetrievalBackendKind(t *testing.T) {
	client := newStubQdrant(t, func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	})
	adapter := NewAdapter(client, &stubDocs{docs: map[string]domain.Document{}})

	_, err := adapter.KNN(context.Background(), []float32{0.1}, 5, nil)
	if !domain.IsKind(err, domain.ErrRetrievalBackend) {
		t.Fatalf("expected RetrievalBackendFailure kind, got %v", err)
	}
}

func TestBM25MetaRanksTitleMatchFirst(t *testing.T) {
	docs := &stubDocs{docs: map[string]domain.Document{}}
	for _, d := range metaCorpus() {
		docs.docs[d.ID] = d
	}
	adapter := NewAdapter(NewClient("http://unused", "chunks", time.Second), docs)

	refs, err := adapter.BM25Meta(context.Background(), "FX wire fees", 2, nil)
	if err != nil {
		t.Fatalf("BM25Meta() error = %v", err)
	}
	if len(refs) == 0 || refs[0].DocID != "fx" {
		t.Fatalf("fx doc not first: %+v", refs)
	}
}

func TestBM25MetaHonorsFilter(t *testing.T) {
	docs := &stubDocs{docs: map[string]domain.Document{}}
	for _, d := range metaCorpus() {
		docs.docs[d.ID] = d
	}
	adapter := NewAdapter(NewClient("http://unused", "chunks", time.Second), docs)

	filter := &domain.MetadataFilter{DocKind: domain.KindDisclosure}
	refs, err := adapter.BM25Meta(context.Background(), "preferred", 5, filter)
	if err != nil {
		t.Fatalf("BM25Meta() error = %v", err)
	}
	for _, ref := range refs {
		if ref.DocID == "fx" {
			t.Fatalf("filter leaked faq document")
		}
	}
}

func TestResolveJoinsDocumentMetadata(t *testing.T) {
	client := newStubQdrant(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/collections/chunks/points/scroll" {
			http.NotFound(w, r)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"result": map[string]any{
				"points": []map[string]any{
					{"payload": map[string]any{
						"chunk_id":     "fx_chunk_0",
						"doc_id":       "fx",
						"ordinal":      0,
						"text":         "foreign exchange outbound transfers",
						"has_numbers":  false,
						"has_currency": false,
					}},
				},
			},
		})
	})
	docs := &stubDocs{docs: map[string]domain.Document{
		"fx": {ID: "fx", Title: "FX wire fees", AuthorityScore: 0.8},
	}}
	adapter := NewAdapter(client, docs)

	resolved, err := adapter.Resolve(context.Background(), "fx_chunk_0")
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if resolved.Chunk.DocumentID != "fx" || resolved.Document.Title != "FX wire fees" {
		t.Fatalf("join failed: %+v", resolved)
	}
	// Language fallback detection filled the blank field.
	if resolved.Document.Language == "" {
		t.Fatalf("language fallback not applied")
	}
}

func TestInvalidateDropsCaches(t *testing.T) {
	calls := 0
	client := newStubQdrant(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/collections/chunks/points/count" {
			calls++
			_ = json.NewEncoder(w).Encode(map[string]any{"result": map[string]any{"count": calls}})
			return
		}
		http.NotFound(w, r)
	})
	adapter := NewAdapter(client, &stubDocs{docs: map[string]domain.Document{}})
	ctx := context.Background()

	first, err := adapter.Count(ctx)
	if err != nil {
		t.Fatalf("Count() error = %v", err)
	}
	cached, _ := adapter.Count(ctx)
	if cached != first {
		t.Fatalf("count not cached: %d vs %d", cached, first)
	}

	if err := adapter.Invalidate(ctx); err != nil {
		t.Fatalf("Invalidate() error = %v", err)
	}
	fresh, _ := adapter.Count(ctx)
	if fresh == first {
		t.Fatalf("invalidation did not refresh count")
	}
}
