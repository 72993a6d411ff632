package ports

import (
	"context"
	"time"

	"github.com/emad-noorizadeh/eval-rag/internal/core/domain"
)

// Index is the narrow read surface over the storage engine (C1). Results are
// sorted by score descending with ties broken by identifier ascending; all
// operations are read-only and observe a single consistent snapshot for the
// duration of one request.
type Index interface {
	// KNN runs dense nearest-neighbor search. Cosine similarity is
	// normalized to [0,1] before returning.
	KNN(ctx context.Context, queryVector []float32, k int, filter *domain.MetadataFilter) ([]domain.ScoredChunkRef, error)
	// BM25Chunk scores chunk text lexically.
	BM25Chunk(ctx context.Context, queryText string, k int, filter *domain.MetadataFilter) ([]domain.ScoredChunkRef, error)
	// BM25Meta scores documents over concatenated title + categories +
	// product entities + doc kind.
	BM25Meta(ctx context.Context, queryText string, k int, filter *domain.MetadataFilter) ([]domain.ScoredDocRef, error)
	// TopChunks returns a document's leading chunks, used to expand
	// metadata-matched documents into passages.
	TopChunks(ctx context.Context, docID string, m int) ([]domain.ScoredChunkRef, error)
	Resolve(ctx context.Context, chunkID string) (*domain.ResolvedChunk, error)
	Count(ctx context.Context) (int, error)
}

// DocumentStore is the keyed document-metadata store backing Index.Resolve
// and the metadata BM25 corpus. List fields round-trip through their JSON
// encoding.
type DocumentStore interface {
	Get(ctx context.Context, id string) (*domain.Document, error)
	List(ctx context.Context) ([]domain.Document, error)
	Put(ctx context.Context, doc domain.Document) error
}

// Embedder produces fixed-dimension dense vectors.
type Embedder interface {
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
}

type ChatOptions struct {
	MaxTokens   int
	Temperature float64
	JSONMode    bool
}

// ChatModel is the chat-completion half of the LLM collaborator.
type ChatModel interface {
	Chat(ctx context.Context, system, user string, opts ChatOptions) (string, error)
}

// SessionStore owns session lifecycle and per-session memory (C5).
type SessionStore interface {
	Create(ctx context.Context) (*domain.Session, error)
	// Get advances last_activity to now on hit and returns
	// domain.ErrSessionNotFound for unknown or expired ids.
	Get(ctx context.Context, id string) (*domain.Session, error)
	// Extend is the explicit activity nudge; returns the remaining lifetime.
	Extend(ctx context.Context, id string) (time.Duration, error)
	// End destroys idempotently.
	End(ctx context.Context, id string) error
	// Update persists mutated history/counters for an existing session.
	Update(ctx context.Context, sess *domain.Session) error
	// Lock serializes requests per session; the returned func releases.
	Lock(ctx context.Context, id string) (func(), error)
	Active(ctx context.Context) ([]domain.Session, error)
}

// InvalidationBus delivers index-update notifications so read-side caches
// never survive a re-ingestion.
type InvalidationBus interface {
	SubscribeIndexUpdated(ctx context.Context, handler func(context.Context) error) error
	PublishIndexUpdated(ctx context.Context) error
	Close()
}
