package domain

import (
	"fmt"
	"time"
)

type DocKind string

const (
	KindPromo      DocKind = "promo"
	KindDisclosure DocKind = "disclosure"
	KindTerms      DocKind = "terms"
	KindFAQ        DocKind = "faq"
	KindLanding    DocKind = "landing"
	KindForm       DocKind = "form"
	KindOther      DocKind = "other"
)

func ParseDocKind(s string) DocKind {
	switch DocKind(s) {
	case KindPromo, KindDisclosure, KindTerms, KindFAQ, KindLanding, KindForm:
		return DocKind(s)
	default:
		return KindOther
	}
}

// Document is the per-document metadata record. Created once on ingestion and
// immutable afterwards except for a re-ingestion replacement; chunks hold the
// document identifier, never a back-pointer.
type Document struct {
	ID              string     `json:"id"`
	Title           string     `json:"title"`
	CanonicalURL    string     `json:"canonical_url"`
	Kind            DocKind    `json:"doc_kind"`
	Language        string     `json:"language"`
	PublishedAt     *time.Time `json:"published_at,omitempty"`
	UpdatedAt       *time.Time `json:"updated_at,omitempty"`
	EffectiveAt     *time.Time `json:"effective_at,omitempty"`
	ExpiresAt       *time.Time `json:"expires_at,omitempty"`
	GeoScope        string     `json:"geo_scope"`
	Currency        string     `json:"currency"`
	ProductEntities []string   `json:"product_entities"`
	Categories      []string   `json:"categories"`
	AuthorityScore  float64    `json:"authority_score"`
	SourcePath      string     `json:"source_path"`
}

// Validate checks the invariants a record must satisfy before it is usable by
// retrieval.
func (d Document) Validate() error {
	if d.ID == "" {
		return fmt.Errorf("document id is empty")
	}
	if d.AuthorityScore < 0 || d.AuthorityScore > 1 {
		return fmt.Errorf("authority score %f outside [0,1]", d.AuthorityScore)
	}
	return nil
}

// CombineAuthority combines a domain-trust prior with a document-kind prior.
func CombineAuthority(domainAuthority, kindAuthority float64) float64 {
	score := (domainAuthority + kindAuthority) / 2
	if score < 0 {
		return 0
	}
	if score > 1 {
		return 1
	}
	return score
}

// MetaText is the concatenated surface the metadata BM25 retriever runs over.
func (d Document) MetaText() string {
	text := d.Title
	for _, c := range d.Categories {
		text += " " + c
	}
	for _, p := range d.ProductEntities {
		text += " " + p
	}
	return text + " " + string(d.Kind)
}

// Chunk carries chunk-level metadata persisted alongside the text in the
// vector store. Document-level metadata lives in the keyed document store and
// is referenced by DocumentID.
type Chunk struct {
	ID               string `json:"id"` // "<docId>_chunk_<ordinal>"
	DocumentID       string `json:"doc_id"`
	Ordinal          int    `json:"ordinal"`
	Text             string `json:"text"`
	TokenCount       int    `json:"token_count"`
	HasNumbers       bool   `json:"has_numbers"`
	HasCurrency      bool   `json:"has_currency"`
	StartLine        int    `json:"start_line"`
	EndLine          int    `json:"end_line"`
	StartChar        int    `json:"start_char"`
	EndChar          int    `json:"end_char"`
	EmbeddingVersion string `json:"embedding_version"`
}

func ChunkID(docID string, ordinal int) string {
	return fmt.Sprintf("%s_chunk_%d", docID, ordinal)
}
