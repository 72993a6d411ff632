package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/emad-noorizadeh/eval-rag/internal/core/domain"
)

// DocumentRepository is the keyed document-metadata store. List fields are
// persisted as JSON-encoded strings and absent optional fields as the empty
// string, matching the scalar-type constraint of the chunk store; reads
// reverse-parse before handing records to retrieval.
type DocumentRepository struct {
	db *sql.DB
}

func NewDocumentRepository(db *sql.DB) *DocumentRepository {
	return &DocumentRepository{db: db}
}

func OpenDB(dsn string) (*sql.DB, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("sql open: %w", err)
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(30 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("db ping: %w", err)
	}
	return db, nil
}

func (r *DocumentRepository) EnsureSchema(ctx context.Context) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin schema tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	// Serialize bootstrap DDL across api/ingestion startups.
	if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock($1)`, int64(2026080501)); err != nil {
		return fmt.Errorf("acquire schema lock: %w", err)
	}

	const query = `
CREATE TABLE IF NOT EXISTS documents (
	id TEXT PRIMARY KEY,
	title TEXT NOT NULL DEFAULT '',
	canonical_url TEXT NOT NULL DEFAULT '',
	doc_kind TEXT NOT NULL DEFAULT 'other',
	language TEXT NOT NULL DEFAULT '',
	published_at TEXT NOT NULL DEFAULT '',
	updated_at TEXT NOT NULL DEFAULT '',
	effective_at TEXT NOT NULL DEFAULT '',
	expires_at TEXT NOT NULL DEFAULT '',
	geo_scope TEXT NOT NULL DEFAULT '',
	currency TEXT NOT NULL DEFAULT '',
	product_entities TEXT NOT NULL DEFAULT '[]',
	categories TEXT NOT NULL DEFAULT '[]',
	authority_score DOUBLE PRECISION NOT NULL DEFAULT 0,
	source_path TEXT NOT NULL DEFAULT ''
);

CREATE INDEX IF NOT EXISTS idx_documents_doc_kind ON documents(doc_kind);
`
	if _, err := tx.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("execute schema ddl: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit schema tx: %w", err)
	}
	return nil
}

const documentColumns = `id, title, canonical_url, doc_kind, language, published_at, updated_at, effective_at, expires_at, geo_scope, currency, product_entities, categories, authority_score, source_path`

func (r *DocumentRepository) Put(ctx context.Context, doc domain.Document) error {
	if err := doc.Validate(); err != nil {
		return domain.WrapError(domain.ErrInvalidInput, "put document", err)
	}
	entities, err := encodeList(doc.ProductEntities)
	if err != nil {
		return fmt.Errorf("encode product entities: %w", err)
	}
	categories, err := encodeList(doc.Categories)
	if err != nil {
		return fmt.Errorf("encode categories: %w", err)
	}

	_, err = r.db.ExecContext(ctx, `
INSERT INTO documents (`+documentColumns+`)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
ON CONFLICT (id) DO UPDATE SET
	title = EXCLUDED.title,
	canonical_url = EXCLUDED.canonical_url,
	doc_kind = EXCLUDED.doc_kind,
	language = EXCLUDED.language,
	published_at = EXCLUDED.published_at,
	updated_at = EXCLUDED.updated_at,
	effective_at = EXCLUDED.effective_at,
	expires_at = EXCLUDED.expires_at,
	geo_scope = EXCLUDED.geo_scope,
	currency = EXCLUDED.currency,
	product_entities = EXCLUDED.product_entities,
	categories = EXCLUDED.categories,
	authority_score = EXCLUDED.authority_score,
	source_path = EXCLUDED.source_path`,
		doc.ID, doc.Title, doc.CanonicalURL, string(doc.Kind), doc.Language,
		encodeTime(doc.PublishedAt), encodeTime(doc.UpdatedAt),
		encodeTime(doc.EffectiveAt), encodeTime(doc.ExpiresAt),
		doc.GeoScope, doc.Currency, entities, categories,
		doc.AuthorityScore, doc.SourcePath,
	)
	if err != nil {
		return fmt.Errorf("upsert document: %w", err)
	}
	return nil
}

func (r *DocumentRepository) Get(ctx context.Context, id string) (*domain.Document, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+documentColumns+` FROM documents WHERE id = $1`, id)
	doc, err := scanDocument(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("document %s not found", id)
		}
		return nil, err
	}
	return doc, nil
}

func (r *DocumentRepository) List(ctx context.Context) ([]domain.Document, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+documentColumns+` FROM documents ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list documents: %w", err)
	}
	defer rows.Close()

	var out []domain.Document
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *doc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate documents: %w", err)
	}
	return out, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDocument(row rowScanner) (*domain.Document, error) {
	var (
		doc                                    domain.Document
		kind                                   string
		published, updated, effective, expires string
		entities, categories                   string
	)
	err := row.Scan(
		&doc.ID, &doc.Title, &doc.CanonicalURL, &kind, &doc.Language,
		&published, &updated, &effective, &expires,
		&doc.GeoScope, &doc.Currency, &entities, &categories,
		&doc.AuthorityScore, &doc.SourcePath,
	)
	if err != nil {
		return nil, err
	}
	doc.Kind = domain.ParseDocKind(kind)
	if doc.PublishedAt, err = decodeTime(published); err != nil {
		return nil, fmt.Errorf("decode published_at: %w", err)
	}
	if doc.UpdatedAt, err = decodeTime(updated); err != nil {
		return nil, fmt.Errorf("decode updated_at: %w", err)
	}
	if doc.EffectiveAt, err = decodeTime(effective); err != nil {
		return nil, fmt.Errorf("decode effective_at: %w", err)
	}
	if doc.ExpiresAt, err = decodeTime(expires); err != nil {
		return nil, fmt.Errorf("decode expires_at: %w", err)
	}
	if doc.ProductEntities, err = decodeList(entities); err != nil {
		return nil, fmt.Errorf("decode product entities: %w", err)
	}
	if doc.Categories, err = decodeList(categories); err != nil {
		return nil, fmt.Errorf("decode categories: %w", err)
	}
	return &doc, nil
}

func encodeList(values []string) (string, error) {
	if values == nil {
		values = []string{}
	}
	data, err := json.Marshal(values)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func decodeList(encoded string) ([]string, error) {
	if encoded == "" {
		return []string{}, nil
	}
	var out []string
	if err := json.Unmarshal([]byte(encoded), &out); err != nil {
		return nil, err
	}
	if out == nil {
		out = []string{}
	}
	return out, nil
}

func encodeTime(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

func decodeTime(encoded string) (*time.Time, error) {
	if encoded == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339, encoded)
	if err != nil {
		return nil, err
	}
	return &t, nil
}
