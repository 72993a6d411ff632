package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	"github.com/emad-noorizadeh/eval-rag/internal/core/domain"
)

var documentColumnNames = []string{
	"id", "title", "canonical_url", "doc_kind", "language",
	"published_at", "updated_at", "effective_at", "expires_at",
	"geo_scope", "currency", "product_entities", "categories",
	"authority_score", "source_path",
}

func TestPutEncodesListFieldsAsJSON(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()
	repo := NewDocumentRepository(db)

	updated := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	doc := domain.Document{
		ID:              "doc-1",
		Title:           "Preferred Rewards tiers",
		Kind:            domain.KindDisclosure,
		Language:        "en",
		UpdatedAt:       &updated,
		Currency:        "USD",
		ProductEntities: []string{"Preferred Rewards", "Gold tier"},
		Categories:      []string{"banking", "rewards"},
		AuthorityScore:  0.9,
	}

	mock.ExpectExec("INSERT INTO documents").
		WithArgs(
			"doc-1", "Preferred Rewards tiers", "", "disclosure", "en",
			"", "2026-03-01T12:00:00Z", "", "",
			"", "USD",
			`["Preferred Rewards","Gold tier"]`,
			`["banking","rewards"]`,
			0.9, "",
		).
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := repo.Put(context.Background(), doc); err != nil {
		t.Fatalf("Put() error = %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestPutRejectsOutOfRangeAuthority(t *testing.T) {
	db, _, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()
	repo := NewDocumentRepository(db)

	err = repo.Put(context.Background(), domain.Document{ID: "doc-1", AuthorityScore: 1.7})
	if !domain.IsKind(err, domain.ErrInvalidInput) {
		t.Fatalf("expected InvalidInput, got %v", err)
	}
}

func TestGetRestoresListsAndTimes(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()
	repo := NewDocumentRepository(db)

	rows := sqlmock.NewRows(documentColumnNames).AddRow(
		"doc-1", "FX wire fees", "https://example.com/fx", "faq", "en",
		"2026-01-10T00:00:00Z", "", "", "",
		"US", "USD", `["FX wires"]`, `["fees"]`, 0.8, "data/fx.md",
	)
	mock.ExpectQuery("SELECT (.+) FROM documents WHERE id").WithArgs("doc-1").WillReturnRows(rows)

	doc, err := repo.Get(context.Background(), "doc-1")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if doc.Kind != domain.KindFAQ {
		t.Fatalf("kind = %s", doc.Kind)
	}
	if len(doc.ProductEntities) != 1 || doc.ProductEntities[0] != "FX wires" {
		t.Fatalf("product entities not reverse-parsed: %v", doc.ProductEntities)
	}
	if len(doc.Categories) != 1 || doc.Categories[0] != "fees" {
		t.Fatalf("categories not reverse-parsed: %v", doc.Categories)
	}
	if doc.PublishedAt == nil || !doc.PublishedAt.Equal(time.Date(2026, 1, 10, 0, 0, 0, 0, time.UTC)) {
		t.Fatalf("published_at = %v", doc.PublishedAt)
	}
	// Empty string means absent, not zero time.
	if doc.UpdatedAt != nil {
		t.Fatalf("updated_at should be nil for empty string, got %v", doc.UpdatedAt)
	}
}

func TestGetUnknownDocument(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()
	repo := NewDocumentRepository(db)

	mock.ExpectQuery("SELECT (.+) FROM documents WHERE id").
		WithArgs("nope").
		WillReturnRows(sqlmock.NewRows(documentColumnNames))

	if _, err := repo.Get(context.Background(), "nope"); err == nil {
		t.Fatalf("expected error for unknown document")
	}
}

func TestListOrdersByID(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()
	repo := NewDocumentRepository(db)

	rows := sqlmock.NewRows(documentColumnNames).
		AddRow("a", "A", "", "other", "", "", "", "", "", "", "", "[]", "[]", 0.5, "").
		AddRow("b", "B", "", "other", "", "", "", "", "", "", "", "[]", "[]", 0.5, "")
	mock.ExpectQuery("SELECT (.+) FROM documents ORDER BY id").WillReturnRows(rows)

	docs, err := repo.List(context.Background())
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(docs) != 2 || docs[0].ID != "a" || docs[1].ID != "b" {
		t.Fatalf("unexpected list: %+v", docs)
	}
}

func TestDocumentRoundTripThroughEncoding(t *testing.T) {
	entities := []string{"Preferred Deposits", "Gold tier"}
	encoded, err := encodeList(entities)
	if err != nil {
		t.Fatalf("encodeList: %v", err)
	}
	decoded, err := decodeList(encoded)
	if err != nil {
		t.Fatalf("decodeList: %v", err)
	}
	if len(decoded) != 2 || decoded[0] != entities[0] || decoded[1] != entities[1] {
		t.Fatalf("round trip mismatch: %v", decoded)
	}

	if got, _ := decodeList(""); len(got) != 0 || got == nil {
		t.Fatalf("empty string must decode to empty list, got %v", got)
	}

	now := time.Date(2026, 8, 5, 10, 30, 0, 0, time.UTC)
	back, err := decodeTime(encodeTime(&now))
	if err != nil || back == nil || !back.Equal(now) {
		t.Fatalf("time round trip: %v %v", back, err)
	}
	if got, _ := decodeTime(""); got != nil {
		t.Fatalf("empty time must decode to nil")
	}
}
