package sourcecat

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"github.com/dwaller/shelfsync/internal/domain"
)

// fixtureSchema is the subset of the library catalog the sync reads.
const fixtureSchema = `
CREATE TABLE books (
    id INTEGER PRIMARY KEY,
    title TEXT NOT NULL,
    pubdate TEXT,
    path TEXT NOT NULL,
    series_index REAL,
    last_modified TEXT
);
CREATE TABLE comments (book INTEGER NOT NULL, text TEXT);
CREATE TABLE languages (id INTEGER PRIMARY KEY, lang_code TEXT NOT NULL);
CREATE TABLE books_languages_link (book INTEGER NOT NULL, lang_code INTEGER NOT NULL);
CREATE TABLE authors (id INTEGER PRIMARY KEY, name TEXT NOT NULL, sort TEXT);
CREATE TABLE books_authors_link (book INTEGER NOT NULL, author INTEGER NOT NULL);
CREATE TABLE tags (id INTEGER PRIMARY KEY, name TEXT NOT NULL);
CREATE TABLE books_tags_link (book INTEGER NOT NULL, tag INTEGER NOT NULL);
CREATE TABLE series (id INTEGER PRIMARY KEY, name TEXT NOT NULL);
CREATE TABLE books_series_link (book INTEGER NOT NULL, series INTEGER NOT NULL);
CREATE TABLE publishers (id INTEGER PRIMARY KEY, name TEXT NOT NULL);
CREATE TABLE books_publishers_link (book INTEGER NOT NULL, publisher INTEGER NOT NULL);
CREATE TABLE identifiers (book INTEGER NOT NULL, type TEXT NOT NULL, val TEXT NOT NULL);
CREATE TABLE ratings (id INTEGER PRIMARY KEY, rating INTEGER NOT NULL);
CREATE TABLE books_ratings_link (book INTEGER NOT NULL, rating INTEGER NOT NULL);
CREATE TABLE data (book INTEGER NOT NULL, format TEXT NOT NULL, name TEXT NOT NULL);
`

const fixtureData = `
INSERT INTO books VALUES (1, 'Dune', '1965-08-01 00:00:00+00:00', 'Frank Herbert/Dune (1)', 1.0, '2024-03-01 10:00:00+00:00');
INSERT INTO comments VALUES (1, '<p>A desert planet.</p>');
INSERT INTO languages VALUES (1, 'eng');
INSERT INTO books_languages_link VALUES (1, 1);
INSERT INTO authors VALUES (1, 'Frank Herbert', 'Herbert, Frank');
INSERT INTO books_authors_link VALUES (1, 1);
INSERT INTO tags VALUES (1, 'sci-fi');
INSERT INTO tags VALUES (2, 'classic');
INSERT INTO books_tags_link VALUES (1, 1);
INSERT INTO books_tags_link VALUES (1, 2);
INSERT INTO series VALUES (1, 'Dune');
INSERT INTO books_series_link VALUES (1, 1);
INSERT INTO publishers VALUES (1, 'Chilton Books');
INSERT INTO books_publishers_link VALUES (1, 1);
INSERT INTO identifiers VALUES (1, 'isbn', '9780441013593');
INSERT INTO ratings VALUES (1, 10);
INSERT INTO books_ratings_link VALUES (1, 1);
INSERT INTO data VALUES (1, 'EPUB', 'Dune - Frank Herbert');
INSERT INTO books VALUES (2, 'Untagged', NULL, 'Anon/Untagged (2)', 1.0, NULL);
INSERT INTO data VALUES (2, 'PDF', 'Untagged - Anon');
`

func setupTestLibrary(t *testing.T) *Catalog {
	t.Helper()
	libPath := t.TempDir()
	db, err := sqlx.Open("sqlite", filepath.Join(libPath, "metadata.db"))
	if err != nil {
		t.Fatalf("failed to create fixture database: %v", err)
	}
	if _, err := db.Exec(fixtureSchema); err != nil {
		t.Fatalf("failed to apply fixture schema: %v", err)
	}
	if _, err := db.Exec(fixtureData); err != nil {
		t.Fatalf("failed to load fixture data: %v", err)
	}
	if err := db.Close(); err != nil {
		t.Fatalf("failed to close fixture database: %v", err)
	}

	cat, err := Open(libPath, nil)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	t.Cleanup(func() {
		if err := cat.Close(); err != nil {
			t.Logf("Close error: %v", err)
		}
	})
	return cat
}

func TestMetadata_Live(t *testing.T) {
	cat := setupTestLibrary(t)
	records, err := cat.Metadata(context.Background())
	if err != nil {
		t.Fatalf("Metadata failed: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("Expected 2 records, got %d", len(records))
	}

	byTitle := make(map[string]domain.BookRecord, len(records))
	for _, rec := range records {
		byTitle[rec.Title] = rec
	}
	dune, ok := byTitle["Dune"]
	if !ok {
		t.Fatalf("Dune record missing, got %+v", records)
	}
	if dune.Language != "en" {
		t.Errorf("Expected language en, got %q", dune.Language)
	}
	if dune.Synopsis != "<p>A desert planet.</p>" {
		t.Errorf("Expected raw synopsis, got %q", dune.Synopsis)
	}
	if len(dune.Authors) != 1 || dune.Authors[0].SortKey != "Herbert, Frank" || dune.Authors[0].Name != "Frank Herbert" {
		t.Errorf("Unexpected authors: %+v", dune.Authors)
	}
	if len(dune.Tags) != 2 {
		t.Errorf("Expected 2 tags, got %v", dune.Tags)
	}
	if dune.Series != "Dune" || dune.SeriesIndex != 1.0 {
		t.Errorf("Unexpected series: %q index %v", dune.Series, dune.SeriesIndex)
	}
	if dune.Publisher != "Chilton Books" {
		t.Errorf("Unexpected publisher: %q", dune.Publisher)
	}
	if len(dune.Identifiers) != 1 || dune.Identifiers[0].Scheme != "isbn" || dune.Identifiers[0].Value != "9780441013593" {
		t.Errorf("Unexpected identifiers: %+v", dune.Identifiers)
	}
	if dune.Rating != 10 {
		t.Errorf("Expected rating 10, got %d", dune.Rating)
	}
	expectedCover := filepath.Join(cat.libPath, "Frank Herbert", "Dune (1)", "cover.jpg")
	if dune.CoverPath != expectedCover {
		t.Errorf("Expected cover path %q, got %q", expectedCover, dune.CoverPath)
	}

	bare, ok := byTitle["Untagged"]
	if !ok {
		t.Fatalf("Untagged record missing, got %+v", records)
	}
	if bare.Language != "" || bare.Series != "" || bare.Publisher != "" || bare.Rating != 0 {
		t.Errorf("Expected bare record to have empty lookups: %+v", bare)
	}
	if len(bare.Authors) != 0 || len(bare.Tags) != 0 || len(bare.Identifiers) != 0 {
		t.Errorf("Expected bare record to have no list lookups: %+v", bare)
	}
}

func TestBookFiles_Live(t *testing.T) {
	cat := setupTestLibrary(t)
	files, err := cat.BookFiles(context.Background(), 1)
	if err != nil {
		t.Fatalf("BookFiles failed: %v", err)
	}
	if len(files) != 1 {
		t.Fatalf("Expected 1 file, got %d", len(files))
	}
	if files[0].Name != "Dune - Frank Herbert" || files[0].Format != "epub" {
		t.Errorf("Unexpected file: %+v", files[0])
	}
}

func TestFilePath(t *testing.T) {
	cat := setupTestLibrary(t)
	rec := domain.BookRecord{ID: 1, Dir: "Frank Herbert/Dune (1)"}
	file := domain.BookFile{Name: "Dune - Frank Herbert", Format: "epub"}

	got := cat.FilePath(rec, file)
	want := filepath.Join(cat.libPath, "Frank Herbert", "Dune (1)", "Dune - Frank Herbert.epub")
	if got != want {
		t.Errorf("FilePath = %q, want %q", got, want)
	}
}

func TestFilePath_PreMaterialized(t *testing.T) {
	records := []domain.BookRecord{{
		ID:    1,
		Files: []domain.BookFile{{Name: "/abs/path/book.epub"}},
	}}
	cat := NewFromRecords("/lib", records, nil)

	files, err := cat.BookFiles(context.Background(), 1)
	if err != nil {
		t.Fatalf("BookFiles failed: %v", err)
	}
	if len(files) != 1 {
		t.Fatalf("Expected 1 file, got %d", len(files))
	}
	if got := cat.FilePath(records[0], files[0]); got != "/abs/path/book.epub" {
		t.Errorf("Expected absolute path passthrough, got %q", got)
	}

	missing, err := cat.BookFiles(context.Background(), 99)
	if err != nil {
		t.Fatalf("BookFiles failed: %v", err)
	}
	if len(missing) != 0 {
		t.Errorf("Expected no files for unknown book, got %d", len(missing))
	}
}

func TestMetadata_PreMaterialized(t *testing.T) {
	records := []domain.BookRecord{{ID: 1, Title: "Handed over"}}
	cat := NewFromRecords("/lib", records, nil)

	got, err := cat.Metadata(context.Background())
	if err != nil {
		t.Fatalf("Metadata failed: %v", err)
	}
	if len(got) != 1 || got[0].Title != "Handed over" {
		t.Errorf("Expected supplied records back, got %+v", got)
	}
}

func TestOpen_MissingLibrary(t *testing.T) {
	if _, err := Open(filepath.Join(t.TempDir(), "nope"), nil); err == nil {
		t.Error("Expected error for missing library")
	}
}

func TestLanguageCode(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"eng", "en"},
		{"EN", "en"},
		{"de", "de"},
		{"F", "f"},
		{"", ""},
	}
	for _, tt := range tests {
		if got := LanguageCode(tt.input); got != tt.expected {
			t.Errorf("LanguageCode(%q) = %q, want %q", tt.input, got, tt.expected)
		}
	}
}

func TestModTime(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected float64
		wantErr  bool
	}{
		{
			name:     "whole seconds",
			input:    "2001-01-01 00:00:10+00:00",
			expected: 10,
		},
		{
			name:     "sub second precision",
			input:    "2001-01-01 00:00:10.500000+00:00",
			expected: 10.5,
		},
		{
			name:    "garbage",
			input:   "not a timestamp",
			wantErr: true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ModTime(tt.input)
			if tt.wantErr {
				if err == nil {
					t.Error("Expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("ModTime failed: %v", err)
			}
			if got != tt.expected {
				t.Errorf("ModTime(%q) = %v, want %v", tt.input, got, tt.expected)
			}
		})
	}
}
