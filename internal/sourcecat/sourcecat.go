// Package sourcecat reads the source library catalog and produces
// normalized book records. It has two modes: live queries against the
// library's metadata.db, or a pre-materialized record set handed over by
// an embedding collaborator that already holds the metadata in memory.
// Downstream code cannot tell the modes apart.
package sourcecat

import (
	"context"
	"database/sql"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"github.com/dwaller/shelfsync/internal/constants"
	"github.com/dwaller/shelfsync/internal/domain"
	"github.com/dwaller/shelfsync/internal/logger"
)

// kybEpoch is the destination catalog's timestamp origin.
var kybEpoch = time.Date(2001, time.January, 1, 0, 0, 0, 0, time.UTC)

// Catalog reads book metadata from the source library.
type Catalog struct {
	db      *sqlx.DB // nil in pre-materialized mode
	libPath string
	records []domain.BookRecord
	log     *logger.Logger
}

// Open opens the library's metadata.db for live queries. The source
// catalog is never written to.
func Open(libPath string, log *logger.Logger) (*Catalog, error) {
	if log == nil {
		log = logger.Default()
	}
	dbPath := filepath.Join(libPath, constants.SourceDBName)
	db, err := sqlx.Open("sqlite", dbPath+"?mode=ro")
	if err != nil {
		return nil, fmt.Errorf("failed to open source catalog: %w", err)
	}
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to open source catalog %s: %w", dbPath, err)
	}
	log.Debug("Opened source catalog", "path", dbPath)
	return &Catalog{
		db:      db,
		libPath: libPath,
		log:     log.WithComponent("sourcecat"),
	}, nil
}

// NewFromRecords builds a pre-materialized catalog from records the
// embedding collaborator assembled itself, skipping the database
// round-trip entirely.
func NewFromRecords(libPath string, records []domain.BookRecord, log *logger.Logger) *Catalog {
	if log == nil {
		log = logger.Default()
	}
	return &Catalog{
		libPath: libPath,
		records: records,
		log:     log.WithComponent("sourcecat"),
	}
}

// Close releases the database connection in live mode.
func (c *Catalog) Close() error {
	if c.db == nil {
		return nil
	}
	return c.db.Close()
}

type bookRow struct {
	ID           int64           `db:"id"`
	Title        string          `db:"title"`
	PubDate      sql.NullString  `db:"pubdate"`
	Path         string          `db:"path"`
	SeriesIndex  sql.NullFloat64 `db:"series_index"`
	LastModified sql.NullString  `db:"last_modified"`
	Language     sql.NullString  `db:"language"`
	Comments     sql.NullString  `db:"comments"`
}

const metadataSQL = `SELECT b.id, b.title, b.pubdate, b.path, b.series_index, b.last_modified,
(
    SELECT l.lang_code FROM languages AS l
    JOIN books_languages_link AS bll ON bll.lang_code = l.id
    WHERE bll.book = b.id
    GROUP BY bll.book
) AS language,
(
    SELECT text
    FROM comments
    WHERE book = b.id
) AS comments
FROM books AS b`

// Metadata returns the full set of normalized records for the run. In
// pre-materialized mode it simply hands back the supplied records.
func (c *Catalog) Metadata(ctx context.Context) ([]domain.BookRecord, error) {
	if c.db == nil {
		return c.records, nil
	}

	var rows []bookRow
	if err := c.db.SelectContext(ctx, &rows, metadataSQL); err != nil {
		return nil, fmt.Errorf("failed to query source metadata: %w", err)
	}

	records := make([]domain.BookRecord, 0, len(rows))
	for _, row := range rows {
		rec := domain.BookRecord{
			ID:           row.ID,
			Title:        row.Title,
			PubDate:      row.PubDate.String,
			Language:     LanguageCode(row.Language.String),
			Synopsis:     row.Comments.String,
			SeriesIndex:  row.SeriesIndex.Float64,
			Dir:          row.Path,
			CoverPath:    filepath.Join(c.libPath, filepath.FromSlash(row.Path), constants.CoverFileName),
			LastModified: row.LastModified.String,
		}
		if err := c.fillLookups(ctx, &rec); err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, nil
}

func (c *Catalog) fillLookups(ctx context.Context, rec *domain.BookRecord) error {
	type authorRow struct {
		Name string `db:"name"`
		Sort string `db:"sort"`
	}
	var authors []authorRow
	err := c.db.SelectContext(ctx, &authors, `SELECT name, sort FROM authors
    WHERE id IN (SELECT author FROM books_authors_link WHERE book = ?)`, rec.ID)
	if err != nil {
		return fmt.Errorf("failed to query authors for book %d: %w", rec.ID, err)
	}
	for _, a := range authors {
		rec.Authors = append(rec.Authors, domain.AuthorRef{SortKey: a.Sort, Name: a.Name})
	}

	err = c.db.SelectContext(ctx, &rec.Tags, `SELECT name FROM tags
    WHERE id IN (SELECT tag FROM books_tags_link WHERE book = ?)`, rec.ID)
	if err != nil {
		return fmt.Errorf("failed to query tags for book %d: %w", rec.ID, err)
	}

	var series []string
	err = c.db.SelectContext(ctx, &series, `SELECT name FROM series
    WHERE id IN (SELECT series FROM books_series_link WHERE book = ?)`, rec.ID)
	if err != nil {
		return fmt.Errorf("failed to query series for book %d: %w", rec.ID, err)
	}
	if len(series) > 0 {
		rec.Series = series[0]
	}

	var publishers []string
	err = c.db.SelectContext(ctx, &publishers, `SELECT name FROM publishers
    WHERE id IN (SELECT publisher FROM books_publishers_link WHERE book = ?)`, rec.ID)
	if err != nil {
		return fmt.Errorf("failed to query publisher for book %d: %w", rec.ID, err)
	}
	if len(publishers) > 0 {
		rec.Publisher = publishers[0]
	}

	type identRow struct {
		Type string `db:"type"`
		Val  string `db:"val"`
	}
	var idents []identRow
	err = c.db.SelectContext(ctx, &idents, `SELECT type, val FROM identifiers WHERE book = ?`, rec.ID)
	if err != nil {
		return fmt.Errorf("failed to query identifiers for book %d: %w", rec.ID, err)
	}
	for _, id := range idents {
		rec.Identifiers = append(rec.Identifiers, domain.Identifier{Scheme: id.Type, Value: id.Val})
	}

	var ratings []int
	err = c.db.SelectContext(ctx, &ratings, `SELECT rating FROM ratings
    WHERE id IN (SELECT rating FROM books_ratings_link WHERE book = ?)`, rec.ID)
	if err != nil {
		return fmt.Errorf("failed to query rating for book %d: %w", rec.ID, err)
	}
	if len(ratings) > 0 {
		rec.Rating = ratings[0]
	}
	return nil
}

// BookFiles returns the on-disk formats for a book. In pre-materialized
// mode file names are already absolute paths.
func (c *Catalog) BookFiles(ctx context.Context, bookID int64) ([]domain.BookFile, error) {
	if c.db == nil {
		for _, rec := range c.records {
			if rec.ID == bookID {
				return rec.Files, nil
			}
		}
		return nil, nil
	}
	var files []domain.BookFile
	err := c.db.SelectContext(ctx, &files, `SELECT name AS filename, LOWER(format) AS ext
FROM data
WHERE book = ?`, bookID)
	if err != nil {
		return nil, fmt.Errorf("failed to query files for book %d: %w", bookID, err)
	}
	return files, nil
}

// FilePath resolves a BookFile to an absolute path on disk.
func (c *Catalog) FilePath(rec domain.BookRecord, file domain.BookFile) string {
	if c.db == nil {
		// Pre-materialized records carry absolute paths.
		return file.Name
	}
	return filepath.Join(c.libPath, filepath.FromSlash(rec.Dir), file.Name+"."+file.Format)
}

// WriteBack would push destination metadata back into the source catalog.
// Sync is one-directional for now, so this is a deliberate no-op hook.
func (c *Catalog) WriteBack(ctx context.Context, rec domain.BookRecord) error {
	return nil
}

// LanguageCode reduces a source language entry to the two-letter
// lowercase code the destination stores, or "" when absent.
func LanguageCode(lang string) string {
	if lang == "" {
		return ""
	}
	if len(lang) > 2 {
		lang = lang[:2]
	}
	return strings.ToLower(lang)
}

// Timestamp layouts the source catalog emits, with and without
// sub-second precision.
const (
	modTimeLayout     = "2006-01-02 15:04:05+00:00"
	modTimeLayoutFrac = "2006-01-02 15:04:05.000000+00:00"
)

// ModTime converts a source-catalog timestamp string into the
// destination's epoch convention: seconds since 2001-01-01T00:00:00Z.
// Computed for future timestamp-based reconciliation; the destination app
// does not maintain its own timestamps reliably enough to act on yet.
func ModTime(lastModified string) (float64, error) {
	stamp, err := time.Parse(modTimeLayout, lastModified)
	if err != nil {
		stamp, err = time.Parse(modTimeLayoutFrac, lastModified)
		if err != nil {
			return 0, fmt.Errorf("unrecognized timestamp %q: %w", lastModified, err)
		}
	}
	return stamp.Sub(kybEpoch).Seconds(), nil
}
