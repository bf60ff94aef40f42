// Package destcat owns the destination catalog: the reader app's SQLite
// file, downloaded from the content server at the start of a run and
// re-uploaded at the end. All schema peculiarities live here. The sync
// never inserts book rows; the app creates those when it registers an
// uploaded file, and we update them by content hash.
package destcat

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"github.com/dwaller/shelfsync/internal/constants"
	"github.com/dwaller/shelfsync/internal/domain"
	"github.com/dwaller/shelfsync/internal/logger"
)

// kybEpoch is the destination's timestamp origin.
var kybEpoch = time.Date(2001, time.January, 1, 0, 0, 0, 0, time.UTC)

// collationClause is the app's collation, present on lookup-table unique
// constraints. The collation function only exists inside the app, so it
// must be stripped from the schema before we can write those tables.
const collationClause = " COLLATE swiftCaseInsensitiveCompare"

// CoverUploader pushes a derived cover file to the content server.
// Satisfied by *remotestore.Client.
type CoverUploader interface {
	UploadFile(ctx context.Context, localPath, remoteDir, remoteName string, deleteFirst bool) error
}

// Catalog is the destination catalog adapter.
type Catalog struct {
	db        *sqlx.DB
	dbPath    string
	stripHTML bool
	log       *logger.Logger
}

// Open opens the local working copy of the destination catalog.
func Open(dbPath string, stripHTML bool, log *logger.Logger) (*Catalog, error) {
	if log == nil {
		log = logger.Default()
	}
	db, err := open(dbPath)
	if err != nil {
		return nil, err
	}
	return &Catalog{
		db:        db,
		dbPath:    dbPath,
		stripHTML: stripHTML,
		log:       log.WithComponent("destcat"),
	}, nil
}

func open(dbPath string) (*sqlx.DB, error) {
	db, err := sqlx.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open destination catalog: %w", err)
	}
	// One connection only: pragmas and the writable_schema window must
	// all land on the same connection.
	db.SetMaxOpenConns(1)
	// No WAL here: the file is uploaded wholesale, so state must not be
	// spread across sidecar files.
	if _, err := db.Exec("PRAGMA busy_timeout=30000"); err != nil {
		return nil, fmt.Errorf("failed to set busy timeout: %w", err)
	}
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to open destination catalog %s: %w", dbPath, err)
	}
	return db, nil
}

// Close closes the working copy.
func (c *Catalog) Close() error {
	return c.db.Close()
}

// reopen forces the driver to reparse the schema after sqlite_master has
// been rewritten.
func (c *Catalog) reopen() error {
	if err := c.db.Close(); err != nil {
		return err
	}
	db, err := open(c.dbPath)
	if err != nil {
		return err
	}
	c.db = db
	return nil
}

// SetCollation toggles the app collation on each collation table's
// declared unique constraint by rewriting its definition in
// sqlite_master. Must be off for the duration of bulk writes and back on
// before the final snapshot, or the app will see a schema it did not
// write. Always call in pairs.
func (c *Catalog) SetCollation(ctx context.Context, on bool) error {
	clause := ""
	if on {
		clause = collationClause
	}

	if _, err := c.db.ExecContext(ctx, "PRAGMA writable_schema = 1"); err != nil {
		return fmt.Errorf("failed to enable writable schema: %w", err)
	}
	for _, spec := range collationTables {
		def := fmt.Sprintf(`CREATE TABLE %s
(
    %s INTEGER NOT NULL PRIMARY KEY,
    %s TEXT NOT NULL UNIQUE%s,%s
    timestamp REAL NOT NULL
)`, spec.name, spec.idCol, spec.keyCol, clause, spec.extraCols)
		c.log.Debug("Rewriting table definition", "table", spec.name, "collation", on)
		if _, err := c.db.ExecContext(ctx,
			"UPDATE sqlite_master SET sql = ? WHERE name = ?", def, spec.name); err != nil {
			return fmt.Errorf("failed to rewrite definition of %s: %w", spec.name, err)
		}
	}
	if _, err := c.db.ExecContext(ctx, "PRAGMA writable_schema = 0"); err != nil {
		return fmt.Errorf("failed to disable writable schema: %w", err)
	}
	return c.reopen()
}

// bookIDs returns every book row matching the content hash. The schema
// declares md5 unique, but nothing stops a duplicate import from slipping
// through; the merge applies to all matches rather than silently picking
// one.
func (c *Catalog) bookIDs(ctx context.Context, md5 string) ([]int64, error) {
	var bids []int64
	err := c.db.SelectContext(ctx, &bids, "SELECT bid FROM books WHERE md5 = ?", md5)
	if err != nil {
		return nil, fmt.Errorf("failed to look up book by hash: %w", err)
	}
	return bids, nil
}

// MD5Exists reports whether a content hash is already registered in the
// books table, i.e. the app already has this file.
func (c *Catalog) MD5Exists(ctx context.Context, md5 string) (bool, error) {
	var exists bool
	err := c.db.GetContext(ctx,
		&exists, "SELECT EXISTS (SELECT 1 FROM books WHERE md5 = ?)", md5)
	if err != nil {
		return false, fmt.Errorf("failed to check hash existence: %w", err)
	}
	return exists, nil
}

// ModTime returns the destination's timestamp for a book. Read but not
// yet acted on; see sourcecat.ModTime.
func (c *Catalog) ModTime(ctx context.Context, md5 string) (float64, error) {
	var ts float64
	err := c.db.GetContext(ctx, &ts, "SELECT timestamp FROM books WHERE md5 = ?", md5)
	if err != nil {
		return 0, fmt.Errorf("failed to read book timestamp: %w", err)
	}
	return ts, nil
}

// Update performs the metadata merge for one book: refreshes the
// metadata row, then wholesale-replaces the book's lookup links and
// review. A hash with no matching book row is a no-op; the file upload
// has not been registered by the app yet and will be picked up on the
// next run.
func (c *Catalog) Update(ctx context.Context, rec domain.BookRecord, md5 string) error {
	bids, err := c.bookIDs(ctx, md5)
	if err != nil {
		return err
	}
	if len(bids) == 0 {
		c.log.Debug("no destination row for hash, skipping", "md5", md5, "title", rec.Title)
		return nil
	}

	published := rec.PubDate
	if len(published) > 10 {
		published = published[:10]
	}
	annotation := rec.Synopsis
	if c.stripHTML {
		annotation = StripHTML(annotation)
	}
	thumbnail, aspectRatio := c.thumbnail(rec.CoverPath)

	c.log.Info("Updating destination catalog", "title", rec.Title, "md5", md5)
	_, err = c.db.ExecContext(ctx, `UPDATE metadata
SET title = ?,
    published = ?,
    language = ?,
    annotation = ?,
    thumbnail = ?,
    aspectratio = ?,
    coverhash = NULL
WHERE bid IN (SELECT bid FROM books WHERE md5 = ?)`,
		rec.Title, published, rec.Language, annotation, thumbnail, aspectRatio, md5)
	if err != nil {
		return fmt.Errorf("failed to update metadata row: %w", err)
	}

	for _, bid := range bids {
		if err := c.deleteBookLinks(ctx, bid); err != nil {
			return err
		}
		if err := c.deleteReview(ctx, bid); err != nil {
			return err
		}
		if err := c.insertBookLinks(ctx, bid, rec); err != nil {
			return err
		}
		if err := c.insertReview(ctx, bid, rec); err != nil {
			return err
		}
	}
	return nil
}

// deleteBookLinks clears the book's rows from every link table. The app
// may have created its own entries from data inside the file; the source
// catalog is authoritative.
func (c *Catalog) deleteBookLinks(ctx context.Context, bid int64) error {
	for _, spec := range lookupTables {
		_, err := c.db.ExecContext(ctx,
			fmt.Sprintf("DELETE FROM books_%s WHERE bid = ?", spec.name), bid)
		if err != nil {
			return fmt.Errorf("failed to clear books_%s: %w", spec.name, err)
		}
	}
	return nil
}

func (c *Catalog) deleteReview(ctx context.Context, bid int64) error {
	if _, err := c.db.ExecContext(ctx, "DELETE FROM reviews WHERE bid = ?", bid); err != nil {
		return fmt.Errorf("failed to clear review: %w", err)
	}
	return nil
}

// lookupEntry is one value destined for a lookup table.
type lookupEntry struct {
	values []string // insert column values, in spec.insCols order
	match  string   // value matched against spec.valCol
	seq    int      // sequences ordinal
}

// entriesFor maps the normalized record onto a table's entries. Entries
// with a blank value or blank required companion are skipped.
func entriesFor(spec tableSpec, rec domain.BookRecord) []lookupEntry {
	var entries []lookupEntry
	switch spec.name {
	case "authors":
		for _, a := range rec.Authors {
			if a.Name == "" || a.SortKey == "" {
				continue
			}
			entries = append(entries, lookupEntry{values: []string{a.SortKey, a.Name}, match: a.Name})
		}
	case "publishers":
		if rec.Publisher != "" {
			entries = append(entries, lookupEntry{values: []string{rec.Publisher}, match: rec.Publisher})
		}
	case "subjects":
		for _, tag := range rec.Tags {
			if tag == "" {
				continue
			}
			entries = append(entries, lookupEntry{values: []string{tag}, match: tag})
		}
	case "sequences":
		if rec.Series != "" {
			entries = append(entries, lookupEntry{
				values: []string{rec.Series},
				match:  rec.Series,
				seq:    int(rec.SeriesIndex),
			})
		}
	case "ebookids":
		for _, id := range rec.Identifiers {
			if id.Value == "" {
				continue
			}
			code, ok := constants.SchemeCodes[strings.ToLower(id.Scheme)]
			if !ok {
				code = constants.SchemeCodeDefault
			}
			entries = append(entries, lookupEntry{values: []string{code, id.Value}, match: id.Value})
		}
	}
	return entries
}

// insertBookLinks upserts each of the record's values into its lookup
// table and links it to the book.
func (c *Catalog) insertBookLinks(ctx context.Context, bid int64, rec domain.BookRecord) error {
	for _, spec := range lookupTables {
		for _, entry := range entriesFor(spec, rec) {
			id, err := c.upsertLookup(ctx, spec, entry)
			if err != nil {
				return err
			}
			if err := c.linkBook(ctx, spec, bid, id, entry.seq); err != nil {
				return err
			}
		}
	}
	return nil
}

// upsertLookup finds a lookup row by value under the table's declared
// collation, inserting it when absent, and returns its id.
func (c *Catalog) upsertLookup(ctx context.Context, spec tableSpec, entry lookupEntry) (int64, error) {
	// LIKE stands in for the app's case-insensitive collation while the
	// schema has it stripped.
	op := "="
	if spec.caseInsensitive {
		op = "LIKE"
	}
	var id int64
	err := c.db.GetContext(ctx, &id,
		fmt.Sprintf("SELECT %s FROM %s WHERE %s %s ?", spec.idCol, spec.name, spec.valCol, op),
		entry.match)
	if err == nil {
		return id, nil
	}
	if err != sql.ErrNoRows {
		return 0, fmt.Errorf("failed to look up %s value: %w", spec.name, err)
	}

	cols := strings.Join(spec.insCols, ", ")
	marks := strings.TrimSuffix(strings.Repeat("?, ", len(spec.insCols)), ", ")
	args := make([]interface{}, 0, len(entry.values)+1)
	for _, v := range entry.values {
		args = append(args, v)
	}
	args = append(args, kybNow())

	res, err := c.db.ExecContext(ctx,
		fmt.Sprintf("INSERT INTO %s (%s, timestamp) VALUES (%s, ?)", spec.name, cols, marks),
		args...)
	if err != nil {
		return 0, fmt.Errorf("failed to insert into %s: %w", spec.name, err)
	}
	id, err = res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to read %s insert id: %w", spec.name, err)
	}
	c.log.Debug("inserted lookup value", "table", spec.name, "value", entry.match, "id", id)
	return id, nil
}

func (c *Catalog) linkBook(ctx context.Context, spec tableSpec, bid, id int64, seq int) error {
	var err error
	if spec.hasSeqNumber {
		_, err = c.db.ExecContext(ctx,
			fmt.Sprintf("INSERT OR REPLACE INTO books_%s (bid, %s, seqnumber) VALUES (?, ?, ?)",
				spec.name, spec.idCol),
			bid, id, seq)
	} else {
		_, err = c.db.ExecContext(ctx,
			fmt.Sprintf("INSERT OR REPLACE INTO books_%s (bid, %s) VALUES (?, ?)",
				spec.name, spec.idCol),
			bid, id)
	}
	if err != nil {
		return fmt.Errorf("failed to link book into books_%s: %w", spec.name, err)
	}
	return nil
}

// insertReview records the source rating, when there is one.
func (c *Catalog) insertReview(ctx context.Context, bid int64, rec domain.BookRecord) error {
	if rec.Rating == 0 {
		return nil
	}
	_, err := c.db.ExecContext(ctx,
		"INSERT OR REPLACE INTO reviews (bid, rating, timestamp) VALUES (?, ?, ?)",
		bid, rec.Rating, kybNow())
	if err != nil {
		return fmt.Errorf("failed to insert review: %w", err)
	}
	return nil
}

// CleanUp garbage-collects lookup rows no longer referenced by any link
// table. Idempotent; running it twice deletes nothing the second time.
func (c *Catalog) CleanUp(ctx context.Context) error {
	for _, spec := range lookupTables {
		c.log.Info("Clearing unused entries", "table", spec.name)
		_, err := c.db.ExecContext(ctx, fmt.Sprintf(
			"DELETE FROM %s WHERE %s NOT IN (SELECT %s FROM books_%s)",
			spec.name, spec.idCol, spec.idCol, spec.name))
		if err != nil {
			return fmt.Errorf("failed to clean up %s: %w", spec.name, err)
		}
	}
	return nil
}

// FileEntry is one destination file with its owning book's hash, used to
// decide which destination-only files to pull back.
type FileEntry struct {
	Path string `db:"path"`
	MD5  string `db:"md5"`
}

// Metadata lists every destination file with its content hash.
func (c *Catalog) Metadata(ctx context.Context) ([]FileEntry, error) {
	var entries []FileEntry
	err := c.db.SelectContext(ctx, &entries, `SELECT path,
(
    SELECT md5
    FROM books
    WHERE bid = files.bid
) AS md5
FROM files`)
	if err != nil {
		return nil, fmt.Errorf("failed to list destination files: %w", err)
	}
	return entries, nil
}

// SendCoverToServer uploads the book's cover as $<bid>.jpg into the
// covers directory, replacing any previous copy. No matching book row is
// a quiet no-op, same as Update.
func (c *Catalog) SendCoverToServer(ctx context.Context, up CoverUploader, rec domain.BookRecord, md5 string) error {
	bids, err := c.bookIDs(ctx, md5)
	if err != nil {
		return err
	}
	if len(bids) == 0 || rec.CoverPath == "" {
		return nil
	}
	for _, bid := range bids {
		remoteName := fmt.Sprintf("$%d%s", bid, constants.ExtJPG)
		if err := up.UploadFile(ctx, rec.CoverPath, constants.RemoteCoversDir, remoteName, true); err != nil {
			return err
		}
	}
	return nil
}

// kybNow is the current time in the destination's epoch convention.
func kybNow() float64 {
	return time.Since(kybEpoch).Seconds()
}
