package destcat

// tableSpec describes one destination lookup table and the shape of its
// book-link table. The destination schema is uneven: each table has its
// own id column prefix, the authors table keys on a separate sort column,
// and only the sequences link carries an ordinal. Everything the sync
// needs to know about a table is declared here instead of being derived
// from the table name at runtime.
type tableSpec struct {
	name    string // lookup table; link table is books_<name>
	idCol   string // primary key column
	keyCol  string // unique column in the CREATE TABLE definition
	valCol  string // column matched on upsert
	insCols []string // value columns populated on insert, in order

	// caseInsensitive marks tables whose uniqueness runs under the app's
	// case-insensitive collation. Bulk writes need that collation toggled
	// off because the collation function only exists inside the app.
	caseInsensitive bool

	// hasSeqNumber marks the one link table with an ordinal attribute.
	hasSeqNumber bool

	// extraCols is schema text between the unique column and timestamp,
	// reproduced verbatim when the table definition is rewritten.
	extraCols string
}

var (
	authorsTable = tableSpec{
		name:            "authors",
		idCol:           "aid",
		keyCol:          "namekey",
		valCol:          "name",
		insCols:         []string{"namekey", "name"},
		caseInsensitive: true,
		extraCols: `
    name TEXT NOT NULL,
    ebookid TEXT,`,
	}

	publishersTable = tableSpec{
		name:            "publishers",
		idCol:           "pid",
		keyCol:          "publisher",
		valCol:          "publisher",
		insCols:         []string{"publisher"},
		caseInsensitive: true,
	}

	subjectsTable = tableSpec{
		name:            "subjects",
		idCol:           "sid",
		keyCol:          "subject",
		valCol:          "subject",
		insCols:         []string{"subject"},
		caseInsensitive: true,
	}

	sequencesTable = tableSpec{
		name:            "sequences",
		idCol:           "qid",
		keyCol:          "sequence",
		valCol:          "sequence",
		insCols:         []string{"sequence"},
		caseInsensitive: true,
		hasSeqNumber:    true,
		extraCols: `
    ebookid TEXT,`,
	}

	ebookidsTable = tableSpec{
		name:    "ebookids",
		idCol:   "eid",
		keyCol:  "value",
		valCol:  "value",
		insCols: []string{"scheme", "value"},
	}
)

// collationTables are the tables whose definitions carry the app's
// collation and need the toggle around bulk writes.
var collationTables = []tableSpec{
	authorsTable,
	publishersTable,
	subjectsTable,
	sequencesTable,
}

// lookupTables are all tables maintained by the metadata merge. The
// schema also has a collections table, but the app owns its contents and
// the sync never touches it.
var lookupTables = []tableSpec{
	authorsTable,
	publishersTable,
	subjectsTable,
	sequencesTable,
	ebookidsTable,
}
