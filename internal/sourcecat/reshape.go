package sourcecat

import (
	"path/filepath"
	"sort"

	"github.com/dwaller/shelfsync/internal/constants"
	"github.com/dwaller/shelfsync/internal/domain"
)

// ReshapeRaw converts the loosely-typed per-book maps an embedding
// collaborator exports into normalized records: the author sort-map is
// flattened to ordered pairs, series and publisher scalars are carried
// over, the language list is reduced to a two-letter code, and the
// identifier map becomes ordered pairs. Map-backed fields are emitted in
// sorted key order so repeated runs see the same record.
func ReshapeRaw(raw []map[string]interface{}) []domain.BookRecord {
	records := make([]domain.BookRecord, 0, len(raw))
	for _, item := range raw {
		rec := domain.BookRecord{
			ID:           asInt64(item["id"]),
			Title:        asString(item["title"]),
			PubDate:      asString(item["pubdate"]),
			Synopsis:     asString(item["comments"]),
			Series:       asString(item["series"]),
			SeriesIndex:  asFloat(item["series_index"]),
			Publisher:    asString(item["publisher"]),
			Rating:       int(asInt64(item["rating"])),
			Tags:         asStrings(item["tags"]),
			LastModified: asString(item["last_modified"]),
		}

		if langs := asStrings(item["languages"]); len(langs) > 0 {
			rec.Language = LanguageCode(langs[0])
		}

		for _, key := range sortedKeys(asMap(item["author_sort_map"])) {
			rec.Authors = append(rec.Authors, domain.AuthorRef{
				SortKey: asString(asMap(item["author_sort_map"])[key]),
				Name:    key,
			})
		}

		idents := asMap(item["identifiers"])
		for _, scheme := range sortedKeys(idents) {
			rec.Identifiers = append(rec.Identifiers, domain.Identifier{
				Scheme: scheme,
				Value:  asString(idents[scheme]),
			})
		}

		for _, p := range asStrings(item["paths"]) {
			rec.Files = append(rec.Files, domain.BookFile{Name: p})
		}
		if len(rec.Files) > 0 {
			rec.CoverPath = filepath.Join(filepath.Dir(rec.Files[0].Name), constants.CoverFileName)
		}

		records = append(records, rec)
	}
	return records
}

func asString(v interface{}) string {
	s, _ := v.(string)
	return s
}

func asInt64(v interface{}) int64 {
	switch n := v.(type) {
	case int64:
		return n
	case int:
		return int64(n)
	case float64:
		return int64(n)
	}
	return 0
}

func asFloat(v interface{}) float64 {
	switch n := v.(type) {
	case float64:
		return n
	case int:
		return float64(n)
	case int64:
		return float64(n)
	}
	return 0
}

func asStrings(v interface{}) []string {
	switch vals := v.(type) {
	case []string:
		return vals
	case []interface{}:
		out := make([]string, 0, len(vals))
		for _, item := range vals {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}

func asMap(v interface{}) map[string]interface{} {
	switch m := v.(type) {
	case map[string]interface{}:
		return m
	case map[string]string:
		out := make(map[string]interface{}, len(m))
		for k, val := range m {
			out[k] = val
		}
		return out
	}
	return nil
}

func sortedKeys(m map[string]interface{}) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
