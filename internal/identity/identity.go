// Package identity computes content hashes for book files. The hash is
// the only correlation key between the source and destination catalogs,
// so it must be stable across runs and machines for the same bytes.
package identity

import (
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"io"
	"os"

	"github.com/dwaller/shelfsync/internal/domain"
)

// Hash returns the hex MD5 digest of the file at path. MD5 is what the
// reader app stores in its books table, so the choice is fixed by the
// destination schema, not by us.
func Hash(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("%w: open %s: %v", domain.ErrIntegrity, path, err)
	}
	defer f.Close()

	h := md5.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", fmt.Errorf("%w: read %s: %v", domain.ErrIntegrity, path, err)
	}

	return hex.EncodeToString(h.Sum(nil)), nil
}

// HashBytes returns the hex MD5 digest of data. Used where the caller
// already holds the file contents in memory.
func HashBytes(data []byte) string {
	sum := md5.Sum(data)
	return hex.EncodeToString(sum[:])
}
