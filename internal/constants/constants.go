// Package constants contains application-wide constants to avoid magic numbers and strings.
package constants

import "time"

// Application defaults
const (
	DefaultServerURL = "http://127.0.0.1:8080"
	DefaultLogLevel  = "info"
	DefaultLogFormat = "text"
)

// Remote content-server paths. The reader app fixes these; they are not
// configurable on the device.
const (
	RemoteDBPath    = "/$App/db.sqlite"
	RemoteDBDir     = "/$App/"
	RemoteBooksDir  = "/Books/"
	RemoteCoversDir = "/$User/covers/"
)

// Transfer policy
const (
	UploadAttempts     = 5
	UploadRetryBackoff = 1 * time.Second
	DefaultHTTPTimeout = 30 * time.Second
)

// SettleWait is how long the file pass waits after uploads so the reader
// app can register the new files before metadata is written.
const SettleWait = 20 * time.Second

// Thumbnail bounding box used by the reader app's shelf view.
const (
	ThumbWidth  = 74
	ThumbHeight = 105
)

// ThumbJPEGQuality is the re-encode quality for derived thumbnails.
const ThumbJPEGQuality = 85

// SchemeCodes maps source identifier schemes to the reader app's numeric
// scheme codes. Unknown schemes fall back to SchemeCodeDefault.
var SchemeCodes = map[string]string{
	"isbn":   "10",
	"amazon": "15",
	"asin":   "15",
	"oclc":   "12",
}

// SchemeCodeDefault is used for identifier schemes without a known code.
const SchemeCodeDefault = "0"

// File names and extensions
const (
	SourceDBName  = "metadata.db"
	CoverFileName = "cover.jpg"
	ExtJPG        = ".jpg"
)

// File Permissions
const (
	DirPermissions  = 0755
	FilePermissions = 0644
)
