// Package syncer drives the two-pass sync: first files, then metadata.
// One logical worker processes one book at a time; the only concurrency
// is the embedding caller consuming progress events. Concurrent runs
// against the same destination catalog are the caller's job to prevent.
package syncer

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/dwaller/shelfsync/internal/constants"
	"github.com/dwaller/shelfsync/internal/destcat"
	"github.com/dwaller/shelfsync/internal/domain"
	"github.com/dwaller/shelfsync/internal/identity"
	"github.com/dwaller/shelfsync/internal/logger"
)

// Remote is the content-server surface the syncer needs. Satisfied by
// *remotestore.Client.
type Remote interface {
	Probe(ctx context.Context) error
	DownloadDBSnapshot(ctx context.Context, remotePath, localPath string) bool
	UploadDBSnapshot(ctx context.Context, localDBPath string) error
	UploadFile(ctx context.Context, localPath, remoteDir, remoteName string, deleteFirst bool) error
	DownloadFile(ctx context.Context, remotePath, localPath string) error
}

// Source is the source-catalog surface. Satisfied by *sourcecat.Catalog.
type Source interface {
	Metadata(ctx context.Context) ([]domain.BookRecord, error)
	BookFiles(ctx context.Context, bookID int64) ([]domain.BookFile, error)
	FilePath(rec domain.BookRecord, file domain.BookFile) string
}

// Destination is the destination-catalog surface. Satisfied by
// *destcat.Catalog. The catalog file is replaced between passes, so the
// syncer opens a fresh adapter per pass through OpenDest.
type Destination interface {
	SetCollation(ctx context.Context, on bool) error
	MD5Exists(ctx context.Context, md5 string) (bool, error)
	Update(ctx context.Context, rec domain.BookRecord, md5 string) error
	SendCoverToServer(ctx context.Context, up destcat.CoverUploader, rec domain.BookRecord, md5 string) error
	CleanUp(ctx context.Context) error
	Metadata(ctx context.Context) ([]destcat.FileEntry, error)
	Close() error
}

// Syncer coordinates the other components for one run.
type Syncer struct {
	Remote   Remote
	Source   Source
	OpenDest func(dbPath string) (Destination, error)

	// LocalDBPath is where the working copy of the destination catalog
	// lives for the duration of the run.
	LocalDBPath string

	// DownloadDir, when set, receives destination-only files.
	DownloadDir string

	Progress domain.ProgressFunc
	Log      *logger.Logger

	// Hash is swappable for tests; defaults to identity.Hash.
	Hash func(path string) (string, error)

	// SettleWait is the pause after the file pass while the reader app
	// registers uploaded files.
	SettleWait time.Duration

	runID string
}

// New creates a syncer with defaults filled in.
func New(remote Remote, source Source, openDest func(string) (Destination, error), log *logger.Logger) *Syncer {
	if log == nil {
		log = logger.Default()
	}
	return &Syncer{
		Remote:      remote,
		Source:      source,
		OpenDest:    openDest,
		LocalDBPath: filepath.Join(os.TempDir(), "db.sqlite"),
		Log:         log.WithComponent("syncer"),
		Hash:        identity.Hash,
		SettleWait:  constants.SettleWait,
	}
}

func (s *Syncer) emit(ev domain.ProgressEvent) {
	if s.Progress == nil {
		return
	}
	ev.RunID = s.runID
	s.Progress(ev)
}

func (s *Syncer) progress(phase string, count, total int) {
	s.emit(domain.ProgressEvent{Type: domain.EventProgress, Phase: phase, Count: count, Total: total})
}

// Run executes a full sync. Fatal errors (no server, no snapshot) abort
// before any snapshot upload; per-book failures are logged and skipped.
// Cancellation is honored between books, leaving a valid prefix of the
// sync applied.
func (s *Syncer) Run(ctx context.Context) error {
	s.runID = uuid.NewString()

	if err := s.Remote.Probe(ctx); err != nil {
		s.Log.Error("content server unreachable", "error", err)
		s.emit(domain.ProgressEvent{Type: domain.EventNoServer})
		return err
	}

	if _, err := s.runPass(ctx, domain.PhaseFileSync); err != nil {
		return err
	}

	seen, err := s.runPass(ctx, domain.PhaseMetadataSync)
	if err != nil {
		return err
	}

	if s.DownloadDir != "" {
		if err := s.pullMissing(ctx, seen); err != nil {
			return err
		}
	}

	if err := s.restoreCollation(ctx); err != nil {
		return err
	}

	s.progress(domain.PhaseUploadingDB, 0, 1)
	if err := s.Remote.UploadDBSnapshot(ctx, s.LocalDBPath); err != nil {
		return fmt.Errorf("failed to upload catalog snapshot: %w", err)
	}
	s.progress(domain.PhaseUploadingDB, 1, 1)

	s.emit(domain.ProgressEvent{Type: domain.EventDone})
	s.Log.Info("All done")
	return nil
}

// runPass downloads a fresh catalog snapshot and walks every source book
// once. The file pass uploads missing files; the metadata pass merges
// metadata, pushes covers, and returns the set of source hashes.
func (s *Syncer) runPass(ctx context.Context, phase string) (map[string]bool, error) {
	if !s.Remote.DownloadDBSnapshot(ctx, constants.RemoteDBPath, s.LocalDBPath) {
		return nil, domain.ErrSnapshotUnavailable
	}

	dest, err := s.OpenDest(s.LocalDBPath)
	if err != nil {
		return nil, err
	}
	defer dest.Close()

	if err := dest.SetCollation(ctx, false); err != nil {
		return nil, err
	}

	records, err := s.Source.Metadata(ctx)
	if err != nil {
		return nil, err
	}
	total := len(records)
	s.Log.Info("Starting pass", "phase", phase, "books", total)

	seen := make(map[string]bool)
	for i, rec := range records {
		select {
		case <-ctx.Done():
			s.Log.Info("sync cancelled", "phase", phase, "processed", i)
			return nil, ctx.Err()
		default:
		}

		log := s.Log.WithBook(rec.ID, rec.Title)
		log.Info("Processing book", "phase", phase, "count", i+1, "total", total)

		files, err := s.Source.BookFiles(ctx, rec.ID)
		if err != nil {
			log.Error("could not list book files, skipping", "error", err)
			s.progress(phase, i+1, total)
			continue
		}

		for _, file := range files {
			filePath := s.Source.FilePath(rec, file)
			md5, err := s.Hash(filePath)
			if err != nil {
				log.Error("could not hash file, skipping", "path", filePath, "error", err)
				continue
			}

			switch phase {
			case domain.PhaseFileSync:
				s.syncFile(ctx, dest, log, filePath, md5)
			case domain.PhaseMetadataSync:
				seen[md5] = true
				s.syncMetadata(ctx, dest, log, rec, md5)
			}
		}

		s.progress(phase, i+1, total)
	}

	if phase == domain.PhaseFileSync {
		if err := s.settle(ctx); err != nil {
			return nil, err
		}
	}
	if phase == domain.PhaseMetadataSync {
		if err := dest.CleanUp(ctx); err != nil {
			return nil, err
		}
	}
	return seen, nil
}

func (s *Syncer) syncFile(ctx context.Context, dest Destination, log *logger.Logger, filePath, md5 string) {
	exists, err := dest.MD5Exists(ctx, md5)
	if err != nil {
		log.Error("could not check destination for hash, skipping", "error", err)
		return
	}
	if exists {
		log.Info("File already on device", "md5", md5)
		return
	}
	if err := s.Remote.UploadFile(ctx, filePath, constants.RemoteBooksDir, "", false); err != nil {
		// Reported, not fatal: the book is retried on the next run.
		log.Error("file upload failed, skipping", "path", filePath, "error", err)
	}
}

func (s *Syncer) syncMetadata(ctx context.Context, dest Destination, log *logger.Logger, rec domain.BookRecord, md5 string) {
	if err := dest.Update(ctx, rec, md5); err != nil {
		log.Error("metadata update failed, skipping", "error", err)
		return
	}
	if err := dest.SendCoverToServer(ctx, s.Remote, rec, md5); err != nil {
		log.Error("cover upload failed", "error", err)
	}
}

// settle waits for the reader app to register freshly uploaded files
// before the metadata pass reads the catalog again.
func (s *Syncer) settle(ctx context.Context) error {
	if s.SettleWait <= 0 {
		return nil
	}
	s.Log.Info("Waiting for device to register uploads")
	const steps = 20
	step := s.SettleWait / steps
	for i := 1; i <= steps; i++ {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(step):
		}
		s.progress(domain.PhaseWaiting, i, steps)
	}
	return nil
}

// pullMissing downloads destination files whose hash never appeared on
// the source side. Sync is one-directional; this is the single reverse
// flow, and it only copies files, never metadata.
func (s *Syncer) pullMissing(ctx context.Context, seen map[string]bool) error {
	dest, err := s.OpenDest(s.LocalDBPath)
	if err != nil {
		return err
	}
	defer dest.Close()

	entries, err := dest.Metadata(ctx)
	if err != nil {
		return err
	}
	for _, entry := range entries {
		if seen[entry.MD5] {
			continue
		}
		remote := "/" + entry.Path
		local := filepath.Join(s.DownloadDir, path.Base(remote))
		if err := s.Remote.DownloadFile(ctx, remote, local); err != nil {
			if errors.Is(err, domain.ErrTransferFailed) {
				s.Log.Error("could not pull destination file", "remote", remote, "error", err)
				continue
			}
			return err
		}
	}
	return nil
}

// restoreCollation puts the app collation back before the snapshot goes
// up; the catalog must never be uploaded with it stripped.
func (s *Syncer) restoreCollation(ctx context.Context) error {
	dest, err := s.OpenDest(s.LocalDBPath)
	if err != nil {
		return err
	}
	defer dest.Close()
	return dest.SetCollation(ctx, true)
}
