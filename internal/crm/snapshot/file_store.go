package snapshot

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	e "github.com/gartstein/crm/internal/crm/errors"
	"github.com/gartstein/crm/internal/crm/metrics"
	"github.com/gartstein/crm/internal/crm/models"
	"go.uber.org/zap"
)

const (
	backendName = "json"

	nextIDSuffix     = ".nextid"
	corruptSuffix    = ".corrupt-"
	corruptTimestamp = "20060102T150405Z"
)

// FileStore persists the full customer set to a single JSON file. The id
// high-water mark lives next to it in <path>.nextid so the snapshot keeps the
// export format.
type FileStore struct {
	path   string
	logger *zap.Logger
	now    func() time.Time

	// corrupt is set when Load found an unreadable snapshot. The next Save
	// moves that file aside instead of overwriting it.
	corrupt bool
}

// NewFileStore returns a FileStore writing to path.
func NewFileStore(path string, logger *zap.Logger) *FileStore {
	return &FileStore{
		path:   path,
		logger: logger.Named("snapshot_store"),
		now:    time.Now,
	}
}

// Path returns the snapshot file location.
func (s *FileStore) Path() string {
	return s.path
}

// Load reads the snapshot file. It never fails: a missing file and an
// unreadable one both yield an empty set, but are logged differently.
func (s *FileStore) Load(_ context.Context) []models.Customer {
	s.corrupt = false
	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			s.logger.Info("Snapshot file absent, starting empty", zap.String("path", s.path))
			return []models.Customer{}
		}
		s.degraded(fmt.Errorf("%w: read snapshot: %w", e.ErrPersistenceDegraded, err))
		return []models.Customer{}
	}

	customers, err := Decode(data)
	if err != nil {
		s.degraded(fmt.Errorf("%w: %w", e.ErrPersistenceDegraded, err))
		return []models.Customer{}
	}

	s.logger.Info("Snapshot loaded",
		zap.String("path", s.path),
		zap.Int("records", len(customers)),
	)
	return customers
}

func (s *FileStore) degraded(err error) {
	s.corrupt = true
	metrics.LoadDegraded.WithLabelValues(backendName).Inc()
	s.logger.Error("Snapshot file unreadable, starting empty",
		zap.String("path", s.path),
		zap.Error(err),
	)
}

// Save overwrites the snapshot with customers. The file is written to a
// temporary sibling and renamed into place, so a crash mid-write leaves the
// previous snapshot intact. An unreadable snapshot found by Load is renamed to
// <path>.corrupt-<timestamp> first. Errors wrap ErrPersistence.
func (s *FileStore) Save(ctx context.Context, customers []models.Customer) error {
	if err := ctx.Err(); err != nil {
		return s.failed("context", err)
	}

	data, err := Encode(customers)
	if err != nil {
		return s.failed("encode", err)
	}

	if s.corrupt {
		if err := s.preserveCorrupt(); err != nil {
			return s.failed("preserve", err)
		}
	}

	if stage, err := writeAtomic(s.path, data); err != nil {
		return s.failed(stage, err)
	}

	s.logger.Debug("Snapshot saved",
		zap.String("path", s.path),
		zap.Int("records", len(customers)),
	)
	return nil
}

func (s *FileStore) preserveCorrupt() error {
	dest := s.path + corruptSuffix + s.now().UTC().Format(corruptTimestamp)
	if err := os.Rename(s.path, dest); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	s.corrupt = false
	s.logger.Warn("Unreadable snapshot preserved",
		zap.String("path", s.path),
		zap.String("preserved_as", dest),
	)
	return nil
}

func (s *FileStore) nextIDPath() string {
	return s.path + nextIDSuffix
}

// LoadNextID returns the id high-water mark written by SaveNextID, or 0 when
// there is none or it cannot be read.
func (s *FileStore) LoadNextID(_ context.Context) int64 {
	data, err := os.ReadFile(s.nextIDPath())
	if errors.Is(err, fs.ErrNotExist) {
		return 0
	}
	if err == nil {
		next, perr := strconv.ParseInt(strings.TrimSpace(string(data)), 10, 64)
		if perr == nil && next > 0 {
			return next
		}
		err = fmt.Errorf("invalid id high-water mark %q", strings.TrimSpace(string(data)))
	}
	s.logger.Warn("Id high-water mark unreadable, deriving it from the snapshot",
		zap.String("path", s.nextIDPath()),
		zap.Error(err),
	)
	return 0
}

// SaveNextID records next as the lowest id the store may still assign.
func (s *FileStore) SaveNextID(ctx context.Context, next int64) error {
	if err := ctx.Err(); err != nil {
		return s.failed("context", err)
	}
	if stage, err := writeAtomic(s.nextIDPath(), []byte(strconv.FormatInt(next, 10)+"\n")); err != nil {
		return s.failed("next_id_"+stage, err)
	}
	return nil
}

// writeAtomic replaces path with data through a synced temporary sibling. On
// failure it reports the stage that failed.
func writeAtomic(path string, data []byte) (string, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "mkdir", err
	}

	tempFile, err := os.CreateTemp(dir, ".customers-*.tmp")
	if err != nil {
		return "create", err
	}
	tempPath := tempFile.Name()

	success := false
	defer func() {
		if !success {
			_ = os.Remove(tempPath)
		}
	}()

	if _, err := tempFile.Write(data); err != nil {
		_ = tempFile.Close()
		return "write", err
	}
	if err := tempFile.Sync(); err != nil {
		_ = tempFile.Close()
		return "sync", err
	}
	if err := tempFile.Close(); err != nil {
		return "close", err
	}
	if err := os.Rename(tempPath, path); err != nil {
		return "rename", err
	}
	success = true
	return "", nil
}

func (s *FileStore) failed(stage string, err error) error {
	metrics.PersistenceFailures.WithLabelValues(backendName, stage).Inc()
	s.logger.Error("Failed to save snapshot",
		zap.String("path", s.path),
		zap.String("stage", stage),
		zap.Error(err),
	)
	return fmt.Errorf("%w: %s snapshot: %w", e.ErrPersistence, stage, err)
}
