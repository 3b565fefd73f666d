package store

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/botpanel-dev/bot-panel-backend/internal/artifacts/domain"
	"github.com/botpanel-dev/bot-panel-backend/internal/logging"
	"github.com/google/uuid"
)

const stagingDirName = ".staging"

// UploadRecorder appends upload audit entries.
type UploadRecorder interface {
	RecordUpload(ctx context.Context, rec domain.UploadRecord) error
}

// Store keeps every owner's artifacts as "{owner}_{name}" files in one
// directory. The directory listing is the source of truth.
type Store struct {
	dir      string
	recorder UploadRecorder
	now      func() time.Time

	mu     sync.Mutex
	owners map[int64]*sync.Mutex
}

// New creates the artifact directory if needed. recorder may be nil.
func New(dir string, recorder UploadRecorder) (*Store, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("resolve artifact dir: %w", err)
	}
	if err := os.MkdirAll(filepath.Join(abs, stagingDirName), 0o755); err != nil {
		return nil, fmt.Errorf("create artifact dir: %w", err)
	}

	return &Store{
		dir:      abs,
		recorder: recorder,
		now:      time.Now,
		owners:   make(map[int64]*sync.Mutex),
	}, nil
}

// Dir returns the absolute artifact directory.
func (s *Store) Dir() string {
	return s.dir
}

// List returns the owner's artifact keys in lexical order.
func (s *Store) List(ownerID int64) ([]string, error) {
	artifacts, err := s.Entries(ownerID)
	if err != nil {
		return nil, err
	}

	keys := make([]string, 0, len(artifacts))
	for _, a := range artifacts {
		keys = append(keys, a.Key)
	}
	return keys, nil
}

// Entries is List with size and modification time attached.
func (s *Store) Entries(ownerID int64) ([]domain.Artifact, error) {
	dirEntries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("read artifact dir: %w", err)
	}

	prefix := domain.OwnerPrefix(ownerID)
	out := make([]domain.Artifact, 0, domain.MaxArtifacts)
	for _, de := range dirEntries {
		name := de.Name()
		if !de.Type().IsRegular() || !domain.OwnedBy(ownerID, name) {
			continue
		}

		info, err := de.Info()
		if errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("stat %s: %w", name, err)
		}

		out = append(out, domain.Artifact{
			Key:        name,
			OwnerID:    ownerID,
			Name:       strings.TrimPrefix(name, prefix),
			Size:       info.Size(),
			UploadedAt: info.ModTime(),
		})
	}
	return out, nil
}

// Upload stores content under the owner's namespace. The size limit is
// enforced on the bytes actually read; declaredSize is only compared for
// logging. Archives are exploded and never stored themselves.
func (s *Store) Upload(ctx context.Context, ownerID int64, filename string, content io.Reader, declaredSize int64) (*domain.ArtifactRef, error) {
	name := baseName(filename)
	if !domain.ValidName(name) {
		return nil, domain.ErrInvalidName
	}

	lock := s.ownerLock(ownerID)
	lock.Lock()
	defer lock.Unlock()

	existing, err := s.List(ownerID)
	if err != nil {
		return nil, err
	}
	if len(existing) >= domain.MaxArtifacts {
		return nil, domain.ErrCapacityExceeded
	}

	data, err := readCapped(content)
	if err != nil {
		return nil, err
	}

	logger := logging.NewLogger(ctx)
	if declaredSize > 0 && declaredSize != int64(len(data)) {
		logger.Warnf("artifact.upload", "owner=%d declared_size=%d actual_size=%d", ownerID, declaredSize, len(data))
	}

	ref := &domain.ArtifactRef{
		UploadName: domain.Key(ownerID, name),
		Size:       int64(len(data)),
	}

	files := []entry{{name: name, data: data}}
	if kind := detectArchive(name); kind != archiveNone {
		files, err = extract(kind, data)
		if err != nil {
			return nil, err
		}
		ref.Archive = true
	}

	have := make(map[string]bool, len(existing))
	for _, k := range existing {
		have[k] = true
	}
	added := 0
	for _, f := range files {
		if !have[domain.Key(ownerID, f.name)] {
			added++
		}
	}
	if len(existing)+added > domain.MaxArtifacts {
		return nil, domain.ErrCapacityExceeded
	}

	if err := s.commit(ownerID, files); err != nil {
		return nil, err
	}
	for _, f := range files {
		ref.Keys = append(ref.Keys, domain.Key(ownerID, f.name))
	}

	if s.recorder != nil {
		rec := domain.UploadRecord{
			ID:           uuid.NewString(),
			OwnerID:      ownerID,
			ArtifactName: ref.UploadName,
			Size:         ref.Size,
			UploadedAt:   s.now().UTC(),
		}
		if err := s.recorder.RecordUpload(ctx, rec); err != nil {
			return ref, fmt.Errorf("record upload: %w", err)
		}
	}

	logger.Infof("artifact.upload", "owner=%d name=%s size=%d files=%d", ownerID, ref.UploadName, ref.Size, len(ref.Keys))
	return ref, nil
}

// Read returns the artifact's content.
func (s *Store) Read(ownerID int64, key string) ([]byte, error) {
	p, err := s.resolve(ownerID, key)
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(p)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("read artifact: %w", err)
	}
	return data, nil
}

// Overwrite replaces the artifact's content entirely.
func (s *Store) Overwrite(ownerID int64, key string, content []byte) error {
	if len(content) > domain.MaxArtifactSize {
		return domain.ErrPayloadTooLarge
	}

	lock := s.ownerLock(ownerID)
	lock.Lock()
	defer lock.Unlock()

	if _, err := s.resolve(ownerID, key); err != nil {
		return err
	}
	return s.commit(ownerID, []entry{{name: strings.TrimPrefix(key, domain.OwnerPrefix(ownerID)), data: content}})
}

// Path returns the on-disk location of an existing artifact.
func (s *Store) Path(ownerID int64, key string) (string, error) {
	return s.resolve(ownerID, key)
}

func (s *Store) resolve(ownerID int64, key string) (string, error) {
	if !domain.OwnedBy(ownerID, key) {
		return "", domain.ErrNotFound
	}

	p := filepath.Join(s.dir, key)
	if filepath.Dir(p) != s.dir {
		return "", domain.ErrNotFound
	}

	info, err := os.Lstat(p)
	if errors.Is(err, fs.ErrNotExist) {
		return "", domain.ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("stat artifact: %w", err)
	}
	if !info.Mode().IsRegular() {
		return "", domain.ErrNotFound
	}
	return p, nil
}

// commit stages every file first and only then renames them into place, so
// a failed write leaves the namespace untouched.
func (s *Store) commit(ownerID int64, files []entry) error {
	staged := make([]string, 0, len(files))
	cleanup := func() {
		for _, p := range staged {
			_ = os.Remove(p)
		}
	}

	for _, f := range files {
		tmp, err := s.stage(f.data)
		if err != nil {
			cleanup()
			return err
		}
		staged = append(staged, tmp)
	}

	for i, f := range files {
		target := filepath.Join(s.dir, domain.Key(ownerID, f.name))
		if filepath.Dir(target) != s.dir {
			cleanup()
			return fmt.Errorf("%w: %q", domain.ErrUnsafeArchive, f.name)
		}
		if err := os.Rename(staged[i], target); err != nil {
			cleanup()
			return fmt.Errorf("store artifact: %w", err)
		}
	}
	return nil
}

func (s *Store) stage(data []byte) (string, error) {
	f, err := os.CreateTemp(filepath.Join(s.dir, stagingDirName), "upload-*")
	if err != nil {
		return "", fmt.Errorf("create staging file: %w", err)
	}

	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(f.Name())
		return "", fmt.Errorf("write staging file: %w", err)
	}
	if err := f.Chmod(0o755); err != nil {
		f.Close()
		os.Remove(f.Name())
		return "", fmt.Errorf("chmod staging file: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(f.Name())
		return "", fmt.Errorf("close staging file: %w", err)
	}
	return f.Name(), nil
}

func (s *Store) ownerLock(ownerID int64) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, ok := s.owners[ownerID]
	if !ok {
		m = &sync.Mutex{}
		s.owners[ownerID] = m
	}
	return m
}

// baseName strips any client-supplied directories from an upload name.
func baseName(filename string) string {
	n := strings.TrimSpace(strings.ReplaceAll(filename, "\\", "/"))
	if n == "" {
		return ""
	}
	return path.Base(n)
}
