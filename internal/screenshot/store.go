package screenshot

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ErrNotFound is returned for ids with no stored screenshot.
var ErrNotFound = errors.New("screenshot not found")

// Meta describes a stored screenshot.
type Meta struct {
	ID        string    `json:"id"`
	TabID     string    `json:"tab_id,omitempty"`
	URL       string    `json:"url,omitempty"`
	Title     string    `json:"title,omitempty"`
	Format    string    `json:"format"`
	Width     int       `json:"width"`
	Height    int       `json:"height"`
	Quality   int       `json:"quality"`
	FullPage  bool      `json:"full_page"`
	Resized   bool      `json:"resized,omitempty"`
	Chars     int       `json:"chars"`
	SizeBytes int       `json:"size_bytes"`
	CreatedAt time.Time `json:"created_at"`
}

// Store keeps screenshots as an image file plus a JSON sidecar per id.
type Store struct {
	dir string
	mu  sync.RWMutex
}

// NewStore creates dir if needed.
func NewStore(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("screenshot store: mkdir %s: %w", dir, err)
	}
	return &Store{dir: dir}, nil
}

// Dir returns the store's directory.
func (s *Store) Dir() string { return s.dir }

func validateID(id string) error {
	if err := uuid.Validate(id); err != nil {
		return fmt.Errorf("invalid screenshot id %q: %w", id, err)
	}
	return nil
}

func (s *Store) paths(id, format string) (img, sidecar string) {
	return filepath.Join(s.dir, id+"."+format), filepath.Join(s.dir, id+".json")
}

// Save writes image bytes and meta. An empty meta.ID is assigned a new
// uuid; a zero CreatedAt is set to now. The stored meta is returned.
func (s *Store) Save(meta Meta, image []byte) (Meta, error) {
	if meta.ID == "" {
		meta.ID = uuid.NewString()
	}
	if err := validateID(meta.ID); err != nil {
		return Meta{}, err
	}
	if meta.Format == "" {
		meta.Format = "jpeg"
	}
	if meta.CreatedAt.IsZero() {
		meta.CreatedAt = time.Now().UTC()
	}
	meta.SizeBytes = len(image)

	data, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return Meta{}, fmt.Errorf("screenshot store: marshal meta: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	imgPath, metaPath := s.paths(meta.ID, meta.Format)
	if err := os.WriteFile(imgPath, image, 0o644); err != nil {
		return Meta{}, fmt.Errorf("screenshot store: write image: %w", err)
	}
	if err := os.WriteFile(metaPath, data, 0o644); err != nil {
		if rmErr := os.Remove(imgPath); rmErr != nil {
			slog.Debug("screenshot image cleanup failed", "id", meta.ID, "error", rmErr)
		}
		return Meta{}, fmt.Errorf("screenshot store: write meta: %w", err)
	}
	return meta, nil
}

// Get reads the meta of id.
func (s *Store) Get(id string) (Meta, error) {
	if err := validateID(id); err != nil {
		return Meta{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.readMeta(id)
}

func (s *Store) readMeta(id string) (Meta, error) {
	_, metaPath := s.paths(id, "")
	data, err := os.ReadFile(metaPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Meta{}, fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		return Meta{}, fmt.Errorf("screenshot store: read meta: %w", err)
	}
	var meta Meta
	if err := json.Unmarshal(data, &meta); err != nil {
		return Meta{}, fmt.Errorf("screenshot store: unmarshal meta: %w", err)
	}
	return meta, nil
}

// List returns every screenshot, newest first. Unreadable sidecars are
// skipped.
func (s *Store) List() ([]Meta, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	matches, err := filepath.Glob(filepath.Join(s.dir, "*.json"))
	if err != nil {
		return nil, fmt.Errorf("screenshot store: glob: %w", err)
	}
	metas := make([]Meta, 0, len(matches))
	for _, path := range matches {
		data, err := os.ReadFile(path)
		if err != nil {
			slog.Debug("screenshot store skipping sidecar", "path", path, "error", err)
			continue
		}
		var meta Meta
		if err := json.Unmarshal(data, &meta); err != nil {
			slog.Debug("screenshot store skipping sidecar", "path", path, "error", err)
			continue
		}
		metas = append(metas, meta)
	}
	sort.Slice(metas, func(i, j int) bool { return metas[i].CreatedAt.After(metas[j].CreatedAt) })
	return metas, nil
}

// ReadImage returns the image bytes of id and its format.
func (s *Store) ReadImage(id string) ([]byte, string, error) {
	if err := validateID(id); err != nil {
		return nil, "", err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	meta, err := s.readMeta(id)
	if err != nil {
		return nil, "", err
	}
	imgPath, _ := s.paths(id, meta.Format)
	data, err := os.ReadFile(imgPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, "", fmt.Errorf("%w: image for %s", ErrNotFound, id)
		}
		return nil, "", fmt.Errorf("screenshot store: read image: %w", err)
	}
	return data, meta.Format, nil
}

// Delete removes id. A missing image file is logged and ignored.
func (s *Store) Delete(id string) error {
	if err := validateID(id); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	meta, err := s.readMeta(id)
	if err != nil {
		return err
	}
	imgPath, metaPath := s.paths(id, meta.Format)
	if err := os.Remove(imgPath); err != nil {
		slog.Debug("screenshot image cleanup failed", "id", id, "error", err)
	}
	if err := os.Remove(metaPath); err != nil {
		return fmt.Errorf("screenshot store: remove meta: %w", err)
	}
	return nil
}
