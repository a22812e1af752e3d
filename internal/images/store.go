package images

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"strings"
)

const imageExt = ".jpg"

// ErrNotFound indicates no stored image matches the requested name.
var ErrNotFound = errors.New("image not found")

var validName = regexp.MustCompile(`^[A-Za-z0-9._-]+$`)

// Store keeps generated images as <operation-id>.jpg in a single directory.
// Names derive from unique operation ids, so concurrent writers never collide.
type Store struct {
	dir string
}

// NewStore creates dir if needed and returns a store rooted there.
func NewStore(dir string) (*Store, error) {
	if strings.TrimSpace(dir) == "" {
		return nil, errors.New("images dir must not be empty")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create images dir %q: %w", dir, err)
	}
	return &Store{dir: dir}, nil
}

// Dir returns the store directory.
func (s *Store) Dir() string {
	return s.dir
}

// Save writes data atomically and returns the file name used for retrieval.
func (s *Store) Save(id string, data []byte) (string, error) {
	name := id + imageExt
	if !validName.MatchString(name) || strings.HasPrefix(name, ".") {
		return "", fmt.Errorf("invalid image id %q", id)
	}

	tmp, err := os.CreateTemp(s.dir, ".tmp-*"+imageExt)
	if err != nil {
		return "", fmt.Errorf("create temp image: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return "", fmt.Errorf("write image: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return "", fmt.Errorf("close image: %w", err)
	}
	if err := os.Rename(tmpName, filepath.Join(s.dir, name)); err != nil {
		os.Remove(tmpName)
		return "", fmt.Errorf("store image: %w", err)
	}
	return name, nil
}

// Path resolves a stored image name to its file path. Names that could escape
// the directory or that do not exist yield ErrNotFound.
func (s *Store) Path(name string) (string, error) {
	if !validName.MatchString(name) || strings.HasPrefix(name, ".") {
		return "", ErrNotFound
	}

	path := filepath.Join(s.dir, name)
	info, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", ErrNotFound
		}
		return "", fmt.Errorf("stat image: %w", err)
	}
	if !info.Mode().IsRegular() {
		return "", ErrNotFound
	}
	return path, nil
}

// Clear removes stored images, leaving other files alone. It returns the
// number of files removed.
func (s *Store) Clear() (int, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return 0, fmt.Errorf("read images dir: %w", err)
	}

	removed := 0
	for _, entry := range entries {
		if !entry.Type().IsRegular() || !strings.HasSuffix(entry.Name(), imageExt) {
			continue
		}
		if err := os.Remove(filepath.Join(s.dir, entry.Name())); err != nil {
			return removed, fmt.Errorf("remove %s: %w", entry.Name(), err)
		}
		removed++
	}
	return removed, nil
}
