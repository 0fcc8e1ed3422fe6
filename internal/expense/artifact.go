package expense

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/google/uuid"
)

var (
	reUnsafeChars = regexp.MustCompile(`[^a-zA-Z0-9\s\-_]`)
	reSpaces      = regexp.MustCompile(`\s+`)
)

// Artifact is a temporary copy of an upload on disk
type Artifact struct {
	Path string
}

// Artifacts defines scoped acquisition of temporary upload files
type Artifacts interface {
	// Acquire writes data to a uniquely named file derived from filename
	Acquire(filename string, data []byte) (Artifact, error)

	// Release removes the artifact. Releasing twice is not an error.
	Release(artifact Artifact) error
}

// ArtifactStore implements Artifacts on the local filesystem
type ArtifactStore struct {
	basePath string
	newToken func() string
}

// NewArtifactStore creates the directory if needed
func NewArtifactStore(basePath string) (*ArtifactStore, error) {
	if basePath == "" {
		basePath = filepath.Join(os.TempDir(), "expense-tracker")
	}
	if err := os.MkdirAll(basePath, 0700); err != nil {
		return nil, fmt.Errorf("creating artifact directory: %w", err)
	}

	return &ArtifactStore{
		basePath: basePath,
		newToken: func() string { return uuid.NewString() },
	}, nil
}

// sanitizeFilename cleans up a filename by removing special characters and truncating length
func sanitizeFilename(filename string) string {
	filename = filepath.Base(filename)
	ext := reUnsafeChars.ReplaceAllString(filepath.Ext(filename), "")
	base := strings.TrimSuffix(filename, filepath.Ext(filename))

	base = reUnsafeChars.ReplaceAllString(base, "")
	base = reSpaces.ReplaceAllString(base, " ")
	base = strings.TrimSpace(base)

	// 50 chars for base, plus extension
	if len(base) > 50 {
		base = base[:50]
	}
	if base == "" {
		base = "receipt"
	}
	if ext != "" {
		ext = "." + ext
	}
	return base + ext
}

// Acquire writes the upload under a uuid-prefixed name so identical filenames
// from concurrent requests never collide
func (a *ArtifactStore) Acquire(filename string, data []byte) (Artifact, error) {
	name := fmt.Sprintf("%s_%s", a.newToken(), sanitizeFilename(filename))
	path := filepath.Join(a.basePath, name)

	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0600)
	if err != nil {
		return Artifact{}, fmt.Errorf("creating artifact: %w", err)
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(path)
		return Artifact{}, fmt.Errorf("writing artifact: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(path)
		return Artifact{}, fmt.Errorf("closing artifact: %w", err)
	}

	return Artifact{Path: path}, nil
}

// Release removes the artifact if it still exists
func (a *ArtifactStore) Release(artifact Artifact) error {
	if artifact.Path == "" {
		return nil
	}
	if err := os.Remove(artifact.Path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("removing artifact: %w", err)
	}
	return nil
}
