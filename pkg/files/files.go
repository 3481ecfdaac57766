// Package files implements the file operation gate: listing, download, and
// upload anchored under a configured root directory. Identity and policy
// checks happen in the HTTP layer before any of these run.
package files

import (
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

// Gate failure modes.
var (
	ErrNotExist     = errors.New("path does not exist")
	ErrIsDirectory  = errors.New("directory download is not supported")
	ErrNotDirectory = errors.New("upload target must be a directory")
)

// Gate serves file operations relative to Root. Root is read-only after
// startup; filesystem contents are shared OS state and concurrent uploads
// to identical filenames race with last-writer-wins semantics.
type Gate struct {
	Root string
}

// NewGate creates a gate anchored at root.
func NewGate(root string) *Gate {
	return &Gate{Root: root}
}

// Resolve joins a request path onto the root directory and returns the
// absolute path.
func (g *Gate) Resolve(rel string) string {
	rel = strings.TrimPrefix(rel, "/")
	if rel == "" {
		return g.Root
	}
	return filepath.Join(g.Root, rel)
}

// List returns the entry names of the directory at rel, or the resolved
// path itself when rel names a single file.
func (g *Gate) List(rel string) ([]string, error) {
	full := g.Resolve(rel)
	info, err := os.Stat(full)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrNotExist, full)
		}
		return nil, fmt.Errorf("inspecting path %s: %w", full, err)
	}
	if !info.IsDir() {
		return []string{full}, nil
	}
	entries, err := os.ReadDir(full)
	if err != nil {
		return nil, fmt.Errorf("listing directory %s: %w", full, err)
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name())
	}
	return names, nil
}

// Open opens the file at rel for download. Directories are rejected.
func (g *Gate) Open(rel string) (*os.File, os.FileInfo, error) {
	full := g.Resolve(rel)
	info, err := os.Stat(full)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil, fmt.Errorf("%w: %s", ErrNotExist, full)
		}
		return nil, nil, fmt.Errorf("inspecting path %s: %w", full, err)
	}
	if info.IsDir() {
		return nil, nil, fmt.Errorf("%w: %s", ErrIsDirectory, full)
	}
	f, err := os.Open(full)
	if err != nil {
		return nil, nil, fmt.Errorf("opening file %s: %w", full, err)
	}
	return f, info, nil
}

// SaveMultipart reads every part of a multipart stream and writes each as a
// new file inside the directory at rel. Part filenames are sanitized; a
// part without a filename gets a fresh UUID. Returns the written paths.
func (g *Gate) SaveMultipart(rel string, mr *multipart.Reader) ([]string, error) {
	full := g.Resolve(rel)
	info, err := os.Stat(full)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrNotExist, full)
		}
		return nil, fmt.Errorf("inspecting path %s: %w", full, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%w: %s", ErrNotDirectory, full)
	}

	var written []string
	for {
		part, err := mr.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil {
			return written, fmt.Errorf("reading multipart stream: %w", err)
		}
		name := sanitizeFilename(part.FileName())
		if name == "" {
			name = uuid.NewString()
		}
		dest := filepath.Join(full, name)
		if err := writePart(dest, part); err != nil {
			return written, err
		}
		written = append(written, dest)
	}
	return written, nil
}

func writePart(dest string, part *multipart.Part) error {
	defer func() { _ = part.Close() }()
	f, err := os.Create(dest)
	if err != nil {
		return fmt.Errorf("creating upload file %s: %w", dest, err)
	}
	defer func() { _ = f.Close() }()
	if _, err := io.Copy(f, part); err != nil {
		return fmt.Errorf("writing upload file %s: %w", dest, err)
	}
	return nil
}

// sanitizeFilename strips any directory components so an upload can only
// name a file directly inside the target directory.
func sanitizeFilename(name string) string {
	name = strings.ReplaceAll(name, "\\", "/")
	name = filepath.Base(name)
	if name == "." || name == "/" {
		return ""
	}
	return name
}
