// Package blob implements recording.BlobStore on the local filesystem and S3.
package blob

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/jwulff/quill/internal/media"
	"github.com/jwulff/quill/internal/recording"
)

// FS stores blobs as files under Root. Public URLs are BaseURL joined with
// the blob path, or file:// URLs when BaseURL is empty.
type FS struct {
	Root    string
	BaseURL string
}

// NewFS creates the root directory if needed.
func NewFS(root, baseURL string) (*FS, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("create blob root: %w", err)
	}
	return &FS{Root: root, BaseURL: strings.TrimRight(baseURL, "/")}, nil
}

func (f *FS) resolve(path string) (string, error) {
	clean := filepath.FromSlash(path)
	if !filepath.IsLocal(clean) {
		return "", fmt.Errorf("blob path %q escapes root", path)
	}
	return filepath.Join(f.Root, clean), nil
}

// Upload writes data to path and returns path as the reference.
func (f *FS) Upload(ctx context.Context, path string, data []byte, contentType string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	full, err := f.resolve(path)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return "", fmt.Errorf("create blob dir: %w", err)
	}
	// Write to a temp file first so a failed upload leaves nothing behind.
	tmp := full + ".part"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return "", fmt.Errorf("write blob: %w", err)
	}
	if err := os.Rename(tmp, full); err != nil {
		os.Remove(tmp)
		return "", fmt.Errorf("commit blob: %w", err)
	}
	return path, nil
}

// PublicURL returns the URL for a blob reference.
func (f *FS) PublicURL(ref string) string {
	if f.BaseURL != "" {
		return f.BaseURL + "/" + ref
	}
	abs, err := filepath.Abs(filepath.Join(f.Root, filepath.FromSlash(ref)))
	if err != nil {
		abs = filepath.Join(f.Root, filepath.FromSlash(ref))
	}
	u := url.URL{Scheme: "file", Path: filepath.ToSlash(abs)}
	return u.String()
}

// Ref maps a public URL back to the blob path.
func (f *FS) Ref(assetURL string) (string, error) {
	if f.BaseURL != "" {
		return recording.RefUnder(assetURL, f.BaseURL)
	}
	u, err := url.Parse(assetURL)
	if err != nil || u.Scheme != "file" {
		return "", fmt.Errorf("asset url %q is not a file url", assetURL)
	}
	root, err := filepath.Abs(f.Root)
	if err != nil {
		root = f.Root
	}
	return recording.RefUnder(u.Path, filepath.ToSlash(root))
}

// Remove deletes the blob at path. A missing blob is not an error.
func (f *FS) Remove(ctx context.Context, path string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	full, err := f.resolve(path)
	if err != nil {
		return err
	}
	if err := os.Remove(full); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove blob: %w", err)
	}
	return nil
}

// Fetch reads the blob behind a public asset URL.
func (f *FS) Fetch(ctx context.Context, assetURL string) ([]byte, string, error) {
	path, err := f.Ref(assetURL)
	if err != nil {
		return nil, "", err
	}
	data, err := f.Open(path)
	if err != nil {
		return nil, "", fmt.Errorf("read blob: %w", err)
	}
	return data, media.ContentTypeFor(path), nil
}

// Open reads a blob by path.
func (f *FS) Open(path string) ([]byte, error) {
	full, err := f.resolve(path)
	if err != nil {
		return nil, err
	}
	return os.ReadFile(full)
}
