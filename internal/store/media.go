package store

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

// DefaultMaxObjectSize caps a single stored output.
const DefaultMaxObjectSize = 100 << 20 // 100MiB

var (
	ErrObjectTooLarge    = errors.New("object exceeds maximum size")
	ErrInvalidObjectKey  = errors.New("invalid object key")
	ErrObjectKeyTraverse = errors.New("path traversal not allowed")
)

// Object describes a stored media file.
type Object struct {
	Key         string
	URL         string
	ContentType string
	Size        int64
	SHA256      string
}

// MediaStore persists generated media under stable keys.
// Put overwrites an existing object at the same key.
type MediaStore interface {
	Put(ctx context.Context, key, contentType string, body io.Reader) (Object, error)
	Delete(ctx context.Context, keys ...string) error
	PublicURL(key string) string
}

// ObjectKey is the deterministic location of output `index` of a generation.
func ObjectKey(userID uuid.UUID, generationID int64, index int, ext string) string {
	ext = strings.TrimPrefix(ext, ".")
	if ext == "" {
		ext = "bin"
	}
	return fmt.Sprintf("generations/%s/%d/%d.%s", userID, generationID, index, ext)
}

// ExtensionFor picks a file extension from a content type, falling back to the URL path.
func ExtensionFor(contentType, sourceURL string) string {
	if ct, _, err := mime.ParseMediaType(contentType); err == nil {
		switch ct {
		case "image/png":
			return "png"
		case "image/jpeg":
			return "jpg"
		case "image/webp":
			return "webp"
		case "image/gif":
			return "gif"
		case "video/mp4":
			return "mp4"
		case "video/webm":
			return "webm"
		case "video/quicktime":
			return "mov"
		}
	}
	if u, err := url.Parse(sourceURL); err == nil {
		if ext := strings.TrimPrefix(path.Ext(u.Path), "."); ext != "" && len(ext) <= 5 {
			return strings.ToLower(ext)
		}
	}
	return "bin"
}

// LocalMediaStore keeps media on the local filesystem; used in development.
type LocalMediaStore struct {
	rootDir   string
	publicURL string
	maxSize   int64
}

func NewLocalMediaStore(rootDir, publicURL string, maxSize int64) (*LocalMediaStore, error) {
	if rootDir == "" {
		return nil, fmt.Errorf("media root directory is required")
	}
	if err := os.MkdirAll(rootDir, 0o755); err != nil {
		return nil, fmt.Errorf("creating media root directory: %w", err)
	}
	if maxSize <= 0 {
		maxSize = DefaultMaxObjectSize
	}
	return &LocalMediaStore{
		rootDir:   rootDir,
		publicURL: strings.TrimRight(publicURL, "/"),
		maxSize:   maxSize,
	}, nil
}

func (s *LocalMediaStore) Root() string {
	return s.rootDir
}

func (s *LocalMediaStore) Put(ctx context.Context, key, contentType string, body io.Reader) (Object, error) {
	if err := validateKey(key); err != nil {
		return Object{}, err
	}

	fullPath := filepath.Join(s.rootDir, filepath.FromSlash(key))
	if err := os.MkdirAll(filepath.Dir(fullPath), 0o755); err != nil {
		return Object{}, fmt.Errorf("creating media directory: %w", err)
	}

	// Atomic write: temp file in the same directory, then rename
	tmp, err := os.CreateTemp(filepath.Dir(fullPath), ".upload-*")
	if err != nil {
		return Object{}, fmt.Errorf("creating temp file: %w", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath) //nolint:errcheck

	h := sha256.New()
	n, err := io.Copy(io.MultiWriter(tmp, h), newCappedReader(ctx, body, s.maxSize))
	closeErr := tmp.Close()
	if err != nil {
		return Object{}, err
	}
	if closeErr != nil {
		return Object{}, fmt.Errorf("closing temp file: %w", closeErr)
	}

	if err := os.Rename(tmpPath, fullPath); err != nil {
		return Object{}, fmt.Errorf("renaming media file: %w", err)
	}

	return Object{
		Key:         key,
		URL:         s.PublicURL(key),
		ContentType: contentType,
		Size:        n,
		SHA256:      hex.EncodeToString(h.Sum(nil)),
	}, nil
}

func (s *LocalMediaStore) Delete(ctx context.Context, keys ...string) error {
	var errs []error
	for _, key := range keys {
		if err := validateKey(key); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", key, err))
			continue
		}
		err := os.Remove(filepath.Join(s.rootDir, filepath.FromSlash(key)))
		if err != nil && !os.IsNotExist(err) {
			errs = append(errs, fmt.Errorf("removing %s: %w", key, err))
		}
	}
	return errors.Join(errs...)
}

func (s *LocalMediaStore) PublicURL(key string) string {
	return s.publicURL + "/" + key
}

// validateKey ensures the key is relative and stays under the root.
func validateKey(key string) error {
	if key == "" {
		return ErrInvalidObjectKey
	}
	if strings.Contains(key, "..") || strings.Contains(key, `\`) {
		return ErrObjectKeyTraverse
	}
	if path.IsAbs(key) || filepath.IsAbs(key) {
		return ErrObjectKeyTraverse
	}
	if cleaned := path.Clean(key); cleaned != key || strings.HasPrefix(cleaned, "../") {
		return ErrInvalidObjectKey
	}
	return nil
}

// cappedReader fails with ErrObjectTooLarge once more than max bytes were read,
// and with ctx.Err() once the context is done.
type cappedReader struct {
	ctx  context.Context
	r    io.Reader
	left int64
}

func newCappedReader(ctx context.Context, r io.Reader, max int64) io.Reader {
	return &cappedReader{ctx: ctx, r: r, left: max}
}

func (c *cappedReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	if c.left < 0 {
		return 0, ErrObjectTooLarge
	}
	if int64(len(p)) > c.left+1 {
		p = p[:c.left+1]
	}
	n, err := c.r.Read(p)
	c.left -= int64(n)
	if c.left < 0 {
		return n, ErrObjectTooLarge
	}
	return n, err
}
