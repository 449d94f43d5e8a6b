// Package blob stores uploaded files and hands back the opaque record that
// gets appended to a project's files or images, or a task's attachments.
package blob

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
	"github.com/mschirtzinger/tracksync/internal/model"
	"github.com/sirupsen/logrus"
)

var (
	// ErrNotFound is returned for an unknown blob id.
	ErrNotFound = errors.New("blob not found")

	// ErrTooLarge is returned when an upload exceeds the size limit.
	ErrTooLarge = errors.New("blob too large")
)

// Store is the upload boundary.
type Store interface {
	Put(ctx context.Context, name string, r io.Reader) (model.File, error)
	Open(ctx context.Context, id string) (io.ReadCloser, error)
	Delete(ctx context.Context, id string) error
}

// FSStore keeps blobs under a directory, one sub-directory per id.
type FSStore struct {
	dir      string
	baseURL  string
	maxBytes int64
	now      func() time.Time
	log      logrus.FieldLogger
}

// Options configures an FSStore.
type Options struct {
	// BaseURL prefixes the returned file URLs. Empty means file:// URLs.
	BaseURL string

	// MaxBytes limits a single upload. Zero means 25 MiB.
	MaxBytes int64

	Now    func() time.Time
	Logger logrus.FieldLogger
}

// NewFS creates dir if needed and returns a store rooted there.
func NewFS(dir string, opts Options) (*FSStore, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create blob directory: %w", err)
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve blob directory: %w", err)
	}
	if opts.MaxBytes <= 0 {
		opts.MaxBytes = 25 << 20
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Logger == nil {
		opts.Logger = logrus.StandardLogger()
	}
	return &FSStore{
		dir:      abs,
		baseURL:  strings.TrimRight(opts.BaseURL, "/"),
		maxBytes: opts.MaxBytes,
		now:      opts.Now,
		log:      opts.Logger.WithField("component", "blob"),
	}, nil
}

// Put stores r under a fresh id. The MIME type comes from the file
// extension, falling back to content sniffing.
func (s *FSStore) Put(ctx context.Context, name string, r io.Reader) (model.File, error) {
	name = filepath.Base(strings.TrimSpace(name))
	if name == "" || name == "." || name == string(filepath.Separator) {
		return model.File{}, fmt.Errorf("invalid file name %q", name)
	}

	id := uuid.NewString()
	dir := filepath.Join(s.dir, id)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return model.File{}, fmt.Errorf("failed to create blob %s: %w", id, err)
	}

	br := bufio.NewReaderSize(r, 512)
	head, _ := br.Peek(512)
	mimeType := mime.TypeByExtension(filepath.Ext(name))
	if mimeType == "" {
		mimeType = http.DetectContentType(head)
	}

	dst := filepath.Join(dir, name)
	f, err := os.Create(dst)
	if err != nil {
		_ = os.RemoveAll(dir)
		return model.File{}, fmt.Errorf("failed to create blob %s: %w", id, err)
	}
	n, err := io.Copy(f, io.LimitReader(&ctxReader{ctx: ctx, r: br}, s.maxBytes+1))
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err == nil && n > s.maxBytes {
		err = fmt.Errorf("%w: %s exceeds %s", ErrTooLarge, name, humanize.IBytes(uint64(s.maxBytes)))
	}
	if err != nil {
		_ = os.RemoveAll(dir)
		return model.File{}, fmt.Errorf("failed to store %s: %w", name, err)
	}

	file := model.File{
		ID:         id,
		Name:       name,
		URL:        s.url(id, name, dst),
		Type:       mimeType,
		Size:       n,
		UploadedAt: s.now().UTC().Truncate(time.Millisecond),
	}
	s.log.WithFields(logrus.Fields{"id": id, "name": name, "size": humanize.IBytes(uint64(n))}).Debug("stored blob")
	return file, nil
}

// Open returns the content of blob id.
func (s *FSStore) Open(ctx context.Context, id string) (io.ReadCloser, error) {
	entries, err := os.ReadDir(s.blobDir(id))
	if err != nil || len(entries) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return os.Open(filepath.Join(s.blobDir(id), entries[0].Name()))
}

// Delete removes blob id. Deleting a missing blob is not an error.
func (s *FSStore) Delete(ctx context.Context, id string) error {
	if err := os.RemoveAll(s.blobDir(id)); err != nil {
		return fmt.Errorf("failed to delete blob %s: %w", id, err)
	}
	return nil
}

func (s *FSStore) blobDir(id string) string {
	return filepath.Join(s.dir, filepath.Base(id))
}

func (s *FSStore) url(id, name, local string) string {
	if s.baseURL != "" {
		return s.baseURL + "/" + path.Join(url.PathEscape(id), url.PathEscape(name))
	}
	return (&url.URL{Scheme: "file", Path: filepath.ToSlash(local)}).String()
}

// ctxReader stops a copy once ctx is done.
type ctxReader struct {
	ctx context.Context
	r   io.Reader
}

func (c *ctxReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}
