package blob

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func testStore(t *testing.T, opts Options) *FSStore {
	t.Helper()
	opts.Now = func() time.Time { return time.Date(2024, 6, 1, 9, 0, 0, 0, time.UTC) }
	s, err := NewFS(filepath.Join(t.TempDir(), "blobs"), opts)
	if err != nil {
		t.Fatalf("NewFS() error = %v", err)
	}
	return s
}

// pngHeader is enough for content sniffing.
var pngHeader = []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR")

func TestPutClassifiesType(t *testing.T) {
	tests := []struct {
		name    string
		file    string
		content []byte
		want    string
		image   bool
	}{
		{"extension", "brief.pdf", []byte("%PDF-1.4"), "application/pdf", false},
		{"sniffed image", "screenshot", pngHeader, "image/png", true},
		{"sniffed text", "notes", []byte("hello world"), "text/plain; charset=utf-8", false},
		{"image extension", "logo.png", pngHeader, "image/png", true},
	}
	s := testStore(t, Options{})
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f, err := s.Put(context.Background(), tt.file, bytes.NewReader(tt.content))
			if err != nil {
				t.Fatalf("Put() error = %v", err)
			}
			if f.Type != tt.want {
				t.Errorf("Type = %q, want %q", f.Type, tt.want)
			}
			if f.IsImage() != tt.image {
				t.Errorf("IsImage() = %v, want %v", f.IsImage(), tt.image)
			}
			if f.Size != int64(len(tt.content)) {
				t.Errorf("Size = %d, want %d", f.Size, len(tt.content))
			}
			if f.ID == "" || f.UploadedAt.IsZero() {
				t.Errorf("incomplete record %+v", f)
			}
		})
	}
}

func TestPutOpenDelete(t *testing.T) {
	s := testStore(t, Options{BaseURL: "https://files.example.com/"})
	ctx := context.Background()

	f, err := s.Put(ctx, "../../etc/report.txt", strings.NewReader("quarterly"))
	if err != nil {
		t.Fatal(err)
	}
	if f.Name != "report.txt" {
		t.Errorf("Name = %q, want path stripped", f.Name)
	}
	if want := "https://files.example.com/" + f.ID + "/report.txt"; f.URL != want {
		t.Errorf("URL = %q, want %q", f.URL, want)
	}

	rc, err := s.Open(ctx, f.ID)
	if err != nil {
		t.Fatal(err)
	}
	got, _ := io.ReadAll(rc)
	rc.Close()
	if string(got) != "quarterly" {
		t.Errorf("content = %q", got)
	}

	if err := s.Delete(ctx, f.ID); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Open(ctx, f.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("Open() after Delete error = %v, want ErrNotFound", err)
	}
	if err := s.Delete(ctx, f.ID); err != nil {
		t.Errorf("second Delete() error = %v", err)
	}
}

func TestPutTooLarge(t *testing.T) {
	s := testStore(t, Options{MaxBytes: 4})

	_, err := s.Put(context.Background(), "big.bin", strings.NewReader("12345"))
	if !errors.Is(err, ErrTooLarge) {
		t.Fatalf("Put() error = %v, want ErrTooLarge", err)
	}
	entries, _ := os.ReadDir(s.dir)
	if len(entries) != 0 {
		t.Errorf("leftover blobs: %d", len(entries))
	}
}

func TestPutCancelled(t *testing.T) {
	s := testStore(t, Options{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := s.Put(ctx, "a.txt", strings.NewReader("x")); !errors.Is(err, context.Canceled) {
		t.Errorf("Put() error = %v, want context.Canceled", err)
	}
}
