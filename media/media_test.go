package media

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"go.uber.org/zap"
)

func TestSaveKeepsExtension(t *testing.T) {
	store, err := NewStore(t.TempDir(), 7, zap.NewNop())
	if err != nil {
		t.Fatal(err)
	}

	path, err := store.Save([]byte("pdf bytes"), "report.pdf", "application/pdf")
	if err != nil {
		t.Fatal(err)
	}
	if filepath.Ext(path) != ".pdf" {
		t.Fatalf("extension lost: %s", path)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "pdf bytes" {
		t.Fatalf("content mismatch: %q", data)
	}

	// Same name twice must not collide.
	other, err := store.Save([]byte("other"), "report.pdf", "application/pdf")
	if err != nil {
		t.Fatal(err)
	}
	if other == path {
		t.Fatal("two saves produced the same path")
	}
}

func TestSaveDerivesExtensionFromMime(t *testing.T) {
	store, err := NewStore(t.TempDir(), 7, zap.NewNop())
	if err != nil {
		t.Fatal(err)
	}

	cases := []struct {
		mimeType string
		want     string
	}{
		{"image/jpeg", ".jpg"},
		{"video/mp4", ".mp4"},
		{"audio/ogg; codecs=opus", ".ogg"},
		{"image/webp", ".webp"},
		{"", ""},
	}
	for _, tc := range cases {
		path, err := store.Save([]byte("blob"), "", tc.mimeType)
		if err != nil {
			t.Fatal(err)
		}
		if filepath.Ext(path) != tc.want {
			t.Fatalf("mime %q: got extension %q, want %q", tc.mimeType, filepath.Ext(path), tc.want)
		}
	}

	// A real filename wins over the mime type.
	path, err := store.Save([]byte("blob"), "notes.txt", "image/jpeg")
	if err != nil {
		t.Fatal(err)
	}
	if filepath.Ext(path) != ".txt" {
		t.Fatalf("filename extension should win, got %s", path)
	}
}

func TestCleanupRemovesOnlyExpired(t *testing.T) {
	dir := t.TempDir()
	store, err := NewStore(dir, 7, zap.NewNop())
	if err != nil {
		t.Fatal(err)
	}

	oldPath, err := store.Save([]byte("old"), "old.txt", "")
	if err != nil {
		t.Fatal(err)
	}
	freshPath, err := store.Save([]byte("fresh"), "fresh.txt", "")
	if err != nil {
		t.Fatal(err)
	}

	stale := time.Now().AddDate(0, 0, -8)
	if err := os.Chtimes(oldPath, stale, stale); err != nil {
		t.Fatal(err)
	}

	store.Cleanup()

	if _, err := os.Stat(oldPath); !os.IsNotExist(err) {
		t.Fatal("expired file should be gone")
	}
	if _, err := os.Stat(freshPath); err != nil {
		t.Fatalf("fresh file should survive: %v", err)
	}
}

func TestCleanupDisabledByZeroRetention(t *testing.T) {
	dir := t.TempDir()
	store, err := NewStore(dir, 0, zap.NewNop())
	if err != nil {
		t.Fatal(err)
	}

	path, err := store.Save([]byte("keep"), "keep.txt", "")
	if err != nil {
		t.Fatal(err)
	}
	stale := time.Now().AddDate(0, 0, -365)
	if err := os.Chtimes(path, stale, stale); err != nil {
		t.Fatal(err)
	}

	store.Cleanup()

	if _, err := os.Stat(path); err != nil {
		t.Fatalf("zero retention must keep everything: %v", err)
	}
}
