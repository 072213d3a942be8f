// Package testutil provides shared test helpers for setting up report
// directories and databases.
package testutil

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/starford/a11yledger/internal/storage"
	"github.com/starford/a11yledger/internal/store"
)

// TestDB creates a temporary SQLite database that is automatically cleaned up.
func TestDB(t *testing.T) *store.DB {
	t.Helper()
	dbFile, err := os.CreateTemp("", "a11yledger-test-*.db")
	if err != nil {
		t.Fatal(err)
	}
	dbFile.Close()
	t.Cleanup(func() {
		os.Remove(dbFile.Name())
		os.Remove(dbFile.Name() + "-wal")
		os.Remove(dbFile.Name() + "-shm")
	})

	db, err := store.Open(dbFile.Name())
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

// TestReports creates a temporary reports directory with a storage provider.
func TestReports(t *testing.T) (string, *storage.FS) {
	t.Helper()
	dir := t.TempDir()
	fs, err := storage.NewFS(dir)
	if err != nil {
		t.Fatal(err)
	}
	return fs.Root(), fs
}

// WriteReport writes content to rel under dir, creating parent directories.
func WriteReport(t *testing.T, dir, rel, content string) {
	t.Helper()
	path := filepath.Join(dir, filepath.FromSlash(rel))
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

// Report renders a single-defect report in the template layout.
func Report(title, priority, platform, page, actual string, refs ...string) string {
	wcag := ""
	for _, r := range refs {
		wcag += "- " + r + "\n"
	}
	return "### Title\n" + title + "\n\n" +
		"### Priority\n" + priority + "\n\n" +
		"### OS/Browser\n" + platform + "\n\n" +
		"### Page\n" + page + "\n\n" +
		"### Steps to Reproduce\n1. Open the site\n2. Navigate to " + page + "\n\n" +
		"### Actual Result\n" + actual + "\n\n" +
		"### Expected Result\nThe control announces its purpose.\n\n" +
		"### User Impact\nScreen reader users cannot complete the task.\n\n" +
		"### Suggested Fix\nGive the control an accessible name.\n\n" +
		"### WCAG Reference\n" + wcag
}
