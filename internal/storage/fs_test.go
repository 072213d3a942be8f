package storage

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/starford/a11yledger/internal/checksum"
)

func tempReports(t *testing.T) *FS {
	t.Helper()
	dir := t.TempDir()
	fs, err := NewFS(dir)
	if err != nil {
		t.Fatalf("NewFS: %v", err)
	}
	return fs
}

func TestWriteAndRead(t *testing.T) {
	s := tempReports(t)
	content := []byte("Title: Search bar not announced\n")
	if err := s.Write("checkout.md", content); err != nil {
		t.Fatalf("Write: %v", err)
	}
	got, err := s.Read("checkout.md")
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if string(got) != string(content) {
		t.Errorf("content mismatch: got %q", got)
	}
}

func TestWriteCreatesSubdirs(t *testing.T) {
	s := tempReports(t)
	if err := s.Write("sprint-12/ios/cart.md", []byte("deep")); err != nil {
		t.Fatalf("Write: %v", err)
	}
	got, err := s.Read("sprint-12/ios/cart.md")
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if string(got) != "deep" {
		t.Errorf("content = %q", got)
	}
}

func TestWriteRejectsNonReport(t *testing.T) {
	s := tempReports(t)
	if err := s.Write("script.sh", []byte("#!/bin/sh")); err == nil {
		t.Error("expected error writing a non-report file")
	}
}

func TestList(t *testing.T) {
	s := tempReports(t)
	_ = s.Write("b.md", []byte("b"))
	_ = s.Write("sub/a.markdown", []byte("a"))
	_ = s.Write("notes.txt", []byte("plain"))
	_ = os.WriteFile(filepath.Join(s.Root(), "image.png"), []byte("png"), 0o644)
	_ = os.MkdirAll(filepath.Join(s.Root(), ".git"), 0o755)
	_ = os.WriteFile(filepath.Join(s.Root(), ".git", "HEAD.md"), []byte("hidden"), 0o644)

	items, err := s.List("")
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	var paths []string
	for _, it := range items {
		paths = append(paths, it.Path)
	}
	want := []string{"b.md", "notes.txt", "sub/a.markdown"}
	if len(paths) != len(want) {
		t.Fatalf("paths = %v, want %v", paths, want)
	}
	for i := range want {
		if paths[i] != want[i] {
			t.Errorf("paths = %v, want %v", paths, want)
		}
	}
	if items[0].Checksum != checksum.Sum([]byte("b")) || items[0].Size != 1 {
		t.Errorf("meta = %+v", items[0])
	}
}

func TestTraversalBlocked(t *testing.T) {
	s := tempReports(t)

	cases := []string{
		"../../etc/passwd",
		"../outside.md",
		"/etc/shadow",
	}
	for _, p := range cases {
		if _, err := s.Read(p); err == nil {
			t.Errorf("expected error for path %q", p)
		}
		if err := s.Write(p, []byte("x")); err == nil {
			t.Errorf("expected error for write to %q", p)
		}
	}
}

func TestAtomicWriteReplaces(t *testing.T) {
	s := tempReports(t)
	_ = s.Write("atomic.md", []byte("original content"))

	updated := []byte("updated content")
	if err := s.Write("atomic.md", updated); err != nil {
		t.Fatalf("Write: %v", err)
	}
	got, _ := s.Read("atomic.md")
	if string(got) != string(updated) {
		t.Errorf("expected updated content, got %q", got)
	}

	entries, _ := os.ReadDir(s.Root())
	if len(entries) != 1 {
		t.Errorf("leftover files: %v", entries)
	}
}

func TestNewFS_NonExistentDir(t *testing.T) {
	_, err := NewFS("/tmp/a11yledger-does-not-exist-" + t.Name())
	if err == nil {
		t.Error("expected error for non-existent dir")
	}
}

func TestNewFS_FileNotDir(t *testing.T) {
	f, _ := os.CreateTemp("", "a11yledger-test-*")
	_ = f.Close()
	defer os.Remove(f.Name())
	_, err := NewFS(f.Name())
	if err == nil {
		t.Error("expected error when root is a file")
	}
}
