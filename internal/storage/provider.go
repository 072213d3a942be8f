// Package storage defines the report directory abstraction.
package storage

import "time"

// FileMeta describes one report file.
type FileMeta struct {
	Path      string    `json:"path"`
	Checksum  string    `json:"checksum"`
	Size      int64     `json:"size"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Provider is the interface for report file operations.
type Provider interface {
	// List returns metadata for every report file under dir (relative to the
	// reports root), ordered by path.
	List(dir string) ([]FileMeta, error)
	// Read returns the raw bytes of the file at path (relative to the reports root).
	Read(path string) ([]byte, error)
	// Write atomically writes content to path (relative to the reports root).
	Write(path string, content []byte) error
}
