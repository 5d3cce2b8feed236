package book

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"bindery/internal/services"
)

// FromDirectory builds a Book from a directory of audio files. The directory
// base name becomes the title unless one is supplied. The first supported
// image found becomes the cover unless one is supplied.
func FromDirectory(dir string, overrides Book) (*Book, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, services.Wrap(services.ErrIO, "", "scan directory",
			fmt.Sprintf("read %s", dir), err)
	}

	b := overrides
	if strings.TrimSpace(b.Title) == "" {
		b.Title = filepath.Base(filepath.Clean(dir))
	}

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		path := filepath.Join(dir, entry.Name())
		switch {
		case IsSupportedAudio(path):
			b.Sources = append(b.Sources, path)
		case b.CoverPath == "" && IsSupportedImage(path):
			b.CoverPath = path
		}
	}

	b.SortSources()
	if err := b.Validate(); err != nil {
		return nil, err
	}
	return &b, nil
}
