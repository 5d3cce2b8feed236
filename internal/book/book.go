// Package book models audiobook source material: metadata, ordered source
// files, and the filename rules for assembled output.
package book

import (
	"fmt"
	"path/filepath"
	"sort"
	"strings"

	"bindery/internal/services"
)

// Book describes one audiobook to assemble. Sources are ordered; the
// assembled output preserves this order.
type Book struct {
	Title      string   `json:"title"`
	Author     string   `json:"author,omitempty"`
	Series     string   `json:"series,omitempty"`
	BookNumber int      `json:"book_number,omitempty"`
	Sources    []string `json:"sources"`
	CoverPath  string   `json:"cover_path,omitempty"`
}

var supportedAudio = map[string]struct{}{
	".mp3":  {},
	".wav":  {},
	".aac":  {},
	".m4a":  {},
	".m4b":  {},
	".flac": {},
	".ogg":  {},
}

var supportedImage = map[string]struct{}{
	".jpg":  {},
	".jpeg": {},
	".png":  {},
	".gif":  {},
	".bmp":  {},
}

// IsSupportedAudio reports whether the file extension names a readable
// audio container.
func IsSupportedAudio(path string) bool {
	_, ok := supportedAudio[strings.ToLower(filepath.Ext(path))]
	return ok
}

// IsSupportedImage reports whether the file extension names a usable
// cover image format.
func IsSupportedImage(path string) bool {
	_, ok := supportedImage[strings.ToLower(filepath.Ext(path))]
	return ok
}

// Validate checks that the book has at least one supported audio source.
// Title, author and series are display metadata and may all be empty.
func (b *Book) Validate() error {
	if len(b.Sources) == 0 {
		return services.Wrap(services.ErrConfig, "", "validate book", "at least one source file is required", nil)
	}
	for _, src := range b.Sources {
		if !IsSupportedAudio(src) {
			return services.Wrap(services.ErrConfig, "", "validate book",
				fmt.Sprintf("unsupported audio format: %s", filepath.Base(src)), nil)
		}
	}
	if b.CoverPath != "" && !IsSupportedImage(b.CoverPath) {
		return services.Wrap(services.ErrConfig, "", "validate book",
			fmt.Sprintf("unsupported cover format: %s", filepath.Base(b.CoverPath)), nil)
	}
	return nil
}

// DefaultFileName builds the output filename from book metadata:
// "Author - Series N - Title.m4b" with absent parts omitted.
func (b *Book) DefaultFileName() string {
	var parts []string
	if author := strings.TrimSpace(b.Author); author != "" {
		parts = append(parts, author)
	}
	if series := strings.TrimSpace(b.Series); series != "" {
		if b.BookNumber > 0 {
			parts = append(parts, fmt.Sprintf("%s %d", series, b.BookNumber))
		} else {
			parts = append(parts, series)
		}
	}
	title := strings.TrimSpace(b.Title)
	if title == "" {
		title = "audiobook"
	}
	parts = append(parts, title)
	return SanitizeFilename(strings.Join(parts, " - ")) + ".m4b"
}

// SanitizeFilename replaces characters that are unsafe in filenames on
// common filesystems with a dash.
func SanitizeFilename(name string) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case '/', '\\', ':', '*', '?', '"', '<', '>', '|':
			return '-'
		default:
			return r
		}
	}, name)
}

// SortSources orders the source list lexically by base name. Directory scans
// return files in arbitrary order; track numbering in filenames makes lexical
// order the chapter order.
func (b *Book) SortSources() {
	sort.Slice(b.Sources, func(i, j int) bool {
		return filepath.Base(b.Sources[i]) < filepath.Base(b.Sources[j])
	})
}
