// Package pipeline assembles audiobooks: per-file conversion, stream
// concatenation, final encode and metadata tagging, with progress flowing to
// the registry as each stage advances.
package pipeline

import (
	"log/slog"

	"bindery/internal/logging"
	"bindery/internal/media/ffmpeg"
	"bindery/internal/registry"
)

// Stage labels reported alongside progress.
const (
	StageConverting    = "converting"
	StageConcatenating = "concatenating"
	StageEncoding      = "encoding"
	StageTagging       = "tagging"
)

// Overall progress is split across stages. Conversion dominates the wall
// clock, so it owns the largest slice. When tagging is disabled the final
// encode absorbs its slice.
const (
	convertSpan = 0.7
	concatSpan  = 0.1
	encodeSpan  = 0.1
	tagSpan     = 0.1
)

// Pipeline runs assembly jobs against an encoder and reports through the
// registry.
type Pipeline struct {
	enc    ffmpeg.Encoder
	reg    *registry.Registry
	logger *slog.Logger
}

// New constructs a pipeline.
func New(enc ffmpeg.Encoder, reg *registry.Registry, logger *slog.Logger) *Pipeline {
	return &Pipeline{
		enc:    enc,
		reg:    reg,
		logger: logging.NewComponentLogger(logger, "pipeline"),
	}
}
