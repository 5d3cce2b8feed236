package services

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrConfig marks failures detected before any work starts: unknown
	// quality preset, empty source list, bad destination.
	ErrConfig = errors.New("configuration error")
	// ErrEncode marks failures of the external transcoding engine. Fatal to
	// the job; never retried internally.
	ErrEncode = errors.New("encode error")
	// ErrIO marks filesystem failures: concatenation, temp directory
	// lifecycle, moving the output into place. Fatal to the job.
	ErrIO = errors.New("io error")
	// ErrMetadata marks tag-writing failures. Non-fatal: the job still
	// completes with the untagged file.
	ErrMetadata = errors.New("metadata error")
)

// Wrap builds an error message that includes stage context while tagging it
// with the provided marker for later classification. The marker should be one
// of the exported sentinel errors above.
func Wrap(marker error, stage, operation, message string, err error) error {
	detail := buildDetail(stage, operation, message)
	if marker == nil {
		marker = ErrIO
	}
	if err != nil {
		return fmt.Errorf("%w: %s: %w", marker, detail, err)
	}
	return fmt.Errorf("%w: %s", marker, detail)
}

// Fatal reports whether a stage error must fail the whole job. Metadata
// failures are the only survivable class: the pipeline falls back to
// delivering the untagged file.
func Fatal(err error) bool {
	if err == nil {
		return false
	}
	return !errors.Is(err, ErrMetadata)
}

func buildDetail(stage, operation, message string) string {
	parts := make([]string, 0, 3)
	if stage = strings.TrimSpace(stage); stage != "" {
		parts = append(parts, stage)
	}
	if operation = strings.TrimSpace(operation); operation != "" {
		parts = append(parts, operation)
	}
	if message = strings.TrimSpace(message); message != "" {
		parts = append(parts, message)
	}
	if len(parts) == 0 {
		return "service failure"
	}
	return strings.Join(parts, ": ")
}
