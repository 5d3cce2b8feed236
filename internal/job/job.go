// Package job defines the assembly job model, its lifecycle states, and the
// progress reports jobs emit while running.
package job

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"bindery/internal/book"
	"bindery/internal/quality"
)

// Status enumerates job lifecycle states.
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusError      Status = "error"
)

// Terminal reports whether the status ends a job attempt.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusError
}

// ParseStatus converts stored text into a Status.
func ParseStatus(raw string) (Status, error) {
	switch Status(strings.ToLower(strings.TrimSpace(raw))) {
	case StatusPending:
		return StatusPending, nil
	case StatusProcessing:
		return StatusProcessing, nil
	case StatusCompleted:
		return StatusCompleted, nil
	case StatusError:
		return StatusError, nil
	default:
		return "", fmt.Errorf("unknown job status %q", raw)
	}
}

// Job carries everything needed to assemble one audiobook. Quality is a
// snapshot captured at submission; later preference changes never touch it.
type Job struct {
	ID              uuid.UUID
	Book            book.Book
	Quality         quality.Config
	OutputPath      string
	Workers         int
	MetadataEnabled bool
	CreatedAt       time.Time
}

// New builds a job with a fresh identifier.
func New(b book.Book, q quality.Config, outputPath string, workers int, metadata bool) *Job {
	if workers < 1 {
		workers = 1
	}
	return &Job{
		ID:              uuid.New(),
		Book:            b,
		Quality:         q,
		OutputPath:      outputPath,
		Workers:         workers,
		MetadataEnabled: metadata,
		CreatedAt:       time.Now().UTC(),
	}
}

// Validate checks the job is runnable.
func (j *Job) Validate() error {
	if j.ID == uuid.Nil {
		return fmt.Errorf("job has no identifier")
	}
	if err := j.Book.Validate(); err != nil {
		return err
	}
	if err := j.Quality.Validate(); err != nil {
		return err
	}
	if strings.TrimSpace(j.OutputPath) == "" {
		return fmt.Errorf("job has no output path")
	}
	return nil
}

// Report is one observable progress sample for a job attempt. Fraction is in
// [0,1] and never decreases within an attempt.
type Report struct {
	JobID    uuid.UUID
	Attempt  int
	Status   Status
	Fraction float64
	Stage    string
	Err      error
}

// Percent renders the fraction as a whole percentage.
func (r Report) Percent() int {
	if r.Fraction <= 0 {
		return 0
	}
	if r.Fraction >= 1 {
		return 100
	}
	return int(r.Fraction * 100)
}
