package pipeline

import (
	"context"

	"bindery/internal/job"
	"bindery/internal/media/ffmpeg"
	"bindery/internal/registry"
)

// writeMetadata remuxes the encoded book with tags and cover art. Album is
// written only when the book belongs to a series.
func (p *Pipeline) writeMetadata(ctx context.Context, j *job.Job, h registry.Handle, input, output string) error {
	tags := ffmpeg.Tags{
		Title:  j.Book.Title,
		Artist: j.Book.Author,
		Album:  j.Book.Series,
		Genre:  "Audiobook",
		Track:  j.Book.BookNumber,
	}

	if err := p.enc.WriteTags(ctx, input, output, tags, j.Book.CoverPath); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return err
	}

	p.reg.Publish(ctx, h, 1, StageTagging)
	return nil
}
