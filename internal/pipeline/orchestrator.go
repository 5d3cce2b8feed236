package pipeline

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"bindery/internal/fileutil"
	"bindery/internal/job"
	"bindery/internal/logging"
	"bindery/internal/registry"
	"bindery/internal/services"
)

// Assemble runs the full pipeline for one job attempt and reports the
// terminal outcome to the registry exactly once. The returned error mirrors
// what was reported.
func (p *Pipeline) Assemble(ctx context.Context, j *job.Job, h registry.Handle) (err error) {
	defer func() { p.reg.Finish(ctx, h, err) }()

	ctx = services.WithJobID(ctx, j.ID.String())
	ctx = services.WithAttempt(ctx, h.Attempt)
	logger := logging.WithContext(ctx, p.logger)

	if err = j.Validate(); err != nil {
		return err
	}

	tmpDir, mkErr := os.MkdirTemp("", "bindery-"+j.ID.String()[:8]+"-*")
	if mkErr != nil {
		err = services.Wrap(services.ErrIO, "", "create work directory", "", mkErr)
		return err
	}
	defer func() {
		if rmErr := os.RemoveAll(tmpDir); rmErr != nil {
			logger.Warn("remove work directory", logging.Error(rmErr))
		}
	}()

	logger.Info("assembly started",
		logging.String("title", j.Book.Title),
		logging.Int("sources", len(j.Book.Sources)),
		logging.Int("workers", j.Workers))

	p.reg.Publish(ctx, h, 0, StageConverting)

	intermediates, convErr := p.convertAll(ctx, j, h, tmpDir)
	if convErr != nil {
		err = convErr
		return err
	}

	combined := filepath.Join(tmpDir, "combined.mp3")
	if err = p.concat(ctx, h, intermediates, combined); err != nil {
		return err
	}

	encoded := filepath.Join(tmpDir, "book.m4b")
	if err = p.finalEncode(ctx, j, h, combined, encoded); err != nil {
		return err
	}

	staged := encoded
	if j.MetadataEnabled {
		staged = filepath.Join(tmpDir, "tagged.m4b")
		if tagErr := p.writeMetadata(ctx, j, h, encoded, staged); tagErr != nil {
			if services.Fatal(tagErr) {
				err = tagErr
				return err
			}
			logger.Warn("tagging failed, keeping untagged output", logging.Error(tagErr))
			if copyErr := fileutil.CopyFile(encoded, staged); copyErr != nil {
				err = services.Wrap(services.ErrIO, StageTagging, "copy untagged output", staged, copyErr)
				return err
			}
			p.reg.Publish(ctx, h, 1, StageTagging)
		}
	}

	info, statErr := os.Stat(staged)
	if statErr != nil {
		err = services.Wrap(services.ErrIO, "", "stat output", staged, statErr)
		return err
	}
	if info.Size() == 0 {
		err = services.Wrap(services.ErrEncode, "", "verify output",
			fmt.Sprintf("%s is empty", filepath.Base(staged)), nil)
		return err
	}

	destination := fileutil.UniquePath(j.OutputPath)
	if err = fileutil.MoveFile(staged, destination); err != nil {
		err = services.Wrap(services.ErrIO, "", "move output", destination, err)
		return err
	}

	logger.Info("assembly finished",
		logging.String("output", destination),
		logging.Int64("bytes", info.Size()))
	return nil
}
