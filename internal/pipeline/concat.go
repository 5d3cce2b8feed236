package pipeline

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"bindery/internal/registry"
	"bindery/internal/services"
)

// concat streams the MP3 intermediates into one file. The intermediates share
// codec parameters, so frame-level concatenation is safe and needs no
// re-encode.
func (p *Pipeline) concat(ctx context.Context, h registry.Handle, inputs []string, output string) error {
	out, err := os.Create(output)
	if err != nil {
		return services.Wrap(services.ErrIO, StageConcatenating, "create combined file", output, err)
	}
	defer out.Close()

	n := len(inputs)
	for i, input := range inputs {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err := appendFile(out, input); err != nil {
			return services.Wrap(services.ErrIO, StageConcatenating, "append segment",
				filepath.Base(input), err)
		}
		local := float64(i+1) / float64(n)
		p.reg.Publish(ctx, h, convertSpan+local*concatSpan, StageConcatenating)
	}

	if err := out.Close(); err != nil {
		return services.Wrap(services.ErrIO, StageConcatenating, "close combined file", output, err)
	}
	return nil
}

func appendFile(dst io.Writer, src string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	if _, err := io.Copy(dst, in); err != nil {
		return fmt.Errorf("copy: %w", err)
	}
	return nil
}
