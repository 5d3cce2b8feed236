package pipeline

import (
	"context"

	"bindery/internal/job"
	"bindery/internal/media/ffmpeg"
	"bindery/internal/registry"
)

// finalEncode transcodes the combined stream into the M4B container. When
// tagging is disabled this stage carries progress all the way to completion.
func (p *Pipeline) finalEncode(ctx context.Context, j *job.Job, h registry.Handle, input, output string) error {
	span := encodeSpan
	if !j.MetadataEnabled {
		span += tagSpan
	}
	base := convertSpan + concatSpan

	params := ffmpeg.Params{
		Format:     "ipod",
		Codec:      "aac",
		BitRate:    j.Quality.BitRate,
		SampleRate: j.Quality.SampleRate,
	}
	return p.enc.Encode(ctx, input, output, params, func(permille int) {
		p.reg.Publish(ctx, h, base+float64(permille)/1000*span, StageEncoding)
	})
}
