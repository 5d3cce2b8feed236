// Package ffmpeg wraps the ffmpeg and ffprobe command-line tools for audio
// transcoding, stream concatenation and tag writing.
package ffmpeg

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strconv"
	"strings"

	"bindery/internal/services"
)

var commandContext = exec.CommandContext

// ProgressFunc receives encode progress in permille (0-1000).
type ProgressFunc func(permille int)

// Params describes one transcode invocation.
type Params struct {
	Format     string
	Codec      string
	BitRate    int
	SampleRate int
	Channels   int
}

// Tags carries the metadata written into the final container. Empty fields
// are omitted; Track is written only when positive.
type Tags struct {
	Title  string
	Artist string
	Album  string
	Genre  string
	Track  int
}

// Encoder defines the transcoding operations the pipeline needs.
type Encoder interface {
	Encode(ctx context.Context, input, output string, params Params, progress ProgressFunc) error
	WriteTags(ctx context.Context, input, output string, tags Tags, coverPath string) error
}

// Option configures the CLI client.
type Option func(*CLI)

// WithBinaries overrides the default ffmpeg and ffprobe binary names.
func WithBinaries(ffmpeg, ffprobe string) Option {
	return func(c *CLI) {
		if ffmpeg != "" {
			c.ffmpeg = ffmpeg
		}
		if ffprobe != "" {
			c.ffprobe = ffprobe
		}
	}
}

// CLI drives ffmpeg via subprocess.
type CLI struct {
	ffmpeg  string
	ffprobe string
}

// NewCLI constructs a CLI client using defaults.
func NewCLI(opts ...Option) *CLI {
	cli := &CLI{ffmpeg: "ffmpeg", ffprobe: "ffprobe"}
	for _, opt := range opts {
		opt(cli)
	}
	return cli
}

// Duration probes the input's duration in microseconds.
func (c *CLI) Duration(ctx context.Context, input string) (int64, error) {
	if input == "" {
		return 0, errors.New("input path required")
	}

	args := []string{
		"-v", "error",
		"-show_entries", "format=duration",
		"-of", "default=noprint_wrappers=1:nokey=1",
		input,
	}
	cmd := commandContext(ctx, c.ffprobe, args...) //nolint:gosec
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return 0, services.Wrap(services.ErrEncode, "", "probe duration",
			fmt.Sprintf("ffprobe %s: %s", input, tail(stderr.String())), err)
	}

	seconds, err := strconv.ParseFloat(strings.TrimSpace(stdout.String()), 64)
	if err != nil {
		return 0, services.Wrap(services.ErrEncode, "", "probe duration",
			fmt.Sprintf("parse ffprobe output %q", strings.TrimSpace(stdout.String())), err)
	}
	return int64(seconds * 1e6), nil
}

// Encode transcodes input to output with the given parameters, reporting
// progress in permille as ffmpeg advances through the stream.
func (c *CLI) Encode(ctx context.Context, input, output string, params Params, progress ProgressFunc) error {
	if input == "" {
		return errors.New("input path required")
	}
	if output == "" {
		return errors.New("output path required")
	}

	totalUS, err := c.Duration(ctx, input)
	if err != nil {
		return err
	}

	args := []string{"-y", "-i", input, "-vn"}
	if params.Codec != "" {
		args = append(args, "-c:a", params.Codec)
	}
	if params.BitRate > 0 {
		args = append(args, "-b:a", strconv.Itoa(params.BitRate))
	}
	if params.SampleRate > 0 {
		args = append(args, "-ar", strconv.Itoa(params.SampleRate))
	}
	if params.Channels > 0 {
		args = append(args, "-ac", strconv.Itoa(params.Channels))
	}
	if params.Format != "" {
		args = append(args, "-f", params.Format)
	}
	args = append(args, "-progress", "pipe:1", "-nostats", output)

	return c.run(ctx, args, totalUS, progress)
}

// WriteTags remuxes input into output with metadata tags and an optional
// cover image attached. Streams are copied, not re-encoded.
func (c *CLI) WriteTags(ctx context.Context, input, output string, tags Tags, coverPath string) error {
	if input == "" {
		return errors.New("input path required")
	}
	if output == "" {
		return errors.New("output path required")
	}

	args := []string{"-y", "-i", input}
	if coverPath != "" {
		args = append(args, "-i", coverPath)
	}
	args = append(args, "-map", "0:a", "-c:a", "copy")
	if coverPath != "" {
		args = append(args, "-map", "1:v", "-c:v", "copy", "-disposition:v:0", "attached_pic")
	}
	for key, value := range map[string]string{
		"title":  tags.Title,
		"artist": tags.Artist,
		"album":  tags.Album,
		"genre":  tags.Genre,
	} {
		if value != "" {
			args = append(args, "-metadata", key+"="+value)
		}
	}
	if tags.Track > 0 {
		args = append(args, "-metadata", "track="+strconv.Itoa(tags.Track))
	}
	args = append(args, "-f", "ipod", output)

	cmd := commandContext(ctx, c.ffmpeg, args...) //nolint:gosec
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return services.Wrap(services.ErrMetadata, "", "write tags",
			fmt.Sprintf("ffmpeg: %s", tail(stderr.String())), err)
	}
	return nil
}

func (c *CLI) run(ctx context.Context, args []string, totalUS int64, progress ProgressFunc) error {
	cmd := commandContext(ctx, c.ffmpeg, args...) //nolint:gosec
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return services.Wrap(services.ErrEncode, "", "encode", "stdout pipe", err)
	}
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Start(); err != nil {
		return services.Wrap(services.ErrEncode, "", "encode", "start ffmpeg", err)
	}

	last := -1
	scanner := bufio.NewScanner(stdout)
	for scanner.Scan() {
		permille, ok := parseProgressLine(scanner.Text(), totalUS)
		if !ok {
			continue
		}
		if progress != nil && permille > last {
			last = permille
			progress(permille)
		}
	}
	if err := scanner.Err(); err != nil {
		_ = cmd.Wait()
		return services.Wrap(services.ErrEncode, "", "encode", "read ffmpeg output", err)
	}

	if err := cmd.Wait(); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return services.Wrap(services.ErrEncode, "", "encode",
			fmt.Sprintf("ffmpeg: %s", tail(stderr.String())), err)
	}

	if progress != nil && last < 1000 {
		progress(1000)
	}
	return nil
}

// parseProgressLine interprets one line of ffmpeg -progress output. It
// returns the permille of the total duration covered so far.
func parseProgressLine(line string, totalUS int64) (int, bool) {
	line = strings.TrimSpace(line)
	if value, ok := strings.CutPrefix(line, "out_time_us="); ok {
		if totalUS <= 0 {
			return 0, false
		}
		us, err := strconv.ParseInt(strings.TrimSpace(value), 10, 64)
		if err != nil || us < 0 {
			return 0, false
		}
		permille := int(us * 1000 / totalUS)
		if permille > 1000 {
			permille = 1000
		}
		return permille, true
	}
	if value, ok := strings.CutPrefix(line, "progress="); ok && strings.TrimSpace(value) == "end" {
		return 1000, true
	}
	return 0, false
}

func tail(s string) string {
	s = strings.TrimSpace(s)
	lines := strings.Split(s, "\n")
	if len(lines) > 5 {
		lines = lines[len(lines)-5:]
	}
	return strings.TrimSpace(strings.Join(lines, " | "))
}

var _ Encoder = (*CLI)(nil)
