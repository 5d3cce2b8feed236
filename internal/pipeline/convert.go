package pipeline

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"

	"bindery/internal/job"
	"bindery/internal/media/ffmpeg"
	"bindery/internal/registry"
)

type convertEvent struct {
	index    int
	permille int
	done     bool
}

// convertAll transcodes every source into an index-named MP3 intermediate at
// the job's quality. Output order matches source order regardless of which
// worker finishes first. The first failure cancels the remaining work.
func (p *Pipeline) convertAll(ctx context.Context, j *job.Job, h registry.Handle, tmpDir string) ([]string, error) {
	sources := j.Book.Sources
	n := len(sources)
	outputs := make([]string, n)
	for i := range sources {
		outputs[i] = filepath.Join(tmpDir, fmt.Sprintf("%03d_converted.mp3", i))
	}

	params := ffmpeg.Params{
		Codec:      "libmp3lame",
		BitRate:    j.Quality.BitRate,
		SampleRate: j.Quality.SampleRate,
	}

	events := make(chan convertEvent, n*4)
	aggDone := make(chan struct{})
	go func() {
		defer close(aggDone)
		fractions := make([]float64, n)
		completed := 0
		for ev := range events {
			if ev.done {
				completed++
			} else {
				fractions[ev.index] = float64(ev.permille) / 1000
			}
			active := 0.0
			if completed < n {
				active = fractions[completed]
			}
			overall := (float64(completed) + active) / float64(n)
			p.reg.Publish(ctx, h, overall*convertSpan, StageConverting)
		}
	}()

	workers := j.Workers
	if workers > n {
		workers = n
	}
	if workers < 1 {
		workers = 1
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	indices := make(chan int)
	var wg sync.WaitGroup
	var mu sync.Mutex
	var firstErr error

	fail := func(err error) {
		mu.Lock()
		if firstErr == nil {
			firstErr = err
		}
		mu.Unlock()
		cancel()
	}

	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for idx := range indices {
				if runCtx.Err() != nil {
					return
				}
				index := idx
				err := p.enc.Encode(runCtx, sources[index], outputs[index], params, func(permille int) {
					select {
					case events <- convertEvent{index: index, permille: permille}:
					default:
					}
				})
				if err != nil {
					fail(fmt.Errorf("convert %s: %w", filepath.Base(sources[index]), err))
					return
				}
				events <- convertEvent{index: index, done: true}
			}
		}()
	}

feed:
	for i := 0; i < n; i++ {
		select {
		case indices <- i:
		case <-runCtx.Done():
			break feed
		}
	}
	close(indices)
	wg.Wait()
	close(events)
	<-aggDone

	mu.Lock()
	err := firstErr
	mu.Unlock()
	if err != nil {
		return nil, err
	}
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	return outputs, nil
}
