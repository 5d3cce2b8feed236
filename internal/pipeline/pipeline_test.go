package pipeline

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"bindery/internal/book"
	"bindery/internal/job"
	"bindery/internal/logging"
	"bindery/internal/media/ffmpeg"
	"bindery/internal/quality"
	"bindery/internal/registry"
	"bindery/internal/services"
	"bindery/internal/testsupport"
)

// fakeEncoder copies bytes instead of transcoding. The final encode appends a
// container marker so tests can see which stages touched the output.
type fakeEncoder struct {
	mu          sync.Mutex
	failOn      string
	failTags    bool
	failTagsErr error
	encodes     []string
	params      []encodeCall
	lastTags    ffmpeg.Tags
}

type encodeCall struct {
	output string
	params ffmpeg.Params
}

func (f *fakeEncoder) Encode(ctx context.Context, input, output string, params ffmpeg.Params, progress ffmpeg.ProgressFunc) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	f.mu.Lock()
	f.encodes = append(f.encodes, filepath.Base(input))
	f.params = append(f.params, encodeCall{output: output, params: params})
	f.mu.Unlock()

	if f.failOn != "" && filepath.Base(input) == f.failOn {
		return services.Wrap(services.ErrEncode, "", "encode", "synthetic encode failure", nil)
	}

	data, err := os.ReadFile(input)
	if err != nil {
		return err
	}
	if params.Format == "ipod" {
		data = append(data, []byte("|m4b")...)
	}
	if err := os.WriteFile(output, data, 0o644); err != nil {
		return err
	}
	if progress != nil {
		progress(500)
		progress(1000)
	}
	return nil
}

func (f *fakeEncoder) WriteTags(ctx context.Context, input, output string, tags ffmpeg.Tags, coverPath string) error {
	f.mu.Lock()
	f.lastTags = tags
	f.mu.Unlock()
	if f.failTagsErr != nil {
		return f.failTagsErr
	}
	if f.failTags {
		return services.Wrap(services.ErrMetadata, StageTagging, "write tags", "synthetic tag failure", nil)
	}
	data, err := os.ReadFile(input)
	if err != nil {
		return err
	}
	data = append(data, []byte("|tags:"+tags.Title)...)
	return os.WriteFile(output, data, 0o644)
}

var _ ffmpeg.Encoder = (*fakeEncoder)(nil)

func newTestRegistry(t *testing.T) *registry.Registry {
	t.Helper()
	return testsupport.MustOpenRegistry(t, testsupport.NewConfig(t))
}

func newTestJob(t *testing.T, workers int, metadata bool) *job.Job {
	t.Helper()
	dir := testsupport.WriteBookDir(t, "Dune", []string{"A", "B", "C"})
	b, err := book.FromDirectory(dir, book.Book{Author: "Frank Herbert"})
	if err != nil {
		t.Fatalf("scan book dir: %v", err)
	}
	return job.New(*b, quality.Default(), filepath.Join(t.TempDir(), "Dune.m4b"), workers, metadata)
}

func TestAssemblePreservesSourceOrder(t *testing.T) {
	for _, workers := range []int{1, 3} {
		reg := newTestRegistry(t)
		enc := &fakeEncoder{}
		p := New(enc, reg, logging.NewNop())
		j := newTestJob(t, workers, true)

		h, err := reg.Submit(context.Background(), j)
		if err != nil {
			t.Fatal(err)
		}
		if err := p.Assemble(context.Background(), j, h); err != nil {
			t.Fatalf("Assemble(workers=%d): %v", workers, err)
		}

		data, err := os.ReadFile(j.OutputPath)
		if err != nil {
			t.Fatalf("output missing: %v", err)
		}
		if got := string(data); got != "ABC|m4b|tags:Dune" {
			t.Fatalf("workers=%d output = %q, want %q", workers, got, "ABC|m4b|tags:Dune")
		}

		rec, err := reg.Job(context.Background(), j.ID)
		if err != nil {
			t.Fatal(err)
		}
		if rec.Status != job.StatusCompleted || rec.Fraction != 1 {
			t.Fatalf("record = %+v, want completed at 1", rec)
		}
	}
}

func TestAssembleSkipsTaggingWhenDisabled(t *testing.T) {
	reg := newTestRegistry(t)
	enc := &fakeEncoder{}
	p := New(enc, reg, logging.NewNop())
	j := newTestJob(t, 2, false)

	h, _ := reg.Submit(context.Background(), j)
	if err := p.Assemble(context.Background(), j, h); err != nil {
		t.Fatalf("Assemble: %v", err)
	}

	data, err := os.ReadFile(j.OutputPath)
	if err != nil {
		t.Fatal(err)
	}
	if got := string(data); got != "ABC|m4b" {
		t.Fatalf("output = %q, want untagged %q", got, "ABC|m4b")
	}
}

func TestAssembleTaggingFailureKeepsUntaggedOutput(t *testing.T) {
	reg := newTestRegistry(t)
	enc := &fakeEncoder{failTags: true}
	p := New(enc, reg, logging.NewNop())
	j := newTestJob(t, 1, true)

	h, _ := reg.Submit(context.Background(), j)
	if err := p.Assemble(context.Background(), j, h); err != nil {
		t.Fatalf("tagging failure must not fail the job: %v", err)
	}

	data, err := os.ReadFile(j.OutputPath)
	if err != nil {
		t.Fatal(err)
	}
	if got := string(data); got != "ABC|m4b" {
		t.Fatalf("output = %q, want untagged %q", got, "ABC|m4b")
	}

	rec, _ := reg.Job(context.Background(), j.ID)
	if rec.Status != job.StatusCompleted {
		t.Fatalf("status = %s, want completed", rec.Status)
	}
}

func TestAssembleFatalTaggingErrorFailsJob(t *testing.T) {
	reg := newTestRegistry(t)
	enc := &fakeEncoder{
		failTagsErr: services.Wrap(services.ErrIO, StageTagging, "write tags", "disk full", nil),
	}
	p := New(enc, reg, logging.NewNop())
	j := newTestJob(t, 1, true)

	h, _ := reg.Submit(context.Background(), j)
	err := p.Assemble(context.Background(), j, h)
	if err == nil {
		t.Fatal("expected error")
	}
	if !errors.Is(err, services.ErrIO) {
		t.Fatalf("expected io error, got %v", err)
	}

	if _, statErr := os.Stat(j.OutputPath); !os.IsNotExist(statErr) {
		t.Fatal("failed job must not produce output")
	}
	rec, _ := reg.Job(context.Background(), j.ID)
	if rec.Status != job.StatusError {
		t.Fatalf("status = %s, want error", rec.Status)
	}
}

func TestTagsCarryAlbumOnlyForSeries(t *testing.T) {
	reg := newTestRegistry(t)
	enc := &fakeEncoder{}
	p := New(enc, reg, logging.NewNop())

	j := newTestJob(t, 1, true)
	h, _ := reg.Submit(context.Background(), j)
	if err := p.Assemble(context.Background(), j, h); err != nil {
		t.Fatal(err)
	}
	if enc.lastTags.Album != "" {
		t.Fatalf("album = %q, want empty without a series", enc.lastTags.Album)
	}

	j = newTestJob(t, 1, true)
	j.Book.Series = "Dune Chronicles"
	j.Book.BookNumber = 1
	h, _ = reg.Submit(context.Background(), j)
	if err := p.Assemble(context.Background(), j, h); err != nil {
		t.Fatal(err)
	}
	if enc.lastTags.Album != "Dune Chronicles" || enc.lastTags.Track != 1 {
		t.Fatalf("series tags not written: %+v", enc.lastTags)
	}
}

func TestConcurrentJobsKeepTheirQualitySnapshots(t *testing.T) {
	reg := newTestRegistry(t)
	enc := &fakeEncoder{}
	p := New(enc, reg, logging.NewNop())

	jobA := newTestJob(t, 2, false)
	jobB := newTestJob(t, 2, false)
	eff, err := quality.Resolve("Efficient")
	if err != nil {
		t.Fatal(err)
	}
	jobB.Quality = eff

	hA, _ := reg.Submit(context.Background(), jobA)
	hB, _ := reg.Submit(context.Background(), jobB)

	var wg sync.WaitGroup
	errs := make([]error, 2)
	wg.Add(2)
	go func() {
		defer wg.Done()
		errs[0] = p.Assemble(context.Background(), jobA, hA)
	}()
	go func() {
		defer wg.Done()
		errs[1] = p.Assemble(context.Background(), jobB, hB)
	}()
	wg.Wait()
	for _, err := range errs {
		if err != nil {
			t.Fatal(err)
		}
	}

	// every intermediate and final encode lands in a temp dir carrying the
	// job id, so the recorded calls attribute cleanly to one snapshot
	idA := jobA.ID.String()[:8]
	idB := jobB.ID.String()[:8]
	sawA, sawB := 0, 0
	enc.mu.Lock()
	defer enc.mu.Unlock()
	for _, call := range enc.params {
		switch {
		case strings.Contains(call.output, idA):
			sawA++
			if call.params.BitRate != 128000 {
				t.Fatalf("job A encode used bit rate %d, want 128000", call.params.BitRate)
			}
		case strings.Contains(call.output, idB):
			sawB++
			if call.params.BitRate != 64000 {
				t.Fatalf("job B encode used bit rate %d, want 64000", call.params.BitRate)
			}
		}
	}
	if sawA == 0 || sawB == 0 {
		t.Fatalf("expected encodes for both jobs, got %d/%d", sawA, sawB)
	}
}

func TestAssembleConvertFailureReportsError(t *testing.T) {
	reg := newTestRegistry(t)
	enc := &fakeEncoder{failOn: "20 - chapter.mp3"}
	p := New(enc, reg, logging.NewNop())
	j := newTestJob(t, 3, true)

	h, _ := reg.Submit(context.Background(), j)
	err := p.Assemble(context.Background(), j, h)
	if err == nil {
		t.Fatal("expected error")
	}
	if !errors.Is(err, services.ErrEncode) {
		t.Fatalf("expected encode error, got %v", err)
	}

	if _, statErr := os.Stat(j.OutputPath); !os.IsNotExist(statErr) {
		t.Fatal("failed job must not produce output")
	}

	rec, _ := reg.Job(context.Background(), j.ID)
	if rec.Status != job.StatusError {
		t.Fatalf("status = %s, want error", rec.Status)
	}
	if rec.ErrorMessage == "" {
		t.Fatal("error message missing from record")
	}
}

func TestAssembleAvoidsOverwritingExistingOutput(t *testing.T) {
	reg := newTestRegistry(t)
	enc := &fakeEncoder{}
	p := New(enc, reg, logging.NewNop())
	j := newTestJob(t, 1, false)

	if err := os.WriteFile(j.OutputPath, []byte("precious"), 0o644); err != nil {
		t.Fatal(err)
	}

	h, _ := reg.Submit(context.Background(), j)
	if err := p.Assemble(context.Background(), j, h); err != nil {
		t.Fatalf("Assemble: %v", err)
	}

	original, err := os.ReadFile(j.OutputPath)
	if err != nil {
		t.Fatal(err)
	}
	if string(original) != "precious" {
		t.Fatal("existing output was overwritten")
	}

	alternate := j.OutputPath[:len(j.OutputPath)-len(".m4b")] + " (1).m4b"
	if _, err := os.Stat(alternate); err != nil {
		t.Fatalf("expected output at %s: %v", alternate, err)
	}
}

func TestAssembleProgressIsMonotonic(t *testing.T) {
	reg := newTestRegistry(t)
	enc := &fakeEncoder{}
	p := New(enc, reg, logging.NewNop())
	j := newTestJob(t, 2, true)

	reports, cancel := reg.Subscribe()
	defer cancel()

	h, _ := reg.Submit(context.Background(), j)
	if err := p.Assemble(context.Background(), j, h); err != nil {
		t.Fatal(err)
	}

	var got []job.Report
	deadline := time.After(2 * time.Second)
collect:
	for {
		select {
		case report := <-reports:
			got = append(got, report)
			if report.Status.Terminal() {
				break collect
			}
		case <-deadline:
			break collect
		}
	}

	if len(got) == 0 {
		t.Fatal("no reports received")
	}
	last := got[len(got)-1]
	if last.Status != job.StatusCompleted || last.Fraction != 1 {
		t.Fatalf("terminal report = %+v", last)
	}
	for i := 1; i < len(got); i++ {
		if got[i].Fraction < got[i-1].Fraction {
			t.Fatalf("fractions regressed at %d: %+v", i, got)
		}
	}
}
