package registry

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/google/uuid"

	"bindery/internal/book"
	"bindery/internal/job"
	"bindery/internal/quality"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := OpenPath(filepath.Join(t.TempDir(), "registry.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func newTestJob() *job.Job {
	return job.New(
		book.Book{
			Title:   "Dune",
			Author:  "Frank Herbert",
			Sources: []string{"/books/dune/01.mp3", "/books/dune/02.mp3"},
		},
		quality.Default(),
		"/out/Dune.m4b",
		2,
		true,
	)
}

func TestInsertAndGetJob(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	j := newTestJob()
	if err := store.InsertJob(ctx, RecordFromJob(j)); err != nil {
		t.Fatalf("InsertJob: %v", err)
	}

	rec, err := store.GetJob(ctx, j.ID)
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	if rec.Title != "Dune" || rec.Author != "Frank Herbert" {
		t.Fatalf("unexpected record: %+v", rec)
	}
	if len(rec.Sources) != 2 || rec.Sources[0] != "/books/dune/01.mp3" {
		t.Fatalf("sources not round-tripped: %v", rec.Sources)
	}
	if rec.Status != job.StatusPending || rec.Attempt != 1 {
		t.Fatalf("new record should be pending attempt 1: %+v", rec)
	}
	if rec.BitRate != 128000 || rec.SampleRate != 44100 {
		t.Fatalf("quality snapshot lost: %+v", rec)
	}

	restored := rec.Job()
	if restored.ID != j.ID || restored.Book.Title != j.Book.Title || restored.Quality != j.Quality {
		t.Fatalf("Job() did not reconstruct the original: %+v", restored)
	}
}

func TestGetJobNotFound(t *testing.T) {
	store := newTestStore(t)
	_, err := store.GetJob(context.Background(), uuid.New())
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestUpdateDisplayState(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	j := newTestJob()
	if err := store.InsertJob(ctx, RecordFromJob(j)); err != nil {
		t.Fatal(err)
	}
	if err := store.UpdateDisplayState(ctx, j.ID, 2, job.StatusError, 0.42, "convert", "encode failed"); err != nil {
		t.Fatalf("UpdateDisplayState: %v", err)
	}

	rec, err := store.GetJob(ctx, j.ID)
	if err != nil {
		t.Fatal(err)
	}
	if rec.Status != job.StatusError || rec.Attempt != 2 || rec.Fraction != 0.42 {
		t.Fatalf("display state not persisted: %+v", rec)
	}
	if rec.Stage != "convert" || rec.ErrorMessage != "encode failed" {
		t.Fatalf("stage/error not persisted: %+v", rec)
	}
}

func TestDeleteCompleted(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	done := newTestJob()
	failed := newTestJob()
	for _, j := range []*job.Job{done, failed} {
		if err := store.InsertJob(ctx, RecordFromJob(j)); err != nil {
			t.Fatal(err)
		}
	}
	if err := store.UpdateDisplayState(ctx, done.ID, 1, job.StatusCompleted, 1, "", ""); err != nil {
		t.Fatal(err)
	}
	if err := store.UpdateDisplayState(ctx, failed.ID, 1, job.StatusError, 0.3, "convert", "boom"); err != nil {
		t.Fatal(err)
	}

	removed, err := store.DeleteCompleted(ctx)
	if err != nil {
		t.Fatalf("DeleteCompleted: %v", err)
	}
	if removed != 1 {
		t.Fatalf("removed = %d, want 1", removed)
	}

	records, err := store.ListJobs(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(records) != 1 || records[0].ID != failed.ID {
		t.Fatalf("expected only the failed job to remain: %+v", records)
	}
}

func TestOpenPathReusesExistingSchema(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "registry.db")

	first, err := OpenPath(path)
	if err != nil {
		t.Fatal(err)
	}
	j := newTestJob()
	if err := first.InsertJob(context.Background(), RecordFromJob(j)); err != nil {
		t.Fatal(err)
	}
	if err := first.Close(); err != nil {
		t.Fatal(err)
	}

	second, err := OpenPath(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer second.Close()

	if _, err := second.GetJob(context.Background(), j.ID); err != nil {
		t.Fatalf("job lost across reopen: %v", err)
	}
}
