package registry

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"bindery/internal/book"
	"bindery/internal/config"
	"bindery/internal/job"
	"bindery/internal/quality"
)

//go:embed schema.sql
var schemaSQL string

// schemaVersion is the current schema version. Bump this when the schema
// changes; users must clear the registry database after a bump.
const schemaVersion = 1

// ErrSchemaMismatch indicates the database schema version doesn't match the
// expected version.
var ErrSchemaMismatch = errors.New("schema version mismatch")

// ErrNotFound indicates no job exists with the requested identifier.
var ErrNotFound = errors.New("job not found")

// Store persists job records in SQLite.
type Store struct {
	db   *sql.DB
	path string
}

const (
	sqliteBusyCode          = 5
	busyRetryAttempts       = 5
	busyRetryInitialBackoff = 10 * time.Millisecond
	busyRetryMaxBackoff     = 200 * time.Millisecond
)

// Open initializes or connects to the registry database under the configured
// data directory.
func Open(cfg *config.Config) (*Store, error) {
	if err := cfg.EnsureDirectories(); err != nil {
		return nil, fmt.Errorf("ensure directories: %w", err)
	}
	return OpenPath(filepath.Join(cfg.Paths.DataDir, "registry.db"))
}

// OpenPath initializes or connects to a registry database at an explicit path.
func OpenPath(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA foreign_keys = ON",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, execErr := db.Exec(pragma); execErr != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply pragma %q: %w", pragma, execErr)
		}
	}

	store := &Store{db: db, path: dbPath}
	if err := store.initSchema(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *Store) initSchema(ctx context.Context) error {
	var tableExists int
	err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(1) FROM sqlite_master WHERE type='table' AND name='schema_version'",
	).Scan(&tableExists)
	if err != nil {
		return fmt.Errorf("check schema_version table: %w", err)
	}

	if tableExists == 0 {
		return s.createSchema(ctx)
	}

	var version int
	err = s.db.QueryRowContext(ctx, "SELECT version FROM schema_version LIMIT 1").Scan(&version)
	if err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}
	if version != schemaVersion {
		return fmt.Errorf("%w: database has version %d, expected %d (delete the registry database)",
			ErrSchemaMismatch, version, schemaVersion)
	}
	return nil
}

func (s *Store) createSchema(ctx context.Context) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin schema tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, schemaSQL); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	if _, err := tx.ExecContext(ctx, "INSERT INTO schema_version (version) VALUES (?)", schemaVersion); err != nil {
		return fmt.Errorf("record schema version: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit schema: %w", err)
	}
	return nil
}

func ensureContext(ctx context.Context) context.Context {
	if ctx != nil {
		return ctx
	}
	return context.Background()
}

func isSQLiteBusy(err error) bool {
	if err == nil {
		return false
	}
	var coder interface{ Code() int }
	if errors.As(err, &coder) && coder.Code() == sqliteBusyCode {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "SQLITE_BUSY") || strings.Contains(msg, "database is locked")
}

func retryOnBusy(ctx context.Context, op func() error) error {
	delay := busyRetryInitialBackoff
	var lastErr error
	for attempt := 0; attempt < busyRetryAttempts; attempt++ {
		lastErr = op()
		if lastErr == nil {
			return nil
		}
		if !isSQLiteBusy(lastErr) || attempt == busyRetryAttempts-1 {
			break
		}
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
		if next := delay * 2; next <= busyRetryMaxBackoff {
			delay = next
		}
	}
	return lastErr
}

func (s *Store) execWithRetry(ctx context.Context, query string, args ...any) error {
	ctx = ensureContext(ctx)
	return retryOnBusy(ctx, func() error {
		_, err := s.db.ExecContext(ctx, query, args...)
		return err
	})
}

// Record is the persisted form of a job together with its display state.
type Record struct {
	ID              uuid.UUID
	Title           string
	Author          string
	Series          string
	BookNumber      int
	Sources         []string
	CoverPath       string
	Preset          string
	BitRate         int
	SampleRate      int
	OutputPath      string
	Workers         int
	MetadataEnabled bool
	Status          job.Status
	Attempt         int
	Fraction        float64
	Stage           string
	ErrorMessage    string
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// RecordFromJob captures a job's immutable fields into a pending record.
func RecordFromJob(j *job.Job) Record {
	now := time.Now().UTC()
	created := j.CreatedAt
	if created.IsZero() {
		created = now
	}
	return Record{
		ID:              j.ID,
		Title:           j.Book.Title,
		Author:          j.Book.Author,
		Series:          j.Book.Series,
		BookNumber:      j.Book.BookNumber,
		Sources:         append([]string(nil), j.Book.Sources...),
		CoverPath:       j.Book.CoverPath,
		Preset:          string(j.Quality.Preset),
		BitRate:         j.Quality.BitRate,
		SampleRate:      j.Quality.SampleRate,
		OutputPath:      j.OutputPath,
		Workers:         j.Workers,
		MetadataEnabled: j.MetadataEnabled,
		Status:          job.StatusPending,
		Attempt:         1,
		CreatedAt:       created,
		UpdatedAt:       now,
	}
}

// Job reconstructs the runnable job from a record.
func (r Record) Job() *job.Job {
	return &job.Job{
		ID: r.ID,
		Book: book.Book{
			Title:      r.Title,
			Author:     r.Author,
			Series:     r.Series,
			BookNumber: r.BookNumber,
			Sources:    append([]string(nil), r.Sources...),
			CoverPath:  r.CoverPath,
		},
		Quality: quality.Config{
			Preset:     quality.Preset(r.Preset),
			BitRate:    r.BitRate,
			SampleRate: r.SampleRate,
		},
		OutputPath:      r.OutputPath,
		Workers:         r.Workers,
		MetadataEnabled: r.MetadataEnabled,
		CreatedAt:       r.CreatedAt,
	}
}

// InsertJob persists a new record.
func (s *Store) InsertJob(ctx context.Context, rec Record) error {
	sources, err := json.Marshal(rec.Sources)
	if err != nil {
		return fmt.Errorf("marshal sources: %w", err)
	}
	return s.execWithRetry(ctx, `
		INSERT INTO jobs (
			id, title, author, series, book_number, sources_json, cover_path,
			preset, bit_rate, sample_rate, output_path, workers, metadata_enabled,
			status, attempt, fraction, stage, error_message, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID.String(), rec.Title, rec.Author, rec.Series, rec.BookNumber,
		string(sources), rec.CoverPath, rec.Preset, rec.BitRate, rec.SampleRate,
		rec.OutputPath, rec.Workers, boolToInt(rec.MetadataEnabled),
		string(rec.Status), rec.Attempt, rec.Fraction, rec.Stage, rec.ErrorMessage,
		rec.CreatedAt.UTC().Format(time.RFC3339Nano), rec.UpdatedAt.UTC().Format(time.RFC3339Nano),
	)
}

// UpdateDisplayState writes the mutable progress columns for a job.
func (s *Store) UpdateDisplayState(ctx context.Context, id uuid.UUID, attempt int, status job.Status, fraction float64, stage, errorMessage string) error {
	return s.execWithRetry(ctx, `
		UPDATE jobs
		SET attempt = ?, status = ?, fraction = ?, stage = ?, error_message = ?, updated_at = ?
		WHERE id = ?`,
		attempt, string(status), fraction, stage, errorMessage,
		time.Now().UTC().Format(time.RFC3339Nano), id.String(),
	)
}

const selectColumns = `
	id, title, author, series, book_number, sources_json, cover_path,
	preset, bit_rate, sample_rate, output_path, workers, metadata_enabled,
	status, attempt, fraction, stage, error_message, created_at, updated_at`

// GetJob loads one record by identifier.
func (s *Store) GetJob(ctx context.Context, id uuid.UUID) (Record, error) {
	ctx = ensureContext(ctx)
	row := s.db.QueryRowContext(ctx, "SELECT"+selectColumns+" FROM jobs WHERE id = ?", id.String())
	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Record{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return rec, err
}

// ListJobs returns all records ordered by creation time.
func (s *Store) ListJobs(ctx context.Context) ([]Record, error) {
	ctx = ensureContext(ctx)
	rows, err := s.db.QueryContext(ctx, "SELECT"+selectColumns+" FROM jobs ORDER BY created_at, id")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

// DeleteCompleted removes completed jobs and reports how many were dropped.
func (s *Store) DeleteCompleted(ctx context.Context) (int64, error) {
	ctx = ensureContext(ctx)
	var affected int64
	err := retryOnBusy(ctx, func() error {
		res, execErr := s.db.ExecContext(ctx, "DELETE FROM jobs WHERE status = ?", string(job.StatusCompleted))
		if execErr != nil {
			return execErr
		}
		affected, execErr = res.RowsAffected()
		return execErr
	})
	return affected, err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (Record, error) {
	var (
		rec             Record
		id              string
		sourcesJSON     string
		metadataEnabled int
		status          string
		createdAt       string
		updatedAt       string
	)
	err := row.Scan(
		&id, &rec.Title, &rec.Author, &rec.Series, &rec.BookNumber,
		&sourcesJSON, &rec.CoverPath, &rec.Preset, &rec.BitRate, &rec.SampleRate,
		&rec.OutputPath, &rec.Workers, &metadataEnabled,
		&status, &rec.Attempt, &rec.Fraction, &rec.Stage, &rec.ErrorMessage,
		&createdAt, &updatedAt,
	)
	if err != nil {
		return Record{}, err
	}

	rec.ID, err = uuid.Parse(id)
	if err != nil {
		return Record{}, fmt.Errorf("parse job id %q: %w", id, err)
	}
	if err := json.Unmarshal([]byte(sourcesJSON), &rec.Sources); err != nil {
		return Record{}, fmt.Errorf("unmarshal sources for %s: %w", id, err)
	}
	rec.MetadataEnabled = metadataEnabled != 0
	rec.Status, err = job.ParseStatus(status)
	if err != nil {
		return Record{}, err
	}
	if rec.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt); err != nil {
		return Record{}, fmt.Errorf("parse created_at for %s: %w", id, err)
	}
	if rec.UpdatedAt, err = time.Parse(time.RFC3339Nano, updatedAt); err != nil {
		return Record{}, fmt.Errorf("parse updated_at for %s: %w", id, err)
	}
	return rec, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
