package storage

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"
)

type dialect string

const (
	dialectSQLite   dialect = "sqlite"
	dialectPostgres dialect = "pgx"
)

// ErrNotFound is returned for lookups that match no row.
var ErrNotFound = errors.New("not found")

// Store persists job history and the landmark cache in SQLite or Postgres.
type Store struct {
	DB      *sql.DB // Export for direct database access
	dialect dialect
	logger  *slog.Logger
}

// New opens the database named by dsn and migrates it. A postgres:// or
// postgresql:// URL selects Postgres; anything else is a SQLite file path.
func New(dsn string) (*Store, error) {
	d := dialectSQLite
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") {
		d = dialectPostgres
	} else if dsn != ":memory:" {
		if dir := filepath.Dir(dsn); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("create database dir: %w", err)
			}
		}
	}

	db, err := sql.Open(string(d), dsn)
	if err != nil {
		return nil, err
	}
	if d == dialectSQLite {
		// one writer; avoids SQLITE_BUSY between pipeline workers
		db.SetMaxOpenConns(1)
	}
	s := &Store{DB: db, dialect: d, logger: slog.Default()}
	if err := s.MigrateUp(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// Close closes the underlying DB.
func (s *Store) Close() error {
	if s == nil || s.DB == nil {
		return nil
	}
	return s.DB.Close()
}

// Driver names the SQL backend in use.
func (s *Store) Driver() string {
	if s == nil {
		return ""
	}
	return string(s.dialect)
}

// rebind rewrites ? placeholders to $n for Postgres.
func (s *Store) rebind(query string) string {
	if s.dialect != dialectPostgres {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteString("$" + strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func (s *Store) exec(query string, args ...any) error {
	_, err := s.DB.Exec(s.rebind(query), args...)
	return err
}

// JobRecord captures persisted job info.
type JobRecord struct {
	ID          string     `json:"id"`
	JobType     string     `json:"job_type"`
	Status      string     `json:"status"`
	InputPath   string     `json:"input_path"`
	OutputPath  string     `json:"output_path"`
	OptionsJSON string     `json:"options_json,omitempty"`
	Error       string     `json:"error,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// RecordJobQueued inserts a pending job.
func (s *Store) RecordJobQueued(rec JobRecord) error {
	if s == nil {
		return nil
	}
	if rec.OptionsJSON == "" {
		rec.OptionsJSON = "{}"
	}
	return s.exec(`INSERT INTO processing_jobs (id, job_type, status, input_path, output_path, options_json, created_at)
        VALUES (?, ?, ?, ?, ?, ?, ?)
        ON CONFLICT (id) DO UPDATE SET job_type=excluded.job_type, status=excluded.status,
            input_path=excluded.input_path, output_path=excluded.output_path,
            options_json=excluded.options_json, created_at=excluded.created_at,
            started_at=NULL, completed_at=NULL, error_message=NULL;`,
		rec.ID, rec.JobType, rec.Status, rec.InputPath, rec.OutputPath, rec.OptionsJSON, time.Now().UTC())
}

// RecordJobStart marks a job as running.
func (s *Store) RecordJobStart(id string) error {
	if s == nil {
		return nil
	}
	return s.exec(`UPDATE processing_jobs SET status='running', started_at=? WHERE id=?;`, time.Now().UTC(), id)
}

// RecordJobResult finalizes a job with status and meta.
func (s *Store) RecordJobResult(id string, status string, meta map[string]any, errMsg string) error {
	if s == nil {
		return nil
	}
	metaJSON, err := json.Marshal(meta)
	if err != nil {
		return fmt.Errorf("marshal meta: %w", err)
	}
	now := time.Now().UTC()
	var errVal any
	if errMsg != "" {
		errVal = errMsg
	}
	if err := s.exec(`UPDATE processing_jobs SET status=?, completed_at=?, error_message=? WHERE id=?;`, status, now, errVal, id); err != nil {
		return err
	}
	return s.exec(`INSERT INTO job_results (job_id, meta_json, created_at) VALUES (?, ?, ?);`, id, string(metaJSON), now)
}

const jobColumns = `id, job_type, status, input_path, output_path, options_json, created_at, started_at, completed_at, error_message`

// RecentJobs returns the latest jobs up to limit.
func (s *Store) RecentJobs(limit int) ([]JobRecord, error) {
	if s == nil {
		return nil, errors.New("store not initialized")
	}
	rows, err := s.DB.Query(s.rebind(`SELECT `+jobColumns+` FROM processing_jobs ORDER BY created_at DESC, id DESC LIMIT ?;`), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var recs []JobRecord
	for rows.Next() {
		rec, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		recs = append(recs, rec)
	}
	return recs, rows.Err()
}

// Job fetches one job by id.
func (s *Store) Job(id string) (JobRecord, error) {
	if s == nil {
		return JobRecord{}, errors.New("store not initialized")
	}
	row := s.DB.QueryRow(s.rebind(`SELECT `+jobColumns+` FROM processing_jobs WHERE id=?;`), id)
	rec, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return JobRecord{}, fmt.Errorf("job %s: %w", id, ErrNotFound)
	}
	return rec, err
}

type scanner interface {
	Scan(dest ...any) error
}

func scanJob(row scanner) (JobRecord, error) {
	var rec JobRecord
	var started, completed sql.NullTime
	var errorMsg sql.NullString
	if err := row.Scan(&rec.ID, &rec.JobType, &rec.Status, &rec.InputPath, &rec.OutputPath, &rec.OptionsJSON, &rec.CreatedAt, &started, &completed, &errorMsg); err != nil {
		return JobRecord{}, err
	}
	if started.Valid {
		rec.StartedAt = &started.Time
	}
	if completed.Valid {
		rec.CompletedAt = &completed.Time
	}
	if errorMsg.Valid {
		rec.Error = errorMsg.String
	}
	return rec, nil
}

// JobMeta fetches the last meta blob for a job.
func (s *Store) JobMeta(id string) (map[string]any, error) {
	if s == nil {
		return nil, errors.New("store not initialized")
	}
	var metaJSON string
	err := s.DB.QueryRow(s.rebind(`SELECT meta_json FROM job_results WHERE job_id=? ORDER BY created_at DESC LIMIT 1;`), id).Scan(&metaJSON)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("meta for job %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	var meta map[string]any
	if err := json.Unmarshal([]byte(metaJSON), &meta); err != nil {
		return nil, fmt.Errorf("unmarshal meta: %w", err)
	}
	return meta, nil
}
