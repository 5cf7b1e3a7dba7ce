package storage

import (
	"errors"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"

	"eyeline/internal/landmark"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(filepath.Join(t.TempDir(), "db", "eyeline.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestMigrationsApplied(t *testing.T) {
	s := openTestStore(t)
	version, dirty, err := s.MigrateVersion()
	if err != nil {
		t.Fatalf("version: %v", err)
	}
	if version != 2 || dirty {
		t.Fatalf("expected clean version 2, got %d dirty=%v", version, dirty)
	}
	if err := s.MigrateUp(); err != nil {
		t.Fatalf("second migrate should be a no-op: %v", err)
	}
}

func TestJobLifecycle(t *testing.T) {
	s := openTestStore(t)

	if err := s.RecordJobQueued(JobRecord{ID: "job-1", JobType: "stabilize", Status: "queued", InputPath: "/in", OutputPath: "/out.mp4"}); err != nil {
		t.Fatalf("queue: %v", err)
	}
	if err := s.RecordJobStart("job-1"); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := s.RecordJobResult("job-1", "completed", map[string]any{"frames": 3}, ""); err != nil {
		t.Fatalf("result: %v", err)
	}

	job, err := s.Job("job-1")
	if err != nil {
		t.Fatalf("job: %v", err)
	}
	if job.Status != "completed" || job.StartedAt == nil || job.CompletedAt == nil || job.Error != "" {
		t.Fatalf("unexpected job: %+v", job)
	}
	if job.OptionsJSON != "{}" {
		t.Fatalf("expected default options, got %q", job.OptionsJSON)
	}

	meta, err := s.JobMeta("job-1")
	if err != nil {
		t.Fatalf("meta: %v", err)
	}
	if meta["frames"] != float64(3) {
		t.Fatalf("unexpected meta: %v", meta)
	}

	if _, err := s.Job("nope"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if _, err := s.JobMeta("nope"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound for meta, got %v", err)
	}
}

func TestRecentJobsNewestFirst(t *testing.T) {
	s := openTestStore(t)
	for _, id := range []string{"a", "b", "c"} {
		if err := s.RecordJobQueued(JobRecord{ID: id, JobType: "detect", Status: "queued"}); err != nil {
			t.Fatalf("queue %s: %v", id, err)
		}
	}
	if err := s.RecordJobResult("b", "failed", nil, "detector offline"); err != nil {
		t.Fatalf("result: %v", err)
	}

	jobs, err := s.RecentJobs(2)
	if err != nil {
		t.Fatalf("recent: %v", err)
	}
	if len(jobs) != 2 || jobs[0].ID != "c" || jobs[1].ID != "b" {
		t.Fatalf("unexpected order: %+v", jobs)
	}
	if jobs[1].Error != "detector offline" || jobs[1].Status != "failed" {
		t.Fatalf("unexpected failed job: %+v", jobs[1])
	}
}

func TestLandmarkCache(t *testing.T) {
	s := openTestStore(t)
	rec := landmark.Record{
		Width: 1000, Height: 1200,
		LeftEye:  landmark.Point{X: 400, Y: 500},
		RightEye: landmark.Point{X: 600, Y: 502.5},
		EyeWidth: 200.01,
	}
	hash := ImageHash([]byte("jpeg bytes"))

	if _, err := s.Landmark(hash); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected cache miss, got %v", err)
	}
	if err := s.PutLandmark(hash, "day1.jpg", rec); err != nil {
		t.Fatalf("put: %v", err)
	}
	if err := s.PutLandmark(hash, "day1-copy.jpg", rec); err != nil {
		t.Fatalf("overwrite: %v", err)
	}
	got, err := s.Landmark(hash)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if diff := cmp.Diff(rec, got); diff != "" {
		t.Fatalf("cached record differs:\n%s", diff)
	}
	if n, err := s.LandmarkCount(); err != nil || n != 1 {
		t.Fatalf("expected one cached image, got %d %v", n, err)
	}
}

func TestRebind(t *testing.T) {
	s := &Store{dialect: dialectPostgres}
	if got := s.rebind("a=? AND b=?"); got != "a=$1 AND b=$2" {
		t.Fatalf("rebind: %q", got)
	}
	s.dialect = dialectSQLite
	if got := s.rebind("a=?"); got != "a=?" {
		t.Fatalf("sqlite must keep placeholders: %q", got)
	}
}

func TestNilStoreIsSafe(t *testing.T) {
	var s *Store
	if err := s.RecordJobQueued(JobRecord{ID: "x"}); err != nil {
		t.Fatalf("nil store queue: %v", err)
	}
	if err := s.PutLandmark("h", "f", landmark.Record{}); err != nil {
		t.Fatalf("nil store put: %v", err)
	}
	if _, err := s.Landmark("h"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("nil store lookup should miss, got %v", err)
	}
}
