package storage

import (
	"testing"

	"project-tachyon/internal/model"
)

func setupTestStorage(t *testing.T) *Storage {
	s, err := Open(":memory:")
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestDownloadRecordCRUD(t *testing.T) {
	s := setupTestStorage(t)

	job := model.DownloadJob{
		ID:         "job-1",
		Title:      "Acme Synth",
		OutputPath: "/downloads/acme-synth.zip",
		Status:     model.StatusDownloading,
		Progress:   10,
	}
	if err := s.SaveDownload(FromJob(job)); err != nil {
		t.Fatalf("SaveDownload: %v", err)
	}

	rec, err := s.GetDownload("job-1")
	if err != nil {
		t.Fatalf("GetDownload: %v", err)
	}
	if rec.Title != "Acme Synth" {
		t.Errorf("expected title to round-trip, got %q", rec.Title)
	}

	rec.Status = string(model.StatusCompleted)
	rec.Progress = 100
	if err := s.SaveDownload(rec); err != nil {
		t.Fatalf("SaveDownload update: %v", err)
	}

	updated, err := s.GetDownload("job-1")
	if err != nil {
		t.Fatalf("GetDownload after update: %v", err)
	}
	if updated.Status != string(model.StatusCompleted) {
		t.Errorf("expected status completed, got %s", updated.Status)
	}

	all, err := s.GetAllDownloads()
	if err != nil {
		t.Fatalf("GetAllDownloads: %v", err)
	}
	if len(all) != 1 {
		t.Fatalf("expected 1 download record, got %d", len(all))
	}

	if err := s.DeleteDownload("job-1"); err != nil {
		t.Fatalf("DeleteDownload: %v", err)
	}
	all, err = s.GetAllDownloads()
	if err != nil {
		t.Fatalf("GetAllDownloads after delete: %v", err)
	}
	if len(all) != 0 {
		t.Errorf("expected 0 download records after delete, got %d", len(all))
	}
}

func TestSettingsGetSetString(t *testing.T) {
	s := setupTestStorage(t)

	if v, err := s.GetString("missing_key"); err != nil || v != "" {
		t.Fatalf("expected empty string for missing key, got %q err=%v", v, err)
	}

	if err := s.SetString("user.download_folder", "/home/alice/Downloads"); err != nil {
		t.Fatalf("SetString: %v", err)
	}

	v, err := s.GetString("user.download_folder")
	if err != nil {
		t.Fatalf("GetString: %v", err)
	}
	if v != "/home/alice/Downloads" {
		t.Errorf("got %q", v)
	}

	all, err := s.AllSettings()
	if err != nil {
		t.Fatalf("AllSettings: %v", err)
	}
	if all["user.download_folder"] != "/home/alice/Downloads" {
		t.Errorf("AllSettings missing expected key, got %+v", all)
	}
}

func TestDailyStatsIncrement(t *testing.T) {
	s := setupTestStorage(t)

	if err := s.IncrementDailyBytes("2026-07-30", 1024); err != nil {
		t.Fatalf("IncrementDailyBytes: %v", err)
	}
	if err := s.IncrementDailyBytes("2026-07-30", 2048); err != nil {
		t.Fatalf("IncrementDailyBytes second call: %v", err)
	}
	if err := s.IncrementDailyFiles("2026-07-30"); err != nil {
		t.Fatalf("IncrementDailyFiles: %v", err)
	}

	history, err := s.GetDailyHistory(7)
	if err != nil {
		t.Fatalf("GetDailyHistory: %v", err)
	}
	if len(history) != 1 || history[0].Bytes != 3072 {
		t.Fatalf("expected accumulated 3072 bytes for the day, got %+v", history)
	}

	total, err := s.GetTotalLifetime()
	if err != nil {
		t.Fatalf("GetTotalLifetime: %v", err)
	}
	if total != 3072 {
		t.Errorf("expected lifetime total 3072, got %d", total)
	}
}
