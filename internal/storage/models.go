// Package storage is the gorm+sqlite persistence layer: download jobs,
// key/value settings, curated download locations, and daily download
// statistics. It is the durable backing store behind internal/settings and
// internal/download; per-process, non-durable state (source health, the
// search result cache, in-flight search jobs) deliberately lives elsewhere.
package storage

import (
	"project-tachyon/internal/model"

	"gorm.io/gorm"
)

// DownloadRecord is the persisted row for a model.DownloadJob.
type DownloadRecord struct {
	ID              string         `gorm:"primaryKey" json:"id"`
	Title           string         `json:"title"`
	OutputPath      string         `json:"output_path"`
	MagnetSource    string         `json:"magnet_source"`
	DirectURL       string         `json:"direct_url"`
	Status          string         `gorm:"index" json:"status"`
	Progress        int            `json:"progress"`
	DownloadedBytes int64          `json:"downloaded_bytes"`
	TotalBytes      int64          `json:"total_bytes"`
	SpeedKBps       float64        `json:"speed_kbps"`
	Error           string         `json:"error"`
	StatusDetail    string         `json:"status_detail"`
	Backend         string         `json:"backend"`
	StartTime       string         `json:"start_time"`
	EndTime         string         `json:"end_time"`
	QueueOrder       int            `gorm:"default:0" json:"queue_order"`
	Domain           string         `json:"domain"`
	ExpectedChecksum string         `json:"expected_checksum"`
	Checksum         string         `json:"checksum"`
	MetaJSON         string         `json:"-"`
	DeletedAt        gorm.DeletedAt `gorm:"index" json:"-"`
}

// TableName specifies the table name for DownloadRecord.
func (DownloadRecord) TableName() string {
	return "download_records"
}

// ToJob converts a persisted row back into the in-memory job representation
// used by internal/download.
func (r DownloadRecord) ToJob() model.DownloadJob {
	job := model.DownloadJob{
		ID:              r.ID,
		Title:           r.Title,
		OutputPath:      r.OutputPath,
		MagnetSource:    r.MagnetSource,
		DirectURL:       r.DirectURL,
		Status:          model.DownloadStatus(r.Status),
		Progress:        r.Progress,
		DownloadedBytes: r.DownloadedBytes,
		TotalBytes:      r.TotalBytes,
		SpeedKBps:       r.SpeedKBps,
		Error:           r.Error,
		StatusDetail:    r.StatusDetail,
		Backend:         r.Backend,
		ExpectedChecksum: r.ExpectedChecksum,
		Checksum:         r.Checksum,
	}
	return job
}

// FromJob converts an in-memory job into the row shape to persist.
func FromJob(job model.DownloadJob) DownloadRecord {
	rec := DownloadRecord{
		ID:              job.ID,
		Title:           job.Title,
		OutputPath:      job.OutputPath,
		MagnetSource:    job.MagnetSource,
		DirectURL:       job.DirectURL,
		Status:          string(job.Status),
		Progress:        job.Progress,
		DownloadedBytes: job.DownloadedBytes,
		TotalBytes:      job.TotalBytes,
		SpeedKBps:       job.SpeedKBps,
		Error:           job.Error,
		StatusDetail:    job.StatusDetail,
		Backend:         job.Backend,
		ExpectedChecksum: job.ExpectedChecksum,
		Checksum:         job.Checksum,
	}
	if !job.StartTime.IsZero() {
		rec.StartTime = job.StartTime.Format("2006-01-02T15:04:05Z07:00")
	}
	if job.EndTime != nil {
		rec.EndTime = job.EndTime.Format("2006-01-02T15:04:05Z07:00")
	}
	return rec
}

// DownloadLocation stores saved download destinations with nicknames, kept
// from the teacher as a curated-location convenience feature outside the
// core pipeline.
type DownloadLocation struct {
	Path     string `gorm:"primaryKey" json:"path"`
	Nickname string `json:"nickname"`
}

// TableName specifies the table name for DownloadLocation.
func (DownloadLocation) TableName() string {
	return "download_locations"
}

// DailyStat tracks daily download statistics for analytics.
type DailyStat struct {
	Date  string `gorm:"primaryKey"`
	Bytes int64  `gorm:"default:0"`
	Files int64  `gorm:"default:0"`
}

// TableName specifies the table name for DailyStat.
func (DailyStat) TableName() string {
	return "daily_stats"
}

// AppSetting stores a single key/value configuration entry. The key encodes
// its tier prefix (process/user/profile) per internal/settings.
type AppSetting struct {
	Key   string `gorm:"primaryKey"`
	Value string
}

// TableName specifies the table name for AppSetting.
func (AppSetting) TableName() string {
	return "app_settings"
}

// SpeedTestHistory stores past network speed test results surfaced by
// internal/network's diagnostic hook.
type SpeedTestHistory struct {
	ID             uint    `gorm:"primaryKey" json:"id"`
	DownloadMbps   float64 `json:"download_mbps"`
	UploadMbps     float64 `json:"upload_mbps"`
	PingMs         int64   `json:"ping_ms"`
	ISP            string  `json:"isp"`
	ServerName     string  `json:"server_name"`
	ServerLocation string  `json:"server_location"`
	Timestamp      string  `json:"timestamp"`
}

// TableName specifies the table name for SpeedTestHistory.
func (SpeedTestHistory) TableName() string {
	return "speed_test_history"
}
