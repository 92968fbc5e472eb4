package storage

import (
	"fmt"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// Storage wraps a gorm.DB handle with the operations the engine needs.
type Storage struct {
	DB *gorm.DB
}

// Open opens (creating if absent) the sqlite database at path and migrates
// the schema. path may be ":memory:" for tests.
func Open(path string) (*Storage, error) {
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.Exec("PRAGMA journal_mode=WAL;")

	if err := db.AutoMigrate(
		&DownloadRecord{},
		&DownloadLocation{},
		&DailyStat{},
		&AppSetting{},
		&SpeedTestHistory{},
	); err != nil {
		return nil, fmt.Errorf("migrate database: %w", err)
	}

	return &Storage{DB: db}, nil
}

// Close releases the underlying sqlite connection.
func (s *Storage) Close() error {
	sqlDB, err := s.DB.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Checkpoint forces a WAL checkpoint, used on graceful shutdown.
func (s *Storage) Checkpoint() error {
	return s.DB.Exec("PRAGMA wal_checkpoint(TRUNCATE);").Error
}

// SaveDownload upserts a download record.
func (s *Storage) SaveDownload(rec DownloadRecord) error {
	return s.DB.Save(&rec).Error
}

// GetDownload fetches a single download record by id.
func (s *Storage) GetDownload(id string) (DownloadRecord, error) {
	var rec DownloadRecord
	err := s.DB.First(&rec, "id = ?", id).Error
	return rec, err
}

// DeleteDownload removes a download record (soft delete via gorm).
func (s *Storage) DeleteDownload(id string) error {
	return s.DB.Delete(&DownloadRecord{}, "id = ?", id).Error
}

// GetAllDownloads returns every non-deleted download record.
func (s *Storage) GetAllDownloads() ([]DownloadRecord, error) {
	var recs []DownloadRecord
	err := s.DB.Order("queue_order asc").Find(&recs).Error
	return recs, err
}

// GetString reads a single setting value, "" if absent.
func (s *Storage) GetString(key string) (string, error) {
	var setting AppSetting
	err := s.DB.First(&setting, "key = ?", key).Error
	if err == gorm.ErrRecordNotFound {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return setting.Value, nil
}

// SetString writes (upserting) a single setting value.
func (s *Storage) SetString(key, value string) error {
	return s.DB.Save(&AppSetting{Key: key, Value: value}).Error
}

// AllSettings returns every persisted key/value pair.
func (s *Storage) AllSettings() (map[string]string, error) {
	var rows []AppSetting
	if err := s.DB.Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make(map[string]string, len(rows))
	for _, r := range rows {
		out[r.Key] = r.Value
	}
	return out, nil
}

// IncrementDailyBytes adds bytes to today's DailyStat row, creating it if
// absent.
func (s *Storage) IncrementDailyBytes(date string, bytes int64) error {
	return s.DB.Exec(
		`INSERT INTO daily_stats (date, bytes, files) VALUES (?, ?, 0)
		 ON CONFLICT(date) DO UPDATE SET bytes = bytes + excluded.bytes`,
		date, bytes,
	).Error
}

// IncrementDailyFiles increments today's completed-file counter.
func (s *Storage) IncrementDailyFiles(date string) error {
	return s.DB.Exec(
		`INSERT INTO daily_stats (date, bytes, files) VALUES (?, 0, 1)
		 ON CONFLICT(date) DO UPDATE SET files = files + 1`,
		date,
	).Error
}

// GetDailyHistory returns the last n days of stats, most recent first.
func (s *Storage) GetDailyHistory(n int) ([]DailyStat, error) {
	var stats []DailyStat
	err := s.DB.Order("date desc").Limit(n).Find(&stats).Error
	return stats, err
}

// GetTotalLifetime sums bytes across all recorded days.
func (s *Storage) GetTotalLifetime() (int64, error) {
	var total int64
	err := s.DB.Model(&DailyStat{}).Select("COALESCE(SUM(bytes), 0)").Row().Scan(&total)
	return total, err
}

// GetTotalFiles sums completed-file counts across all recorded days.
func (s *Storage) GetTotalFiles() (int64, error) {
	var total int64
	err := s.DB.Model(&DailyStat{}).Select("COALESCE(SUM(files), 0)").Row().Scan(&total)
	return total, err
}

// SaveLocation upserts a curated download location.
func (s *Storage) SaveLocation(loc DownloadLocation) error {
	return s.DB.Save(&loc).Error
}

// GetLocations returns every curated download location.
func (s *Storage) GetLocations() ([]DownloadLocation, error) {
	var locs []DownloadLocation
	err := s.DB.Find(&locs).Error
	return locs, err
}

// SaveSpeedTest records a speed test result.
func (s *Storage) SaveSpeedTest(h SpeedTestHistory) error {
	return s.DB.Create(&h).Error
}
