package store

import (
	"errors"
	"log/slog"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// HistoryStore answers "was this video already downloaded" questions and
// records finished downloads. All operations tolerate storage failures:
// queries report "not downloaded" and writes are logged and dropped, so a
// broken database degrades duplicate detection instead of blocking
// downloads. An empty video id never matches and is never recorded.
type HistoryStore struct {
	db     *gorm.DB
	logger *slog.Logger
}

// NewHistoryStore wraps an open database handle.
func NewHistoryStore(db *gorm.DB, logger *slog.Logger) *HistoryStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &HistoryStore{db: db, logger: logger}
}

// IsDownloaded reports whether videoID was downloaded in exactly format.
func (h *HistoryStore) IsDownloaded(videoID, format string) bool {
	if videoID == "" {
		return false
	}

	var rec HistoryRecord
	err := h.db.Where("video_id = ? AND format = ?", videoID, format).First(&rec).Error
	if err != nil {
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			h.logger.Error("history lookup failed", "video_id", videoID, "error", err)
		}
		return false
	}
	return true
}

// IsDownloadedAnyFormat reports whether videoID was downloaded in any
// format.
func (h *HistoryStore) IsDownloadedAnyFormat(videoID string) bool {
	if videoID == "" {
		return false
	}

	var count int64
	if err := h.db.Model(&HistoryRecord{}).Where("video_id = ?", videoID).Count(&count).Error; err != nil {
		h.logger.Error("history lookup failed", "video_id", videoID, "error", err)
		return false
	}
	return count > 0
}

// Add records a finished download, replacing any previous record for the
// same video and format.
func (h *HistoryStore) Add(videoID, format, title, uploader string) {
	if videoID == "" {
		return
	}

	rec := HistoryRecord{
		VideoID:      videoID,
		Format:       format,
		Title:        title,
		Uploader:     uploader,
		DownloadDate: time.Now(),
	}
	err := h.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "video_id"}, {Name: "format"}},
		UpdateAll: true,
	}).Create(&rec).Error
	if err != nil {
		h.logger.Error("failed to record download", "video_id", videoID, "format", format, "error", err)
	}
}

// Remove deletes the record for videoID in format. Used when the user
// confirms re-downloading over a historical entry.
func (h *HistoryStore) Remove(videoID, format string) {
	if videoID == "" {
		return
	}

	err := h.db.Where("video_id = ? AND format = ?", videoID, format).Delete(&HistoryRecord{}).Error
	if err != nil {
		h.logger.Error("failed to remove history record", "video_id", videoID, "format", format, "error", err)
	}
}
