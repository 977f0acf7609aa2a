package store

import "time"

// HistoryRecord is one completed download. The same video downloaded in
// two different formats produces two records.
type HistoryRecord struct {
	VideoID      string    `gorm:"column:video_id;primaryKey"`
	Format       string    `gorm:"column:format;primaryKey"`
	Title        string    `gorm:"column:title"`
	Uploader     string    `gorm:"column:uploader"`
	DownloadDate time.Time `gorm:"column:download_date"`
}

// TableName keeps the table name stable across model renames.
func (HistoryRecord) TableName() string {
	return "downloads"
}
