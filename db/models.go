package db

import (
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
)

// SharedFile is a file this node has copied into shared_files/ and
// registered with the tracker.
type SharedFile struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	Name      string    `gorm:"index" json:"name"`
	Size      int64     `json:"size"`
	CreatedAt time.Time `json:"created_at"`
}

// DownloadedFile is a completed fetch. RequestName is the name the
// file was published under; Name is what it was saved as.
type DownloadedFile struct {
	ID          uint      `gorm:"primaryKey" json:"id"`
	Name        string    `gorm:"index" json:"name"`
	RequestName string    `json:"request_name"`
	Size        int64     `json:"size"`
	CreatedAt   time.Time `json:"created_at"`
}

type Settings struct {
	ID          uint   `gorm:"primaryKey" json:"id"`
	TrackerAddr string `json:"tracker_addr"`
}

func InitDB(path string) (*gorm.DB, error) {
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{})
	if err != nil {
		return nil, err
	}

	if err := db.AutoMigrate(&SharedFile{}, &DownloadedFile{}, &Settings{}); err != nil {
		return nil, err
	}

	// Initialize default settings if not exists
	var count int64
	db.Model(&Settings{}).Count(&count)
	if count == 0 {
		db.Create(&Settings{
			TrackerAddr: "127.0.0.1:8000",
		})
	}

	return db, nil
}
