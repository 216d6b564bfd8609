// Package history keeps a local ledger of downloaded chapters so repeated
// runs can be inspected without re-reading every volume record.
package history

import (
	"fmt"
	"time"

	"github.com/glebarez/sqlite"

	"gorm.io/gorm"
)

// ChapterEntry is one downloaded chapter, keyed by its source URL.
type ChapterEntry struct {
	gorm.Model

	URL          string `gorm:"unique"`
	Novel        string
	Volume       string
	Title        string
	DownloadedAt time.Time
}

// Open connects to the ledger database, creating and migrating it as needed.
func Open(filePath string) (*gorm.DB, error) {
	db, err := gorm.Open(sqlite.Open(filePath), &gorm.Config{})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database %s: %s", filePath, err)
	}

	err = db.AutoMigrate(
		&ChapterEntry{},
	)
	if err != nil {
		return nil, fmt.Errorf("database migration failed: %s", err)
	}

	return db, nil
}

// Close releases the underlying connection.
func Close(db *gorm.DB) error {
	inner, err := db.DB()
	if err != nil {
		return fmt.Errorf("failed to close database, can't read inner data: %s", err)
	}

	err = inner.Close()
	if err != nil {
		return fmt.Errorf("failed to close inner database: %s", err)
	}

	return nil
}

// Record upserts a chapter entry by URL.
func Record(db *gorm.DB, entry *ChapterEntry) error {
	if entry.DownloadedAt.IsZero() {
		entry.DownloadedAt = time.Now()
	}

	existing := ChapterEntry{}
	result := db.Where("url = ?", entry.URL).First(&existing)
	if result.Error == nil {
		entry.ID = existing.ID
		entry.CreatedAt = existing.CreatedAt
	}

	if err := db.Save(entry).Error; err != nil {
		return fmt.Errorf("failed to record chapter %s: %s", entry.URL, err)
	}

	return nil
}

// ListByNovel returns every recorded chapter of a novel, oldest first.
func ListByNovel(db *gorm.DB, novel string) ([]ChapterEntry, error) {
	entries := []ChapterEntry{}
	if err := db.Where("novel = ?", novel).Order("created_at asc").Find(&entries).Error; err != nil {
		return nil, fmt.Errorf("failed to list chapters of %s: %s", novel, err)
	}

	return entries, nil
}
