package repository

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"discord-file-relay/internal/model"
)

// Repository is the durable metadata store for attachment records.
type Repository struct {
	db *gorm.DB
}

func New(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

// FindByNameOrURL returns the first live record whose stored filename or
// Discord URL matches. Soft-deleted rows are excluded so a deleted file
// is never resurrected by a later crawl.
func (r *Repository) FindByNameOrURL(filename, url string) (*model.StoredFile, error) {
	var file model.StoredFile
	result := r.db.Where("deleted = ?", false).
		Where("filename = ? OR discord_url = ?", filename, url).
		First(&file)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("database error: %w", result.Error)
	}
	return &file, nil
}

// FindByID returns a record by id, nil when unknown.
func (r *Repository) FindByID(id string) (*model.StoredFile, error) {
	var file model.StoredFile
	result := r.db.Where("id = ?", id).First(&file)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("database error: %w", result.Error)
	}
	return &file, nil
}

// FindStale returns live records whose URL was last confirmed before
// cutoff and that carry a known message id to re-fetch from.
func (r *Repository) FindStale(cutoff time.Time) ([]model.StoredFile, error) {
	var files []model.StoredFile
	result := r.db.Where("updated_at < ?", cutoff).
		Where("discord_message_id IS NOT NULL").
		Where("deleted = ?", false).
		Find(&files)
	if result.Error != nil {
		return nil, fmt.Errorf("failed to find stale files: %w", result.Error)
	}
	return files, nil
}

// ListActive returns all live records, newest upload first.
func (r *Repository) ListActive() ([]model.StoredFile, error) {
	var files []model.StoredFile
	result := r.db.Where("deleted = ?", false).Order("uploaded_at DESC").Find(&files)
	if result.Error != nil {
		return nil, fmt.Errorf("failed to list files: %w", result.Error)
	}
	return files, nil
}

// Create inserts a new record. Any live records already holding the same
// Discord URL are soft-deleted in the same transaction, so exactly one
// live record exists per URL afterward (last writer wins).
func (r *Repository) Create(file *model.StoredFile) error {
	if file.ID == "" {
		file.ID = uuid.NewString()
	}
	if file.UploadedAt.IsZero() {
		file.UploadedAt = time.Now()
	}

	err := r.db.Transaction(func(tx *gorm.DB) error {
		result := tx.Model(&model.StoredFile{}).
			Where("discord_url = ? AND deleted = ?", file.DiscordURL, false).
			Updates(map[string]interface{}{"deleted": true, "updated_at": time.Now()})
		if result.Error != nil {
			return result.Error
		}
		return tx.Create(file).Error
	})
	if err != nil {
		return fmt.Errorf("failed to create file record: %w", err)
	}
	return nil
}

// UpdateURL republishes a fresh attachment URL for a record and bumps
// its updated_at.
func (r *Repository) UpdateURL(id, newURL string) error {
	result := r.db.Model(&model.StoredFile{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{"discord_url": newURL, "updated_at": time.Now()})
	if result.Error != nil {
		return fmt.Errorf("failed to update file URL: %w", result.Error)
	}
	return nil
}

// SoftDeleteByURL marks every live record holding url as deleted and
// returns how many rows were affected.
func (r *Repository) SoftDeleteByURL(url string) (int64, error) {
	result := r.db.Model(&model.StoredFile{}).
		Where("discord_url = ? AND deleted = ?", url, false).
		Updates(map[string]interface{}{"deleted": true, "updated_at": time.Now()})
	if result.Error != nil {
		return 0, fmt.Errorf("failed to soft delete by URL: %w", result.Error)
	}
	return result.RowsAffected, nil
}

// SoftDeleteByID marks a single record as deleted.
func (r *Repository) SoftDeleteByID(id string) error {
	result := r.db.Model(&model.StoredFile{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{"deleted": true, "updated_at": time.Now()})
	if result.Error != nil {
		return fmt.Errorf("failed to soft delete file: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

// SaveCheckpoint upserts the crawl cursor for a channel.
func (r *Repository) SaveCheckpoint(channelID, lastMessageID string, complete bool) error {
	var existing model.CrawlCheckpoint
	result := r.db.Where("channel_id = ?", channelID).First(&existing)
	if result.Error != nil {
		if !errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return fmt.Errorf("failed to load checkpoint: %w", result.Error)
		}
		checkpoint := model.CrawlCheckpoint{
			ChannelID:     channelID,
			LastMessageID: lastMessageID,
			Complete:      complete,
			UpdatedAt:     time.Now(),
		}
		if err := r.db.Create(&checkpoint).Error; err != nil {
			return fmt.Errorf("failed to save checkpoint: %w", err)
		}
		return nil
	}

	err := r.db.Model(&existing).
		Updates(map[string]interface{}{
			"last_message_id": lastMessageID,
			"complete":        complete,
			"updated_at":      time.Now(),
		}).Error
	if err != nil {
		return fmt.Errorf("failed to update checkpoint: %w", err)
	}
	return nil
}

// LoadCheckpoint returns the persisted cursor for a channel, nil when
// none exists.
func (r *Repository) LoadCheckpoint(channelID string) (*model.CrawlCheckpoint, error) {
	var checkpoint model.CrawlCheckpoint
	result := r.db.Where("channel_id = ?", channelID).First(&checkpoint)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to load checkpoint: %w", result.Error)
	}
	return &checkpoint, nil
}
