package model

import "time"

// CrawlCheckpoint persists the crawl cursor per channel so a restarted
// engine can resume instead of re-scanning the whole history.
type CrawlCheckpoint struct {
	ID            uint      `json:"id" gorm:"primaryKey;autoIncrement"`
	ChannelID     string    `json:"channel_id" gorm:"type:varchar(32);not null;uniqueIndex"`
	LastMessageID string    `json:"last_message_id" gorm:"type:varchar(32);not null"`
	Complete      bool      `json:"complete" gorm:"not null;default:false"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// TableName specifies the table name for CrawlCheckpoint
func (CrawlCheckpoint) TableName() string {
	return "crawl_checkpoints"
}
