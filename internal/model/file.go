package model

import (
	"time"
)

// StoredFile represents a file whose bytes live as a Discord attachment
// and whose metadata is tracked locally. Deletion is a soft flag so that
// a removed file is never re-ingested by a later crawl.
type StoredFile struct {
	ID                  string    `json:"id" gorm:"type:varchar(36);primaryKey"`
	Filename            string    `json:"filename" gorm:"type:varchar(255);not null;index"`
	OriginalName        string    `json:"original_name" gorm:"type:varchar(255);not null"`
	FileSize            int64     `json:"file_size" gorm:"not null"`
	MimeType            *string   `json:"mime_type" gorm:"type:varchar(255)"`
	DiscordURL          string    `json:"discord_url" gorm:"type:varchar(768);not null;index"`
	DiscordMessageID    *string   `json:"discord_message_id" gorm:"type:varchar(32);index"`
	DiscordAttachmentID *string   `json:"discord_attachment_id" gorm:"type:varchar(32)"`
	Deleted             bool      `json:"deleted" gorm:"not null;default:false;index"`
	UploadedAt          time.Time `json:"uploaded_at"`
	UpdatedAt           time.Time `json:"updated_at" gorm:"index"`
}

// TableName specifies the table name for StoredFile
func (StoredFile) TableName() string {
	return "uploaded_files"
}
