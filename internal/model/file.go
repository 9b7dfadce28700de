// Package model defines database models
package model

// File is the metadata row written once an uploaded object is verified. Until
// this row exists the object is not visible to the rest of the system.
type File struct {
	ID          string  `gorm:"primaryKey;type:varchar(36)" json:"id"`
	UserID      string  `gorm:"index;not null" json:"-"` // Owner of the storage the file counts against
	WorkspaceID *string `gorm:"index" json:"workspace_id,omitempty"`
	FolderID    *string `gorm:"index" json:"folder_id,omitempty"`
	LinkID      *string `gorm:"index" json:"link_id,omitempty"`
	BatchID     string  `gorm:"index" json:"batch_id"`

	FileName     string `gorm:"not null" json:"file_name"` // Sanitized name used in the storage path
	OriginalName string `json:"name"`
	FileSize     int64  `json:"size"`
	MimeType     string `json:"mime_type"`
	Category     string `json:"category"`

	StoragePath     string `gorm:"uniqueIndex:idx_bucket_path;not null" json:"storage_path"`
	Bucket          string `gorm:"uniqueIndex:idx_bucket_path;not null" json:"-"`
	StorageProvider string `json:"-"`

	// Only set for files received through a public link
	UploaderName    string `json:"uploader_name,omitempty"`
	UploaderEmail   string `json:"uploader_email,omitempty"`
	UploaderMessage string `json:"uploader_message,omitempty"`

	CreatedAt int64 `gorm:"not null" json:"created_at"`
}
