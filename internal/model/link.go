package model

import "time"

// Link is a shareable upload link. Recipients upload without an account and
// everything they send is stored against the link owner's quota.
type Link struct {
	ID           string      `gorm:"primaryKey;type:varchar(36)" json:"id"`
	UserID       string      `gorm:"index;not null" json:"-"`
	WorkspaceID  string      `gorm:"index" json:"-"`
	Slug         string      `gorm:"uniqueIndex;not null" json:"slug"`
	Title        string      `json:"title"`
	Description  string      `json:"description"`
	PasswordHash string      `json:"-"`
	Active       bool        `gorm:"default:true" json:"active"`
	MaxFiles     int         `json:"max_files"`     // 0 means unlimited
	MaxFileSize  int64       `json:"max_file_size"` // 0 means the global ceiling applies
	AllowedTypes StringSlice `json:"allowed_types"`
	TotalFiles   int         `json:"total_files"`
	TotalUploads int         `json:"total_uploads"`
	CreatedAt    int64       `gorm:"not null" json:"created_at"`
	ExpiresAt    *int64      `json:"expires_at,omitzero"`
}

// Expired reports whether the link stopped accepting uploads at t.
func (l *Link) Expired(t time.Time) bool {
	return l.ExpiresAt != nil && t.Unix() >= *l.ExpiresAt
}

func (l *Link) RequiresPassword() bool {
	return l.PasswordHash != ""
}
