package model

type Workspace struct {
	ID        string `gorm:"primaryKey;type:varchar(36)" json:"id"`
	UserID    string `gorm:"uniqueIndex;not null" json:"-"` // One workspace per user
	Name      string `json:"name"`
	CreatedAt int64  `gorm:"not null" json:"created_at"`
}

type Folder struct {
	ID          string  `gorm:"primaryKey;type:varchar(36)" json:"id"`
	WorkspaceID string  `gorm:"index;not null" json:"workspace_id"`
	ParentID    *string `gorm:"index" json:"parent_id,omitempty"`
	Name        string  `gorm:"not null" json:"name"`
	CreatedAt   int64   `gorm:"not null" json:"created_at"`
}
