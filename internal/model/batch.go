package model

// Batch records one submission through a public link so the owner can see who
// sent what together.
type Batch struct {
	ID            string `gorm:"primaryKey;type:varchar(36)" json:"id"`
	LinkID        string `gorm:"index;not null" json:"link_id"`
	UserID        string `gorm:"index;not null" json:"-"`
	UploaderName  string `json:"uploader_name"`
	UploaderEmail string `json:"uploader_email,omitempty"`
	Message       string `json:"message,omitempty"`
	TotalFiles    int    `json:"total_files"`
	TotalSize     int64  `json:"total_size"`
	CreatedAt     int64  `gorm:"not null" json:"created_at"`
}
