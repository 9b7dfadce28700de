package model

// Stats is the per-user storage counter. UsedStorage is only ever changed in the
// same transaction that creates or deletes a File row.
type Stats struct {
	UserID        string `gorm:"primaryKey" json:"-"`
	MaxStorage    int64  `json:"maxStorage"`
	UsedStorage   int64  `json:"usedStorage"`
	UploadedFiles int    `json:"uploadedFiles"`
}
