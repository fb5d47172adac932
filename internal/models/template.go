package models

import "time"

// Template is the metadata row for a stored notebook template. The notebook
// content itself lives in the object store under Key; it is never duplicated
// into the database.
type Template struct {
	ID          uint      `json:"id" gorm:"primaryKey;autoIncrement"`
	Key         string    `json:"key" gorm:"size:512;not null;uniqueIndex"`
	Category    string    `json:"category" gorm:"size:100;not null;index"`
	Description string    `json:"description,omitempty" gorm:"type:text"`
	Hash        string    `json:"hash" gorm:"not null;index"`
	Size        int64     `json:"size"`
	UploadedBy  string    `json:"uploaded_by" gorm:"size:100;index"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

func (Template) TableName() string { return "notebook_templates" }
