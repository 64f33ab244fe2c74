package models

import "time"

// Setting is a persisted runtime override of the configuration.
type Setting struct {
	Key       string `gorm:"primaryKey;size:64"`
	Value     string
	UpdatedAt time.Time
}
