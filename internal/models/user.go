package models

import "time"

// User is an account row. PublicID is the stable external identifier
// handed to the chat backend and embedded in client-facing payloads; the
// numeric primary key stays internal.
type User struct {
	ID           uint64 `gorm:"primaryKey;autoIncrement"`
	PublicID     string `gorm:"type:varchar(36);uniqueIndex;not null"`
	Email        string `gorm:"type:varchar(255);uniqueIndex;not null"`
	FullName     string `gorm:"type:varchar(128)"`
	PasswordHash string `gorm:"type:varchar(128);not null"`
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

func (User) TableName() string { return "users" }
