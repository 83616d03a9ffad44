package db

import (
	"log"

	"github.com/pinkypill/pocket-backend/internal/chat"
	"github.com/pinkypill/pocket-backend/internal/models"
	"github.com/pinkypill/pocket-backend/internal/profile"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
)

// Connect opens the MySQL pool and migrates the schema. Both the API and the
// notifier worker call it at startup.
func Connect(dsn string) *gorm.DB {
	gdb, err := gorm.Open(mysql.Open(dsn), &gorm.Config{})
	if err != nil {
		log.Fatalf("db connect: %v", err)
	}

	if err := gdb.AutoMigrate(
		&models.User{},
		&profile.Profile{},
		&chat.WatchJob{},
	); err != nil {
		log.Fatalf("db migrate: %v", err)
	}

	return gdb
}
