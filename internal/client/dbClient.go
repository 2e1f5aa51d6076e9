package client

import (
	"log"
	"time"

	"univapay-integration-demo/internal/model"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

func InitSQLiteClient(databaseURL string) *gorm.DB {
	db, err := gorm.Open(sqlite.Open(databaseURL+"?_busy_timeout=5000"), &gorm.Config{})
	if err != nil {
		log.Fatal("failed to connect to database:", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		log.Fatal(err)
	}

	// Connection pool (important for webhooks)
	sqlDB.SetMaxIdleConns(10)
	sqlDB.SetMaxOpenConns(50)
	sqlDB.SetConnMaxLifetime(time.Hour)

	if err := db.AutoMigrate(
		&model.TransactionToken{},
		&model.Payment{},
		&model.ProviderPayment{},
		&model.WebhookEvent{},
	); err != nil {
		log.Fatal(err)
	}

	return db
}
