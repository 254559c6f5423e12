package db

import (
	"os"

	"github.com/sirupsen/logrus"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"crowdlink/internal/models"
)

var DB *gorm.DB

func Init() {
	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		// Fallback for local dev if not set
		dsn = "host=localhost user=postgres password=postgres dbname=crowdlink port=5432 sslmode=disable"
	}

	var err error
	DB, err = gorm.Open(postgres.Open(dsn), &gorm.Config{})
	if err != nil {
		logrus.Fatalf("Failed to connect to database: %v", err)
	}

	logrus.Info("Database connection established")

	if err := Migrate(DB); err != nil {
		logrus.Fatalf("Failed to migrate database: %v", err)
	}
	logrus.Info("Database migration completed")
}

// Migrate creates or updates every table. Shared with the test suites,
// which run it against an in-memory database.
func Migrate(gdb *gorm.DB) error {
	return gdb.AutoMigrate(
		&models.User{},
		&models.EmailAddress{},
		&models.Project{},
		&models.Issue{},
		&models.Solution{},
		&models.Vote{},
		&models.Subscription{},
		&models.Report{},
		&models.Charge{},
		&models.Earmark{},
		&models.Mark{},
		&models.Recipient{},
		&models.Transfer{},
		&models.ChargeLog{},
		&models.EarmarkLog{},
		&models.MarkLog{},
		&models.RecipientLog{},
		&models.TransferLog{},
	)
}
