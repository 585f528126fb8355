package database

import (
	"github.com/carebridge/carebridge-backend/internal/models"
	"gorm.io/gorm"
)

func RunMigrations(db *gorm.DB) error {
	// Create tables if they don't exist
	err := db.AutoMigrate(
		&models.User{},
		&models.Booking{},
		&models.Duty{},
		&models.DutyApplication{},
		&models.DutyAssignment{},
	)
	if err != nil {
		return err
	}

	// Update users table
	if db.Migrator().HasTable(&models.User{}) {
		columns := []string{
			"ADD COLUMN IF NOT EXISTS specialty text DEFAULT ''",
			"ADD COLUMN IF NOT EXISTS license_number text DEFAULT ''",
			"ADD COLUMN IF NOT EXISTS fcm_token text DEFAULT ''",
			"ADD COLUMN IF NOT EXISTS user_type text DEFAULT 'patient'",
		}

		for _, column := range columns {
			if err := db.Exec("ALTER TABLE users " + column).Error; err != nil {
				return err
			}
		}

		// Update constraint
		db.Exec(`ALTER TABLE users DROP CONSTRAINT IF EXISTS users_user_type_check`)
		db.Exec(`ALTER TABLE users ADD CONSTRAINT users_user_type_check CHECK (user_type IN ('patient', 'provider', 'doctor', 'hospital', 'admin'))`)
	}

	// The fill counter must never exceed the position count even if a bug
	// bypasses the conditional update; the check constraint is the backstop.
	if db.Migrator().HasTable(&models.Duty{}) {
		db.Exec(`ALTER TABLE duties DROP CONSTRAINT IF EXISTS duties_fill_check`)
		if err := db.Exec(`ALTER TABLE duties ADD CONSTRAINT duties_fill_check CHECK (positions_filled >= 0 AND positions_filled <= positions_needed)`).Error; err != nil {
			return err
		}
	}

	if db.Migrator().HasTable(&models.Booking{}) {
		db.Exec(`ALTER TABLE bookings DROP CONSTRAINT IF EXISTS bookings_payment_status_check`)
		if err := db.Exec(`ALTER TABLE bookings ADD CONSTRAINT bookings_payment_status_check CHECK (payment_status IN ('', 'PENDING', 'PAID', 'FAILED', 'REFUND_PENDING', 'REFUNDED'))`).Error; err != nil {
			return err
		}
	}

	return nil
}
