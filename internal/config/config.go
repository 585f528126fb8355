package config

import (
	"github.com/kelseyhightower/envconfig"
)

type App struct {
	Port string `envconfig:"PORT" default:"8080"`

	// Database
	DBHost     string `envconfig:"DB_HOST" required:"true"`
	DBUser     string `envconfig:"DB_USER" required:"true"`
	DBPassword string `envconfig:"DB_PASSWORD" required:"true"`
	DBName     string `envconfig:"DB_NAME" required:"true"`
	DBPort     string `envconfig:"DB_PORT" default:"5432"`

	// Redis
	RedisURL string `envconfig:"REDIS_URL" default:"redis://redis:6379"`

	// Auth
	JWTSecret string `envconfig:"JWT_SECRET" required:"true"`

	// Payment gateway
	RazorpayKeyID     string `envconfig:"RAZORPAY_KEY_ID" required:"true"`
	RazorpayKeySecret string `envconfig:"RAZORPAY_KEY_SECRET" required:"true"`

	// Health-record service
	RecordsServiceURL string `envconfig:"RECORDS_SERVICE_URL" required:"true"`
	RecordsAPIKey     string `envconfig:"RECORDS_API_KEY" required:"true"`

	// Optional integrations
	AMQPURL                    string `envconfig:"AMQP_URL"`
	FirebaseServiceAccountPath string `envconfig:"FIREBASE_SERVICE_ACCOUNT_PATH"`
}

func Load() (App, error) {
	var c App
	err := envconfig.Process("", &c)
	return c, err
}
