package services

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

var RedisClient *redis.Client

// InitRedis initializes the Redis client
func InitRedis(redisURL string) error {
	if redisURL == "" {
		redisURL = "redis://redis:6379" // Default Redis address for Docker
	}

	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return fmt.Errorf("failed to parse Redis URL: %v", err)
	}

	RedisClient = redis.NewClient(opt)

	// Test the connection
	ctx := context.Background()
	_, err = RedisClient.Ping(ctx).Result()
	if err != nil {
		return fmt.Errorf("failed to connect to Redis: %v", err)
	}

	return nil
}

// SetBookingStatus caches the latest booking status for fast polling
func SetBookingStatus(ctx context.Context, bookingID uint, status string) error {
	key := fmt.Sprintf("booking:status:%d", bookingID)
	return RedisClient.Set(ctx, key, status, time.Hour).Err()
}

// GetBookingStatus retrieves a cached booking status
func GetBookingStatus(ctx context.Context, bookingID uint) (string, error) {
	key := fmt.Sprintf("booking:status:%d", bookingID)
	return RedisClient.Get(ctx, key).Result()
}

// SetDutyOpenPositions caches the remaining open positions for a duty
func SetDutyOpenPositions(ctx context.Context, dutyID uint, open int) error {
	key := fmt.Sprintf("duty:open:%d", dutyID)
	return RedisClient.Set(ctx, key, open, time.Hour).Err()
}

// GetDutyOpenPositions retrieves cached open positions for a duty
func GetDutyOpenPositions(ctx context.Context, dutyID uint) (int, error) {
	key := fmt.Sprintf("duty:open:%d", dutyID)
	return RedisClient.Get(ctx, key).Int()
}

// PublishBookingUpdate publishes a booking status update to Redis pub/sub
func PublishBookingUpdate(ctx context.Context, bookingID uint, status string, data map[string]interface{}) error {
	updateData := map[string]interface{}{
		"bookingId": bookingID,
		"status":    status,
		"data":      data,
		"timestamp": time.Now().Unix(),
	}

	jsonData, err := json.Marshal(updateData)
	if err != nil {
		return err
	}

	return RedisClient.Publish(ctx, "booking:updates", jsonData).Err()
}

// PublishDutyUpdate publishes a duty fill update to Redis pub/sub
func PublishDutyUpdate(ctx context.Context, dutyID uint, status string, filled, needed int) error {
	updateData := map[string]interface{}{
		"dutyId":    dutyID,
		"status":    status,
		"filled":    filled,
		"needed":    needed,
		"timestamp": time.Now().Unix(),
	}

	jsonData, err := json.Marshal(updateData)
	if err != nil {
		return err
	}

	return RedisClient.Publish(ctx, "duty:updates", jsonData).Err()
}
