package utils

import (
	"errors"
	"time"
)

// ParseScheduleTime parses an RFC3339 timestamp and rejects past times.
func ParseScheduleTime(value string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339, value)
	if err != nil {
		return time.Time{}, err
	}
	if t.Before(time.Now()) {
		return time.Time{}, errors.New("scheduled time must be in the future")
	}
	return t, nil
}
