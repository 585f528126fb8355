package bookings

import "github.com/carebridge/carebridge-backend/internal/models"

var transitionMap = map[models.BookingStatus][]models.BookingStatus{
	models.BookingStatusRequested:  {models.BookingStatusSearching, models.BookingStatusCancelled},
	models.BookingStatusSearching:  {models.BookingStatusAssigned, models.BookingStatusCancelled},
	models.BookingStatusAssigned:   {models.BookingStatusConfirmed, models.BookingStatusCancelled},
	models.BookingStatusConfirmed:  {models.BookingStatusEnRoute, models.BookingStatusCancelled},
	models.BookingStatusEnRoute:    {models.BookingStatusInProgress, models.BookingStatusCancelled},
	models.BookingStatusInProgress: {models.BookingStatusCompleted, models.BookingStatusCancelled},
	models.BookingStatusCompleted:  {},
	models.BookingStatusCancelled:  {},
}

func ValidTransition(from, to models.BookingStatus) bool {
	allowed, ok := transitionMap[from]
	if !ok {
		return false
	}
	for _, status := range allowed {
		if status == to {
			return true
		}
	}
	return false
}

func IsTerminal(status models.BookingStatus) bool {
	return status == models.BookingStatusCompleted || status == models.BookingStatusCancelled
}
