package handlers

import (
	"context"
	"errors"
	"strconv"

	"github.com/carebridge/carebridge-backend/internal/bookings"
	"github.com/carebridge/carebridge-backend/internal/models"
	"github.com/carebridge/carebridge-backend/internal/services"
	"github.com/carebridge/carebridge-backend/pkg/utils"
	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

// CreateBooking creates a new visit booking with an immutable pricing snapshot
func CreateBooking(db *gorm.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		userId := c.GetUint("userId")
		userType := c.GetString("userType")

		if userType != string(models.UserTypePatient) {
			c.JSON(403, gin.H{"error": "Only patients can create bookings"})
			return
		}

		var input struct {
			ServiceType string `json:"serviceType" binding:"required"`
			ScheduledAt string `json:"scheduledAt" binding:"required"`
			Hours       int    `json:"hours" binding:"required"`
			Address     string `json:"address" binding:"required"`
			Notes       string `json:"notes"`
		}

		if err := c.ShouldBindJSON(&input); err != nil {
			c.JSON(400, gin.H{"error": err.Error()})
			return
		}

		scheduledAt, err := utils.ParseScheduleTime(input.ScheduledAt)
		if err != nil {
			c.JSON(400, gin.H{"error": "scheduledAt must be RFC3339"})
			return
		}

		pricing, err := utils.CalculatePricing(input.ServiceType, input.Hours)
		if err != nil {
			c.JSON(400, gin.H{"error": err.Error()})
			return
		}

		booking := models.Booking{
			PatientID:   userId,
			ServiceType: input.ServiceType,
			ScheduledAt: scheduledAt,
			Hours:       input.Hours,
			Address:     input.Address,
			Notes:       input.Notes,
			Status:      models.BookingStatusRequested,
			Pricing:     pricing,
		}

		if err := db.Create(&booking).Error; err != nil {
			c.JSON(500, gin.H{"error": "Failed to create booking"})
			return
		}

		ctx := context.Background()
		services.SetBookingStatus(ctx, booking.ID, string(booking.Status))
		services.PublishEvent(ctx, "booking.created", gin.H{
			"bookingId":   booking.ID,
			"patientId":   booking.PatientID,
			"serviceType": booking.ServiceType,
			"total":       booking.Pricing.Total,
		})

		c.JSON(201, booking)
	}
}

// GetBooking retrieves detailed booking information
func GetBooking(db *gorm.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		bookingId := c.Param("id")
		userId := c.GetUint("userId")
		userType := c.GetString("userType")

		var booking models.Booking
		if err := db.Preload("Patient").Preload("Provider").First(&booking, bookingId).Error; err != nil {
			c.JSON(404, gin.H{"error": "Booking not found"})
			return
		}

		isParty := booking.PatientID == userId ||
			(booking.ProviderID != nil && *booking.ProviderID == userId)
		if !isParty && userType != string(models.UserTypeAdmin) {
			c.JSON(403, gin.H{"error": "Unauthorized"})
			return
		}

		response := gin.H{
			"id":          booking.ID,
			"status":      booking.Status,
			"serviceType": booking.ServiceType,
			"scheduledAt": booking.ScheduledAt,
			"hours":       booking.Hours,
			"address":     booking.Address,
			"pricing":     booking.Pricing,
			"payment":     booking.Payment,
			"startedAt":   booking.StartedAt,
			"completedAt": booking.CompletedAt,
			"duration":    booking.DurationMinutes,
		}
		if booking.Patient != nil {
			response["patientName"] = booking.Patient.Username
			response["patientPhone"] = booking.Patient.PhoneNumber
		}
		if booking.Provider != nil {
			response["provider"] = gin.H{
				"username":    booking.Provider.Username,
				"phoneNumber": booking.Provider.PhoneNumber,
				"specialty":   booking.Provider.Specialty,
			}
		}

		c.JSON(200, response)
	}
}

// GetPatientBookings retrieves all bookings for a patient
func GetPatientBookings(db *gorm.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		userId := c.GetUint("userId")

		var list []models.Booking
		if err := db.Where("patient_id = ?", userId).
			Preload("Provider").
			Order("created_at DESC").
			Find(&list).Error; err != nil {
			c.JSON(500, gin.H{"error": "Failed to fetch bookings"})
			return
		}

		c.JSON(200, list)
	}
}

// GetProviderBookings retrieves all bookings assigned to a provider
func GetProviderBookings(db *gorm.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		userId := c.GetUint("userId")
		userType := c.GetString("userType")

		if userType != string(models.UserTypeProvider) {
			c.JSON(403, gin.H{"error": "Only providers can view assigned bookings"})
			return
		}

		var list []models.Booking
		if err := db.Where("provider_id = ?", userId).
			Preload("Patient").
			Order("scheduled_at DESC").
			Find(&list).Error; err != nil {
			c.JSON(500, gin.H{"error": "Failed to fetch bookings"})
			return
		}

		c.JSON(200, list)
	}
}

// GetSearchingBookings lists bookings waiting for a provider, for the claim feed
func GetSearchingBookings(db *gorm.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		userType := c.GetString("userType")

		if userType != string(models.UserTypeProvider) {
			c.JSON(403, gin.H{"error": "Only providers can browse open bookings"})
			return
		}

		var list []models.Booking
		if err := db.Where("status = ?", models.BookingStatusSearching).
			Order("scheduled_at ASC").
			Find(&list).Error; err != nil {
			c.JSON(500, gin.H{"error": "Failed to fetch bookings"})
			return
		}

		c.JSON(200, list)
	}
}

// ClaimBooking lets a provider claim a searching booking for themselves
func ClaimBooking(db *gorm.DB, arbiter *bookings.Arbiter, hub *services.Hub) gin.HandlerFunc {
	return func(c *gin.Context) {
		bookingIdStr := c.Param("id")
		userId := c.GetUint("userId")
		userType := c.GetString("userType")

		bookingId, err := strconv.ParseUint(bookingIdStr, 10, 32)
		if err != nil {
			c.JSON(400, gin.H{"error": "Invalid booking ID"})
			return
		}

		var providerId uint
		switch userType {
		case string(models.UserTypeProvider):
			providerId = userId
		case string(models.UserTypeAdmin):
			var input struct {
				ProviderID uint `json:"providerId" binding:"required"`
			}
			if err := c.ShouldBindJSON(&input); err != nil {
				c.JSON(400, gin.H{"error": err.Error()})
				return
			}
			providerId = input.ProviderID
		default:
			c.JSON(403, gin.H{"error": "Only providers or administrators can assign bookings"})
			return
		}

		booking, err := arbiter.Assign(c.Request.Context(), uint(bookingId), providerId)
		if err != nil {
			respondBookingError(c, err)
			return
		}

		notifyAssigned(db, hub, booking, providerId)

		c.JSON(200, gin.H{
			"message":   "Booking assigned successfully",
			"bookingId": booking.ID,
			"status":    booking.Status,
		})
	}
}

// UpdateBookingStatus advances a booking through its lifecycle
func UpdateBookingStatus(db *gorm.DB, machine *bookings.StateMachine, hub *services.Hub) gin.HandlerFunc {
	return func(c *gin.Context) {
		bookingIdStr := c.Param("id")
		userId := c.GetUint("userId")
		userType := c.GetString("userType")

		bookingId, err := strconv.ParseUint(bookingIdStr, 10, 32)
		if err != nil {
			c.JSON(400, gin.H{"error": "Invalid booking ID"})
			return
		}

		var input struct {
			Status string `json:"status" binding:"required"`
			Note   string `json:"note"`
		}
		if err := c.ShouldBindJSON(&input); err != nil {
			c.JSON(400, gin.H{"error": err.Error()})
			return
		}

		actor := bookings.Actor{ID: userId, Type: models.UserType(userType)}
		booking, err := machine.Transition(c.Request.Context(), uint(bookingId), models.BookingStatus(input.Status), actor, input.Note)
		if err != nil {
			respondBookingError(c, err)
			return
		}

		notifyStatusChanged(db, hub, booking)

		c.JSON(200, gin.H{
			"message":   "Booking status updated",
			"bookingId": booking.ID,
			"status":    booking.Status,
		})
	}
}

// CancelBooking cancels a booking from any non-terminal state
func CancelBooking(db *gorm.DB, machine *bookings.StateMachine, hub *services.Hub) gin.HandlerFunc {
	return func(c *gin.Context) {
		bookingIdStr := c.Param("id")
		userId := c.GetUint("userId")
		userType := c.GetString("userType")

		bookingId, err := strconv.ParseUint(bookingIdStr, 10, 32)
		if err != nil {
			c.JSON(400, gin.H{"error": "Invalid booking ID"})
			return
		}

		var input struct {
			Reason string `json:"reason"`
		}
		// Reason is optional
		_ = c.ShouldBindJSON(&input)

		actor := bookings.Actor{ID: userId, Type: models.UserType(userType)}
		booking, err := machine.Transition(c.Request.Context(), uint(bookingId), models.BookingStatusCancelled, actor, input.Reason)
		if err != nil {
			respondBookingError(c, err)
			return
		}

		notifyStatusChanged(db, hub, booking)

		c.JSON(200, gin.H{
			"message":   "Booking cancelled",
			"bookingId": booking.ID,
			"status":    booking.Status,
		})
	}
}

// CompleteBooking finishes a visit with a service report
func CompleteBooking(db *gorm.DB, machine *bookings.StateMachine, hub *services.Hub) gin.HandlerFunc {
	return func(c *gin.Context) {
		bookingIdStr := c.Param("id")
		userId := c.GetUint("userId")
		userType := c.GetString("userType")

		bookingId, err := strconv.ParseUint(bookingIdStr, 10, 32)
		if err != nil {
			c.JSON(400, gin.H{"error": "Invalid booking ID"})
			return
		}

		var input struct {
			Report string `json:"report" binding:"required"`
		}
		if err := c.ShouldBindJSON(&input); err != nil {
			c.JSON(400, gin.H{"error": err.Error()})
			return
		}

		actor := bookings.Actor{ID: userId, Type: models.UserType(userType)}
		booking, err := machine.Transition(c.Request.Context(), uint(bookingId), models.BookingStatusCompleted, actor, input.Report)
		if err != nil {
			respondBookingError(c, err)
			return
		}

		notifyStatusChanged(db, hub, booking)

		c.JSON(200, gin.H{
			"message":   "Booking completed",
			"bookingId": booking.ID,
			"status":    booking.Status,
			"duration":  booking.DurationMinutes,
		})
	}
}

// GetBookingLiveStatus serves the cached status for fast polling
func GetBookingLiveStatus(db *gorm.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		bookingIdStr := c.Param("id")

		bookingId, err := strconv.ParseUint(bookingIdStr, 10, 32)
		if err != nil {
			c.JSON(400, gin.H{"error": "Invalid booking ID"})
			return
		}

		ctx := context.Background()
		if status, err := services.GetBookingStatus(ctx, uint(bookingId)); err == nil {
			c.JSON(200, gin.H{"bookingId": bookingId, "status": status, "cached": true})
			return
		}

		var booking models.Booking
		if err := db.First(&booking, bookingId).Error; err != nil {
			c.JSON(404, gin.H{"error": "Booking not found"})
			return
		}

		services.SetBookingStatus(ctx, booking.ID, string(booking.Status))
		c.JSON(200, gin.H{"bookingId": booking.ID, "status": booking.Status, "cached": false})
	}
}

func notifyAssigned(db *gorm.DB, hub *services.Hub, booking *models.Booking, providerId uint) {
	ctx := context.Background()
	services.SetBookingStatus(ctx, booking.ID, string(booking.Status))
	services.PublishBookingUpdate(ctx, booking.ID, string(booking.Status), gin.H{"providerId": providerId})
	services.PublishEvent(ctx, "booking.assigned", gin.H{
		"bookingId":  booking.ID,
		"providerId": providerId,
	})

	var provider models.User
	if err := db.First(&provider, providerId).Error; err != nil {
		return
	}

	hub.SendBookingAssigned(booking.PatientID, services.BookingAssigned{
		BookingID:    booking.ID,
		ProviderID:   providerId,
		ProviderName: provider.Username,
	})

	var patient models.User
	if err := db.First(&patient, booking.PatientID).Error; err == nil && patient.FCMToken != "" {
		go services.SendBookingAssignedNotification(ctx, patient.FCMToken, booking.ID, provider.Username, provider.Specialty)
	}
}

func notifyStatusChanged(db *gorm.DB, hub *services.Hub, booking *models.Booking) {
	ctx := context.Background()
	services.SetBookingStatus(ctx, booking.ID, string(booking.Status))
	services.PublishBookingUpdate(ctx, booking.ID, string(booking.Status), nil)
	services.PublishEvent(ctx, "booking.status_changed", gin.H{
		"bookingId": booking.ID,
		"status":    booking.Status,
	})

	change := services.BookingStatusChanged{BookingID: booking.ID, Status: string(booking.Status)}
	hub.SendBookingStatus(booking.PatientID, change)
	if booking.ProviderID != nil {
		hub.SendBookingStatus(*booking.ProviderID, change)
	}

	var patient models.User
	if err := db.First(&patient, booking.PatientID).Error; err == nil && patient.FCMToken != "" {
		go services.SendBookingStatusNotification(ctx, patient.FCMToken, booking.ID,
			string(booking.Status), "Your booking is now "+string(booking.Status))
	}
}

func respondBookingError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, bookings.ErrBookingNotFound), errors.Is(err, bookings.ErrProviderNotFound):
		c.JSON(404, gin.H{"error": err.Error()})
	case errors.Is(err, bookings.ErrInvalidTransition),
		errors.Is(err, bookings.ErrProviderIneligible),
		errors.Is(err, bookings.ErrGrantFailed):
		c.JSON(400, gin.H{"error": err.Error()})
	case errors.Is(err, bookings.ErrNotAllowed):
		c.JSON(403, gin.H{"error": err.Error()})
	case errors.Is(err, bookings.ErrConflict):
		c.JSON(409, gin.H{"error": err.Error()})
	default:
		c.JSON(500, gin.H{"error": "Internal error"})
	}
}
