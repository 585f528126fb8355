package handlers

import (
	"context"
	"errors"
	"strconv"

	"github.com/carebridge/carebridge-backend/internal/models"
	"github.com/carebridge/carebridge-backend/internal/payments"
	"github.com/carebridge/carebridge-backend/internal/services"
	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

// CreatePaymentOrder creates (or reuses) a gateway order for a booking
func CreatePaymentOrder(coord *payments.Coordinator) gin.HandlerFunc {
	return func(c *gin.Context) {
		userId := c.GetUint("userId")

		var input struct {
			BookingID uint `json:"bookingId" binding:"required"`
		}
		if err := c.ShouldBindJSON(&input); err != nil {
			c.JSON(400, gin.H{"error": err.Error()})
			return
		}

		order, err := coord.CreateOrder(c.Request.Context(), input.BookingID, userId)
		if err != nil {
			respondPaymentError(c, err)
			return
		}

		c.JSON(200, gin.H{
			"orderId":  order.OrderID,
			"amount":   order.Amount,
			"currency": order.Currency,
			"reused":   order.Reused,
		})
	}
}

// VerifyPayment verifies a gateway callback and marks the booking paid
func VerifyPayment(db *gorm.DB, coord *payments.Coordinator, hub *services.Hub) gin.HandlerFunc {
	return func(c *gin.Context) {
		var input struct {
			BookingID uint   `json:"bookingId" binding:"required"`
			OrderID   string `json:"orderId" binding:"required"`
			PaymentID string `json:"paymentId" binding:"required"`
			Signature string `json:"signature" binding:"required"`
		}
		if err := c.ShouldBindJSON(&input); err != nil {
			c.JSON(400, gin.H{"error": err.Error()})
			return
		}

		booking, err := coord.VerifyPayment(c.Request.Context(), input.BookingID, input.OrderID, input.PaymentID, input.Signature)
		if err != nil {
			respondPaymentError(c, err)
			return
		}

		ctx := context.Background()
		services.SetBookingStatus(ctx, booking.ID, string(booking.Status))
		services.PublishEvent(ctx, "payment.captured", gin.H{
			"bookingId": booking.ID,
			"paymentId": booking.Payment.PaymentRef,
			"amount":    booking.Payment.Amount,
		})
		hub.SendPaymentUpdate(booking.PatientID, services.PaymentUpdate{
			BookingID: booking.ID,
			Status:    string(booking.Payment.Status),
			Amount:    booking.Payment.Amount,
		})

		var patient models.User
		if err := db.First(&patient, booking.PatientID).Error; err == nil && patient.FCMToken != "" {
			go services.SendPaymentReceivedNotification(ctx, patient.FCMToken,
				booking.ID, booking.Payment.Amount, booking.Pricing.Currency)
		}

		c.JSON(200, gin.H{
			"message":       "Payment verified",
			"bookingId":     booking.ID,
			"bookingStatus": booking.Status,
			"paymentStatus": booking.Payment.Status,
		})
	}
}

// RefundPayment refunds a paid booking, fully or partially
func RefundPayment(db *gorm.DB, coord *payments.Coordinator, hub *services.Hub) gin.HandlerFunc {
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
			Amount int64 `json:"amount"`
		}
		// Amount is optional; zero means full refund
		_ = c.ShouldBindJSON(&input)

		var booking models.Booking
		if err := db.First(&booking, bookingId).Error; err != nil {
			c.JSON(404, gin.H{"error": "Booking not found"})
			return
		}
		if booking.PatientID != userId && userType != string(models.UserTypeAdmin) {
			c.JSON(403, gin.H{"error": "Unauthorized"})
			return
		}

		result, err := coord.Refund(c.Request.Context(), uint(bookingId), input.Amount)
		if err != nil {
			respondPaymentError(c, err)
			return
		}

		ctx := context.Background()
		services.PublishEvent(ctx, "payment.refunded", gin.H{
			"bookingId":           bookingId,
			"refundId":            result.RefundID,
			"amount":              result.Amount,
			"needsReconciliation": result.NeedsReconciliation,
		})
		hub.SendPaymentUpdate(booking.PatientID, services.PaymentUpdate{
			BookingID: booking.ID,
			Status:    string(models.PaymentStatusRefunded),
			Amount:    result.Amount,
		})

		var patient models.User
		if err := db.First(&patient, booking.PatientID).Error; err == nil && patient.FCMToken != "" {
			go services.SendRefundProcessedNotification(ctx, patient.FCMToken,
				booking.ID, result.Amount, booking.Pricing.Currency)
		}

		response := gin.H{
			"message":  "Refund processed",
			"refundId": result.RefundID,
			"amount":   result.Amount,
			"status":   result.Status,
		}
		if result.NeedsReconciliation {
			response["warning"] = "refund succeeded at the gateway; local finalization pending reconciliation"
		}
		c.JSON(200, response)
	}
}

// GetPaymentStatus returns payment details for a booking
func GetPaymentStatus(db *gorm.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		bookingIdStr := c.Param("id")
		userId := c.GetUint("userId")
		userType := c.GetString("userType")

		var booking models.Booking
		if err := db.First(&booking, bookingIdStr).Error; err != nil {
			c.JSON(404, gin.H{"error": "Booking not found"})
			return
		}

		isParty := booking.PatientID == userId ||
			(booking.ProviderID != nil && *booking.ProviderID == userId)
		if !isParty && userType != string(models.UserTypeAdmin) {
			c.JSON(403, gin.H{"error": "Unauthorized"})
			return
		}

		c.JSON(200, gin.H{
			"bookingId": booking.ID,
			"pricing":   booking.Pricing,
			"payment":   booking.Payment,
		})
	}
}

func respondPaymentError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, payments.ErrBookingNotFound):
		c.JSON(404, gin.H{"error": err.Error()})
	case errors.Is(err, payments.ErrNotBookingPatient):
		c.JSON(403, gin.H{"error": err.Error()})
	case errors.Is(err, payments.ErrAlreadyPaid),
		errors.Is(err, payments.ErrOrderConflict),
		errors.Is(err, payments.ErrOrderDisagreement),
		errors.Is(err, payments.ErrRefundInProgress),
		errors.Is(err, payments.ErrAlreadyRefunded):
		c.JSON(409, gin.H{"error": err.Error()})
	case errors.Is(err, payments.ErrOrderMismatch),
		errors.Is(err, payments.ErrSignatureInvalid),
		errors.Is(err, payments.ErrAmountMismatch),
		errors.Is(err, payments.ErrNotPaid),
		errors.Is(err, payments.ErrInvalidAmount):
		c.JSON(400, gin.H{"error": err.Error()})
	case errors.Is(err, payments.ErrGateway):
		c.JSON(502, gin.H{"error": err.Error()})
	default:
		c.JSON(500, gin.H{"error": "Internal error"})
	}
}
