package handlers

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/carebridge/carebridge-backend/internal/duties"
	"github.com/carebridge/carebridge-backend/internal/models"
	"github.com/carebridge/carebridge-backend/internal/services"
	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

// CreateDuty posts a new hospital duty with open positions
func CreateDuty(db *gorm.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		userId := c.GetUint("userId")
		userType := c.GetString("userType")

		if userType != string(models.UserTypeHospital) {
			c.JSON(403, gin.H{"error": "Only hospitals can post duties"})
			return
		}

		var input struct {
			Title           string `json:"title" binding:"required"`
			Department      string `json:"department"`
			StartTime       string `json:"startTime" binding:"required"`
			EndTime         string `json:"endTime" binding:"required"`
			RatePerHour     int64  `json:"ratePerHour" binding:"required,gt=0"`
			PositionsNeeded int    `json:"positionsNeeded" binding:"required,gt=0"`
		}
		if err := c.ShouldBindJSON(&input); err != nil {
			c.JSON(400, gin.H{"error": err.Error()})
			return
		}

		startTime, err := time.Parse(time.RFC3339, input.StartTime)
		if err != nil {
			c.JSON(400, gin.H{"error": "startTime must be RFC3339"})
			return
		}
		endTime, err := time.Parse(time.RFC3339, input.EndTime)
		if err != nil {
			c.JSON(400, gin.H{"error": "endTime must be RFC3339"})
			return
		}
		if !endTime.After(startTime) {
			c.JSON(400, gin.H{"error": "endTime must be after startTime"})
			return
		}

		duty := models.Duty{
			HospitalID:      userId,
			Title:           input.Title,
			Department:      input.Department,
			StartTime:       startTime,
			EndTime:         endTime,
			RatePerHr:       input.RatePerHour,
			Currency:        "INR",
			PositionsNeeded: input.PositionsNeeded,
			Status:          models.DutyStatusOpen,
		}

		if err := db.Create(&duty).Error; err != nil {
			c.JSON(500, gin.H{"error": "Failed to create duty"})
			return
		}

		ctx := context.Background()
		services.SetDutyOpenPositions(ctx, duty.ID, duty.PositionsNeeded)
		services.PublishEvent(ctx, "duty.created", gin.H{
			"dutyId":     duty.ID,
			"hospitalId": duty.HospitalID,
			"positions":  duty.PositionsNeeded,
		})

		c.JSON(201, duty)
	}
}

// GetOpenDuties lists duties that still have open positions
func GetOpenDuties(db *gorm.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		var list []models.Duty
		if err := db.Where("status = ?", models.DutyStatusOpen).
			Preload("Hospital").
			Order("start_time ASC").
			Find(&list).Error; err != nil {
			c.JSON(500, gin.H{"error": "Failed to fetch duties"})
			return
		}

		c.JSON(200, list)
	}
}

// GetHospitalDuties lists a hospital's own duties with fill progress
func GetHospitalDuties(db *gorm.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		userId := c.GetUint("userId")
		userType := c.GetString("userType")

		if userType != string(models.UserTypeHospital) {
			c.JSON(403, gin.H{"error": "Only hospitals can view their duties"})
			return
		}

		var list []models.Duty
		if err := db.Where("hospital_id = ?", userId).
			Order("start_time DESC").
			Find(&list).Error; err != nil {
			c.JSON(500, gin.H{"error": "Failed to fetch duties"})
			return
		}

		c.JSON(200, list)
	}
}

// ApplyToDuty submits a doctor's application for a duty
func ApplyToDuty(engine *duties.Engine) gin.HandlerFunc {
	return func(c *gin.Context) {
		dutyIdStr := c.Param("id")
		userId := c.GetUint("userId")
		userType := c.GetString("userType")

		if userType != string(models.UserTypeDoctor) {
			c.JSON(403, gin.H{"error": "Only doctors can apply to duties"})
			return
		}

		dutyId, err := strconv.ParseUint(dutyIdStr, 10, 32)
		if err != nil {
			c.JSON(400, gin.H{"error": "Invalid duty ID"})
			return
		}

		var input struct {
			Note string `json:"note"`
		}
		// Note is optional
		_ = c.ShouldBindJSON(&input)

		application, err := engine.Apply(c.Request.Context(), uint(dutyId), userId, input.Note)
		if err != nil {
			respondDutyError(c, err)
			return
		}

		c.JSON(201, gin.H{
			"message":       "Application submitted",
			"applicationId": application.ID,
			"status":        application.Status,
		})
	}
}

// GetDutyApplications lists applications for a duty the caller owns
func GetDutyApplications(db *gorm.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		dutyIdStr := c.Param("id")
		userId := c.GetUint("userId")
		userType := c.GetString("userType")

		var duty models.Duty
		if err := db.First(&duty, dutyIdStr).Error; err != nil {
			c.JSON(404, gin.H{"error": "Duty not found"})
			return
		}
		if duty.HospitalID != userId && userType != string(models.UserTypeAdmin) {
			c.JSON(403, gin.H{"error": "Unauthorized"})
			return
		}

		var list []models.DutyApplication
		if err := db.Where("duty_id = ?", duty.ID).
			Preload("Doctor").
			Order("created_at ASC").
			Find(&list).Error; err != nil {
			c.JSON(500, gin.H{"error": "Failed to fetch applications"})
			return
		}

		c.JSON(200, list)
	}
}

// GetMyApplications lists the calling doctor's applications
func GetMyApplications(db *gorm.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		userId := c.GetUint("userId")
		userType := c.GetString("userType")

		if userType != string(models.UserTypeDoctor) {
			c.JSON(403, gin.H{"error": "Only doctors can view their applications"})
			return
		}

		var list []models.DutyApplication
		if err := db.Where("doctor_id = ?", userId).
			Preload("Duty").
			Order("created_at DESC").
			Find(&list).Error; err != nil {
			c.JSON(500, gin.H{"error": "Failed to fetch applications"})
			return
		}

		c.JSON(200, list)
	}
}

// AcceptApplication accepts a pending application if the duty still has room
func AcceptApplication(db *gorm.DB, engine *duties.Engine, hub *services.Hub) gin.HandlerFunc {
	return func(c *gin.Context) {
		applicationIdStr := c.Param("id")
		userId := c.GetUint("userId")
		userType := c.GetString("userType")

		applicationId, err := strconv.ParseUint(applicationIdStr, 10, 32)
		if err != nil {
			c.JSON(400, gin.H{"error": "Invalid application ID"})
			return
		}

		actor := duties.Actor{ID: userId, Type: models.UserType(userType)}
		application, err := engine.Accept(c.Request.Context(), uint(applicationId), actor)
		if err != nil {
			respondDutyError(c, err)
			return
		}

		notifyDutyProgress(db, hub, application.DutyID)

		var doctor models.User
		if err := db.First(&doctor, application.DoctorID).Error; err == nil && doctor.FCMToken != "" {
			title := ""
			if application.Duty != nil {
				title = application.Duty.Title
			}
			go services.SendApplicationAcceptedNotification(context.Background(),
				doctor.FCMToken, application.DutyID, title)
		}

		c.JSON(200, gin.H{
			"message":       "Application accepted",
			"applicationId": application.ID,
			"status":        application.Status,
		})
	}
}

// RejectApplication rejects a pending application
func RejectApplication(engine *duties.Engine) gin.HandlerFunc {
	return func(c *gin.Context) {
		applicationIdStr := c.Param("id")
		userId := c.GetUint("userId")
		userType := c.GetString("userType")

		applicationId, err := strconv.ParseUint(applicationIdStr, 10, 32)
		if err != nil {
			c.JSON(400, gin.H{"error": "Invalid application ID"})
			return
		}

		var input struct {
			Note string `json:"note"`
		}
		// Note is optional
		_ = c.ShouldBindJSON(&input)

		actor := duties.Actor{ID: userId, Type: models.UserType(userType)}
		application, err := engine.Reject(c.Request.Context(), uint(applicationId), actor, input.Note)
		if err != nil {
			respondDutyError(c, err)
			return
		}

		c.JSON(200, gin.H{
			"message":       "Application rejected",
			"applicationId": application.ID,
			"status":        application.Status,
		})
	}
}

// WithdrawApplication lets a doctor withdraw their own pending application
func WithdrawApplication(engine *duties.Engine) gin.HandlerFunc {
	return func(c *gin.Context) {
		applicationIdStr := c.Param("id")
		userId := c.GetUint("userId")
		userType := c.GetString("userType")

		if userType != string(models.UserTypeDoctor) {
			c.JSON(403, gin.H{"error": "Only doctors can withdraw applications"})
			return
		}

		applicationId, err := strconv.ParseUint(applicationIdStr, 10, 32)
		if err != nil {
			c.JSON(400, gin.H{"error": "Invalid application ID"})
			return
		}

		application, err := engine.Withdraw(c.Request.Context(), uint(applicationId), userId)
		if err != nil {
			respondDutyError(c, err)
			return
		}

		c.JSON(200, gin.H{
			"message":       "Application withdrawn",
			"applicationId": application.ID,
			"status":        application.Status,
		})
	}
}

func notifyDutyProgress(db *gorm.DB, hub *services.Hub, dutyID uint) {
	var duty models.Duty
	if err := db.First(&duty, dutyID).Error; err != nil {
		return
	}

	ctx := context.Background()
	services.SetDutyOpenPositions(ctx, duty.ID, duty.PositionsNeeded-duty.PositionsFilled)
	services.PublishDutyUpdate(ctx, duty.ID, string(duty.Status), duty.PositionsFilled, duty.PositionsNeeded)
	services.PublishEvent(ctx, "duty.position_filled", gin.H{
		"dutyId": duty.ID,
		"filled": duty.PositionsFilled,
		"needed": duty.PositionsNeeded,
		"status": duty.Status,
	})

	hub.SendDutyUpdate(duty.HospitalID, services.DutyUpdate{
		DutyID: duty.ID,
		Status: string(duty.Status),
		Filled: duty.PositionsFilled,
		Needed: duty.PositionsNeeded,
	})
}

func respondDutyError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, duties.ErrDutyNotFound), errors.Is(err, duties.ErrApplicationNotFound):
		c.JSON(404, gin.H{"error": err.Error()})
	case errors.Is(err, duties.ErrNotAllowed):
		c.JSON(403, gin.H{"error": err.Error()})
	case errors.Is(err, duties.ErrDutyUnavailable),
		errors.Is(err, duties.ErrNotPending),
		errors.Is(err, duties.ErrAlreadyApplied):
		c.JSON(409, gin.H{"error": err.Error()})
	default:
		c.JSON(500, gin.H{"error": "Internal error"})
	}
}
