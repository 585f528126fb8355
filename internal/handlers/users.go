package handlers

import (
	"github.com/carebridge/carebridge-backend/internal/models"
	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

// GetProfile retrieves the user's profile
func GetProfile(db *gorm.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		userId := c.GetUint("userId")

		var user models.User
		if err := db.First(&user, userId).Error; err != nil {
			c.JSON(404, gin.H{"error": "User not found"})
			return
		}

		c.JSON(200, gin.H{
			"id":            user.ID,
			"email":         user.Email,
			"username":      user.Username,
			"phoneNumber":   user.PhoneNumber,
			"userType":      user.UserType,
			"specialty":     user.Specialty,
			"licenseNumber": user.LicenseNumber,
			"isVerified":    user.IsVerified,
		})
	}
}

// UpdateProfile updates the user's profile information
func UpdateProfile(db *gorm.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		userId := c.GetUint("userId")

		var input struct {
			Username    *string `json:"username"`
			PhoneNumber *string `json:"phoneNumber"`
			Specialty   *string `json:"specialty"`
		}

		if err := c.ShouldBindJSON(&input); err != nil {
			c.JSON(400, gin.H{"error": err.Error()})
			return
		}

		var user models.User
		if err := db.First(&user, userId).Error; err != nil {
			c.JSON(404, gin.H{"error": "User not found"})
			return
		}

		// Update fields individually to handle empty strings properly
		if input.Username != nil {
			user.Username = *input.Username
		}
		if input.PhoneNumber != nil {
			user.PhoneNumber = *input.PhoneNumber
		}
		if input.Specialty != nil {
			user.Specialty = *input.Specialty
		}

		if err := db.Save(&user).Error; err != nil {
			c.JSON(500, gin.H{"error": "Failed to update profile"})
			return
		}

		c.JSON(200, gin.H{
			"id":          user.ID,
			"email":       user.Email,
			"username":    user.Username,
			"phoneNumber": user.PhoneNumber,
			"userType":    user.UserType,
			"specialty":   user.Specialty,
		})
	}
}

// VerifyProvider lets an administrator mark a provider or doctor as verified
func VerifyProvider(db *gorm.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		userType := c.GetString("userType")
		if userType != string(models.UserTypeAdmin) {
			c.JSON(403, gin.H{"error": "Only administrators can verify providers"})
			return
		}

		var input struct {
			UserID uint `json:"userId" binding:"required"`
		}
		if err := c.ShouldBindJSON(&input); err != nil {
			c.JSON(400, gin.H{"error": err.Error()})
			return
		}

		res := db.Model(&models.User{}).
			Where("id = ? AND user_type IN ?", input.UserID,
				[]string{string(models.UserTypeProvider), string(models.UserTypeDoctor)}).
			Update("is_verified", true)
		if res.Error != nil {
			c.JSON(500, gin.H{"error": "Failed to verify user"})
			return
		}
		if res.RowsAffected == 0 {
			c.JSON(404, gin.H{"error": "Provider not found"})
			return
		}

		c.JSON(200, gin.H{"message": "User verified successfully"})
	}
}
