package main

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/carebridge/carebridge-backend/internal/bookings"
	"github.com/carebridge/carebridge-backend/internal/config"
	"github.com/carebridge/carebridge-backend/internal/database"
	"github.com/carebridge/carebridge-backend/internal/duties"
	"github.com/carebridge/carebridge-backend/internal/gateway"
	"github.com/carebridge/carebridge-backend/internal/handlers"
	"github.com/carebridge/carebridge-backend/internal/middleware"
	"github.com/carebridge/carebridge-backend/internal/payments"
	"github.com/carebridge/carebridge-backend/internal/records"
	"github.com/carebridge/carebridge-backend/internal/services"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables")
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	// Initialize database with better error handling
	db, err := database.InitDB(cfg)
	if err != nil {
		log.Fatalf("Failed to initialize database: %v", err)
	}

	// Get underlying SQL DB instance
	sqlDB, err := db.DB()
	if err != nil {
		log.Fatalf("Failed to get database instance: %v", err)
	}

	// Configure connection pool
	sqlDB.SetMaxIdleConns(10)
	sqlDB.SetMaxOpenConns(100)
	sqlDB.SetConnMaxLifetime(time.Hour)

	// Initialize Redis
	if err := services.InitRedis(cfg.RedisURL); err != nil {
		log.Fatalf("Failed to initialize Redis: %v", err)
	}

	// Initialize Firebase (optional - will log warning if not configured)
	if err := services.InitFirebase(cfg.FirebaseServiceAccountPath); err != nil {
		log.Printf("Firebase initialization warning: %v", err)
	}

	// Initialize event publisher (optional - disabled without AMQP_URL)
	if err := services.InitEvents(cfg.AMQPURL); err != nil {
		log.Printf("Event publisher initialization warning: %v", err)
	}
	defer services.CloseEvents()

	// Domain wiring
	recordsClient := records.NewClient(cfg.RecordsServiceURL, cfg.RecordsAPIKey)
	razorpay := gateway.NewRazorpayClient(cfg.RazorpayKeyID, cfg.RazorpayKeySecret)

	machine := bookings.NewStateMachine(db, recordsClient)
	arbiter := bookings.NewArbiter(db, recordsClient)
	dutyEngine := duties.NewEngine(db)
	coordinator := payments.NewCoordinator(db, razorpay, func(ctx context.Context, bookingID uint, refundID string, cause error) {
		services.PublishEvent(ctx, "payment.refund_reconciliation", map[string]interface{}{
			"bookingId": bookingID,
			"refundId":  refundID,
			"cause":     cause.Error(),
		})
		services.SendOpsAlert(ctx, "Refund needs reconciliation",
			fmt.Sprintf("Booking %d refund %s could not be finalized", bookingID, refundID),
			map[string]interface{}{"bookingId": bookingID, "refundId": refundID})
	})

	// Initialize WebSocket hub
	hub := services.NewHub()
	go hub.Run()

	// Initialize router
	r := gin.Default()

	// Configure CORS
	corsConfig := cors.DefaultConfig()
	corsConfig.AllowOrigins = []string{"*"}
	corsConfig.AllowHeaders = []string{"Origin", "Content-Type", "Accept", "Authorization"}
	r.Use(cors.New(corsConfig))

	// Routes
	api := r.Group("/api")
	{
		// Public routes
		auth := api.Group("/auth")
		{
			auth.POST("/register", handlers.Register(db))
			auth.POST("/login", handlers.Login(db))
		}

		// WebSocket connection
		api.GET("/ws", middleware.AuthMiddleware(), handlers.WebSocketHandler(hub))

		// Protected routes
		protected := api.Group("/")
		protected.Use(middleware.AuthMiddleware())
		{
			// User routes
			users := protected.Group("/users")
			{
				users.GET("/profile", handlers.GetProfile(db))
				users.PUT("/profile", handlers.UpdateProfile(db))
				users.POST("/verify", handlers.VerifyProvider(db))
			}

			// Booking routes
			bookingRoutes := protected.Group("/bookings")
			{
				bookingRoutes.POST("", handlers.CreateBooking(db))
				bookingRoutes.GET("/patient", handlers.GetPatientBookings(db))
				bookingRoutes.GET("/provider", handlers.GetProviderBookings(db))
				bookingRoutes.GET("/searching", handlers.GetSearchingBookings(db))
				bookingRoutes.GET("/:id", handlers.GetBooking(db))
				bookingRoutes.GET("/:id/status", handlers.GetBookingLiveStatus(db))
				bookingRoutes.POST("/:id/claim", handlers.ClaimBooking(db, arbiter, hub))
				bookingRoutes.PATCH("/:id/status", handlers.UpdateBookingStatus(db, machine, hub))
				bookingRoutes.POST("/:id/cancel", handlers.CancelBooking(db, machine, hub))
				bookingRoutes.POST("/:id/complete", handlers.CompleteBooking(db, machine, hub))
			}

			// Payment routes
			paymentRoutes := protected.Group("/payments")
			{
				paymentRoutes.POST("/orders", handlers.CreatePaymentOrder(coordinator))
				paymentRoutes.POST("/verify", handlers.VerifyPayment(db, coordinator, hub))
				paymentRoutes.POST("/:id/refund", handlers.RefundPayment(db, coordinator, hub))
				paymentRoutes.GET("/:id", handlers.GetPaymentStatus(db))
			}

			// Duty routes
			dutyRoutes := protected.Group("/duties")
			{
				dutyRoutes.POST("", handlers.CreateDuty(db))
				dutyRoutes.GET("/open", handlers.GetOpenDuties(db))
				dutyRoutes.GET("/hospital", handlers.GetHospitalDuties(db))
				dutyRoutes.GET("/:id/applications", handlers.GetDutyApplications(db))
				dutyRoutes.POST("/:id/apply", handlers.ApplyToDuty(dutyEngine))
			}

			// Application routes
			applicationRoutes := protected.Group("/applications")
			{
				applicationRoutes.GET("/mine", handlers.GetMyApplications(db))
				applicationRoutes.POST("/:id/accept", handlers.AcceptApplication(db, dutyEngine, hub))
				applicationRoutes.POST("/:id/reject", handlers.RejectApplication(dutyEngine))
				applicationRoutes.POST("/:id/withdraw", handlers.WithdrawApplication(dutyEngine))
			}

			// Notification routes
			notifications := protected.Group("/notifications")
			{
				notifications.POST("/register-token", handlers.RegisterFCMToken(db))
				notifications.DELETE("/remove-token", handlers.RemoveFCMToken(db))
			}
		}
	}

	if err := r.Run(":" + cfg.Port); err != nil {
		log.Fatal("Failed to start server:", err)
	}
}
