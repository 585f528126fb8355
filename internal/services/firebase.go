package services

import (
	"context"
	"encoding/json"
	"fmt"
	"log"

	firebase "firebase.google.com/go/v4"
	"firebase.google.com/go/v4/messaging"
	"google.golang.org/api/option"
)

var (
	// FirebaseApp is the Firebase app instance
	FirebaseApp *firebase.App
	// MessagingClient is the Firebase Cloud Messaging client
	MessagingClient *messaging.Client
)

// OpsAlertTopic receives critical reconciliation alerts for on-call staff.
const OpsAlertTopic = "ops-alerts"

// InitFirebase initializes Firebase Admin SDK
func InitFirebase(serviceAccountPath string) error {
	ctx := context.Background()

	if serviceAccountPath == "" {
		log.Println("Warning: FIREBASE_SERVICE_ACCOUNT_PATH not set. Push notifications will be disabled.")
		return nil
	}

	opt := option.WithCredentialsFile(serviceAccountPath)
	app, err := firebase.NewApp(ctx, nil, opt)
	if err != nil {
		return fmt.Errorf("error initializing firebase app: %v", err)
	}

	client, err := app.Messaging(ctx)
	if err != nil {
		return fmt.Errorf("error getting messaging client: %v", err)
	}

	FirebaseApp = app
	MessagingClient = client

	log.Println("Firebase Cloud Messaging initialized successfully")
	return nil
}

// NotificationPayload represents the notification data
type NotificationPayload struct {
	Title     string                 `json:"title"`
	Body      string                 `json:"body"`
	Data      map[string]interface{} `json:"data,omitempty"`
	ChannelID string                 `json:"channelId,omitempty"` // Android notification channel
	Sound     string                 `json:"sound,omitempty"`     // Custom sound file name
	Priority  string                 `json:"priority,omitempty"`  // high, normal
}

func getAndroidConfig(payload NotificationPayload) *messaging.AndroidConfig {
	channelID := payload.ChannelID
	if channelID == "" {
		channelID = "carebridge_default"
	}

	sound := payload.Sound
	if sound == "" {
		sound = "default"
	}

	priority := messaging.PriorityHigh
	if payload.Priority == "normal" {
		priority = messaging.PriorityDefault
	}

	return &messaging.AndroidConfig{
		Priority: "high",
		Notification: &messaging.AndroidNotification{
			Sound:                 sound,
			ChannelID:             channelID,
			Priority:              priority,
			DefaultSound:          sound == "default",
			DefaultVibrateTimings: true,
		},
	}
}

func getAPNSConfig(payload NotificationPayload) *messaging.APNSConfig {
	sound := payload.Sound
	if sound == "" {
		sound = "default"
	}

	badge := 1
	return &messaging.APNSConfig{
		Payload: &messaging.APNSPayload{
			Aps: &messaging.Aps{
				Sound:            sound,
				Badge:            &badge,
				MutableContent:   true,
				ContentAvailable: true,
			},
		},
	}
}

func toDataStrings(data map[string]interface{}) map[string]string {
	dataStrings := make(map[string]string)
	for key, value := range data {
		switch v := value.(type) {
		case string:
			dataStrings[key] = v
		case int, int64, float64, bool:
			dataStrings[key] = fmt.Sprintf("%v", v)
		default:
			jsonData, err := json.Marshal(v)
			if err != nil {
				log.Printf("Error marshaling data for key %s: %v", key, err)
				continue
			}
			dataStrings[key] = string(jsonData)
		}
	}
	return dataStrings
}

// SendNotificationToToken sends a notification to a specific FCM token
func SendNotificationToToken(ctx context.Context, token string, payload NotificationPayload) error {
	if MessagingClient == nil {
		log.Println("Warning: Firebase not initialized. Skipping notification.")
		return nil
	}

	message := &messaging.Message{
		Notification: &messaging.Notification{
			Title: payload.Title,
			Body:  payload.Body,
		},
		Data:    toDataStrings(payload.Data),
		Token:   token,
		Android: getAndroidConfig(payload),
		APNS:    getAPNSConfig(payload),
	}

	response, err := MessagingClient.Send(ctx, message)
	if err != nil {
		return fmt.Errorf("error sending message: %v", err)
	}

	log.Printf("Successfully sent notification to token: %s, response: %s", token, response)
	return nil
}

// SendNotificationToTopic sends a notification to all subscribers of a topic
func SendNotificationToTopic(ctx context.Context, topic string, payload NotificationPayload) error {
	if MessagingClient == nil {
		log.Println("Warning: Firebase not initialized. Skipping notification.")
		return nil
	}

	message := &messaging.Message{
		Notification: &messaging.Notification{
			Title: payload.Title,
			Body:  payload.Body,
		},
		Data:    toDataStrings(payload.Data),
		Topic:   topic,
		Android: getAndroidConfig(payload),
		APNS:    getAPNSConfig(payload),
	}

	response, err := MessagingClient.Send(ctx, message)
	if err != nil {
		return fmt.Errorf("error sending topic message: %v", err)
	}

	log.Printf("Successfully sent notification to topic %s, response: %s", topic, response)
	return nil
}

// SendBookingAssignedNotification tells the patient a provider took their booking
func SendBookingAssignedNotification(ctx context.Context, patientToken string, bookingID uint, providerName, specialty string) error {
	payload := NotificationPayload{
		Title: "Provider Assigned!",
		Body:  fmt.Sprintf("%s (%s) will handle your visit", providerName, specialty),
		Data: map[string]interface{}{
			"type":           "booking_assigned",
			"bookingId":      bookingID,
			"providerName":   providerName,
			"notificationId": fmt.Sprintf("booking_assigned_%d", bookingID),
		},
	}

	return SendNotificationToToken(ctx, patientToken, payload)
}

// SendBookingStatusNotification tells the patient their booking moved
func SendBookingStatusNotification(ctx context.Context, patientToken string, bookingID uint, status, detail string) error {
	payload := NotificationPayload{
		Title: "Booking Update",
		Body:  detail,
		Data: map[string]interface{}{
			"type":           "booking_status",
			"bookingId":      bookingID,
			"status":         status,
			"notificationId": fmt.Sprintf("booking_status_%d_%s", bookingID, status),
		},
	}

	return SendNotificationToToken(ctx, patientToken, payload)
}

// SendPaymentReceivedNotification confirms a verified payment
func SendPaymentReceivedNotification(ctx context.Context, patientToken string, bookingID uint, amount int64, currency string) error {
	payload := NotificationPayload{
		Title: "Payment Received",
		Body:  fmt.Sprintf("Your payment of %d %s was verified. Finding you a provider now.", amount, currency),
		Data: map[string]interface{}{
			"type":           "payment_received",
			"bookingId":      bookingID,
			"amount":         amount,
			"notificationId": fmt.Sprintf("payment_received_%d", bookingID),
		},
	}

	return SendNotificationToToken(ctx, patientToken, payload)
}

// SendRefundProcessedNotification confirms a refund to the patient
func SendRefundProcessedNotification(ctx context.Context, patientToken string, bookingID uint, amount int64, currency string) error {
	payload := NotificationPayload{
		Title: "Refund Processed",
		Body:  fmt.Sprintf("Your refund of %d %s is on its way", amount, currency),
		Data: map[string]interface{}{
			"type":           "refund_processed",
			"bookingId":      bookingID,
			"amount":         amount,
			"notificationId": fmt.Sprintf("refund_processed_%d", bookingID),
		},
	}

	return SendNotificationToToken(ctx, patientToken, payload)
}

// SendApplicationAcceptedNotification tells a doctor they got the duty
func SendApplicationAcceptedNotification(ctx context.Context, doctorToken string, dutyID uint, dutyTitle string) error {
	payload := NotificationPayload{
		Title: "Application Accepted!",
		Body:  fmt.Sprintf("You were accepted for duty: %s", dutyTitle),
		Data: map[string]interface{}{
			"type":           "application_accepted",
			"dutyId":         dutyID,
			"notificationId": fmt.Sprintf("application_accepted_%d", dutyID),
		},
	}

	return SendNotificationToToken(ctx, doctorToken, payload)
}

// SendOpsAlert escalates a reconciliation problem to the ops topic
func SendOpsAlert(ctx context.Context, title, body string, data map[string]interface{}) error {
	payload := NotificationPayload{
		Title: title,
		Body:  body,
		Data:  data,
	}

	return SendNotificationToTopic(ctx, OpsAlertTopic, payload)
}
