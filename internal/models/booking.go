package models

import (
	"time"

	"gorm.io/gorm"
)

type BookingStatus string

const (
	BookingStatusRequested  BookingStatus = "REQUESTED"
	BookingStatusSearching  BookingStatus = "SEARCHING"
	BookingStatusAssigned   BookingStatus = "ASSIGNED"
	BookingStatusConfirmed  BookingStatus = "CONFIRMED"
	BookingStatusEnRoute    BookingStatus = "EN_ROUTE"
	BookingStatusInProgress BookingStatus = "IN_PROGRESS"
	BookingStatusCompleted  BookingStatus = "COMPLETED"
	BookingStatusCancelled  BookingStatus = "CANCELLED"
)

type PaymentStatus string

const (
	// PaymentStatusNone is the zero value before any order has been claimed.
	PaymentStatusNone          PaymentStatus = ""
	PaymentStatusPending       PaymentStatus = "PENDING"
	PaymentStatusPaid          PaymentStatus = "PAID"
	PaymentStatusFailed        PaymentStatus = "FAILED"
	PaymentStatusRefundPending PaymentStatus = "REFUND_PENDING"
	PaymentStatusRefunded      PaymentStatus = "REFUNDED"
)

// PricingSnapshot is computed once at booking creation and never recomputed,
// so the amount used for payment verification cannot drift from what the
// patient was shown. All amounts are in minor currency units.
type PricingSnapshot struct {
	BasePrice  int64  `json:"basePrice" gorm:"column:base_price;not null"`
	ServiceFee int64  `json:"serviceFee" gorm:"column:service_fee;not null"`
	Tax        int64  `json:"tax" gorm:"column:tax;not null"`
	Total      int64  `json:"total" gorm:"column:total_amount;not null"`
	Currency   string `json:"currency" gorm:"column:currency;not null;default:'INR'"`
}

// PaymentDetails is the payment sub-entity embedded in a booking. Only the
// payment and refund coordinators write these columns, always through
// conditional updates keyed on payment_status.
type PaymentDetails struct {
	OrderID      string        `json:"orderId" gorm:"column:payment_order_id;default:''"`
	PaymentRef   string        `json:"paymentId" gorm:"column:payment_ref;default:''"`
	Status       PaymentStatus `json:"status" gorm:"column:payment_status;default:''"`
	Amount       int64         `json:"amount" gorm:"column:payment_amount;default:0"`
	RefundID     string        `json:"refundId" gorm:"column:refund_id;default:''"`
	RefundAmount int64         `json:"refundAmount" gorm:"column:refund_amount;default:0"`
	PaidAt       *time.Time    `json:"paidAt,omitempty" gorm:"column:paid_at"`
	RefundedAt   *time.Time    `json:"refundedAt,omitempty" gorm:"column:refunded_at"`
}

type Booking struct {
	gorm.Model
	PatientID  uint  `json:"patientId" gorm:"column:patient_id;not null;index"`
	Patient    *User `json:"patient,omitempty" gorm:"foreignKey:PatientID"`
	ProviderID *uint `json:"providerId,omitempty" gorm:"column:provider_id;index"`
	Provider   *User `json:"provider,omitempty" gorm:"foreignKey:ProviderID"`

	ServiceType string    `json:"serviceType" gorm:"column:service_type;not null"`
	ScheduledAt time.Time `json:"scheduledAt" gorm:"column:scheduled_at;not null"`
	Hours       int       `json:"hours" gorm:"column:hours;not null;default:1"`
	Address     string    `json:"address" gorm:"column:address;not null"`
	Notes       string    `json:"notes,omitempty" gorm:"column:notes"`

	Status  BookingStatus   `json:"status" gorm:"column:status;not null;default:'REQUESTED';index"`
	Pricing PricingSnapshot `json:"pricing" gorm:"embedded"`
	Payment PaymentDetails  `json:"payment" gorm:"embedded"`

	AssignedAt      *time.Time `json:"assignedAt,omitempty" gorm:"column:assigned_at"`
	ConfirmedAt     *time.Time `json:"confirmedAt,omitempty" gorm:"column:confirmed_at"`
	StartedAt       *time.Time `json:"startedAt,omitempty" gorm:"column:started_at"`
	CompletedAt     *time.Time `json:"completedAt,omitempty" gorm:"column:completed_at"`
	DurationMinutes *int       `json:"durationMinutes,omitempty" gorm:"column:duration_minutes"`

	// Raw service report captured at completion; the health-record service
	// receives a copy but this column is the source of truth.
	ServiceReport string `json:"serviceReport,omitempty" gorm:"column:service_report"`

	CancelledBy  *uint      `json:"cancelledBy,omitempty" gorm:"column:cancelled_by"`
	CancelReason string     `json:"cancelReason,omitempty" gorm:"column:cancel_reason"`
	CancelledAt  *time.Time `json:"cancelledAt,omitempty" gorm:"column:cancelled_at"`
}

// TableName specifies the table name
func (Booking) TableName() string {
	return "bookings"
}
