// Package payments coordinates payment orders and refunds for bookings.
// Every state change on the payment sub-entity goes through a conditional
// update keyed on payment_status, so concurrent callers resolve to exactly
// one winner without in-process locks.
package payments

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/carebridge/carebridge-backend/internal/gateway"
	"github.com/carebridge/carebridge-backend/internal/models"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Alert is invoked when an external side effect succeeded but local
// bookkeeping could not be persisted and needs manual reconciliation.
type Alert func(ctx context.Context, bookingID uint, refundID string, cause error)

type Coordinator struct {
	db    *gorm.DB
	gw    gateway.Client
	alert Alert
}

func NewCoordinator(db *gorm.DB, gw gateway.Client, alert Alert) *Coordinator {
	if alert == nil {
		alert = func(ctx context.Context, bookingID uint, refundID string, cause error) {
			log.Printf("CRITICAL: refund %s for booking %d needs manual reconciliation: %v", refundID, bookingID, cause)
		}
	}
	return &Coordinator{db: db, gw: gw, alert: alert}
}

// OrderDescriptor is what a client needs to open the gateway checkout.
type OrderDescriptor struct {
	OrderID  string `json:"orderId"`
	Amount   int64  `json:"amount"`
	Currency string `json:"currency"`
	Receipt  string `json:"receipt,omitempty"`
	Reused   bool   `json:"reused"`
}

// CreateOrder idempotently creates (or reuses) a gateway order for the
// booking's immutable pricing total. Two concurrent callers race on a
// conditional claim of payment_status; only the winner talks to the gateway.
func (c *Coordinator) CreateOrder(ctx context.Context, bookingID, patientID uint) (*OrderDescriptor, error) {
	var booking models.Booking
	if err := c.db.WithContext(ctx).First(&booking, bookingID).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, ErrBookingNotFound
		}
		return nil, err
	}
	if booking.PatientID != patientID {
		return nil, ErrNotBookingPatient
	}
	if booking.Payment.Status == models.PaymentStatusPaid {
		return nil, ErrAlreadyPaid
	}

	if booking.Payment.OrderID != "" {
		return c.reuseOrder(ctx, &booking)
	}

	// Claim-before-create: flip payment_status to PENDING only if no order
	// id exists yet. Losers of the race get a conflict instead of a
	// duplicate gateway order.
	claim := c.db.WithContext(ctx).Model(&models.Booking{}).
		Where("id = ? AND payment_order_id = '' AND payment_status = ''", bookingID).
		Updates(map[string]interface{}{"payment_status": models.PaymentStatusPending})
	if claim.Error != nil {
		return nil, claim.Error
	}
	if claim.RowsAffected == 0 {
		return nil, ErrOrderConflict
	}

	receipt := uuid.NewString()
	order, err := c.gw.CreateOrder(ctx, booking.Pricing.Total, booking.Pricing.Currency, receipt, map[string]string{
		"booking_id": fmt.Sprint(bookingID),
		"patient_id": fmt.Sprint(patientID),
	})
	if err != nil {
		c.releaseClaim(ctx, bookingID)
		return nil, fmt.Errorf("%w: %v", ErrGateway, err)
	}

	res := c.db.WithContext(ctx).Model(&models.Booking{}).
		Where("id = ? AND payment_status = ? AND payment_order_id = ''", bookingID, models.PaymentStatusPending).
		Updates(map[string]interface{}{
			"payment_order_id": order.ID,
			"payment_amount":   order.Amount,
		})
	if res.Error != nil {
		// The order exists at the gateway but could not be recorded; it will
		// surface again through the idempotent reuse path once the claim is
		// released.
		log.Printf("CRITICAL: gateway order %s created for booking %d but not persisted: %v", order.ID, bookingID, res.Error)
		c.releaseClaim(ctx, bookingID)
		return nil, res.Error
	}
	if res.RowsAffected == 0 {
		return nil, ErrOrderConflict
	}

	return &OrderDescriptor{
		OrderID:  order.ID,
		Amount:   order.Amount,
		Currency: order.Currency,
		Receipt:  receipt,
	}, nil
}

// reuseOrder checks the existing order against the gateway's live record
// before handing it back. A live order that is already paid while the local
// record disagrees is a conflict to investigate, never silently overwritten.
func (c *Coordinator) reuseOrder(ctx context.Context, booking *models.Booking) (*OrderDescriptor, error) {
	live, err := c.gw.FetchOrder(ctx, booking.Payment.OrderID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrGateway, err)
	}

	if live.Status == gateway.OrderStatusPaid {
		return nil, fmt.Errorf("%w: gateway reports order %s paid, local status is %q",
			ErrOrderDisagreement, live.ID, booking.Payment.Status)
	}
	if live.Amount != booking.Pricing.Total {
		return nil, fmt.Errorf("%w: live order amount %d, pricing snapshot %d",
			ErrOrderDisagreement, live.Amount, booking.Pricing.Total)
	}

	// A FAILED verification leaves the order reusable; put the sub-status
	// back to PENDING so verification can complete later.
	res := c.db.WithContext(ctx).Model(&models.Booking{}).
		Where("id = ? AND payment_order_id = ? AND payment_status IN ?",
			booking.ID, booking.Payment.OrderID,
			[]models.PaymentStatus{models.PaymentStatusPending, models.PaymentStatusFailed}).
		Updates(map[string]interface{}{"payment_status": models.PaymentStatusPending})
	if res.Error != nil {
		return nil, res.Error
	}
	if res.RowsAffected == 0 {
		return nil, ErrOrderConflict
	}

	return &OrderDescriptor{
		OrderID:  live.ID,
		Amount:   live.Amount,
		Currency: live.Currency,
		Receipt:  live.Receipt,
		Reused:   true,
	}, nil
}

func (c *Coordinator) releaseClaim(ctx context.Context, bookingID uint) {
	res := c.db.WithContext(ctx).Model(&models.Booking{}).
		Where("id = ? AND payment_status = ? AND payment_order_id = ''", bookingID, models.PaymentStatusPending).
		Updates(map[string]interface{}{"payment_status": models.PaymentStatusNone})
	if res.Error != nil {
		log.Printf("failed to release payment claim for booking %d: %v", bookingID, res.Error)
	}
}

// VerifyPayment validates a client-submitted payment in four mandatory
// steps: the order must belong to this booking, the signature must match,
// the gateway's own record of amount and currency must equal the pricing
// snapshot, and only then does the payment flip to PAID.
func (c *Coordinator) VerifyPayment(ctx context.Context, bookingID uint, orderID, paymentID, signature string) (*models.Booking, error) {
	var booking models.Booking
	if err := c.db.WithContext(ctx).First(&booking, bookingID).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, ErrBookingNotFound
		}
		return nil, err
	}

	if booking.Payment.OrderID == "" || booking.Payment.OrderID != orderID {
		return nil, ErrOrderMismatch
	}

	if !c.gw.VerifySignature(orderID, paymentID, signature) {
		c.markFailed(ctx, bookingID)
		return nil, ErrSignatureInvalid
	}

	// A valid signature only proves the payment belongs to the order, not
	// that the order amount was what we intended. Re-verify against the
	// gateway's record.
	payment, err := c.gw.FetchPayment(ctx, paymentID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrGateway, err)
	}
	if payment.Amount != booking.Pricing.Total || !strings.EqualFold(payment.Currency, booking.Pricing.Currency) {
		c.markFailed(ctx, bookingID)
		return nil, fmt.Errorf("%w: gateway %d %s, snapshot %d %s",
			ErrAmountMismatch, payment.Amount, payment.Currency,
			booking.Pricing.Total, booking.Pricing.Currency)
	}

	now := time.Now()
	res := c.db.WithContext(ctx).Model(&models.Booking{}).
		Where("id = ? AND payment_status = ?", bookingID, models.PaymentStatusPending).
		Updates(map[string]interface{}{
			"payment_status": models.PaymentStatusPaid,
			"payment_ref":    paymentID,
			"paid_at":        now,
		})
	if res.Error != nil {
		return nil, res.Error
	}
	if res.RowsAffected == 0 {
		return nil, ErrOrderConflict
	}

	// A paid booking enters the matching pool. Zero matched rows here just
	// means the booking already moved on; payment state above is the
	// guarded write.
	c.db.WithContext(ctx).Model(&models.Booking{}).
		Where("id = ? AND status = ?", bookingID, models.BookingStatusRequested).
		Updates(map[string]interface{}{"status": models.BookingStatusSearching})

	var updated models.Booking
	if err := c.db.WithContext(ctx).First(&updated, bookingID).Error; err != nil {
		return nil, err
	}
	return &updated, nil
}

// markFailed records a failed verification without ever downgrading a
// completed payment.
func (c *Coordinator) markFailed(ctx context.Context, bookingID uint) {
	res := c.db.WithContext(ctx).Model(&models.Booking{}).
		Where("id = ? AND payment_status NOT IN ?", bookingID,
			[]models.PaymentStatus{models.PaymentStatusPaid, models.PaymentStatusRefundPending, models.PaymentStatusRefunded}).
		Updates(map[string]interface{}{"payment_status": models.PaymentStatusFailed})
	if res.Error != nil {
		log.Printf("failed to mark payment failed for booking %d: %v", bookingID, res.Error)
	}
}
