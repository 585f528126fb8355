package payments

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/carebridge/carebridge-backend/internal/models"
	"gorm.io/gorm"
)

const (
	finalizeAttempts = 3
	finalizeBackoff  = 150 * time.Millisecond
)

// RefundResult describes the outcome of a refund. NeedsReconciliation is set
// when the gateway refund succeeded but the local record could not be
// persisted; the caller must still treat the refund as successful.
type RefundResult struct {
	RefundID            string `json:"refundId"`
	Amount              int64  `json:"amount"`
	Status              string `json:"status"`
	NeedsReconciliation bool   `json:"needsReconciliation,omitempty"`
}

// Refund executes a three-phase refund: lock the payment sub-status, call
// the gateway, finalize locally. Amount zero means a full refund.
//
// Phase boundaries matter: the lock is released on gateway failure (safe to
// retry the whole call), while finalize failure after a successful gateway
// refund degrades to a reconciliation alert because money that already moved
// externally is never reversed to simplify local bookkeeping.
func (c *Coordinator) Refund(ctx context.Context, bookingID uint, amount int64) (*RefundResult, error) {
	var booking models.Booking
	if err := c.db.WithContext(ctx).First(&booking, bookingID).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, ErrBookingNotFound
		}
		return nil, err
	}

	if amount == 0 {
		amount = booking.Payment.Amount
	}
	if amount < 0 || amount > booking.Payment.Amount {
		return nil, fmt.Errorf("%w: %d of %d", ErrInvalidAmount, amount, booking.Payment.Amount)
	}

	// Phase 1: lock. PAID -> REFUND_PENDING, conditionally. A second
	// concurrent caller fails here, before any external call is made.
	lock := c.db.WithContext(ctx).Model(&models.Booking{}).
		Where("id = ? AND payment_status = ?", bookingID, models.PaymentStatusPaid).
		Updates(map[string]interface{}{"payment_status": models.PaymentStatusRefundPending})
	if lock.Error != nil {
		return nil, lock.Error
	}
	if lock.RowsAffected == 0 {
		var current models.Booking
		if err := c.db.WithContext(ctx).First(&current, bookingID).Error; err != nil {
			return nil, err
		}
		switch current.Payment.Status {
		case models.PaymentStatusRefunded:
			return nil, ErrAlreadyRefunded
		case models.PaymentStatusRefundPending:
			return nil, ErrRefundInProgress
		default:
			return nil, ErrNotPaid
		}
	}

	// Phase 2: execute, using the payment id captured at lock time. Gateway
	// failure reverts the lock so the caller can retry safely.
	refund, err := c.gw.CreateRefund(ctx, booking.Payment.PaymentRef, amount, map[string]string{
		"booking_id": fmt.Sprint(bookingID),
	})
	if err != nil {
		revert := c.db.WithContext(ctx).Model(&models.Booking{}).
			Where("id = ? AND payment_status = ?", bookingID, models.PaymentStatusRefundPending).
			Updates(map[string]interface{}{"payment_status": models.PaymentStatusPaid})
		if revert.Error != nil || revert.RowsAffected == 0 {
			log.Printf("CRITICAL: failed to release refund lock for booking %d: %v", bookingID, revert.Error)
		}
		return nil, fmt.Errorf("%w: %v", ErrGateway, err)
	}

	// Phase 3: finalize with bounded retries. After this point the refund
	// has happened at the gateway and is never rolled back or re-attempted.
	now := time.Now()
	var lastErr error
	for attempt := 1; attempt <= finalizeAttempts; attempt++ {
		res := c.db.WithContext(ctx).Model(&models.Booking{}).
			Where("id = ? AND payment_status = ?", bookingID, models.PaymentStatusRefundPending).
			Updates(map[string]interface{}{
				"payment_status": models.PaymentStatusRefunded,
				"refund_id":      refund.ID,
				"refund_amount":  amount,
				"refunded_at":    now,
			})
		if res.Error == nil && res.RowsAffected > 0 {
			return &RefundResult{RefundID: refund.ID, Amount: amount, Status: refund.Status}, nil
		}
		if res.Error != nil {
			lastErr = res.Error
		} else {
			lastErr = fmt.Errorf("refund lock no longer held for booking %d", bookingID)
		}
		if attempt < finalizeAttempts {
			time.Sleep(finalizeBackoff)
		}
	}

	// Degrade, don't fail: the user's money has already moved. Escalate to
	// the ops alert channel for manual reconciliation and report success.
	log.Printf("CRITICAL: refund %s for booking %d executed at gateway but not finalized locally: %v",
		refund.ID, bookingID, lastErr)
	c.alert(ctx, bookingID, refund.ID, lastErr)

	return &RefundResult{
		RefundID:            refund.ID,
		Amount:              amount,
		Status:              refund.Status,
		NeedsReconciliation: true,
	}, nil
}
