package bookings

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/carebridge/carebridge-backend/internal/models"
	"gorm.io/gorm"
)

// Resources a provider gets access to for the duration of a booking.
var grantResources = []string{"vitals", "prescriptions", "care-notes"}

// Arbiter claims bookings for providers. The claim is provisional: it only
// stands once the health-record service has granted the provider access to
// the patient's data. A booking is never left ASSIGNED with a provider who
// has no data access.
type Arbiter struct {
	db      *gorm.DB
	records RecordsService
}

func NewArbiter(db *gorm.DB, records RecordsService) *Arbiter {
	return &Arbiter{db: db, records: records}
}

// Assign atomically claims bookingID for providerID. Exactly one of any
// number of concurrent callers wins; the rest get ErrConflict.
func (a *Arbiter) Assign(ctx context.Context, bookingID, providerID uint) (*models.Booking, error) {
	var provider models.User
	if err := a.db.WithContext(ctx).First(&provider, providerID).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, ErrProviderNotFound
		}
		return nil, err
	}
	if provider.UserType != string(models.UserTypeProvider) {
		return nil, fmt.Errorf("%w: user %d is not a care provider", ErrProviderIneligible, providerID)
	}
	if !provider.IsVerified {
		return nil, fmt.Errorf("%w: provider %d is not verified", ErrProviderIneligible, providerID)
	}

	// Atomic claim. The predicate carries the whole race decision: if the
	// booking moved on or another provider claimed it first, zero rows match
	// and we never fall back to an unconditional write.
	claim := a.db.WithContext(ctx).Model(&models.Booking{}).
		Where("id = ? AND status IN ? AND provider_id IS NULL",
			bookingID,
			[]models.BookingStatus{models.BookingStatusRequested, models.BookingStatusSearching}).
		Updates(map[string]interface{}{
			"provider_id": providerID,
			"status":      models.BookingStatusAssigned,
			"assigned_at": time.Now(),
		})
	if claim.Error != nil {
		return nil, claim.Error
	}
	if claim.RowsAffected == 0 {
		var exists int64
		if err := a.db.WithContext(ctx).Model(&models.Booking{}).Where("id = ?", bookingID).Count(&exists).Error; err != nil {
			return nil, err
		}
		if exists == 0 {
			return nil, ErrBookingNotFound
		}
		return nil, ErrConflict
	}

	var booking models.Booking
	if err := a.db.WithContext(ctx).First(&booking, bookingID).Error; err != nil {
		return nil, err
	}

	// The grant is the confirming step of the provisional claim. On any
	// failure the claim is undone with a second atomic update; ASSIGNED
	// without data access must not survive this call.
	if err := a.records.GrantAccess(ctx, booking.PatientID, providerID, bookingID, grantResources, "home visit booking"); err != nil {
		a.revertClaim(ctx, &booking, providerID)
		return nil, fmt.Errorf("%w: %v", ErrGrantFailed, err)
	}

	return &booking, nil
}

func (a *Arbiter) revertClaim(ctx context.Context, booking *models.Booking, providerID uint) {
	res := a.db.WithContext(ctx).Model(&models.Booking{}).
		Where("id = ? AND status = ? AND provider_id = ?",
			booking.ID, models.BookingStatusAssigned, providerID).
		Updates(map[string]interface{}{
			"provider_id": nil,
			"status":      models.BookingStatusSearching,
			"assigned_at": nil,
		})
	if res.Error != nil || res.RowsAffected == 0 {
		log.Printf("CRITICAL: failed to revert assignment claim for booking %d provider %d: %v",
			booking.ID, providerID, res.Error)
		return
	}

	// The grant call may have partially applied before failing; revoking is
	// harmless when it did not.
	if err := a.records.RevokeAccess(ctx, booking.PatientID, providerID, booking.ID); err != nil {
		log.Printf("access revoke after failed grant for booking %d: %v", booking.ID, err)
	}
}
