package bookings

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/carebridge/carebridge-backend/internal/models"
	"gorm.io/gorm"
)

// RecordsService is the slice of the health-record service the booking core
// needs: grants for assignment, revocation for rollback and cancellation,
// vitals capture for completion.
type RecordsService interface {
	GrantAccess(ctx context.Context, patientID, providerID, bookingID uint, resources []string, reason string) error
	RevokeAccess(ctx context.Context, patientID, providerID, bookingID uint) error
	CaptureVitals(ctx context.Context, patientID, bookingID uint, report string, providerID uint) error
}

// Actor identifies who is driving a transition.
type Actor struct {
	ID   uint
	Type models.UserType
}

// StateMachine owns booking status transitions. Every status write is a
// conditional update keyed on the status the caller observed; zero matched
// rows means a lost race and surfaces as ErrConflict, never as a silent
// overwrite.
type StateMachine struct {
	db      *gorm.DB
	records RecordsService
}

func NewStateMachine(db *gorm.DB, records RecordsService) *StateMachine {
	return &StateMachine{db: db, records: records}
}

// Transition moves a booking to target on behalf of actor. For COMPLETED the
// note is the service report; for CANCELLED it is the cancellation reason.
func (m *StateMachine) Transition(ctx context.Context, bookingID uint, target models.BookingStatus, actor Actor, note string) (*models.Booking, error) {
	var booking models.Booking
	if err := m.db.WithContext(ctx).First(&booking, bookingID).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, ErrBookingNotFound
		}
		return nil, err
	}

	from := booking.Status
	if !ValidTransition(from, target) {
		return nil, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, target)
	}
	if err := m.authorize(&booking, target, actor); err != nil {
		return nil, err
	}

	now := time.Now()
	updates := map[string]interface{}{"status": target}

	switch target {
	case models.BookingStatusConfirmed:
		updates["confirmed_at"] = now
	case models.BookingStatusInProgress:
		updates["started_at"] = now
	case models.BookingStatusCompleted:
		updates["completed_at"] = now
		updates["service_report"] = note
		// Duration is derived from the stored start time only; without one
		// it stays null rather than being computed against a zero value.
		if booking.StartedAt != nil {
			updates["duration_minutes"] = int(now.Sub(*booking.StartedAt).Minutes())
		}
	case models.BookingStatusCancelled:
		updates["cancelled_by"] = actor.ID
		updates["cancel_reason"] = note
		updates["cancelled_at"] = now
	}

	// Vitals go to the health-record service before the booking flips to
	// COMPLETED, so a capture failure shows up against a booking that is
	// still IN_PROGRESS instead of being lost after a successful completion.
	// The report stays attached to the booking either way, so the failure is
	// logged but does not block completion.
	if target == models.BookingStatusCompleted && booking.ProviderID != nil {
		if err := m.records.CaptureVitals(ctx, booking.PatientID, booking.ID, note, *booking.ProviderID); err != nil {
			log.Printf("vitals capture failed for booking %d: %v", booking.ID, err)
		}
	}

	res := m.db.WithContext(ctx).Model(&models.Booking{}).
		Where("id = ? AND status = ?", bookingID, from).
		Updates(updates)
	if res.Error != nil {
		return nil, res.Error
	}
	if res.RowsAffected == 0 {
		return nil, ErrConflict
	}

	// A cancelled booking with an assigned provider no longer justifies the
	// data-access grant; revocation is best effort.
	if target == models.BookingStatusCancelled && booking.ProviderID != nil {
		if err := m.records.RevokeAccess(ctx, booking.PatientID, *booking.ProviderID, booking.ID); err != nil {
			log.Printf("access revoke failed for cancelled booking %d: %v", booking.ID, err)
		}
	}

	var updated models.Booking
	if err := m.db.WithContext(ctx).First(&updated, bookingID).Error; err != nil {
		return nil, err
	}
	return &updated, nil
}

func (m *StateMachine) authorize(booking *models.Booking, target models.BookingStatus, actor Actor) error {
	if actor.Type == models.UserTypeAdmin {
		return nil
	}

	if target == models.BookingStatusCancelled {
		if actor.ID == booking.PatientID && actor.Type == models.UserTypePatient {
			return nil
		}
		if booking.ProviderID != nil && actor.ID == *booking.ProviderID && actor.Type == models.UserTypeProvider {
			return nil
		}
		return ErrNotAllowed
	}

	switch booking.Status {
	case models.BookingStatusRequested:
		// REQUESTED -> SEARCHING is the patient's own booking entering the
		// matching pool (normally via payment verification).
		if actor.ID == booking.PatientID && actor.Type == models.UserTypePatient {
			return nil
		}
		return ErrNotAllowed
	case models.BookingStatusSearching:
		// SEARCHING -> ASSIGNED without a provider claim is admin-only; the
		// assignment arbiter is the regular path.
		return ErrNotAllowed
	default:
		// Past ASSIGNED only the assigned provider may advance.
		if booking.ProviderID != nil && actor.ID == *booking.ProviderID && actor.Type == models.UserTypeProvider {
			return nil
		}
		return ErrNotAllowed
	}
}
