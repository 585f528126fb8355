// Package duties arbitrates doctor applications over hospital duty slots.
// The duty row is the source of truth for open positions; acceptance is a
// compare-and-set on its fill counter, and the application record is derived
// from the outcome.
package duties

import (
	"context"
	"errors"
	"time"

	"github.com/carebridge/carebridge-backend/internal/models"
	"gorm.io/gorm"
)

// AutoRejectNote distinguishes cascade rejections from a human decision.
const AutoRejectNote = "auto-rejected: duty positions filled"

type Actor struct {
	ID   uint
	Type models.UserType
}

type Engine struct {
	db *gorm.DB
}

func NewEngine(db *gorm.DB) *Engine {
	return &Engine{db: db}
}

// Apply files a PENDING application for a doctor. The unique index on
// (duty_id, doctor_id) rejects duplicates.
func (e *Engine) Apply(ctx context.Context, dutyID, doctorID uint, note string) (*models.DutyApplication, error) {
	var duty models.Duty
	if err := e.db.WithContext(ctx).First(&duty, dutyID).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, ErrDutyNotFound
		}
		return nil, err
	}
	if duty.Status != models.DutyStatusOpen {
		return nil, ErrDutyUnavailable
	}

	app := models.DutyApplication{
		DutyID:   dutyID,
		DoctorID: doctorID,
		Status:   models.ApplicationStatusPending,
		Note:     note,
	}
	if err := e.db.WithContext(ctx).Create(&app).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return nil, ErrAlreadyApplied
		}
		return nil, err
	}
	return &app, nil
}

// Accept atomically takes one open position for the applicant. The single
// conditional update carries the whole decision: the duty must still be
// OPEN, have room, and not already count this doctor. Zero matched rows is a
// lost race and never retried automatically.
func (e *Engine) Accept(ctx context.Context, applicationID uint, actor Actor) (*models.DutyApplication, error) {
	var app models.DutyApplication
	if err := e.db.WithContext(ctx).Preload("Duty").First(&app, applicationID).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, ErrApplicationNotFound
		}
		return nil, err
	}
	if app.Duty == nil {
		return nil, ErrDutyNotFound
	}
	if actor.Type != models.UserTypeAdmin && app.Duty.HospitalID != actor.ID {
		return nil, ErrNotAllowed
	}
	if app.Status != models.ApplicationStatusPending {
		return nil, ErrNotPending
	}

	err := e.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Exec(`
			UPDATE duties
			SET positions_filled = positions_filled + 1, updated_at = NOW()
			WHERE id = ? AND status = ? AND positions_filled < positions_needed
			AND NOT EXISTS (
				SELECT 1 FROM duty_assignments
				WHERE duty_id = ? AND doctor_id = ? AND deleted_at IS NULL
			)`,
			app.DutyID, models.DutyStatusOpen, app.DutyID, app.DoctorID)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrDutyUnavailable
		}
		return tx.Create(&models.DutyAssignment{DutyID: app.DutyID, DoctorID: app.DoctorID}).Error
	})
	if err != nil {
		return nil, err
	}

	// Only after the duty update holds does the application itself flip; it
	// is a derived record of the counter's outcome.
	now := time.Now()
	if err := e.db.WithContext(ctx).Model(&models.DutyApplication{}).
		Where("id = ?", applicationID).
		Updates(map[string]interface{}{
			"status":     models.ApplicationStatusAccepted,
			"decided_at": now,
		}).Error; err != nil {
		return nil, err
	}

	if err := e.cascadeIfFilled(ctx, app.DutyID); err != nil {
		return nil, err
	}

	var updated models.DutyApplication
	if err := e.db.WithContext(ctx).Preload("Duty").First(&updated, applicationID).Error; err != nil {
		return nil, err
	}
	return &updated, nil
}

// cascadeIfFilled flips a full duty to FILLED and bulk-rejects its remaining
// PENDING applications with the auto-reject note.
func (e *Engine) cascadeIfFilled(ctx context.Context, dutyID uint) error {
	var duty models.Duty
	if err := e.db.WithContext(ctx).First(&duty, dutyID).Error; err != nil {
		return err
	}
	if duty.PositionsFilled < duty.PositionsNeeded {
		return nil
	}

	// Another accepter may have flipped it already; zero rows is fine here.
	if err := e.db.WithContext(ctx).Model(&models.Duty{}).
		Where("id = ? AND status = ?", dutyID, models.DutyStatusOpen).
		Updates(map[string]interface{}{"status": models.DutyStatusFilled}).Error; err != nil {
		return err
	}

	now := time.Now()
	return e.db.WithContext(ctx).Model(&models.DutyApplication{}).
		Where("duty_id = ? AND status = ?", dutyID, models.ApplicationStatusPending).
		Updates(map[string]interface{}{
			"status":     models.ApplicationStatusRejected,
			"note":       AutoRejectNote,
			"decided_at": now,
		}).Error
}

// Reject is a plain state write; only the duty's hospital races with nobody.
func (e *Engine) Reject(ctx context.Context, applicationID uint, actor Actor, note string) (*models.DutyApplication, error) {
	var app models.DutyApplication
	if err := e.db.WithContext(ctx).Preload("Duty").First(&app, applicationID).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, ErrApplicationNotFound
		}
		return nil, err
	}
	if app.Duty == nil {
		return nil, ErrDutyNotFound
	}
	if actor.Type != models.UserTypeAdmin && app.Duty.HospitalID != actor.ID {
		return nil, ErrNotAllowed
	}

	now := time.Now()
	res := e.db.WithContext(ctx).Model(&models.DutyApplication{}).
		Where("id = ? AND status = ?", applicationID, models.ApplicationStatusPending).
		Updates(map[string]interface{}{
			"status":     models.ApplicationStatusRejected,
			"note":       note,
			"decided_at": now,
		})
	if res.Error != nil {
		return nil, res.Error
	}
	if res.RowsAffected == 0 {
		return nil, ErrNotPending
	}

	app.Status = models.ApplicationStatusRejected
	app.Note = note
	app.DecidedAt = &now
	return &app, nil
}

// Withdraw lets the applying doctor pull a pending application.
func (e *Engine) Withdraw(ctx context.Context, applicationID, doctorID uint) (*models.DutyApplication, error) {
	var app models.DutyApplication
	if err := e.db.WithContext(ctx).First(&app, applicationID).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, ErrApplicationNotFound
		}
		return nil, err
	}
	if app.DoctorID != doctorID {
		return nil, ErrNotAllowed
	}

	now := time.Now()
	res := e.db.WithContext(ctx).Model(&models.DutyApplication{}).
		Where("id = ? AND doctor_id = ? AND status = ?", applicationID, doctorID, models.ApplicationStatusPending).
		Updates(map[string]interface{}{
			"status":     models.ApplicationStatusWithdrawn,
			"decided_at": now,
		})
	if res.Error != nil {
		return nil, res.Error
	}
	if res.RowsAffected == 0 {
		return nil, ErrNotPending
	}

	app.Status = models.ApplicationStatusWithdrawn
	app.DecidedAt = &now
	return &app, nil
}
