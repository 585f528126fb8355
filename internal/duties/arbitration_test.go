package duties

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/carebridge/carebridge-backend/internal/models"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func testDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := os.Getenv("TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("TEST_DATABASE_URL not set, skipping database test")
	}

	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		TranslateError: true,
		Logger:         logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("failed to connect to test database: %v", err)
	}

	if err := db.AutoMigrate(&models.User{}, &models.Duty{}, &models.DutyApplication{}, &models.DutyAssignment{}); err != nil {
		t.Fatalf("failed to migrate: %v", err)
	}
	if err := db.Exec("TRUNCATE duty_assignments, duty_applications, duties, users RESTART IDENTITY CASCADE").Error; err != nil {
		t.Fatalf("failed to reset tables: %v", err)
	}
	return db
}

func createHospital(t *testing.T, db *gorm.DB) *models.User {
	t.Helper()
	return createUserOfType(t, db, models.UserTypeHospital)
}

func createDoctor(t *testing.T, db *gorm.DB) *models.User {
	t.Helper()
	return createUserOfType(t, db, models.UserTypeDoctor)
}

func createUserOfType(t *testing.T, db *gorm.DB, userType models.UserType) *models.User {
	t.Helper()
	suffix := fmt.Sprintf("%s-%d", time.Now().Format("150405.000000"), time.Now().UnixNano())
	user := models.User{
		Username:     string(userType) + "-" + suffix,
		Email:        string(userType) + suffix + "@example.com",
		PasswordHash: "x",
		UserType:     string(userType),
		IsVerified:   true,
	}
	if err := db.Create(&user).Error; err != nil {
		t.Fatalf("failed to create %s: %v", userType, err)
	}
	return &user
}

func createDuty(t *testing.T, db *gorm.DB, hospitalID uint, positions int) *models.Duty {
	t.Helper()
	duty := models.Duty{
		HospitalID:      hospitalID,
		Title:           "Night shift, general medicine",
		Department:      "general",
		StartTime:       time.Now().Add(48 * time.Hour),
		EndTime:         time.Now().Add(60 * time.Hour),
		RatePerHr:       150000,
		Currency:        "INR",
		PositionsNeeded: positions,
		Status:          models.DutyStatusOpen,
	}
	if err := db.Create(&duty).Error; err != nil {
		t.Fatalf("failed to create duty: %v", err)
	}
	return &duty
}

func TestApplyDuplicate(t *testing.T) {
	db := testDB(t)
	engine := NewEngine(db)
	ctx := context.Background()

	hospital := createHospital(t, db)
	doctor := createDoctor(t, db)
	duty := createDuty(t, db, hospital.ID, 1)

	if _, err := engine.Apply(ctx, duty.ID, doctor.ID, "available all night"); err != nil {
		t.Fatalf("first apply failed: %v", err)
	}
	if _, err := engine.Apply(ctx, duty.ID, doctor.ID, "again"); !errors.Is(err, ErrAlreadyApplied) {
		t.Fatalf("duplicate apply: expected ErrAlreadyApplied, got %v", err)
	}
}

func TestApplyClosedDuty(t *testing.T) {
	db := testDB(t)
	engine := NewEngine(db)
	ctx := context.Background()

	hospital := createHospital(t, db)
	doctor := createDoctor(t, db)
	duty := createDuty(t, db, hospital.ID, 1)
	if err := db.Model(&models.Duty{}).Where("id = ?", duty.ID).
		Update("status", models.DutyStatusFilled).Error; err != nil {
		t.Fatalf("failed to close duty: %v", err)
	}

	if _, err := engine.Apply(ctx, duty.ID, doctor.ID, ""); !errors.Is(err, ErrDutyUnavailable) {
		t.Fatalf("expected ErrDutyUnavailable, got %v", err)
	}
	if _, err := engine.Apply(ctx, 424242, doctor.ID, ""); !errors.Is(err, ErrDutyNotFound) {
		t.Fatalf("expected ErrDutyNotFound, got %v", err)
	}
}

// Five pending applications race over two positions: exactly two may be
// accepted, the duty flips to FILLED, and every straggler ends up rejected
// with the cascade note. positions_filled must never exceed positions_needed.
func TestAcceptNeverOverfills(t *testing.T) {
	db := testDB(t)
	engine := NewEngine(db)
	ctx := context.Background()

	hospital := createHospital(t, db)
	duty := createDuty(t, db, hospital.ID, 2)

	const applicants = 5
	appIDs := make([]uint, 0, applicants)
	for i := 0; i < applicants; i++ {
		doctor := createDoctor(t, db)
		app, err := engine.Apply(ctx, duty.ID, doctor.ID, "")
		if err != nil {
			t.Fatalf("apply %d failed: %v", i, err)
		}
		appIDs = append(appIDs, app.ID)
	}

	actor := Actor{ID: hospital.ID, Type: models.UserTypeHospital}
	var wg sync.WaitGroup
	errs := make(chan error, applicants)
	for _, id := range appIDs {
		wg.Add(1)
		go func(applicationID uint) {
			defer wg.Done()
			_, err := engine.Accept(ctx, applicationID, actor)
			errs <- err
		}(id)
	}
	wg.Wait()
	close(errs)

	var wins int
	for err := range errs {
		switch {
		case err == nil:
			wins++
		case errors.Is(err, ErrDutyUnavailable), errors.Is(err, ErrNotPending):
			// Lost the counter race, or got swept by the cascade first.
		default:
			t.Errorf("unexpected error: %v", err)
		}
	}
	if wins != 2 {
		t.Fatalf("accepted = %d, want exactly 2", wins)
	}

	var finalDuty models.Duty
	if err := db.First(&finalDuty, duty.ID).Error; err != nil {
		t.Fatalf("reload duty failed: %v", err)
	}
	if finalDuty.PositionsFilled != 2 {
		t.Errorf("positions_filled = %d, want 2", finalDuty.PositionsFilled)
	}
	if finalDuty.Status != models.DutyStatusFilled {
		t.Errorf("duty status = %s, want FILLED", finalDuty.Status)
	}

	var accepted, rejected int64
	db.Model(&models.DutyApplication{}).Where("duty_id = ? AND status = ?", duty.ID, models.ApplicationStatusAccepted).Count(&accepted)
	db.Model(&models.DutyApplication{}).Where("duty_id = ? AND status = ? AND note = ?", duty.ID, models.ApplicationStatusRejected, AutoRejectNote).Count(&rejected)
	if accepted != 2 {
		t.Errorf("accepted applications = %d, want 2", accepted)
	}
	if rejected != int64(applicants-2) {
		t.Errorf("auto-rejected applications = %d, want %d", rejected, applicants-2)
	}

	var assignments int64
	db.Model(&models.DutyAssignment{}).Where("duty_id = ?", duty.ID).Count(&assignments)
	if assignments != 2 {
		t.Errorf("assignment rows = %d, want 2", assignments)
	}
}

func TestAcceptAuthorization(t *testing.T) {
	db := testDB(t)
	engine := NewEngine(db)
	ctx := context.Background()

	hospital := createHospital(t, db)
	otherHospital := createHospital(t, db)
	doctor := createDoctor(t, db)
	duty := createDuty(t, db, hospital.ID, 1)

	app, err := engine.Apply(ctx, duty.ID, doctor.ID, "")
	if err != nil {
		t.Fatalf("apply failed: %v", err)
	}

	if _, err := engine.Accept(ctx, app.ID, Actor{ID: otherHospital.ID, Type: models.UserTypeHospital}); !errors.Is(err, ErrNotAllowed) {
		t.Errorf("foreign hospital: expected ErrNotAllowed, got %v", err)
	}

	// Admins may accept on any hospital's behalf.
	if _, err := engine.Accept(ctx, app.ID, Actor{ID: 1, Type: models.UserTypeAdmin}); err != nil {
		t.Fatalf("admin accept failed: %v", err)
	}
}

func TestRejectAndWithdraw(t *testing.T) {
	db := testDB(t)
	engine := NewEngine(db)
	ctx := context.Background()

	hospital := createHospital(t, db)
	doctorA := createDoctor(t, db)
	doctorB := createDoctor(t, db)
	duty := createDuty(t, db, hospital.ID, 2)

	appA, err := engine.Apply(ctx, duty.ID, doctorA.ID, "")
	if err != nil {
		t.Fatalf("apply failed: %v", err)
	}
	appB, err := engine.Apply(ctx, duty.ID, doctorB.ID, "")
	if err != nil {
		t.Fatalf("apply failed: %v", err)
	}

	actor := Actor{ID: hospital.ID, Type: models.UserTypeHospital}
	rejected, err := engine.Reject(ctx, appA.ID, actor, "schedule overlap")
	if err != nil {
		t.Fatalf("reject failed: %v", err)
	}
	if rejected.Status != models.ApplicationStatusRejected || rejected.Note != "schedule overlap" {
		t.Errorf("rejected = %s/%q", rejected.Status, rejected.Note)
	}
	if _, err := engine.Reject(ctx, appA.ID, actor, "again"); !errors.Is(err, ErrNotPending) {
		t.Errorf("double reject: expected ErrNotPending, got %v", err)
	}

	if _, err := engine.Withdraw(ctx, appB.ID, doctorA.ID); !errors.Is(err, ErrNotAllowed) {
		t.Errorf("foreign withdraw: expected ErrNotAllowed, got %v", err)
	}
	withdrawn, err := engine.Withdraw(ctx, appB.ID, doctorB.ID)
	if err != nil {
		t.Fatalf("withdraw failed: %v", err)
	}
	if withdrawn.Status != models.ApplicationStatusWithdrawn {
		t.Errorf("status = %s, want WITHDRAWN", withdrawn.Status)
	}
	if _, err := engine.Withdraw(ctx, appB.ID, doctorB.ID); !errors.Is(err, ErrNotPending) {
		t.Errorf("double withdraw: expected ErrNotPending, got %v", err)
	}
}
