package payments

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/carebridge/carebridge-backend/internal/gateway"
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

	if err := db.AutoMigrate(&models.User{}, &models.Booking{}); err != nil {
		t.Fatalf("failed to migrate: %v", err)
	}
	if err := db.Exec("TRUNCATE bookings, users RESTART IDENTITY CASCADE").Error; err != nil {
		t.Fatalf("failed to reset tables: %v", err)
	}
	return db
}

// fakeGateway records calls and lets tests steer gateway behaviour. The zero
// value behaves like a healthy gateway where signature "valid" verifies.
type fakeGateway struct {
	mu           sync.Mutex
	orderCreates int
	refundCalls  int

	failRefund      bool
	liveOrderStatus string
	liveOrderAmount int64
	payment         *gateway.Payment

	lastOrder *gateway.Order
	onRefund  func()
}

func (g *fakeGateway) CreateOrder(ctx context.Context, amount int64, currency, receipt string, notes map[string]string) (*gateway.Order, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.orderCreates++
	order := &gateway.Order{
		ID:       fmt.Sprintf("order_fake_%d", g.orderCreates),
		Amount:   amount,
		Currency: currency,
		Status:   gateway.OrderStatusCreated,
		Receipt:  receipt,
	}
	g.lastOrder = order
	return order, nil
}

func (g *fakeGateway) FetchOrder(ctx context.Context, orderID string) (*gateway.Order, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.lastOrder == nil || g.lastOrder.ID != orderID {
		return nil, fmt.Errorf("order %s not found", orderID)
	}
	live := *g.lastOrder
	if g.liveOrderStatus != "" {
		live.Status = g.liveOrderStatus
	}
	if g.liveOrderAmount != 0 {
		live.Amount = g.liveOrderAmount
	}
	return &live, nil
}

func (g *fakeGateway) FetchPayment(ctx context.Context, paymentID string) (*gateway.Payment, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.payment == nil {
		return nil, fmt.Errorf("payment %s not found", paymentID)
	}
	p := *g.payment
	p.ID = paymentID
	return &p, nil
}

func (g *fakeGateway) CreateRefund(ctx context.Context, paymentID string, amount int64, notes map[string]string) (*gateway.Refund, error) {
	g.mu.Lock()
	g.refundCalls++
	fail := g.failRefund
	hook := g.onRefund
	n := g.refundCalls
	g.mu.Unlock()

	if hook != nil {
		hook()
	}
	if fail {
		return nil, errors.New("gateway unavailable")
	}
	return &gateway.Refund{ID: fmt.Sprintf("rfnd_fake_%d", n), Amount: amount, Status: "processed"}, nil
}

func (g *fakeGateway) VerifySignature(orderID, paymentID, signature string) bool {
	return signature == "valid"
}

func (g *fakeGateway) counts() (orders, refunds int) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.orderCreates, g.refundCalls
}

func seedBooking(t *testing.T, db *gorm.DB, status models.BookingStatus) *models.Booking {
	t.Helper()
	patient := models.User{
		Username:     "patient-" + time.Now().Format("150405.000000"),
		Email:        "patient" + time.Now().Format("150405.000000") + "@example.com",
		PasswordHash: "x",
		UserType:     string(models.UserTypePatient),
		IsVerified:   true,
	}
	if err := db.Create(&patient).Error; err != nil {
		t.Fatalf("failed to create patient: %v", err)
	}

	booking := models.Booking{
		PatientID:   patient.ID,
		ServiceType: "physiotherapy",
		ScheduledAt: time.Now().Add(24 * time.Hour),
		Hours:       1,
		Address:     "4 Recovery Lane",
		Status:      status,
		Pricing: models.PricingSnapshot{
			BasePrice:  80000,
			ServiceFee: 8000,
			Tax:        15840,
			Total:      103840,
			Currency:   "INR",
		},
	}
	if err := db.Create(&booking).Error; err != nil {
		t.Fatalf("failed to create booking: %v", err)
	}
	return &booking
}

func markPaid(t *testing.T, db *gorm.DB, bookingID uint, amount int64) {
	t.Helper()
	now := time.Now()
	if err := db.Model(&models.Booking{}).Where("id = ?", bookingID).
		Updates(map[string]interface{}{
			"payment_order_id": "order_fake_1",
			"payment_ref":      "pay_fake_1",
			"payment_status":   models.PaymentStatusPaid,
			"payment_amount":   amount,
			"paid_at":          now,
		}).Error; err != nil {
		t.Fatalf("failed to mark booking paid: %v", err)
	}
}

func paymentState(t *testing.T, db *gorm.DB, bookingID uint) models.Booking {
	t.Helper()
	var b models.Booking
	if err := db.First(&b, bookingID).Error; err != nil {
		t.Fatalf("reload failed: %v", err)
	}
	return b
}

func TestCreateOrderIdempotent(t *testing.T) {
	db := testDB(t)
	gw := &fakeGateway{}
	coord := NewCoordinator(db, gw, nil)
	ctx := context.Background()

	booking := seedBooking(t, db, models.BookingStatusRequested)

	first, err := coord.CreateOrder(ctx, booking.ID, booking.PatientID)
	if err != nil {
		t.Fatalf("first CreateOrder failed: %v", err)
	}
	if first.Reused {
		t.Error("first order should not be marked reused")
	}
	if first.Amount != booking.Pricing.Total {
		t.Errorf("order amount = %d, want %d", first.Amount, booking.Pricing.Total)
	}

	second, err := coord.CreateOrder(ctx, booking.ID, booking.PatientID)
	if err != nil {
		t.Fatalf("second CreateOrder failed: %v", err)
	}
	if !second.Reused {
		t.Error("second order should reuse the existing one")
	}
	if second.OrderID != first.OrderID {
		t.Errorf("order ids differ: %s vs %s", first.OrderID, second.OrderID)
	}
	if orders, _ := gw.counts(); orders != 1 {
		t.Errorf("gateway order creates = %d, want 1", orders)
	}
}

func TestCreateOrderConcurrentCreatesOne(t *testing.T) {
	db := testDB(t)
	gw := &fakeGateway{}
	coord := NewCoordinator(db, gw, nil)
	ctx := context.Background()

	booking := seedBooking(t, db, models.BookingStatusRequested)

	const callers = 6
	var wg sync.WaitGroup
	errs := make(chan error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := coord.CreateOrder(ctx, booking.ID, booking.PatientID)
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)

	var wins int
	for err := range errs {
		switch {
		case err == nil:
			wins++
		case errors.Is(err, ErrOrderConflict):
			// Lost the claim race.
		default:
			t.Errorf("unexpected error: %v", err)
		}
	}
	if wins < 1 {
		t.Fatal("expected at least one caller to obtain the order")
	}
	if orders, _ := gw.counts(); orders != 1 {
		t.Fatalf("gateway order creates = %d, want exactly 1", orders)
	}
}

func TestCreateOrderOwnershipAndPaidChecks(t *testing.T) {
	db := testDB(t)
	gw := &fakeGateway{}
	coord := NewCoordinator(db, gw, nil)
	ctx := context.Background()

	booking := seedBooking(t, db, models.BookingStatusRequested)

	if _, err := coord.CreateOrder(ctx, booking.ID, booking.PatientID+1); !errors.Is(err, ErrNotBookingPatient) {
		t.Errorf("foreign caller: expected ErrNotBookingPatient, got %v", err)
	}
	if _, err := coord.CreateOrder(ctx, 424242, booking.PatientID); !errors.Is(err, ErrBookingNotFound) {
		t.Errorf("missing booking: expected ErrBookingNotFound, got %v", err)
	}

	markPaid(t, db, booking.ID, booking.Pricing.Total)
	if _, err := coord.CreateOrder(ctx, booking.ID, booking.PatientID); !errors.Is(err, ErrAlreadyPaid) {
		t.Errorf("paid booking: expected ErrAlreadyPaid, got %v", err)
	}
}

func TestCreateOrderDisagreement(t *testing.T) {
	db := testDB(t)
	gw := &fakeGateway{}
	coord := NewCoordinator(db, gw, nil)
	ctx := context.Background()

	booking := seedBooking(t, db, models.BookingStatusRequested)
	if _, err := coord.CreateOrder(ctx, booking.ID, booking.PatientID); err != nil {
		t.Fatalf("CreateOrder failed: %v", err)
	}

	// Gateway says the order is already paid while the local record says
	// PENDING; reuse must refuse instead of handing the order back.
	gw.mu.Lock()
	gw.liveOrderStatus = gateway.OrderStatusPaid
	gw.mu.Unlock()
	if _, err := coord.CreateOrder(ctx, booking.ID, booking.PatientID); !errors.Is(err, ErrOrderDisagreement) {
		t.Errorf("paid live order: expected ErrOrderDisagreement, got %v", err)
	}

	// A live amount that drifted from the snapshot is equally fatal.
	gw.mu.Lock()
	gw.liveOrderStatus = ""
	gw.liveOrderAmount = booking.Pricing.Total + 1
	gw.mu.Unlock()
	if _, err := coord.CreateOrder(ctx, booking.ID, booking.PatientID); !errors.Is(err, ErrOrderDisagreement) {
		t.Errorf("drifted amount: expected ErrOrderDisagreement, got %v", err)
	}
}

func TestVerifyPayment(t *testing.T) {
	db := testDB(t)
	gw := &fakeGateway{}
	coord := NewCoordinator(db, gw, nil)
	ctx := context.Background()

	booking := seedBooking(t, db, models.BookingStatusRequested)
	order, err := coord.CreateOrder(ctx, booking.ID, booking.PatientID)
	if err != nil {
		t.Fatalf("CreateOrder failed: %v", err)
	}

	gw.mu.Lock()
	gw.payment = &gateway.Payment{Amount: booking.Pricing.Total, Currency: "INR", Status: "captured"}
	gw.mu.Unlock()

	updated, err := coord.VerifyPayment(ctx, booking.ID, order.OrderID, "pay_abc", "valid")
	if err != nil {
		t.Fatalf("VerifyPayment failed: %v", err)
	}
	if updated.Payment.Status != models.PaymentStatusPaid {
		t.Errorf("payment status = %s, want PAID", updated.Payment.Status)
	}
	if updated.Payment.PaymentRef != "pay_abc" {
		t.Errorf("payment ref = %q, want pay_abc", updated.Payment.PaymentRef)
	}
	if updated.Payment.PaidAt == nil {
		t.Error("expected paid_at to be set")
	}
	if updated.Status != models.BookingStatusSearching {
		t.Errorf("booking status = %s, want SEARCHING after payment", updated.Status)
	}
}

func TestVerifyPaymentRejectsBadSignature(t *testing.T) {
	db := testDB(t)
	gw := &fakeGateway{}
	coord := NewCoordinator(db, gw, nil)
	ctx := context.Background()

	booking := seedBooking(t, db, models.BookingStatusRequested)
	order, err := coord.CreateOrder(ctx, booking.ID, booking.PatientID)
	if err != nil {
		t.Fatalf("CreateOrder failed: %v", err)
	}

	_, err = coord.VerifyPayment(ctx, booking.ID, order.OrderID, "pay_abc", "forged")
	if !errors.Is(err, ErrSignatureInvalid) {
		t.Fatalf("expected ErrSignatureInvalid, got %v", err)
	}
	if b := paymentState(t, db, booking.ID); b.Payment.Status != models.PaymentStatusFailed {
		t.Errorf("payment status = %s, want FAILED", b.Payment.Status)
	}
}

func TestVerifyPaymentRejectsAmountTamper(t *testing.T) {
	db := testDB(t)
	gw := &fakeGateway{}
	coord := NewCoordinator(db, gw, nil)
	ctx := context.Background()

	booking := seedBooking(t, db, models.BookingStatusRequested)
	order, err := coord.CreateOrder(ctx, booking.ID, booking.PatientID)
	if err != nil {
		t.Fatalf("CreateOrder failed: %v", err)
	}

	// Signature checks out but the gateway's own record shows a smaller
	// amount than the snapshot.
	gw.mu.Lock()
	gw.payment = &gateway.Payment{Amount: 100, Currency: "INR", Status: "captured"}
	gw.mu.Unlock()

	_, err = coord.VerifyPayment(ctx, booking.ID, order.OrderID, "pay_abc", "valid")
	if !errors.Is(err, ErrAmountMismatch) {
		t.Fatalf("expected ErrAmountMismatch, got %v", err)
	}
	b := paymentState(t, db, booking.ID)
	if b.Payment.Status != models.PaymentStatusFailed {
		t.Errorf("payment status = %s, want FAILED", b.Payment.Status)
	}
	if b.Status != models.BookingStatusRequested {
		t.Errorf("booking status = %s, want REQUESTED untouched", b.Status)
	}
}

func TestVerifyPaymentWrongOrder(t *testing.T) {
	db := testDB(t)
	coord := NewCoordinator(db, &fakeGateway{}, nil)
	ctx := context.Background()

	booking := seedBooking(t, db, models.BookingStatusRequested)
	if _, err := coord.VerifyPayment(ctx, booking.ID, "order_stranger", "pay_abc", "valid"); !errors.Is(err, ErrOrderMismatch) {
		t.Fatalf("expected ErrOrderMismatch, got %v", err)
	}
}

func TestRefundLifecycle(t *testing.T) {
	db := testDB(t)
	gw := &fakeGateway{}
	coord := NewCoordinator(db, gw, nil)
	ctx := context.Background()

	booking := seedBooking(t, db, models.BookingStatusCompleted)
	markPaid(t, db, booking.ID, booking.Pricing.Total)

	result, err := coord.Refund(ctx, booking.ID, 0)
	if err != nil {
		t.Fatalf("Refund failed: %v", err)
	}
	if result.Amount != booking.Pricing.Total {
		t.Errorf("refund amount = %d, want full %d", result.Amount, booking.Pricing.Total)
	}
	if result.NeedsReconciliation {
		t.Error("healthy refund should not need reconciliation")
	}

	b := paymentState(t, db, booking.ID)
	if b.Payment.Status != models.PaymentStatusRefunded {
		t.Errorf("payment status = %s, want REFUNDED", b.Payment.Status)
	}
	if b.Payment.RefundID != result.RefundID {
		t.Errorf("refund id = %q, want %q", b.Payment.RefundID, result.RefundID)
	}
	if b.Payment.RefundedAt == nil {
		t.Error("expected refunded_at to be set")
	}

	if _, err := coord.Refund(ctx, booking.ID, 0); !errors.Is(err, ErrAlreadyRefunded) {
		t.Errorf("second refund: expected ErrAlreadyRefunded, got %v", err)
	}
}

func TestRefundConcurrentSingleExecution(t *testing.T) {
	db := testDB(t)
	gw := &fakeGateway{}
	coord := NewCoordinator(db, gw, nil)
	ctx := context.Background()

	booking := seedBooking(t, db, models.BookingStatusCompleted)
	markPaid(t, db, booking.ID, booking.Pricing.Total)

	const callers = 5
	var wg sync.WaitGroup
	errs := make(chan error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := coord.Refund(ctx, booking.ID, 0)
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)

	var wins int
	for err := range errs {
		switch {
		case err == nil:
			wins++
		case errors.Is(err, ErrRefundInProgress), errors.Is(err, ErrAlreadyRefunded):
			// Lost the lock race.
		default:
			t.Errorf("unexpected error: %v", err)
		}
	}
	if wins != 1 {
		t.Fatalf("winners = %d, want exactly 1", wins)
	}
	if _, refunds := gw.counts(); refunds != 1 {
		t.Fatalf("gateway refund calls = %d, want exactly 1", refunds)
	}
}

func TestRefundGatewayFailureReleasesLock(t *testing.T) {
	db := testDB(t)
	gw := &fakeGateway{failRefund: true}
	coord := NewCoordinator(db, gw, nil)
	ctx := context.Background()

	booking := seedBooking(t, db, models.BookingStatusCompleted)
	markPaid(t, db, booking.ID, booking.Pricing.Total)

	if _, err := coord.Refund(ctx, booking.ID, 0); !errors.Is(err, ErrGateway) {
		t.Fatalf("expected ErrGateway, got %v", err)
	}
	if b := paymentState(t, db, booking.ID); b.Payment.Status != models.PaymentStatusPaid {
		t.Errorf("payment status = %s, want PAID restored", b.Payment.Status)
	}

	// The whole call is retryable once the gateway recovers.
	gw.mu.Lock()
	gw.failRefund = false
	gw.mu.Unlock()
	if _, err := coord.Refund(ctx, booking.ID, 0); err != nil {
		t.Fatalf("retry after gateway failure failed: %v", err)
	}
}

func TestRefundValidation(t *testing.T) {
	db := testDB(t)
	coord := NewCoordinator(db, &fakeGateway{}, nil)
	ctx := context.Background()

	booking := seedBooking(t, db, models.BookingStatusCompleted)

	if _, err := coord.Refund(ctx, booking.ID, 0); !errors.Is(err, ErrNotPaid) {
		t.Errorf("unpaid booking: expected ErrNotPaid, got %v", err)
	}

	markPaid(t, db, booking.ID, booking.Pricing.Total)
	if _, err := coord.Refund(ctx, booking.ID, booking.Pricing.Total+1); !errors.Is(err, ErrInvalidAmount) {
		t.Errorf("oversized amount: expected ErrInvalidAmount, got %v", err)
	}
	if _, err := coord.Refund(ctx, booking.ID, -5); !errors.Is(err, ErrInvalidAmount) {
		t.Errorf("negative amount: expected ErrInvalidAmount, got %v", err)
	}
}

func TestRefundDegradesToReconciliation(t *testing.T) {
	db := testDB(t)

	booking := seedBooking(t, db, models.BookingStatusCompleted)
	markPaid(t, db, booking.ID, booking.Pricing.Total)

	// While the gateway refund is in flight another writer steals the lock,
	// so finalization can never land. The refund must still report success
	// and raise the reconciliation alert.
	gw := &fakeGateway{}
	gw.onRefund = func() {
		db.Model(&models.Booking{}).Where("id = ?", booking.ID).
			Updates(map[string]interface{}{"payment_status": models.PaymentStatusPaid})
	}

	var alerts int
	var alertMu sync.Mutex
	coord := NewCoordinator(db, gw, func(ctx context.Context, bookingID uint, refundID string, cause error) {
		alertMu.Lock()
		alerts++
		alertMu.Unlock()
	})

	result, err := coord.Refund(context.Background(), booking.ID, 0)
	if err != nil {
		t.Fatalf("degraded refund must not error, got %v", err)
	}
	if !result.NeedsReconciliation {
		t.Error("expected NeedsReconciliation to be set")
	}
	alertMu.Lock()
	got := alerts
	alertMu.Unlock()
	if got != 1 {
		t.Errorf("alerts = %d, want 1", got)
	}
}
