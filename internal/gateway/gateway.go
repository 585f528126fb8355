// Package gateway defines the payment gateway contract consumed by the
// payment and refund coordinators. All amounts are in minor currency units.
package gateway

import "context"

// Order statuses reported by the gateway.
const (
	OrderStatusCreated   = "created"
	OrderStatusAttempted = "attempted"
	OrderStatusPaid      = "paid"
)

type Order struct {
	ID       string
	Amount   int64
	Currency string
	Status   string
	Receipt  string
}

type Payment struct {
	ID       string
	Amount   int64
	Currency string
	Status   string
}

type Refund struct {
	ID     string
	Amount int64
	Status string
}

// Client is the synchronous, fallible gateway surface. Implementations must
// not retain references to the notes map.
type Client interface {
	CreateOrder(ctx context.Context, amount int64, currency, receipt string, notes map[string]string) (*Order, error)
	FetchOrder(ctx context.Context, orderID string) (*Order, error)
	FetchPayment(ctx context.Context, paymentID string) (*Payment, error)
	CreateRefund(ctx context.Context, paymentID string, amount int64, notes map[string]string) (*Refund, error)

	// VerifySignature reports whether signature is a valid gateway signature
	// over orderID and paymentID. It proves the payment belongs to the order,
	// nothing more; callers must still re-verify the amount.
	VerifySignature(orderID, paymentID, signature string) bool
}
