package gateway

import (
	"context"
	"fmt"

	razorpay "github.com/razorpay/razorpay-go"
	rputils "github.com/razorpay/razorpay-go/utils"
)

// RazorpayClient implements Client on top of the Razorpay SDK.
type RazorpayClient struct {
	api    *razorpay.Client
	secret string
}

func NewRazorpayClient(keyID, keySecret string) *RazorpayClient {
	return &RazorpayClient{
		api:    razorpay.NewClient(keyID, keySecret),
		secret: keySecret,
	}
}

func (c *RazorpayClient) CreateOrder(ctx context.Context, amount int64, currency, receipt string, notes map[string]string) (*Order, error) {
	data := map[string]interface{}{
		"amount":   amount,
		"currency": currency,
		"receipt":  receipt,
	}
	if len(notes) > 0 {
		n := map[string]interface{}{}
		for k, v := range notes {
			n[k] = v
		}
		data["notes"] = n
	}

	body, err := c.api.Order.Create(data, nil)
	if err != nil {
		return nil, fmt.Errorf("razorpay order create: %w", err)
	}
	return orderFromBody(body), nil
}

func (c *RazorpayClient) FetchOrder(ctx context.Context, orderID string) (*Order, error) {
	body, err := c.api.Order.Fetch(orderID, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("razorpay order fetch: %w", err)
	}
	return orderFromBody(body), nil
}

func (c *RazorpayClient) FetchPayment(ctx context.Context, paymentID string) (*Payment, error) {
	body, err := c.api.Payment.Fetch(paymentID, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("razorpay payment fetch: %w", err)
	}
	return &Payment{
		ID:       asString(body, "id"),
		Amount:   asInt64(body, "amount"),
		Currency: asString(body, "currency"),
		Status:   asString(body, "status"),
	}, nil
}

func (c *RazorpayClient) CreateRefund(ctx context.Context, paymentID string, amount int64, notes map[string]string) (*Refund, error) {
	data := map[string]interface{}{}
	if len(notes) > 0 {
		n := map[string]interface{}{}
		for k, v := range notes {
			n[k] = v
		}
		data["notes"] = n
	}

	body, err := c.api.Payment.Refund(paymentID, int(amount), data, nil)
	if err != nil {
		return nil, fmt.Errorf("razorpay refund: %w", err)
	}
	return &Refund{
		ID:     asString(body, "id"),
		Amount: asInt64(body, "amount"),
		Status: asString(body, "status"),
	}, nil
}

func (c *RazorpayClient) VerifySignature(orderID, paymentID, signature string) bool {
	return rputils.VerifyPaymentSignature(map[string]interface{}{
		"razorpay_order_id":   orderID,
		"razorpay_payment_id": paymentID,
	}, signature, c.secret)
}

func orderFromBody(body map[string]interface{}) *Order {
	return &Order{
		ID:       asString(body, "id"),
		Amount:   asInt64(body, "amount"),
		Currency: asString(body, "currency"),
		Status:   asString(body, "status"),
		Receipt:  asString(body, "receipt"),
	}
}

func asString(m map[string]interface{}, key string) string {
	if v, ok := m[key].(string); ok {
		return v
	}
	return ""
}

// The SDK decodes JSON numbers as float64; gateway amounts fit in int64.
func asInt64(m map[string]interface{}, key string) int64 {
	switch v := m[key].(type) {
	case float64:
		return int64(v)
	case int64:
		return v
	case int:
		return int64(v)
	}
	return 0
}
