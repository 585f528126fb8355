// Package records is the client for the external health-record service. It
// owns access grants (which providers may read a patient's records) and the
// vitals archive fed at visit completion.
package records

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

type Client struct {
	baseURL string
	apiKey  string
	http    *http.Client
}

func NewClient(baseURL, apiKey string) *Client {
	return &Client{
		baseURL: baseURL,
		apiKey:  apiKey,
		http:    &http.Client{Timeout: 10 * time.Second},
	}
}

// GrantAccess gives a provider read/write access to the patient's health
// data for the duration of a booking.
func (c *Client) GrantAccess(ctx context.Context, patientID, providerID, bookingID uint, resources []string, reason string) error {
	payload := map[string]interface{}{
		"patientId":  patientID,
		"providerId": providerID,
		"bookingId":  bookingID,
		"resources":  resources,
		"reason":     reason,
	}
	return c.post(ctx, "/v1/grants", payload)
}

// RevokeAccess is the symmetric undo for GrantAccess; the assignment
// arbiter calls it when a claim is rolled back.
func (c *Client) RevokeAccess(ctx context.Context, patientID, providerID, bookingID uint) error {
	payload := map[string]interface{}{
		"patientId":  patientID,
		"providerId": providerID,
		"bookingId":  bookingID,
	}
	return c.post(ctx, "/v1/grants/revoke", payload)
}

// CaptureVitals archives the service report against the patient's record.
func (c *Client) CaptureVitals(ctx context.Context, patientID, bookingID uint, report string, providerID uint) error {
	payload := map[string]interface{}{
		"patientId":  patientID,
		"bookingId":  bookingID,
		"providerId": providerID,
		"report":     report,
	}
	return c.post(ctx, "/v1/vitals", payload)
}

func (c *Client) post(ctx context.Context, path string, payload map[string]interface{}) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, "POST", c.baseURL+path, bytes.NewBuffer(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("apiKey", c.apiKey)
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("records service unreachable: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("records service returned %d: %s", resp.StatusCode, snippet)
	}
	return nil
}
