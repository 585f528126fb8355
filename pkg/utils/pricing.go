package utils

import (
	"fmt"
	"strings"

	"github.com/carebridge/carebridge-backend/internal/models"
)

const (
	// Hourly base rates in INR paise
	HomeNursingRate     = 60000  // general home nursing per hour
	PhysiotherapyRate   = 80000  // physiotherapy session per hour
	PostOpCareRate      = 75000  // post-operative care per hour
	ElderCareRate       = 55000  // elder care per hour
	WoundDressingRate   = 50000  // wound dressing visit per hour
	ServiceFeePercent   = 10     // platform fee on the base price
	TaxPercent          = 18     // GST on base + fee
	MinimumBookingHours = 1
	MaximumBookingHours = 12
)

var serviceRates = map[string]int64{
	"home_nursing":   HomeNursingRate,
	"physiotherapy":  PhysiotherapyRate,
	"post_op_care":   PostOpCareRate,
	"elder_care":     ElderCareRate,
	"wound_dressing": WoundDressingRate,
}

// ServiceTypes lists the bookable service types.
func ServiceTypes() []string {
	types := make([]string, 0, len(serviceRates))
	for t := range serviceRates {
		types = append(types, t)
	}
	return types
}

// CalculatePricing computes the immutable pricing snapshot for a booking.
// It runs exactly once, at creation; verification later compares gateway
// amounts against this snapshot, never against a recomputed price.
func CalculatePricing(serviceType string, hours int) (models.PricingSnapshot, error) {
	rate, ok := serviceRates[strings.ToLower(serviceType)]
	if !ok {
		return models.PricingSnapshot{}, fmt.Errorf("unknown service type: %s", serviceType)
	}
	if hours < MinimumBookingHours || hours > MaximumBookingHours {
		return models.PricingSnapshot{}, fmt.Errorf("hours must be between %d and %d", MinimumBookingHours, MaximumBookingHours)
	}

	base := rate * int64(hours)
	fee := base * ServiceFeePercent / 100
	tax := (base + fee) * TaxPercent / 100

	return models.PricingSnapshot{
		BasePrice:  base,
		ServiceFee: fee,
		Tax:        tax,
		Total:      base + fee + tax,
		Currency:   "INR",
	}, nil
}
