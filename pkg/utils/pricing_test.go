package utils

import "testing"

func TestCalculatePricing(t *testing.T) {
	cases := []struct {
		name        string
		serviceType string
		hours       int
		wantBase    int64
		wantFee     int64
		wantTax     int64
		wantTotal   int64
		wantErr     bool
	}{
		{
			name:        "home nursing two hours",
			serviceType: "home_nursing",
			hours:       2,
			wantBase:    120000,
			wantFee:     12000,
			wantTax:     23760,
			wantTotal:   155760,
		},
		{
			name:        "physiotherapy one hour",
			serviceType: "physiotherapy",
			hours:       1,
			wantBase:    80000,
			wantFee:     8000,
			wantTax:     15840,
			wantTotal:   103840,
		},
		{
			name:        "case insensitive service type",
			serviceType: "Elder_Care",
			hours:       1,
			wantBase:    55000,
			wantFee:     5500,
			wantTax:     10890,
			wantTotal:   71390,
		},
		{name: "unknown service", serviceType: "brain_surgery", hours: 1, wantErr: true},
		{name: "zero hours", serviceType: "home_nursing", hours: 0, wantErr: true},
		{name: "too many hours", serviceType: "home_nursing", hours: 13, wantErr: true},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := CalculatePricing(tc.serviceType, tc.hours)
			if tc.wantErr {
				if err == nil {
					t.Fatal("expected error, got none")
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got.BasePrice != tc.wantBase {
				t.Errorf("base = %d, want %d", got.BasePrice, tc.wantBase)
			}
			if got.ServiceFee != tc.wantFee {
				t.Errorf("fee = %d, want %d", got.ServiceFee, tc.wantFee)
			}
			if got.Tax != tc.wantTax {
				t.Errorf("tax = %d, want %d", got.Tax, tc.wantTax)
			}
			if got.Total != tc.wantTotal {
				t.Errorf("total = %d, want %d", got.Total, tc.wantTotal)
			}
			if got.Currency != "INR" {
				t.Errorf("currency = %q, want INR", got.Currency)
			}
			if got.BasePrice+got.ServiceFee+got.Tax != got.Total {
				t.Error("components do not sum to total")
			}
		})
	}
}

func TestServiceTypes(t *testing.T) {
	types := ServiceTypes()
	if len(types) != 5 {
		t.Fatalf("len = %d, want 5", len(types))
	}
	for _, serviceType := range types {
		if _, err := CalculatePricing(serviceType, 1); err != nil {
			t.Errorf("listed type %q does not price: %v", serviceType, err)
		}
	}
}
