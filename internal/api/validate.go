package api

import (
	"fmt"

	"orderflow/internal/model"
)

func validateNewOrder(in *model.NewOrder) error {
	if in.VendorID <= 0 {
		return fmt.Errorf("vendorId is required")
	}
	if in.Amount.IsNegative() {
		return fmt.Errorf("amount must be >= 0")
	}
	for name, p := range map[string]*model.GeoPoint{"pickupLocation": in.Pickup, "dropoffLocation": in.Dropoff} {
		if p == nil {
			continue
		}
		if p.Lat < -90 || p.Lat > 90 || p.Lng < -180 || p.Lng > 180 {
			return fmt.Errorf("%s out of range: %v,%v", name, p.Lat, p.Lng)
		}
	}
	return nil
}
