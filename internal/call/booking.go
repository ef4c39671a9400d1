package call

import (
	"fmt"
	"strings"
	"time"
)

// BookingIntent is a caller's captured appointment request. It is held in
// memory for the lifetime of the call and only pushed to the calendar during
// settlement, after the caller has hung up.
type BookingIntent struct {
	CustomerName string
	Phone        string
	Service      string
	StartsAt     time.Time

	// Email and Notes are optional; everything else is required for capture.
	Email string
	Notes string
}

// ParseBookingTime parses the appointment time the responder extracted from
// conversation. Only RFC 3339 is accepted; anything else is rejected so a
// half-understood date never reaches the calendar.
func ParseBookingTime(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("call: parse booking time %q: %w", s, err)
	}
	return t, nil
}

// validateBooking checks that every field of a booking request is present.
// Capture is all or nothing: a partial intent is never stored.
func validateBooking(name, phone, service, startsAt string) []string {
	var missing []string
	if strings.TrimSpace(name) == "" {
		missing = append(missing, "name")
	}
	if strings.TrimSpace(phone) == "" {
		missing = append(missing, "phone number")
	}
	if strings.TrimSpace(service) == "" {
		missing = append(missing, "service")
	}
	if strings.TrimSpace(startsAt) == "" {
		missing = append(missing, "date and time")
	}
	return missing
}
