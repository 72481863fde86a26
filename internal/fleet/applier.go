package fleet

import (
	"errors"
	"time"

	"github.com/ukydev/taxi-maintenance/internal/models"
	"github.com/ukydev/taxi-maintenance/internal/status"
)

var (
	// ErrNegativeKm rejects an event with a negative odometer reading.
	ErrNegativeKm = errors.New("fleet: event km must not be negative")
	// ErrPlateRequired rejects a vehicle with no plate label.
	ErrPlateRequired = errors.New("fleet: plate is required")
)

// ApplyEvent derives the vehicle patch a logged maintenance event produces.
// It is pure: the vehicle itself is not mutated, and calling it twice with
// the same event yields two increments, so a command must run it exactly once
// per logged event, atomically with the history append.
//
// Rules: the event's odometer becomes both the current reading and the last
// service point; the service counter always increments; a renewed compliance
// date recorded on the event replaces the vehicle's; a grease-box service
// resets the grease cycle, anything else advances it.
func ApplyEvent(v models.Vehicle, e models.MaintenanceEvent) (models.VehiclePatch, error) {
	if e.Km < 0 {
		return models.VehiclePatch{}, ErrNegativeKm
	}
	if _, err := time.Parse(models.DateLayout, e.Date); err != nil {
		return models.VehiclePatch{}, &status.ParseError{Field: "date", Value: e.Date, Err: err}
	}

	km := e.Km
	date := e.Date
	count := v.ServiceCount + 1
	patch := models.VehiclePatch{
		CurrentKm:       &km,
		LastServiceKm:   &km,
		LastServiceDate: &date,
		ServiceCount:    &count,
	}

	if e.ChangedAfocat != "" {
		afocat := e.ChangedAfocat
		patch.AfocatDate = &afocat
	}
	if e.ChangedReview != "" {
		review := e.ChangedReview
		patch.ReviewDate = &review
	}

	if e.HasGreaseService() {
		zero := 0
		patch.ChangesSinceGrease = &zero
		patch.LastGreaseDate = &date
		patch.LastGreaseKm = &km
	} else {
		// the counter saturates at the cycle length: reaching it is a due
		// signal, not a hard block on further services
		next := v.ChangesSinceGrease + 1
		if next > status.GreaseServiceCycle {
			next = status.GreaseServiceCycle
		}
		patch.ChangesSinceGrease = &next
	}

	return patch, nil
}
