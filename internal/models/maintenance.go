package models

import (
	"time"

	"go.mongodb.org/mongo-driver/bson"
)

// Filter labels a maintenance event can carry. FilterGreaseBox doubles as the
// marker that a gearbox grease service was performed, which resets the
// vehicle's grease cycle counter.
const (
	FilterOil       = "oil_filter"
	FilterAir       = "air_filter"
	FilterFuel      = "fuel_filter"
	FilterGreaseBox = "grease_box"
)

// MaintenanceEvent is one logged service on a vehicle. Events are an
// append-only audit trail ordered by date descending; editing or deleting one
// never rolls back the parent vehicle's counters.
type MaintenanceEvent struct {
	ID             string    `bson:"_id,omitempty" json:"id"`
	VehicleID      string    `bson:"vehicle_id" json:"vehicle_id"`
	Date           string    `bson:"date" json:"date"`
	Km             int       `bson:"km" json:"km"`
	OilUsed        string    `bson:"oil_used" json:"oil_used"`
	FiltersChanged []string  `bson:"filters_changed" json:"filters_changed"`
	// ChangedAfocat / ChangedReview record a compliance-date renewal made at
	// logging time. Empty means the document was not renewed. The values are
	// kept on the event as well as the vehicle so the history entry stays
	// self-describing.
	ChangedAfocat string    `bson:"changed_afocat,omitempty" json:"changed_afocat,omitempty"`
	ChangedReview string    `bson:"changed_review,omitempty" json:"changed_review,omitempty"`
	CreatedAt     time.Time `bson:"created_at" json:"created_at"`
}

// HasGreaseService reports whether the event includes a gearbox grease
// service.
func (e MaintenanceEvent) HasGreaseService() bool {
	for _, f := range e.FiltersChanged {
		if f == FilterGreaseBox {
			return true
		}
	}
	return false
}

// EventPatch is a partial update of a MaintenanceEvent.
type EventPatch struct {
	Date           *string
	Km             *int
	OilUsed        *string
	FiltersChanged *[]string
	ChangedAfocat  *string
	ChangedReview  *string
}

// Apply writes the non-nil patch fields onto e.
func (p EventPatch) Apply(e *MaintenanceEvent) {
	if p.Date != nil {
		e.Date = *p.Date
	}
	if p.Km != nil {
		e.Km = *p.Km
	}
	if p.OilUsed != nil {
		e.OilUsed = *p.OilUsed
	}
	if p.FiltersChanged != nil {
		e.FiltersChanged = *p.FiltersChanged
	}
	if p.ChangedAfocat != nil {
		e.ChangedAfocat = *p.ChangedAfocat
	}
	if p.ChangedReview != nil {
		e.ChangedReview = *p.ChangedReview
	}
}

// SetDocument returns the patch as a bson $set payload for UpdateOne.
func (p EventPatch) SetDocument() bson.M {
	set := bson.M{}
	if p.Date != nil {
		set["date"] = *p.Date
	}
	if p.Km != nil {
		set["km"] = *p.Km
	}
	if p.OilUsed != nil {
		set["oil_used"] = *p.OilUsed
	}
	if p.FiltersChanged != nil {
		set["filters_changed"] = *p.FiltersChanged
	}
	if p.ChangedAfocat != nil {
		set["changed_afocat"] = *p.ChangedAfocat
	}
	if p.ChangedReview != nil {
		set["changed_review"] = *p.ChangedReview
	}
	return set
}
