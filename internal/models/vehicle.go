package models

import (
	"time"

	"go.mongodb.org/mongo-driver/bson"
)

// DateLayout is the wire format for every date field in the system. Dates
// travel as plain day strings so the status engine can reject malformed input
// instead of comparing zero times. An empty string means the date is not set.
const DateLayout = "2006-01-02"

// Vehicle represents one taxi and its running maintenance counters. All
// counter fields are updated exclusively by logging a maintenance event;
// history edits never touch them.
type Vehicle struct {
	ID                 string    `bson:"_id,omitempty" json:"id"`
	OwnerID            string    `bson:"owner_id" json:"-"`
	Plate              string    `bson:"plate" json:"plate"`
	Model              string    `bson:"model" json:"model"`
	CurrentKm          int       `bson:"current_km" json:"current_km"`
	LastServiceKm      int       `bson:"last_service_km" json:"last_service_km"`
	LastServiceDate    string    `bson:"last_service_date" json:"last_service_date"`
	ServiceCount       int       `bson:"service_count" json:"service_count"`
	AfocatDate         string    `bson:"afocat_date" json:"afocat_date"`
	ReviewDate         string    `bson:"review_date" json:"review_date"`
	LastGreaseDate     string    `bson:"last_grease_date" json:"last_grease_date"`
	LastGreaseKm       int       `bson:"last_grease_km" json:"last_grease_km"`
	ChangesSinceGrease int       `bson:"changes_since_grease" json:"changes_since_grease"`
	CreatedAt          time.Time `bson:"created_at" json:"created_at"`

	// History is only used inside the local store's blob, which embeds each
	// vehicle's events in the same document. Fleet snapshots from either
	// store leave it nil; history travels through the history operations.
	History []MaintenanceEvent `bson:"history,omitempty" json:"history,omitempty"`
}

// VehiclePatch is a partial update of a Vehicle. Nil fields are left
// untouched. The same patch drives both stores: the local one applies it in
// memory, the remote one turns it into a $set document.
type VehiclePatch struct {
	CurrentKm          *int
	LastServiceKm      *int
	LastServiceDate    *string
	ServiceCount       *int
	AfocatDate         *string
	ReviewDate         *string
	LastGreaseDate     *string
	LastGreaseKm       *int
	ChangesSinceGrease *int
}

// Apply writes the non-nil patch fields onto v.
func (p VehiclePatch) Apply(v *Vehicle) {
	if p.CurrentKm != nil {
		v.CurrentKm = *p.CurrentKm
	}
	if p.LastServiceKm != nil {
		v.LastServiceKm = *p.LastServiceKm
	}
	if p.LastServiceDate != nil {
		v.LastServiceDate = *p.LastServiceDate
	}
	if p.ServiceCount != nil {
		v.ServiceCount = *p.ServiceCount
	}
	if p.AfocatDate != nil {
		v.AfocatDate = *p.AfocatDate
	}
	if p.ReviewDate != nil {
		v.ReviewDate = *p.ReviewDate
	}
	if p.LastGreaseDate != nil {
		v.LastGreaseDate = *p.LastGreaseDate
	}
	if p.LastGreaseKm != nil {
		v.LastGreaseKm = *p.LastGreaseKm
	}
	if p.ChangesSinceGrease != nil {
		v.ChangesSinceGrease = *p.ChangesSinceGrease
	}
}

// SetDocument returns the patch as a bson $set payload for UpdateOne.
func (p VehiclePatch) SetDocument() bson.M {
	set := bson.M{}
	if p.CurrentKm != nil {
		set["current_km"] = *p.CurrentKm
	}
	if p.LastServiceKm != nil {
		set["last_service_km"] = *p.LastServiceKm
	}
	if p.LastServiceDate != nil {
		set["last_service_date"] = *p.LastServiceDate
	}
	if p.ServiceCount != nil {
		set["service_count"] = *p.ServiceCount
	}
	if p.AfocatDate != nil {
		set["afocat_date"] = *p.AfocatDate
	}
	if p.ReviewDate != nil {
		set["review_date"] = *p.ReviewDate
	}
	if p.LastGreaseDate != nil {
		set["last_grease_date"] = *p.LastGreaseDate
	}
	if p.LastGreaseKm != nil {
		set["last_grease_km"] = *p.LastGreaseKm
	}
	if p.ChangesSinceGrease != nil {
		set["changes_since_grease"] = *p.ChangesSinceGrease
	}
	return set
}

// IsZero reports whether the patch would change nothing.
func (p VehiclePatch) IsZero() bool {
	return len(p.SetDocument()) == 0
}
