// Package status derives the tri-state health indicators a fleet view is
// rendered from. Everything here is pure: raw odometer and date fields in,
// categorical statuses plus the underlying numbers out. Nothing is ever
// stored; callers recompute at read time.
package status

import (
	"fmt"
	"math"
	"time"

	"github.com/ukydev/taxi-maintenance/internal/models"
)

// Level is a tri-state health indicator. When levels are combined, danger
// dominates warning and warning dominates ok.
type Level string

const (
	LevelOK      Level = "ok"
	LevelWarning Level = "warning"
	LevelDanger  Level = "danger"
)

// Service-interval policy. These values define behavioral parity with the
// deployed tracker and must not drift.
const (
	// KmInterval is the odometer distance between regular services.
	KmInterval = 5000
	// MaintenanceDayInterval is the maximum days between regular services.
	MaintenanceDayInterval = 30
	// AfocatWarningDays is the warning window before the AFOCAT certificate
	// expires.
	AfocatWarningDays = 30
	// ReviewWarningDays is the warning window before the technical review
	// certificate expires.
	ReviewWarningDays = 15
	// GreaseServiceCycle is the number of logged services after which a
	// gearbox grease service is due.
	GreaseServiceCycle = 10

	// warningRatio is the fraction of an interval at which a maintenance
	// indicator turns from ok to warning.
	warningRatio = 0.9
)

// ParseError reports a date field that could not be interpreted. It exists so
// malformed input fails loudly instead of flowing into comparisons as a zero
// time and resolving to "ok".
type ParseError struct {
	Field string
	Value string
	Err   error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("status: invalid %s %q: %v", e.Field, e.Value, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

// DocumentStatus is the derived state of one compliance document.
type DocumentStatus struct {
	Status Level `json:"status"`
	// DaysUntil is the days remaining before expiry, negative once expired.
	// A missing document is reported as -1.
	DaysUntil int `json:"days_until"`
}

// Derived is the full computed view state of one vehicle. The categorical
// levels drive status badges; the raw numbers drive progress bars and
// "N days overdue" labels, and are deliberately not clamped.
type Derived struct {
	Maintenance      Level          `json:"maintenance_status"`
	Afocat           DocumentStatus `json:"afocat"`
	Review           DocumentStatus `json:"review"`
	General          Level          `json:"general_status"`
	KmDiff           int            `json:"km_diff"`
	KmProgress       float64        `json:"km_progress"`
	DaysSinceService int            `json:"days_since_service"`
	TimeProgress     float64        `json:"time_progress"`
	GreaseDue        bool           `json:"grease_due"`
}

// Input is the vehicle snapshot Compute works from.
type Input struct {
	CurrentKm          int
	LastServiceKm      int
	LastServiceDate    string
	AfocatDate         string
	ReviewDate         string
	ChangesSinceGrease int
}

// FromVehicle builds an Input from a vehicle document.
func FromVehicle(v models.Vehicle) Input {
	return Input{
		CurrentKm:          v.CurrentKm,
		LastServiceKm:      v.LastServiceKm,
		LastServiceDate:    v.LastServiceDate,
		AfocatDate:         v.AfocatDate,
		ReviewDate:         v.ReviewDate,
		ChangesSinceGrease: v.ChangesSinceGrease,
	}
}

// Compute derives the vehicle's health state at the given instant. It has no
// side effects and no notion of wall-clock time beyond the now argument, so
// the same snapshot always yields the same result.
func Compute(in Input, now time.Time) (Derived, error) {
	lastService, err := parseDate("last_service_date", in.LastServiceDate)
	if err != nil {
		return Derived{}, err
	}

	kmDiff := in.CurrentKm - in.LastServiceKm
	daysSince := ceilDays(now.Sub(lastService))

	maint := LevelOK
	switch {
	case kmDiff >= KmInterval || daysSince >= MaintenanceDayInterval:
		maint = LevelDanger
	case float64(kmDiff) >= warningRatio*KmInterval ||
		float64(daysSince) >= warningRatio*MaintenanceDayInterval:
		maint = LevelWarning
	}

	afocat, err := documentStatus("afocat_date", in.AfocatDate, AfocatWarningDays, now)
	if err != nil {
		return Derived{}, err
	}
	review, err := documentStatus("review_date", in.ReviewDate, ReviewWarningDays, now)
	if err != nil {
		return Derived{}, err
	}

	return Derived{
		Maintenance:      maint,
		Afocat:           afocat,
		Review:           review,
		General:          Worst(maint, afocat.Status, review.Status),
		KmDiff:           kmDiff,
		KmProgress:       clampProgress(float64(kmDiff) / KmInterval * 100),
		DaysSinceService: daysSince,
		TimeProgress:     clampProgress(float64(daysSince) / MaintenanceDayInterval * 100),
		GreaseDue:        in.ChangesSinceGrease >= GreaseServiceCycle,
	}, nil
}

// Worst combines levels under danger > warning > ok dominance.
func Worst(levels ...Level) Level {
	worst := LevelOK
	for _, l := range levels {
		if rank(l) > rank(worst) {
			worst = l
		}
	}
	return worst
}

func rank(l Level) int {
	switch l {
	case LevelDanger:
		return 2
	case LevelWarning:
		return 1
	default:
		return 0
	}
}

// documentStatus evaluates one compliance document. An unset date is danger
// with the -1 day marker, never ok: a taxi without a certificate on file is
// treated the same as one whose certificate expired.
func documentStatus(field, value string, warningDays int, now time.Time) (DocumentStatus, error) {
	if value == "" {
		return DocumentStatus{Status: LevelDanger, DaysUntil: -1}, nil
	}
	expiry, err := parseDate(field, value)
	if err != nil {
		return DocumentStatus{}, err
	}
	daysUntil := ceilDays(expiry.Sub(now))
	st := LevelOK
	switch {
	case daysUntil <= 0:
		st = LevelDanger
	case daysUntil <= warningDays:
		st = LevelWarning
	}
	return DocumentStatus{Status: st, DaysUntil: daysUntil}, nil
}

func parseDate(field, value string) (time.Time, error) {
	t, err := time.Parse(models.DateLayout, value)
	if err != nil {
		return time.Time{}, &ParseError{Field: field, Value: value, Err: err}
	}
	return t, nil
}

func ceilDays(d time.Duration) int {
	return int(math.Ceil(d.Hours() / 24))
}

func clampProgress(p float64) float64 {
	return math.Min(p, 100)
}
