package fleet

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ukydev/taxi-maintenance/internal/models"
	"github.com/ukydev/taxi-maintenance/internal/status"
)

func baseVehicle() models.Vehicle {
	return models.Vehicle{
		ID:                 "v1",
		Plate:              "ABC-123",
		CurrentKm:          12000,
		LastServiceKm:      10000,
		LastServiceDate:    "2024-01-01",
		ServiceCount:       4,
		AfocatDate:         "2024-06-01",
		ReviewDate:         "2024-05-01",
		LastGreaseDate:     "2023-11-15",
		LastGreaseKm:       8000,
		ChangesSinceGrease: 3,
	}
}

func TestApplyEventRegularService(t *testing.T) {
	v := baseVehicle()
	e := models.MaintenanceEvent{
		Date:           "2024-02-10",
		Km:             15500,
		OilUsed:        "20W-50",
		FiltersChanged: []string{models.FilterOil, models.FilterAir},
	}

	patch, err := ApplyEvent(v, e)
	require.NoError(t, err)
	patch.Apply(&v)

	assert.Equal(t, 15500, v.CurrentKm)
	assert.Equal(t, 15500, v.LastServiceKm)
	assert.Equal(t, "2024-02-10", v.LastServiceDate)
	assert.Equal(t, 5, v.ServiceCount)
	assert.Equal(t, 4, v.ChangesSinceGrease)
	// no renewal on the event, dates untouched
	assert.Equal(t, "2024-06-01", v.AfocatDate)
	assert.Equal(t, "2024-05-01", v.ReviewDate)
	// grease markers untouched by a non-grease service
	assert.Equal(t, "2023-11-15", v.LastGreaseDate)
	assert.Equal(t, 8000, v.LastGreaseKm)
}

func TestApplyEventGreaseService(t *testing.T) {
	v := baseVehicle()
	v.ChangesSinceGrease = 9
	e := models.MaintenanceEvent{
		Date:           "2024-02-10",
		Km:             15500,
		FiltersChanged: []string{models.FilterOil, models.FilterGreaseBox},
	}

	patch, err := ApplyEvent(v, e)
	require.NoError(t, err)
	patch.Apply(&v)

	assert.Equal(t, 0, v.ChangesSinceGrease)
	assert.Equal(t, "2024-02-10", v.LastGreaseDate)
	assert.Equal(t, 15500, v.LastGreaseKm)
	assert.Equal(t, 5, v.ServiceCount)
}

func TestApplyEventGreaseCycleAdvances(t *testing.T) {
	v := baseVehicle()
	v.ChangesSinceGrease = 9
	e := models.MaintenanceEvent{Date: "2024-02-10", Km: 15500}

	patch, err := ApplyEvent(v, e)
	require.NoError(t, err)
	patch.Apply(&v)

	assert.Equal(t, 10, v.ChangesSinceGrease)

	// past the cycle length the counter saturates instead of growing
	patch, err = ApplyEvent(v, models.MaintenanceEvent{Date: "2024-03-10", Km: 16000})
	require.NoError(t, err)
	patch.Apply(&v)
	assert.Equal(t, status.GreaseServiceCycle, v.ChangesSinceGrease)
}

func TestApplyEventComplianceRenewal(t *testing.T) {
	v := baseVehicle()
	e := models.MaintenanceEvent{
		Date:          "2024-02-10",
		Km:            15500,
		ChangedAfocat: "2025-02-10",
	}

	patch, err := ApplyEvent(v, e)
	require.NoError(t, err)
	patch.Apply(&v)

	assert.Equal(t, "2025-02-10", v.AfocatDate)
	// review not renewed, left alone
	assert.Equal(t, "2024-05-01", v.ReviewDate)
}

func TestApplyEventIsNotIdempotent(t *testing.T) {
	// applying the same event twice increments twice; callers must apply
	// exactly once per logged event
	v := baseVehicle()
	e := models.MaintenanceEvent{Date: "2024-02-10", Km: 15500}

	patch, err := ApplyEvent(v, e)
	require.NoError(t, err)
	patch.Apply(&v)
	patch, err = ApplyEvent(v, e)
	require.NoError(t, err)
	patch.Apply(&v)

	assert.Equal(t, 6, v.ServiceCount)
	assert.Equal(t, 5, v.ChangesSinceGrease)
}

func TestApplyEventRejectsBadInput(t *testing.T) {
	v := baseVehicle()

	_, err := ApplyEvent(v, models.MaintenanceEvent{Date: "2024-02-10", Km: -1})
	assert.ErrorIs(t, err, ErrNegativeKm)

	_, err = ApplyEvent(v, models.MaintenanceEvent{Date: "02/10/2024", Km: 15500})
	var parseErr *status.ParseError
	assert.True(t, errors.As(err, &parseErr))
}

func TestApplyEventDoesNotMutateVehicle(t *testing.T) {
	v := baseVehicle()
	_, err := ApplyEvent(v, models.MaintenanceEvent{Date: "2024-02-10", Km: 15500})
	require.NoError(t, err)
	assert.Equal(t, baseVehicle(), v)
}
